// Package hclutil holds small helpers shared by the HCL manifest decoders.
package hclutil

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// FindUniqueBlock searches a slice of blocks for all blocks of a given type.
// It returns a diagnostic error for every block after the first one.
// If no block is found, it returns nil.
func FindUniqueBlock(blocks hcl.Blocks, blockType string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics

	for _, block := range blocks {
		if block.Type != blockType {
			continue
		}
		if found != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Duplicate %q block", blockType),
				Detail:   fmt.Sprintf("Only one %q block is allowed per file; the first was declared at %s.", blockType, found.DefRange),
				Subject:  block.DefRange.Ptr(),
			})
			continue
		}
		found = block
	}

	return found, diags
}

// BlocksOfType filters blocks down to the given type, preserving order.
func BlocksOfType(blocks hcl.Blocks, blockType string) hcl.Blocks {
	var out hcl.Blocks
	for _, b := range blocks {
		if b.Type == blockType {
			out = append(out, b)
		}
	}
	return out
}
