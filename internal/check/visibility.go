package check

import (
	"strings"

	"github.com/vk/buildgrid/internal/config"
)

const (
	visibilityPackage = "visibility"
	namePublic        = "public"
	namePrivate       = "private"
	namePkg           = "__pkg__"
	nameSubpackages   = "__subpackages__"
)

// Visible reports whether target may be depended upon from package fromPkg.
// A target is always visible inside its own package. An empty visibility
// list means private.
func Visible(target *config.Target, fromPkg string) bool {
	if target.Label.Package == fromPkg {
		return true
	}
	for _, v := range target.Visibility {
		switch {
		case v.Package == visibilityPackage && v.Name == namePublic:
			return true
		case v.Package == visibilityPackage && v.Name == namePrivate:
			continue
		case v.Name == namePkg:
			if fromPkg == v.Package {
				return true
			}
		case v.Name == nameSubpackages:
			if v.Package == "" || fromPkg == v.Package || strings.HasPrefix(fromPkg, v.Package+"/") {
				return true
			}
		}
	}
	return false
}
