package pip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	testCases := map[string]string{
		"numpy":             "numpy",
		"Scikit-Learn":      "scikit_learn",
		"zope.interface":    "zope_interface",
		"typing_extensions": "typing_extensions",
	}
	for in, expected := range testCases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, expected, NormalizeName(in))
		})
	}
}

func TestParseRequirements(t *testing.T) {
	t.Run("parses names and ignores noise", func(t *testing.T) {
		input := `
# pinned deps
numpy==1.26.4
Scikit-Learn>=1.3 ; python_version >= "3.9"
requests[security] ~= 2.31
--index-url https://pypi.org/simple
-r dev.txt
numpy  # duplicate
pkg @ https://example.com/pkg.whl
`
		names, err := ParseRequirements(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, []string{"numpy", "pkg", "requests", "scikit_learn"}, names)
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		_, err := ParseRequirements(strings.NewReader("numpy\n_bad==1\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("empty file", func(t *testing.T) {
		names, err := ParseRequirements(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}
