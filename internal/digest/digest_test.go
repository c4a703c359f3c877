package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestDigests(t *testing.T) {
	assert.Equal(t, helloSHA, Bytes([]byte("hello")))

	got, err := Reader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloSHA, got)

	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))
	got, err = File(p)
	require.NoError(t, err)
	assert.Equal(t, helloSHA, got)

	_, err = File(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLines(t *testing.T) {
	assert.NotEqual(t, Lines([]string{"ab", "c"}), Lines([]string{"a", "bc"}))
	assert.Equal(t, Lines([]string{"a", "b"}), Lines([]string{"a", "b"}))
	assert.Len(t, Lines(nil), 64)
}
