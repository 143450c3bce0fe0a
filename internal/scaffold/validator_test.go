package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	// Unrelated files do not count
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0644))
	assert.NoError(t, CheckExisting(dir))

	assert.NoError(t, os.WriteFile(filepath.Join(dir, "council.yml"), []byte("x"), 0644))
	err := CheckExisting(dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(dir, "council.yml"))
}
