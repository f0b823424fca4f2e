package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveFile(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	t.Run("saves file successfully", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "run-1", "afip_extract.csv")
		content := []byte("PtoVta,CbteTipo\n1,11\n")

		err := fs.SaveFile(fullPath, content)

		require.NoError(t, err)
		assert.FileExists(t, fullPath)

		savedContent, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, content, savedContent)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "deep", "nested", "dir", "afip_extract.json")

		err := fs.SaveFile(fullPath, []byte("[]"))

		require.NoError(t, err)
		assert.FileExists(t, fullPath)
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "overwrite", "afip_extract.csv")

		require.NoError(t, fs.SaveFile(fullPath, []byte("original")))
		require.NoError(t, fs.SaveFile(fullPath, []byte("updated")))

		content, _ := os.ReadFile(fullPath)
		assert.Equal(t, []byte("updated"), content)
	})

	t.Run("leaves no temporary files", func(t *testing.T) {
		dir := filepath.Join(tempDir, "clean")
		require.NoError(t, fs.SaveFile(filepath.Join(dir, "a.csv"), []byte("x")))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a.csv", entries[0].Name())
	})

	t.Run("saves empty file", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "empty.csv")
		require.NoError(t, fs.SaveFile(fullPath, []byte{}))

		info, err := os.Stat(fullPath)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})
}

func TestLocalFileStorage_ValidatePath(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	t.Run("accepts valid path within base", func(t *testing.T) {
		assert.NoError(t, fs.ValidatePath(filepath.Join(tempDir, "run", "afip_extract.xlsx")))
	})

	t.Run("rejects path outside base directory", func(t *testing.T) {
		err := fs.ValidatePath("/etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes base directory")
	})

	t.Run("rejects path traversal attempt", func(t *testing.T) {
		assert.Error(t, fs.ValidatePath(filepath.Join(tempDir, "..", "..", "etc", "passwd")))
	})

	t.Run("rejects path with similar prefix", func(t *testing.T) {
		err := fs.ValidatePath(tempDir + "_malicious/file.csv")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes base directory")
	})

	t.Run("refuses to write outside base", func(t *testing.T) {
		err := fs.SaveFile(filepath.Join(tempDir, "..", "escape.csv"), []byte("x"))
		assert.Error(t, err)
	})
}

func TestFileTypeForPath(t *testing.T) {
	tests := map[string]FileType{
		"out/afip_extract.csv":  FileTypeCSV,
		"out/afip_extract.JSON": FileTypeJSON,
		"afip_extract.xlsx":     FileTypeExcel,
		"afip_extract":          FileTypeGeneric,
	}
	for path, want := range tests {
		assert.Equal(t, want, FileTypeForPath(path), path)
	}
}
