package utils

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWriteTreeFile_ListsSavedFilesAndSkipsHidden(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "site")
	writeFile(t, filepath.Join(archive, "index.html"), "<html></html>")
	writeFile(t, filepath.Join(archive, "img", "a.png"), "png")
	writeFile(t, filepath.Join(archive, ".pending"), "[]")

	out := filepath.Join(t.TempDir(), "tree.txt")
	require.NoError(t, WriteTreeFile(archive, out, testLogEntry()))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "├── img/")
	assert.Contains(t, text, "│   └── a.png")
	assert.Contains(t, text, "└── index.html")
	assert.Contains(t, text, "2 file(s)")
	assert.NotContains(t, text, ".pending")
}

func TestWriteTreeFile_SkipsItsOwnOutput(t *testing.T) {
	archive := t.TempDir()
	writeFile(t, filepath.Join(archive, "index.html"), "x")
	out := filepath.Join(archive, "tree.txt")

	require.NoError(t, WriteTreeFile(archive, out, testLogEntry()))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "── tree.txt")
	assert.Contains(t, string(content), "1 file(s)")
}

func TestWriteTreeFile_MissingDir(t *testing.T) {
	err := WriteTreeFile(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "t.txt"), testLogEntry())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilesystem)
}
