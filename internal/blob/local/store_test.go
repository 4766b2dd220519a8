package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "run-1/page.html", "text/html", []byte("<html>snapshot</html>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(dir, "run-1", "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>snapshot</html>", string(data))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()
	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	assert.Error(t, err)
}

func TestPutObjectRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	assert.Error(t, err)
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.Error(t, err)
}
