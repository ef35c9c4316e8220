package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"))
	writeFile(t, filepath.Join(root, "b.PNG"))
	writeFile(t, filepath.Join(root, "notes.txt"))
	writeFile(t, filepath.Join(root, "sub", "c.jpeg"))
	writeFile(t, filepath.Join(root, ".hidden", "d.jpg"))
	writeFile(t, filepath.Join(root, ".e.png"))

	paths, failed, stats, err := Discover(root, true)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, []string{
		filepath.Join(root, "a.pdf"),
		filepath.Join(root, "b.PNG"),
		filepath.Join(root, "sub", "c.jpeg"),
	}, paths)
	assert.Equal(t, uint32(3), stats.Matched)

	paths, _, _, err = Discover(root, false)
	require.NoError(t, err)
	assert.Len(t, paths, 5)

	_, _, _, err = Discover(" ", false)
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	ct, ok := ContentType("scan.JPG")
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", ct)
	_, ok = ContentType("scan.gif")
	assert.False(t, ok)
}

func TestWatchEmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no watch event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "existing.pdf"), next())

	writeFile(t, filepath.Join(root, "ignored.txt"))
	writeFile(t, filepath.Join(root, "new.png"))
	assert.Equal(t, filepath.Join(root, "new.png"), next())

	cancel()
	for range events {
	}
}

func TestWatchRequiresRoots(t *testing.T) {
	_, _, err := Watch(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
