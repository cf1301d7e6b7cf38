package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReportsRelevantFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, ".yaml")
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644))
	target := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	select {
	case got := <-w.Changes:
		assert.Equal(t, target, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "missing")}, ".yaml")
	require.Error(t, err)
}

func TestWatchAndRerun(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, ".cue")
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	reruns := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchAndRerun(ctx, w, func(changed string) { reruns <- changed })
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte("x"), 0644))
	select {
	case got := <-reruns:
		assert.Equal(t, "a.cue", filepath.Base(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no rerun")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop")
	}
}
