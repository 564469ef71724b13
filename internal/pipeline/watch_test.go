package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherRerunsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "algebra.lp")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0644))

	changed := make(chan string, 4)
	w, err := NewWatcher([]string{path}, 20*time.Millisecond, func(_ context.Context, p string) {
		select {
		case changed <- p:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(path, []byte(scenario+"\n"), 0644))

	want, err := filepath.Abs(path)
	require.NoError(t, err)
	select {
	case got := <-changed:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.NoError(t, <-done)

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.GreaterOrEqual(t, stats.Runs, 1)
	close(changed)
	for got := range changed {
		assert.Equal(t, want, got, "unwatched files must not trigger a run")
	}
}

func TestWatcherNeedsFiles(t *testing.T) {
	_, err := NewWatcher(nil, time.Millisecond, func(context.Context, string) {})
	assert.ErrorContains(t, err, "no files")
}

func TestWatcherMissingDirectory(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent", "x.lp")}, time.Millisecond, func(context.Context, string) {})
	assert.Error(t, err)
}
