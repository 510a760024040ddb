package meta

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	initial, err := MarshalSnapshotSpec(SampleSpec())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, initial, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Snapshot, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchSnapshot(ctx, path, nil, func(s *Snapshot) { reloaded <- s })
	}()

	updated, err := MarshalSnapshotSpec(SampleSpec(FeatureRegex))
	require.NoError(t, err)

	// The watcher registers asynchronously; keep writing until a reload lands.
	var got *Snapshot
	require.Eventually(t, func() bool {
		select {
		case got = <-reloaded:
			return true
		default:
			_ = os.WriteFile(path, updated, 0o600)
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.True(t, got.DatabaseFeatures().Has(FeatureRegex))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
