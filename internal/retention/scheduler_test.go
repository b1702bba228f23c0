package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestScheduler_DeletesAtInstant(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	path := filepath.Join(sub, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	s := New(root, arbor.NewLogger())
	s.Start()
	defer s.Stop()

	s.Schedule(path, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(sub)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_CancelPreventsDeletion(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	s := New(root, arbor.NewLogger())
	s.Start()
	defer s.Stop()

	h := s.Schedule(path, 20*time.Millisecond)
	s.Cancel(h)

	time.Sleep(100 * time.Millisecond)
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestScheduler_StopDrainsCleanly(t *testing.T) {
	root := t.TempDir()
	s := New(root, arbor.NewLogger())
	s.Start()
	s.Schedule(filepath.Join(root, "never-created.mp4"), time.Hour)
	s.Stop()
}
