package downloader

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

// writeFakeBinary writes a POSIX shell script standing in for yt-dlp so
// tests never invoke a real subprocess or network. It locates the
// --output template, substitutes %(ext)s, and writes sizeBytes of
// content there after emitting the given progress lines.
func writeFakeBinary(t *testing.T, dir string, progressLines []string, sizeBytes int, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script requires a POSIX shell")
	}

	script := "#!/bin/sh\n"
	for _, line := range progressLines {
		script += "echo '" + line + "'\n"
	}
	script += `
output=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output" ]; then
    output="$arg"
  fi
  prev="$arg"
done
if [ -n "$output" ]; then
  file=$(echo "$output" | sed 's/%(ext)s/mp4/')
  mkdir -p "$(dirname "$file")"
  dd if=/dev/zero of="$file" bs=1 count=` + itoa(sizeBytes) + ` 2>/dev/null
fi
exit ` + itoa(exitCode) + `
`
	path := filepath.Join(dir, "fake-yt-dlp.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestAdapter_Run_Success(t *testing.T) {
	storageRoot := t.TempDir()
	scriptDir := t.TempDir()
	binary := writeFakeBinary(t, scriptDir, []string{
		"[download]  50.0% of ~10.00MiB at 1.00MiB/s ETA 00:05",
		"[download] 100.0% of ~10.00MiB at 2.00MiB/s ETA 00:00",
		resultMarkerPrefix + "Example Clip" + resultMarkerSep + "125",
	}, 1024, 0)

	a := NewWithBinary(binary, arbor.NewLogger())

	var events []ProgressEvent
	req := Request{
		JobID:        "job_test1",
		Payload:      models.Payload{URL: "https://example.test/v/1"},
		StorageRoot:  storageRoot,
		CancelSignal: models.NewCancelSignal(),
		ProgressSink: func(e ProgressEvent) { events = append(events, e) },
	}

	result, err := a.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, int64(1024), result.SizeBytes)
	require.Equal(t, "Example Clip", result.Title)
	require.Equal(t, 125, result.DurationSec)
	require.NotEmpty(t, events)
	require.Equal(t, ProgressFinished, events[len(events)-1].State)
}

func TestParseResultMarker(t *testing.T) {
	title, durationSec, ok := parseResultMarker(resultMarkerPrefix + "My Video" + resultMarkerSep + "42.0")
	require.True(t, ok)
	require.Equal(t, "My Video", title)
	require.Equal(t, 42, durationSec)

	title, durationSec, ok = parseResultMarker(resultMarkerPrefix + "Live Now" + resultMarkerSep + "NA")
	require.True(t, ok)
	require.Equal(t, "Live Now", title)
	require.Equal(t, 0, durationSec)

	_, _, ok = parseResultMarker("[download] 100.0% of ~10.00MiB")
	require.False(t, ok)
}

func TestAdapter_Run_NonzeroExitIsTyped(t *testing.T) {
	storageRoot := t.TempDir()
	scriptDir := t.TempDir()
	binary := writeFakeBinary(t, scriptDir, []string{"ERROR: video unavailable"}, 0, 1)

	a := NewWithBinary(binary, arbor.NewLogger())
	req := Request{
		JobID:        "job_test2",
		Payload:      models.Payload{URL: "https://example.test/v/missing"},
		StorageRoot:  storageRoot,
		CancelSignal: models.NewCancelSignal(),
	}

	_, err := a.Run(context.Background(), req)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.SubprocessNonzeroExit, apiErr.Code)
}

func TestAdapter_Run_SpawnFailureForMissingBinary(t *testing.T) {
	storageRoot := t.TempDir()
	a := NewWithBinary(filepath.Join(t.TempDir(), "does-not-exist"), arbor.NewLogger())
	req := Request{
		JobID:        "job_test3",
		Payload:      models.Payload{URL: "https://example.test/v/1"},
		StorageRoot:  storageRoot,
		CancelSignal: models.NewCancelSignal(),
	}

	_, err := a.Run(context.Background(), req)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.SubprocessSpawnFailed, apiErr.Code)
}

func TestAdapter_Run_CancelSignalTerminates(t *testing.T) {
	storageRoot := t.TempDir()
	scriptDir := t.TempDir()
	// A script that sleeps well past the test's patience if not interrupted.
	path := filepath.Join(scriptDir, "slow.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	a := NewWithBinary(path, arbor.NewLogger())
	cancelSignal := models.NewCancelSignal()
	req := Request{
		JobID:        "job_test4",
		Payload:      models.Payload{URL: "https://example.test/v/1"},
		StorageRoot:  storageRoot,
		CancelSignal: cancelSignal,
		GracePeriod:  50 * time.Millisecond,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancelSignal.Cancel()
	}()

	start := time.Now()
	_, err := a.Run(context.Background(), req)
	elapsed := time.Since(start)

	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.Cancelled, apiErr.Code)
	require.Less(t, elapsed, 5*time.Second)
}

func TestAdapter_Run_DeadlineExceeded(t *testing.T) {
	storageRoot := t.TempDir()
	scriptDir := t.TempDir()
	path := filepath.Join(scriptDir, "slow.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	a := NewWithBinary(path, arbor.NewLogger())
	req := Request{
		JobID:        "job_test5",
		Payload:      models.Payload{URL: "https://example.test/v/1"},
		StorageRoot:  storageRoot,
		CancelSignal: models.NewCancelSignal(),
		Deadline:     time.Now().Add(100 * time.Millisecond),
		GracePeriod:  50 * time.Millisecond,
	}

	_, err := a.Run(context.Background(), req)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.Timeout, apiErr.Code)
}

func TestParseProgressLine(t *testing.T) {
	evt, ok := parseProgressLine("[download]  42.5% of ~100.00MiB at 5.00MiB/s ETA 00:30")
	require.True(t, ok)
	require.Equal(t, ProgressDownloading, evt.State)
	require.InDelta(t, 30, evt.ETASec, 0.01)
	require.Greater(t, evt.Total, int64(0))

	_, ok = parseProgressLine("some unrelated log line")
	require.False(t, ok)
}

func TestParseETA(t *testing.T) {
	require.Equal(t, 90, parseETA("01:30"))
	require.Equal(t, 3661, parseETA("01:01:01"))
	require.Equal(t, -1, parseETA("garbage"))
}
