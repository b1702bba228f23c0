package validate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
)

// PathValidator enforces spec.md §4.A's served-path safety rule: the
// caller-supplied relative path is joined to the storage root, canonicalized,
// and must lie strictly beneath the canonical root with no symlink on any
// segment.
type PathValidator struct {
	Root string // canonical, absolute storage root
}

// NewPathValidator resolves root to its canonical absolute form up front so
// every call to Confine compares against the same baseline.
func NewPathValidator(root string) (*PathValidator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not resolve storage root", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The root itself may not exist yet on first boot; fall back to the
		// absolute path and let callers create it before serving anything.
		resolved = abs
	}
	return &PathValidator{Root: resolved}, nil
}

// Confine validates relPath and returns the absolute, canonical path to the
// file it denotes. It fails with PATH_UNSAFE if relPath escapes the root via
// "..", if any path segment is a symlink, or if the resolved path is not
// strictly beneath the root.
func (p *PathValidator) Confine(relPath string) (string, error) {
	if relPath == "" || strings.Contains(relPath, "\x00") {
		return "", apierr.New(apierr.PathUnsafe, "path is empty or invalid")
	}

	joined := filepath.Join(p.Root, relPath)
	if !strings.HasPrefix(joined, p.Root+string(filepath.Separator)) {
		return "", apierr.New(apierr.PathUnsafe, "path escapes storage root")
	}

	if err := p.rejectSymlinkSegments(joined); err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apierr.New(apierr.NotFound, "file does not exist")
		}
		return "", apierr.Wrap(apierr.Internal, "could not resolve path", err)
	}
	if resolved != joined && !strings.HasPrefix(resolved, p.Root+string(filepath.Separator)) {
		return "", apierr.New(apierr.PathUnsafe, "path resolves outside storage root")
	}
	return resolved, nil
}

// rejectSymlinkSegments walks every ancestor of path (down to but not
// including the root) and fails if any is a symlink. This catches the
// "good.mp4 is itself a symlink" case spec.md's scenario 9 names, which
// EvalSymlinks alone would silently follow.
func (p *PathValidator) rejectSymlinkSegments(path string) error {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return apierr.New(apierr.PathUnsafe, "path escapes storage root")
	}
	segments := strings.Split(rel, string(filepath.Separator))
	cur := p.Root
	for _, seg := range segments {
		cur = filepath.Join(cur, seg)
		info, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				return nil // non-existent tail segment, not a symlink escape
			}
			return apierr.Wrap(apierr.Internal, "could not stat path segment", err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return apierr.New(apierr.PathUnsafe, "path contains a symlink segment")
		}
	}
	return nil
}
