package validate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathValidator_Confine(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "videos"), 0o755); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(root, "videos", "clip.mp4")
	if err := os.WriteFile(good, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	pv, err := NewPathValidator(root)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := pv.Confine("videos/clip.mp4"); err != nil {
		t.Fatalf("expected valid path to pass, got %v", err)
	}

	if _, err := pv.Confine("../../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestPathValidator_RejectsSymlink(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "good.mp4")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unsupported on this filesystem: %v", err)
	}

	pv, err := NewPathValidator(root)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := pv.Confine("good.mp4"); err == nil {
		t.Fatalf("expected symlinked path to be rejected")
	}
}
