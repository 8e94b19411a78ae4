package permissions

import (
	"os"
	"path/filepath"
	"testing"
)

func setupDir(t *testing.T, mode os.FileMode) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	if err := os.WriteFile(p, []byte("x"), mode); err != nil {
		t.Fatal(err)
	}
	return dir
}

func perm(t *testing.T, dir, name string) os.FileMode {
	t.Helper()
	fi, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return fi.Mode().Perm()
}

func TestReconcile_NoBase_TakesRightThenLeftDelta(t *testing.T) {
	rightDir := setupDir(t, 0o644)
	leftDir := setupDir(t, 0o755) // left added the execute bits
	mergedDir := setupDir(t, 0o600)

	if err := Reconcile("", leftDir, rightDir, mergedDir, "f"); err != nil {
		t.Fatal(err)
	}
	got := perm(t, mergedDir, "f")
	if want := os.FileMode(0o755); got != want {
		t.Errorf("merged perm = %o, want %o", got, want)
	}
}

func TestReconcile_WithBase_AppliesBothDeltas(t *testing.T) {
	baseDir := setupDir(t, 0o644)
	leftDir := setupDir(t, 0o744)  // left added u+x
	rightDir := setupDir(t, 0o640) // right removed o+r
	mergedDir := setupDir(t, 0o000)

	if err := Reconcile(baseDir, leftDir, rightDir, mergedDir, "f"); err != nil {
		t.Fatal(err)
	}
	got := perm(t, mergedDir, "f")
	if want := os.FileMode(0o740); got != want {
		t.Errorf("merged perm = %o, want %o", got, want)
	}
}

func TestReconcile_BaseIsSymlinkFallsBackToRight(t *testing.T) {
	dir := t.TempDir()
	os.Symlink("target", filepath.Join(dir, "f"))
	rightDir := setupDir(t, 0o755)
	leftDir := setupDir(t, 0o755)
	mergedDir := setupDir(t, 0o644)

	if err := Reconcile(dir, leftDir, rightDir, mergedDir, "f"); err != nil {
		t.Fatal(err)
	}
	if got := perm(t, mergedDir, "f"); got != 0o755 {
		t.Errorf("merged perm = %o, want 0755", got)
	}
}
