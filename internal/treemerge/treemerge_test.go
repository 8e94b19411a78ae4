package treemerge

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/momcore/merge-o-matic/internal/toolexec/toolexectest"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMerge_NoConflicts(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()

	write(t, filepath.Join(base, "unchanged"), "same\n")
	write(t, filepath.Join(left, "unchanged"), "same\n")
	write(t, filepath.Join(right, "unchanged"), "same\n")

	write(t, filepath.Join(base, "debian/changelog"), "foo (1.0-1) unstable; urgency=low\n\n  * init.\n\n -- D <d@d.org>  Sat, 01 Jan 2022 00:00:00 +0000\n")
	write(t, filepath.Join(left, "debian/changelog"),
		"foo (2.0-1ubuntu1) jammy; urgency=medium\n\n  * ubuntu change.\n\n -- U <u@u.com>  Mon, 01 Jan 2024 00:00:00 +0000\n"+
			"foo (1.0-1) unstable; urgency=low\n\n  * init.\n\n -- D <d@d.org>  Sat, 01 Jan 2022 00:00:00 +0000\n")
	write(t, filepath.Join(right, "debian/changelog"), "foo (1.0-1) unstable; urgency=low\n\n  * init.\n\n -- D <d@d.org>  Sat, 01 Jan 2022 00:00:00 +0000\n")

	write(t, filepath.Join(left, "onlyleft"), "new in left\n")
	write(t, filepath.Join(right, "onlyright"), "new in right\n")

	fake := &toolexectest.Fake{}
	conflicts, err := Merge(context.Background(), fake, base, Sides{
		LeftDir: left, LeftName: "ubuntu", LeftDistro: "ubuntu",
		RightDir: right, RightName: "debian", RightDistro: "debian",
	}, merged)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %v, want none", conflicts)
	}
	if _, err := os.Stat(filepath.Join(merged, "onlyleft")); err != nil {
		t.Errorf("onlyleft not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(merged, "onlyright")); err != nil {
		t.Errorf("onlyright not copied: %v", err)
	}
	cl, err := os.ReadFile(filepath.Join(merged, "debian/changelog"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cl) == 0 {
		t.Error("merged changelog is empty")
	}
}

func TestMerge_ConflictingFileRecorded(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	write(t, filepath.Join(base, "f"), "base\n")
	write(t, filepath.Join(left, "f"), "left-change\n")
	write(t, filepath.Join(right, "f"), "right-change\n")

	fake := &toolexectest.Fake{
		Diff3Func: func(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (int, error) {
			out.Write([]byte("<<<<<<< conflict\n"))
			return 1, nil
		},
	}
	conflicts, err := Merge(context.Background(), fake, base, Sides{
		LeftDir: left, LeftName: "ubuntu", LeftDistro: "ubuntu",
		RightDir: right, RightName: "debian", RightDistro: "debian",
	}, merged)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || conflicts[0] != "f" {
		t.Errorf("conflicts = %v, want [f]", conflicts)
	}
}

func TestMerge_RemovedOnOneSideUnchangedOnOther(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	write(t, filepath.Join(base, "gone"), "base\n")
	write(t, filepath.Join(right, "gone"), "base\n") // unchanged on right, removed on left

	fake := &toolexectest.Fake{}
	conflicts, err := Merge(context.Background(), fake, base, Sides{
		LeftDir: left, LeftName: "ubuntu", LeftDistro: "ubuntu",
		RightDir: right, RightName: "debian", RightDistro: "debian",
	}, merged)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %v, want none", conflicts)
	}
	if _, err := os.Stat(filepath.Join(merged, "gone")); !os.IsNotExist(err) {
		t.Errorf("expected gone to be absent from merged tree, stat err = %v", err)
	}
}
