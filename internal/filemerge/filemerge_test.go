package filemerge

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/momcore/merge-o-matic/internal/sourcetree"
	"github.com/momcore/merge-o-matic/internal/toolexec/toolexectest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHandleFile_Changelog(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	leftCL := "foo (2.0-1ubuntu1) jammy; urgency=medium\n\n  * change.\n\n -- Dev <d@u.com>  Mon, 01 Jan 2024 00:00:00 +0000\n" +
		"foo (1.0-1) unstable; urgency=low\n\n  * init.\n\n -- Dev <d@d.org>  Sat, 01 Jan 2022 00:00:00 +0000\n"
	rightCL := "foo (1.0-1) unstable; urgency=low\n\n  * init.\n\n -- Dev <d@d.org>  Sat, 01 Jan 2022 00:00:00 +0000\n"
	writeFile(t, filepath.Join(left, ChangelogPath), leftCL)
	writeFile(t, filepath.Join(right, ChangelogPath), rightCL)

	d := &Dispatcher{Tools: &toolexectest.Fake{}, LeftName: "ubuntu", RightName: "debian", LeftDistro: "ubuntu", RightDistro: "debian"}
	conflict, po, err := d.HandleFile(context.Background(), base, nil, left, right, merged, ChangelogPath)
	if err != nil {
		t.Fatal(err)
	}
	if conflict || po {
		t.Fatalf("HandleFile() = conflict=%v po=%v, want false/false", conflict, po)
	}
	b, err := os.ReadFile(filepath.Join(merged, ChangelogPath))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Error("merged changelog is empty")
	}
}

func TestHandleFile_DeferredPO(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(left, "po/de.po"), "left-po")
	writeFile(t, filepath.Join(right, "po/de.po"), "right-po")

	d := &Dispatcher{Tools: &toolexectest.Fake{}}
	conflict, po, err := d.HandleFile(context.Background(), base, nil, left, right, merged, "po/de.po")
	if err != nil {
		t.Fatal(err)
	}
	if conflict {
		t.Error("HandleFile() conflict=true for a deferred .po")
	}
	if !po {
		t.Error("HandleFile() po=false, want true")
	}
}

func TestHandleFile_SameLeftRightNoBase(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(left, "newfile"), "identical")
	writeFile(t, filepath.Join(right, "newfile"), "identical")

	d := &Dispatcher{Tools: &toolexectest.Fake{}, LeftDistro: "ubuntu", RightDistro: "debian"}
	conflict, po, err := d.HandleFile(context.Background(), base, nil, left, right, merged, "newfile")
	if err != nil {
		t.Fatal(err)
	}
	if conflict || po {
		t.Fatalf("HandleFile() = conflict=%v po=%v, want false/false", conflict, po)
	}
	b, _ := os.ReadFile(filepath.Join(merged, "newfile"))
	if string(b) != "identical" {
		t.Errorf("merged content = %q", b)
	}
}

func TestHandleFile_DifferingNoBaseIsConflict(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(left, "newfile"), "left-version")
	writeFile(t, filepath.Join(right, "newfile"), "right-version")

	d := &Dispatcher{Tools: &toolexectest.Fake{}, LeftDistro: "ubuntu", RightDistro: "debian"}
	conflict, po, err := d.HandleFile(context.Background(), base, nil, left, right, merged, "newfile")
	if err != nil {
		t.Fatal(err)
	}
	if !conflict || po {
		t.Fatalf("HandleFile() = conflict=%v po=%v, want true/false", conflict, po)
	}
	if !sourcetree.Exists(filepath.Join(merged, "newfile.UBUNTU")) {
		t.Error("missing .UBUNTU conflict sidecar")
	}
	if !sourcetree.Exists(filepath.Join(merged, "newfile.DEBIAN")) {
		t.Error("missing .DEBIAN conflict sidecar")
	}
}

func TestHandleFile_Diff3Clean(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(base, "f"), "base\n")
	writeFile(t, filepath.Join(left, "f"), "base\nleft-added\n")
	writeFile(t, filepath.Join(right, "f"), "base\n")
	baseStat, err := sourcetree.Lstat(base, "f")
	if err != nil {
		t.Fatal(err)
	}

	fake := &toolexectest.Fake{
		Diff3Func: func(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (int, error) {
			b, err := os.ReadFile(leftPath)
			if err != nil {
				return 0, err
			}
			out.Write(b)
			return 0, nil
		},
	}
	d := &Dispatcher{Tools: fake, LeftName: "ubuntu", RightName: "debian"}
	conflict, po, err := d.HandleFile(context.Background(), base, baseStat, left, right, merged, "f")
	if err != nil {
		t.Fatal(err)
	}
	if conflict || po {
		t.Fatalf("HandleFile() = conflict=%v po=%v, want false/false", conflict, po)
	}
}

func TestHandleFile_Diff3Conflict(t *testing.T) {
	base, left, right, merged := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(base, "f"), "base\n")
	writeFile(t, filepath.Join(left, "f"), "left\n")
	writeFile(t, filepath.Join(right, "f"), "right\n")
	baseStat, err := sourcetree.Lstat(base, "f")
	if err != nil {
		t.Fatal(err)
	}

	fake := &toolexectest.Fake{
		Diff3Func: func(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (int, error) {
			out.Write([]byte("<<<<<<< conflict markers >>>>>>>\n"))
			return 1, nil
		},
	}
	d := &Dispatcher{Tools: fake}
	conflict, po, err := d.HandleFile(context.Background(), base, baseStat, left, right, merged, "f")
	if err != nil {
		t.Fatal(err)
	}
	if !conflict || po {
		t.Fatalf("HandleFile() = conflict=%v po=%v, want true/false", conflict, po)
	}
}
