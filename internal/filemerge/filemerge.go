// Package filemerge dispatches the per-file three-way merge: Debian
// changelogs are knitted, gettext .po/.pot files go through msgmerge
// or msgcat, other text-ish files go through diff3, and files diff3
// can't usefully merge fall back to a same-file identity check with a
// conflict-marker pair as the last resort. See spec §4.3.
package filemerge

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/momcore/merge-o-matic/internal/changelog"
	"github.com/momcore/merge-o-matic/internal/sourcetree"
	"github.com/momcore/merge-o-matic/internal/toolexec"
)

// Dispatcher merges individual files given an already-resolved base,
// left and right directory triple.
type Dispatcher struct {
	Tools                  toolexec.Tools
	LeftName, RightName    string // labels diff3 embeds in conflict markers
	LeftDistro, RightDistro string // suffixes used on binary-conflict sidecar files
}

// ChangelogPath is the conventional location of a package's changelog
// within its source tree.
const ChangelogPath = "debian/changelog"

// HandleFile merges the regular file name, present in both leftDir and
// rightDir, into mergedDir. baseStat is the base tree's lstat result
// for name, or nil if name didn't exist (or wasn't a regular file) in
// the base. po reports whether name is a .po file whose merge must be
// deferred until every .pot file in the tree has already been merged
// (it needs the closest already-merged .pot as a match target);
// conflict is only meaningful when po is false.
func (d *Dispatcher) HandleFile(ctx context.Context, baseDir string, baseStat os.FileInfo, leftDir, rightDir, mergedDir, name string) (conflict, po bool, err error) {
	leftPath := filepath.Join(leftDir, name)
	rightPath := filepath.Join(rightDir, name)
	mergedPath := filepath.Join(mergedDir, name)

	leftStat, _ := sourcetree.Lstat(leftDir, name)
	rightStat, _ := sourcetree.Lstat(rightDir, name)
	sameLeftRight := false
	if leftStat != nil && rightStat != nil {
		sameLeftRight, err = sourcetree.Same(leftStat, leftDir, rightStat, rightDir, name)
		if err != nil {
			return false, false, err
		}
	}

	switch {
	case name == ChangelogPath:
		if err := d.mergeChangelog(leftPath, rightPath, mergedPath); err != nil {
			return true, false, nil
		}
		return false, false, nil

	case strings.HasSuffix(name, ".po") && !sameLeftRight:
		return false, true, nil

	case strings.HasSuffix(name, ".pot") && !sameLeftRight:
		if err := sourcetree.Ensure(mergedPath); err != nil {
			return false, false, err
		}
		if err := d.Tools.MsgCat(ctx, mergedPath, rightPath, leftPath); err != nil {
			return true, false, nil
		}
		return false, false, nil

	case baseStat != nil && baseStat.Mode().IsRegular():
		conflict, err = d.mergeViaDiff3(ctx, baseDir, leftDir, rightDir, mergedDir, name)
		return conflict, false, err

	case sameLeftRight:
		return false, false, sourcetree.CopyFile(leftPath, mergedPath)

	default:
		return true, false, d.ConflictFile(leftDir, rightDir, mergedDir, name)
	}
}

// MergePO merges a single .po file once every .pot in mergedDir has
// already been settled, using msgmerge against the closest .pot to it
// (falling back to a straight msgcat merge, like a .pot, if no .pot is
// found alongside it).
func (d *Dispatcher) MergePO(ctx context.Context, leftDir, rightDir, mergedDir, name string) (conflict bool, err error) {
	mergedPath := filepath.Join(mergedDir, name)
	pot, err := closestPOT(mergedPath)
	if err != nil {
		return false, err
	}
	if err := sourcetree.Ensure(mergedPath); err != nil {
		return false, err
	}
	leftPath := filepath.Join(leftDir, name)
	rightPath := filepath.Join(rightDir, name)
	if pot == "" {
		if err := d.Tools.MsgCat(ctx, mergedPath, rightPath, leftPath); err != nil {
			return true, nil
		}
		return false, nil
	}
	if err := d.Tools.MsgMerge(ctx, mergedPath, leftPath, rightPath, pot); err != nil {
		return true, nil
	}
	return false, nil
}

// closestPOT returns the path to a .pot file in poFile's directory, or
// "" if none exists.
func closestPOT(poFile string) (string, error) {
	dir := filepath.Dir(poFile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "reading %s", dir)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".pot") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

func (d *Dispatcher) mergeChangelog(leftPath, rightPath, mergedPath string) error {
	leftEntries, err := parseChangelogFile(leftPath)
	if err != nil {
		return err
	}
	rightEntries, err := parseChangelogFile(rightPath)
	if err != nil {
		return err
	}
	knitted := changelog.Knit(leftEntries, rightEntries)
	if err := sourcetree.Ensure(mergedPath); err != nil {
		return err
	}
	out, err := os.Create(mergedPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", mergedPath)
	}
	defer out.Close()
	return changelog.Write(out, knitted)
}

func parseChangelogFile(path string) ([]changelog.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return changelog.Parse(f)
}

// mergeViaDiff3 runs diff3 across the three versions of name. A clean
// merge (status 0) is not a conflict. A textual conflict (status 1)
// leaves the conflict markers in the merged file and is reported as a
// conflict. Status 2 with an empty (or unreadable) result, typically
// binary input, falls through to the same-file binary comparison;
// status 2 with any output is reported as a conflict.
func (d *Dispatcher) mergeViaDiff3(ctx context.Context, baseDir, leftDir, rightDir, mergedDir, name string) (conflict bool, err error) {
	mergedPath := filepath.Join(mergedDir, name)
	if err := sourcetree.Ensure(mergedPath); err != nil {
		return false, err
	}
	out, err := os.Create(mergedPath)
	if err != nil {
		return false, errors.Wrapf(err, "creating %s", mergedPath)
	}
	status, runErr := d.Tools.Diff3(ctx, out, d.LeftName, filepath.Join(leftDir, name),
		filepath.Join(baseDir, name), d.RightName, filepath.Join(rightDir, name))
	out.Close()
	if runErr != nil {
		return false, runErr
	}
	if status == 0 {
		return false, nil
	}
	if status == 1 {
		return true, nil
	}

	// status == 2: diff3 couldn't produce any merge, typically because
	// the inputs are binary. Fall back to same-file comparisons.
	fi, statErr := os.Stat(mergedPath)
	if statErr != nil || fi.Size() == 0 {
		return d.binaryFallback(baseDir, leftDir, rightDir, mergedDir, name)
	}
	return true, nil
}

// binaryFallback decides a binary file's fate by same-file identity:
// if left and right ended up identical, keep either; if only one side
// changed from base, keep that side; otherwise it's a real conflict.
func (d *Dispatcher) binaryFallback(baseDir, leftDir, rightDir, mergedDir, name string) (conflict bool, err error) {
	leftStat, err := sourcetree.Lstat(leftDir, name)
	if err != nil {
		return false, err
	}
	rightStat, err := sourcetree.Lstat(rightDir, name)
	if err != nil {
		return false, err
	}
	mergedPath := filepath.Join(mergedDir, name)

	if leftStat != nil && rightStat != nil {
		same, err := sourcetree.Same(leftStat, leftDir, rightStat, rightDir, name)
		if err != nil {
			return false, err
		}
		if same {
			return false, sourcetree.CopyFile(filepath.Join(leftDir, name), mergedPath)
		}
	}
	baseStat, err := sourcetree.Lstat(baseDir, name)
	if err != nil {
		return false, err
	}
	if baseStat != nil && leftStat != nil {
		same, err := sourcetree.Same(baseStat, baseDir, leftStat, leftDir, name)
		if err != nil {
			return false, err
		}
		if same && rightStat != nil {
			return false, sourcetree.CopyFile(filepath.Join(rightDir, name), mergedPath)
		}
	}
	if baseStat != nil && rightStat != nil {
		same, err := sourcetree.Same(baseStat, baseDir, rightStat, rightDir, name)
		if err != nil {
			return false, err
		}
		if same && leftStat != nil {
			return false, sourcetree.CopyFile(filepath.Join(leftDir, name), mergedPath)
		}
	}
	return true, d.ConflictFile(leftDir, rightDir, mergedDir, name)
}

// ConflictFile records filename as an unresolved conflict: both sides
// are copied alongside the (removed) merge target with a distro-name
// suffix, e.g. "foo.conf.UBUNTU" and "foo.conf.DEBIAN". If a side is a
// directory the target path is left as a symlink into one sidecar so
// the tree walk doesn't trip over a missing directory.
func (d *Dispatcher) ConflictFile(leftDir, rightDir, mergedDir, name string) error {
	dest := filepath.Join(mergedDir, name)
	if err := sourcetree.Remove(dest); err != nil {
		return err
	}

	leftSrc := filepath.Join(leftDir, name)
	if sourcetree.Exists(leftSrc) {
		if err := sourcetree.CopyFile(leftSrc, dest+"."+strings.ToUpper(d.LeftDistro)); err != nil {
			return err
		}
	}
	if fi, err := os.Stat(leftSrc); err == nil && fi.IsDir() {
		if err := os.Symlink(filepath.Base(dest)+"."+strings.ToUpper(d.LeftDistro), dest); err != nil {
			return errors.Wrapf(err, "symlinking conflicted dir %s", dest)
		}
	}

	rightSrc := filepath.Join(rightDir, name)
	if sourcetree.Exists(rightSrc) {
		if err := sourcetree.CopyFile(rightSrc, dest+"."+strings.ToUpper(d.RightDistro)); err != nil {
			return err
		}
	}
	if fi, err := os.Stat(rightSrc); err == nil && fi.IsDir() {
		if err := os.Symlink(filepath.Base(dest)+"."+strings.ToUpper(d.RightDistro), dest); err != nil {
			return errors.Wrapf(err, "symlinking conflicted dir %s", dest)
		}
	}
	return nil
}
