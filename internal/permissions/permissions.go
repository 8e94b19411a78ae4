// Package permissions reconciles the permission bits of a merged file
// from its base, left and right counterparts, per spec §4.5: the
// merged file starts from the base's bits (or the right side's, when
// there is no regular-file base), then picks up any bit each side
// flipped relative to that starting point.
package permissions

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Reconcile sets mergedDir/name's permission bits from baseDir (if
// baseDir is non-empty and names a real, non-symlink file) or
// rightDir otherwise, then layers in any bit change made by leftDir
// (and, when a base exists, rightDir too) relative to that starting
// point. It mirrors merge_attr/set_attr/apply_attr from the original
// three-way merger.
func Reconcile(baseDir, leftDir, rightDir, mergedDir, name string) error {
	baseIsFile := baseDir != "" && isRegularNonSymlink(filepath.Join(baseDir, name))
	if baseIsFile {
		if err := setFrom(baseDir, mergedDir, name); err != nil {
			return err
		}
		if err := applyDelta(baseDir, leftDir, mergedDir, name); err != nil {
			return err
		}
		return applyDelta(baseDir, rightDir, mergedDir, name)
	}
	if err := setFrom(rightDir, mergedDir, name); err != nil {
		return err
	}
	return applyDelta(rightDir, leftDir, mergedDir, name)
}

func isRegularNonSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode().IsRegular()
}

// setFrom copies srcDir/name's low 9 permission bits onto
// destDir/name.
func setFrom(srcDir, destDir, name string) error {
	src, err := os.Stat(filepath.Join(srcDir, name))
	if err != nil {
		return errors.Wrapf(err, "stat %s/%s", srcDir, name)
	}
	dest := filepath.Join(destDir, name)
	if err := os.Chmod(dest, src.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "chmod %s", dest)
	}
	return nil
}

// applyDelta applies, onto destDir/name, every bit that srcDir/name
// added or removed relative to baseDir/name.
func applyDelta(baseDir, srcDir, destDir, name string) error {
	if srcDir == "" {
		return nil
	}
	src, err := os.Stat(filepath.Join(srcDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s/%s", srcDir, name)
	}
	base, err := os.Stat(filepath.Join(baseDir, name))
	if err != nil {
		return errors.Wrapf(err, "stat %s/%s", baseDir, name)
	}
	srcPerm := src.Mode().Perm()
	basePerm := base.Mode().Perm()
	dest := filepath.Join(destDir, name)
	for shift := 0; shift < 9; shift++ {
		bit := os.FileMode(1 << shift)
		added := basePerm&bit == 0 && srcPerm&bit != 0
		removed := basePerm&bit != 0 && srcPerm&bit == 0
		if !added && !removed {
			continue
		}
		if err := change(dest, bit, added); err != nil {
			return err
		}
	}
	return nil
}

func change(path string, bit os.FileMode, add bool) error {
	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	perm := fi.Mode().Perm()
	if add {
		perm |= bit
	} else {
		perm &^= bit
	}
	if err := os.Chmod(path, perm); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	return nil
}
