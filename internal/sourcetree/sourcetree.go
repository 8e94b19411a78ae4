// Package sourcetree walks unpacked Debian source trees and compares
// filesystem entries for identity, the building block the tree and
// file mergers use to decide whether a side actually changed a file.
package sourcetree

import (
	"crypto"
	_ "crypto/md5" // registers crypto.MD5 for hashext.NewTypedHash
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/momcore/merge-o-matic/internal/hashext"
)

// pcDir is the quilt metadata directory excluded from every tree walk;
// its contents are workspace bookkeeping, never package content.
const pcDir = ".pc"

// Walk returns every path under root (files, dirs, symlinks,
// device nodes — everything but root itself), relative to root, sorted
// lexically. Entries under ".pc/" are excluded.
func Walk(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if Under(pcDir, rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", root)
	}
	sort.Strings(out)
	return out, nil
}

// Under reports whether rel names a path under prefix (or is prefix
// itself).
func Under(prefix, rel string) bool {
	return rel == prefix || strings.HasPrefix(rel, prefix+string(filepath.Separator))
}

// Exists reports whether path names an existing filesystem entry
// (following no symlinks: a dangling symlink still "exists").
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Lstat returns the lstat result for dir/name, or nil if it doesn't
// exist.
func Lstat(dir, name string) (os.FileInfo, error) {
	fi, err := os.Lstat(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s/%s", dir, name)
	}
	return fi, nil
}

// Same reports whether dir1/name and dir2/name are the same filesystem
// object: same fundamental type, and then type-specific identity
// (content digest for regular files, device number for device nodes,
// link target for symlinks, always-equal for directories/fifos/sockets).
func Same(stat1 os.FileInfo, dir1 string, stat2 os.FileInfo, dir2 string, name string) (bool, error) {
	mode1 := stat1.Mode()
	mode2 := stat2.Mode()
	if mode1.Type() != mode2.Type() {
		return false, nil
	}
	switch {
	case mode1.IsRegular():
		if stat1.Size() != stat2.Size() {
			return false, nil
		}
		d1, err := digest(filepath.Join(dir1, name))
		if err != nil {
			return false, err
		}
		d2, err := digest(filepath.Join(dir2, name))
		if err != nil {
			return false, err
		}
		return d1 == d2, nil
	case mode1.IsDir():
		return true, nil
	case mode1&os.ModeNamedPipe != 0, mode1&os.ModeSocket != 0:
		return true, nil
	case mode1&os.ModeDevice != 0:
		sys1, ok1 := stat1.Sys().(*syscall.Stat_t)
		sys2, ok2 := stat2.Sys().(*syscall.Stat_t)
		if !ok1 || !ok2 {
			return false, errors.New("device node missing platform stat data")
		}
		return sys1.Rdev == sys2.Rdev, nil
	case mode1&os.ModeSymlink != 0:
		target1, err := os.Readlink(filepath.Join(dir1, name))
		if err != nil {
			return false, errors.Wrapf(err, "reading link %s/%s", dir1, name)
		}
		target2, err := os.Readlink(filepath.Join(dir2, name))
		if err != nil {
			return false, errors.Wrapf(err, "reading link %s/%s", dir2, name)
		}
		return target1 == target2, nil
	default:
		return true, nil
	}
}

func digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s for digest", path)
	}
	defer f.Close()
	h := hashext.NewTypedHash(crypto.MD5)
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return string(h.Sum(nil)), nil
}

// CopyFile copies src to dest, creating dest's parent directory and
// preserving src's permission bits. Symlinks are recreated rather than
// followed.
func CopyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "creating parent of %s", dest)
	}
	fi, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	if fi.IsDir() {
		return errors.Wrapf(os.MkdirAll(dest, fi.Mode().Perm()), "creating directory %s", dest)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return errors.Wrapf(err, "reading link %s", src)
		}
		os.Remove(dest)
		return errors.Wrapf(os.Symlink(target, dest), "linking %s", dest)
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copying %s to %s", src, dest)
	}
	return nil
}

// CopyTree recursively copies every entry under src into dest, which is
// created if absent, preserving the directory structure CopyFile alone
// cannot (used when staging a merged tree into a tarball or
// dpkg-source's working copy).
func CopyTree(src, dest string) error {
	entries, err := Walk(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}
	for _, rel := range entries {
		if err := CopyFile(filepath.Join(src, rel), filepath.Join(dest, rel)); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes path if present; it is not an error for path to be
// already absent.
func Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return errors.Wrapf(err, "removing %s", path)
	}
	return nil
}

// Ensure creates path's parent directory, for writers that are about
// to create path.
func Ensure(path string) error {
	return errors.Wrapf(os.MkdirAll(filepath.Dir(path), 0o755), "ensuring parent of %s", path)
}
