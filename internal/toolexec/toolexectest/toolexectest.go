// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package toolexectest provides an in-memory toolexec.Tools fake for
// tests that drive the tree merger without a diff3/gettext toolchain.
package toolexectest

import (
	"context"
	"io"
	"os"

	"github.com/momcore/merge-o-matic/internal/toolexec"
)

// Fake is a toolexec.Tools fake with per-method overridable hooks.
// Unset hooks fall back to simple defaults, which are enough for tests
// that don't care about a particular tool's output: Diff3 copies the
// left input and reports status 0, MsgMerge copies left, MsgCat copies
// right, DpkgSource does nothing, Tar writes a placeholder file, and
// Diff returns an empty diff.
type Fake struct {
	Diff3Func     func(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (int, error)
	MsgMergeFunc  func(ctx context.Context, out, left, right, pot string) error
	MsgCatFunc    func(ctx context.Context, out, right, left string) error
	DpkgSourceFunc func(ctx context.Context, dir string, args ...string) error
	TarFunc       func(ctx context.Context, out, dir, contained string) error
	DiffFunc      func(ctx context.Context, oldPath, newPath string) (string, error)

	Calls []string
}

var _ toolexec.Tools = &Fake{}

func (f *Fake) Diff3(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (int, error) {
	f.Calls = append(f.Calls, "diff3")
	if f.Diff3Func != nil {
		return f.Diff3Func(ctx, out, leftLabel, leftPath, basePath, rightLabel, rightPath)
	}
	b, err := os.ReadFile(leftPath)
	if err != nil {
		return 0, err
	}
	_, err = out.Write(b)
	return 0, err
}

func (f *Fake) MsgMerge(ctx context.Context, out, left, right, pot string) error {
	f.Calls = append(f.Calls, "msgmerge")
	if f.MsgMergeFunc != nil {
		return f.MsgMergeFunc(ctx, out, left, right, pot)
	}
	return copyFile(left, out)
}

func (f *Fake) MsgCat(ctx context.Context, out, right, left string) error {
	f.Calls = append(f.Calls, "msgcat")
	if f.MsgCatFunc != nil {
		return f.MsgCatFunc(ctx, out, right, left)
	}
	return copyFile(right, out)
}

func (f *Fake) DpkgSource(ctx context.Context, dir string, args ...string) error {
	f.Calls = append(f.Calls, "dpkg-source")
	if f.DpkgSourceFunc != nil {
		return f.DpkgSourceFunc(ctx, dir, args...)
	}
	return nil
}

func (f *Fake) Tar(ctx context.Context, out, dir, contained string) error {
	f.Calls = append(f.Calls, "tar")
	if f.TarFunc != nil {
		return f.TarFunc(ctx, out, dir, contained)
	}
	return os.WriteFile(out, []byte("fake-tar:"+contained), 0o644)
}

func (f *Fake) Diff(ctx context.Context, oldPath, newPath string) (string, error) {
	f.Calls = append(f.Calls, "diff")
	if f.DiffFunc != nil {
		return f.DiffFunc(ctx, oldPath, newPath)
	}
	return "", nil
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}
