// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package toolexec abstracts the external Debian tooling (diff3,
// msgmerge, msgcat, dpkg-source, tar) that the tree merger and
// orchestrator shell out to, so tests can swap in deterministic fakes
// rather than depending on the host's toolchain.
package toolexec

import (
	"bytes"
	"context"
	"io"
	"log"
	"os/exec"

	"github.com/pkg/errors"
)

// Tools is the subset of external commands the merger drives.
type Tools interface {
	// Diff3 runs "diff3 -E -m" across left/base/right, writing the merged
	// result (with conflict markers, if any) to out. okStatuses 0
	// (clean merge), 1 (conflicts present) and 2 (trouble) are not
	// treated as execution failures; the caller inspects the returned
	// exit status itself.
	Diff3(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (status int, err error)
	// MsgMerge runs "msgmerge --force-po -o out -C left right pot".
	MsgMerge(ctx context.Context, out, left, right, pot string) error
	// MsgCat runs "msgcat --force-po --use-first -o out right left".
	MsgCat(ctx context.Context, out, right, left string) error
	// DpkgSource runs "dpkg-source args..." with dir as the working
	// directory, e.g. "-b <tree>" to repackage a source tree into a .dsc
	// plus tarball(s), or "-x <dsc>" to unpack one.
	DpkgSource(ctx context.Context, dir string, args ...string) error
	// Tar runs "tar czf out -C dir contained" to package a directory.
	Tar(ctx context.Context, out, dir, contained string) error
	// Diff runs "diff -pruN old new", returning the textual diff and a
	// nil error whether or not differences were found (diff's exit
	// status 1 is not an error here).
	Diff(ctx context.Context, oldPath, newPath string) (string, error)
}

// Exec is the production Tools implementation, backed by os/exec.
type Exec struct{}

var _ Tools = Exec{}

func (Exec) Diff3(ctx context.Context, out io.Writer, leftLabel, leftPath, basePath, rightLabel, rightPath string) (int, error) {
	cmd := exec.CommandContext(ctx, "diff3", "-E", "-m",
		"-L", leftLabel, leftPath,
		"-L", "BASE", basePath,
		"-L", rightLabel, rightPath)
	cmd.Stdout = out
	errbuf := &bytes.Buffer{}
	cmd.Stderr = errbuf
	log.Printf("running: %s", cmd.String())
	err := cmd.Run()
	status, ok := exitStatus(err)
	if !ok {
		return 0, errors.Wrapf(err, "diff3: %s", errbuf.String())
	}
	if status > 2 {
		return status, errors.Errorf("diff3 exited %d: %s", status, errbuf.String())
	}
	return status, nil
}

func (Exec) MsgMerge(ctx context.Context, out, left, right, pot string) error {
	cmd := exec.CommandContext(ctx, "msgmerge", "--force-po", "-o", out, "-C", left, right, pot)
	return run(ctx, cmd)
}

func (Exec) MsgCat(ctx context.Context, out, right, left string) error {
	cmd := exec.CommandContext(ctx, "msgcat", "--force-po", "--use-first", "-o", out, right, left)
	return run(ctx, cmd)
}

func (Exec) DpkgSource(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "dpkg-source", args...)
	cmd.Dir = dir
	return run(ctx, cmd)
}

func (Exec) Tar(ctx context.Context, out, dir, contained string) error {
	cmd := exec.CommandContext(ctx, "tar", "czf", out, contained)
	cmd.Dir = dir
	return run(ctx, cmd)
}

func (Exec) Diff(ctx context.Context, oldPath, newPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "diff", "-pruN", oldPath, newPath)
	outbuf := &bytes.Buffer{}
	cmd.Stdout = outbuf
	errbuf := &bytes.Buffer{}
	cmd.Stderr = errbuf
	log.Printf("running: %s", cmd.String())
	err := cmd.Run()
	if status, ok := exitStatus(err); ok {
		// diff exits 1 when inputs differ; that's not a failure.
		if status > 1 {
			return "", errors.Errorf("diff exited %d: %s", status, errbuf.String())
		}
		return outbuf.String(), nil
	}
	return "", errors.Wrapf(err, "diff: %s", errbuf.String())
}

func run(ctx context.Context, cmd *exec.Cmd) error {
	out := &bytes.Buffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	log.Printf("running: %s", cmd.String())
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s: %s", cmd.Args[0], out.String())
	}
	return nil
}

// exitStatus extracts the process exit status from err, which must be
// nil or an *exec.ExitError. ok is false if err is a non-exit error
// (e.g. the binary could not be started).
func exitStatus(err error) (status int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
