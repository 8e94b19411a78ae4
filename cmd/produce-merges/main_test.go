package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/momcore/merge-o-matic/internal/toolexec"
	"github.com/momcore/merge-o-matic/pkg/model"
	"github.com/momcore/merge-o-matic/pkg/model/modeltest"
	"github.com/momcore/merge-o-matic/pkg/momconfig"
	"github.com/momcore/merge-o-matic/pkg/orchestrator"
	"github.com/momcore/merge-o-matic/pkg/report"
)

func writeChangelog(t *testing.T, dir string, entries ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "debian"), 0o755); err != nil {
		t.Fatal(err)
	}
	var body string
	for _, v := range entries {
		body += "foo (" + v + ") unstable; urgency=low\n\n  * change.\n\n -- D <d@d.org>  Sat, 01 Jan 2022 00:00:00 +0000\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "debian/changelog"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunProduceMerges_MissingTargetFlag(t *testing.T) {
	f := &flags{configPath: "unused.yaml"}
	if err := runProduceMerges(context.Background(), f); err == nil {
		t.Fatal("expected error when --target is missing")
	}
}

func TestRunProduceMerges_UnknownTarget(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mom.yaml")
	os.WriteFile(cfgPath, []byte("root: "+dir+"\nmom_name: M\nmom_email: m@e\ndistro_targets:\n  known:\n    distro: ubuntu\n    dist: jammy\n    component: main\n"), 0o644)

	f := &flags{configPath: cfgPath, target: "missing"}
	if err := runProduceMerges(context.Background(), f); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestRunProduceMerges_EndToEndSync(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "mom.yaml")
	cfgYAML := "root: " + root + "\nmom_name: Merge-o-Matic\nmom_email: mom@example.com\nlocal_suffix: ubuntu1\ndistro_targets:\n  ubuntu:\n    distro: ubuntu\n    dist: jammy\n    component: main\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	ubuntu := modeltest.NewDistro("ubuntu")
	ubuntu.Add("jammy", "main", "foo", "1.0-1")
	debian := modeltest.NewDistro("debian")
	debian.Add("sid", "main", "foo", "2.0-1")

	target := &modeltest.Target{
		TargetName: "ubuntu-jammy", TargetDistro: ubuntu, TargetDist: "jammy", Component_: "main",
		Sources: [][]model.Source{{{Distro: debian, Dist: "sid"}}},
	}

	origFactory := targetFactory
	targetFactory = func(name string, dt momconfig.DistroTarget) (model.Target, error) { return target, nil }
	defer func() { targetFactory = origFactory }()

	leftDir, upstreamDir := t.TempDir(), t.TempDir()
	writeChangelog(t, leftDir, "1.0-1")
	writeChangelog(t, upstreamDir, "2.0-1", "1.0-1")

	origUnpacker := newUnpacker
	newUnpacker = func(r, scratchRoot string, tools toolexec.Tools) orchestrator.Unpacker {
		return func(ctx context.Context, pv model.PackageVersion) (string, error) {
			switch pv.Version().String() {
			case "1.0-1":
				return leftDir, nil
			case "2.0-1":
				return upstreamDir, nil
			}
			t.Fatalf("unexpected unpack request: %s", pv.Version())
			return "", nil
		}
	}
	defer func() { newUnpacker = origUnpacker }()

	f := &flags{configPath: cfgPath, target: "ubuntu"}
	if err := runProduceMerges(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	r, err := report.Read(filepath.Join(root, "merges", "ubuntu", "foo"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Result != report.SyncTheirs {
		t.Errorf("Result = %v, want SyncTheirs", r.Result)
	}
}

func TestReadPackageLists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	os.WriteFile(path, []byte("# comment\nfoo\n\nbar\n"), 0o644)

	got, err := readPackageLists([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "foo" || got[1] != "bar" {
		t.Errorf("readPackageLists = %v", got)
	}
}
