package orchestrator

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/momcore/merge-o-matic/internal/debversion"
	"github.com/momcore/merge-o-matic/internal/toolexec/toolexectest"
	"github.com/momcore/merge-o-matic/pkg/model"
	"github.com/momcore/merge-o-matic/pkg/model/modeltest"
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

func newTestOrchestrator(t *testing.T, unpack map[string]string) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Tools:       &toolexectest.Fake{},
		ScratchRoot: t.TempDir(),
		MomName:     "Merge-o-Matic",
		MomEmail:    "mom@example.com",
		LocalSuffix: "ubuntu1",
		Logger:      log.New(io.Discard, "", 0),
		Unpack: func(ctx context.Context, pv model.PackageVersion) (string, error) {
			dir, ok := unpack[pv.Version().String()]
			if !ok {
				t.Fatalf("unexpected unpack request for version %s", pv.Version())
			}
			return dir, nil
		},
	}
}

func TestRunPackage_SyncTheirs(t *testing.T) {
	ubuntu := modeltest.NewDistro("ubuntu")
	ubuntu.Add("jammy", "main", "foo", "1.0-1")

	debian := modeltest.NewDistro("debian")
	debian.Add("sid", "main", "foo", "2.0-1")

	target := &modeltest.Target{
		TargetName: "ubuntu-jammy", TargetDistro: ubuntu, TargetDist: "jammy", Component_: "main",
		Sources: [][]model.Source{{{Distro: debian, Dist: "sid"}}},
	}

	packages, err := ubuntu.Packages(context.Background(), "jammy", "main")
	if err != nil || len(packages) != 1 {
		t.Fatalf("Packages() = %v, %v", packages, err)
	}
	pkg := packages[0]

	leftDir, upstreamDir := t.TempDir(), t.TempDir()
	writeChangelog(t, leftDir, "1.0-1")
	writeChangelog(t, upstreamDir, "2.0-1", "1.0-1")

	o := newTestOrchestrator(t, map[string]string{
		"1.0-1": leftDir,
		"2.0-1": upstreamDir,
	})

	outputDir := t.TempDir()
	if err := o.RunPackage(context.Background(), target, pkg, outputDir, Options{}); err != nil {
		t.Fatal(err)
	}

	r, err := report.Read(outputDir)
	if err != nil {
		t.Fatal(err)
	}
	if r.Result != report.SyncTheirs {
		t.Errorf("Result = %v, want SyncTheirs", r.Result)
	}
	if r.Left.Version != "1.0-1" || r.Right.Version != "2.0-1" || r.Base.Version != "1.0-1" {
		t.Errorf("versions = left:%s right:%s base:%s", r.Left.Version, r.Right.Version, r.Base.Version)
	}
}

func TestRunPackage_SkipsWhenUpToDate(t *testing.T) {
	ubuntu := modeltest.NewDistro("ubuntu")
	ubuntu.Add("jammy", "main", "foo", "3.0-1")
	debian := modeltest.NewDistro("debian")
	debian.Add("sid", "main", "foo", "2.0-1")

	target := &modeltest.Target{
		TargetName: "ubuntu-jammy", TargetDistro: ubuntu, TargetDist: "jammy", Component_: "main",
		Sources: [][]model.Source{{{Distro: debian, Dist: "sid"}}},
	}
	packages, _ := ubuntu.Packages(context.Background(), "jammy", "main")
	pkg := packages[0]

	o := newTestOrchestrator(t, nil)
	outputDir := t.TempDir()
	if err := o.RunPackage(context.Background(), target, pkg, outputDir, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := report.Read(outputDir); err == nil {
		t.Error("expected no report to be written when our version already >= upstream")
	}
}

func TestRunTarget_RespectsBlacklist(t *testing.T) {
	ubuntu := modeltest.NewDistro("ubuntu")
	ubuntu.Add("jammy", "main", "blocked", "1.0-1")
	target := &modeltest.Target{
		TargetName: "ubuntu-jammy", TargetDistro: ubuntu, TargetDist: "jammy", Component_: "main",
		BlacklistM: map[string]bool{"blocked": true},
	}

	o := newTestOrchestrator(t, nil)
	called := false
	o.RunTarget(context.Background(), target, func(name string) string {
		called = true
		return t.TempDir()
	}, Options{})
	if called {
		t.Error("blacklisted package should never reach RunPackage")
	}
}

func TestOptionsWanted(t *testing.T) {
	opts := Options{Packages: []string{"foo", "bar"}, Exclude: []string{"bar"}}
	if !opts.wanted("foo") {
		t.Error("foo should be wanted")
	}
	if opts.wanted("bar") {
		t.Error("bar is excluded, should not be wanted")
	}
	if opts.wanted("baz") {
		t.Error("baz is not in the package filter, should not be wanted")
	}
}

func TestGenchanges(t *testing.T) {
	left := debversion.MustParse("1.0-1")
	merged := debversion.MustParse("2.0-1ubuntu1")
	if got, want := genchanges(left, merged), "-S -v1.0-1 -sa"; got != want {
		t.Errorf("genchanges = %q, want %q", got, want)
	}

	merged2 := debversion.MustParse("1.0-1ubuntu1")
	if got, want := genchanges(left, merged2), "-S -v1.0-1"; got != want {
		t.Errorf("genchanges = %q, want %q (same upstream, no -sa)", got, want)
	}
}

func TestTitle(t *testing.T) {
	if got := title("debian"); got != "Debian" {
		t.Errorf("title(debian) = %q", got)
	}
	if got := title(""); got != "" {
		t.Errorf("title(\"\") = %q", got)
	}
}
