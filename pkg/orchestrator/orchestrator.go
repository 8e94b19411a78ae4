// Package orchestrator drives one package's three-way merge end to end,
// per spec §4.7: pick the downstream and upstream versions, locate a
// common ancestor, run the tree merger, assemble the resulting source
// package (or a conflict tarball), and write the report.
//
// Grounded on original_source/produce_merges.py's main/produce_merge
// pair; this package is the Go equivalent of that script's per-package
// loop body.
package orchestrator

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/momcore/merge-o-matic/internal/ancestor"
	"github.com/momcore/merge-o-matic/internal/changelog"
	"github.com/momcore/merge-o-matic/internal/control"
	"github.com/momcore/merge-o-matic/internal/debversion"
	"github.com/momcore/merge-o-matic/internal/sourcetree"
	"github.com/momcore/merge-o-matic/internal/toolexec"
	"github.com/momcore/merge-o-matic/internal/treemerge"
	"github.com/momcore/merge-o-matic/pkg/model"
	"github.com/momcore/merge-o-matic/pkg/report"
)

// Unpacker materializes a PackageVersion's source files into a freshly
// named scratch directory and returns its path. Implementations live
// outside this package since unpacking a .dsc depends on the pool
// layout (dpkg-source -x, essentially).
type Unpacker func(ctx context.Context, pv model.PackageVersion) (dir string, err error)

// Options filters which packages a run considers, mirroring
// produce_merges.py's command-line flags.
type Options struct {
	Packages []string // --package, repeatable; nil means "all"
	Include  []string // --include file contents, package names
	Exclude  []string // --exclude file contents, package names
	Version  *debversion.Version
	Force    bool
}

func (o Options) wanted(name string) bool {
	if len(o.Packages) > 0 && !contains(o.Packages, name) {
		return false
	}
	if len(o.Include) > 0 && !contains(o.Include, name) {
		return false
	}
	if contains(o.Exclude, name) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Orchestrator runs package merges for one configured target.
type Orchestrator struct {
	Tools       toolexec.Tools
	Unpack      Unpacker
	ScratchRoot string // root for uuid-named unpack scratch directories
	MomName     string
	MomEmail    string
	LocalSuffix string
	Logger      *log.Logger

	// NewOutputFS opens the billy filesystem artifacts are staged into
	// for one package's output directory. Defaults to osfs.New(dir).
	NewOutputFS func(dir string) billy.Filesystem

	now func() time.Time // overridable for tests
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

func (o *Orchestrator) outputFS(dir string) billy.Filesystem {
	if o.NewOutputFS != nil {
		return o.NewOutputFS(dir)
	}
	return osfs.New(dir)
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// NewScratchDir allocates a uniquely named subdirectory of ScratchRoot,
// per spec §5's "each unpack is in a uniquely-named subdirectory".
func (o *Orchestrator) NewScratchDir() (string, error) {
	dir := filepath.Join(o.ScratchRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating scratch dir %s", dir)
	}
	return dir, nil
}

// RunTarget processes every package in target's distro/dist/component,
// applying opts' filters and target's blacklist, skipping packages
// already up to date unless opts.Force is set.
func (o *Orchestrator) RunTarget(ctx context.Context, target model.Target, outputDirFor func(packageName string) string, opts Options) {
	d := target.Distro()
	blacklist := target.Blacklist()

	packages, err := d.Packages(ctx, target.Dist(), target.Component())
	if err != nil {
		o.logger().Printf("listing packages for %s/%s: %v", target.Dist(), target.Component(), err)
		return
	}

	for _, pkg := range packages {
		if !opts.wanted(pkg.Name()) {
			continue
		}
		if blacklist[pkg.Name()] {
			o.logger().Printf("%s is blacklisted, skipping", pkg.Name())
			continue
		}
		outputDir := outputDirFor(pkg.Name())
		if err := o.RunPackage(ctx, target, pkg, outputDir, opts); err != nil {
			o.logger().Printf("%s: %v", pkg.Name(), err)
		}
	}
}

// RunPackage processes a single package against target, writing its
// result to outputDir.
func (o *Orchestrator) RunPackage(ctx context.Context, target model.Target, pkg model.Package, outputDir string, opts Options) error {
	d := target.Distro()

	var ourVersion model.PackageVersion
	if opts.Version != nil {
		matches, err := d.FindPackage(ctx, pkg.Name(), target.Dist(), opts.Version)
		if err != nil {
			return errors.Wrapf(err, "finding %s=%s", pkg.Name(), opts.Version)
		}
		ourVersion = matches[0]
	} else {
		v, err := pkg.NewestVersion(ctx)
		if err != nil {
			return errors.Wrapf(err, "finding newest version of %s", pkg.Name())
		}
		ourVersion = v
	}

	upstream, err := o.findUpstream(ctx, target, pkg.Name())
	if err != nil {
		return err
	}
	if upstream == nil {
		o.logger().Printf("%s not available upstream, skipping", pkg.Name())
		os.RemoveAll(outputDir)
		return nil
	}

	if !opts.Force {
		if existing, err := report.Read(outputDir); err == nil {
			if existing.Right.Version == upstream.Version().String() &&
				existing.Left.Version == ourVersion.Version().String() {
				o.logger().Printf("%s already produced, skipping run", pkg.Name())
				return nil
			}
		}
	}

	if !debversion.Less(ourVersion.Version(), upstream.Version()) {
		o.logger().Printf("%s >= %s, skipping", ourVersion.Version(), upstream.Version())
		os.RemoveAll(outputDir)
		return nil
	}

	o.logger().Printf("local: %s, upstream: %s", ourVersion.Version(), upstream.Version())
	return o.produceMerge(ctx, target, ourVersion, upstream, outputDir)
}

// findUpstream returns the best (highest-versioned) match for name
// across every source list target configures, or nil if none exists.
func (o *Orchestrator) findUpstream(ctx context.Context, target model.Target, name string) (model.PackageVersion, error) {
	lists, err := target.GetSourceLists(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "getting source lists for %s", name)
	}

	var best model.PackageVersion
	for _, list := range lists {
		for _, src := range list {
			matches, err := src.Distro.FindPackage(ctx, name, src.Dist, nil)
			if err != nil {
				if errors.Is(err, model.ErrPackageNotFound) {
					continue
				}
				return nil, err
			}
			for _, m := range matches {
				if best == nil || debversion.Less(best.Version(), m.Version()) {
					best = m
				}
			}
		}
	}
	return best, nil
}

// produceMerge implements produce_merge: unpack both sides, find the
// common ancestor, run the tree merge, assemble the output, and write
// the report.
func (o *Orchestrator) produceMerge(ctx context.Context, target model.Target, left, upstream model.PackageVersion, outputDir string) error {
	leftDir, err := o.Unpack(ctx, left)
	if err != nil {
		os.RemoveAll(outputDir)
		return errors.Wrapf(err, "unpacking %s=%s", left.Package().Name(), left.Version())
	}
	upstreamDir, err := o.Unpack(ctx, upstream)
	if err != nil {
		os.RemoveAll(outputDir)
		return errors.Wrapf(err, "unpacking %s=%s", upstream.Package().Name(), upstream.Version())
	}

	leftChangelog, err := readChangelog(filepath.Join(leftDir, "debian/changelog"))
	if err != nil {
		os.RemoveAll(outputDir)
		return errors.Wrap(err, "reading left changelog")
	}
	upstreamChangelog, err := readChangelog(filepath.Join(upstreamDir, "debian/changelog"))
	if err != nil {
		os.RemoveAll(outputDir)
		return errors.Wrap(err, "reading upstream changelog")
	}

	result, err := ancestor.Find(ctx, target, left.Package().Name(), leftChangelog, upstreamChangelog, ancestor.Unpacker(o.Unpack))
	if err != nil {
		o.logger().Printf("error finding base version for %s: %v", left.Package().Name(), err)
		os.RemoveAll(outputDir)
		return nil
	}
	base := result.Version
	baseDir := result.Dir
	triedBases := result.TriedBases

	o.logger().Printf("base version: %s", base.Version())

	mergedVersion := debversion.MustParse(upstream.Version().String() + o.LocalSuffix)

	if !debversion.Less(base.Version(), upstream.Version()) {
		o.logger().Printf("nothing to be done: %s >= %s", base.Version(), upstream.Version())
		os.RemoveAll(outputDir)
		return nil
	}

	mergedDir, err := o.NewScratchDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(mergedDir)

	if debversion.Equal(base.Version(), left.Version()) {
		o.logger().Printf("syncing %s to %s", left.Version(), upstream.Version())
		os.RemoveAll(outputDir)
		return report.Write(outputDir, &report.MergeReport{
			SourcePackage:        left.Package().Name(),
			MergeDate:            o.clock().Format(time.RFC3339),
			Result:               report.SyncTheirs,
			Left:                 versionFiles(left),
			Right:                versionFiles(upstream),
			Base:                 versionFiles(base),
			BasesNotFound:        versionStrings(triedBases),
			BuildMetadataChanged: false,
			Committed:            false,
		})
	}

	o.logger().Printf("merging %s..%s onto %s", upstream.Version(), base.Version(), left.Version())

	sides := treemerge.Sides{
		LeftDir: leftDir, LeftName: left.Package().Distro().Name(), LeftDistro: left.Package().Distro().Name(),
		RightDir: upstreamDir, RightName: upstream.Package().Distro().Name(), RightDistro: upstream.Package().Distro().Name(),
	}
	conflicts, err := treemerge.Merge(ctx, o.Tools, baseDir, sides, mergedDir)
	if err != nil {
		os.RemoveAll(mergedDir)
		return errors.Wrapf(err, "merging %s", left.Package().Name())
	}

	if err := o.addChangelog(left.Package().Name(), mergedVersion, target, upstream, mergedDir); err != nil {
		return errors.Wrapf(err, "updating changelog for %s", left.Package().Name())
	}

	os.RemoveAll(outputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output dir %s", outputDir)
	}

	if _, err := o.copyIn(outputDir, base); err != nil {
		o.logger().Printf("copying base files for %s: %v", left.Package().Name(), err)
	}
	leftPatch, err := o.copyIn(outputDir, left)
	if err != nil {
		o.logger().Printf("copying left files for %s: %v", left.Package().Name(), err)
	}
	rightPatch, err := o.copyIn(outputDir, upstream)
	if err != nil {
		o.logger().Printf("copying right files for %s: %v", left.Package().Name(), err)
	}

	var srcFile, patchFile string
	buildMetadataChanged := false

	if len(conflicts) > 0 {
		srcFile, err = o.createTarball(ctx, left.Package().Name(), mergedVersion, outputDir, mergedDir)
		if err != nil {
			return errors.Wrap(err, "creating conflict tarball")
		}
	} else {
		srcFile, err = o.createSource(ctx, left.Package().Name(), mergedVersion, left.Version(), outputDir, mergedDir)
		if err != nil {
			return errors.Wrap(err, "creating source package")
		}
		if filepath.Ext(srcFile) == ".dsc" {
			mergedControl, err := control.ParseFile(filepath.Join(outputDir, srcFile))
			if err == nil {
				if stanza, err := mergedControl.FirstStanza(); err == nil {
					buildMetadataChanged = control.BuildMetadataChanged(left.Stanza(), stanza)
				}
			}
			patchFile, err = o.createPatch(ctx, left.Package().Name(), mergedVersion, outputDir, mergedDir, upstream, upstreamDir)
			if err != nil {
				o.logger().Printf("creating patch for %s: %v", left.Package().Name(), err)
			}
		}
	}

	r := &report.MergeReport{
		SourcePackage:        left.Package().Name(),
		MergeDate:            o.clock().Format(time.RFC3339),
		Left:                 versionFiles(left),
		Right:                versionFiles(upstream),
		Base:                 versionFiles(base),
		LeftPatch:            leftPatch,
		RightPatch:           rightPatch,
		MergedVersion:        mergedVersion.String(),
		MergedDir:            mergedDir,
		BasesNotFound:        versionStrings(triedBases),
		Conflicts:            conflicts,
		BuildMetadataChanged: buildMetadataChanged,
	}
	if len(conflicts) > 0 {
		r.Result = report.Conflicts
		r.MergeFailureTarball = srcFile
	} else {
		r.Result = report.Merged
		r.MergedPatch = patchFile
	}
	r.Genchanges = genchanges(left.Version(), mergedVersion)

	if err := report.Write(outputDir, r); err != nil {
		return errors.Wrap(err, "writing report")
	}
	o.logger().Printf("wrote output to %s", srcFile)
	return nil
}

// genchanges builds the dpkg-genchanges argument string spec §4.7
// specifies: "-S -v<left.version>[ -sa]", with -sa appended when the
// merged version has a revision and its upstream component differs
// from left's.
func genchanges(left, merged debversion.Version) string {
	s := "-S -v" + left.String()
	if merged.HasRevision && merged.Upstream != left.Upstream {
		s += " -sa"
	}
	return s
}

func readChangelog(path string) ([]changelog.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return changelog.Parse(f)
}

func versionFiles(pv model.PackageVersion) report.VersionFiles {
	entries, _ := model.Files(pv)
	var names []string
	for _, e := range entries {
		names = append(names, e.Filename)
	}
	return report.VersionFiles{
		Distro:    pv.Package().Distro().Name(),
		Component: pv.Component(),
		Version:   pv.Version().String(),
		Files:     names,
	}
}

func versionStrings(versions []debversion.Version) []string {
	var out []string
	for _, v := range versions {
		out = append(out, v.String())
	}
	return out
}

// addChangelog prepends a templated entry to mergedDir's
// debian/changelog, per add_changelog.
func (o *Orchestrator) addChangelog(packageName string, mergedVersion debversion.Version, target model.Target, upstream model.PackageVersion, mergedDir string) error {
	path := filepath.Join(mergedDir, "debian/changelog")
	existing, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	header := packageName + " (" + mergedVersion.String() + ") UNRELEASED; urgency=low\n" +
		"\n" +
		"  * Merge from " + title(upstream.Package().Distro().Name()) + " " + target.Dist() + ".  Remaining changes:\n" +
		"    - SUMMARISE HERE\n" +
		"\n" +
		" -- " + o.MomName + " <" + o.MomEmail + ">  " + o.clock().Format(time.RFC1123Z) + "\n" +
		"\n"

	return os.WriteFile(path, append([]byte(header), existing...), 0o644)
}

func title(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// copyIn copies pv's pool files into outputDir, via a billy filesystem
// so the staging step is swappable through NewOutputFS (osfs by
// default) rather than raw os calls. If a patch file from a previous merge of
// this version already sits in the pool directory, it is copied in too
// and its basename returned, per copy_in.
func (o *Orchestrator) copyIn(outputDir string, pv model.PackageVersion) (string, error) {
	fs := o.outputFS(outputDir)
	entries, err := model.Files(pv)
	if err != nil {
		return "", err
	}
	poolDir := pv.Package().PoolDirectory().Path()
	for _, e := range entries {
		src := filepath.Join(poolDir, e.Filename)
		if err := linkInto(fs, src, e.Filename); err != nil {
			o.logger().Printf("file not found: %s: %v", src, err)
		}
	}

	patchName := pv.Package().Name() + "_" + pv.Version().String() + ".patch"
	patchSrc := filepath.Join(poolDir, patchName)
	if sourcetree.Exists(patchSrc) {
		if err := linkInto(fs, patchSrc, patchName); err != nil {
			return "", err
		}
		return patchName, nil
	}
	return "", nil
}

func linkInto(fs billy.Filesystem, src, destName string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fs.Create(destName)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// createTarball packages mergedDir into a conflict tarball, per
// create_tarball.
func (o *Orchestrator) createTarball(ctx context.Context, packageName string, version debversion.Version, outputDir, mergedDir string) (string, error) {
	contained := packageName + "-" + version.WithoutEpoch()
	filename := packageName + "_" + version.WithoutEpoch() + ".src.tar.gz"

	parent, err := o.NewScratchDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(parent)

	containedDir := filepath.Join(parent, contained)
	if err := sourcetree.CopyTree(mergedDir, containedDir); err != nil {
		return "", err
	}
	if rules := filepath.Join(containedDir, "debian/rules"); sourcetree.Exists(rules) {
		if fi, err := os.Stat(rules); err == nil {
			os.Chmod(rules, fi.Mode()|0o111)
		}
	}

	out := filepath.Join(outputDir, filename)
	if err := o.Tools.Tar(ctx, out, parent, contained); err != nil {
		return "", err
	}
	o.logger().Printf("created %s", filename)
	return filename, nil
}

// createSource runs dpkg-source -b against mergedDir, falling back to
// createTarball if it fails or drops no .dsc, per create_source.
func (o *Orchestrator) createSource(ctx context.Context, packageName string, version, since debversion.Version, outputDir, mergedDir string) (string, error) {
	contained := packageName + "-" + version.Upstream
	filename := packageName + "_" + version.WithoutEpoch() + ".dsc"

	parent, err := o.NewScratchDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(parent)

	containedDir := filepath.Join(parent, contained)
	if err := sourcetree.CopyTree(mergedDir, containedDir); err != nil {
		return "", err
	}

	origName := packageName + "_" + version.Upstream + ".orig.tar.gz"
	if sourcetree.Exists(filepath.Join(outputDir, origName)) {
		sourcetree.CopyFile(filepath.Join(outputDir, origName), filepath.Join(parent, origName))
	}

	args := []string{}
	if version.HasRevision && since.Upstream != version.Upstream {
		args = append(args, "-sa")
	}
	args = append(args, "-b", contained)

	if err := o.Tools.DpkgSource(ctx, parent, args...); err != nil {
		o.logger().Printf("dpkg-source failed for %s: %v", packageName, err)
		return o.createTarball(ctx, packageName, version, outputDir, mergedDir)
	}

	if !sourcetree.Exists(filepath.Join(parent, filename)) {
		o.logger().Printf("dropped dsc %s", filename)
		return o.createTarball(ctx, packageName, version, outputDir, mergedDir)
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dest := filepath.Join(outputDir, e.Name())
		if sourcetree.Exists(dest) {
			continue
		}
		if err := sourcetree.CopyFile(filepath.Join(parent, e.Name()), dest); err != nil {
			return "", err
		}
	}
	o.logger().Printf("created dpkg-source %s", filename)
	return filename, nil
}

// createPatch diffs the right (upstream) tree against the merged tree,
// per create_patch.
func (o *Orchestrator) createPatch(ctx context.Context, packageName string, version debversion.Version, outputDir, mergedDir string, right model.PackageVersion, rightDir string) (string, error) {
	filename := packageName + "_" + version.String() + ".patch"

	parent, err := o.NewScratchDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(parent)

	mergedName := version.String()
	rightName := right.Version().String()
	if err := sourcetree.CopyTree(mergedDir, filepath.Join(parent, mergedName)); err != nil {
		return "", err
	}
	if err := sourcetree.CopyTree(rightDir, filepath.Join(parent, rightName)); err != nil {
		return "", err
	}

	diff, err := o.Tools.Diff(ctx, filepath.Join(parent, rightName), filepath.Join(parent, mergedName))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(outputDir, filename), []byte(diff), 0o644); err != nil {
		return "", err
	}
	o.logger().Printf("created %s", filename)
	return filename, nil
}
