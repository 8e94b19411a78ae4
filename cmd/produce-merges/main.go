// Command produce-merges drives pkg/orchestrator over one configured
// target: for every package the target's distro carries, it locates
// the best upstream candidate, three-way merges it against the common
// ancestor, and writes a merge report. Grounded on
// original_source/produce_merges.py's command-line surface.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/momcore/merge-o-matic/internal/debversion"
	"github.com/momcore/merge-o-matic/internal/toolexec"
	"github.com/momcore/merge-o-matic/pkg/model"
	"github.com/momcore/merge-o-matic/pkg/momconfig"
	"github.com/momcore/merge-o-matic/pkg/orchestrator"
)

// targetFactory resolves a configured distro target's name into the
// model.Target this run merges against. pkg/model's backends (the
// archive-mirror-backed Distro/Package/PoolDirectory implementations)
// are external collaborators this port never builds — see
// pkg/model's package doc — so a production deployment must supply its
// own factory. Tests in this package override it with modeltest fakes.
var targetFactory = func(name string, dt momconfig.DistroTarget) (model.Target, error) {
	return nil, errors.Errorf("produce-merges: no model.Target backend is wired for target %q; supply one via an archive-mirror-backed implementation of pkg/model's interfaces", name)
}

type flags struct {
	configPath string
	packages   []string
	target     string
	version    string
	include    []string
	exclude    []string
	force      bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "produce-merges",
		Short: "produce merged source packages for a configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProduceMerges(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "mom.yaml", "path to the merger's YAML configuration")
	cmd.Flags().StringArrayVar(&f.packages, "package", nil, "package name to process (repeatable)")
	cmd.Flags().StringVar(&f.target, "target", "", "distro target to process (required)")
	cmd.Flags().StringVar(&f.version, "version", "", "exact version to use for our side instead of the newest")
	cmd.Flags().StringArrayVar(&f.include, "include", nil, "only process packages listed in this file (repeatable)")
	cmd.Flags().StringArrayVar(&f.exclude, "exclude", nil, "never process packages listed in this file (repeatable)")
	cmd.Flags().BoolVar(&f.force, "force", false, "reprocess packages even if already up to date")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func runProduceMerges(ctx context.Context, f *flags) error {
	if f.target == "" {
		return errors.New("--target is required")
	}

	cfg, err := momconfig.Load(f.configPath)
	if err != nil {
		return err
	}
	dt, ok := cfg.Target(f.target)
	if !ok {
		return errors.Errorf("unknown target %q", f.target)
	}

	target, err := targetFactory(f.target, dt)
	if err != nil {
		return err
	}

	opts := orchestrator.Options{Packages: f.packages, Force: f.force}
	if opts.Include, err = readPackageLists(f.include); err != nil {
		return err
	}
	if opts.Exclude, err = readPackageLists(f.exclude); err != nil {
		return err
	}
	if f.version != "" {
		v, err := debversion.Parse(f.version)
		if err != nil {
			return errors.Wrap(err, "parsing --version")
		}
		opts.Version = &v
	}

	scratchRoot := filepath.Join(cfg.Root, "tmp")
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return errors.Wrapf(err, "creating scratch root %s", scratchRoot)
	}

	o := &orchestrator.Orchestrator{
		Tools:       toolexec.Exec{},
		Unpack:      newUnpacker(cfg.Root, scratchRoot, toolexec.Exec{}),
		ScratchRoot: scratchRoot,
		MomName:     cfg.MomName,
		MomEmail:    cfg.MomEmail,
		LocalSuffix: cfg.LocalSuffix,
	}

	o.RunTarget(ctx, target, func(packageName string) string {
		return filepath.Join(cfg.Root, "merges", f.target, packageName)
	}, opts)
	return nil
}

// readPackageLists loads the union of every --include/--exclude file:
// one package name per line, "#"-prefixed lines are comments.
func readPackageLists(paths []string) ([]string, error) {
	var out []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			out = append(out, line)
		}
	}
	return out, nil
}

// newUnpacker builds the production Unpacker. Tests in this package
// override it with a fake that returns pre-populated directories.
var newUnpacker = func(root, scratchRoot string, tools toolexec.Tools) orchestrator.Unpacker {
	return newDpkgSourceUnpacker(root, scratchRoot, tools).Unpack
}

// dpkgSourceUnpacker materializes a PackageVersion by running
// "dpkg-source -x" against its pool .dsc into a uniquely named scratch
// directory, satisfying orchestrator.Unpacker.
type dpkgSourceUnpacker struct {
	root        string
	scratchRoot string
	tools       toolexec.Tools
}

func newDpkgSourceUnpacker(root, scratchRoot string, tools toolexec.Tools) *dpkgSourceUnpacker {
	return &dpkgSourceUnpacker{root: root, scratchRoot: scratchRoot, tools: tools}
}

func (u *dpkgSourceUnpacker) Unpack(ctx context.Context, pv model.PackageVersion) (string, error) {
	entries, err := model.Files(pv)
	if err != nil {
		return "", err
	}
	var dscName string
	for _, e := range entries {
		if strings.HasSuffix(e.Filename, ".dsc") {
			dscName = e.Filename
			break
		}
	}
	if dscName == "" {
		return "", errors.Errorf("%s=%s: no .dsc in pool files", pv.Package().Name(), pv.Version())
	}

	dir := filepath.Join(u.scratchRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating unpack dir %s", dir)
	}

	dscPath := filepath.Join(u.root, pv.Package().PoolDirectory().Path(), dscName)
	if err := u.tools.DpkgSource(ctx, dir, "-x", dscPath); err != nil {
		os.RemoveAll(dir)
		return "", errors.Wrapf(err, "unpacking %s", dscPath)
	}

	entriesDir, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entriesDir {
		if e.IsDir() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.Errorf("dpkg-source -x %s produced no directory", dscPath)
}
