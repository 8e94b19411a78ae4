// Command expire-pool sweeps every configured distro target's packages
// and, for each one's merge report, reaps pool source stanzas strictly
// older than its recorded base version across the distros named on the
// command line (or every configured distro, if none are named).
// Grounded on original_source/expire_pool.py's command-line surface.
package main

import (
	"context"
	"log"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/momcore/merge-o-matic/pkg/expiry"
	"github.com/momcore/merge-o-matic/pkg/model"
	"github.com/momcore/merge-o-matic/pkg/momconfig"
)

// targetFactory resolves a configured distro target's name into the
// model.Target this run sweeps. See cmd/produce-merges's identical
// variable for why concrete backends live outside this port.
var targetFactory = func(name string, dt momconfig.DistroTarget) (model.Target, error) {
	return nil, errors.Errorf("expire-pool: no model.Target backend is wired for target %q; supply one via an archive-mirror-backed implementation of pkg/model's interfaces", name)
}

// distroFactory resolves a bare distro name (as named on the command
// line, or as it appears in a configured target's "distro" field) into
// the model.Distro this run expires pool sources from.
var distroFactory = func(name string) (model.Distro, error) {
	return nil, errors.Errorf("expire-pool: no model.Distro backend is wired for distro %q", name)
}

// poolDirsFactory resolves every pool directory (typically one per
// component) holding packageName's files in distro. A production
// deployment supplies this from its own component listing; pkg/model
// has none, by design (see pkg/model's package doc).
var poolDirsFactory expiry.PoolDirsFunc = func(ctx context.Context, distro model.Distro, packageName string) ([]model.PoolDirectory, error) {
	return nil, errors.Errorf("expire-pool: no pool-directory resolver is wired for distro %q", distro.Name())
}

type flags struct {
	configPath string
	packages   []string
	distros    []string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "expire-pool [distro...]",
		Short: "expire pool sources older than each package's merge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.distros = args
			return runExpirePool(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "mom.yaml", "path to the merger's YAML configuration")
	cmd.Flags().StringArrayVar(&f.packages, "package", nil, "package name to consider (repeatable)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func runExpirePool(ctx context.Context, f *flags) error {
	cfg, err := momconfig.Load(f.configPath)
	if err != nil {
		return err
	}

	distroNames := f.distros
	if len(distroNames) == 0 {
		distroNames = configuredDistroNames(cfg)
	}

	var expireDistros []model.Distro
	for _, name := range distroNames {
		d, err := distroFactory(name)
		if err != nil {
			return err
		}
		expireDistros = append(expireDistros, d)
	}

	opts := expiry.Options{Packages: f.packages}
	logger := log.Default()

	for name, dt := range cfg.DistroTargets {
		target, err := targetFactory(name, dt)
		if err != nil {
			return err
		}
		reportDir := func(packageName string) string {
			return filepath.Join(cfg.Root, "merges", name, packageName)
		}
		if err := expiry.Sweep(ctx, target, expireDistros, reportDir, poolDirsFactory, opts, logger); err != nil {
			return errors.Wrapf(err, "sweeping target %s", name)
		}
	}
	return nil
}

// configuredDistroNames returns the distinct "distro" values named
// across every configured target, in the absence of an explicit
// distro list on the command line.
func configuredDistroNames(cfg *momconfig.Config) []string {
	seen := map[string]bool{}
	var out []string
	for _, dt := range cfg.DistroTargets {
		if seen[dt.Distro] {
			continue
		}
		seen[dt.Distro] = true
		out = append(out, dt.Distro)
	}
	return out
}
