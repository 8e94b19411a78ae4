// Package expiry implements the pool retention sweep of spec §4.8:
// for each package whose most recent merge report names a base
// version, remove pool source stanzas older than that base (keeping
// one fallback version if the base itself isn't present), across every
// distro the operator asks to expire.
//
// Grounded on original_source/expire_pool.py's main/expire_pool_sources
// pair.
package expiry

import (
	"context"
	"log"
	"sort"

	"github.com/pkg/errors"

	"github.com/momcore/merge-o-matic/internal/control"
	"github.com/momcore/merge-o-matic/internal/debversion"
	"github.com/momcore/merge-o-matic/pkg/model"
	"github.com/momcore/merge-o-matic/pkg/report"
)

// retainedResults are the report outcomes whose base version is trusted
// enough to drive expiry; any other result (NO_BASE, FAILED, UNKNOWN)
// leaves the pool untouched for that package.
var retainedResults = map[report.Result]bool{
	report.SyncTheirs: true,
	report.KeepOurs:   true,
	report.Merged:     true,
	report.Conflicts:  true,
}

// PoolDirsFunc resolves every pool directory holding packageName's
// source files in distro — typically one per component — since
// pkg/model has no distro-wide component listing of its own.
type PoolDirsFunc func(ctx context.Context, distro model.Distro, packageName string) ([]model.PoolDirectory, error)

// ReportDirFunc returns the output directory a package's merge report
// lives in, for one target.
type ReportDirFunc func(packageName string) string

// Options filters which packages a sweep considers.
type Options struct {
	Packages []string // --package, repeatable; nil means "all"
}

func (o Options) wanted(name string) bool {
	if len(o.Packages) == 0 {
		return true
	}
	for _, p := range o.Packages {
		if p == name {
			return true
		}
	}
	return false
}

// Sweep expires pool sources across expireDistros, driven by target's
// packages and their merge reports.
func Sweep(ctx context.Context, target model.Target, expireDistros []model.Distro, reportDir ReportDirFunc, poolDirs PoolDirsFunc, opts Options, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	d := target.Distro()
	packages, err := d.Packages(ctx, target.Dist(), target.Component())
	if err != nil {
		return errors.Wrapf(err, "listing packages for %s/%s", target.Dist(), target.Component())
	}

	for _, pkg := range packages {
		if !opts.wanted(pkg.Name()) {
			continue
		}

		r, err := report.Read(reportDir(pkg.Name()))
		if err != nil {
			logger.Printf("skipping package %s: unable to read merge report", pkg.Name())
			continue
		}
		if !retainedResults[r.Result] {
			logger.Printf("skipping expiry for package %s: result=%s", pkg.Name(), r.Result)
			continue
		}
		if r.Base.Version == "" {
			logger.Printf("skipping expiry for package %s: no base version found (result=%s)", pkg.Name(), r.Result)
			continue
		}
		base, err := debversion.Parse(r.Base.Version)
		if err != nil {
			logger.Printf("skipping expiry for package %s: unparsable base version %q", pkg.Name(), r.Base.Version)
			continue
		}

		for _, distro := range expireDistros {
			dirs, err := poolDirs(ctx, distro, pkg.Name())
			if err != nil {
				logger.Printf("unable to resolve pool directories for %s in %s: %v", pkg.Name(), distro.Name(), err)
				continue
			}
			for _, dir := range dirs {
				if err := ExpireSources(ctx, dir, base); err != nil {
					logger.Printf("expiring %s in %s: %v", pkg.Name(), dir.Path(), err)
				}
			}
		}
	}
	return nil
}

// ExpireSources removes every stanza in pool strictly older than base,
// except the single newest stanza older than base when no stanza
// exactly matches it; files still referenced by a kept stanza are never
// removed.
func ExpireSources(ctx context.Context, pool model.PoolDirectory, base debversion.Version) error {
	sources, err := pool.GetSourceStanzas(ctx)
	if err != nil {
		return errors.Wrapf(err, "reading Sources for %s", pool.Path())
	}

	var bases, keep []control.ControlStanza
	baseFound := false
	for _, s := range sources {
		v, err := debversion.Parse(s.Get("Version"))
		if err != nil {
			keep = append(keep, s) // can't judge age; never delete what we can't parse
			continue
		}
		switch {
		case debversion.Less(v, base):
			bases = append(bases, s)
		case debversion.Equal(v, base):
			baseFound = true
			keep = append(keep, s)
		default:
			keep = append(keep, s)
		}
	}

	if !baseFound && len(bases) > 0 {
		sort.Slice(bases, func(i, j int) bool {
			vi, _ := debversion.Parse(bases[i].Get("Version"))
			vj, _ := debversion.Parse(bases[j].Get("Version"))
			return debversion.Less(vi, vj)
		})
		newest := bases[len(bases)-1]
		bases = bases[:len(bases)-1]
		keep = append(keep, newest)
	}

	keepFiles := map[string]bool{}
	for _, s := range keep {
		entries, err := s.Files()
		if err != nil {
			continue
		}
		for _, e := range entries {
			keepFiles[e.Filename] = true
		}
	}

	needUpdate := false
	for _, s := range bases {
		entries, err := s.Files()
		if err != nil {
			continue
		}
		for _, e := range entries {
			if keepFiles[e.Filename] {
				continue
			}
			if err := pool.Remove(ctx, e.Filename); err != nil {
				return errors.Wrapf(err, "removing %s/%s", pool.Path(), e.Filename)
			}
			needUpdate = true
		}
	}

	if needUpdate {
		return pool.UpdateSources(ctx)
	}
	return nil
}
