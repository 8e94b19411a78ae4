// Package ancestor finds the newest common ancestor version between a
// downstream (left) and upstream (right) package changelog, per spec
// §4.6: a Version both changelogs agree existed, whose source is still
// obtainable and unpackable somewhere in the target's catalog.
package ancestor

import (
	"context"
	"sort"

	"github.com/momcore/merge-o-matic/internal/changelog"
	"github.com/momcore/merge-o-matic/internal/debversion"
	"github.com/momcore/merge-o-matic/pkg/model"
)

// Unpacker materializes a PackageVersion's source files into a local
// directory, returning its path.
type Unpacker func(ctx context.Context, pv model.PackageVersion) (dir string, err error)

// Result is a successfully located common ancestor.
type Result struct {
	Version     model.PackageVersion
	Dir         string
	TriedBases  []debversion.Version // versions that matched textually but failed to materialize, descending
}

// ErrNoBase is returned when no changelog entry common to both sides
// could be materialized.
var ErrNoBase = errNoBase{}

type errNoBase struct{}

func (errNoBase) Error() string { return "no common ancestor version could be materialized" }

// Find walks leftChangelog newest-to-oldest; for each entry whose
// version also appears in rightChangelog, it searches packageName in
// the target distro first and then every source list target returns,
// fetching and unpacking the first catalog hit it finds. The first
// version that both resolves to a catalog entry and unpacks
// successfully is the base.
func Find(ctx context.Context, target model.Target, packageName string, leftChangelog, rightChangelog []changelog.Entry, unpack Unpacker) (*Result, error) {
	rightVersions := map[string]bool{}
	for _, e := range rightChangelog {
		if e.Version != nil {
			rightVersions[e.Version.String()] = true
		}
	}

	var tried []debversion.Version
	for _, left := range leftChangelog {
		if left.Version == nil {
			continue
		}
		if !rightVersions[left.Version.String()] {
			continue
		}

		pv, err := resolve(ctx, target, packageName, *left.Version)
		if err != nil {
			tried = append(tried, *left.Version)
			continue
		}
		dir, err := unpack(ctx, pv)
		if err != nil {
			tried = append(tried, *left.Version)
			continue
		}
		sort.Slice(tried, func(i, j int) bool { return debversion.Less(tried[j], tried[i]) })
		return &Result{Version: pv, Dir: dir, TriedBases: tried}, nil
	}
	return nil, ErrNoBase
}

// resolve looks up packageName at the given version: first in
// target's own distro, then across every configured upstream source
// list, fetching missing files as needed.
func resolve(ctx context.Context, target model.Target, packageName string, version debversion.Version) (model.PackageVersion, error) {
	if pv, err := findAndFetch(ctx, target, target.Distro(), target.Dist(), packageName, version); err == nil {
		return pv, nil
	}

	lists, err := target.GetSourceLists(ctx, packageName)
	if err != nil {
		return nil, err
	}
	for _, list := range lists {
		for _, src := range list {
			if pv, err := findAndFetch(ctx, target, src.Distro, src.Dist, packageName, version); err == nil {
				return pv, nil
			}
		}
	}
	return nil, model.ErrPackageNotFound
}

func findAndFetch(ctx context.Context, target model.Target, distro model.Distro, dist, packageName string, version debversion.Version) (model.PackageVersion, error) {
	matches, err := distro.FindPackage(ctx, packageName, dist, &version)
	if err != nil {
		return nil, err
	}
	pv := matches[0]
	if err := target.FetchMissingVersion(ctx, pv.Package(), version); err != nil {
		return nil, err
	}
	return pv, nil
}
