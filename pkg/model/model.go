// Package model declares the distro/package/pool collaborator
// interfaces the merger consumes (spec §6). Concrete catalog and pool
// backends — archive mirrors, local caches, whatever a deployment
// fronts its Sources files with — implement these against their own
// storage; the orchestrator only ever sees this package's types.
package model

import (
	"context"

	"github.com/pkg/errors"

	"github.com/momcore/merge-o-matic/internal/control"
	"github.com/momcore/merge-o-matic/internal/debversion"
)

// ErrPackageNotFound is returned by Distro.FindPackage when no package
// by that name exists in the searched distribution/suite.
var ErrPackageNotFound = errors.New("package not found")

// Distro is a Debian-family distribution: Debian, Ubuntu, or a
// downstream derivative, each with its own suites and component
// layout.
type Distro interface {
	// Name is the distro's short identifier, e.g. "ubuntu".
	Name() string
	// Packages lists every source package in dist/component.
	Packages(ctx context.Context, dist, component string) ([]Package, error)
	// FindPackage looks up name in searchDist, optionally constrained to
	// an exact version; it returns every matching PackageVersion (there
	// may be more than one across components) or ErrPackageNotFound.
	FindPackage(ctx context.Context, name, searchDist string, version *debversion.Version) ([]PackageVersion, error)
}

// Package is a source package within one Distro.
type Package interface {
	Name() string
	Distro() Distro
	// NewestVersion returns the package's highest-ordered version.
	NewestVersion(ctx context.Context) (PackageVersion, error)
	// PoolDirectory is the on-disk pool location holding this package's
	// versioned source files.
	PoolDirectory() PoolDirectory
}

// PackageVersion is an immutable (package identity, version,
// source-stanza handle) triple, per spec §3.
type PackageVersion interface {
	Package() Package
	Version() debversion.Version
	Component() string
	// Stanza is the parsed .dsc/Sources paragraph describing this
	// version: Binary, Architecture, Build-Depends and friends, plus
	// the Files/Checksums-* field Files() reads.
	Stanza() control.ControlStanza
}

// Files extracts the (digest, size, filename) triples a PackageVersion's
// stanza lists, per spec §3's PackageVersion definition.
func Files(pv PackageVersion) ([]control.FileEntry, error) {
	return pv.Stanza().Files()
}

// PoolDirectory is the on-disk hierarchy holding one package's
// versioned source files plus a Sources index, per spec §4.8/§6.
type PoolDirectory interface {
	// Path is the pool directory's location relative to ROOT.
	Path() string
	// GetSourceStanzas returns every version stanza currently listed in
	// this pool directory's Sources index.
	GetSourceStanzas(ctx context.Context) ([]control.ControlStanza, error)
	// UpdateSources regenerates the Sources index after files have been
	// added or removed.
	UpdateSources(ctx context.Context) error
	// Remove deletes a file from the pool directory by name.
	Remove(ctx context.Context, filename string) error
}

// Source is one upstream source list entry: a distro to search, and
// the suite within it.
type Source struct {
	Distro Distro
	Dist   string
}

// Target is a configured merge target: one of our distributions
// pointed at a set of upstream source lists to merge from.
type Target interface {
	Name() string
	Distro() Distro
	Dist() string
	Component() string
	// GetSourceLists returns, for package name, the ordered groups of
	// upstream Sources to search for the package; each inner slice is
	// searched in order, the best (highest-versioned) match across all
	// groups wins.
	GetSourceLists(ctx context.Context, name string) ([][]Source, error)
	// FetchMissingVersion ensures pkg's version's source files are
	// present locally (e.g. downloaded into the pool) before an unpack
	// is attempted. Idempotent.
	FetchMissingVersion(ctx context.Context, pkg Package, version debversion.Version) error
	// Blacklist names packages this target never processes.
	Blacklist() map[string]bool
}
