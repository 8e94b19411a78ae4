// Package modeltest provides in-memory model.Distro/Target/PoolDirectory
// fakes for tests that drive the orchestrator and ancestor finder
// without a real archive mirror.
package modeltest

import (
	"context"
	"sort"

	"github.com/momcore/merge-o-matic/internal/control"
	"github.com/momcore/merge-o-matic/internal/debversion"
	"github.com/momcore/merge-o-matic/pkg/model"
)

// Distro is an in-memory model.Distro backed by a map of pre-loaded
// versions.
type Distro struct {
	DistroName string
	// Versions maps "dist/component/package" to its available versions,
	// newest-first is not required; FindPackage/Packages sort as needed.
	Versions map[string][]*PackageVersion

	NotFoundErr error // if set, FindPackage always returns this instead of model.ErrPackageNotFound
}

func NewDistro(name string) *Distro {
	return &Distro{DistroName: name, Versions: map[string][]*PackageVersion{}}
}

func (d *Distro) Name() string { return d.DistroName }

// Add registers a version of name in dist/component, and returns it so
// callers can configure its Stanza.
func (d *Distro) Add(dist, component, name, version string) *PackageVersion {
	key := dist + "/" + component + "/" + name
	pv := &PackageVersion{
		distro:    d,
		pkgName:   name,
		version:   debversion.MustParse(version),
		component: component,
		stanza:    control.ControlStanza{Fields: map[string][]string{}},
	}
	d.Versions[key] = append(d.Versions[key], pv)
	return pv
}

func (d *Distro) Packages(ctx context.Context, dist, component string) ([]model.Package, error) {
	seen := map[string]bool{}
	var out []model.Package
	for key := range d.Versions {
		if !hasPrefix(key, dist+"/"+component+"/") {
			continue
		}
		name := key[len(dist+"/"+component+"/"):]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, &Package{distro: d, name: name, dist: dist, component: component})
	}
	return out, nil
}

func (d *Distro) FindPackage(ctx context.Context, name, searchDist string, version *debversion.Version) ([]model.PackageVersion, error) {
	var out []model.PackageVersion
	for key, versions := range d.Versions {
		if !hasPrefix(key, searchDist+"/") || !hasSuffix(key, "/"+name) {
			continue
		}
		for _, pv := range versions {
			if version != nil && !debversion.Equal(pv.version, *version) {
				continue
			}
			out = append(out, pv)
		}
	}
	if len(out) == 0 {
		if d.NotFoundErr != nil {
			return nil, d.NotFoundErr
		}
		return nil, model.ErrPackageNotFound
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool { return len(s) >= len(prefix) && s[:len(prefix)] == prefix }
func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// Package is an in-memory model.Package.
type Package struct {
	distro    *Distro
	name      string
	dist      string
	component string
	pool      *PoolDirectory
}

func (p *Package) Name() string       { return p.name }
func (p *Package) Distro() model.Distro { return p.distro }

func (p *Package) NewestVersion(ctx context.Context) (model.PackageVersion, error) {
	versions, err := p.distro.FindPackage(ctx, p.name, p.dist, nil)
	if err != nil {
		return nil, err
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if debversion.Less(best.Version(), v.Version()) {
			best = v
		}
	}
	return best, nil
}

func (p *Package) PoolDirectory() model.PoolDirectory {
	if p.pool == nil {
		p.pool = &PoolDirectory{PathVal: "pool/" + p.distro.Name() + "/" + p.component + "/" + p.name}
	}
	return p.pool
}

// PackageVersion is an in-memory model.PackageVersion.
type PackageVersion struct {
	distro    *Distro
	pkgName   string
	version   debversion.Version
	component string
	stanza    control.ControlStanza
}

func (pv *PackageVersion) Package() model.Package {
	return &Package{distro: pv.distro, name: pv.pkgName, component: pv.component}
}
func (pv *PackageVersion) Version() debversion.Version    { return pv.version }
func (pv *PackageVersion) Component() string              { return pv.component }
func (pv *PackageVersion) Stanza() control.ControlStanza   { return pv.stanza }

// SetFiles configures the stanza's Files field from (digest, size, name)
// triples, for tests exercising PackageVersion.Files().
func (pv *PackageVersion) SetFiles(entries []control.FileEntry) {
	var lines []string
	for _, e := range entries {
		lines = append(lines, e.Digest+" "+itoa(e.Size)+" "+e.Filename)
	}
	pv.stanza.Fields["Files"] = lines
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// PoolDirectory is an in-memory model.PoolDirectory.
type PoolDirectory struct {
	PathVal  string
	Stanzas  []control.ControlStanza
	Removed  []string
	Updated  int
}

func (p *PoolDirectory) Path() string { return p.PathVal }

func (p *PoolDirectory) GetSourceStanzas(ctx context.Context) ([]control.ControlStanza, error) {
	out := make([]control.ControlStanza, len(p.Stanzas))
	copy(out, p.Stanzas)
	return out, nil
}

func (p *PoolDirectory) UpdateSources(ctx context.Context) error {
	p.Updated++
	return nil
}

func (p *PoolDirectory) Remove(ctx context.Context, filename string) error {
	p.Removed = append(p.Removed, filename)
	return nil
}

// Target is an in-memory model.Target.
type Target struct {
	TargetName  string
	TargetDistro *Distro
	TargetDist  string
	Component_  string
	Sources     [][]model.Source
	Fetched     []string
	BlacklistM  map[string]bool
}

func (t *Target) Name() string             { return t.TargetName }
func (t *Target) Distro() model.Distro     { return t.TargetDistro }
func (t *Target) Dist() string             { return t.TargetDist }
func (t *Target) Component() string        { return t.Component_ }

func (t *Target) GetSourceLists(ctx context.Context, name string) ([][]model.Source, error) {
	return t.Sources, nil
}

func (t *Target) FetchMissingVersion(ctx context.Context, pkg model.Package, version debversion.Version) error {
	t.Fetched = append(t.Fetched, pkg.Name()+"="+version.String())
	return nil
}

func (t *Target) Blacklist() map[string]bool {
	if t.BlacklistM == nil {
		return map[string]bool{}
	}
	return t.BlacklistM
}

// SortedVersions returns name's versions across dist/component in
// ascending Debian order, a convenience for assertions.
func SortedVersions(d *Distro, dist, component, name string) []*PackageVersion {
	key := dist + "/" + component + "/" + name
	out := append([]*PackageVersion{}, d.Versions[key]...)
	sort.Slice(out, func(i, j int) bool { return debversion.Less(out[i].version, out[j].version) })
	return out
}
