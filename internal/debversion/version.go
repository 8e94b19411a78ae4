// Package debversion implements Debian version parsing, comparison, and
// the vendor-suffix "base" derivation used to find common ancestors
// between a downstream distribution and its upstream.
package debversion

import (
	"cmp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// cmpTable is the ordering table for upstream/revision characters. "~"
// is handled specially (it sorts below everything, including the empty
// string) rather than appearing in the table.
const cmpTable = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz+-.:"

// Version is a parsed Debian version: [epoch ':'] upstream ['-' revision].
type Version struct {
	HasEpoch bool
	Epoch    int
	Upstream string
	// HasRevision distinguishes a version with no revision from one with
	// an empty revision (the latter is invalid and never constructed).
	HasRevision bool
	Revision    string
}

func isEpochChar(r rune) bool  { return r >= '0' && r <= '9' }
func isUpstreamChar(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' ||
		r == '+' || r == ':' || r == '.' || r == '~' || r == '-'
}
func isRevisionChar(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' ||
		r == '+' || r == '.' || r == '~'
}

// Parse parses a Debian version string.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, errors.New("empty version string")
	}
	var v Version
	rest := s
	if idx := strings.IndexByte(rest, ':'); idx != -1 {
		epochStr := rest[:idx]
		if epochStr == "" {
			return Version{}, errors.Errorf("%s: empty epoch", s)
		}
		for _, r := range epochStr {
			if !isEpochChar(r) {
				return Version{}, errors.Errorf("%s: invalid epoch %q", s, epochStr)
			}
		}
		epoch, err := strconv.Atoi(epochStr)
		if err != nil {
			return Version{}, errors.Wrapf(err, "%s: invalid epoch", s)
		}
		v.HasEpoch = true
		v.Epoch = epoch
		rest = rest[idx+1:]
	}
	if idx := strings.LastIndexByte(rest, '-'); idx != -1 {
		revision := rest[idx+1:]
		if revision == "" {
			return Version{}, errors.Errorf("%s: empty revision", s)
		}
		for _, r := range revision {
			if !isRevisionChar(r) {
				return Version{}, errors.Errorf("%s: invalid revision %q", s, revision)
			}
		}
		v.HasRevision = true
		v.Revision = revision
		rest = rest[:idx]
	}
	if rest == "" {
		return Version{}, errors.Errorf("%s: empty upstream version", s)
	}
	for _, r := range rest {
		if !isUpstreamChar(r) {
			return Version{}, errors.Errorf("%s is not a valid upstream version", rest)
		}
	}
	v.Upstream = rest
	return v, nil
}

// MustParse parses s, panicking on error. Intended for tests and
// compile-time constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version in canonical form. parse(v.String()) always
// round-trips to an equal Version.
func (v Version) String() string {
	var b strings.Builder
	if v.HasEpoch {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.HasRevision {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// WithoutEpoch returns the version string with any epoch stripped.
func (v Version) WithoutEpoch() string {
	s := v.Upstream
	if v.HasRevision {
		s += "-" + v.Revision
	}
	return s
}

func (v Version) epoch() int {
	return v.Epoch // HasEpoch false implies Epoch == 0, equivalent to Debian's "epoch defaults to 0"
}

func (v Version) revision() string {
	return v.Revision
}

// Compare implements Debian version ordering: epoch, then upstream, then
// revision, each compared with compareDeb.
func Compare(a, b Version) int {
	if r := cmp.Compare(a.epoch(), b.epoch()); r != 0 {
		return r
	}
	if r := compareDeb(a.Upstream, b.Upstream); r != 0 {
		return r
	}
	return compareDeb(a.revision(), b.revision())
}

// Less reports whether a sorts strictly before b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b compare equal under Debian ordering (not
// necessarily identical in string form, e.g. differing explicit epoch 0).
func Equal(a, b Version) bool { return Compare(a, b) == 0 }

// order returns the comparison order of the character at idx in s, or 0
// past the end of the string. "~" sorts below everything, including
// end-of-string.
func order(s string, idx int) int {
	if idx >= len(s) {
		return 0
	}
	c := s[idx]
	if c == '~' {
		return -1
	}
	return strings.IndexByte(cmpTable, c) + 1
}

// compareAlpha compares two non-digit runs per Debian policy.
func compareAlpha(x, y string) int {
	n := max(len(x), len(y))
	for i := 0; i < n; i++ {
		if r := order(x, i) - order(y, i); r != 0 {
			return cmp.Compare(r, 0)
		}
	}
	return 0
}

// cutRun returns the maximal prefix of s starting at idx whose runes are
// all digits (if digits is true) or all non-digits (if digits is false),
// and the index immediately after it.
func cutRun(s string, idx int, digits bool) (string, int) {
	start := idx
	for idx < len(s) {
		isDigit := s[idx] >= '0' && s[idx] <= '9'
		if isDigit != digits {
			break
		}
		idx++
	}
	return s[start:idx], idx
}

// compareDeb implements the alternating alpha/digit comparison Debian
// policy specifies for upstream and revision components.
func compareDeb(x, y string) int {
	xi, yi := 0, 0
	for xi < len(x) || yi < len(y) {
		var xs, ys string
		xs, xi = cutRun(x, xi, false)
		ys, yi = cutRun(y, yi, false)
		if r := compareAlpha(xs, ys); r != 0 {
			return r
		}
		xs, xi = cutRun(x, xi, true)
		ys, yi = cutRun(y, yi, true)
		xn, yn := parseDigits(xs), parseDigits(ys)
		if r := cmp.Compare(xn, yn); r != 0 {
			return r
		}
	}
	return 0
}

func parseDigits(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// suffixes stripped by Base, in fixed, order-sensitive precedence.
type suffix struct {
	token string
	// configured is true for the caller-supplied LOCAL_SUFFIX, which may
	// be empty (meaning "no local suffix configured").
	configured bool
}

// Base computes version.base(slip) per spec §3: strip, in order, a
// trailing "build<digits/dots>", then "<localSuffix><digits/dots>" (if
// localSuffix is non-empty), then "co<...>", then "ubuntu<...>". If the
// result ends in a bare "-", append "0"; if slip and the result ends in
// "-0", bump to "-1".
func Base(v Version, localSuffix string, slip bool) (Version, error) {
	s := v.String()
	s = stripSuffix(s, "build")
	if localSuffix != "" {
		s = stripSuffix(s, localSuffix)
	}
	s = stripSuffix(s, "co")
	s = stripSuffix(s, "ubuntu")
	if strings.HasSuffix(s, "-") {
		s += "0"
	}
	if slip && strings.HasSuffix(s, "-0") {
		s = s[:len(s)-2] + "-1"
	}
	return Parse(s)
}

// stripSuffix removes the last occurrence of token from text, but only
// when everything following that occurrence is digits and/or dots.
func stripSuffix(text, token string) string {
	idx := strings.LastIndex(text, token)
	if idx == -1 {
		return text
	}
	for _, r := range text[idx+len(token):] {
		if !(r >= '0' && r <= '9' || r == '.') {
			return text
		}
	}
	return text[:idx]
}
