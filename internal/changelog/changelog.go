// Package changelog parses Debian changelog files into ordered entries
// and knits a left (downstream) and right (upstream) sequence together
// per spec §4.2 and §4.4.
package changelog

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/momcore/merge-o-matic/internal/debversion"
)

// headerRE matches a changelog entry's top line, e.g.
// "foo (1.2-3) unstable; urgency=low".
var headerRE = regexp.MustCompile(`(?i)^(\w[-+0-9a-z.]*) \(([^()\s]+)\)((\s+[-0-9a-z]+)+);`)

// Entry is a single changelog entry: its parsed version (nil if the
// header failed to parse, matching spec §4.2's "left null but body still
// accumulated") and the full entry text including the trailing newline.
type Entry struct {
	Version *debversion.Version
	Text    string
}

// Parse splits changelog text into ordered entries, newest first, as
// Debian changelogs are conventionally written.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	var text strings.Builder
	var version *debversion.Version
	open := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		switch {
		case headerRE.MatchString(line):
			m := headerRE.FindStringSubmatch(line)
			if v, err := debversion.Parse(m[2]); err == nil {
				version = &v
			} else {
				version = nil
			}
			text.WriteString(line)
			open = true
		case strings.HasPrefix(line, " -- "):
			text.WriteString(line)
			entries = append(entries, Entry{Version: version, Text: text.String()})
			text.Reset()
			version = nil
			open = false
		case strings.TrimSpace(line) != "" || open:
			text.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning changelog")
	}
	if text.Len() > 0 {
		entries = append(entries, Entry{Version: version, Text: text.String()})
	}
	return entries, nil
}

// ParseString is a convenience wrapper around Parse for in-memory text.
func ParseString(s string) ([]Entry, error) {
	return Parse(strings.NewReader(s))
}

// Knit merges a left (downstream) and right (upstream) changelog
// sequence per spec §4.4: scanning right top-to-bottom, emit pending
// left entries newer than the current right entry, skip left entries
// equal to it (right supersedes), emit the right entry, then append any
// left entries left over once right is exhausted.
//
// Entries whose Version is nil are never skipped by a right entry (nil
// never compares equal to anything) and are emitted in their original
// relative order once reached.
func Knit(left, right []Entry) []Entry {
	var out []Entry
	li := 0
	popLeft := func() Entry {
		e := left[li]
		li++
		return e
	}
	for _, r := range right {
		for li < len(left) && left[li].Version != nil && r.Version != nil &&
			debversion.Compare(*left[li].Version, *r.Version) > 0 {
			out = append(out, popLeft())
		}
		for li < len(left) && left[li].Version != nil && r.Version != nil &&
			debversion.Compare(*left[li].Version, *r.Version) == 0 {
			li++ // right supersedes; drop
		}
		out = append(out, r)
	}
	for li < len(left) {
		out = append(out, popLeft())
	}
	return out
}

// Write renders entries back into changelog text, in order.
func Write(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if _, err := io.WriteString(w, e.Text); err != nil {
			return errors.Wrap(err, "writing changelog entry")
		}
	}
	return nil
}
