// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package control provides parsing functions for debian control files:
// .dsc source control stanzas, Sources index stanzas, and the
// RFC-822-style field syntax they share.
// For more details, see https://www.debian.org/doc/debian-policy/ch-controlfields.html
package control

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ControlStanza is one RFC-822-style paragraph: field name to its value
// lines (the first line, plus any indented continuation lines).
type ControlStanza struct {
	Fields map[string][]string
}

// ControlFile is a sequence of stanzas, e.g. the paragraphs of a
// Sources index or the single paragraph of a .dsc.
type ControlFile struct {
	Stanzas []ControlStanza
}

// Get returns the field's first value line, or "" if absent.
func (s ControlStanza) Get(field string) string {
	v := s.Fields[field]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Has reports whether field is present in the stanza (even if empty).
func (s ControlStanza) Has(field string) bool {
	_, ok := s.Fields[field]
	return ok
}

// FileEntry is one line of a Files/Checksums-* field: a digest, a size
// in bytes, and the filename it describes.
type FileEntry struct {
	Digest   string
	Size     int64
	Filename string
}

// Files returns the (digest, size, filename) triples listed in the
// stanza's "Files" field (or, if absent, "Checksums-Sha256"), the
// multi-line field every .dsc and Sources stanza uses to enumerate its
// constituent source files.
func (s ControlStanza) Files() ([]FileEntry, error) {
	field := "Files"
	if !s.Has(field) {
		field = "Checksums-Sha256"
	}
	var out []FileEntry
	for _, line := range s.Fields[field] {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			return nil, errors.Errorf("malformed %s line: %q", field, line)
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing size in %s line %q", field, line)
		}
		out = append(out, FileEntry{Digest: parts[0], Size: size, Filename: parts[2]})
	}
	return out, nil
}

// BuildMetadataFields are the control fields spec §4.7 step 12 compares
// between left and merged source stanzas to determine
// build_metadata_changed.
var BuildMetadataFields = []string{
	"Binary", "Architecture", "Build-Depends", "Build-Depends-Indep",
	"Build-Conflicts", "Build-Conflicts-Indep",
}

// BuildMetadataChanged reports whether any BuildMetadataFields field was
// added, removed, or changed between left and right.
func BuildMetadataChanged(left, right ControlStanza) bool {
	for _, field := range BuildMetadataFields {
		l, lok := left.Fields[field]
		r, rok := right.Fields[field]
		if lok != rok {
			return true
		}
		if lok && rok && strings.Join(l, "\n") != strings.Join(r, "\n") {
			return true
		}
	}
	return false
}

// ParseFile opens and parses the control file at path.
func ParseFile(path string) (*ControlFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	cf, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cf, nil
}

// FirstStanza returns the file's sole (or first) stanza, as used by
// single-paragraph .dsc files.
func (c *ControlFile) FirstStanza() (ControlStanza, error) {
	if len(c.Stanzas) == 0 {
		return ControlStanza{}, fmt.Errorf("control file has no stanzas")
	}
	return c.Stanzas[0], nil
}

func Parse(r io.Reader) (*ControlFile, error) {
	b := bufio.NewScanner(r)
	if !b.Scan() {
		return nil, errors.New("failed to scan .dsc file")
	}
	// Skip PGP signature header, including its armor headers (e.g.
	// "Hash:") up to the blank line that ends them.
	if strings.HasPrefix(b.Text(), "-----BEGIN PGP SIGNED MESSAGE-----") {
		for b.Scan() && strings.TrimSpace(b.Text()) != "" {
		}
	}
	d := ControlFile{}
	stanza := ControlStanza{Fields: map[string][]string{}}
	var lastField string
	for {
		// Check for PGP signature footer.
		if strings.HasPrefix(b.Text(), "-----BEGIN PGP SIGNATURE-----") {
			break
		}
		line := b.Text()
		if strings.TrimSpace(line) == "" {
			// Handle empty lines as stanza separators.
			if len(stanza.Fields) > 0 {
				d.Stanzas = append(d.Stanzas, stanza)
				stanza = ControlStanza{Fields: map[string][]string{}}
				lastField = ""
			}
		} else if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			// Handle continuation lines.
			if lastField != "" {
				stanza.Fields[lastField] = append(stanza.Fields[lastField], strings.TrimSpace(line))
			} else {
				return nil, errors.Errorf("unexpected continuation line")
			}
		} else {
			// Handle new field.
			field, value, found := strings.Cut(line, ":")
			if !found {
				return nil, errors.Errorf("expected new field: %v", line)
			}
			if _, ok := stanza.Fields[field]; ok {
				return nil, errors.Errorf("duplicate field in stanza: %s", field)
			}
			stanza.Fields[field] = []string{}
			// Skip empty first lines (start of a multiline field).
			if strings.TrimSpace(value) != "" {
				stanza.Fields[field] = []string{strings.TrimSpace(value)}
			}
			lastField = field
		}
		if !b.Scan() {
			break
		}
	}
	// Add the final stanza if it's not empty.
	if len(stanza.Fields) > 0 {
		d.Stanzas = append(d.Stanzas, stanza)
	}

	return &d, nil
}
