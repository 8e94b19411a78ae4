// Package report implements MergeReport, the per-package merge outcome
// record of spec §3/§4.7: authoritative JSON, written atomically via
// tmp-file + rename, plus a read-only legacy text format for the
// plain-text REPORT files the Python original produced (grounded on
// original_source/merge_report.py's read_report/_read_report_text and
// produce_merges.py's write_report).
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Result is the tagged outcome of a per-package merge attempt. It
// marshals to and from its upper-case string form in JSON.
type Result string

const (
	Unknown     Result = "UNKNOWN"
	NoBase      Result = "NO_BASE"
	SyncTheirs  Result = "SYNC_THEIRS"
	KeepOurs    Result = "KEEP_OURS"
	Failed      Result = "FAILED"
	Merged      Result = "MERGED"
	Conflicts   Result = "CONFLICTS"
)

// VersionFiles is one side's (or the base's) version and the pool
// filenames that belong to it.
type VersionFiles struct {
	Distro    string   `json:"distro,omitempty"`
	Component string   `json:"component,omitempty"`
	Version   string   `json:"version,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// MergeReport is the structured record spec §3 calls "MergeReport":
// everything needed to understand, or resume, one package's merge
// attempt.
type MergeReport struct {
	SourcePackage string `json:"source_package"`
	MergeDate     string `json:"merge_date"`
	Result        Result `json:"result"`

	Left  VersionFiles `json:"left"`
	Right VersionFiles `json:"right"`
	Base  VersionFiles `json:"base"`

	LeftPatch  string `json:"left_patch,omitempty"`
	RightPatch string `json:"right_patch,omitempty"`

	MergedPatch   string   `json:"merged_patch,omitempty"`
	MergedVersion string   `json:"merged_version,omitempty"`
	MergedFiles   []string `json:"merged_files,omitempty"`
	MergedDir     string   `json:"merged_dir,omitempty"`

	MergeFailureTarball string `json:"merge_failure_tarball,omitempty"`

	BasesNotFound []string `json:"bases_not_found,omitempty"`
	Conflicts     []string `json:"conflicts,omitempty"`

	BuildMetadataChanged bool   `json:"build_metadata_changed"`
	Genchanges           string `json:"genchanges,omitempty"`
	Committed             bool   `json:"committed"`
	Message               string `json:"message,omitempty"`
}

// filename is the basename the authoritative JSON report is written and
// read under, relative to a package's output directory.
const filename = "REPORT.json"

// legacyFilename is the old plain-text report's basename, read-only.
const legacyFilename = "REPORT"

// Write serializes r as JSON to <dir>/REPORT.json, atomically: it writes
// to a sibling tmp file in the same directory and renames it into place,
// so a reader never observes a partially written report.
func Write(dir string, r *MergeReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling report")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".REPORT.json.*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp report file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing temp report file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp report file")
	}
	if err := os.Rename(tmpName, filepath.Join(dir, filename)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "renaming report into place")
	}
	return nil
}

// Read loads dir's report, preferring REPORT.json; if only the legacy
// plain-text REPORT exists, it is parsed via ReadLegacyText instead.
func Read(dir string) (*MergeReport, error) {
	jsonPath := filepath.Join(dir, filename)
	if _, err := os.Stat(jsonPath); err == nil {
		data, err := os.ReadFile(jsonPath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", jsonPath)
		}
		var r MergeReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", jsonPath)
		}
		return &r, nil
	}

	legacyPath := filepath.Join(dir, legacyFilename)
	if _, err := os.Stat(legacyPath); err == nil {
		return ReadLegacyText(legacyPath)
	}

	return nil, errors.Errorf("no report exists in %s", dir)
}

// ReadLegacyText parses an old-style semi-human-readable REPORT file,
// per merge_report.py's _read_report_text. It recovers only the fields
// that format actually recorded; callers should treat the result as
// best-effort.
func ReadLegacyText(path string) (*MergeReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return nil, errors.Errorf("%s is empty", path)
	}

	r := &MergeReport{
		SourcePackage:        strings.TrimSpace(lines[0]),
		BuildMetadataChanged: true,
	}

	inList := ""
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "    ") {
			name := strings.TrimSpace(line)
			switch inList {
			case "base":
				r.Base.Files = append(r.Base.Files, name)
			case "left":
				r.Left.Files = append(r.Left.Files, name)
			case "right":
				r.Right.Files = append(r.Right.Files, name)
			case "merged":
				r.MergedFiles = append(r.MergedFiles, name)
			}
			continue
		}
		inList = ""

		switch {
		case strings.HasPrefix(line, "base:"):
			r.Base.Version = strings.TrimSpace(line[len("base:"):])
			inList = "base"
		case strings.HasPrefix(line, "our distro "):
			if distro, version, ok := parseDistroLine(line, "our distro "); ok {
				r.Left.Distro, r.Left.Version = distro, version
				inList = "left"
			}
		case strings.HasPrefix(line, "source distro "):
			if distro, version, ok := parseDistroLine(line, "source distro "); ok {
				r.Right.Distro, r.Right.Version = distro, version
				inList = "right"
			}
		case strings.HasPrefix(line, "generated:"):
			r.MergedVersion = strings.TrimSpace(line[len("generated:"):])
			inList = "merged"
		case strings.HasPrefix(line, "Merged without changes: YES"):
			r.Result = SyncTheirs
		case strings.HasPrefix(line, "Build-time metadata changed: NO"):
			r.BuildMetadataChanged = false
		case strings.HasPrefix(line, "Merge committed: YES"):
			r.Committed = true
		}
	}

	if r.SourcePackage == "" || r.Left.Version == "" || r.Right.Version == "" ||
		r.Left.Distro == "" || r.Right.Distro == "" {
		return nil, errors.Errorf("%s: insufficient detail in legacy report", path)
	}
	if r.Result == "" {
		if len(r.Conflicts) > 0 {
			r.Result = Conflicts
		} else {
			r.Result = Merged
		}
	}
	return r, nil
}

// parseDistroLine extracts the "(distro): version" suffix from a line
// like "our distro (ubuntu): 1.2-3ubuntu1".
func parseDistroLine(line, prefix string) (distro, version string, ok bool) {
	rest := line[len(prefix):]
	open := strings.IndexByte(rest, '(')
	closeParen := strings.IndexByte(rest, ')')
	if open != 0 || closeParen < 0 {
		return "", "", false
	}
	distro = rest[open+1 : closeParen]
	remainder := rest[closeParen+1:]
	if !strings.HasPrefix(remainder, ": ") {
		return "", "", false
	}
	return distro, strings.TrimSpace(remainder[2:]), true
}
