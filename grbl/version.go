package grbl

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var welcomeRegexp = regexp.MustCompile(`Grbl (?P<grbl>.+?)(_(?P<git>[0-9a-f]{7})(?P<dirty>-dirty)?)? \[.+\]`)

// Version identifies a firmware build, as announced by the welcome banner
// "Grbl 0.9g_a1b2c3d-dirty ['$' for help]".
type Version struct {
	Grbl  string `yaml:"grbl"`
	Git   string `yaml:"git,omitempty"`
	Dirty bool   `yaml:"dirty,omitempty"`
}

// ParseWelcome extracts the version from a welcome banner. ok is false when line is not one.
func ParseWelcome(line string) (version Version, ok bool) {
	m := welcomeRegexp.FindStringSubmatch(line)
	if m == nil {
		return Version{}, false
	}
	return Version{
		Grbl:  m[welcomeRegexp.SubexpIndex("grbl")],
		Git:   m[welcomeRegexp.SubexpIndex("git")],
		Dirty: m[welcomeRegexp.SubexpIndex("dirty")] != "",
	}, true
}

// String gives the comparison key "<grbl>[_<git>][-dirty]".
func (v Version) String() string {
	s := v.Grbl
	if v.Git != "" {
		s += "_" + v.Git
	}
	if v.Dirty {
		s += "-dirty"
	}
	return s
}

// VersionRecord is what is persisted about the last seen firmware.
type VersionRecord struct {
	Version     `yaml:",inline"`
	LastConnect time.Time `yaml:"lastConnect"`
}

// WriteVersionRecord persists the version seen at lastConnect to path, as YAML.
func WriteVersionRecord(path string, version Version, lastConnect time.Time) error {
	data, err := yaml.Marshal(VersionRecord{Version: version, LastConnect: lastConnect})
	if err != nil {
		return fmt.Errorf("grbl: version record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("grbl: version record: %w", err)
	}
	return nil
}

// ReadVersion loads a Version from a YAML file, either a VersionRecord or a bare requirement such as
//
//	grbl: 0.9g
//	git: a1b2c3d
//	dirty: false
func ReadVersion(path string) (Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Version{}, fmt.Errorf("grbl: read version: %w", err)
	}
	var record VersionRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return Version{}, fmt.Errorf("grbl: read version: %s: %w", path, err)
	}
	if record.Grbl == "" {
		return Version{}, fmt.Errorf("grbl: read version: %s: missing grbl key", path)
	}
	return record.Version, nil
}
