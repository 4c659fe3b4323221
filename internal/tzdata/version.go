// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"fmt"
	"strings"
)

const (
	// ArchivePrefix is the fixed prefix of every tzdata archive file name.
	ArchivePrefix = "tzdata"

	// ArchiveSuffix is the extension of every tzdata archive file name.
	ArchiveSuffix = ".tar.gz"
)

// defaultMembers is the allow-list of archive members extracted into a
// snapshot. It does not vary by version.
var defaultMembers = []string{
	"africa",
	"antarctica",
	"asia",
	"australasia",
	"backward",
	"etcetera",
	"europe",
	"northamerica",
	"southamerica",
	"iso3166.tab",
	"zone1970.tab",
}

// DefaultMembers returns a copy of the archive members extracted into every
// snapshot.
func DefaultMembers() []string {
	out := make([]string, len(defaultMembers))
	copy(out, defaultMembers)
	return out
}

// NormalizeVersion trims surrounding whitespace, the "tzdata" prefix and the
// ".tar.gz" suffix from raw. "tzdata2023d.tar.gz\n" and " 2023d " both
// normalize to "2023d".
func NormalizeVersion(raw string) string {
	v := strings.TrimSpace(raw)
	v = strings.TrimSuffix(v, ArchiveSuffix)
	v = strings.TrimPrefix(v, ArchivePrefix)
	return strings.TrimSpace(v)
}

// ValidateVersion reports whether v can safely name a snapshot directory.
// Versions come from the network, so anything that is not a single visible
// path element is rejected.
func ValidateVersion(v string) error {
	switch {
	case v == "":
		return fmt.Errorf("%w: empty version", ErrInvalidVersion)
	case v == "." || v == "..":
		return fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	case strings.HasPrefix(v, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidVersion, v)
	case strings.ContainsAny(v, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidVersion, v)
	case strings.ContainsFunc(v, isSpaceOrControl):
		return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidVersion, v)
	}
	return nil
}

// ArchiveName returns the archive file name for version, e.g.
// "tzdata2023d.tar.gz".
func ArchiveName(version string) string {
	return ArchivePrefix + version + ArchiveSuffix
}

// VersionFromArchiveName recovers the version embedded in an archive file
// name. It returns false when name does not follow the archive naming scheme.
func VersionFromArchiveName(name string) (string, bool) {
	if !strings.HasPrefix(name, ArchivePrefix) || !strings.HasSuffix(name, ArchiveSuffix) {
		return "", false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(name, ArchivePrefix), ArchiveSuffix)
	if v == "" {
		return "", false
	}
	return v, true
}

func isSpaceOrControl(r rune) bool {
	return r <= ' ' || r == 0x7f
}
