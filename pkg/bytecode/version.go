package bytecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrUnsupportedVersion is returned for language versions outside the
// supported range.
var ErrUnsupportedVersion = errors.New("unsupported language version")

// Version is a source language version such as 3.10.
type Version struct {
	Major int
	Minor int
}

var (
	Py39  = Version{3, 9}
	Py310 = Version{3, 10}

	// MinVersion and MaxVersion bound the versions the decoder accepts.
	MinVersion = Py39
	MaxVersion = Py310
)

// ParseVersion parses a "major.minor" tag. A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	tag := s
	if !strings.HasPrefix(tag, "v") {
		tag = "v" + tag
	}
	if !semver.IsValid(tag) {
		return Version{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
	parts := strings.SplitN(strings.TrimPrefix(semver.MajorMinor(tag), "v"), ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
	minor := 0
	if len(parts) == 2 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
		}
	}
	v := Version{major, minor}
	if v.Less(MinVersion) || MaxVersion.Less(v) {
		return Version{}, fmt.Errorf("%w: %s (supported %s to %s)", ErrUnsupportedVersion, v, MinVersion, MaxVersion)
	}
	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (v Version) semver() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Compare returns -1, 0 or +1 following semver ordering.
func (v Version) Compare(w Version) int {
	return semver.Compare(v.semver(), w.semver())
}

// Less reports whether v precedes w.
func (v Version) Less(w Version) bool {
	return v.Compare(w) < 0
}

// AtLeast reports whether v is w or later.
func (v Version) AtLeast(w Version) bool {
	return v.Compare(w) >= 0
}

// ScaledJumps reports whether raw jump arguments are byte distances that
// must be halved to obtain instruction distances.
func (v Version) ScaledJumps() bool {
	return v.Less(Py310)
}
