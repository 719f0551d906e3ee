package clients

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// VersionHeader carries the requested and the served microversion.
	VersionHeader = "X-OpenStack-Ironic-API-Version"

	latest = "latest"
)

// Microversion is an Ironic API version such as "1.81", or "latest". The
// zero value means no version was requested.
type Microversion struct {
	version *semver.Version
	latest  bool
}

// Latest asks the server for the newest version it supports.
var Latest = Microversion{latest: true}

// ParseMicroversion parses "X.Y" or "latest". An empty string gives the
// zero Microversion.
func ParseMicroversion(s string) (Microversion, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return Microversion{}, nil
	case latest:
		return Latest, nil
	}
	if strings.Count(s, ".") != 1 {
		return Microversion{}, fmt.Errorf("invalid microversion %q, expected X.Y", s)
	}
	v, err := semver.StrictNewVersion(s + ".0")
	if err != nil {
		return Microversion{}, fmt.Errorf("invalid microversion %q: %w", s, err)
	}
	return Microversion{version: v}, nil
}

// MustParseMicroversion is ParseMicroversion for constants.
func MustParseMicroversion(s string) Microversion {
	m, err := ParseMicroversion(s)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMicroversion builds a version from its parts.
func NewMicroversion(major, minor uint64) Microversion {
	return Microversion{version: semver.New(major, minor, 0, "", "")}
}

func (m Microversion) IsZero() bool {
	return m.version == nil && !m.latest
}

func (m Microversion) IsLatest() bool {
	return m.latest
}

func (m Microversion) String() string {
	switch {
	case m.latest:
		return latest
	case m.version == nil:
		return ""
	}
	return fmt.Sprintf("%d.%d", m.version.Major(), m.version.Minor())
}

// Compare returns -1, 0 or 1. Latest sorts after every numbered version
// and the zero value before all of them.
func (m Microversion) Compare(o Microversion) int {
	switch {
	case m.latest && o.latest:
		return 0
	case m.latest:
		return 1
	case o.latest:
		return -1
	case m.version == nil && o.version == nil:
		return 0
	case m.version == nil:
		return -1
	case o.version == nil:
		return 1
	}
	return m.version.Compare(o.version)
}

func (m Microversion) LessThan(o Microversion) bool {
	return m.Compare(o) < 0
}

// AtLeast reports whether m is o or newer.
func (m Microversion) AtLeast(o Microversion) bool {
	return m.Compare(o) >= 0
}

// RangesOverlap reports whether a test needing versions [testMin,
// testMax] can run against a deployment configured for [cfgMin, cfgMax].
// Zero bounds are open.
func RangesOverlap(testMin, testMax, cfgMin, cfgMax Microversion) bool {
	if testMax.IsZero() {
		testMax = Latest
	}
	if cfgMax.IsZero() {
		cfgMax = Latest
	}
	if testMin.IsZero() && cfgMin.IsZero() {
		return true
	}
	if !testMin.IsZero() && testMin.Compare(cfgMax) > 0 {
		return false
	}
	if !cfgMin.IsZero() && cfgMin.Compare(testMax) > 0 {
		return false
	}
	return true
}

// SelectRequestMicroversion picks the version a test should pin: the
// higher of its own minimum and the configured minimum.
func SelectRequestMicroversion(testMin, cfgMin Microversion) Microversion {
	if testMin.Compare(cfgMin) >= 0 {
		return testMin
	}
	return cfgMin
}

// ValidateResponseVersion checks that the server answered with the version
// that was pinned. Unpinned and "latest" requests are not checked.
func ValidateResponseVersion(pinned Microversion, header http.Header) error {
	if pinned.IsZero() || pinned.IsLatest() {
		return nil
	}
	served := header.Get(VersionHeader)
	if served == "" {
		return fmt.Errorf("response is missing the %s header, requested %s", VersionHeader, pinned)
	}
	if served != pinned.String() {
		return fmt.Errorf("server answered with microversion %s, requested %s", served, pinned)
	}
	return nil
}
