// Package course contains the course catalog value types: abbreviations,
// academic terms and section snapshots.
package course

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidAbbr is returned when a string does not follow the COL DDNNN S# grammar.
var ErrInvalidAbbr = errors.New("invalid course abbreviation")

// abbrPattern matches a whitespace-collapsed, upper-cased abbreviation.
// The space between department and number is optional on input.
var abbrPattern = regexp.MustCompile(`^([A-Z]{3}) ([A-Z]{2}) ?([0-9]{3}) ([A-Z][0-9]{1,2})$`)

// Abbr identifies one section of one course, e.g. "CAS CS111 A1".
// Abbr is comparable; two values are equal iff their canonical forms are equal.
type Abbr struct {
	college string
	dept    string
	number  string
	section string
}

// ParseAbbr parses s case-insensitively, tolerating any run of whitespace
// (including non-breaking and other Unicode spaces) between the parts.
func ParseAbbr(s string) (Abbr, error) {
	collapsed := strings.ToUpper(strings.Join(strings.Fields(norm.NFKC.String(s)), " "))
	m := abbrPattern.FindStringSubmatch(collapsed)
	if m == nil {
		return Abbr{}, fmt.Errorf("%w: %q", ErrInvalidAbbr, s)
	}
	return Abbr{college: m[1], dept: m[2], number: m[3], section: m[4]}, nil
}

// MustParseAbbr is like ParseAbbr but panics on error. Intended for tests and constants.
func MustParseAbbr(s string) Abbr {
	a, err := ParseAbbr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// College returns the three-letter college code ("CAS").
func (a Abbr) College() string { return a.college }

// Dept returns the two-letter department code ("CS").
func (a Abbr) Dept() string { return a.dept }

// Number returns the three-digit course number ("111").
func (a Abbr) Number() string { return a.number }

// Section returns the section code ("A1").
func (a Abbr) Section() string { return a.section }

// IsZero reports whether a is the zero value.
func (a Abbr) IsZero() bool { return a == Abbr{} }

// Course returns the canonical course part without the section ("CAS CS111").
func (a Abbr) Course() string {
	return a.college + " " + a.dept + a.number
}

// String returns the canonical form "COL DDNNN S#".
func (a Abbr) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Course() + " " + a.section
}

// MarshalText implements encoding.TextMarshaler.
func (a Abbr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Abbr) UnmarshalText(text []byte) error {
	parsed, err := ParseAbbr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
