package course

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTerm is returned for unrecognised term strings or keys.
var ErrInvalidTerm = errors.New("invalid academic term")

// Season is the session of an academic term. The numeric value is the
// last digit of the portal key.
type Season int

const (
	Summer1 Season = 1
	Summer2 Season = 2
	Fall    Season = 3
	Spring  Season = 4
)

var seasonNames = map[Season]string{
	Summer1: "Summer 1",
	Summer2: "Summer 2",
	Fall:    "Fall",
	Spring:  "Spring",
}

// String returns the human name of the season.
func (s Season) String() string {
	if name, ok := seasonNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Season(%d)", int(s))
}

// Term is an academic session, e.g. Spring 2023.
//
// The portal keys terms by academic year: summer sessions and fall of
// calendar year Y belong to academic year Y+1, spring of Y to academic year Y.
// Ordering follows the key, so Summer 1 2022 < Fall 2022 < Spring 2023.
type Term struct {
	Season Season
	// Year is the calendar year the term takes place in.
	Year int
}

// ParseTerm parses the human form produced by String ("Spring 2023",
// "Summer 1 2023"). Matching is case-insensitive; "Summer I"/"Summer II" are accepted.
func ParseTerm(s string) (Term, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) < 2 {
		return Term{}, fmt.Errorf("%w: %q", ErrInvalidTerm, s)
	}
	year, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || year < 1900 || year > 9998 {
		return Term{}, fmt.Errorf("%w: %q", ErrInvalidTerm, s)
	}

	var season Season
	switch strings.Join(fields[:len(fields)-1], " ") {
	case "spring":
		season = Spring
	case "fall":
		season = Fall
	case "summer 1", "summer i", "summer1":
		season = Summer1
	case "summer 2", "summer ii", "summer2":
		season = Summer2
	default:
		return Term{}, fmt.Errorf("%w: %q", ErrInvalidTerm, s)
	}
	return Term{Season: season, Year: year}, nil
}

// MustParseTerm is like ParseTerm but panics on error.
func MustParseTerm(s string) Term {
	t, err := ParseTerm(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTermKey parses a portal key such as "20234".
func ParseTermKey(key string) (Term, error) {
	if len(key) != 5 {
		return Term{}, fmt.Errorf("%w: key %q", ErrInvalidTerm, key)
	}
	academicYear, err := strconv.Atoi(key[:4])
	if err != nil {
		return Term{}, fmt.Errorf("%w: key %q", ErrInvalidTerm, key)
	}
	season := Season(key[4] - '0')
	switch season {
	case Spring:
		return Term{Season: season, Year: academicYear}, nil
	case Summer1, Summer2, Fall:
		return Term{Season: season, Year: academicYear - 1}, nil
	default:
		return Term{}, fmt.Errorf("%w: key %q", ErrInvalidTerm, key)
	}
}

// AcademicYear returns the academic year the term is filed under.
func (t Term) AcademicYear() int {
	if t.Season == Spring {
		return t.Year
	}
	return t.Year + 1
}

// Key returns the portal's KeySem value, e.g. "20234" for Spring 2023.
func (t Term) Key() string {
	return strconv.Itoa(t.AcademicYear()) + strconv.Itoa(int(t.Season))
}

// Compare returns -1, 0 or +1 as t sorts before, equal to or after other.
func (t Term) Compare(other Term) int {
	a := t.AcademicYear()*10 + int(t.Season)
	b := other.AcademicYear()*10 + int(other.Season)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether t sorts before other.
func (t Term) Before(other Term) bool { return t.Compare(other) < 0 }

// IsZero reports whether t is unset.
func (t Term) IsZero() bool { return t == Term{} }

// String returns the human form, e.g. "Spring 2023".
func (t Term) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Season.String() + " " + strconv.Itoa(t.Year)
}

// MarshalText implements encoding.TextMarshaler.
func (t Term) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Term) UnmarshalText(text []byte) error {
	parsed, err := ParseTerm(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
