// Package desired contains the user's declared target enrollments.
package desired

import (
	"context"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
)

// Entry is one desired enrollment. When Replace is set, Add is obtained by
// swapping out Replace; otherwise Add is a plain registration.
type Entry struct {
	Add     course.Abbr
	Replace *course.Abbr
}

// IsSwap reports whether the entry replaces an enrolled section.
func (e Entry) IsSwap() bool { return e.Replace != nil }

// Equal reports structural equality.
func (e Entry) Equal(other Entry) bool {
	if e.Add != other.Add {
		return false
	}
	if e.Replace == nil || other.Replace == nil {
		return e.Replace == nil && other.Replace == nil
	}
	return *e.Replace == *other.Replace
}

// Key identifies the entry in maps.
func (e Entry) Key() string {
	if e.Replace == nil {
		return e.Add.String()
	}
	return e.Add.String() + " <- " + e.Replace.String()
}

// String renders "add CAS CS111 A1" or "swap CAS CS111 A2 -> CAS CS111 A1".
func (e Entry) String() string {
	if e.Replace == nil {
		return "add " + e.Add.String()
	}
	return "swap " + e.Replace.String() + " -> " + e.Add.String()
}

// Spec is the ordered list of desired enrollments.
type Spec struct {
	Entries []Entry
}

// Equal reports structural equality, order included.
func (s Spec) Equal(other Spec) bool {
	if len(s.Entries) != len(other.Entries) {
		return false
	}
	for i := range s.Entries {
		if !s.Entries[i].Equal(other.Entries[i]) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the spec has no entries.
func (s Spec) IsEmpty() bool { return len(s.Entries) == 0 }

// Store loads the current desired state.
type Store interface {
	Load(ctx context.Context) (Spec, error)
}

// Checkpoint persists the last spec that passed validation so a restart
// resumes with it when the file is later broken.
type Checkpoint interface {
	LoadLastGood(ctx context.Context) (Spec, bool, error)
	SaveLastGood(ctx context.Context, spec Spec) error
}

// NewEntry builds an entry from abbreviation strings. replace may be empty.
func NewEntry(add, replace string) (Entry, error) {
	a, err := course.ParseAbbr(add)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Add: a}
	if replace != "" {
		r, err := course.ParseAbbr(replace)
		if err != nil {
			return Entry{}, err
		}
		e.Replace = &r
	}
	return e, nil
}

// MustEntry is like NewEntry but panics on error.
func MustEntry(add, replace string) Entry {
	e, err := NewEntry(add, replace)
	if err != nil {
		panic(err)
	}
	return e
}
