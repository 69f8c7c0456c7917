package portal

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of failure kinds produced by portal operations.
type Kind int

const (
	// KindLogin: authentication could not be completed within the retry bound.
	KindLogin Kind = iota + 1
	// KindConnectivity: the portal's back end refused connections, or transport failed.
	KindConnectivity
	// KindInternal: the portal served its generic error page.
	KindInternal
	// KindParse: a page did not have the expected structure.
	KindParse
	// KindCannotReplace: a swap precondition or its drop step failed; nothing changed.
	KindCannotReplace
	// KindRegisterFailed: the portal rejected a registration. Recoverable.
	KindRegisterFailed
	// KindCritical: a swap could not be compensated; manual intervention required.
	KindCritical
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindConnectivity:
		return "connectivity"
	case KindInternal:
		return "portal_internal"
	case KindParse:
		return "page_parse"
	case KindCannotReplace:
		return "cannot_replace"
	case KindRegisterFailed:
		return "register_failed"
	case KindCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is the error type of every portal operation.
type Error struct {
	Kind Kind
	// Op names the operation ("login", "fetch reg/add/browse_schedule.pl", "swap").
	Op string
	// URL and Body identify the page that caused the failure, when there was one.
	URL  string
	Body string
	Msg  string
	Err  error
	// Attempts holds every per-attempt error of an exhausted retry loop.
	Attempts []error
}

// Kind sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrLogin          = &Error{Kind: KindLogin}
	ErrConnectivity   = &Error{Kind: KindConnectivity}
	ErrInternal       = &Error{Kind: KindInternal}
	ErrParse          = &Error{Kind: KindParse}
	ErrCannotReplace  = &Error{Kind: KindCannotReplace}
	ErrRegisterFailed = &Error{Kind: KindRegisterFailed}
	ErrCritical       = &Error{Kind: KindCritical}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Attempts) > 0 {
		fmt.Fprintf(&b, " (%d attempts", len(e.Attempts))
		for i, a := range e.Attempts {
			fmt.Fprintf(&b, "; #%d: %v", i+1, a)
		}
		b.WriteString(")")
	}
	if e.URL != "" {
		b.WriteString(" [")
		b.WriteString(e.URL)
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return append(errs, e.Attempts...)
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// PageError builds an *Error that carries the offending page.
func PageError(kind Kind, op string, page *Page, msg string) *Error {
	e := &Error{Kind: kind, Op: op, Msg: msg}
	if page != nil {
		if page.URL != nil {
			e.URL = page.URL.String()
		}
		e.Body = page.Body
	}
	return e
}

// CannotReplace builds the error for a swap that was refused before any mutation.
func CannotReplace(format string, args ...any) *Error {
	return Errorf(KindCannotReplace, "swap", format, args...)
}
