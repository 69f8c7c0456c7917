package portal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want Class
	}{
		{"plain page", "<html><title>Registration</title></html>", ClassOK},
		{"login page", "<html><title>Boston University | Login</title></html>", ClassNeedsLogin},
		{"stale request", "<h1>Web Login Service - Stale Request</h1>", ClassStaleRequest},
		{"connection refused", "The service is not available: Connection refused", ClassConnectionRefused},
		{"internal error", "<title>Error &middot; Boston University</title>", ClassInternalError},
		{
			"outage wins over login",
			"<title>Boston University | Login</title> not available: Connection refused",
			ClassConnectionRefused,
		},
		{"empty", "", ClassOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.body); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClass_NeedsAuth(t *testing.T) {
	t.Parallel()

	for c, want := range map[Class]bool{
		ClassOK:                false,
		ClassNeedsLogin:        true,
		ClassStaleRequest:      true,
		ClassConnectionRefused: false,
		ClassInternalError:     false,
	} {
		if c.NeedsAuth() != want {
			t.Errorf("%v.NeedsAuth() = %v, want %v", c, c.NeedsAuth(), want)
		}
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("cycle: %w", &Error{Kind: KindConnectivity, Op: "fetch", Msg: "refused"})

	if !errors.Is(err, ErrConnectivity) {
		t.Error("errors.Is(err, ErrConnectivity) = false")
	}
	if errors.Is(err, ErrLogin) {
		t.Error("errors.Is(err, ErrLogin) = true")
	}
	if KindOf(err) != KindConnectivity {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf(plain error) should be 0")
	}
}

func TestError_AggregatesAttempts(t *testing.T) {
	t.Parallel()

	cause := errors.New("duo denied")
	err := &Error{
		Kind:     KindLogin,
		Op:       "login",
		Attempts: []error{cause, errors.New("no execution"), errors.New("no SAMLResponse")},
	}

	if !errors.Is(err, cause) {
		t.Error("attempt errors should be reachable through Unwrap")
	}
	msg := err.Error()
	for _, want := range []string{"login", "3 attempts", "duo denied", "#3: no SAMLResponse"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want to contain %q", msg, want)
		}
	}
}

func TestPageError_CarriesPage(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://example.edu/login?execution=e1s1")
	err := PageError(KindLogin, "login", &Page{URL: u, Body: "<html/>"}, "missing csrf_token")

	if err.URL != u.String() || err.Body != "<html/>" {
		t.Errorf("PageError lost page: URL=%q Body=%q", err.URL, err.Body)
	}
	if !strings.Contains(err.Error(), "missing csrf_token") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestConfirmation_Result(t *testing.T) {
	t.Parallel()

	a1 := course.MustParseAbbr("CAS CS111 A1")
	c := Confirmation{a1: {OK: true, Message: "Registered"}}

	if !c.Result(a1).OK {
		t.Error("listed section should be OK")
	}
	if c.Result(course.MustParseAbbr("CAS CS111 A2")).OK {
		t.Error("unlisted section should count as failure")
	}
}
