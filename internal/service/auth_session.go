package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
	"github.com/Sentinel-Gate/seatswap/internal/domain/session"
	"github.com/Sentinel-Gate/seatswap/internal/port/outbound"
)

// DefaultLoginRetries bounds whole-login attempts per GetPage call.
const DefaultLoginRetries = 3

var allSessionStates = []string{
	session.Unauthenticated.String(),
	session.Authenticating.String(),
	session.Authenticated.String(),
	session.Expired.String(),
}

// AuthSession owns the portal session. It fetches pages, notices when the
// portal wants a login, logs in (one login at a time no matter how many
// goroutines noticed) and refetches. Safe for concurrent use.
type AuthSession struct {
	fetcher outbound.PageFetcher
	auth    outbound.Authenticator
	retries int
	logger  *slog.Logger
	metrics *Metrics
	onLogin func(context.Context)

	mu    sync.RWMutex
	state session.State
	// gen counts successful logins. A caller that saw a login page under
	// generation g does not log in again once gen has moved past g.
	gen uint64

	login *Memo[loginRequest, struct{}]
}

type loginRequest struct {
	entry *portal.Page
	gen   uint64
}

// AuthSessionOption configures an AuthSession.
type AuthSessionOption func(*AuthSession)

// WithLoginRetries sets the retry bound. Values below 1 are ignored.
func WithLoginRetries(n int) AuthSessionOption {
	return func(s *AuthSession) {
		if n >= 1 {
			s.retries = n
		}
	}
}

// WithLoginHook runs fn after every successful login, e.g. to persist cookies.
func WithLoginHook(fn func(context.Context)) AuthSessionOption {
	return func(s *AuthSession) { s.onLogin = fn }
}

// WithSessionMetrics records fetches, logins and state transitions.
func WithSessionMetrics(m *Metrics) AuthSessionOption {
	return func(s *AuthSession) { s.metrics = m }
}

// NewAuthSession creates a session in the Unauthenticated state.
func NewAuthSession(fetcher outbound.PageFetcher, auth outbound.Authenticator, logger *slog.Logger, opts ...AuthSessionOption) *AuthSession {
	s := &AuthSession{
		fetcher: fetcher,
		auth:    auth,
		retries: DefaultLoginRetries,
		logger:  logger,
		state:   session.Unauthenticated,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.login = NewMemo(s.authenticate, func(loginRequest) []string { return []string{"login"} }, 0)
	s.metrics.sessionState(s.state.String(), allSessionStates)
	return s
}

// State returns the current session state.
func (s *AuthSession) State() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Login checks the session against the portal and logs in if needed. It is GetPage on the
// entry page with the body discarded.
func (s *AuthSession) Login(ctx context.Context) error {
	_, err := s.GetPage(ctx, portal.PageAllSched, nil)
	return err
}

// GetPage returns the body of an authenticated page.
//
// A login or stale-request page triggers a login and a refetch, at most
// retries times; the errors of every failed login are aggregated into the
// returned *portal.Error{Kind: KindLogin}. Connection-refused and internal
// error pages are returned immediately as KindConnectivity and KindInternal.
func (s *AuthSession) GetPage(ctx context.Context, page portal.PageName, params url.Values) (string, error) {
	var attempts []error

	for attempt := 0; ; attempt++ {
		gen := s.generation()

		p, err := s.fetcher.Fetch(ctx, page, params)
		if err != nil {
			return "", err
		}
		s.metrics.pageFetched(string(page), p.Class.String())

		op := "fetch " + string(page)
		switch p.Class {
		case portal.ClassOK:
			s.markAuthenticated()
			return p.Body, nil
		case portal.ClassConnectionRefused:
			return "", portal.PageError(portal.KindConnectivity, op, p, "portal back end refused the connection")
		case portal.ClassInternalError:
			return "", portal.PageError(portal.KindInternal, op, p, "portal returned its error page")
		}

		s.markExpired()
		if attempt >= s.retries {
			return "", &portal.Error{
				Kind:     portal.KindLogin,
				Op:       op,
				Msg:      fmt.Sprintf("not authenticated after %d login attempts", s.retries),
				Attempts: attempts,
			}
		}

		s.logger.Debug("session needs login", "page", page, "class", p.Class, "attempt", attempt+1)
		if _, err := s.login.Do(ctx, loginRequest{entry: p, gen: gen}); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			attempts = append(attempts, err)
		}
	}
}

// authenticate runs one login pass. Invocations never overlap: the memo
// coalesces concurrent requests into the one in flight.
func (s *AuthSession) authenticate(ctx context.Context, req loginRequest) (struct{}, error) {
	if s.generation() != req.gen {
		// Someone logged in after this caller saw the login page.
		return struct{}{}, nil
	}

	s.setState(session.Authenticating)
	s.logger.Info("logging in")

	entry, err := s.loginEntry(ctx, req.entry)
	if err == nil && entry == nil {
		s.setState(session.Authenticated)
		return struct{}{}, nil
	}
	if err == nil {
		err = s.auth.Authenticate(ctx, entry)
	}
	if err != nil {
		s.metrics.login(false)
		s.setState(session.Unauthenticated)
		s.logger.Warn("login failed", "error", err)
		return struct{}{}, err
	}

	s.metrics.login(true)
	s.mu.Lock()
	s.gen++
	s.state = session.Authenticated
	s.mu.Unlock()
	s.metrics.sessionState(session.Authenticated.String(), allSessionStates)
	s.logger.Info("logged in")

	if s.onLogin != nil {
		s.onLogin(ctx)
	}
	return struct{}{}, nil
}

// loginEntry returns the page a login starts from. A stale-request page
// carries no login form, so the entry page is fetched again to obtain a
// fresh login redirect. A nil page with a nil error means that fetch found
// the session already valid.
func (s *AuthSession) loginEntry(ctx context.Context, seen *portal.Page) (*portal.Page, error) {
	if seen.Class != portal.ClassStaleRequest {
		return seen, nil
	}
	s.logger.Debug("stale login request, refetching entry page")
	p, err := s.fetcher.Fetch(ctx, portal.PageAllSched, nil)
	if err != nil {
		return nil, err
	}
	s.metrics.pageFetched(string(portal.PageAllSched), p.Class.String())
	switch p.Class {
	case portal.ClassOK:
		return nil, nil
	case portal.ClassNeedsLogin:
		return p, nil
	default:
		return nil, portal.PageError(portal.KindLogin, "login", p,
			fmt.Sprintf("entry page answered %s after a stale request", p.Class))
	}
}

func (s *AuthSession) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *AuthSession) setState(state session.State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.metrics.sessionState(state.String(), allSessionStates)
	}
}

// markAuthenticated records that the portal served a real page. Restored
// cookies make this the first transition of a warm start.
func (s *AuthSession) markAuthenticated() {
	s.mu.Lock()
	changed := s.state != session.Authenticated && s.state != session.Authenticating
	if changed {
		s.state = session.Authenticated
	}
	s.mu.Unlock()
	if changed {
		s.metrics.sessionState(session.Authenticated.String(), allSessionStates)
	}
}

// markExpired moves an authenticated session to Expired.
func (s *AuthSession) markExpired() {
	s.mu.Lock()
	changed := s.state == session.Authenticated
	if changed {
		s.state = session.Expired
	}
	s.mu.Unlock()
	if changed {
		s.logger.Info("session expired")
		s.metrics.sessionState(session.Expired.String(), allSessionStates)
	}
}
