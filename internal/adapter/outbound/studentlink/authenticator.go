package studentlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
	"github.com/Sentinel-Gate/seatswap/internal/domain/ratelimit"
)

// Markers of the IdP and Duo pages.
const (
	markerCredentials = "You have asked to login to "
	markerTwoStep     = "Two-Step Login Started"
	markerContinue    = "you must press the Continue button once to proceed."
)

// Duo endpoints, relative to the Duo origin.
const (
	duoAuthPath       = "/frame/frameless/v4/auth"
	duoPromptDataPath = "/frame/v4/auth/prompt/data"
	duoPromptPath     = "/frame/v4/prompt"
	duoStatusPath     = "/frame/v4/status"
	duoExitPath       = "/frame/v4/oidc/exit"

	duoFactorPush = "Duo Push"
	duoPostAuth   = "OIDC_EXIT"
)

// Credentials are the account the session logs in as.
type Credentials struct {
	Username string
	Password string
}

// Authenticator runs the Shibboleth + Duo push + SAML login chain.
// It implements outbound.Authenticator.
type Authenticator struct {
	client *Client
	creds  Credentials
	logger *slog.Logger

	limiter ratelimit.RateLimiter
	pacing  ratelimit.RateLimitConfig
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLoginPacing limits how often the account may start a login. Every
// login sends a push to the student's phone.
func WithLoginPacing(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) AuthenticatorOption {
	return func(a *Authenticator) {
		a.limiter = limiter
		a.pacing = cfg
	}
}

// NewAuthenticator creates an Authenticator sharing client's cookie jar.
func NewAuthenticator(client *Client, creds Credentials, logger *slog.Logger, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{client: client, creds: creds, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func loginError(page *portal.Page, format string, args ...any) error {
	return portal.PageError(portal.KindLogin, "login", page, fmt.Sprintf(format, args...))
}

// Authenticate implements outbound.Authenticator. entry is the login page
// the portal redirected to.
func (a *Authenticator) Authenticate(ctx context.Context, entry *portal.Page) error {
	if a.limiter != nil {
		key := ratelimit.FormatKey(ratelimit.KeyTypeLogin, a.creds.Username)
		if err := ratelimit.Wait(ctx, a.limiter, key, a.pacing); err != nil {
			return err
		}
	}
	if entry == nil || entry.URL == nil {
		return loginError(entry, "no login page to start from")
	}

	execution := entry.URL.Query().Get("execution")
	if execution == "" {
		return loginError(entry, "execution not found in %s", entry.URL)
	}

	var idpPage *portal.Page
	switch {
	case strings.Contains(entry.Body, markerCredentials):
		csrf, ok := inputValue(formInputs(entry.Body), "csrf_token")
		if !ok {
			return loginError(entry, "csrf_token not found")
		}
		u := *a.client.endpoints.IdP
		u.RawQuery = url.Values{"execution": {execution}}.Encode()
		p, err := a.client.postForm(ctx, &u, url.Values{
			"csrf_token":       {csrf},
			"j_username":       {a.creds.Username},
			"j_password":       {a.creds.Password},
			"_eventId_proceed": {""},
		})
		if err != nil {
			return err
		}
		idpPage = p
	case strings.Contains(entry.Body, markerTwoStep):
		idpPage = entry
	default:
		return loginError(entry, "unknown login page")
	}

	samlPage := idpPage
	if !strings.Contains(idpPage.Body, markerContinue) {
		p, err := a.secondFactor(ctx, idpPage)
		if err != nil {
			return err
		}
		samlPage = p
	}

	inputs := formInputs(samlPage.Body)
	relayState, ok1 := inputValue(inputs, "RelayState")
	samlResponse, ok2 := inputValue(inputs, "SAMLResponse")
	if !ok1 || !ok2 {
		return loginError(samlPage, "RelayState and SAMLResponse not found")
	}
	if _, err := a.client.postForm(ctx, a.client.endpoints.ACS, url.Values{
		"RelayState":   {relayState},
		"SAMLResponse": {samlResponse},
	}); err != nil {
		return err
	}
	return nil
}

// duoEnvelope is the JSON wrapper of every Duo frame response.
type duoEnvelope[T any] struct {
	Stat     string `json:"stat"`
	Message  string `json:"message"`
	Response T      `json:"response"`
}

type duoPromptData struct {
	Phones []struct {
		Key   string `json:"key"`
		Index string `json:"index"`
		Name  string `json:"name"`
	} `json:"phones"`
}

type duoPrompt struct {
	TxID string `json:"txid"`
}

type duoStatus struct {
	Result     string `json:"result"`
	StatusCode string `json:"status_code"`
	Reason     string `json:"reason"`
}

func decodeDuo[T any](page *portal.Page) (T, error) {
	var env duoEnvelope[T]
	if err := json.Unmarshal([]byte(page.Body), &env); err != nil {
		var zero T
		return zero, loginError(page, "decode duo response: %v", err)
	}
	return env.Response, nil
}

func (a *Authenticator) duoURL(path string, query url.Values) *url.URL {
	u := *a.client.endpoints.Duo
	u.Path = path
	u.RawQuery = ""
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return &u
}

// secondFactor sends a Duo push to the first enrolled phone and returns the
// page carrying the SAML response.
func (a *Authenticator) secondFactor(ctx context.Context, frame *portal.Page) (*portal.Page, error) {
	sid := frame.URL.Query().Get("sid")
	if sid == "" {
		return nil, loginError(frame, "sid not found in %s", frame.URL)
	}
	inputs := formInputs(frame.Body)
	tx, ok := inputValue(inputs, "tx")
	if !ok {
		return nil, loginError(frame, "tx not found")
	}
	xsrf, ok := inputValue(inputs, "_xsrf")
	if !ok {
		return nil, loginError(frame, "_xsrf not found")
	}

	authPage, err := a.client.postForm(ctx, a.duoURL(duoAuthPath, url.Values{"sid": {sid}, "tx": {tx}}), browserForm(tx, xsrf))
	if err != nil {
		return nil, err
	}
	promptSID := authPage.URL.Query().Get("sid")
	if promptSID == "" {
		return nil, loginError(authPage, "sid not found in %s", authPage.URL)
	}

	dataPage, err := a.client.get(ctx, a.duoURL(duoPromptDataPath, url.Values{"sid": {sid}, "post_auth_action": {duoPostAuth}}))
	if err != nil {
		return nil, err
	}
	data, err := decodeDuo[duoPromptData](dataPage)
	if err != nil {
		return nil, err
	}
	if len(data.Phones) == 0 || data.Phones[0].Key == "" {
		return nil, loginError(dataPage, "no enrolled phone")
	}
	phone := data.Phones[0]
	device := phone.Index
	if device == "" {
		device = "phone1"
	}

	a.logger.Info("sending duo push", "device", phone.Name)
	promptPage, err := a.client.postForm(ctx, a.duoURL(duoPromptPath, nil), url.Values{
		"sid":                 {promptSID},
		"device":              {device},
		"factor":              {duoFactorPush},
		"postAuthDestination": {duoPostAuth},
	})
	if err != nil {
		return nil, err
	}
	prompt, err := decodeDuo[duoPrompt](promptPage)
	if err != nil {
		return nil, err
	}
	if prompt.TxID == "" {
		return nil, loginError(promptPage, "txid not found")
	}

	// The first poll registers the push; the second blocks until the
	// student answers or Duo times out.
	statusForm := url.Values{"sid": {promptSID}, "txid": {prompt.TxID}}
	if _, err := a.client.postForm(ctx, a.duoURL(duoStatusPath, nil), statusForm); err != nil {
		return nil, err
	}
	statusPage, err := a.client.postForm(ctx, a.duoURL(duoStatusPath, nil), statusForm)
	if err != nil {
		return nil, err
	}
	status, err := decodeDuo[duoStatus](statusPage)
	if err != nil {
		return nil, err
	}
	if status.Result != "SUCCESS" && status.StatusCode != "allow" {
		return nil, loginError(statusPage, "duo push not approved (result=%q status=%q reason=%q)",
			status.Result, status.StatusCode, status.Reason)
	}

	return a.client.postForm(ctx, a.duoURL(duoExitPath, nil), url.Values{
		"sid":           {promptSID},
		"txid":          {prompt.TxID},
		"factor":        {duoFactorPush},
		"device_key":    {phone.Key},
		"_xsrf":         {xsrf},
		"dampen_choice": {"true"},
	})
}

// browserForm is the fingerprint form the Duo frame posts from a browser.
func browserForm(tx, xsrf string) url.Values {
	form := url.Values{}
	form.Set("tx", tx)
	form.Set("_xsrf", xsrf)
	form.Set("parent", "None")
	form.Set("screen_resolution_width", "1512")
	form.Set("screen_resolution_height", "982")
	form.Set("color_depth", "30")
	form.Set("is_cef_browser", "false")
	form.Set("is_ipad_os", "false")
	form.Set("is_user_verifying_platform_authenticator_available", "true")
	form.Set("react_support", "true")
	for _, empty := range []string{
		"java_version",
		"flash_version",
		"ch_ua_error",
		"is_ie_compatibility_mode",
		"user_verifying_platform_authenticator_available_error",
		"acting_ie_version",
		"react_support_error_message",
	} {
		form.Set(empty, "")
	}
	return form
}
