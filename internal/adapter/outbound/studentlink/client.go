// Package studentlink talks HTTP to the StudentLink portal and its
// single-sign-on chain.
package studentlink

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/Sentinel-Gate/seatswap/internal/domain/portal"
	"github.com/Sentinel-Gate/seatswap/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/seatswap/internal/domain/session"
)

// maxBodySize caps every response body read from the portal or the IdP.
const maxBodySize = 10 * 1024 * 1024 // 10MB

// userAgent is sent on every request. Duo rejects unknown clients.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// Endpoints are the URLs the client talks to.
type Endpoints struct {
	// Base is the portal CGI; pages are selected by ModuleName.
	Base *url.URL
	// IdP is the Shibboleth SSO endpoint the credentials are posted to.
	IdP *url.URL
	// Duo is the origin of the second-factor service.
	Duo *url.URL
	// ACS is the portal's SAML assertion consumer.
	ACS *url.URL
}

// ParseEndpoints parses raw URLs into Endpoints.
func ParseEndpoints(base, idp, duo, acs string) (Endpoints, error) {
	var e Endpoints
	for _, f := range []struct {
		dst  **url.URL
		raw  string
		name string
	}{
		{&e.Base, base, "base"},
		{&e.IdP, idp, "idp"},
		{&e.Duo, duo, "duo"},
		{&e.ACS, acs, "acs"},
	} {
		u, err := url.Parse(f.raw)
		if err != nil {
			return Endpoints{}, fmt.Errorf("%s url: %w", f.name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return Endpoints{}, fmt.Errorf("%s url %q: must be absolute", f.name, f.raw)
		}
		*f.dst = u
	}
	return e, nil
}

// Client is an HTTP client with a cookie jar shared by the page fetcher and
// the authenticator. It implements outbound.PageFetcher.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	jar        http.CookieJar
	logger     *slog.Logger

	limiter ratelimit.RateLimiter
	pacing  ratelimit.RateLimitConfig
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client is copied
// and given its own jar.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if c.httpClient != nil && d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithPacing paces every request per host through limiter.
func WithPacing(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
		c.pacing = cfg
	}
}

// NewClient creates a client for the given endpoints with an empty jar.
func NewClient(endpoints Endpoints, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := &Client{
		endpoints: endpoints,
		jar:       jar,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.httpClient
	hc.Jar = jar
	c.httpClient = &hc
	return c, nil
}

// Endpoints returns the configured endpoints.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// Fetch implements outbound.PageFetcher.
func (c *Client) Fetch(ctx context.Context, page portal.PageName, params url.Values) (*portal.Page, error) {
	u := c.PageURL(page, params)
	p, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	p.Class = portal.Classify(p.Body)
	c.logger.Debug("fetched page", "page", page, "class", p.Class, "url", p.URL)
	return p, nil
}

// PageURL builds the URL of a portal page.
func (c *Client) PageURL(page portal.PageName, params url.Values) *url.URL {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("ModuleName", string(page))
	u := *c.endpoints.Base
	u.RawQuery = q.Encode()
	return &u
}

func (c *Client) get(ctx context.Context, u *url.URL) (*portal.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, u *url.URL, form url.Values) (*portal.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// do sends req and reads the body. The returned page carries the final URL
// after redirects and no classification.
func (c *Client) do(req *http.Request) (*portal.Page, error) {
	ctx := req.Context()
	if c.limiter != nil {
		key := ratelimit.FormatKey(ratelimit.KeyTypeHost, req.URL.Host)
		if err := ratelimit.Wait(ctx, c.limiter, key, c.pacing); err != nil {
			return nil, err
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &portal.Error{
			Kind: portal.KindConnectivity,
			Op:   req.Method + " " + req.URL.Host + req.URL.Path,
			URL:  req.URL.String(),
			Err:  err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &portal.Error{
			Kind: portal.KindConnectivity,
			Op:   "read " + req.URL.Host + req.URL.Path,
			URL:  req.URL.String(),
			Err:  err,
		}
	}
	return &portal.Page{URL: resp.Request.URL, Body: string(body)}, nil
}

// CookieURLs are the origins whose cookies make up a session.
func (c *Client) CookieURLs() []*url.URL {
	var out []*url.URL
	for _, u := range []*url.URL{c.endpoints.Base, c.endpoints.IdP, c.endpoints.Duo, c.endpoints.ACS} {
		path := u.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &url.URL{Scheme: u.Scheme, Host: u.Host, Path: path})
	}
	return out
}

// Cookies snapshots the session cookies.
func (c *Client) Cookies() []session.Cookie {
	return session.Snapshot(c.jar, c.CookieURLs())
}

// RestoreCookies loads persisted cookies into the jar and returns how many
// were restored.
func (c *Client) RestoreCookies(cookies []session.Cookie) int {
	return session.Restore(c.jar, cookies, time.Now())
}
