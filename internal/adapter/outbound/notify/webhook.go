// Package notify delivers operator notifications to a chat webhook or the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sentinel-Gate/seatswap/internal/domain/notify"
)

// Chat webhooks reject longer fields.
const (
	maxContentLen  = 2000
	maxUsernameLen = 80
)

// WebhookSink posts each message as a form with "content" and "username"
// fields, the shape Discord-compatible webhooks accept. The username is the
// message channel, so digests show up under the section they are about.
type WebhookSink struct {
	url        string
	prefix     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ notify.Sink = (*WebhookSink)(nil)

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(hc *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		s.httpClient = hc
	}
}

// WithUsernamePrefix prefixes every username, e.g. "seatswap | Register Fail".
func WithUsernamePrefix(prefix string) WebhookOption {
	return func(s *WebhookSink) {
		s.prefix = prefix
	}
}

// NewWebhookSink creates a sink posting to rawURL.
func NewWebhookSink(rawURL string, logger *slog.Logger, opts ...WebhookOption) (*WebhookSink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url %q: scheme must be http or https", rawURL)
	}
	s := &WebhookSink{
		url:        u.String(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deliver implements notify.Sink. Every message is attempted; the errors of
// the failed ones are joined.
func (s *WebhookSink) Deliver(ctx context.Context, msgs []notify.Message) error {
	var errs []error
	for _, m := range msgs {
		if err := s.post(ctx, m); err != nil {
			if ctx.Err() != nil {
				return errors.Join(append(errs, ctx.Err())...)
			}
			errs = append(errs, fmt.Errorf("%s: %w", m.Channel, err))
		}
	}
	return errors.Join(errs...)
}

func (s *WebhookSink) username(channel string) string {
	name := channel
	if s.prefix != "" {
		name = s.prefix + " | " + channel
	}
	return truncate(name, maxUsernameLen)
}

func (s *WebhookSink) post(ctx context.Context, m notify.Message) error {
	text := m.Text
	if strings.TrimSpace(text) == "" {
		text = m.Channel
	}
	form := url.Values{}
	form.Set("content", truncate(text, maxContentLen))
	form.Set("username", s.username(m.Channel))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	s.logger.Debug("notification delivered", "channel", m.Channel)
	return nil
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
