// Package config provides configuration types for seatswap.
//
// Configuration is file based (seatswap.yaml) with environment overrides.
// Credentials are normally supplied through the environment:
//
//   - SEATSWAP_CREDENTIALS_USERNAME (or USERNAME)
//   - SEATSWAP_CREDENTIALS_PASSWORD (or PASSWORD)
//   - SEATSWAP_NOTIFY_WEBHOOK_URL (or DISC_URL)
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for seatswap.
type Config struct {
	// Portal configures the registration portal and the login endpoints.
	Portal PortalConfig `yaml:"portal" mapstructure:"portal"`

	// Credentials are the single-sign-on username and password.
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`

	// Term is the academic term registration runs against (e.g., "Spring 2023").
	Term string `yaml:"term" mapstructure:"term" validate:"required,academic_term"`

	// Session configures login retries and session persistence.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Reconcile configures the reconciliation loop.
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`

	// Cache configures TTLs of memoized portal lookups.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Notify configures where operator notifications are delivered.
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Journal configures the attempt journal database.
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`

	// Metrics configures the optional Prometheus listener.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Log configures logging.
	Log LogConfig `yaml:"log" mapstructure:"log"`

	// DevMode enables verbose logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// PortalConfig configures the registration portal endpoints.
// The defaults point at Boston University StudentLink; tests override them.
type PortalConfig struct {
	// BaseURL is the StudentLink CGI endpoint. Pages are addressed with ?ModuleName=.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// IdPURL is the identity provider endpoint credentials are posted to.
	IdPURL string `yaml:"idp_url" mapstructure:"idp_url" validate:"required,url"`

	// DuoURL is the base URL of the second-factor provider.
	DuoURL string `yaml:"duo_url" mapstructure:"duo_url" validate:"required,url"`

	// ACSURL is the assertion consumer service the signed assertion is posted to.
	ACSURL string `yaml:"acs_url" mapstructure:"acs_url" validate:"required,url"`

	// Timeout is the HTTP client timeout (e.g., "30s").
	// Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// RequestsPerMinute paces page fetches across all callers.
	// Defaults to 120.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"omitempty,min=1"`
}

// CredentialsConfig holds the single-sign-on credentials.
type CredentialsConfig struct {
	Username string `yaml:"username" mapstructure:"username" validate:"required"`
	Password string `yaml:"password" mapstructure:"password" validate:"required"`
}

// SessionConfig configures the authenticated session.
type SessionConfig struct {
	// LoginRetries bounds whole-login attempts and page refetches after re-login.
	// Defaults to 3.
	LoginRetries int `yaml:"login_retries" mapstructure:"login_retries" validate:"omitempty,min=1,max=10"`

	// StatePath is where cookies and the last accepted desired state are persisted.
	// Defaults to "~/.seatswap/state.json".
	StatePath string `yaml:"state_path" mapstructure:"state_path"`
}

// ReconcileConfig configures the reconciliation loop.
type ReconcileConfig struct {
	// SpecPath is the YAML file listing desired enrollments.
	SpecPath string `yaml:"spec_path" mapstructure:"spec_path" validate:"required"`

	// Interval between cycles (e.g., "5s"). Defaults to "5s".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`

	// BackoffCap bounds the pause after consecutive connectivity failures.
	// Defaults to "5m".
	BackoffCap string `yaml:"backoff_cap" mapstructure:"backoff_cap" validate:"omitempty,duration"`

	// StopOnCritical terminates the loop after a critical swap failure.
	StopOnCritical bool `yaml:"stop_on_critical" mapstructure:"stop_on_critical"`

	// StrictCompensation escalates any failed re-registration of the replaced
	// section, even when the new section was added.
	StrictCompensation bool `yaml:"strict_compensation" mapstructure:"strict_compensation"`
}

// CacheConfig configures memoized lookups.
type CacheConfig struct {
	// TermOptionsTTL is how long a loaded term's registration options stay valid.
	// Defaults to "15m".
	TermOptionsTTL string `yaml:"term_options_ttl" mapstructure:"term_options_ttl" validate:"omitempty,duration"`

	// BuildingTTL defaults to "1h".
	BuildingTTL string `yaml:"building_ttl" mapstructure:"building_ttl" validate:"omitempty,duration"`

	// CollegesTTL defaults to "60s".
	CollegesTTL string `yaml:"colleges_ttl" mapstructure:"colleges_ttl" validate:"omitempty,duration"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	// WebhookURL receives form posts with "content" and "username" fields.
	// Empty means notifications are only logged.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`

	// Username prefixes the channel name shown by the webhook.
	Username string `yaml:"username" mapstructure:"username"`

	// ChannelSize is the buffer of pending notifications. Defaults to 100.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// SendTimeout is how long Notify may block when the buffer is full.
	// Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`
}

// JournalConfig configures the attempt journal.
type JournalConfig struct {
	// Path of the SQLite database. Defaults to "~/.seatswap/journal.db".
	// Set to "off" to disable the journal.
	Path string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Addr to serve /metrics and /healthz on (e.g., "127.0.0.1:9090").
	// Empty disables the listener.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	// DevMode=true overrides to "debug".
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = "https://www.bu.edu/link/bin/uiscgi_studentlink.pl"
	}
	if c.Portal.IdPURL == "" {
		c.Portal.IdPURL = "https://shib.bu.edu/idp/profile/SAML2/POST-SimpleSign/SSO"
	}
	if c.Portal.DuoURL == "" {
		c.Portal.DuoURL = "https://api-c6b0c057.duosecurity.com"
	}
	if c.Portal.ACSURL == "" {
		c.Portal.ACSURL = "https://linklogin.bu.edu/Shibboleth.sso/SAML2/POST"
	}
	if c.Portal.Timeout == "" {
		c.Portal.Timeout = "30s"
	}
	if c.Portal.RequestsPerMinute == 0 {
		c.Portal.RequestsPerMinute = 120
	}

	if c.Session.LoginRetries == 0 {
		c.Session.LoginRetries = 3
	}
	if c.Session.StatePath == "" {
		c.Session.StatePath = filepath.Join(dataDir(), "state.json")
	}

	if c.Reconcile.Interval == "" {
		c.Reconcile.Interval = "5s"
	}
	if c.Reconcile.BackoffCap == "" {
		c.Reconcile.BackoffCap = "5m"
	}

	if c.Cache.TermOptionsTTL == "" {
		c.Cache.TermOptionsTTL = "15m"
	}
	if c.Cache.BuildingTTL == "" {
		c.Cache.BuildingTTL = "1h"
	}
	if c.Cache.CollegesTTL == "" {
		c.Cache.CollegesTTL = "60s"
	}

	if c.Notify.ChannelSize == 0 {
		c.Notify.ChannelSize = 100
	}
	if c.Notify.SendTimeout == "" {
		c.Notify.SendTimeout = "100ms"
	}
	if c.Notify.Username == "" {
		c.Notify.Username = "seatswap"
	}

	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(dataDir(), "journal.db")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// An explicit log.level wins over dev mode.
	if c.DevMode && !viper.IsSet("log.level") {
		c.Log.Level = "debug"
	}
}

// JournalEnabled reports whether the attempt journal should be opened.
func (c *Config) JournalEnabled() bool {
	return c.Journal.Path != "off"
}

// Durations holds the parsed duration fields. Validate guarantees they parse.
type Durations struct {
	PortalTimeout  time.Duration
	Interval       time.Duration
	BackoffCap     time.Duration
	TermOptionsTTL time.Duration
	BuildingTTL    time.Duration
	CollegesTTL    time.Duration
	SendTimeout    time.Duration
}

// ParseDurations parses every duration field of a validated config.
func (c *Config) ParseDurations() Durations {
	return Durations{
		PortalTimeout:  mustDuration(c.Portal.Timeout),
		Interval:       mustDuration(c.Reconcile.Interval),
		BackoffCap:     mustDuration(c.Reconcile.BackoffCap),
		TermOptionsTTL: mustDuration(c.Cache.TermOptionsTTL),
		BuildingTTL:    mustDuration(c.Cache.BuildingTTL),
		CollegesTTL:    mustDuration(c.Cache.CollegesTTL),
		SendTimeout:    mustDuration(c.Notify.SendTimeout),
	}
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// dataDir returns ~/.seatswap, falling back to the working directory.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".seatswap"
	}
	return filepath.Join(home, ".seatswap")
}

// DataDir returns the default directory for state and journal files.
func DataDir() string {
	return dataDir()
}
