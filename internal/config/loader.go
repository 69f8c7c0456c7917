package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for seatswap.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("seatswap")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SEATSWAP_RECONCILE_INTERVAL
	viper.SetEnvPrefix("SEATSWAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a seatswap config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".seatswap"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "seatswap"))
		}
	} else {
		paths = append(paths, "/etc/seatswap")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for seatswap.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "seatswap"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: SEATSWAP_PORTAL_TIMEOUT overrides portal.timeout
func bindNestedEnvKeys() {
	_ = viper.BindEnv("portal.base_url")
	_ = viper.BindEnv("portal.idp_url")
	_ = viper.BindEnv("portal.duo_url")
	_ = viper.BindEnv("portal.acs_url")
	_ = viper.BindEnv("portal.timeout")
	_ = viper.BindEnv("portal.requests_per_minute")

	// Credentials also honour the bare variable names older deployments used.
	_ = viper.BindEnv("credentials.username", "SEATSWAP_CREDENTIALS_USERNAME", "USERNAME")
	_ = viper.BindEnv("credentials.password", "SEATSWAP_CREDENTIALS_PASSWORD", "PASSWORD")

	_ = viper.BindEnv("term")

	_ = viper.BindEnv("session.login_retries")
	_ = viper.BindEnv("session.state_path")

	_ = viper.BindEnv("reconcile.spec_path")
	_ = viper.BindEnv("reconcile.interval")
	_ = viper.BindEnv("reconcile.backoff_cap")
	_ = viper.BindEnv("reconcile.stop_on_critical")
	_ = viper.BindEnv("reconcile.strict_compensation")

	_ = viper.BindEnv("cache.term_options_ttl")
	_ = viper.BindEnv("cache.building_ttl")
	_ = viper.BindEnv("cache.colleges_ttl")

	_ = viper.BindEnv("notify.webhook_url", "SEATSWAP_NOTIFY_WEBHOOK_URL", "DISC_URL")
	_ = viper.BindEnv("notify.username")
	_ = viper.BindEnv("notify.channel_size")
	_ = viper.BindEnv("notify.send_timeout")

	_ = viper.BindEnv("journal.path")
	_ = viper.BindEnv("metrics.addr")
	_ = viper.BindEnv("log.level")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates and returns the Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT validate. Use this when CLI flags may still override fields.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
