package core

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the console processes.
type Config struct {
	Port           string        // HTTP listen port (e.g., "3000")
	SessionKey     string        // Cookie signing/encryption key
	CookieSecure   bool          // Whether to set Secure flag on session cookie
	CookieSameSite string        // SameSite policy: Strict/Lax/None
	LogDir         string        // Directory to write application logs; empty = stderr only
	DatabaseURL    string        // PostgreSQL DSN for the attempt journal; empty disables it
	RedisURL       string        // Redis URL for view state; empty keeps state in memory
	LoginBaseURL   string        // Base URL of the login API
	LoginPath      string        // Path of the login API under LoginBaseURL
	AttemptTimeout time.Duration // Per-attempt deadline; 0 = none
	ViewIdleTTL    time.Duration // Views unseen for this long are torn down
	SweepInterval  time.Duration // How often idle views are swept
	StubUsersFile  string        // When set, /api/login is served from this YAML user list
	AllowedOrigins []string      // allowed origins for CORS/CSRF origin check

	JournalRetention time.Duration // worker: journal rows older than this are pruned
	PruneInterval    time.Duration // worker: how often pruning runs
}

// fileConfig mirrors Config for the optional YAML file. Zero values are ignored.
type fileConfig struct {
	Port           string   `yaml:"port"`
	SessionKey     string   `yaml:"session_key"`
	CookieSecure   *bool    `yaml:"cookie_secure"`
	CookieSameSite string   `yaml:"cookie_samesite"`
	LogDir         *string  `yaml:"log_dir"`
	DatabaseURL    string   `yaml:"database_url"`
	RedisURL       string   `yaml:"redis_url"`
	LoginBaseURL   string   `yaml:"login_base_url"`
	LoginPath      string   `yaml:"login_path"`
	AttemptTimeout string   `yaml:"attempt_timeout"`
	ViewIdleTTL    string   `yaml:"view_idle_ttl"`
	SweepInterval  string   `yaml:"sweep_interval"`
	StubUsersFile  string   `yaml:"stub_users_file"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	JournalRetention string `yaml:"journal_retention"`
	PruneInterval    string `yaml:"prune_interval"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Port:           "3000",
		SessionKey:     "change-this-session-key",
		CookieSameSite: "Strict",
		LogDir:         "/var/log/cloudui",
		LoginBaseURL:   "http://localhost:3000",
		LoginPath:      DefaultLoginPath,
		ViewIdleTTL:    DefaultStateTTL,
		SweepInterval:  time.Minute,

		JournalRetention: 30 * 24 * time.Hour,
		PruneInterval:    time.Hour,
	}
}

// Load populates Config from defaults, the YAML file named by CONFIG_PATH
// (if any), and environment variables, in that order.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Port = firstNonEmpty(f.Port, c.Port)
	c.SessionKey = firstNonEmpty(f.SessionKey, c.SessionKey)
	if f.CookieSecure != nil {
		c.CookieSecure = *f.CookieSecure
	}
	c.CookieSameSite = firstNonEmpty(f.CookieSameSite, c.CookieSameSite)
	if f.LogDir != nil {
		c.LogDir = *f.LogDir
	}
	c.DatabaseURL = firstNonEmpty(f.DatabaseURL, c.DatabaseURL)
	c.RedisURL = firstNonEmpty(f.RedisURL, c.RedisURL)
	c.LoginBaseURL = firstNonEmpty(f.LoginBaseURL, c.LoginBaseURL)
	c.LoginPath = firstNonEmpty(f.LoginPath, c.LoginPath)
	c.StubUsersFile = firstNonEmpty(f.StubUsersFile, c.StubUsersFile)
	if len(f.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.AllowedOrigins
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"attempt_timeout", f.AttemptTimeout, &c.AttemptTimeout},
		{"view_idle_ttl", f.ViewIdleTTL, &c.ViewIdleTTL},
		{"sweep_interval", f.SweepInterval, &c.SweepInterval},
		{"journal_retention", f.JournalRetention, &c.JournalRetention},
		{"prune_interval", f.PruneInterval, &c.PruneInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("failed to parse config: %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = firstNonEmpty(os.Getenv("PORT"), c.Port)
	c.SessionKey = firstNonEmpty(os.Getenv("SESSION_KEY"), c.SessionKey)
	c.CookieSecure = boolFromEnv("COOKIE_SECURE", c.CookieSecure)
	c.CookieSameSite = firstNonEmpty(os.Getenv("COOKIE_SAMESITE"), c.CookieSameSite)
	if v, ok := os.LookupEnv("LOG_DIR"); ok {
		c.LogDir = v
	}
	c.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_URL"), c.DatabaseURL)
	c.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), c.RedisURL)
	c.LoginBaseURL = firstNonEmpty(os.Getenv("LOGIN_BASE_URL"), c.LoginBaseURL)
	c.LoginPath = firstNonEmpty(os.Getenv("LOGIN_PATH"), c.LoginPath)
	c.AttemptTimeout = durationFromEnv("ATTEMPT_TIMEOUT", c.AttemptTimeout)
	c.ViewIdleTTL = durationFromEnv("VIEW_IDLE_TTL", c.ViewIdleTTL)
	c.SweepInterval = durationFromEnv("SWEEP_INTERVAL", c.SweepInterval)
	c.StubUsersFile = firstNonEmpty(os.Getenv("STUB_USERS_FILE"), c.StubUsersFile)
	c.JournalRetention = durationFromEnv("JOURNAL_RETENTION", c.JournalRetention)
	c.PruneInterval = durationFromEnv("PRUNE_INTERVAL", c.PruneInterval)
	if origins := parseCSV(os.Getenv("ALLOWED_ORIGINS")); len(origins) > 0 {
		c.AllowedOrigins = origins
	}
}

// Validate checks settings that would otherwise fail later at runtime.
func (c Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.SessionKey) == "" {
		return errors.New("session key is required")
	}
	if c.LoginBaseURL != "" {
		u, err := url.Parse(c.LoginBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("login base url %q must be an absolute http(s) url", c.LoginBaseURL)
		}
	}
	if c.AttemptTimeout < 0 {
		return errors.New("attempt timeout must not be negative")
	}
	if c.ViewIdleTTL <= 0 {
		return errors.New("view idle ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.JournalRetention <= 0 || c.PruneInterval <= 0 {
		return errors.New("journal retention and prune interval must be positive")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// durationFromEnv reads a time.Duration (e.g. "10s"), falling back to defaultVal when empty or invalid.
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
