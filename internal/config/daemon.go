package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all daemon configuration, loaded from environment variables.
type Config struct {
	// Browser connection
	CDPURL            string        `koanf:"cdp_url"`
	CDPConnectTimeout time.Duration `koanf:"cdp_connect_timeout"`

	// Event sources
	PollInterval time.Duration `koanf:"poll_interval"` // 0 disables the poll watcher
	SettleDelay  time.Duration `koanf:"settle_delay"`  // wait before acting on a new window

	// Command API
	ListenAddr     string `koanf:"listen_addr"`
	WarningBaseURL string `koanf:"warning_base_url"` // base URL the warning view is reachable at

	// Worker Pool
	PoolWorkers    int           `koanf:"pool_workers"`
	PoolQueueDepth int           `koanf:"pool_queue_depth"`
	PoolMaxRetries int           `koanf:"pool_max_retries"`
	PoolRetryBase  time.Duration `koanf:"pool_retry_base"`

	// Storage
	DataDir          string        `koanf:"data_dir"`
	ClosureRetention time.Duration `koanf:"closure_retention"`

	// Activity log
	ActivityLogMax int `koanf:"activity_log_max"`

	// Notifications
	NotifyWebhookURL string        `koanf:"notify_webhook_url"`
	NotifyTimeout    time.Duration `koanf:"notify_timeout"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"cdp_url":             "",
		"cdp_connect_timeout": "15s",
		"poll_interval":       "2s",
		"settle_delay":        "500ms",
		"listen_addr":         "127.0.0.1:8732",
		"warning_base_url":    "http://127.0.0.1:8732",
		"pool_workers":        1,
		"pool_queue_depth":    256,
		"pool_max_retries":    2,
		"pool_retry_base":     "1s",
		"data_dir":            "/data",
		"closure_retention":   "168h",
		"activity_log_max":    50,
		"notify_webhook_url":  "",
		"notify_timeout":      "5s",
		"log_level":           "info",
		"log_format":          "json",
		"metrics_enabled":     true,
		"metrics_addr":        ":9090",
		"health_addr":         ":8081",
		"janitor_interval":    "1h",
	}
}

// Load reads daemon configuration from environment variables.
func Load() (*Config, error) {
	// Use "." as delimiter so env vars with "_" in their names are treated
	// as flat keys, not nested paths. E.g. POLL_INTERVAL → "poll_interval"
	// maps to struct tag koanf:"poll_interval" without any nesting.
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sanitise removes a single layer of matching surrounding quotes from all
// string fields. This normalises values from Docker --env-file which does
// not strip shell quoting.
func (c *Config) sanitise() {
	c.CDPURL = stripEnvQuotes(c.CDPURL)
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.WarningBaseURL = stripEnvQuotes(c.WarningBaseURL)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.NotifyWebhookURL = stripEnvQuotes(c.NotifyWebhookURL)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)
}

// stripEnvQuotes removes a single layer of matching surrounding single or
// double quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}

	if c.PoolWorkers < 1 || c.PoolWorkers > 16 {
		return fmt.Errorf("POOL_WORKERS must be 1–16; got %d", c.PoolWorkers)
	}
	if c.PoolQueueDepth < 1 {
		return fmt.Errorf("POOL_QUEUE_DEPTH must be >= 1; got %d", c.PoolQueueDepth)
	}

	if c.ActivityLogMax < 1 {
		return fmt.Errorf("ACTIVITY_LOG_MAX must be >= 1; got %d", c.ActivityLogMax)
	}

	if c.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL must be >= 0; got %s", c.PollInterval)
	}

	if c.ClosureRetention <= 0 {
		return fmt.Errorf("CLOSURE_RETENTION must be > 0; got %s", c.ClosureRetention)
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.WarningBaseURL != "" &&
		!strings.HasPrefix(c.WarningBaseURL, "http://") && !strings.HasPrefix(c.WarningBaseURL, "https://") {
		return fmt.Errorf("WARNING_BASE_URL must start with http:// or https://; got %q", c.WarningBaseURL)
	}

	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
