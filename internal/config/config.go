// Package config provides dynamic configuration management for healdash.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vesaa/healdash/internal/models"
)

// Config holds all runtime configuration for healdash.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// ControlPort (6677): dashboard REST API + live feed, JWT protected
	ControlPort int `mapstructure:"control_port"`
	// DataPort (1616): agent telemetry ingest, Bearer token protected
	DataPort   int    `mapstructure:"data_port"`
	ServerMode string `mapstructure:"server_mode"` // "debug" or "release"

	// ── Storage ──────────────────────────────────────────────────────────────
	DBDriver      string `mapstructure:"db_driver"` // "sqlite", "redis" or "memory"
	DBPath        string `mapstructure:"db_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// ── Security ──────────────────────────────────────────────────────────────
	AuthEnabled bool `mapstructure:"auth_enabled"`
	// JWTSecret: HS256 signing key for control-plane tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AgentToken: pre-shared key for data-plane agent requests.
	AgentToken string `mapstructure:"agent_token"`
	AdminUser  string `mapstructure:"admin_user"`
	AdminPass  string `mapstructure:"admin_pass"`

	// ── Agent ────────────────────────────────────────────────────────────────
	AgentJoinAddr      string `mapstructure:"agent_join_addr"`
	AgentInterval      int    `mapstructure:"agent_interval_seconds"`
	AgentName          string `mapstructure:"agent_name"`
	AgentOutboundToken string `mapstructure:"agent_outbound_token"`

	// ── SSH (used by the reachability check only) ─────────────────────────────
	SSHUser    string `mapstructure:"ssh_user"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" or "json"

	Simulator SimulatorConfig   `mapstructure:"simulator"`
	Healing   HealingConfig     `mapstructure:"healing"`
	Notify    NotifyConfig      `mapstructure:"notify"`
	Influx    InfluxConfig      `mapstructure:"influx"`
	Dashboard DashboardDefaults `mapstructure:"dashboard"`
}

// SimulatorConfig drives the synthetic telemetry loops.
type SimulatorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval is the tick period; each tick credits it to a Running service's uptime.
	Interval       time.Duration `mapstructure:"interval"`
	LogProbability float64       `mapstructure:"log_probability"`
	SeedServices   int           `mapstructure:"seed_services"`
	DemoEnabled    bool          `mapstructure:"demo_enabled"`
	DemoInterval   time.Duration `mapstructure:"demo_interval"`
}

// HealingConfig tunes the workflow engine.
type HealingConfig struct {
	RemediationDelay time.Duration `mapstructure:"remediation_delay"`
	BulkLimit        int           `mapstructure:"bulk_limit"`
	ErrorThreshold   int           `mapstructure:"error_threshold"`
}

// NotifyConfig tunes outbound webhook calls.
type NotifyConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// InfluxConfig enables the time-series export when URL is set.
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// DashboardDefaults seed the DashboardConfig singleton on first start.
type DashboardDefaults struct {
	WebhookURL           string  `mapstructure:"webhook_url"`
	WebhookEnabled       bool    `mapstructure:"webhook_enabled"`
	SSHHost              string  `mapstructure:"ssh_host"`
	SSHPort              int     `mapstructure:"ssh_port"`
	AlertThresholdCPU    float64 `mapstructure:"alert_threshold_cpu"`
	AlertThresholdMemory float64 `mapstructure:"alert_threshold_memory"`
	MonitoringInterval   int     `mapstructure:"monitoring_interval"`
	AutoHealingEnabled   bool    `mapstructure:"auto_healing_enabled"`
}

// DashboardConfig converts the defaults into the persisted singleton.
func (d DashboardDefaults) DashboardConfig() models.DashboardConfig {
	return models.DashboardConfig{
		ID:                   models.DashboardConfigID,
		WebhookURL:           d.WebhookURL,
		WebhookEnabled:       d.WebhookEnabled,
		SSHHost:              d.SSHHost,
		SSHPort:              d.SSHPort,
		AlertThresholdCPU:    d.AlertThresholdCPU,
		AlertThresholdMemory: d.AlertThresholdMemory,
		MonitoringInterval:   d.MonitoringInterval,
		AutoHealingEnabled:   d.AutoHealingEnabled,
	}
}

// Load reads config from file (./config.yaml or ~/.healdash/config.yaml)
// and falls back to smart defaults. Environment variables with prefix HEALDASH_
// override file values; nested keys use "_" (HEALDASH_HEALING_BULK_LIMIT).
func Load() (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	// --- Config file ---
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.healdash")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("HEALDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("control_port", 6677)
	v.SetDefault("data_port", 1616)
	v.SetDefault("server_mode", "release")

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "healdash.db")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	// Security defaults: MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("auth_enabled", true)
	v.SetDefault("jwt_secret", "hd$Q8r!vN3@kZ7#pL2^wX5&tM9*cB4")
	v.SetDefault("agent_token", "healdash-agent-key")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("agent_join_addr", "127.0.0.1:1616")
	v.SetDefault("agent_interval_seconds", 30)
	v.SetDefault("agent_name", "")
	v.SetDefault("agent_outbound_token", "healdash-agent-key")

	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_key_path", "~/.ssh/id_rsa")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("simulator.enabled", true)
	v.SetDefault("simulator.interval", "5s")
	v.SetDefault("simulator.log_probability", 0.15)
	v.SetDefault("simulator.seed_services", 12)
	v.SetDefault("simulator.demo_enabled", true)
	v.SetDefault("simulator.demo_interval", "2s")

	v.SetDefault("healing.remediation_delay", "3s")
	v.SetDefault("healing.bulk_limit", 3)
	v.SetDefault("healing.error_threshold", 5)

	v.SetDefault("notify.timeout", "15s")
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.initial_backoff", "2s")

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "healdash")
	v.SetDefault("influx.bucket", "telemetry")

	v.SetDefault("dashboard.webhook_url", "")
	v.SetDefault("dashboard.webhook_enabled", true)
	v.SetDefault("dashboard.ssh_host", "")
	v.SetDefault("dashboard.ssh_port", 22)
	v.SetDefault("dashboard.alert_threshold_cpu", 80.0)
	v.SetDefault("dashboard.alert_threshold_memory", 1000.0)
	v.SetDefault("dashboard.monitoring_interval", 30)
	v.SetDefault("dashboard.auto_healing_enabled", false)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the rest of the system cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "redis", "memory", "":
	default:
		return fmt.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	if c.Simulator.Interval <= 0 || c.Simulator.DemoInterval <= 0 {
		return errors.New("simulator intervals must be positive")
	}
	if c.Simulator.LogProbability < 0 || c.Simulator.LogProbability > 1 {
		return errors.New("simulator.log_probability must be within [0,1]")
	}
	if c.Healing.BulkLimit < 1 {
		return errors.New("healing.bulk_limit must be at least 1")
	}
	if c.Healing.RemediationDelay < 0 {
		return errors.New("healing.remediation_delay must not be negative")
	}
	if c.Notify.MaxAttempts < 1 {
		return errors.New("notify.max_attempts must be at least 1")
	}
	if c.Notify.Timeout <= 0 {
		return errors.New("notify.timeout must be positive")
	}
	if c.Dashboard.AlertThresholdCPU <= 0 || c.Dashboard.AlertThresholdMemory <= 0 {
		return errors.New("dashboard alert thresholds must be positive")
	}
	if c.Dashboard.MonitoringInterval < 1 {
		return errors.New("dashboard.monitoring_interval must be at least 1 second")
	}
	return nil
}
