package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Bidding        BiddingConfig        `yaml:"bidding"`
	Monitor        MonitorConfig        `yaml:"monitor"`
	Notify         NotifyConfig         `yaml:"notify"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings. Only the
// lifecycle monitor is gated on leadership; every replica serves bids.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// BiddingConfig tunes the bid resolution engine.
type BiddingConfig struct {
	// MaxCascadeSteps caps synthetic bids per cascade. Hitting it is a bug.
	MaxCascadeSteps int `yaml:"max_cascade_steps"`
	// CommitRetries bounds re-execution after an optimistic-write conflict.
	CommitRetries int `yaml:"commit_retries"`
}

// MonitorConfig controls the expired-auction sweep.
type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// NotifyConfig selects the notification channels. The log channel is
// always on; the others are enabled by filling in their settings.
type NotifyConfig struct {
	AMQP    AMQPConfig    `yaml:"amqp"`
	Discord DiscordConfig `yaml:"discord"`
}

// AMQPConfig holds RabbitMQ publisher settings.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Enabled reports whether the AMQP channel is configured.
func (a AMQPConfig) Enabled() bool { return a.URL != "" }

// DiscordConfig holds Discord delivery settings.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the Discord channel is configured.
func (d DiscordConfig) Enabled() bool { return d.Token != "" }

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-monitor",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Bidding: BiddingConfig{
			MaxCascadeSteps: 10000,
			CommitRetries:   5,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: 10 * time.Second,
		},
		Notify: NotifyConfig{
			AMQP: AMQPConfig{Exchange: "auction_events"},
		},
	}
}

// Load reads a YAML configuration file from the given path. ${VAR}
// references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlx", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"memory\"", c.Database.Driver))
	}
	if c.Bidding.MaxCascadeSteps <= 0 {
		errs = append(errs, fmt.Errorf("bidding.max_cascade_steps must be positive, got %d", c.Bidding.MaxCascadeSteps))
	}
	if c.Bidding.CommitRetries <= 0 {
		errs = append(errs, fmt.Errorf("bidding.commit_retries must be positive, got %d", c.Bidding.CommitRetries))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval))
	}
	if le := c.LeaderElection; le.Enabled && (le.RenewDeadline >= le.LeaseDuration || le.RetryPeriod <= 0) {
		errs = append(errs, fmt.Errorf("leader_election: need retry_period > 0 and renew_deadline (%s) < lease_duration (%s)", le.RenewDeadline, le.LeaseDuration))
	}
	if c.Notify.Discord.Enabled() && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, errors.New("notify.discord.channel_id is required when a discord token is set"))
	}
	if c.Notify.AMQP.Enabled() && c.Notify.AMQP.Exchange == "" {
		errs = append(errs, errors.New("notify.amqp.exchange must not be empty"))
	}
	return errors.Join(errs...)
}
