package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/cloudcost/pkg/logging"
)

// ErrInvalid is returned by Validate for unusable settings.
var ErrInvalid = errors.New("invalid config")

// Config holds all cloudcost configuration. It is built once at startup and
// passed to the components that need it.
type Config struct {
	DBPath   string         `yaml:"db_path"`
	Logging  logging.Config `yaml:"logging"`
	Notify   NotifyConfig   `yaml:"notify"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
}

// NotifyConfig controls alert delivery channels.
type NotifyConfig struct {
	// Timeout bounds each channel's send; expiry counts as a channel failure.
	Timeout time.Duration `yaml:"timeout"`
	Email   EmailConfig   `yaml:"email"`
	Chat    ChatConfig    `yaml:"chat"`
}

// EmailConfig defines the SMTP email channel.
type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
	SMTPHost   string   `yaml:"smtp_host"`
	SMTPPort   int      `yaml:"smtp_port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
}

// ChatConfig defines the chat webhook channel (Slack-compatible payload).
type ChatConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// AlertsConfig controls alert suppression.
type AlertsConfig struct {
	// EscalationTiers are percent-over-budget thresholds, ascending. Within one
	// budget window a new alert is only raised when spend reaches a higher tier.
	EscalationTiers []float64 `yaml:"escalation_tiers"`
}

// ScheduleConfig controls `budget watch`.
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// MetricsConfig controls the Prometheus endpoint served by `budget watch`.
type MetricsConfig struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// AuditConfig controls the check run history.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath:  "data/cloudcost.db",
		Logging: logging.DefaultConfig(),
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
			Email: EmailConfig{
				SMTPHost: "smtp.gmail.com",
				SMTPPort: 587,
			},
		},
		Alerts: AlertsConfig{
			EscalationTiers: []float64{25, 50, 100},
		},
		Schedule: ScheduleConfig{
			Cron: "@every 24h",
		},
		Metrics: MetricsConfig{
			Namespace: "cloudcost",
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
	}
}

// Load reads a YAML config file, expands environment variables and validates
// the result. A .env file next to the config is loaded first; variables already
// set in the environment win.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults overlaid with environment variables, for runs
// without a config file.
func FromEnv() (*Config, error) {
	loadDotEnv(".env")
	cfg := Default()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("%w: db_path is empty", ErrInvalid)
	}
	if c.Notify.Timeout < 0 {
		return fmt.Errorf("%w: notify.timeout must not be negative", ErrInvalid)
	}
	for i, tier := range c.Alerts.EscalationTiers {
		if tier <= 0 {
			return fmt.Errorf("%w: alerts.escalation_tiers[%d] must be positive", ErrInvalid, i)
		}
		if i > 0 && tier <= c.Alerts.EscalationTiers[i-1] {
			return fmt.Errorf("%w: alerts.escalation_tiers must be strictly ascending", ErrInvalid)
		}
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("%w: audit.retention_days must not be negative", ErrInvalid)
	}
	if c.Notify.Email.SMTPPort < 0 || c.Notify.Email.SMTPPort > 65535 {
		return fmt.Errorf("%w: notify.email.smtp_port out of range", ErrInvalid)
	}
	return nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// applyEnv overlays the flat environment variables used by earlier
// deployments. Only variables that are set take effect.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("ENABLE_EMAIL"); ok {
		cfg.Notify.Email.Enabled = strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("EMAIL_SENDER"); ok {
		cfg.Notify.Email.Sender = v
	}
	if v, ok := os.LookupEnv("EMAIL_RECIPIENTS"); ok {
		cfg.Notify.Email.Recipients = splitList(v)
	}
	if v, ok := os.LookupEnv("SMTP_SERVER"); ok && v != "" {
		cfg.Notify.Email.SMTPHost = v
	}
	if v, ok := os.LookupEnv("SMTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Notify.Email.SMTPPort = port
		}
	}
	if v, ok := os.LookupEnv("SMTP_USERNAME"); ok {
		cfg.Notify.Email.Username = v
	}
	if v, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
		cfg.Notify.Email.Password = v
	}
	if v, ok := os.LookupEnv("ENABLE_SLACK"); ok {
		cfg.Notify.Chat.Enabled = strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("SLACK_WEBHOOK_URL"); ok {
		cfg.Notify.Chat.WebhookURL = v
	}
	if v, ok := os.LookupEnv("BUDGET_CHECK_INTERVAL"); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Schedule.Cron = fmt.Sprintf("@every %ds", secs)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
