// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from config.yaml.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	DB        DBConfig        `yaml:"db"`
	Limits    LimitsConfig    `yaml:"limits"`
	Session   SessionConfig   `yaml:"session"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// GatewayConfig selects and configures the chat platform adapter.
type GatewayConfig struct {
	Platform  string `yaml:"platform"`   // "slack" or "discord"
	BotToken  string `yaml:"bot_token"`  // platform bot token
	AppToken  string `yaml:"app_token"`  // slack app-level token (socket mode)
	ChannelID string `yaml:"channel_id"` // default channel for outbound messages
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LimitsConfig holds the two rate-limit profiles and the block cool-down.
// Windows and durations are in seconds.
type LimitsConfig struct {
	MessageLimit   int `yaml:"message_limit"`    // free-text events per message window
	MessageWindow  int `yaml:"message_window"`   // sliding window for free-text events, seconds
	ActionLimit    int `yaml:"action_limit"`     // structured actions per action window
	ActionWindow   int `yaml:"action_window"`    // sliding window for structured actions, seconds
	BlockDuration  int `yaml:"block_duration"`   // full cool-down once either profile trips, seconds
	SweepInterval  int `yaml:"sweep_interval"`   // how often stale windows are purged, seconds
}

// MessageWindowDur returns the message window as a time.Duration.
func (l LimitsConfig) MessageWindowDur() time.Duration { return time.Duration(l.MessageWindow) * time.Second }

// ActionWindowDur returns the action window as a time.Duration.
func (l LimitsConfig) ActionWindowDur() time.Duration { return time.Duration(l.ActionWindow) * time.Second }

// BlockDur returns the block cool-down as a time.Duration.
func (l LimitsConfig) BlockDur() time.Duration { return time.Duration(l.BlockDuration) * time.Second }

// SweepDur returns the sweep interval as a time.Duration.
func (l LimitsConfig) SweepDur() time.Duration { return time.Duration(l.SweepInterval) * time.Second }

// SessionConfig holds the session store TTLs (minutes) and the digit-token guard.
type SessionConfig struct {
	SelectionTTL int `yaml:"selection_ttl"` // active provider selection, minutes
	CaptureTTL   int `yaml:"capture_ttl"`   // sip / error-code scratch values, minutes
	DigitGuard   int `yaml:"digit_guard"`   // min digits-only length treated as capture input
}

// SelectionTTLDur returns the selection TTL as a time.Duration.
func (s SessionConfig) SelectionTTLDur() time.Duration { return time.Duration(s.SelectionTTL) * time.Minute }

// CaptureTTLDur returns the capture TTL as a time.Duration.
func (s SessionConfig) CaptureTTLDur() time.Duration { return time.Duration(s.CaptureTTL) * time.Minute }

// SchedulerConfig holds cron specs for the background jobs. An empty spec
// disables the job.
type SchedulerConfig struct {
	ReportSync    string `yaml:"report_sync"`    // hourly stats push to the sheet service
	SheetRollover string `yaml:"sheet_rollover"` // weekly sheet creation
	SipReset      string `yaml:"sip_reset"`      // daily sip assignment reset
	FailureLimit  int    `yaml:"failure_limit"`  // consecutive failures before escalation
}

// AlertsConfig controls operator notifications.
type AlertsConfig struct {
	AdminIDs []int64 `yaml:"admin_ids"` // recipients for critical alerts
	Cooldown int     `yaml:"cooldown"`  // de-dup window for identical alerts, minutes
}

// CooldownDur returns the alert cooldown as a time.Duration.
func (a AlertsConfig) CooldownDur() time.Duration { return time.Duration(a.Cooldown) * time.Minute }

// SheetsConfig holds service-account credentials for the spreadsheet service.
type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	ClientEmail   string `yaml:"client_email"`
	PrivateKey    string `yaml:"private_key"`
	TokenURL      string `yaml:"token_url"`
}

// DashboardConfig controls the status HTTP server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" {
		c.DB.Database = "switchboard"
	}
	if c.Limits.MessageLimit == 0 {
		c.Limits.MessageLimit = 5
	}
	if c.Limits.MessageWindow == 0 {
		c.Limits.MessageWindow = 10
	}
	if c.Limits.ActionLimit == 0 {
		c.Limits.ActionLimit = 50
	}
	if c.Limits.ActionWindow == 0 {
		c.Limits.ActionWindow = 60
	}
	if c.Limits.BlockDuration == 0 {
		c.Limits.BlockDuration = 60
	}
	if c.Limits.SweepInterval == 0 {
		c.Limits.SweepInterval = 300
	}
	if c.Session.SelectionTTL == 0 {
		c.Session.SelectionTTL = 30
	}
	if c.Session.CaptureTTL == 0 {
		c.Session.CaptureTTL = 10
	}
	if c.Session.DigitGuard == 0 {
		c.Session.DigitGuard = 2
	}
	if c.Scheduler.ReportSync == "" {
		c.Scheduler.ReportSync = "0 8-19 * * 1-6"
	}
	if c.Scheduler.SheetRollover == "" {
		c.Scheduler.SheetRollover = "1 0 * * 1"
	}
	if c.Scheduler.SipReset == "" {
		c.Scheduler.SipReset = "0 8 * * 1-6"
	}
	if c.Scheduler.FailureLimit == 0 {
		c.Scheduler.FailureLimit = 3
	}
	if c.Alerts.Cooldown == 0 {
		c.Alerts.Cooldown = 30
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Gateway.Platform {
	case "slack", "discord":
	case "":
		errs = append(errs, "gateway.platform is required")
	default:
		errs = append(errs, fmt.Sprintf("gateway.platform %q is not supported (slack, discord)", c.Gateway.Platform))
	}
	if c.Gateway.BotToken == "" {
		errs = append(errs, "gateway.bot_token is required")
	}
	if c.Gateway.Platform == "slack" && c.Gateway.AppToken == "" {
		errs = append(errs, "gateway.app_token is required for slack socket mode")
	}
	if c.Limits.MessageLimit < 0 || c.Limits.ActionLimit < 0 {
		errs = append(errs, "limits must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
