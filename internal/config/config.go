// Package config provides environment-variable-first configuration loading
// with optional YAML file and dotenv fallbacks.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	SMTP      SMTPConfig      `yaml:"smtp"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
	SES       SESConfig       `yaml:"ses"`
	Admin     AdminConfig     `yaml:"admin"`
	Settings  SettingsConfig  `yaml:"settings"`
	Sink      SinkConfig      `yaml:"sink"`
	Transport TransportConfig `yaml:"transport"`
}

// SMTPConfig holds the SMTP listener configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	// ConnectionsPerMinute limits new connections per client IP; 0 disables.
	ConnectionsPerMinute int `yaml:"connections_per_minute"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SESConfig holds AWS SES configuration for the ses mailer.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// AdminConfig holds the settings API listener. An empty Listen disables it.
type AdminConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SettingsConfig locates the persisted mail system and sink settings.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// SinkConfig holds install defaults and formatting options for the sink.
type SinkConfig struct {
	// FilePath seeds file_path on first run.
	FilePath string `yaml:"file_path"`
	// LineEndings is lf, crlf or cr; empty means the platform newline.
	LineEndings string `yaml:"line_endings"`
	// DefaultMailer seeds the mail system default on first run.
	DefaultMailer string `yaml:"default_mailer"`
	// FallbackMailer is restored on deactivation when nothing was remembered.
	FallbackMailer string `yaml:"fallback_mailer"`
}

// TransportConfig describes the sendmail-style transport being emulated.
type TransportConfig struct {
	SendmailPath string `yaml:"sendmail_path"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()
	return cfg, nil
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
	c.Settings.Path = "./data/settings.yaml"
	c.Sink.FilePath = "./data/mail-sink.log"
	c.Sink.DefaultMailer = "stdout"
	c.Sink.FallbackMailer = "stdout"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	strVars := map[string]*string{
		"SMTP_LISTEN":           &c.SMTP.Listen,
		"SMTP_HOSTNAME":         &c.SMTP.Hostname,
		"SMTP_USERNAME":         &c.SMTP.Username,
		"SMTP_PASSWORD":         &c.SMTP.Password,
		"TLS_CERT_FILE":         &c.TLS.CertFile,
		"TLS_KEY_FILE":          &c.TLS.KeyFile,
		"SES_REGION":            &c.SES.Region,
		"SES_ACCESS_KEY_ID":     &c.SES.AccessKeyID,
		"SES_SECRET_ACCESS_KEY": &c.SES.SecretAccessKey,
		"SES_SENDER":            &c.SES.Sender,
		"ADMIN_LISTEN":          &c.Admin.Listen,
		"ADMIN_USERNAME":        &c.Admin.Username,
		"ADMIN_PASSWORD":        &c.Admin.Password,
		"SETTINGS_PATH":         &c.Settings.Path,
		"MAIL_SINK_FILE_PATH":   &c.Sink.FilePath,
		"MAIL_LINE_ENDINGS":     &c.Sink.LineEndings,
		"MAIL_DEFAULT_MAILER":   &c.Sink.DefaultMailer,
		"MAIL_FALLBACK_MAILER":  &c.Sink.FallbackMailer,
		"SENDMAIL_PATH":         &c.Transport.SendmailPath,
	}
	for name, dst := range strVars {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}
	if v := os.Getenv("SMTP_CONNECTIONS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.SMTP.ConnectionsPerMinute = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
