package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable that overrides a JSON setting
const EnvPrefix = "TRUSTCIRCLES_"

// DefaultMasterSecret seeds the master key until an administrator unlocks it with a real secret
const DefaultMasterSecret = "trustcircles-default-master-secret"

// Config holds the configuration of the trust circles server
type Config struct {
	WebAddr      string `json:"web_addr" validate:"required"`
	WebPort      int    `json:"web_port" validate:"min=1,max=65535"`
	DatabasePath string `json:"database_path" validate:"required"`
	LogPath      string `json:"log_path"`
	LogLevel     string `json:"log_level" validate:"oneof=debug info warn error"`

	TrustedProxies []string `json:"trusted_proxies" validate:"dive,ip|cidr"` // Honored by release builds only

	AdminAccountName string `json:"admin_account_name" validate:"required,max=75"`

	Algorithms       AlgorithmConfig `json:"algorithms"`
	PBKDF2Iterations int             `json:"pbkdf2_iterations" validate:"min=1000"`

	DefaultMasterSecret       string `json:"default_master_secret" validate:"required,min=8"`
	SecretFetchTimeoutSeconds int    `json:"secret_fetch_timeout_seconds" validate:"min=1,max=300"`

	SessionLifetimeMinutes int    `json:"session_lifetime_minutes" validate:"min=1"`
	JWTSecret              string `json:"jwt_secret" validate:"omitempty,min=32"` // generated per process when empty

	RotateOnRemoval  bool `json:"rotate_on_removal"`
	GracePeriodHours int  `json:"grace_period_hours" validate:"min=0"`

	LockoutThreshold     int `json:"lockout_threshold" validate:"min=1"`
	LockoutWindowMinutes int `json:"lockout_window_minutes" validate:"min=1"`

	CredentialRequestsPerMinute int `json:"credential_requests_per_minute" validate:"min=1"` // Per client IP, for unlock and login

	SMTP SMTPConfig `json:"smtp"`
}

type AlgorithmConfig struct {
	Symmetric  string `json:"symmetric" validate:"required"`
	Asymmetric string `json:"asymmetric" validate:"required"`
	Signature  string `json:"signature" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// SMTPConfig configures the security notification emails
type SMTPConfig struct {
	Enabled               bool   `json:"enabled"`
	Host                  string `json:"host" validate:"required_if=Enabled true"`
	Port                  int    `json:"port" validate:"min=0,max=65535"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	From                  string `json:"from" validate:"required_if=Enabled true"`
	Recipient             string `json:"recipient" validate:"required_if=Enabled true"`
	NotifyIntervalMinutes int    `json:"notify_interval_minutes" validate:"min=0"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {

	dbDir := "."

	homeDir, err := os.UserHomeDir()
	if err == nil && homeDir != "" {
		dbDir = filepath.Join(homeDir, "trustcircles")

		// Ensure the directory exists
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			dbDir = "."
		}
	}

	defaults := encryption.DefaultAlgorithms()

	return &Config{
		WebAddr:          "127.0.0.1",
		WebPort:          8080,
		DatabasePath:     filepath.Join(dbDir, "trustcircles.db"),
		LogPath:          "logs",
		LogLevel:         "info",
		AdminAccountName: "admin",
		Algorithms: AlgorithmConfig{
			Symmetric:  string(defaults.Symmetric),
			Asymmetric: string(defaults.Asymmetric),
			Signature:  string(defaults.Signature),
			Password:   string(defaults.Password),
		},
		PBKDF2Iterations:          encryption.DefaultEngineSettings().PBKDF2Iterations,
		DefaultMasterSecret:       DefaultMasterSecret,
		SecretFetchTimeoutSeconds: 10,
		SessionLifetimeMinutes:    60,
		RotateOnRemoval:           true,
		GracePeriodHours:          24 * 7,
		LockoutThreshold:          5,
		LockoutWindowMinutes:      15,

		CredentialRequestsPerMinute: 10,

		SMTP: SMTPConfig{
			Port:                  587,
			NotifyIntervalMinutes: 30,
		},
	}
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error and variables that are already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadConfig loads the configuration from a JSON file and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		// If the file doesn't exist, we can proceed with the default config
	} else {
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := config.applyEnvironment(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnvironment() error {
	texts := map[string]*string{
		"WEB_ADDR":              &c.WebAddr,
		"DATABASE_PATH":         &c.DatabasePath,
		"LOG_PATH":              &c.LogPath,
		"LOG_LEVEL":             &c.LogLevel,
		"ADMIN_ACCOUNT_NAME":    &c.AdminAccountName,
		"DEFAULT_MASTER_SECRET": &c.DefaultMasterSecret,
		"JWT_SECRET":            &c.JWTSecret,
		"SMTP_HOST":             &c.SMTP.Host,
		"SMTP_USERNAME":         &c.SMTP.Username,
		"SMTP_PASSWORD":         &c.SMTP.Password,
		"SMTP_FROM":             &c.SMTP.From,
		"SMTP_RECIPIENT":        &c.SMTP.Recipient,
	}
	for name, target := range texts {
		if value, ok := os.LookupEnv(EnvPrefix + name); ok {
			*target = value
		}
	}

	ints := map[string]*int{
		"WEB_PORT":          &c.WebPort,
		"PBKDF2_ITERATIONS": &c.PBKDF2Iterations,
		"SMTP_PORT":         &c.SMTP.Port,
	}
	for name, target := range ints {
		value, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*target = parsed
	}

	if value, ok := os.LookupEnv(EnvPrefix + "SMTP_ENABLED"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %sSMTP_ENABLED: %w", EnvPrefix, err)
		}
		c.SMTP.Enabled = enabled
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := encryption.NewCatalog(c.Algorithms.Defaults()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}

	return nil
}

func (a AlgorithmConfig) Defaults() encryption.Defaults {
	return encryption.Defaults{
		Symmetric:  encryption.AlgorithmID(a.Symmetric),
		Asymmetric: encryption.AlgorithmID(a.Asymmetric),
		Signature:  encryption.AlgorithmID(a.Signature),
		Password:   encryption.AlgorithmID(a.Password),
	}
}

func (c *Config) EngineSettings() encryption.EngineSettings {
	settings := encryption.DefaultEngineSettings()
	settings.PBKDF2Iterations = c.PBKDF2Iterations
	return settings
}

func (c *Config) SecretFetchTimeout() time.Duration {
	return time.Duration(c.SecretFetchTimeoutSeconds) * time.Second
}

func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionLifetimeMinutes) * time.Minute
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodHours) * time.Hour
}

func (c *Config) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutWindowMinutes) * time.Minute
}

func (c *Config) NotifyInterval() time.Duration {
	return time.Duration(c.SMTP.NotifyIntervalMinutes) * time.Minute
}
