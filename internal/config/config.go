package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/alexjbarnes/iotcloud/internal/keys"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secret store backends.
const (
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config holds all environment-based configuration for iotcloud.
type Config struct {
	// Cloud API endpoint and OAuth client.
	APIURL       string `env:"CLOUD_API_URL" envDefault:"https://api.particle.io"`
	ClientID     string `env:"CLOUD_CLIENT_ID" envDefault:"particle"`
	ClientSecret string `env:"CLOUD_CLIENT_SECRET" envDefault:"particle"`

	// Account credentials for headless login. Optional; the CLI prompts
	// when they are absent.
	Username string `env:"CLOUD_USERNAME"`
	Password string `env:"CLOUD_PASSWORD"`

	// MFASecret is the base32 TOTP seed used to answer two-step login.
	MFASecret string `env:"CLOUD_MFA_SECRET"`

	// TokenExpiresIn requests a token lifetime in seconds. 0 lets the
	// server decide.
	TokenExpiresIn int64 `env:"CLOUD_TOKEN_EXPIRES_IN" envDefault:"0"`

	// StateDir holds the secret store file. Defaults to ~/.iotcloud.
	StateDir string `env:"STATE_DIR"`

	// SecretBackend selects where the key and token are kept.
	SecretBackend string `env:"SECRET_BACKEND" envDefault:"bolt"`

	// SecretKeeperURL optionally wraps every stored secret with a
	// gocloud.dev keeper (base64key://, awskms://, gcpkms://, azurekeyvault://).
	SecretKeeperURL string `env:"SECRET_KEEPER_URL"`

	Cipher string `env:"CIPHER" envDefault:"chacha20poly1305"`

	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	EventIdleTimeout time.Duration `env:"EVENT_IDLE_TIMEOUT" envDefault:"90s"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `env:"METRICS_ADDR"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return nil, err
		}

		cfg.StateDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("resolving state dir to absolute path: %w", err)
	}

	cfg.StateDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("CLOUD_API_URL must be an http or https URL, got %q", c.APIURL)
	}

	if c.ClientID == "" {
		return fmt.Errorf("CLOUD_CLIENT_ID must not be empty")
	}

	if c.Password != "" && c.Username == "" {
		return fmt.Errorf("CLOUD_USERNAME is required when CLOUD_PASSWORD is set")
	}

	if c.TokenExpiresIn < 0 {
		return fmt.Errorf("CLOUD_TOKEN_EXPIRES_IN must not be negative")
	}

	switch c.SecretBackend {
	case BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("SECRET_BACKEND must be %q or %q, got %q", BackendBolt, BackendMemory, c.SecretBackend)
	}

	if _, err := keys.ParseAlgorithm(c.Cipher); err != nil {
		return fmt.Errorf("CIPHER: %w", err)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.EventIdleTimeout < 0 {
		return fmt.Errorf("EVENT_IDLE_TIMEOUT must not be negative")
	}

	return nil
}

// DefaultStateDir returns ~/.iotcloud.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".iotcloud"), nil
}

// Algorithm returns the configured AEAD. validate has already checked it.
func (c *Config) Algorithm() keys.Algorithm {
	alg, _ := keys.ParseAlgorithm(c.Cipher)
	return alg
}

// Credentials builds mint credentials from the configured account. otp
// may be empty.
func (c *Config) Credentials(otp string) models.Credentials {
	return models.Credentials{
		Username:     c.Username,
		Password:     c.Password,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		OTP:          otp,
		ExpiresIn:    c.TokenExpiresIn,
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
