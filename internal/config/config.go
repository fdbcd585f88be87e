// Package config loads the rsakit YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/rsakit/internal/keyfile"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

// Environment variables read by the CLI.
const (
	EnvConfig   = "RSAKIT_CONFIG"
	EnvAuditLog = "RSAKIT_AUDIT_LOG"
)

// Config represents the YAML configuration file.
type Config struct {
	Keygen KeygenSettings `yaml:"keygen"`

	// Blinding enables blinding of private-key operations.
	Blinding *bool `yaml:"blinding"`

	// Hash is the default signature hash ("none" for raw signatures).
	Hash string `yaml:"hash"`

	// KeyFormat is the default output format for written keys.
	KeyFormat string `yaml:"key_format"`

	// AuditLog is the path of the audit journal. Empty disables auditing.
	AuditLog string `yaml:"audit_log"`

	// PassphraseEnv names the environment variable holding the PEM
	// passphrase for private keys.
	PassphraseEnv string `yaml:"passphrase_env"`

	// EnvFile is a dotenv file loaded into the environment at startup,
	// typically holding the passphrase variable. Relative paths are
	// resolved against the config file directory. Variables already set
	// in the environment win.
	EnvFile string `yaml:"env_file"`
}

// KeygenSettings holds key generation defaults.
type KeygenSettings struct {
	Bits           int `yaml:"bits"`
	Primes         int `yaml:"primes"`
	PublicExponent int `yaml:"public_exponent"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file. Missing fields take their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.EnvFile != "" && !filepath.IsAbs(cfg.EnvFile) {
		cfg.EnvFile = filepath.Join(filepath.Dir(path), cfg.EnvFile)
	}
	return &cfg, nil
}

// LoadOrDefault loads path, or the file named by RSAKIT_CONFIG when path is
// empty, or returns Default when neither is set. It then loads env_file, so
// RSAKIT_AUDIT_LOG may come from there too, and lets RSAKIT_AUDIT_LOG
// override audit_log.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadEnvFile(); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvAuditLog); v != "" {
		cfg.AuditLog = v
	}
	return cfg, nil
}

// LoadEnvFile loads env_file into the process environment, if configured.
func (c *Config) LoadEnvFile() error {
	if c.EnvFile == "" {
		return nil
	}
	if err := godotenv.Load(c.EnvFile); err != nil {
		return fmt.Errorf("failed to load env_file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Keygen.Bits == 0 {
		c.Keygen.Bits = 2048
	}
	if c.Keygen.Primes == 0 {
		c.Keygen.Primes = 2
	}
	if c.Keygen.PublicExponent == 0 {
		c.Keygen.PublicExponent = rsa.DefaultPublicExponent
	}
	if c.Keygen.MaxAttempts == 0 {
		c.Keygen.MaxAttempts = rsa.DefaultMaxAttempts
	}
	if c.Blinding == nil {
		on := true
		c.Blinding = &on
	}
	if c.Hash == "" {
		c.Hash = "sha256"
	}
	if c.KeyFormat == "" {
		c.KeyFormat = string(keyfile.FormatPEM)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Keygen.Primes < 2 {
		return fmt.Errorf("keygen.primes must be at least 2, got %d", c.Keygen.Primes)
	}
	if c.Keygen.Bits < 16 {
		return fmt.Errorf("keygen.bits must be at least 16, got %d", c.Keygen.Bits)
	}
	if e := c.Keygen.PublicExponent; e < 3 || e%2 == 0 {
		return fmt.Errorf("keygen.public_exponent must be odd and at least 3, got %d", e)
	}
	if c.Keygen.MaxAttempts < 1 {
		return fmt.Errorf("keygen.max_attempts must be positive, got %d", c.Keygen.MaxAttempts)
	}
	if _, err := rsa.ParseHash(c.Hash); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	if _, err := keyfile.ParseFormat(c.KeyFormat); err != nil {
		return fmt.Errorf("key_format: %w", err)
	}
	return nil
}

// BlindingEnabled reports whether private-key operations are blinded.
func (c *Config) BlindingEnabled() bool {
	return c.Blinding == nil || *c.Blinding
}

// GenerateOptions converts the keygen settings for rsa.GenerateMultiPrimeKeyWithOptions.
func (c *Config) GenerateOptions() *rsa.GenerateOptions {
	return &rsa.GenerateOptions{
		PublicExponent: c.Keygen.PublicExponent,
		MaxAttempts:    c.Keygen.MaxAttempts,
	}
}

// SignatureHash returns the parsed default hash.
func (c *Config) SignatureHash() (rsa.Hash, error) {
	return rsa.ParseHash(c.Hash)
}

// Format returns the parsed default key format.
func (c *Config) Format() (keyfile.Format, error) {
	return keyfile.ParseFormat(c.KeyFormat)
}

// GetPassphrase retrieves the private-key passphrase from the configured
// environment variable. It returns nil when no variable is configured.
func (c *Config) GetPassphrase() ([]byte, error) {
	if c.PassphraseEnv == "" {
		return nil, nil
	}
	pass := os.Getenv(c.PassphraseEnv)
	if pass == "" {
		return nil, fmt.Errorf("environment variable %s is not set or empty", c.PassphraseEnv)
	}
	return []byte(pass), nil
}
