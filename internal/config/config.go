// Package config loads the oauthgate configuration file: the credential
// storage settings and the list of interposed resources.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"oauthgate/internal/registry"
)

const (
	userConfigDir  = ".config/oauthgate"
	configFileName = "config.yaml"

	// DefaultStorageFileName is the credential database filename used when
	// the configuration does not set one.
	DefaultStorageFileName = "credentials.db"

	// DefaultPassphraseEnv is the environment variable holding the
	// credential store passphrase unless the configuration overrides it.
	DefaultPassphraseEnv = "OAUTHGATE_PASSPHRASE"
)

// Config is the top-level configuration structure for oauthgate.
type Config struct {
	Storage   StorageConfig    `yaml:"storage,omitempty"`
	Resources []ResourceConfig `yaml:"resources"`
}

// StorageConfig configures the encrypted credential store.
type StorageConfig struct {
	// Path is the credential database file. Defaults to
	// ~/.config/oauthgate/credentials.db.
	Path string `yaml:"path,omitempty"`

	// PassphraseEnv names the environment variable holding the store
	// passphrase (default: OAUTHGATE_PASSPHRASE).
	PassphraseEnv string `yaml:"passphraseEnv,omitempty"`
}

// ResourceConfig is one interposed resource in the configuration file.
type ResourceConfig struct {
	ResourceURLPrefix     string `yaml:"resourceUrlPrefix"`
	ClientID              string `yaml:"clientId"`
	AuthorizationEndpoint string `yaml:"authorizationEndpoint"`
	TokenEndpoint         string `yaml:"tokenEndpoint"`
	RedirectURI           string `yaml:"redirectUri,omitempty"`
	Scope                 string `yaml:"scope,omitempty"`
	RequireScope          bool   `yaml:"requireScope,omitempty"`
	SecretPolicy          string `yaml:"secretPolicy,omitempty"` // "prompt" (default) or "stored"
}

// GetDefaultConfigPathOrPanic returns the default configuration
// directory, ~/.config/oauthgate.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// Load reads config.yaml from the given directory. A missing file yields
// the zero config with defaults applied; a malformed file is an error.
func Load(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)

	var cfg Config
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyDefaults(configPath)
			return cfg, nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	cfg.applyDefaults(configPath)
	return cfg, nil
}

func (c *Config) applyDefaults(configPath string) {
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(configPath, DefaultStorageFileName)
	}
	if c.Storage.PassphraseEnv == "" {
		c.Storage.PassphraseEnv = DefaultPassphraseEnv
	}
	for i := range c.Resources {
		if c.Resources[i].SecretPolicy == "" {
			c.Resources[i].SecretPolicy = string(registry.SecretPolicyPrompt)
		}
	}
}

// Entries converts the configured resources to registry entries. Each
// entry is validated; the first invalid one aborts the conversion.
func (c *Config) Entries() ([]registry.Entry, error) {
	entries := make([]registry.Entry, 0, len(c.Resources))
	for _, r := range c.Resources {
		e := registry.Entry{
			ResourceURLPrefix:     r.ResourceURLPrefix,
			ClientID:              r.ClientID,
			AuthorizationEndpoint: r.AuthorizationEndpoint,
			TokenEndpoint:         r.TokenEndpoint,
			RedirectURI:           r.RedirectURI,
			Scope:                 r.Scope,
			RequireScope:          r.RequireScope,
			SecretPolicy:          registry.SecretPolicy(r.SecretPolicy),
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("resource %q: %w", r.ResourceURLPrefix, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Passphrase resolves the credential store passphrase from the
// configured environment variable.
func (c *Config) Passphrase() (string, error) {
	passphrase := os.Getenv(c.Storage.PassphraseEnv)
	if passphrase == "" {
		return "", fmt.Errorf("credential store passphrase not set: export %s", c.Storage.PassphraseEnv)
	}
	return passphrase, nil
}
