package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Tiliavir/timeentry-reconciler/internal/logging"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

// Config is the root configuration for ter, stored in ~/.ter/config.yaml.
type Config struct {
	// Store selects the time entry store: "file" or "dataverse".
	Store string `yaml:"store"`
	// DataDir is the root of the file store. Empty = ~/.ter/data.
	DataDir string `yaml:"data_dir"`
	// Timezone is the zone whose calendar days count: "" for the
	// timestamps' own zone, an IANA name, "EST", or an offset like "-05:00".
	Timezone string `yaml:"timezone"`
	// CheckSameDay also rejects single-day entries on an already booked day.
	CheckSameDay bool `yaml:"check_same_day"`
	// Listen is the address of the hook server.
	Listen string `yaml:"listen"`

	Log       logging.Config  `yaml:"log"`
	Dataverse DataverseConfig `yaml:"dataverse"`
}

// DataverseConfig holds the Dataverse Web API connection settings.
type DataverseConfig struct {
	// URL is the environment root, e.g. https://contoso.crm.dynamics.com.
	URL string `yaml:"url"`
	// TenantID is the Azure AD tenant. Use "organizations" for any work account.
	TenantID string `yaml:"tenant_id"`
	// ClientID is the Azure app (client) ID.
	ClientID string `yaml:"client_id"`
	// ClientSecret enables the client-credentials flow. Prefer the
	// TER_DATAVERSE_CLIENT_SECRET environment variable.
	ClientSecret string `yaml:"client_secret,omitempty"`
}

const (
	StoreFile      = "file"
	StoreDataverse = "dataverse"

	DefaultListen   = "127.0.0.1:8080"
	DefaultTenantID = "organizations"
	// DefaultClientID is the well-known public Azure CLI app ID. It supports
	// the device code flow without a client secret.
	DefaultClientID = "04b07795-8542-4c4a-95af-30b2c573d5ab"
)

// Default returns a Config pre-filled with defaults.
func Default() Config {
	return Config{
		Store:  StoreFile,
		Listen: DefaultListen,
		Log:    logging.Config{Level: "info", Format: "auto"},
		Dataverse: DataverseConfig{
			TenantID: DefaultTenantID,
			ClientID: DefaultClientID,
		},
	}
}

// configTemplate is the annotated config written on first run.
const configTemplate = `# ter configuration – ~/.ter/config.yaml
#
# All settings are optional; the defaults below keep time entries in local
# JSON files under ~/.ter/data.

# Time entry store: "file" (local day files) or "dataverse" (Dynamics 365).
store: file

# Root directory of the file store. Empty = ~/.ter/data
data_dir: ""

# Zone whose calendar days define "one day":
#   ""              use each timestamp's own offset
#   "EST"           Eastern Standard Time base offset (UTC-05:00, no DST)
#   "-05:00"        any fixed offset
#   "Europe/Berlin" any IANA zone (DST aware)
timezone: ""

# Reject single-day entries whose day is already booked for the resource.
check_same_day: false

# Address of "ter serve".
listen: 127.0.0.1:8080

log:
  level: info     # trace, debug, info, warn, error
  format: auto    # auto, console, json

dataverse:
  # Environment URL, e.g. https://contoso.crm.dynamics.com
  url: ""
  tenant_id: organizations
  # Public Azure CLI app; replace with your own registration for production.
  client_id: 04b07795-8542-4c4a-95af-30b2c573d5ab
  # Set TER_DATAVERSE_CLIENT_SECRET to use client credentials instead of
  # the interactive device code flow.
`

// FilePath returns the path to ~/.ter/config.yaml.
func FilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ter", "config.yaml"), nil
}

// Load reads the config at path, writing the annotated template on first run.
// Environment overrides are applied last.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Default(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	cfg.Normalize()
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// Normalize fills zero-value fields with built-in defaults so callers always
// get a usable Config even if the file is only partially filled in.
func (c *Config) Normalize() {
	d := Default()
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Dataverse.TenantID == "" {
		c.Dataverse.TenantID = d.Dataverse.TenantID
	}
	if c.Dataverse.ClientID == "" {
		c.Dataverse.ClientID = d.Dataverse.ClientID
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TER_STORE"); v != "" {
		c.Store = v
	}
	if v, ok := os.LookupEnv("TER_TIMEZONE"); ok {
		c.Timezone = v
	}
	if v := os.Getenv("TER_DATAVERSE_URL"); v != "" {
		c.Dataverse.URL = v
	}
	if v := os.Getenv("TER_DATAVERSE_CLIENT_SECRET"); v != "" {
		c.Dataverse.ClientSecret = v
	}
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch c.Store {
	case StoreFile:
	case StoreDataverse:
		if c.Dataverse.URL == "" {
			return errors.New("config: dataverse.url is required when store is dataverse")
		}
	default:
		return fmt.Errorf("config: unknown store %q (want %q or %q)", c.Store, StoreFile, StoreDataverse)
	}
	if _, err := timezone.Parse(c.Timezone); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Normalizer returns the timezone policy configured by Timezone.
func (c Config) Normalizer() (timezone.Normalizer, error) {
	return timezone.Parse(c.Timezone)
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
