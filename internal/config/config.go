// Package config loads soyuz.yml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/soyuz/internal/archive"
	"github.com/frederic-klein/soyuz/internal/policy"
	"github.com/frederic-klein/soyuz/internal/queue"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "soyuz.yml"

// Config models soyuz.yml.
type Config struct {
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Librarian struct {
		Dir string `yaml:"dir"`
	} `yaml:"librarian"`
	Keyring string `yaml:"keyring"`
	Policy  string `yaml:"policy"`

	// PermittedComponents overrides the components every policy accepts.
	PermittedComponents []string `yaml:"permitted_components"`

	Archive struct {
		RootURL           string `yaml:"root_url"`
		PPARootURL        string `yaml:"ppa_root_url"`
		PrivatePPARootURL string `yaml:"private_ppa_root_url"`
	} `yaml:"archive"`
	Credentials struct {
		Secret     string `yaml:"secret"`
		SecretFile string `yaml:"secret_file"`
	} `yaml:"credentials"`
	Workers int `yaml:"workers"`
	Server  struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config.store.path is required")
	}
	if c.Librarian.Dir == "" {
		return fmt.Errorf("config.librarian.dir is required")
	}
	if c.Policy == "" {
		return fmt.Errorf("config.policy is required")
	}
	if !contains(policy.DefaultRegistry().Names(), c.Policy) {
		return fmt.Errorf("config.policy %q is not a known policy", c.Policy)
	}
	if _, err := c.Components(); err != nil {
		return err
	}
	if c.Archive.RootURL == "" {
		return fmt.Errorf("config.archive.root_url is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config.workers must not be negative")
	}
	if c.Credentials.Secret != "" && c.Credentials.SecretFile != "" {
		return fmt.Errorf("config.credentials: secret and secret_file are mutually exclusive")
	}
	return nil
}

// Components returns the permitted components override, or nil when the
// policy defaults apply.
func (c *Config) Components() ([]archive.Component, error) {
	var out []archive.Component
	for _, s := range c.PermittedComponents {
		comp, err := archive.ParseComponent(s)
		if err != nil {
			return nil, fmt.Errorf("config.permitted_components: %w", err)
		}
		out = append(out, comp)
	}
	return out, nil
}

// Layout returns the archive URL layout.
func (c *Config) Layout() archive.Layout {
	l := archive.Layout{
		RootURL:           c.Archive.RootURL,
		PPARootURL:        c.Archive.PPARootURL,
		PrivatePPARootURL: c.Archive.PrivatePPARootURL,
	}
	if l.PPARootURL == "" {
		l.PPARootURL = l.RootURL
	}
	if l.PrivatePPARootURL == "" {
		l.PrivatePPARootURL = l.PPARootURL
	}
	return l
}

// RootSecret returns the credentials root secret, reading it from
// secret_file when set. ok is false when no secret is configured.
func (c *Config) RootSecret() (secret []byte, ok bool, err error) {
	if c.Credentials.SecretFile != "" {
		data, err := os.ReadFile(c.Credentials.SecretFile)
		if err != nil {
			return nil, false, fmt.Errorf("reading credentials secret: %w", err)
		}
		return bytes.TrimSpace(data), true, nil
	}
	if c.Credentials.Secret != "" {
		return []byte(c.Credentials.Secret), true, nil
	}
	return nil, false, nil
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when path does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns the default config as YAML.
func GenerateDefault() string {
	return defaultTemplate
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var defaultTemplate = fmt.Sprintf(`store:
  path: soyuz.db
librarian:
  dir: librarian
policy: %s
archive:
  root_url: http://archive.ubuntu.com
  ppa_root_url: http://ppa.launchpadcontent.net
  private_ppa_root_url: https://private-ppa.launchpadcontent.net
workers: %d
server:
  addr: ":8080"
`, policy.Insecure, queue.DefaultWorkers)
