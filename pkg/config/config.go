// Copyright 2024-2026 Aiku AI

// Package config loads the gateway's YAML configuration.
package config

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver"`
	AppService AppServiceConfig  `yaml:"appservice"`
	Webhooks   WebhooksConfig    `yaml:"webhooks"`
	Plugins    PluginsConfig     `yaml:"plugins"`
	Images     ImagesConfig      `yaml:"images"`
	AdminAPI   AdminAPIConfig    `yaml:"admin_api"`
	Database   dbutil.Config     `yaml:"database"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type HomeserverConfig struct {
	Address string `yaml:"address"`
	Domain  string `yaml:"domain"`
}

type AppServiceConfig struct {
	Address  string `yaml:"address"`
	Hostname string `yaml:"hostname"`
	Port     uint16 `yaml:"port"`
	ID       string `yaml:"id"`
	ASToken  string `yaml:"as_token"`
	HSToken  string `yaml:"hs_token"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"-"`

	RawWindow string `yaml:"window"`
}

type WebhooksConfig struct {
	ListenHost          string          `yaml:"listen_host"`
	ListenPort          uint16          `yaml:"listen_port"`
	PublicURL           string          `yaml:"public_url"`
	LogToDatabase       bool            `yaml:"log_to_database"`
	MaxBodySize         int64           `yaml:"max_body_size"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	DisplaynameTemplate string          `yaml:"displayname_template"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// ListenAddress is the host:port of the webhook listener.
func (wc *WebhooksConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", wc.ListenHost, wc.ListenPort)
}

type PluginsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Directory      string `yaml:"directory"`
	CacheDirectory string `yaml:"cache_directory"`
	CompileCommand string `yaml:"compile_command"`
	CompileWorkers int    `yaml:"compile_workers"`
	Watch          bool   `yaml:"watch"`

	Debounce     time.Duration `yaml:"-"`
	ApplyTimeout time.Duration `yaml:"-"`

	RawDebounce     string `yaml:"debounce"`
	RawApplyTimeout string `yaml:"apply_timeout"`
}

// CachePath is the compiled plugin cache. A relative cache directory lives
// inside the plugin directory.
func (pc *PluginsConfig) CachePath() string {
	if pc.CacheDirectory == "" || filepath.IsAbs(pc.CacheDirectory) {
		return pc.CacheDirectory
	}
	return filepath.Join(pc.Directory, pc.CacheDirectory)
}

type ImagesConfig struct {
	FetchTimeout time.Duration `yaml:"-"`
	UserAgent    string        `yaml:"user_agent"`

	RawFetchTimeout string `yaml:"fetch_timeout"`
}

type AdminAPIConfig struct {
	Address string `yaml:"address"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username string
	Emoji    string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// Parse decodes a config file and post-processes it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess parses durations and templates and checks required fields.
func (c *Config) PostProcess() error {
	var err error
	c.Webhooks.displaynameTemplate, err = template.New("displayname").Parse(c.Webhooks.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("invalid webhooks.displayname_template: %w", err)
	}
	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"webhooks.rate_limit.window", c.Webhooks.RateLimit.RawWindow, &c.Webhooks.RateLimit.Window},
		{"plugins.debounce", c.Plugins.RawDebounce, &c.Plugins.Debounce},
		{"plugins.apply_timeout", c.Plugins.RawApplyTimeout, &c.Plugins.ApplyTimeout},
		{"images.fetch_timeout", c.Images.RawFetchTimeout, &c.Images.FetchTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		if *d.target, err = time.ParseDuration(d.raw); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	if c.Homeserver.Domain == "" {
		return fmt.Errorf("homeserver.domain is required")
	}
	if c.Webhooks.MaxBodySize < 0 {
		return fmt.Errorf("webhooks.max_body_size must not be negative")
	}
	return nil
}

// FormatDisplayname renders the display name of a hook user. Without a
// template, or when the template fails, the username is returned.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.Webhooks.displaynameTemplate == nil {
		return params.Username
	}
	var sb strings.Builder
	if err := c.Webhooks.displaynameTemplate.Execute(&sb, params); err != nil {
		return params.Username
	}
	return strings.TrimSpace(sb.String())
}
