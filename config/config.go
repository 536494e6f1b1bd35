// Package config loads the swcache configuration: a YAML file, then
// SWCACHE_* environment variables on top, then defaults for anything left
// unset.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/swcache/router"
	"github.com/hazyhaar/swcache/version"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds all swcache configuration.
type Config struct {
	Listen string `yaml:"listen" env:"SWCACHE_LISTEN"`
	// Origin is the site being fronted, e.g. https://user.github.io.
	Origin string `yaml:"origin" env:"SWCACHE_ORIGIN"`
	// PublicHosts are the host[:port] names clients reach swcache under.
	PublicHosts []string `yaml:"public_hosts" env:"SWCACHE_PUBLIC_HOSTS"`

	Version  string   `yaml:"version" env:"SWCACHE_VERSION"`
	BasePath string   `yaml:"base_path" env:"SWCACHE_BASE_PATH"`
	Manifest []string `yaml:"manifest" env:"SWCACHE_MANIFEST"`

	BypassHosts []string `yaml:"bypass_hosts" env:"SWCACHE_BYPASS_HOSTS"`
	APIHosts    []string `yaml:"api_hosts" env:"SWCACHE_API_HOSTS"`
	RootPaths   []string `yaml:"root_paths" env:"SWCACHE_ROOT_PATHS"`

	Store        string `yaml:"store" env:"SWCACHE_STORE"`
	DBPath       string `yaml:"db_path" env:"SWCACHE_DB_PATH"`
	EventsDBPath string `yaml:"events_db_path" env:"SWCACHE_EVENTS_DB_PATH"`
	// EventsRetention bounds how long persisted events are kept.
	EventsRetention time.Duration `yaml:"events_retention" env:"SWCACHE_EVENTS_RETENTION"`

	FetchTimeout   time.Duration `yaml:"fetch_timeout" env:"SWCACHE_FETCH_TIMEOUT"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"SWCACHE_MAX_BODY_BYTES"`
	SingleFlight   bool          `yaml:"single_flight" env:"SWCACHE_SINGLE_FLIGHT"`
	TrustForwarded bool          `yaml:"trust_forwarded" env:"SWCACHE_TRUST_FORWARDED"`
	// RuleHeader exposes the matched routing rule as X-SW-Rule.
	RuleHeader     bool          `yaml:"rule_header" env:"SWCACHE_RULE_HEADER"`

	// AdminSecret enables bearer-token auth on /_sw/ (HS256, >= 32 bytes).
	AdminSecret string `yaml:"admin_secret" env:"SWCACHE_ADMIN_SECRET"`
	LogLevel    string `yaml:"log_level" env:"SWCACHE_LOG_LEVEL"`
}

// Load reads path (optional), applies the environment and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Version == "" {
		c.Version = "portfolio-v12"
	}
	if c.BasePath == "" {
		c.BasePath = "/Portfolio"
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	if len(c.Manifest) == 0 {
		c.Manifest = DefaultManifest(c.BasePath)
	}
	rc := router.DefaultConfig()
	if c.BypassHosts == nil {
		c.BypassHosts = rc.BypassHosts
	}
	if c.APIHosts == nil {
		c.APIHosts = rc.APIHosts
	}
	if len(c.RootPaths) == 0 {
		c.RootPaths = rc.RootPaths
	}
	if len(c.PublicHosts) == 0 {
		c.PublicHosts = listenHosts(c.Listen)
	}
	if c.Store == "" {
		c.Store = StoreSQLite
	}
	if c.DBPath == "" {
		c.DBPath = "swcache.db"
	}
	if c.EventsRetention <= 0 {
		c.EventsRetention = 7 * 24 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// DefaultManifest is the pre-cached asset list under base.
func DefaultManifest(base string) []string {
	base = strings.TrimSuffix(base, "/")
	return []string{
		base + "/",
		base + "/manifest.json",
		base + "/images/Profile_Image.webp",
		base + "/images/CompTIA_badge.webp",
		base + "/images/Icon.ico",
		base + "/pdfs/resume.pdf",
	}
}

// listenHosts derives the names a local client uses for addr.
func listenHosts(addr string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return []string{"localhost:" + port, "127.0.0.1:" + port}
	}
	return []string{net.JoinHostPort(host, port)}
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Origin)
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin %q must be an http(s) URL", c.Origin))
	}
	if _, err := version.New(c.Version); err != nil {
		errs = append(errs, err)
	}
	if len(c.Manifest) == 0 {
		errs = append(errs, errors.New("manifest is empty"))
	}
	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("manifest path %q must start with /", p))
		}
	}
	if c.Store != StoreSQLite && c.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("store %q must be %q or %q", c.Store, StoreSQLite, StoreMemory))
	}
	if c.AdminSecret != "" && len(c.AdminSecret) < 32 {
		errs = append(errs, errors.New("admin_secret must be at least 32 bytes"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q unknown", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RouterConfig returns the router rule inputs.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		BypassHosts: c.BypassHosts,
		APIHosts:    c.APIHosts,
		RootPaths:   c.RootPaths,
	}
}
