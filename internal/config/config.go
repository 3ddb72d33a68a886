// Package config loads service settings from defaults, an optional YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CallbackPath is where the OAuth callback handler is mounted.
const CallbackPath = "/api/auth/github/callback"

// Config holds runtime settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Registry  RegistryConfig  `yaml:"registry"`
	GitHub    GitHubConfig    `yaml:"github"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	// PublicURL is the externally visible base URL, used to build the OAuth
	// callback URL when none is configured.
	PublicURL         string        `yaml:"public_url"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type RegistryConfig struct {
	URL        string        `yaml:"url"`
	SiteURL    string        `yaml:"site_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
	Scope        string `yaml:"scope"`
	APIURL       string `yaml:"api_url"`
}

// AnalyticsConfig selects the event sink. Without a token events are logged.
type AnalyticsConfig struct {
	Token     string `yaml:"token"`
	Endpoint  string `yaml:"endpoint"`
	QueueSize int    `yaml:"queue_size"`
}

type FetchConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	DNSRefresh       time.Duration `yaml:"dns_refresh"`
	BreakerThreshold int64         `yaml:"breaker_threshold"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Registry: RegistryConfig{
			URL:        "https://api.comfy.org",
			SiteURL:    "https://registry.comfy.org",
			Timeout:    30 * time.Second,
			MaxRetries: 5,
		},
		GitHub: GitHubConfig{
			Scope:  "read:user",
			APIURL: "https://api.github.com",
		},
		Analytics: AnalyticsConfig{
			Endpoint:  "https://api.mixpanel.com/track",
			QueueSize: 256,
		},
		Fetch: FetchConfig{
			MaxRetries:       3,
			DNSRefresh:       5 * time.Minute,
			BreakerThreshold: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load applies the YAML file at path (if non-empty) and then the environment
// read through getenv on top of the defaults. A nil getenv uses os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// Environment variables. The credential names match those used by the
// hosted front-end deployment.
const (
	EnvGitHubClientID     = "GITHUB_CLIENT_ID"
	EnvGitHubClientSecret = "GITHUB_CLIENT_SECRET"
	EnvRegistryToken      = "COMFY_REGISTRY_TOKEN"
	EnvAnalyticsToken     = "ANALYTICS_TOKEN"
	EnvAddr               = "COMFYREGISTRY_ADDR"
	EnvPublicURL          = "COMFYREGISTRY_PUBLIC_URL"
	EnvRegistryURL        = "COMFYREGISTRY_API_URL"
	EnvLogLevel           = "COMFYREGISTRY_LOG_LEVEL"
	EnvMaxRetries         = "COMFYREGISTRY_MAX_RETRIES"
)

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.GitHub.ClientID, EnvGitHubClientID)
	set(&c.GitHub.ClientSecret, EnvGitHubClientSecret)
	set(&c.Registry.Token, EnvRegistryToken)
	set(&c.Analytics.Token, EnvAnalyticsToken)
	set(&c.Server.Addr, EnvAddr)
	set(&c.Server.PublicURL, EnvPublicURL)
	set(&c.Registry.URL, EnvRegistryURL)
	set(&c.Log.Level, EnvLogLevel)

	if v := getenv(EnvMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRetries, err)
		}
		c.Registry.MaxRetries = n
	}
	return nil
}

// CallbackURL returns the OAuth redirect URL registered with GitHub.
func (c *Config) CallbackURL() string {
	if c.GitHub.CallbackURL != "" {
		return c.GitHub.CallbackURL
	}
	if c.Server.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.Server.PublicURL, "/") + CallbackPath
}

// GitHubConfigured reports whether OAuth credentials are present.
func (c *Config) GitHubConfigured() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

// Validate checks settings that would otherwise fail later at runtime.
// Missing OAuth credentials are not an error: the callback reports them.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	for _, f := range []struct{ name, raw string }{
		{"registry.url", c.Registry.URL},
		{"server.public_url", c.Server.PublicURL},
		{"github.api_url", c.GitHub.APIURL},
	} {
		if f.raw == "" {
			continue
		}
		if u, err := url.Parse(f.raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid URL %q", f.name, f.raw))
		}
	}
	if c.Registry.URL == "" {
		errs = append(errs, errors.New("registry.url is required"))
	}
	if c.Registry.MaxRetries < 0 {
		errs = append(errs, errors.New("registry.max_retries must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
