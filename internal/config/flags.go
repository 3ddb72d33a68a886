package config

import (
	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Only flags the user actually set are
// applied.
type Flags struct {
	ConfigPath string

	addr        string
	publicURL   string
	registryURL string
	token       string
	logLevel    string
	logFormat   string
	maxRetries  int
}

// Register adds the flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	d := Default()
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", d.Server.Addr, "HTTP listen address")
	fs.StringVar(&f.publicURL, "public-url", "", "externally visible base URL")
	fs.StringVar(&f.registryURL, "registry-url", d.Registry.URL, "Registry API base URL")
	fs.StringVar(&f.token, "token", "", "Registry API admin token")
	fs.StringVar(&f.logLevel, "log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", d.Log.Format, "log format (json, console)")
	fs.IntVar(&f.maxRetries, "max-retries", d.Registry.MaxRetries, "retries for idempotent Registry API requests")
}

// Apply copies changed flags from fs into cfg.
func (f *Flags) Apply(fs *pflag.FlagSet, cfg *Config) {
	changed := func(name string) bool {
		fl := fs.Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if changed("public-url") {
		cfg.Server.PublicURL = f.publicURL
	}
	if changed("registry-url") {
		cfg.Registry.URL = f.registryURL
	}
	if changed("token") {
		cfg.Registry.Token = f.token
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("max-retries") {
		cfg.Registry.MaxRetries = f.maxRetries
	}
}

// Resolve loads the config named by the flags, overlays the environment and
// then the changed flags, and validates the result.
func (f *Flags) Resolve(fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	cfg, err := Load(f.ConfigPath, getenv)
	if err != nil {
		return nil, err
	}
	f.Apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
