package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "https://api.comfy.org", c.Registry.URL)
	assert.Equal(t, 5, c.Registry.MaxRetries)
	assert.Equal(t, 30*time.Second, c.Registry.Timeout)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
	assert.False(t, c.GitHubConfigured())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	c, err := Load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9000"
  public_url: https://registry.test
  shutdown_timeout: 30s
registry:
  url: https://api.registry.test
  max_retries: 2
github:
  client_id: file-id
log:
  level: debug
  format: console
`)
	c, err := Load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, 30*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "https://api.registry.test", c.Registry.URL)
	assert.Equal(t, 2, c.Registry.MaxRetries)
	assert.Equal(t, "file-id", c.GitHub.ClientID)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 10*time.Second, c.Server.ReadHeaderTimeout, "unset fields keep defaults")
	assert.Equal(t, "https://registry.test/api/auth/github/callback", c.CallbackURL())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "server:\n  unknown_key: 1\n"), env(nil))
	assert.Error(t, err, "unknown keys should be rejected")

	_, err = Load(writeFile(t, "server: [not, a, map]\n"), env(nil))
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	c, err := Load(writeFile(t, ""), env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "github:\n  client_id: file-id\n  client_secret: file-secret\n")
	c, err := Load(path, env(map[string]string{
		EnvGitHubClientID: "env-id",
		EnvRegistryToken:  "admin-token",
		EnvAnalyticsToken: "mp-token",
		EnvMaxRetries:     "7",
		EnvAddr:           ":7000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env-id", c.GitHub.ClientID)
	assert.Equal(t, "file-secret", c.GitHub.ClientSecret)
	assert.Equal(t, "admin-token", c.Registry.Token)
	assert.Equal(t, "mp-token", c.Analytics.Token)
	assert.Equal(t, 7, c.Registry.MaxRetries)
	assert.Equal(t, ":7000", c.Server.Addr)
	assert.True(t, c.GitHubConfigured())
}

func TestEnvInvalidNumber(t *testing.T) {
	_, err := Load("", env(map[string]string{EnvMaxRetries: "many"}))
	assert.ErrorContains(t, err, EnvMaxRetries)
}

func TestCallbackURL(t *testing.T) {
	c := Default()
	assert.Empty(t, c.CallbackURL())

	c.Server.PublicURL = "https://registry.test/"
	assert.Equal(t, "https://registry.test/api/auth/github/callback", c.CallbackURL())

	c.GitHub.CallbackURL = "https://other.test/cb"
	assert.Equal(t, "https://other.test/cb", c.CallbackURL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no addr", func(c *Config) { c.Server.Addr = "" }},
		{"no registry url", func(c *Config) { c.Registry.URL = "" }},
		{"relative registry url", func(c *Config) { c.Registry.URL = "/api" }},
		{"bad public url", func(c *Config) { c.Server.PublicURL = "registry.test" }},
		{"negative retries", func(c *Config) { c.Registry.MaxRetries = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateErrorOrderIsStable(t *testing.T) {
	c := Default()
	c.Registry.URL = "/api"
	c.Server.PublicURL = "registry.test"
	c.GitHub.APIURL = "api.github"

	want := `registry.url: invalid URL "/api"` + "\n" +
		`server.public_url: invalid URL "registry.test"` + "\n" +
		`github.api_url: invalid URL "api.github"`
	for i := 0; i < 20; i++ {
		err := c.Validate()
		require.Error(t, err)
		assert.Equal(t, want, err.Error())
	}
}

func TestFlagsApplyOnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var f Flags
	f.Register(fs)
	require.NoError(t, fs.Parse([]string{"--addr", ":9999", "--log-level=debug"}))

	cfg := Default()
	cfg.Registry.URL = "https://from-file.test"
	f.Apply(fs, cfg)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://from-file.test", cfg.Registry.URL, "unchanged flag must not reset the value")
}

func TestFlagsResolve(t *testing.T) {
	path := writeFile(t, "registry:\n  token: file-token\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var f Flags
	f.Register(fs)
	require.NoError(t, fs.Parse([]string{"-c", path, "--token", "flag-token"}))

	cfg, err := f.Resolve(fs, env(map[string]string{EnvRegistryToken: "env-token"}))
	require.NoError(t, err)
	assert.Equal(t, "flag-token", cfg.Registry.Token)

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	f = Flags{}
	f.Register(fs)
	require.NoError(t, fs.Parse([]string{"--log-format", "xml"}))
	_, err = f.Resolve(fs, env(nil))
	assert.Error(t, err)
}
