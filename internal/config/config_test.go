// ABOUTME: Tests for configuration loading
// ABOUTME: Checks defaults, file, env, .env, and flag layering plus validation
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

// inTempDir keeps the search path away from any config in the repo
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdirForTest(t, dir)
	return dir
}

func TestDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Coordinator.Host)
	assert.Equal(t, 5000, cfg.Coordinator.Port)
	assert.Equal(t, "localhost:5000", cfg.Coordinator.Addr())
	assert.Equal(t, "Coordinator", cfg.Coordinator.Name)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.GracePeriod)
	assert.Equal(t, 20*time.Second, cfg.Coordinator.RoundInterval)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.RetryInterval)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.ResponseTimeout)
	assert.Equal(t, 0.0, cfg.Coordinator.MaxSkew)
	assert.False(t, cfg.Coordinator.MDNS)
	assert.False(t, cfg.Coordinator.TUI)

	assert.Equal(t, "localhost:5000", cfg.Client.Server)
	assert.Empty(t, cfg.Client.ID)
	assert.Equal(t, 10*time.Second, cfg.Client.DiscoverTimeout)

	assert.Equal(t, "json", cfg.Wire.Codec)
	assert.Empty(t, cfg.Logging.File)
	assert.False(t, cfg.Logging.Debug)

	assert.Equal(t, 4, cfg.Demo.Clients)
	assert.Equal(t, 500*time.Millisecond, cfg.Demo.Stagger)
}

func TestConfigFile(t *testing.T) {
	dir := inTempDir(t)

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
coordinator:
  port: 6100
  round_interval: 2s
  max_skew: 30
wire:
  codec: cbor
`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, 6100, cfg.Coordinator.Port)
	assert.Equal(t, 2*time.Second, cfg.Coordinator.RoundInterval)
	assert.Equal(t, 30.0, cfg.Coordinator.MaxSkew)
	assert.Equal(t, "cbor", cfg.Wire.Codec)
	assert.Equal(t, "Coordinator", cfg.Coordinator.Name, "unset keys keep defaults")
}

func TestConfigFileSearchPath(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "berkeley.yaml"), []byte("coordinator:\n  name: Found\n"), 0o644))

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "Found", cfg.Coordinator.Name)
}

func TestMissingExplicitFileFails(t *testing.T) {
	dir := inTempDir(t)

	_, err := Load(New(), filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("BERKELEY_COORDINATOR_PORT", "7000")
	t.Setenv("BERKELEY_COORDINATOR_GRACE_PERIOD", "250ms")
	t.Setenv("BERKELEY_CLIENT_ID", "Client-Env")
	t.Setenv("BERKELEY_LOGGING_DEBUG", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Coordinator.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Coordinator.GracePeriod)
	assert.Equal(t, "Client-Env", cfg.Client.ID)
	assert.True(t, cfg.Logging.Debug)
}

func TestDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BERKELEY_DEMO_CLIENTS=7\nBERKELEY_CLIENT_SERVER=10.1.1.1:5000\n"), 0o644))

	// Already-set variables win over the file
	t.Setenv("BERKELEY_CLIENT_SERVER", "10.2.2.2:5000")
	t.Cleanup(func() { os.Unsetenv("BERKELEY_DEMO_CLIENTS") })

	require.NoError(t, LoadDotEnv())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Demo.Clients)
	assert.Equal(t, "10.2.2.2:5000", cfg.Client.Server)
}

func TestDotEnvMissingIsFine(t *testing.T) {
	dir := inTempDir(t)
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestBindFlags(t *testing.T) {
	inTempDir(t)
	t.Setenv("BERKELEY_COORDINATOR_PORT", "7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 5000, "")
	flags.String("codec", "json", "")
	require.NoError(t, flags.Parse([]string{"--port", "8000"}))

	v := New()
	require.NoError(t, BindFlags(v, flags, map[string]string{
		"coordinator.port": "port",
		"wire.codec":       "codec",
	}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Coordinator.Port, "a set flag beats env")
	assert.Equal(t, "json", cfg.Wire.Codec)

	assert.Error(t, BindFlags(v, flags, map[string]string{"client.id": "missing"}))
}

func TestValidate(t *testing.T) {
	inTempDir(t)
	base, err := Load(New(), "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port too high", func(c *Config) { c.Coordinator.Port = 70000 }},
		{"negative port", func(c *Config) { c.Coordinator.Port = -1 }},
		{"zero round interval", func(c *Config) { c.Coordinator.RoundInterval = 0 }},
		{"negative timeout", func(c *Config) { c.Coordinator.ResponseTimeout = -time.Second }},
		{"negative skew", func(c *Config) { c.Coordinator.MaxSkew = -0.5 }},
		{"bad server address", func(c *Config) { c.Client.Server = "localhost" }},
		{"unknown codec", func(c *Config) { c.Wire.Codec = "xml" }},
		{"no demo clients", func(c *Config) { c.Demo.Clients = 0 }},
		{"negative stagger", func(c *Config) { c.Demo.Stagger = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("discovery skips server check", func(t *testing.T) {
		c := *base
		c.Client.Server = ""
		c.Client.Discover = true
		assert.NoError(t, c.Validate())
	})
}

// chdirForTest changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir for older toolchains)
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
