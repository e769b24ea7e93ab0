// ABOUTME: Tests for the berkeley command wiring
// ABOUTME: Checks flag-to-config binding, logging setup, and a short in-process demo
package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/berkeley-go/internal/config"
	"github.com/harperreed/berkeley-go/internal/version"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), version.Product)
	assert.Contains(t, out.String(), version.Version)
}

func TestSubcommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"coordinator", "server", "client", "demo", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.NotEqual(t, root, cmd, name)
	}
}

func TestFlagsReachConfig(t *testing.T) {
	chdirForTest(t, t.TempDir())

	root := newRootCmd()
	cmd, _, err := root.Find([]string{"coordinator"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "6001", "--interval", "3s", "--codec", "cbor", "--debug"}))

	cfg, err := loadConfig(cmd, coordinatorBindings)
	require.NoError(t, err)

	assert.Equal(t, 6001, cfg.Coordinator.Port)
	assert.Equal(t, 3*time.Second, cfg.Coordinator.RoundInterval)
	assert.Equal(t, "cbor", cfg.Wire.Codec)
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.GracePeriod, "unset flags keep defaults")

	sc := coordinatorConfig(cfg)
	assert.Equal(t, "localhost:6001", sc.Addr)
	assert.Equal(t, 3*time.Second, sc.RoundInterval)
	assert.True(t, sc.Debug)
}

func TestClientArgumentSetsID(t *testing.T) {
	chdirForTest(t, t.TempDir())

	root := newRootCmd()
	cmd, _, err := root.Find([]string{"client"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--server", "10.0.0.5:5000", "--id", "Flag-Id"}))

	cfg, err := loadConfig(cmd, clientBindings)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:5000", cfg.Client.Server)
	assert.Equal(t, "Flag-Id", cfg.Client.ID)

	ac := clientAgentConfig(cfg, cfg.Client.Server)
	assert.Equal(t, "10.0.0.5:5000", ac.ServerAddr)
	assert.Equal(t, "Flag-Id", ac.ID)
	assert.Equal(t, "json", ac.Codec)
	assert.NotNil(t, ac.OnAdjustment)
}

func TestSetupLoggingTUIWritesOnlyToFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "coord.log")
	closeLog, err := setupLogging(path, true)
	require.NoError(t, err)

	log.Printf("hello from the dashboard")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the dashboard")
}

func TestSetupLoggingBadPath(t *testing.T) {
	_, err := setupLogging(filepath.Join(t.TempDir(), "missing", "dir", "x.log"), false)
	assert.Error(t, err)
}

func TestDemoStopsAfterRounds(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	chdirForTest(t, t.TempDir())

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.Coordinator.Host = "127.0.0.1"
	cfg.Coordinator.Port = 0
	cfg.Coordinator.GracePeriod = 200 * time.Millisecond
	cfg.Coordinator.RoundInterval = 100 * time.Millisecond
	cfg.Coordinator.RetryInterval = 50 * time.Millisecond
	cfg.Coordinator.ResponseTimeout = time.Second
	cfg.Demo.Clients = 2
	cfg.Demo.Stagger = 10 * time.Millisecond
	cfg.Demo.Rounds = 2

	done := make(chan error, 1)
	go func() { done <- runDemo(cfg) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("demo did not stop after the configured rounds")
	}
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
