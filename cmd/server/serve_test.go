package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/ptybridge/internal/config"
)

func resetServeFlags(t *testing.T) {
	t.Helper()
	for _, env := range []string{"PTY_PORT", "PYTHON_BIN", "RUNNER_PATH", "FALLBACK_SHELL", "UPLOAD_DIR", "DB_PATH", "RECORD_DIR", "LOG_LEVEL", "MAX_UPLOAD_BYTES"} {
		t.Setenv(env, "")
	}
	t.Cleanup(func() {
		serveConfigPath, serveAddr, serveUploadDir, serveRunner, serveLogLevel = "", "", "", "", ""
		serveCmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	})
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	resetServeFlags(t)

	cfg, err := loadServeConfig(serveCmd)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadServeConfig_Layering(t *testing.T) {
	resetServeFlags(t)

	path := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":4000"
upload_dir = "/srv/uploads"
backoff_base = "2s"
`), 0o644))
	t.Setenv("PTY_PORT", "5000")

	require.NoError(t, serveCmd.Flags().Set("config", path))
	require.NoError(t, serveCmd.Flags().Set("upload-dir", "/tmp/sandbox"))
	require.NoError(t, serveCmd.Flags().Set("runner", "agent.py"))

	cfg, err := loadServeConfig(serveCmd)
	require.NoError(t, err)
	require.Equal(t, ":5000", cfg.Addr)
	require.Equal(t, "/tmp/sandbox", cfg.UploadDir)
	require.Equal(t, "agent.py", cfg.RunnerPath)
	require.Equal(t, 2*time.Second, cfg.BackoffBase.Duration)
}

func TestLoadServeConfig_InvalidFlag(t *testing.T) {
	resetServeFlags(t)

	require.NoError(t, serveCmd.Flags().Set("addr", " "))
	_, err := loadServeConfig(serveCmd)
	require.Error(t, err)
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WorkDir = "/work"

	sc := sessionConfig(cfg)
	require.Equal(t, "python3", sc.Primary.Path)
	require.Equal(t, []string{"-u", cfg.RunnerPath}, sc.Primary.Args)
	require.Equal(t, cfg.RunnerPath, sc.Primary.RunnerPath)
	require.Equal(t, "/work", sc.Primary.Dir)
	require.Equal(t, "/bin/bash", sc.Fallback.Path)
	require.Equal(t, "/work", sc.Fallback.Dir)
	require.Equal(t, time.Second, sc.Backoff.Base)
	require.Equal(t, 30*time.Second, sc.Backoff.Max)
	require.Equal(t, 10*time.Second, sc.StableAfter)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "ptybridge dev\n", out.String())
}
