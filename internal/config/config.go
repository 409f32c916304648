// Package config loads bridge configuration from defaults, an optional
// TOML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds everything the server needs.
type Config struct {
	Addr   string `toml:"addr"`
	WSPath string `toml:"ws_path"`

	PythonBin     string   `toml:"python_bin"`
	RunnerPath    string   `toml:"runner_path"`
	RunnerArgs    []string `toml:"runner_args"`
	FallbackShell string   `toml:"fallback_shell"`
	Term          string   `toml:"term"`
	WorkDir       string   `toml:"work_dir"`
	SandboxEnv    string   `toml:"sandbox_env"`

	BackoffBase Duration `toml:"backoff_base"`
	BackoffMax  Duration `toml:"backoff_max"`
	StableAfter Duration `toml:"stable_after"`

	UploadDir      string `toml:"upload_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	DBPath         string `toml:"db_path"`

	RecordDir      string `toml:"record_dir"`
	RecordCompress bool   `toml:"record_compress"`

	CORSOrigins []string `toml:"cors_origins"`
	LogLevel    string   `toml:"log_level"`
	LogFormat   string   `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           ":3001",
		WSPath:         "/pty",
		PythonBin:      "python3",
		RunnerPath:     filepath.Join("python", "runner", "agent_runner.py"),
		RunnerArgs:     []string{"-u"},
		FallbackShell:  "/bin/bash",
		Term:           "xterm-color",
		SandboxEnv:     "UPLOAD_DIR",
		BackoffBase:    Duration{time.Second},
		BackoffMax:     Duration{30 * time.Second},
		StableAfter:    Duration{10 * time.Second},
		UploadDir:      filepath.Join("data", "uploads"),
		MaxUploadBytes: 50 << 20,
		DBPath:         filepath.Join("data", "bridge.db"),
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load builds a Config from defaults, then path (when non-empty), then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	md, err := toml.Decode(string(data), out)
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup. PTY_PORT accepts a bare port number.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PTY_PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			c.Addr = ":" + v
		} else {
			c.Addr = v
		}
	}
	str("PYTHON_BIN", &c.PythonBin)
	str("RUNNER_PATH", &c.RunnerPath)
	str("FALLBACK_SHELL", &c.FallbackShell)
	str("UPLOAD_DIR", &c.UploadDir)
	str("DB_PATH", &c.DBPath)
	str("RECORD_DIR", &c.RecordDir)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("config missing addr")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws_path must start with /: %q", c.WSPath)
	}
	if strings.TrimSpace(c.PythonBin) == "" {
		return fmt.Errorf("config missing python_bin")
	}
	if strings.TrimSpace(c.FallbackShell) == "" {
		return fmt.Errorf("config missing fallback_shell")
	}
	if c.BackoffBase.Duration <= 0 {
		return fmt.Errorf("backoff_base must be positive")
	}
	if c.BackoffMax.Duration < c.BackoffBase.Duration {
		return fmt.Errorf("backoff_max (%s) must not be below backoff_base (%s)", c.BackoffMax, c.BackoffBase)
	}
	if c.StableAfter.Duration < 0 {
		return fmt.Errorf("stable_after must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		return fmt.Errorf("config missing upload_dir")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("config missing db_path")
	}
	return nil
}

// PrimaryArgs returns the interpreter arguments for the runner script.
func (c Config) PrimaryArgs() []string {
	args := append([]string(nil), c.RunnerArgs...)
	return append(args, c.RunnerPath)
}
