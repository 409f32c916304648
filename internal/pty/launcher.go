package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	creackpty "github.com/creack/pty"
	"go.uber.org/zap"
)

// Options configures a Launcher.
type Options struct {
	// Term is exported to children as TERM. Defaults to DefaultTerm.
	Term string

	// SandboxEnv names the variable that tells a child which directory it
	// should confine file operations to, e.g. "UPLOAD_DIR".
	SandboxEnv string

	// SandboxRoot is the value given to SandboxEnv when the inherited
	// environment does not already define it.
	SandboxRoot string

	// BaseEnv is the inherited environment. Nil means os.Environ().
	BaseEnv []string
}

// Launcher spawns processes on pseudo-terminals.
type Launcher struct {
	opts   Options
	logger *zap.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(opts Options, logger *zap.Logger) *Launcher {
	if opts.Term == "" {
		opts.Term = DefaultTerm
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		opts:   opts,
		logger: logger.With(zap.String("component", "launcher")),
	}
}

// Launch starts cmd on a new pseudo-terminal of the given size.
//
// Output and exit are reported through cb from background goroutines.
// A missing RunnerPath fails with ErrRunnerMissing before anything is
// spawned; every other failure wraps ErrLaunchFailed.
func (l *Launcher) Launch(ctx context.Context, cmd Command, size Size, cb Callbacks) (*Handle, error) {
	if cmd.RunnerPath != "" {
		if _, err := os.Stat(cmd.RunnerPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrRunnerMissing, cmd.RunnerPath)
		}
	}

	path, err := exec.LookPath(cmd.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	size = size.OrDefault()

	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Env = l.environ(cmd.Env)
	c.Dir = cmd.Dir

	tty, err := creackpty.StartWithSize(c, &creackpty.Winsize{Cols: size.Cols, Rows: size.Rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	h := newHandle(c, tty, size)
	l.logger.Info("spawned child",
		zap.String("command", cmd.String()),
		zap.Int("pid", h.PID()),
		zap.Uint16("cols", size.Cols),
		zap.Uint16("rows", size.Rows))

	go h.readLoop(cb.OnOutput)
	go h.waitLoop(cb.OnExit)

	return h, nil
}

// environ merges the inherited environment with overrides. The sandbox
// variable is only injected when the inherited environment lacks it, so
// externally mounted configuration wins.
func (l *Launcher) environ(overrides map[string]string) []string {
	base := l.opts.BaseEnv
	if base == nil {
		base = os.Environ()
	}

	vars := make(map[string]string, len(base)+len(overrides)+2)
	order := make([]string, 0, len(base)+len(overrides)+2)
	set := func(k, v string) {
		if _, ok := vars[k]; !ok {
			order = append(order, k)
		}
		vars[k] = v
	}

	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		set(k, v)
	}

	set("TERM", l.opts.Term)

	if l.opts.SandboxEnv != "" && l.opts.SandboxRoot != "" {
		if _, ok := vars[l.opts.SandboxEnv]; !ok {
			set(l.opts.SandboxEnv, l.opts.SandboxRoot)
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, overrides[k])
	}

	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+vars[k])
	}
	return env
}
