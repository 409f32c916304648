// Package pty launches interactive child processes attached to a
// pseudo-terminal and exposes them as handles that tolerate use after exit.
package pty

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunnerMissing is returned when a command's configured runner path
	// does not exist. Callers fall back to another command instead of retrying.
	ErrRunnerMissing = errors.New("runner not found")

	// ErrLaunchFailed wraps OS-level spawn errors, including an executable
	// that cannot be resolved on PATH.
	ErrLaunchFailed = errors.New("launch failed")
)

const (
	// DefaultCols is the terminal width used when none is known.
	DefaultCols = 80

	// DefaultRows is the terminal height used when none is known.
	DefaultRows = 24

	// DefaultReadBufferSize is the buffer size for reading PTY output.
	DefaultReadBufferSize = 4096

	// DefaultTerm is the TERM value handed to children.
	DefaultTerm = "xterm-color"
)

// Command describes a process to launch.
type Command struct {
	// Path is the executable, resolved against PATH when not absolute.
	Path string

	// Args are passed after the executable name.
	Args []string

	// Env overrides entries of the inherited environment.
	Env map[string]string

	// Dir is the working directory. Empty means the caller's.
	Dir string

	// RunnerPath, when set, must exist before the command is spawned.
	// A missing runner yields ErrRunnerMissing.
	RunnerPath string
}

// String renders the command line for logs and diagnostics.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Size is a terminal dimension in character cells.
type Size struct {
	Cols uint16
	Rows uint16
}

// OrDefault replaces zero dimensions with 80x24.
func (s Size) OrDefault() Size {
	if s.Cols == 0 {
		s.Cols = DefaultCols
	}
	if s.Rows == 0 {
		s.Rows = DefaultRows
	}
	return s
}

// ExitStatus is how a process ended. Signal is empty when the process
// exited on its own.
type ExitStatus struct {
	Code   int
	Signal string
}

// String formats the status the way bridge diagnostics print it.
func (e ExitStatus) String() string {
	signal := e.Signal
	if signal == "" {
		signal = "null"
	}
	return fmt.Sprintf("code=%d signal=%s", e.Code, signal)
}

// Callbacks receive asynchronous process events. Both may be nil.
type Callbacks struct {
	// OnOutput receives PTY output. The slice is owned by the callee.
	OnOutput func(data []byte)

	// OnExit is called exactly once per handle after the process ends.
	OnExit func(status ExitStatus)
}
