//go:build !windows

package pty

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// setSize applies the window size to the PTY master.
func setSize(tty *os.File, size Size) error {
	return creackpty.Setsize(tty, &creackpty.Winsize{Cols: size.Cols, Rows: size.Rows})
}

// killProcess signals the whole process group. Children are started with
// Setsid, so the group id equals the pid.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// waitStatus converts the result of cmd.Wait into an ExitStatus.
func waitStatus(err error) ExitStatus {
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ExitStatus{Code: -1}
	}
	if exitErr == nil {
		return ExitStatus{Code: 0}
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	if ws.Signaled() {
		return ExitStatus{Code: -1, Signal: unix.SignalName(ws.Signal())}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}
