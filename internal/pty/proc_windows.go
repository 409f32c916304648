//go:build windows

package pty

import (
	"errors"
	"os"
	"os/exec"

	creackpty "github.com/creack/pty"
)

func setSize(tty *os.File, size Size) error {
	return creackpty.Setsize(tty, &creackpty.Winsize{Cols: size.Cols, Rows: size.Rows})
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func waitStatus(err error) ExitStatus {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{}
}
