package pty

import (
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// drainTimeout bounds how long exit reporting waits for trailing output.
// Grandchildren holding the terminal open would otherwise delay it forever.
const drainTimeout = 200 * time.Millisecond

// Handle wraps one spawned process. A handle is never reused; a respawn
// produces a new one.
type Handle struct {
	cmd *exec.Cmd
	tty *os.File
	pid int

	live     atomic.Bool
	killOnce sync.Once
	killErr  error

	mu     sync.RWMutex
	size   Size
	status ExitStatus

	readDone chan struct{}
	done     chan struct{}
}

func newHandle(cmd *exec.Cmd, tty *os.File, size Size) *Handle {
	h := &Handle{
		cmd:      cmd,
		tty:      tty,
		pid:      cmd.Process.Pid,
		size:     size,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	h.live.Store(true)
	return h
}

// PID returns the process identifier.
func (h *Handle) PID() int {
	return h.pid
}

// Live reports whether the process has not yet exited.
func (h *Handle) Live() bool {
	return h.live.Load()
}

// Size returns the last size applied to the terminal.
func (h *Handle) Size() Size {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Done is closed once the exit has been reported.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitStatus returns the exit status. Only meaningful after Done is closed.
func (h *Handle) ExitStatus() ExitStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Write forwards bytes to the process input. Writing to an exited process
// is a no-op, not an error: exit and input race by nature.
func (h *Handle) Write(data []byte) error {
	if !h.live.Load() || len(data) == 0 {
		return nil
	}
	if _, err := h.tty.Write(data); err != nil {
		if !h.live.Load() {
			return nil
		}
		return err
	}
	return nil
}

// Resize updates the terminal dimensions. Ignored once the process exited.
func (h *Handle) Resize(cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live.Load() {
		return nil
	}
	size := Size{Cols: cols, Rows: rows}.OrDefault()
	if err := setSize(h.tty, size); err != nil {
		return err
	}
	h.size = size
	return nil
}

// Kill requests termination of the process and its process group.
// It is idempotent and safe after exit.
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		if h.live.Load() {
			h.killErr = killProcess(h.cmd)
		}
	})
	return h.killErr
}

// readLoop delivers output until the terminal closes. Chunks never end
// inside a UTF-8 sequence; the incomplete tail is carried to the next read.
func (h *Handle) readLoop(onOutput func([]byte)) {
	defer close(h.readDone)

	buf := make([]byte, DefaultReadBufferSize)
	var carry []byte

	for {
		n, err := h.tty.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			cut := utf8Boundary(chunk)
			carry = append([]byte(nil), chunk[cut:]...)
			if cut > 0 && onOutput != nil {
				out := make([]byte, cut)
				copy(out, chunk[:cut])
				onOutput(out)
			}
		}
		if err != nil {
			if len(carry) > 0 && onOutput != nil {
				onOutput(carry)
			}
			return
		}
	}
}

// waitLoop reaps the process and reports the exit exactly once.
func (h *Handle) waitLoop(onExit func(ExitStatus)) {
	status := waitStatus(h.cmd.Wait())

	select {
	case <-h.readDone:
	case <-time.After(drainTimeout):
	}

	h.mu.Lock()
	h.status = status
	h.live.Store(false)
	h.mu.Unlock()

	// Closing the master unblocks a reader stuck behind a lingering grandchild.
	_ = h.tty.Close()

	if onExit != nil {
		onExit(status)
	}
	close(h.done)
}

// utf8Boundary returns the length of the longest prefix of data that does
// not end in a truncated UTF-8 sequence.
func utf8Boundary(data []byte) int {
	n := len(data)
	start := n - utf8.UTFMax
	if start < 0 {
		start = 0
	}
	for i := n - 1; i >= start; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return i
			}
			return n
		}
	}
	return n
}
