package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/remote-agent-terminal/ptybridge/internal/pty"
)

type fakeProc struct {
	pid  int
	cmd  pty.Command
	size pty.Size
	cb   pty.Callbacks

	mu      sync.Mutex
	writes  []string
	resizes []pty.Size
	killed  bool
	exited  bool
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.killed {
		return nil
	}
	p.writes = append(p.writes, string(data))
	return nil
}

func (p *fakeProc) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.killed {
		return nil
	}
	p.resizes = append(p.resizes, pty.Size{Cols: cols, Rows: rows})
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

// exit reports the process as ended. Must be called without session locks.
func (p *fakeProc) exit(status pty.ExitStatus) {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	p.cb.OnExit(status)
}

func (p *fakeProc) output(s string) {
	p.cb.OnOutput([]byte(s))
}

func (p *fakeProc) live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited && !p.killed
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProc) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

type fakeLauncher struct {
	mu      sync.Mutex
	procs   []*fakeProc
	fail    map[string]error
	nextPID int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{fail: make(map[string]error), nextPID: 100}
}

func (l *fakeLauncher) failWith(path string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail[path] = err
}

func (l *fakeLauncher) Launch(_ context.Context, cmd pty.Command, size pty.Size, cb pty.Callbacks) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.fail[cmd.Path]; ok {
		return nil, err
	}
	l.nextPID++
	p := &fakeProc{pid: l.nextPID, cmd: cmd, size: size, cb: cb}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launched() []*fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProc(nil), l.procs...)
}

func (l *fakeLauncher) last() *fakeProc {
	procs := l.launched()
	if len(procs) == 0 {
		return nil
	}
	return procs[len(procs)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire runs the callback unless stopped, like time.AfterFunc would.
func (t *fakeTimer) fire() {
	t.clock.mu.Lock()
	if t.stopped || t.fired {
		t.clock.mu.Unlock()
		return
	}
	t.fired = true
	t.clock.mu.Unlock()
	t.f()
}

// forceFire runs the callback even when stopped, simulating a timer that
// fired just before Stop was called.
func (t *fakeTimer) forceFire() {
	t.f()
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) scheduled() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func (c *fakeClock) lastTimer() *fakeTimer {
	timers := c.scheduled()
	if len(timers) == 0 {
		return nil
	}
	return timers[len(timers)-1]
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (s *fakeSink) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sent = append(s.sent, string(data))
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// diagnostics returns the server lines sent to the client.
func (s *fakeSink) diagnostics() []string {
	var out []string
	for _, m := range s.messages() {
		if strings.HasPrefix(m, "\r\n[server] ") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(m, "\r\n[server] "), "\r\n"))
		}
	}
	return out
}
