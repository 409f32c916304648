// Package session drives one client connection's child process: launch,
// fallback, respawn with backoff and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/internal/backoff"
	"github.com/remote-agent-terminal/ptybridge/internal/buffer"
	"github.com/remote-agent-terminal/ptybridge/internal/logger"
	"github.com/remote-agent-terminal/ptybridge/internal/metrics"
	"github.com/remote-agent-terminal/ptybridge/internal/pty"
)

// DefaultTailBytes is how much recent output a session keeps for listings.
const DefaultTailBytes = 4096

// Process is a spawned child as seen by a session.
type Process interface {
	PID() int
	Write(data []byte) error
	Resize(cols, rows uint16) error
	Kill() error
}

// Launcher starts processes. Callbacks must not be invoked before Launch
// returns a nil error.
type Launcher interface {
	Launch(ctx context.Context, cmd pty.Command, size pty.Size, cb pty.Callbacks) (Process, error)
}

type ptyLauncher struct {
	l *pty.Launcher
}

// NewPTYLauncher adapts a pty.Launcher to Launcher.
func NewPTYLauncher(l *pty.Launcher) Launcher {
	return ptyLauncher{l: l}
}

func (p ptyLauncher) Launch(ctx context.Context, cmd pty.Command, size pty.Size, cb pty.Callbacks) (Process, error) {
	h, err := p.l.Launch(ctx, cmd, size, cb)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Sink receives bytes bound for the client. Send must not block.
type Sink interface {
	Send(data []byte)
	Close()
}

// Config describes what a session runs.
type Config struct {
	Primary  pty.Command
	Fallback pty.Command
	Backoff  backoff.Policy

	// StableAfter is the uptime after which an exit no longer counts
	// towards the backoff. Zero disables the reset.
	StableAfter time.Duration

	// Size is the initial terminal size.
	Size pty.Size

	// TailBytes bounds the output kept for listings.
	TailBytes int
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithRecorder records the session.
func WithRecorder(r *logger.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithOnClose registers a hook run once when the session closes. It is
// called with the session lock held and must not call back into it.
func WithOnClose(f func()) Option {
	return func(s *Session) { s.onClose = f }
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID        string
	State     State
	PID       int
	Attempts  int
	Cols      uint16
	Rows      uint16
	Fallback  bool
	CreatedAt time.Time
	Tail      []byte

	// OutputBytes counts everything sent to the client, including bytes
	// no longer in Tail.
	OutputBytes int64
}

// Session owns at most one live process for one connection.
type Session struct {
	id       string
	cfg      Config
	launcher Launcher
	sink     Sink
	clock    Clock
	log      *zap.Logger
	recorder *logger.Recorder
	onClose  func()
	tail     *buffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	state     State
	current   Process
	gen       uint64
	fallback  bool
	attempts  int
	startedAt time.Time
	size      pty.Size
	timer     Timer
	createdAt time.Time
}

// New creates a session in StateStarting. Nothing runs until Start.
func New(id string, cfg Config, launcher Launcher, sink Sink, opts ...Option) *Session {
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = DefaultTailBytes
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = backoff.DefaultPolicy()
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		launcher: launcher,
		sink:     sink,
		clock:    SystemClock,
		log:      zap.NewNop(),
		tail:     buffer.NewRingBuffer(cfg.TailBytes),
		state:    StateStarting,
		size:     cfg.Size.OrDefault(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("session_id", id))
	s.createdAt = s.clock.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the primary command. Later calls do nothing.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.state == StateClosed {
		return
	}
	s.started = true
	metrics.SessionOpened()
	s.launchLocked()
}

// Input forwards bytes to the live process. Without one they are dropped.
func (s *Session) Input(data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	proc := s.current
	s.mu.Unlock()

	if proc == nil {
		s.log.Debug("input dropped, no live process", zap.Int("bytes", len(data)))
		return
	}
	// A process that exited meanwhile ignores the write.
	if err := proc.Write(data); err != nil {
		s.log.Warn("write to process failed", zap.Error(err))
		return
	}
	if s.recorder != nil {
		_ = s.recorder.WriteInput(data)
	}
}

// Resize stores the desired size and applies it to the live process.
func (s *Session) Resize(cols, rows uint16) {
	size := pty.Size{Cols: cols, Rows: rows}.OrDefault()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.size = size
	proc := s.current
	s.mu.Unlock()

	if s.recorder != nil {
		_ = s.recorder.WriteResize(int(size.Cols), int(size.Rows))
	}
	if proc == nil {
		return
	}
	if err := proc.Resize(size.Cols, size.Rows); err != nil {
		s.log.Warn("resize failed", zap.Error(err))
	}
}

// Close kills the live process, cancels any pending respawn, closes the
// sink and moves to StateClosed. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.fire(EventClose)
	s.teardownLocked()
	s.log.Info("session closed")
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:        s.id,
		State:     s.state,
		Attempts:  s.attempts,
		Cols:      s.size.Cols,
		Rows:      s.size.Rows,
		Fallback:  s.fallback,
		CreatedAt: s.createdAt,
		Tail:      s.tail.ReadAll(),

		OutputBytes: s.tail.Total(),
	}
	if s.current != nil {
		snap.PID = s.current.PID()
	}
	return snap
}

func (s *Session) fire(e Event) {
	next, ok := Transition(s.state, e)
	if !ok {
		s.log.Debug("event ignored", zap.Stringer("state", s.state), zap.Stringer("event", e))
		return
	}
	s.state = next
}

func (s *Session) callbacks(gen uint64) pty.Callbacks {
	return pty.Callbacks{
		OnOutput: s.handleOutput,
		OnExit: func(status pty.ExitStatus) {
			s.handleExit(gen, status)
		},
	}
}

func (s *Session) launchLocked() {
	s.gen++
	proc, err := s.launcher.Launch(s.ctx, s.cfg.Primary, s.size, s.callbacks(s.gen))
	if err == nil {
		s.attach(proc, false)
		metrics.RecordLaunch(metrics.LaunchOK)
		return
	}

	if errors.Is(err, pty.ErrRunnerMissing) {
		metrics.RecordLaunch(metrics.LaunchRunnerMissing)
	} else {
		metrics.RecordLaunch(metrics.LaunchFailed)
	}
	s.log.Warn("primary launch failed, trying fallback",
		zap.String("command", s.cfg.Primary.String()),
		zap.Error(err))
	s.fire(EventLaunchFailed)
	s.launchFallbackLocked(err)
}

func (s *Session) launchFallbackLocked(cause error) {
	s.gen++
	proc, err := s.launcher.Launch(s.ctx, s.cfg.Fallback, s.size, s.callbacks(s.gen))
	if err != nil {
		metrics.RecordLaunch(metrics.LaunchFallbackFail)
		s.log.Error("fallback launch failed",
			zap.String("command", s.cfg.Fallback.String()),
			zap.Error(err))
		s.fire(EventFallbackFailed)
		s.notifyLocked(fmt.Sprintf("fatal: cannot start pty (%s)", err))
		s.teardownLocked()
		return
	}

	s.attach(proc, true)
	metrics.RecordLaunch(metrics.LaunchFallbackOK)
	s.notifyLocked(fmt.Sprintf("started fallback %s because: %s", s.cfg.Fallback.Path, cause))
}

func (s *Session) attach(proc Process, fallback bool) {
	s.current = proc
	s.fallback = fallback
	s.startedAt = s.clock.Now()
	s.fire(EventLaunchOK)
	s.log.Info("process started",
		zap.Int("pid", proc.PID()),
		zap.Bool("fallback", fallback),
		zap.Int("attempts", s.attempts))
}

func (s *Session) handleOutput(data []byte) {
	_, _ = s.tail.Write(data)
	if s.recorder != nil {
		_ = s.recorder.WriteOutput(data)
	}
	s.sink.Send(data)
}

func (s *Session) handleExit(gen uint64, status pty.ExitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || gen != s.gen {
		return
	}

	exited := s.current
	s.current = nil
	if exited != nil {
		_ = exited.Kill()
	}

	if s.fallback {
		s.fire(EventFallbackExit)
		s.log.Info("fallback process exited", zap.Stringer("status", status))
		s.notifyLocked("fallback child exited " + status.String())
		return
	}

	s.fire(EventExit)
	s.notifyLocked("child exited " + status.String())

	if s.cfg.StableAfter > 0 && s.clock.Now().Sub(s.startedAt) >= s.cfg.StableAfter {
		s.attempts = 0
	}
	s.attempts++
	delay := s.cfg.Backoff.Delay(s.attempts)

	s.fire(EventRespawnScheduled)
	s.timer = s.clock.AfterFunc(delay, func() { s.respawn(gen) })
	metrics.RecordRespawn(delay)
	s.log.Info("process exited, respawn scheduled",
		zap.Stringer("status", status),
		zap.Int("attempts", s.attempts),
		zap.Duration("delay", delay))
}

func (s *Session) respawn(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Close may have raced the timer.
	if s.state != StateRespawnPending || gen != s.gen {
		return
	}
	s.timer = nil
	s.fire(EventRespawnDue)
	s.launchLocked()
}

// notifyLocked sends a server diagnostic line to the client.
func (s *Session) notifyLocked(msg string) {
	line := []byte("\r\n[server] " + msg + "\r\n")
	_, _ = s.tail.Write(line)
	if s.recorder != nil {
		_ = s.recorder.WriteMarker(msg)
	}
	s.sink.Send(line)
}

func (s *Session) teardownLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.current != nil {
		if err := s.current.Kill(); err != nil {
			s.log.Warn("kill failed", zap.Error(err))
		}
		s.current = nil
	}
	s.cancel()
	// The sink flushes queued output, diagnostics included, before closing.
	s.sink.Close()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Warn("closing recording failed", zap.Error(err))
		}
	}
	if s.started {
		metrics.SessionClosed()
	}
	if s.onClose != nil {
		s.onClose()
	}
}
