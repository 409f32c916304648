package session

// State is where a session is in its connection and process lifecycle.
type State int

const (
	// StateStarting means a launch is in progress.
	StateStarting State = iota
	// StateRunning means a process is live.
	StateRunning
	// StateExited means the primary process ended and a respawn is being
	// arranged.
	StateExited
	// StateRespawnPending means a respawn timer is armed.
	StateRespawnPending
	// StateIdle means the fallback process ended. Nothing is respawned.
	StateIdle
	// StateClosed is terminal.
	StateClosed
)

var stateNames = [...]string{
	StateStarting:       "starting",
	StateRunning:        "running",
	StateExited:         "exited",
	StateRespawnPending: "respawn_pending",
	StateIdle:           "idle",
	StateClosed:         "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON listings.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event drives the state machine.
type Event int

const (
	// EventLaunchOK: a primary or fallback process started.
	EventLaunchOK Event = iota
	// EventLaunchFailed: the primary could not be started; the fallback
	// is tried next.
	EventLaunchFailed
	// EventFallbackFailed: the fallback could not be started either.
	EventFallbackFailed
	// EventExit: the primary process ended.
	EventExit
	// EventFallbackExit: the fallback process ended.
	EventFallbackExit
	// EventRespawnScheduled: a respawn timer was armed.
	EventRespawnScheduled
	// EventRespawnDue: the respawn timer fired.
	EventRespawnDue
	// EventClose: the connection went away.
	EventClose
)

var eventNames = [...]string{
	EventLaunchOK:         "launch_ok",
	EventLaunchFailed:     "launch_failed",
	EventFallbackFailed:   "fallback_failed",
	EventExit:             "exit",
	EventFallbackExit:     "fallback_exit",
	EventRespawnScheduled: "respawn_scheduled",
	EventRespawnDue:       "respawn_due",
	EventClose:            "close",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// Transition returns the state that follows s on e. It is defined for
// every pair: when e means nothing in s, s is returned with ok false.
// Close always wins and Closed never changes.
func Transition(s State, e Event) (next State, ok bool) {
	if s == StateClosed {
		return StateClosed, e == EventClose
	}
	if e == EventClose {
		return StateClosed, true
	}

	switch s {
	case StateStarting:
		switch e {
		case EventLaunchOK:
			return StateRunning, true
		case EventLaunchFailed:
			return StateStarting, true
		case EventFallbackFailed:
			return StateClosed, true
		}
	case StateRunning:
		switch e {
		case EventExit:
			return StateExited, true
		case EventFallbackExit:
			return StateIdle, true
		}
	case StateExited:
		if e == EventRespawnScheduled {
			return StateRespawnPending, true
		}
	case StateRespawnPending:
		if e == EventRespawnDue {
			return StateStarting, true
		}
	}
	return s, false
}
