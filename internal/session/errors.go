package session

import "errors"

var (
	// ErrConnectTimeout is returned when the reachability probe does not
	// succeed within its bound.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrStream covers any transport failure in the middle of a session.
	ErrStream = errors.New("stream error")
	// ErrLivenessTimeout is raised when no liveness ping arrived within
	// the threshold.
	ErrLivenessTimeout = errors.New("liveness timeout")
	// ErrNoActiveSession is returned by operations that need a connected
	// peer when there is none.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive rejects a second participant while one is connected.
	ErrSessionActive = errors.New("a session is already active")
	// ErrInvalidTransition is returned for state changes the machine does
	// not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrClosed marks a session torn down by an explicit disconnect.
	ErrClosed = errors.New("session closed")
)
