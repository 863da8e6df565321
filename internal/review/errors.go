package review

import "errors"

var (
	ErrSessionActive   = errors.New("another review session is active")
	ErrNoActiveSession = errors.New("no active review session")
	ErrAlreadyRunning  = errors.New("session is already running")
	ErrSessionTerminal = errors.New("session is final or failed")
	ErrSessionClosed   = errors.New("session is no longer active")
	ErrFinalizing      = errors.New("session is being finalized")
	ErrUnsupported     = errors.New("operation not supported in this review mode")
	ErrUnknownLabel    = errors.New("label is not part of this session")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNoSnapshot      = errors.New("session has no saved snapshot")
)
