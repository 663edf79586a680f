package bridge

import "errors"

var (
	ErrServerClosed         = errors.New("bridge is closed")
	ErrServerAlreadyRunning = errors.New("bridge is already running")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrInvalidPort          = errors.New("motor port out of range")
)
