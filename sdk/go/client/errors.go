package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrInvalidConfig    = errors.New("invalid client configuration")
	ErrInvalidMessage   = errors.New("invalid message")
)

// RemoteError is an error frame sent back by the bridge.
type RemoteError struct {
	Message string `json:"message"`
}

func (e *RemoteError) Error() string { return "bridge: " + e.Message }
