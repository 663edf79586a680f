package sim

import "errors"

var (
	ErrNotReady        = errors.New("simulation not ready")
	ErrDisposed        = errors.New("simulation disposed")
	ErrSceneSuperseded = errors.New("scene load superseded by a newer request")
	ErrUnknownGeometry = errors.New("unknown geometry")
)
