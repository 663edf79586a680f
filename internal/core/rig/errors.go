package rig

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCollider = errors.New("missing collider mesh")
	ErrInvalidManifest = errors.New("invalid rig manifest")
)

// MissingColliderError reports a mesh the manifest requires but the model does not
// contain. The model asset is malformed; the rig cannot be built.
type MissingColliderError struct {
	Mesh string
	Role string
}

func (e *MissingColliderError) Error() string {
	return fmt.Sprintf("rig %s: missing mesh %q", e.Role, e.Mesh)
}

func (e *MissingColliderError) Unwrap() error { return ErrMissingCollider }
