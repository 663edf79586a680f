package physics

import "errors"

var (
	ErrUnknownBody  = errors.New("unknown body")
	ErrUnknownJoint = errors.New("unknown joint")
	ErrBodyExists   = errors.New("body already exists")
	ErrJointExists  = errors.New("joint already exists")
	ErrInvalidBody  = errors.New("invalid body definition")
	ErrInvalidHinge = errors.New("invalid hinge definition")
	ErrBodyInUse    = errors.New("body is referenced by a joint")
)
