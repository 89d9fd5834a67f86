package runtime

import (
	"errors"

	"github.com/containerd/errdefs"
)

var (
	ErrContainerUnknown  = errors.Join(errors.New("runtime: unknown container"), errdefs.ErrNotFound)
	ErrContainerExists   = errors.Join(errors.New("runtime: container already exists"), errdefs.ErrAlreadyExists)
	ErrInvalidArgument   = errors.Join(errors.New("runtime: invalid argument"), errdefs.ErrInvalidArgument)
	ErrIncompatibleImage = errors.Join(errors.New("runtime: incompatible image"), errdefs.ErrFailedPrecondition)
	ErrUnsupported       = errors.Join(errors.New("runtime: unsupported operation"), errdefs.ErrNotImplemented)
	ErrInvalidState      = errors.Join(errors.New("runtime: container is not in a state that allows this operation"), errdefs.ErrFailedPrecondition)
	ErrRunc              = errors.Join(errors.New("runtime: runc invocation failed"), errdefs.ErrUnknown)
)
