package distribution

import (
	"errors"

	"github.com/containerd/errdefs"
)

var (
	ErrImageUnknown    = errors.Join(errors.New("distribution: unknown image"), errdefs.ErrNotFound)
	ErrImageExists     = errors.Join(errors.New("distribution: image already exists"), errdefs.ErrAlreadyExists)
	ErrImageInUse      = errors.Join(errors.New("distribution: image in use"), errdefs.ErrFailedPrecondition)
	ErrInvalidArgument = errors.Join(errors.New("distribution: invalid argument"), errdefs.ErrInvalidArgument)
	ErrTagUnknown      = errors.Join(errors.New("distribution: unknown tag"), errdefs.ErrNotFound)
)
