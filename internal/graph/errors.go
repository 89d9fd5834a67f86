package graph

import (
	"errors"

	"github.com/containerd/errdefs"
)

// Domain errors the graph driver raises, each mapped onto an errdefs
// sentinel so callers across the module can test with errors.Is uniformly
// while still getting a graph-specific message.
var (
	ErrFilesystemUnknown = errors.Join(errors.New("graph: unknown filesystem"), errdefs.ErrNotFound)
	ErrFilesystemInUse   = errors.Join(errors.New("graph: filesystem in use"), errdefs.ErrFailedPrecondition)
	ErrLayerUnknown      = errors.Join(errors.New("graph: unknown layer"), errdefs.ErrNotFound)
	ErrLayerInUse        = errors.Join(errors.New("graph: layer in use"), errdefs.ErrFailedPrecondition)
	ErrInvalidArgument   = errors.Join(errors.New("graph: invalid argument"), errdefs.ErrInvalidArgument)
	ErrAlreadyExists     = errors.Join(errors.New("graph: already exists"), errdefs.ErrAlreadyExists)
)
