package runtime

import "time"

// Container is a provisioned, runnable unit: a writable Filesystem cloned
// from an image's top layer, an OCI bundle on disk, and a registration
// with the external runtime.
type Container struct {
	// ID is a random 256-bit id; RuncID is its short-id projection, the
	// identifier handed to the external runtime binary.
	ID     string
	RuncID string
	// Name is the unique human name, explicit or auto-generated.
	Name       string
	CreateTime time.Time
	ImageID    string
	// FilesystemID is the writable Filesystem cloned from the image's
	// top layer and mounted at this container's rootfs.
	FilesystemID string
}

func cloneContainer(c *Container) *Container {
	copyOf := *c
	return &copyOf
}
