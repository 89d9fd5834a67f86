package runtime

import "runtime"

// hostArchitecture derives the OCI architecture string for this host,
// applying the same two renames the original implementation's
// architecture() helper applied to the raw processor family name:
// "i386" becomes "amd64" and "sparc" becomes "sparc64". Go's own
// runtime.GOARCH already reports normalised names on every platform this
// module targets, so in practice the renames are a no-op safety net
// rather than load-bearing, but they're kept for parity with the
// documented host-identity rule.
func hostArchitecture() string {
	switch runtime.GOARCH {
	case "386":
		return "amd64"
	case "sparc":
		return "sparc64"
	default:
		return runtime.GOARCH
	}
}

// hostOS returns the OCI os string for this host (the kernel name).
func hostOS() string {
	return runtime.GOOS
}

// isSolarisHost reports whether this host uses the Solaris-style bundle
// layout (rootfs nested under "rootfs/root", an "anet" network stanza).
func isSolarisHost() bool {
	return runtime.GOOS == "solaris" || runtime.GOOS == "illumos"
}
