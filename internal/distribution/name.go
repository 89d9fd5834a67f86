package distribution

import (
	"fmt"
	"strings"
)

// defaultTag is appended to a bare repository name, matching the Python
// original's split_image_name/get_image_name normalisation.
const defaultTag = "latest"

// splitImageName splits ref of the form "name[:tag]" into its repository
// name and tag, defaulting the tag to "latest". A ref containing more than
// one colon, or an empty name, is rejected.
func splitImageName(ref string) (name, tag string, err error) {
	if ref == "" {
		return "", "", fmt.Errorf("%w: image name cannot be empty", ErrInvalidArgument)
	}
	parts := strings.Split(ref, ":")
	switch len(parts) {
	case 1:
		return parts[0], defaultTag, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("%w: malformed image reference %q", ErrInvalidArgument, ref)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%w: malformed image reference %q", ErrInvalidArgument, ref)
	}
}

// normalizeImageName returns ref in canonical "name:tag" form.
func normalizeImageName(ref string) (string, error) {
	name, tag, err := splitImageName(ref)
	if err != nil {
		return "", err
	}
	return name + ":" + tag, nil
}

// looksLikeShortID reports whether ref has the shape of a short id
// (exactly 12 lowercase hex characters) rather than a tag reference.
func looksLikeShortID(ref string) bool {
	if len(ref) != 12 {
		return false
	}
	for _, r := range ref {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
