package distribution

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	specs "github.com/opencontainers/image-spec/specs-go"
)

// canonicalJSON serialises v with Go's default compact encoding (no
// indentation, no HTML escaping quirks beyond the stdlib default), which is
// all the manifest/config identity invariant requires: the same value
// always serialises to the same bytes on this implementation, so
// sha256(serialise(v)) is stable across save/load cycles.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func manifestVersioned() specs.Versioned {
	return specs.Versioned{SchemaVersion: 2}
}

func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}
