package namestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
)

func TestNamestoreNew(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name      string
		namespace string
		wantErr   bool
		errChecks []error
	}{
		{
			name:      "empty namespace",
			namespace: "",
			wantErr:   true,
			errChecks: []error{ErrNameStore, errdefs.ErrInvalidArgument},
		},
		{
			name:      "valid namespace",
			namespace: "containers",
			wantErr:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, err := New(tempDir, tt.namespace)
			if tt.wantErr {
				assert.Assert(t, err != nil, "New should return an error for %s", tt.name)
				for _, errCheck := range tt.errChecks {
					assert.ErrorIs(t, err, errCheck, "Error should contain %v for %s", errCheck, tt.name)
				}
			} else {
				assert.NilError(t, err, "New should succeed for %s", tt.name)
				assert.Assert(t, ns != nil)

				expectedDir := filepath.Join(tempDir, "names", tt.namespace)
				_, err = os.Stat(expectedDir)
				assert.NilError(t, err, "directory should be created at the correct path for %s", tt.name)
			}
		})
	}
}

func TestAcquireRelease(t *testing.T) {
	ns, err := New(t.TempDir(), "containers")
	assert.NilError(t, err)

	assert.NilError(t, ns.Acquire("stoic_turing", "id-1"))

	err = ns.Acquire("stoic_turing", "id-2")
	assert.Assert(t, err != nil, "acquiring an already-held name should fail")
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)

	err = ns.Release("stoic_turing", "id-2")
	assert.Assert(t, err != nil, "releasing a name owned by a different id should fail")
	assert.ErrorIs(t, err, errdefs.ErrFailedPrecondition)

	assert.NilError(t, ns.Release("stoic_turing", "id-1"))

	// the name is free again
	assert.NilError(t, ns.Acquire("stoic_turing", "id-3"))
}

func TestAcquireInvalidName(t *testing.T) {
	ns, err := New(t.TempDir(), "containers")
	assert.NilError(t, err)

	tests := []string{"", "has/slash", "has:colon", `has\backslash`}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			err := ns.Acquire(name, "id-1")
			assert.Assert(t, err != nil)
			assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
		})
	}
}

func TestReleaseUnknownNameIsNoop(t *testing.T) {
	ns, err := New(t.TempDir(), "containers")
	assert.NilError(t, err)
	assert.NilError(t, ns.Release("never_acquired", "id-1"))
	assert.NilError(t, ns.Release("", "id-1"))
}

func TestGenerateRandomName(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		name, err := GenerateRandomName()
		assert.NilError(t, err)
		assert.Assert(t, name != "")
		seen[name] = true
	}
	// not a strict uniqueness guarantee, but 50 draws from a ~700-pair space
	// should produce more than one distinct value.
	assert.Assert(t, len(seen) > 1)
}
