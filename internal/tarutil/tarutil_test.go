package tarutil

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a"), "hello\n")
	writeFile(t, filepath.Join(src, "sub", "b"), "world\n")

	var buf bytes.Buffer
	assert.NilError(t, Pack(src, &buf))

	dest := t.TempDir()
	assert.NilError(t, Unpack(&buf, dest))

	got, err := os.ReadFile(filepath.Join(dest, "a"))
	assert.NilError(t, err)
	assert.Equal(t, string(got), "hello\n")

	got, err = os.ReadFile(filepath.Join(dest, "sub", "b"))
	assert.NilError(t, err)
	assert.Equal(t, string(got), "world\n")
}

func TestWriteChangesetSingleAddedFile(t *testing.T) {
	parent := t.TempDir()
	child := t.TempDir()
	writeFile(t, filepath.Join(child, "a"), "hello\n")

	var buf bytes.Buffer
	assert.NilError(t, WriteChangeset(parent, child, &buf))

	entries := readEntryNames(t, &buf)
	assert.DeepEqual(t, entries, []string{"a"})
}

func TestWriteChangesetWhiteout(t *testing.T) {
	parent := t.TempDir()
	writeFile(t, filepath.Join(parent, "a"), "hello\n")
	child := t.TempDir()

	var buf bytes.Buffer
	assert.NilError(t, WriteChangeset(parent, child, &buf))

	entries := readEntryNames(t, &buf)
	assert.DeepEqual(t, entries, []string{".wh.a"})
}

func TestApplyChangesetWhiteoutRemovesFile(t *testing.T) {
	dest := t.TempDir()
	writeFile(t, filepath.Join(dest, "a"), "hello\n")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	assert.NilError(t, WriteWhiteout(tw, "a"))
	assert.NilError(t, tw.Close())

	assert.NilError(t, ApplyChangeset(&buf, dest))

	_, err := os.Stat(filepath.Join(dest, "a"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestApplyChangesetOpaqueMarkerEmptiesDirectory(t *testing.T) {
	dest := t.TempDir()
	writeFile(t, filepath.Join(dest, "sub", "old"), "stale\n")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	assert.NilError(t, WriteOpaqueMarker(tw, "sub"))
	assert.NilError(t, tw.Close())

	assert.NilError(t, ApplyChangeset(&buf, dest))

	_, err := os.Stat(filepath.Join(dest, "sub", "old"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestChangesetRoundTrip(t *testing.T) {
	// L0: empty. L1: clone, add /a. L2: clone of L1, delete /a.
	l0 := t.TempDir()

	l1 := t.TempDir()
	copyTree(t, l0, l1)
	writeFile(t, filepath.Join(l1, "a"), "hello\n")

	var l1Changeset bytes.Buffer
	assert.NilError(t, WriteChangeset(l0, l1, &l1Changeset))
	assert.DeepEqual(t, readEntryNames(t, &l1Changeset), []string{"a"})

	l2 := t.TempDir()
	copyTree(t, l1, l2)
	assert.NilError(t, os.Remove(filepath.Join(l2, "a")))

	var l2Changeset bytes.Buffer
	assert.NilError(t, WriteChangeset(l1, l2, &l2Changeset))
	assert.DeepEqual(t, readEntryNames(t, &l2Changeset), []string{".wh.a"})

	// Applying l1's changeset onto a fresh clone of l0 reproduces l1.
	freshFromL0 := t.TempDir()
	copyTree(t, l0, freshFromL0)
	var replay bytes.Buffer
	assert.NilError(t, WriteChangeset(l0, l1, &replay))
	assert.NilError(t, ApplyChangeset(&replay, freshFromL0))
	got, err := os.ReadFile(filepath.Join(freshFromL0, "a"))
	assert.NilError(t, err)
	assert.Equal(t, string(got), "hello\n")

	// Applying l2's changeset onto a fresh clone of l1 removes /a.
	freshFromL1 := t.TempDir()
	copyTree(t, l1, freshFromL1)
	var replay2 bytes.Buffer
	assert.NilError(t, WriteChangeset(l1, l2, &replay2))
	assert.NilError(t, ApplyChangeset(&replay2, freshFromL1))
	_, err = os.Stat(filepath.Join(freshFromL1, "a"))
	assert.Assert(t, os.IsNotExist(err))
}

func readEntryNames(t *testing.T, r io.Reader) []string {
	t.Helper()
	tr := tar.NewReader(r)
	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		names = append(names, h.Name)
	}
	return names
}

func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	var buf bytes.Buffer
	assert.NilError(t, Pack(src, &buf))
	assert.NilError(t, Unpack(&buf, dst))
}
