package graph

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guillermomolina/oci-graph/internal/backend"
	"github.com/guillermomolina/oci-graph/internal/tarutil"
)

// writeChangesetFromDiff renders the backend's change list as a whiteout
// changeset tar: added/modified entries are extracted from mountpoint and
// written as regular tar entries, removed entries become ".wh.<name>"
// markers, and a rename is a whiteout for the old path plus a regular
// entry for the new one. Entries naming the filesystem root are skipped.
func writeChangesetFromDiff(w io.Writer, changes []backend.Change, mountpoint string) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	for _, change := range changes {
		path := strings.Trim(change.Path, "/")
		if path == "" || path == "." {
			continue
		}
		switch change.Kind {
		case backend.ChangeAdded, backend.ChangeModified:
			if err := writeChangesetEntry(tw, mountpoint, path); err != nil {
				return err
			}
		case backend.ChangeRemoved:
			if err := tarutil.WriteWhiteout(tw, path); err != nil {
				return fmt.Errorf("graph: writing whiteout for %q: %w", path, err)
			}
		case backend.ChangeRenamed:
			if err := tarutil.WriteWhiteout(tw, path); err != nil {
				return fmt.Errorf("graph: writing whiteout for renamed %q: %w", path, err)
			}
			target := strings.Trim(change.RenameTarget, "/")
			if target != "" && target != "." {
				if err := writeChangesetEntry(tw, mountpoint, target); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("graph: unrecognised changeset entry kind %q for %q", change.Kind, path)
		}
	}
	return tw.Close()
}

func writeChangesetEntry(tw *tar.Writer, mountpoint, relPath string) error {
	path := filepath.Join(mountpoint, relPath)
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// the backend reported a change for an entry that no longer
			// exists by the time the changeset is built (e.g. it was
			// itself later removed within the same commit); nothing to
			// emit.
			return nil
		}
		return fmt.Errorf("graph: lstat %q: %w", path, err)
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return fmt.Errorf("graph: readlink %q: %w", path, err)
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("graph: building tar header for %q: %w", relPath, err)
	}
	header.Name = filepath.ToSlash(relPath)
	if info.IsDir() && !strings.HasSuffix(header.Name, "/") {
		header.Name += "/"
	}
	header.Format = tar.FormatPAX
	header.ModTime = header.ModTime.Truncate(time.Second)
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("graph: writing tar header for %q: %w", relPath, err)
	}
	if info.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("graph: opening %q: %w", path, err)
		}
		_, copyErr := io.Copy(tw, f)
		closeErr := f.Close()
		if copyErr != nil {
			return fmt.Errorf("graph: copying %q into changeset: %w", path, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("graph: closing %q: %w", path, closeErr)
		}
	}
	return nil
}
