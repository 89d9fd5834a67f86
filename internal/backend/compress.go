package backend

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
)

// compressToGzip mirrors the teacher's preference for a parallel gzip
// implementation whenever the caller asks for it (there is no size
// threshold); a layer changeset can run into the hundreds of megabytes,
// which is exactly the case pgzip exists for.
func compressToGzip(dst io.Writer, src io.Reader, parallel bool) error {
	if parallel {
		w := pgzip.NewWriter(dst)
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return fmt.Errorf("backend: parallel gzip compression: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("backend: closing parallel gzip writer: %w", err)
		}
		return nil
	}
	w := gzip.NewWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("backend: gzip compression: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("backend: closing gzip writer: %w", err)
	}
	return nil
}

func decompressGzip(dst io.Writer, src io.Reader) error {
	r, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("backend: opening gzip stream: %w", err)
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("backend: gzip decompression: %w", err)
	}
	return nil
}
