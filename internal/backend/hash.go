package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backend: opening %q for hashing: %w", path, err)
	}
	defer f.Close()
	return sha256Reader(f)
}

func sha256Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("backend: hashing stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
