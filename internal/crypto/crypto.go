package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func HashReader(r io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}

// Normalize lowercases a hex digest so lookups are case-insensitive.
func Normalize(checksum string) string {
	return strings.ToLower(strings.TrimSpace(checksum))
}

// CompareHash reports whether two hex digests are equal ignoring case.
func CompareHash(expected, computed string) bool {
	return Normalize(expected) == Normalize(computed)
}

// HashingWriter passes writes through to W while computing their SHA-256.
type HashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	hw.n += int64(n)
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (hw *HashingWriter) Sum() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}

func (hw *HashingWriter) Written() int64 {
	return hw.n
}
