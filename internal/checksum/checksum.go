// Package checksum computes content fingerprints for source files.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/rpattn/casefeed/internal/domain"
)

// ChunkSize bounds the read buffer used while hashing.
const ChunkSize = 64 * 1024

// File returns the hex SHA-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open %s: %v", domain.ErrIO, path, err)
	}
	defer f.Close()
	return Reader(f)
}

// Reader returns the hex SHA-256 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	hasher := sha256.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", fmt.Errorf("%w: failed to read content: %v", domain.ErrIO, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Bytes returns the hex SHA-256 digest of data.
func Bytes(data []byte) string {
	sum, _ := Reader(bytes.NewReader(data))
	return sum
}
