// Package checksum computes SHA-256 digests of blob payloads. Storage backends
// wrap their input in a Reader so the digest is produced while the payload
// streams to its destination, without buffering it twice.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	r := NewReader(reader)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return r.Sum(), nil
}

// Reader hashes everything read through it.
type Reader struct {
	r      io.Reader
	hasher hash.Hash
	n      int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, hasher: sha256.New()}
}

func (c *Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hasher.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of the bytes read so far.
func (c *Reader) Sum() string {
	return hex.EncodeToString(c.hasher.Sum(nil))
}

// BytesRead returns the number of bytes read so far.
func (c *Reader) BytesRead() int64 {
	return c.n
}
