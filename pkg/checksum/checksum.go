// Package checksum provides SHA-256 content hashing for the sync engine. The
// same hex digest is used for content-addressed version paths, upload
// deduplication, and reconciliation drift detection, so keeping the wiring in
// one package guarantees every layer hashes identically.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// SHA256 returns the hex-encoded SHA-256 digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Reader returns the hex-encoded SHA-256 digest of everything readable
// from reader.
func SHA256Reader(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify reports whether the content of reader hashes to expected.
func Verify(reader io.Reader, expected string) (bool, error) {
	actual, err := SHA256Reader(reader)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}
