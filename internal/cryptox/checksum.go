// Package cryptox computes integrity checksums for photo blobs held in the
// on-device store.
package cryptox

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the BLAKE2b-256 digest of b.
func Checksum(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}

// Verify reports whether sum is the checksum of b. An empty sum is treated
// as "not recorded" and verifies successfully.
func Verify(b []byte, sum []byte) bool {
	if len(sum) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(Checksum(b), sum) == 1
}

// Hex renders a checksum for logs and upload headers.
func Hex(sum []byte) string {
	return hex.EncodeToString(sum)
}
