package transfer

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strconv"
)

// Supported digest algorithms. The tracker firmware reports SHA-1.
const (
	DigestSHA1   = "sha1"
	DigestSHA256 = "sha256"
	DigestCRC32C = "crc32c"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Verifier computes and checks whole-file digests in the device's format:
// lowercase hex for the SHA family, decimal for CRC32C.
type Verifier struct {
	alg string
}

// NewVerifier returns a verifier for the named algorithm ("" means sha1).
func NewVerifier(name string) (Verifier, error) {
	switch name {
	case "", DigestSHA1:
		return Verifier{alg: DigestSHA1}, nil
	case DigestSHA256, DigestCRC32C:
		return Verifier{alg: name}, nil
	default:
		return Verifier{}, fmt.Errorf("unknown digest algorithm %q", name)
	}
}

// Algorithm returns the algorithm name.
func (v Verifier) Algorithm() string {
	if v.alg == "" {
		return DigestSHA1
	}
	return v.alg
}

// Digest computes the digest of data.
func (v Verifier) Digest(data []byte) string {
	switch v.Algorithm() {
	case DigestSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	case DigestCRC32C:
		return strconv.FormatUint(uint64(crc32.Checksum(data, crc32cTable)), 10)
	default:
		sum := sha1.Sum(data)
		return hex.EncodeToString(sum[:])
	}
}

// Verify computes the digest of data and reports whether it equals expected
// exactly.
func (v Verifier) Verify(data []byte, expected string) (string, bool) {
	actual := v.Digest(data)
	return actual, actual == expected
}
