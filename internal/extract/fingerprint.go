package extract

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the SHA-256 digest of an encoded image.
type Fingerprint [sha256.Size]byte

// FingerprintOf hashes the encoded bytes of an image.
func FingerprintOf(data []byte) Fingerprint {
	return sha256.Sum256(data)
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}
