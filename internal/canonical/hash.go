package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix enables
// future algorithm or layout migration without colliding with old ids.
const (
	DomainConfig   = "lockstep/config/v1"
	DomainSnapshot = "lockstep/snapshot/v1"
)

// Hash computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + payload), hex-encoded.
// The null byte prevents domain/payload boundary ambiguity.
func Hash(domain string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// HashValue canonically marshals v and hashes it under the given domain.
// Returns an error if v cannot be canonically marshaled.
func HashValue(domain string, v any) (string, error) {
	payload, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return Hash(domain, payload), nil
}
