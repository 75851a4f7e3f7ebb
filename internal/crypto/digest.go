package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

const DigestPrefix = "sha256:"

// DigestBytes returns the raw SHA-256 digest bytes.
func DigestBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return DigestPrefix + DigestHex(data)
}

// DigestCanonical canonicalizes v and returns its prefixed digest.
func DigestCanonical(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return DigestWithPrefix(canonical), nil
}
