package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"lukechampine.com/blake3"
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DoubleSHA256 returns SHA-256 applied twice.
func DoubleSHA256(data []byte) []byte {
	return SHA256(SHA256(data))
}

// Blake3 returns the 32-byte Blake3 digest of data.
func Blake3(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// DoubleBlake3 returns Blake3 applied twice. This is the pow5 hash.
func DoubleBlake3(data []byte) []byte {
	return Blake3(Blake3(data))
}

// HMACSHA256 returns the HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ConstantTimeEqual compares two byte strings in constant time for
// equal-length inputs. Unequal lengths return false immediately, which
// leaks only the length.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
