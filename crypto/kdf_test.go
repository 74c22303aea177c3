package crypto

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

// Reference re-derivation of the iteration rule, kept deliberately
// separate from the production loop so the rule itself is pinned.
func referenceKDF(loginKey []byte, vaultID string) []byte {
	input := make([]byte, 0, len(loginKey)+len(vaultID))
	input = append(input, loginKey...)
	input = append(input, vaultID...)
	state := sha256.Sum256(input)
	for round := 2; round <= KDFRounds; round++ {
		state = sha256.Sum256(state[:])
	}
	return state[:]
}

func TestDeriveHashedLoginKey(t *testing.T) {
	loginKey := SHA256([]byte("login key material"))
	vaultID := "01JDQXZ9K8XQXQXQXQXQXQXQXQ"

	t.Run("matches reference rule", func(t *testing.T) {
		require.Equal(t, referenceKDF(loginKey, vaultID), DeriveHashedLoginKey(loginKey, vaultID))
	})

	t.Run("deterministic", func(t *testing.T) {
		require.Equal(t,
			DeriveHashedLoginKey(loginKey, vaultID),
			DeriveHashedLoginKey(loginKey, vaultID))
	})

	t.Run("salted by vault id", func(t *testing.T) {
		other := DeriveHashedLoginKey(loginKey, "01JDQXZ9K8XQXQXQXQXQXQXQXR")
		require.NotEqual(t, DeriveHashedLoginKey(loginKey, vaultID), other)
	})

	t.Run("keyed by login key", func(t *testing.T) {
		other := DeriveHashedLoginKey(SHA256([]byte("different")), vaultID)
		require.NotEqual(t, DeriveHashedLoginKey(loginKey, vaultID), other)
	})

	t.Run("output width", func(t *testing.T) {
		require.Len(t, DeriveHashedLoginKey(loginKey, vaultID), DigestSize)
	})
}
