package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	key := make([]byte, SymmetricKeySize)
	iv := make([]byte, IVSize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("exactly sixteen!"),
		[]byte("an opaque vault-key blob that spans several AES blocks in length"),
	} {
		sealed, err := AESCBCEncrypt(key, iv, plaintext)
		require.NoError(t, err)

		opened, err := AESCBCDecrypt(key, iv, sealed)
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestEnvelopeTamperDetection(t *testing.T) {
	key := make([]byte, SymmetricKeySize)
	iv := make([]byte, IVSize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealed, err := AESCBCEncrypt(key, iv, []byte("secret"))
	require.NoError(t, err)

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		bad := append([]byte{}, sealed...)
		bad[0] ^= 0x01
		_, err := AESCBCDecrypt(key, iv, bad)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped mac byte", func(t *testing.T) {
		bad := append([]byte{}, sealed...)
		bad[len(bad)-1] ^= 0x01
		_, err := AESCBCDecrypt(key, iv, bad)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := make([]byte, SymmetricKeySize)
		_, err := rand.Read(other)
		require.NoError(t, err)
		_, err = AESCBCDecrypt(other, iv, sealed)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("wrong iv", func(t *testing.T) {
		otherIV := make([]byte, IVSize)
		otherIV[3] = 0x7f
		_, err = AESCBCDecrypt(key, otherIV, sealed)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := AESCBCDecrypt(key, iv, sealed[:MACSize])
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("bad key length", func(t *testing.T) {
		_, err := AESCBCEncrypt(key[:16], iv, []byte("x"))
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}
