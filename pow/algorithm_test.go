package pow

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keypears/keypears-core/crypto"
)

func TestAlgorithmGeometry(t *testing.T) {
	t.Run("pow5-64b", func(t *testing.T) {
		a, err := Lookup(AlgorithmPow564B)
		require.NoError(t, err)
		require.Equal(t, 64, a.HeaderLen())
		start, end := a.NonceRegion()
		require.Equal(t, 0, start)
		require.Equal(t, 32, end)
	})

	t.Run("pow5-217a", func(t *testing.T) {
		a, err := Lookup(AlgorithmPow5217A)
		require.NoError(t, err)
		require.Equal(t, 217, a.HeaderLen())
		start, end := a.NonceRegion()
		require.Equal(t, 117, start)
		require.Equal(t, 149, end)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := Lookup("pow6-13c")
		require.ErrorIs(t, err, ErrAlgorithmMismatch)
	})
}

func TestVerifyHeader(t *testing.T) {
	for _, name := range []string{AlgorithmPow564B, AlgorithmPow5217A} {
		t.Run(name, func(t *testing.T) {
			a, err := Lookup(name)
			require.NoError(t, err)

			issued := make([]byte, a.HeaderLen())
			_, err = rand.Read(issued)
			require.NoError(t, err)

			start, end := a.NonceRegion()

			t.Run("identical header passes", func(t *testing.T) {
				require.True(t, a.VerifyHeader(issued, append([]byte{}, issued...)))
			})

			t.Run("nonce region is free", func(t *testing.T) {
				solved := append([]byte{}, issued...)
				for i := start; i < end; i++ {
					solved[i] ^= 0xff
				}
				require.True(t, a.VerifyHeader(issued, solved))
			})

			t.Run("bytes outside nonce region are fixed", func(t *testing.T) {
				for _, i := range []int{pickOutside(start, end, a.HeaderLen(), 0), pickOutside(start, end, a.HeaderLen(), a.HeaderLen() - 1)} {
					solved := append([]byte{}, issued...)
					solved[i] ^= 0x01
					require.False(t, a.VerifyHeader(issued, solved), "byte %d", i)
				}
			})

			t.Run("wrong length fails", func(t *testing.T) {
				require.False(t, a.VerifyHeader(issued, issued[:a.HeaderLen()-1]))
			})
		})
	}
}

// pickOutside returns preferred if it is outside [start, end), else the
// first byte after the nonce region.
func pickOutside(start, end, headerLen, preferred int) int {
	if preferred < start || preferred >= end {
		return preferred
	}
	if end < headerLen {
		return end
	}
	return start - 1
}

func TestHashIsDoubleBlake3(t *testing.T) {
	a, err := Lookup(AlgorithmPow564B)
	require.NoError(t, err)

	header := make([]byte, a.HeaderLen())
	_, err = rand.Read(header)
	require.NoError(t, err)

	require.Equal(t, crypto.Blake3(crypto.Blake3(header)), a.Hash(header))
	require.Len(t, a.Hash(header), 32)
}
