package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("format", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			id := New()
			require.Len(t, id, 26)
			require.True(t, IsValid(id), "id %q", id)
		}
	})

	t.Run("monotonic", func(t *testing.T) {
		prev := New()
		for i := 0; i < 1000; i++ {
			next := New()
			require.Less(t, prev, next)
			prev = next
		}
	})
}

func TestIsValid(t *testing.T) {
	require.False(t, IsValid(""))
	require.False(t, IsValid("too-short"))
	require.False(t, IsValid("01jdqxz9k8xqxqxqxqxqxqxqxq"))  // lowercase
	require.False(t, IsValid("ILOU45678901234567890123456")) // excluded letters, wrong length
	require.True(t, IsValid("01JDQXZ9K8XQXQXQXQXQXQXQXQ"))
}
