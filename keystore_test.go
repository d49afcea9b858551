package dtlsproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func init() {
	// Silence the logger while running tests, the same way routedns's
	// resolver_test.go quiets Log in its init().
	Log.SetLevel(0)
}

func TestKeystoreLookup(t *testing.T) {
	ks, err := ParseKeystore([]byte(`
[[keys]]
identity = "client1"
key = "0102030405060708090a"

[[keys]]
identity = "client2"
key = "aabbccdd"
`))
	require.NoError(t, err)
	require.Equal(t, 2, ks.Len())

	key, ok := ks.Lookup([]byte("client1"))
	require.True(t, ok)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}, key)

	key, ok = ks.Lookup([]byte("client2"))
	require.True(t, ok)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, key)
}

func TestKeystoreLookupMiss(t *testing.T) {
	ks, err := ParseKeystore([]byte(`
[[keys]]
identity = "client1"
key = "00"
`))
	require.NoError(t, err)

	key, ok := ks.Lookup([]byte("ghost"))
	require.False(t, ok)
	require.Nil(t, key)
}

func TestKeystoreFirstHitWins(t *testing.T) {
	// Same identity listed twice: load order decides, first hit wins.
	ks, err := ParseKeystore([]byte(`
[[keys]]
identity = "dup"
key = "01"

[[keys]]
identity = "dup"
key = "02"
`))
	require.NoError(t, err)

	key, ok := ks.Lookup([]byte("dup"))
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, key)
}

func TestKeystoreInvalidHex(t *testing.T) {
	_, err := ParseKeystore([]byte(`
[[keys]]
identity = "bad"
key = "zz"
`))
	require.Error(t, err)
}
