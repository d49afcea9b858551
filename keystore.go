package dtlsproxy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// keystoreEntry is an immutable (identity, key) pair, grounded on
// proxy.c's keystore_t: { id, id_length, key, key_length, next }.
type keystoreEntry struct {
	identity []byte
	key      []byte
}

// Keystore is an ordered, immutable set of PSK credentials consulted
// by the DTLS engine's lookup-PSK callback during handshake. Lookup is
// a linear scan in load order, first hit wins, exactly as
// get_psk_info's `for (psk=ctx->psk; psk; psk=psk->next)` loop.
type Keystore struct {
	entries []keystoreEntry
}

// pskFile is the on-disk shape of the PSK configuration buffer from
// spec.md §6 ("PSK configuration... format opaque to this spec"). This
// proxy fixes that format to TOML, parsed with the same library
// routedns uses for its own configuration.
type pskFile struct {
	Keys []pskFileEntry `toml:"keys"`
}

type pskFileEntry struct {
	Identity string `toml:"identity"`
	Key      string `toml:"key"` // hex-encoded
}

// LoadKeystore reads and parses the PSK configuration file at path.
func LoadKeystore(path string) (*Keystore, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading keystore file %q", path)
	}
	return ParseKeystore(buf)
}

// ParseKeystore builds a Keystore from a TOML document already in
// memory, load order preserved.
func ParseKeystore(buf []byte) (*Keystore, error) {
	var f pskFile
	if err := toml.Unmarshal(buf, &f); err != nil {
		return nil, errors.Wrap(err, "parsing PSK keystore")
	}
	ks := &Keystore{entries: make([]keystoreEntry, 0, len(f.Keys))}
	for i, e := range f.Keys {
		if e.Identity == "" {
			return nil, fmt.Errorf("keystore entry %d: empty identity", i)
		}
		key, err := decodeHexKey(e.Key)
		if err != nil {
			return nil, fmt.Errorf("keystore entry %d (identity %q): %w", i, e.Identity, err)
		}
		ks.entries = append(ks.entries, keystoreEntry{identity: []byte(e.Identity), key: key})
	}
	return ks, nil
}

func decodeHexKey(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex key")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexVal(s[2*i])
		lo, ok2 := hexVal(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid hex digit in key")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// Lookup scans the keystore in load order for an exact, case-sensitive
// match of id against a stored identity (length compared first, then
// bytewise), returning its key on the first hit. The bool result is
// false on no match; it never returns data for an absent identity.
func (k *Keystore) Lookup(id []byte) ([]byte, bool) {
	for _, e := range k.entries {
		if len(e.identity) == len(id) && bytes.Equal(e.identity, id) {
			return e.key, true
		}
	}
	return nil, false
}

// Len reports the number of loaded credentials.
func (k *Keystore) Len() int {
	return len(k.entries)
}
