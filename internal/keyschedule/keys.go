// Package keyschedule parses the root key and derives the two subkeys the
// store runs on. The root key is 32 opaque bytes supplied out-of-band; it is
// held in process memory only and never persisted.
package keyschedule

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/fault"
)

const (
	// RootKeySize is the root key length in bytes.
	RootKeySize = 32
	// RootKeyHexLen is the expected length of the hex encoding.
	RootKeyHexLen = RootKeySize * 2

	aontMaskContext = "ironclad/v2/aont-mask"
	metaMACContext  = "ironclad/v2/meta-mac"

	// passphraseSalt is a fixed domain salt: the same passphrase must map
	// to the same root key on every machine that opens the dataset.
	passphraseSalt = "ironclad/v2/root-key"
)

// RootKey is the 32-byte master secret.
type RootKey [RootKeySize]byte

// Keys holds the two subkeys expanded from the root key. AONTMask feeds the
// all-or-nothing transform; MetaMAC authenticates chunk envelopes. Neither
// can be derived from the other without the root key.
type Keys struct {
	AONTMask [32]byte
	MetaMAC  [32]byte
}

// ParseRootKeyHex decodes a 64-character hex string into a root key.
func ParseRootKeyHex(s string) (RootKey, error) {
	var key RootKey
	if len(s) != RootKeyHexLen {
		return key, fmt.Errorf("%w: root key must be %d hex characters (32 bytes), got %d",
			fault.ErrBadInput, RootKeyHexLen, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: root key is not valid hex", fault.ErrBadInput)
	}
	copy(key[:], raw)
	return key, nil
}

// RootKeyFromPassphrase stretches a passphrase into a root key with scrypt.
// The salt is a fixed domain constant so the mapping is stable across runs.
func RootKeyFromPassphrase(pass string) (RootKey, error) {
	var key RootKey
	if pass == "" {
		return key, fmt.Errorf("%w: passphrase cannot be empty", fault.ErrBadInput)
	}
	raw, err := scrypt.Key([]byte(pass), []byte(passphraseSalt), 32768, 8, 1, RootKeySize)
	if err != nil {
		return key, fmt.Errorf("stretch passphrase: %w", err)
	}
	copy(key[:], raw)
	return key, nil
}

// Derive expands the root key into the AONT-mask and meta-MAC subkeys using
// domain-separated BLAKE3 key derivation.
func (k RootKey) Derive() Keys {
	var keys Keys
	blake3.DeriveKey(keys.AONTMask[:], aontMaskContext, k[:])
	blake3.DeriveKey(keys.MetaMAC[:], metaMACContext, k[:])
	return keys
}

// String masks the key material so it cannot leak through logging.
func (k RootKey) String() string { return "RootKey(redacted)" }
