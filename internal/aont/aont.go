// Package aont implements the Ironclad all-or-nothing transform.
//
// A package is laid out as nonce(12) | ciphertext+tag | canary(32). The
// ephemeral AES key is XOR-entangled with the BLAKE3 hash of everything
// before the canary and with the caller's mask key, so recovering any
// plaintext byte requires every package byte plus the mask key.
package aont

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/fault"
)

const (
	// KeySize is the ephemeral key and canary size (AES-256, BLAKE3).
	KeySize = 32
	// NonceSize is the AES-GCM nonce size.
	NonceSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16

	// MinPackageSize is nonce + tag + canary, the encoding of an empty
	// plaintext. Anything shorter cannot be a valid package.
	MinPackageSize = NonceSize + TagSize + KeySize
)

// Encrypt entangles plaintext into an AONT package under mask.
func Encrypt(plaintext []byte, mask *[KeySize]byte) ([]byte, error) {
	var ephemeral [KeySize]byte
	if _, err := rand.Read(ephemeral[:]); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	gcm, err := newGCM(ephemeral[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize+KeySize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// pre = nonce | ciphertext | tag. The mask key doubles as AEAD
	// associated data, binding the package to the dataset's subkey.
	pre := gcm.Seal(nonce, nonce, plaintext, mask[:])
	digest := blake3.Sum256(pre)

	var canary [KeySize]byte
	for i := range canary {
		canary[i] = ephemeral[i] ^ digest[i] ^ mask[i]
	}

	return append(pre, canary[:]...), nil
}

// Decrypt inverts Encrypt. Any single-bit change anywhere in the package, or
// a wrong mask key, garbles the recovered ephemeral key and fails the AEAD
// tag check. No plaintext is ever returned on failure.
func Decrypt(pkg []byte, mask *[KeySize]byte) ([]byte, error) {
	if len(pkg) < MinPackageSize {
		return nil, fmt.Errorf("%w: package too short (%d bytes, need at least %d)",
			fault.ErrIntegrity, len(pkg), MinPackageSize)
	}

	pre := pkg[:len(pkg)-KeySize]
	canary := pkg[len(pkg)-KeySize:]
	digest := blake3.Sum256(pre)

	var ephemeral [KeySize]byte
	for i := range ephemeral {
		ephemeral[i] = canary[i] ^ digest[i] ^ mask[i]
	}

	gcm, err := newGCM(ephemeral[:])
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, pre[:NonceSize], pre[NonceSize:], mask[:])
	if err != nil {
		return nil, fmt.Errorf("%w: package authentication failed", fault.ErrIntegrity)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
