package aont

import (
	"bytes"
	"errors"
	"testing"

	"github.com/eniz1806/ironclad/internal/fault"
)

func testMask() *[32]byte {
	var mask [32]byte
	for i := range mask {
		mask[i] = byte(i * 3)
	}
	return &mask
}

func TestRoundTrip(t *testing.T) {
	data := []byte("The quick brown fox jumps over the lazy dog. 1234567890")
	mask := testMask()

	pkg, err := Encrypt(data, mask)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(pkg, data) {
		t.Error("package must not contain plaintext")
	}
	if len(pkg) != NonceSize+len(data)+TagSize+KeySize {
		t.Errorf("unexpected package size %d", len(pkg))
	}

	plain, err := Decrypt(pkg, mask)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plain, data) {
		t.Errorf("round trip mismatch: %q", plain)
	}
}

func TestRoundTrip_Empty(t *testing.T) {
	mask := testMask()
	pkg, err := Encrypt(nil, mask)
	if err != nil {
		t.Fatalf("Encrypt empty: %v", err)
	}
	if len(pkg) != MinPackageSize {
		t.Errorf("empty package should be %d bytes, got %d", MinPackageSize, len(pkg))
	}
	plain, err := Decrypt(pkg, mask)
	if err != nil {
		t.Fatalf("Decrypt empty: %v", err)
	}
	if len(plain) != 0 {
		t.Errorf("expected empty plaintext, got %d bytes", len(plain))
	}
}

func TestAnyBitFlipFails(t *testing.T) {
	data := []byte("SECRET PAYLOAD")
	mask := testMask()
	pkg, err := Encrypt(data, mask)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Every byte of the package participates in key recovery or the tag.
	for i := range pkg {
		for bit := 0; bit < 8; bit++ {
			tampered := bytes.Clone(pkg)
			tampered[i] ^= 1 << bit
			if _, err := Decrypt(tampered, mask); !errors.Is(err, fault.ErrIntegrity) {
				t.Fatalf("flip byte %d bit %d: expected ErrIntegrity, got %v", i, bit, err)
			}
		}
	}
}

func TestWrongMaskFails(t *testing.T) {
	pkg, err := Encrypt([]byte("data"), testMask())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	var wrong [32]byte
	if _, err := Decrypt(pkg, &wrong); !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity with wrong mask, got %v", err)
	}
}

func TestShortPackageRejected(t *testing.T) {
	if _, err := Decrypt(make([]byte, MinPackageSize-1), testMask()); !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for short package, got %v", err)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	mask := testMask()
	a, _ := Encrypt([]byte("same input"), mask)
	b, _ := Encrypt([]byte("same input"), mask)
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext must differ")
	}
}
