package erasure

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/eniz1806/ironclad/internal/fault"
)

func TestRoundTrip(t *testing.T) {
	data := []byte("Ironclad Stack Resilience Test Data")
	shards, err := Encode(data, 4, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(shards) != 12 {
		t.Fatalf("expected 12 shards, got %d", len(shards))
	}

	recovered, err := Reconstruct(shards, 4, 8)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(recovered, data) {
		t.Errorf("round trip mismatch: %q", recovered)
	}
}

func TestReconstruct_FromAnyKSubset(t *testing.T) {
	data := make([]byte, 3001)
	rand.New(rand.NewSource(42)).Read(data)

	shards, err := Encode(data, 4, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Keep shards 0, 5, 8, 11 only.
	slots := make([][]byte, 12)
	for _, i := range []int{0, 5, 8, 11} {
		slots[i] = shards[i]
	}

	recovered, err := Reconstruct(slots, 4, 8)
	if err != nil {
		t.Fatalf("Reconstruct from subset: %v", err)
	}
	if !bytes.Equal(recovered, data) {
		t.Error("subset reconstruction mismatch")
	}
}

func TestReconstruct_InsufficientShards(t *testing.T) {
	shards, _ := Encode([]byte("Fail me"), 4, 8)
	slots := make([][]byte, 12)
	slots[0], slots[1], slots[2] = shards[0], shards[1], shards[2]

	_, err := Reconstruct(slots, 4, 8)
	if !errors.Is(err, fault.ErrInsufficientRedundancy) {
		t.Errorf("expected ErrInsufficientRedundancy, got %v", err)
	}
}

func TestReconstruct_WrongSlotCount(t *testing.T) {
	if _, err := Reconstruct(make([][]byte, 5), 4, 8); !errors.Is(err, fault.ErrBadInput) {
		t.Errorf("expected ErrBadInput for wrong slot count, got %v", err)
	}
}

func TestReconstruct_CorruptedShardFailsVerify(t *testing.T) {
	shards, _ := Encode([]byte("parity catches silent corruption"), 3, 2)
	shards[1][0] ^= 0xff
	if _, err := Reconstruct(shards, 3, 2); !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for corrupted shard, got %v", err)
	}
}

func TestEncode_ConfigValidation(t *testing.T) {
	cases := []struct{ k, m int }{
		{0, 4}, {4, 0}, {-1, 2}, {200, 57}, {256, 1},
	}
	for _, c := range cases {
		if _, err := Encode([]byte("x"), c.k, c.m); !errors.Is(err, fault.ErrBadInput) {
			t.Errorf("Encode(k=%d, m=%d): expected ErrBadInput, got %v", c.k, c.m, err)
		}
	}
	if err := ValidateConfig(255, 1); err != nil {
		t.Errorf("k+m=256 must be accepted: %v", err)
	}
}

func TestEncode_CustomConfig(t *testing.T) {
	data := []byte("Custom Config Data")
	shards, err := Encode(data, 10, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(shards) != 12 {
		t.Fatalf("expected 12 shards, got %d", len(shards))
	}

	// Lose one shard.
	slots := make([][]byte, 12)
	copy(slots, shards[:11])
	recovered, err := Reconstruct(slots, 10, 2)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(recovered, data) {
		t.Error("custom config mismatch")
	}
}

func TestRebuild_RestoresExactShardBytes(t *testing.T) {
	data := make([]byte, 500)
	rand.New(rand.NewSource(8)).Read(data)
	shards, err := Encode(data, 4, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	slots := make([][]byte, len(shards))
	copy(slots, shards)
	slots[1], slots[4] = nil, nil

	if err := Rebuild(slots, 4, 2); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	for i := range shards {
		if !bytes.Equal(slots[i], shards[i]) {
			t.Errorf("shard %d not restored byte-exact", i)
		}
	}
}

func TestRebuild_InsufficientShards(t *testing.T) {
	shards, _ := Encode([]byte("gone"), 4, 2)
	slots := make([][]byte, len(shards))
	copy(slots, shards[:3])
	if err := Rebuild(slots, 4, 2); !errors.Is(err, fault.ErrInsufficientRedundancy) {
		t.Errorf("expected ErrInsufficientRedundancy, got %v", err)
	}
}

func TestEncode_EmptyPayload(t *testing.T) {
	shards, err := Encode(nil, 2, 1)
	if err != nil {
		t.Fatalf("Encode empty: %v", err)
	}
	recovered, err := Reconstruct(shards, 2, 1)
	if err != nil {
		t.Fatalf("Reconstruct empty: %v", err)
	}
	if len(recovered) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(recovered))
	}
}

func TestShardSizes(t *testing.T) {
	// 9 bytes + 8-byte header = 17 over k=4 -> shard size 5.
	shards, err := Encode(make([]byte, 9), 4, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i, s := range shards {
		if len(s) != 5 {
			t.Errorf("shard %d: expected size 5, got %d", i, len(s))
		}
	}
}
