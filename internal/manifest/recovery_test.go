package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/eniz1806/ironclad/internal/chunk"
	"github.com/eniz1806/ironclad/internal/fault"
)

func testKey(b byte) *[32]byte {
	var key [32]byte
	for i := range key {
		key[i] = b
	}
	return &key
}

func testManifest(epoch uint64, name string) *Manifest {
	return &Manifest{Epoch: epoch, FileName: name}
}

func writeMetaCopy(t *testing.T, dir, name string, m *Manifest, key *[32]byte) {
	t.Helper()
	blob, hash, err := EncodeSnapshot(m)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	data, err := chunk.Encode(chunk.MetaOnly(m.Epoch, hash, blob), key)
	if err != nil {
		t.Fatalf("chunk.Encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := &Manifest{
		Epoch:     5,
		FileName:  "data.bin",
		TotalSize: 10,
		Blocks:    []Block{validBlock(1, 10, 4, 2)},
	}
	blob, hash, err := EncodeSnapshot(m)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("snapshot blob must be non-empty")
	}

	decoded, err := DecodeSnapshot(blob, hash)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if !reflect.DeepEqual(decoded, m) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, m)
	}
}

func TestSnapshot_HashMismatch(t *testing.T) {
	blob, hash, err := EncodeSnapshot(testManifest(1, "x"))
	if err != nil {
		t.Fatal(err)
	}
	hash[0] ^= 1
	if _, err := DecodeSnapshot(blob, hash); !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestSnapshot_GarbageBlob(t *testing.T) {
	if _, err := DecodeSnapshot([]byte("junk"), [32]byte{}); !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestSnapshot_EncodeDeterministic(t *testing.T) {
	m := &Manifest{Epoch: 2, FileName: "same", TotalSize: 10, Blocks: []Block{validBlock(1, 10, 4, 2)}}
	_, hashA, _ := EncodeSnapshot(m)
	_, hashB, _ := EncodeSnapshot(m.Clone())
	if hashA != hashB {
		t.Error("identical manifests must hash identically")
	}
}

func TestRecovery_SelectsHighestEpochQuorum(t *testing.T) {
	dir := t.TempDir()
	key := testKey(5)
	old := testManifest(2, "old")
	cur := testManifest(3, "new")

	writeMetaCopy(t, dir, "meta_2_0.bin", old, key)
	writeMetaCopy(t, dir, "meta_2_1.bin", old, key)
	writeMetaCopy(t, dir, "meta_3_0.bin", cur, key)
	writeMetaCopy(t, dir, "meta_3_1.bin", cur, key)

	got, err := LoadFromChunks(dir, key)
	if err != nil {
		t.Fatalf("LoadFromChunks: %v", err)
	}
	if !reflect.DeepEqual(got, cur) {
		t.Errorf("expected epoch-3 manifest, got epoch %d", got.Epoch)
	}
}

func TestRecovery_HigherEpochBelowQuorumIgnored(t *testing.T) {
	dir := t.TempDir()
	key := testKey(5)
	cur := testManifest(3, "committed")
	partial := testManifest(4, "partial")

	writeMetaCopy(t, dir, "meta_3_0.bin", cur, key)
	writeMetaCopy(t, dir, "meta_3_1.bin", cur, key)
	writeMetaCopy(t, dir, "meta_4_0.bin", partial, key)

	got, err := LoadFromChunks(dir, key)
	if err != nil {
		t.Fatalf("LoadFromChunks: %v", err)
	}
	if got.Epoch != 3 {
		t.Errorf("single-copy epoch 4 must lose to quorum at 3, got %d", got.Epoch)
	}
}

func TestRecovery_ConflictAtTopEpochFails(t *testing.T) {
	dir := t.TempDir()
	key := testKey(6)
	a := testManifest(4, "a")
	b := testManifest(4, "b")

	writeMetaCopy(t, dir, "meta_4_a0.bin", a, key)
	writeMetaCopy(t, dir, "meta_4_a1.bin", a, key)
	writeMetaCopy(t, dir, "meta_4_b0.bin", b, key)
	writeMetaCopy(t, dir, "meta_4_b1.bin", b, key)

	if _, err := LoadFromChunks(dir, key); !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for conflicting quorums, got %v", err)
	}
}

func TestRecovery_IgnoresCorruptCopy(t *testing.T) {
	dir := t.TempDir()
	key := testKey(7)
	m := testManifest(1, "ok")

	writeMetaCopy(t, dir, "meta_1_0.bin", m, key)
	writeMetaCopy(t, dir, "meta_1_1.bin", m, key)
	writeMetaCopy(t, dir, "meta_1_bad.bin", m, key)

	badPath := filepath.Join(dir, "meta_1_bad.bin")
	data, _ := os.ReadFile(badPath)
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(badPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFromChunks(dir, key)
	if err != nil {
		t.Fatalf("LoadFromChunks: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Error("recovery should survive one corrupt copy")
	}
}

func TestRecovery_EmptyDirNotInitialized(t *testing.T) {
	if _, err := LoadFromChunks(t.TempDir(), testKey(0)); !errors.Is(err, fault.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRecovery_GarbageOnlyNotInitialized(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "garbage.bin"), []byte("not-a-valid-envelope"), 0o644)
	os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("kept"), 0o644)

	if _, err := LoadFromChunks(dir, testKey(0)); !errors.Is(err, fault.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRecovery_WrongKeyNotInitialized(t *testing.T) {
	dir := t.TempDir()
	key := testKey(1)
	m := testManifest(1, "secret")
	writeMetaCopy(t, dir, "meta_1_0.bin", m, key)
	writeMetaCopy(t, dir, "meta_1_1.bin", m, key)

	if _, err := LoadFromChunks(dir, testKey(2)); !errors.Is(err, fault.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized with wrong key, got %v", err)
	}
}

func TestRecovery_LegacyLayoutReported(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest_0.json"), []byte("{}"), 0o644)
	os.WriteFile(filepath.Join(dir, "shard_0.dat"), []byte("raw"), 0o644)

	_, err := LoadFromChunks(dir, testKey(0))
	if !errors.Is(err, fault.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if !strings.Contains(err.Error(), "legacy") {
		t.Errorf("legacy layout should be named in the error, got %q", err)
	}
}
