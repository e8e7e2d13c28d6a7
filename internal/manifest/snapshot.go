package manifest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/chunk"
	"github.com/eniz1806/ironclad/internal/fault"
)

// maxSnapshotSize bounds decompression of an embedded snapshot; a manifest
// is metadata, never bulk data.
const maxSnapshotSize = 256 * 1024 * 1024

var snapshotEnc = func() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	return enc
}()

var snapshotDec = func() *zstd.Decoder {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotSize))
	if err != nil {
		panic(err)
	}
	return dec
}()

// EncodeSnapshot serializes a manifest deterministically, hashes the
// serialized bytes, and compresses them. The hash covers the uncompressed
// encoding so it pins content, not the compressor.
func EncodeSnapshot(m *Manifest) (blob []byte, hash [32]byte, err error) {
	if err := m.Validate(); err != nil {
		return nil, hash, err
	}
	raw, err := chunk.MarshalDeterministic(m)
	if err != nil {
		return nil, hash, fmt.Errorf("encode manifest: %w", err)
	}
	hash = blake3.Sum256(raw)
	blob = snapshotEnc.EncodeAll(raw, nil)
	return blob, hash, nil
}

// DecodeSnapshot inverts EncodeSnapshot and verifies the embedded hash and
// the manifest's structural invariants.
func DecodeSnapshot(blob []byte, expected [32]byte) (*Manifest, error) {
	raw, err := snapshotDec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress manifest snapshot: %v", fault.ErrIntegrity, err)
	}
	if blake3.Sum256(raw) != expected {
		return nil, fmt.Errorf("%w: manifest snapshot hash mismatch", fault.ErrIntegrity)
	}

	var m Manifest
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest snapshot: %v", fault.ErrIntegrity, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
