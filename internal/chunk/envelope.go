// Package chunk implements the authenticated sidecar envelope format.
//
// Every envelope is self-describing and self-authenticating: given only the
// meta-MAC key and a directory, recovery can scan, authenticate and identify
// the role of each file without a separate index. Each one also carries the
// full committed manifest snapshot, making every sidecar a vote for the
// manifest at its epoch.
package chunk

import (
	"bytes"
	"crypto/subtle"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/fault"
)

// Magic identifies an envelope record.
var Magic = [8]byte{'I', 'R', 'C', 'L', 'A', 'D', 'V', '2'}

// Version is the current envelope schema version.
const Version uint16 = 1

// Kind tags an envelope as carrying a shard or pure metadata.
type Kind uint8

const (
	// KindDataShard carries one erasure shard of one block.
	KindDataShard Kind = 0
	// KindMetaOnly carries no payload; written as a fallback to reach the
	// metadata-copy target when a commit produced few shard files.
	KindMetaOnly Kind = 1
)

// Envelope is one decoded sidecar. The shard-locating fields are present iff
// the kind is DataShard.
type Envelope struct {
	Kind         Kind
	BlockID      *uint64
	ShardIndex   *uint64
	DataShards   *uint64
	ParityShards *uint64
	Payload      []byte
	Epoch        uint64
	ManifestHash [32]byte
	ManifestBlob []byte
}

// DataShard builds a shard-carrying envelope.
func DataShard(blockID, shardIndex, dataShards, parityShards uint64, payload []byte, epoch uint64, manifestHash [32]byte, manifestBlob []byte) *Envelope {
	return &Envelope{
		Kind:         KindDataShard,
		BlockID:      &blockID,
		ShardIndex:   &shardIndex,
		DataShards:   &dataShards,
		ParityShards: &parityShards,
		Payload:      payload,
		Epoch:        epoch,
		ManifestHash: manifestHash,
		ManifestBlob: manifestBlob,
	}
}

// MetaOnly builds a metadata-only envelope.
func MetaOnly(epoch uint64, manifestHash [32]byte, manifestBlob []byte) *Envelope {
	return &Envelope{
		Kind:         KindMetaOnly,
		Epoch:        epoch,
		ManifestHash: manifestHash,
		ManifestBlob: manifestBlob,
	}
}

// body is the wire schema of the MAC-covered portion.
type body struct {
	Magic        []byte  `cbor:"magic"`
	Version      uint16  `cbor:"version"`
	Kind         Kind    `cbor:"kind"`
	BlockID      *uint64 `cbor:"block_id,omitempty"`
	ShardIndex   *uint64 `cbor:"shard_index,omitempty"`
	DataShards   *uint64 `cbor:"data_shards,omitempty"`
	ParityShards *uint64 `cbor:"parity_shards,omitempty"`
	Payload      []byte  `cbor:"payload"`
	Epoch        uint64  `cbor:"epoch"`
	ManifestHash []byte  `cbor:"manifest_hash"`
	ManifestBlob []byte  `cbor:"manifest_blob"`
}

// packet is the full record: body bytes followed by their keyed-BLAKE3 MAC.
type packet struct {
	Body []byte `cbor:"body"`
	MAC  []byte `cbor:"mac"`
}

// encMode is the deterministic encoder shared by envelopes and manifest
// snapshots; identical structures must serialize to identical bytes.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalDeterministic serializes v with the store's deterministic CBOR
// encoding.
func MarshalDeterministic(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Encode serializes and MACs an envelope under the meta-MAC key.
func Encode(env *Envelope, metaMAC *[32]byte) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}

	b := body{
		Magic:        Magic[:],
		Version:      Version,
		Kind:         env.Kind,
		BlockID:      env.BlockID,
		ShardIndex:   env.ShardIndex,
		DataShards:   env.DataShards,
		ParityShards: env.ParityShards,
		Payload:      env.Payload,
		Epoch:        env.Epoch,
		ManifestHash: env.ManifestHash[:],
		ManifestBlob: env.ManifestBlob,
	}

	bodyBytes, err := encMode.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("encode envelope body: %w", err)
	}

	mac := keyedSum(metaMAC, bodyBytes)
	record, err := encMode.Marshal(&packet{Body: bodyBytes, MAC: mac[:]})
	if err != nil {
		return nil, fmt.Errorf("encode envelope record: %w", err)
	}
	return record, nil
}

// Decode authenticates and deserializes an envelope record. Trailing bytes,
// MAC mismatches and schema violations are all hard errors.
func Decode(data []byte, metaMAC *[32]byte) (*Envelope, error) {
	var p packet
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope record: %v", fault.ErrIntegrity, err)
	}
	if len(p.MAC) != 32 {
		return nil, fmt.Errorf("%w: envelope MAC has wrong length %d", fault.ErrIntegrity, len(p.MAC))
	}

	expected := keyedSum(metaMAC, p.Body)
	if subtle.ConstantTimeCompare(p.MAC, expected[:]) != 1 {
		return nil, fmt.Errorf("%w: envelope MAC verification failed", fault.ErrIntegrity)
	}

	var b body
	if err := cbor.Unmarshal(p.Body, &b); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope body: %v", fault.ErrIntegrity, err)
	}
	if len(b.ManifestHash) != 32 {
		return nil, fmt.Errorf("%w: manifest hash has wrong length %d", fault.ErrIntegrity, len(b.ManifestHash))
	}

	env := &Envelope{
		Kind:         b.Kind,
		BlockID:      b.BlockID,
		ShardIndex:   b.ShardIndex,
		DataShards:   b.DataShards,
		ParityShards: b.ParityShards,
		Payload:      b.Payload,
		Epoch:        b.Epoch,
		ManifestBlob: b.ManifestBlob,
	}
	copy(env.ManifestHash[:], b.ManifestHash)

	if !bytes.Equal(b.Magic, Magic[:]) {
		return nil, fmt.Errorf("%w: invalid envelope magic", fault.ErrIntegrity)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", fault.ErrIntegrity, b.Version)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Envelope) validate() error {
	if len(e.ManifestBlob) == 0 {
		return fmt.Errorf("%w: manifest snapshot blob cannot be empty", fault.ErrIntegrity)
	}
	switch e.Kind {
	case KindDataShard:
		if e.BlockID == nil || e.ShardIndex == nil || e.DataShards == nil || e.ParityShards == nil {
			return fmt.Errorf("%w: data shard envelope missing shard metadata", fault.ErrIntegrity)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: data shard envelope payload cannot be empty", fault.ErrIntegrity)
		}
	case KindMetaOnly:
		if e.BlockID != nil || e.ShardIndex != nil || e.DataShards != nil || e.ParityShards != nil {
			return fmt.Errorf("%w: meta-only envelope cannot include shard metadata", fault.ErrIntegrity)
		}
		if len(e.Payload) != 0 {
			return fmt.Errorf("%w: meta-only envelope payload must be empty", fault.ErrIntegrity)
		}
	default:
		return fmt.Errorf("%w: unknown envelope kind %d", fault.ErrIntegrity, e.Kind)
	}
	return nil
}

func keyedSum(key *[32]byte, data []byte) [32]byte {
	h := blake3.New(32, key[:])
	h.Write(data)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
