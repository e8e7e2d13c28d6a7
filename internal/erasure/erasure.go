// Package erasure provides the Reed-Solomon codec over GF(2^8) used to
// disperse AONT packages into data and parity shards.
package erasure

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/eniz1806/ironclad/internal/fault"
)

// MaxTotalShards is the GF(2^8) limit on data + parity shards.
const MaxTotalShards = 256

// lengthHeaderSize is the little-endian u64 payload length prepended to the
// padded buffer so reconstruction can strip the zero padding.
const lengthHeaderSize = 8

// ValidateConfig checks a (dataShards, parityShards) pair before any
// encoding or file write happens.
func ValidateConfig(dataShards, parityShards int) error {
	if dataShards < 1 {
		return fmt.Errorf("%w: data shards must be at least 1, got %d", fault.ErrBadInput, dataShards)
	}
	if parityShards < 1 {
		return fmt.Errorf("%w: parity shards must be at least 1, got %d", fault.ErrBadInput, parityShards)
	}
	if dataShards+parityShards > MaxTotalShards {
		return fmt.Errorf("%w: data + parity shards must be <= %d, got %d",
			fault.ErrBadInput, MaxTotalShards, dataShards+parityShards)
	}
	return nil
}

// Encode splits payload into dataShards equal slices plus parityShards
// parity slices. The payload length travels in an 8-byte header; the tail is
// zero-padded to a multiple of dataShards.
func Encode(payload []byte, dataShards, parityShards int) ([][]byte, error) {
	if err := ValidateConfig(dataShards, parityShards); err != nil {
		return nil, err
	}

	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}

	total := lengthHeaderSize + len(payload)
	shardSize := (total + dataShards - 1) / dataShards
	buffer := make([]byte, shardSize*dataShards)
	binary.LittleEndian.PutUint64(buffer, uint64(len(payload)))
	copy(buffer[lengthHeaderSize:], payload)

	shards := make([][]byte, dataShards+parityShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = buffer[i*shardSize : (i+1)*shardSize]
	}
	for i := dataShards; i < len(shards); i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}
	return shards, nil
}

// Rebuild fills the nil entries of slots in place with the exact original
// shard bytes. Reed-Solomon reconstruction is deterministic, so a rebuilt
// shard is byte-identical to the lost one.
func Rebuild(slots [][]byte, dataShards, parityShards int) error {
	if err := ValidateConfig(dataShards, parityShards); err != nil {
		return err
	}
	if len(slots) != dataShards+parityShards {
		return fmt.Errorf("%w: expected %d shard slots, got %d",
			fault.ErrBadInput, dataShards+parityShards, len(slots))
	}

	present := 0
	for _, s := range slots {
		if s != nil {
			present++
		}
	}
	if present < dataShards {
		return fmt.Errorf("%w: %d of %d shards present, need %d",
			fault.ErrInsufficientRedundancy, present, len(slots), dataShards)
	}
	if present == len(slots) {
		return nil
	}

	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return fmt.Errorf("create reed-solomon decoder: %w", err)
	}
	if err := rs.Reconstruct(slots); err != nil {
		return fmt.Errorf("%w: rebuild shards: %v", fault.ErrInsufficientRedundancy, err)
	}
	ok, err := rs.Verify(slots)
	if err != nil {
		return fmt.Errorf("%w: verify rebuilt shards: %v", fault.ErrIntegrity, err)
	}
	if !ok {
		return fmt.Errorf("%w: rebuilt shard parity verification failed", fault.ErrIntegrity)
	}
	return nil
}

// Reconstruct recovers the original payload from shard slots. slots must
// have dataShards+parityShards entries; nil marks a missing shard. Any
// dataShards intact slots suffice.
func Reconstruct(slots [][]byte, dataShards, parityShards int) ([]byte, error) {
	if err := ValidateConfig(dataShards, parityShards); err != nil {
		return nil, err
	}
	totalShards := dataShards + parityShards
	if len(slots) != totalShards {
		return nil, fmt.Errorf("%w: expected %d shard slots, got %d",
			fault.ErrBadInput, totalShards, len(slots))
	}

	present := 0
	for _, s := range slots {
		if s != nil {
			present++
		}
	}
	if present < dataShards {
		return nil, fmt.Errorf("%w: %d of %d shards present, need %d",
			fault.ErrInsufficientRedundancy, present, totalShards, dataShards)
	}

	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon decoder: %w", err)
	}

	if present < totalShards {
		if err := rs.Reconstruct(slots); err != nil {
			return nil, fmt.Errorf("%w: reconstruct: %v", fault.ErrInsufficientRedundancy, err)
		}
	}

	ok, err := rs.Verify(slots)
	if err != nil {
		return nil, fmt.Errorf("%w: verify shards: %v", fault.ErrIntegrity, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: shard parity verification failed", fault.ErrIntegrity)
	}

	shardSize := len(slots[0])
	buffer := make([]byte, 0, shardSize*dataShards)
	for i := 0; i < dataShards; i++ {
		buffer = append(buffer, slots[i]...)
	}
	if len(buffer) < lengthHeaderSize {
		return nil, fmt.Errorf("%w: reconstructed buffer too short", fault.ErrIntegrity)
	}

	payloadLen := binary.LittleEndian.Uint64(buffer)
	if payloadLen > uint64(len(buffer)-lengthHeaderSize) {
		return nil, fmt.Errorf("%w: length header %d exceeds reconstructed buffer",
			fault.ErrIntegrity, payloadLen)
	}
	return buffer[lengthHeaderSize : lengthHeaderSize+payloadLen], nil
}
