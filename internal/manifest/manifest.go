// Package manifest holds the dataset's authoritative state: the ordered
// block list, its structural validation, the compressed snapshot codec, and
// the quorum-voted recovery that resolves the current manifest from a
// directory of sidecar files alone.
package manifest

import (
	"encoding/hex"
	"fmt"

	"github.com/eniz1806/ironclad/internal/erasure"
	"github.com/eniz1806/ironclad/internal/fault"
)

// Block describes one atomically encoded region of the logical stream.
type Block struct {
	ID           uint64   `cbor:"id"`
	OriginalSize uint64   `cbor:"original_size"`
	DataShards   uint64   `cbor:"data_shards"`
	ParityShards uint64   `cbor:"parity_shards"`
	ShardHashes  []string `cbor:"shard_hashes"`
}

// Manifest is the dataset state committed at one epoch. The block order
// defines the logical concatenation of the byte stream.
type Manifest struct {
	Epoch     uint64  `cbor:"epoch"`
	FileName  string  `cbor:"file_name"`
	TotalSize uint64  `cbor:"total_size"`
	Blocks    []Block `cbor:"blocks"`
}

// New returns an empty manifest at epoch 0.
func New(fileName string) *Manifest {
	return &Manifest{FileName: fileName}
}

// TotalShards returns the block's shard count with overflow checking.
func (b *Block) TotalShards() (int, error) {
	total := b.DataShards + b.ParityShards
	if total < b.DataShards {
		return 0, fmt.Errorf("%w: block %d shard count", fault.ErrOverflow, b.ID)
	}
	if total > erasure.MaxTotalShards {
		return 0, fmt.Errorf("%w: block %d has %d shards, max %d",
			fault.ErrBadInput, b.ID, total, erasure.MaxTotalShards)
	}
	return int(total), nil
}

// Validate checks one block's internal invariants.
func (b *Block) Validate() error {
	if b.OriginalSize == 0 {
		return fmt.Errorf("%w: block %d has zero size", fault.ErrBadInput, b.ID)
	}
	if b.DataShards < 1 || b.ParityShards < 1 {
		return fmt.Errorf("%w: block %d needs at least one data and one parity shard",
			fault.ErrBadInput, b.ID)
	}
	total, err := b.TotalShards()
	if err != nil {
		return err
	}
	if len(b.ShardHashes) != total {
		return fmt.Errorf("%w: block %d has %d shard hashes for %d shards",
			fault.ErrBadInput, b.ID, len(b.ShardHashes), total)
	}
	for i, h := range b.ShardHashes {
		if _, err := ParseHash(h); err != nil {
			return fmt.Errorf("block %d shard %d: %w", b.ID, i, err)
		}
	}
	return nil
}

// Validate checks the whole-manifest invariants: block validity, distinct
// ids and an exact total size, all with checked arithmetic.
func (m *Manifest) Validate() error {
	seen := make(map[uint64]struct{}, len(m.Blocks))
	var sum uint64
	for i := range m.Blocks {
		b := &m.Blocks[i]
		if err := b.Validate(); err != nil {
			return err
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("%w: duplicate block id %d", fault.ErrBadInput, b.ID)
		}
		seen[b.ID] = struct{}{}

		next := sum + b.OriginalSize
		if next < sum {
			return fmt.Errorf("%w: manifest total size", fault.ErrOverflow)
		}
		sum = next
	}
	if sum != m.TotalSize {
		return fmt.Errorf("%w: total_size %d does not match block sum %d",
			fault.ErrBadInput, m.TotalSize, sum)
	}
	return nil
}

// Clone returns a deep copy safe to mutate for the next epoch.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		Epoch:     m.Epoch,
		FileName:  m.FileName,
		TotalSize: m.TotalSize,
		Blocks:    make([]Block, len(m.Blocks)),
	}
	for i, b := range m.Blocks {
		b.ShardHashes = append([]string(nil), b.ShardHashes...)
		c.Blocks[i] = b
	}
	return c
}

// RecalcTotalSize recomputes TotalSize from the block list.
func (m *Manifest) RecalcTotalSize() error {
	var sum uint64
	for i := range m.Blocks {
		next := sum + m.Blocks[i].OriginalSize
		if next < sum {
			return fmt.Errorf("%w: manifest total size", fault.ErrOverflow)
		}
		sum = next
	}
	m.TotalSize = sum
	return nil
}

// NextID returns the smallest id larger than every block's.
func (m *Manifest) NextID() (uint64, error) {
	var maxID uint64
	for i := range m.Blocks {
		if m.Blocks[i].ID > maxID {
			maxID = m.Blocks[i].ID
		}
	}
	if maxID+1 == 0 {
		return 0, fmt.Errorf("%w: block id", fault.ErrOverflow)
	}
	return maxID + 1, nil
}

// FormatHash renders a digest the way shard hashes are stored.
func FormatHash(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}

// ParseHash decodes a stored shard hash.
func ParseHash(s string) ([32]byte, error) {
	var sum [32]byte
	if len(s) != 64 {
		return sum, fmt.Errorf("%w: shard hash must be 64 hex characters, got %d",
			fault.ErrBadInput, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return sum, fmt.Errorf("%w: shard hash is not valid hex", fault.ErrBadInput)
	}
	copy(sum[:], raw)
	return sum, nil
}
