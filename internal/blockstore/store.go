// Package blockstore owns the dataset: block lifecycle, offset addressing,
// insert and delete editing, the copy-on-write commit protocol and garbage
// collection of obsolete files.
package blockstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/aont"
	"github.com/eniz1806/ironclad/internal/chunk"
	"github.com/eniz1806/ironclad/internal/erasure"
	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/ioguard"
	"github.com/eniz1806/ironclad/internal/keyschedule"
	"github.com/eniz1806/ironclad/internal/manifest"
)

// FailCommitMarker aborts a commit before any envelope is written when it
// exists in the dataset directory. Used by tests to exercise rollback.
const FailCommitMarker = ".ironclad_fail_manifest_commit"

// Store is one open dataset. A Store is single-writer: it exclusively owns
// the manifest and the pending block list during a commit.
type Store struct {
	dir      string
	keys     keyschedule.Keys
	opts     ioguard.Options
	manifest *manifest.Manifest
	// nextID is the next block id to hand out. Ids are monotonic for the
	// lifetime of the open store and never reused, even after every block
	// referencing them is deleted.
	nextID uint64
}

// pendingBlock is a block that has been encoded but not yet committed: its
// metadata plus the in-memory shard buffers. Nothing is on disk until the
// commit writes the envelopes.
type pendingBlock struct {
	meta   manifest.Block
	shards [][]byte
}

// Create initializes a fresh dataset in dir. Managed files from any earlier
// dataset (including the legacy unencrypted layout) are removed; unrelated
// files are preserved. Nothing is durable until the first commit.
func Create(dir, fileName string, keys keyschedule.Keys, opts ioguard.Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dataset dir: %v", fault.ErrIO, err)
	}
	if err := cleanupManagedFiles(dir); err != nil {
		return nil, err
	}
	return &Store{
		dir:      dir,
		keys:     keys,
		opts:     opts,
		manifest: manifest.New(fileName),
		nextID:   1,
	}, nil
}

// Open resolves the current manifest of an existing dataset via sidecar
// quorum voting.
func Open(dir string, keys keyschedule.Keys, opts ioguard.Options) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset path %s: %v", fault.ErrBadInput, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: dataset path %s is not a directory", fault.ErrBadInput, dir)
	}

	m, err := manifest.LoadFromChunks(dir, &keys.MetaMAC)
	if err != nil {
		return nil, err
	}
	nextID, err := m.NextID()
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, keys: keys, opts: opts, manifest: m, nextID: nextID}, nil
}

// Manifest exposes the current committed state. Callers must treat it as
// read-only; all mutation goes through InsertAt and DeleteRange.
func (s *Store) Manifest() *manifest.Manifest { return s.manifest }

// TotalSize is the logical stream length.
func (s *Store) TotalSize() uint64 { return s.manifest.TotalSize }

// ReadAt returns length bytes starting at offset. Blocks overlapping the
// range are decoded whole: the AONT prohibits partial decryption, so even a
// single-byte read pays for its entire block.
func (s *Store) ReadAt(offset, length uint64) ([]byte, error) {
	end := offset + length
	if end < offset {
		return nil, fmt.Errorf("%w: read range", fault.ErrOverflow)
	}
	if end > s.manifest.TotalSize {
		return nil, fmt.Errorf("%w: read [%d, %d) out of bounds (size %d)",
			fault.ErrBadInput, offset, end, s.manifest.TotalSize)
	}
	if length == 0 {
		return []byte{}, nil
	}

	result := make([]byte, 0, length)
	var cursor uint64
	for i := range s.manifest.Blocks {
		b := &s.manifest.Blocks[i]
		blockEnd := cursor + b.OriginalSize
		if blockEnd < cursor {
			return nil, fmt.Errorf("%w: block range", fault.ErrOverflow)
		}

		if cursor < end && blockEnd > offset {
			data, err := s.readBlock(b)
			if err != nil {
				return nil, err
			}
			start := uint64(0)
			if offset > cursor {
				start = offset - cursor
			}
			stop := b.OriginalSize
			if end < blockEnd {
				stop = end - cursor
			}
			result = append(result, data[start:stop]...)
		}
		cursor = blockEnd
	}

	if uint64(len(result)) != length {
		return nil, fmt.Errorf("%w: read assembled %d bytes, expected %d",
			fault.ErrIntegrity, len(result), length)
	}
	return result, nil
}

// createBlock runs data through the AONT and erasure pipeline, producing a
// pending block. Nothing is written yet.
func (s *Store) createBlock(data []byte, id uint64, dataShards, parityShards int) (*pendingBlock, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: block cannot be empty", fault.ErrBadInput)
	}
	if err := erasure.ValidateConfig(dataShards, parityShards); err != nil {
		return nil, err
	}

	pkg, err := aont.Encrypt(data, &s.keys.AONTMask)
	if err != nil {
		return nil, fmt.Errorf("entangle block %d: %w", id, err)
	}
	shards, err := erasure.Encode(pkg, dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("erasure encode block %d: %w", id, err)
	}

	hashes := make([]string, len(shards))
	for i, shard := range shards {
		hashes[i] = manifest.FormatHash(blake3.Sum256(shard))
	}

	return &pendingBlock{
		meta: manifest.Block{
			ID:           id,
			OriginalSize: uint64(len(data)),
			DataShards:   uint64(dataShards),
			ParityShards: uint64(parityShards),
			ShardHashes:  hashes,
		},
		shards: shards,
	}, nil
}

// readBlock loads a block's shards, reconstructs the AONT package and
// decrypts it. Shards that are missing, unauthenticated or hash-mismatched
// are treated as lost; the erasure code tolerates up to parityShards of
// them.
func (s *Store) readBlock(b *manifest.Block) ([]byte, error) {
	total, err := b.TotalShards()
	if err != nil {
		return nil, err
	}
	if len(b.ShardHashes) != total {
		return nil, fmt.Errorf("%w: block %d has %d shard hashes for %d shards",
			fault.ErrBadInput, b.ID, len(b.ShardHashes), total)
	}

	slots := make([][]byte, total)
	missing := 0
	for i := 0; i < total; i++ {
		expected, err := manifest.ParseHash(b.ShardHashes[i])
		if err != nil {
			return nil, err
		}
		slots[i] = s.loadShard(b, i, expected)
		if slots[i] == nil {
			missing++
		}
	}

	if missing > 0 {
		slog.Warn("reconstructing block from degraded shards",
			"block", b.ID, "missing", missing, "parity", b.ParityShards)
	}

	pkg, err := erasure.Reconstruct(slots, int(b.DataShards), int(b.ParityShards))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", b.ID, err)
	}
	data, err := aont.Decrypt(pkg, &s.keys.AONTMask)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", b.ID, err)
	}
	if uint64(len(data)) != b.OriginalSize {
		return nil, fmt.Errorf("%w: block %d decoded to %d bytes, expected %d",
			fault.ErrIntegrity, b.ID, len(data), b.OriginalSize)
	}
	return data, nil
}

// loadShard returns the verified shard payload for slot i, or nil if the
// sidecar is missing or damaged beyond the read retry budget.
func (s *Store) loadShard(b *manifest.Block, i int, expected [32]byte) []byte {
	path := filepath.Join(s.dir, shardFileName(b.ID, uint64(i)))

	var payload []byte
	_, ok, _ := ioguard.ReadVerifiedFunc(path, s.opts, func(data []byte) error {
		env, err := chunk.Decode(data, &s.keys.MetaMAC)
		if err != nil {
			return err
		}
		if env.Kind != chunk.KindDataShard ||
			env.BlockID == nil || *env.BlockID != b.ID ||
			env.ShardIndex == nil || *env.ShardIndex != uint64(i) {
			return fmt.Errorf("%w: envelope does not describe block %d shard %d",
				fault.ErrIntegrity, b.ID, i)
		}
		if blake3.Sum256(env.Payload) != expected {
			return fmt.Errorf("%w: shard payload hash mismatch", fault.ErrIntegrity)
		}
		payload = env.Payload
		return nil
	})
	if !ok {
		return nil
	}
	return payload
}

func shardFileName(blockID, shardIndex uint64) string {
	return fmt.Sprintf("block_%d_%d.bin", blockID, shardIndex)
}

func metaFileName(epoch uint64, n int) string {
	return fmt.Sprintf("meta_%d_%d.bin", epoch, n)
}

// isManagedFile matches every file name this store may create, plus the
// legacy layout cleaned up on fresh create.
func isManagedFile(name string) bool {
	return (strings.HasPrefix(name, "block_") && strings.HasSuffix(name, ".bin")) ||
		(strings.HasPrefix(name, "meta_") && strings.HasSuffix(name, ".bin")) ||
		(strings.HasPrefix(name, "manifest_") && strings.HasSuffix(name, ".json")) ||
		(strings.HasPrefix(name, "shard_") && strings.HasSuffix(name, ".dat"))
}

func cleanupManagedFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: scan dataset dir: %v", fault.ErrIO, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isManagedFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("%w: remove %s: %v", fault.ErrIO, entry.Name(), err)
		}
	}
	return nil
}
