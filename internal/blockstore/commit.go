package blockstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/chunk"
	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/ioguard"
	"github.com/eniz1806/ironclad/internal/manifest"
)

// metadataCopyTarget is how many envelopes must carry the new manifest
// snapshot after a commit. Shard envelopes count; MetaOnly envelopes fill
// any gap.
const metadataCopyTarget = 3

// commit is the only mechanism that changes dataset state. It writes every
// new envelope durably, tops up metadata copies, and only then swaps the
// in-memory manifest and collects garbage. Any failure removes the files
// written so far and leaves the previous epoch authoritative.
func (s *Store) commit(next *manifest.Manifest, pending []*pendingBlock, obsolete []manifest.Block) error {
	if next.Epoch+1 == 0 {
		return fmt.Errorf("%w: manifest epoch", fault.ErrOverflow)
	}
	next.Epoch = s.manifest.Epoch + 1
	if err := next.Validate(); err != nil {
		return err
	}

	blob, hash, err := manifest.EncodeSnapshot(next)
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(s.dir, FailCommitMarker)); err == nil {
		return fmt.Errorf("%w: %s present, aborting commit", fault.ErrTestHook, FailCommitMarker)
	}

	var written []string
	fail := func(err error) error {
		for _, path := range written {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("commit rollback: could not remove file", "path", path, "error", rmErr)
			}
		}
		return err
	}

	metaCopies := 0
	for _, p := range pending {
		for i, shard := range p.shards {
			env := chunk.DataShard(p.meta.ID, uint64(i), p.meta.DataShards, p.meta.ParityShards,
				shard, next.Epoch, hash, blob)
			record, err := chunk.Encode(env, &s.keys.MetaMAC)
			if err != nil {
				return fail(fmt.Errorf("encode shard envelope for block %d: %w", p.meta.ID, err))
			}
			path := filepath.Join(s.dir, shardFileName(p.meta.ID, uint64(i)))
			if err := ioguard.WriteAtomicVerified(path, record, blake3.Sum256(record), s.opts); err != nil {
				return fail(fmt.Errorf("write shard %d of block %d: %w", i, p.meta.ID, err))
			}
			written = append(written, path)
			metaCopies++
		}
	}

	for n := 0; metaCopies < metadataCopyTarget; n++ {
		record, err := chunk.Encode(chunk.MetaOnly(next.Epoch, hash, blob), &s.keys.MetaMAC)
		if err != nil {
			return fail(fmt.Errorf("encode metadata envelope: %w", err))
		}
		path := filepath.Join(s.dir, metaFileName(next.Epoch, n))
		if err := ioguard.WriteAtomicVerified(path, record, blake3.Sum256(record), s.opts); err != nil {
			return fail(fmt.Errorf("write metadata copy %d: %w", n, err))
		}
		written = append(written, path)
		metaCopies++
	}

	// The new epoch is durable: from here on recovery prefers it.
	s.manifest = next
	slog.Debug("committed manifest", "epoch", next.Epoch,
		"blocks", len(next.Blocks), "total_size", next.TotalSize)

	for i := range obsolete {
		s.deleteBlockFiles(&obsolete[i])
	}
	s.removeStaleMetaFiles(next.Epoch)
	return nil
}

// SaveManifest republishes the current epoch's metadata copies. It is
// idempotent and does not advance the epoch.
func (s *Store) SaveManifest() error {
	blob, hash, err := manifest.EncodeSnapshot(s.manifest)
	if err != nil {
		return err
	}
	record, err := chunk.Encode(chunk.MetaOnly(s.manifest.Epoch, hash, blob), &s.keys.MetaMAC)
	if err != nil {
		return fmt.Errorf("encode metadata envelope: %w", err)
	}
	sum := blake3.Sum256(record)
	for n := 0; n < metadataCopyTarget; n++ {
		path := filepath.Join(s.dir, metaFileName(s.manifest.Epoch, n))
		if err := ioguard.WriteAtomicVerified(path, record, sum, s.opts); err != nil {
			return fmt.Errorf("write metadata copy %d: %w", n, err)
		}
	}
	return nil
}

// deleteBlockFiles removes an obsolete block's shard files best-effort.
// Stale files that survive are harmless: they vote for an older epoch and
// lose recovery.
func (s *Store) deleteBlockFiles(b *manifest.Block) {
	total, err := b.TotalShards()
	if err != nil {
		slog.Warn("gc: skipping block with bad shard count", "block", b.ID, "error", err)
		return
	}
	for i := 0; i < total; i++ {
		path := filepath.Join(s.dir, shardFileName(b.ID, uint64(i)))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("gc: could not remove shard file", "path", path, "error", err)
		}
	}
}

// removeStaleMetaFiles drops meta_{e}_*.bin copies for epochs before the
// current one, best-effort.
func (s *Store) removeStaleMetaFiles(currentEpoch uint64) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("gc: could not scan dataset dir", "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		epoch, ok := parseMetaFileEpoch(name)
		if !ok || epoch >= currentEpoch {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			slog.Warn("gc: could not remove stale metadata copy", "path", name, "error", err)
		}
	}
}

func parseMetaFileEpoch(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "meta_") || !strings.HasSuffix(name, ".bin") {
		return 0, false
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, "meta_"), ".bin"), "_")
	if len(parts) != 2 {
		return 0, false
	}
	epoch, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	if _, err := strconv.ParseUint(parts[1], 10, 64); err != nil {
		return 0, false
	}
	return epoch, true
}
