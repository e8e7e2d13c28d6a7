package blockstore

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/chunk"
	"github.com/eniz1806/ironclad/internal/erasure"
	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/ioguard"
	"github.com/eniz1806/ironclad/internal/manifest"
)

// HealReport summarizes one verify-and-repair pass.
type HealReport struct {
	BlocksScanned  int
	ShardsRepaired int
	Unrecoverable  []uint64
}

// Heal scans every block, rebuilds shards whose sidecars are missing or
// damaged, and rewrites them. Reed-Solomon reconstruction is deterministic,
// so rebuilt shards match their manifest hashes exactly and the manifest
// itself does not change; rewritten envelopes carry the current epoch's
// snapshot. Blocks beyond redundancy are reported, not failed.
func (s *Store) Heal() (HealReport, error) {
	var report HealReport

	blob, hash, err := manifest.EncodeSnapshot(s.manifest)
	if err != nil {
		return report, err
	}

	for i := range s.manifest.Blocks {
		b := &s.manifest.Blocks[i]
		report.BlocksScanned++

		total, err := b.TotalShards()
		if err != nil {
			return report, err
		}

		slots := make([][]byte, total)
		var damaged []int
		for j := 0; j < total; j++ {
			expected, err := manifest.ParseHash(b.ShardHashes[j])
			if err != nil {
				return report, err
			}
			slots[j] = s.loadShard(b, j, expected)
			if slots[j] == nil {
				damaged = append(damaged, j)
			}
		}
		if len(damaged) == 0 {
			continue
		}

		if err := erasure.Rebuild(slots, int(b.DataShards), int(b.ParityShards)); err != nil {
			slog.Error("heal: block beyond redundancy", "block", b.ID,
				"damaged", len(damaged), "parity", b.ParityShards)
			report.Unrecoverable = append(report.Unrecoverable, b.ID)
			continue
		}

		for _, j := range damaged {
			expected, _ := manifest.ParseHash(b.ShardHashes[j])
			if blake3.Sum256(slots[j]) != expected {
				return report, fmt.Errorf("%w: rebuilt shard %d of block %d does not match its recorded hash",
					fault.ErrIntegrity, j, b.ID)
			}

			env := chunk.DataShard(b.ID, uint64(j), b.DataShards, b.ParityShards,
				slots[j], s.manifest.Epoch, hash, blob)
			record, err := chunk.Encode(env, &s.keys.MetaMAC)
			if err != nil {
				return report, fmt.Errorf("encode repaired shard envelope: %w", err)
			}
			path := filepath.Join(s.dir, shardFileName(b.ID, uint64(j)))
			if err := ioguard.WriteAtomicVerified(path, record, blake3.Sum256(record), s.opts); err != nil {
				return report, fmt.Errorf("write repaired shard %d of block %d: %w", j, b.ID, err)
			}
			report.ShardsRepaired++
		}
		slog.Info("heal: repaired block", "block", b.ID, "shards", len(damaged))
	}

	return report, nil
}
