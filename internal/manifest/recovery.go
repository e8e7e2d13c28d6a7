package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/eniz1806/ironclad/internal/chunk"
	"github.com/eniz1806/ironclad/internal/fault"
)

// RequiredQuorum is the minimum number of mutually consistent envelopes
// needed before an epoch counts as committed.
const RequiredQuorum = 2

type candidateKey struct {
	epoch uint64
	hash  [32]byte
}

// LoadFromChunks resolves the current manifest from a dataset directory
// without any separate index file. Every *.bin file is tried as an
// envelope; unauthenticated or malformed files are skipped. Surviving
// envelopes vote by (epoch, manifest hash); the highest epoch with quorum
// wins. Two distinct quorums at the top epoch is a corruption or attack
// signal and fails hard.
func LoadFromChunks(dir string, metaMAC *[32]byte) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dataset dir %s: %v", fault.ErrIO, dir, err)
	}

	counts := make(map[candidateKey]int)
	manifests := make(map[candidateKey]*Manifest)
	legacy := false

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if isLegacyFile(name) {
			legacy = true
		}
		if !strings.HasSuffix(name, ".bin") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		env, err := chunk.Decode(data, metaMAC)
		if err != nil {
			slog.Debug("recovery: skipping unreadable envelope", "file", name, "error", err)
			continue
		}
		m, err := DecodeSnapshot(env.ManifestBlob, env.ManifestHash)
		if err != nil {
			slog.Debug("recovery: skipping envelope with bad snapshot", "file", name, "error", err)
			continue
		}

		key := candidateKey{epoch: env.Epoch, hash: env.ManifestHash}
		counts[key]++
		if _, ok := manifests[key]; !ok {
			manifests[key] = m
		}
	}

	var (
		found        bool
		highestEpoch uint64
		winners      []candidateKey
	)
	for key, count := range counts {
		if count < RequiredQuorum {
			continue
		}
		switch {
		case !found || key.epoch > highestEpoch:
			found = true
			highestEpoch = key.epoch
			winners = winners[:0]
			winners = append(winners, key)
		case key.epoch == highestEpoch:
			winners = append(winners, key)
		}
	}

	if !found {
		if legacy {
			return nil, fmt.Errorf("%w: directory holds a legacy unencrypted layout; re-write it through the CLI", fault.ErrNotInitialized)
		}
		return nil, fmt.Errorf("%w: no committed manifest quorum found in %s", fault.ErrNotInitialized, dir)
	}
	if len(winners) > 1 {
		return nil, fmt.Errorf("%w: multiple manifest quorums at epoch %d", fault.ErrIntegrity, highestEpoch)
	}
	return manifests[winners[0]], nil
}

// isLegacyFile matches the historical dataset layout (unencrypted JSON
// manifest plus raw shard files).
func isLegacyFile(name string) bool {
	return (strings.HasPrefix(name, "manifest_") && strings.HasSuffix(name, ".json")) ||
		(strings.HasPrefix(name, "shard_") && strings.HasSuffix(name, ".dat"))
}
