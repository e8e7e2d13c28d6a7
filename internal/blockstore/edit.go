package blockstore

import (
	"fmt"

	"github.com/eniz1806/ironclad/internal/erasure"
	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/manifest"
)

// InsertAt splices data into the logical stream at offset. Inserting at the
// exact end appends a single block; anywhere else splits the covering block
// into left, inserted and right pieces. The split halves inherit the host
// block's shard config; the inserted data uses the caller's.
func (s *Store) InsertAt(offset uint64, data []byte, dataShards, parityShards int) error {
	if err := erasure.ValidateConfig(dataShards, parityShards); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: cannot insert zero bytes", fault.ErrBadInput)
	}
	if offset > s.manifest.TotalSize {
		return fmt.Errorf("%w: insert at %d out of bounds (size %d, appending allowed at exact end)",
			fault.ErrBadInput, offset, s.manifest.TotalSize)
	}

	ids := idSequence{next: s.nextID}
	next := s.manifest.Clone()

	// Append fast path: no block is split.
	if offset == s.manifest.TotalSize {
		id, err := ids.take()
		if err != nil {
			return err
		}
		pending, err := s.createBlock(data, id, dataShards, parityShards)
		if err != nil {
			return err
		}
		next.Blocks = append(next.Blocks, pending.meta)
		if err := next.RecalcTotalSize(); err != nil {
			return err
		}
		s.nextID = ids.next
		return s.commit(next, []*pendingBlock{pending}, nil)
	}

	// Locate the block covering offset.
	var cursor uint64
	splitIdx := -1
	var splitPos uint64
	for i := range s.manifest.Blocks {
		b := &s.manifest.Blocks[i]
		blockEnd := cursor + b.OriginalSize
		if blockEnd < cursor {
			return fmt.Errorf("%w: block range", fault.ErrOverflow)
		}
		if offset >= cursor && offset < blockEnd {
			splitIdx = i
			splitPos = offset - cursor
			break
		}
		cursor = blockEnd
	}
	if splitIdx < 0 {
		return fmt.Errorf("%w: insert offset %d not covered by any block", fault.ErrBadInput, offset)
	}

	host := s.manifest.Blocks[splitIdx]
	full, err := s.readBlock(&host)
	if err != nil {
		return err
	}
	left, right := full[:splitPos], full[splitPos:]

	var pending []*pendingBlock
	var replacement []manifest.Block
	add := func(data []byte, k, m int) error {
		id, err := ids.take()
		if err != nil {
			return err
		}
		p, err := s.createBlock(data, id, k, m)
		if err != nil {
			return err
		}
		pending = append(pending, p)
		replacement = append(replacement, p.meta)
		return nil
	}

	if len(left) > 0 {
		if err := add(left, int(host.DataShards), int(host.ParityShards)); err != nil {
			return err
		}
	}
	if err := add(data, dataShards, parityShards); err != nil {
		return err
	}
	if len(right) > 0 {
		if err := add(right, int(host.DataShards), int(host.ParityShards)); err != nil {
			return err
		}
	}

	next.Blocks = append(next.Blocks[:splitIdx], append(replacement, next.Blocks[splitIdx+1:]...)...)
	if err := next.RecalcTotalSize(); err != nil {
		return err
	}
	s.nextID = ids.next
	return s.commit(next, pending, []manifest.Block{host})
}

// DeleteRange removes [offset, offset+length) from the logical stream.
// Blocks fully inside the range are dropped; partially overlapped blocks
// are decoded and their surviving prefix or suffix re-encoded as fresh
// blocks. A zero-length delete is a no-op.
func (s *Store) DeleteRange(offset, length uint64) error {
	if length == 0 {
		return nil
	}
	end := offset + length
	if end < offset {
		return fmt.Errorf("%w: delete range", fault.ErrOverflow)
	}
	if end > s.manifest.TotalSize {
		return fmt.Errorf("%w: delete [%d, %d) out of bounds (size %d)",
			fault.ErrBadInput, offset, end, s.manifest.TotalSize)
	}

	ids := idSequence{next: s.nextID}

	var (
		kept     []manifest.Block
		pending  []*pendingBlock
		obsolete []manifest.Block
		cursor   uint64
	)
	for i := range s.manifest.Blocks {
		b := s.manifest.Blocks[i]
		blockStart := cursor
		blockEnd := cursor + b.OriginalSize
		if blockEnd < cursor {
			return fmt.Errorf("%w: block range", fault.ErrOverflow)
		}
		cursor = blockEnd

		overlapStart := max(offset, blockStart)
		overlapEnd := min(end, blockEnd)
		if overlapStart >= overlapEnd {
			kept = append(kept, b)
			continue
		}

		data, err := s.readBlock(&b)
		if err != nil {
			return err
		}
		cutStart := overlapStart - blockStart
		cutEnd := overlapEnd - blockStart

		if cutStart > 0 {
			id, err := ids.take()
			if err != nil {
				return err
			}
			p, err := s.createBlock(data[:cutStart], id, int(b.DataShards), int(b.ParityShards))
			if err != nil {
				return err
			}
			pending = append(pending, p)
			kept = append(kept, p.meta)
		}
		if cutEnd < uint64(len(data)) {
			id, err := ids.take()
			if err != nil {
				return err
			}
			p, err := s.createBlock(data[cutEnd:], id, int(b.DataShards), int(b.ParityShards))
			if err != nil {
				return err
			}
			pending = append(pending, p)
			kept = append(kept, p.meta)
		}
		obsolete = append(obsolete, b)
	}

	next := s.manifest.Clone()
	next.Blocks = kept
	if err := next.RecalcTotalSize(); err != nil {
		return err
	}
	s.nextID = ids.next
	return s.commit(next, pending, obsolete)
}

// idSequence hands out fresh block ids with overflow checking.
type idSequence struct {
	next uint64
}

func (s *idSequence) take() (uint64, error) {
	id := s.next
	if id+1 == 0 {
		return 0, fmt.Errorf("%w: block id", fault.ErrOverflow)
	}
	s.next = id + 1
	return id, nil
}
