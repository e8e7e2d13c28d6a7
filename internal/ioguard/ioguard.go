// Package ioguard provides crash-atomic file writes and verified reads.
//
// Writes go to an exclusively created temp file in the target directory,
// are renamed over the target, and are read back and hash-checked so the
// caller can assert durability of the exact intended bytes. Reads verify
// content before returning it and retry briefly on mismatch.
package ioguard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"lukechampine.com/blake3"

	"github.com/eniz1806/ironclad/internal/fault"
)

// Mode selects the durability profile.
type Mode int

const (
	// ModeStrict retries three times and syncs file data and the parent
	// directory on every write.
	ModeStrict Mode = iota
	// ModeFast performs single attempts without syncs. Correctness is
	// preserved; only durability guarantees differ.
	ModeFast
)

// Options controls retry budgets and durability syncs.
type Options struct {
	Mode           Mode
	ReadRetries    int
	WriteRetries   int
	DurabilitySync bool
}

// Strict returns the durable profile.
func Strict() Options {
	return Options{Mode: ModeStrict, ReadRetries: 3, WriteRetries: 3, DurabilitySync: true}
}

// Fast returns the single-attempt, no-sync profile.
func Fast() Options {
	return Options{Mode: ModeFast, ReadRetries: 1, WriteRetries: 1, DurabilitySync: false}
}

func (o Options) readAttempts() int  { return max(o.ReadRetries, 1) }
func (o Options) writeAttempts() int { return max(o.WriteRetries, 1) }

// retryPause is the delay between read attempts, long enough to let a
// concurrent rename land.
const retryPause = time.Millisecond

// tempCounter disambiguates temp names created within the same clock tick.
// Its value is never persisted.
var tempCounter atomic.Uint64

// WriteAtomicVerified writes data to path crash-atomically and verifies the
// persisted bytes hash to expected. On failure the temp file is removed
// best-effort and the write is retried up to the option budget.
func WriteAtomicVerified(path string, data []byte, expected [32]byte, opts Options) error {
	attempts := opts.writeAttempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		tempPath := makeTempPath(path, attempt)
		err := writeOnce(tempPath, path, data, expected, opts)
		os.Remove(tempPath)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("%w: atomic write of %s failed after %d attempts: %v",
		fault.ErrIO, path, attempts, lastErr)
}

func writeOnce(tempPath, path string, data []byte, expected [32]byte, opts Options) error {
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if opts.DurabilitySync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	if opts.DurabilitySync {
		if err := syncDir(filepath.Dir(path)); err != nil {
			return err
		}
	}

	persisted, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if blake3.Sum256(persisted) != expected {
		return fmt.Errorf("verification hash mismatch at %s", path)
	}
	return nil
}

// ReadVerified reads path and returns its contents once they hash to
// expected. A missing file, or a persistent mismatch after the retry
// budget, returns (nil, false, nil); callers treat both as a damaged shard.
func ReadVerified(path string, expected [32]byte, opts Options) ([]byte, bool, error) {
	return ReadVerifiedFunc(path, opts, func(data []byte) error {
		if blake3.Sum256(data) != expected {
			return fmt.Errorf("%w: hash mismatch at %s", fault.ErrIntegrity, path)
		}
		return nil
	})
}

// ReadVerifiedFunc reads path and returns its contents once check accepts
// them, retrying transient failures within the option budget. The boolean
// reports whether verified content was obtained.
func ReadVerifiedFunc(path string, opts Options, check func(data []byte) error) ([]byte, bool, error) {
	attempts := opts.readAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if check(data) == nil {
				return data, true, nil
			}
		case os.IsNotExist(err):
			return nil, false, nil
		}

		if attempt+1 < attempts {
			time.Sleep(retryPause)
		}
	}
	return nil, false, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

func makeTempPath(path string, attempt int) string {
	now := time.Now()
	name := fmt.Sprintf(".%s.tmp.%d.%d.%d.%d",
		filepath.Base(path), os.Getpid(), now.Unix(), now.Nanosecond(),
		tempCounter.Add(1)+uint64(attempt))
	return filepath.Join(filepath.Dir(path), name)
}
