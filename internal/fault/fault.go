// Package fault defines the error kinds shared across the store.
// Callers classify failures with errors.Is against these sentinels;
// packages add context by wrapping them with fmt.Errorf and %w.
package fault

import "errors"

var (
	// ErrBadInput covers malformed root keys, invalid shard configs and
	// out-of-range offsets or lengths.
	ErrBadInput = errors.New("bad input")

	// ErrNotInitialized means no metadata quorum exists in the dataset
	// directory.
	ErrNotInitialized = errors.New("dataset not initialized")

	// ErrIntegrity covers MAC mismatches, AEAD tag failures, hash
	// mismatches and conflicting manifest quorums.
	ErrIntegrity = errors.New("integrity failure")

	// ErrInsufficientRedundancy means erasure reconstruction cannot reach
	// the required number of data shards.
	ErrInsufficientRedundancy = errors.New("insufficient redundancy")

	// ErrIO is a filesystem failure not absorbed by retries.
	ErrIO = errors.New("io failure")

	// ErrOverflow is arithmetic overflow on a size, offset or id
	// computation. Overflow is always an error, never wrap-around.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrTestHook is returned when the manifest-commit fail marker is
	// present in the dataset directory.
	ErrTestHook = errors.New("test hook triggered")
)
