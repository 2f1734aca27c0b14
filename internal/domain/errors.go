// Package domain contains the core domain models for the syndication engine.
package domain

import "errors"

// Error taxonomy for the engine. Everything is scoped to one global ID, one
// distribution item or one review; nothing here is fatal to the host process.
var (
	// ErrMalformedID is returned when a global ID string cannot be parsed.
	ErrMalformedID = errors.New("malformed global id")

	// ErrNotFound is returned when an entity cannot be resolved. A miss is a
	// routine outcome, not an exceptional one.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFinished is returned when approve/deny is called on a review
	// that already reached a terminal state.
	ErrAlreadyFinished = errors.New("review already finished")

	// ErrDistributionFailed is returned when a delivery fails; the first
	// underlying error is retained for diagnostics.
	ErrDistributionFailed = errors.New("distribution failed")

	// ErrStoreWrite is returned when the content store rejects a write.
	// The engine does not retry these.
	ErrStoreWrite = errors.New("content store write failed")

	// ErrRemoteUnreachable is returned when a remote network cannot be
	// reached or times out. It fails a single destination, never the batch.
	ErrRemoteUnreachable = errors.New("remote network unreachable")

	// ErrEmptyBatch is returned when enqueueing a distribution with no
	// resolvable items or destination.
	ErrEmptyBatch = errors.New("empty distribution batch")

	// ErrInvalidDestination is returned when a serialized destination cannot
	// be decoded into a known variant.
	ErrInvalidDestination = errors.New("invalid destination")
)
