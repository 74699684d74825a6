package catalog

import "errors"

// Domain error taxonomy shared by the catalog, cascade engine, ingest
// pipeline, and maintenance sweep. Mutating operations either fully succeed
// or return one of these kinds; partial success is never reported.
var (
	// ErrDuplicateContent indicates an identical byte sequence is already
	// stored. Recoverable: callers treat it as a dedup hit and reuse the
	// existing record.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrNotFound indicates an unknown id, hash, or collection.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a knowledge base name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCollectionBusy indicates a concurrent deletion holds the
	// collection lock. Callers should retry, not drop the operation.
	ErrCollectionBusy = errors.New("collection busy")

	// ErrInconsistentState indicates an orphan detected during a
	// maintenance sweep. Reported, never silently auto-repaired.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrInvalidEmbeddingDimension indicates a chunk embedding whose
	// dimension does not match the deployment's fixed dimension.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")
)
