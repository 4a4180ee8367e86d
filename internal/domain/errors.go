package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that a requested entity does not exist in the
// graph. Callers match it with errors.Is.
var ErrNotFound = errors.New("not found")

// ExtractionError is fatal per-job: the input document cannot be turned
// into structural text. Never retried.
type ExtractionError struct {
	Reason string // encrypted | too_large | unparseable | empty
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s)", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ChunkConfigError is a configuration bug: overlap must be strictly less
// than chunk size.
type ChunkConfigError struct {
	ChunkSize int
	Overlap   int
}

func (e *ChunkConfigError) Error() string {
	return fmt.Sprintf("invalid chunk config: overlap %d must be < chunk size %d", e.Overlap, e.ChunkSize)
}

// TooManyConceptsError bounds downstream cost per job.
type TooManyConceptsError struct {
	Count int
	Max   int
}

func (e *TooManyConceptsError) Error() string {
	return fmt.Sprintf("document produced %d concepts, exceeding the per-job maximum of %d", e.Count, e.Max)
}

// EmbeddingServiceError is a transient failure from the embedding
// collaborator. StatusCode drives retryability classification; RetryAfter
// carries the server's suggested delay when the response included one.
type EmbeddingServiceError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("embedding service error (http %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding service error: %v", e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error       { return e.Err }
func (e *EmbeddingServiceError) HTTPStatusCode() int { return e.StatusCode }

// DimensionMismatchError is a fatal data-integrity error: an embedding
// whose length differs from the deployment dimension must never be
// truncated, padded, or written to either store.
type DimensionMismatchError struct {
	ConceptID string
	Got       int
	Want      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch for concept %s: got %d, want %d", e.ConceptID, e.Got, e.Want)
}

// GraphWriteError wraps a failed graph-store write with the persistence
// step that produced it.
type GraphWriteError struct {
	Step string // nodes | edges
	Err  error
}

func (e *GraphWriteError) Error() string {
	return fmt.Sprintf("graph write failed (step %s): %v", e.Step, e.Err)
}

func (e *GraphWriteError) Unwrap() error { return e.Err }

type VectorWriteError struct {
	Err error
}

func (e *VectorWriteError) Error() string { return fmt.Sprintf("vector write failed: %v", e.Err) }
func (e *VectorWriteError) Unwrap() error { return e.Err }

// ReconciliationMismatch reports a set difference between the two stores
// for one book. It is a repair signal, not a job failure.
type ReconciliationMismatch struct {
	BookID         string
	MissingVectors []string // in graph store, absent from vector store
	OrphanVectors  []string // in vector store, absent from graph store
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("reconciliation mismatch for book %s: %d concepts missing vectors, %d orphan vectors",
		e.BookID, len(e.MissingVectors), len(e.OrphanVectors))
}

// IsFatalJobError reports whether err should abort the job outright with
// no retry, per the propagation policy.
func IsFatalJobError(err error) bool {
	if err == nil {
		return false
	}
	var (
		extractionErr *ExtractionError
		chunkCfgErr   *ChunkConfigError
		tooManyErr    *TooManyConceptsError
		dimensionErr  *DimensionMismatchError
	)
	return errors.As(err, &extractionErr) ||
		errors.As(err, &chunkCfgErr) ||
		errors.As(err, &tooManyErr) ||
		errors.As(err, &dimensionErr)
}
