package chunkuploader

import (
	"errors"
	"fmt"
)

// Phase names the part of the upload that failed.
type Phase string

const (
	PhaseValidation Phase = "validation"
	PhaseSource     Phase = "source"
	PhaseCreate     Phase = "create"
	PhaseChunk      Phase = "chunk"
	PhaseExtraction Phase = "extraction"
)

var (
	// ErrSourceExhausted is returned when the source ends before the declared size was read.
	ErrSourceExhausted = errors.New("no more content to read but expected file size was not attained, is a process modifying the file being read?")
	// ErrNoSessionID is returned when the create call answers without an upload GUID.
	ErrNoSessionID = errors.New("upload was not created on AIP Console")
	// ErrOffsetMismatch matches every *OffsetMismatchError.
	ErrOffsetMismatch = errors.New("server acknowledged offset does not match the uploaded bytes")
)

// OffsetMismatchError means the server and the client disagree on how many bytes were received.
type OffsetMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d, server reported %d", ErrOffsetMismatch, e.Expected, e.Actual)
}

// Is ...
func (e *OffsetMismatchError) Is(target error) bool {
	return target == ErrOffsetMismatch
}

// UploadError is the single failure type returned by the uploader and the poller.
type UploadError struct {
	Phase Phase
	// Chunk is the 1-based index of the failing chunk, 0 outside of the chunk loop.
	Chunk       int
	TotalChunks int
	Err         error
	// CleanupErr is set when the best-effort delete of the failed upload also failed.
	CleanupErr error
}

func (e *UploadError) Error() string {
	switch e.Phase {
	case PhaseChunk:
		return fmt.Sprintf("error occurred while uploading chunk %d of %d: %s", e.Chunk, e.TotalChunks, e.Err)
	case PhaseSource:
		if e.Chunk > 0 {
			return fmt.Sprintf("unable to read chunk %d of %d: %s", e.Chunk, e.TotalChunks, e.Err)
		}
		return fmt.Sprintf("unable to read source: %s", e.Err)
	case PhaseCreate:
		return fmt.Sprintf("unable to create upload: %s", e.Err)
	case PhaseExtraction:
		return fmt.Sprintf("failed to extract source code in AIP Console: %s", e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Phase, e.Err)
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// NewValidationError ...
func NewValidationError(format string, args ...interface{}) error {
	return &UploadError{Phase: PhaseValidation, Err: fmt.Errorf(format, args...)}
}

// NewSourceError ...
func NewSourceError(err error) error {
	return &UploadError{Phase: PhaseSource, Err: err}
}
