package types

import "errors"

var (
	// ErrUnsupportedFormat indicates a document type the loader cannot read.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrProviderUnavailable indicates the embedding or generation service
	// could not be reached or returned an error.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAuthentication indicates a missing or rejected API key.
	ErrAuthentication = errors.New("authentication failed")

	// ErrIndexStorage indicates the vector index could not read, write or
	// delete its persisted data.
	ErrIndexStorage = errors.New("index storage error")

	// ErrGeneration wraps completion failures before they are turned into
	// in-band answer text.
	ErrGeneration = errors.New("generation failed")

	// ErrMalformedEvaluation indicates an evaluator response without any
	// recognised field. It never leaves the evaluator.
	ErrMalformedEvaluation = errors.New("malformed evaluation response")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady indicates a question was asked before any knowledge base was loaded.
	ErrNotReady = errors.New("knowledge base not loaded")

	// ErrIndexClosed indicates use of an index handle after Close.
	ErrIndexClosed = errors.New("index closed")
)
