package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig signals an invalid or incomplete configuration.
	ErrConfig = errors.New("invalid configuration")
	// ErrNoDocuments signals that the knowledge directory holds no eligible files.
	ErrNoDocuments = errors.New("no eligible documents")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrLLMProviderError signals a chat-completion provider failure.
	ErrLLMProviderError = errors.New("llm provider error")
	// ErrVectorStoreError signals a vector database failure.
	ErrVectorStoreError = errors.New("vector store error")
	// ErrCollectionNotFound signals a query against a collection that does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrModelMismatch signals that a collection was built with a different embedding model.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrIngestInProgress signals that another ingest run holds the lock.
	ErrIngestInProgress = errors.New("ingest already in progress")

	// ErrUnauthorized signals missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden signals an authenticated caller lacking permission.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidPath signals a file name escaping the knowledge directory or with an ineligible extension.
	ErrInvalidPath = errors.New("invalid path")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// MismatchError wraps ErrModelMismatch with both fingerprints.
type MismatchError struct {
	Collection string
	Stored     string
	Configured string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: collection %q was built with %q, configured %q",
		ErrModelMismatch.Error(), e.Collection, e.Stored, e.Configured)
}

func (e *MismatchError) Unwrap() error { return ErrModelMismatch }
