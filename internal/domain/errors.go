package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeEmbedding         = "EMBEDDING_ERROR"
	ErrCodeIndexWrite        = "INDEX_WRITE_ERROR"
	ErrCodeGeneration        = "GENERATION_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyQuery            = NewDomainError(ErrCodeValidation, "query text is empty")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Ingestion errors
var (
	ErrUnsupportedFormat = NewDomainError(ErrCodeUnsupportedFormat, "unsupported document format")
	ErrParseFailed       = NewDomainError(ErrCodeParse, "failed to parse document")
	ErrEmbeddingFailed   = NewDomainError(ErrCodeEmbedding, "failed to generate embeddings")
	ErrIndexWriteFailed  = NewDomainError(ErrCodeIndexWrite, "failed to write chunks to index")
)

// Generation errors
var (
	ErrGenerationFailed  = NewDomainError(ErrCodeGeneration, "text generation failed")
	ErrRateLimited       = NewDomainError(ErrCodeRateLimited, "provider rate limit exceeded")
	ErrGenerationTimeout = NewDomainError(ErrCodeTimeout, "text generation timed out")
)

// Operation errors
var (
	ErrInvalidTransition = NewDomainError(ErrCodeInvalidOperation, "invalid document status transition")
	ErrDocumentLocked    = NewDomainError(ErrCodeInvalidOperation, "document is being processed by another worker")
)

// IsTransient reports whether an error is worth retrying. Rate limits and
// timeouts are transient; parse and validation failures are not.
func IsTransient(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case ErrCodeRateLimited, ErrCodeTimeout:
		return true
	}
	return false
}
