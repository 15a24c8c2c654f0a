package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	ErrInvalidConfig           = errors.New("invalid configuration")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrCollectionNotFound      = errors.New("collection not found")
	ErrSchemaMismatch          = errors.New("collection schema mismatch")
	ErrModelMismatch           = errors.New("embedding model mismatch")
	ErrEmptyDocument           = errors.New("document has no text")
	ErrEmptyQuestion           = errors.New("question is empty")
	ErrQuestionTooLong         = errors.New("question too long")
)

// ConfigError is raised before any I/O when a setting cannot work.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// NewConfigError creates a ConfigError.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// SchemaMismatchError describes an existing collection whose vector schema
// differs from the expected one.
type SchemaMismatchError struct {
	Collection string
	Want       CollectionSpec
	Got        CollectionInfo
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("collection %q: expected dim=%d distance=%s, found dim=%d distance=%s",
		e.Collection, e.Want.Dimension, e.Want.Distance, e.Got.Dimension, e.Got.Distance)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// Unavailable marks err as a collaborator failure while keeping it inspectable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrCollaboratorUnavailable, err)
}

// UnavailableStatus reports whether an HTTP status from a collaborator means
// it cannot serve right now rather than that the request was wrong.
func UnavailableStatus(code int) bool {
	return code >= 500 || code == 401 || code == 403 || code == 408 || code == 429
}
