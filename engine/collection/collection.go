// Package collection keeps the vector collection in the expected shape.
// Ensure is safe to call on every run; Reset is the only destructive path.
package collection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reforma-ai/ragqa/engine/domain"
)

// Store is the vector-store surface the manager needs.
type Store interface {
	GetCollection(ctx context.Context, name string) (domain.CollectionInfo, bool, error)
	CreateCollection(ctx context.Context, spec domain.CollectionSpec) error
	DeleteCollection(ctx context.Context, name string) error
}

// Status is the outcome of Ensure.
type Status int

const (
	StatusExists   Status = iota // present with the expected schema
	StatusCreated                // was absent and has been created
	StatusMismatch               // present with a different schema, left untouched
)

func (s Status) String() string {
	switch s {
	case StatusExists:
		return "exists"
	case StatusCreated:
		return "created"
	case StatusMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Manager ensures collections exist with the expected schema.
type Manager struct {
	store  Store
	logger *slog.Logger
	strict bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// Strict makes Ensure fail with a SchemaMismatchError instead of warning.
func Strict(on bool) Option { return func(m *Manager) { m.strict = on } }

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Ensure creates the collection when absent. An existing collection is never
// modified: a schema mismatch is logged and reported as StatusMismatch, or
// returned as an error in strict mode. Store failures other than absence are
// returned as is.
func (m *Manager) Ensure(ctx context.Context, spec domain.CollectionSpec) (Status, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	info, found, err := m.store.GetCollection(ctx, spec.Name)
	if err != nil {
		return 0, fmt.Errorf("collection: ensure %s: %w", spec.Name, err)
	}
	if !found {
		if err := m.store.CreateCollection(ctx, spec); err != nil {
			return 0, fmt.Errorf("collection: ensure %s: %w", spec.Name, err)
		}
		m.logger.Info("collection created",
			"collection", spec.Name, "dimension", spec.Dimension, "distance", spec.Distance)
		return StatusCreated, nil
	}

	if matches(spec, info) {
		m.logger.Debug("collection exists", "collection", spec.Name, "points", info.PointsCount)
		return StatusExists, nil
	}

	mismatch := &domain.SchemaMismatchError{Collection: spec.Name, Want: spec, Got: info}
	if m.strict {
		return StatusMismatch, mismatch
	}
	m.logger.Warn("collection schema mismatch, leaving it untouched",
		"collection", spec.Name,
		"want_dimension", spec.Dimension, "got_dimension", info.Dimension,
		"want_distance", spec.Distance, "got_distance", info.Distance,
	)
	return StatusMismatch, nil
}

// matches treats an unknown stored dimension as compatible.
func matches(spec domain.CollectionSpec, info domain.CollectionInfo) bool {
	if info.Dimension != 0 && info.Dimension != spec.Dimension {
		return false
	}
	return info.Distance == spec.Distance
}

// Reset drops the collection, losing every point, and creates it again empty.
// It is an administrative operation and is never called by Ensure.
func (m *Manager) Reset(ctx context.Context, spec domain.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := m.store.DeleteCollection(ctx, spec.Name); err != nil {
		return fmt.Errorf("collection: reset %s: %w", spec.Name, err)
	}
	if err := m.store.CreateCollection(ctx, spec); err != nil {
		return fmt.Errorf("collection: reset %s: %w", spec.Name, err)
	}
	m.logger.Warn("collection reset", "collection", spec.Name, "dimension", spec.Dimension)
	return nil
}
