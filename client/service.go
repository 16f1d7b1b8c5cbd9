package client

import "context"

// RecordReader abstracts repository operations for the service.
type RecordReader interface {
	GetByID(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// Service exposes business-level client lookups.
type Service struct {
	repo RecordReader
}

// NewService builds a Service using the provided repository.
func NewService(repo RecordReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the client record for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Record, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit client records.
func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	return s.repo.List(ctx, limit)
}
