package batch

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
)

// RepositoryStore bridges a go-repository-bun repository to the executor's
// persistence contract. CreateMany maps onto the bulk primitive; updates and
// deletes only exist per record, which matches the executor's individual
// flows.
type RepositoryStore[T any] struct {
	repo repository.Repository[T]
}

var _ Store[any] = (*RepositoryStore[any])(nil)

// NewRepositoryStore wraps repo for use with an Executor.
func NewRepositoryStore[T any](repo repository.Repository[T]) *RepositoryStore[T] {
	return &RepositoryStore[T]{repo: repo}
}

// BulkCreate implements Store.
func (s *RepositoryStore[T]) BulkCreate(ctx context.Context, items []T) ([]T, error) {
	return s.repo.CreateMany(ctx, items)
}

// CreateOne implements Store.
func (s *RepositoryStore[T]) CreateOne(ctx context.Context, item T) (T, error) {
	return s.repo.Create(ctx, item)
}

// UpdateOne implements Store.
func (s *RepositoryStore[T]) UpdateOne(ctx context.Context, item T) (T, error) {
	return s.repo.Update(ctx, item)
}

// DeleteOne implements Store.
func (s *RepositoryStore[T]) DeleteOne(ctx context.Context, item T) error {
	return s.repo.Delete(ctx, item)
}
