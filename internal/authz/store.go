package authz

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// routedTupleStore backs TupleStore with the relation_tuples table, routing
// every query through the tenant router.
type routedTupleStore struct {
	router *storage.Router
	tuples repository.TupleRepo
}

func NewTupleStore(router *storage.Router) TupleStore {
	return &routedTupleStore{router: router}
}

func (s *routedTupleStore) Exists(ctx context.Context, tenantID uuid.UUID, namespace, objectID, relation, subjectType, subjectID string) (bool, error) {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return s.tuples.Exists(ctx, pool, tenantID, namespace, objectID, relation, subjectType, subjectID)
}

func (s *routedTupleStore) Query(ctx context.Context, tenantID uuid.UUID, filter repository.TupleFilter) ([]*repository.RelationTuple, error) {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.tuples.Query(ctx, pool, tenantID, filter)
}

func (s *routedTupleStore) SubjectTuples(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID string) ([]*repository.RelationTuple, error) {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.tuples.SubjectTuples(ctx, pool, tenantID, subjectType, subjectID)
}

// routedModelStore loads and parses the tenant's live authorization model.
type routedModelStore struct {
	router *storage.Router
	models repository.AuthzModelRepo
}

func NewModelStore(router *storage.Router) ModelStore {
	return &routedModelStore{router: router}
}

func (s *routedModelStore) Model(ctx context.Context, tenantID uuid.UUID) (*Model, error) {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	raw, err := s.models.GetLatest(ctx, pool, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil // legacy tuple-only resolution
	}
	if err != nil {
		return nil, err
	}
	return ParseModel(raw)
}

// Service is the write surface of the authorization store. Tuple writes and
// deletes go through here so the engine's decision cache is invalidated for
// the touched object.
type Service struct {
	router *storage.Router
	tuples repository.TupleRepo
	engine *Engine
}

func NewService(router *storage.Router, engine *Engine) *Service {
	return &Service{router: router, engine: engine}
}

func (s *Service) Engine() *Engine {
	return s.engine
}

// Tuple writes run inside a tenant-context transaction: on the shared pool
// the RLS session variable backstops the tenant_id predicate.
func (s *Service) WriteTuple(ctx context.Context, tuple repository.RelationTuple) error {
	pool, err := s.router.Pool(ctx, tuple.TenantID)
	if err != nil {
		return err
	}
	err = storage.WithTenantContext(ctx, pool, tuple.TenantID, func(tx pgx.Tx) error {
		return s.tuples.Write(ctx, tx, tuple)
	})
	if err != nil {
		return err
	}
	s.engine.InvalidateObject(ctx, tuple.TenantID, tuple.Namespace, tuple.ObjectID)
	return nil
}

func (s *Service) DeleteTuple(ctx context.Context, tuple repository.RelationTuple) error {
	pool, err := s.router.Pool(ctx, tuple.TenantID)
	if err != nil {
		return err
	}
	err = storage.WithTenantContext(ctx, pool, tuple.TenantID, func(tx pgx.Tx) error {
		return s.tuples.Delete(ctx, tx, tuple)
	})
	if err != nil {
		return err
	}
	s.engine.InvalidateObject(ctx, tuple.TenantID, tuple.Namespace, tuple.ObjectID)
	return nil
}
