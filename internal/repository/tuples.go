package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

const tupleColumns = `tenant_id, namespace, object_id, relation,
       subject_type, subject_id, subject_relation, created_at`

func scanTuple(row pgx.Row) (*RelationTuple, error) {
	var t RelationTuple
	err := row.Scan(
		&t.TenantID, &t.Namespace, &t.ObjectID, &t.Relation,
		&t.SubjectType, &t.SubjectID, &t.SubjectRelation, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan relation tuple: %w", err)
	}
	return &t, nil
}

// TupleRepo stores relation tuples, the atomic unit of authorization.
type TupleRepo struct{}

func (TupleRepo) Write(ctx context.Context, db storage.DB, tuple RelationTuple) error {
	_, err := db.Exec(ctx, `
		INSERT INTO relation_tuples (tenant_id, namespace, object_id, relation, subject_type, subject_id, subject_relation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		tuple.TenantID, tuple.Namespace, tuple.ObjectID, tuple.Relation,
		tuple.SubjectType, tuple.SubjectID, tuple.SubjectRelation)
	return err
}

// Delete removes a tuple by its full identity.
func (TupleRepo) Delete(ctx context.Context, db storage.DB, tuple RelationTuple) error {
	_, err := db.Exec(ctx, `
		DELETE FROM relation_tuples
		WHERE tenant_id = $1 AND namespace = $2 AND object_id = $3 AND relation = $4
		  AND subject_type = $5 AND subject_id = $6 AND subject_relation = $7`,
		tuple.TenantID, tuple.Namespace, tuple.ObjectID, tuple.Relation,
		tuple.SubjectType, tuple.SubjectID, tuple.SubjectRelation)
	return err
}

// Exists checks for an exact direct tuple.
func (TupleRepo) Exists(ctx context.Context, db storage.DB, tenantID uuid.UUID, namespace, objectID, relation, subjectType, subjectID string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM relation_tuples
			WHERE tenant_id = $1 AND namespace = $2 AND object_id = $3
			  AND relation = $4 AND subject_type = $5 AND subject_id = $6
		)`, tenantID, namespace, objectID, relation, subjectType, subjectID).Scan(&exists)
	return exists, err
}

// TupleFilter narrows a Query; nil fields match everything.
type TupleFilter struct {
	Namespace   *string
	ObjectID    *string
	Relation    *string
	SubjectType *string
	SubjectID   *string
}

// Query returns tuples matching the filter in insertion order.
func (TupleRepo) Query(ctx context.Context, db storage.DB, tenantID uuid.UUID, filter TupleFilter) ([]*RelationTuple, error) {
	rows, err := db.Query(ctx, `
		SELECT `+tupleColumns+` FROM relation_tuples
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR namespace = $2)
		  AND ($3::text IS NULL OR object_id = $3)
		  AND ($4::text IS NULL OR relation = $4)
		  AND ($5::text IS NULL OR subject_type = $5)
		  AND ($6::text IS NULL OR subject_id = $6)
		ORDER BY created_at`,
		tenantID, filter.Namespace, filter.ObjectID, filter.Relation,
		filter.SubjectType, filter.SubjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tuples []*RelationTuple
	for rows.Next() {
		t, err := scanTuple(rows)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, rows.Err()
}

// SubjectTuples returns every tuple where the subject appears, across
// namespaces. Used for group-membership expansion.
func (TupleRepo) SubjectTuples(ctx context.Context, db storage.DB, tenantID uuid.UUID, subjectType, subjectID string) ([]*RelationTuple, error) {
	rows, err := db.Query(ctx, `
		SELECT `+tupleColumns+` FROM relation_tuples
		WHERE tenant_id = $1 AND subject_type = $2 AND subject_id = $3
		ORDER BY created_at`,
		tenantID, subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tuples []*RelationTuple
	for rows.Next() {
		t, err := scanTuple(rows)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, rows.Err()
}
