package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/cache"
	"github.com/cloudomate/coreauth/internal/repository"
)

// decisionTTL bounds how stale a cached check result may be.
const decisionTTL = 60 * time.Second

// TupleStore is the engine's view of relation tuple storage.
type TupleStore interface {
	Exists(ctx context.Context, tenantID uuid.UUID, namespace, objectID, relation, subjectType, subjectID string) (bool, error)
	Query(ctx context.Context, tenantID uuid.UUID, filter repository.TupleFilter) ([]*repository.RelationTuple, error)
	SubjectTuples(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID string) ([]*repository.RelationTuple, error)
}

// ModelStore supplies the tenant's live authorization model, or nil when the
// tenant runs legacy tuple-only resolution.
type ModelStore interface {
	Model(ctx context.Context, tenantID uuid.UUID) (*Model, error)
}

// CheckRequest asks: may subject S perform relation R on object O?
type CheckRequest struct {
	TenantID    uuid.UUID              `json:"tenant_id"`
	SubjectType string                 `json:"subject_type"`
	SubjectID   string                 `json:"subject_id"`
	Relation    string                 `json:"relation"`
	Namespace   string                 `json:"namespace"`
	ObjectID    string                 `json:"object_id"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// SubjectInfo is one expanded subject of a relation.
type SubjectInfo struct {
	SubjectType string  `json:"subject_type"`
	SubjectID   string  `json:"subject_id"`
	ViaRelation *string `json:"via_relation,omitempty"`
}

type ExpandResponse struct {
	Subjects []SubjectInfo `json:"subjects"`
}

// Engine resolves permission checks depth-first over the tuple graph,
// following the model's relation algebra when one exists. A visited set cuts
// cycles; positive and negative decisions cache for sixty seconds.
type Engine struct {
	tuples TupleStore
	models ModelStore
	cache  cache.Cache

	// keyIndex maps an object to the decision keys written for it, so tuple
	// writes can invalidate without cache-side pattern matching.
	mu       sync.Mutex
	keyIndex map[string][]string
}

func NewEngine(tuples TupleStore, models ModelStore, cacheStore cache.Cache) *Engine {
	return &Engine{
		tuples:   tuples,
		models:   models,
		cache:    cacheStore,
		keyIndex: make(map[string][]string),
	}
}

func checkCacheKey(req CheckRequest) string {
	return fmt.Sprintf("authz:check:%s:%s:%s:%s:%s:%s",
		req.TenantID, req.SubjectType, req.SubjectID,
		req.Relation, req.Namespace, req.ObjectID)
}

func objectKey(tenantID uuid.UUID, namespace, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, namespace, objectID)
}

// Check resolves a permission question. Deterministic for a consistent
// snapshot of tuples and model: union short-circuits left to right,
// intersection on the first false, exclusion evaluates base before subtract.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	cacheKey := checkCacheKey(req)
	if cached, err := e.cache.Get(ctx, cacheKey); err == nil {
		return &CheckResponse{
			Allowed: string(cached) == "true",
			Reason:  "From cache",
		}, nil
	}

	var model *Model
	if e.models != nil {
		var err error
		model, err = e.models.Model(ctx, req.TenantID)
		if err != nil {
			return nil, err
		}
	}

	visited := make(map[string]struct{})
	allowed, err := e.checkRecursive(ctx, req.TenantID, req.SubjectType, req.SubjectID,
		req.Relation, req.Namespace, req.ObjectID, visited, model)
	if err != nil {
		return nil, err
	}

	value := "false"
	if allowed {
		value = "true"
	}
	if err := e.cache.Set(ctx, cacheKey, []byte(value), decisionTTL); err == nil {
		e.indexKey(objectKey(req.TenantID, req.Namespace, req.ObjectID), cacheKey)
	}

	reason := "Permission denied"
	if allowed {
		reason = "Permission granted"
	}
	return &CheckResponse{Allowed: allowed, Reason: reason}, nil
}

func (e *Engine) checkRecursive(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID, relation, namespace, objectID string, visited map[string]struct{}, model *Model) (bool, error) {
	visitKey := fmt.Sprintf("%s:%s:%s:%s:%s", subjectType, subjectID, relation, namespace, objectID)
	if _, seen := visited[visitKey]; seen {
		return false, nil // cycle
	}
	visited[visitKey] = struct{}{}

	// 1. Direct tuple.
	exists, err := e.tuples.Exists(ctx, tenantID, namespace, objectID, relation, subjectType, subjectID)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	// 2. Group expansion: any group the user belongs to may hold the
	// relation on the object.
	if subjectType == SubjectUser {
		memberships, err := e.tuples.SubjectTuples(ctx, tenantID, SubjectUser, subjectID)
		if err != nil {
			return false, err
		}
		for _, membership := range memberships {
			if membership.Namespace != SubjectGroup {
				continue
			}
			ok, err := e.checkRecursive(ctx, tenantID, SubjectGroup, membership.ObjectID,
				relation, namespace, objectID, visited, model)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}

	// 3. Model-aware resolution, or the legacy userset indirection when the
	// tenant has no model.
	if model != nil {
		return e.checkModelAware(ctx, tenantID, subjectType, subjectID, relation, namespace, objectID, visited, model)
	}
	return e.checkLegacyUserSet(ctx, tenantID, subjectType, subjectID, relation, namespace, objectID, visited)
}

// checkLegacyUserSet expands tuples whose subject is a userset:
// object#relation@userset(other#rel) means "anyone with rel on other".
func (e *Engine) checkLegacyUserSet(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID, relation, namespace, objectID string, visited map[string]struct{}) (bool, error) {
	userSet := SubjectUserSet
	indirect, err := e.tuples.Query(ctx, tenantID, repository.TupleFilter{
		Namespace:   &namespace,
		ObjectID:    &objectID,
		Relation:    &relation,
		SubjectType: &userSet,
	})
	if err != nil {
		return false, err
	}

	for _, tuple := range indirect {
		if tuple.SubjectRelation == "" {
			continue
		}
		ok, err := e.checkRecursive(ctx, tenantID, subjectType, subjectID,
			tuple.SubjectRelation, namespace, tuple.SubjectID, visited, nil)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) checkModelAware(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID, relation, namespace, objectID string, visited map[string]struct{}, model *Model) (bool, error) {
	typeDef := model.TypeDefinition(namespace)
	if typeDef == nil {
		return false, nil
	}
	relDef, ok := typeDef.Relations[relation]
	if !ok {
		return false, nil
	}
	return e.checkRelationDef(ctx, tenantID, subjectType, subjectID, namespace, objectID, relDef, typeDef, visited, model)
}

func (e *Engine) checkRelationDef(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID, namespace, objectID string, relDef *RelationDefinition, typeDef *TypeDefinition, visited map[string]struct{}, model *Model) (bool, error) {
	// Direct assignment ("this") was already covered by the tuple check in
	// checkRecursive; skipping here avoids double work.

	if relDef.ComputedUserset != nil {
		ok, err := e.checkRecursive(ctx, tenantID, subjectType, subjectID,
			relDef.ComputedUserset.Relation, namespace, objectID, visited, model)
		if err != nil || ok {
			return ok, err
		}
	}

	if relDef.TupleToUserset != nil {
		ok, err := e.checkTupleToUserset(ctx, tenantID, subjectType, subjectID, namespace, objectID, relDef.TupleToUserset, typeDef, visited, model)
		if err != nil || ok {
			return ok, err
		}
	}

	// union: any child grants.
	for _, child := range relDef.Union {
		ok, err := e.checkRelationDef(ctx, tenantID, subjectType, subjectID, namespace, objectID, child, typeDef, visited, model)
		if err != nil || ok {
			return ok, err
		}
	}

	// intersection: every child must grant.
	if len(relDef.Intersection) > 0 {
		all := true
		for _, child := range relDef.Intersection {
			ok, err := e.checkRelationDef(ctx, tenantID, subjectType, subjectID, namespace, objectID, child, typeDef, visited, model)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}

	// exclusion: base grants and subtract does not.
	if relDef.Exclusion != nil {
		base, err := e.checkRelationDef(ctx, tenantID, subjectType, subjectID, namespace, objectID, relDef.Exclusion.Base, typeDef, visited, model)
		if err != nil {
			return false, err
		}
		if base {
			subtract, err := e.checkRelationDef(ctx, tenantID, subjectType, subjectID, namespace, objectID, relDef.Exclusion.Subtract, typeDef, visited, model)
			if err != nil {
				return false, err
			}
			if !subtract {
				return true, nil
			}
		}
	}

	return false, nil
}

// checkTupleToUserset follows the tupleset relation to linked objects and
// evaluates the computed relation there. The linked object's namespace comes
// from the relation metadata.
func (e *Engine) checkTupleToUserset(ctx context.Context, tenantID uuid.UUID, subjectType, subjectID, namespace, objectID string, ttu *TupleToUserset, typeDef *TypeDefinition, visited map[string]struct{}, model *Model) (bool, error) {
	linked, err := e.tuples.Query(ctx, tenantID, repository.TupleFilter{
		Namespace: &namespace,
		ObjectID:  &objectID,
		Relation:  &ttu.Tupleset.Relation,
	})
	if err != nil {
		return false, err
	}

	linkedNamespace := typeDef.LinkedType(ttu.Tupleset.Relation)
	if linkedNamespace == "" {
		return false, nil
	}

	for _, tuple := range linked {
		ok, err := e.checkRecursive(ctx, tenantID, subjectType, subjectID,
			ttu.ComputedUserset.Relation, linkedNamespace, tuple.SubjectID, visited, model)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Expand lists every subject holding a relation on an object.
func (e *Engine) Expand(ctx context.Context, tenantID uuid.UUID, namespace, objectID, relation string) (*ExpandResponse, error) {
	tuples, err := e.tuples.Query(ctx, tenantID, repository.TupleFilter{
		Namespace: &namespace,
		ObjectID:  &objectID,
		Relation:  &relation,
	})
	if err != nil {
		return nil, err
	}

	subjects := make([]SubjectInfo, 0, len(tuples))
	for _, t := range tuples {
		info := SubjectInfo{
			SubjectType: t.SubjectType,
			SubjectID:   t.SubjectID,
		}
		if t.SubjectRelation != "" {
			via := t.SubjectRelation
			info.ViaRelation = &via
		}
		subjects = append(subjects, info)
	}
	return &ExpandResponse{Subjects: subjects}, nil
}

// InvalidateObject drops every cached decision touching an object. Called on
// tuple writes and deletes and on model changes.
func (e *Engine) InvalidateObject(ctx context.Context, tenantID uuid.UUID, namespace, objectID string) {
	key := objectKey(tenantID, namespace, objectID)

	e.mu.Lock()
	keys := e.keyIndex[key]
	delete(e.keyIndex, key)
	e.mu.Unlock()

	for _, cacheKey := range keys {
		_ = e.cache.Delete(ctx, cacheKey)
	}
}

func (e *Engine) indexKey(object, cacheKey string) {
	e.mu.Lock()
	e.keyIndex[object] = append(e.keyIndex[object], cacheKey)
	e.mu.Unlock()
}
