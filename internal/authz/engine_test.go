package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudomate/coreauth/internal/cache"
	"github.com/cloudomate/coreauth/internal/repository"
)

// fakeTupleStore resolves against an in-memory tuple slice.
type fakeTupleStore struct {
	tuples []repository.RelationTuple
}

func (f *fakeTupleStore) add(namespace, objectID, relation, subjectType, subjectID, subjectRelation string) {
	f.tuples = append(f.tuples, repository.RelationTuple{
		Namespace:       namespace,
		ObjectID:        objectID,
		Relation:        relation,
		SubjectType:     subjectType,
		SubjectID:       subjectID,
		SubjectRelation: subjectRelation,
	})
}

func (f *fakeTupleStore) Exists(_ context.Context, _ uuid.UUID, namespace, objectID, relation, subjectType, subjectID string) (bool, error) {
	for _, t := range f.tuples {
		if t.Namespace == namespace && t.ObjectID == objectID && t.Relation == relation &&
			t.SubjectType == subjectType && t.SubjectID == subjectID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTupleStore) Query(_ context.Context, _ uuid.UUID, filter repository.TupleFilter) ([]*repository.RelationTuple, error) {
	var out []*repository.RelationTuple
	for i := range f.tuples {
		t := f.tuples[i]
		if filter.Namespace != nil && t.Namespace != *filter.Namespace {
			continue
		}
		if filter.ObjectID != nil && t.ObjectID != *filter.ObjectID {
			continue
		}
		if filter.Relation != nil && t.Relation != *filter.Relation {
			continue
		}
		if filter.SubjectType != nil && t.SubjectType != *filter.SubjectType {
			continue
		}
		if filter.SubjectID != nil && t.SubjectID != *filter.SubjectID {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

func (f *fakeTupleStore) SubjectTuples(_ context.Context, _ uuid.UUID, subjectType, subjectID string) ([]*repository.RelationTuple, error) {
	var out []*repository.RelationTuple
	for i := range f.tuples {
		t := f.tuples[i]
		if t.SubjectType == subjectType && t.SubjectID == subjectID {
			out = append(out, &t)
		}
	}
	return out, nil
}

// fixedModelStore returns one model for every tenant.
type fixedModelStore struct {
	model *Model
}

func (f *fixedModelStore) Model(context.Context, uuid.UUID) (*Model, error) {
	return f.model, nil
}

func newTestEngine(tuples *fakeTupleStore, model *Model) *Engine {
	return NewEngine(tuples, &fixedModelStore{model: model}, cache.NewMemory())
}

func check(t *testing.T, e *Engine, subjectID, relation, namespace, objectID string) *CheckResponse {
	t.Helper()
	resp, err := e.Check(context.Background(), CheckRequest{
		TenantID:    uuid.New(),
		SubjectType: SubjectUser,
		SubjectID:   subjectID,
		Relation:    relation,
		Namespace:   namespace,
		ObjectID:    objectID,
	})
	require.NoError(t, err)
	return resp
}

func TestDirectTuple(t *testing.T) {
	tuples := &fakeTupleStore{}
	tuples.add("document", "doc1", "owner", SubjectUser, "alice", "")
	e := newTestEngine(tuples, nil)

	assert.True(t, check(t, e, "alice", "owner", "document", "doc1").Allowed)
	assert.False(t, check(t, e, "bob", "owner", "document", "doc1").Allowed)
}

func TestComputedUsersetViewerViaOwner(t *testing.T) {
	// document: owner/editor/viewer are direct; viewer also rewrites to
	// editor and owner.
	model := &Model{TypeDefinitions: []TypeDefinition{{
		TypeName: "document",
		Relations: map[string]*RelationDefinition{
			"owner":  {This: &DirectAssignment{}},
			"editor": {This: &DirectAssignment{}},
			"viewer": {Union: []*RelationDefinition{
				{This: &DirectAssignment{}},
				{ComputedUserset: &ComputedUserset{Relation: "editor"}},
				{ComputedUserset: &ComputedUserset{Relation: "owner"}},
			}},
		},
	}}}

	tuples := &fakeTupleStore{}
	tuples.add("document", "doc1", "owner", SubjectUser, "alice", "")
	e := newTestEngine(tuples, model)

	resp := check(t, e, "alice", "viewer", "document", "doc1")
	assert.True(t, resp.Allowed)
	assert.Equal(t, "Permission granted", resp.Reason)

	assert.False(t, check(t, e, "mallory", "viewer", "document", "doc1").Allowed)
}

func TestTupleToUsersetAcrossHierarchy(t *testing.T) {
	// folder viewer flows down to documents via the parent relation.
	model := &Model{TypeDefinitions: []TypeDefinition{
		{
			TypeName: "folder",
			Relations: map[string]*RelationDefinition{
				"viewer": {This: &DirectAssignment{}},
			},
		},
		{
			TypeName: "document",
			Relations: map[string]*RelationDefinition{
				"parent": {This: &DirectAssignment{}},
				"viewer": {Union: []*RelationDefinition{
					{This: &DirectAssignment{}},
					{TupleToUserset: &TupleToUserset{
						Tupleset:        ComputedUserset{Relation: "parent"},
						ComputedUserset: ComputedUserset{Relation: "viewer"},
					}},
				}},
			},
			Metadata: &TypeMetadata{Relations: map[string]RelationMetadata{
				"parent": {DirectlyRelatedUserTypes: []RelatedUserType{{Type: "folder"}}},
			}},
		},
	}}

	tuples := &fakeTupleStore{}
	tuples.add("folder", "f1", "viewer", SubjectUser, "carol", "")
	tuples.add("document", "d1", "parent", "folder", "f1", "")
	e := newTestEngine(tuples, model)

	assert.True(t, check(t, e, "carol", "viewer", "document", "d1").Allowed)
	assert.False(t, check(t, e, "dave", "viewer", "document", "d1").Allowed)
}

func TestIntersectionRequiresAllChildren(t *testing.T) {
	model := &Model{TypeDefinitions: []TypeDefinition{{
		TypeName: "document",
		Relations: map[string]*RelationDefinition{
			"reader":   {This: &DirectAssignment{}},
			"approved": {This: &DirectAssignment{}},
			"auditor": {Intersection: []*RelationDefinition{
				{ComputedUserset: &ComputedUserset{Relation: "reader"}},
				{ComputedUserset: &ComputedUserset{Relation: "approved"}},
			}},
		},
	}}}

	tuples := &fakeTupleStore{}
	tuples.add("document", "doc1", "reader", SubjectUser, "alice", "")
	tuples.add("document", "doc1", "approved", SubjectUser, "alice", "")
	tuples.add("document", "doc1", "reader", SubjectUser, "bob", "")
	e := newTestEngine(tuples, model)

	assert.True(t, check(t, e, "alice", "auditor", "document", "doc1").Allowed)
	assert.False(t, check(t, e, "bob", "auditor", "document", "doc1").Allowed)
}

func TestExclusionBaseMinusSubtract(t *testing.T) {
	model := &Model{TypeDefinitions: []TypeDefinition{{
		TypeName: "document",
		Relations: map[string]*RelationDefinition{
			"member": {This: &DirectAssignment{}},
			"banned": {This: &DirectAssignment{}},
			"viewer": {Exclusion: &Exclusion{
				Base:     &RelationDefinition{ComputedUserset: &ComputedUserset{Relation: "member"}},
				Subtract: &RelationDefinition{ComputedUserset: &ComputedUserset{Relation: "banned"}},
			}},
		},
	}}}

	tuples := &fakeTupleStore{}
	tuples.add("document", "doc1", "member", SubjectUser, "alice", "")
	tuples.add("document", "doc1", "member", SubjectUser, "eve", "")
	tuples.add("document", "doc1", "banned", SubjectUser, "eve", "")
	e := newTestEngine(tuples, model)

	assert.True(t, check(t, e, "alice", "viewer", "document", "doc1").Allowed)
	assert.False(t, check(t, e, "eve", "viewer", "document", "doc1").Allowed)
}

func TestGroupMembershipExpansion(t *testing.T) {
	tuples := &fakeTupleStore{}
	tuples.add("group", "engineering", "member", SubjectUser, "alice", "")
	tuples.add("document", "doc1", "viewer", SubjectGroup, "engineering", "")
	e := newTestEngine(tuples, nil)

	assert.True(t, check(t, e, "alice", "viewer", "document", "doc1").Allowed)
	assert.False(t, check(t, e, "bob", "viewer", "document", "doc1").Allowed)
}

func TestLegacyUserSetIndirection(t *testing.T) {
	// Without a model, userset subjects expand: doc1#viewer@userset(doc2#editor).
	editorRel := "editor"
	tuples := &fakeTupleStore{}
	tuples.add("document", "doc2", "editor", SubjectUser, "alice", "")
	tuples.add("document", "doc1", "viewer", SubjectUserSet, "doc2", editorRel)
	e := newTestEngine(tuples, nil)

	assert.True(t, check(t, e, "alice", "viewer", "document", "doc1").Allowed)
	assert.False(t, check(t, e, "bob", "viewer", "document", "doc1").Allowed)
}

func TestCyclicTuplesTerminate(t *testing.T) {
	// a grants via b, b grants via a: the check must terminate, denied.
	relA := "viewer"
	tuples := &fakeTupleStore{}
	tuples.add("document", "a", "viewer", SubjectUserSet, "b", relA)
	tuples.add("document", "b", "viewer", SubjectUserSet, "a", relA)
	e := newTestEngine(tuples, nil)

	assert.False(t, check(t, e, "alice", "viewer", "document", "a").Allowed)
}

func TestCyclicGroupsTerminate(t *testing.T) {
	tuples := &fakeTupleStore{}
	tuples.add("group", "a", "member", SubjectUser, "alice", "")
	tuples.add("group", "b", "member", SubjectGroup, "a", "")
	tuples.add("group", "a", "member", SubjectGroup, "b", "")
	e := newTestEngine(tuples, nil)

	assert.False(t, check(t, e, "alice", "viewer", "document", "doc1").Allowed)
}

func TestCheckResultIsCached(t *testing.T) {
	tuples := &fakeTupleStore{}
	tuples.add("document", "doc1", "owner", SubjectUser, "alice", "")
	e := newTestEngine(tuples, nil)

	tenantID := uuid.New()
	req := CheckRequest{
		TenantID:    tenantID,
		SubjectType: SubjectUser,
		SubjectID:   "alice",
		Relation:    "owner",
		Namespace:   "document",
		ObjectID:    "doc1",
	}

	first, err := e.Check(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, "Permission granted", first.Reason)

	second, err := e.Check(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, "From cache", second.Reason)
}

func TestInvalidateObjectDropsCachedDecision(t *testing.T) {
	tuples := &fakeTupleStore{}
	e := newTestEngine(tuples, nil)

	tenantID := uuid.New()
	req := CheckRequest{
		TenantID:    tenantID,
		SubjectType: SubjectUser,
		SubjectID:   "alice",
		Relation:    "owner",
		Namespace:   "document",
		ObjectID:    "doc1",
	}

	resp, err := e.Check(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)

	// Grant and invalidate; the stale negative decision must not survive.
	tuples.add("document", "doc1", "owner", SubjectUser, "alice", "")
	e.InvalidateObject(context.Background(), tenantID, "document", "doc1")

	resp, err = e.Check(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.NotEqual(t, "From cache", resp.Reason)
}

func TestExpand(t *testing.T) {
	editorRel := "editor"
	tuples := &fakeTupleStore{}
	tuples.add("document", "doc1", "viewer", SubjectUser, "alice", "")
	tuples.add("document", "doc1", "viewer", SubjectGroup, "engineering", "")
	tuples.add("document", "doc1", "viewer", SubjectUserSet, "doc2", editorRel)
	e := newTestEngine(tuples, nil)

	resp, err := e.Expand(context.Background(), uuid.New(), "document", "doc1", "viewer")
	require.NoError(t, err)
	require.Len(t, resp.Subjects, 3)
	assert.Equal(t, SubjectUser, resp.Subjects[0].SubjectType)
	assert.Equal(t, "alice", resp.Subjects[0].SubjectID)
	require.NotNil(t, resp.Subjects[2].ViaRelation)
	assert.Equal(t, "editor", *resp.Subjects[2].ViaRelation)
}

func TestModelRoundtrip(t *testing.T) {
	raw := []byte(`{
		"type_definitions": [{
			"type": "document",
			"relations": {
				"owner": {"this": {}},
				"viewer": {"union": [{"this": {}}, {"computed_userset": {"relation": "owner"}}]}
			},
			"metadata": {"relations": {"parent": {"directly_related_user_types": [{"type": "folder"}]}}}
		}]
	}`)

	model, err := ParseModel(raw)
	require.NoError(t, err)

	td := model.TypeDefinition("document")
	require.NotNil(t, td)
	assert.NotNil(t, td.Relations["owner"].This)
	assert.Len(t, td.Relations["viewer"].Union, 2)
	assert.Equal(t, "folder", td.LinkedType("parent"))
	assert.Empty(t, td.LinkedType("unknown"))
	assert.Nil(t, model.TypeDefinition("missing"))
}
