// Package authz implements the relationship-based authorization engine:
// relation tuples plus a user-defined relation algebra, resolved recursively
// with cycle detection and a short-TTL decision cache.
package authz

import (
	"encoding/json"
	"fmt"
)

// Subject types a tuple may carry.
const (
	SubjectUser     = "user"
	SubjectGroup    = "group"
	SubjectUserSet  = "userset"
	SubjectWildcard = "wildcard"
)

// Model is an authorization model: an ordered list of type definitions.
type Model struct {
	TypeDefinitions []TypeDefinition `json:"type_definitions"`
}

// TypeDefinition names an object type and maps relation names to their
// definition trees.
type TypeDefinition struct {
	TypeName  string                         `json:"type"`
	Relations map[string]*RelationDefinition `json:"relations"`
	Metadata  *TypeMetadata                  `json:"metadata,omitempty"`
}

// RelationDefinition is one node of the relation algebra. Exactly one of
// the fields is normally set; This marks direct assignment.
type RelationDefinition struct {
	This            *DirectAssignment     `json:"this,omitempty"`
	ComputedUserset *ComputedUserset      `json:"computed_userset,omitempty"`
	TupleToUserset  *TupleToUserset       `json:"tuple_to_userset,omitempty"`
	Union           []*RelationDefinition `json:"union,omitempty"`
	Intersection    []*RelationDefinition `json:"intersection,omitempty"`
	Exclusion       *Exclusion            `json:"exclusion,omitempty"`
}

// DirectAssignment marks a relation as directly assignable ("this").
type DirectAssignment struct{}

// ComputedUserset rewrites to another relation on the same object.
type ComputedUserset struct {
	Relation string `json:"relation"`
}

// TupleToUserset follows a tupleset relation to linked objects, then
// evaluates the computed relation there.
type TupleToUserset struct {
	Tupleset        ComputedUserset `json:"tupleset"`
	ComputedUserset ComputedUserset `json:"computed_userset"`
}

// Exclusion grants base minus subtract.
type Exclusion struct {
	Base     *RelationDefinition `json:"base"`
	Subtract *RelationDefinition `json:"subtract"`
}

// TypeMetadata records which subject types may be directly assigned to each
// relation; it is what lets tupleToUserset infer the linked object's type.
type TypeMetadata struct {
	Relations map[string]RelationMetadata `json:"relations"`
}

type RelationMetadata struct {
	DirectlyRelatedUserTypes []RelatedUserType `json:"directly_related_user_types"`
}

type RelatedUserType struct {
	Type     string `json:"type"`
	Relation string `json:"relation,omitempty"`
}

// TypeDefinition lookup by namespace.
func (m *Model) TypeDefinition(namespace string) *TypeDefinition {
	for i := range m.TypeDefinitions {
		if m.TypeDefinitions[i].TypeName == namespace {
			return &m.TypeDefinitions[i]
		}
	}
	return nil
}

// LinkedType resolves the object type behind a tupleset relation from the
// relation metadata (first directly-related type wins; tupleset relations
// such as "parent" allow exactly one type in practice).
func (d *TypeDefinition) LinkedType(tuplesetRelation string) string {
	if d.Metadata == nil {
		return ""
	}
	meta, ok := d.Metadata.Relations[tuplesetRelation]
	if !ok || len(meta.DirectlyRelatedUserTypes) == 0 {
		return ""
	}
	return meta.DirectlyRelatedUserTypes[0].Type
}

// ParseModel decodes a stored model document.
func ParseModel(raw json.RawMessage) (*Model, error) {
	var model Model
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("invalid authorization model: %w", err)
	}
	return &model, nil
}
