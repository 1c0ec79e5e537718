// Database models for the conversation relation graph
package db

import "time"

// Relation is a typed, weighted, directed edge between two conversations.
// Multiple edges between the same pair are permitted and the graph may
// contain cycles; traversal defends against them with a visited set.
type Relation struct {
	ID                        int64        `json:"id" gorm:"primaryKey;autoIncrement"`
	OriginConversationID      string       `json:"origin_conversation_id" gorm:"index;size:36;not null"`
	DestinationConversationID string       `json:"destination_conversation_id" gorm:"index;size:36;not null"`
	Type                      RelationType `json:"type" gorm:"size:30;not null"`
	Description               string       `json:"description,omitempty" gorm:"type:text"`
	Relevance                 int          `json:"relevance" gorm:"default:5"` // 1-10
	CreatedAt                 time.Time    `json:"created_at"`
}

func (Relation) TableName() string {
	return "relations"
}

// RelationType classifies an edge between two conversations.
type RelationType string

const (
	RelationRelated     RelationType = "related"
	RelationContinues   RelationType = "continues"
	RelationComplements RelationType = "complements"
	RelationContradicts RelationType = "contradicts"
	RelationDependsOn   RelationType = "depends_on"
	RelationConverges   RelationType = "converges"
	RelationDiverges    RelationType = "diverges"

	// RelationIntegrates is reserved for edges created by synthesis
	// conversations toward their bases.
	RelationIntegrates RelationType = "integrates"
)

// Valid reports whether t is a known relation type.
func (t RelationType) Valid() bool {
	switch t {
	case RelationRelated, RelationContinues, RelationComplements,
		RelationContradicts, RelationDependsOn, RelationConverges,
		RelationDiverges, RelationIntegrates:
		return true
	}
	return false
}
