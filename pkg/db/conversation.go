// Database models for stored conversations
package db

import "time"

// Conversation is a titled, categorized container of ordered messages and
// the node type of the relation graph.
type Conversation struct {
	ID             string             `json:"id" gorm:"primaryKey;size:36"`
	Title          string             `json:"title" gorm:"size:200"`
	Description    string             `json:"description" gorm:"type:text"`
	Category       string             `json:"category" gorm:"index;size:100"`
	Status         ConversationStatus `json:"status" gorm:"size:20;default:'active'"`
	Tags           StringArray        `json:"tags,omitempty" gorm:"type:json"`
	RelatedProject string             `json:"related_project,omitempty" gorm:"index;size:200"`
	Importance     int                `json:"importance" gorm:"default:5"` // 1-10
	MessageCount   int                `json:"message_count" gorm:"default:0"`

	// Synthesis conversations consolidate conclusions from their base
	// conversations without mutating them.
	IsSynthesis bool   `json:"is_synthesis" gorm:"default:false"`
	Objective   string `json:"objective,omitempty" gorm:"type:text"`

	Conclusions string `json:"conclusions,omitempty" gorm:"type:text"`
	Results     string `json:"results,omitempty" gorm:"type:text"`

	// AutoTitle marks a placeholder title to be replaced when the first
	// user message arrives. Cleared once the message count reaches 1.
	AutoTitle bool `json:"auto_title" gorm:"default:false"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at" gorm:"index"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusArchived ConversationStatus = "archived"

	// ConversationStatusAll is a list filter value, never stored.
	ConversationStatusAll ConversationStatus = "all"
)

// ListOrder selects the sort order for conversation listings.
type ListOrder string

const (
	OrderMostRecent   ListOrder = "most_recent"
	OrderOldest       ListOrder = "oldest"
	OrderMostMessages ListOrder = "most_messages"
	OrderImportance   ListOrder = "importance"
)
