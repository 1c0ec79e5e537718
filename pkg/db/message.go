// Database models for conversation messages and per-conversation state
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message is a single utterance inside a conversation. Messages are
// append-only: once written they are never updated or reordered.
type Message struct {
	ID             int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID string      `json:"conversation_id" gorm:"index;size:36;not null"`
	Role           MessageRole `json:"role" gorm:"size:20;not null"`
	Content        string      `json:"content" gorm:"type:text"`
	Metadata       JSONMap     `json:"metadata,omitempty" gorm:"type:json"`
	Timestamp      time.Time   `json:"timestamp" gorm:"index"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// ContextEntry is an ad-hoc per-conversation key/value pair with last-write-
// wins upsert semantics.
type ContextEntry struct {
	ConversationID string    `json:"conversation_id" gorm:"primaryKey;size:36"`
	Key            string    `json:"key" gorm:"primaryKey;size:200"`
	Value          string    `json:"value" gorm:"type:text"`
	Timestamp      time.Time `json:"timestamp"`
}

func (ContextEntry) TableName() string {
	return "context_entries"
}

// Summary is the generated extractive summary of a conversation.
// Regenerated on demand; overwritten, not versioned.
type Summary struct {
	ConversationID string      `json:"conversation_id" gorm:"primaryKey;size:36"`
	ShortSummary   string      `json:"short_summary" gorm:"type:text"`
	LongSummary    string      `json:"long_summary" gorm:"type:text"`
	Keywords       StringArray `json:"keywords,omitempty" gorm:"type:json"`
	GeneratedAt    time.Time   `json:"generated_at"`
}

func (Summary) TableName() string {
	return "summaries"
}

// ========== Helper Types ==========

// StringArray is a slice of strings stored as JSON
type StringArray []string

// Value implements driver.Valuer for StringArray
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for StringArray
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, s)
}

// JSONMap is a generic JSON map type
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONMap
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, j)
}
