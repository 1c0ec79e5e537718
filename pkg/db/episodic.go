// Database models for per-user episodic memory
package db

import "time"

// ========== Emotional State ==========

// EmotionalState is the detected mood of a user, derived from message
// content by first-match keyword lookup.
type EmotionalState string

const (
	EmotionNeutral    EmotionalState = "neutral"
	EmotionFrustrated EmotionalState = "frustrated"
	EmotionExcited    EmotionalState = "excited"
	EmotionTired      EmotionalState = "tired"
	EmotionConfused   EmotionalState = "confused"
	EmotionSatisfied  EmotionalState = "satisfied"
	EmotionConcerned  EmotionalState = "concerned"
	EmotionMotivated  EmotionalState = "motivated"
)

// ========== Episodic Models ==========

// UserContextEntry is one field of a user's rolling context record. Each
// field is written as its own expiring row so readers must tolerate
// partially expired records, defaulting missing fields.
type UserContextEntry struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string     `json:"user_id" gorm:"uniqueIndex:idx_user_context_key;size:100;not null"`
	Key       string     `json:"key" gorm:"uniqueIndex:idx_user_context_key;size:100;not null"`
	Value     string     `json:"value" gorm:"type:text"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (UserContextEntry) TableName() string {
	return "user_context_entries"
}

// RememberedConversation is a durable record of a memorable conversation
// turn, distinct from the raw message log.
type RememberedConversation struct {
	ID                int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            string         `json:"user_id" gorm:"index;size:100;not null"`
	Topic             string         `json:"topic" gorm:"size:200"`
	Synopsis          string         `json:"synopsis" gorm:"type:text"`
	EmotionalContext  EmotionalState `json:"emotional_context" gorm:"size:20"`
	Sentiment         string         `json:"sentiment" gorm:"size:20"` // positive, negative, neutral
	FollowUpSuggested bool           `json:"follow_up_suggested" gorm:"default:false"`
	CreatedAt         time.Time      `json:"created_at" gorm:"index"`
}

func (RememberedConversation) TableName() string {
	return "remembered_conversations"
}

// UserPreference is a long-lived preference learned from message patterns.
// Later writes overwrite earlier ones for the same (category, key).
type UserPreference struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     string    `json:"user_id" gorm:"uniqueIndex:idx_user_pref;size:100;not null"`
	Category   string    `json:"category" gorm:"uniqueIndex:idx_user_pref;size:100;not null"`
	Key        string    `json:"key" gorm:"uniqueIndex:idx_user_pref;size:100;not null"`
	Value      string    `json:"value" gorm:"size:200"`
	Confidence float64   `json:"confidence" gorm:"default:1.0"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (UserPreference) TableName() string {
	return "user_preferences"
}

// InteractionLog is an append-only record of processed message pairs, used
// by the profile summary.
type InteractionLog struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID          string    `json:"user_id" gorm:"index;size:100;not null"`
	InteractionType string    `json:"interaction_type" gorm:"size:50"`
	Content         string    `json:"content" gorm:"type:text"`
	Response        string    `json:"response" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
}

func (InteractionLog) TableName() string {
	return "interaction_logs"
}
