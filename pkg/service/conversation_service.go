// Conversation store - durable CRUD for conversations, messages, context
// entries and generated summaries.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/orsinium-labs/stopwords"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mnemora/mnemora/pkg/db"
	"github.com/mnemora/mnemora/pkg/utils"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrInvalidOrder         = errors.New("invalid list order")
)

const (
	titleMaxLen        = 60
	summaryBodyTruncAt = 100
	defaultRecentN     = 10
	maxKeywords        = 5
)

// ConversationService owns the conversations, messages, context_entries and
// summaries tables. All mutating operations are transactional; no operation
// partially applies.
type ConversationService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(database *gorm.DB) *ConversationService {
	return &ConversationService{
		db:     database,
		logger: utils.GetLogger(),
	}
}

// AutoMigrate creates database tables
func (s *ConversationService) AutoMigrate() error {
	return s.db.AutoMigrate(
		&db.Conversation{},
		&db.Message{},
		&db.ContextEntry{},
		&db.Summary{},
	)
}

// ========== Create / Append ==========

// CreateConversationRequest carries the caller-supplied conversation fields.
type CreateConversationRequest struct {
	Title          string
	Category       string
	Description    string
	RelatedProject string
	Tags           []string
	Importance     int

	// AutoTitle requests a placeholder title, replaced by a content-derived
	// one when the first user message arrives. Only honored when Title is
	// empty: a caller-supplied title is never overwritten.
	AutoTitle bool
}

// Create stores a new conversation and returns it.
func (s *ConversationService) Create(ctx context.Context, req *CreateConversationRequest) (*db.Conversation, error) {
	now := time.Now()

	title := strings.TrimSpace(req.Title)
	autoTitle := false
	if title == "" {
		if req.AutoTitle {
			title = "Conversation " + now.Format("2006-01-02 15:04")
			autoTitle = true
		} else {
			title = "Untitled"
		}
	}

	category := req.Category
	if category == "" {
		category = "general"
	}
	importance := req.Importance
	if importance == 0 {
		importance = 5
	}

	conv := &db.Conversation{
		ID:             shortID(),
		Title:          title,
		Description:    req.Description,
		Category:       category,
		Status:         db.ConversationStatusActive,
		Tags:           db.StringArray(req.Tags),
		RelatedProject: req.RelatedProject,
		Importance:     importance,
		AutoTitle:      autoTitle,
		CreatedAt:      now,
		LastActiveAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Debug("Conversation created",
		"id", conv.ID,
		"category", conv.Category,
		"project", conv.RelatedProject)

	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, id string) (*db.Conversation, error) {
	var conv db.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// AppendMessage stores a message, increments the conversation's message
// count and refreshes its activity timestamp as one atomic unit. The
// placeholder title is replaced when the count transitions to 1 via a
// user-role message.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID string, role db.MessageRole, content string, metadata map[string]interface{}) (int64, error) {
	if !role.Valid() {
		return 0, ErrInvalidRole
	}

	var messageID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv db.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}

		now := time.Now()
		msg := &db.Message{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			Metadata:       db.JSONMap(metadata),
			Timestamp:      now,
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}

		updates := map[string]interface{}{
			"message_count":  gorm.Expr("message_count + 1"),
			"last_active_at": now,
		}

		// Auto-title fires exactly once, on the first message. A non-user
		// first message consumes the flag without renaming.
		if conv.MessageCount == 0 && conv.AutoTitle {
			updates["auto_title"] = false
			if role == db.RoleUser {
				updates["title"] = titleFromMessage(content)
			}
		}

		if err := tx.Model(&db.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}

		messageID = msg.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	return messageID, nil
}

// titleFromMessage derives a short title from the first user message. Long
// messages are cut at the first sentence delimiter found within the leading
// 60 characters, falling back to a hard truncation.
func titleFromMessage(content string) string {
	title := strings.TrimSpace(content)
	if title == "" {
		return "Conversation"
	}

	if utf8.RuneCountInString(title) > titleMaxLen {
		head := truncate(title, titleMaxLen)
		cut := false
		// Delimiters are all ASCII, so byte indexes land on rune
		// boundaries.
		for _, sep := range []string{".", ",", ";", "?", "!"} {
			if strings.Contains(head, sep) {
				title = title[:strings.Index(title, sep)]
				cut = true
				break
			}
		}
		if !cut {
			title = head
		}
	}

	runes := []rune(title)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

// ========== Context / Lifecycle ==========

// SetContext upserts a per-conversation key/value pair (last write wins).
func (s *ConversationService) SetContext(ctx context.Context, conversationID, key, value string) error {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return err
	}

	entry := &db.ContextEntry{
		ConversationID: conversationID,
		Key:            key,
		Value:          value,
		Timestamp:      time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "key"}},
		UpdateAll: true,
	}).Create(entry).Error
}

// Archive sets the conversation status to archived. Idempotent.
func (s *ConversationService) Archive(ctx context.Context, conversationID string) error {
	result := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("id = ?", conversationID).
		Update("status", db.ConversationStatusArchived)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SetConclusions stores caller-provided conclusions and results. Never
// inferred; set explicitly at the caller's discretion.
func (s *ConversationService) SetConclusions(ctx context.Context, conversationID, conclusions, results string) error {
	result := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"conclusions": conclusions,
			"results":     results,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ========== Listing / Search ==========

// ListOptions filters and orders conversation listings.
type ListOptions struct {
	Category       string
	Status         db.ConversationStatus // default active; ConversationStatusAll disables the filter
	RelatedProject string
	Limit          int
	Order          db.ListOrder // default most_recent
}

// List returns conversations matching the options.
func (s *ConversationService) List(ctx context.Context, opts *ListOptions) ([]db.Conversation, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	query := s.db.WithContext(ctx).Model(&db.Conversation{})

	if opts.Category != "" {
		query = query.Where("category = ?", opts.Category)
	}
	status := opts.Status
	if status == "" {
		status = db.ConversationStatusActive
	}
	if status != db.ConversationStatusAll {
		query = query.Where("status = ?", status)
	}
	if opts.RelatedProject != "" {
		query = query.Where("related_project = ?", opts.RelatedProject)
	}

	order := opts.Order
	if order == "" {
		order = db.OrderMostRecent
	}
	switch order {
	case db.OrderMostRecent:
		query = query.Order("last_active_at DESC")
	case db.OrderOldest:
		query = query.Order("created_at ASC")
	case db.OrderMostMessages:
		query = query.Order("message_count DESC")
	case db.OrderImportance:
		query = query.Order("importance DESC, last_active_at DESC")
	default:
		return nil, ErrInvalidOrder
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query = query.Limit(limit)

	var convs []db.Conversation
	if err := query.Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// RecentContext is the payload returned when resuming a conversation.
type RecentContext struct {
	Conversation db.Conversation   `json:"conversation"`
	Messages     []db.Message      `json:"messages"` // chronological order
	Context      map[string]string `json:"context"`
}

// GetRecentContext returns the last n messages (chronological) and all
// context entries of a conversation. Read-only: the caller is expected to
// mark the conversation as the active one.
func (s *ConversationService) GetRecentContext(ctx context.Context, conversationID string, n int) (*RecentContext, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if n <= 0 {
		n = defaultRecentN
	}

	var messages []db.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC, id DESC").
		Limit(n).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	// Reverse-fetched; restore chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	var entries []db.ContextEntry
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	contextMap := make(map[string]string, len(entries))
	for _, e := range entries {
		contextMap[e.Key] = e.Value
	}

	return &RecentContext{
		Conversation: *conv,
		Messages:     messages,
		Context:      contextMap,
	}, nil
}

// SearchText finds distinct conversations whose title, description or
// message content contains the query (case-insensitive), most recent first.
func (s *ConversationService) SearchText(ctx context.Context, query string, limit int) ([]db.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"

	var convs []db.Conversation
	err := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Distinct("conversations.*").
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Where("conversations.title LIKE ? OR conversations.description LIKE ? OR messages.content LIKE ?",
			pattern, pattern, pattern).
		Order("conversations.last_active_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// ========== Summary ==========

var (
	wordPattern = regexp.MustCompile(`[a-zA-ZÀ-ÿ0-9]{4,}`)

	// English list from the stopwords package, plus a few fillers the
	// length filter alone lets through.
	englishStopwords = stopwords.MustGet("en")
	extraStopwords   = map[string]bool{
		"about": true, "really": true, "something": true, "things": true,
		"think": true, "going": true, "want": true, "need": true,
		"what": true, "that": true, "this": true, "with": true,
	}
)

func isStopword(word string) bool {
	return extraStopwords[word] || englishStopwords.Contains(word)
}

// GenerateSummary builds a deterministic extractive summary and keyword set
// and persists it, replacing any prior summary. Short conversations degrade
// to a fixed placeholder rather than failing.
func (s *ConversationService) GenerateSummary(ctx context.Context, conversationID string) (*db.Summary, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	var messages []db.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	var short, long string
	if len(messages) < 3 {
		short = "Brief conversation"
		parts := make([]string, 0, len(messages))
		for _, m := range messages {
			parts = append(parts, truncate(m.Content, summaryBodyTruncAt))
		}
		long = strings.Join(parts, "\n")
	} else {
		short = "Topic: " + truncate(messages[0].Content, titleMaxLen) + "..."

		var b strings.Builder
		b.WriteString("Start:\n")
		for _, m := range messages[:2] {
			fmt.Fprintf(&b, "%s: %s...\n", m.Role, truncate(m.Content, summaryBodyTruncAt))
		}
		b.WriteString("...\nEnd:\n")
		for _, m := range messages[len(messages)-2:] {
			fmt.Fprintf(&b, "%s: %s...\n", m.Role, truncate(m.Content, summaryBodyTruncAt))
		}
		long = strings.TrimRight(b.String(), "\n")
	}

	summary := &db.Summary{
		ConversationID: conversationID,
		ShortSummary:   short,
		LongSummary:    long,
		Keywords:       db.StringArray(extractKeywords(messages)),
		GeneratedAt:    time.Now(),
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}},
		UpdateAll: true,
	}).Create(summary).Error; err != nil {
		return nil, fmt.Errorf("failed to store summary: %w", err)
	}

	return summary, nil
}

// extractKeywords returns the 5 most frequent non-stopword words of length
// >= 4 across all message content. Ties break by first occurrence.
func extractKeywords(messages []db.Message) []string {
	counts := make(map[string]int)
	var order []string

	for _, m := range messages {
		for _, word := range wordPattern.FindAllString(strings.ToLower(m.Content), -1) {
			if isStopword(word) {
				continue
			}
			if counts[word] == 0 {
				order = append(order, word)
			}
			counts[word]++
		}
	}

	firstSeen := make(map[string]int, len(order))
	for i, w := range order {
		firstSeen[w] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return firstSeen[order[i]] < firstSeen[order[j]]
	})

	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// truncate cuts s to at most n characters on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ========== Stats ==========

// StoreStats aggregates conversation and message counts.
type StoreStats struct {
	TotalConversations int64            `json:"total_conversations"`
	ByStatus           map[string]int64 `json:"by_status"`
	ByCategory         map[string]int64 `json:"by_category"`
	TotalMessages      int64            `json:"total_messages"`
	LongestTitle       string           `json:"longest_title,omitempty"`
	LongestMessages    int              `json:"longest_messages,omitempty"`
}

// Stats returns aggregate counts over the whole store.
func (s *ConversationService) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{
		ByStatus:   make(map[string]int64),
		ByCategory: make(map[string]int64),
	}

	if err := s.db.WithContext(ctx).Model(&db.Conversation{}).Count(&stats.TotalConversations).Error; err != nil {
		return nil, err
	}

	type groupCount struct {
		Key   string
		Count int64
	}

	var byStatus []groupCount
	if err := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Key] = row.Count
	}

	var byCategory []groupCount
	if err := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Select("category AS key, COUNT(*) AS count").
		Group("category").
		Scan(&byCategory).Error; err != nil {
		return nil, err
	}
	for _, row := range byCategory {
		stats.ByCategory[row.Key] = row.Count
	}

	if err := s.db.WithContext(ctx).Model(&db.Message{}).Count(&stats.TotalMessages).Error; err != nil {
		return nil, err
	}

	var longest db.Conversation
	err := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Order("message_count DESC").
		First(&longest).Error
	if err == nil {
		stats.LongestTitle = longest.Title
		stats.LongestMessages = longest.MessageCount
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return stats, nil
}

// shortID returns an 8-character conversation id. Collision probability is
// negligible at this scale; no uniqueness retry.
func shortID() string {
	return uuid.New().String()[:8]
}
