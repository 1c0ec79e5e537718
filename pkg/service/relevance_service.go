package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/mnemora/mnemora/pkg/db"
	"github.com/mnemora/mnemora/pkg/utils"
)

const (
	titleMatchBonus = 3
	defaultTopK     = 5
)

// ScoredConversation pairs a conversation with its lexical relevance score.
type ScoredConversation struct {
	Conversation db.Conversation `json:"conversation"`
	Score        int             `json:"score"`
}

// RelevanceService ranks conversations against a set of keywords using
// plain occurrence counting. Title hits weigh extra.
type RelevanceService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRelevanceService creates a new relevance search service.
func NewRelevanceService(database *gorm.DB) *RelevanceService {
	return &RelevanceService{
		db:     database,
		logger: utils.GetLogger(),
	}
}

// Rank scores all active conversations against the keywords and returns the
// topK best matches. Conversations scoring zero are excluded.
func (s *RelevanceService) Rank(ctx context.Context, keywords []string, topK int) ([]ScoredConversation, error) {
	// Ties keep pool order, so the pool order itself must be stable.
	var pool []db.Conversation
	if err := s.db.WithContext(ctx).
		Where("status = ?", db.ConversationStatusActive).
		Order("created_at ASC, id ASC").
		Find(&pool).Error; err != nil {
		return nil, err
	}
	return RankPool(pool, keywords, topK), nil
}

// RankPool is the pure scoring core of Rank, usable against any candidate
// pool. Each keyword contributes its occurrence count over the searchable
// text plus a bonus of 3 when it appears in the title.
func RankPool(pool []db.Conversation, keywords []string, topK int) []ScoredConversation {
	if topK <= 0 {
		topK = defaultTopK
	}

	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return nil
	}

	var scored []ScoredConversation
	for _, conv := range pool {
		haystack := strings.ToLower(strings.Join([]string{
			conv.Title,
			conv.Description,
			conv.Category,
			conv.RelatedProject,
			strings.Join(conv.Tags, " "),
		}, " "))
		title := strings.ToLower(conv.Title)

		score := 0
		for _, kw := range lowered {
			score += strings.Count(haystack, kw)
			if strings.Contains(title, kw) {
				score += titleMatchBonus
			}
		}
		if score > 0 {
			scored = append(scored, ScoredConversation{Conversation: conv, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}
