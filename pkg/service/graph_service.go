// Relation graph - typed directed edges between conversations, traversal
// and convergence analysis.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mnemora/mnemora/pkg/db"
	"github.com/mnemora/mnemora/pkg/utils"
)

var (
	ErrInvalidRelationType = errors.New("invalid relation type")
	ErrTooFewConversations = errors.New("at least two conversations required")
	ErrNoBaseConversations = errors.New("at least one base conversation required")
	ErrEmptyObjective      = errors.New("synthesis objective is required")
	ErrRelevanceOutOfRange = errors.New("relevance must be between 1 and 10")
)

const synthesisRelevance = 10

// GraphService manages typed directed relations between conversations and
// the synthesis nodes built on top of them.
type GraphService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGraphService creates a new relation graph service.
func NewGraphService(database *gorm.DB) *GraphService {
	return &GraphService{
		db:     database,
		logger: utils.GetLogger(),
	}
}

// AutoMigrate creates database tables
func (s *GraphService) AutoMigrate() error {
	return s.db.AutoMigrate(&db.Relation{})
}

// ========== Linking ==========

// LinkRequest describes a directed edge to create.
type LinkRequest struct {
	OriginID      string
	DestinationID string
	Type          db.RelationType
	Description   string
	Relevance     int // 1..10, default 5
}

// Link creates a directed edge between two conversations. Both endpoints
// must exist. Self-links and parallel edges are permitted.
func (s *GraphService) Link(ctx context.Context, req *LinkRequest) (*db.Relation, error) {
	if !req.Type.Valid() {
		return nil, ErrInvalidRelationType
	}
	relevance := req.Relevance
	if relevance == 0 {
		relevance = 5
	}
	if relevance < 1 || relevance > 10 {
		return nil, ErrRelevanceOutOfRange
	}

	for _, id := range []string{req.OriginID, req.DestinationID} {
		var count int64
		if err := s.db.WithContext(ctx).Model(&db.Conversation{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
	}

	rel := &db.Relation{
		OriginConversationID:      req.OriginID,
		DestinationConversationID: req.DestinationID,
		Type:                      req.Type,
		Description:               req.Description,
		Relevance:                 relevance,
		CreatedAt:                 time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rel).Error; err != nil {
		return nil, fmt.Errorf("failed to create relation: %w", err)
	}

	s.logger.Debug("Relation created",
		"origin", req.OriginID,
		"destination", req.DestinationID,
		"type", req.Type)

	return rel, nil
}

// ========== Neighborhood ==========

// RelatedEdge is one edge incident to a conversation, annotated with the
// neighbor's title and category.
type RelatedEdge struct {
	RelationID       int64           `json:"relation_id"`
	NeighborID       string          `json:"neighbor_id"`
	NeighborTitle    string          `json:"neighbor_title"`
	NeighborCategory string          `json:"neighbor_category"`
	Type             db.RelationType `json:"type"`
	Description      string          `json:"description,omitempty"`
	Relevance        int             `json:"relevance"`
}

// RelatedResult groups a conversation's edges by direction.
type RelatedResult struct {
	Outbound []RelatedEdge `json:"outbound"`
	Inbound  []RelatedEdge `json:"inbound"`
}

// RelatedOptions filters the neighborhood query.
type RelatedOptions struct {
	Type         db.RelationType // empty for all types
	MinRelevance int
}

// Related returns all edges incident to a conversation, split by direction.
func (s *GraphService) Related(ctx context.Context, conversationID string, opts *RelatedOptions) (*RelatedResult, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrConversationNotFound
	}

	if opts == nil {
		opts = &RelatedOptions{}
	}

	outbound, err := s.relatedSide(ctx, conversationID, true, opts)
	if err != nil {
		return nil, err
	}
	inbound, err := s.relatedSide(ctx, conversationID, false, opts)
	if err != nil {
		return nil, err
	}

	return &RelatedResult{Outbound: outbound, Inbound: inbound}, nil
}

func (s *GraphService) relatedSide(ctx context.Context, conversationID string, outbound bool, opts *RelatedOptions) ([]RelatedEdge, error) {
	ownCol, neighborCol := "origin_conversation_id", "destination_conversation_id"
	if !outbound {
		ownCol, neighborCol = neighborCol, ownCol
	}

	query := s.db.WithContext(ctx).Model(&db.Relation{}).
		Select("relations.id AS relation_id, relations."+neighborCol+" AS neighbor_id, "+
			"conversations.title AS neighbor_title, conversations.category AS neighbor_category, "+
			"relations.type, relations.description, relations.relevance").
		Joins("JOIN conversations ON conversations.id = relations."+neighborCol).
		Where("relations."+ownCol+" = ?", conversationID)

	if opts.Type != "" {
		if !opts.Type.Valid() {
			return nil, ErrInvalidRelationType
		}
		query = query.Where("relations.type = ?", opts.Type)
	}
	if opts.MinRelevance > 0 {
		query = query.Where("relations.relevance >= ?", opts.MinRelevance)
	}

	var edges []RelatedEdge
	if err := query.Order("relations.relevance DESC, relations.id ASC").Scan(&edges).Error; err != nil {
		return nil, err
	}
	return edges, nil
}

// ========== Traversal ==========

// GraphNode is a conversation as seen from a traversal.
type GraphNode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	IsSynthesis bool   `json:"is_synthesis"`
	Level       int    `json:"level"` // -1 in rootless mode
}

// GraphEdge is a relation whose endpoints are both in the node set.
type GraphEdge struct {
	OriginID      string          `json:"origin_id"`
	DestinationID string          `json:"destination_id"`
	Type          db.RelationType `json:"type"`
	Relevance     int             `json:"relevance"`
}

// GraphStats summarizes a traversal result.
type GraphStats struct {
	NodeCount      int `json:"node_count"`
	EdgeCount      int `json:"edge_count"`
	SynthesisCount int `json:"synthesis_count"`
	IsolatedCount  int `json:"isolated_count"`
}

// Graph is a traversal result: nodes, the edges among them and summary
// statistics.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Stats GraphStats  `json:"stats"`
}

// Traverse walks the relation graph breadth-first from rootID, following
// edges in both directions up to maxDepth hops. With maxDepth 0 only the
// root is returned. An empty rootID returns the full graph over active
// conversations with no level information.
func (s *GraphService) Traverse(ctx context.Context, rootID string, maxDepth int) (*Graph, error) {
	if rootID == "" {
		return s.fullGraph(ctx)
	}

	root, err := s.fetchNode(ctx, rootID)
	if err != nil {
		return nil, err
	}

	visited := map[string]int{rootID: 0}
	nodes := []GraphNode{*root}
	frontier := []string{rootID}

	for level := 0; level < maxDepth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := s.neighborIDs(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, nid := range neighbors {
				if _, seen := visited[nid]; seen {
					continue
				}
				visited[nid] = level + 1
				node, err := s.fetchNode(ctx, nid)
				if err != nil {
					// A dangling edge to a deleted conversation is skipped,
					// not fatal.
					if errors.Is(err, ErrConversationNotFound) {
						continue
					}
					return nil, err
				}
				node.Level = level + 1
				nodes = append(nodes, *node)
				next = append(next, nid)
			}
		}
		frontier = next
	}

	// Depth 0 is a point query: the root alone, no edges.
	var edges []GraphEdge
	if maxDepth > 0 {
		edges, err = s.edgesAmong(ctx, visited)
		if err != nil {
			return nil, err
		}
	}

	return s.buildGraph(nodes, edges), nil
}

func (s *GraphService) fullGraph(ctx context.Context) (*Graph, error) {
	var convs []db.Conversation
	if err := s.db.WithContext(ctx).
		Where("status = ?", db.ConversationStatusActive).
		Find(&convs).Error; err != nil {
		return nil, err
	}

	nodes := make([]GraphNode, 0, len(convs))
	ids := make(map[string]int, len(convs))
	for _, c := range convs {
		nodes = append(nodes, GraphNode{
			ID:          c.ID,
			Title:       c.Title,
			Category:    c.Category,
			IsSynthesis: c.IsSynthesis,
			Level:       -1,
		})
		ids[c.ID] = -1
	}

	// Rootless mode reports every edge, including those touching archived
	// conversations.
	var relations []db.Relation
	if err := s.db.WithContext(ctx).Find(&relations).Error; err != nil {
		return nil, err
	}
	edges := make([]GraphEdge, 0, len(relations))
	for _, r := range relations {
		edges = append(edges, GraphEdge{
			OriginID:      r.OriginConversationID,
			DestinationID: r.DestinationConversationID,
			Type:          r.Type,
			Relevance:     r.Relevance,
		})
	}

	return s.buildGraph(nodes, edges), nil
}

func (s *GraphService) fetchNode(ctx context.Context, id string) (*GraphNode, error) {
	var conv db.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &GraphNode{
		ID:          conv.ID,
		Title:       conv.Title,
		Category:    conv.Category,
		IsSynthesis: conv.IsSynthesis,
	}, nil
}

func (s *GraphService) neighborIDs(ctx context.Context, id string) ([]string, error) {
	var relations []db.Relation
	if err := s.db.WithContext(ctx).
		Where("origin_conversation_id = ? OR destination_conversation_id = ?", id, id).
		Order("id ASC").
		Find(&relations).Error; err != nil {
		return nil, err
	}
	neighbors := make([]string, 0, len(relations))
	for _, r := range relations {
		other := r.DestinationConversationID
		if other == id {
			other = r.OriginConversationID
		}
		neighbors = append(neighbors, other)
	}
	return neighbors, nil
}

func (s *GraphService) edgesAmong(ctx context.Context, visited map[string]int) ([]GraphEdge, error) {
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}

	var relations []db.Relation
	if err := s.db.WithContext(ctx).
		Where("origin_conversation_id IN ? AND destination_conversation_id IN ?", ids, ids).
		Order("id ASC").
		Find(&relations).Error; err != nil {
		return nil, err
	}
	edges := make([]GraphEdge, 0, len(relations))
	for _, r := range relations {
		edges = append(edges, GraphEdge{
			OriginID:      r.OriginConversationID,
			DestinationID: r.DestinationConversationID,
			Type:          r.Type,
			Relevance:     r.Relevance,
		})
	}
	return edges, nil
}

func (s *GraphService) buildGraph(nodes []GraphNode, edges []GraphEdge) *Graph {
	connected := make(map[string]bool)
	for _, e := range edges {
		connected[e.OriginID] = true
		connected[e.DestinationID] = true
	}

	stats := GraphStats{
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}
	for _, n := range nodes {
		if n.IsSynthesis {
			stats.SynthesisCount++
		}
		if !connected[n.ID] {
			stats.IsolatedCount++
		}
	}

	return &Graph{Nodes: nodes, Edges: edges, Stats: stats}
}

// ========== Convergence ==========

// CommonTheme is a term shared by more than one analyzed conversation.
type CommonTheme struct {
	Term    string  `json:"term"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// ConvergenceAnalysis reports what a set of conversations has in common.
type ConvergenceAnalysis struct {
	ConversationIDs []string      `json:"conversation_ids"`
	Themes          []CommonTheme `json:"themes"`
	SharedCategory  string        `json:"shared_category,omitempty"`
	Converging      bool          `json:"converging"`
	Diverging       bool          `json:"diverging"`
}

// AnalyzeConvergence compares tags, summary keywords and categories across
// a set of conversations. At least two existing conversations are required.
func (s *GraphService) AnalyzeConvergence(ctx context.Context, conversationIDs []string) (*ConvergenceAnalysis, error) {
	if len(conversationIDs) < 2 {
		return nil, ErrTooFewConversations
	}

	var convs []db.Conversation
	if err := s.db.WithContext(ctx).Where("id IN ?", conversationIDs).Find(&convs).Error; err != nil {
		return nil, err
	}
	if len(convs) < 2 {
		return nil, ErrConversationNotFound
	}

	ids := make([]string, 0, len(convs))
	termFreq := make(map[string]int)
	categories := make(map[string]bool)

	for _, c := range convs {
		ids = append(ids, c.ID)
		categories[c.Category] = true

		seen := make(map[string]bool)
		for _, tag := range c.Tags {
			seen[strings.ToLower(tag)] = true
		}
		var summary db.Summary
		err := s.db.WithContext(ctx).First(&summary, "conversation_id = ?", c.ID).Error
		if err == nil {
			for _, kw := range summary.Keywords {
				seen[strings.ToLower(kw)] = true
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		// Each conversation contributes a term at most once.
		for term := range seen {
			termFreq[term]++
		}
	}

	n := len(convs)
	var themes []CommonTheme
	for term, freq := range termFreq {
		if freq > 1 {
			themes = append(themes, CommonTheme{
				Term:    term,
				Count:   freq,
				Percent: float64(freq) / float64(n) * 100,
			})
		}
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Count != themes[j].Count {
			return themes[i].Count > themes[j].Count
		}
		return themes[i].Term < themes[j].Term
	})

	analysis := &ConvergenceAnalysis{
		ConversationIDs: ids,
		Themes:          themes,
	}
	if len(categories) == 1 {
		for cat := range categories {
			analysis.SharedCategory = cat
		}
		analysis.Converging = true
	} else if len(categories) == n {
		analysis.Diverging = true
	}

	return analysis, nil
}

// ========== Synthesis ==========

// SynthesisRequest describes a synthesis conversation to create over a set
// of base conversations.
type SynthesisRequest struct {
	Objective string
	BaseIDs   []string
	Title     string
	Category  string // default "synthesis"
	Tags      []string
}

// CreateSynthesis atomically creates a synthesis conversation and one
// integrates edge from it to each base. Either everything is created or
// nothing is.
func (s *GraphService) CreateSynthesis(ctx context.Context, req *SynthesisRequest) (*db.Conversation, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return nil, ErrEmptyObjective
	}
	if len(req.BaseIDs) == 0 {
		return nil, ErrNoBaseConversations
	}

	var synthesis *db.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range req.BaseIDs {
			var count int64
			if err := tx.Model(&db.Conversation{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
			}
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = "Synthesis: " + truncate(req.Objective, titleMaxLen)
		}
		category := req.Category
		if category == "" {
			category = "synthesis"
		}

		now := time.Now()
		conv := &db.Conversation{
			ID:           shortID(),
			Title:        title,
			Category:     category,
			Status:       db.ConversationStatusActive,
			Tags:         db.StringArray(req.Tags),
			Importance:   5,
			IsSynthesis:  true,
			Objective:    req.Objective,
			CreatedAt:    now,
			LastActiveAt: now,
		}
		if err := tx.Create(conv).Error; err != nil {
			return fmt.Errorf("failed to create synthesis: %w", err)
		}

		for _, id := range req.BaseIDs {
			rel := &db.Relation{
				OriginConversationID:      conv.ID,
				DestinationConversationID: id,
				Type:                      db.RelationIntegrates,
				Description:               "synthesized from",
				Relevance:                 synthesisRelevance,
				CreatedAt:                 now,
			}
			if err := tx.Create(rel).Error; err != nil {
				return fmt.Errorf("failed to link synthesis: %w", err)
			}
		}

		synthesis = conv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Synthesis created", "id", synthesis.ID, "bases", len(req.BaseIDs))
	return synthesis, nil
}
