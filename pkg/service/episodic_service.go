// Episodic memory - per-user rolling context, emotion classification and
// conversation remembering. Short-lived state ages out; what mattered is
// kept as remembered conversations.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mnemora/mnemora/pkg/db"
	"github.com/mnemora/mnemora/pkg/utils"
)

const (
	// DefaultContextTTL is how long episodic context fields survive
	// without a new interaction.
	DefaultContextTTL = 7 * 24 * time.Hour

	emotionBufferCap = 5
	maxSuggestions   = 3
)

// emotionMarkers maps each state to its trigger phrases. Order matters:
// the first state with a matching phrase wins.
var emotionMarkers = []struct {
	state   db.EmotionalState
	phrases []string
}{
	{db.EmotionFrustrated, []string{"frustrat", "not working", "broken", "problem", "error", "hate"}},
	{db.EmotionExcited, []string{"awesome", "amazing", "fantastic", "excited", "wow", "incredible"}},
	{db.EmotionTired, []string{"tired", "exhausted", "sleepy", "worn out", "drained"}},
	{db.EmotionConfused, []string{"confused", "don't understand", "unclear", "lost", "what do you mean"}},
	{db.EmotionSatisfied, []string{"good", "works", "solved", "perfect", "excellent"}},
	{db.EmotionConcerned, []string{"worried", "concerned", "anxious", "afraid", "risky"}},
	{db.EmotionMotivated, []string{"let's do", "ready to", "motivated", "can't wait", "determined"}},
}

var topicMarkers = []struct {
	topic   string
	phrases []string
}{
	{"exoskeleton", []string{"exoskeleton", "exo", "actuator", "servo", "gait"}},
	{"medicine", []string{"medicine", "medication", "patient", "diagnosis", "symptom"}},
	{"engineering", []string{"engineering", "mechanical", "torque", "circuit", "design"}},
	{"programming", []string{"code", "programming", "python", "function", "debug"}},
	{"research", []string{"research", "paper", "study", "experiment", "hypothesis"}},
	{"personal", []string{"family", "weekend", "vacation", "dinner", "friend"}},
}

// domainTopics are the subjects the assistant exists for; questions on
// them are worth remembering even without emotional charge.
var domainTopics = map[string]bool{
	"exoskeleton": true,
	"medicine":    true,
	"engineering": true,
}

var (
	commandPattern  = regexp.MustCompile(`(?i)\b(train\s+\w+|calculate\s+[^.,;?!]+|analyze\s+[^.,;?!]+|show\s+[^.,;?!]+|create\s+[^.,;?!]+|run\s+[^.,;?!]+)`)
	questionPattern = regexp.MustCompile(`[^.?!]*\?`)
)

var positiveWords = []string{"good", "great", "awesome", "excellent", "perfect", "happy", "glad"}
var negativeWords = []string{"bad", "terrible", "horrible", "frustrated", "angry", "sad"}

// EmotionEvent is one entry in a user's frustration or success history.
type EmotionEvent struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

// userProfile is the in-process view of one user's emotion buffers. The
// buffers are persisted as JSON context fields and rehydrated on first
// access, so this is a cache, not the source of truth.
type userProfile struct {
	Frustrations []EmotionEvent
	Successes    []EmotionEvent
	LastEmotion  db.EmotionalState
}

// EpisodicService tracks per-user episodic memory: what the user felt,
// worked on and asked, with automatic expiry of stale context.
type EpisodicService struct {
	db     *gorm.DB
	store  ContextStore
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	profiles map[string]*userProfile
}

// NewEpisodicService creates a new episodic memory service. A zero ttl
// falls back to DefaultContextTTL.
func NewEpisodicService(database *gorm.DB, store ContextStore, ttl time.Duration) *EpisodicService {
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &EpisodicService{
		db:       database,
		store:    store,
		logger:   utils.GetLogger(),
		ttl:      ttl,
		locks:    make(map[string]*sync.Mutex),
		profiles: make(map[string]*userProfile),
	}
}

// AutoMigrate creates database tables
func (s *EpisodicService) AutoMigrate() error {
	return s.db.AutoMigrate(
		&db.UserContextEntry{},
		&db.RememberedConversation{},
		&db.UserPreference{},
		&db.InteractionLog{},
	)
}

func (s *EpisodicService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// loadProfile returns the user's rolling profile, rehydrating the emotion
// buffers from the context store on first access so they survive restarts.
// Expired or malformed buffer fields rehydrate as empty.
func (s *EpisodicService) loadProfile(ctx context.Context, userID string) (*userProfile, error) {
	s.mu.Lock()
	if p, ok := s.profiles[userID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	fields, err := s.store.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &userProfile{}
	if v := fields["recent_frustrations"]; v != "" {
		if err := json.Unmarshal([]byte(v), &p.Frustrations); err != nil {
			p.Frustrations = nil
		}
	}
	if v := fields["recent_successes"]; v != "" {
		if err := json.Unmarshal([]byte(v), &p.Successes); err != nil {
			p.Successes = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[userID]; ok {
		return existing, nil
	}
	s.profiles[userID] = p
	return p, nil
}

// ========== Classification ==========

// ClassifyEmotion returns the first emotional state whose marker phrases
// appear in the text, or neutral.
func ClassifyEmotion(text string) db.EmotionalState {
	lowered := strings.ToLower(text)
	for _, m := range emotionMarkers {
		for _, phrase := range m.phrases {
			if strings.Contains(lowered, phrase) {
				return m.state
			}
		}
	}
	return db.EmotionNeutral
}

// DetectTopic returns the first topic whose marker phrases appear in the
// text, or an empty string.
func DetectTopic(text string) string {
	lowered := strings.ToLower(text)
	for _, m := range topicMarkers {
		for _, phrase := range m.phrases {
			if strings.Contains(lowered, phrase) {
				return m.topic
			}
		}
	}
	return ""
}

func extractQuestions(text string) []string {
	var questions []string
	for _, match := range questionPattern.FindAllString(text, -1) {
		q := strings.TrimSpace(match)
		if q != "" {
			questions = append(questions, q)
		}
	}
	return questions
}

func extractCommands(text string) []string {
	var commands []string
	for _, match := range commandPattern.FindAllString(text, -1) {
		commands = append(commands, strings.TrimSpace(match))
	}
	return commands
}

func classifySentiment(text string) string {
	lowered := strings.ToLower(text)
	positive, negative := 0, 0
	for _, w := range positiveWords {
		positive += strings.Count(lowered, w)
	}
	for _, w := range negativeWords {
		negative += strings.Count(lowered, w)
	}
	switch {
	case positive > negative:
		return "positive"
	case negative > positive:
		return "negative"
	default:
		return "neutral"
	}
}

func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return "morning"
	case h >= 12 && h < 18:
		return "afternoon"
	case h >= 18 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

// ========== Processing ==========

// Interaction is the analyzed outcome of one user/agent exchange.
type Interaction struct {
	Emotion   db.EmotionalState `json:"emotion"`
	Topic     string            `json:"topic,omitempty"`
	Sentiment string            `json:"sentiment"`
	Questions []string          `json:"questions,omitempty"`
	Commands  []string          `json:"commands,omitempty"`
	Memorable bool              `json:"memorable"`
}

// ProcessConversation analyzes one exchange, updates the user's rolling
// context and remembers the exchange when it is memorable. An empty topic
// means detect it from the messages. Exchanges for the same user are
// processed one at a time.
func (s *EpisodicService) ProcessConversation(ctx context.Context, userID, userMessage, agentResponse, topic string) (*Interaction, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	emotion := ClassifyEmotion(userMessage)
	if topic == "" {
		topic = DetectTopic(userMessage + " " + agentResponse)
	}
	questions := extractQuestions(userMessage)
	commands := extractCommands(userMessage)
	sentiment := classifySentiment(userMessage + " " + agentResponse)

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if emotion != db.EmotionNeutral {
		profile.LastEmotion = emotion
		event := EmotionEvent{Topic: topic, At: now}
		switch emotion {
		case db.EmotionFrustrated:
			profile.Frustrations = pushEvent(profile.Frustrations, event)
		case db.EmotionSatisfied, db.EmotionExcited:
			profile.Successes = pushEvent(profile.Successes, event)
		}
	}

	memorable := isMemorable(emotion, topic, questions, commands)

	interaction := &Interaction{
		Emotion:   emotion,
		Topic:     topic,
		Sentiment: sentiment,
		Questions: questions,
		Commands:  commands,
		Memorable: memorable,
	}

	if memorable {
		remembered := &db.RememberedConversation{
			UserID:           userID,
			Topic:            topic,
			Synopsis:         buildSynopsis(emotion, topic, questions, commands),
			EmotionalContext: emotion,
			Sentiment:        sentiment,
			CreatedAt:        now,
		}
		if err := s.db.WithContext(ctx).Create(remembered).Error; err != nil {
			return nil, fmt.Errorf("failed to remember conversation: %w", err)
		}
	}

	if err := s.detectPreferences(ctx, userID, userMessage); err != nil {
		return nil, err
	}

	logEntry := &db.InteractionLog{
		UserID:          userID,
		InteractionType: interactionType(questions, commands),
		Content:         userMessage,
		Response:        agentResponse,
		CreatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(logEntry).Error; err != nil {
		return nil, fmt.Errorf("failed to log interaction: %w", err)
	}

	if err := s.persistContext(ctx, userID, interaction, profile, now); err != nil {
		return nil, err
	}

	s.logger.Debug("Interaction processed",
		"user", userID,
		"emotion", emotion,
		"topic", topic,
		"memorable", memorable)

	return interaction, nil
}

func pushEvent(events []EmotionEvent, e EmotionEvent) []EmotionEvent {
	events = append(events, e)
	if len(events) > emotionBufferCap {
		events = events[len(events)-emotionBufferCap:]
	}
	return events
}

// isMemorable decides whether an exchange is worth keeping: strong
// emotion, a question on a core topic, or an explicit command.
func isMemorable(emotion db.EmotionalState, topic string, questions, commands []string) bool {
	switch emotion {
	case db.EmotionFrustrated, db.EmotionExcited, db.EmotionTired:
		return true
	}
	if domainTopics[topic] && len(questions) > 0 {
		return true
	}
	return len(commands) > 0
}

func buildSynopsis(emotion db.EmotionalState, topic string, questions, commands []string) string {
	var b strings.Builder
	subject := topic
	if subject == "" {
		subject = "general matters"
	}
	fmt.Fprintf(&b, "User expressed %s about %s", emotion, subject)

	details := append(append([]string{}, questions...), commands...)
	if len(details) > 2 {
		details = details[:2]
	}
	for _, d := range details {
		b.WriteString("; ")
		b.WriteString(d)
	}
	return b.String()
}

func interactionType(questions, commands []string) string {
	switch {
	case len(commands) > 0:
		return "command"
	case len(questions) > 0:
		return "question"
	default:
		return "statement"
	}
}

func (s *EpisodicService) detectPreferences(ctx context.Context, userID, message string) error {
	lowered := strings.ToLower(message)

	type pref struct {
		category, key, value string
		confidence           float64
	}
	var detected []pref

	if strings.Contains(lowered, "formal") {
		detected = append(detected, pref{"communication", "formality", "formal", 0.7})
	}
	for _, marker := range []string{"casual", "relaxed", "informal", "keep it simple"} {
		if strings.Contains(lowered, marker) {
			detected = append(detected, pref{"communication", "formality", "casual", 0.8})
			break
		}
	}
	for _, marker := range []string{"detail", "explain", "how does it work"} {
		if strings.Contains(lowered, marker) {
			detected = append(detected, pref{"response_style", "detail_level", "detailed", 0.6})
			break
		}
	}

	for _, p := range detected {
		entry := &db.UserPreference{
			UserID:     userID,
			Category:   p.category,
			Key:        p.key,
			Value:      p.value,
			Confidence: p.confidence,
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}, {Name: "key"}},
			UpdateAll: true,
		}).Create(entry).Error; err != nil {
			return fmt.Errorf("failed to store preference: %w", err)
		}
	}
	return nil
}

func (s *EpisodicService) persistContext(ctx context.Context, userID string, in *Interaction, profile *userProfile, now time.Time) error {
	current, err := s.store.GetAll(ctx, userID)
	if err != nil {
		return err
	}
	streak := 0
	if v, ok := current["conversation_streak"]; ok {
		streak, _ = strconv.Atoi(v)
	}
	streak++

	frustrations, err := json.Marshal(profile.Frustrations)
	if err != nil {
		return fmt.Errorf("failed to encode frustrations: %w", err)
	}
	successes, err := json.Marshal(profile.Successes)
	if err != nil {
		return fmt.Errorf("failed to encode successes: %w", err)
	}

	fields := map[string]string{
		"emotional_state":     string(in.Emotion),
		"last_interaction_at": now.Format(time.RFC3339),
		"conversation_streak": strconv.Itoa(streak),
		"time_of_day":         timeOfDay(now),
		"recent_frustrations": string(frustrations),
		"recent_successes":    string(successes),
	}
	if in.Topic != "" {
		fields["current_topic"] = in.Topic
		if domainTopics[in.Topic] {
			fields["working_on"] = in.Topic
		}
	}

	for key, value := range fields {
		if err := s.store.Set(ctx, userID, key, value, s.ttl); err != nil {
			return fmt.Errorf("failed to persist context field %s: %w", key, err)
		}
	}
	return nil
}

// ========== Retrieval ==========

// GetContext returns the user's live episodic context fields.
func (s *EpisodicService) GetContext(ctx context.Context, userID string) (map[string]string, error) {
	return s.store.GetAll(ctx, userID)
}

// ContextBlock renders the live context as a text block for injection into
// response generation: one line per non-default field. A non-empty query
// contributes its own detected topic.
func (s *EpisodicService) ContextBlock(ctx context.Context, userID, query string) (string, error) {
	fields, err := s.store.GetAll(ctx, userID)
	if err != nil {
		return "", err
	}

	var lines []string
	if v := fields["working_on"]; v != "" {
		lines = append(lines, "Working on: "+v)
	}
	if v := fields["emotional_state"]; v != "" && v != string(db.EmotionNeutral) {
		lines = append(lines, "Emotional state: "+v)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if n := len(profile.Frustrations); n > 0 && profile.Frustrations[n-1].Topic != "" {
		lines = append(lines, "Recent frustration: "+profile.Frustrations[n-1].Topic)
	}
	if n := len(profile.Successes); n > 0 && profile.Successes[n-1].Topic != "" {
		lines = append(lines, "Recent success: "+profile.Successes[n-1].Topic)
	}

	if query != "" {
		if topic := DetectTopic(query); topic != "" {
			lines = append(lines, "Query topic: "+topic)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// GetContextualSuggestions proposes up to 3 follow-ups: an unresolved
// frustration first, then the current work topic, then a remembered
// conversation that was never followed up.
func (s *EpisodicService) GetContextualSuggestions(ctx context.Context, userID string) ([]string, error) {
	var suggestions []string

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n := len(profile.Frustrations); n > 0 {
		latest := profile.Frustrations[n-1]
		subject := latest.Topic
		if subject == "" {
			subject = "that issue"
		}
		suggestions = append(suggestions, fmt.Sprintf("Last time you were frustrated about %s. Did it get resolved?", subject))
	}

	fields, err := s.store.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	if working := fields["working_on"]; working != "" {
		suggestions = append(suggestions, fmt.Sprintf("Want to continue working on %s?", working))
	}

	if len(suggestions) < maxSuggestions {
		var remembered db.RememberedConversation
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND follow_up_suggested = ?", userID, false).
			Order("created_at DESC").
			First(&remembered).Error
		if err == nil {
			topic := remembered.Topic
			if topic == "" {
				topic = "our earlier conversation"
			}
			suggestions = append(suggestions, fmt.Sprintf("We talked about %s recently. Anything new there?", topic))
			if err := s.db.WithContext(ctx).Model(&remembered).Update("follow_up_suggested", true).Error; err != nil {
				return nil, err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, nil
}

// ProfileSummary is a compact view of what the service knows about a user.
type ProfileSummary struct {
	UserID          string              `json:"user_id"`
	EmotionalState  db.EmotionalState   `json:"emotional_state"`
	CurrentTopic    string              `json:"current_topic,omitempty"`
	WorkingOn       string              `json:"working_on,omitempty"`
	Streak          int                 `json:"conversation_streak"`
	Frustrations    []EmotionEvent      `json:"recent_frustrations,omitempty"`
	Successes       []EmotionEvent      `json:"recent_successes,omitempty"`
	Preferences     []db.UserPreference `json:"preferences,omitempty"`
	RememberedCount int64               `json:"remembered_count"`

	// Aggregates over history: processed exchanges by kind and remembered
	// conversations by emotional context.
	InteractionCounts map[string]int64 `json:"interaction_counts,omitempty"`
	EmotionHistogram  map[string]int64 `json:"emotion_histogram,omitempty"`
}

// GetProfileSummary assembles the user's profile from context, history
// buffers and stored preferences.
func (s *EpisodicService) GetProfileSummary(ctx context.Context, userID string) (*ProfileSummary, error) {
	fields, err := s.store.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &ProfileSummary{
		UserID:         userID,
		EmotionalState: db.EmotionNeutral,
		CurrentTopic:   fields["current_topic"],
		WorkingOn:      fields["working_on"],
	}
	if v := fields["emotional_state"]; v != "" {
		summary.EmotionalState = db.EmotionalState(v)
	}
	if v := fields["conversation_streak"]; v != "" {
		summary.Streak, _ = strconv.Atoi(v)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary.Frustrations = append(summary.Frustrations, profile.Frustrations...)
	summary.Successes = append(summary.Successes, profile.Successes...)

	var prefs []db.UserPreference
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("confidence DESC, category ASC, key ASC").
		Find(&prefs).Error; err != nil {
		return nil, err
	}
	summary.Preferences = prefs

	if err := s.db.WithContext(ctx).Model(&db.RememberedConversation{}).
		Where("user_id = ?", userID).
		Count(&summary.RememberedCount).Error; err != nil {
		return nil, err
	}

	type groupCount struct {
		Key   string
		Count int64
	}

	var byType []groupCount
	if err := s.db.WithContext(ctx).Model(&db.InteractionLog{}).
		Select("interaction_type AS key, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("interaction_type").
		Scan(&byType).Error; err != nil {
		return nil, err
	}
	if len(byType) > 0 {
		summary.InteractionCounts = make(map[string]int64, len(byType))
		for _, row := range byType {
			summary.InteractionCounts[row.Key] = row.Count
		}
	}

	var byEmotion []groupCount
	if err := s.db.WithContext(ctx).Model(&db.RememberedConversation{}).
		Select("emotional_context AS key, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("emotional_context").
		Scan(&byEmotion).Error; err != nil {
		return nil, err
	}
	if len(byEmotion) > 0 {
		summary.EmotionHistogram = make(map[string]int64, len(byEmotion))
		for _, row := range byEmotion {
			summary.EmotionHistogram[row.Key] = row.Count
		}
	}

	return summary, nil
}

// Greeting builds a time-aware greeting, referencing the current topic
// when one is live.
func (s *EpisodicService) Greeting(ctx context.Context, userID string) (string, error) {
	fields, err := s.store.GetAll(ctx, userID)
	if err != nil {
		return "", err
	}

	var greeting string
	switch timeOfDay(time.Now()) {
	case "morning":
		greeting = "Good morning"
	case "afternoon":
		greeting = "Good afternoon"
	case "evening":
		greeting = "Good evening"
	default:
		greeting = "Hello"
	}

	if topic := fields["current_topic"]; topic != "" {
		return fmt.Sprintf("%s! Still thinking about %s?", greeting, topic), nil
	}
	return greeting + "!", nil
}

// CleanupExpired removes context fields past their expiry.
func (s *EpisodicService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.CleanupExpired(ctx)
}
