package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/mnemora/mnemora/pkg/db"
)

func newTestDB(t *testing.T) *ConversationService {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	svc := NewConversationService(database)
	if err := svc.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	return svc
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, &CreateConversationRequest{
		Title:    "Exoskeleton design",
		Category: "engineering",
		Tags:     []string{"exoskeleton", "actuators"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(conv.ID) != 8 {
		t.Errorf("Create() id = %q, want 8 characters", conv.ID)
	}

	got, err := svc.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "Exoskeleton design" {
		t.Errorf("Get() title = %q", got.Title)
	}
	if got.Status != db.ConversationStatusActive {
		t.Errorf("Get() status = %q, want active", got.Status)
	}
	if got.Importance != 5 {
		t.Errorf("Get() importance = %d, want default 5", got.Importance)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Get() tags = %v", got.Tags)
	}
}

func TestGetNotFound(t *testing.T) {
	svc := newTestDB(t)
	if _, err := svc.Get(context.Background(), "deadbeef"); err != ErrConversationNotFound {
		t.Errorf("Get() error = %v, want ErrConversationNotFound", err)
	}
}

func TestAppendMessageIncrementsCount(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Counter"})
	for i := 0; i < 3; i++ {
		if _, err := svc.AppendMessage(ctx, conv.ID, db.RoleUser, "hello", nil); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, _ := svc.Get(ctx, conv.ID)
	if got.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", got.MessageCount)
	}
	if !got.LastActiveAt.After(got.CreatedAt) && !got.LastActiveAt.Equal(got.CreatedAt) {
		t.Errorf("LastActiveAt not refreshed")
	}
}

func TestAppendMessageConcurrent(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Race"})

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AppendMessage(ctx, conv.ID, db.RoleUser, "msg", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, _ := svc.Get(ctx, conv.ID)
	if got.MessageCount != n {
		t.Errorf("MessageCount = %d, want %d after concurrent appends", got.MessageCount, n)
	}
}

func TestAppendMessageInvalidRole(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Roles"})

	if _, err := svc.AppendMessage(ctx, conv.ID, db.MessageRole("robot"), "x", nil); err != ErrInvalidRole {
		t.Errorf("AppendMessage() error = %v, want ErrInvalidRole", err)
	}
}

func TestAutoTitleFromFirstUserMessage(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, _ := svc.Create(ctx, &CreateConversationRequest{AutoTitle: true})
	first := "we should review the torque specs, then pick a motor and a gearbox for the knee joint"
	if _, err := svc.AppendMessage(ctx, conv.ID, db.RoleUser, first, nil); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	got, _ := svc.Get(ctx, conv.ID)
	want := "We should review the torque specs"
	if got.Title != want {
		t.Errorf("auto title = %q, want %q", got.Title, want)
	}
	if got.AutoTitle {
		t.Errorf("AutoTitle flag still set after first message")
	}

	// Later messages must not rename.
	svc.AppendMessage(ctx, conv.ID, db.RoleUser, "completely different subject", nil)
	got, _ = svc.Get(ctx, conv.ID)
	if got.Title != want {
		t.Errorf("title changed after second message: %q", got.Title)
	}
}

func TestAutoTitleSkippedForSystemFirstMessage(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, _ := svc.Create(ctx, &CreateConversationRequest{AutoTitle: true})
	placeholder := conv.Title

	svc.AppendMessage(ctx, conv.ID, db.RoleSystem, "session started", nil)
	svc.AppendMessage(ctx, conv.ID, db.RoleUser, "now a user message arrives", nil)

	got, _ := svc.Get(ctx, conv.ID)
	if got.Title != placeholder {
		t.Errorf("title = %q, want placeholder %q kept", got.Title, placeholder)
	}
}

func TestAutoTitleNeverOverwritesCallerTitle(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Fixed title", AutoTitle: true})
	svc.AppendMessage(ctx, conv.ID, db.RoleUser, "something long enough to tempt a rename into happening here today", nil)

	got, _ := svc.Get(ctx, conv.ID)
	if got.Title != "Fixed title" {
		t.Errorf("title = %q, caller title was overwritten", got.Title)
	}
}

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short message kept whole", "fix the gradle build", "Fix the gradle build"},
		{"split at first delimiter", "first point. second point that runs on and on well past sixty characters", "First point"},
		{"hard truncation without delimiter", strings.Repeat("a", 80), strings.Repeat("a", 60)},
		{"multibyte runes kept whole", strings.Repeat("é", 70), "É" + strings.Repeat("é", 59)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := titleFromMessage(tt.content); got != tt.want {
				t.Errorf("titleFromMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetContextUpsert(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Ctx"})

	if err := svc.SetContext(ctx, conv.ID, "current_file", "motor.go"); err != nil {
		t.Fatalf("SetContext() error = %v", err)
	}
	if err := svc.SetContext(ctx, conv.ID, "current_file", "gearbox.go"); err != nil {
		t.Fatalf("SetContext() second error = %v", err)
	}

	rc, err := svc.GetRecentContext(ctx, conv.ID, 5)
	if err != nil {
		t.Fatalf("GetRecentContext() error = %v", err)
	}
	if rc.Context["current_file"] != "gearbox.go" {
		t.Errorf("context value = %q, want last write", rc.Context["current_file"])
	}

	if err := svc.SetContext(ctx, "nope0000", "k", "v"); err != ErrConversationNotFound {
		t.Errorf("SetContext() on missing conversation error = %v", err)
	}
}

func TestArchiveIdempotent(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Old"})

	if err := svc.Archive(ctx, conv.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if err := svc.Archive(ctx, conv.ID); err != nil {
		t.Fatalf("Archive() second call error = %v", err)
	}

	got, _ := svc.Get(ctx, conv.ID)
	if got.Status != db.ConversationStatusArchived {
		t.Errorf("status = %q, want archived", got.Status)
	}

	if err := svc.Archive(ctx, "missing1"); err != ErrConversationNotFound {
		t.Errorf("Archive() on missing conversation error = %v", err)
	}
}

func TestListFilters(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, &CreateConversationRequest{Title: "A", Category: "engineering"})
	svc.Create(ctx, &CreateConversationRequest{Title: "B", Category: "medicine"})
	c, _ := svc.Create(ctx, &CreateConversationRequest{Title: "C", Category: "engineering"})
	svc.Archive(ctx, c.ID)

	active, err := svc.List(ctx, &ListOptions{Category: "engineering"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("List(active engineering) = %d results, want only %q", len(active), a.ID)
	}

	all, _ := svc.List(ctx, &ListOptions{Status: db.ConversationStatusAll})
	if len(all) != 3 {
		t.Errorf("List(all) = %d results, want 3", len(all))
	}

	if _, err := svc.List(ctx, &ListOptions{Order: db.ListOrder("sideways")}); err != ErrInvalidOrder {
		t.Errorf("List() with bad order error = %v, want ErrInvalidOrder", err)
	}
}

func TestRecentContextOrdering(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Log"})

	for _, content := range []string{"one", "two", "three", "four"} {
		svc.AppendMessage(ctx, conv.ID, db.RoleUser, content, nil)
	}

	rc, err := svc.GetRecentContext(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("GetRecentContext() error = %v", err)
	}
	if len(rc.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(rc.Messages))
	}
	if rc.Messages[0].Content != "three" || rc.Messages[1].Content != "four" {
		t.Errorf("messages = [%q, %q], want chronological tail", rc.Messages[0].Content, rc.Messages[1].Content)
	}
}

func TestSearchText(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Knee actuator sizing"})
	b, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Grocery list"})
	svc.AppendMessage(ctx, b.ID, db.RoleUser, "also check the actuator datasheet", nil)
	svc.Create(ctx, &CreateConversationRequest{Title: "Unrelated"})

	results, err := svc.SearchText(ctx, "actuator", 10)
	if err != nil {
		t.Fatalf("SearchText() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchText() = %d results, want 2", len(results))
	}
	found := map[string]bool{}
	for _, r := range results {
		found[r.ID] = true
	}
	if !found[a.ID] || !found[b.ID] {
		t.Errorf("SearchText() missing expected conversations: %v", found)
	}
}

func TestGenerateSummaryShortConversation(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Tiny"})
	svc.AppendMessage(ctx, conv.ID, db.RoleUser, "quick question about gears", nil)

	sum, err := svc.GenerateSummary(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GenerateSummary() error = %v", err)
	}
	if sum.ShortSummary != "Brief conversation" {
		t.Errorf("ShortSummary = %q", sum.ShortSummary)
	}
}

func TestGenerateSummaryExtractive(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()
	conv, _ := svc.Create(ctx, &CreateConversationRequest{Title: "Motors"})

	msgs := []string{
		"the exoskeleton knee joint needs a stronger motor",
		"agreed, the motor torque is marginal for the exoskeleton",
		"let us compare brushless motor options",
		"ordered the new motor for the exoskeleton prototype",
	}
	for _, m := range msgs {
		svc.AppendMessage(ctx, conv.ID, db.RoleUser, m, nil)
	}

	sum, err := svc.GenerateSummary(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GenerateSummary() error = %v", err)
	}
	if !strings.HasPrefix(sum.ShortSummary, "Topic: the exoskeleton knee joint") {
		t.Errorf("ShortSummary = %q", sum.ShortSummary)
	}
	if !strings.Contains(sum.LongSummary, "Start:") || !strings.Contains(sum.LongSummary, "End:") {
		t.Errorf("LongSummary missing sections: %q", sum.LongSummary)
	}
	if len(sum.Keywords) == 0 || sum.Keywords[0] != "motor" {
		t.Errorf("Keywords = %v, want motor first (4 occurrences)", sum.Keywords)
	}
	hasExo := false
	for _, k := range sum.Keywords {
		if k == "exoskeleton" {
			hasExo = true
		}
	}
	if !hasExo {
		t.Errorf("Keywords = %v, want exoskeleton included", sum.Keywords)
	}

	// Regeneration replaces, not duplicates.
	if _, err := svc.GenerateSummary(ctx, conv.ID); err != nil {
		t.Fatalf("GenerateSummary() regeneration error = %v", err)
	}
}

func TestExtractKeywordsFiltersStopwords(t *testing.T) {
	msgs := []db.Message{
		{Content: "that that that gearbox gearbox"},
		{Content: "with with about something"},
	}
	got := extractKeywords(msgs)
	for _, k := range got {
		if isStopword(k) {
			t.Errorf("extractKeywords() returned stopword %q", k)
		}
	}
	if len(got) == 0 || got[0] != "gearbox" {
		t.Errorf("extractKeywords() = %v, want gearbox first", got)
	}
}

func TestStats(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, &CreateConversationRequest{Title: "A", Category: "engineering"})
	b, _ := svc.Create(ctx, &CreateConversationRequest{Title: "B", Category: "medicine"})
	svc.Archive(ctx, b.ID)
	svc.AppendMessage(ctx, a.ID, db.RoleUser, "x", nil)
	svc.AppendMessage(ctx, a.ID, db.RoleAgent, "y", nil)

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalConversations != 2 {
		t.Errorf("TotalConversations = %d, want 2", stats.TotalConversations)
	}
	if stats.ByStatus["active"] != 1 || stats.ByStatus["archived"] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if stats.ByCategory["engineering"] != 1 {
		t.Errorf("ByCategory = %v", stats.ByCategory)
	}
	if stats.TotalMessages != 2 {
		t.Errorf("TotalMessages = %d, want 2", stats.TotalMessages)
	}
	if stats.LongestTitle != "A" || stats.LongestMessages != 2 {
		t.Errorf("Longest = %q/%d", stats.LongestTitle, stats.LongestMessages)
	}
}

func TestSummaryEndToEnd(t *testing.T) {
	svc := newTestDB(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, &CreateConversationRequest{
		Title:    "Torque analysis",
		Category: "research",
		Tags:     []string{"torque"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.AppendMessage(ctx, conv.ID, db.RoleUser, "what torque do I need?", nil); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	sum, err := svc.GenerateSummary(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GenerateSummary() error = %v", err)
	}
	if sum.ShortSummary == "" {
		t.Error("empty short summary")
	}
	if len(sum.Keywords) > 5 {
		t.Errorf("keywords = %v, want at most 5", sum.Keywords)
	}
	for _, k := range sum.Keywords {
		if isStopword(k) {
			t.Errorf("keyword %q is a stopword", k)
		}
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	s := strings.Repeat("ñ", 10)
	got := truncate(s, 4)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate() produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("ñ", 4) {
		t.Errorf("truncate() = %q, want 4 runes", got)
	}
	if truncate("short", 100) != "short" {
		t.Errorf("truncate() modified a string under the limit")
	}
}
