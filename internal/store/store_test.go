package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecentMessagesReturnsNewestWindowInOrder(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "webchat"); err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := s.AppendMessage("c1", role, fmt.Sprintf("msg-%d", i), "main", 0); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := s.RecentMessages("c1", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	for i, want := range []string{"msg-6", "msg-7", "msg-8", "msg-9"} {
		if msgs[i].Content != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func TestAppendMessageBumpsConversation(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "webchat"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	before, err := s.GetConversation("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.AppendMessage("c1", "user", "hello", "main", 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	after, err := s.GetConversation("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.UpdatedAt <= before.UpdatedAt {
		t.Fatalf("updated_at did not advance: %q -> %q", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestSearchMessagesMatchesContent(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "webchat"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.AppendMessage("c1", "user", "the quarterly report is late", "main", 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage("c1", "assistant", "nothing relevant here", "main", 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	hits, err := s.SearchMessages("quarterly report", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Role != "user" {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
}

func TestAppendMessageCarriesProfileAndTokenCount(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "webchat"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.AppendMessage("c1", "user", "hello", "main", 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage("c1", "assistant", "hi there", "main", 42); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.RecentMessages("c1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Profile != "main" || msgs[0].TokenCount != 0 {
		t.Fatalf("user message: profile=%q tokens=%d", msgs[0].Profile, msgs[0].TokenCount)
	}
	if msgs[1].Profile != "main" || msgs[1].TokenCount != 42 {
		t.Fatalf("assistant message: profile=%q tokens=%d", msgs[1].Profile, msgs[1].TokenCount)
	}
}

func TestSearchMatchesOnAnySharedWord(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation("c1", "webchat"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.AppendMessage("c1", "user", "I am allergic to peanuts", "main", 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A conversational query shares only one word with the stored row; a
	// single common term is enough to recall it.
	hits, err := s.SearchMessages("can I eat peanuts?", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}

	fact, err := s.AddFact("allergic to peanuts", "biographical", "manual")
	if err != nil {
		t.Fatalf("add fact: %v", err)
	}
	facts, err := s.SearchFacts("what snacks with peanuts are safe?", 5)
	if err != nil {
		t.Fatalf("search facts: %v", err)
	}
	if len(facts) != 1 || facts[0].ID != fact.ID {
		t.Fatalf("expected the allergy fact, got %+v", facts)
	}
}

func TestFactSearchAndCategoryNormalization(t *testing.T) {
	s := openTestStore(t)
	f, err := s.AddFact("prefers tabs over spaces", "Preference", "auto-extracted")
	if err != nil {
		t.Fatalf("add fact: %v", err)
	}
	if f.Category != FactPreference {
		t.Fatalf("category not normalized: %q", f.Category)
	}
	if _, err := s.AddFact("works at a bakery", "nonsense-category", "auto-extracted"); err != nil {
		t.Fatalf("add fact: %v", err)
	}

	hits, err := s.SearchFacts("tabs", 5)
	if err != nil {
		t.Fatalf("search facts: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != f.ID {
		t.Fatalf("expected the tabs fact, got %+v", hits)
	}

	general, err := s.ListFacts(FactGeneral, 10)
	if err != nil {
		t.Fatalf("list facts: %v", err)
	}
	if len(general) != 1 {
		t.Fatalf("expected unknown category to fall back to general, got %d", len(general))
	}
}

func TestDeleteFactRemovesFromIndex(t *testing.T) {
	s := openTestStore(t)
	f, err := s.AddFact("owns a red bicycle", "biographical", "manual")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.DeleteFact(f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	hits, err := s.SearchFacts("bicycle", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("deleted fact still searchable: %+v", hits)
	}
	if err := s.DeleteFact(f.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDailyTokensFoldsLedger(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordUsage("main", 100, 50); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordUsage("main", 30, 20); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordUsage("other", 999, 1); err != nil {
		t.Fatalf("record: %v", err)
	}

	total, err := s.DailyTokens("main", DayKey(time.Now()))
	if err != nil {
		t.Fatalf("daily tokens: %v", err)
	}
	if total != 200 {
		t.Fatalf("expected 200 tokens, got %d", total)
	}

	empty, err := s.DailyTokens("main", "1999-01-01")
	if err != nil {
		t.Fatalf("daily tokens: %v", err)
	}
	if empty != 0 {
		t.Fatalf("expected 0 for empty day, got %d", empty)
	}
}

func TestCronJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	job, err := s.CreateCronJob("daily-brief", "0 9 * * *", "summarize my day", "main")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !job.Enabled {
		t.Fatal("new job should be enabled")
	}
	if _, err := s.CreateCronJob("daily-brief", "0 9 * * *", "dup", ""); err != ErrDuplicateJob {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	if err := s.SetCronJobEnabled("daily-brief", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, err := s.GetCronJob("daily-brief")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled {
		t.Fatal("job should be disabled")
	}

	if err := s.StampCronRun("daily-brief"); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	got, err = s.GetCronJob("daily-brief")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastRun == "" {
		t.Fatal("last_run not stamped")
	}

	if err := s.DeleteCronJob("daily-brief"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCronJob("daily-brief"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIngestPostsDeduplicates(t *testing.T) {
	s := openTestStore(t)
	batch := []SocialPost{
		{Platform: "reddit", ExternalID: "t3_abc", Author: "alice", Content: "go generics are fine"},
		{Platform: "reddit", ExternalID: "t3_def", Author: "bob", Content: "sqlite is underrated"},
	}
	n, err := s.IngestPosts(batch)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 new posts, got %d", n)
	}

	again, err := s.IngestPosts(append(batch, SocialPost{
		Platform: "x", ExternalID: "t3_abc", Author: "carol", Content: "same id, other platform",
	}))
	if err != nil {
		t.Fatalf("reingest: %v", err)
	}
	if again != 1 {
		t.Fatalf("expected only the cross-platform post to be new, got %d", again)
	}

	exists, err := s.PostExists("reddit", "t3_abc")
	if err != nil || !exists {
		t.Fatalf("expected post to exist, got %v %v", exists, err)
	}

	hits, err := s.SearchPosts("sqlite", "reddit", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ExternalID != "t3_def" {
		t.Fatalf("unexpected search result: %+v", hits)
	}
}
