package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteStore error: %v", err)
			}
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func TestSequentialAppendsKeepOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
		session, err := s.Append(ctx, "s1", Message{
			Role:            RoleAssistant,
			Content:         "hi there",
			ContextUsed:     true,
			ConfidenceScore: Float(0.75),
			Sources:         []SourceSnapshot{{ChunkID: "c1", DocumentID: "d1", Ordinal: 2, Similarity: 0.9, Excerpt: "hi"}},
		})
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
		if session.MessageCount() != 2 {
			t.Fatalf("expected 2 messages, got %d", session.MessageCount())
		}

		got, ok, err := s.Get(ctx, "s1")
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if got.Messages[0].Content != "hello" || got.Messages[1].Content != "hi there" {
			t.Fatalf("unexpected order: %+v", got.Messages)
		}
		reply := got.Messages[1]
		if !reply.ContextUsed || reply.ConfidenceScore == nil || *reply.ConfidenceScore != 0.75 {
			t.Fatalf("assistant metadata lost: %+v", reply)
		}
		if len(reply.Sources) != 1 || reply.Sources[0].ChunkID != "c1" || reply.Sources[0].Ordinal != 2 {
			t.Fatalf("sources lost: %+v", reply.Sources)
		}
		if got.Messages[0].ConfidenceScore != nil {
			t.Fatal("expected no confidence on user turn")
		}
		if got.CreatedAt.IsZero() || got.LastUpdated.Before(got.CreatedAt.Add(-time.Second)) {
			t.Fatalf("unexpected timestamps: %+v", got)
		}
	})
}

func TestHistoryLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := range 5 {
			if _, err := s.Append(ctx, "s", Message{Role: RoleUser, Content: fmt.Sprint(i)}); err != nil {
				t.Fatalf("Append error: %v", err)
			}
		}
		msgs, err := s.History(ctx, "s", 2)
		if err != nil {
			t.Fatalf("History error: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Content != "3" || msgs[1].Content != "4" {
			t.Fatalf("expected last two messages oldest first, got %+v", msgs)
		}
		all, _ := s.History(ctx, "s", 0)
		if len(all) != 5 {
			t.Fatalf("expected all 5 messages, got %d", len(all))
		}
		none, err := s.History(ctx, "missing", 3)
		if err != nil || len(none) != 0 {
			t.Fatalf("expected empty history for unknown session, got %v, %v", none, err)
		}
	})
}

func TestListAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		s.Append(ctx, "old", Message{Role: RoleUser, Content: "a", Timestamp: base})
		s.Append(ctx, "new", Message{Role: RoleUser, Content: "b", Timestamp: base.Add(time.Hour)})
		s.Append(ctx, "new", Message{Role: RoleAssistant, Content: "c", Timestamp: base.Add(2 * time.Hour)})

		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(list) != 2 || list[0].ID != "new" || list[0].MessageCount != 2 {
			t.Fatalf("unexpected list: %+v", list)
		}

		deleted, err := s.Delete(ctx, "new")
		if err != nil || !deleted {
			t.Fatalf("Delete: %v, %v", deleted, err)
		}
		if _, ok, _ := s.Get(ctx, "new"); ok {
			t.Fatal("expected session to be gone")
		}
		if msgs, _ := s.History(ctx, "new", 0); len(msgs) != 0 {
			t.Fatalf("expected messages removed, got %d", len(msgs))
		}
		if deleted, _ := s.Delete(ctx, "new"); deleted {
			t.Fatal("expected second delete to report false")
		}
	})
}

func TestAppendRejectsInvalidMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Append(ctx, "", Message{Role: RoleUser}); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage for empty id, got %v", err)
		}
		if _, err := s.Append(ctx, "s", Message{Role: "system"}); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage for bad role, got %v", err)
		}
		if _, ok, _ := s.Get(ctx, "s"); ok {
			t.Fatal("rejected append must not create a session")
		}
	})
}

func TestConcurrentAppendsToOneSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Append(ctx, "shared", Message{Role: RoleUser, Content: fmt.Sprint(i)}); err != nil {
					t.Errorf("Append error: %v", err)
				}
			}()
		}
		wg.Wait()
		session, ok, err := s.Get(ctx, "shared")
		if err != nil || !ok {
			t.Fatalf("Get: %v, %v", ok, err)
		}
		if session.MessageCount() != 20 {
			t.Fatalf("expected 20 messages, got %d", session.MessageCount())
		}
	})
}

func TestConcurrentExchangesStayPaired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q := Message{Role: RoleUser, Content: fmt.Sprint("q", i)}
				a := Message{Role: RoleAssistant, Content: fmt.Sprint("a", i)}
				if _, err := s.Append(ctx, "pairs", q, a); err != nil {
					t.Errorf("Append error: %v", err)
				}
			}()
		}
		wg.Wait()
		msgs, err := s.History(ctx, "pairs", 0)
		if err != nil || len(msgs) != 20 {
			t.Fatalf("expected 20 messages, got %d, %v", len(msgs), err)
		}
		for i := 0; i < len(msgs); i += 2 {
			q, a := msgs[i], msgs[i+1]
			if q.Role != RoleUser || a.Role != RoleAssistant || "a"+q.Content[1:] != a.Content {
				t.Fatalf("exchange %d interleaved: %+v / %+v", i/2, q, a)
			}
		}
	})
}

func TestAppendRejectsWholeBatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Append(ctx, "batch", Message{Role: RoleUser, Content: "ok"}, Message{Role: "system", Content: "bad"})
		if !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage, got %v", err)
		}
		if _, ok, _ := s.Get(ctx, "batch"); ok {
			t.Fatal("expected nothing stored for a rejected batch")
		}
		if _, err := s.Append(ctx, "batch"); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage for an empty batch, got %v", err)
		}
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Append(context.Background(), "keep", Message{Role: RoleUser, Content: "persisted"})
	s.Close()

	again, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	msgs, err := again.History(context.Background(), "keep", 0)
	if err != nil || len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Fatalf("expected persisted message, got %+v, %v", msgs, err)
	}
}

func TestOpen(t *testing.T) {
	if s, err := Open("memory", ""); err != nil || s == nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, err := Open("redis", ""); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
