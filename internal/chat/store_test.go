package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/mdcat/companion/internal/domain"
)

func msg(id string, sender domain.Sender, content string, ts time.Time) domain.Message {
	return domain.Message{ID: id, Sender: sender, Content: content, Timestamp: ts}
}

func TestMessageStore_ConfirmReplacesTentative(t *testing.T) {
	s := NewMessageStore()
	now := time.Now()
	s.Append(msg("1", domain.SenderBot, "hello", now))

	tent, err := s.AddTentative(domain.Message{Sender: domain.SenderUser, Content: "hi", Timestamp: now})
	if err != nil {
		t.Fatalf("AddTentative failed: %v", err)
	}
	if !s.HasPending() {
		t.Fatal("expected a pending entry")
	}
	if got := s.Recent(10); len(got) != 1 {
		t.Fatalf("Recent should exclude the pending entry, got %d messages", len(got))
	}

	if err := s.Confirm(tent, msg("2", domain.SenderUser, "hi", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].ID != "2" || msgs[1].Pending {
		t.Fatalf("unexpected messages after confirm: %+v", msgs)
	}
	if msgs[1].Timestamp.Before(msgs[0].Timestamp) {
		t.Fatal("timestamps must not decrease")
	}
}

func TestMessageStore_OnlyOnePending(t *testing.T) {
	s := NewMessageStore()
	if _, err := s.AddTentative(domain.Message{Content: "a"}); err != nil {
		t.Fatalf("first AddTentative failed: %v", err)
	}
	if _, err := s.AddTentative(domain.Message{Content: "b"}); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}
}

func TestMessageStore_RollbackRemovesEntry(t *testing.T) {
	s := NewMessageStore()
	s.Append(msg("1", domain.SenderBot, "hello", time.Now()))
	tent, _ := s.AddTentative(domain.Message{Content: "hi"})

	if err := s.Rollback(tent); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if s.Len() != 1 || s.HasPending() {
		t.Fatalf("expected only the original message, got %+v", s.Messages())
	}
}

func TestMessageStore_ResetInvalidatesTentative(t *testing.T) {
	s := NewMessageStore()
	tent, _ := s.AddTentative(domain.Message{Content: "hi"})
	s.Reset()

	if err := s.Confirm(tent, msg("1", domain.SenderUser, "hi", time.Now())); !errors.Is(err, ErrStaleEntry) {
		t.Fatalf("expected ErrStaleEntry, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestMessageStore_ReplaceKeepsPendingLast(t *testing.T) {
	s := NewMessageStore()
	now := time.Now()
	tent, _ := s.AddTentative(domain.Message{Sender: domain.SenderUser, Content: "hi", Timestamp: now})

	s.Replace([]domain.Message{
		msg("1", domain.SenderBot, "hello", now.Add(-2*time.Second)),
		msg("2", domain.SenderUser, "hi", now.Add(-time.Second)),
	})
	msgs := s.Messages()
	if len(msgs) != 3 || !msgs[2].Pending {
		t.Fatalf("expected pending entry at the end, got %+v", msgs)
	}

	// The reload already carried the confirmed copy.
	if err := s.Confirm(tent, msg("2", domain.SenderUser, "hi", now)); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if s.Len() != 2 || s.HasPending() {
		t.Fatalf("expected duplicate to be dropped, got %+v", s.Messages())
	}
}

func TestMessageStore_MessagesReturnsCopy(t *testing.T) {
	s := NewMessageStore()
	s.Append(msg("1", domain.SenderBot, "hello", time.Now()))

	got := s.Messages()
	got[0].Content = "changed"
	if s.Messages()[0].Content != "hello" {
		t.Fatal("Messages must not expose the internal slice")
	}
}
