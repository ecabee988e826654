package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/chat"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/internal/app/storage/memory"
)

func addAccount(t *testing.T, store *memory.Store, username string) account.Account {
	t.Helper()
	acct, err := store.RegisterAccount(context.Background(),
		account.Account{Username: username, Email: username + "@example.com", StreamKey: "key-" + username},
		account.Profile{Name: username},
		"hash",
		stream.Info{Title: "@" + username + "'s Stream"},
	)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return acct
}

func TestService_SaveAndRecent(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")

	first, err := svc.Save(context.Background(), bob.ID, alice.ID, "hi alice")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.ID == "" {
		t.Fatal("message id not assigned")
	}
	if first.Votes != 0 {
		t.Fatalf("new message votes %d, want 0", first.Votes)
	}
	if _, err := svc.Save(context.Background(), alice.ID, alice.ID, "welcome"); err != nil {
		t.Fatalf("save: %v", err)
	}

	messages, err := svc.Recent(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Body != "hi alice" || messages[0].SenderUsername != "bob" {
		t.Fatalf("join or order broken: %+v", messages[0])
	}

	// Another channel sees nothing.
	other, err := svc.Recent(context.Background(), bob.ID)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("foreign channel leaked %d messages", len(other))
	}
}

func TestService_RecentWindowExcludesOldMessages(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")

	stale, err := store.CreateMessage(context.Background(), chat.Message{
		SenderID: bob.ID,
		SentTo:   alice.ID,
		Body:     "from an earlier broadcast",
		SentAt:   time.Now().Add(-recentWindow - time.Minute),
	})
	if err != nil {
		t.Fatalf("create stale message: %v", err)
	}
	fresh, err := svc.Save(context.Background(), bob.ID, alice.ID, "hello again")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	messages, err := svc.Recent(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message inside the window, got %d", len(messages))
	}
	if messages[0].ID != fresh.ID {
		t.Fatalf("got message %q, want %q (stale %q must be excluded)", messages[0].ID, fresh.ID, stale.ID)
	}
}

func TestService_SaveRejectsBlank(t *testing.T) {
	svc := New(memory.New(), nil)
	if _, err := svc.Save(context.Background(), "1", "2", "   "); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("blank message: got %v", err)
	}
}

func TestService_Votes(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")

	msg, err := svc.Save(context.Background(), bob.ID, alice.ID, "vote on me")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.Upvote(context.Background(), bob.ID, msg.ID, alice.ID); err != nil {
			t.Fatalf("upvote: %v", err)
		}
	}
	if err := svc.Downvote(context.Background(), bob.ID, msg.ID, alice.ID); err != nil {
		t.Fatalf("downvote: %v", err)
	}

	messages, err := svc.Recent(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if messages[0].Votes != 2 {
		t.Fatalf("votes %d, want 2", messages[0].Votes)
	}

	// The vote key is the full (sender, message, channel) triple.
	if err := svc.Upvote(context.Background(), alice.ID, msg.ID, alice.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("mismatched sender: got %v, want not found", err)
	}
	if err := svc.Upvote(context.Background(), bob.ID, msg.ID, bob.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("mismatched channel: got %v, want not found", err)
	}
}
