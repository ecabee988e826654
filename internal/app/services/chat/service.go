package chat

import (
	"context"
	"strings"
	"time"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/chat"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/pkg/logger"
)

// recentWindow bounds how far back the recent-chat view reaches.
const recentWindow = 30 * time.Minute

// Service persists chat messages and vote adjustments. Live fan-out is the
// Hub's job; persistence and relay are independent.
type Service struct {
	store storage.ChatStore
	log   *logger.Logger
}

// New constructs a chat service.
func New(store storage.ChatStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	return &Service{
		store: store,
		log:   log,
	}
}

// Save persists a message posted into a streamer's channel.
func (s *Service) Save(ctx context.Context, senderID, sentTo, body string) (chat.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.Message{}, apperr.Invalid("message", "message is required")
	}
	return s.store.CreateMessage(ctx, chat.Message{
		SenderID: senderID,
		SentTo:   sentTo,
		Body:     body,
	})
}

// Recent returns the channel's messages from the trailing window, oldest
// first, with sender display fields attached.
func (s *Service) Recent(ctx context.Context, sentTo string) ([]chat.MessageWithSender, error) {
	return s.store.ListRecentMessages(ctx, sentTo, time.Now().Add(-recentWindow))
}

// Upvote adds one vote to the identified message.
func (s *Service) Upvote(ctx context.Context, senderID, messageID, sentTo string) error {
	return s.store.AddVote(ctx, senderID, messageID, sentTo, 1)
}

// Downvote removes one vote from the identified message.
func (s *Service) Downvote(ctx context.Context, senderID, messageID, sentTo string) error {
	return s.store.AddVote(ctx, senderID, messageID, sentTo, -1)
}
