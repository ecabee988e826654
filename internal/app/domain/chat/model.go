package chat

import "time"

// Message is a single chat line posted into a streamer's channel. SentTo is
// the channel owner's account id, which may differ from the sender.
type Message struct {
	ID       string    `json:"chat_id"`
	SenderID string    `json:"user_id"`
	SentTo   string    `json:"sent_to"`
	Body     string    `json:"message"`
	Votes    int64     `json:"votes"`
	SentAt   time.Time `json:"sent_at"`
}

// MessageWithSender is a message joined with the sender's public profile
// fields for display.
type MessageWithSender struct {
	Message
	SenderUsername string `json:"username"`
	SenderName     string `json:"name"`
	SenderPicture  string `json:"profile_picture"`
}
