package account

import "time"

// Account is a registered user of the platform. The stream key authenticates
// the media server's stream lifecycle callbacks and never leaves the owner's
// own API surface.
type Account struct {
	ID           string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	ExternalAuth bool      `json:"external_auth"`
	StreamKey    string    `json:"-"`
	ResetToken   string    `json:"-"`
	ResetExpires time.Time `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the public face of an account. CurrentlyLive mirrors the
// existence of the account's live stream row; the two are only ever changed
// together.
type Profile struct {
	AccountID        string    `json:"user_id"`
	Username         string    `json:"username"`
	Name             string    `json:"name"`
	Picture          string    `json:"profile_picture"`
	CurrentlyLive    bool      `json:"currently_live"`
	HasStreamed      bool      `json:"has_streamed"`
	PushSubscription string    `json:"-"`
	PaymentAccountID string    `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}
