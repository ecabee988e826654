package stream

import "time"

// Live is an in-progress broadcast. At most one row exists per account and
// the row's existence matches the profile's currently_live flag.
type Live struct {
	ID        string    `json:"stream_id"`
	AccountID string    `json:"user_id"`
	Username  string    `json:"username"`
	Thumbnail string    `json:"thumbnail"`
	StartedAt time.Time `json:"time_started"`
}

// Archive is a finished broadcast. Rows are immutable apart from the
// title/description/tags metadata the owner may edit afterwards.
type Archive struct {
	ID          string    `json:"stream_id"`
	AccountID   string    `json:"user_id"`
	Username    string    `json:"username"`
	Title       string    `json:"stream_title"`
	Description string    `json:"stream_description"`
	Tags        []string  `json:"tags"`
	Views       int64     `json:"total_views"`
	Duration    string    `json:"duration"`
	StreamFile  string    `json:"stream_file"`
	Thumbnail   string    `json:"thumbnail"`
	StartedAt   time.Time `json:"time_started"`
	CreatedAt   time.Time `json:"created_at"`
}

// Info is the per-account stream metadata. TotalViews accumulates while the
// account is live and is folded into the archive when the broadcast is
// finalised.
type Info struct {
	AccountID   string    `json:"user_id"`
	Username    string    `json:"username"`
	Title       string    `json:"stream_title"`
	Description string    `json:"stream_description"`
	Tags        []string  `json:"tags"`
	TotalViews  int64     `json:"total_views"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FeedEntry is a live broadcast joined with the streamer's profile and
// stream metadata.
type FeedEntry struct {
	AccountID     string    `json:"user_id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	Picture       string    `json:"profile_picture"`
	StreamID      string    `json:"stream_id"`
	Title         string    `json:"stream_title"`
	Description   string    `json:"stream_description"`
	Tags          []string  `json:"tags"`
	Thumbnail     string    `json:"thumbnail"`
	TotalViews    int64     `json:"total_views"`
	StartedAt     time.Time `json:"time_started"`
	CurrentlyLive bool      `json:"currently_live"`
}

// Featured is a front-page entry. Live broadcasts come first, then recent
// archives, never more than one entry per (account, stream) pair.
type Featured struct {
	IsLive    bool      `json:"isLive"`
	StreamID  string    `json:"stream_id"`
	AccountID string    `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Picture   string    `json:"profile_picture"`
	Title     string    `json:"stream_title"`
	Thumbnail string    `json:"thumbnail"`
	Views     int64     `json:"total_views"`
	StartedAt time.Time `json:"time_started"`
}
