package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/chat"
	"github.com/jive-live/jive-server/internal/app/domain/payment"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
)

// Sentinel errors shared by all backends. Stores wrap these so callers can
// classify failures with errors.Is regardless of the backend in use.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// AccountStore persists accounts, profiles and credentials. Registration and
// account updates touch several tables and are atomic within a single call.
type AccountStore interface {
	// RegisterAccount creates the account, its profile, its password hash,
	// its default stream metadata and an email listing entry atomically.
	RegisterAccount(ctx context.Context, acct account.Account, prof account.Profile, passwordHash string, info stream.Info) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	GetAccountByStreamKey(ctx context.Context, key string) (account.Account, error)
	GetAccountByResetToken(ctx context.Context, token string) (account.Account, error)
	// UpdateAccount applies account and profile changes atomically.
	UpdateAccount(ctx context.Context, acct account.Account, prof account.Profile) (account.Account, account.Profile, error)

	GetProfile(ctx context.Context, accountID string) (account.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (account.Profile, error)
	GetProfiles(ctx context.Context, accountIDs []string) ([]account.Profile, error)
	// ListLiveProfiles returns profiles flagged live, newest account first.
	ListLiveProfiles(ctx context.Context) ([]account.Profile, error)
	SearchProfiles(ctx context.Context, term string) ([]account.Profile, error)
	UpdatePushSubscription(ctx context.Context, accountID, subscription string) error
	SetPaymentAccountID(ctx context.Context, accountID, paymentID string) error

	GetPasswordHash(ctx context.Context, accountID string) (string, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string) error
	SetResetToken(ctx context.Context, accountID, token string, expires time.Time) error
}

// FollowStore persists the directed follow graph. Edges are unique; creating
// an existing edge is a no-op.
type FollowStore interface {
	CreateFollow(ctx context.Context, followerID, followedID string) error
	DeleteFollow(ctx context.Context, followerID, followedID string) error
	IsFollowing(ctx context.Context, followerID, followedID string) (bool, error)
	ListFollowerIDs(ctx context.Context, accountID string) ([]string, error)
	ListFollowingIDs(ctx context.Context, accountID string) ([]string, error)
}

// StreamReader is the read surface the public aggregation views are built
// from. Every call made through one reader observes the same store state.
type StreamReader interface {
	ListLiveProfiles(ctx context.Context) ([]account.Profile, error)
	GetProfiles(ctx context.Context, accountIDs []string) ([]account.Profile, error)
	SearchProfiles(ctx context.Context, term string) ([]account.Profile, error)

	ListLiveStreams(ctx context.Context, limit int) ([]stream.Live, error)
	GetLiveStream(ctx context.Context, accountID string) (stream.Live, error)
	GetStreamInfo(ctx context.Context, accountID string) (stream.Info, error)
	// ListStreamInfo returns the stream metadata of the given accounts in one
	// call. Accounts without metadata are omitted.
	ListStreamInfo(ctx context.Context, accountIDs []string) ([]stream.Info, error)
	ListLatestArchives(ctx context.Context) ([]stream.Archive, error)
	ListRecentArchives(ctx context.Context, excludeIDs []string, limit int) ([]stream.Archive, error)
	SearchStreamInfo(ctx context.Context, term string) ([]stream.Info, error)
}

// StreamStore persists live streams, archives and stream metadata. The
// lifecycle operations keep the profile live flag and the live stream row in
// step atomically.
type StreamStore interface {
	// ReadSnapshot runs fn against a consistent read-only view of the store,
	// so a stream stopping mid-read cannot tear an aggregate apart.
	ReadSnapshot(ctx context.Context, fn func(StreamReader) error) error

	// StartStream marks the profile live, records that it has streamed and
	// inserts the live stream row, all atomically.
	StartStream(ctx context.Context, ls stream.Live) (stream.Live, error)
	// StopStream clears the live flag and deletes the live stream row
	// atomically. Stopping an account that is not live is a no-op.
	StopStream(ctx context.Context, accountID string) error
	GetLiveStream(ctx context.Context, accountID string) (stream.Live, error)
	// ListLiveStreams returns live streams newest first, capped at limit
	// when limit > 0.
	ListLiveStreams(ctx context.Context, limit int) ([]stream.Live, error)

	// ArchiveStream inserts the archive row and resets the account's
	// running total view counter to zero atomically.
	ArchiveStream(ctx context.Context, arch stream.Archive) (stream.Archive, error)
	GetArchivedStream(ctx context.Context, accountID, streamID string) (stream.Archive, error)
	ListArchivedStreams(ctx context.Context, accountID string) ([]stream.Archive, error)
	// ListLatestArchives returns each streamer's most recent archive,
	// newest first.
	ListLatestArchives(ctx context.Context) ([]stream.Archive, error)
	// ListRecentArchives returns archives newest first, skipping the given
	// stream ids, capped at limit when limit > 0.
	ListRecentArchives(ctx context.Context, excludeIDs []string, limit int) ([]stream.Archive, error)
	UpdateArchivedStream(ctx context.Context, arch stream.Archive) (stream.Archive, error)
	DeleteArchivedStream(ctx context.Context, accountID, streamID string) error

	GetStreamInfo(ctx context.Context, accountID string) (stream.Info, error)
	UpdateStreamInfo(ctx context.Context, info stream.Info) (stream.Info, error)
	IncrementTotalViews(ctx context.Context, accountID string) error
	SearchStreamInfo(ctx context.Context, term string) ([]stream.Info, error)
}

// ChatStore persists chat messages and votes.
type ChatStore interface {
	CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	// ListRecentMessages returns messages sent to the channel after the
	// cutoff, joined with sender profiles, oldest first.
	ListRecentMessages(ctx context.Context, sentTo string, since time.Time) ([]chat.MessageWithSender, error)
	// AddVote adjusts the vote counter of the message identified by the
	// (sender, message, channel) triple.
	AddVote(ctx context.Context, senderID, messageID, sentTo string, delta int64) error
}

// TransactionStore persists the payment ledger.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error)
	// ListTransactions returns payments received by the account joined
	// with sender profiles, newest first.
	ListTransactions(ctx context.Context, accountID string) ([]payment.TransactionWithSender, error)
}
