package social

import (
	"context"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/pkg/logger"
)

// Service manages the follow graph.
type Service struct {
	accounts storage.AccountStore
	follows  storage.FollowStore
	log      *logger.Logger
}

// New constructs a social service.
func New(accounts storage.AccountStore, follows storage.FollowStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("social")
	}
	return &Service{
		accounts: accounts,
		follows:  follows,
		log:      log,
	}
}

// Follow adds a follow edge. Following an already-followed account is a
// no-op; following yourself is rejected.
func (s *Service) Follow(ctx context.Context, followerID, followedID string) error {
	if followerID == followedID {
		return apperr.Invalid("userId", "cannot follow yourself")
	}
	return s.follows.CreateFollow(ctx, followerID, followedID)
}

// Unfollow removes a follow edge. Removing a missing edge is a no-op.
func (s *Service) Unfollow(ctx context.Context, followerID, followedID string) error {
	return s.follows.DeleteFollow(ctx, followerID, followedID)
}

// IsFollowing reports whether follower follows followed.
func (s *Service) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	return s.follows.IsFollowing(ctx, followerID, followedID)
}

// Followers returns the profiles of accounts following the given account.
// Edge ids are resolved to profiles by account id.
func (s *Service) Followers(ctx context.Context, accountID string) ([]account.Profile, error) {
	ids, err := s.follows.ListFollowerIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.accounts.GetProfiles(ctx, ids)
}

// Following returns the profiles of accounts the given account follows.
func (s *Service) Following(ctx context.Context, accountID string) ([]account.Profile, error) {
	ids, err := s.follows.ListFollowingIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.accounts.GetProfiles(ctx, ids)
}
