package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/services/mailer"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/pkg/logger"
)

// pushTTL is how long the push service may queue an undelivered
// notification.
const pushTTL = 3600

// Pusher delivers one web push message and returns the push service's status
// code.
type Pusher interface {
	Push(ctx context.Context, subscription string, payload []byte, ttl int) (int, error)
}

// Service tells followers about streams going live and forwards stream
// reports to the site administrators.
type Service struct {
	accounts   storage.AccountStore
	follows    storage.FollowStore
	pusher     Pusher
	mail       mailer.Sender
	adminEmail string
	deliveries *prometheus.CounterVec
	log        *logger.Logger
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithMailer sets the sender used for stream reports.
func WithMailer(mail mailer.Sender, adminEmail string) Option {
	return func(s *Service) {
		s.mail = mail
		s.adminEmail = adminEmail
	}
}

// WithDeliveryCounter records push outcomes, labelled delivered, gone or
// failed.
func WithDeliveryCounter(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.deliveries = c }
}

// New constructs a notifications service.
func New(accounts storage.AccountStore, follows storage.FollowStore, pusher Pusher, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	s := &Service{
		accounts: accounts,
		follows:  follows,
		pusher:   pusher,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type pushPayload struct {
	Title string `json:"title"`
	Icon  string `json:"icon"`
	Data  struct {
		URL string `json:"url"`
	} `json:"data"`
}

// StreamStarted notifies every subscribed follower of the streamer. Each
// delivery runs independently; one failure never stops the rest, and nothing
// is reported back to the caller.
func (s *Service) StreamStarted(ctx context.Context, streamer account.Profile) {
	if s.pusher == nil {
		return
	}

	followerIDs, err := s.follows.ListFollowerIDs(ctx, streamer.AccountID)
	if err != nil {
		s.log.WithError(err).WithField("account_id", streamer.AccountID).Error("failed to resolve followers")
		return
	}
	profiles, err := s.accounts.GetProfiles(ctx, followerIDs)
	if err != nil {
		s.log.WithError(err).WithField("account_id", streamer.AccountID).Error("failed to load follower profiles")
		return
	}

	payload := pushPayload{
		Title: fmt.Sprintf("@%s is live on Jive!", streamer.Username),
		Icon:  streamer.Picture,
	}
	payload.Data.URL = "/" + streamer.Username
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("failed to encode push payload")
		return
	}

	var wg sync.WaitGroup
	for _, follower := range profiles {
		if follower.PushSubscription == "" {
			continue
		}
		wg.Add(1)
		go func(follower account.Profile) {
			defer wg.Done()
			s.push(ctx, follower, body)
		}(follower)
	}
	wg.Wait()
}

func (s *Service) push(ctx context.Context, follower account.Profile, body []byte) {
	status, err := s.pusher.Push(ctx, follower.PushSubscription, body, pushTTL)
	switch {
	case err != nil:
		s.count("failed")
		s.log.WithError(err).WithField("account_id", follower.AccountID).Warn("push delivery failed")
	case status == http.StatusNotFound || status == http.StatusGone:
		// The push service no longer knows this subscription.
		s.count("gone")
		s.log.WithField("account_id", follower.AccountID).WithField("status", status).Info("push subscription gone")
	case status >= 400:
		s.count("failed")
		s.log.WithField("account_id", follower.AccountID).WithField("status", status).Warn("push rejected")
	default:
		s.count("delivered")
	}
}

func (s *Service) count(outcome string) {
	if s.deliveries != nil {
		s.deliveries.WithLabelValues(outcome).Inc()
	}
}

// ReportStream mails a stream report to the administrators. Reporting always
// succeeds from the caller's point of view.
func (s *Service) ReportStream(ctx context.Context, accountID, timestamp, reason string) {
	if s.mail == nil || s.adminEmail == "" {
		return
	}

	username := accountID
	if prof, err := s.accounts.GetProfile(ctx, accountID); err == nil {
		username = prof.Username
	}

	body := fmt.Sprintf("Stream by %s was reported.\n\nTimestamp: %s\nReason: %s\n", username, timestamp, reason)
	if err := s.mail.Send(ctx, s.adminEmail, fmt.Sprintf("Stream report: %s", username), body); err != nil {
		s.log.WithError(err).WithField("account_id", accountID).Error("failed to send stream report")
	}
}
