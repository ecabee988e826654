package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jive-live/jive-server/internal/app/metrics"
	"github.com/jive-live/jive-server/internal/app/services/accounts"
	chatsvc "github.com/jive-live/jive-server/internal/app/services/chat"
	"github.com/jive-live/jive-server/internal/app/services/mailer"
	"github.com/jive-live/jive-server/internal/app/services/notifications"
	"github.com/jive-live/jive-server/internal/app/services/payments"
	"github.com/jive-live/jive-server/internal/app/services/social"
	streamssvc "github.com/jive-live/jive-server/internal/app/services/streams"
	"github.com/jive-live/jive-server/internal/app/services/uploads"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/internal/app/storage/memory"
	"github.com/jive-live/jive-server/internal/app/system"
	"github.com/jive-live/jive-server/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts     storage.AccountStore
	Follows      storage.FollowStore
	Streams      storage.StreamStore
	Chat         storage.ChatStore
	Transactions storage.TransactionStore
}

// Options carries the external dependencies and settings the services need.
// Nil fields disable the corresponding integration.
type Options struct {
	TokenSecret []byte
	TokenTTL    time.Duration
	ResetURL    string
	AdminEmail  string

	StreamConfig streamssvc.Config
	Monitor      *streamssvc.Monitor
	Mailer       mailer.Sender
	Pusher       notifications.Pusher
	Processor    payments.Processor
	Uploads      *uploads.Service
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts      *accounts.Service
	Social        *social.Service
	Streams       *streamssvc.Service
	Chat          *chatsvc.Service
	ChatHub       *chatsvc.Hub
	Notifications *notifications.Service
	Payments      *payments.Service
	Uploads       *uploads.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if len(opts.TokenSecret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Follows == nil {
		stores.Follows = mem
	}
	if stores.Streams == nil {
		stores.Streams = mem
	}
	if stores.Chat == nil {
		stores.Chat = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}

	manager := system.NewManager()

	acctOpts := []accounts.Option{}
	if opts.Mailer != nil {
		acctOpts = append(acctOpts, accounts.WithMailer(opts.Mailer))
	}
	if opts.ResetURL != "" {
		acctOpts = append(acctOpts, accounts.WithResetURL(opts.ResetURL))
	}
	if opts.TokenTTL > 0 {
		acctOpts = append(acctOpts, accounts.WithTokenTTL(opts.TokenTTL))
	}
	acctService := accounts.New(stores.Accounts, opts.TokenSecret, log, acctOpts...)

	socialService := social.New(stores.Accounts, stores.Follows, log)

	notifyOpts := []notifications.Option{
		notifications.WithDeliveryCounter(metrics.PushDeliveries()),
	}
	if opts.Mailer != nil && opts.AdminEmail != "" {
		notifyOpts = append(notifyOpts, notifications.WithMailer(opts.Mailer, opts.AdminEmail))
	}
	notifyService := notifications.New(stores.Accounts, stores.Follows, opts.Pusher, log, notifyOpts...)

	streamOpts := []streamssvc.Option{
		streamssvc.WithNotifier(notifyService),
	}
	if opts.Monitor != nil {
		streamOpts = append(streamOpts, streamssvc.WithMonitor(opts.Monitor))
	}
	streamService := streamssvc.New(stores.Accounts, stores.Streams, opts.StreamConfig, log, streamOpts...)

	chatService := chatsvc.New(stores.Chat, log)
	chatHub := chatsvc.NewHub(log)

	paymentService := payments.New(stores.Accounts, stores.Transactions, opts.Processor, log)

	if err := manager.Register(chatHub); err != nil {
		return nil, fmt.Errorf("register chat hub: %w", err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		Accounts:      acctService,
		Social:        socialService,
		Streams:       streamService,
		Chat:          chatService,
		ChatHub:       chatHub,
		Notifications: notifyService,
		Payments:      paymentService,
		Uploads:       opts.Uploads,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
