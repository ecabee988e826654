package streams

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/metrics"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/pkg/logger"
)

// featuredLimit caps the number of front-page entries.
const featuredLimit = 13

// Notifier is told when a broadcast goes live so followers can be notified.
// Delivery is fire-and-forget and must never block the stream lifecycle.
type Notifier interface {
	StreamStarted(ctx context.Context, streamer account.Profile)
}

// Config holds the URL templates for media assets served by the streaming
// infrastructure.
type Config struct {
	ThumbnailBaseURL string `yaml:"thumbnail_base_url"`
	ArchiveBaseURL   string `yaml:"archive_base_url"`
}

// Service manages the stream lifecycle and the public aggregation views.
type Service struct {
	accounts storage.AccountStore
	store    storage.StreamStore
	notifier Notifier
	monitor  *Monitor
	cfg      Config
	log      *logger.Logger
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithNotifier sets the follower notifier invoked after a stream starts.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMonitor sets the media server monitor used for live viewer counts.
func WithMonitor(m *Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// New constructs a streams service.
func New(accounts storage.AccountStore, store storage.StreamStore, cfg Config, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("streams")
	}
	s := &Service{
		accounts: accounts,
		store:    store,
		cfg:      cfg,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) thumbnailURL(streamKey string) string {
	return strings.TrimRight(s.cfg.ThumbnailBaseURL, "/") + "/" + streamKey + ".png"
}

// StartStream marks the account owning streamKey as live and notifies its
// followers. The notification runs detached; its outcome never affects the
// caller.
func (s *Service) StartStream(ctx context.Context, streamKey string) (stream.Live, error) {
	acct, err := s.accounts.GetAccountByStreamKey(ctx, streamKey)
	if err != nil {
		return stream.Live{}, err
	}

	ls := stream.Live{
		AccountID: acct.ID,
		Thumbnail: s.thumbnailURL(streamKey),
	}
	ls, err = s.store.StartStream(ctx, ls)
	if err != nil {
		return stream.Live{}, err
	}
	metrics.RecordStreamStarted()
	s.log.WithField("account_id", acct.ID).WithField("username", acct.Username).Info("stream started")

	if s.notifier != nil {
		prof, err := s.accounts.GetProfile(ctx, acct.ID)
		if err != nil {
			s.log.WithError(err).WithField("account_id", acct.ID).Warn("skipping follower notification")
		} else {
			go s.notifier.StreamStarted(context.Background(), prof)
		}
	}
	return ls, nil
}

// StopStream clears the live state of the account owning streamKey.
func (s *Service) StopStream(ctx context.Context, streamKey string) error {
	acct, err := s.accounts.GetAccountByStreamKey(ctx, streamKey)
	if err != nil {
		return err
	}
	if err := s.store.StopStream(ctx, acct.ID); err != nil {
		return err
	}
	s.log.WithField("account_id", acct.ID).Info("stream stopped")
	return nil
}

// recordingTimeLayout matches the timestamp segment the media server appends
// to recording names.
const recordingTimeLayout = "2006-01-02-15.04.05.000"

// parseRecordingName splits "<streamKey>_<label>_<timestamp>" into its stream
// key and start time.
func parseRecordingName(name string) (string, time.Time, error) {
	first := strings.Index(name, "_")
	last := strings.LastIndex(name, "_")
	if first <= 0 || last <= first {
		return "", time.Time{}, apperr.Invalid("streamName", "malformed recording name")
	}
	startedAt, err := time.Parse(recordingTimeLayout, name[last+1:])
	if err != nil {
		return "", time.Time{}, apperr.Invalid("streamName", "malformed recording timestamp")
	}
	return name[:first], startedAt, nil
}

// ArchiveStream finalises a finished recording: the current stream metadata
// and accumulated view count are copied into an immutable archive entry and
// the running counter starts over.
func (s *Service) ArchiveStream(ctx context.Context, streamName string) (stream.Archive, error) {
	streamName = strings.TrimSpace(streamName)
	streamKey, startedAt, err := parseRecordingName(streamName)
	if err != nil {
		return stream.Archive{}, err
	}

	acct, err := s.accounts.GetAccountByStreamKey(ctx, streamKey)
	if err != nil {
		return stream.Archive{}, err
	}
	info, err := s.store.GetStreamInfo(ctx, acct.ID)
	if err != nil {
		return stream.Archive{}, err
	}

	archiveBase := strings.TrimRight(s.cfg.ArchiveBaseURL, "/")
	arch := stream.Archive{
		AccountID:   acct.ID,
		Username:    acct.Username,
		Title:       info.Title,
		Description: info.Description,
		Tags:        info.Tags,
		Views:       info.TotalViews,
		Duration:    time.Since(startedAt).Round(time.Second).String(),
		StreamFile:  archiveBase + "/" + streamName + "/index.m3u8",
		Thumbnail:   archiveBase + "/" + streamName + "/thumbnail.png",
		StartedAt:   startedAt,
	}
	arch, err = s.store.ArchiveStream(ctx, arch)
	if err != nil {
		return stream.Archive{}, err
	}
	s.log.WithField("account_id", acct.ID).WithField("stream_id", arch.ID).Info("stream archived")
	return arch, nil
}

// Feed returns every live broadcast joined with the streamer's profile and
// stream metadata. Rows are matched by account id; a live profile without a
// corresponding stream row is skipped rather than misattributed.
func (s *Service) Feed(ctx context.Context) ([]stream.FeedEntry, error) {
	var entries []stream.FeedEntry
	err := s.store.ReadSnapshot(ctx, func(r storage.StreamReader) error {
		profiles, err := r.ListLiveProfiles(ctx)
		if err != nil {
			return err
		}
		lives, err := r.ListLiveStreams(ctx, 0)
		if err != nil {
			return err
		}

		liveByAccount := make(map[string]stream.Live, len(lives))
		for _, ls := range lives {
			liveByAccount[ls.AccountID] = ls
		}
		infoByAccount, err := infoMap(ctx, r, profiles)
		if err != nil {
			return err
		}

		entries = make([]stream.FeedEntry, 0, len(profiles))
		for _, prof := range profiles {
			ls, ok := liveByAccount[prof.AccountID]
			if !ok {
				s.log.WithField("account_id", prof.AccountID).Warn("live profile without stream row")
				continue
			}
			info, ok := infoByAccount[prof.AccountID]
			if !ok {
				continue
			}
			entries = append(entries, joinFeedEntry(prof, ls, info))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// infoMap bulk-loads the stream metadata of the given live profiles, keyed by
// account id.
func infoMap(ctx context.Context, r storage.StreamReader, profiles []account.Profile) (map[string]stream.Info, error) {
	ids := make([]string, 0, len(profiles))
	for _, prof := range profiles {
		ids = append(ids, prof.AccountID)
	}
	infos, err := r.ListStreamInfo(ctx, ids)
	if err != nil {
		return nil, err
	}
	byAccount := make(map[string]stream.Info, len(infos))
	for _, info := range infos {
		byAccount[info.AccountID] = info
	}
	return byAccount, nil
}

func joinFeedEntry(prof account.Profile, ls stream.Live, info stream.Info) stream.FeedEntry {
	return stream.FeedEntry{
		AccountID:     prof.AccountID,
		Username:      prof.Username,
		Name:          prof.Name,
		Picture:       prof.Picture,
		StreamID:      ls.ID,
		Title:         info.Title,
		Description:   info.Description,
		Tags:          info.Tags,
		Thumbnail:     ls.Thumbnail,
		TotalViews:    info.TotalViews,
		StartedAt:     ls.StartedAt,
		CurrentlyLive: prof.CurrentlyLive,
	}
}

// Featured returns the front page: live broadcasts first, then each
// streamer's latest archive, then other recent archives, capped at the
// featured limit with no stream listed twice.
func (s *Service) Featured(ctx context.Context) ([]stream.Featured, error) {
	var entries []stream.Featured
	err := s.store.ReadSnapshot(ctx, func(r storage.StreamReader) error {
		lives, err := r.ListLiveStreams(ctx, featuredLimit)
		if err != nil {
			return err
		}
		liveIDs := make([]string, 0, len(lives))
		for _, ls := range lives {
			liveIDs = append(liveIDs, ls.AccountID)
		}
		infos, err := r.ListStreamInfo(ctx, liveIDs)
		if err != nil {
			return err
		}
		infoByAccount := make(map[string]stream.Info, len(infos))
		for _, info := range infos {
			infoByAccount[info.AccountID] = info
		}

		seen := newStringSet()
		entries = make([]stream.Featured, 0, featuredLimit)
		for _, ls := range lives {
			if !seen.add(ls.ID) {
				continue
			}
			info := infoByAccount[ls.AccountID]
			entries = append(entries, stream.Featured{
				IsLive:    true,
				StreamID:  ls.ID,
				AccountID: ls.AccountID,
				Username:  ls.Username,
				Title:     info.Title,
				Thumbnail: ls.Thumbnail,
				Views:     info.TotalViews,
				StartedAt: ls.StartedAt,
			})
		}

		if len(entries) < featuredLimit {
			latest, err := r.ListLatestArchives(ctx)
			if err != nil {
				return err
			}
			for _, arch := range latest {
				if len(entries) >= featuredLimit {
					break
				}
				if !seen.add(arch.ID) {
					continue
				}
				entries = append(entries, archiveFeatured(arch))
			}
		}

		if len(entries) < featuredLimit {
			more, err := r.ListRecentArchives(ctx, seen.values(), featuredLimit-len(entries))
			if err != nil {
				return err
			}
			for _, arch := range more {
				if len(entries) >= featuredLimit {
					break
				}
				if !seen.add(arch.ID) {
					continue
				}
				entries = append(entries, archiveFeatured(arch))
			}
		}

		entries, err = attachProfiles(ctx, r, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func archiveFeatured(arch stream.Archive) stream.Featured {
	return stream.Featured{
		StreamID:  arch.ID,
		AccountID: arch.AccountID,
		Username:  arch.Username,
		Title:     arch.Title,
		Thumbnail: arch.Thumbnail,
		Views:     arch.Views,
		StartedAt: arch.StartedAt,
	}
}

// attachProfiles fills in display fields, matching profiles to entries by
// account id.
func attachProfiles(ctx context.Context, r storage.StreamReader, entries []stream.Featured) ([]stream.Featured, error) {
	ids := newStringSet()
	for _, e := range entries {
		ids.add(e.AccountID)
	}
	profiles, err := r.GetProfiles(ctx, ids.values())
	if err != nil {
		return nil, err
	}
	byID := make(map[string]account.Profile, len(profiles))
	for _, prof := range profiles {
		byID[prof.AccountID] = prof
	}
	for i := range entries {
		if prof, ok := byID[entries[i].AccountID]; ok {
			entries[i].Name = prof.Name
			entries[i].Picture = prof.Picture
		}
	}
	return entries, nil
}

// SearchResults bundles profile matches with the live broadcasts among them.
type SearchResults struct {
	Profiles []account.Profile  `json:"profiles"`
	Streams  []stream.FeedEntry `json:"streams"`
}

// Search matches the term as a whole word against profile names and
// usernames plus stream titles and tags, and enriches every live match.
func (s *Service) Search(ctx context.Context, term string) (SearchResults, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return SearchResults{}, apperr.Invalid("searchText", "search text is required")
	}

	var results SearchResults
	err := s.store.ReadSnapshot(ctx, func(r storage.StreamReader) error {
		profiles, err := r.SearchProfiles(ctx, term)
		if err != nil {
			return err
		}
		infos, err := r.SearchStreamInfo(ctx, term)
		if err != nil {
			return err
		}

		matched := newStringSet()
		for _, prof := range profiles {
			matched.add(prof.AccountID)
		}
		for _, info := range infos {
			matched.add(info.AccountID)
		}

		all, err := r.GetProfiles(ctx, matched.values())
		if err != nil {
			return err
		}

		results = SearchResults{Profiles: profiles}
		for _, prof := range all {
			if !prof.CurrentlyLive {
				continue
			}
			ls, err := r.GetLiveStream(ctx, prof.AccountID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			info, err := r.GetStreamInfo(ctx, prof.AccountID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			results.Streams = append(results.Streams, joinFeedEntry(prof, ls, info))
		}
		return nil
	})
	if err != nil {
		return SearchResults{}, err
	}
	return results, nil
}

// GetLiveStream returns the account's live stream, or nil when it is not
// broadcasting.
func (s *Service) GetLiveStream(ctx context.Context, accountID string) (*stream.Live, error) {
	ls, err := s.store.GetLiveStream(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ls, nil
}

// RandomStream returns a random live broadcast, or nil when nothing is live.
func (s *Service) RandomStream(ctx context.Context) (*stream.Live, error) {
	lives, err := s.store.ListLiveStreams(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(lives) == 0 {
		return nil, nil
	}
	ls := lives[rand.Intn(len(lives))]
	return &ls, nil
}

// GetStreamInfo returns the account's stream metadata.
func (s *Service) GetStreamInfo(ctx context.Context, accountID string) (stream.Info, error) {
	return s.store.GetStreamInfo(ctx, accountID)
}

// UpdateStreamInfo replaces the account's editable stream metadata.
func (s *Service) UpdateStreamInfo(ctx context.Context, accountID, title, description string, tags []string) (stream.Info, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return stream.Info{}, apperr.Invalid("title", "stream title is required")
	}
	return s.store.UpdateStreamInfo(ctx, stream.Info{
		AccountID:   accountID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Tags:        tags,
	})
}

// IncrementViews bumps the account's running view counter.
func (s *Service) IncrementViews(ctx context.Context, accountID string) error {
	return s.store.IncrementTotalViews(ctx, accountID)
}

// StreamKey returns the account's stream key. Only exposed to the owner.
func (s *Service) StreamKey(ctx context.Context, accountID string) (string, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return acct.StreamKey, nil
}

// ViewerCount reports how many viewers the account's live broadcast has. The
// count comes from the media server and is absent when the account is not
// live or the monitor is not configured.
func (s *Service) ViewerCount(ctx context.Context, accountID string) (*int, bool, error) {
	prof, err := s.accounts.GetProfile(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	if !prof.CurrentlyLive || s.monitor == nil {
		return nil, false, nil
	}
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	count, err := s.monitor.ViewerCount(ctx, acct.StreamKey)
	if err != nil {
		s.log.WithError(err).WithField("account_id", accountID).Warn("viewer count unavailable")
		return nil, true, nil
	}
	return &count, true, nil
}

// GetArchivedStream returns one archive entry for the given streamer.
func (s *Service) GetArchivedStream(ctx context.Context, username, streamID string) (stream.Archive, error) {
	acct, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return stream.Archive{}, err
	}
	return s.store.GetArchivedStream(ctx, acct.ID, streamID)
}

// ListArchivedStreams returns the streamer's archives, newest first.
func (s *Service) ListArchivedStreams(ctx context.Context, username string) ([]stream.Archive, error) {
	acct, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.store.ListArchivedStreams(ctx, acct.ID)
}

// UpdateArchivedStream edits the metadata of an archive owned by accountID.
func (s *Service) UpdateArchivedStream(ctx context.Context, accountID, streamID, title, description string, tags []string) (stream.Archive, error) {
	if strings.TrimSpace(title) == "" {
		return stream.Archive{}, apperr.Invalid("title", "stream title is required")
	}
	return s.store.UpdateArchivedStream(ctx, stream.Archive{
		ID:          streamID,
		AccountID:   accountID,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Tags:        tags,
	})
}

// DeleteArchivedStream removes an archive owned by accountID.
func (s *Service) DeleteArchivedStream(ctx context.Context, accountID, streamID string) error {
	return s.store.DeleteArchivedStream(ctx, accountID, streamID)
}
