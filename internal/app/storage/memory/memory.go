package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/chat"
	"github.com/jive-live/jive-server/internal/app/domain/payment"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/storage"
)

type emailListing struct {
	Name  string
	Email string
}

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	accounts     map[string]account.Account
	idByUsername map[string]string
	idByEmail    map[string]string
	idByKey      map[string]string
	profiles     map[string]account.Profile
	passwords    map[string]string
	emailList    []emailListing
	follows      map[string]map[string]bool
	liveStreams  map[string]stream.Live
	archives     map[string]stream.Archive
	streamInfo   map[string]stream.Info
	messages     map[string]chat.Message
	transactions []payment.Transaction
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.FollowStore = (*Store)(nil)
var _ storage.StreamStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		accounts:     make(map[string]account.Account),
		idByUsername: make(map[string]string),
		idByEmail:    make(map[string]string),
		idByKey:      make(map[string]string),
		profiles:     make(map[string]account.Profile),
		passwords:    make(map[string]string),
		follows:      make(map[string]map[string]bool),
		liveStreams:  make(map[string]stream.Live),
		archives:     make(map[string]stream.Archive),
		streamInfo:   make(map[string]stream.Info),
		messages:     make(map[string]chat.Message),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func cloneTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func cloneInfo(info stream.Info) stream.Info {
	info.Tags = cloneTags(info.Tags)
	return info
}

func cloneArchive(arch stream.Archive) stream.Archive {
	arch.Tags = cloneTags(arch.Tags)
	return arch
}

// idLess orders account ids. Ids issued by this store are numeric strings, so
// compare numerically when possible.
func idLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

// AccountStore implementation -------------------------------------------------

func (s *Store) RegisterAccount(_ context.Context, acct account.Account, prof account.Profile, passwordHash string, info stream.Info) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(acct.Username)
	email := strings.ToLower(acct.Email)
	if _, exists := s.idByUsername[username]; exists {
		return account.Account{}, fmt.Errorf("username %s: %w", acct.Username, storage.ErrConflict)
	}
	if _, exists := s.idByEmail[email]; exists {
		return account.Account{}, fmt.Errorf("email %s: %w", acct.Email, storage.ErrConflict)
	}

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	prof.AccountID = acct.ID
	prof.Username = acct.Username
	prof.UpdatedAt = now

	info.AccountID = acct.ID
	info.Username = acct.Username
	info.UpdatedAt = now

	s.accounts[acct.ID] = acct
	s.idByUsername[username] = acct.ID
	s.idByEmail[email] = acct.ID
	if acct.StreamKey != "" {
		s.idByKey[acct.StreamKey] = acct.ID
	}
	s.profiles[acct.ID] = prof
	s.passwords[acct.ID] = passwordHash
	s.streamInfo[acct.ID] = cloneInfo(info)
	s.emailList = append(s.emailList, emailListing{Name: prof.Name, Email: acct.Email})

	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByUsername[strings.ToLower(username)]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", username, storage.ErrNotFound)
	}
	return s.accounts[id], nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByEmail[strings.ToLower(email)]
	if !ok {
		return account.Account{}, fmt.Errorf("account for %s: %w", email, storage.ErrNotFound)
	}
	return s.accounts[id], nil
}

func (s *Store) GetAccountByStreamKey(_ context.Context, key string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByKey[key]
	if !ok {
		return account.Account{}, fmt.Errorf("stream key: %w", storage.ErrNotFound)
	}
	return s.accounts[id], nil
}

func (s *Store) GetAccountByResetToken(_ context.Context, token string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token != "" {
		for _, acct := range s.accounts {
			if acct.ResetToken == token {
				return acct, nil
			}
		}
	}
	return account.Account{}, fmt.Errorf("reset token: %w", storage.ErrNotFound)
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account, prof account.Profile) (account.Account, account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, account.Profile{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}

	username := strings.ToLower(acct.Username)
	email := strings.ToLower(acct.Email)
	if other, exists := s.idByUsername[username]; exists && other != acct.ID {
		return account.Account{}, account.Profile{}, fmt.Errorf("username %s: %w", acct.Username, storage.ErrConflict)
	}
	if other, exists := s.idByEmail[email]; exists && other != acct.ID {
		return account.Account{}, account.Profile{}, fmt.Errorf("email %s: %w", acct.Email, storage.ErrConflict)
	}

	delete(s.idByUsername, strings.ToLower(current.Username))
	delete(s.idByEmail, strings.ToLower(current.Email))
	s.idByUsername[username] = acct.ID
	s.idByEmail[email] = acct.ID

	now := time.Now().UTC()
	acct.StreamKey = current.StreamKey
	acct.ResetToken = current.ResetToken
	acct.ResetExpires = current.ResetExpires
	acct.CreatedAt = current.CreatedAt
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct

	stored := s.profiles[acct.ID]
	stored.Username = acct.Username
	stored.Name = prof.Name
	stored.Picture = prof.Picture
	stored.UpdatedAt = now
	s.profiles[acct.ID] = stored

	if info, ok := s.streamInfo[acct.ID]; ok {
		info.Username = acct.Username
		s.streamInfo[acct.ID] = info
	}

	return acct, stored, nil
}

func (s *Store) GetProfile(_ context.Context, accountID string) (account.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prof, ok := s.profiles[accountID]
	if !ok {
		return account.Profile{}, fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}
	return prof, nil
}

func (s *Store) GetProfileByUsername(_ context.Context, username string) (account.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByUsername[strings.ToLower(username)]
	if !ok {
		return account.Profile{}, fmt.Errorf("profile %s: %w", username, storage.ErrNotFound)
	}
	return s.profiles[id], nil
}

func (s *Store) GetProfiles(_ context.Context, accountIDs []string) ([]account.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProfilesLocked(accountIDs), nil
}

func (s *Store) getProfilesLocked(accountIDs []string) []account.Profile {
	out := make([]account.Profile, 0, len(accountIDs))
	for _, id := range accountIDs {
		if prof, ok := s.profiles[id]; ok {
			out = append(out, prof)
		}
	}
	return out
}

func (s *Store) ListLiveProfiles(_ context.Context) ([]account.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLiveProfilesLocked(), nil
}

func (s *Store) listLiveProfilesLocked() []account.Profile {
	var out []account.Profile
	for _, prof := range s.profiles {
		if prof.CurrentlyLive {
			out = append(out, prof)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return idLess(out[j].AccountID, out[i].AccountID)
	})
	return out
}

// wordPattern matches term as a whole-word prefix, case-insensitively. Regex
// metacharacters in the term are escaped so user input cannot alter the
// pattern.
func wordPattern(term string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term))
}

func (s *Store) SearchProfiles(_ context.Context, term string) ([]account.Profile, error) {
	re, err := wordPattern(term)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchProfilesLocked(re), nil
}

func (s *Store) searchProfilesLocked(re *regexp.Regexp) []account.Profile {
	var out []account.Profile
	for _, prof := range s.profiles {
		if re.MatchString(prof.Name) || re.MatchString(prof.Username) {
			out = append(out, prof)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return idLess(out[i].AccountID, out[j].AccountID)
	})
	return out
}

func (s *Store) UpdatePushSubscription(_ context.Context, accountID, subscription string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[accountID]
	if !ok {
		return fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}
	prof.PushSubscription = subscription
	prof.UpdatedAt = time.Now().UTC()
	s.profiles[accountID] = prof
	return nil
}

func (s *Store) SetPaymentAccountID(_ context.Context, accountID, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[accountID]
	if !ok {
		return fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}
	prof.PaymentAccountID = paymentID
	prof.UpdatedAt = time.Now().UTC()
	s.profiles[accountID] = prof
	return nil
}

func (s *Store) GetPasswordHash(_ context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, ok := s.passwords[accountID]
	if !ok {
		return "", fmt.Errorf("password for %s: %w", accountID, storage.ErrNotFound)
	}
	return hash, nil
}

func (s *Store) UpdatePassword(_ context.Context, accountID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	s.passwords[accountID] = passwordHash
	acct.ResetToken = ""
	acct.ResetExpires = time.Time{}
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = acct
	return nil
}

func (s *Store) SetResetToken(_ context.Context, accountID, token string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	acct.ResetToken = token
	acct.ResetExpires = expires
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = acct
	return nil
}

// FollowStore implementation --------------------------------------------------

func (s *Store) CreateFollow(_ context.Context, followerID, followedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[followedID]; !ok {
		return fmt.Errorf("account %s: %w", followedID, storage.ErrNotFound)
	}
	set, ok := s.follows[followerID]
	if !ok {
		set = make(map[string]bool)
		s.follows[followerID] = set
	}
	set[followedID] = true
	return nil
}

func (s *Store) DeleteFollow(_ context.Context, followerID, followedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.follows[followerID]; ok {
		delete(set, followedID)
	}
	return nil
}

func (s *Store) IsFollowing(_ context.Context, followerID, followedID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.follows[followerID][followedID], nil
}

func (s *Store) ListFollowerIDs(_ context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for follower, set := range s.follows {
		if set[accountID] {
			out = append(out, follower)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	return out, nil
}

func (s *Store) ListFollowingIDs(_ context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for followed := range s.follows[accountID] {
		out = append(out, followed)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	return out, nil
}

// StreamStore implementation --------------------------------------------------

func (s *Store) StartStream(_ context.Context, ls stream.Live) (stream.Live, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[ls.AccountID]
	if !ok {
		return stream.Live{}, fmt.Errorf("profile %s: %w", ls.AccountID, storage.ErrNotFound)
	}
	if _, live := s.liveStreams[ls.AccountID]; live {
		return stream.Live{}, fmt.Errorf("stream for %s: %w", ls.AccountID, storage.ErrConflict)
	}

	if ls.ID == "" {
		ls.ID = s.nextIDLocked()
	}
	if ls.StartedAt.IsZero() {
		ls.StartedAt = time.Now().UTC()
	}
	ls.Username = prof.Username

	prof.CurrentlyLive = true
	prof.HasStreamed = true
	prof.UpdatedAt = time.Now().UTC()
	s.profiles[ls.AccountID] = prof
	s.liveStreams[ls.AccountID] = ls

	return ls, nil
}

func (s *Store) StopStream(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[accountID]
	if !ok {
		return fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}
	prof.CurrentlyLive = false
	prof.UpdatedAt = time.Now().UTC()
	s.profiles[accountID] = prof
	delete(s.liveStreams, accountID)
	return nil
}

func (s *Store) GetLiveStream(_ context.Context, accountID string) (stream.Live, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLiveStreamLocked(accountID)
}

func (s *Store) getLiveStreamLocked(accountID string) (stream.Live, error) {
	ls, ok := s.liveStreams[accountID]
	if !ok {
		return stream.Live{}, fmt.Errorf("live stream for %s: %w", accountID, storage.ErrNotFound)
	}
	return ls, nil
}

func (s *Store) ListLiveStreams(_ context.Context, limit int) ([]stream.Live, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLiveStreamsLocked(limit), nil
}

func (s *Store) listLiveStreamsLocked(limit int) []stream.Live {
	out := make([]stream.Live, 0, len(s.liveStreams))
	for _, ls := range s.liveStreams {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return idLess(out[j].ID, out[i].ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ArchiveStream(_ context.Context, arch stream.Archive) (stream.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.streamInfo[arch.AccountID]
	if !ok {
		return stream.Archive{}, fmt.Errorf("stream info %s: %w", arch.AccountID, storage.ErrNotFound)
	}

	if arch.ID == "" {
		arch.ID = s.nextIDLocked()
	}
	arch.CreatedAt = time.Now().UTC()
	s.archives[arch.ID] = cloneArchive(arch)

	info.TotalViews = 0
	info.UpdatedAt = arch.CreatedAt
	s.streamInfo[arch.AccountID] = info

	return arch, nil
}

func (s *Store) GetArchivedStream(_ context.Context, accountID, streamID string) (stream.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arch, ok := s.archives[streamID]
	if !ok || arch.AccountID != accountID {
		return stream.Archive{}, fmt.Errorf("archived stream %s: %w", streamID, storage.ErrNotFound)
	}
	return cloneArchive(arch), nil
}

func sortArchivesDesc(archives []stream.Archive) {
	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].StartedAt.Equal(archives[j].StartedAt) {
			return archives[i].StartedAt.After(archives[j].StartedAt)
		}
		return idLess(archives[j].ID, archives[i].ID)
	})
}

func (s *Store) ListArchivedStreams(_ context.Context, accountID string) ([]stream.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []stream.Archive
	for _, arch := range s.archives {
		if arch.AccountID == accountID {
			out = append(out, cloneArchive(arch))
		}
	}
	sortArchivesDesc(out)
	return out, nil
}

func (s *Store) ListLatestArchives(_ context.Context) ([]stream.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLatestArchivesLocked(), nil
}

func (s *Store) listLatestArchivesLocked() []stream.Archive {
	latest := make(map[string]stream.Archive)
	for _, arch := range s.archives {
		cur, ok := latest[arch.AccountID]
		if !ok || arch.StartedAt.After(cur.StartedAt) {
			latest[arch.AccountID] = arch
		}
	}
	out := make([]stream.Archive, 0, len(latest))
	for _, arch := range latest {
		out = append(out, cloneArchive(arch))
	}
	sortArchivesDesc(out)
	return out
}

func (s *Store) ListRecentArchives(_ context.Context, excludeIDs []string, limit int) ([]stream.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRecentArchivesLocked(excludeIDs, limit), nil
}

func (s *Store) listRecentArchivesLocked(excludeIDs []string, limit int) []stream.Archive {
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []stream.Archive
	for _, arch := range s.archives {
		if !excluded[arch.ID] {
			out = append(out, cloneArchive(arch))
		}
	}
	sortArchivesDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) UpdateArchivedStream(_ context.Context, arch stream.Archive) (stream.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.archives[arch.ID]
	if !ok || stored.AccountID != arch.AccountID {
		return stream.Archive{}, fmt.Errorf("archived stream %s: %w", arch.ID, storage.ErrNotFound)
	}
	stored.Title = arch.Title
	stored.Description = arch.Description
	stored.Tags = cloneTags(arch.Tags)
	s.archives[arch.ID] = stored
	return cloneArchive(stored), nil
}

func (s *Store) DeleteArchivedStream(_ context.Context, accountID, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	arch, ok := s.archives[streamID]
	if !ok || arch.AccountID != accountID {
		return fmt.Errorf("archived stream %s: %w", streamID, storage.ErrNotFound)
	}
	delete(s.archives, streamID)
	return nil
}

func (s *Store) GetStreamInfo(_ context.Context, accountID string) (stream.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStreamInfoLocked(accountID)
}

func (s *Store) getStreamInfoLocked(accountID string) (stream.Info, error) {
	info, ok := s.streamInfo[accountID]
	if !ok {
		return stream.Info{}, fmt.Errorf("stream info %s: %w", accountID, storage.ErrNotFound)
	}
	return cloneInfo(info), nil
}

func (s *Store) listStreamInfoLocked(accountIDs []string) []stream.Info {
	out := make([]stream.Info, 0, len(accountIDs))
	for _, id := range accountIDs {
		if info, ok := s.streamInfo[id]; ok {
			out = append(out, cloneInfo(info))
		}
	}
	return out
}

func (s *Store) UpdateStreamInfo(_ context.Context, info stream.Info) (stream.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.streamInfo[info.AccountID]
	if !ok {
		return stream.Info{}, fmt.Errorf("stream info %s: %w", info.AccountID, storage.ErrNotFound)
	}
	stored.Title = info.Title
	stored.Description = info.Description
	stored.Tags = cloneTags(info.Tags)
	stored.UpdatedAt = time.Now().UTC()
	s.streamInfo[info.AccountID] = stored
	return cloneInfo(stored), nil
}

func (s *Store) IncrementTotalViews(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.streamInfo[accountID]
	if !ok {
		return fmt.Errorf("stream info %s: %w", accountID, storage.ErrNotFound)
	}
	info.TotalViews++
	s.streamInfo[accountID] = info
	return nil
}

func (s *Store) SearchStreamInfo(_ context.Context, term string) ([]stream.Info, error) {
	re, err := wordPattern(term)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchStreamInfoLocked(re), nil
}

func (s *Store) searchStreamInfoLocked(re *regexp.Regexp) []stream.Info {
	var out []stream.Info
	for _, info := range s.streamInfo {
		if re.MatchString(info.Title) || re.MatchString(strings.Join(info.Tags, " ")) {
			out = append(out, cloneInfo(info))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return idLess(out[i].AccountID, out[j].AccountID)
	})
	return out
}

// ReadSnapshot holds the read lock for the duration of fn, so writers cannot
// interleave between the reads fn performs.
func (s *Store) ReadSnapshot(_ context.Context, fn func(storage.StreamReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(snapshot{s: s})
}

// snapshot exposes the aggregate reads without re-acquiring the store lock.
// It is only valid inside the ReadSnapshot callback that produced it.
type snapshot struct {
	s *Store
}

func (r snapshot) ListLiveProfiles(context.Context) ([]account.Profile, error) {
	return r.s.listLiveProfilesLocked(), nil
}

func (r snapshot) GetProfiles(_ context.Context, accountIDs []string) ([]account.Profile, error) {
	return r.s.getProfilesLocked(accountIDs), nil
}

func (r snapshot) SearchProfiles(_ context.Context, term string) ([]account.Profile, error) {
	re, err := wordPattern(term)
	if err != nil {
		return nil, err
	}
	return r.s.searchProfilesLocked(re), nil
}

func (r snapshot) ListLiveStreams(_ context.Context, limit int) ([]stream.Live, error) {
	return r.s.listLiveStreamsLocked(limit), nil
}

func (r snapshot) GetLiveStream(_ context.Context, accountID string) (stream.Live, error) {
	return r.s.getLiveStreamLocked(accountID)
}

func (r snapshot) GetStreamInfo(_ context.Context, accountID string) (stream.Info, error) {
	return r.s.getStreamInfoLocked(accountID)
}

func (r snapshot) ListStreamInfo(_ context.Context, accountIDs []string) ([]stream.Info, error) {
	return r.s.listStreamInfoLocked(accountIDs), nil
}

func (r snapshot) ListLatestArchives(context.Context) ([]stream.Archive, error) {
	return r.s.listLatestArchivesLocked(), nil
}

func (r snapshot) ListRecentArchives(_ context.Context, excludeIDs []string, limit int) ([]stream.Archive, error) {
	return r.s.listRecentArchivesLocked(excludeIDs, limit), nil
}

func (r snapshot) SearchStreamInfo(_ context.Context, term string) ([]stream.Info, error) {
	re, err := wordPattern(term)
	if err != nil {
		return nil, err
	}
	return r.s.searchStreamInfoLocked(re), nil
}

// ChatStore implementation ----------------------------------------------------

func (s *Store) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.nextIDLocked()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *Store) ListRecentMessages(_ context.Context, sentTo string, since time.Time) ([]chat.MessageWithSender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.MessageWithSender
	for _, msg := range s.messages {
		if msg.SentTo != sentTo || msg.SentAt.Before(since) {
			continue
		}
		prof, ok := s.profiles[msg.SenderID]
		if !ok {
			continue
		}
		out = append(out, chat.MessageWithSender{
			Message:        msg,
			SenderUsername: prof.Username,
			SenderName:     prof.Name,
			SenderPicture:  prof.Picture,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return idLess(out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *Store) AddVote(_ context.Context, senderID, messageID, sentTo string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.SenderID != senderID || msg.SentTo != sentTo {
		return fmt.Errorf("chat message %s: %w", messageID, storage.ErrNotFound)
	}
	msg.Votes += delta
	s.messages[messageID] = msg
	return nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx payment.Transaction) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string) ([]payment.TransactionWithSender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.TransactionWithSender
	for _, tx := range s.transactions {
		if tx.ToID != accountID {
			continue
		}
		prof, ok := s.profiles[tx.FromID]
		if !ok {
			continue
		}
		out = append(out, payment.TransactionWithSender{
			Transaction:    tx,
			SenderUsername: prof.Username,
			SenderName:     prof.Name,
			SenderPicture:  prof.Picture,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return idLess(out[j].ID, out[i].ID)
	})
	return out, nil
}
