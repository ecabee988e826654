package streams

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/internal/app/storage/memory"
)

func testConfig() Config {
	return Config{
		ThumbnailBaseURL: "https://cdn.jive.live/thumbnails",
		ArchiveBaseURL:   "https://cdn.jive.live/archives",
	}
}

func registerStreamer(t *testing.T, store *memory.Store, username string) account.Account {
	t.Helper()
	acct, err := store.RegisterAccount(context.Background(),
		account.Account{
			Username:  username,
			Email:     username + "@example.com",
			StreamKey: "key-" + username,
		},
		account.Profile{Name: "The " + username},
		"hash",
		stream.Info{Title: "@" + username + "'s Stream"},
	)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return acct
}

func TestService_StartStopStream(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)
	acct := registerStreamer(t, store, "alice")

	ls, err := svc.StartStream(context.Background(), acct.StreamKey)
	if err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if ls.AccountID != acct.ID {
		t.Fatalf("stream owner %q, want %q", ls.AccountID, acct.ID)
	}
	if ls.Thumbnail != "https://cdn.jive.live/thumbnails/"+acct.StreamKey+".png" {
		t.Fatalf("unexpected thumbnail: %s", ls.Thumbnail)
	}

	prof, err := store.GetProfile(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if !prof.CurrentlyLive || !prof.HasStreamed {
		t.Fatalf("live flags not set: live=%v streamed=%v", prof.CurrentlyLive, prof.HasStreamed)
	}

	// A second start for the same account is a conflict, not a second row.
	if _, err := svc.StartStream(context.Background(), acct.StreamKey); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("double start: got %v, want conflict", err)
	}

	if err := svc.StopStream(context.Background(), acct.StreamKey); err != nil {
		t.Fatalf("stop stream: %v", err)
	}
	prof, _ = store.GetProfile(context.Background(), acct.ID)
	if prof.CurrentlyLive {
		t.Fatal("profile still live after stop")
	}
	got, err := svc.GetLiveStream(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get live stream: %v", err)
	}
	if got != nil {
		t.Fatal("live stream row survived stop")
	}
}

func TestService_StartStreamUnknownKey(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)
	if _, err := svc.StartStream(context.Background(), "no-such-key"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown key: got %v, want not found", err)
	}
}

func TestParseRecordingName(t *testing.T) {
	key, startedAt, err := parseRecordingName("key-alice_360p_2026-03-01-18.30.00.000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key != "key-alice" {
		t.Fatalf("key %q, want key-alice", key)
	}
	want := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	if !startedAt.Equal(want) {
		t.Fatalf("start %v, want %v", startedAt, want)
	}

	for _, name := range []string{"", "nounderscore", "_leading_2026-03-01-18.30.00.000", "key_part_notatime"} {
		if _, _, err := parseRecordingName(name); !errors.Is(err, apperr.ErrInvalid) {
			t.Fatalf("parse %q: got %v, want invalid", name, err)
		}
	}
}

func TestService_ArchiveStreamCopiesInfoAndResetsViews(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)
	acct := registerStreamer(t, store, "alice")

	if _, err := svc.UpdateStreamInfo(context.Background(), acct.ID, "Crafting night", "lo-fi", []string{"craft", "chill"}); err != nil {
		t.Fatalf("update stream info: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := svc.IncrementViews(context.Background(), acct.ID); err != nil {
			t.Fatalf("increment views: %v", err)
		}
	}

	name := fmt.Sprintf("%s_source_%s", acct.StreamKey, time.Now().UTC().Add(-time.Hour).Format(recordingTimeLayout))
	arch, err := svc.ArchiveStream(context.Background(), name)
	if err != nil {
		t.Fatalf("archive stream: %v", err)
	}
	if arch.Title != "Crafting night" || arch.Views != 5 {
		t.Fatalf("archive did not copy metadata: title=%q views=%d", arch.Title, arch.Views)
	}
	if arch.StreamFile != "https://cdn.jive.live/archives/"+name+"/index.m3u8" {
		t.Fatalf("unexpected stream file: %s", arch.StreamFile)
	}
	if arch.Duration == "" {
		t.Fatal("duration not computed")
	}

	info, err := svc.GetStreamInfo(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get stream info: %v", err)
	}
	if info.TotalViews != 0 {
		t.Fatalf("view counter not reset: %d", info.TotalViews)
	}

	archives, err := store.ListArchivedStreams(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list archives: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected exactly one archive, got %d", len(archives))
	}
}

func TestService_FeedJoinsByAccountID(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)

	alice := registerStreamer(t, store, "alice")
	bob := registerStreamer(t, store, "bob")
	registerStreamer(t, store, "carol") // never goes live

	if _, err := svc.StartStream(context.Background(), alice.StreamKey); err != nil {
		t.Fatalf("start alice: %v", err)
	}
	if _, err := svc.StartStream(context.Background(), bob.StreamKey); err != nil {
		t.Fatalf("start bob: %v", err)
	}

	entries, err := svc.Feed(context.Background())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 feed entries, got %d", len(entries))
	}
	for _, e := range entries {
		want := "@" + e.Username + "'s Stream"
		if e.Title != want {
			t.Fatalf("entry for %s carries title %q, want %q", e.Username, e.Title, want)
		}
		if !e.CurrentlyLive {
			t.Fatalf("feed entry for %s not marked live", e.Username)
		}
	}
}

func TestService_FeaturedCapAndDedup(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)

	// Three live streamers plus a pile of archives, enough to overflow the
	// front page.
	for i := 0; i < 3; i++ {
		acct := registerStreamer(t, store, fmt.Sprintf("live%d", i))
		if _, err := svc.StartStream(context.Background(), acct.StreamKey); err != nil {
			t.Fatalf("start stream: %v", err)
		}
	}
	for i := 0; i < 6; i++ {
		acct := registerStreamer(t, store, fmt.Sprintf("vod%d", i))
		for j := 0; j < 3; j++ {
			started := time.Now().UTC().Add(-time.Duration(24*(j+1)) * time.Hour)
			name := fmt.Sprintf("%s_source_%s", acct.StreamKey, started.Format(recordingTimeLayout))
			if _, err := svc.ArchiveStream(context.Background(), name); err != nil {
				t.Fatalf("archive: %v", err)
			}
		}
	}

	entries, err := svc.Featured(context.Background())
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	if len(entries) != featuredLimit {
		t.Fatalf("expected %d entries, got %d", featuredLimit, len(entries))
	}

	// Live broadcasts lead the page.
	for i := 0; i < 3; i++ {
		if !entries[i].IsLive {
			t.Fatalf("entry %d not live", i)
		}
	}
	for i := 3; i < len(entries); i++ {
		if entries[i].IsLive {
			t.Fatalf("entry %d marked live", i)
		}
	}

	// No stream appears twice and every entry has its profile attached.
	seen := map[string]bool{}
	for _, e := range entries {
		if seen[e.StreamID] {
			t.Fatalf("stream %s listed twice", e.StreamID)
		}
		seen[e.StreamID] = true
		if e.Name == "" {
			t.Fatalf("entry %s missing profile name", e.StreamID)
		}
	}

	// Each archived streamer's newest upload outranks anyone's second-newest.
	perStreamer := map[string]int{}
	for _, e := range entries[3:9] {
		perStreamer[e.AccountID]++
	}
	if len(perStreamer) != 6 {
		t.Fatalf("expected one archive per streamer first, got %v", perStreamer)
	}
}

func TestService_SearchEscapesTerm(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)

	alice := registerStreamer(t, store, "alice")
	if _, err := svc.UpdateStreamInfo(context.Background(), alice.ID, "a.b special", "", nil); err != nil {
		t.Fatalf("update info: %v", err)
	}
	axb := registerStreamer(t, store, "axb")
	if _, err := svc.UpdateStreamInfo(context.Background(), axb.ID, "aXb plain", "", nil); err != nil {
		t.Fatalf("update info: %v", err)
	}

	// The dot is literal: "a.b" must not match "aXb".
	results, err := svc.Search(context.Background(), "a.b")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, prof := range results.Profiles {
		if prof.Username == "axb" {
			t.Fatal("metacharacter matched as regex")
		}
	}

	results, err = svc.Search(context.Background(), "alice")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results.Profiles) != 1 || results.Profiles[0].Username != "alice" {
		t.Fatalf("username search: got %+v", results.Profiles)
	}
	if len(results.Streams) != 0 {
		t.Fatalf("offline streamer produced live results: %+v", results.Streams)
	}

	if _, err := svc.Search(context.Background(), "   "); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("blank search: got %v", err)
	}
}

func TestService_SearchEnrichesLiveMatches(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)

	alice := registerStreamer(t, store, "alice")
	if _, err := svc.UpdateStreamInfo(context.Background(), alice.ID, "cooking show", "", []string{"food"}); err != nil {
		t.Fatalf("update info: %v", err)
	}
	if _, err := svc.StartStream(context.Background(), alice.StreamKey); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Matching the title alone still yields the live stream with profile
	// fields attached.
	results, err := svc.Search(context.Background(), "cooking")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results.Streams) != 1 {
		t.Fatalf("expected 1 live result, got %d", len(results.Streams))
	}
	got := results.Streams[0]
	if got.Username != "alice" || got.Title != "cooking show" {
		t.Fatalf("join broken: %+v", got)
	}
}

func TestService_RandomStreamEmpty(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)
	ls, err := svc.RandomStream(context.Background())
	if err != nil {
		t.Fatalf("random stream: %v", err)
	}
	if ls != nil {
		t.Fatalf("expected nil with nothing live, got %+v", ls)
	}
}

func TestService_ViewerCountOffline(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)
	acct := registerStreamer(t, store, "alice")

	count, isLive, err := svc.ViewerCount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("viewer count: %v", err)
	}
	if count != nil || isLive {
		t.Fatalf("offline account reported live: count=%v isLive=%v", count, isLive)
	}
}

func TestService_FeedUnchangedByConcurrentStop(t *testing.T) {
	store := memory.New()
	svc := New(store, store, testConfig(), nil)
	acct := registerStreamer(t, store, "alice")
	if _, err := svc.StartStream(context.Background(), acct.StreamKey); err != nil {
		t.Fatalf("start stream: %v", err)
	}

	stopped := make(chan error, 1)
	err := store.ReadSnapshot(context.Background(), func(r storage.StreamReader) error {
		profiles, err := r.ListLiveProfiles(context.Background())
		if err != nil {
			return err
		}

		// The stop has to wait for the snapshot, so the stream row below
		// must still match the live profile read above.
		go func() { stopped <- svc.StopStream(context.Background(), acct.StreamKey) }()
		time.Sleep(20 * time.Millisecond)

		lives, err := r.ListLiveStreams(context.Background(), 0)
		if err != nil {
			return err
		}
		if len(profiles) != 1 || len(lives) != 1 {
			t.Fatalf("torn read: %d live profiles, %d stream rows", len(profiles), len(lives))
		}
		if lives[0].AccountID != profiles[0].AccountID {
			t.Fatalf("stream row %q does not match profile %q", lives[0].AccountID, profiles[0].AccountID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	if err := <-stopped; err != nil {
		t.Fatalf("stop stream: %v", err)
	}
	feed, err := svc.Feed(context.Background())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 0 {
		t.Fatalf("feed not empty after stop: %+v", feed)
	}
}
