package watcher_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"feedwatcher/internal/encryption"
	"feedwatcher/internal/model"
	"feedwatcher/internal/store"
	"feedwatcher/internal/testutil"
	"feedwatcher/internal/watcher"
)

type fixture struct {
	engine   *watcher.Engine
	repo     *watcher.Repository
	store    *store.MemoryStore
	clock    *testutil.StubClock
	source   *testutil.FakeSource
	creds    *testutil.FakeCredentials
	archive  *testutil.FakeArchive
	notifier *testutil.RecordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.FixedClock()
	repo, s := testutil.NewTestRepository(clock)
	f := &fixture{
		repo:     repo,
		store:    s,
		clock:    clock,
		source:   testutil.NewFakeSource(),
		creds:    testutil.SignedInCredentials(),
		archive:  testutil.NewFakeArchive(),
		notifier: &testutil.RecordingNotifier{},
	}
	opts := watcher.DefaultOptions()
	opts.TickPeriod = time.Hour
	opts.StartupDelay = time.Hour
	f.engine = watcher.NewEngine(repo, f.creds, f.source, f.archive, f.notifier, watcher.NewNopLogger(), clock, opts)
	return f
}

func (f *fixture) addFeed(t *testing.T, in watcher.FeedInput) model.Feed {
	t.Helper()
	if in.Kind == "" {
		in.Kind = model.FeedKindGroup
	}
	feed, err := f.repo.CreateFeed(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateFeed() error = %v", err)
	}
	return feed
}

func (f *fixture) feed(t *testing.T, id string) model.Feed {
	t.Helper()
	feed, err := f.repo.FindFeed(context.Background(), id)
	if err != nil {
		t.Fatalf("FindFeed() error = %v", err)
	}
	if feed == nil {
		t.Fatalf("feed %s not found", id)
	}
	return *feed
}

func (f *fixture) posts(t *testing.T, feedID string) map[string]model.Post {
	t.Helper()
	posts, err := f.repo.PostsForFeed(context.Background(), feedID)
	if err != nil {
		t.Fatalf("PostsForFeed() error = %v", err)
	}
	byID := make(map[string]model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	return byID
}

func (f *fixture) setCredential(t *testing.T) {
	t.Helper()
	if err := f.repo.SetArchiveCredential(context.Background(), "ghp_token"); err != nil {
		t.Fatalf("SetArchiveCredential() error = %v", err)
	}
}

func hoursAgo(clock watcher.Clock, h int) time.Time {
	return clock.Now().Add(-time.Duration(h) * time.Hour)
}

func TestEngine_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("scans only due active feeds", func(t *testing.T) {
		f := newFixture(t)
		recent := f.addFeed(t, watcher.FeedInput{Name: "Recent", UnitID: "1", IsActive: true})
		fresh := f.addFeed(t, watcher.FeedInput{Name: "Fresh", UnitID: "2", IsActive: true})
		f.addFeed(t, watcher.FeedInput{Name: "Paused", UnitID: "3", IsActive: false})

		lastScan := f.clock.Now().Add(-30 * time.Minute)
		if err := f.repo.RecordScan(ctx, recent.ID, lastScan); err != nil {
			t.Fatalf("RecordScan() error = %v", err)
		}

		f.engine.Tick(ctx)

		calls := f.source.Calls()
		if len(calls) != 1 || calls[0].UnitID != "2" {
			t.Fatalf("source calls = %+v, want one call for unit 2", calls)
		}

		status := f.engine.Status()
		if status.ActiveFeeds != 2 {
			t.Errorf("ActiveFeeds = %d, want 2", status.ActiveFeeds)
		}
		if got, want := status.NextScanTimes[recent.ID], lastScan.Add(60*time.Minute); !got.Equal(want) {
			t.Errorf("NextScanTimes[recent] = %v, want %v", got, want)
		}
		if got, want := status.NextScanTimes[fresh.ID], f.clock.Now().Add(-time.Second); !got.Equal(want) {
			t.Errorf("NextScanTimes[fresh] = %v, want %v", got, want)
		}
		if _, ok := status.ScanResults[fresh.ID]; !ok {
			t.Error("ScanResults has no entry for the scanned feed")
		}

		persisted, err := f.repo.LoadStatus(ctx)
		if err != nil {
			t.Fatalf("LoadStatus() error = %v", err)
		}
		if persisted.ActiveFeeds != 2 {
			t.Errorf("persisted ActiveFeeds = %d, want 2", persisted.ActiveFeeds)
		}
	})

	t.Run("scans a feed once its interval has elapsed", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Hourly", UnitID: "1", IsActive: true, ScanInterval: 60})
		if err := f.repo.RecordScan(ctx, feed.ID, f.clock.Now().Add(-61*time.Minute)); err != nil {
			t.Fatal(err)
		}

		f.engine.Tick(ctx)

		if len(f.source.Calls()) != 1 {
			t.Fatalf("source calls = %d, want 1", len(f.source.Calls()))
		}
		if got := f.feed(t, feed.ID).LastScan; got == nil || !got.Equal(f.clock.Now()) {
			t.Errorf("LastScan = %v, want %v", got, f.clock.Now())
		}
	})

	t.Run("no active feeds", func(t *testing.T) {
		f := newFixture(t)
		f.addFeed(t, watcher.FeedInput{Name: "Paused", UnitID: "3"})

		f.engine.Tick(ctx)

		if len(f.source.Calls()) != 0 {
			t.Errorf("source calls = %d, want 0", len(f.source.Calls()))
		}
		if f.engine.Status().ActiveFeeds != 0 {
			t.Errorf("ActiveFeeds = %d, want 0", f.engine.Status().ActiveFeeds)
		}
	})

	t.Run("a failing feed does not stop the others", func(t *testing.T) {
		f := newFixture(t)
		f.addFeed(t, watcher.FeedInput{Name: "A", UnitID: "1", IsActive: true})
		f.addFeed(t, watcher.FeedInput{Name: "B", UnitID: "2", IsActive: true})
		f.source.Err = errors.New("boom")

		f.engine.Tick(ctx)

		if len(f.source.Calls()) != 2 {
			t.Errorf("source calls = %d, want 2", len(f.source.Calls()))
		}
	})
}

func TestEngine_Tick_SingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFeed(t, watcher.FeedInput{Name: "Slow", UnitID: "1", IsActive: true})

	f.source.Block = make(chan struct{})
	f.source.Entered = make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.engine.Tick(ctx)
	}()

	select {
	case <-f.source.Entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never reached the source")
	}

	f.engine.Tick(ctx)
	if got := len(f.source.Calls()); got != 1 {
		t.Errorf("source calls during running tick = %d, want 1", got)
	}

	close(f.source.Block)
	wg.Wait()

	f.source.Block = nil
	f.clock.Advance(2 * time.Hour)
	f.engine.Tick(ctx)
	if got := len(f.source.Calls()); got != 2 {
		t.Errorf("source calls after tick finished = %d, want 2", got)
	}
}

func TestEngine_ScanFeed(t *testing.T) {
	ctx := context.Background()

	t.Run("stores only new items", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})

		created := hoursAgo(f.clock, 1)
		known := testutil.Item("10_1", "one", created, "7", "Ada")
		f.source.AddItems("10", known)
		if _, err := f.engine.ScanFeed(ctx, feed); err != nil {
			t.Fatalf("first ScanFeed() error = %v", err)
		}

		f.source.AddItems("10",
			testutil.Item("10_2", "two", created, "7", "Ada"),
			testutil.Item("10_3", "three", created, "8", "Bob"),
		)
		f.clock.Advance(time.Hour)
		result, err := f.engine.ScanFeed(ctx, f.feed(t, feed.ID))
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}

		if result.TotalScanned != 3 {
			t.Errorf("TotalScanned = %d, want 3", result.TotalScanned)
		}
		if len(result.NewPosts) != 2 {
			t.Fatalf("len(NewPosts) = %d, want 2", len(result.NewPosts))
		}
		if result.NewPosts[0].ID != "10_2" || result.NewPosts[1].ID != "10_3" {
			t.Errorf("NewPosts = %s, %s", result.NewPosts[0].ID, result.NewPosts[1].ID)
		}
		if len(result.Errors) != 0 {
			t.Errorf("Errors = %v, want none", result.Errors)
		}

		posts := f.posts(t, feed.ID)
		if len(posts) != 3 {
			t.Errorf("stored posts = %d, want 3", len(posts))
		}
		p, ok := posts[model.PostID(feed.ID, "10_2")]
		if !ok {
			t.Fatal("post 10_2 not stored under its composite id")
		}
		if p.FeedName != "Club" || p.FeedKind != model.FeedKindGroup || p.BackedUp {
			t.Errorf("stored post = %+v", p)
		}

		got := f.feed(t, feed.ID)
		if got.PostsCount != 3 {
			t.Errorf("PostsCount = %d, want 3", got.PostsCount)
		}
		if got.LastScan == nil || !got.LastScan.Equal(f.clock.Now()) {
			t.Errorf("LastScan = %v, want %v", got.LastScan, f.clock.Now())
		}
		if status := f.engine.Status(); status.LastScanTime == nil {
			t.Error("LastScanTime not set after a successful scan")
		}
	})

	t.Run("duplicate items within one batch are stored once", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})
		item := testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada")
		f.source.AddItems("10", item, item)

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}
		if len(result.NewPosts) != 1 {
			t.Errorf("len(NewPosts) = %d, want 1", len(result.NewPosts))
		}
		if len(f.posts(t, feed.ID)) != 1 {
			t.Errorf("stored posts = %d, want 1", len(f.posts(t, feed.ID)))
		}
	})

	t.Run("rescanning the same items stores nothing new", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))

		if _, err := f.engine.ScanFeed(ctx, feed); err != nil {
			t.Fatal(err)
		}
		result, err := f.engine.ScanFeed(ctx, f.feed(t, feed.ID))
		if err != nil {
			t.Fatal(err)
		}
		if len(result.NewPosts) != 0 {
			t.Errorf("len(NewPosts) = %d, want 0", len(result.NewPosts))
		}
		if len(f.posts(t, feed.ID)) != 1 {
			t.Errorf("stored posts = %d, want 1", len(f.posts(t, feed.ID)))
		}
	})

	t.Run("feeds sharing a unit keep separate posts", func(t *testing.T) {
		f := newFixture(t)
		a := f.addFeed(t, watcher.FeedInput{Name: "A", UnitID: "10"})
		b := f.addFeed(t, watcher.FeedInput{Name: "B", UnitID: "10"})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))

		for _, feed := range []model.Feed{a, b} {
			result, err := f.engine.ScanFeed(ctx, feed)
			if err != nil {
				t.Fatal(err)
			}
			if len(result.NewPosts) != 1 {
				t.Errorf("feed %s NewPosts = %d, want 1", feed.Name, len(result.NewPosts))
			}
		}

		all, err := f.repo.Posts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 {
			t.Errorf("stored posts = %d, want 2", len(all))
		}
	})

	t.Run("fetch window starts at last scan", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})

		if _, err := f.engine.ScanFeed(ctx, feed); err != nil {
			t.Fatal(err)
		}
		first := f.source.Calls()[0]
		if !first.Since.Equal(hoursAgo(f.clock, 24)) || !first.Until.Equal(f.clock.Now()) {
			t.Errorf("first window = [%v, %v]", first.Since, first.Until)
		}
		if first.Max != 10 {
			t.Errorf("first Max = %d, want 10", first.Max)
		}

		scannedAt := f.clock.Now()
		f.clock.Advance(time.Hour)
		if _, err := f.engine.ScanFeed(ctx, f.feed(t, feed.ID)); err != nil {
			t.Fatal(err)
		}
		second := f.source.Calls()[1]
		if !second.Since.Equal(scannedAt) || !second.Until.Equal(f.clock.Now()) {
			t.Errorf("second window = [%v, %v]", second.Since, second.Until)
		}
	})

	t.Run("not signed in writes nothing", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))
		f.creds.SignedIn = false
		writes := f.store.Writes()

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}
		if len(result.Errors) != 1 || result.Errors[0] != watcher.NotSignedInError {
			t.Errorf("Errors = %v, want [%q]", result.Errors, watcher.NotSignedInError)
		}
		if f.store.Writes() != writes {
			t.Errorf("store writes = %d, want %d", f.store.Writes(), writes)
		}
		if len(f.source.Calls()) != 0 {
			t.Errorf("source calls = %d, want 0", len(f.source.Calls()))
		}
		if len(f.notifier.Events()) != 0 {
			t.Errorf("events = %d, want 0", len(f.notifier.Events()))
		}
	})

	t.Run("source failure still advances last scan", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})
		f.source.Err = errors.New("rate limited")

		result, err := f.engine.ScanFeed(ctx, feed)
		if err == nil {
			t.Fatal("ScanFeed() expected error")
		}
		if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "rate limited") {
			t.Errorf("Errors = %v", result.Errors)
		}
		if got := f.feed(t, feed.ID).LastScan; got == nil || !got.Equal(f.clock.Now()) {
			t.Errorf("LastScan = %v, want %v", got, f.clock.Now())
		}
		status := f.engine.Status()
		if status.LastScanTime != nil {
			t.Errorf("LastScanTime = %v, want unset", status.LastScanTime)
		}
		if _, ok := status.ScanResults[feed.ID]; !ok {
			t.Error("failed scan result not recorded")
		}

		events := f.notifier.OfType(watcher.UpdateFeedScan)
		if len(events) != 2 {
			t.Fatalf("scan events = %d, want 2", len(events))
		}
		if last := events[1]; *last.Data.IsScanning || !strings.Contains(last.Data.Error, "rate limited") {
			t.Errorf("last scan event = %+v", last.Data)
		}
	})

	t.Run("authenticates when no session is cached", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})

		if _, err := f.engine.ScanFeed(ctx, feed); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.ScanFeed(ctx, f.feed(t, feed.ID)); err != nil {
			t.Fatal(err)
		}
		if f.creds.AuthCalls() != 1 {
			t.Errorf("AuthCalls() = %d, want 1", f.creds.AuthCalls())
		}
	})

	t.Run("authentication failure fails the scan", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})
		f.creds.AuthErr = errors.New("token expired")

		_, err := f.engine.ScanFeed(ctx, feed)
		if err == nil || !strings.Contains(err.Error(), "token expired") {
			t.Errorf("ScanFeed() error = %v", err)
		}
		if len(f.source.Calls()) != 0 {
			t.Errorf("source calls = %d, want 0", len(f.source.Calls()))
		}
	})

	t.Run("stamps last backup when new content is captured", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10"})

		if _, err := f.engine.ScanFeed(ctx, feed); err != nil {
			t.Fatal(err)
		}
		if got := f.feed(t, feed.ID).LastBackup; got != nil {
			t.Errorf("LastBackup = %v after an empty scan, want unset", got)
		}

		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))
		f.clock.Advance(time.Hour)
		if _, err := f.engine.ScanFeed(ctx, f.feed(t, feed.ID)); err != nil {
			t.Fatal(err)
		}
		if got := f.feed(t, feed.ID).LastBackup; got == nil || !got.Equal(f.clock.Now()) {
			t.Errorf("LastBackup = %v, want %v", got, f.clock.Now())
		}
		if len(f.archive.Requests()) != 0 {
			t.Errorf("archive requests = %d, want 0 with backups disabled", len(f.archive.Requests()))
		}
	})
}

func TestEngine_ScanFeed_Backup(t *testing.T) {
	ctx := context.Background()

	t.Run("archives new posts", func(t *testing.T) {
		f := newFixture(t)
		f.setCredential(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Book Club", UnitID: "10", BackupEnabled: true, BackupRepo: "octo/archive"})
		created := time.Date(2024, 1, 15, 9, 4, 5, 0, time.UTC)
		f.source.AddItems("10", testutil.Item("10_1", "hello", created, "7", "Ada Lovelace"))

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}
		if len(result.Errors) != 0 {
			t.Fatalf("Errors = %v", result.Errors)
		}

		reqs := f.archive.Requests()
		if len(reqs) != 1 {
			t.Fatalf("archive requests = %d, want 1", len(reqs))
		}
		req := reqs[0]
		wantPath := "posts/book-club/2024-01-15_09-04-05_ada-lovelace_10_1.mdx"
		if req.Owner != "octo" || req.Repo != "archive" || req.Path != wantPath {
			t.Errorf("request = %s/%s %s", req.Owner, req.Repo, req.Path)
		}
		if req.Message != "Add post from Book Club by Ada Lovelace: 10_1" {
			t.Errorf("Message = %q", req.Message)
		}
		if req.Author != watcher.DefaultCommitIdentity {
			t.Errorf("Author = %+v", req.Author)
		}
		if f.archive.Credentials()[0] != "ghp_token" {
			t.Errorf("credential = %q", f.archive.Credentials()[0])
		}
		if !strings.Contains(string(req.Content), "hello") {
			t.Errorf("document does not contain the message:\n%s", req.Content)
		}

		post := f.posts(t, feed.ID)[model.PostID(feed.ID, "10_1")]
		if !post.BackedUp || post.BackupPath != wantPath || post.BackupCommitSHA == "" {
			t.Errorf("post backup fields = %v %q %q", post.BackedUp, post.BackupPath, post.BackupCommitSHA)
		}

		events := f.notifier.OfType(watcher.UpdateFeedBackup)
		if len(events) != 2 || !*events[0].Data.IsBacking || *events[1].Data.IsBacking || events[1].Data.Error != "" {
			t.Errorf("backup events = %+v", events)
		}
	})

	t.Run("invalid destination is reported per post", func(t *testing.T) {
		f := newFixture(t)
		f.setCredential(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", BackupEnabled: true, BackupRepo: "onlyowner"})
		f.source.AddItems("10",
			testutil.Item("10_1", "one", hoursAgo(f.clock, 2), "7", "Ada"),
			testutil.Item("10_2", "two", hoursAgo(f.clock, 1), "7", "Ada"),
		)

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}
		if len(result.NewPosts) != 2 {
			t.Errorf("len(NewPosts) = %d, want 2", len(result.NewPosts))
		}
		if len(result.Errors) != 2 {
			t.Fatalf("Errors = %v, want 2", result.Errors)
		}
		for _, msg := range result.Errors {
			if !strings.HasPrefix(msg, "Backup failed: ") || !strings.Contains(msg, watcher.ErrInvalidDestination.Error()) {
				t.Errorf("error = %q", msg)
			}
		}
		for id, p := range f.posts(t, feed.ID) {
			if p.BackedUp {
				t.Errorf("post %s marked backed up", id)
			}
		}
		if len(f.archive.Requests()) != 0 {
			t.Errorf("archive requests = %d, want 0", len(f.archive.Requests()))
		}
	})

	t.Run("missing credential", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", BackupEnabled: true, BackupRepo: "octo/archive"})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}
		want := "Backup failed: " + watcher.ErrNoArchiveCredential.Error()
		if len(result.Errors) != 1 || result.Errors[0] != want {
			t.Errorf("Errors = %v, want [%q]", result.Errors, want)
		}
	})

	t.Run("archive without credential requirement", func(t *testing.T) {
		f := newFixture(t)
		f.archive.Required = false
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", BackupEnabled: true, BackupRepo: "octo/archive"})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil || len(result.Errors) != 0 {
			t.Fatalf("ScanFeed() = %v, %v", result.Errors, err)
		}
		if len(f.archive.Paths()) != 1 {
			t.Errorf("archived documents = %d, want 1", len(f.archive.Paths()))
		}
	})

	t.Run("one failed backup does not stop the next", func(t *testing.T) {
		f := newFixture(t)
		f.setCredential(t)
		f.archive.Fail = func(req watcher.PutFileRequest) error {
			if strings.HasSuffix(req.Path, "_10_1.mdx") {
				return errors.New("file already exists at path")
			}
			return nil
		}
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", BackupEnabled: true, BackupRepo: "octo/archive"})
		f.source.AddItems("10",
			testutil.Item("10_1", "one", hoursAgo(f.clock, 2), "7", "Ada"),
			testutil.Item("10_2", "two", hoursAgo(f.clock, 1), "7", "Ada"),
		)

		result, err := f.engine.ScanFeed(ctx, feed)
		if err != nil {
			t.Fatalf("ScanFeed() error = %v", err)
		}
		if len(result.Errors) != 1 || result.Errors[0] != "Backup failed: file already exists at path" {
			t.Errorf("Errors = %v", result.Errors)
		}

		posts := f.posts(t, feed.ID)
		if posts[model.PostID(feed.ID, "10_1")].BackedUp {
			t.Error("failed post marked backed up")
		}
		if !posts[model.PostID(feed.ID, "10_2")].BackedUp {
			t.Error("second post not backed up")
		}

		events := f.notifier.OfType(watcher.UpdateFeedBackup)
		if len(events) != 4 {
			t.Fatalf("backup events = %d, want 4", len(events))
		}
		if events[1].Data.Error == "" || events[3].Data.Error != "" {
			t.Errorf("backup event errors = %q, %q", events[1].Data.Error, events[3].Data.Error)
		}
	})

	t.Run("anonymous author is normalized before archiving", func(t *testing.T) {
		f := newFixture(t)
		f.setCredential(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", BackupEnabled: true, BackupRepo: "octo/archive"})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "", ""))

		if _, err := f.engine.ScanFeed(ctx, feed); err != nil {
			t.Fatal(err)
		}

		post := f.posts(t, feed.ID)[model.PostID(feed.ID, "10_1")]
		if post.Content.From == nil || post.Content.From.Name != model.AnonymousAuthorName || post.Content.From.ID != model.AnonymousAuthorID {
			t.Errorf("From = %+v", post.Content.From)
		}
		if reqs := f.archive.Requests(); len(reqs) != 1 || !strings.Contains(reqs[0].Path, "_anonymous-member_") {
			t.Errorf("archive requests = %+v", reqs)
		}
	})
}

func TestEngine_TriggerFeedScan(t *testing.T) {
	ctx := context.Background()

	t.Run("scans regardless of due time", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})
		if err := f.repo.RecordScan(ctx, feed.ID, f.clock.Now()); err != nil {
			t.Fatal(err)
		}
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))

		result, err := f.engine.TriggerFeedScan(ctx, feed.ID)
		if err != nil {
			t.Fatalf("TriggerFeedScan() error = %v", err)
		}
		if result.FeedID != feed.ID || result.FeedName != "Club" || len(result.NewPosts) != 1 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("unknown feed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.TriggerFeedScan(ctx, "missing")
		if !errors.Is(err, watcher.ErrFeedNotFound) {
			t.Errorf("TriggerFeedScan() error = %v, want ErrFeedNotFound", err)
		}
	})

	t.Run("persists the scan result", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})
		f.source.AddItems("10", testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada"))

		if _, err := f.engine.TriggerFeedScan(ctx, feed.ID); err != nil {
			t.Fatalf("TriggerFeedScan() error = %v", err)
		}

		persisted, err := f.repo.LoadStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		result, ok := persisted.ScanResults[feed.ID]
		if !ok || len(result.NewPosts) != 1 {
			t.Errorf("persisted ScanResults[%s] = %+v, %v", feed.ID, result, ok)
		}
		if persisted.LastScanTime == nil {
			t.Error("persisted LastScanTime = nil")
		}
	})

	t.Run("keeps results recorded by another process", func(t *testing.T) {
		f := newFixture(t)
		feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})

		daemon := model.NewWorkerStatus()
		daemon.IsRunning = true
		daemon.ScanResults["feed-other"] = model.ScanResult{FeedID: "feed-other", FeedName: "Other"}
		if err := f.repo.SaveStatus(ctx, daemon); err != nil {
			t.Fatal(err)
		}

		if _, err := f.engine.TriggerFeedScan(ctx, feed.ID); err != nil {
			t.Fatalf("TriggerFeedScan() error = %v", err)
		}

		persisted, err := f.repo.LoadStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := persisted.ScanResults["feed-other"]; !ok {
			t.Error("result of feed-other lost")
		}
		if _, ok := persisted.ScanResults[feed.ID]; !ok {
			t.Errorf("result of %s missing", feed.ID)
		}
		if !persisted.IsRunning {
			t.Error("persisted IsRunning = false, want the daemon's value kept")
		}
	})
}

func TestEngine_InitializeShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	feed := f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})
	post := model.Post{ID: model.PostID(feed.ID, "10_1"), FeedID: feed.ID, Content: testutil.Item("10_1", "one", hoursAgo(f.clock, 1), "7", "Ada")}
	if err := f.repo.StorePost(ctx, post); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := f.engine.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}

	if !f.engine.Status().IsRunning {
		t.Error("IsRunning = false after Initialize")
	}
	if got := f.feed(t, feed.ID).PostsCount; got != 1 {
		t.Errorf("PostsCount = %d after Initialize, want 1", got)
	}
	persisted, err := f.repo.LoadStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !persisted.IsRunning {
		t.Error("persisted IsRunning = false after Initialize")
	}

	f.engine.Tick(ctx)
	if len(f.engine.Status().NextScanTimes) == 0 {
		t.Fatal("NextScanTimes empty after a tick")
	}

	if err := f.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	status := f.engine.Status()
	if status.IsRunning || status.ActiveFeeds != 0 || len(status.NextScanTimes) != 0 || len(status.ScanResults) != 0 {
		t.Errorf("status after Shutdown = %+v", status)
	}
	persisted, err = f.repo.LoadStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.IsRunning {
		t.Error("persisted IsRunning = true after Shutdown")
	}
}

func TestEngine_Shutdown_WaitsForStartupTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFeed(t, watcher.FeedInput{Name: "Slow", UnitID: "1", IsActive: true})

	opts := watcher.DefaultOptions()
	opts.TickPeriod = time.Hour
	opts.StartupDelay = time.Millisecond
	engine := watcher.NewEngine(f.repo, f.creds, f.source, f.archive, f.notifier, watcher.NewNopLogger(), f.clock, opts)

	f.source.Block = make(chan struct{})
	f.source.Entered = make(chan struct{}, 1)

	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	select {
	case <-f.source.Entered:
	case <-time.After(5 * time.Second):
		t.Fatal("startup tick never reached the source")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	status := engine.Status()
	if status.IsRunning || status.ActiveFeeds != 0 || len(status.NextScanTimes) != 0 || len(status.ScanResults) != 0 {
		t.Errorf("status after Shutdown = %+v", status)
	}
	persisted, err := f.repo.LoadStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.IsRunning || len(persisted.ScanResults) != 0 {
		t.Errorf("persisted status after Shutdown = %+v", persisted)
	}
}

func TestEngine_Shutdown_BeforeStartupTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFeed(t, watcher.FeedInput{Name: "Club", UnitID: "10", IsActive: true})

	if err := f.engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.engine.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if shutdownCtx.Err() != nil {
		t.Error("Shutdown waited for a startup tick that was never going to run")
	}
	if got := len(f.source.Calls()); got != 0 {
		t.Errorf("source calls = %d, want 0", got)
	}
}

func TestEngine_Tick_CountsFeedsWrittenElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A second repository over the same store stands in for a CLI process.
	other := watcher.NewRepository(f.store, encryption.PlainSealer{}, f.clock, testutil.NewStubIDGenerator())
	if _, err := other.CreateFeed(ctx, watcher.FeedInput{Name: "Club", UnitID: "10", Kind: model.FeedKindGroup, IsActive: true}); err != nil {
		t.Fatalf("CreateFeed() error = %v", err)
	}
	if got := f.engine.Status().ActiveFeeds; got != 0 {
		t.Fatalf("ActiveFeeds = %d before a tick, want 0", got)
	}

	f.engine.Tick(ctx)
	if got := f.engine.Status().ActiveFeeds; got != 1 {
		t.Errorf("ActiveFeeds = %d after a tick, want 1", got)
	}
}

func TestEngine_FeedsChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.engine.FeedsChanged(ctx, `[{"id":"a","isActive":true},{"id":"b","isActive":true},{"id":"c","isActive":false}]`)
	if got := f.engine.Status().ActiveFeeds; got != 2 {
		t.Errorf("ActiveFeeds = %d, want 2", got)
	}

	f.engine.FeedsChanged(ctx, "")
	if got := f.engine.Status().ActiveFeeds; got != 0 {
		t.Errorf("ActiveFeeds = %d after removal, want 0", got)
	}

	f.engine.FeedsChanged(ctx, "{not json")
	if got := f.engine.Status().ActiveFeeds; got != 0 {
		t.Errorf("ActiveFeeds = %d after malformed value, want 0", got)
	}
}

func TestNextScanTime(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	last := now.Add(-10 * time.Minute)

	tests := []struct {
		name string
		feed model.Feed
		want time.Time
	}{
		{"never scanned", model.Feed{}, now.Add(-time.Second)},
		{"default interval", model.Feed{LastScan: &last}, last.Add(60 * time.Minute)},
		{"custom interval", model.Feed{LastScan: &last, ScanInterval: 15}, last.Add(15 * time.Minute)},
		{"non-positive interval", model.Feed{LastScan: &last, ScanInterval: -5}, last.Add(60 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := watcher.NextScanTime(tt.feed, now); !got.Equal(tt.want) {
				t.Errorf("NextScanTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDestination(t *testing.T) {
	owner, repo, err := watcher.ParseDestination("octo/archive")
	if err != nil || owner != "octo" || repo != "archive" {
		t.Errorf("ParseDestination() = %q, %q, %v", owner, repo, err)
	}
	for _, bad := range []string{"", "onlyowner", "a/b/c", "/repo", "owner/"} {
		if _, _, err := watcher.ParseDestination(bad); !errors.Is(err, watcher.ErrInvalidDestination) {
			t.Errorf("ParseDestination(%q) error = %v, want ErrInvalidDestination", bad, err)
		}
	}
}
