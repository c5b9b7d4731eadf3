package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"feedwatcher/internal/model"
)

// Options tunes the engine's cadence and page sizes.
type Options struct {
	TickPeriod     time.Duration  // Period of the recurring tick
	StartupDelay   time.Duration  // Delay of the first tick after Initialize
	ScanPageSize   int            // Items fetched per scan
	DatePageSize   int            // Items fetched per date backfill
	RequestTimeout time.Duration  // Bound on each network call; 0 means none
	CommitAuthor   CommitIdentity // Identity archive commits are attributed to
}

// DefaultOptions returns the standard cadence: a tick every minute, the first one a second after start.
func DefaultOptions() Options {
	return Options{
		TickPeriod:   60 * time.Second,
		StartupDelay: time.Second,
		ScanPageSize: 10,
		DatePageSize: 100,
		CommitAuthor: DefaultCommitIdentity,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickPeriod <= 0 {
		o.TickPeriod = d.TickPeriod
	}
	if o.StartupDelay <= 0 {
		o.StartupDelay = d.StartupDelay
	}
	if o.ScanPageSize <= 0 {
		o.ScanPageSize = d.ScanPageSize
	}
	if o.DatePageSize <= 0 {
		o.DatePageSize = d.DatePageSize
	}
	if o.CommitAuthor.Name == "" {
		o.CommitAuthor = d.CommitAuthor
	}
	return o
}

// Engine is the polling engine. One Engine owns the scan loop of a process;
// construct it once and share the pointer with the message boundary.
type Engine struct {
	repo     *Repository
	creds    CredentialProvider
	source   FeedSource
	archive  Archive
	notifier Notifier
	logger   Logger
	clock    Clock
	opts     Options

	lifecycle   sync.Mutex // serializes Initialize and Shutdown
	initialized bool
	sched       *cron.Cron
	startTimer  *time.Timer
	startup     sync.WaitGroup // the startup tick, from start until it returns or is stopped
	cancelLoop  context.CancelFunc

	ticking atomic.Bool // single-flight guard of Tick

	mu     sync.Mutex // guards status
	status model.WorkerStatus
}

// NewEngine creates an Engine with the provided collaborators.
func NewEngine(repo *Repository, creds CredentialProvider, source FeedSource, archive Archive, notifier Notifier, logger Logger, clock Clock, opts Options) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		repo:     repo,
		creds:    creds,
		source:   source,
		archive:  archive,
		notifier: notifier,
		logger:   logger,
		clock:    clock,
		opts:     opts.withDefaults(),
		status:   model.NewWorkerStatus(),
	}
}

// Initialize loads the persisted status, refreshes every feed's posts count,
// starts the tick schedule and marks the engine running.
// Calling Initialize on a running engine does nothing.
func (e *Engine) Initialize(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.initialized {
		return nil
	}

	status, err := e.repo.LoadStatus(ctx)
	if err != nil {
		e.logger.Warn("loading worker status, using defaults", "error", err)
	}
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()

	if _, err := e.UpdatePostsCounts(ctx); err != nil {
		e.logger.Warn("refreshing posts counts", "error", err)
	}

	e.startLoop()

	e.mu.Lock()
	e.status.IsRunning = true
	e.mu.Unlock()
	e.saveStatus(ctx)

	e.initialized = true
	e.logger.Info("engine started", "tick_period", e.opts.TickPeriod.String())
	return nil
}

func (e *Engine) startLoop() {
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancelLoop = cancel

	e.sched = cron.New()
	e.sched.Schedule(cron.Every(e.opts.TickPeriod), cron.FuncJob(func() { e.Tick(loopCtx) }))
	e.sched.Start()

	e.startup.Add(1)
	e.startTimer = time.AfterFunc(e.opts.StartupDelay, func() {
		defer e.startup.Done()
		e.Tick(loopCtx)
	})
}

// waitFor returns when wait returns or ctx ends, whichever comes first.
func waitFor(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the tick schedule, clears the derived status and persists it.
// It waits for a running tick, scheduled or startup, to return or for ctx to
// end, whichever comes first.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.startTimer != nil {
		if e.startTimer.Stop() {
			e.startup.Done()
		}
		e.startTimer = nil
	}
	if e.cancelLoop != nil {
		e.cancelLoop()
		e.cancelLoop = nil
	}
	if e.sched != nil {
		if err := waitFor(ctx, func() { <-e.sched.Stop().Done() }); err != nil {
			e.logger.Warn("shutdown did not wait for the running tick", "error", err)
		}
		e.sched = nil
	}
	if err := waitFor(ctx, e.startup.Wait); err != nil {
		e.logger.Warn("shutdown did not wait for the startup tick", "error", err)
	}

	e.mu.Lock()
	e.status.IsRunning = false
	e.status.ActiveFeeds = 0
	e.status.NextScanTimes = make(map[string]time.Time)
	e.status.ScanResults = make(map[string]model.ScanResult)
	e.mu.Unlock()

	e.initialized = false
	if err := e.repo.SaveStatus(ctx, e.Status()); err != nil {
		return fmt.Errorf("saving worker status: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

// Status returns a snapshot of the worker status.
func (e *Engine) Status() model.WorkerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Clone()
}

// saveStatus persists the status. Failures are logged, never returned.
func (e *Engine) saveStatus(ctx context.Context) {
	if err := e.repo.SaveStatus(ctx, e.Status()); err != nil {
		e.logger.Warn("saving worker status", "error", err)
	}
}

func (e *Engine) setActiveFeeds(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.ActiveFeeds = n
}

func (e *Engine) setNextScanTime(feedID string, t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.NextScanTimes[feedID] = t
}

func (e *Engine) recordResult(result *model.ScanResult, finishedAt *time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if finishedAt != nil {
		t := *finishedAt
		e.status.LastScanTime = &t
	}
	e.status.ScanResults[result.FeedID] = *result
}

func activeFeeds(feeds []model.Feed) []model.Feed {
	var active []model.Feed
	for _, f := range feeds {
		if f.IsActive {
			active = append(active, f)
		}
	}
	return active
}

// FeedsChanged folds an externally written feed list into the active feed count.
func (e *Engine) FeedsChanged(ctx context.Context, raw string) {
	var feeds []model.Feed
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &feeds); err != nil {
			e.logger.Warn("decoding changed feed list", "error", err)
			return
		}
	}
	e.setActiveFeeds(len(activeFeeds(feeds)))
	e.saveStatus(ctx)
}

// NextScanTime returns when feed is next due. A feed that was never scanned
// is due a second before now.
func NextScanTime(feed model.Feed, now time.Time) time.Time {
	if feed.LastScan == nil {
		return now.Add(-time.Second)
	}
	return feed.LastScan.Add(feed.Interval())
}

// Tick runs one pass of the loop: every active feed that is due gets scanned.
// A Tick that starts while another is running returns immediately.
func (e *Engine) Tick(ctx context.Context) {
	if !e.ticking.CompareAndSwap(false, true) {
		e.logger.Debug("tick skipped, previous tick still running")
		return
	}
	defer e.ticking.Store(false)

	feeds, err := e.repo.Feeds(ctx)
	if err != nil {
		e.logger.Error("loading feeds", "error", err)
		return
	}

	active := activeFeeds(feeds)
	e.setActiveFeeds(len(active))
	if len(active) == 0 {
		e.saveStatus(ctx)
		return
	}

	for _, feed := range active {
		if ctx.Err() != nil {
			break
		}
		e.checkAndScanFeed(ctx, feed)
	}

	e.saveStatus(ctx)
}

func (e *Engine) checkAndScanFeed(ctx context.Context, feed model.Feed) {
	now := e.clock.Now()
	next := NextScanTime(feed, now)
	e.setNextScanTime(feed.ID, next)

	if now.Before(next) {
		return
	}
	if _, err := e.ScanFeed(ctx, feed); err != nil {
		e.logger.Warn("scan failed", "feed_id", feed.ID, "error", err)
	}
}

// TriggerFeedScan scans the feed immediately, regardless of its due time,
// and persists the status with the scan's result.
//
// An engine that is not running (a one-shot CLI scan) first adopts the
// persisted status, so the save keeps what a running daemon recorded.
func (e *Engine) TriggerFeedScan(ctx context.Context, feedID string) (*model.ScanResult, error) {
	feed, err := e.repo.FindFeed(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("looking up feed: %w", err)
	}
	if feed == nil {
		return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}

	e.adoptPersistedStatus(ctx)
	result, err := e.ScanFeed(ctx, *feed)
	e.saveStatus(ctx)
	return result, err
}

// adoptPersistedStatus replaces the in-memory status with the persisted one
// unless the engine is running, in which case memory is authoritative.
func (e *Engine) adoptPersistedStatus(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.initialized {
		return
	}

	status, err := e.repo.LoadStatus(ctx)
	if err != nil {
		e.logger.Warn("loading worker status, keeping in-memory status", "error", err)
		return
	}
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

// withTimeout bounds a single network call when a request timeout is configured.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.opts.RequestTimeout)
}

func (e *Engine) ensureSession(ctx context.Context) error {
	if e.creds.HasSession() {
		return nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.creds.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

func (e *Engine) listItems(ctx context.Context, feed model.Feed, since, until time.Time, max int) ([]model.SourcePost, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	items, err := e.source.ListItems(ctx, feed.UnitID, feed.Kind, since, until, max)
	if err != nil {
		return nil, fmt.Errorf("listing items of feed %s: %w", feed.ID, err)
	}
	return items, nil
}

// newItems returns the items whose source id is not yet stored for feedID, in input order.
func (e *Engine) newItems(ctx context.Context, feedID string, items []model.SourcePost) ([]model.SourcePost, error) {
	existing, err := e.repo.PostsForFeed(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("loading stored posts: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.SourceID()] = true
	}

	var fresh []model.SourcePost
	for _, item := range items {
		if known[item.ID] {
			continue
		}
		known[item.ID] = true
		fresh = append(fresh, item)
	}
	return fresh, nil
}

func (e *Engine) newPost(feed model.Feed, item model.SourcePost) model.Post {
	now := e.clock.Now()
	return model.Post{
		ID:        model.PostID(feed.ID, item.ID),
		FeedID:    feed.ID,
		FeedName:  feed.Name,
		FeedKind:  feed.Kind,
		Content:   item,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
