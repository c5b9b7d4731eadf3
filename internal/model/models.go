package model

import (
	"fmt"
	"strings"
	"time"
)

// FeedKind identifies which edge of the feed source a feed is polled from.
type FeedKind string

const (
	FeedKindProfile FeedKind = "profile"
	FeedKindGroup   FeedKind = "group"
)

// Valid reports whether k is one of the known feed kinds.
func (k FeedKind) Valid() bool {
	return k == FeedKindProfile || k == FeedKindGroup
}

// DefaultScanInterval is the scan interval in minutes used when a feed has none.
const DefaultScanInterval = 60

// Sentinel author values substituted when the source omits the author.
const (
	AnonymousAuthorID   = "0"
	AnonymousAuthorName = "Anonymous Member"
)

// Feed represents a monitored profile or group.
// The JSON field names match the persisted layout of the "watcher_feeds" key.
type Feed struct {
	ID            string     `json:"id"`                   // UUID, immutable
	Name          string     `json:"name"`                 // Display name
	Kind          FeedKind   `json:"type"`                 // profile or group
	URL           string     `json:"url,omitempty"`        // Link to the feed on the source site
	UnitID        string     `json:"unitId"`               // Source-side numeric id
	IsActive      bool       `json:"isActive"`             // Polled by the engine
	BackupEnabled bool       `json:"backupEnabled"`        // Archive new posts
	BackupRepo    string     `json:"backupRepo,omitempty"` // owner/repo
	ScanInterval  int        `json:"backupInterval"`       // Minutes between scans
	LastBackup    *time.Time `json:"lastBackup,omitempty"` // Last time new content was captured
	LastScan      *time.Time `json:"lastScan,omitempty"`
	PostsCount    int        `json:"postsCount"` // Cached, recomputed from the post store
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NormalizeInterval coerces a scan interval to a positive number of minutes.
func NormalizeInterval(minutes int) int {
	if minutes <= 0 {
		return DefaultScanInterval
	}
	return minutes
}

// Interval returns the feed's scan interval as a duration.
func (f Feed) Interval() time.Duration {
	return time.Duration(NormalizeInterval(f.ScanInterval)) * time.Minute
}

// Author is the poster of a source item.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AttachmentImage struct {
	Src string `json:"src"`
}

type AttachmentMedia struct {
	Image *AttachmentImage `json:"image,omitempty"`
}

// Attachment is one entry of a source item's attachment list.
type Attachment struct {
	Type        string           `json:"type"`
	Media       *AttachmentMedia `json:"media,omitempty"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	URL         string           `json:"url,omitempty"`
}

// ImageURL returns the attachment's image source, if any.
func (a Attachment) ImageURL() string {
	if a.Media == nil || a.Media.Image == nil {
		return ""
	}
	return a.Media.Image.Src
}

type Attachments struct {
	Data []Attachment `json:"data"`
}

type ReactionSummary struct {
	TotalCount int `json:"total_count"`
}

type Reactions struct {
	Summary ReactionSummary `json:"summary"`
}

// SourcePost is an item exactly as returned by the feed source.
// Field names follow the source API so stored content stays verbatim.
type SourcePost struct {
	ID          string       `json:"id"`
	Message     string       `json:"message,omitempty"`
	CreatedTime string       `json:"created_time"`
	UpdatedTime string       `json:"updated_time,omitempty"`
	From        *Author      `json:"from,omitempty"`
	Attachments *Attachments `json:"attachments,omitempty"`
	Reactions   *Reactions   `json:"reactions,omitempty"`
	IsBroadcast bool         `json:"is_broadcast,omitempty"`
}

// sourceTimeLayouts are the timestamp formats the feed source is known to emit.
var sourceTimeLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// ParseSourceTime parses a source timestamp and returns it in UTC.
func ParseSourceTime(s string) (time.Time, error) {
	for _, layout := range sourceTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// CreatedAt returns the parsed creation time of the item.
func (p SourcePost) CreatedAt() (time.Time, error) {
	return ParseSourceTime(p.CreatedTime)
}

// ReactionCount returns the total reaction count, 0 if absent.
func (p SourcePost) ReactionCount() int {
	if p.Reactions == nil {
		return 0
	}
	return p.Reactions.Summary.TotalCount
}

// AttachmentList returns the attachments, nil if absent.
func (p SourcePost) AttachmentList() []Attachment {
	if p.Attachments == nil {
		return nil
	}
	return p.Attachments.Data
}

// AuthorName returns the author's name or the anonymous sentinel.
func (p SourcePost) AuthorName() string {
	if p.From == nil || p.From.Name == "" {
		return AnonymousAuthorName
	}
	return p.From.Name
}

// AuthorID returns the author's id or the anonymous sentinel.
func (p SourcePost) AuthorID() string {
	if p.From == nil || p.From.ID == "" {
		return AnonymousAuthorID
	}
	return p.From.ID
}

// NormalizeAuthor fills a missing author with the anonymous sentinels.
// It reports whether the content was changed.
func (p *SourcePost) NormalizeAuthor() bool {
	if p.From != nil && p.From.ID != "" && p.From.Name != "" {
		return false
	}
	p.From = &Author{ID: p.AuthorID(), Name: p.AuthorName()}
	return true
}

// Post is a captured source item wrapped with local metadata.
type Post struct {
	ID              string     `json:"id"` // {feedId}_{sourceId}
	FeedID          string     `json:"feedId"`
	FeedName        string     `json:"feedName"`
	FeedKind        FeedKind   `json:"feedType"`
	Content         SourcePost `json:"content"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	BackedUp        bool       `json:"backedUp"`
	BackupPath      string     `json:"backupPath,omitempty"`
	BackupCommitSHA string     `json:"backupCommitSha,omitempty"`
}

// PostID returns the composite identifier of a source item captured by a feed.
func PostID(feedID, sourceID string) string {
	return feedID + "_" + sourceID
}

// SourceID returns the source item id embedded in the post.
func (p Post) SourceID() string {
	if p.Content.ID != "" {
		return p.Content.ID
	}
	return strings.TrimPrefix(p.ID, p.FeedID+"_")
}

// PublishedAt returns the source creation time, or the zero time if it cannot be parsed.
func (p Post) PublishedAt() time.Time {
	t, err := p.Content.CreatedAt()
	if err != nil {
		return time.Time{}
	}
	return t
}

// ScanResult is the outcome of one scan of one feed.
type ScanResult struct {
	FeedID       string       `json:"feedId"`
	FeedName     string       `json:"feedName"`
	NewPosts     []SourcePost `json:"newPosts"`
	TotalScanned int          `json:"totalScanned"`
	Errors       []string     `json:"errors"`
}

// NewScanResult returns an empty result for the feed.
func NewScanResult(feed Feed) *ScanResult {
	return &ScanResult{
		FeedID:   feed.ID,
		FeedName: feed.Name,
		NewPosts: []SourcePost{},
		Errors:   []string{},
	}
}

// WorkerStatus describes the run state of the polling engine.
type WorkerStatus struct {
	IsRunning     bool                  `json:"isRunning"`
	ActiveFeeds   int                   `json:"activeFeeds"`
	LastScanTime  *time.Time            `json:"lastScanTime,omitempty"`
	NextScanTimes map[string]time.Time  `json:"nextScanTimes"`
	ScanResults   map[string]ScanResult `json:"scanResults"`
}

// NewWorkerStatus returns the default, not-running status.
func NewWorkerStatus() WorkerStatus {
	return WorkerStatus{
		NextScanTimes: make(map[string]time.Time),
		ScanResults:   make(map[string]ScanResult),
	}
}

// Clone returns a deep copy of the status maps.
func (s WorkerStatus) Clone() WorkerStatus {
	c := s
	c.NextScanTimes = make(map[string]time.Time, len(s.NextScanTimes))
	for k, v := range s.NextScanTimes {
		c.NextScanTimes[k] = v
	}
	c.ScanResults = make(map[string]ScanResult, len(s.ScanResults))
	for k, v := range s.ScanResults {
		c.ScanResults[k] = v
	}
	if s.LastScanTime != nil {
		t := *s.LastScanTime
		c.LastScanTime = &t
	}
	return c
}
