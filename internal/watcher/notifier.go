package watcher

// EventType is the type of every broadcast event.
const EventType = "WORKER_STATUS_UPDATE"

// UpdateType distinguishes scan and backup progress events.
type UpdateType string

const (
	UpdateFeedScan   UpdateType = "FEED_SCAN_STATUS"
	UpdateFeedBackup UpdateType = "FEED_BACKUP_STATUS"
)

// Event is a progress notification broadcast to listening UIs.
type Event struct {
	Type       string     `json:"type"`
	UpdateType UpdateType `json:"updateType"`
	Data       EventData  `json:"data"`
}

type EventData struct {
	FeedID     string `json:"feedId"`
	IsScanning *bool  `json:"isScanning,omitempty"`
	IsBacking  *bool  `json:"isBacking,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Notifier is the fire-and-forget broadcast channel.
// Implementations must not block and must not panic.
type Notifier interface {
	Notify(ev Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

func scanEvent(feedID string, scanning bool, errMsg string) Event {
	return Event{
		Type:       EventType,
		UpdateType: UpdateFeedScan,
		Data:       EventData{FeedID: feedID, IsScanning: &scanning, Error: errMsg},
	}
}

func backupEvent(feedID string, backing bool, errMsg string) Event {
	return Event{
		Type:       EventType,
		UpdateType: UpdateFeedBackup,
		Data:       EventData{FeedID: feedID, IsBacking: &backing, Error: errMsg},
	}
}
