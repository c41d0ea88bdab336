package notifier

import "time"

type Config struct {
	Enabled bool
	ChatID  int64

	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is one alert. Key, when set, is the dedup identity;
// otherwise the text is.
type Notification struct {
	Priority int
	Text     string
	Key      string
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
	Err  string    `json:"error,omitempty"`
}
