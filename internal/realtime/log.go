// Package realtime is the client side of a room: it keeps the room's
// activity log and online set in sync with a channel connection.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/models"
)

// Entry is one activity message in a room's log.
type Entry struct {
	ID        string
	ClientID  string
	Timestamp time.Time
	Message   models.ActivityMessage
}

// MessageLog merges a one-shot history page with live events into a
// single oldest-first sequence. Live events are accepted from the moment
// the log exists, so the subscription can start before history is
// requested. Events carrying an id already in the log are dropped.
type MessageLog struct {
	mu       sync.Mutex
	entries  []Entry
	seen     map[string]struct{}
	closed   bool
	onChange func([]Entry)
	logger   zerolog.Logger
}

// NewMessageLog returns an empty log.
func NewMessageLog(logger zerolog.Logger) *MessageLog {
	return &MessageLog{
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// OnChange registers fn to run after every change with the new entries.
// fn runs outside the log's lock.
func (l *MessageLog) OnChange(fn func([]Entry)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// HandleLive appends a live event. It is a channel.Handler.
func (l *MessageLog) HandleLive(ev channel.Event) {
	entry, ok := l.decode(ev)
	if !ok {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if entry.ID != "" {
		if _, dup := l.seen[entry.ID]; dup {
			l.mu.Unlock()
			return
		}
		l.seen[entry.ID] = struct{}{}
	}
	l.entries = append(l.entries, entry)
	snapshot, fn := l.snapshotLocked()
	l.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// LoadHistory sets a newest-first history page as the log's prefix.
// Entries already in the log that the page does not contain stay after it
// in arrival order.
func (l *MessageLog) LoadHistory(page *channel.Page) {
	if page == nil {
		return
	}

	history := make([]Entry, 0, len(page.Items))
	for i := len(page.Items) - 1; i >= 0; i-- {
		entry, ok := l.decode(page.Items[i])
		if !ok {
			continue
		}
		history = append(history, entry)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	merged := make([]Entry, 0, len(history)+len(l.entries))
	seen := make(map[string]struct{}, len(history)+len(l.entries))
	add := func(e Entry) {
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				return
			}
			seen[e.ID] = struct{}{}
		}
		merged = append(merged, e)
	}
	for _, e := range history {
		add(e)
	}
	for _, e := range l.entries {
		add(e)
	}
	l.entries = merged
	l.seen = seen
	snapshot, fn := l.snapshotLocked()
	l.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Entries returns a copy of the log, oldest first.
func (l *MessageLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close discards the log. Live events and history arriving later are ignored.
func (l *MessageLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.entries = nil
	l.seen = make(map[string]struct{})
	l.onChange = nil
}

func (l *MessageLog) snapshotLocked() ([]Entry, func([]Entry)) {
	if l.onChange == nil {
		return nil, nil
	}
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, l.onChange
}

func (l *MessageLog) decode(ev channel.Event) (Entry, bool) {
	var msg models.ActivityMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		l.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("skipping undecodable activity event")
		return Entry{}, false
	}
	return Entry{
		ID:        ev.ID,
		ClientID:  ev.ClientID,
		Timestamp: ev.Timestamp,
		Message:   msg,
	}, true
}
