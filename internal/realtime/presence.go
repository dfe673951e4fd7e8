package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/identity"
)

// OnlineSet is a snapshot of the identity tokens present on a room.
// The zero value is an empty set.
type OnlineSet struct {
	tokens map[string]struct{}
}

// Has reports whether token is online.
func (s OnlineSet) Has(token string) bool {
	_, ok := s.tokens[token]
	return ok
}

// Len returns the number of distinct identities online.
func (s OnlineSet) Len() int {
	return len(s.tokens)
}

// Tokens returns the identity tokens in sorted order.
func (s OnlineSet) Tokens() []string {
	out := make([]string, 0, len(s.tokens))
	for token := range s.tokens {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Emails decodes the tokens, sorted. Tokens that do not decode are left out.
func (s OnlineSet) Emails() []string {
	out := make([]string, 0, len(s.tokens))
	for token := range s.tokens {
		email, err := identity.Decode(token)
		if err != nil {
			continue
		}
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// PresenceTracker keeps the online set of one room channel up to date
// from presence snapshots and deltas.
type PresenceTracker struct {
	mu      sync.Mutex
	members map[string]struct{}
	closed  bool

	// deltas seen while a snapshot is in flight, replayed on top of it
	syncing bool
	pending []channel.PresenceMessage
}

// NewPresenceTracker returns a tracker with an empty online set.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{members: make(map[string]struct{})}
}

// Enter announces the connection on the presence channel and seeds the
// set from the provider's member list. Entering again is harmless: the
// provider refreshes the member and the set is keyed by token.
func (t *PresenceTracker) Enter(ctx context.Context, presence channel.Presence) (OnlineSet, error) {
	t.mu.Lock()
	t.syncing = true
	t.pending = nil
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.syncing = false
		t.pending = nil
		t.mu.Unlock()
	}()

	if err := presence.Enter(ctx); err != nil {
		return t.Online(), fmt.Errorf("failed to enter presence: %w", err)
	}
	members, err := presence.Get(ctx)
	if err != nil {
		return t.Online(), fmt.Errorf("failed to list presence: %w", err)
	}
	return t.Sync(members), nil
}

// Apply folds one presence change into the set.
func (t *PresenceTracker) Apply(msg channel.PresenceMessage) OnlineSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || msg.ClientID == "" {
		return t.snapshotLocked()
	}
	if t.syncing {
		t.pending = append(t.pending, msg)
	}
	t.applyLocked(msg)
	return t.snapshotLocked()
}

func (t *PresenceTracker) applyLocked(msg channel.PresenceMessage) {
	switch msg.Action {
	case channel.PresenceEnter, channel.PresencePresent, channel.PresenceUpdate:
		t.members[msg.ClientID] = struct{}{}
	case channel.PresenceLeave:
		delete(t.members, msg.ClientID)
	}
}

// Sync replaces the set with a full member list.
func (t *PresenceTracker) Sync(members []channel.PresenceMessage) OnlineSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return t.snapshotLocked()
	}
	t.members = make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.ClientID == "" || m.Action == channel.PresenceLeave {
			continue
		}
		t.members[m.ClientID] = struct{}{}
	}
	for _, msg := range t.pending {
		t.applyLocked(msg)
	}
	t.pending = nil
	return t.snapshotLocked()
}

// Online returns the current set.
func (t *PresenceTracker) Online() OnlineSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Close empties the set and ignores any later updates.
func (t *PresenceTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.members = make(map[string]struct{})
}

func (t *PresenceTracker) snapshotLocked() OnlineSet {
	tokens := make(map[string]struct{}, len(t.members))
	for token := range t.members {
		tokens[token] = struct{}{}
	}
	return OnlineSet{tokens: tokens}
}
