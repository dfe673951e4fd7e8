package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/avatar"
	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/identity"
	"github.com/adi-253/roomfeed/backend/internal/models"
)

const (
	// DefaultHistoryLimit is the size of the history page fetched on join.
	DefaultHistoryLimit = 100

	// DefaultPresenceRefresh is how often a session re-enters presence so
	// the backend does not reap it.
	DefaultPresenceRefresh = 30 * time.Second
)

// ErrNoIdentity is returned when a session is opened without an email.
var ErrNoIdentity = errors.New("realtime: email is required")

// ErrNoRoom is returned when a session is opened without a room id.
var ErrNoRoom = errors.New("realtime: room id is required")

// ErrFailed is returned by a session whose connection could not be
// established or was lost. Open the room again to reconnect.
var ErrFailed = errors.New("realtime: connection failed")

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	// StateNotReady covers connecting and joining. It is not an error.
	StateNotReady SessionState = iota
	StateReady
	// StateFailed is terminal: the connection failed or was lost.
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Option configures a Session.
type Option func(*options)

type options struct {
	key             string
	historyLimit    int
	presenceRefresh time.Duration
	logger          zerolog.Logger
	onChange        func(*Session)
}

// WithKey sets the key presented to the provider.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

// WithHistoryLimit sets the history page size fetched on join.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithPresenceRefresh sets how often presence is re-entered.
func WithPresenceRefresh(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.presenceRefresh = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOnChange registers fn to run whenever the log or online set changes.
func WithOnChange(fn func(*Session)) Option {
	return func(o *options) { o.onChange = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		historyLimit:    DefaultHistoryLimit,
		presenceRefresh: DefaultPresenceRefresh,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Session is one identity's view of one room over a single connection.
type Session struct {
	roomID string
	email  string
	token  string
	opts   options
	logger zerolog.Logger

	conn     channel.Connection
	log      *MessageLog
	presence *PresenceTracker

	cancel context.CancelFunc
	joined chan struct{}

	mu    sync.Mutex
	state SessionState
	err   error
	subs  []channel.Subscription
}

// Open connects as email and starts joining roomID in the background.
// The session is usable immediately; until the connection is ready it
// reports StateNotReady and an empty log and online set.
func Open(ctx context.Context, provider channel.Provider, roomID, email string, opts ...Option) (*Session, error) {
	if roomID == "" {
		return nil, ErrNoRoom
	}
	if email == "" {
		return nil, ErrNoIdentity
	}

	o := buildOptions(opts)
	token := identity.Encode(email)
	conn, err := provider.Connect(ctx, channel.Credentials{ClientID: token, Key: o.key})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logger := o.logger.With().Str("room_id", roomID).Str("email", email).Logger()
	joinCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:   roomID,
		email:    email,
		token:    token,
		opts:     o,
		logger:   logger,
		conn:     conn,
		log:      NewMessageLog(logger),
		presence: NewPresenceTracker(),
		cancel:   cancel,
		joined:   make(chan struct{}),
		state:    StateNotReady,
	}
	s.log.OnChange(func([]Entry) { s.changed() })

	go s.join(joinCtx)
	return s, nil
}

// join waits for the connection, subscribes live activity and presence,
// enters presence, then loads history. Live events are handled from the
// moment the activity subscription exists.
func (s *Session) join(ctx context.Context) {
	defer close(s.joined)

	if err := channel.WaitReady(ctx, s.conn); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.fail(err)
		}
		return
	}

	activity := s.conn.Channel(channel.ActivityChannel(s.roomID))
	presence := s.conn.Channel(channel.PresenceChannel(s.roomID)).Presence()

	sub, err := activity.Subscribe(ctx, s.log.HandleLive)
	if err != nil {
		s.fail(fmt.Errorf("failed to subscribe to activity: %w", err))
		return
	}
	if !s.track(sub) {
		return
	}

	sub, err = presence.Subscribe(ctx, func(msg channel.PresenceMessage) {
		if s.State() == StateClosed {
			return
		}
		s.presence.Apply(msg)
		s.changed()
	})
	if err != nil {
		s.fail(fmt.Errorf("failed to subscribe to presence: %w", err))
		return
	}
	if !s.track(sub) {
		return
	}

	if _, err := s.presence.Enter(ctx, presence); err != nil {
		s.logger.Warn().Err(err).Msg("presence unavailable")
	}

	s.mu.Lock()
	if s.state != StateNotReady {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.mu.Unlock()
	s.changed()
	go s.refreshPresence(ctx, presence)

	page, err := activity.History(ctx, s.opts.historyLimit)
	if err != nil {
		// Keep the live log; history is best effort.
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("failed to load history")
		}
		return
	}
	s.log.LoadHistory(page)
}

// refreshPresence re-enters presence until the session closes.
func (s *Session) refreshPresence(ctx context.Context, presence channel.Presence) {
	ticker := time.NewTicker(s.opts.presenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.State() == StateFailed {
				return
			}
			if err := presence.Enter(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("failed to refresh presence")
			}
		case <-ctx.Done():
			return
		}
	}
}

// fail moves the session to StateFailed unless it is already closed or failed.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	if cause == nil {
		s.err = ErrFailed
	} else {
		s.err = fmt.Errorf("%w: %w", ErrFailed, cause)
	}
	s.mu.Unlock()

	s.logger.Error().Err(cause).Msg("connection failed")
	s.changed()
}

func (s *Session) track(sub channel.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		sub.Unsubscribe()
		return false
	}
	s.subs = append(s.subs, sub)
	return true
}

func (s *Session) changed() {
	if s.opts.onChange == nil || s.State() == StateClosed {
		return
	}
	s.opts.onChange(s)
}

// RoomID returns the room the session is joined to.
func (s *Session) RoomID() string { return s.roomID }

// Email returns the session's identity.
func (s *Session) Email() string { return s.email }

// Token returns the session's identity token.
func (s *Session) Token() string { return s.token }

// State returns the session state. A connection that fails after the
// session joined is reported here as StateFailed.
func (s *Session) State() SessionState {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateClosed && state != StateFailed && s.conn.State() == channel.StateFailed {
		s.fail(s.conn.Err())
		return s.State()
	}
	return state
}

// Err returns why the session failed, wrapping ErrFailed, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Joined is closed once the join attempt has finished, whether or not it
// succeeded.
func (s *Session) Joined() <-chan struct{} { return s.joined }

// SendText publishes user input as a text message. Whitespace-only input
// publishes nothing and returns models.ErrEmptyMessage.
func (s *Session) SendText(ctx context.Context, input string) error {
	msg, err := models.NewTextMessage(s.email, input)
	if err != nil {
		return err
	}
	return s.publish(ctx, msg)
}

// Share publishes a listing as a share card.
func (s *Session) Share(ctx context.Context, listing models.Listing) error {
	return s.publish(ctx, models.NewShareMessage(s.email, listing))
}

func (s *Session) publish(ctx context.Context, msg models.ActivityMessage) error {
	switch s.State() {
	case StateNotReady:
		return channel.ErrNotReady
	case StateFailed:
		return s.Err()
	case StateClosed:
		return channel.ErrClosed
	}
	ch := s.conn.Channel(channel.ActivityChannel(s.roomID))
	if err := ch.Publish(ctx, "message", msg); err != nil {
		s.logger.Warn().Err(err).Str("type", string(msg.Payload.Type())).Msg("publish failed")
		return fmt.Errorf("failed to publish %s message: %w", msg.Payload.Type(), err)
	}
	return nil
}

// Log returns the activity log, oldest first.
func (s *Session) Log() []Entry { return s.log.Entries() }

// Online returns the current online set.
func (s *Session) Online() OnlineSet { return s.presence.Online() }

// Render returns the log as display rows for this session's user.
func (s *Session) Render(avatars avatar.Source) []RenderedMessage {
	return Render(s.log.Entries(), s.email, s.roomID, avatars)
}

// Close tears the session down. Subscriptions are dropped, the
// connection is closed (leaving presence) and late callbacks are ignored.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.log.Close()
	s.presence.Close()
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Manager owns at most one session per room. Opening a room again with
// the same identity reuses the session; a different identity, or a
// session that failed, is replaced.
type Manager struct {
	provider channel.Provider
	opts     []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager opening sessions on provider with opts.
func NewManager(provider channel.Provider, opts ...Option) *Manager {
	return &Manager{
		provider: provider,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session for roomID as email.
func (m *Manager) Open(ctx context.Context, roomID, email string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.sessions[roomID]; ok {
		if current.Email() == email && current.State() != StateClosed && current.State() != StateFailed {
			return current, nil
		}
		delete(m.sessions, roomID)
		if err := current.Close(); err != nil {
			current.logger.Warn().Err(err).Msg("failed to close replaced session")
		}
	}

	s, err := Open(ctx, m.provider, roomID, email, m.opts...)
	if err != nil {
		return nil, err
	}
	m.sessions[roomID] = s
	return s, nil
}

// Get returns the open session for roomID, if any.
func (m *Manager) Get(roomID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	return s, ok
}

// Leave closes the session for roomID.
func (m *Manager) Leave(roomID string) error {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
