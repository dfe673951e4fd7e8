// roomchat is a terminal client for a room's activity feed. It connects
// to the server's channel gateway, prints the feed as it changes and
// sends each line typed on stdin as a text message.
//
// Commands:
//
//	/share id|image|address|price   share a listing
//	/join room                      switch rooms
//	/who                            list who is online
//	/quit                           leave
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/adi-253/roomfeed/backend/internal/avatar"
	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/wsclient"
	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var server, room, email, key string
	var verbose bool

	flagSet := pflag.NewFlagSet("roomchat", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", "ws://localhost:8080/ws", "channel gateway URL")
	flagSet.StringVar(&room, "room", "", "room ID to open")
	flagSet.StringVar(&email, "email", os.Getenv("ROOMCHAT_EMAIL"), "your email address")
	flagSet.StringVar(&key, "key", os.Getenv("CHANNEL_API_KEY"), "gateway API key")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log connection events to stderr")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if room == "" || email == "" {
		return errors.New("--room and --email are required")
	}

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	feed := newPrinter(os.Stdout, avatar.NewGravatar())
	manager := realtime.NewManager(
		&wsclient.Provider{URL: server, Logger: logger},
		realtime.WithKey(key),
		realtime.WithLogger(logger),
		realtime.WithOnChange(feed.update),
	)
	defer manager.CloseAll()

	session, err := manager.Open(ctx, room, email)
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			next, quit, err := handleLine(ctx, manager, session, feed, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "! %v\n", err)
			}
			if quit {
				return nil
			}
			session = next
		}
	}
}

// handleLine runs one line of input against session and returns the
// session to use from now on.
func handleLine(ctx context.Context, manager *realtime.Manager, session *realtime.Session, feed *printer, line string) (*realtime.Session, bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit":
		return session, true, nil
	case "/who":
		feed.online(session)
		return session, false, nil
	case "/join":
		if arg == "" {
			return session, false, errors.New("usage: /join room")
		}
		room := strings.TrimSpace(arg)
		if room == session.RoomID() && session.State() != realtime.StateFailed {
			return session, false, nil
		}
		next, err := manager.Open(ctx, room, session.Email())
		if err != nil {
			return session, false, err
		}
		if room != session.RoomID() {
			manager.Leave(session.RoomID())
		}
		feed.reset()
		return next, false, nil
	}

	var err error
	if cmd == "/share" {
		listing, parseErr := parseShare(arg)
		if parseErr != nil {
			return session, false, parseErr
		}
		err = session.Share(ctx, listing)
	} else {
		err = session.SendText(ctx, line)
	}
	if errors.Is(err, models.ErrEmptyMessage) {
		return session, false, nil
	}
	if errors.Is(err, channel.ErrNotReady) {
		return session, false, errors.New("still connecting, try again")
	}
	if errors.Is(err, realtime.ErrFailed) {
		next, reopenErr := manager.Open(ctx, session.RoomID(), session.Email())
		if reopenErr != nil {
			return session, false, reopenErr
		}
		feed.reset()
		return next, false, fmt.Errorf("%w; reconnecting, send again once joined", err)
	}
	return session, false, err
}

// parseShare parses "id|image|address|price".
func parseShare(arg string) (models.Listing, error) {
	parts := strings.Split(arg, "|")
	if len(parts) != 4 {
		return models.Listing{}, errors.New("usage: /share id|image|address|price")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return models.Listing{}, errors.New("listing id is required")
	}
	price, err := strconv.ParseFloat(strings.NewReplacer("$", "", ",", "").Replace(parts[3]), 64)
	if err != nil {
		return models.Listing{}, fmt.Errorf("invalid price %q", parts[3])
	}
	return models.Listing{
		PropertyID: parts[0],
		Image:      parts[1],
		Address:    parts[2],
		Price:      price,
	}, nil
}

// printer writes feed rows it has not written before.
type printer struct {
	out     io.Writer
	avatars avatar.Source

	mu      sync.Mutex
	printed map[string]bool
	last    string
}

func newPrinter(out io.Writer, avatars avatar.Source) *printer {
	return &printer{out: out, avatars: avatars, printed: make(map[string]bool)}
}

func (p *printer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = make(map[string]bool)
	p.last = ""
}

func (p *printer) update(s *realtime.Session) {
	rows := s.Render(p.avatars)
	who := strings.Join(s.Online().Emails(), ", ")

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, row := range rows {
		if p.printed[row.ID] {
			continue
		}
		p.printed[row.ID] = true
		fmt.Fprintln(p.out, formatRow(row))
	}
	if who != p.last {
		p.last = who
		fmt.Fprintf(p.out, "-- online: %s\n", who)
	}
}

func (p *printer) online(s *realtime.Session) {
	fmt.Fprintf(p.out, "-- online: %s\n", strings.Join(s.Online().Emails(), ", "))
}

func formatRow(row realtime.RenderedMessage) string {
	from := row.From
	if row.Side == realtime.FromMe {
		from = "me"
	}
	switch {
	case row.Share != nil:
		return fmt.Sprintf("[%s] shared %s %s (%s)", from, row.Share.Address, row.Share.Price, row.Share.Link)
	case row.Text != nil:
		return fmt.Sprintf("[%s] %s", from, row.Text.Text)
	}
	return fmt.Sprintf("[%s]", from)
}
