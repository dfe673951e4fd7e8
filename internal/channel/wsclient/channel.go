package wsclient

import (
	"context"
	"fmt"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/wire"
)

type wsChannel struct {
	conn *Conn
	name string
}

func (ch *wsChannel) Name() string { return ch.name }

func (ch *wsChannel) Publish(ctx context.Context, name string, data any) error {
	raw, err := channel.Encode(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	_, err = ch.conn.request(ctx, wire.Frame{
		Action:  wire.ActionPublish,
		Channel: ch.name,
		Name:    name,
		Data:    raw,
	})
	return err
}

// Subscribe attaches to the channel on the first local handler and
// detaches when the last one unsubscribes.
func (ch *wsChannel) Subscribe(ctx context.Context, handler channel.Handler) (channel.Subscription, error) {
	if err := ch.conn.check(); err != nil {
		return nil, err
	}

	key, first := ch.conn.addHandler(ch.name, handler)
	if first {
		if _, err := ch.conn.request(ctx, wire.Frame{Action: wire.ActionAttach, Channel: ch.name}); err != nil {
			ch.conn.removeHandler(ch.name, key)
			return nil, err
		}
	}

	return channel.SubscriptionFunc(func() {
		if !ch.conn.removeHandler(ch.name, key) {
			return
		}
		if _, err := ch.conn.request(context.Background(), wire.Frame{Action: wire.ActionDetach, Channel: ch.name}); err != nil {
			ch.conn.logger.Debug().Err(err).Str("channel", ch.name).Msg("detach failed")
		}
	}), nil
}

func (ch *wsChannel) History(ctx context.Context, limit int) (*channel.Page, error) {
	resp, err := ch.conn.request(ctx, wire.Frame{
		Action:  wire.ActionHistory,
		Channel: ch.name,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	if resp.Page == nil {
		return &channel.Page{}, nil
	}
	return resp.Page, nil
}

func (ch *wsChannel) Presence() channel.Presence {
	return &wsPresence{ch: ch}
}

type wsPresence struct {
	ch *wsChannel
}

func (p *wsPresence) Enter(ctx context.Context) error {
	_, err := p.ch.conn.request(ctx, wire.Frame{Action: wire.ActionPresenceEnter, Channel: p.ch.name})
	return err
}

func (p *wsPresence) Leave(ctx context.Context) error {
	_, err := p.ch.conn.request(ctx, wire.Frame{Action: wire.ActionPresenceLeave, Channel: p.ch.name})
	return err
}

func (p *wsPresence) Get(ctx context.Context) ([]channel.PresenceMessage, error) {
	resp, err := p.ch.conn.request(ctx, wire.Frame{Action: wire.ActionPresenceGet, Channel: p.ch.name})
	if err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (p *wsPresence) Subscribe(ctx context.Context, handler channel.PresenceHandler) (channel.Subscription, error) {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return nil, err
	}

	key, first := c.addPresenceHandler(p.ch.name, handler)
	if first {
		if _, err := c.request(ctx, wire.Frame{Action: wire.ActionPresenceAttach, Channel: p.ch.name}); err != nil {
			c.removePresenceHandler(p.ch.name, key)
			return nil, err
		}
	}

	return channel.SubscriptionFunc(func() {
		if !c.removePresenceHandler(p.ch.name, key) {
			return
		}
		if _, err := c.request(context.Background(), wire.Frame{Action: wire.ActionPresenceDetach, Channel: p.ch.name}); err != nil {
			c.logger.Debug().Err(err).Str("channel", p.ch.name).Msg("presence detach failed")
		}
	}), nil
}
