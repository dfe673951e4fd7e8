package realtime

import (
	"fmt"
	"math"
	"net/url"

	"github.com/dustin/go-humanize"

	"github.com/adi-253/roomfeed/backend/internal/avatar"
	"github.com/adi-253/roomfeed/backend/internal/models"
)

// Side says which side of the conversation a message is drawn on.
type Side int

const (
	FromOther Side = iota
	FromMe
)

func (s Side) String() string {
	if s == FromMe {
		return "me"
	}
	return "other"
}

// TextView is the body of a text message.
type TextView struct {
	Text string `json:"text"`
}

// ShareView is the body of a shared listing card.
type ShareView struct {
	PropertyID string `json:"propertyId"`
	Link       string `json:"link"`
	Image      string `json:"image"`
	Address    string `json:"address"`
	Price      string `json:"price"`
	// Amount is the unformatted price.
	Amount float64 `json:"amount"`
}

// RenderedMessage is a log entry ready for display. Exactly one of Text
// and Share is set.
type RenderedMessage struct {
	ID     string     `json:"id,omitempty"`
	From   string     `json:"from"`
	Side   Side       `json:"side"`
	Avatar string     `json:"avatar"`
	Text   *TextView  `json:"text,omitempty"`
	Share  *ShareView `json:"share,omitempty"`
}

// Render turns log entries into display rows for the user me in roomID.
// Entries with an unrecognized payload produce no row.
func Render(entries []Entry, me, roomID string, avatars avatar.Source) []RenderedMessage {
	out := make([]RenderedMessage, 0, len(entries))
	for _, e := range entries {
		row := RenderedMessage{
			ID:   e.ID,
			From: e.Message.From,
			Side: FromOther,
		}
		if e.Message.From == me {
			row.Side = FromMe
		}
		if avatars != nil {
			row.Avatar = avatars.URL(e.Message.From)
		}

		switch p := e.Message.Payload.(type) {
		case models.TextPayload:
			row.Text = &TextView{Text: p.Text}
		case models.SharePayload:
			row.Share = &ShareView{
				PropertyID: p.PropertyID,
				Link:       PropertyLink(roomID, p.PropertyID),
				Image:      p.Image,
				Address:    p.Address,
				Price:      FormatPrice(p.Price),
				Amount:     p.Price,
			}
		default:
			continue
		}
		out = append(out, row)
	}
	return out
}

// PropertyLink is the in-app path of a listing within a room.
func PropertyLink(roomID, propertyID string) string {
	return fmt.Sprintf("/room/%s/property/%s", url.PathEscape(roomID), url.PathEscape(propertyID))
}

// FormatPrice renders a USD amount with thousands separators, e.g. "$450,000".
// Like en-US number formatting it keeps at most three fraction digits.
func FormatPrice(price float64) string {
	price = math.Round(price*1000) / 1000
	if price < 0 {
		return "-$" + humanize.Commaf(-price)
	}
	return "$" + humanize.Commaf(price)
}
