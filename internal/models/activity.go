package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadType is the discriminator of an activity payload.
type PayloadType string

const (
	PayloadText  PayloadType = "text"
	PayloadShare PayloadType = "share"
)

// ErrEmptyMessage is returned when a text message has nothing but whitespace.
// Callers treat it as "send nothing", not as a user-facing error.
var ErrEmptyMessage = errors.New("empty message")

// Payload is the closed set of activity payloads. TextPayload and
// SharePayload are the known variants; UnknownPayload keeps anything
// else so a newer publisher never breaks decoding.
type Payload interface {
	Type() PayloadType
	isPayload()
}

// TextPayload is a plain chat line.
type TextPayload struct {
	Text string `json:"text"`
}

// SharePayload carries enough listing data to render a share card
// without fetching the listing again.
type SharePayload struct {
	PropertyID string  `json:"propertyId"`
	Image      string  `json:"image"`
	Address    string  `json:"address"`
	Price      float64 `json:"price"`
}

// UnknownPayload is a payload whose type this build does not know.
// It is never rendered.
type UnknownPayload struct {
	Kind PayloadType
	Raw  json.RawMessage
}

func (TextPayload) Type() PayloadType      { return PayloadText }
func (SharePayload) Type() PayloadType     { return PayloadShare }
func (p UnknownPayload) Type() PayloadType { return p.Kind }

func (TextPayload) isPayload()    {}
func (SharePayload) isPayload()   {}
func (UnknownPayload) isPayload() {}

// ActivityMessage is what gets published on a room's activity channel.
// From is the publisher's email.
type ActivityMessage struct {
	From    string  `json:"from"`
	Payload Payload `json:"payload"`
}

// Listing is the subset of a listing that a share needs.
type Listing struct {
	PropertyID string  `json:"propertyId"`
	Image      string  `json:"image"`
	Address    string  `json:"address"`
	Price      float64 `json:"price"`
}

// NewTextMessage builds a text message from raw user input.
// Whitespace-only input yields ErrEmptyMessage.
func NewTextMessage(from, input string) (ActivityMessage, error) {
	if strings.TrimSpace(input) == "" {
		return ActivityMessage{}, ErrEmptyMessage
	}
	return ActivityMessage{From: from, Payload: TextPayload{Text: input}}, nil
}

// NewShareMessage builds a share message for a listing.
func NewShareMessage(from string, listing Listing) ActivityMessage {
	return ActivityMessage{
		From: from,
		Payload: SharePayload{
			PropertyID: listing.PropertyID,
			Image:      listing.Image,
			Address:    listing.Address,
			Price:      listing.Price,
		},
	}
}

type textWire struct {
	Type PayloadType `json:"type"`
	TextPayload
}

type shareWire struct {
	Type PayloadType `json:"type"`
	SharePayload
}

type messageWire struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON writes the payload with its "type" tag inline.
func (m ActivityMessage) MarshalJSON() ([]byte, error) {
	var payload any
	switch p := m.Payload.(type) {
	case TextPayload:
		payload = textWire{Type: PayloadText, TextPayload: p}
	case SharePayload:
		payload = shareWire{Type: PayloadShare, SharePayload: p}
	case UnknownPayload:
		if len(p.Raw) == 0 {
			return nil, fmt.Errorf("unknown payload %q has no body", p.Kind)
		}
		payload = p.Raw
	case nil:
		return nil, errors.New("message has no payload")
	default:
		return nil, fmt.Errorf("unsupported payload %T", p)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(messageWire{From: m.From, Payload: raw})
}

// UnmarshalJSON decodes the payload by its "type" tag. Unrecognized
// tags decode into UnknownPayload rather than failing.
func (m *ActivityMessage) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		return errors.New("message has no payload")
	}

	var tag struct {
		Type PayloadType `json:"type"`
	}
	if err := json.Unmarshal(wire.Payload, &tag); err != nil {
		return fmt.Errorf("failed to parse payload type: %w", err)
	}

	m.From = wire.From
	switch tag.Type {
	case PayloadText:
		var p TextPayload
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("failed to parse text payload: %w", err)
		}
		m.Payload = p
	case PayloadShare:
		var p SharePayload
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("failed to parse share payload: %w", err)
		}
		m.Payload = p
	default:
		raw := make(json.RawMessage, len(wire.Payload))
		copy(raw, wire.Payload)
		m.Payload = UnknownPayload{Kind: tag.Type, Raw: raw}
	}
	return nil
}
