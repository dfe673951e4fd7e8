// Package wire defines the JSON frames exchanged over the WebSocket
// gateway. Clients send requests carrying an id; the gateway answers
// each one with an ack or error frame carrying the same id, and pushes
// message and presence frames for attached channels.
package wire

import (
	"encoding/json"

	"github.com/adi-253/roomfeed/backend/internal/channel"
)

// Action names a frame.
type Action string

// Client to gateway.
const (
	ActionAttach         Action = "attach"
	ActionDetach         Action = "detach"
	ActionPublish        Action = "publish"
	ActionHistory        Action = "history"
	ActionPresenceEnter  Action = "presence.enter"
	ActionPresenceLeave  Action = "presence.leave"
	ActionPresenceGet    Action = "presence.get"
	ActionPresenceAttach Action = "presence.attach"
	ActionPresenceDetach Action = "presence.detach"
)

// Gateway to client.
const (
	ActionConnected Action = "connected"
	ActionMessage   Action = "message"
	ActionPresence  Action = "presence"
	ActionAck       Action = "ack"
	ActionError     Action = "error"
)

// Frame is the single envelope used in both directions. Only the fields
// relevant to the action are set.
type Frame struct {
	Action  Action          `json:"action"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Limit   int             `json:"limit,omitempty"`

	ClientID string                    `json:"client_id,omitempty"`
	Event    *channel.Event            `json:"event,omitempty"`
	Presence *channel.PresenceMessage  `json:"presence,omitempty"`
	Page     *channel.Page             `json:"page,omitempty"`
	Members  []channel.PresenceMessage `json:"members,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// Ack answers request id.
func Ack(id string) Frame {
	return Frame{Action: ActionAck, ID: id}
}

// Error answers request id with a failure.
func Error(id string, err error) Frame {
	return Frame{Action: ActionError, ID: id, Error: err.Error()}
}
