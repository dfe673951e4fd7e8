package models

import "time"

// Room represents a group of people browsing listings together.
// Each room has one live activity channel named after its ID.
type Room struct {
	// ID is the unique identifier for the room, used in shareable URLs
	ID string `json:"id"`

	// Name is a generated, human-friendly slug such as "brave-lime-harbor"
	Name string `json:"name"`

	// OwnerEmail is the user who created the room
	OwnerEmail string `json:"owner_email"`

	// CreatedAt is when the room was first created
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a user to a room they may open.
type Membership struct {
	// ID is the unique identifier for this membership
	ID string `json:"id"`

	// RoomID links this membership to its room
	RoomID string `json:"room_id"`

	// UserEmail is the member's identity as given by the auth proxy
	UserEmail string `json:"user_email"`

	// JoinedAt is when the user joined the room
	JoinedAt time.Time `json:"joined_at"`
}

// CreateRoomResponse is the response after creating a room
type CreateRoomResponse struct {
	Room Room `json:"room"`
}

// RoomInfoResponse contains room details and current members
type RoomInfoResponse struct {
	Room    Room         `json:"room"`
	Members []Membership `json:"members"`
}

// SendTextRequest is the request body for posting a text message
type SendTextRequest struct {
	Text string `json:"text"`
}

// ActivityEntry is one message of a room's activity log as served over HTTP.
type ActivityEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Message   ActivityMessage `json:"message"`
}

// ActivityResponse is the response for fetching a room's activity, oldest first
type ActivityResponse struct {
	Entries []ActivityEntry `json:"entries"`
}

// PresenceResponse lists who is online in a room
type PresenceResponse struct {
	Online []string `json:"online"`
}
