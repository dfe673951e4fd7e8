package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/config"
	"github.com/adi-253/roomfeed/backend/internal/models"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("supabase: not found")

// Client is a wrapper around the Supabase REST API.
// It uses the service role key for backend operations with elevated privileges.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Supabase client with the given configuration.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.SupabaseURL,
		apiKey:  cfg.SupabaseKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "supabase").Logger(),
	}
}

// doRequest executes an HTTP request to the Supabase REST API.
// It automatically adds authentication headers and handles the response.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, prefer string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	target := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Add Supabase authentication headers
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("supabase request")

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("supabase error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// CreateRoom inserts a new room into the database.
func (c *Client) CreateRoom(ctx context.Context, room *models.Room) error {
	_, err := c.doRequest(ctx, http.MethodPost, "rooms", room, "")
	return err
}

// GetRoom retrieves a room by its ID.
func (c *Client) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	endpoint := fmt.Sprintf("rooms?id=eq.%s&select=*", url.QueryEscape(id))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var rooms []models.Room
	if err := json.Unmarshal(respBody, &rooms); err != nil {
		return nil, fmt.Errorf("failed to parse room: %w", err)
	}

	if len(rooms) == 0 {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}

	return &rooms[0], nil
}

// ListRoomsForUser retrieves the rooms a user is a member of, newest first.
func (c *Client) ListRoomsForUser(ctx context.Context, email string) ([]models.Room, error) {
	endpoint := fmt.Sprintf(
		"rooms?select=*,memberships!inner(user_email)&memberships.user_email=eq.%s&order=created_at.desc",
		url.QueryEscape(email),
	)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var rooms []models.Room
	if err := json.Unmarshal(respBody, &rooms); err != nil {
		return nil, fmt.Errorf("failed to parse rooms: %w", err)
	}

	return rooms, nil
}

// AddMembership inserts a membership. Adding a user to a room twice is a no-op.
func (c *Client) AddMembership(ctx context.Context, membership *models.Membership) error {
	_, err := c.doRequest(ctx, http.MethodPost, "memberships?on_conflict=room_id,user_email", membership,
		"return=representation,resolution=ignore-duplicates")
	return err
}

// GetMemberships retrieves all memberships of a room.
func (c *Client) GetMemberships(ctx context.Context, roomID string) ([]models.Membership, error) {
	endpoint := fmt.Sprintf("memberships?room_id=eq.%s&select=*&order=joined_at.asc", url.QueryEscape(roomID))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var memberships []models.Membership
	if err := json.Unmarshal(respBody, &memberships); err != nil {
		return nil, fmt.Errorf("failed to parse memberships: %w", err)
	}

	return memberships, nil
}
