// Package avatar builds avatar image URLs for emails.
package avatar

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const gravatarBase = "https://www.gravatar.com/avatar/"

// Source turns an email into an avatar image URL.
type Source interface {
	URL(email string) string
}

// Gravatar resolves avatars through gravatar.com, falling back to a
// generated image for emails without one.
type Gravatar struct {
	// Default is the gravatar "d" parameter, e.g. "robohash" or "identicon".
	Default string
	// Size in pixels.
	Size int
}

// NewGravatar returns the source used by the room view: 32px robohash fallbacks.
func NewGravatar() *Gravatar {
	return &Gravatar{Default: "robohash", Size: 32}
}

// URL returns the gravatar URL for email.
func (g *Gravatar) URL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))

	query := url.Values{}
	if g.Default != "" {
		query.Set("d", g.Default)
	}
	if g.Size > 0 {
		query.Set("s", fmt.Sprint(g.Size))
	}

	u := gravatarBase + hex.EncodeToString(sum[:])
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
