// Package identity maps a user's email to the opaque client id announced
// on channels, and back. The encoding is reversible and carries no
// secret: it identifies a presence member for display, it does not
// authenticate anyone.
package identity

import (
	"encoding/base64"
	"errors"
	"unicode/utf8"
)

// ErrInvalidToken is returned when a token does not decode to a UTF-8 string.
var ErrInvalidToken = errors.New("invalid identity token")

// Encode returns the identity token for an email.
func Encode(email string) string {
	return base64.StdEncoding.EncodeToString([]byte(email))
}

// Decode returns the email carried by an identity token.
func Decode(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || !utf8.Valid(raw) {
		return "", ErrInvalidToken
	}
	return string(raw), nil
}
