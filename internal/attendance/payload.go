package attendance

import (
	"errors"
	"regexp"
	"strings"
)

// PayloadPrefix starts every attendance QR payload.
const PayloadPrefix = "attendance:"

// ErrInvalidFormat is returned for payloads that are not attendance codes.
var ErrInvalidFormat = errors.New("invalid attendance payload")

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// ParsePayload returns the session id carried by an "attendance:<session_id>" payload.
func ParsePayload(payload string) (string, error) {
	if !strings.HasPrefix(payload, PayloadPrefix) {
		return "", ErrInvalidFormat
	}
	id := strings.TrimPrefix(payload, PayloadPrefix)
	if !sessionIDPattern.MatchString(id) {
		return "", ErrInvalidFormat
	}
	return id, nil
}

// FormatPayload builds the payload a lecturer's QR code carries for sessionID.
func FormatPayload(sessionID string) string {
	return PayloadPrefix + sessionID
}
