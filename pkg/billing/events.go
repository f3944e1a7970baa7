package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EventSource turns a raw webhook payload into a verified Event.
type EventSource interface {
	// Verify checks the payload signature and decodes the event.
	// Returns ErrInvalidSignature when the signature does not match.
	Verify(payload []byte, signature string) (*Event, error)
}

// HMACEventSource verifies webhook payloads signed with HMAC-SHA256.
// The signature header carries "sha256=" followed by the hex digest
// of the raw payload.
type HMACEventSource struct {
	secret string
}

// NewHMACEventSource creates an event source with a shared webhook secret.
func NewHMACEventSource(secret string) *HMACEventSource {
	return &HMACEventSource{secret: secret}
}

// Verify checks the payload signature and decodes the event.
func (s *HMACEventSource) Verify(payload []byte, signature string) (*Event, error) {
	expected := generateSignature(payload, s.secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode billing event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("billing event missing id")
	}
	if event.Type == "" {
		return nil, fmt.Errorf("billing event %s missing type", event.ID)
	}
	return &event, nil
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
