package gateway

import (
	"encoding/json"
	"time"

	"github.com/gestionactiva/go-activa-client/session"
)

// TokenPayload is the credential block the backend returns from /login and
// /refresh, either at the top level or nested under "data".
type TokenPayload struct {
	Token            string            `json:"token"`
	User             *session.Identity `json:"user"`
	ExpiresAt        string            `json:"expires_at"`
	ExpiresInSeconds *int64            `json:"expires_in_seconds"`
}

// SessionEnvelope is the full response shape of the auth endpoints:
// a token payload on success, or {success:false, message, errors}.
type SessionEnvelope struct {
	TokenPayload
	Success  *bool               `json:"success"`
	Message  string              `json:"message"`
	ErrorMsg string              `json:"error"`
	Errors   map[string][]string `json:"errors"`
	Data     *TokenPayload       `json:"data"`
}

// DecodeSessionEnvelope parses raw JSON into a SessionEnvelope. A nil or
// empty body yields an empty envelope rather than an error: the callers
// treat a missing token as the failure signal.
func DecodeSessionEnvelope(raw json.RawMessage) SessionEnvelope {
	var envelope SessionEnvelope
	if len(raw) == 0 {
		return envelope
	}
	_ = json.Unmarshal(raw, &envelope)
	return envelope
}

// payload returns the credential block, preferring the nested "data" form.
func (e SessionEnvelope) payload() TokenPayload {
	if e.Data != nil {
		return *e.Data
	}
	return e.TokenPayload
}

// Credential converts the envelope into a session credential and identity.
// An unparseable expires_at becomes an absent expiry, not an error.
func (e SessionEnvelope) Credential() (session.Credential, *session.Identity) {
	p := e.payload()
	return session.Credential{
		Token:            p.Token,
		ExpiresAt:        parseExpiry(p.ExpiresAt),
		ExpiresInSeconds: p.ExpiresInSeconds,
	}, p.User
}

// FailureMessage returns the backend's message for a failed auth call,
// or fallback when the payload carries none.
func (e SessionEnvelope) FailureMessage(fallback string) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.ErrorMsg != "":
		return e.ErrorMsg
	}
	return fallback
}

// expiryFormats are the timestamp shapes the backend has been seen to emit.
var expiryFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseExpiry(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, format := range expiryFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return &t
		}
	}
	return nil
}
