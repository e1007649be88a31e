package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAuthorizationDenied marks 401/419 responses. The stored session has
	// already been cleared by the time a caller sees this.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrRefreshFailed marks a failure of the refresh endpoint itself.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrNoStoredToken is returned when a refresh is attempted without a
	// stored credential.
	ErrNoStoredToken = errors.New("no token stored to refresh")

	// ErrSessionSuperseded is returned when a refresh resolved after the
	// session it was refreshing had been cleared or replaced. The result is
	// discarded.
	ErrSessionSuperseded = errors.New("session superseded during refresh")
)

// RequestError is a non-2xx response from the backend, carrying the status
// and the best-effort parsed payload.
type RequestError struct {
	Status  int
	Message string
	Payload map[string]any

	sentinel error
}

func newRequestError(status int, payload map[string]any) *RequestError {
	e := &RequestError{
		Status:  status,
		Message: messageFromPayload(status, payload),
		Payload: payload,
	}
	if _, denied := unauthorizedStatuses[status]; denied {
		e.sentinel = ErrAuthorizationDenied
	}
	return e
}

// newRefreshError classifies a non-2xx answer from the refresh endpoint
// itself. It carries the HTTP status but matches ErrRefreshFailed, not
// ErrAuthorizationDenied: the refresh path already cleared the session.
func newRefreshError(status int, payload map[string]any) *RequestError {
	return &RequestError{
		Status:   status,
		Message:  messageFromPayload(status, payload),
		Payload:  payload,
		sentinel: ErrRefreshFailed,
	}
}

func (e *RequestError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is(err, ErrAuthorizationDenied) match 401/419 errors.
func (e *RequestError) Unwrap() error {
	return e.sentinel
}

// messageFromPayload extracts a display message from an error payload:
// the top-level message, otherwise the field-level validation errors joined
// into a single string, otherwise a generic status line.
func messageFromPayload(status int, payload map[string]any) string {
	if payload != nil {
		if msg, ok := payload["message"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := payload["error"].(string); ok && msg != "" {
			return msg
		}
		if joined := joinFieldErrors(payload["errors"]); joined != "" {
			return joined
		}
	}
	return fmt.Sprintf("http error: status %d", status)
}

// joinFieldErrors flattens a {"field": ["msg", ...]} validation map into a
// single space-joined message. Fields are sorted so the message is stable.
func joinFieldErrors(raw any) string {
	fields, ok := raw.(map[string]any)
	if !ok || len(fields) == 0 {
		return ""
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		switch v := fields[name].(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
		case string:
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
