// Package session owns the persisted authentication credential: the bearer
// token, the authenticated user's identity, the token expiry, and the last
// recorded user activity. Nothing in this package touches the network.
package session

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Storage keys. Clear removes all of them as a unit; each is independently
// removable by Persist when its value is absent.
const (
	tokenKey        = "auth_token"
	userKey         = "auth_user"
	expiresAtKey    = "auth_token_expires_at"
	expiresInKey    = "auth_token_expires_in"
	lastRefreshKey  = "auth_token_last_refreshed"
	lastActivityKey = "auth_last_activity"
)

// Snapshot is the result of reading the whole persisted session at once.
type Snapshot struct {
	Token     string
	Identity  *Identity
	ExpiresAt *time.Time
}

// Store persists the session credential through a key/value Repo and
// answers the derived expiry queries the refresh coordinator needs.
//
// The generation counter increments on every Persist and Clear. A refresh
// attempt snapshots it before going to the network and discards its result
// when the counter moved, so a refresh that resolves after a logout cannot
// resurrect a cleared session.
type Store struct {
	repo       Repo
	log        zerolog.Logger
	nowTime    func() time.Time
	generation atomic.Uint64
}

// StoreOption modifies a Store instance.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// NewStore creates a Store over the given key/value repository.
func NewStore(repo Repo, logger zerolog.Logger, options ...StoreOption) *Store {
	s := &Store{
		repo:    repo,
		log:     logger,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Persist writes the credential and, when present, the identity to storage.
// The expiry is normalised to an absolute RFC 3339 instant; when the backend
// sent no expiry but the token is a JWT, the unverified exp claim is used
// instead. An unparseable expiry is stored as absent, not as a malformed
// value.
func (s *Store) Persist(cred Credential, identity *Identity) {
	if cred.Token != "" {
		s.repo.Set(tokenKey, cred.Token)
	}
	if identity != nil {
		s.PutIdentity(identity)
	}

	expiresAt := cred.ExpiresAt
	if expiresAt == nil && cred.Token != "" {
		expiresAt = jwtExpiry(cred.Token)
	}
	if expiresAt != nil {
		s.repo.Set(expiresAtKey, expiresAt.UTC().Format(time.RFC3339))
	} else {
		s.repo.Delete(expiresAtKey)
	}

	if cred.ExpiresInSeconds != nil {
		s.repo.Set(expiresInKey, strconv.FormatInt(*cred.ExpiresInSeconds, 10))
	} else {
		s.repo.Delete(expiresInKey)
	}

	s.repo.Set(lastRefreshKey, strconv.FormatInt(s.nowTime().UnixMilli(), 10))
	s.generation.Add(1)
}

// PutIdentity stores just the identity, leaving the credential untouched.
// A nil identity removes the stored one.
func (s *Store) PutIdentity(identity *Identity) {
	if identity == nil {
		s.repo.Delete(userKey)
		return
	}
	raw, err := json.Marshal(identity)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not encode identity")
		return
	}
	s.repo.Set(userKey, string(raw))
}

// Read returns the persisted token, identity and expiry. It never fails:
// a corrupt stored identity is purged and reported as absent.
func (s *Store) Read() Snapshot {
	return Snapshot{
		Token:     s.Token(),
		Identity:  s.Identity(),
		ExpiresAt: s.ExpiresAt(),
	}
}

// Token returns the stored bearer token, or "" when logged out.
func (s *Store) Token() string {
	token, _ := s.repo.Get(tokenKey)
	return token
}

// Identity returns the stored identity, or nil. Malformed stored JSON is
// purged rather than propagated as an error.
func (s *Store) Identity() *Identity {
	raw, ok := s.repo.Get(userKey)
	if !ok {
		return nil
	}
	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		s.log.Warn().Err(err).Msg("purging unparseable stored identity")
		s.repo.Delete(userKey)
		return nil
	}
	return &identity
}

// ExpiresAt returns the recorded expiry instant, or nil when none is
// recorded or the stored value does not parse.
func (s *Store) ExpiresAt() *time.Time {
	raw, ok := s.repo.Get(expiresAtKey)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// SecondsToExpiry returns the whole seconds until the recorded expiry
// (negative once past), or nil when no expiry is recorded.
func (s *Store) SecondsToExpiry() *int64 {
	expiresAt := s.ExpiresAt()
	if expiresAt == nil {
		return nil
	}
	seconds := int64(expiresAt.Sub(s.nowTime()) / time.Second)
	return &seconds
}

// IsExpired reports whether an expiry is recorded and has passed. Absence
// of an expiry means not expired.
func (s *Store) IsExpired() bool {
	expiresAt := s.ExpiresAt()
	if expiresAt == nil {
		return false
	}
	return !expiresAt.After(s.nowTime())
}

// IsExpiringSoon reports whether an expiry is recorded and falls within
// threshold of now.
func (s *Store) IsExpiringSoon(threshold time.Duration) bool {
	expiresAt := s.ExpiresAt()
	if expiresAt == nil {
		return false
	}
	return !expiresAt.After(s.nowTime().Add(threshold))
}

// MarkActivity records the last user interaction instant.
func (s *Store) MarkActivity(t time.Time) {
	s.repo.Set(lastActivityKey, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastActivity returns the last recorded interaction instant, or nil.
func (s *Store) LastActivity() *time.Time {
	raw, ok := s.repo.Get(lastActivityKey)
	if !ok {
		return nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(millis)
	return &t
}

// LastRefresh returns when a credential was last persisted, or nil.
func (s *Store) LastRefresh() *time.Time {
	raw, ok := s.repo.Get(lastRefreshKey)
	if !ok {
		return nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(millis)
	return &t
}

// Clear removes the token, identity, expiry and activity records as one
// logical unit. It is idempotent and always wins: it bumps the generation
// so in-flight refreshes discard their results.
func (s *Store) Clear() {
	s.repo.Delete(tokenKey)
	s.repo.Delete(userKey)
	s.repo.Delete(expiresAtKey)
	s.repo.Delete(expiresInKey)
	s.repo.Delete(lastRefreshKey)
	s.repo.Delete(lastActivityKey)
	s.generation.Add(1)
}

// Generation returns the current session generation. It changes on every
// Persist and Clear.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// jwtExpiry extracts the exp claim from a JWT without verifying the
// signature. The token is only inspected for scheduling; authorisation is
// always the backend's call.
func jwtExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	return &exp.Time
}
