// Package auth is the public session surface: login, logout, bootstrap on
// startup, the current reactive session state, and the inactivity logout.
// It composes the session store, the request gateway and the broadcast hub.
package auth

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gestionactiva/go-activa-client/broadcast"
	"github.com/gestionactiva/go-activa-client/gateway"
	"github.com/gestionactiva/go-activa-client/internal/utils"
	"github.com/gestionactiva/go-activa-client/session"
)

const defaultInactivityWindow = 30 * time.Minute

// Credentials is the login input. Email takes precedence over Identifier
// when both are set.
type Credentials struct {
	Email      string `json:"email,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Password   string `json:"password"`
}

func (c Credentials) validate() error {
	if c.Password == "" || (c.Email == "" && c.Identifier == "") {
		return MissingCredentialsErr
	}
	return nil
}

// payload strips the unused identifier field so login never sends both.
func (c Credentials) payload() map[string]string {
	if c.Email != "" {
		return map[string]string{"email": c.Email, "password": c.Password}
	}
	return map[string]string{"identifier": c.Identifier, "password": c.Password}
}

// LoginResult is the structured outcome of a login attempt. Expected
// credential and validation failures come back here with Success false;
// connectivity failures are returned as errors instead.
type LoginResult struct {
	Success     bool
	User        *session.Identity
	Message     string
	FieldErrors map[string][]string
}

// State is a snapshot of the reactive session state.
type State struct {
	Identity        *session.Identity
	IsAuthenticated bool
	Loading         bool
	LastError       string
}

// Service is the auth session facade.
type Service struct {
	gw      *gateway.Gateway
	store   *session.Store
	hub     *broadcast.Hub
	monitor *Monitor
	log     zerolog.Logger
	nowTime func() time.Time

	mu       sync.Mutex
	identity *session.Identity
	loading  bool
	lastErr  string

	unsubscribe []func()
}

// ServiceOption modifies a Service instance.
type ServiceOption func(*Service)

// WithInactivityWindow overrides the 30 minute idle window.
func WithInactivityWindow(window time.Duration) ServiceOption {
	return func(s *Service) {
		s.monitor = NewMonitor(window, s.inactivityLogout)
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// NewService creates the facade over an existing gateway and wires it to
// the gateway's broadcast hub.
func NewService(gw *gateway.Gateway, logger zerolog.Logger, options ...ServiceOption) (*Service, error) {
	if gw == nil {
		return nil, errors.New("[NewService] gateway is required")
	}

	s := &Service{
		gw:      gw,
		store:   gw.Store(),
		hub:     gw.Hub(),
		log:     logger,
		nowTime: time.Now,
	}
	s.monitor = NewMonitor(defaultInactivityWindow, s.inactivityLogout)

	for _, opt := range options {
		opt(s)
	}

	s.unsubscribe = append(s.unsubscribe,
		s.hub.SubscribeRefreshed(s.onTokenRefreshed),
		s.hub.SubscribeCleared(s.onSessionCleared),
	)

	return s, nil
}

// Close disarms the inactivity monitor and detaches from the hub.
func (s *Service) Close() {
	s.monitor.Disarm()
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

// Monitor exposes the inactivity monitor, mainly so callers can Touch it
// from their own interaction tracking.
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// Login validates the credentials locally, then authenticates against the
// backend. On success the session is persisted, activity is recorded and
// the inactivity monitor is armed.
func (s *Service) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	if err := creds.validate(); err != nil {
		return LoginResult{}, err
	}

	s.setLoading(true)
	defer s.setLoading(false)

	raw, err := s.gw.Post(ctx, gateway.EndpointLogin, creds.payload())
	if err != nil {
		var reqErr *gateway.RequestError
		if stderrors.As(err, &reqErr) {
			// The backend rejected the credentials; an expected outcome,
			// reported without throwing.
			s.setLastError(reqErr.Message)
			return LoginResult{Success: false, Message: reqErr.Message, FieldErrors: fieldErrors(reqErr.Payload)}, nil
		}
		s.setLastError(err.Error())
		return LoginResult{}, errors.Wrap(err, "[Service.Login]")
	}

	envelope := gateway.DecodeSessionEnvelope(raw)
	if envelope.Success != nil && !*envelope.Success {
		message := envelope.FailureMessage("login failed")
		s.setLastError(message)
		return LoginResult{Success: false, Message: message, FieldErrors: envelope.Errors}, nil
	}

	cred, identity := envelope.Credential()
	if cred.Token == "" {
		message := envelope.FailureMessage("login response carried no token")
		s.setLastError(message)
		return LoginResult{Success: false, Message: message}, nil
	}

	s.store.Persist(cred, identity)
	s.store.MarkActivity(s.nowTime())

	s.mu.Lock()
	s.identity = identity
	s.lastErr = ""
	s.mu.Unlock()

	s.monitor.Arm()
	s.log.Info().Str("email", creds.Email).Msg("logged in")

	return LoginResult{Success: true, User: identity}, nil
}

// Logout notifies the backend best-effort, then unconditionally clears the
// local session and disarms the inactivity monitor. It never fails.
func (s *Service) Logout(ctx context.Context) {
	s.logout(ctx, broadcast.ReasonLogout)
}

func (s *Service) logout(ctx context.Context, reason string) {
	if _, err := s.gw.Post(ctx, gateway.EndpointLogout, nil); err != nil {
		s.log.Warn().Err(err).Msg("server logout failed; clearing local session anyway")
	}
	s.gw.ClearSession(reason)
}

// inactivityLogout is the monitor's timeout callback.
func (s *Service) inactivityLogout() {
	s.log.Warn().Msg("logging out after inactivity")
	s.logout(context.Background(), broadcast.ReasonInactivity)
}

// Bootstrap restores the session on application start. Without a valid
// stored session it clears any stale remnants and reports logged out.
// Otherwise it hydrates optimistically from storage and then confirms the
// credential by fetching the current identity; a rejected confirmation
// logs the session out.
func (s *Service) Bootstrap(ctx context.Context) State {
	s.setLoading(true)
	defer s.setLoading(false)

	if !s.HasActiveSession() {
		s.store.Clear()
		return s.Session()
	}

	snapshot := s.store.Read()
	s.mu.Lock()
	s.identity = snapshot.Identity
	s.mu.Unlock()

	if s.store.LastActivity() == nil {
		s.store.MarkActivity(s.nowTime())
	}
	s.monitor.Arm()

	identity, err := s.CurrentUser(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("stored session rejected by backend, logging out")
		s.logout(ctx, broadcast.ReasonStale)
		return s.Session()
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	return s.Session()
}

// CurrentUser fetches the authenticated identity from the backend and
// updates the stored copy.
func (s *Service) CurrentUser(ctx context.Context) (*session.Identity, error) {
	raw, err := s.gw.Get(ctx, gateway.EndpointUser, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CurrentUser]")
	}

	var identity session.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, errors.Wrap(err, "[Service.CurrentUser] decode identity")
	}

	s.store.PutIdentity(&identity)
	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()
	return &identity, nil
}

// HasActiveSession reports whether a token is stored and not expired.
func (s *Service) HasActiveSession() bool {
	return s.store.Token() != "" && !s.store.IsExpired()
}

// Session returns the current reactive state snapshot.
func (s *Service) Session() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Identity:        s.identity,
		IsAuthenticated: s.store.Token() != "",
		Loading:         s.loading,
		LastError:       s.lastErr,
	}
}

// RecordActivity is the hook interaction tracking calls on pointer, key,
// touch and scroll signals: it stamps the activity time and resets the
// inactivity window.
func (s *Service) RecordActivity() {
	s.store.MarkActivity(s.nowTime())
	s.monitor.Touch()
}

// Capability predicates bound to the current identity.

func (s *Service) IsAdmin() bool        { return IsAdmin(s.currentIdentity()) }
func (s *Service) IsLeader() bool       { return IsLeader(s.currentIdentity()) }
func (s *Service) IsMember() bool       { return IsMember(s.currentIdentity()) }
func (s *Service) CanManageUsers() bool { return CanManageUsers(s.currentIdentity()) }
func (s *Service) CanManageEvents() bool {
	return CanManageEvents(s.currentIdentity())
}
func (s *Service) CanViewDashboard() bool {
	return CanViewDashboard(s.currentIdentity())
}

func (s *Service) currentIdentity() *session.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// onTokenRefreshed keeps the in-memory identity in sync with refreshes and
// counts a refresh as activity, the same as the original app rearming its
// idle timer on the token-refreshed event.
func (s *Service) onTokenRefreshed(ev broadcast.TokenRefreshed) {
	if ev.Identity != nil {
		s.mu.Lock()
		s.identity = ev.Identity
		s.mu.Unlock()
	}
	s.store.MarkActivity(s.nowTime())
	s.monitor.Touch()
}

// onSessionCleared transitions the facade to logged out whenever anything
// purges the session: explicit logout, a 401, or a failed refresh.
func (s *Service) onSessionCleared(ev broadcast.SessionCleared) {
	s.monitor.Disarm()
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
	s.log.Debug().Str("reason", ev.Reason).Msg("session cleared")
}

func (s *Service) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

func (s *Service) setLastError(message string) {
	s.mu.Lock()
	s.lastErr = message
	s.mu.Unlock()
}

// fieldErrors extracts a {"field": ["msg"]} validation map from a raw
// error payload.
func fieldErrors(payload map[string]any) map[string][]string {
	raw, ok := payload["errors"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for field, messages := range raw {
		items, ok := messages.([]any)
		if !ok {
			continue
		}
		if msgs := utils.ToStringSlice(items); len(msgs) > 0 {
			out[field] = msgs
		}
	}
	return out
}
