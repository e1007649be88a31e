// Package gateway is the authenticated request pipeline: every outbound
// call to the backend goes through it. It keeps the stored token fresh,
// attaches the bearer credential, coalesces identical concurrent reads,
// and turns authorization-denied responses into a session purge.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gestionactiva/go-activa-client/broadcast"
	"github.com/gestionactiva/go-activa-client/internal/metrics"
	"github.com/gestionactiva/go-activa-client/session"
)

const defaultRefreshThreshold = 5 * time.Minute

// inflightCall is one physical network call that any number of identical
// concurrent GETs share.
type inflightCall struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Gateway dispatches authenticated requests against the backend. All of
// its mutable state (the dedup registry and the refresh singleton) lives on
// the instance, so tests get clean teardown by constructing a fresh one.
type Gateway struct {
	baseURL string
	client  *http.Client
	store   *session.Store
	hub     *broadcast.Hub
	log     zerolog.Logger
	limiter *rate.Limiter
	metrics metrics.Recorder

	refreshThreshold time.Duration
	optimisticDelete bool

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall

	refreshMu  sync.Mutex
	refreshing *refreshCall
}

// Option modifies a Gateway instance.
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// WithRefreshThreshold sets how close to expiry a token may get before a
// request triggers a proactive refresh.
func WithRefreshThreshold(threshold time.Duration) Option {
	return func(g *Gateway) {
		g.refreshThreshold = threshold
	}
}

// WithRateLimit throttles outbound requests. A rate of zero disables the
// limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Gateway) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMetrics records pipeline counters through the given recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(g *Gateway) {
		g.metrics = recorder
	}
}

// WithOptimisticDelete controls whether a network-level fault on a DELETE
// is reported as a possible success. The backend redirects API calls after
// some deletes, which the transport then reports as a failure even though
// the delete landed. On by default for compatibility.
func WithOptimisticDelete(enabled bool) Option {
	return func(g *Gateway) {
		g.optimisticDelete = enabled
	}
}

// New creates a Gateway for the backend at baseURL.
func New(baseURL string, store *session.Store, hub *broadcast.Hub, logger zerolog.Logger, options ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("[gateway.New] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[gateway.New] session store is required")
	}
	if hub == nil {
		return nil, errors.New("[gateway.New] broadcast hub is required")
	}

	g := &Gateway{
		baseURL:          strings.TrimRight(baseURL, "/"),
		client:           &http.Client{Timeout: 30 * time.Second},
		store:            store,
		hub:              hub,
		log:              logger,
		metrics:          (*metrics.Collector)(nil),
		refreshThreshold: defaultRefreshThreshold,
		optimisticDelete: true,
		inflight:         make(map[string]*inflightCall),
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Get issues an authenticated read. Identical concurrent calls (same
// endpoint and params) share one network request and one outcome; the
// registry entry is removed when the call settles, success or failure.
func (g *Gateway) Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if err := g.ensureFresh(ctx, endpoint); err != nil {
		return nil, err
	}

	fullURL := g.buildURL(endpoint, params)
	key := http.MethodGet + " " + fullURL

	g.inflightMu.Lock()
	if call, ok := g.inflight[key]; ok {
		g.inflightMu.Unlock()
		g.metrics.RecordDedupHit()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	g.inflight[key] = call
	g.inflightMu.Unlock()

	result, err := g.dispatch(ctx, http.MethodGet, endpoint, fullURL, nil)

	g.inflightMu.Lock()
	delete(g.inflight, key)
	g.inflightMu.Unlock()

	call.result, call.err = result, err
	close(call.done)
	return result, err
}

// Post issues an authenticated create. A nil body is sent as an empty
// JSON object.
func (g *Gateway) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	if err := g.ensureFresh(ctx, endpoint); err != nil {
		return nil, err
	}
	return g.dispatch(ctx, http.MethodPost, endpoint, g.buildURL(endpoint, nil), body)
}

// Put issues an authenticated replace.
func (g *Gateway) Put(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	if err := g.ensureFresh(ctx, endpoint); err != nil {
		return nil, err
	}
	return g.dispatch(ctx, http.MethodPut, endpoint, g.buildURL(endpoint, nil), body)
}

// Delete issues an authenticated remove. Redirects and 204 responses are
// success with an empty result, and network-level faults that look like a
// blocked redirect are optimistically treated as success (see
// WithOptimisticDelete).
func (g *Gateway) Delete(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if err := g.ensureFresh(ctx, endpoint); err != nil {
		return nil, err
	}
	return g.dispatch(ctx, http.MethodDelete, endpoint, g.buildURL(endpoint, nil), nil)
}

// ClearSession purges the stored session and announces it on the hub.
// Clear is idempotent and authoritative: it also invalidates any in-flight
// refresh via the store's generation counter.
func (g *Gateway) ClearSession(reason string) {
	g.store.Clear()
	g.metrics.RecordSessionClear(reason)
	g.hub.PublishCleared(broadcast.SessionCleared{Reason: reason})
}

// Store exposes the session store the gateway persists through.
func (g *Gateway) Store() *session.Store {
	return g.store
}

// Hub exposes the broadcast hub the gateway announces on.
func (g *Gateway) Hub() *broadcast.Hub {
	return g.hub
}

func (g *Gateway) buildURL(endpoint string, params url.Values) string {
	full := g.baseURL + endpoint
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	return full
}

// dispatch performs one HTTP call and classifies the response.
func (g *Gateway) dispatch(ctx context.Context, method, endpoint, fullURL string, body any) (json.RawMessage, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "[Gateway.dispatch] rate limiter")
		}
	}

	var reqBody io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		raw, err := marshalBody(body)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.dispatch] encode body")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.dispatch] build request")
	}

	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token := g.store.Token(); token != "" && !isAuthlessEndpoint(endpoint) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if method == http.MethodDelete && g.optimisticDelete && looksLikeBlockedRedirect(err) {
			g.log.Warn().Err(err).Str("endpoint", endpoint).
				Msg("network fault on delete, likely a blocked redirect after the delete landed; treating as success")
			return successResult(), nil
		}
		return nil, errors.Wrapf(err, "[Gateway.dispatch] %s %s", method, endpoint)
	}
	defer resp.Body.Close()

	g.metrics.RecordRequest(method, resp.StatusCode)
	g.log.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Msg("api request")

	if method == http.MethodDelete && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		g.log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).
			Msg("redirect on delete; backend is redirecting API calls, treating as success")
		return successResult(), nil
	}

	raw, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.handleUnauthorized(resp.StatusCode, endpoint)
		var payload map[string]any
		_ = json.Unmarshal(raw, &payload)
		return nil, newRequestError(resp.StatusCode, payload)
	}

	if method == http.MethodDelete {
		// 204 and body-less responses are normal after a delete.
		if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
			return successResult(), nil
		}
		return json.RawMessage(raw), nil
	}

	if readErr != nil {
		return nil, errors.Wrapf(readErr, "[Gateway.dispatch] read response %s %s", method, endpoint)
	}
	return json.RawMessage(raw), nil
}

// handleUnauthorized purges the session on an authorization-denied status,
// except for the endpoints that legitimately answer 401 while logged out.
func (g *Gateway) handleUnauthorized(status int, endpoint string) {
	if _, denied := unauthorizedStatuses[status]; !denied {
		return
	}
	if isExemptEndpoint(endpoint) {
		return
	}
	g.ClearSession(broadcast.ReasonUnauthorized)
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(body)
}

func successResult() json.RawMessage {
	return json.RawMessage(`{"success":true}`)
}

// looksLikeBlockedRedirect matches transport failures that are frequently
// symptomatic of the backend redirecting a delete response: the redirect
// chain is cut off after the server already processed the delete.
func looksLikeBlockedRedirect(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"stopped after",     // net/http redirect limit
		"cors",
		"failed to fetch",
		"connection reset",
		"unexpected eof",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
