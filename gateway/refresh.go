package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gestionactiva/go-activa-client/broadcast"
	"github.com/gestionactiva/go-activa-client/internal/metrics"
	"github.com/gestionactiva/go-activa-client/session"
)

// refreshCall is the singleton in-flight refresh. Callers arriving while a
// refresh is outstanding wait on done and observe the same outcome.
type refreshCall struct {
	done     chan struct{}
	cred     session.Credential
	identity *session.Identity
	err      error
}

// ensureFresh refreshes the stored token when it is expired or expiring
// within the configured threshold. Exempt endpoints and logged-out states
// are a no-op. The expiry check and the decision to refresh happen before
// any suspension point, and every concurrent caller that decides to
// refresh attaches to the same in-flight operation.
func (g *Gateway) ensureFresh(ctx context.Context, endpoint string) error {
	if isExemptEndpoint(endpoint) {
		return nil
	}
	if g.store.Token() == "" {
		return nil
	}
	if !g.store.IsExpired() && !g.store.IsExpiringSoon(g.refreshThreshold) {
		return nil
	}
	_, err := g.Refresh(ctx)
	return err
}

// Refresh renews the stored credential. For N simultaneous callers exactly
// one network call is made; all observe the same resolved credential or the
// same rejection. On success the new credential is persisted and a
// TokenRefreshed event is published; on failure the session is cleared.
func (g *Gateway) Refresh(ctx context.Context) (session.Credential, error) {
	g.refreshMu.Lock()
	if call := g.refreshing; call != nil {
		g.refreshMu.Unlock()
		select {
		case <-call.done:
			return call.cred, call.err
		case <-ctx.Done():
			return session.Credential{}, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	g.refreshing = call
	g.refreshMu.Unlock()

	cred, identity, err := g.doRefresh(ctx)

	g.refreshMu.Lock()
	g.refreshing = nil
	g.refreshMu.Unlock()

	call.cred, call.identity, call.err = cred, identity, err
	close(call.done)
	return cred, err
}

func (g *Gateway) doRefresh(ctx context.Context) (session.Credential, *session.Identity, error) {
	token := g.store.Token()
	if token == "" {
		g.metrics.RecordRefresh(metrics.RefreshSkipped)
		g.ClearSession(broadcast.ReasonRefreshFail)
		return session.Credential{}, nil, errors.Wrap(ErrNoStoredToken, "[Gateway.Refresh]")
	}

	// Snapshot before the network call; a logout (or new login) while the
	// refresh is in flight moves the counter and the late result is
	// discarded instead of resurrecting a cleared session.
	generation := g.store.Generation()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+EndpointRefresh, nil)
	if err != nil {
		return session.Credential{}, nil, errors.Wrap(err, "[Gateway.Refresh] build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.RecordRefresh(metrics.RefreshFailed)
		g.ClearSession(broadcast.ReasonRefreshFail)
		return session.Credential{}, nil, errors.Wrapf(ErrRefreshFailed, "refresh request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	envelope := DecodeSessionEnvelope(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.metrics.RecordRefresh(metrics.RefreshFailed)
		g.ClearSession(broadcast.ReasonRefreshFail)
		var payload map[string]any
		_ = json.Unmarshal(raw, &payload)
		return session.Credential{}, nil, newRefreshError(resp.StatusCode, payload)
	}

	cred, identity := envelope.Credential()
	if cred.Token == "" {
		g.metrics.RecordRefresh(metrics.RefreshFailed)
		g.ClearSession(broadcast.ReasonRefreshFail)
		return session.Credential{}, nil, errors.Wrap(ErrRefreshFailed, "refresh response carried no token")
	}

	if g.store.Generation() != generation {
		g.metrics.RecordRefresh(metrics.RefreshStale)
		g.log.Warn().Msg("discarding refresh result: session changed while refresh was in flight")
		return session.Credential{}, nil, ErrSessionSuperseded
	}

	g.store.Persist(cred, identity)
	g.metrics.RecordRefresh(metrics.RefreshOK)
	g.log.Debug().Msg("token refreshed")
	g.hub.PublishRefreshed(broadcast.TokenRefreshed{Credential: cred, Identity: identity})

	return cred, identity, nil
}
