package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gestionactiva/go-activa-client/broadcast"
	"github.com/gestionactiva/go-activa-client/gateway"
	"github.com/gestionactiva/go-activa-client/session"
	"github.com/gestionactiva/go-activa-client/session/repofake"
)

const (
	testToken    = "stored-token-1"
	refreshToken = "refreshed-token-2"
)

type gatewayFixture struct {
	repo   *repofake.FakeKVRepo
	store  *session.Store
	hub    *broadcast.Hub
	gw     *gateway.Gateway
	server *httptest.Server

	cleared   []string
	refreshed []broadcast.TokenRefreshed
	eventsMu  sync.Mutex
}

// setupGateway wires a gateway against an httptest backend. The caller
// provides the routes; the fixture records broadcast events.
func setupGateway(t *testing.T, routes func(r chi.Router), options ...gateway.Option) *gatewayFixture {
	t.Helper()

	router := chi.NewRouter()
	routes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	repo := repofake.NewFakeKVRepo()
	store := session.NewStore(repo, zerolog.Nop())
	hub := broadcast.NewHub()

	gw, err := gateway.New(server.URL, store, hub, zerolog.Nop(), options...)
	require.NoError(t, err)

	f := &gatewayFixture{repo: repo, store: store, hub: hub, gw: gw, server: server}
	hub.SubscribeCleared(func(ev broadcast.SessionCleared) {
		f.eventsMu.Lock()
		defer f.eventsMu.Unlock()
		f.cleared = append(f.cleared, ev.Reason)
	})
	hub.SubscribeRefreshed(func(ev broadcast.TokenRefreshed) {
		f.eventsMu.Lock()
		defer f.eventsMu.Unlock()
		f.refreshed = append(f.refreshed, ev)
	})
	return f
}

// seedSession stores a token without an expiry (never expires locally).
func (f *gatewayFixture) seedSession(t *testing.T) {
	t.Helper()
	f.store.Persist(session.Credential{Token: testToken}, &session.Identity{ID: 1, Name: "Ana"})
}

// seedExpiredSession stores a token whose recorded expiry has passed.
func (f *gatewayFixture) seedExpiredSession(t *testing.T) {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	f.store.Persist(session.Credential{Token: testToken, ExpiresAt: &past}, &session.Identity{ID: 1})
}

func (f *gatewayFixture) clearedReasons() []string {
	f.eventsMu.Lock()
	defer f.eventsMu.Unlock()
	return append([]string(nil), f.cleared...)
}

func (f *gatewayFixture) refreshedEvents() []broadcast.TokenRefreshed {
	f.eventsMu.Lock()
	defer f.eventsMu.Unlock()
	return append([]broadcast.TokenRefreshed(nil), f.refreshed...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func refreshResponse() string {
	return fmt.Sprintf(`{"data":{"token":%q,"user":{"id":1,"name":"Ana"},"expires_in_seconds":3600}}`, refreshToken)
}

func TestConcurrentIdenticalGetsShareOneCall(t *testing.T) {
	var calls atomic.Int32
	f := setupGateway(t, func(r chi.Router) {
		r.Get("/eventos", func(w http.ResponseWriter, req *http.Request) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			writeJSON(w, http.StatusOK, `{"items":[1,2,3]}`)
		})
	})
	f.seedSession(t)

	const callers = 4
	results := make([]json.RawMessage, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.gw.Get(context.Background(), "/eventos", nil)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "identical concurrent reads must share one network call")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.JSONEq(t, `{"items":[1,2,3]}`, string(results[i]))
	}
}

func TestDistinctParamsAreNotDeduplicated(t *testing.T) {
	var calls atomic.Int32
	f := setupGateway(t, func(r chi.Router) {
		r.Get("/eventos", func(w http.ResponseWriter, req *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"month":%q}`, req.URL.Query().Get("month")))
		})
	})
	f.seedSession(t)

	_, err := f.gw.Get(context.Background(), "/eventos", url.Values{"month": {"01"}})
	require.NoError(t, err)
	_, err = f.gw.Get(context.Background(), "/eventos", url.Values{"month": {"02"}})
	require.NoError(t, err)

	require.Equal(t, int32(2), calls.Load())
}

func TestRegistryEntryRemovedAfterFailure(t *testing.T) {
	var calls atomic.Int32
	f := setupGateway(t, func(r chi.Router) {
		r.Get("/eventos", func(w http.ResponseWriter, req *http.Request) {
			if calls.Add(1) == 1 {
				writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"items":[]}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Get(context.Background(), "/eventos", nil)
	require.Error(t, err)

	// A settled failure must not poison later calls to the same key.
	_, err = f.gw.Get(context.Background(), "/eventos", nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	f := setupGateway(t, func(r chi.Router) {
		r.Get("/eventos", func(w http.ResponseWriter, req *http.Request) {
			gotAuth = req.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, `{}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Get(context.Background(), "/eventos", nil)
	require.NoError(t, err)
	require.Equal(t, "Bearer "+testToken, gotAuth)
}

func TestLoginNeverSendsStoredToken(t *testing.T) {
	var gotAuth string
	f := setupGateway(t, func(r chi.Router) {
		r.Post("/login", func(w http.ResponseWriter, req *http.Request) {
			gotAuth = req.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, `{"data":{"token":"T1","user":{"id":1}}}`)
		})
	})
	f.seedSession(t) // a stale foreign credential is present

	_, err := f.gw.Post(context.Background(), gateway.EndpointLogin, map[string]string{"email": "a@b.com", "password": "x"})
	require.NoError(t, err)
	require.Empty(t, gotAuth, "login must not send a stale credential")
}

func TestRequestIDHeaderAttached(t *testing.T) {
	var gotRequestID string
	f := setupGateway(t, func(r chi.Router) {
		r.Get("/eventos", func(w http.ResponseWriter, req *http.Request) {
			gotRequestID = req.Header.Get("X-Request-ID")
			writeJSON(w, http.StatusOK, `{}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Get(context.Background(), "/eventos", nil)
	require.NoError(t, err)
	require.NotEmpty(t, gotRequestID)
}

func TestUnauthorizedResponseClearsSession(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Get("/eventos", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Unauthenticated."}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Get(context.Background(), "/eventos", nil)

	require.Error(t, err)
	require.ErrorIs(t, err, gateway.ErrAuthorizationDenied)
	require.Empty(t, f.store.Token(), "session must be empty immediately after the call settles")
	require.Equal(t, []string{broadcast.ReasonUnauthorized}, f.clearedReasons())
}

func TestSessionExpiredStatusAlsoClears(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Delete("/eventos/9", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, 419, `{"message":"Session expired"}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Delete(context.Background(), "/eventos/9")

	require.ErrorIs(t, err, gateway.ErrAuthorizationDenied)
	require.Empty(t, f.store.Token())
}

func TestUnauthorizedOnExemptEndpointKeepsSession(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Post("/login", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusUnauthorized, `{"message":"bad credentials"}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Post(context.Background(), gateway.EndpointLogin, map[string]string{"email": "a@b.com", "password": "x"})

	require.Error(t, err)
	require.Equal(t, testToken, f.store.Token(), "a failed login must not destroy an existing session")
	require.Empty(t, f.clearedReasons())
}

func TestValidationErrorsJoinedIntoMessage(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Post("/eventos", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity,
				`{"errors":{"nombre":["El nombre es requerido."],"fecha":["La fecha es inválida."]}}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Post(context.Background(), "/eventos", map[string]string{})

	var reqErr *gateway.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, http.StatusUnprocessableEntity, reqErr.Status)
	require.Equal(t, "La fecha es inválida. El nombre es requerido.", reqErr.Message)
}

func TestBackendMessagePreferredOverFieldErrors(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Post("/eventos", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusConflict, `{"message":"duplicado","errors":{"nombre":["x"]}}`)
		})
	})
	f.seedSession(t)

	_, err := f.gw.Post(context.Background(), "/eventos", nil)

	var reqErr *gateway.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "duplicado", reqErr.Message)
}

func TestDeleteNoContentIsSuccess(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Delete("/eventos/5", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	f.seedSession(t)

	raw, err := f.gw.Delete(context.Background(), "/eventos/5")
	require.NoError(t, err)
	require.JSONEq(t, `{"success":true}`, string(raw))
}

func TestDeleteRedirectStatusIsSuccess(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Delete("/eventos/5", func(w http.ResponseWriter, req *http.Request) {
			// Redirect without a Location: the client hands the 3xx back.
			w.WriteHeader(http.StatusFound)
		})
	})
	f.seedSession(t)

	raw, err := f.gw.Delete(context.Background(), "/eventos/5")
	require.NoError(t, err)
	require.JSONEq(t, `{"success":true}`, string(raw))
}

func TestDeleteOptimisticSuccessOnBlockedRedirect(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Delete("/eventos/5", func(w http.ResponseWriter, req *http.Request) {
			// Endless redirect chain, as a misconfigured backend produces;
			// the client gives up with a redirect error.
			http.Redirect(w, req, "/eventos/5", http.StatusTemporaryRedirect)
		})
	})
	f.seedSession(t)

	raw, err := f.gw.Delete(context.Background(), "/eventos/5")
	require.NoError(t, err, "a blocked redirect on delete is reported as success")
	require.JSONEq(t, `{"success":true}`, string(raw))
}

func TestDeleteOptimisticPolicyCanBeDisabled(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Delete("/eventos/5", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/eventos/5", http.StatusTemporaryRedirect)
		})
	}, gateway.WithOptimisticDelete(false))
	f.seedSession(t)

	_, err := f.gw.Delete(context.Background(), "/eventos/5")
	require.Error(t, err)
}

func TestDeleteParsesBodyWhenPresent(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Delete("/eventos/5", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, `{"deleted":5}`)
		})
	})
	f.seedSession(t)

	raw, err := f.gw.Delete(context.Background(), "/eventos/5")
	require.NoError(t, err)
	require.JSONEq(t, `{"deleted":5}`, string(raw))
}

func TestNetworkFailurePropagatesOnReads(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {})
	f.seedSession(t)
	f.server.Close()

	_, err := f.gw.Get(context.Background(), "/eventos", nil)
	require.Error(t, err)
	var reqErr *gateway.RequestError
	require.False(t, errors.As(err, &reqErr), "a transport fault is not a backend response")
	require.Equal(t, testToken, f.store.Token(), "network faults do not clear the session")
}

func TestPutSendsBodyAndReturnsPayload(t *testing.T) {
	f := setupGateway(t, func(r chi.Router) {
		r.Put("/eventos/3", func(w http.ResponseWriter, req *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, "Ensayo", body["nombre"])
			writeJSON(w, http.StatusOK, `{"id":3,"nombre":"Ensayo"}`)
		})
	})
	f.seedSession(t)

	raw, err := f.gw.Put(context.Background(), "/eventos/3", map[string]string{"nombre": "Ensayo"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":3,"nombre":"Ensayo"}`, string(raw))
}
