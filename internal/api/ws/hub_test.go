package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/api/ws"
	"github.com/gosuda/auditchain/internal/server/middleware"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	channels []string
	messages chan []byte
	err      error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.messages, func() {}, nil
}

func (f *fakeSubscriber) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

func newServer(t *testing.T, sub *fakeSubscriber, orgID, role string) *httptest.Server {
	t.Helper()

	hub := ws.NewHub(sub)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.ContextKeyOrgID, orgID)
			ctx = context.WithValue(ctx, middleware.ContextKeyRole, role)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/ws/orgs/{orgID}/events", hub.ServeEvents)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestServeEvents_StreamsOrgChannel(t *testing.T) {
	t.Parallel()

	sub := &fakeSubscriber{messages: make(chan []byte, 2)}
	srv := newServer(t, sub, "acme", middleware.RoleViewer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/orgs/acme/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	sub.messages <- []byte(`{"seq":1}`)
	sub.messages <- []byte(`{"seq":2}`)

	for _, want := range []string{`{"seq":1}`, `{"seq":2}`} {
		typ, msg, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, typ)
		assert.Equal(t, want, string(msg))
	}

	assert.Equal(t, []string{"audit:acme"}, sub.subscribed())
}

func TestServeEvents_ClosesWhenChannelCloses(t *testing.T) {
	t.Parallel()

	sub := &fakeSubscriber{messages: make(chan []byte)}
	srv := newServer(t, sub, "acme", middleware.RoleMember)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/orgs/acme/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	close(sub.messages)

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestServeEvents_SubscribeFailure(t *testing.T) {
	t.Parallel()

	sub := &fakeSubscriber{err: errors.New("redis down")}
	srv := newServer(t, sub, "acme", middleware.RoleMember)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/orgs/acme/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
}

func TestServeEvents_OtherOrgForbidden(t *testing.T) {
	t.Parallel()

	sub := &fakeSubscriber{messages: make(chan []byte)}
	srv := newServer(t, sub, "globex", middleware.RoleMember)

	resp, err := http.Get(srv.URL + "/ws/orgs/acme/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, sub.subscribed())
}
