package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/session"
	"crm/cmd/internal/auth/tokenstore"

	v1 "crm/shared/contracts/session/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noIdentity struct{ identity.Client }

func newController(t *testing.T, stored bool) (*session.Controller, *tokenstore.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := tokenstore.New(log, tokenstore.NewMemoryBackend("primary"))
	if stored {
		store.Save(context.Background(), tokenstore.Pair{AccessToken: "a", RefreshToken: "r"})
	}
	ctrl := session.NewController(noIdentity{}, store, session.WithLogger(log))
	return ctrl, store
}

func startGateway(t *testing.T, src Source) string {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	g := NewGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), src, cfg)

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	env := v1.Envelope{V: v1.Version, Type: typ, ID: "c1", TS: time.Now().UTC(), Payload: b}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
}

func next(t *testing.T, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var env v1.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.NoError(t, env.Validate())
		if env.Type == typ {
			return env
		}
	}
}

func TestHelloStartsSnapshotStream(t *testing.T) {
	ctrl, _ := newController(t, true)
	url := startGateway(t, ctrl)
	conn := dial(t, url)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Client: "test"})

	ack, err := DecodePayload[v1.HelloAckPayload](next(t, conn, v1.TypeHelloAck))
	require.NoError(t, err)
	assert.NotEmpty(t, ack.SubscriberID)

	first, err := DecodePayload[v1.SessionSnapshotPayload](next(t, conn, v1.TypeSessionSnapshot))
	require.NoError(t, err)
	assert.Equal(t, "unauthenticated", first.Status)

	ctrl.InitializeAuth(context.Background())

	pending, err := DecodePayload[v1.SessionSnapshotPayload](next(t, conn, v1.TypeSessionSnapshot))
	require.NoError(t, err)
	assert.Equal(t, "pending_validation", pending.Status)
	assert.True(t, pending.IsAuthenticated)
	assert.True(t, pending.TokensPresent)
	assert.Nil(t, pending.User)
	assert.Empty(t, pending.Capabilities)
}

func TestSessionGet(t *testing.T) {
	ctrl, _ := newController(t, false)
	conn := dial(t, startGateway(t, ctrl))

	send(t, conn, v1.TypeSessionGet, struct{}{})
	snap, err := DecodePayload[v1.SessionSnapshotPayload](next(t, conn, v1.TypeSessionSnapshot))
	require.NoError(t, err)
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.TokensPresent)
}

func TestUnknownTypeYieldsError(t *testing.T) {
	ctrl, _ := newController(t, false)
	conn := dial(t, startGateway(t, ctrl))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw := `{"v":"v1","type":"message_send","id":"x"}`
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(raw)))

	p, err := DecodePayload[v1.ErrorPayload](next(t, conn, v1.TypeError))
	require.NoError(t, err)
	assert.Equal(t, "bad_envelope", p.Code)
}

func TestOriginPolicy(t *testing.T) {
	ctrl, _ := newController(t, false)
	g := NewGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), ctrl, DefaultConfig())

	cases := []struct {
		origin string
		ok     bool
	}{
		{origin: "", ok: false},
		{origin: "http://localhost:5173", ok: true},
		{origin: "http://127.0.0.1:8080", ok: true},
		{origin: "https://evil.example.com", ok: false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := g.enforceOrigin(r)
		assert.Equal(t, tc.ok, err == nil, "origin %q: %v", tc.origin, err)
	}

	assert.Equal(t, []string{"127.0.0.1", "localhost"}, originPatterns(DefaultConfig().AllowedOrigins))
}

func TestOriginHostOnly(t *testing.T) {
	cases := map[string]string{
		"http://LocalHost:3000": "localhost",
		"127.0.0.1:8080":        "127.0.0.1",
		"example.com":           "example.com",
		"":                      "",
		"http://[::1]:9000":     "::1",
	}
	for in, want := range cases {
		assert.Equal(t, want, originHostOnly(in), in)
	}
}
