package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"crm/cmd/internal/auth/session"
	"crm/cmd/internal/ids"
	"crm/cmd/internal/metrics"

	v1 "crm/shared/contracts/session/v1"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	maxFrameBytes = 16 << 10

	maxPingFailures = 3
	closeGrace      = time.Second
)

// Source publishes session snapshots. *session.Controller satisfies it.
type Source interface {
	Subscribe() (<-chan session.State, func())
	Snapshot() session.State
}

// Config tunes the gateway.
type Config struct {
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// RateEvents client events are allowed per RateWindow.
	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig allows localhost origins only.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:     5 * time.Second,
		ReadIdleTimeout:  2 * time.Minute,
		SendQueueSize:    16,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		RateEvents:       60,
		RateWindow:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// Gateway streams session snapshots over websocket.
type Gateway struct {
	log *slog.Logger
	src Source
	cfg Config

	patterns []string
}

// NewGateway constructs a gateway.
func NewGateway(log *slog.Logger, src Source, cfg Config) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{log: log, src: src, cfg: cfg, patterns: originPatterns(cfg.AllowedOrigins)}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the stream until either side closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.patterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(ids.NewRequestID(time.Now()), g.cfg.SendQueueSize)
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		sub       subscription
	)

	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sub.close()
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "subscriber_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	limiter := rate.NewLimiter(rate.Every(g.cfg.RateWindow/time.Duration(g.cfg.RateEvents)), g.cfg.RateEvents)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "subscriber_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !limiter.Allow() {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			updates, err := sub.start(g.src)
			if errors.Is(err, errStreamClosed) {
				break readLoop
			}
			if err != nil {
				g.trySendError(ctx, client, "hello_repeated", err.Error())
				continue readLoop
			}
			g.enqueueTyped(ctx, client, v1.TypeHelloAck, v1.HelloAckPayload{SubscriberID: client.ID})
			go g.pump(ctx, client, updates)
			g.log.Info("ws.stream.start", "subscriber_id", client.ID)

		case v1.TypeSessionGet:
			g.enqueueTyped(ctx, client, v1.TypeSessionSnapshot, Payload(g.src.Snapshot()))

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// pump forwards controller snapshots to the client until either side stops.
func (g *Gateway) pump(ctx context.Context, client *Client, updates <-chan session.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			g.enqueueTyped(ctx, client, v1.TypeSessionSnapshot, Payload(st))
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "subscriber_id", client.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) enqueueTyped(ctx context.Context, client *Client, typ string, payload any) {
	env, err := newEnvelope(typ, payload, time.Now().UTC())
	if err != nil {
		g.log.Error("ws.encode.fail", "type", typ, "err", err)
		return
	}
	if !g.enqueue(ctx, client, env) {
		g.log.Debug("ws.enqueue.drop", "subscriber_id", client.ID, "type", typ)
	}
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	g.enqueueTyped(ctx, client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// DecodePayload unpacks the typed payload of env.
func DecodePayload[T any](env v1.Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}
