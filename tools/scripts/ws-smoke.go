// Package main provides a CI-friendly WebSocket smoke test for the CRM session stream.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack subscription with a subscriber id
//   - initial snapshot push and session_get
//   - rejection of unknown envelope types
//   - with -email/-password: login and logout snapshots fanned out to every subscriber
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "crm/shared/contracts/session/v1"

	"github.com/coder/websocket"
)

const (
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name         string
	conn         *websocket.Conn
	subscriberID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws/session", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "", "Account email; enables the login/logout round trip")
		password = flag.String("password", "", "Account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.subscriberID, b.subscriberID, *origin)
	}

	initial := mustSessionGet(root, a, *timeout)
	if *verbose {
		fmt.Printf("session: status=%s authenticated=%v\n", initial.Status, initial.IsAuthenticated)
	}

	mustRejectUnknownType(root, b, *timeout)

	if *email != "" {
		base := httpBaseURL(*wsURL)
		if initial.IsAuthenticated {
			mustPost(root, base+"/logout", nil, *timeout)
			mustAwaitStatus(root, a, "unauthenticated", *timeout)
			mustAwaitStatus(root, b, "unauthenticated", *timeout)
		}

		body := mustJSON(map[string]string{"email": *email, "password": *password})
		mustPost(root, base+"/login", body, *timeout)
		snapA := mustAwaitStatus(root, a, "authenticated", *timeout)
		mustAwaitStatus(root, b, "authenticated", *timeout)
		if snapA.User == nil || snapA.User.Role == "" {
			fatalf("authenticated snapshot missing user role")
		}
		if *verbose {
			fmt.Printf("login: user=%s role=%s capabilities=%d\n", snapA.User.Email, snapA.User.Role, len(snapA.Capabilities))
		}

		mustPost(root, base+"/logout", nil, *timeout)
		mustAwaitStatus(root, a, "unauthenticated", *timeout)
		mustAwaitStatus(root, b, "unauthenticated", *timeout)
	}

	fmt.Println("OK")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Client: "ws-smoke"}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SubscriberID) == "" {
		fatalf("hello_ack missing subscriber_id (%s)", name)
	}
	c.subscriberID = p.SubscriberID

	// The subscription starts with the current snapshot.
	_ = decodeSnapshot(c, c.mustReadUntilType(parent, v1.TypeSessionSnapshot, stepTimeout, nil))

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSessionGet(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.SessionSnapshotPayload {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSessionGet,
		ID:   fmt.Sprintf("%s-session-get", c.name),
		TS:   time.Now().UTC(),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	return decodeSnapshot(c, c.mustReadUntilType(parent, v1.TypeSessionSnapshot, stepTimeout, nil))
}

func mustRejectUnknownType(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	raw := []byte(`{"v":"v1","type":"conversation.join","id":"` + c.name + `-unknown"}`)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		fatalf("write failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for error envelope (%s)", c.name)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for error envelope (%s)", c.name)
			}
			if env.Type == v1.TypeSessionSnapshot {
				continue
			}
			if env.Type != v1.TypeError {
				fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, v1.TypeError)
			}
			var ep v1.ErrorPayload
			if err := json.Unmarshal(env.Payload, &ep); err != nil {
				fatalf("unmarshal error payload (%s): %v", c.name, err)
			}
			if ep.Code != "bad_envelope" {
				fatalf("error code mismatch (%s): got=%q want=%q", c.name, ep.Code, "bad_envelope")
			}
			return
		}
	}
}

// mustAwaitStatus reads pushed snapshots until one reports want. Loading snapshots are skipped.
func mustAwaitStatus(parent context.Context, c *smokeClient, want string, stepTimeout time.Duration) v1.SessionSnapshotPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.mustReadUntilType(ctx, v1.TypeSessionSnapshot, stepTimeout, nil)
		p := decodeSnapshot(c, env)
		if p.Status == want && !p.IsLoading {
			return p
		}
	}
}

func decodeSnapshot(c *smokeClient, env v1.Envelope) v1.SessionSnapshotPayload {
	var p v1.SessionSnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal session_snapshot payload (%s): %v", c.name, err)
	}
	switch p.Status {
	case "unauthenticated", "pending_validation", "authenticated":
	default:
		fatalf("session_snapshot invalid status (%s): %q", c.name, p.Status)
	}
	if (p.Status == "authenticated") != (p.User != nil) {
		fatalf("session_snapshot status/user mismatch (%s): status=%q user=%v", c.name, p.Status, p.User != nil)
	}
	if bytes.Contains(env.Payload, []byte("accessToken")) || bytes.Contains(env.Payload, []byte("refreshToken")) {
		fatalf("session_snapshot leaks tokens (%s)", c.name)
	}
	return p
}

func mustPost(parent context.Context, target string, body []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fatalf("build request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		fatalf("POST %s: status %d", target, resp.StatusCode)
	}
}

// httpBaseURL maps the stream URL back to the console origin.
func httpBaseURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
