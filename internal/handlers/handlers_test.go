package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/calls"
	"github.com/mossy-p/call-signaling/internal/hub"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/presence"
	"github.com/mossy-p/call-signaling/internal/relay"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Environment:    "test",
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      "test-secret",
		Admin:          config.AdminConfig{Username: "admin", Password: "hunter2"},
		Log:            config.LogConfig{Level: "debug"},
		WebSocket:      config.WebSocketConfig{MaxMessageBytes: 64 * 1024, SendBuffer: 16},
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logging.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := relay.New(presence.NewRegistry(), calls.NewTracker(), logging.Component(log, "relay"), relay.WithMetrics(m))
	h := hub.New(r, logging.Component(log, "hub"))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(NewRouter(RouterDeps{
		Config:   testConfig(),
		Hub:      h,
		Metrics:  m,
		Gatherer: reg,
		Log:      log,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-h.Done()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials as identity and waits for the ready confirmation.
func connect(t *testing.T, srv *httptest.Server, identity string) *websocket.Conn {
	t.Helper()
	conn := dial(t, srv, "?identity="+identity)
	ready := await(t, conn, models.SignalTypeReady)
	var payload models.Ready
	if err := ready.Decode(&payload); err != nil || payload.Identity != identity {
		t.Fatalf("ready payload = %s, err = %v", ready.Payload, err)
	}
	return conn
}

// await reads until a message of type want arrives, skipping any others.
func await(t *testing.T, conn *websocket.Conn, want models.SignalType) models.SignalMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ models.SignalType, payload interface{}) {
	t.Helper()
	msg, err := models.NewSignalMessage(typ, payload)
	if err != nil {
		t.Fatalf("NewSignalMessage: %v", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func getJSON(t *testing.T, req *http.Request, v interface{}) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", req.URL, err)
		}
	}
	return resp.StatusCode
}

func TestSignaling_CallDeclined(t *testing.T) {
	srv := newServer(t)
	alice := connect(t, srv, "alice")
	bob := connect(t, srv, "bob")

	send(t, alice, models.SignalTypeCallRequest, models.CallRequest{
		TargetIdentity: "bob",
		SDPOffer:       json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		IsVideo:        true,
	})

	var incoming models.IncomingCall
	if err := await(t, bob, models.SignalTypeIncomingCall).Decode(&incoming); err != nil {
		t.Fatalf("decode incoming-call: %v", err)
	}
	if incoming.CallerIdentity != "alice" || !incoming.IsVideo {
		t.Fatalf("incoming-call = %+v", incoming)
	}
	if !bytes.Equal(incoming.SDPOffer, []byte(`{"type":"offer","sdp":"v=0"}`)) {
		t.Fatalf("sdpOffer = %s", incoming.SDPOffer)
	}

	send(t, bob, models.SignalTypeDeclineCall, models.TargetRequest{TargetIdentity: "alice"})

	var declined models.CallDeclined
	if err := await(t, alice, models.SignalTypeCallDeclined).Decode(&declined); err != nil {
		t.Fatalf("decode call-declined: %v", err)
	}
	if declined.CalleeIdentity != "bob" {
		t.Fatalf("calleeIdentity = %q", declined.CalleeIdentity)
	}

	var health map[string]interface{}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	if code := getJSON(t, req, &health); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if health["users"] != float64(2) || health["activeCalls"] != float64(0) {
		t.Fatalf("health = %v", health)
	}
}

func TestSignaling_PartnerDisconnected(t *testing.T) {
	srv := newServer(t)
	alice := connect(t, srv, "alice")
	bob := connect(t, srv, "bob")

	send(t, alice, models.SignalTypeCallRequest, models.CallRequest{TargetIdentity: "bob"})
	await(t, bob, models.SignalTypeIncomingCall)

	bob.Close()

	var gone models.PartnerDisconnected
	if err := await(t, alice, models.SignalTypePartnerDisconnected).Decode(&gone); err != nil {
		t.Fatalf("decode partner-disconnected: %v", err)
	}
	if gone.DisconnectedIdentity != "bob" {
		t.Fatalf("disconnectedIdentity = %q", gone.DisconnectedIdentity)
	}
}

func TestSignaling_MalformedMessageKeepsConnection(t *testing.T) {
	srv := newServer(t)
	alice := connect(t, srv, "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var payload models.ErrorPayload
	if err := await(t, alice, models.SignalTypeError).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Message != "Invalid message format." {
		t.Fatalf("message = %q", payload.Message)
	}

	send(t, alice, models.SignalTypePing, nil)
	await(t, alice, models.SignalTypePong)
}

func TestSignaling_MissingIdentityRejected(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, srv, "")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg models.SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload models.ErrorPayload
	if err := msg.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != models.SignalTypeError || payload.Message != missingIdentityMessage {
		t.Fatalf("got %s %q", msg.Type, payload.Message)
	}

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err = %v, want policy violation close", err)
	}
}

func TestOriginFilter(t *testing.T) {
	srv := newServer(t)

	cases := []struct {
		origin string
		want   int
	}{
		{"", http.StatusOK},
		{"http://localhost:3000", http.StatusOK},
		{"http://evil.example", http.StatusForbidden},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if code := getJSON(t, req, nil); code != tc.want {
			t.Errorf("origin %q: status = %d, want %d", tc.origin, code, tc.want)
		}
	}
}

func TestAdminAPI(t *testing.T) {
	srv := newServer(t)
	alice := connect(t, srv, "alice")
	bob := connect(t, srv, "bob")
	connect(t, srv, "carol")

	send(t, alice, models.SignalTypeCallRequest, models.CallRequest{TargetIdentity: "bob"})
	await(t, bob, models.SignalTypeIncomingCall)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/users", nil)
	if code := getJSON(t, req, nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", code)
	}

	bad, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/login",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	bad.Header.Set("Content-Type", "application/json")
	if code := getJSON(t, bad, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", code)
	}

	login, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/login",
		strings.NewReader(`{"username":"admin","password":"hunter2"}`))
	login.Header.Set("Content-Type", "application/json")
	var token LoginResponse
	if code := getJSON(t, login, &token); code != http.StatusOK || token.Token == "" {
		t.Fatalf("login status = %d, token = %q", code, token.Token)
	}

	var users struct {
		Users []models.OnlineUser `json:"users"`
		Count int                 `json:"count"`
	}
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	if code := getJSON(t, req, &users); code != http.StatusOK {
		t.Fatalf("users status = %d", code)
	}
	if users.Count != 3 || len(users.Users) != 3 || users.Users[0].Identity != "alice" {
		t.Fatalf("users = %+v", users)
	}

	var sessions struct {
		Calls []models.ActiveCall `json:"calls"`
		Count int                 `json:"count"`
	}
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/calls", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	if code := getJSON(t, req, &sessions); code != http.StatusOK {
		t.Fatalf("calls status = %d", code)
	}
	if sessions.Count != 1 || sessions.Calls[0].Identities != [2]string{"alice", "bob"} {
		t.Fatalf("calls = %+v", sessions)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t)
	connect(t, srv, "alice")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), `call_signaling_connections_total{result="accepted"} 1`) {
		t.Fatalf("metrics output missing accepted connection:\n%s", body.String())
	}
}
