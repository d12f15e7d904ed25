package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/engine"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/journal"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeBridge struct {
	info  bridge.Info
	state bridge.State
	stats bridge.Stats
}

func (b *fakeBridge) Info() bridge.Info   { return b.info }
func (b *fakeBridge) State() bridge.State { return b.state }
func (b *fakeBridge) Stats() bridge.Stats { return b.stats }
func (b *fakeBridge) Close() error        { return nil }

type fakeEngine struct {
	health   engine.Health
	bridges  []bridge.Bridge
	failures []engine.Failure
	conn     connection.Status
}

func (e *fakeEngine) Health() engine.Health        { return e.health }
func (e *fakeEngine) Bridges() []bridge.Bridge      { return e.bridges }
func (e *fakeEngine) Failures() []engine.Failure    { return e.failures }
func (e *fakeEngine) Connection() connection.Status { return e.conn }
func (e *fakeEngine) ClientID() string              { return "robot7-bridge" }

type fakeJournal struct {
	bridgeEvents []journal.BridgeEvent
	connEvents   []journal.ConnectionEvent
	err          error
	lastLimit    int
}

func (j *fakeJournal) RecordBridge(context.Context, *journal.BridgeEvent) error { return nil }
func (j *fakeJournal) RecordConnection(context.Context, *journal.ConnectionEvent) error {
	return nil
}

func (j *fakeJournal) RecentBridgeEvents(_ context.Context, limit int) ([]journal.BridgeEvent, error) {
	j.lastLimit = limit
	return j.bridgeEvents, j.err
}

func (j *fakeJournal) RecentConnectionEvents(_ context.Context, limit int) ([]journal.ConnectionEvent, error) {
	j.lastLimit = limit
	return j.connEvents, j.err
}

type fakeObserver struct {
	mu  sync.Mutex
	fns []connection.Observer
}

func (o *fakeObserver) Observe(fn connection.Observer) func() {
	o.mu.Lock()
	o.fns = append(o.fns, fn)
	o.mu.Unlock()
	return func() {}
}

func (o *fakeObserver) emit(state connection.State, err error) bool {
	o.mu.Lock()
	fns := append([]connection.Observer(nil), o.fns...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(state, err)
	}
	return len(fns) > 0
}

func healthyEngine() *fakeEngine {
	return &fakeEngine{
		health: engine.Health{
			Status:     engine.StatusHealthy,
			Version:    "1.2.0",
			Connection: "connected",
			Bridges:    2,
			Running:    2,
		},
		bridges: []bridge.Bridge{
			&fakeBridge{
				info: bridge.Info{
					Index: 0, Factory: "ros_to_mqtt", Direction: bridge.Outbound,
					MsgType: "std_msgs/Bool", Source: "/status", Destination: "fleet/robot7/status",
				},
				state: bridge.Subscribed,
				stats: bridge.Stats{Received: 4, Published: 3, Throttled: 1},
			},
			&fakeBridge{
				info: bridge.Info{
					Index: 2, Factory: "mqtt_to_ros", Direction: bridge.Inbound,
					MsgType: "std_msgs/Bool", Source: "fleet/+/enable", Destination: "/enable",
				},
				state: bridge.Faulted,
				stats: bridge.Stats{Received: 1, LastTopic: "~/robot7/enable"},
			},
		},
		failures: []engine.Failure{{Index: 1, Error: "bridge: unknown message type"}},
		conn: connection.Status{
			State:         connection.Connected,
			Since:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Subscriptions: 1,
		},
	}
}

func testServer(t *testing.T, eng StatusSource, deps Deps) *Server {
	t.Helper()
	deps.Engine = eng
	if deps.Config.Host == "" {
		deps.Config = config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}}
	}
	if deps.Version == "" {
		deps.Version = "test"
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ============================================================================
// Server
// ============================================================================

func TestNew_RequiresEngine(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, ErrNoEngine) {
		t.Errorf("New() error = %v, want ErrNoEngine", err)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, healthyEngine(), Deps{})
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv := testServer(t, healthyEngine(), Deps{})
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// ============================================================================
// Health
// ============================================================================

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantStatus int
	}{
		{"healthy", engine.StatusHealthy, http.StatusOK},
		{"degraded", engine.StatusDegraded, http.StatusServiceUnavailable},
		{"stopping", engine.StatusStopping, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := healthyEngine()
			eng.health.Status = tt.status
			w := get(t, testServer(t, eng, Deps{}).Handler(), "/api/v1/health")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			h := decode[engine.Health](t, w)
			if h.Status != tt.status {
				t.Errorf("body status = %q, want %q", h.Status, tt.status)
			}
			if h.Version != "1.2.0" {
				t.Errorf("version = %q, want engine version", h.Version)
			}
		})
	}
}

func TestHealth_VersionFallback(t *testing.T) {
	eng := healthyEngine()
	eng.health.Version = ""
	h := decode[engine.Health](t, get(t, testServer(t, eng, Deps{}).Handler(), "/api/v1/health"))
	if h.Version != "test" {
		t.Errorf("version = %q, want test", h.Version)
	}
}

// ============================================================================
// Middleware
// ============================================================================

type panicEngine struct{ *fakeEngine }

func (panicEngine) Bridges() []bridge.Bridge { panic("boom") }

func TestRecovery(t *testing.T) {
	w := get(t, testServer(t, panicEngine{healthyEngine()}, Deps{}).Handler(), "/api/v1/bridges")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if e := decode[Error](t, w); e.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeInternal)
	}
}

func TestNotFound(t *testing.T) {
	if w := get(t, testServer(t, healthyEngine(), Deps{}).Handler(), "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ============================================================================
// Bridges
// ============================================================================

func TestListBridges(t *testing.T) {
	w := get(t, testServer(t, healthyEngine(), Deps{}).Handler(), "/api/v1/bridges")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[bridgesResponse](t, w)

	if len(resp.Bridges) != 2 {
		t.Fatalf("bridges = %d, want 2", len(resp.Bridges))
	}
	first := resp.Bridges[0]
	if first.State != "subscribed" || first.Destination != "fleet/robot7/status" {
		t.Errorf("first bridge = %+v", first)
	}
	if first.Stats.Received != 4 || first.Stats.Throttled != 1 {
		t.Errorf("first stats = %+v", first.Stats)
	}
	if resp.Bridges[1].State != "faulted" {
		t.Errorf("second state = %q, want faulted", resp.Bridges[1].State)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].Index != 1 {
		t.Errorf("failures = %+v", resp.Failures)
	}
}

func TestListBridges_EmptyFailuresIsArray(t *testing.T) {
	eng := healthyEngine()
	eng.failures = nil
	w := get(t, testServer(t, eng, Deps{}).Handler(), "/api/v1/bridges")
	if !strings.Contains(w.Body.String(), `"failures":[]`) {
		t.Errorf("body = %s, want empty failures array", w.Body.String())
	}
}

func TestGetBridge(t *testing.T) {
	h := testServer(t, healthyEngine(), Deps{}).Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/v1/bridges/2", http.StatusOK, `"source":"fleet/+/enable"`},
		{"/api/v1/bridges/2", http.StatusOK, `"last_topic":"~/robot7/enable"`},
		{"/api/v1/bridges/1", http.StatusOK, `"error":"bridge: unknown message type"`},
		{"/api/v1/bridges/9", http.StatusNotFound, ErrCodeNotFound},
		{"/api/v1/bridges/abc", http.StatusBadRequest, ErrCodeBadRequest},
		{"/api/v1/bridges/-1", http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

// ============================================================================
// Connection
// ============================================================================

func TestConnection(t *testing.T) {
	eng := healthyEngine()
	eng.conn.State = connection.Disconnected
	eng.conn.LastError = errors.New("connection refused")

	w := get(t, testServer(t, eng, Deps{Broker: "tcp://broker:1883"}).Handler(), "/api/v1/connection")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[connectionResponse](t, w)

	want := connectionResponse{
		State:         "disconnected",
		Since:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastError:     "connection refused",
		Subscriptions: 1,
		Broker:        "tcp://broker:1883",
		ClientID:      "robot7-bridge",
	}
	if !resp.Since.Equal(want.Since) {
		t.Errorf("since = %v, want %v", resp.Since, want.Since)
	}
	resp.Since = want.Since
	if resp != want {
		t.Errorf("connection = %+v, want %+v", resp, want)
	}
}

// ============================================================================
// Events
// ============================================================================

func TestEvents(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &fakeJournal{
		bridgeEvents: []journal.BridgeEvent{{ID: 3, Index: 0, Event: journal.EventStarted, OccurredAt: at}},
		connEvents:   []journal.ConnectionEvent{{ID: 7, State: "connected", OccurredAt: at}},
	}
	h := testServer(t, healthyEngine(), Deps{Journal: j}).Handler()

	tests := []struct {
		path      string
		wantKeys  []string
		wantLimit int
	}{
		{"/api/v1/events", []string{"bridge_events", "connection_events"}, 0},
		{"/api/v1/events?kind=bridge", []string{"bridge_events"}, 0},
		{"/api/v1/events?kind=connection&limit=5", []string{"connection_events"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			resp := decode[map[string]json.RawMessage](t, w)
			if len(resp) != len(tt.wantKeys) {
				t.Errorf("keys = %v, want %v", resp, tt.wantKeys)
			}
			for _, k := range tt.wantKeys {
				if _, ok := resp[k]; !ok {
					t.Errorf("missing key %q", k)
				}
			}
			if j.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", j.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestEvents_Errors(t *testing.T) {
	tests := []struct {
		name       string
		journal    journal.Repository
		path       string
		wantStatus int
	}{
		{"no journal", nil, "/api/v1/events", http.StatusServiceUnavailable},
		{"bad kind", &fakeJournal{}, "/api/v1/events?kind=devices", http.StatusBadRequest},
		{"bad limit", &fakeJournal{}, "/api/v1/events?limit=zero", http.StatusBadRequest},
		{"zero limit", &fakeJournal{}, "/api/v1/events?limit=0", http.StatusBadRequest},
		{"read failure", &fakeJournal{err: errors.New("disk I/O error")}, "/api/v1/events", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, testServer(t, healthyEngine(), Deps{Journal: tt.journal}).Handler(), tt.path)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// ============================================================================
// WebSocket
// ============================================================================

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	msg := WSMessage{Type: typ, ID: id}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		msg.Payload = body
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	srv := testServer(t, healthyEngine(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)

	conn := dialWS(t, srv)
	send(t, conn, WSTypeSubscribe, "1", WSSubscribePayload{Channels: []string{ChannelHealth}})
	if resp := read(t, conn); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	// Not subscribed to connection; only the health event should arrive.
	srv.hub.Broadcast(ChannelConnection, connectionEvent{State: "connected"})
	srv.hub.Broadcast(ChannelHealth, engine.Health{Status: engine.StatusHealthy})

	ev := read(t, conn)
	if ev.Type != WSTypeEvent || ev.Channel != ChannelHealth {
		t.Fatalf("event = %+v, want health event", ev)
	}
	var h engine.Health
	if err := json.Unmarshal(ev.Payload, &h); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if h.Status != engine.StatusHealthy {
		t.Errorf("status = %q", h.Status)
	}
}

func TestWebSocket_ClientMessages(t *testing.T) {
	srv := testServer(t, healthyEngine(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	conn := dialWS(t, srv)

	tests := []struct {
		name     string
		typ      string
		payload  any
		wantType string
	}{
		{"ping", WSTypePing, nil, WSTypePong},
		{"unknown type", "reboot", nil, WSTypeError},
		{"unknown channel", WSTypeSubscribe, WSSubscribePayload{Channels: []string{"device.state"}}, WSTypeError},
		{"empty channels", WSTypeSubscribe, WSSubscribePayload{}, WSTypeError},
		{"unsubscribe", WSTypeUnsubscribe, WSSubscribePayload{Channels: []string{ChannelHealth}}, WSTypeResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.typ, tt.name, tt.payload)
			resp := read(t, conn)
			if resp.Type != tt.wantType || resp.ID != tt.name {
				t.Errorf("response = %+v, want type %q", resp, tt.wantType)
			}
		})
	}
}

func TestWebSocket_HubShutdownClosesClients(t *testing.T) {
	srv := testServer(t, healthyEngine(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.hub.Run(ctx)
		close(done)
	}()

	conn := dialWS(t, srv)
	send(t, conn, WSTypePing, "p", nil)
	read(t, conn)
	if n := srv.hub.ClientCount(); n != 1 {
		t.Fatalf("ClientCount() = %d, want 1", n)
	}

	cancel()
	<-done

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown = %v, want going-away close", err)
	}
	if n := srv.hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}

func TestPushEvents_ConnectionTransitions(t *testing.T) {
	obs := &fakeObserver{}
	srv := testServer(t, healthyEngine(), Deps{Observer: obs})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	go srv.pushEvents(ctx)

	conn := dialWS(t, srv)
	send(t, conn, WSTypeSubscribe, "1", WSSubscribePayload{Channels: []string{ChannelConnection}})
	read(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for !obs.emit(connection.Disconnected, errors.New("keepalive timeout")) {
		if time.Now().After(deadline) {
			t.Fatal("pushEvents never registered an observer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ev := read(t, conn)
	if ev.Channel != ChannelConnection {
		t.Fatalf("event = %+v", ev)
	}
	var got connectionEvent
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got != (connectionEvent{State: "disconnected", Error: "keepalive timeout"}) {
		t.Errorf("payload = %+v", got)
	}
}

func TestPushEvents_PeriodicHealth(t *testing.T) {
	srv := testServer(t, healthyEngine(), Deps{HealthPush: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	go srv.pushEvents(ctx)

	conn := dialWS(t, srv)
	send(t, conn, WSTypeSubscribe, "1", WSSubscribePayload{Channels: []string{ChannelHealth}})
	read(t, conn)

	if ev := read(t, conn); ev.Channel != ChannelHealth {
		t.Errorf("event = %+v, want health", ev)
	}
}
