package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/auth"
	"github.com/nerrad567/iotrelay/internal/infrastructure/config"
	"github.com/nerrad567/iotrelay/internal/infrastructure/database"
	"github.com/nerrad567/iotrelay/internal/infrastructure/logging"
	"github.com/nerrad567/iotrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotrelay/internal/notify"
	"github.com/nerrad567/iotrelay/internal/relay"
	"github.com/nerrad567/iotrelay/internal/telemetry"
	_ "github.com/nerrad567/iotrelay/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	topics    []string
}

func (b *fakeBroker) Publish(topic string, _ []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) SubscribeAll([]string, byte, mqtt.MessageHandler) error { return nil }
func (b *fakeBroker) UnsubscribeAll([]string) error { return nil }

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *fakeBroker) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	svc    *relay.Service
	broker *fakeBroker
}

// newTestEnv starts a relay on an in-memory database and serves the API
// for it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Security.JWT.Secret = testSecret
	log := logging.NewWithWriter(cfg.Logging, "test", io.Discard)

	hub := NewHub(cfg.WebSocket, log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	broker := &fakeBroker{connected: true}
	svc, err := relay.New(relay.Deps{
		Config:    cfg,
		DB:        db.DB,
		Logger:    log,
		Broker:    broker,
		Notifiers: []notify.Notifier{hub},
		Sinks:     []telemetry.Sink{hub},
	})
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}
	if err := svc.StartEngine(context.Background()); err != nil {
		t.Fatalf("StartEngine() error = %v", err)
	}
	t.Cleanup(svc.StopEngine)

	srv, err := New(Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Relay:    svc,
		Hub:      hub,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, svc: svc, broker: broker}
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

// do sends a request with an optional bearer token and decodes a JSON
// response body into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, tok, body string, out any) int {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) route(t *testing.T, topic, payload string) {
	t.Helper()
	if err := e.svc.HandleMessage(topic, []byte(payload)); err != nil {
		t.Fatalf("HandleMessage(%s) error = %v", topic, err)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	secured := config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Security: secured}},
		{"no relay", Deps{Security: secured, Logger: log}},
		{"no secret", Deps{Logger: log, Relay: &relay.Service{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	env.route(t, "iot/devices/pump-1/status", `{"state": "idle"}`)

	var body map[string]any
	if code := env.do(t, http.MethodGet, "/api/v1/health", "", "", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != relay.StatusOK || body["version"] != "test" {
		t.Errorf("health = %v", body)
	}
	if body["devices"] != float64(1) || body["engine_running"] != true {
		t.Errorf("health = %v", body)
	}

	env.broker.setConnected(false)
	body = nil
	if code := env.do(t, http.MethodGet, "/api/v1/health", "", "", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when degraded", code)
	}
	if body["status"] != relay.StatusDegraded {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-2 * time.Hour)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Subject:   "tester",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
		Role: auth.RoleAdmin,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	foreign, err := auth.GenerateToken("tester", auth.RoleAdmin, "another-secret-that-is-long-enough!!", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name string
		tok  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong secret", foreign, http.StatusUnauthorized},
		{"valid", token(t, auth.RoleViewer), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			code := env.do(t, http.MethodGet, "/api/v1/devices", tt.tok, "", &body)
			if code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && body["code"] != ErrCodeUnauthorized {
				t.Errorf("error body = %v", body)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.route(t, "iot/devices/pump-1/status", `{"state": "idle"}`)
	viewer := token(t, auth.RoleViewer)
	operator := token(t, auth.RoleOperator)

	var body Error
	code := env.do(t, http.MethodPost, "/api/v1/devices/pump-1/commands", viewer, `{"command":"stop"}`, &body)
	if code != http.StatusForbidden || body.Code != ErrCodeForbidden {
		t.Errorf("viewer command = %d %+v, want 403 forbidden", code, body)
	}

	code = env.do(t, http.MethodPost, "/api/v1/rules/threshold", operator,
		`{"device_id":"sensorA","sensor_type":"temperature","threshold":30}`, nil)
	if code != http.StatusForbidden {
		t.Errorf("operator create rule = %d, want 403", code)
	}

	if code := env.do(t, http.MethodPost, "/api/v1/devices/pump-1/commands", operator, `{"command":"stop"}`, nil); code != http.StatusAccepted {
		t.Errorf("operator command = %d, want 202", code)
	}
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t)
	viewer := token(t, auth.RoleViewer)
	env.route(t, "iot/devices/b-sensor/data", `{"temperature": 21.5}`)
	env.route(t, "iot/devices/a-pump/status", `{"state": "idle"}`)

	var list struct {
		Devices []struct {
			DeviceID string `json:"device_id"`
			Online   bool   `json:"online"`
		} `json:"devices"`
		Count int `json:"count"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/devices", viewer, "", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Count != 2 || list.Devices[0].DeviceID != "a-pump" || list.Devices[1].DeviceID != "b-sensor" {
		t.Errorf("devices = %+v, want a-pump then b-sensor", list)
	}

	if code := env.do(t, http.MethodGet, "/api/v1/devices/online?ttl=60", viewer, "", &list); code != http.StatusOK || list.Count != 2 {
		t.Errorf("online = %d %+v", code, list)
	}
	if code := env.do(t, http.MethodGet, "/api/v1/devices/online?ttl=abc", viewer, "", nil); code != http.StatusBadRequest {
		t.Errorf("online bad ttl = %d, want 400", code)
	}

	var device map[string]any
	if code := env.do(t, http.MethodGet, "/api/v1/devices/b-sensor", viewer, "", &device); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	history, _ := device["sensor_history"].([]any)
	if len(history) != 1 {
		t.Errorf("sensor_history = %v, want one reading", device["sensor_history"])
	}

	var errBody Error
	if code := env.do(t, http.MethodGet, "/api/v1/devices/ghost", viewer, "", &errBody); code != http.StatusNotFound || errBody.Code != ErrCodeNotFound {
		t.Errorf("get unknown = %d %+v", code, errBody)
	}
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t)
	operator := token(t, auth.RoleOperator)
	env.route(t, "iot/devices/pump-1/status", `{"state": "idle"}`)

	tests := []struct {
		name     string
		device   string
		body     string
		offline  bool
		want     int
		wantCode string
	}{
		{"unknown device", "ghost", `{"command":"stop"}`, false, http.StatusNotFound, ErrCodeNotFound},
		{"missing command", "pump-1", `{}`, false, http.StatusBadRequest, ErrCodeBadRequest},
		{"malformed body", "pump-1", `{"command":`, false, http.StatusBadRequest, ErrCodeBadRequest},
		{"broker down", "pump-1", `{"command":"stop"}`, true, http.StatusServiceUnavailable, ErrCodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.broker.setConnected(!tt.offline)
			defer env.broker.setConnected(true)

			var body Error
			code := env.do(t, http.MethodPost, "/api/v1/devices/"+tt.device+"/commands", operator, tt.body, &body)
			if code != tt.want || body.Code != tt.wantCode || body.Status != tt.want {
				t.Errorf("got %d %+v, want %d %s", code, body, tt.want, tt.wantCode)
			}
		})
	}

	var ok map[string]any
	code := env.do(t, http.MethodPost, "/api/v1/devices/pump-1/commands", operator, `{"command":{"action":"set_speed","speed":3}}`, &ok)
	if code != http.StatusAccepted || ok["status"] != "sent" || ok["device_id"] != "pump-1" {
		t.Errorf("send = %d %v", code, ok)
	}
	topics := env.broker.published()
	if len(topics) != 1 || topics[0] != "iot/devices/pump-1/control" {
		t.Errorf("published topics = %v", topics)
	}
}

func TestRulesLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, auth.RoleAdmin)
	viewer := token(t, auth.RoleViewer)

	var created map[string]string
	code := env.do(t, http.MethodPost, "/api/v1/rules/threshold", admin,
		`{"device_id":"sensorA","sensor_type":"temperature","threshold":30,"operator":">","alert_level":"critical"}`, &created)
	if code != http.StatusCreated || created["rule_id"] == "" {
		t.Fatalf("create threshold = %d %v", code, created)
	}
	id := created["rule_id"]

	var rule struct {
		ID        string         `json:"rule_id"`
		Enabled   bool           `json:"enabled"`
		Condition map[string]any `json:"condition"`
		Action    map[string]any `json:"action"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/rules/"+id, viewer, "", &rule); code != http.StatusOK {
		t.Fatalf("get rule = %d", code)
	}
	if !rule.Enabled || rule.Condition["sensor_type"] != "temperature" || rule.Action["level"] != "CRITICAL" {
		t.Errorf("rule = %+v", rule)
	}

	if code := env.do(t, http.MethodPatch, "/api/v1/rules/"+id, admin, `{"enabled":false}`, &rule); code != http.StatusOK || rule.Enabled {
		t.Errorf("disable = %d enabled=%v", code, rule.Enabled)
	}

	var list struct {
		Count int `json:"count"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/rules", viewer, "", &list); code != http.StatusOK || list.Count != 1 {
		t.Errorf("list = %d count=%d", code, list.Count)
	}

	if code := env.do(t, http.MethodDelete, "/api/v1/rules/"+id, admin, "", nil); code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", code)
	}
	var errBody Error
	if code := env.do(t, http.MethodGet, "/api/v1/rules/"+id, viewer, "", &errBody); code != http.StatusNotFound {
		t.Errorf("get deleted = %d %+v, want 404", code, errBody)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, auth.RoleAdmin)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode string
	}{
		{"bad operator", "/api/v1/rules/threshold",
			`{"device_id":"d","sensor_type":"t","threshold":1,"operator":"~"}`, ErrCodeValidation},
		{"bad level", "/api/v1/rules/threshold",
			`{"device_id":"d","sensor_type":"t","threshold":1,"alert_level":"loud"}`, ErrCodeValidation},
		{"missing threshold", "/api/v1/rules/threshold",
			`{"device_id":"d","sensor_type":"t"}`, ErrCodeValidation},
		{"unknown field", "/api/v1/rules/threshold",
			`{"device_id":"d","sensor_type":"t","threshold":1,"extra":true}`, ErrCodeBadRequest},
		{"control without target", "/api/v1/rules/device-control",
			`{"trigger_device":"d","condition":{"state":"alarm"},"command":"stop"}`, ErrCodeValidation},
		{"bad range bound", "/api/v1/rules/device-control",
			`{"trigger_device":"d","condition":{"level":{"min":"low"}},"target_device":"p","command":"stop"}`, ErrCodeValidation},
		{"unknown condition type", "/api/v1/rules",
			`{"name":"x","condition":{"type":"bogus"},"action":{"type":"log_event"}}`, ErrCodeValidation},
		{"unknown action type", "/api/v1/rules",
			`{"name":"x","condition":{"type":"sensor_threshold","device_id":"d","sensor_type":"t","operator":">","threshold":1},"action":{"type":"explode"}}`, ErrCodeValidation},
		{"not json", "/api/v1/rules", `{`, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body Error
			code := env.do(t, http.MethodPost, tt.path, admin, tt.body, &body)
			if code != http.StatusBadRequest || body.Code != tt.wantCode {
				t.Errorf("got %d %+v, want 400 %s", code, body, tt.wantCode)
			}
		})
	}
}

func TestDeviceControlRuleFromAPI(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, auth.RoleAdmin)
	env.route(t, "iot/devices/pump-1/status", `{"state": "running"}`)

	var created map[string]string
	code := env.do(t, http.MethodPost, "/api/v1/rules/device-control", admin,
		`{"trigger_device":"tank-1","condition":{"level":{"min":90}},"target_device":"pump-1","command":"stop"}`, &created)
	if code != http.StatusCreated || created["rule_id"] == "" {
		t.Fatalf("create = %d %v", code, created)
	}

	env.route(t, "iot/devices/tank-1/data", `{"level": 95}`)
	// Listing rules runs after the queued evaluation.
	var rule struct {
		TriggerCount int64 `json:"trigger_count"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/rules/"+created["rule_id"], admin, "", &rule); code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	if rule.TriggerCount != 1 {
		t.Errorf("trigger_count = %d, want 1", rule.TriggerCount)
	}
	topics := env.broker.published()
	if len(topics) != 1 || topics[0] != "iot/devices/pump-1/control" {
		t.Errorf("published = %v", topics)
	}
}

func TestTasksLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, auth.RoleAdmin)
	operator := token(t, auth.RoleOperator)

	body := `{"name":"nightly","schedule":"0 2 * * *","action":{"type":"log_event","message":"tick"}}`
	if code := env.do(t, http.MethodPost, "/api/v1/tasks", operator, body, nil); code != http.StatusForbidden {
		t.Errorf("operator create = %d, want 403", code)
	}

	var task struct {
		ID       string `json:"task_id"`
		Schedule string `json:"schedule"`
		Enabled  bool   `json:"enabled"`
		NextRun  string `json:"next_run"`
	}
	if code := env.do(t, http.MethodPost, "/api/v1/tasks", admin, body, &task); code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	if task.ID == "" || !task.Enabled || task.NextRun == "" {
		t.Errorf("task = %+v", task)
	}

	var errBody Error
	bad := `{"name":"broken","schedule":"not a cron","action":{"type":"log_event"}}`
	if code := env.do(t, http.MethodPost, "/api/v1/tasks", admin, bad, &errBody); code != http.StatusBadRequest || errBody.Code != ErrCodeValidation {
		t.Errorf("bad schedule = %d %+v", code, errBody)
	}

	if code := env.do(t, http.MethodPatch, "/api/v1/tasks/"+task.ID, admin, `{"enabled":false}`, &task); code != http.StatusOK || task.Enabled {
		t.Errorf("disable = %d %+v", code, task)
	}
	if code := env.do(t, http.MethodPatch, "/api/v1/tasks/"+task.ID, admin, `{}`, nil); code != http.StatusBadRequest {
		t.Errorf("patch without enabled = %d, want 400", code)
	}
	if code := env.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID, admin, "", nil); code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
	if code := env.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID, admin, "", nil); code != http.StatusNotFound {
		t.Errorf("delete again = %d, want 404", code)
	}
}

func TestAlerts(t *testing.T) {
	env := newTestEnv(t)
	viewer := token(t, auth.RoleViewer)
	env.route(t, "iot/alerts", `{"level":"WARNING","message":"door open","device_id":"door-1"}`)
	env.route(t, "iot/alerts", `{"level":"CRITICAL","message":"smoke","device_id":"hall"}`)

	var recent struct {
		Alerts []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		} `json:"alerts"`
		Count int `json:"count"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/alerts?limit=1", viewer, "", &recent); code != http.StatusOK {
		t.Fatalf("recent = %d", code)
	}
	if recent.Count != 1 || recent.Alerts[0].Message != "smoke" {
		t.Errorf("recent = %+v, want the newest alert", recent)
	}

	var stored struct {
		Alerts []struct {
			ID           string `json:"id"`
			Acknowledged bool   `json:"acknowledged"`
		} `json:"alerts"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/alerts/history?hours=1", viewer, "", &stored); code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	if len(stored.Alerts) != 2 {
		t.Fatalf("history = %+v, want 2 alerts", stored)
	}

	id := stored.Alerts[0].ID
	if code := env.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", viewer, "", nil); code != http.StatusForbidden {
		t.Errorf("viewer acknowledge = %d, want 403", code)
	}
	if code := env.do(t, http.MethodGet, "/api/v1/alerts/history?hours=1", viewer, "", &stored); code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	for _, a := range stored.Alerts {
		if a.Acknowledged {
			t.Errorf("alert %s acknowledged by a viewer", a.ID)
		}
	}

	operator := token(t, auth.RoleOperator)
	if code := env.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", operator, "", nil); code != http.StatusNoContent {
		t.Errorf("acknowledge = %d, want 204", code)
	}
	if code := env.do(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", operator, "", nil); code != http.StatusNotFound {
		t.Errorf("acknowledge missing = %d, want 404", code)
	}
	if code := env.do(t, http.MethodGet, "/api/v1/alerts?limit=0", viewer, "", nil); code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", code)
	}
}

func TestSensorHistoryRequiresSensor(t *testing.T) {
	env := newTestEnv(t)
	viewer := token(t, auth.RoleViewer)
	env.route(t, "iot/devices/sensorA/data", `{"temperature": 20}`)

	if code := env.do(t, http.MethodGet, "/api/v1/devices/sensorA/history", viewer, "", nil); code != http.StatusBadRequest {
		t.Errorf("no sensor = %d, want 400", code)
	}

	var body struct {
		Count  int `json:"count"`
		Points []struct {
			Value float64 `json:"value"`
		} `json:"points"`
	}
	if code := env.do(t, http.MethodGet, "/api/v1/devices/sensorA/history?sensor=temperature&hours=1", viewer, "", &body); code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	if body.Count != 1 || body.Points[0].Value != 20 {
		t.Errorf("history = %+v", body)
	}
}

func TestWebSocketReceivesAlerts(t *testing.T) {
	env := newTestEnv(t)
	viewer := token(t, auth.RoleViewer)

	var ticket struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	if code := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", viewer, "", &ticket); code != http.StatusOK || ticket.Ticket == "" {
		t.Fatalf("ticket = %d %+v", code, ticket)
	}

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	// The pong proves the client is registered with the hub.
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != WSTypePong || msg.ID != "p1" {
		t.Fatalf("pong = %+v, %v", msg, err)
	}

	env.route(t, "iot/alerts", `{"level":"CRITICAL","message":"smoke","device_id":"hall"}`)

	var event struct {
		Type      string         `json:"type"`
		EventType string         `json:"event_type"`
		Payload   map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelAlert || event.Payload["message"] != "smoke" {
		t.Errorf("event = %+v", event)
	}

	// Tickets are single-use.
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second Dial() with the same ticket succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("second Dial() response = %v, want 401", resp)
	}
}

func TestWebSocketRequiresTicket(t *testing.T) {
	env := newTestEnv(t)
	var body Error
	if code := env.do(t, http.MethodGet, "/api/v1/ws", "", "", &body); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestTicketStore(t *testing.T) {
	store := newTicketStore()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ticket := store.issue("alice", auth.RoleOperator)
	expired := store.issue("bob", auth.RoleViewer)

	entry, ok := store.redeem(ticket)
	if !ok || entry.subject != "alice" || entry.role != auth.RoleOperator {
		t.Errorf("redeem() = %+v, %v", entry, ok)
	}
	if _, ok := store.redeem(ticket); ok {
		t.Error("redeem() succeeded twice")
	}

	now = now.Add(ticketTTL + time.Second)
	if _, ok := store.redeem(expired); ok {
		t.Error("redeem() accepted an expired ticket")
	}

	store.issue("carol", auth.RoleViewer)
	now = now.Add(ticketTTL + time.Second)
	store.sweep()
	if n := store.len(); n != 0 {
		t.Errorf("len() after sweep = %d, want 0", n)
	}
}

func TestHubChannels(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	hub := NewHub(config.WebSocketConfig{}, log)

	client := hub.newClient(nil, "tester", auth.RoleViewer)
	hub.Register(client)

	hub.RecordReading("sensorA", map[string]any{"temperature": 20.0}, time.Now())
	if got := len(client.send); got != 0 {
		t.Errorf("readings delivered before subscribing: %d", got)
	}
	if err := hub.NotifyAlert(context.Background(), alertFixture()); err != nil {
		t.Fatalf("NotifyAlert() error = %v", err)
	}
	if got := len(client.send); got != 1 {
		t.Errorf("alerts delivered = %d, want 1", got)
	}

	client.handleMessage([]byte(`{"type":"subscribe","id":"s1","payload":{"channels":["device.reading"]}}`))
	<-client.send // alert
	<-client.send // subscribe response

	hub.RecordReading("sensorA", map[string]any{"temperature": 20.0}, time.Now())
	var msg WSMessage
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.EventType != ChannelReading {
		t.Errorf("event_type = %q, want %q", msg.EventType, ChannelReading)
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after Unregister", hub.ClientCount())
	}
}

func alertFixture() alert.Alert {
	return alert.Alert{
		ID:        "a1",
		Timestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Level:     alert.LevelCritical,
		Message:   "smoke",
		Source:    "test",
	}
}
