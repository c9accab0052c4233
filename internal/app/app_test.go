package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptgate/internal/config"
	"scriptgate/internal/entitlement"
	"scriptgate/internal/shared/testutil"
	memorystore "scriptgate/internal/storage/memory"
)

const gatedScript = "console.log('gated');"

type testApp struct {
	app      *Application
	server   *httptest.Server
	clock    *entitlement.FakeClock
	logs     *testutil.BufferedSlogHandler
	upstream *httptest.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = io.WriteString(w, gatedScript)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Security.RateLimit.Enabled = false
	cfg.Resource.UpstreamURL = upstream.URL

	logger, logs := testutil.NewTestLogger(t)
	clock := entitlement.NewFakeClockMillis(0)

	a, err := New(cfg, logger, WithClock(clock), WithStore(memorystore.New()))
	require.NoError(t, err)
	a.WebSocketHub.Start()

	server := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		server.Close()
		a.WebSocketHub.Stop()
		_ = a.OTelProviders.Shutdown(context.Background())
	})

	return &testApp{app: a, server: server, clock: clock, logs: logs, upstream: upstream}
}

func (ta *testApp) do(t *testing.T, method, path, userID, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ta.server.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ta.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ta *testApp) status(t *testing.T, userID string) map[string]interface{} {
	t.Helper()
	resp, body := ta.do(t, http.MethodGet, "/api/entitlement/status", userID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &status))
	return status
}

func (ta *testApp) activate(t *testing.T, userID, key string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, body := ta.do(t, http.MethodPost, "/api/entitlement/activate", userID, `{"license_key":"`+key+`"}`)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	return resp, out
}

func TestApplication_EntitlementLifecycle(t *testing.T) {
	ta := newTestApp(t)
	const user = "alice"

	// trial
	status := ta.status(t, user)
	assert.Equal(t, false, status["trial_expired"])
	assert.EqualValues(t, 0, status["trial_start"])
	assert.NotContains(t, status, "license_activated_at")

	resp, body := ta.do(t, http.MethodGet, "/api/script", user, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gatedScript, string(body))

	// trial ends, test key activates at 180000
	ta.clock.SetMillis(180000)
	resp, receipt := ta.activate(t, user, "TEST-1234")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 180000, receipt["activated_at"])
	assert.EqualValues(t, 300000, receipt["expires_at"])

	// rejected key leaves the record alone
	resp, problem := ta.activate(t, user, "bad-key")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "/errors/invalid-license-key", problem["type"])
	assert.EqualValues(t, 180000, ta.status(t, user)["license_activated_at"])
	assert.Len(t, ta.logs.RecordsWithMessage("trial ended"), 1)

	// license ends
	ta.clock.SetMillis(301000)
	resp, body = ta.do(t, http.MethodGet, "/api/script", user, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")
	assert.NotContains(t, string(body), user)
	status = ta.status(t, user)
	assert.Equal(t, true, status["license_ended_logged"])
	assert.Len(t, ta.logs.RecordsWithMessage("license ended"), 1)

	// re-activation resets the flag and a second expiry is logged again
	ta.clock.SetMillis(310000)
	resp, _ = ta.activate(t, user, "KEY-ABC")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = ta.status(t, user)
	assert.Equal(t, false, status["license_ended_logged"])
	assert.Equal(t, true, status["license_active"])

	ta.clock.SetMillis(430001)
	status = ta.status(t, user)
	assert.Equal(t, false, status["license_active"])
	assert.Equal(t, true, status["license_ended_logged"])
	assert.Len(t, ta.logs.RecordsWithMessage("license ended"), 2)
	assert.Len(t, ta.logs.RecordsWithMessage("trial ended"), 1)
}

func TestApplication_MissingIdentity(t *testing.T) {
	ta := newTestApp(t)

	for _, path := range []string{"/api/entitlement/status", "/api/script"} {
		resp, body := ta.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Contains(t, string(body), "/errors/missing-identity", path)
	}
}

func TestApplication_QueryIdentity(t *testing.T) {
	ta := newTestApp(t)

	resp, body := ta.do(t, http.MethodGet, "/api/entitlement/status?user_id=bob", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"user_id":"bob"`)
}

func TestApplication_ProbesAndMetrics(t *testing.T) {
	ta := newTestApp(t)

	resp, body := ta.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "🚀 Extension backend is running!", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = ta.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"message":"Service is healthy ✅"}`, string(body))

	resp, _ = ta.do(t, http.MethodGet, "/healthz/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ta.status(t, "carol")
	resp, body = ta.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "entitlement_evaluations")
	assert.Contains(t, string(body), "http_requests")

	resp, body = ta.do(t, http.MethodGet, "/no-such-route", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "/errors/not-found")
}

func TestApplication_EventStream(t *testing.T) {
	ta := newTestApp(t)
	wsURL := "ws" + strings.TrimPrefix(ta.server.URL, "http") + "/ws/events"

	dial := func(userID string) *websocket.Conn {
		header := http.Header{}
		header.Set("X-User-ID", userID)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "connection", msg["type"])
		return conn
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dave := dial("dave")
	erin := dial("erin")
	require.Eventually(t, func() bool { return ta.app.WebSocketHub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	ta.clock.SetMillis(60000)
	resp, _ = ta.activate(t, "dave", "KEY-123")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg map[string]interface{}
	require.NoError(t, dave.ReadJSON(&msg))
	assert.Equal(t, entitlement.EventActivated, msg["type"])
	assert.EqualValues(t, 60000, msg["timestamp"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "dave", data["user_id"])

	// erin's first event frame is her own activation, not dave's.
	resp, _ = ta.activate(t, "erin", "KEY-456")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg = nil
	require.NoError(t, erin.ReadJSON(&msg))
	assert.Equal(t, entitlement.EventActivated, msg["type"])
	data = msg["data"].(map[string]interface{})
	assert.Equal(t, "erin", data["user_id"])
}

func TestBuildStore(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	t.Run("memory", func(t *testing.T) {
		store, closer, err := buildStore(context.Background(), config.StoreConfig{Driver: config.DriverMemory}, logger)
		require.NoError(t, err)
		assert.IsType(t, &memorystore.Store{}, store)
		assert.NoError(t, closer())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, closer, err := buildStore(context.Background(), config.StoreConfig{
			Driver:         config.DriverRedis,
			RedisAddr:      mr.Addr(),
			RedisKeyPrefix: "test:",
		}, logger)
		require.NoError(t, err)
		defer closer()

		rec, err := store.GetOrCreate(context.Background(), "erin", time.UnixMilli(1000))
		require.NoError(t, err)
		assert.EqualValues(t, 1000, entitlement.Millis(rec.TrialStart))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _, err := buildStore(ctx, config.StoreConfig{Driver: config.DriverRedis, RedisAddr: "127.0.0.1:1"}, logger)
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := buildStore(context.Background(), config.StoreConfig{Driver: "cassandra"}, logger)
		assert.Error(t, err)
	})
}

func TestApplication_ServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.MetricExporter = config.ExporterNone
	logger, logs := testutil.NewTestLogger(t)

	a, err := New(cfg, logger, WithStore(memorystore.New()))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.True(t, logs.ContainsMessage("Application shutdown complete"))
}
