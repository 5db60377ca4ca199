package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/auth"
	"qrattend/internal/metrics"
	"qrattend/internal/scan"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScanner struct {
	state       scan.State
	constraints scan.Constraints
	startCtx    context.Context
	startErr    error
	resetErr    error
	injected    []string
	stops       int
}

func (f *fakeScanner) Start(ctx context.Context, c scan.Constraints) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.startCtx = ctx
	f.constraints = c
	f.state = scan.StateScanning
	return nil
}

func (f *fakeScanner) Stop() {
	f.stops++
	f.state = scan.StateIdle
}

func (f *fakeScanner) Reset() error { return f.resetErr }

func (f *fakeScanner) Inject(payload string) error {
	if f.state == scan.StateSubmitting {
		return scan.ErrBusy
	}
	f.injected = append(f.injected, payload)
	f.state = scan.StateSubmitting
	return nil
}

func (f *fakeScanner) Snapshot() scan.Snapshot {
	return scan.Snapshot{State: f.state, Torch: f.constraints.Torch}
}

type testAPI struct {
	router  *gin.Engine
	scanner *fakeScanner
	sched   *scan.TimerScheduler
	guard   *auth.Guard
	base    context.Context
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	base, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	api := &testAPI{
		router:  gin.New(),
		scanner: &fakeScanner{},
		sched:   scan.NewTimerScheduler(),
		guard:   auth.NewGuard(auth.NewMemoryStore(), nil),
		base:    base,
	}
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	New(api.base, api.scanner, api.sched, api.guard, scan.FacingEnvironment).
		WithCheck("backend", func(context.Context) error { return nil }).
		WithMetrics(reg).
		Register(api.router)
	return api
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestScanControl(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/v1/scan/start", `{"torch":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "scanning", decode(t, w)["state"])
	assert.Equal(t, scan.Constraints{FacingMode: "environment", Torch: true}, api.scanner.constraints)
	assert.Equal(t, api.base, api.scanner.startCtx)

	w = api.do(http.MethodGet, "/v1/scan", "")
	assert.Equal(t, true, decode(t, w)["torch"])

	w = api.do(http.MethodPost, "/v1/scan/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["state"])
	assert.Equal(t, 1, api.scanner.stops)

	w = api.do(http.MethodPost, "/v1/scan/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, api.scanner.constraints.Torch)
}

func TestScanControlErrors(t *testing.T) {
	api := newTestAPI(t)

	api.scanner.startErr = errors.New("acquire camera: no device")
	assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodPost, "/v1/scan/start", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/scan/start", `{"torch":`).Code)

	api.scanner.resetErr = scan.ErrBusy
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/v1/scan/reset", "").Code)
	api.scanner.resetErr = nil
	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, "/v1/scan/reset", "").Code)
}

func TestManualEntry(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/v1/scan/manual", `{}`).Code)

	w := api.do(http.MethodPost, "/v1/scan/manual", `{"payload":"attendance:CS101"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"attendance:CS101"}, api.scanner.injected)

	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/v1/scan/manual", `{"payload":"attendance:CS102"}`).Code)
}

func TestVisibility(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/v1/scan/visibility", `{}`).Code)

	w := api.do(http.MethodPut, "/v1/scan/visibility", `{"visible":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["visible"])
	assert.False(t, api.sched.Visible())

	api.do(http.MethodPut, "/v1/scan/visibility", `{"visible":true}`)
	assert.True(t, api.sched.Visible())
}

func TestCredentials(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/v1/credentials", "")
	assert.Equal(t, map[string]any{"stored": false, "valid": false}, decode(t, w))

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/v1/credentials", `{"access":"a"}`).Code)

	access, err := auth.IssueAccess("s1", "student", "test", "k", time.Now().Add(time.Hour))
	require.NoError(t, err)
	w = api.do(http.MethodPut, "/v1/credentials", `{"access":"`+access+`","refresh":"r1"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodGet, "/v1/credentials", "")
	assert.Equal(t, map[string]any{"stored": true, "valid": true}, decode(t, w))

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/v1/credentials", "").Code)
	stored, _, err := api.guard.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["scan"])

	w = api.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qrattend_scanner_active")

	r := gin.New()
	New(context.Background(), &fakeScanner{}, scan.NewTimerScheduler(), auth.NewGuard(auth.NewMemoryStore(), nil), "").
		WithCheck("redis", func(context.Context) error { return errors.New("connection refused") }).
		Register(r)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
