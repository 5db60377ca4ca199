package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/apiclient"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/geo"
)

const (
	testKey    = "sandbox-test-key"
	testIssuer = "sandbox-test"
)

var (
	classroom = geo.Coordinates{Latitude: 40.4406, Longitude: -79.9959}
	opened    = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

func newBackend(t *testing.T) (*Backend, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := New(Config{SigningKey: testKey, Issuer: testIssuer}).
		WithClock(func() time.Time { return opened.Add(5 * time.Minute) })
	b.Load(Fixtures{
		Sessions: []Session{
			{ID: "CS101-lec-3", Course: "CS101", Latitude: classroom.Latitude, Longitude: classroom.Longitude, RadiusM: 50, OpensAt: opened},
			{ID: "MA201-lec-1", Course: "MA201", Latitude: classroom.Latitude, Longitude: classroom.Longitude, OpensAt: opened},
			{ID: "CS101-expired", Course: "CS101", Latitude: classroom.Latitude, Longitude: classroom.Longitude, ExpiresAt: opened},
			{ID: "CS101-old", Course: "CS101", Latitude: classroom.Latitude, Longitude: classroom.Longitude, OpensAt: opened.Add(-time.Hour)},
		},
		Enrollments: map[string][]string{"alice": {"CS101"}},
	})

	r := gin.New()
	b.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func newSubmitter(t *testing.T, b *Backend, srv *httptest.Server, at geo.Coordinates) (*attendance.Submitter, *auth.MemoryStore) {
	t.Helper()
	pair, err := b.Login("alice")
	require.NoError(t, err)

	store := auth.NewMemoryStore()
	api := apiclient.New(srv.URL, time.Second)
	guard := auth.NewGuard(store, api)
	require.NoError(t, guard.Save(context.Background(), auth.Credential{Access: pair.AccessToken, Refresh: pair.RefreshToken}))

	probe := geo.NewProbe(geo.StaticLocator{Coords: at}, time.Second)
	return attendance.NewSubmitter(probe, guard, api, attendance.FieldSessionID), store
}

func TestMarkRules(t *testing.T) {
	b, srv := newBackend(t)
	sub, _ := newSubmitter(t, b, srv, classroom)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		kind    attendance.Kind
		message string
	}{
		{"success", "attendance:CS101-lec-3", attendance.KindSuccess, "Attendance marked successfully"},
		{"duplicate", "attendance:CS101-lec-3", attendance.KindSuccess, "Attendance already marked for this session"},
		{"unknown session", "attendance:nope", attendance.KindServerRejected, "Session not found"},
		{"not enrolled", "attendance:MA201-lec-1", attendance.KindServerRejected, "You are not enrolled in this course"},
		{"expired", "attendance:CS101-expired", attendance.KindServerRejected, "QR code has expired. Attendance window closed."},
		{"window closed", "attendance:CS101-old", attendance.KindServerRejected, "Attendance window has closed."},
		{"invalid payload", "CS101-lec-3", attendance.KindInvalidFormat, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := sub.Submit(ctx, tt.payload)
			assert.Equal(t, tt.kind, out.Kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, out.Message)
			}
		})
	}
	assert.True(t, b.Marked("alice", "CS101-lec-3"))
	assert.False(t, b.Marked("alice", "CS101-old"))
}

func TestMarkTooFar(t *testing.T) {
	b, srv := newBackend(t)
	away := geo.Coordinates{Latitude: classroom.Latitude + 0.01, Longitude: classroom.Longitude}
	sub, _ := newSubmitter(t, b, srv, away)

	out := sub.Submit(context.Background(), "attendance:CS101-lec-3")
	assert.Equal(t, attendance.KindServerRejected, out.Kind)
	assert.Contains(t, out.Message, "You are too far from the session location")
	assert.Contains(t, out.Message, "Allowed radius: 50m")
	assert.Equal(t, out.Message, out.Display())
	assert.False(t, b.Marked("alice", "CS101-lec-3"))
}

func TestMarkRefreshesRejectedAccessToken(t *testing.T) {
	b, srv := newBackend(t)
	sub, store := newSubmitter(t, b, srv, classroom)

	forged, err := auth.IssueAccess("alice", "student", testIssuer, "other-key", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), auth.AccessTokenKey, forged))

	out := sub.Submit(context.Background(), "attendance:CS101-lec-3")
	assert.Equal(t, attendance.KindSuccess, out.Kind)

	access, ok, err := store.Get(context.Background(), auth.AccessTokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, forged, access)
}

func TestMarkRefreshRejected(t *testing.T) {
	b, srv := newBackend(t)
	sub, store := newSubmitter(t, b, srv, classroom)

	forged, err := auth.IssueAccess("alice", "student", testIssuer, "other-key", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), auth.AccessTokenKey, forged))
	// An access token is not accepted as a refresh token.
	require.NoError(t, store.Set(context.Background(), auth.RefreshTokenKey, forged))

	out := sub.Submit(context.Background(), "attendance:CS101-lec-3")
	assert.Equal(t, attendance.KindAuthRequired, out.Kind)
	_, ok, _ := store.Get(context.Background(), auth.RefreshTokenKey)
	assert.False(t, ok)
}

func postJSON(t *testing.T, url, bearer string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestMarkEndpoint(t *testing.T) {
	b, srv := newBackend(t)
	pair, err := b.Login("alice")
	require.NoError(t, err)

	status, _ := postJSON(t, srv.URL+"/api/mark/", "", map[string]any{"session_id": "CS101-lec-3"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := postJSON(t, srv.URL+"/api/mark/", pair.AccessToken, map[string]any{"session_id": "CS101-lec-3"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing required fields", body["error"])

	status, body = postJSON(t, srv.URL+"/api/mark/", pair.AccessToken, map[string]any{
		"qr_data":   "attendance:CS101-lec-3",
		"latitude":  classroom.Latitude,
		"longitude": classroom.Longitude,
	})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "0.00 meters", body["distance_from_class"])

	status, body = postJSON(t, srv.URL+"/api/mark/", pair.AccessToken, map[string]any{
		"qr_data":   "session:CS101-lec-3",
		"latitude":  classroom.Latitude,
		"longitude": classroom.Longitude,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid QR code data", body["error"])

	// refresh tokens are not accepted as bearer tokens
	status, _ = postJSON(t, srv.URL+"/api/mark/", pair.RefreshToken, map[string]any{"session_id": "CS101-lec-3"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTokenEndpoints(t *testing.T) {
	_, srv := newBackend(t)

	status, body := postJSON(t, srv.URL+"/api/token/", "", map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, status)
	refresh, _ := body["refresh"].(string)
	require.NotEmpty(t, refresh)

	status, _ = postJSON(t, srv.URL+"/api/token/", "", map[string]string{"username": "mallory"})
	assert.Equal(t, http.StatusUnauthorized, status)

	access, err := apiclient.New(srv.URL, time.Second).RefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.True(t, auth.IsValid(access, time.Now()))

	status, body = postJSON(t, srv.URL+"/api/token/refresh/", "", map[string]string{"refresh": access})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token_not_valid", body["code"])
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sessions:
  - id: CS101-lec-3
    course: CS101
    latitude: 40.4406
    longitude: -79.9959
    radius_m: 75
    opens_at: 2026-03-02T09:00:00Z
enrollments:
  alice: [CS101, MA201]
`), 0o600))

	f, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Len(t, f.Sessions, 1)
	assert.Equal(t, 75.0, f.Sessions[0].RadiusM)
	assert.Equal(t, opened, f.Sessions[0].OpensAt.UTC())
	assert.Equal(t, []string{"CS101", "MA201"}, f.Enrollments["alice"])

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
