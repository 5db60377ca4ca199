package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultMarkPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CS101", body["session_id"])
		assert.NotContains(t, body, "qr_data")
		assert.Equal(t, 1.5, body["latitude"])

		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"You are not enrolled in this course"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	resp, err := c.Mark(context.Background(), "tok", MarkRequest{SessionID: "CS101", Latitude: 1.5, Longitude: 2}, "req-1")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"You are not enrolled in this course"}`, string(resp.Body))
}

func TestMarkTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Mark(context.Background(), "tok", MarkRequest{SessionID: "x"}, "")
	assert.Error(t, err)
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Refresh string `json:"refresh"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.Refresh {
		case "good":
			_, _ = w.Write([]byte(`{"access":"new-access"}`))
		case "empty":
			_, _ = w.Write([]byte(`{}`))
		case "garbled":
			_, _ = w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	access, err := c.RefreshToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)

	_, err = c.RefreshToken(context.Background(), "bad")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)

	_, err = c.RefreshToken(context.Background(), "empty")
	assert.Error(t, err)
	_, err = c.RefreshToken(context.Background(), "garbled")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	assert.NoError(t, New(srv.URL, time.Second).Health(context.Background()))
}
