package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCamera(t *testing.T) {
	png, err := qrcode.Encode("attendance:CS101", qrcode.Medium, 256)
	require.NoError(t, err)

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "environment", r.URL.Query().Get("facing_mode"))
		assert.Equal(t, "true", r.URL.Query().Get("torch"))
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	cam := NewSnapshotCamera(srv.URL+"/snapshot", time.Second)
	stream, err := cam.Open(context.Background(), Constraints{Torch: true})
	require.NoError(t, err)

	text, err := NewDecoder().Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, "attendance:CS101", text)

	fail.Store(true)
	_, err = stream.Frame()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, stream.Close())
	_, err = stream.Frame()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSnapshotCameraUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	stream, err := NewSnapshotCamera(url, time.Second).Open(context.Background(), Constraints{})
	require.NoError(t, err)
	_, err = NewDecoder().Decode(stream)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDirCamera(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, qrcode.WriteFile("attendance:first", qrcode.Medium, 200, filepath.Join(dir, "01.png")))
	require.NoError(t, qrcode.WriteFile("attendance:second", qrcode.Medium, 200, filepath.Join(dir, "02.png")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "03.png"), []byte("not an image"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	t.Run("plays once", func(t *testing.T) {
		stream, err := (&DirCamera{Dir: dir}).Open(context.Background(), Constraints{})
		require.NoError(t, err)
		d := NewDecoder()

		text, err := d.Decode(stream)
		require.NoError(t, err)
		assert.Equal(t, "attendance:first", text)
		text, err = d.Decode(stream)
		require.NoError(t, err)
		assert.Equal(t, "attendance:second", text)

		_, err = d.Decode(stream)
		assert.ErrorIs(t, err, ErrNotReady)
		_, err = d.Decode(stream)
		assert.ErrorIs(t, err, ErrNotReady)

		require.NoError(t, stream.Close())
		_, err = stream.Frame()
		assert.ErrorIs(t, err, ErrStreamClosed)
	})

	t.Run("loops", func(t *testing.T) {
		stream, err := (&DirCamera{Dir: dir, Loop: true}).Open(context.Background(), Constraints{})
		require.NoError(t, err)
		d := NewDecoder()
		for i := 0; i < 3; i++ {
			_, _ = d.Decode(stream)
		}
		text, err := d.Decode(stream)
		require.NoError(t, err)
		assert.Equal(t, "attendance:first", text)
	})

	t.Run("empty dir", func(t *testing.T) {
		_, err := (&DirCamera{Dir: t.TempDir()}).Open(context.Background(), Constraints{})
		assert.Error(t, err)
	})
}
