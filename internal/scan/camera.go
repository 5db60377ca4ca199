package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FacingEnvironment selects the rear camera.
const FacingEnvironment = "environment"

// Constraints are applied when a camera is acquired.
type Constraints struct {
	FacingMode string `json:"facing_mode"`
	Torch      bool   `json:"torch"`
}

// Camera hands out streams. Each Open acquires the device; Stream.Close releases it.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// SnapshotCamera fetches still frames from an HTTP snapshot endpoint, such as an IP camera
// or a phone camera bridge.
type SnapshotCamera struct {
	URL  string
	HTTP *http.Client
}

func NewSnapshotCamera(rawURL string, timeout time.Duration) *SnapshotCamera {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SnapshotCamera{URL: rawURL, HTTP: &http.Client{Timeout: timeout}}
}

func (c *SnapshotCamera) Open(ctx context.Context, cons Constraints) (Stream, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse camera url: %w", err)
	}
	if cons.FacingMode == "" {
		cons.FacingMode = FacingEnvironment
	}
	q := u.Query()
	q.Set("facing_mode", cons.FacingMode)
	q.Set("torch", strconv.FormatBool(cons.Torch))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	return &snapshotStream{url: u.String(), http: c.HTTP, ctx: ctx, cancel: cancel}, nil
}

type snapshotStream struct {
	url    string
	http   *http.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *snapshotStream) Frame() (image.Image, error) {
	if s.ctx.Err() != nil {
		return nil, ErrStreamClosed
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, ErrStreamClosed
		}
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: snapshot status %d", ErrNotReady, resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return img, nil
}

// Close cancels any in-flight snapshot request.
func (s *snapshotStream) Close() error {
	s.cancel()
	return nil
}

// DirCamera replays the PNG and JPEG files of a directory in lexical order.
type DirCamera struct {
	Dir  string
	Loop bool
}

func (c *DirCamera) Open(_ context.Context, _ Constraints) (Stream, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("open camera dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(c.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.New("camera dir has no images")
	}
	return &dirStream{files: files, loop: c.Loop}, nil
}

type dirStream struct {
	mu     sync.Mutex
	files  []string
	next   int
	loop   bool
	closed bool
}

func (s *dirStream) Frame() (image.Image, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: end of recording", ErrNotReady)
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotReady, filepath.Base(path), err)
	}
	return img, nil
}

func (s *dirStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
