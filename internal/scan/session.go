package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/attendance"
	"qrattend/internal/logger"
	"qrattend/internal/metrics"
)

// Defaults for session timing.
const (
	DefaultInterval   = 100 * time.Millisecond
	DefaultRetryDelay = 2 * time.Second
)

var (
	// ErrBusy is returned while an attempt is being submitted, including one that outlived
	// a Stop.
	ErrBusy = errors.New("scan attempt in progress")
	// ErrNotStarted is returned by Reset before the session was ever started.
	ErrNotStarted = errors.New("scan session not started")
)

// State of a scan session.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateDetected
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateDetected:
		return "detected"
	case StateSubmitting:
		return "submitting"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy decides what follows a failed attempt.
type Policy int

const (
	// PolicyAutoRestart reacquires the camera and resumes scanning after the retry delay.
	PolicyAutoRestart Policy = iota
	// PolicyManualRetry returns to idle and waits for Start or Reset.
	PolicyManualRetry
)

// ParsePolicy accepts "auto" and "manual".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "auto":
		return PolicyAutoRestart, nil
	case "manual":
		return PolicyManualRetry, nil
	}
	return 0, fmt.Errorf("unknown retry policy %q", s)
}

func (p Policy) String() string {
	if p == PolicyManualRetry {
		return "manual"
	}
	return "auto"
}

// Submitter resolves a payload into one outcome. Implemented by attendance.Submitter.
type Submitter interface {
	Submit(ctx context.Context, payload string) attendance.Outcome
}

// Sink shows outcomes to the user.
type Sink interface {
	Deliver(attendance.Outcome)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(attendance.Outcome)

func (f SinkFunc) Deliver(o attendance.Outcome) { f(o) }

// MultiSink delivers to every sink in order.
type MultiSink []Sink

func (m MultiSink) Deliver(o attendance.Outcome) {
	for _, s := range m {
		if s != nil {
			s.Deliver(o)
		}
	}
}

// Options tune a session. Zero values select the defaults.
type Options struct {
	Interval   time.Duration
	RetryDelay time.Duration
	Policy     Policy
	Metrics    *metrics.Metrics

	// OnTransition is called with the session lock held and must not call back into the session.
	OnTransition func(from, to State)
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State       State               `json:"state"`
	Policy      string              `json:"policy"`
	Torch       bool                `json:"torch"`
	LastText    string              `json:"last_text,omitempty"`
	LastOutcome *attendance.Outcome `json:"last_outcome,omitempty"`
	Fault       string              `json:"fault,omitempty"`
}

// Session owns the camera stream while scanning and serializes attempts: a new detection
// cannot start before the previous attempt reached its outcome.
type Session struct {
	camera    Camera
	submitter Submitter
	scheduler Scheduler
	sink      Sink
	opts      Options
	log       zerolog.Logger

	decodeMu sync.Mutex
	decoder  *Decoder

	mu          sync.Mutex
	state       State
	ctx         context.Context
	constraints Constraints
	stream      Stream
	cancelTick  CancelFunc
	tickID      uint64
	epoch       uint64
	inflight    bool
	lastText    string
	lastOutcome *attendance.Outcome
	fault       error
}

func NewSession(camera Camera, submitter Submitter, scheduler Scheduler, sink Sink, opts Options) *Session {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if sink == nil {
		sink = SinkFunc(func(attendance.Outcome) {})
	}
	return &Session{
		camera:    camera,
		submitter: submitter,
		scheduler: scheduler,
		sink:      sink,
		opts:      opts,
		decoder:   NewDecoder(),
		log:       logger.Component("scan"),
	}
}

// Start acquires the camera and begins decoding. ctx governs the camera and every
// submission of this session, so it should outlive the call. Starting a scanning session
// is a no-op.
func (s *Session) Start(ctx context.Context, c Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateScanning:
		return nil
	case StateDetected, StateSubmitting:
		return ErrBusy
	}
	if s.inflight {
		return ErrBusy
	}
	if c.FacingMode == "" {
		c.FacingMode = FacingEnvironment
	}
	s.ctx = ctx
	s.constraints = c
	s.fault = nil
	return s.beginScanningLocked(0)
}

// Stop releases the camera and cancels the pending tick. A submission in flight completes
// but its outcome is dropped, and the session stays busy until it returns.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.releaseLocked()
	if s.state != StateIdle {
		s.transitionLocked(StateIdle)
	}
}

// Reset clears the last decoded text and scans again.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDetected, StateSubmitting:
		return ErrBusy
	case StateScanning:
		s.lastText = ""
		s.scheduleLocked(0)
		return nil
	}
	if s.ctx == nil {
		return ErrNotStarted
	}
	if s.inflight {
		return ErrBusy
	}
	s.lastText = ""
	s.fault = nil
	return s.beginScanningLocked(0)
}

// Inject submits a manually entered payload as if it had been decoded.
func (s *Session) Inject(payload string) error {
	s.mu.Lock()
	if s.state == StateDetected || s.state == StateSubmitting || s.inflight {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	epoch := s.detectLocked(payload)
	s.mu.Unlock()

	go s.submit(epoch, payload)
	return nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:    s.state,
		Policy:   s.opts.Policy.String(),
		Torch:    s.constraints.Torch,
		LastText: s.lastText,
	}
	if s.lastOutcome != nil {
		o := *s.lastOutcome
		snap.LastOutcome = &o
	}
	if s.fault != nil {
		snap.Fault = s.fault.Error()
	}
	return snap
}

func (s *Session) beginScanningLocked(delay time.Duration) error {
	stream, err := s.camera.Open(s.ctx, s.constraints)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}
	s.stream = stream
	s.transitionLocked(StateScanning)
	s.scheduleLocked(delay)
	return nil
}

func (s *Session) scheduleLocked(delay time.Duration) {
	if s.cancelTick != nil {
		s.cancelTick()
	}
	s.tickID++
	id := s.tickID
	s.cancelTick = s.scheduler.ScheduleNext(delay, func() { s.tick(id) })
}

func (s *Session) tick(id uint64) {
	s.mu.Lock()
	if s.state != StateScanning || id != s.tickID {
		s.mu.Unlock()
		return
	}
	stream := s.stream
	s.mu.Unlock()

	s.decodeMu.Lock()
	text, err := s.decoder.Decode(stream)
	s.decodeMu.Unlock()

	s.mu.Lock()
	if s.state != StateScanning || id != s.tickID {
		s.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		s.opts.Metrics.ObserveTick(metrics.TickDetected)
		epoch := s.detectLocked(text)
		s.mu.Unlock()
		s.submit(epoch, text)
		return
	case errors.Is(err, ErrNotReady):
		s.opts.Metrics.ObserveTick(metrics.TickNotReady)
		s.scheduleLocked(s.opts.Interval)
	case errors.Is(err, ErrNoCode):
		s.opts.Metrics.ObserveTick(metrics.TickNoCode)
		s.scheduleLocked(s.opts.Interval)
	default:
		s.opts.Metrics.ObserveTick(metrics.TickFault)
		s.fault = err
		s.releaseLocked()
		s.transitionLocked(StateIdle)
		s.log.Error().Err(err).Msg("decoder fault, scanning stopped")
	}
	s.mu.Unlock()
}

// detectLocked stops decoding, releases the camera and returns the epoch the attempt
// belongs to.
func (s *Session) detectLocked(payload string) uint64 {
	s.releaseLocked()
	s.lastText = payload
	s.transitionLocked(StateDetected)
	return s.epoch
}

func (s *Session) submit(epoch uint64, payload string) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateDetected {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StateSubmitting)
	s.inflight = true
	ctx := s.ctx
	s.mu.Unlock()

	out := s.submitter.Submit(ctx, payload)

	s.mu.Lock()
	s.inflight = false
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Info().Str("attempt_id", out.AttemptID).Str("outcome", out.Kind.String()).
			Msg("session stopped during submission, outcome dropped")
		return
	}
	s.lastOutcome = &out
	if out.OK() || s.opts.Policy == PolicyManualRetry {
		s.transitionLocked(StateIdle)
	} else if err := s.beginScanningLocked(s.opts.RetryDelay); err != nil {
		s.fault = err
		s.transitionLocked(StateIdle)
		s.log.Error().Err(err).Msg("could not resume scanning")
	}
	s.mu.Unlock()

	s.sink.Deliver(out)
}

func (s *Session) releaseLocked() {
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	s.tickID++
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.log.Warn().Err(err).Msg("camera release failed")
		}
		s.stream = nil
	}
}

func (s *Session) transitionLocked(to State) {
	from := s.state
	s.state = to
	s.opts.Metrics.SetScannerActive(to == StateScanning)
	s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("scan state")
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(from, to)
	}
}
