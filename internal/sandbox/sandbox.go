// Package sandbox is a test double of the attendance backend. It answers the mark and token
// endpoints with the same status codes and messages, for demos and end-to-end tests.
//
// It is not a backend implementation: state lives in memory, any enrolled username can log
// in without a password, and fixtures are the only way to create sessions. Do not deploy it.
package sandbox

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"qrattend/internal/auth"
	"qrattend/internal/logger"
)

// Without an explicit expiry a session accepts marks this long after it opens.
const defaultWindow = 15 * time.Minute

// Session is a class meeting students can mark attendance for.
type Session struct {
	ID        string    `yaml:"id" json:"id"`
	Course    string    `yaml:"course" json:"course"`
	Latitude  float64   `yaml:"latitude" json:"latitude"`
	Longitude float64   `yaml:"longitude" json:"longitude"`
	RadiusM   float64   `yaml:"radius_m" json:"radius_m"`
	OpensAt   time.Time `yaml:"opens_at" json:"opens_at"`
	ExpiresAt time.Time `yaml:"expires_at" json:"expires_at"`
}

// Fixtures seed a backend.
type Fixtures struct {
	Sessions    []Session           `yaml:"sessions"`
	Enrollments map[string][]string `yaml:"enrollments"`
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return f, nil
}

type Config struct {
	SigningKey     string
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	DefaultRadiusM float64
}

type Backend struct {
	cfg Config
	now func() time.Time
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]Session
	enrolled map[string]map[string]bool
	marks    map[string]time.Time
}

func New(cfg Config) *Backend {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	if cfg.DefaultRadiusM <= 0 {
		cfg.DefaultRadiusM = 100
	}
	return &Backend{
		cfg:      cfg,
		now:      time.Now,
		log:      logger.Component("sandbox"),
		sessions: make(map[string]Session),
		enrolled: make(map[string]map[string]bool),
		marks:    make(map[string]time.Time),
	}
}

// WithClock overrides the clock used for attendance windows.
func (b *Backend) WithClock(now func() time.Time) *Backend {
	b.now = now
	return b
}

// Load adds every session and enrollment in f.
func (b *Backend) Load(f Fixtures) {
	for _, s := range f.Sessions {
		b.AddSession(s)
	}
	for student, courses := range f.Enrollments {
		b.Enroll(student, courses...)
	}
}

func (b *Backend) AddSession(s Session) {
	if s.RadiusM <= 0 {
		s.RadiusM = b.cfg.DefaultRadiusM
	}
	b.mu.Lock()
	b.sessions[s.ID] = s
	b.mu.Unlock()
}

func (b *Backend) Enroll(student string, courses ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.enrolled[student]
	if !ok {
		set = make(map[string]bool)
		b.enrolled[student] = set
	}
	for _, c := range courses {
		set[c] = true
	}
}

// Login issues a token pair for a known student.
func (b *Backend) Login(student string) (auth.TokenPair, error) {
	b.mu.Lock()
	_, ok := b.enrolled[student]
	b.mu.Unlock()
	if !ok {
		return auth.TokenPair{}, fmt.Errorf("unknown student %q", student)
	}
	return auth.Issue(student, "student", b.cfg.Issuer, b.cfg.SigningKey, b.cfg.AccessTTL, b.cfg.RefreshTTL)
}

// Marked reports whether student has attendance for session.
func (b *Backend) Marked(student, session string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.marks[markKey(student, session)]
	return ok
}

func markKey(student, session string) string {
	return student + "/" + session
}
