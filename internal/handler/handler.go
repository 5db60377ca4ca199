// Package handler serves the local control API of the scan agent.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/logger"
	"qrattend/internal/scan"
)

// Scanner is the scan session surface the API drives.
type Scanner interface {
	Start(ctx context.Context, c scan.Constraints) error
	Stop()
	Reset() error
	Inject(payload string) error
	Snapshot() scan.Snapshot
}

// Visibility pauses decoding while the UI is hidden.
type Visibility interface {
	SetVisible(visible bool)
	Visible() bool
}

// Credentials is the login hand-off surface of auth.Guard.
type Credentials interface {
	Save(ctx context.Context, c auth.Credential) error
	Clear(ctx context.Context) error
	Status(ctx context.Context) (stored bool, valid bool, err error)
}

// History reads the attempt journal. Implemented by attendance.Repository.
type History interface {
	ListAttempts(ctx context.Context, f attendance.Filter, limit, offset int) ([]attendance.Attempt, error)
	GetAttempt(ctx context.Context, id string) (*attendance.Attempt, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type Handler struct {
	base     context.Context
	scanner  Scanner
	vis      Visibility
	creds    Credentials
	facing   string
	history  History
	checks   map[string]Check
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// New creates the API. base outlives requests and scopes the scan session's camera and
// submissions.
func New(base context.Context, scanner Scanner, vis Visibility, creds Credentials, facingMode string) *Handler {
	return &Handler{
		base:    base,
		scanner: scanner,
		vis:     vis,
		creds:   creds,
		facing:  facingMode,
		checks:  make(map[string]Check),
		log:     logger.Component("api"),
	}
}

// WithCheck adds a named dependency to /healthz.
func (h *Handler) WithCheck(name string, c Check) *Handler {
	h.checks[name] = c
	return h
}

// WithHistory serves the attempt journal under /v1/attempts.
func (h *Handler) WithHistory(hist History) *Handler {
	h.history = hist
	return h
}

// WithMetrics serves g at /metrics.
func (h *Handler) WithMetrics(g prometheus.Gatherer) *Handler {
	h.gatherer = g
	return h
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.GET("/scan", h.snapshot)
	v1.POST("/scan/start", h.start)
	v1.POST("/scan/stop", h.stop)
	v1.POST("/scan/reset", h.reset)
	v1.POST("/scan/manual", h.manual)
	v1.PUT("/scan/visibility", h.visibility)

	v1.GET("/credentials", h.credentialStatus)
	v1.PUT("/credentials", h.saveCredentials)
	v1.DELETE("/credentials", h.clearCredentials)

	if h.history != nil {
		v1.GET("/attempts", h.listAttempts)
		v1.GET("/attempts/:id", h.getAttempt)
	}
}

func (h *Handler) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.scanner.Snapshot())
}

func (h *Handler) start(c *gin.Context) {
	var req struct {
		Torch bool `json:"torch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.scanner.Start(h.base, scan.Constraints{FacingMode: h.facing, Torch: req.Torch})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scanner.Snapshot())
}

func (h *Handler) stop(c *gin.Context) {
	h.scanner.Stop()
	c.JSON(http.StatusOK, h.scanner.Snapshot())
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.scanner.Reset(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scanner.Snapshot())
}

func (h *Handler) manual(c *gin.Context) {
	var req struct {
		Payload string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.scanner.Inject(req.Payload); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.scanner.Snapshot())
}

func (h *Handler) visibility(c *gin.Context) {
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.vis.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": h.vis.Visible()})
}

func (h *Handler) credentialStatus(c *gin.Context) {
	stored, valid, err := h.creds.Status(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("credential status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored, "valid": valid})
}

func (h *Handler) saveCredentials(c *gin.Context) {
	var req struct {
		Access  string `json:"access" binding:"required"`
		Refresh string `json:"refresh" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.creds.Save(c.Request.Context(), auth.Credential{Access: req.Access, Refresh: req.Refresh}); err != nil {
		h.log.Error().Err(err).Msg("save credentials failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential store unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCredentials(c *gin.Context) {
	if err := h.creds.Clear(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("clear credentials failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential store unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAttempts(c *gin.Context) {
	var f attendance.Filter
	f.SessionID = c.Query("session_id")
	if v := c.Query("kind"); v != "" {
		var k attendance.Kind
		if err := k.UnmarshalText([]byte(v)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Kind = &k
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	attempts, err := h.history.ListAttempts(c.Request.Context(), f, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list attempts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if attempts == nil {
		attempts = []attendance.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (h *Handler) getAttempt(c *gin.Context) {
	a, err := h.history.GetAttempt(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Error().Err(err).Msg("get attempt failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "scan": h.scanner.Snapshot().State, "deps": deps})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scan.ErrBusy), errors.Is(err, scan.ErrNotStarted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Warn().Err(err).Msg("scan control failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}
