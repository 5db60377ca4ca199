package sandbox

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/geo"
)

// Register mounts the token and mark endpoints.
func (b *Backend) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/token/", b.obtainToken)
	api.POST("/token/refresh/", b.refreshToken)
	api.POST("/mark/", auth.BearerAuth(b.cfg.SigningKey, b.cfg.Issuer), b.mark)
}

func (b *Backend) obtainToken(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := b.Login(req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "No active account found with the given credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": pair.AccessToken, "refresh": pair.RefreshToken})
}

func (b *Backend) refreshToken(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"refresh": []string{"This field is required."}})
		return
	}
	claims, err := auth.Parse(req.Refresh, b.cfg.SigningKey, b.cfg.Issuer)
	if err != nil || claims.TokenType != "refresh" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	access, err := auth.IssueAccess(claims.Subject, claims.Role, b.cfg.Issuer, b.cfg.SigningKey, time.Now().Add(b.cfg.AccessTTL))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

type markRequest struct {
	SessionID string   `json:"session_id"`
	QRData    string   `json:"qr_data"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (b *Backend) mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" && req.QRData != "" {
		id, err := attendance.ParsePayload(req.QRData)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid QR code data"})
			return
		}
		sessionID = id
	}
	if sessionID == "" || req.Latitude == nil || req.Longitude == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	pos := geo.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := pos.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates: " + err.Error()})
		return
	}

	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	student := claims.Subject

	status, body := b.markAttendance(student, sessionID, pos)
	b.log.Info().Str("student", student).Str("session_id", sessionID).Int("status", status).Msg("mark attendance")
	c.JSON(status, body)
}

func (b *Backend) markAttendance(student, sessionID string, pos geo.Coordinates) (int, gin.H) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[sessionID]
	if !ok {
		return http.StatusNotFound, gin.H{"error": "Session not found"}
	}
	courses, ok := b.enrolled[student]
	if !ok {
		return http.StatusNotFound, gin.H{"error": "Student profile not found"}
	}
	if !courses[session.Course] {
		return http.StatusForbidden, gin.H{"error": "You are not enrolled in this course"}
	}
	distance := geo.Distance(pos, geo.Coordinates{Latitude: session.Latitude, Longitude: session.Longitude})
	if distance > session.RadiusM {
		return http.StatusForbidden, gin.H{
			"error": fmt.Sprintf("You are too far from the session location (%.2f meters). Allowed radius: %gm", distance, session.RadiusM),
		}
	}

	now := b.now()
	switch {
	case !session.ExpiresAt.IsZero():
		if now.After(session.ExpiresAt) {
			return http.StatusForbidden, gin.H{"error": "QR code has expired. Attendance window closed."}
		}
	case !session.OpensAt.IsZero():
		if now.After(session.OpensAt.Add(defaultWindow)) {
			return http.StatusForbidden, gin.H{"error": "Attendance window has closed."}
		}
	}

	if _, dup := b.marks[markKey(student, sessionID)]; dup {
		return http.StatusOK, gin.H{"message": "Attendance already marked for this session"}
	}
	b.marks[markKey(student, sessionID)] = now
	return http.StatusCreated, gin.H{
		"message":             "Attendance marked successfully",
		"distance_from_class": fmt.Sprintf("%.2f meters", distance),
	}
}
