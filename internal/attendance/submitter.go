package attendance

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qrattend/internal/apiclient"
	"qrattend/internal/auth"
	"qrattend/internal/geo"
	"qrattend/internal/logger"
)

// Payload field modes for the mark request body.
const (
	FieldSessionID = "session_id"
	FieldQRData    = "qr_data"
)

// Locator supplies fresh coordinates for an attempt.
type Locator interface {
	Locate(ctx context.Context) (geo.Coordinates, error)
}

// Credentials hands out usable access tokens. Implemented by auth.Guard.
type Credentials interface {
	GetValid(ctx context.Context) (auth.Credential, error)
	Refresh(ctx context.Context) (string, error)
}

// Marker posts mark requests. Implemented by apiclient.Client.
type Marker interface {
	Mark(ctx context.Context, access string, body apiclient.MarkRequest, requestID string) (*apiclient.Response, error)
}

// Recorder observes finished attempts.
type Recorder interface {
	ObserveOutcome(kind string, took time.Duration)
}

// Submitter turns one payload into exactly one Outcome. It is not safe for concurrent
// attempts against the same scan session; the session serializes calls.
type Submitter struct {
	locator      Locator
	creds        Credentials
	api          Marker
	payloadField string
	recorder     Recorder
	now          func() time.Time
	log          zerolog.Logger
}

// NewSubmitter wires a submitter. An empty payloadField selects FieldSessionID.
func NewSubmitter(locator Locator, creds Credentials, api Marker, payloadField string) *Submitter {
	if payloadField == "" {
		payloadField = FieldSessionID
	}
	return &Submitter{
		locator:      locator,
		creds:        creds,
		api:          api,
		payloadField: payloadField,
		now:          time.Now,
		log:          logger.Component("submitter"),
	}
}

// WithRecorder attaches a metrics recorder.
func (s *Submitter) WithRecorder(r Recorder) *Submitter {
	s.recorder = r
	return s
}

// Submit runs format check, geolocation, credential lookup and the mark request in order,
// stopping at the first failure.
func (s *Submitter) Submit(ctx context.Context, payload string) Outcome {
	start := s.now()
	attemptID := uuid.NewString()

	out := s.submit(ctx, payload, attemptID)
	out.AttemptID = attemptID
	out.At = s.now().UTC()

	took := s.now().Sub(start)
	if s.recorder != nil {
		s.recorder.ObserveOutcome(out.Kind.String(), took)
	}

	ev := s.log.Info()
	if !out.OK() {
		ev = s.log.Warn()
	}
	ev.Str("attempt_id", attemptID).
		Str("session_id", out.SessionID).
		Str("outcome", out.Kind.String()).
		Int("status", out.StatusCode).
		Dur("took", took).
		Msg(out.Message)
	return out
}

func (s *Submitter) submit(ctx context.Context, payload, attemptID string) Outcome {
	sessionID, err := ParsePayload(payload)
	if err != nil {
		return Outcome{Kind: KindInvalidFormat, Message: err.Error()}
	}

	coords, err := s.locator.Locate(ctx)
	if err != nil {
		return Outcome{Kind: KindGeoDenied, Reason: geo.ReasonOf(err), Message: err.Error(), SessionID: sessionID}
	}

	cred, err := s.creds.GetValid(ctx)
	if err != nil {
		return Outcome{Kind: KindAuthRequired, Message: err.Error(), SessionID: sessionID, Coords: &coords}
	}

	body := s.requestBody(payload, sessionID, coords)
	resp, err := s.api.Mark(ctx, cred.Access, body, attemptID)
	if err != nil {
		return Outcome{Kind: KindNetworkError, Message: err.Error(), SessionID: sessionID, Coords: &coords}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		s.log.Debug().Str("attempt_id", attemptID).Msg("mark rejected with 401, refreshing once")
		access, err := s.creds.Refresh(ctx)
		if err != nil {
			return Outcome{Kind: KindAuthRequired, Message: err.Error(), SessionID: sessionID, Coords: &coords, StatusCode: resp.StatusCode}
		}
		resp, err = s.api.Mark(ctx, access, body, attemptID)
		if err != nil {
			return Outcome{Kind: KindNetworkError, Message: err.Error(), SessionID: sessionID, Coords: &coords}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return Outcome{
				Kind:       KindAuthRequired,
				Message:    ExtractServerMessage(resp.Body, "Session expired. Please login again."),
				SessionID:  sessionID,
				Coords:     &coords,
				StatusCode: resp.StatusCode,
			}
		}
	}

	out := Outcome{SessionID: sessionID, Coords: &coords, StatusCode: resp.StatusCode}
	if resp.OK() {
		out.Kind = KindSuccess
		out.Message = ExtractServerMessage(resp.Body, "")
		return out
	}
	out.Kind = KindServerRejected
	out.Message = ExtractServerMessage(resp.Body, "Failed to mark attendance")
	return out
}

func (s *Submitter) requestBody(payload, sessionID string, c geo.Coordinates) apiclient.MarkRequest {
	req := apiclient.MarkRequest{Latitude: c.Latitude, Longitude: c.Longitude}
	if s.payloadField == FieldQRData {
		req.QRData = payload
	} else {
		req.SessionID = sessionID
	}
	return req
}
