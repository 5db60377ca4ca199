package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qrattend/internal/geo"
)

// Kind tags the result of one attendance attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindInvalidFormat
	KindGeoDenied
	KindAuthRequired
	KindServerRejected
	KindNetworkError
)

var kindNames = map[Kind]string{
	KindSuccess:        "success",
	KindInvalidFormat:  "invalid_format",
	KindGeoDenied:      "geo_denied",
	KindAuthRequired:   "auth_required",
	KindServerRejected: "server_rejected",
	KindNetworkError:   "network_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown outcome kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind %q", string(b))
}

// Outcome is the single result of one attempt. Reason is meaningful only for KindGeoDenied.
type Outcome struct {
	Kind       Kind
	Reason     geo.Reason
	Message    string
	SessionID  string
	AttemptID  string
	Coords     *geo.Coordinates
	StatusCode int
	At         time.Time
}

// OK reports a successful attempt.
func (o Outcome) OK() bool { return o.Kind == KindSuccess }

type outcomeJSON struct {
	Kind       Kind             `json:"kind"`
	Reason     *geo.Reason      `json:"reason,omitempty"`
	Message    string           `json:"message,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	AttemptID  string           `json:"attempt_id"`
	Coords     *geo.Coordinates `json:"coords,omitempty"`
	StatusCode int              `json:"status_code,omitempty"`
	At         time.Time        `json:"at"`
	Display    string           `json:"display,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Kind:       o.Kind,
		Message:    o.Message,
		SessionID:  o.SessionID,
		AttemptID:  o.AttemptID,
		Coords:     o.Coords,
		StatusCode: o.StatusCode,
		At:         o.At,
		Display:    o.Display(),
	}
	if o.Kind == KindGeoDenied {
		r := o.Reason
		out.Reason = &r
	}
	return json.Marshal(out)
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*o = Outcome{
		Kind:       in.Kind,
		Message:    in.Message,
		SessionID:  in.SessionID,
		AttemptID:  in.AttemptID,
		Coords:     in.Coords,
		StatusCode: in.StatusCode,
		At:         in.At,
	}
	if in.Reason != nil {
		o.Reason = *in.Reason
	}
	return nil
}

// Display is the text shown to the user. It is never empty.
func (o Outcome) Display() string {
	switch o.Kind {
	case KindSuccess:
		if strings.Contains(strings.ToLower(o.Message), "already marked") {
			return "Attendance already marked for this session"
		}
		return "Attendance marked successfully"
	case KindInvalidFormat:
		return "Invalid QR code. Please scan an attendance QR code."
	case KindGeoDenied:
		switch o.Reason {
		case geo.ReasonPermissionDenied:
			return "Location access denied. Enable location to mark attendance."
		case geo.ReasonTimeout:
			return "Location request timed out. Please try again."
		default:
			return "Location unavailable. Please try again."
		}
	case KindAuthRequired:
		return "Session expired. Please login again."
	case KindServerRejected:
		return friendlyRejection(o.Message)
	case KindNetworkError:
		return "Network error. Check your connection and try again."
	}
	if o.Message != "" {
		return o.Message
	}
	return "Failed to mark attendance"
}

func friendlyRejection(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not enrolled"):
		return "You are not enrolled in this course."
	case strings.Contains(lower, "too far"):
		// keep the distances the server reported
		return msg
	case strings.Contains(lower, "expired"), strings.Contains(lower, "window"):
		return "The attendance window for this session has closed."
	case strings.Contains(lower, "not found"):
		return "This attendance session no longer exists."
	case strings.Contains(lower, "already marked"):
		return "Attendance already marked for this session"
	case strings.TrimSpace(msg) == "":
		return "Failed to mark attendance"
	}
	return msg
}
