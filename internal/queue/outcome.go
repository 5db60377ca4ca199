package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/attendance"
	"qrattend/internal/logger"
)

// TypeOutcome tags messages carrying an attendance.Outcome as JSON.
const TypeOutcome = "outcome"

// EncodeOutcome wraps an outcome in a queue message.
func EncodeOutcome(o attendance.Outcome) (Message, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return Message{}, fmt.Errorf("encode outcome: %w", err)
	}
	return Message{Type: TypeOutcome, Body: body}, nil
}

// DecodeOutcome reverses EncodeOutcome.
func DecodeOutcome(msg Message) (attendance.Outcome, error) {
	if msg.Type != TypeOutcome {
		return attendance.Outcome{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var o attendance.Outcome
	if err := json.Unmarshal(msg.Body, &o); err != nil {
		return attendance.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}

// OutcomeSink publishes every delivered outcome for the journal worker. Publish failures are
// logged and otherwise ignored; the user already saw the outcome.
type OutcomeSink struct {
	q       Queue
	timeout time.Duration
	log     zerolog.Logger
}

func NewOutcomeSink(q Queue) *OutcomeSink {
	return &OutcomeSink{q: q, timeout: 2 * time.Second, log: logger.Component("queue")}
}

func (s *OutcomeSink) Deliver(o attendance.Outcome) {
	msg, err := EncodeOutcome(o)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", o.AttemptID).Msg("outcome not published")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.q.Publish(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", o.AttemptID).Msg("outcome publish failed")
	}
}
