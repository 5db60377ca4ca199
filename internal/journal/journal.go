// Package journal persists published outcomes into the attempt table.
package journal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"qrattend/internal/attendance"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
)

// Writer stores one attempt. Implemented by attendance.Repository.
type Writer interface {
	InsertAttempt(ctx context.Context, a attendance.Attempt) (attendance.Attempt, error)
}

// Consumer drains a queue into a Writer.
type Consumer struct {
	q    queue.Queue
	repo Writer
	log  zerolog.Logger
}

func NewConsumer(q queue.Queue, repo Writer) *Consumer {
	return &Consumer{q: q, repo: repo, log: logger.Component("journal")}
}

// Run consumes until ctx ends or the queue closes and returns how many attempts were stored.
// Malformed messages and insert failures are logged and skipped.
func (c *Consumer) Run(ctx context.Context) (int, error) {
	messages, err := c.q.Consume(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue consume init failed: %w", err)
	}
	c.log.Info().Msg("journal consumer started")

	stored := 0
	for msg := range messages {
		if err := c.handle(ctx, msg); err != nil {
			c.log.Warn().Err(err).Str("type", msg.Type).Msg("outcome not journaled")
			continue
		}
		stored++
	}
	c.log.Info().Int("stored", stored).Msg("journal consumer stopped")
	return stored, nil
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) error {
	out, err := queue.DecodeOutcome(msg)
	if err != nil {
		return err
	}
	if out.AttemptID == "" {
		return fmt.Errorf("outcome without attempt id")
	}
	a, err := c.repo.InsertAttempt(ctx, attendance.AttemptFromOutcome(out))
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", out.AttemptID, err)
	}
	c.log.Debug().Str("attempt_id", a.ID).Str("session_id", a.SessionID).Str("outcome", a.Kind.String()).Msg("attempt journaled")
	return nil
}
