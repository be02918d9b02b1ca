// Package broadcast fans an announcement out to every registered
// operator and records the outcome.
package broadcast

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/telemost/switchboard/internal/directory"
	"github.com/telemost/switchboard/internal/models"
)

// SendFunc delivers one direct message to a user on the chat platform.
type SendFunc func(ctx context.Context, userID int64, text string) error

// Runner sends broadcasts.
type Runner struct {
	db   *gorm.DB
	send SendFunc
}

// RunnerOpts holds parameters for creating a Runner.
type RunnerOpts struct {
	DB   *gorm.DB
	Send SendFunc
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOpts) (*Runner, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("broadcast: db is required")
	}
	if opts.Send == nil {
		return nil, fmt.Errorf("broadcast: send func is required")
	}
	return &Runner{db: opts.DB, send: opts.Send}, nil
}

// Run delivers text to every registered operator except the sender.
// Per-recipient failures are counted, not fatal. The outcome is stored
// as a Broadcast row.
func (r *Runner) Run(ctx context.Context, senderID int64, text string) (sent, failed int, err error) {
	ops, err := directory.Operators(r.db)
	if err != nil {
		return 0, 0, fmt.Errorf("broadcast: list operators: %w", err)
	}

	total := 0
	for _, op := range ops {
		if op.UserID == senderID {
			continue
		}
		total++
		if err := r.send(ctx, op.UserID, text); err != nil {
			log.Printf("broadcast: send to %d: %v", op.UserID, err)
			failed++
			continue
		}
		sent++
	}

	rec := models.Broadcast{
		SenderID: senderID,
		Text:     text,
		Total:    total,
		Sent:     sent,
		Failed:   failed,
	}
	if err := r.db.Create(&rec).Error; err != nil {
		return sent, failed, fmt.Errorf("broadcast: record outcome: %w", err)
	}
	return sent, failed, nil
}
