// Package reminder nudges approvers on workflows that sit in the awaiting
// state past a configured window. Each instance gets at most one reminder per
// window, posted to the ticket and to the requester's chat thread.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"go.uber.org/zap"
)

// Config controls the reminder scanner.
type Config struct {
	// Interval between scans
	Interval time.Duration
	// StaleAfter is how long an instance may await approval before a reminder
	StaleAfter time.Duration
}

// Scanner periodically sweeps the store for stale awaiting instances.
type Scanner struct {
	store     port.CorrelationStore
	ticketer  port.Ticketer
	messenger port.Messenger
	ledger    *approval.Ledger
	cfg       Config
	logger    *zap.Logger
}

// NewScanner creates a reminder scanner.
func NewScanner(
	store port.CorrelationStore,
	ticketer port.Ticketer,
	messenger port.Messenger,
	ledger *approval.Ledger,
	cfg Config,
	logger *zap.Logger,
) *Scanner {
	return &Scanner{
		store:     store,
		ticketer:  ticketer,
		messenger: messenger,
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks scanning on the configured interval until the context is
// canceled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Reminder scanner started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("stale_after", s.cfg.StaleAfter))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reminder scanner stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the stale awaiting instances.
func (s *Scanner) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	stale, err := s.store.ListAwaiting(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to list awaiting instances", zap.Error(err))
		return
	}

	for _, inst := range stale {
		s.remind(ctx, inst.CorrelationKey, cutoff)
	}
}

func (s *Scanner) remind(ctx context.Context, key string, cutoff time.Time) {
	release := s.store.Lock(key)
	defer release()

	// Re-read under the lock: the instance may have advanced or already been
	// reminded since the listing.
	inst, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Stale instance vanished before reminder",
			zap.String("correlation_key", key), zap.Error(err))
		return
	}
	if !inst.State.IsSuspended() || inst.StateEnteredAt.After(cutoff) {
		return
	}
	if !inst.ReminderSentAt.IsZero() && inst.ReminderSentAt.After(cutoff) {
		return
	}

	pending := s.ledger.Pending(inst)
	text := fmt.Sprintf("Reminder: access request %s is still awaiting approval from %s.",
		inst.TicketRef, strings.Join(pending, ", "))

	if inst.TicketRef != "" {
		if err := s.ticketer.AddComment(ctx, inst.TicketRef, text); err != nil {
			s.logger.Warn("Failed to post reminder ticket comment",
				zap.String("ticket_ref", inst.TicketRef), zap.Error(err))
		}
	}
	if err := s.messenger.PostMessage(ctx, inst.Request.ChannelID, inst.Request.ThreadTS, text); err != nil {
		s.logger.Warn("Failed to post reminder chat message",
			zap.String("correlation_key", key), zap.Error(err))
	}

	inst.ReminderSentAt = time.Now()
	inst.UpdatedAt = inst.ReminderSentAt
	if err := s.store.Save(ctx, inst); err != nil {
		s.logger.Error("Failed to save reminder timestamp",
			zap.String("correlation_key", key), zap.Error(err))
		return
	}

	s.logger.Info("Reminder sent",
		zap.String("correlation_key", key),
		zap.String("ticket_ref", inst.TicketRef),
		zap.Strings("pending_approvers", pending))
}
