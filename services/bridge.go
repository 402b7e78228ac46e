package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ScoringBridge fronts the external ledger. Every call gets its own
// timeout and failures come back wrapped as ErrUpstream; the caller
// decides how to surface them, but a ledger failure never blocks a round
// from closing because rounds close before the bridge is ever invoked.
type ScoringBridge struct {
	ledger  ScoringLedgerPort
	logger  *slog.Logger
	timeout time.Duration
}

func NewScoringBridge(ledger ScoringLedgerPort, logger *slog.Logger, timeout time.Duration) *ScoringBridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ScoringBridge{ledger: ledger, logger: logger, timeout: timeout}
}

// ValidateAndAward asks the ledger to check the option and credit the
// points transactionally. Accepted is only true on an explicit yes.
func (b *ScoringBridge) ValidateAndAward(ctx context.Context, identity, optionID, subjectID string, amount int) (AwardResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.ledger.ValidateAndAward(ctx, identity, optionID, subjectID, amount)
	if err != nil {
		b.logger.Error("ledger validate-and-award failed",
			"identity", identity, "subject_id", subjectID, "error", err)
		return AwardResult{}, fmt.Errorf("validate and award: %w: %v", ErrUpstream, err)
	}
	return res, nil
}

// Award credits points directly with a reason tag, e.g. podium prizes.
func (b *ScoringBridge) Award(ctx context.Context, identity, subjectID string, amount int, reason string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	balance, err := b.ledger.Award(ctx, identity, subjectID, amount, reason)
	if err != nil {
		b.logger.Error("ledger award failed",
			"identity", identity, "subject_id", subjectID, "reason", reason, "error", err)
		return 0, fmt.Errorf("award: %w: %v", ErrUpstream, err)
	}
	return balance, nil
}
