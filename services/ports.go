package services

import "context"

// Question is the engine's view of a bank question. The IsCorrect flag on
// options is only ever consumed server-side; outbound payloads go through
// QuestionView which strips it.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionBankPort is the external question storage consulted once per
// round. Implemented by QuestionBank over gorm+redis in this repo.
type QuestionBankPort interface {
	GetAll(ctx context.Context, subjectID string) ([]Question, error)
}

// AwardResult is the ledger's answer to a validate-and-award call.
// Accepted is only true when the ledger explicitly confirmed both the
// correctness of the option and the balance increment.
type AwardResult struct {
	Accepted   bool `json:"accepted"`
	NewBalance int  `json:"new_balance"`
}

// ScoringLedgerPort records point balances and the audit trail. The
// engine never assumes an award succeeded without an affirmative result.
type ScoringLedgerPort interface {
	ValidateAndAward(ctx context.Context, identity, optionID, subjectID string, amount int) (AwardResult, error)
	Award(ctx context.Context, identity, subjectID string, amount int, reason string) (int, error)
}
