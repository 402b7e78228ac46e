package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"battleroom/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PointsLedger implements ScoringLedgerPort over the gamification
// database: point balances per student+subject, with an audit row for
// reason-tagged awards. Correctness checks and increments run inside one
// transaction so an award is all-or-nothing.
type PointsLedger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewPointsLedger(db *gorm.DB, logger *slog.Logger) *PointsLedger {
	return &PointsLedger{db: db, logger: logger}
}

// ValidateAndAward checks the chosen option and, when correct, credits
// the student's balance. A wrong answer or an unknown student is a clean
// not-accepted result, not an error.
func (l *PointsLedger) ValidateAndAward(ctx context.Context, identity, optionID, subjectID string, amount int) (AwardResult, error) {
	var option models.Option
	err := l.db.WithContext(ctx).First(&option, "id = ?", optionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AwardResult{}, nil
	}
	if err != nil {
		return AwardResult{}, fmt.Errorf("loading option %s: %w", optionID, err)
	}
	if !option.IsCorrect {
		return AwardResult{}, nil
	}

	student, err := l.findStudent(ctx, identity)
	if err != nil {
		return AwardResult{}, err
	}
	if student == nil {
		l.logger.Warn("award for unknown student", "identity", identity)
		return AwardResult{}, nil
	}

	var balance int
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := l.incrementBalance(tx, student.ID, subjectID, amount)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return AwardResult{}, fmt.Errorf("crediting %d points to %s: %w", amount, student.ID, err)
	}

	return AwardResult{Accepted: true, NewBalance: balance}, nil
}

// Award credits points unconditionally and records the reason in the
// transaction history.
func (l *PointsLedger) Award(ctx context.Context, identity, subjectID string, amount int, reason string) (int, error) {
	student, err := l.findStudent(ctx, identity)
	if err != nil {
		return 0, err
	}
	if student == nil {
		return 0, fmt.Errorf("student %q not found", identity)
	}

	var balance int
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := l.incrementBalance(tx, student.ID, subjectID, amount)
		if err != nil {
			return err
		}
		balance = b

		return tx.Create(&models.PointTransaction{
			ID:        uuid.NewString(),
			StudentID: student.ID,
			SubjectID: subjectID,
			Amount:    amount,
			Type:      models.TransactionEarned,
			Reason:    reason,
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("awarding %d points to %s: %w", amount, student.ID, err)
	}

	return balance, nil
}

// findStudent resolves a logical identity: the engine keys players by
// external id when the client supplies one, display name otherwise.
func (l *PointsLedger) findStudent(ctx context.Context, identity string) (*models.Student, error) {
	var student models.Student
	err := l.db.WithContext(ctx).
		Where("id = ? OR student_code = ? OR full_name = ?", identity, identity, identity).
		First(&student).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up student %q: %w", identity, err)
	}
	return &student, nil
}

func (l *PointsLedger) incrementBalance(tx *gorm.DB, studentID, subjectID string, amount int) (int, error) {
	var balance models.PointBalance
	err := tx.Where("student_id = ? AND subject_id = ?", studentID, subjectID).First(&balance).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		balance = models.PointBalance{
			ID:        uuid.NewString(),
			StudentID: studentID,
			SubjectID: subjectID,
			Amount:    amount,
		}
		if err := tx.Create(&balance).Error; err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if err := tx.Model(&balance).
			Update("amount", gorm.Expr("amount + ?", amount)).Error; err != nil {
			return 0, err
		}
		balance.Amount += amount
	}
	return balance.Amount, nil
}
