package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"battleroom/models"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// QuestionBank implements QuestionBankPort over the subjects database,
// with a per-subject Redis cache so one battle does not hammer the bank
// once per round. Cache errors are logged and the database is the
// fallback.
type QuestionBank struct {
	db     *gorm.DB
	redis  *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func NewQuestionBank(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *QuestionBank {
	return &QuestionBank{
		db:     db,
		redis:  redisClient,
		logger: logger,
		ttl:    10 * time.Minute,
	}
}

func (b *QuestionBank) GetAll(ctx context.Context, subjectID string) ([]Question, error) {
	key := "questions:" + subjectID

	if b.redis != nil {
		data, err := b.redis.Get(ctx, key).Result()
		if err == nil {
			var cached []Question
			if err := json.Unmarshal([]byte(data), &cached); err == nil {
				return cached, nil
			}
			b.logger.Warn("corrupt question cache entry", "subject_id", subjectID)
		} else if err != redis.Nil {
			b.logger.Warn("redis error reading question cache", "subject_id", subjectID, "error", err)
		}
	}

	var rows []models.Question
	err := b.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("\"order\" ASC")
		}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading questions for subject %s: %w", subjectID, err)
	}

	questions := lo.Map(rows, func(q models.Question, _ int) Question {
		return Question{
			ID:   q.ID,
			Text: q.Text,
			Options: lo.Map(q.Options, func(o models.Option, _ int) Option {
				return Option{ID: o.ID, Text: o.Text, IsCorrect: o.IsCorrect}
			}),
		}
	})

	if b.redis != nil {
		if data, err := json.Marshal(questions); err == nil {
			if err := b.redis.Set(ctx, key, data, b.ttl).Err(); err != nil {
				b.logger.Warn("redis error writing question cache", "subject_id", subjectID, "error", err)
			}
		}
	}

	return questions, nil
}
