package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Selector picks the next unused question for a room's subject: fetch the
// whole bank, drop what the room has already seen, pick uniformly at
// random. Returns ErrExhausted when the subject has nothing left; the
// rotation resets when the room switches subject.
type Selector struct {
	bank QuestionBankPort

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewSelector(bank QuestionBankPort, rng *rand.Rand) *Selector {
	return &Selector{bank: bank, rng: rng}
}

// Next returns the chosen question and the total size of the subject's
// bank. The question is only reserved once Room.StartRound records it as
// used; a failed start leaves the rotation untouched.
func (s *Selector) Next(ctx context.Context, room *Room) (Question, int, error) {
	subjectID := room.Subject()
	if subjectID == "" {
		return Question{}, 0, fmt.Errorf("room %s has no subject selected: %w", room.Code, ErrInvalidState)
	}

	all, err := s.bank.GetAll(ctx, subjectID)
	if err != nil {
		return Question{}, 0, fmt.Errorf("question bank fetch for subject %s: %w: %v", subjectID, ErrUpstream, err)
	}

	remaining := room.UnusedOf(all)
	if len(remaining) == 0 {
		return Question{}, len(all), fmt.Errorf("subject %s in room %s: %w", subjectID, room.Code, ErrExhausted)
	}

	s.rngMu.Lock()
	q := remaining[s.rng.Intn(len(remaining))]
	s.rngMu.Unlock()

	return q, len(all), nil
}
