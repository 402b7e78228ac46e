package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBank struct {
	mu        sync.Mutex
	bySubject map[string][]Question
	err       error
	calls     int
}

func (f *fakeBank) GetAll(_ context.Context, subjectID string) ([]Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bySubject[subjectID], nil
}

func TestSelectorNeverRepeatsWithinSubject(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1"), question("q2"), question("q3")},
	}}
	sel := NewSelector(bank, rand.New(rand.NewSource(1)))

	room := NewRoom("AB12", "teacher-1", "", QuizPolicy{})
	room.SetSubject("math")

	served := map[string]bool{}
	for i := 0; i < 3; i++ {
		q, total, err := sel.Next(context.Background(), room)
		require.NoError(t, err)
		require.Equal(t, 3, total)
		require.False(t, served[q.ID], "question %s served twice", q.ID)
		served[q.ID] = true

		require.NoError(t, room.StartRound(q, total, 0, nil))
		_, err = room.CloseRound()
		require.NoError(t, err)
	}

	_, _, err := sel.Next(context.Background(), room)
	require.ErrorIs(t, err, ErrExhausted)

	// Exhausted stays exhausted, it never loops or errors differently.
	_, _, err = sel.Next(context.Background(), room)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestSelectorSubjectSwitchResetsRotation(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math":    {question("q1")},
		"history": {question("h1")},
	}}
	sel := NewSelector(bank, rand.New(rand.NewSource(1)))

	room := NewRoom("AB12", "teacher-1", "", QuizPolicy{})
	room.SetSubject("math")

	q, _, err := sel.Next(context.Background(), room)
	require.NoError(t, err)
	require.NoError(t, room.StartRound(q, 1, 0, nil))
	_, err = room.CloseRound()
	require.NoError(t, err)

	_, _, err = sel.Next(context.Background(), room)
	require.ErrorIs(t, err, ErrExhausted)

	room.SetSubject("history")
	q, _, err = sel.Next(context.Background(), room)
	require.NoError(t, err)
	require.Equal(t, "h1", q.ID)
}

func TestSelectorRequiresSubject(t *testing.T) {
	sel := NewSelector(&fakeBank{}, rand.New(rand.NewSource(1)))
	room := NewRoom("AB12", "teacher-1", "", QuizPolicy{})

	_, _, err := sel.Next(context.Background(), room)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSelectorWrapsBankFailures(t *testing.T) {
	bank := &fakeBank{err: errors.New("bank down")}
	sel := NewSelector(bank, rand.New(rand.NewSource(1)))
	room := NewRoom("AB12", "teacher-1", "", QuizPolicy{})
	room.SetSubject("math")

	_, _, err := sel.Next(context.Background(), room)
	require.ErrorIs(t, err, ErrUpstream)
}
