package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type awardCall struct {
	identity  string
	subjectID string
	amount    int
	reason    string
}

type fakeLedger struct {
	mu           sync.Mutex
	failValidate bool
	failAward    bool
	balances     map[string]int
	awards       []awardCall
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int{}}
}

// Options ending in "-a" are the correct ones, matching question().
func (f *fakeLedger) ValidateAndAward(_ context.Context, identity, optionID, _ string, amount int) (AwardResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failValidate {
		return AwardResult{}, errors.New("ledger down")
	}
	if len(optionID) < 2 || optionID[len(optionID)-2:] != "-a" {
		return AwardResult{}, nil
	}
	f.balances[identity] += amount
	return AwardResult{Accepted: true, NewBalance: f.balances[identity]}, nil
}

func (f *fakeLedger) Award(_ context.Context, identity, subjectID string, amount int, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAward {
		return 0, errors.New("ledger down")
	}
	f.balances[identity] += amount
	f.awards = append(f.awards, awardCall{identity, subjectID, amount, reason})
	return f.balances[identity], nil
}

func (f *fakeLedger) awardCalls() []awardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]awardCall, len(f.awards))
	copy(out, f.awards)
	return out
}

type recorded struct {
	Code    string
	Type    string
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) BroadcastToRoom(code string, eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{code, eventType, payload})
}

func (r *recorder) SendToClient(_ *Client, eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{"", eventType, payload})
}

func (r *recorder) ofType(eventType string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(eventType string) int { return len(r.ofType(eventType)) }

func newTestService(bank QuestionBankPort, ledger ScoringLedgerPort, cfg BattleConfig) (*BattleService, *recorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := NewRegistry(rand.New(rand.NewSource(1)))
	selector := NewSelector(bank, rand.New(rand.NewSource(1)))
	bridge := NewScoringBridge(ledger, logger, time.Second)

	svc := NewBattleService(registry, selector, bridge, cfg, logger)
	rec := &recorder{}
	svc.SetBroadcaster(rec)
	return svc, rec
}

func quizConfig() BattleConfig {
	cfg := DefaultBattleConfig()
	cfg.RoundDuration = time.Minute
	cfg.DisconnectGrace = time.Minute
	return cfg
}

// Scenario: three students in room AB12 play a three-question subject to
// exhaustion; every round rotates to a fresh question and the ranking is
// score-descending.
func TestQuizBattlePlaysSubjectToExhaustion(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1"), question("q2"), question("q3")},
	}}
	ledger := newFakeLedger()
	svc, rec := newTestService(bank, ledger, quizConfig())

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", Name: "Math battle", CustomCode: "AB12", Policy: "quiz",
	}))

	students := []*Client{{}, {}, {}}
	names := []string{"Ana", "Beto", "Carla"}
	for i, c := range students {
		require.NoError(t, svc.JoinRoom(c, JoinRoomRequest{Code: "AB12", DisplayName: names[i]}))
	}
	require.Equal(t, 3, rec.count(EvtRoomUpdate))

	served := map[string]bool{}
	for round := 1; round <= 3; round++ {
		require.NoError(t, svc.StartRound(context.Background(), owner, StartRoundRequest{
			Code: "AB12", SubjectID: "math",
		}))

		questions := rec.ofType(EvtNewQuestion)
		require.Len(t, questions, round)
		payload := questions[round-1].Payload.(map[string]any)
		qv := payload["question"].(QuestionView)
		require.False(t, served[qv.ID], "question %s repeated", qv.ID)
		served[qv.ID] = true
		require.Equal(t, round, payload["question_number"])
		require.Equal(t, 3, payload["total_questions"])

		// Ana answers correctly, the others do not; the third answer
		// closes the round.
		answers := []string{qv.Options[0].ID, qv.Options[1].ID, qv.Options[1].ID}
		for i, c := range students {
			require.NoError(t, svc.SubmitInteraction(c, SubmitRequest{Code: "AB12", OptionID: answers[i]}))
		}
		require.Equal(t, round, rec.count(EvtRoundResult))

		// Scoring is async; wait for Ana's credit to land.
		require.Eventually(t, func() bool {
			snap, err := svc.Snapshot("AB12")
			if err != nil {
				return false
			}
			return snap.Ranking[0].Score == round*100
		}, time.Second, 5*time.Millisecond)
	}

	// Rotation is exhausted after three rounds.
	err := svc.StartRound(context.Background(), owner, StartRoundRequest{Code: "AB12", SubjectID: "math"})
	require.ErrorIs(t, err, ErrExhausted)

	snap, err := svc.Snapshot("AB12")
	require.NoError(t, err)
	require.Equal(t, "Ana", snap.Ranking[0].Name)
	require.Equal(t, 300, snap.Ranking[0].Score)
	for i := 1; i < len(snap.Ranking); i++ {
		require.GreaterOrEqual(t, snap.Ranking[i-1].Score, snap.Ranking[i].Score)
	}
}

// Scenario: race mode, three students press within the same instant.
// Exactly one wins with order 1; the others get explicit rejections.
func TestRaceBattleSingleWinnerUnderContention(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1")},
	}}
	ledger := newFakeLedger()
	cfg := quizConfig()
	svc, rec := newTestService(bank, ledger, cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "XY9Z", Policy: "race",
	}))

	students := []*Client{{}, {}, {}}
	for i, c := range students {
		require.NoError(t, svc.JoinRoom(c, JoinRoomRequest{
			Code: "XY9Z", DisplayName: []string{"Ana", "Beto", "Carla"}[i],
		}))
	}
	require.NoError(t, svc.StartRound(context.Background(), owner, StartRoundRequest{
		Code: "XY9Z", SubjectID: "math",
	}))

	errs := make(chan error, len(students))
	var wg sync.WaitGroup
	for _, c := range students {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			errs <- svc.SubmitInteraction(c, SubmitRequest{Code: "XY9Z"})
		}(c)
	}
	wg.Wait()
	close(errs)

	var accepted, rejected int
	for err := range errs {
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, ErrInvalidState)
			rejected++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 2, rejected)

	presses := rec.ofType(EvtPlayerPressed)
	require.Len(t, presses, 1)
	require.Equal(t, 1, presses[0].Payload.(map[string]any)["order"])
	require.Equal(t, 1, rec.count(EvtRoundResult))

	// The bare press is awarded through the ledger and announced.
	require.Eventually(t, func() bool {
		return rec.count(EvtBattleWin) == 1
	}, time.Second, 5*time.Millisecond)

	calls := ledger.awardCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "Battle round win", calls[0].reason)
	require.Equal(t, cfg.RaceWinPoints, calls[0].amount)
}

func TestLedgerFailureNeverBlocksRoundClosure(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1")},
	}}
	ledger := newFakeLedger()
	ledger.failValidate = true
	ledger.failAward = true
	svc, rec := newTestService(bank, ledger, quizConfig())

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12", Policy: "race",
	}))
	player := &Client{}
	require.NoError(t, svc.JoinRoom(player, JoinRoomRequest{Code: "AB12", DisplayName: "Ana"}))
	require.NoError(t, svc.StartRound(context.Background(), owner, StartRoundRequest{
		Code: "AB12", SubjectID: "math",
	}))

	require.NoError(t, svc.SubmitInteraction(player, SubmitRequest{Code: "AB12", OptionID: "q1-a"}))

	// The round closed despite the ledger being down.
	require.Equal(t, 1, rec.count(EvtRoundResult))
	snap, err := svc.Snapshot("AB12")
	require.NoError(t, err)
	require.Equal(t, StatusResults, snap.Status)

	// And the failure is surfaced explicitly.
	require.Eventually(t, func() bool {
		return rec.count(EvtScoringError) == 1
	}, time.Second, 5*time.Millisecond)

	scoring := rec.ofType(EvtScoringError)[0].Payload.(map[string]any)
	require.Equal(t, "upstream_failure", scoring["code"])
}

func TestTimeUpForcesCloseAndOwnershipIsChecked(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1")},
	}}
	svc, rec := newTestService(bank, newFakeLedger(), quizConfig())

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12", Policy: "quiz",
	}))
	player := &Client{}
	require.NoError(t, svc.JoinRoom(player, JoinRoomRequest{Code: "AB12", DisplayName: "Ana"}))
	require.NoError(t, svc.StartRound(context.Background(), owner, StartRoundRequest{
		Code: "AB12", SubjectID: "math",
	}))

	// Players cannot force the round shut.
	err := svc.TimeUp(player, TimeUpRequest{Code: "AB12"})
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.TimeUp(owner, TimeUpRequest{Code: "AB12"}))
	results := rec.ofType(EvtRoundResult)
	require.Len(t, results, 1)
	require.Equal(t, "time-up", results[0].Payload.(map[string]any)["reason"])

	// A second time-up is stale.
	err = svc.TimeUp(owner, TimeUpRequest{Code: "AB12"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestEndBattleAwardsPodiumAndDestroysRoom(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1")},
	}}
	ledger := newFakeLedger()
	cfg := quizConfig()
	svc, rec := newTestService(bank, ledger, cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12", Policy: "quiz",
	}))

	students := []*Client{{}, {}, {}}
	names := []string{"Ana", "Beto", "Carla"}
	for i, c := range students {
		require.NoError(t, svc.JoinRoom(c, JoinRoomRequest{Code: "AB12", DisplayName: names[i]}))
	}
	require.NoError(t, svc.StartRound(context.Background(), owner, StartRoundRequest{
		Code: "AB12", SubjectID: "math",
	}))

	// Non-owners cannot end the battle.
	err := svc.EndBattle(students[0], EndBattleRequest{Code: "AB12"})
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.EndBattle(owner, EndBattleRequest{Code: "AB12"}))

	over := rec.ofType(EvtGameOver)
	require.Len(t, over, 1)
	ranking := over[0].Payload.(map[string]any)["ranking"].([]Standing)
	require.Len(t, ranking, 3)

	// The room is gone.
	_, err = svc.Snapshot("AB12")
	require.ErrorIs(t, err, ErrNotFound)

	// Podium prizes land with reason-tagged awards.
	require.Eventually(t, func() bool {
		return len(ledger.awardCalls()) == 3
	}, time.Second, 5*time.Millisecond)

	calls := ledger.awardCalls()
	require.Equal(t, "Battle prize: 1st place", calls[0].reason)
	require.Equal(t, "Battle prize: 2nd place", calls[1].reason)
	require.Equal(t, "Battle prize: 3rd place", calls[2].reason)
	require.Equal(t, cfg.PodiumPrizes[0], calls[0].amount)
}

func TestReconnectReturnsSnapshotAndSwapsConnection(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{
		"math": {question("q1")},
	}}
	svc, rec := newTestService(bank, newFakeLedger(), quizConfig())

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12", Policy: "quiz",
	}))
	oldConn := &Client{}
	require.NoError(t, svc.JoinRoom(oldConn, JoinRoomRequest{Code: "AB12", DisplayName: "Ana"}))
	require.NoError(t, svc.StartRound(context.Background(), owner, StartRoundRequest{
		Code: "AB12", SubjectID: "math",
	}))

	newConn := &Client{}
	require.NoError(t, svc.Reconnect(newConn, ReconnectRequest{Code: "AB12", Identity: "Ana"}))

	snaps := rec.ofType(EvtReconnectSuccess)
	require.Len(t, snaps, 1)
	snap := snaps[0].Payload.(RoomSnapshot)
	require.Equal(t, "AB12", snap.Code)
	require.Equal(t, StatusActive, snap.Status)
	require.NotNil(t, snap.CurrentQuestion)
	require.Len(t, snap.Players, 1)

	// Owner reconnects too, same snapshot semantics.
	require.NoError(t, svc.Reconnect(&Client{}, ReconnectRequest{Code: "AB12", Identity: "teacher-1"}))
	require.Equal(t, 2, rec.count(EvtReconnectSuccess))

	// Unknown identities are rejected.
	err := svc.Reconnect(&Client{}, ReconnectRequest{Code: "AB12", Identity: "nobody"})
	require.ErrorIs(t, err, ErrNotFound)

	// The swap preserved the player: no duplicate entry.
	roomSnap, err := svc.Snapshot("AB12")
	require.NoError(t, err)
	require.Len(t, roomSnap.Players, 1)
}

func TestDisconnectEvictsAfterGraceAndDestroysEmptyRoom(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{}}
	cfg := quizConfig()
	cfg.DisconnectGrace = 20 * time.Millisecond
	svc, rec := newTestService(bank, newFakeLedger(), cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12",
	}))
	player := &Client{}
	require.NoError(t, svc.JoinRoom(player, JoinRoomRequest{Code: "AB12", DisplayName: "Ana"}))

	svc.HandleDisconnect(player)

	require.Eventually(t, func() bool {
		_, err := svc.Snapshot("AB12")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, rec.count(EvtRoomUpdate), 2)
}

func TestDisconnectSparesReconnectedPlayer(t *testing.T) {
	bank := &fakeBank{bySubject: map[string][]Question{}}
	cfg := quizConfig()
	cfg.DisconnectGrace = 20 * time.Millisecond
	svc, _ := newTestService(bank, newFakeLedger(), cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12",
	}))
	oldConn := &Client{}
	require.NoError(t, svc.JoinRoom(oldConn, JoinRoomRequest{Code: "AB12", DisplayName: "Ana"}))

	// Reconnect first, then the stale disconnect for the old socket.
	newConn := &Client{}
	require.NoError(t, svc.Reconnect(newConn, ReconnectRequest{Code: "AB12", Identity: "Ana"}))
	svc.HandleDisconnect(oldConn)

	time.Sleep(60 * time.Millisecond)
	snap, err := svc.Snapshot("AB12")
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
}

func TestOwnerDisconnectDestroysAbandonedRoom(t *testing.T) {
	cfg := quizConfig()
	cfg.DisconnectGrace = 20 * time.Millisecond
	svc, _ := newTestService(&fakeBank{}, newFakeLedger(), cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12",
	}))

	// Nobody ever joined; the owner leaving must not leak the room.
	svc.HandleDisconnect(owner)

	require.Eventually(t, func() bool {
		_, err := svc.Snapshot("AB12")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestOwnerDisconnectSparesRoomWithPlayers(t *testing.T) {
	cfg := quizConfig()
	cfg.DisconnectGrace = 20 * time.Millisecond
	svc, _ := newTestService(&fakeBank{}, newFakeLedger(), cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12",
	}))
	require.NoError(t, svc.JoinRoom(&Client{}, JoinRoomRequest{Code: "AB12", DisplayName: "Ana"}))

	svc.HandleDisconnect(owner)

	time.Sleep(60 * time.Millisecond)
	_, err := svc.Snapshot("AB12")
	require.NoError(t, err)
}

func TestOwnerReconnectBeforeGraceKeepsRoomAlive(t *testing.T) {
	cfg := quizConfig()
	cfg.DisconnectGrace = 30 * time.Millisecond
	svc, _ := newTestService(&fakeBank{}, newFakeLedger(), cfg)

	owner := &Client{}
	require.NoError(t, svc.CreateRoom(owner, CreateRoomRequest{
		OwnerID: "teacher-1", CustomCode: "AB12",
	}))

	svc.HandleDisconnect(owner)
	require.NoError(t, svc.Reconnect(&Client{}, ReconnectRequest{Code: "AB12", Identity: "teacher-1"}))

	time.Sleep(90 * time.Millisecond)
	_, err := svc.Snapshot("AB12")
	require.NoError(t, err)
}

func TestCreateRoomValidation(t *testing.T) {
	svc, _ := newTestService(&fakeBank{}, newFakeLedger(), quizConfig())

	err := svc.CreateRoom(&Client{}, CreateRoomRequest{})
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, svc.CreateRoom(&Client{}, CreateRoomRequest{OwnerID: "t1", CustomCode: "AB12"}))
	err = svc.CreateRoom(&Client{}, CreateRoomRequest{OwnerID: "t2", CustomCode: "AB12"})
	require.ErrorIs(t, err, ErrInvalidState)

	err = svc.JoinRoom(&Client{}, JoinRoomRequest{Code: "NOPE", DisplayName: "Ana"})
	require.ErrorIs(t, err, ErrNotFound)
}
