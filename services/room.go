package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

type RoomStatus string

// Room lifecycle: waiting -> active -> results -> {active, finished}.
// Finished is terminal.
const (
	StatusWaiting  RoomStatus = "waiting"
	StatusActive   RoomStatus = "active"
	StatusResults  RoomStatus = "results"
	StatusFinished RoomStatus = "finished"
)

// Player is a logical participant. The connection reference is swapped on
// rejoin/reconnect; score and per-round flags survive the swap.
type Player struct {
	ID                string
	Name              string
	Score             int
	HasAnswered       bool
	LastAnswerCorrect bool
	LastPointsEarned  int
	JoinedAt          time.Time

	conn *Client
}

// PressRecord is one accepted interaction within a round. Order is 1-based
// and strictly increasing; the log is cleared when a round starts.
type PressRecord struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	OptionID   string    `json:"option_id,omitempty"`
	Order      int       `json:"order"`
	PressedAt  time.Time `json:"pressed_at"`
}

type Standing struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

type PlayerView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Score       int    `json:"score"`
	HasAnswered bool   `json:"has_answered"`
	Connected   bool   `json:"connected"`
}

// QuestionView is the client-safe projection of a question: no
// correctness flags.
type QuestionView struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Options []OptionView `json:"options"`
}

type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RoomSnapshot is the single-message state a reconnecting client needs to
// resume without replaying history.
type RoomSnapshot struct {
	Code            string        `json:"code"`
	Name            string        `json:"name"`
	OwnerID         string        `json:"owner_id"`
	Status          RoomStatus    `json:"status"`
	Policy          string        `json:"policy"`
	SubjectID       string        `json:"subject_id,omitempty"`
	Players         []PlayerView  `json:"players"`
	CurrentQuestion *QuestionView `json:"current_question,omitempty"`
	RoundOpen       bool          `json:"round_open"`
	QuestionNumber  int           `json:"question_number"`
	TotalQuestions  int           `json:"total_questions"`
	UsedQuestions   int           `json:"used_questions"`
	Ranking         []Standing    `json:"ranking"`
}

// SubmitResult is what Submit hands back to the gateway: the accepted
// record, and the closing ranking when this submission closed the round.
type SubmitResult struct {
	Record    PressRecord
	SubjectID string
	Closed    bool
	Ranking   []Standing
}

// Room owns one battle session. All mutation goes through methods that
// take the room mutex, so arbitration and transitions are serialized per
// room while distinct rooms run fully concurrently.
type Room struct {
	Code      string
	Name      string
	OwnerID   string
	CreatedAt time.Time

	// policy is fixed at creation and never reassigned; reads need no
	// lock.
	policy RoundPolicy

	mu              sync.Mutex
	status          RoomStatus
	subjectID       string
	players         []*Player
	ownerConn       *Client
	currentQuestion *Question
	usedQuestionIDs map[string]struct{}
	pressLog        []PressRecord
	roundOpen       bool
	roundNumber     int
	totalQuestions  int

	// timerVersion invalidates round timers: it is bumped on every round
	// start and close, and a timeout callback carrying an older version
	// is a no-op.
	timerVersion uint64
	roundTimer   *time.Timer
}

func NewRoom(code, ownerID, name string, policy RoundPolicy) *Room {
	return &Room{
		Code:            code,
		Name:            name,
		OwnerID:         ownerID,
		CreatedAt:       time.Now(),
		status:          StatusWaiting,
		policy:          policy,
		usedQuestionIDs: make(map[string]struct{}),
	}
}

func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Room) Subject() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subjectID
}

func (r *Room) PolicyName() string { return r.policy.Name() }

// SetSubject switches the active subject. Changing subject resets the
// question rotation.
func (r *Room) SetSubject(subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subjectID == "" || subjectID == r.subjectID {
		return
	}
	r.subjectID = subjectID
	r.usedQuestionIDs = make(map[string]struct{})
	r.totalQuestions = 0
}

// Join adds a player, or swaps the connection reference if the identity
// is already in the roster. Score and per-round flags are preserved on
// rejoin.
func (r *Room) Join(identity, name string, conn *Client) (rejoined bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusFinished {
		return false, fmt.Errorf("battle already finished: %w", ErrInvalidState)
	}

	if p := r.findLocked(identity); p != nil {
		p.conn = conn
		if name != "" {
			p.Name = name
		}
		return true, nil
	}

	r.players = append(r.players, &Player{
		ID:       identity,
		Name:     name,
		JoinedAt: time.Now(),
		conn:     conn,
	})
	return false, nil
}

// AttachConn swaps the connection reference for an existing player
// without touching score or flags. Used by the reconnection handler.
func (r *Room) AttachConn(identity string, conn *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(identity)
	if p == nil {
		return false
	}
	p.conn = conn
	return true
}

// AttachOwner records the owner's live connection, so a room whose owner
// left before anyone joined can be detected as abandoned.
func (r *Room) AttachOwner(conn *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ownerConn = conn
}

// Abandoned reports a room with no players and no owner connection.
func (r *Room) Abandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerConn == nil && len(r.players) == 0
}

// DetachConn clears the connection reference held by conn, whether it
// belongs to a player or the owner. A stale disconnect for a caller who
// already reconnected under a new connection does not match and is
// reported as such.
func (r *Room) DetachConn(conn *Client) (identity string, matched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn != nil && r.ownerConn == conn {
		r.ownerConn = nil
		return r.OwnerID, true
	}
	for _, p := range r.players {
		if p.conn == conn {
			p.conn = nil
			return p.ID, true
		}
	}
	return "", false
}

// Evict removes a player only if they are still disconnected. Returns
// whether the player was removed and how many players remain.
func (r *Room) Evict(identity string) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.players {
		if p.ID == identity {
			if p.conn != nil {
				return false, len(r.players)
			}
			r.players = append(r.players[:i], r.players[i+1:]...)
			return true, len(r.players)
		}
	}
	return false, len(r.players)
}

func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// UnusedOf filters out questions whose ids were already served for the
// current subject.
func (r *Room) UnusedOf(questions []Question) []Question {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Filter(questions, func(q Question, _ int) bool {
		_, used := r.usedQuestionIDs[q.ID]
		return !used
	})
}

// StartRound transitions waiting/results -> active: sets the current
// question, records it as used, resets per-round flags, clears the press
// log and opens the round. A positive duration arms a versioned timer;
// onTimeout receives the version so a late fire can be recognized.
func (r *Room) StartRound(q Question, total int, duration time.Duration, onTimeout func(version uint64)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusWaiting && r.status != StatusResults {
		return fmt.Errorf("cannot start a round from status %q: %w", r.status, ErrInvalidState)
	}

	r.status = StatusActive
	r.currentQuestion = &q
	r.usedQuestionIDs[q.ID] = struct{}{}
	r.pressLog = nil
	r.roundOpen = true
	r.roundNumber++
	if total > 0 {
		r.totalQuestions = total
	}
	for _, p := range r.players {
		p.HasAnswered = false
		p.LastAnswerCorrect = false
		p.LastPointsEarned = 0
	}

	r.timerVersion++
	version := r.timerVersion
	if r.roundTimer != nil {
		r.roundTimer.Stop()
	}
	if duration > 0 && onTimeout != nil {
		r.roundTimer = time.AfterFunc(duration, func() { onTimeout(version) })
	}
	return nil
}

// Submit records an interaction. The append, the order assignment and the
// round-closing decision happen under one lock acquisition, so no two
// interactions share an order and nothing is accepted after the closing
// one. Rejections are returned as errors, never dropped.
func (r *Room) Submit(identity, optionID string) (SubmitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.roundOpen {
		return SubmitResult{}, fmt.Errorf("round is not open: %w", ErrInvalidState)
	}

	p := r.findLocked(identity)
	if p == nil {
		return SubmitResult{}, fmt.Errorf("player %q is not in room %s: %w", identity, r.Code, ErrNotFound)
	}
	if p.HasAnswered {
		return SubmitResult{}, fmt.Errorf("player %q already answered this round: %w", identity, ErrInvalidState)
	}

	rec := PressRecord{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		OptionID:   optionID,
		Order:      len(r.pressLog) + 1,
		PressedAt:  time.Now(),
	}
	r.pressLog = append(r.pressLog, rec)
	p.HasAnswered = true

	res := SubmitResult{Record: rec, SubjectID: r.subjectID}
	if r.policy.CloseOnAccept(r, rec) {
		r.closeLocked()
		res.Closed = true
		res.Ranking = r.rankingLocked()
	}
	return res, nil
}

// CloseRound forces active -> results, for the time-up event.
func (r *Room) CloseRound() ([]Standing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusActive {
		return nil, fmt.Errorf("cannot close a round from status %q: %w", r.status, ErrInvalidState)
	}
	r.closeLocked()
	return r.rankingLocked(), nil
}

// CloseIfVersion closes the round only if the given timer version is
// still current. Timeout callbacks that lost the race against a press or
// a manual close land here and do nothing.
func (r *Room) CloseIfVersion(version uint64) ([]Standing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version != r.timerVersion || !r.roundOpen {
		return nil, false
	}
	r.closeLocked()
	return r.rankingLocked(), true
}

// EndBattle transitions to the terminal finished state and returns the
// final standings. The room is eligible for destruction afterwards.
func (r *Room) EndBattle() ([]Standing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusFinished {
		return nil, fmt.Errorf("battle already finished: %w", ErrInvalidState)
	}
	if r.roundOpen {
		r.closeLocked()
	}
	r.status = StatusFinished
	return r.rankingLocked(), nil
}

// ApplyScore credits points to a player and updates their per-round
// outcome flags. Called when the scoring ledger confirms an award, which
// may be after the round already closed.
func (r *Room) ApplyScore(identity string, points int, correct bool) (newScore int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(identity)
	if p == nil {
		return 0, false
	}
	p.Score += points
	p.LastAnswerCorrect = correct
	p.LastPointsEarned = points
	return p.Score, true
}

func (r *Room) Ranking() []Standing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rankingLocked()
}

func (r *Room) Players() []PlayerView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playersLocked()
}

func (r *Room) PressLog() []PressRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PressRecord, len(r.pressLog))
	copy(out, r.pressLog)
	return out
}

func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RoomSnapshot{
		Code:           r.Code,
		Name:           r.Name,
		OwnerID:        r.OwnerID,
		Status:         r.status,
		Policy:         r.policy.Name(),
		SubjectID:      r.subjectID,
		Players:        r.playersLocked(),
		RoundOpen:      r.roundOpen,
		QuestionNumber: r.roundNumber,
		TotalQuestions: r.totalQuestions,
		UsedQuestions:  len(r.usedQuestionIDs),
		Ranking:        r.rankingLocked(),
	}
	if r.currentQuestion != nil {
		v := StripQuestion(*r.currentQuestion)
		snap.CurrentQuestion = &v
	}
	return snap
}

// StripQuestion drops correctness flags before a question leaves the
// server.
func StripQuestion(q Question) QuestionView {
	return QuestionView{
		ID:   q.ID,
		Text: q.Text,
		Options: lo.Map(q.Options, func(o Option, _ int) OptionView {
			return OptionView{ID: o.ID, Text: o.Text}
		}),
	}
}

func (r *Room) findLocked(identity string) *Player {
	for _, p := range r.players {
		if p.ID == identity {
			return p
		}
	}
	return nil
}

func (r *Room) allAnsweredLocked() bool {
	if len(r.players) == 0 {
		return false
	}
	return lo.EveryBy(r.players, func(p *Player) bool { return p.HasAnswered })
}

// closeLocked stops the round synchronously: later submissions are
// rejected before any scoring call is even issued.
func (r *Room) closeLocked() {
	r.roundOpen = false
	r.status = StatusResults
	r.timerVersion++
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

// rankingLocked sorts score-descending; the stable sort keeps join order
// as the tie-break.
func (r *Room) rankingLocked() []Standing {
	standings := make([]Standing, 0, len(r.players))
	for _, p := range r.players {
		standings = append(standings, Standing{PlayerID: p.ID, Name: p.Name, Score: p.Score})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}

func (r *Room) playersLocked() []PlayerView {
	return lo.Map(r.players, func(p *Player, _ int) PlayerView {
		return PlayerView{
			ID:          p.ID,
			Name:        p.Name,
			Score:       p.Score,
			HasAnswered: p.HasAnswered,
			Connected:   p.conn != nil,
		}
	})
}
