package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Broadcaster relays engine events back over the transport. The hub
// implements it; tests substitute a recorder.
type Broadcaster interface {
	BroadcastToRoom(code string, eventType string, payload any)
	SendToClient(c *Client, eventType string, payload any)
}

// BattleConfig carries the engine tunables.
type BattleConfig struct {
	RoundDuration     time.Duration
	DisconnectGrace   time.Duration
	PointsPerQuestion int
	RaceWinPoints     int
	PodiumPrizes      [3]int
	TopN              int
}

func DefaultBattleConfig() BattleConfig {
	return BattleConfig{
		RoundDuration:     20 * time.Second,
		DisconnectGrace:   30 * time.Second,
		PointsPerQuestion: 100,
		RaceWinPoints:     100,
		PodiumPrizes:      [3]int{100, 50, 25},
		TopN:              5,
	}
}

// BattleService is the single entry point for battle events. It resolves
// the room through the registry, lets the room's state machine apply the
// transition and broadcasts the outcome. Room mutation is serialized by
// the room's own mutex; the service itself holds no per-room state.
type BattleService struct {
	registry    *Registry
	selector    *Selector
	bridge      *ScoringBridge
	cfg         BattleConfig
	logger      *slog.Logger
	broadcaster Broadcaster
}

func NewBattleService(registry *Registry, selector *Selector, bridge *ScoringBridge, cfg BattleConfig, logger *slog.Logger) *BattleService {
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = 20 * time.Second
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &BattleService{
		registry: registry,
		selector: selector,
		bridge:   bridge,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetBroadcaster wires the transport in. Called by NewHub.
func (s *BattleService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// CreateRoom registers a room and binds the connection as its owner.
func (s *BattleService) CreateRoom(c *Client, req CreateRoomRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("owner_id is required: %w", ErrInvalidState)
	}

	room, err := s.registry.Create(req.OwnerID, req.Name, req.CustomCode, PolicyFromName(req.Policy))
	if err != nil {
		return err
	}

	room.AttachOwner(c)
	c.bind(room.Code, req.OwnerID, req.Name, true)
	s.logger.Info("room created", "code", room.Code, "owner_id", req.OwnerID, "policy", room.PolicyName())

	s.emitTo(c, EvtRoomCreated, map[string]any{
		"code":   room.Code,
		"name":   room.Name,
		"policy": room.PolicyName(),
	})
	return nil
}

// JoinRoom adds the caller to the roster, or swaps their connection if
// the identity already joined before. Everyone in the room gets the
// updated roster.
func (s *BattleService) JoinRoom(c *Client, req JoinRoomRequest) error {
	if req.DisplayName == "" {
		return fmt.Errorf("display_name is required: %w", ErrInvalidState)
	}

	room, err := s.registry.Get(req.Code)
	if err != nil {
		return err
	}

	identity := req.StudentID
	if identity == "" {
		identity = req.DisplayName
	}

	rejoined, err := room.Join(identity, req.DisplayName, c)
	if err != nil {
		return err
	}

	c.bind(room.Code, identity, req.DisplayName, false)
	s.logger.Info("player joined", "code", room.Code, "identity", identity, "rejoined", rejoined)

	s.emit(room.Code, EvtRoomUpdate, map[string]any{
		"players": room.Players(),
		"status":  room.Status(),
	})
	return nil
}

// StartRound is owner-only: rotates in an unused question, opens the
// round and arms the versioned timer. An exhausted subject is reported to
// the owner, never broadcast as a question.
func (s *BattleService) StartRound(ctx context.Context, c *Client, req StartRoundRequest) error {
	room, err := s.registry.Get(req.Code)
	if err != nil {
		return err
	}
	if c.Identity() != room.OwnerID {
		return fmt.Errorf("only the room owner can start a round: %w", ErrForbidden)
	}

	room.SetSubject(req.SubjectID)

	question, total, err := s.selector.Next(ctx, room)
	if err != nil {
		return err
	}

	err = room.StartRound(question, total, s.cfg.RoundDuration, func(version uint64) {
		s.handleRoundTimeout(room, version)
	})
	if err != nil {
		return err
	}

	snap := room.Snapshot()
	s.logger.Info("round started",
		"code", room.Code, "question_id", question.ID,
		"question_number", snap.QuestionNumber, "total_questions", snap.TotalQuestions)

	s.emit(room.Code, EvtNewQuestion, map[string]any{
		"question":        StripQuestion(question),
		"duration":        int(s.cfg.RoundDuration.Seconds()),
		"question_number": snap.QuestionNumber,
		"total_questions": snap.TotalQuestions,
	})
	return nil
}

// SubmitInteraction arbitrates a press. The room assigns the order and
// decides closure atomically; scoring happens afterwards, asynchronously,
// so ledger latency can never reopen an arbitration.
func (s *BattleService) SubmitInteraction(c *Client, req SubmitRequest) error {
	room, err := s.registry.Get(req.Code)
	if err != nil {
		return err
	}

	identity := c.Identity()
	if identity == "" {
		return fmt.Errorf("connection has not joined a room: %w", ErrInvalidState)
	}

	res, err := room.Submit(identity, req.OptionID)
	if err != nil {
		return err
	}

	rec := res.Record
	s.emit(room.Code, EvtPlayerPressed, map[string]any{
		"player_id":   rec.PlayerID,
		"player_name": rec.PlayerName,
		"order":       rec.Order,
		"is_first":    rec.Order == 1,
	})

	if res.Closed {
		s.emitRoundResult(room, res.Ranking, "round-complete")
	}

	if room.policy.ScoreOnAccept(rec) {
		go s.scoreInteraction(room, rec, res.SubjectID)
	}
	return nil
}

// TimeUp is the external timeout signal: owner-only forced close.
func (s *BattleService) TimeUp(c *Client, req TimeUpRequest) error {
	room, err := s.registry.Get(req.Code)
	if err != nil {
		return err
	}
	if c.Identity() != room.OwnerID {
		return fmt.Errorf("only the room owner can force a round to close: %w", ErrForbidden)
	}

	ranking, err := room.CloseRound()
	if err != nil {
		return err
	}
	s.emitRoundResult(room, ranking, "time-up")
	return nil
}

// EndBattle finishes the room, emits final standings, hands out podium
// prizes and removes the room from the registry.
func (s *BattleService) EndBattle(c *Client, req EndBattleRequest) error {
	room, err := s.registry.Get(req.Code)
	if err != nil {
		return err
	}
	if c.Identity() != room.OwnerID {
		return fmt.Errorf("only the room owner can end the battle: %w", ErrForbidden)
	}

	standings, err := room.EndBattle()
	if err != nil {
		return err
	}

	top := standings
	if len(top) > s.cfg.TopN {
		top = top[:s.cfg.TopN]
	}
	s.emit(room.Code, EvtGameOver, map[string]any{"ranking": top})
	s.logger.Info("battle ended", "code", room.Code, "players", len(standings))

	subjectID := room.Subject()
	if subjectID != "" {
		go s.awardPodium(room.Code, subjectID, standings)
	}

	s.registry.Destroy(room.Code)
	return nil
}

// Reconnect rebuilds a caller's view in one message. An owner gets the
// snapshot as-is; a player additionally has their stale connection
// reference swapped for this one, keeping score and flags.
func (s *BattleService) Reconnect(c *Client, req ReconnectRequest) error {
	room, err := s.registry.Get(req.Code)
	if err != nil {
		return err
	}

	switch {
	case req.Identity == room.OwnerID:
		room.AttachOwner(c)
		c.bind(room.Code, req.Identity, "", true)
	case room.AttachConn(req.Identity, c):
		c.bind(room.Code, req.Identity, "", false)
	default:
		return fmt.Errorf("identity %q is not part of room %s: %w", req.Identity, room.Code, ErrNotFound)
	}

	s.logger.Info("reconnected", "code", room.Code, "identity", req.Identity)
	s.emitTo(c, EvtReconnectSuccess, room.Snapshot())
	return nil
}

// HandleDisconnect detaches the connection from its player or owner and
// schedules a grace-period check: players are evicted, a room left
// without players or owner is destroyed. A stale disconnect for a caller
// who already reconnected does not match any connection reference and is
// a no-op.
func (s *BattleService) HandleDisconnect(c *Client) {
	code := c.RoomCode()
	if code == "" {
		return
	}
	room, err := s.registry.Get(code)
	if err != nil {
		return
	}

	identity, matched := room.DetachConn(c)
	if !matched {
		return
	}
	s.logger.Info("player disconnected", "code", code, "identity", identity)

	grace := s.cfg.DisconnectGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	time.AfterFunc(grace, func() { s.evictIfStillGone(code, identity) })
}

// Snapshot exposes a room's state for the HTTP surface.
func (s *BattleService) Snapshot(code string) (RoomSnapshot, error) {
	room, err := s.registry.Get(code)
	if err != nil {
		return RoomSnapshot{}, err
	}
	return room.Snapshot(), nil
}

func (s *BattleService) evictIfStillGone(code, identity string) {
	room, err := s.registry.Get(code)
	if err != nil {
		return
	}

	if identity == room.OwnerID {
		if room.Abandoned() && room.Status() != StatusFinished {
			s.logger.Info("room abandoned by owner, destroying", "code", code)
			s.registry.Destroy(code)
		}
		return
	}

	removed, remaining := room.Evict(identity)
	if !removed {
		return
	}
	s.logger.Info("player evicted after grace period", "code", code, "identity", identity)

	s.emit(code, EvtRoomUpdate, map[string]any{
		"players": room.Players(),
		"status":  room.Status(),
	})
	if remaining == 0 && room.Status() != StatusFinished {
		s.logger.Info("room empty, destroying", "code", code)
		s.registry.Destroy(code)
	}
}

// handleRoundTimeout fires from the round timer. The version check makes
// a late callback after a press or manual close a no-op.
func (s *BattleService) handleRoundTimeout(room *Room, version uint64) {
	ranking, closed := room.CloseIfVersion(version)
	if !closed {
		return
	}
	s.logger.Info("round timed out", "code", room.Code)
	s.emitRoundResult(room, ranking, "time-up")
}

// scoreInteraction runs after the arbitration step is already committed.
// With an option id the ledger validates correctness and credits; a bare
// press in race mode is a direct reason-tagged award for the winner.
// Failures surface as a scoring-error event and are otherwise ignored:
// the round outcome stands either way.
func (s *BattleService) scoreInteraction(room *Room, rec PressRecord, subjectID string) {
	ctx := context.Background()
	amount := s.cfg.PointsPerQuestion
	if room.policy.Name() == "race" {
		amount = s.cfg.RaceWinPoints
	}

	if rec.OptionID == "" {
		if subjectID == "" {
			return
		}
		balance, err := s.bridge.Award(ctx, rec.PlayerID, subjectID, amount, "Battle round win")
		if err != nil {
			s.emitScoringError(room.Code, rec.PlayerID, err)
			return
		}
		score, _ := room.ApplyScore(rec.PlayerID, amount, true)
		s.emit(room.Code, EvtBattleWin, map[string]any{
			"winner_id":   rec.PlayerID,
			"winner_name": rec.PlayerName,
			"points":      amount,
			"subject_id":  subjectID,
		})
		s.emit(room.Code, EvtScoreUpdate, map[string]any{
			"player_id":     rec.PlayerID,
			"points_earned": amount,
			"score":         score,
			"total_points":  balance,
		})
		return
	}

	res, err := s.bridge.ValidateAndAward(ctx, rec.PlayerID, rec.OptionID, subjectID, amount)
	if err != nil {
		s.emitScoringError(room.Code, rec.PlayerID, err)
		return
	}

	if !res.Accepted {
		room.ApplyScore(rec.PlayerID, 0, false)
		s.emit(room.Code, EvtScoreUpdate, map[string]any{
			"player_id":     rec.PlayerID,
			"points_earned": 0,
		})
		return
	}

	score, _ := room.ApplyScore(rec.PlayerID, amount, true)
	s.emit(room.Code, EvtScoreUpdate, map[string]any{
		"player_id":     rec.PlayerID,
		"points_earned": amount,
		"score":         score,
		"total_points":  res.NewBalance,
	})
	if room.policy.Name() == "race" {
		s.emit(room.Code, EvtBattleWin, map[string]any{
			"winner_id":   rec.PlayerID,
			"winner_name": rec.PlayerName,
			"points":      amount,
			"subject_id":  subjectID,
		})
	}
}

// awardPodium credits the top three through the ledger with an audit
// reason. The room is already gone by the time this runs; failures are
// logged and the standings stand.
func (s *BattleService) awardPodium(code, subjectID string, standings []Standing) {
	ctx := context.Background()
	for i, st := range standings {
		if i >= len(s.cfg.PodiumPrizes) {
			break
		}
		amount := s.cfg.PodiumPrizes[i]
		if amount <= 0 {
			continue
		}
		reason := fmt.Sprintf("Battle prize: %s place", ordinal(i+1))
		if _, err := s.bridge.Award(ctx, st.PlayerID, subjectID, amount, reason); err != nil {
			s.logger.Error("podium award failed",
				"code", code, "identity", st.PlayerID, "place", i+1, "error", err)
		}
	}
}

func (s *BattleService) emitRoundResult(room *Room, ranking []Standing, reason string) {
	s.emit(room.Code, EvtRoundResult, map[string]any{
		"reason":    reason,
		"ranking":   ranking,
		"press_log": room.PressLog(),
	})
}

func (s *BattleService) emitScoringError(code, identity string, err error) {
	s.logger.Error("scoring failed", "code", code, "identity", identity, "error", err)
	s.emit(code, EvtScoringError, map[string]any{
		"player_id": identity,
		"code":      ErrorCode(err),
	})
}

func (s *BattleService) emit(code, eventType string, payload any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastToRoom(code, eventType, payload)
}

func (s *BattleService) emitTo(c *Client, eventType string, payload any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.SendToClient(c, eventType, payload)
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
