package services

import "encoding/json"

// Inbound message envelope. Payload stays raw until the dispatch switch
// knows which request type to decode.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound event envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound event types.
const (
	EvtCreateRoom = "create-room"
	EvtJoinRoom   = "join-room"
	EvtStartRound = "start-round"
	EvtSubmit     = "submit-interaction"
	EvtTimeUp     = "time-up"
	EvtEndBattle  = "end-battle"
	EvtReconnect  = "reconnect"
	EvtPing       = "ping"
)

// Outbound event types.
const (
	EvtRoomCreated        = "room-created"
	EvtRoomUpdate         = "room-update"
	EvtNewQuestion        = "new-question"
	EvtNoMoreQuestions    = "no-more-questions"
	EvtPlayerPressed      = "player-pressed"
	EvtRoundResult        = "round-result"
	EvtSubmissionRejected = "submission-rejected"
	EvtScoreUpdate        = "score-update"
	EvtBattleWin          = "battle-win"
	EvtScoringError       = "scoring-error"
	EvtGameOver           = "game-over"
	EvtReconnectSuccess   = "reconnect-success"
	EvtError              = "error"
	EvtPong               = "pong"
)

type CreateRoomRequest struct {
	OwnerID    string `json:"owner_id"`
	Name       string `json:"name,omitempty"`
	CustomCode string `json:"custom_code,omitempty"`
	Policy     string `json:"policy,omitempty"`
}

type JoinRoomRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	StudentID   string `json:"student_id,omitempty"`
}

type StartRoundRequest struct {
	Code      string `json:"code"`
	SubjectID string `json:"subject_id,omitempty"`
}

type SubmitRequest struct {
	Code     string `json:"code"`
	OptionID string `json:"option_id,omitempty"`
}

type TimeUpRequest struct {
	Code string `json:"code"`
}

type EndBattleRequest struct {
	Code string `json:"code"`
}

type ReconnectRequest struct {
	Code     string `json:"code"`
	Identity string `json:"identity"`
}

// ErrorPayload is sent to the originating connection when a request is
// rejected. Rejections never mutate room state.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
