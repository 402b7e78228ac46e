package services

// RoundPolicy decides when an accepted interaction closes the round and
// which interactions are worth scoring. Policies are injected per room so
// race and quiz battles share one state machine.
//
// CloseOnAccept is called by Room.Submit with the room mutex held, as
// part of the same atomic step that assigned the press order.
type RoundPolicy interface {
	Name() string
	CloseOnAccept(r *Room, rec PressRecord) bool
	ScoreOnAccept(rec PressRecord) bool
}

// RacePolicy: the first accepted press wins and closes the round
// immediately. Only the winner is scored.
type RacePolicy struct{}

func (RacePolicy) Name() string { return "race" }

func (RacePolicy) CloseOnAccept(_ *Room, rec PressRecord) bool { return rec.Order == 1 }

func (RacePolicy) ScoreOnAccept(rec PressRecord) bool { return rec.Order == 1 }

// QuizPolicy: the round stays open until every player has answered or an
// external time-up closes it. Every answer is sent to the ledger; the
// ledger decides who actually scores.
type QuizPolicy struct{}

func (QuizPolicy) Name() string { return "quiz" }

func (QuizPolicy) CloseOnAccept(r *Room, _ PressRecord) bool { return r.allAnsweredLocked() }

func (QuizPolicy) ScoreOnAccept(PressRecord) bool { return true }

// PolicyFromName resolves a client-supplied policy name, defaulting to
// race mode.
func PolicyFromName(name string) RoundPolicy {
	if name == "quiz" {
		return QuizPolicy{}
	}
	return RacePolicy{}
}
