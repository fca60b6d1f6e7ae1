package model

import "time"

type SessionStatus string

const (
	StatusWaiting    SessionStatus = "WAITING"
	StatusStarting   SessionStatus = "STARTING"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusFinished   SessionStatus = "FINISHED"
)

type FlowState string

const (
	AwaitingHandPlay  FlowState = "AWAITING_HAND_PLAY"
	AwaitingSelection FlowState = "AWAITING_SELECTION"
	AwaitingDecision  FlowState = "AWAITING_DECISION"
)

type RoundOutcome string

const (
	RoundScored    RoundOutcome = "SCORED"
	RoundDrawn     RoundOutcome = "DRAWN"
	RoundForfeited RoundOutcome = "FORFEITED"
)

type SelectionSource string

const (
	SelectionFromHand SelectionSource = "hand"
	SelectionFromDraw SelectionSource = "draw"
)

type Participant struct {
	ID                   string `json:"id"`
	Nickname             string `json:"nickname"`
	IsAI                 bool   `json:"isAi"`
	Disconnected         bool   `json:"disconnected"`
	Left                 bool   `json:"left"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

// PendingSelection holds the card whose match against the field was
// ambiguous, the side it originated from, and the legal targets. Prior keeps
// the already-resolved hand play when the ambiguity came from the draw, so
// the turn summary stays complete across the suspension.
type PendingSelection struct {
	Card       Card            `json:"card"`
	Source     SelectionSource `json:"source"`
	Candidates []Card          `json:"candidates"`
	Prior      *CardMove       `json:"prior,omitempty"`
}

// PendingDecision holds the newly formed combinations awaiting the koi-koi
// continue/stop choice.
type PendingDecision struct {
	NewYaku []YakuResult `json:"newYaku"`
	Score   int          `json:"score"`
}

type YakuResult struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Round is one hand of play. Version mirrors Session.StateVersion at the
// last accepted mutation touching this round.
type Round struct {
	Number           int                     `json:"number"`
	FlowState        FlowState               `json:"flowState"`
	ActivePlayerID   string                  `json:"activePlayerId"`
	Version          int64                   `json:"version"`
	Multiplier       int                     `json:"multiplier"`
	Hands            map[string][]Card       `json:"hands"`
	CapturePiles     map[string][]Card       `json:"capturePiles"`
	Field            []Card                  `json:"field"`
	DrawPile         []Card                  `json:"drawPile"`
	Yaku             map[string][]YakuResult `json:"yaku"`
	PendingSelection *PendingSelection       `json:"pendingSelection,omitempty"`
	PendingDecision  *PendingDecision        `json:"pendingDecision,omitempty"`
}

// Session is the authoritative in-memory state of one match. It is owned by
// the session store and mutated only by whole-object replacement; every
// accepted mutation bumps StateVersion by exactly one.
type Session struct {
	ID           string         `json:"id"`
	RoomType     string         `json:"roomType"`
	Status       SessionStatus  `json:"status"`
	Participants []Participant  `json:"participants"`
	Scores       map[string]int `json:"scores"`
	TotalRounds  int            `json:"totalRounds"`
	RoundsPlayed int            `json:"roundsPlayed"`
	Round        *Round         `json:"round,omitempty"`
	NextStarter  string         `json:"nextStarter,omitempty"`
	StateVersion int64          `json:"stateVersion"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (s *Session) Participant(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

func (s *Session) Opponent(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID != id {
			return &s.Participants[i]
		}
	}
	return nil
}

func (s *Session) HasParticipant(id string) bool {
	return s.Participant(id) != nil
}

// PendingConfirmations lists participants flagged by the idle timeout;
// confirming clears the flag, so flagged means unconfirmed.
func (s *Session) PendingConfirmations() []string {
	var ids []string
	for _, p := range s.Participants {
		if p.RequiresConfirmation {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Clone deep-copies the session so callers never share mutable state with
// the store.
func (s *Session) Clone() *Session {
	out := *s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Scores = make(map[string]int, len(s.Scores))
	for k, v := range s.Scores {
		out.Scores[k] = v
	}
	if s.Round != nil {
		out.Round = s.Round.Clone()
	}
	return &out
}

func (r *Round) Clone() *Round {
	out := *r
	out.Hands = cloneCardMap(r.Hands)
	out.CapturePiles = cloneCardMap(r.CapturePiles)
	out.Field = append([]Card(nil), r.Field...)
	out.DrawPile = append([]Card(nil), r.DrawPile...)
	out.Yaku = make(map[string][]YakuResult, len(r.Yaku))
	for k, v := range r.Yaku {
		out.Yaku[k] = append([]YakuResult(nil), v...)
	}
	if r.PendingSelection != nil {
		sel := *r.PendingSelection
		sel.Candidates = append([]Card(nil), r.PendingSelection.Candidates...)
		if sel.Prior != nil {
			prior := *sel.Prior
			prior.Captured = append([]Card(nil), sel.Prior.Captured...)
			sel.Prior = &prior
		}
		out.PendingSelection = &sel
	}
	if r.PendingDecision != nil {
		dec := *r.PendingDecision
		dec.NewYaku = append([]YakuResult(nil), r.PendingDecision.NewYaku...)
		out.PendingDecision = &dec
	}
	return &out
}

func cloneCardMap(in map[string][]Card) map[string][]Card {
	out := make(map[string][]Card, len(in))
	for k, v := range in {
		out[k] = append([]Card(nil), v...)
	}
	return out
}
