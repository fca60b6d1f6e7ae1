package model

type SnapshotOutcome string

const (
	SnapshotActive   SnapshotOutcome = "active"
	SnapshotFinished SnapshotOutcome = "game_finished"
	SnapshotExpired  SnapshotOutcome = "game_expired"
)

// Snapshot is a player-scoped projection of one session, sufficient to
// redraw the client without replaying events. Only information legitimately
// visible to the requesting player is included.
type Snapshot struct {
	Outcome           SnapshotOutcome   `json:"outcome"`
	SessionID         string            `json:"sessionId"`
	Status            SessionStatus     `json:"status"`
	Scores            map[string]int    `json:"scores,omitempty"`
	RoundsPlayed      int               `json:"roundsPlayed"`
	TotalRounds       int               `json:"totalRounds"`
	WinnerID          string            `json:"winnerId,omitempty"`
	RoundNumber       int               `json:"roundNumber,omitempty"`
	FlowState         FlowState         `json:"flowState,omitempty"`
	ActivePlayerID    string            `json:"activePlayerId,omitempty"`
	Version           int64             `json:"version,omitempty"`
	Multiplier        int               `json:"multiplier,omitempty"`
	Hand              []Card            `json:"hand,omitempty"`
	OpponentHandCount int               `json:"opponentHandCount"`
	Field             []Card            `json:"field,omitempty"`
	DrawCount         int               `json:"drawCount"`
	CapturePiles      map[string][]Card `json:"capturePiles,omitempty"`
	PendingSelection  *PendingSelection `json:"pendingSelection,omitempty"`
	PendingDecision   *PendingDecision  `json:"pendingDecision,omitempty"`
	ConfirmRequired   []string          `json:"confirmRequired,omitempty"`
	RemainingActionMs int64             `json:"remainingActionMs,omitempty"`
}
