package model

type EventType string

const (
	EventRoundDealt           EventType = "round_dealt"
	EventTurnCompleted        EventType = "turn_completed"
	EventSelectionRequired    EventType = "selection_required"
	EventDecisionRequired     EventType = "decision_required"
	EventRoundEnded           EventType = "round_ended"
	EventGameFinished         EventType = "game_finished"
	EventSnapshotRestore      EventType = "snapshot_restore"
	EventMatchFound           EventType = "match_found"
	EventLowAvailability      EventType = "low_availability"
	EventMatchmakingExpired   EventType = "matchmaking_expired"
	EventPlayerDisconnected   EventType = "player_disconnected"
	EventPlayerReconnected    EventType = "player_reconnected"
	EventConfirmationRequired EventType = "confirmation_required"
)

// SessionEvent is an immutable domain event. PlayerID scopes delivery to a
// single recipient; empty means every subscriber of the session sees it.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	PlayerID  string    `json:"playerId,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// RoundDealtData is the per-player view of a fresh deal: the recipient's own
// hand in full, the opponent's as a count only.
type RoundDealtData struct {
	RoundNumber       int    `json:"roundNumber"`
	ActivePlayerID    string `json:"activePlayerId"`
	Hand              []Card `json:"hand"`
	OpponentHandCount int    `json:"opponentHandCount"`
	Field             []Card `json:"field"`
	DrawCount         int    `json:"drawCount"`
	Multiplier        int    `json:"multiplier"`
}

type CardMove struct {
	Card     Card   `json:"card"`
	Captured []Card `json:"captured,omitempty"`
}

type TurnCompletedData struct {
	PlayerID       string    `json:"playerId"`
	Played         *CardMove `json:"played,omitempty"`
	Drawn          *CardMove `json:"drawn,omitempty"`
	ActivePlayerID string    `json:"activePlayerId"`
	FlowState      FlowState `json:"flowState"`
	Auto           bool      `json:"auto,omitempty"`
}

type SelectionRequiredData struct {
	ActivePlayerID string          `json:"activePlayerId"`
	Card           Card            `json:"card"`
	Source         SelectionSource `json:"source"`
	Candidates     []Card          `json:"candidates"`
}

type DecisionRequiredData struct {
	ActivePlayerID string       `json:"activePlayerId"`
	NewYaku        []YakuResult `json:"newYaku"`
	Score          int          `json:"score"`
}

type RoundEndedData struct {
	RoundNumber     int            `json:"roundNumber"`
	Outcome         RoundOutcome   `json:"outcome"`
	WinnerID        string         `json:"winnerId,omitempty"`
	Points          int            `json:"points"`
	Multiplier      int            `json:"multiplier"`
	WinnerYaku      []YakuResult   `json:"winnerYaku,omitempty"`
	Scores          map[string]int `json:"scores"`
	RoundsPlayed    int            `json:"roundsPlayed"`
	TotalRounds     int            `json:"totalRounds"`
	ConfirmRequired []string       `json:"confirmRequired,omitempty"`
}

type GameFinishedData struct {
	WinnerID string         `json:"winnerId,omitempty"`
	Scores   map[string]int `json:"scores"`
	Reason   string         `json:"reason"`
}

type MatchFoundData struct {
	SessionID string   `json:"sessionId"`
	RoomType  string   `json:"roomType"`
	Players   []string `json:"players"`
}

type ConfirmationRequiredData struct {
	PlayerID string `json:"playerId"`
	GraceMs  int64  `json:"graceMs"`
}
