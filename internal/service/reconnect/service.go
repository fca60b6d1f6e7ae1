package reconnect

import (
	"context"
	"errors"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/store"
	"koi-service/internal/service/timeout"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/logger"

	"go.uber.org/zap"
)

type Config struct {
	DisconnectGrace time.Duration
}

func DefaultConfig() Config {
	return Config{DisconnectGrace: 20 * time.Second}
}

// Service tracks transport-level presence. A dropped connection starts a
// grace timer; resuming inside the grace cancels it and hands the client one
// self-contained snapshot instead of an event replay.
type Service struct {
	cfg      Config
	sessions *store.Store
	archive  store.Archiver
	timeouts *timeout.Registry
	events   *dispatch.Dispatcher
	flow     *flow.Controller
}

func NewService(cfg Config, sessions *store.Store, archive store.Archiver, timeouts *timeout.Registry, events *dispatch.Dispatcher, fc *flow.Controller) *Service {
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = DefaultConfig().DisconnectGrace
	}
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		archive:  archive,
		timeouts: timeouts,
		events:   events,
		flow:     fc,
	}
}

// HandleDisconnect marks the player offline and starts the forfeit grace.
// Play is not paused: the flow controller switches the player to the shorter
// offline action deadline instead.
func (s *Service) HandleDisconnect(sessionID, playerID string) {
	sess, changed := s.setPresence(sessionID, playerID, true)
	if !changed {
		return
	}

	s.events.Route(sessionID, model.SessionEvent{
		Type:      model.EventPlayerDisconnected,
		SessionID: sessionID,
		Version:   sess.StateVersion,
		Data:      map[string]any{"playerId": playerID, "graceMs": s.cfg.DisconnectGrace.Milliseconds()},
	})

	s.timeouts.Arm(sessionID, playerID, timeout.KindDisconnect, s.cfg.DisconnectGrace, func() error {
		return s.flow.Forfeit(context.Background(), sessionID, playerID, "disconnect_timeout")
	})
	s.flow.RefreshTimers(sessionID)
}

// Resume restores a player's view of the session. Live sessions come from
// the in-memory store; after a restart the archive is consulted and the
// session reloaded. A session found nowhere is reported expired, never an
// error: the client needs a terminal screen, not a retry loop.
func (s *Service) Resume(ctx context.Context, sessionID, playerID string) (*model.Snapshot, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		recovered, err := s.archive.FindByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, appErr.ErrSessionNotFound) {
				return &model.Snapshot{Outcome: model.SnapshotExpired, SessionID: sessionID}, nil
			}
			return nil, err
		}
		if !recovered.HasParticipant(playerID) {
			return nil, appErr.ErrPlayerNotInSession
		}
		if recovered.Status == model.StatusFinished {
			return finishedSnapshot(recovered), nil
		}
		s.sessions.Put(recovered)
		s.flow.RefreshTimers(sessionID)
		logger.Log.Info("session recovered from archive",
			zap.String("sessionID", sessionID),
			zap.Int64("version", recovered.StateVersion),
		)
		sess = recovered
	}

	if !sess.HasParticipant(playerID) {
		return nil, appErr.ErrPlayerNotInSession
	}
	if sess.Status == model.StatusFinished {
		return finishedSnapshot(sess), nil
	}

	s.timeouts.Cancel(sessionID, playerID, timeout.KindDisconnect)
	if updated, changed := s.setPresence(sessionID, playerID, false); changed {
		sess = updated
		s.events.Route(sessionID, model.SessionEvent{
			Type:      model.EventPlayerReconnected,
			SessionID: sessionID,
			Version:   sess.StateVersion,
			Data:      map[string]any{"playerId": playerID},
		})
	}
	// Stale queued events predate the snapshot and would only confuse the
	// rejoining client.
	s.events.Clear(sessionID)
	s.flow.RefreshTimers(sessionID)

	snap := s.buildSnapshot(sess, playerID)
	s.events.Route(sessionID, model.SessionEvent{
		Type:      model.EventSnapshotRestore,
		SessionID: sessionID,
		PlayerID:  playerID,
		Version:   sess.StateVersion,
		Data:      snap,
	})
	return snap, nil
}

// Snapshot builds the player-scoped projection without touching presence,
// for plain state reads over HTTP.
func (s *Service) Snapshot(sessionID, playerID string) (*model.Snapshot, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, appErr.ErrSessionNotFound
	}
	if !sess.HasParticipant(playerID) {
		return nil, appErr.ErrPlayerNotInSession
	}
	if sess.Status == model.StatusFinished {
		return finishedSnapshot(sess), nil
	}
	return s.buildSnapshot(sess, playerID), nil
}

// setPresence flips the participant's Disconnected flag under the optimistic
// swap, retrying on concurrent round mutations. Reports whether a write
// happened.
func (s *Service) setPresence(sessionID, playerID string, disconnected bool) (*model.Session, bool) {
	for attempt := 0; attempt < 5; attempt++ {
		sess, ok := s.sessions.Get(sessionID)
		if !ok || sess.Status == model.StatusFinished {
			return sess, false
		}
		p := sess.Participant(playerID)
		if p == nil || p.Disconnected == disconnected {
			return sess, false
		}
		p.Disconnected = disconnected
		read := sess.StateVersion
		sess.StateVersion = read + 1
		if sess.Round != nil {
			sess.Round.Version = sess.StateVersion
		}
		if err := s.sessions.Swap(sess, read); err == nil {
			return sess, true
		}
	}
	logger.Log.Warn("presence update kept losing the version race",
		zap.String("sessionID", sessionID),
		zap.String("playerID", playerID),
	)
	return nil, false
}

func (s *Service) buildSnapshot(sess *model.Session, playerID string) *model.Snapshot {
	snap := &model.Snapshot{
		Outcome:         model.SnapshotActive,
		SessionID:       sess.ID,
		Status:          sess.Status,
		Scores:          sess.Scores,
		RoundsPlayed:    sess.RoundsPlayed,
		TotalRounds:     sess.TotalRounds,
		Version:         sess.StateVersion,
		ConfirmRequired: sess.PendingConfirmations(),
	}
	r := sess.Round
	if r == nil {
		return snap
	}
	snap.RoundNumber = r.Number
	snap.FlowState = r.FlowState
	snap.ActivePlayerID = r.ActivePlayerID
	snap.Multiplier = r.Multiplier
	snap.Hand = r.Hands[playerID]
	if opp := sess.Opponent(playerID); opp != nil {
		snap.OpponentHandCount = len(r.Hands[opp.ID])
	}
	snap.Field = r.Field
	snap.DrawCount = len(r.DrawPile)
	snap.CapturePiles = r.CapturePiles
	snap.PendingDecision = r.PendingDecision
	if r.PendingSelection != nil && r.ActivePlayerID == playerID {
		snap.PendingSelection = r.PendingSelection
	}
	if remaining, ok := s.timeouts.Remaining(sess.ID, r.ActivePlayerID, timeout.KindAction); ok {
		snap.RemainingActionMs = remaining.Milliseconds()
	}
	return snap
}

func finishedSnapshot(sess *model.Session) *model.Snapshot {
	return &model.Snapshot{
		Outcome:      model.SnapshotFinished,
		SessionID:    sess.ID,
		Status:       sess.Status,
		Scores:       sess.Scores,
		RoundsPlayed: sess.RoundsPlayed,
		TotalRounds:  sess.TotalRounds,
		WinnerID:     leader(sess),
	}
}

func leader(sess *model.Session) string {
	best, bestScore, tie := "", -1, false
	for _, p := range sess.Participants {
		score := sess.Scores[p.ID]
		switch {
		case score > bestScore:
			best, bestScore, tie = p.ID, score, false
		case score == bestScore:
			tie = true
		}
	}
	if tie {
		return ""
	}
	return best
}
