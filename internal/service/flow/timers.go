package flow

import (
	"context"
	"errors"

	"koi-service/internal/model"
	"koi-service/internal/service/timeout"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/logger"

	"go.uber.org/zap"
)

// reconcileTimers realigns the action/idle/confirmation timers with the
// session state after an accepted mutation.
//
// ACTION re-arms on every accepted change: the deadline is per state, not per
// turn. IDLE is different: it arms once when a human takes the turn and runs
// until a player-initiated action cancels it, so auto-played turns do not
// reset it.
func (c *Controller) reconcileTimers(sess *model.Session) {
	sid := sess.ID

	if sess.Status == model.StatusFinished {
		c.timeouts.CancelSession(sid)
		return
	}

	if sess.Round == nil {
		pending := make(map[string]bool)
		for _, pid := range sess.PendingConfirmations() {
			pending[pid] = true
		}
		for _, p := range sess.Participants {
			c.timeouts.Cancel(sid, p.ID, timeout.KindAction)
			c.timeouts.Cancel(sid, p.ID, timeout.KindIdle)
			if !pending[p.ID] {
				c.timeouts.Cancel(sid, p.ID, timeout.KindConfirmation)
			}
		}
		for _, pid := range sess.PendingConfirmations() {
			pid := pid
			if c.timeouts.Armed(sid, pid, timeout.KindConfirmation) {
				continue
			}
			c.timeouts.Arm(sid, pid, timeout.KindConfirmation, c.cfg.ConfirmationGrace, func() error {
				return c.confirmationExpired(sid, pid)
			})
		}
		return
	}

	active := sess.Round.ActivePlayerID
	for _, p := range sess.Participants {
		pid := p.ID
		if pid != active {
			c.timeouts.Cancel(sid, pid, timeout.KindAction)
			continue
		}
		d := c.cfg.ActionTimeout
		if p.Disconnected || p.Left {
			d = c.cfg.OfflineActionTimeout
		}
		c.timeouts.Arm(sid, pid, timeout.KindAction, d, func() error {
			return c.actionExpired(sid, pid)
		})
		if !p.IsAI && !c.timeouts.Armed(sid, pid, timeout.KindIdle) {
			c.timeouts.Arm(sid, pid, timeout.KindIdle, c.cfg.IdleTimeout, func() error {
				return c.idleExpired(sid, pid)
			})
		}
	}
}

// RefreshTimers re-derives the timers from current state, used after
// reconnection changes a participant's presence.
func (c *Controller) RefreshTimers(sessionID string) {
	if sess, ok := c.sessions.Get(sessionID); ok {
		c.reconcileTimers(sess)
	}
}

// actionExpired plays the minimal legal move on the stalled player's behalf.
// The move is computed from the state at fire time; if a real action slipped
// in concurrently the resulting version conflict is simply dropped.
func (c *Controller) actionExpired(sessionID, playerID string) error {
	sess, ok := c.sessions.Get(sessionID)
	if !ok || sess.Status != model.StatusInProgress || sess.Round == nil {
		return nil
	}
	r := sess.Round
	if r.ActivePlayerID != playerID {
		return nil
	}

	ctx := context.Background()
	var err error
	switch r.FlowState {
	case model.AwaitingHandPlay:
		card, has := lowestCard(r.Hands[playerID])
		if !has {
			return nil
		}
		err = c.play(ctx, sessionID, playerID, card.Month, card.Index, false)
	case model.AwaitingSelection:
		target := r.PendingSelection.Candidates[0]
		err = c.selectTarget(ctx, sessionID, playerID, target.Month, target.Index, false)
	case model.AwaitingDecision:
		// Timed-out decisions always bank the score.
		err = c.decide(ctx, sessionID, playerID, false, false)
	}

	if err != nil && isStaleAutoAction(err) {
		logger.Log.Debug("auto action superseded",
			zap.String("sessionID", sessionID),
			zap.String("playerID", playerID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func isStaleAutoAction(err error) bool {
	return errors.Is(err, appErr.ErrVersionConflict) ||
		errors.Is(err, appErr.ErrInvalidState) ||
		errors.Is(err, appErr.ErrWrongPlayer) ||
		errors.Is(err, appErr.ErrSessionFinished) ||
		errors.Is(err, appErr.ErrSessionNotFound)
}

// idleExpired flags a player who produced no real action for the whole idle
// window. Play continues on auto-moves; the flag is collected into a
// confirmation prompt at the next round boundary.
func (c *Controller) idleExpired(sessionID, playerID string) error {
	return c.mutate(context.Background(), sessionID, playerID, mutateOpts{}, func(sess *model.Session) ([]model.SessionEvent, error) {
		p := sess.Participant(playerID)
		if p.IsAI || p.RequiresConfirmation {
			return nil, errNoop
		}
		p.RequiresConfirmation = true
		return nil, nil
	})
}

func (c *Controller) confirmationExpired(sessionID, playerID string) error {
	return c.forfeit(context.Background(), sessionID, playerID, "confirmation_timeout", false)
}
