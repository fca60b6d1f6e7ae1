package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/store"
	"koi-service/internal/service/timeout"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/logger"

	"go.uber.org/zap"
)

// errNoop marks a mutation that turned out to be unnecessary; the session is
// left untouched and no version is consumed.
var errNoop = errors.New("no-op mutation")

type Config struct {
	TotalRounds          int
	ActionTimeout        time.Duration
	OfflineActionTimeout time.Duration
	IdleTimeout          time.Duration
	ConfirmationGrace    time.Duration
}

func DefaultConfig() Config {
	return Config{
		TotalRounds:          3,
		ActionTimeout:        30 * time.Second,
		OfflineActionTimeout: 10 * time.Second,
		IdleTimeout:          60 * time.Second,
		ConfirmationGrace:    15 * time.Second,
	}
}

// Controller drives the turn state machine. All mutations follow the
// optimistic discipline: read a session copy, compute the next state, swap
// it back only if the version is unchanged.
type Controller struct {
	cfg      Config
	sessions *store.Store
	archive  store.Archiver
	timeouts *timeout.Registry
	events   *dispatch.Dispatcher
}

func NewController(cfg Config, sessions *store.Store, archive store.Archiver, timeouts *timeout.Registry, events *dispatch.Dispatcher) *Controller {
	def := DefaultConfig()
	if cfg.TotalRounds <= 0 {
		cfg.TotalRounds = def.TotalRounds
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.OfflineActionTimeout <= 0 {
		cfg.OfflineActionTimeout = def.OfflineActionTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ConfirmationGrace <= 0 {
		cfg.ConfirmationGrace = def.ConfirmationGrace
	}
	return &Controller{
		cfg:      cfg,
		sessions: sessions,
		archive:  archive,
		timeouts: timeouts,
		events:   events,
	}
}

func (c *Controller) Config() Config { return c.cfg }

type mutateOpts struct {
	initiated bool // genuinely player-initiated, disarms the idle timer
	rearm     bool // reconcile state timers after the swap
}

// mutate runs one optimistic read-modify-swap cycle. fn mutates the session
// copy in place and returns the events to route on success; mutate assigns
// the new version, persists best-effort and reconciles timers.
func (c *Controller) mutate(ctx context.Context, sessionID, playerID string, opts mutateOpts, fn func(*model.Session) ([]model.SessionEvent, error)) error {
	sess, ok := c.sessions.Get(sessionID)
	if !ok {
		return appErr.ErrSessionNotFound
	}
	if sess.Status == model.StatusFinished {
		return appErr.ErrSessionFinished
	}
	if playerID != "" && !sess.HasParticipant(playerID) {
		return appErr.ErrPlayerNotInSession
	}

	read := sess.StateVersion

	if opts.initiated && playerID != "" && sess.Round != nil {
		// Real activity: the player is evidently present.
		if p := sess.Participant(playerID); p != nil {
			p.RequiresConfirmation = false
		}
	}

	evs, err := fn(sess)
	if err != nil {
		if errors.Is(err, errNoop) {
			return nil
		}
		return err
	}

	sess.StateVersion = read + 1
	if sess.Round != nil {
		sess.Round.Version = sess.StateVersion
	}
	if err := c.sessions.Swap(sess, read); err != nil {
		return err
	}

	if opts.initiated && playerID != "" {
		c.timeouts.Cancel(sessionID, playerID, timeout.KindIdle)
	}

	c.persist(ctx, sess, evs)

	for i := range evs {
		evs[i].SessionID = sessionID
		evs[i].Version = sess.StateVersion
		c.events.Route(sessionID, evs[i])
	}

	if opts.rearm {
		c.reconcileTimers(sess)
	}
	return nil
}

// persist archives the session and any finished round, best-effort.
func (c *Controller) persist(ctx context.Context, sess *model.Session, evs []model.SessionEvent) {
	if err := c.archive.Save(ctx, sess); err != nil {
		logger.Log.Warn("session archive failed",
			zap.String("sessionID", sess.ID),
			zap.Error(err),
		)
	}
	for _, ev := range evs {
		data, ok := ev.Data.(model.RoundEndedData)
		if !ok {
			continue
		}
		entry := &model.SessionRoundLog{
			SessionID:  sess.ID,
			RoundNo:    data.RoundNumber,
			Outcome:    string(data.Outcome),
			WinnerID:   data.WinnerID,
			Points:     data.Points,
			Multiplier: data.Multiplier,
		}
		if len(data.WinnerYaku) > 0 {
			if raw, mErr := json.Marshal(data.WinnerYaku); mErr == nil {
				entry.YakuJSON = raw
			}
		}
		if err := c.archive.LogRound(ctx, entry); err != nil {
			logger.Log.Warn("round log failed",
				zap.String("sessionID", sess.ID),
				zap.Int("round", data.RoundNumber),
				zap.Error(err),
			)
		}
	}
}

// StartSession deals round one of a STARTING session and opens play.
func (c *Controller) StartSession(ctx context.Context, sessionID string) error {
	return c.mutate(ctx, sessionID, "", mutateOpts{rearm: true}, func(sess *model.Session) ([]model.SessionEvent, error) {
		if sess.Status != model.StatusStarting || len(sess.Participants) != 2 {
			return nil, appErr.ErrInvalidState
		}
		sess.Status = model.StatusInProgress
		dealRound(sess, 1, sess.Participants[0].ID)
		return roundDealtEvents(sess), nil
	})
}

// PlayHandCard plays a card from the active player's hand.
func (c *Controller) PlayHandCard(ctx context.Context, sessionID, playerID string, month, index int) error {
	return c.play(ctx, sessionID, playerID, month, index, true)
}

func (c *Controller) play(ctx context.Context, sessionID, playerID string, month, index int, initiated bool) error {
	return c.mutate(ctx, sessionID, playerID, mutateOpts{initiated: initiated, rearm: true}, func(sess *model.Session) ([]model.SessionEvent, error) {
		r := sess.Round
		if sess.Status != model.StatusInProgress || r == nil || r.FlowState != model.AwaitingHandPlay {
			return nil, appErr.ErrInvalidState
		}
		if r.ActivePlayerID != playerID {
			return nil, appErr.ErrWrongPlayer
		}
		card, ok := model.FindCard(r.Hands[playerID], month, index)
		if !ok {
			return nil, appErr.ErrInvalidSelection
		}
		r.Hands[playerID], _ = model.RemoveCard(r.Hands[playerID], card)

		played := &model.CardMove{Card: card}
		candidates := model.CardsOfMonth(r.Field, card.Month)
		switch len(candidates) {
		case 0:
			r.Field = append(r.Field, card)
		case 1:
			c.capture(r, playerID, card, candidates[0])
			played.Captured = []model.Card{card, candidates[0]}
		default:
			r.PendingSelection = &model.PendingSelection{
				Card:       card,
				Source:     model.SelectionFromHand,
				Candidates: candidates,
			}
			r.FlowState = model.AwaitingSelection
			return []model.SessionEvent{selectionRequiredEvent(r)}, nil
		}
		return c.resolveDraw(sess, playerID, played, !initiated)
	})
}

// SelectTarget resolves a pending ambiguous match with an explicit target.
func (c *Controller) SelectTarget(ctx context.Context, sessionID, playerID string, month, index int) error {
	return c.selectTarget(ctx, sessionID, playerID, month, index, true)
}

func (c *Controller) selectTarget(ctx context.Context, sessionID, playerID string, month, index int, initiated bool) error {
	return c.mutate(ctx, sessionID, playerID, mutateOpts{initiated: initiated, rearm: true}, func(sess *model.Session) ([]model.SessionEvent, error) {
		r := sess.Round
		if sess.Status != model.StatusInProgress || r == nil || r.FlowState != model.AwaitingSelection || r.PendingSelection == nil {
			return nil, appErr.ErrInvalidState
		}
		if r.ActivePlayerID != playerID {
			return nil, appErr.ErrWrongPlayer
		}
		sel := r.PendingSelection
		target, ok := model.FindCard(sel.Candidates, month, index)
		if !ok {
			return nil, appErr.ErrInvalidSelection
		}
		c.capture(r, playerID, sel.Card, target)
		move := &model.CardMove{Card: sel.Card, Captured: []model.Card{sel.Card, target}}
		source, prior := sel.Source, sel.Prior
		r.PendingSelection = nil
		r.FlowState = model.AwaitingHandPlay

		if source == model.SelectionFromHand {
			return c.resolveDraw(sess, playerID, move, !initiated)
		}
		return c.afterCaptures(sess, playerID, prior, move, !initiated)
	})
}

// MakeDecision answers a pending koi-koi decision: continue doubles the
// multiplier and passes the turn, stop banks the score and ends the round.
func (c *Controller) MakeDecision(ctx context.Context, sessionID, playerID string, continueRound bool) error {
	return c.decide(ctx, sessionID, playerID, continueRound, true)
}

func (c *Controller) decide(ctx context.Context, sessionID, playerID string, continueRound bool, initiated bool) error {
	return c.mutate(ctx, sessionID, playerID, mutateOpts{initiated: initiated, rearm: true}, func(sess *model.Session) ([]model.SessionEvent, error) {
		r := sess.Round
		if sess.Status != model.StatusInProgress || r == nil || r.FlowState != model.AwaitingDecision || r.PendingDecision == nil {
			return nil, appErr.ErrInvalidState
		}
		if r.ActivePlayerID != playerID {
			return nil, appErr.ErrWrongPlayer
		}
		r.PendingDecision = nil
		if !continueRound {
			return c.endRound(sess, model.RoundScored, playerID, nil)
		}
		r.Multiplier *= 2
		r.ActivePlayerID = sess.Opponent(playerID).ID
		r.FlowState = model.AwaitingHandPlay
		return []model.SessionEvent{turnCompletedEvent(r, playerID, nil, nil, !initiated)}, nil
	})
}

// ConfirmContinue acknowledges the "still there?" prompt at a round
// boundary; once every flagged player has confirmed, the next round deals.
func (c *Controller) ConfirmContinue(ctx context.Context, sessionID, playerID string) error {
	return c.mutate(ctx, sessionID, playerID, mutateOpts{initiated: true, rearm: true}, func(sess *model.Session) ([]model.SessionEvent, error) {
		p := sess.Participant(playerID)
		if sess.Status != model.StatusInProgress || sess.Round != nil || !p.RequiresConfirmation {
			return nil, appErr.ErrConfirmationNotRequired
		}
		p.RequiresConfirmation = false
		if len(sess.PendingConfirmations()) > 0 {
			return nil, nil
		}
		dealRound(sess, sess.RoundsPlayed+1, sess.NextStarter)
		return roundDealtEvents(sess), nil
	})
}

// Forfeit ends the whole session in the opponent's favor. Used by
// leave-session, the disconnect grace expiry and the confirmation expiry.
func (c *Controller) Forfeit(ctx context.Context, sessionID, playerID, reason string) error {
	return c.forfeit(ctx, sessionID, playerID, reason, true)
}

func (c *Controller) forfeit(ctx context.Context, sessionID, playerID, reason string, initiated bool) error {
	return c.mutate(ctx, sessionID, playerID, mutateOpts{initiated: initiated, rearm: true}, func(sess *model.Session) ([]model.SessionEvent, error) {
		if sess.Status != model.StatusInProgress && sess.Status != model.StatusStarting {
			return nil, appErr.ErrInvalidState
		}
		loser := sess.Participant(playerID)
		loser.Left = true
		sess.Status = model.StatusFinished
		sess.Round = nil
		winnerID := ""
		if opp := sess.Opponent(playerID); opp != nil {
			winnerID = opp.ID
		}
		return []model.SessionEvent{{
			Type: model.EventGameFinished,
			Data: model.GameFinishedData{
				WinnerID: winnerID,
				Scores:   sess.Scores,
				Reason:   reason,
			},
		}}, nil
	})
}

// resolveDraw draws the follow-up card from the pile and matches it against
// the field under the same zero/one/many rule as the hand play.
func (c *Controller) resolveDraw(sess *model.Session, playerID string, played *model.CardMove, auto bool) ([]model.SessionEvent, error) {
	r := sess.Round
	var drawn *model.CardMove
	if len(r.DrawPile) > 0 {
		card := r.DrawPile[0]
		r.DrawPile = r.DrawPile[1:]
		drawn = &model.CardMove{Card: card}
		candidates := model.CardsOfMonth(r.Field, card.Month)
		switch len(candidates) {
		case 0:
			r.Field = append(r.Field, card)
		case 1:
			c.capture(r, playerID, card, candidates[0])
			drawn.Captured = []model.Card{card, candidates[0]}
		default:
			r.PendingSelection = &model.PendingSelection{
				Card:       card,
				Source:     model.SelectionFromDraw,
				Candidates: candidates,
				Prior:      played,
			}
			r.FlowState = model.AwaitingSelection
			return []model.SessionEvent{selectionRequiredEvent(r)}, nil
		}
	}
	return c.afterCaptures(sess, playerID, played, drawn, auto)
}

// afterCaptures evaluates combinations after a completed play+draw cycle and
// advances the state machine.
func (c *Controller) afterCaptures(sess *model.Session, playerID string, played, drawn *model.CardMove, auto bool) ([]model.SessionEvent, error) {
	r := sess.Round
	evaluated := evaluateYaku(r.CapturePiles[playerID])
	formed := diffYaku(r.Yaku[playerID], evaluated)
	r.Yaku[playerID] = evaluated

	if len(formed) > 0 {
		if len(r.Hands[playerID]) > 0 {
			r.PendingDecision = &model.PendingDecision{
				NewYaku: formed,
				Score:   totalPoints(evaluated),
			}
			r.FlowState = model.AwaitingDecision
			return []model.SessionEvent{
				turnCompletedEvent(r, playerID, played, drawn, auto),
				{
					Type: model.EventDecisionRequired,
					Data: model.DecisionRequiredData{
						ActivePlayerID: playerID,
						NewYaku:        formed,
						Score:          totalPoints(evaluated),
					},
				},
			}, nil
		}
		// Last card formed the combination: the round scores immediately,
		// no decision is offered.
		lead := turnCompletedEvent(r, playerID, played, drawn, auto)
		return c.endRound(sess, model.RoundScored, playerID, []model.SessionEvent{lead})
	}

	if c.handsExhausted(sess) {
		lead := turnCompletedEvent(r, playerID, played, drawn, auto)
		return c.endRound(sess, model.RoundDrawn, "", []model.SessionEvent{lead})
	}

	r.ActivePlayerID = sess.Opponent(playerID).ID
	r.FlowState = model.AwaitingHandPlay
	return []model.SessionEvent{turnCompletedEvent(r, playerID, played, drawn, auto)}, nil
}

func (c *Controller) handsExhausted(sess *model.Session) bool {
	for _, p := range sess.Participants {
		if len(sess.Round.Hands[p.ID]) > 0 {
			return false
		}
	}
	return true
}

// endRound banks the outcome, then finishes the game, deals the next round,
// or suspends at the boundary for continue-confirmations.
func (c *Controller) endRound(sess *model.Session, outcome model.RoundOutcome, winnerID string, lead []model.SessionEvent) ([]model.SessionEvent, error) {
	r := sess.Round
	points := 0
	var winnerYaku []model.YakuResult
	if outcome == model.RoundScored {
		winnerYaku = r.Yaku[winnerID]
		points = totalPoints(winnerYaku) * r.Multiplier
		sess.Scores[winnerID] += points
		sess.NextStarter = winnerID
	}
	sess.RoundsPlayed++
	roundNo := r.Number
	multiplier := r.Multiplier
	sess.Round = nil

	confirmRequired := sess.PendingConfirmations()
	evs := append(lead, model.SessionEvent{
		Type: model.EventRoundEnded,
		Data: model.RoundEndedData{
			RoundNumber:     roundNo,
			Outcome:         outcome,
			WinnerID:        winnerID,
			Points:          points,
			Multiplier:      multiplier,
			WinnerYaku:      winnerYaku,
			Scores:          sess.Scores,
			RoundsPlayed:    sess.RoundsPlayed,
			TotalRounds:     sess.TotalRounds,
			ConfirmRequired: confirmRequired,
		},
	})

	if sess.RoundsPlayed >= sess.TotalRounds {
		sess.Status = model.StatusFinished
		return append(evs, model.SessionEvent{
			Type: model.EventGameFinished,
			Data: model.GameFinishedData{
				WinnerID: leaderOf(sess),
				Scores:   sess.Scores,
				Reason:   "completed",
			},
		}), nil
	}

	if len(confirmRequired) > 0 {
		for _, pid := range confirmRequired {
			evs = append(evs, model.SessionEvent{
				Type:     model.EventConfirmationRequired,
				PlayerID: pid,
				Data: model.ConfirmationRequiredData{
					PlayerID: pid,
					GraceMs:  c.cfg.ConfirmationGrace.Milliseconds(),
				},
			})
		}
		return evs, nil
	}

	dealRound(sess, roundNo+1, sess.NextStarter)
	return append(evs, roundDealtEvents(sess)...), nil
}

// leaderOf returns the participant with the highest cumulative score, empty
// on a tie.
func leaderOf(sess *model.Session) string {
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

func (c *Controller) capture(r *model.Round, playerID string, card, target model.Card) {
	r.Field, _ = model.RemoveCard(r.Field, target)
	r.CapturePiles[playerID] = append(r.CapturePiles[playerID], card, target)
}

func roundDealtEvents(sess *model.Session) []model.SessionEvent {
	r := sess.Round
	evs := make([]model.SessionEvent, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		opp := sess.Opponent(p.ID)
		evs = append(evs, model.SessionEvent{
			Type:     model.EventRoundDealt,
			PlayerID: p.ID,
			Data: model.RoundDealtData{
				RoundNumber:       r.Number,
				ActivePlayerID:    r.ActivePlayerID,
				Hand:              r.Hands[p.ID],
				OpponentHandCount: len(r.Hands[opp.ID]),
				Field:             r.Field,
				DrawCount:         len(r.DrawPile),
				Multiplier:        r.Multiplier,
			},
		})
	}
	return evs
}

func selectionRequiredEvent(r *model.Round) model.SessionEvent {
	sel := r.PendingSelection
	return model.SessionEvent{
		Type: model.EventSelectionRequired,
		Data: model.SelectionRequiredData{
			ActivePlayerID: r.ActivePlayerID,
			Card:           sel.Card,
			Source:         sel.Source,
			Candidates:     sel.Candidates,
		},
	}
}

func turnCompletedEvent(r *model.Round, actor string, played, drawn *model.CardMove, auto bool) model.SessionEvent {
	return model.SessionEvent{
		Type: model.EventTurnCompleted,
		Data: model.TurnCompletedData{
			PlayerID:       actor,
			Played:         played,
			Drawn:          drawn,
			ActivePlayerID: r.ActivePlayerID,
			FlowState:      r.FlowState,
			Auto:           auto,
		},
	}
}
