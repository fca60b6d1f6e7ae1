package flow

import (
	"math/rand"

	"koi-service/internal/model"
)

const (
	handSize  = 8
	fieldSize = 8
)

// dealRound replaces the session's round with a fresh shuffled deal. The
// starter plays first; by default the deal alternates, a scored round hands
// the next start to its winner.
func dealRound(sess *model.Session, number int, starter string) {
	deck := model.NewDeck()
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	first := sess.Participants[0].ID
	second := sess.Participants[1].ID

	hands := map[string][]model.Card{
		first:  append([]model.Card(nil), deck[:handSize]...),
		second: append([]model.Card(nil), deck[handSize:2*handSize]...),
	}
	field := append([]model.Card(nil), deck[2*handSize:2*handSize+fieldSize]...)
	pile := append([]model.Card(nil), deck[2*handSize+fieldSize:]...)

	sess.Round = &model.Round{
		Number:         number,
		FlowState:      model.AwaitingHandPlay,
		ActivePlayerID: starter,
		Multiplier:     1,
		Hands:          hands,
		CapturePiles: map[string][]model.Card{
			first:  {},
			second: {},
		},
		Field:    field,
		DrawPile: pile,
		Yaku: map[string][]model.YakuResult{
			first:  {},
			second: {},
		},
	}

	// Default next start alternates away from this round's starter; a
	// scored round overwrites it with the winner.
	if opp := sess.Opponent(starter); opp != nil {
		sess.NextStarter = opp.ID
	}
}

// lowestCard picks the minimal-impact card for the action-timeout
// auto-play: fewest points, ties broken by month then index.
func lowestCard(hand []model.Card) (model.Card, bool) {
	if len(hand) == 0 {
		return model.Card{}, false
	}
	best := hand[0]
	for _, c := range hand[1:] {
		if c.Points < best.Points ||
			(c.Points == best.Points && (c.Month < best.Month ||
				(c.Month == best.Month && c.Index < best.Index))) {
			best = c
		}
	}
	return best, true
}
