package model

import "fmt"

type CardCategory string

const (
	CategoryBright CardCategory = "bright"
	CategoryAnimal CardCategory = "animal"
	CategoryRibbon CardCategory = "ribbon"
	CategoryPlain  CardCategory = "plain"
)

// Card is one of the 48 hanafuda cards. Month is the matching rank; Index
// distinguishes the four cards of a month (0 is the highest-valued one).
type Card struct {
	Month    int          `json:"month"`
	Index    int          `json:"index"`
	Category CardCategory `json:"category"`
	Points   int          `json:"points"`
}

func (c Card) ID() string {
	return fmt.Sprintf("%d-%d", c.Month, c.Index)
}

func (c Card) Same(other Card) bool {
	return c.Month == other.Month && c.Index == other.Index
}

// categoriesByMonth lists the four card categories of each month, index 0
// first. Red poetry ribbons sit in months 1-3, blue ribbons in 6, 9 and 10;
// the yaku evaluator tells them apart by month.
var categoriesByMonth = [13][4]CardCategory{
	1:  {CategoryBright, CategoryRibbon, CategoryPlain, CategoryPlain}, // pine
	2:  {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // plum
	3:  {CategoryBright, CategoryRibbon, CategoryPlain, CategoryPlain}, // cherry
	4:  {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // wisteria
	5:  {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // iris
	6:  {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // peony
	7:  {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // bush clover
	8:  {CategoryBright, CategoryAnimal, CategoryPlain, CategoryPlain}, // pampas
	9:  {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // chrysanthemum
	10: {CategoryAnimal, CategoryRibbon, CategoryPlain, CategoryPlain}, // maple
	11: {CategoryBright, CategoryAnimal, CategoryRibbon, CategoryPlain}, // willow
	12: {CategoryBright, CategoryPlain, CategoryPlain, CategoryPlain},   // paulownia
}

var pointsByCategory = map[CardCategory]int{
	CategoryBright: 20,
	CategoryAnimal: 10,
	CategoryRibbon: 5,
	CategoryPlain:  1,
}

// NewDeck returns the full 48-card deck in canonical order.
func NewDeck() []Card {
	deck := make([]Card, 0, 48)
	for month := 1; month <= 12; month++ {
		for index := 0; index < 4; index++ {
			category := categoriesByMonth[month][index]
			deck = append(deck, Card{
				Month:    month,
				Index:    index,
				Category: category,
				Points:   pointsByCategory[category],
			})
		}
	}
	return deck
}

// CardsOfMonth returns the cards in pile sharing the given month.
func CardsOfMonth(pile []Card, month int) []Card {
	var matched []Card
	for _, c := range pile {
		if c.Month == month {
			matched = append(matched, c)
		}
	}
	return matched
}

// RemoveCard removes the first card equal to target and reports whether it
// was present.
func RemoveCard(pile []Card, target Card) ([]Card, bool) {
	for i, c := range pile {
		if c.Same(target) {
			return append(pile[:i:i], pile[i+1:]...), true
		}
	}
	return pile, false
}

// FindCard locates a card by month and index.
func FindCard(pile []Card, month, index int) (Card, bool) {
	for _, c := range pile {
		if c.Month == month && c.Index == index {
			return c, true
		}
	}
	return Card{}, false
}
