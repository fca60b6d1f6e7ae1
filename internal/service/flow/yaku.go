package flow

import "koi-service/internal/model"

// Yaku names. Scoring values follow the common koi-koi table; the evaluator
// is deliberately small, the flow controller only needs "which combinations
// does this capture pile hold now".
const (
	yakuGokou        = "gokou"          // five brights
	yakuShikou       = "shikou"         // four brights without the rain man
	yakuAmeShikou    = "ame-shikou"     // four brights including the rain man
	yakuSankou       = "sankou"         // three brights without the rain man
	yakuInoShikaChou = "ino-shika-chou" // boar, deer, butterflies
	yakuAkatan       = "akatan"         // the three red poetry ribbons
	yakuAotan        = "aotan"          // the three blue ribbons
	yakuTane         = "tane"           // five or more animals
	yakuTan          = "tan"            // five or more ribbons
	yakuKasu         = "kasu"           // ten or more plains
)

func isRainMan(c model.Card) bool {
	return c.Month == 11 && c.Index == 0
}

func isRedPoetryRibbon(c model.Card) bool {
	return c.Category == model.CategoryRibbon && (c.Month == 1 || c.Month == 2 || c.Month == 3)
}

func isBlueRibbon(c model.Card) bool {
	return c.Category == model.CategoryRibbon && (c.Month == 6 || c.Month == 9 || c.Month == 10)
}

// evaluateYaku computes every combination currently held in a capture pile.
func evaluateYaku(pile []model.Card) []model.YakuResult {
	var (
		brights, animals, ribbons, plains int
		hasRain                           bool
		redPoetry, blue                   int
		boar, deer, butterflies           bool
	)
	for _, c := range pile {
		switch c.Category {
		case model.CategoryBright:
			brights++
			if isRainMan(c) {
				hasRain = true
			}
		case model.CategoryAnimal:
			animals++
			switch {
			case c.Month == 7 && c.Index == 0:
				boar = true
			case c.Month == 10 && c.Index == 0:
				deer = true
			case c.Month == 6 && c.Index == 0:
				butterflies = true
			}
		case model.CategoryRibbon:
			ribbons++
			if isRedPoetryRibbon(c) {
				redPoetry++
			}
			if isBlueRibbon(c) {
				blue++
			}
		case model.CategoryPlain:
			plains++
		}
	}

	var results []model.YakuResult
	switch {
	case brights == 5:
		results = append(results, model.YakuResult{Name: yakuGokou, Points: 10})
	case brights == 4 && !hasRain:
		results = append(results, model.YakuResult{Name: yakuShikou, Points: 8})
	case brights == 4:
		results = append(results, model.YakuResult{Name: yakuAmeShikou, Points: 7})
	case brights == 3 && !hasRain:
		results = append(results, model.YakuResult{Name: yakuSankou, Points: 5})
	}
	if boar && deer && butterflies {
		results = append(results, model.YakuResult{Name: yakuInoShikaChou, Points: 5})
	}
	if redPoetry == 3 {
		results = append(results, model.YakuResult{Name: yakuAkatan, Points: 5})
	}
	if blue == 3 {
		results = append(results, model.YakuResult{Name: yakuAotan, Points: 5})
	}
	if animals >= 5 {
		results = append(results, model.YakuResult{Name: yakuTane, Points: animals - 4})
	}
	if ribbons >= 5 {
		results = append(results, model.YakuResult{Name: yakuTan, Points: ribbons - 4})
	}
	if plains >= 10 {
		results = append(results, model.YakuResult{Name: yakuKasu, Points: plains - 9})
	}
	return results
}

// diffYaku returns the combinations in next that are new or grew relative to
// prev. A grown combination (e.g. kasu gaining a card) counts as newly
// formed for the koi-koi decision.
func diffYaku(prev, next []model.YakuResult) []model.YakuResult {
	prevPoints := make(map[string]int, len(prev))
	for _, y := range prev {
		prevPoints[y.Name] = y.Points
	}
	var formed []model.YakuResult
	for _, y := range next {
		if old, ok := prevPoints[y.Name]; !ok || y.Points > old {
			formed = append(formed, y)
		}
	}
	return formed
}

func totalPoints(yaku []model.YakuResult) int {
	sum := 0
	for _, y := range yaku {
		sum += y.Points
	}
	return sum
}
