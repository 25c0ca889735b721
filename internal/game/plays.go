package game

import (
	"github.com/lox/presidente/internal/deck"
)

// IsValidPlay reports whether a play may be made against the current play.
// A valid play is a non-empty set of same-rank cards that matches the
// current play's size and beats it, or any size when leading unless the
// caller constrains the count.
func IsValidPlay(play deck.Play, current deck.Play, numCardsRequired int) bool {
	if play.Empty() {
		return false
	}
	rank := play.Cards[0].Rank
	for _, c := range play.Cards {
		if c.Rank != rank {
			return false
		}
	}
	if !current.Empty() {
		if len(play.Cards) != len(current.Cards) {
			return false
		}
		return play.Beats(current)
	}
	if numCardsRequired > 0 && len(play.Cards) != numCardsRequired {
		return false
	}
	return true
}

// includes3C reports whether the cards contain the 3 of clubs
func includes3C(cards []deck.Card) bool {
	for _, c := range cards {
		if c == deck.ThreeOfClubs {
			return true
		}
	}
	return false
}

// ValidPlays enumerates every legal card combination for a hand against the
// current play. numRequired is 0 when the player is leading and may choose
// any count. When mustInclude3C is set (the opening lead of the game) only
// combinations containing the 3C qualify.
//
// When leading and no combination satisfied the constraints, every same-rank
// combination of any size is returned instead, so an opening lead never
// enumerates to nothing.
func ValidPlays(hand []deck.Card, current deck.Play, numRequired int, mustInclude3C bool) [][]deck.Card {
	if len(hand) == 0 {
		return nil
	}

	byRank := make(map[deck.Rank][]deck.Card)
	for _, c := range hand {
		byRank[c.Rank] = append(byRank[c.Rank], c)
	}
	for _, cards := range byRank {
		deck.SortByValue(cards)
	}

	n := numRequired
	if !current.Empty() {
		n = len(current.Cards)
	}

	var result [][]deck.Card
	for _, cards := range byRank {
		if n > 0 && len(cards) < n {
			continue
		}
		if mustInclude3C && !includes3C(cards) {
			continue
		}
		if n == 0 {
			for k := 1; k <= len(cards); k++ {
				for _, combo := range combinations(cards, k) {
					if mustInclude3C && !includes3C(combo) {
						continue
					}
					if IsValidPlay(deck.Play{Cards: combo}, current, numRequired) {
						result = append(result, combo)
					}
				}
			}
		} else {
			for _, combo := range combinations(cards, n) {
				if mustInclude3C && !includes3C(combo) {
					continue
				}
				if IsValidPlay(deck.Play{Cards: combo}, current, numRequired) {
					result = append(result, combo)
				}
			}
		}
	}

	if current.Empty() && result == nil {
		for _, cards := range byRank {
			for k := 1; k <= len(cards); k++ {
				result = append(result, combinations(cards, k)...)
			}
		}
	}
	return result
}

// combinations returns every k-element combination of cards, preserving
// input order within each combination.
func combinations(cards []deck.Card, k int) [][]deck.Card {
	if k == 0 {
		return [][]deck.Card{{}}
	}
	if k > len(cards) {
		return nil
	}
	var result [][]deck.Card
	for i, c := range cards {
		for _, rest := range combinations(cards[i+1:], k-1) {
			combo := make([]deck.Card, 0, k)
			combo = append(combo, c)
			combo = append(combo, rest...)
			result = append(result, combo)
		}
	}
	return result
}
