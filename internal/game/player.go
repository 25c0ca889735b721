package game

import (
	"github.com/lox/presidente/internal/deck"
)

// Accolade is the end-of-game rank label that drives trading on the next deal.
type Accolade string

const (
	ElPresidente Accolade = "ElPresidente"
	VP           Accolade = "VP"
	Pleb         Accolade = "Pleb"
	Shithead     Accolade = "Shithead"
)

// Phase is the phase of a game
type Phase string

const (
	// Trading is the between-games phase where the previous Shithead and
	// El Presidente exchange cards.
	Trading Phase = "Trading"
	// Playing is the normal trick-taking phase.
	Playing Phase = "Playing"
)

// Player is one seat in a room or game. The same struct is used for lobby
// players (empty hand) and game players.
type Player struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	PastAccolade Accolade    `json:"past_accolade"`
	Accolade     Accolade    `json:"accolade"`
	Hand         []deck.Card `json:"hand"`
}

// NewPlayer creates a lobby player with no history
func NewPlayer(id, name string) *Player {
	return &Player{
		ID:           id,
		Name:         name,
		PastAccolade: Pleb,
		Accolade:     Pleb,
	}
}

// HandSorted returns the player's hand sorted by game value, lowest first
func (p *Player) HandSorted() []deck.Card {
	sorted := make([]deck.Card, len(p.Hand))
	copy(sorted, p.Hand)
	deck.SortByValue(sorted)
	return sorted
}

// HasCard reports whether the player holds the given card
func (p *Player) HasCard(card deck.Card) bool {
	for _, c := range p.Hand {
		if c == card {
			return true
		}
	}
	return false
}

// removeCard removes one instance of card from the hand. Matching is by
// (rank, suit) so cards decoded from the wire still match.
func (p *Player) removeCard(card deck.Card) bool {
	for i, c := range p.Hand {
		if c == card {
			p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
			return true
		}
	}
	return false
}

// highestCard returns the highest card in the hand by game order
func highestCard(hand []deck.Card) (deck.Card, bool) {
	if len(hand) == 0 {
		return deck.Card{}, false
	}
	best := hand[0]
	for _, c := range hand[1:] {
		if c.Value() > best.Value() {
			best = c
		}
	}
	return best, true
}

// lowestCard returns the lowest card in the hand by game order. The 3C is
// never a candidate: it anchors the opening lead and must stay in play.
func lowestCard(hand []deck.Card) (deck.Card, bool) {
	var best deck.Card
	found := false
	for _, c := range hand {
		if c == deck.ThreeOfClubs {
			continue
		}
		if !found || c.Value() < best.Value() {
			best = c
			found = true
		}
	}
	return best, found
}
