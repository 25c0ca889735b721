package deck

import rand "math/rand/v2"

// Deck represents a standard 52-card deck
type Deck struct {
	cards []Card
}

// New creates a full 52-card deck in game order
func New() *Deck {
	d := &Deck{cards: make([]Card, 0, 52)}
	for r := Three; r <= Two; r++ {
		for s := Clubs; s <= Spades; s++ {
			d.cards = append(d.cards, NewCard(r, s))
		}
	}
	return d
}

// Shuffle randomizes the deck using the provided random source
func (d *Deck) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

// Deal removes and returns the top card from the deck
func (d *Deck) Deal() (Card, bool) {
	if len(d.cards) == 0 {
		return Card{}, false
	}
	card := d.cards[0]
	d.cards = d.cards[1:]
	return card, true
}

// Remaining returns the number of cards left in the deck
func (d *Deck) Remaining() int {
	return len(d.cards)
}
