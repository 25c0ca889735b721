package deck

import "encoding/json"

// Play is one or more face-up cards of the same rank discarded onto the pile.
type Play struct {
	Cards []Card `json:"cards"`
}

// NewPlay creates a play from the given cards
func NewPlay(cards ...Card) Play {
	return Play{Cards: cards}
}

// Rank returns the rank shared by the play's cards
func (p Play) Rank() Rank {
	if len(p.Cards) == 0 {
		return 0
	}
	return p.Cards[0].Rank
}

// Empty reports whether the play holds no cards
func (p Play) Empty() bool {
	return len(p.Cards) == 0
}

// maxSuit returns the highest suit among the play's cards
func (p Play) maxSuit() Suit {
	max := p.Cards[0].Suit
	for _, c := range p.Cards[1:] {
		if c.Suit > max {
			max = c.Suit
		}
	}
	return max
}

// Beats reports whether this play is stronger than other: higher rank, or
// same rank and a higher maximum suit.
func (p Play) Beats(other Play) bool {
	if other.Empty() {
		return true
	}
	if p.Empty() {
		return false
	}
	if p.Rank() != other.Rank() {
		return p.Rank() > other.Rank()
	}
	return p.maxSuit() > other.maxSuit()
}

// Contains reports whether the play includes the given card
func (p Play) Contains(card Card) bool {
	for _, c := range p.Cards {
		if c == card {
			return true
		}
	}
	return false
}

// Pile is the stack of plays made in the current round. The last play is
// the one the next player must beat.
type Pile struct {
	Plays []Play `json:"plays"`
}

// CurrentPlay returns the play to beat, or an empty play for a fresh pile
func (p *Pile) CurrentPlay() Play {
	if len(p.Plays) == 0 {
		return Play{}
	}
	return p.Plays[len(p.Plays)-1]
}

// AddPlay pushes a play onto the pile
func (p *Pile) AddPlay(play Play) {
	p.Plays = append(p.Plays, play)
}

// Clear empties the pile
func (p *Pile) Clear() {
	p.Plays = nil
}

// CardCount returns the number of cards sitting on the pile
func (p *Pile) CardCount() int {
	n := 0
	for _, play := range p.Plays {
		n += len(play.Cards)
	}
	return n
}

// MarshalJSON keeps an empty pile as {"plays": []} rather than null so the
// blob format matches what clients and older snapshots expect.
func (p Pile) MarshalJSON() ([]byte, error) {
	plays := p.Plays
	if plays == nil {
		plays = []Play{}
	}
	return json.Marshal(struct {
		Plays []Play `json:"plays"`
	}{Plays: plays})
}
