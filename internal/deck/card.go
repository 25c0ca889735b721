package deck

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Suit represents a card suit. Order is game order, lowest first.
type Suit int

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

// String returns the single-letter representation of a suit
func (s Suit) String() string {
	switch s {
	case Clubs:
		return "C"
	case Diamonds:
		return "D"
	case Hearts:
		return "H"
	case Spades:
		return "S"
	default:
		return "?"
	}
}

// ParseSuit parses a single-letter suit
func ParseSuit(s string) (Suit, error) {
	switch strings.ToUpper(s) {
	case "C":
		return Clubs, nil
	case "D":
		return Diamonds, nil
	case "H":
		return Hearts, nil
	case "S":
		return Spades, nil
	default:
		return 0, fmt.Errorf("invalid suit: %q", s)
	}
}

// Rank represents a card rank. Order is game order: the 3 is the lowest
// card and the 2 is the highest.
type Rank int

const (
	Three Rank = iota
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
	Two
)

// String returns the wire representation of a rank ("3".."9", "T", "J", ...)
func (r Rank) String() string {
	switch r {
	case Three:
		return "3"
	case Four:
		return "4"
	case Five:
		return "5"
	case Six:
		return "6"
	case Seven:
		return "7"
	case Eight:
		return "8"
	case Nine:
		return "9"
	case Ten:
		return "T"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	case Ace:
		return "A"
	case Two:
		return "2"
	default:
		return "?"
	}
}

// Display returns the human-readable rank ("10" instead of "T")
func (r Rank) Display() string {
	if r == Ten {
		return "10"
	}
	return r.String()
}

// ParseRank parses a rank from its wire or display form
func ParseRank(s string) (Rank, error) {
	switch strings.ToUpper(s) {
	case "3":
		return Three, nil
	case "4":
		return Four, nil
	case "5":
		return Five, nil
	case "6":
		return Six, nil
	case "7":
		return Seven, nil
	case "8":
		return Eight, nil
	case "9":
		return Nine, nil
	case "T", "10":
		return Ten, nil
	case "J":
		return Jack, nil
	case "Q":
		return Queen, nil
	case "K":
		return King, nil
	case "A":
		return Ace, nil
	case "2":
		return Two, nil
	default:
		return 0, fmt.Errorf("invalid rank: %q", s)
	}
}

// Card represents a playing card
type Card struct {
	Rank Rank
	Suit Suit
}

// NewCard creates a new card
func NewCard(rank Rank, suit Suit) Card {
	return Card{Rank: rank, Suit: suit}
}

// ThreeOfClubs anchors the opening lead of every game.
var ThreeOfClubs = Card{Rank: Three, Suit: Clubs}

// Value returns the total-order value of the card: rank*4 + suit
func (c Card) Value() int {
	return int(c.Rank)*4 + int(c.Suit)
}

// String returns the display form of a card (e.g. "4H", "10S")
func (c Card) String() string {
	return c.Rank.Display() + c.Suit.String()
}

// ParseCard parses "4H", "10S" or "TS" into a card
func ParseCard(s string) (Card, error) {
	if len(s) < 2 {
		return Card{}, fmt.Errorf("invalid card: %q", s)
	}
	rank, err := ParseRank(s[:len(s)-1])
	if err != nil {
		return Card{}, fmt.Errorf("invalid card %q: %w", s, err)
	}
	suit, err := ParseSuit(s[len(s)-1:])
	if err != nil {
		return Card{}, fmt.Errorf("invalid card %q: %w", s, err)
	}
	return Card{Rank: rank, Suit: suit}, nil
}

// cardJSON is the wire form of a card: {"rank": "3", "suit": "C"}
type cardJSON struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

// MarshalJSON implements json.Marshaler
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(cardJSON{Rank: c.Rank.String(), Suit: c.Suit.String()})
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Card) UnmarshalJSON(data []byte) error {
	var cj cardJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	rank, err := ParseRank(cj.Rank)
	if err != nil {
		return err
	}
	suit, err := ParseSuit(cj.Suit)
	if err != nil {
		return err
	}
	c.Rank = rank
	c.Suit = suit
	return nil
}

// SortByValue sorts cards in place, lowest game value first
func SortByValue(cards []Card) {
	slices.SortFunc(cards, func(a, b Card) int {
		return a.Value() - b.Value()
	})
}
