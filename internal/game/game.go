package game

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lox/presidente/internal/deck"
)

// IndexSet is a set of player indices. It serializes as a sorted JSON array
// so room blobs stay stable across saves.
type IndexSet map[int]bool

// Add inserts an index into the set
func (s IndexSet) Add(i int) { s[i] = true }

// Has reports whether the set contains the index
func (s IndexSet) Has(i int) bool { return s[i] }

// Clear empties the set in place
func (s IndexSet) Clear() {
	for k := range s {
		delete(s, k)
	}
}

// Sorted returns the members in ascending order
func (s IndexSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// MarshalJSON implements json.Marshaler
func (s IndexSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler
func (s *IndexSet) UnmarshalJSON(data []byte) error {
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	*s = make(IndexSet, len(indices))
	for _, i := range indices {
		(*s)[i] = true
	}
	return nil
}

// Round is one trick: a starting player and the pile of plays made so far.
// LastPlayPlayerIdx is -1 until a play lands.
type Round struct {
	StartingPlayerIdx int       `json:"starting_player_idx"`
	Pile              deck.Pile `json:"pile"`
	LastPlayPlayerIdx int       `json:"last_play_player_idx"`
}

// Game is the full state of one game in progress
type Game struct {
	DealerIdx        int        `json:"dealer_idx"`
	CurrentPlayerIdx int        `json:"current_player_idx"`
	Players          []*Player  `json:"players"`
	Round            Round      `json:"round"`
	Phase            Phase      `json:"phase"`
	Results          []string   `json:"results"`
	PassedThisRound  IndexSet   `json:"passed_this_round"`
	RoundsCompleted  int        `json:"rounds_completed"`
	TradeHighCard    *deck.Card `json:"trade_high_card"`
	TradeLowCard     *deck.Card `json:"trade_low_card"`
	TradeEPClaimed   bool       `json:"trade_ep_claimed"`
	TradeSHClaimed   bool       `json:"trade_sh_claimed"`
}

// PlayerIndex returns the index of the player with the given id, or -1
func (g *Game) PlayerIndex(playerID string) int {
	for i, p := range g.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// ResultPosition returns the 1-based finish position for a player id, or 0
// when the player has not finished.
func (g *Game) ResultPosition(playerID string) int {
	for i, id := range g.Results {
		if id == playerID {
			return i + 1
		}
	}
	return 0
}

// PlayersWithCards returns the indices of players still holding cards
func (g *Game) PlayersWithCards() []int {
	var out []int
	for i, p := range g.Players {
		if len(p.Hand) > 0 {
			out = append(out, i)
		}
	}
	return out
}

// accoladeIndex returns the index of the player whose past accolade matches,
// or -1.
func (g *Game) accoladeIndex(a Accolade) int {
	for i, p := range g.Players {
		if p.PastAccolade == a {
			return i
		}
	}
	return -1
}

// Room is where players gather; one game at a time. The player list includes
// spectators.
type Room struct {
	Name                 string          `json:"name"`
	CurrentGame          *Game           `json:"current_game"`
	Players              []*Player       `json:"players"`
	SpectatorPreferences map[string]bool `json:"spectator_preferences"`
	DickTaggedPlayerID   string          `json:"dick_tagged_player_id,omitempty"`
	DickTaggedAt         *time.Time      `json:"dick_tagged_at,omitempty"`
}

// NewRoom creates an empty room with the given name
func NewRoom(name string) *Room {
	return &Room{
		Name:                 name,
		SpectatorPreferences: make(map[string]bool),
	}
}

// PlayerByID returns the room player with the given id, or nil
func (r *Room) PlayerByID(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerByName returns the room player with the given name, or nil
func (r *Room) PlayerByName(name string) *Player {
	for _, p := range r.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// RemovePlayer drops a player from the room roster, their spectator
// preference, and the dick tag if they held it.
func (r *Room) RemovePlayer(id string) {
	for i, p := range r.Players {
		if p.ID == id {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}
	delete(r.SpectatorPreferences, id)
	if r.DickTaggedPlayerID == id {
		r.DickTaggedPlayerID = ""
		r.DickTaggedAt = nil
	}
}

// WantsToPlay reports whether a spectator asked to be dealt into the next
// game. Unset means yes.
func (r *Room) WantsToPlay(id string) bool {
	want, ok := r.SpectatorPreferences[id]
	if !ok {
		return true
	}
	return want
}
