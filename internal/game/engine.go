package game

import (
	"errors"
	rand "math/rand/v2"

	"github.com/lox/presidente/internal/deck"
)

// Rule violations surfaced to clients. The messages are user-visible and
// sent verbatim in error frames.
var (
	ErrNotPlayingPhase = errors.New("Not in playing phase")
	ErrNotTradingPhase = errors.New("Not in trading phase")
	ErrNotYourTurn     = errors.New("Not your turn")
	ErrInvalidPlay     = errors.New("Invalid play")
	ErrMustPlay3C      = errors.New("Must play 3C in first play")
	ErrCardNotInHand   = errors.New("Card not in hand")
	ErrNoTrade         = errors.New("No trade in progress")
	ErrNotInGame       = errors.New("You are not in this game")
	ErrAlreadyClaimed  = errors.New("Already claimed")
	ErrNoCardToClaim   = errors.New("No card to claim")
	ErrInvalidRole     = errors.New("Invalid role")
	ErrOnlyEPClaims    = errors.New("Only El Presidente can claim the high card")
	ErrOnlySHClaims    = errors.New("Only Shithead can claim the low card")
	ErrPlayerCount     = errors.New("Need 2-7 players")
)

// Trade claim roles accepted over the wire
const (
	RolePresidente = "presidente"
	RoleShithead   = "shithead"
)

// MaxPlayers is the hard cap on seats in a game
const MaxPlayers = 7

// Engine applies the rules of the game to a Game. All methods mutate the
// passed state in place; the caller owns serialization and persistence.
type Engine struct {
	rng *rand.Rand
}

// NewEngine creates an engine dealing from the given random source
func NewEngine(rng *rand.Rand) *Engine {
	return &Engine{rng: rng}
}

// StartNewGame deals a new game for the given room players. prevDealerIdx is
// -1 when there is no previous game; prevEPID/prevSHID carry the previous
// game's El Presidente and Shithead ids and trigger the trading phase when
// both players are at the table.
func (e *Engine) StartNewGame(roomPlayers []*Player, prevDealerIdx int, prevEPID, prevSHID string) (*Game, error) {
	n := len(roomPlayers)
	if n < 2 || n > MaxPlayers {
		return nil, ErrPlayerCount
	}

	players := make([]*Player, 0, n)
	for _, rp := range roomPlayers {
		players = append(players, &Player{
			ID:           rp.ID,
			Name:         rp.Name,
			PastAccolade: rp.PastAccolade,
			Accolade:     Pleb,
		})
	}

	dealerIdx := 0
	if prevDealerIdx >= 0 {
		dealerIdx = (prevDealerIdx + 1) % n
	}

	d := deck.New()
	d.Shuffle(e.rng)
	if n == 2 {
		e.dealTwoPlayer(d, players)
	} else {
		idx := 0
		for {
			c, ok := d.Deal()
			if !ok {
				break
			}
			players[idx%n].Hand = append(players[idx%n].Hand, c)
			idx++
		}
	}
	for _, p := range players {
		deck.SortByValue(p.Hand)
	}

	phase := Playing
	epIdx, shIdx := -1, -1
	if prevEPID != "" && prevSHID != "" {
		for i, p := range players {
			if p.ID == prevEPID {
				epIdx = i
			}
			if p.ID == prevSHID {
				shIdx = i
			}
		}
		if epIdx >= 0 && shIdx >= 0 {
			phase = Trading
		}
	}

	g := &Game{
		DealerIdx:       dealerIdx,
		Players:         players,
		Round:           Round{StartingPlayerIdx: 0, LastPlayPlayerIdx: -1},
		Phase:           phase,
		Results:         []string{},
		PassedThisRound: make(IndexSet),
	}

	if phase == Playing {
		g.Round.StartingPlayerIdx = holderOf3C(players)
		g.CurrentPlayerIdx = g.Round.StartingPlayerIdx
	} else {
		ep := players[epIdx]
		sh := players[shIdx]
		if high, ok := highestCard(sh.Hand); ok {
			sh.removeCard(high)
			g.TradeHighCard = &high
		}
		if low, ok := lowestCard(ep.Hand); ok {
			ep.removeCard(low)
			g.TradeLowCard = &low
		}
	}

	return g, nil
}

// dealTwoPlayer deals into a repeating (p0, p1, skip) pattern so 17 cards
// stay out of play. The 3C must be in play because it anchors the opening
// lead, so a 3C landing on a skip slot goes to the current player instead.
func (e *Engine) dealTwoPlayer(d *deck.Deck, players []*Player) {
	cardIndex := 0
	playerIdx := 0
	for {
		c, ok := d.Deal()
		if !ok {
			break
		}
		skipSlot := cardIndex%3 == 2
		switch {
		case skipSlot && c == deck.ThreeOfClubs:
			players[playerIdx%2].Hand = append(players[playerIdx%2].Hand, c)
			playerIdx++
		case !skipSlot:
			players[playerIdx%2].Hand = append(players[playerIdx%2].Hand, c)
			playerIdx++
		}
		cardIndex++
	}
}

// holderOf3C returns the index of the player holding the 3 of clubs, or 0
func holderOf3C(players []*Player) int {
	for i, p := range players {
		if p.HasCard(deck.ThreeOfClubs) {
			return i
		}
	}
	return 0
}

// ApplyPlay validates and applies a play by the player at playerIdx.
func (e *Engine) ApplyPlay(g *Game, playerIdx int, play deck.Play) error {
	if g.Phase != Playing {
		return ErrNotPlayingPhase
	}
	if g.CurrentPlayerIdx != playerIdx {
		return ErrNotYourTurn
	}

	current := g.Round.Pile.CurrentPlay()
	numRequired := len(current.Cards)
	isFirstPlay := current.Empty()
	must3C := isFirstPlay && g.Round.StartingPlayerIdx == playerIdx && g.RoundsCompleted == 0

	if !IsValidPlay(play, current, numRequired) {
		return ErrInvalidPlay
	}
	if must3C && !includes3C(play.Cards) {
		return ErrMustPlay3C
	}

	player := g.Players[playerIdx]
	for _, c := range play.Cards {
		if !player.removeCard(c) {
			return ErrCardNotInHand
		}
	}

	g.Round.Pile.AddPlay(play)
	g.Round.LastPlayPlayerIdx = playerIdx
	// A played card reopens the trick: passing only skipped the current play.
	g.PassedThisRound.Clear()

	if len(player.Hand) == 0 {
		g.Results = append(g.Results, player.ID)
		// If nobody else holds cards, the round ends without a pass cycle.
		othersWithCards := false
		for i, p := range g.Players {
			if i != playerIdx && len(p.Hand) > 0 {
				othersWithCards = true
				break
			}
		}
		if !othersWithCards {
			e.startNewRound(g, g.roundWinner(playerIdx))
			return nil
		}
	}

	n := len(g.Players)
	nextIdx := (playerIdx + 1) % n
	for nextIdx != playerIdx {
		if !g.PassedThisRound.Has(nextIdx) && len(g.Players[nextIdx].Hand) > 0 {
			break
		}
		nextIdx = (nextIdx + 1) % n
	}

	switch {
	case nextIdx == playerIdx:
		e.startNewRound(g, g.roundWinner(playerIdx))
	case len(g.Players[nextIdx].Hand) == 0:
		e.startNewRound(g, g.roundWinner(playerIdx))
	default:
		g.CurrentPlayerIdx = nextIdx
	}
	return nil
}

// ApplyPass records a pass by the player at playerIdx.
func (e *Engine) ApplyPass(g *Game, playerIdx int) error {
	if g.Phase != Playing {
		return ErrNotPlayingPhase
	}
	if g.CurrentPlayerIdx != playerIdx {
		return ErrNotYourTurn
	}

	g.PassedThisRound.Add(playerIdx)
	n := len(g.Players)

	// The round is over once every player has either passed or run out.
	inPlay := 0
	for i, p := range g.Players {
		if len(p.Hand) > 0 && !g.PassedThisRound.Has(i) {
			inPlay++
		}
	}
	if inPlay == 0 {
		e.startNewRound(g, g.roundWinner(playerIdx))
		return nil
	}

	nextIdx := (playerIdx + 1) % n
	for nextIdx != playerIdx {
		if !g.PassedThisRound.Has(nextIdx) && len(g.Players[nextIdx].Hand) > 0 {
			break
		}
		nextIdx = (nextIdx + 1) % n
	}

	if nextIdx == playerIdx {
		e.startNewRound(g, g.roundWinner(playerIdx))
		return nil
	}
	// Never give the turn to a player with no cards; end the round instead.
	if len(g.Players[nextIdx].Hand) == 0 {
		e.startNewRound(g, g.roundWinner(playerIdx))
		return nil
	}
	g.CurrentPlayerIdx = nextIdx
	return nil
}

// roundWinner resolves who won the trick: the last player to land a play,
// or fallback when no play landed this round.
func (g *Game) roundWinner(fallback int) int {
	if g.Round.LastPlayPlayerIdx >= 0 {
		return g.Round.LastPlayPlayerIdx
	}
	return fallback
}

// startNewRound clears the trick and hands the lead to the winner, or the
// next player with cards when the winner has gone out.
func (e *Engine) startNewRound(g *Game, winnerIdx int) {
	g.RoundsCompleted++
	g.Round.Pile.Clear()
	g.Round.LastPlayPlayerIdx = -1
	g.PassedThisRound.Clear()

	n := len(g.Players)
	startIdx := winnerIdx
	if len(g.Players[winnerIdx].Hand) == 0 {
		startIdx = (winnerIdx + 1) % n
		for startIdx != winnerIdx && len(g.Players[startIdx].Hand) == 0 {
			startIdx = (startIdx + 1) % n
		}
		if startIdx == winnerIdx {
			startIdx = (winnerIdx + 1) % n
		}
	}
	g.Round.StartingPlayerIdx = startIdx
	g.CurrentPlayerIdx = startIdx
}

// CheckGameOver detects the end of the game: at most one player still holds
// cards. The last holder (if any) is appended to the results and accolades
// are assigned. Returns true when the game ended.
func (e *Engine) CheckGameOver(g *Game) bool {
	holders := g.PlayersWithCards()
	if len(holders) > 1 {
		return false
	}
	if len(holders) == 1 {
		g.Results = append(g.Results, g.Players[holders[0]].ID)
	}
	e.AssignAccolades(g)
	return true
}

// AssignAccolades labels the players by finish order: first is El
// Presidente, last is Shithead, second is VP, the rest Plebs. Players
// missing from the results (ejected mid-game) are Shitheads.
func (e *Engine) AssignAccolades(g *Game) {
	n := len(g.Players)
	for i, pid := range g.Results {
		idx := g.PlayerIndex(pid)
		if idx < 0 {
			continue
		}
		switch {
		case i == 0:
			g.Players[idx].Accolade = ElPresidente
		case i == n-1:
			g.Players[idx].Accolade = Shithead
		case i == 1:
			g.Players[idx].Accolade = VP
		default:
			g.Players[idx].Accolade = Pleb
		}
	}
	for _, p := range g.Players {
		if g.ResultPosition(p.ID) == 0 {
			p.Accolade = Shithead
		}
	}
}

// ApplyClaimTrade moves a parked trade card into the claimant's hand. role
// is RolePresidente or RoleShithead and must match the claimant's past
// accolade. When both roles have claimed, play begins with the 3C holder.
func (e *Engine) ApplyClaimTrade(g *Game, playerID, role string) error {
	if g.Phase != Trading {
		return ErrNotTradingPhase
	}
	epIdx := g.accoladeIndex(ElPresidente)
	shIdx := g.accoladeIndex(Shithead)
	if epIdx < 0 || shIdx < 0 {
		return ErrNoTrade
	}
	playerIdx := g.PlayerIndex(playerID)
	if playerIdx < 0 {
		return ErrNotInGame
	}

	switch role {
	case RolePresidente:
		if playerIdx != epIdx {
			return ErrOnlyEPClaims
		}
		if g.TradeEPClaimed {
			return ErrAlreadyClaimed
		}
		if g.TradeHighCard == nil {
			return ErrNoCardToClaim
		}
		ep := g.Players[epIdx]
		ep.Hand = append(ep.Hand, *g.TradeHighCard)
		deck.SortByValue(ep.Hand)
		g.TradeHighCard = nil
		g.TradeEPClaimed = true
	case RoleShithead:
		if playerIdx != shIdx {
			return ErrOnlySHClaims
		}
		if g.TradeSHClaimed {
			return ErrAlreadyClaimed
		}
		if g.TradeLowCard == nil {
			return ErrNoCardToClaim
		}
		sh := g.Players[shIdx]
		sh.Hand = append(sh.Hand, *g.TradeLowCard)
		deck.SortByValue(sh.Hand)
		g.TradeLowCard = nil
		g.TradeSHClaimed = true
	default:
		return ErrInvalidRole
	}

	if g.TradeEPClaimed && g.TradeSHClaimed {
		g.Phase = Playing
		g.Round.StartingPlayerIdx = holderOf3C(g.Players)
		g.CurrentPlayerIdx = g.Round.StartingPlayerIdx
	}
	return nil
}

// RemovePlayer ejects the player at playerIdx mid-game. Their cards vanish
// from play and every stored index shifts to the post-removal numbering. If
// it was their turn, the next surviving player in circular order acts.
// Returns true when the game ended because fewer than two players remain.
func (e *Engine) RemovePlayer(g *Game, playerIdx int) bool {
	n := len(g.Players)
	if playerIdx < 0 || playerIdx >= n {
		return false
	}
	removedID := g.Players[playerIdx].ID
	g.Players = append(g.Players[:playerIdx], g.Players[playerIdx+1:]...)

	shift := func(i int) int {
		if i == playerIdx {
			return -1
		}
		if i > playerIdx {
			return i - 1
		}
		return i
	}

	nn := len(g.Players)
	if nn == 0 {
		return true
	}

	g.CurrentPlayerIdx = shift(g.CurrentPlayerIdx)
	if g.CurrentPlayerIdx == -1 || g.CurrentPlayerIdx >= nn {
		// It was the ejected player's turn: hand it to the next seat in the
		// old circular order, renumbered.
		nextOld := (playerIdx + 1) % n
		newIdx := nextOld
		if nextOld > playerIdx {
			newIdx = nextOld - 1
		}
		if newIdx >= nn {
			newIdx = 0
		}
		g.CurrentPlayerIdx = newIdx
	}

	g.DealerIdx = shift(g.DealerIdx)
	if g.DealerIdx < 0 {
		g.DealerIdx = 0
	}
	g.Round.StartingPlayerIdx = shift(g.Round.StartingPlayerIdx)
	if g.Round.StartingPlayerIdx < 0 {
		g.Round.StartingPlayerIdx = 0
	}

	results := g.Results[:0]
	for _, pid := range g.Results {
		if pid != removedID {
			results = append(results, pid)
		}
	}
	g.Results = results

	passed := make(IndexSet, len(g.PassedThisRound))
	for i := range g.PassedThisRound {
		if s := shift(i); s >= 0 {
			passed.Add(s)
		}
	}
	g.PassedThisRound = passed

	if g.Round.LastPlayPlayerIdx == playerIdx {
		g.Round.LastPlayPlayerIdx = -1
	} else {
		g.Round.LastPlayPlayerIdx = shift(g.Round.LastPlayPlayerIdx)
	}

	if nn < 2 {
		if nn == 1 {
			g.Results = append(g.Results, g.Players[0].ID)
		}
		e.AssignAccolades(g)
		return true
	}
	return false
}
