package server

// Client-facing state projection. The projector never leaks another
// player's cards: hands are attached only to the recipient's own entry, and
// trade cards stay face down for anyone who is not a trading party.

import (
	"github.com/lox/presidente/internal/deck"
	"github.com/lox/presidente/internal/game"
)

type lobbyPlayerView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	PastAccolade game.Accolade `json:"past_accolade"`
}

type lobbyStateView struct {
	Phase              string            `json:"phase"`
	Room               string            `json:"room"`
	Players            []lobbyPlayerView `json:"players"`
	DickTaggedPlayerID string            `json:"dick_tagged_player_id,omitempty"`
}

type playerView struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	PastAccolade   game.Accolade `json:"past_accolade"`
	Accolade       game.Accolade `json:"accolade"`
	CardCount      int           `json:"card_count"`
	InResults      bool          `json:"in_results"`
	ResultPosition int           `json:"result_position,omitempty"`
	Disconnected   bool          `json:"disconnected"`
	Hand           []deck.Card   `json:"hand,omitempty"`
}

type roundView struct {
	StartingPlayerIdx int       `json:"starting_player_idx"`
	LastPlayPlayerIdx int       `json:"last_play_player_idx"`
	Pile              deck.Pile `json:"pile"`
}

type tradingView struct {
	HighCard   *deck.Card `json:"high_card"`
	LowCard    *deck.Card `json:"low_card"`
	EPClaimed  bool       `json:"ep_claimed"`
	SHClaimed  bool       `json:"sh_claimed"`
	FaceDown   bool       `json:"face_down"`
	TradeCount int        `json:"trade_count"`
}

type waitingView struct {
	PlayerName       string `json:"player_name"`
	SecondsRemaining int    `json:"seconds_remaining"`
}

type gameStateView struct {
	Phase                  string         `json:"phase"`
	Room                   string         `json:"room"`
	DealerIdx              int            `json:"dealer_idx"`
	CurrentPlayerIdx       int            `json:"current_player_idx"`
	Players                []playerView   `json:"players"`
	Round                  roundView      `json:"round"`
	RoundsCompleted        int            `json:"rounds_completed"`
	Results                []string       `json:"results"`
	PassedThisRound        []int          `json:"passed_this_round"`
	ValidPlays             [][]deck.Card  `json:"valid_plays"`
	Trading                *tradingView   `json:"trading"`
	DickTaggedPlayerID     string         `json:"dick_tagged_player_id,omitempty"`
	WaitingForDisconnected *waitingView   `json:"waiting_for_disconnected"`
	Spectator              bool           `json:"spectator"`
	WantsToPlay            *bool          `json:"wants_to_play,omitempty"`
}

// buildStateLocked projects the room for one recipient. An empty playerID
// yields the spectator view.
func (s *Session) buildStateLocked(playerID string) any {
	g := s.room.CurrentGame
	if g == nil || len(g.Players) == 0 {
		return s.buildLobbyStateLocked(playerID)
	}

	playerIdx := g.PlayerIndex(playerID)

	players := make([]playerView, 0, len(g.Players))
	for i, p := range g.Players {
		_, disconnected := s.grace[p.ID]
		pos := g.ResultPosition(p.ID)
		pv := playerView{
			ID:             p.ID,
			Name:           p.Name,
			PastAccolade:   p.PastAccolade,
			Accolade:       p.Accolade,
			CardCount:      len(p.Hand),
			InResults:      pos > 0,
			ResultPosition: pos,
			Disconnected:   disconnected,
		}
		if i == playerIdx {
			pv.Hand = p.HandSorted()
		}
		players = append(players, pv)
	}

	validPlays := [][]deck.Card{}
	if playerIdx >= 0 && g.CurrentPlayerIdx == playerIdx && g.Phase == game.Playing {
		current := g.Round.Pile.CurrentPlay()
		must3C := current.Empty() && g.Round.StartingPlayerIdx == playerIdx && g.RoundsCompleted == 0
		combos := game.ValidPlays(g.Players[playerIdx].Hand, current, len(current.Cards), must3C)
		if combos != nil {
			validPlays = combos
		}
	}

	results := g.Results
	if results == nil {
		results = []string{}
	}

	state := &gameStateView{
		Phase:            string(g.Phase),
		Room:             s.room.Name,
		DealerIdx:        g.DealerIdx,
		CurrentPlayerIdx: g.CurrentPlayerIdx,
		Players:          players,
		Round: roundView{
			StartingPlayerIdx: g.Round.StartingPlayerIdx,
			LastPlayPlayerIdx: g.Round.LastPlayPlayerIdx,
			Pile:              g.Round.Pile,
		},
		RoundsCompleted:    g.RoundsCompleted,
		Results:            results,
		PassedThisRound:    g.PassedThisRound.Sorted(),
		ValidPlays:         validPlays,
		DickTaggedPlayerID: s.room.DickTaggedPlayerID,
	}

	if g.Phase == game.Trading {
		state.Trading = buildTradingView(g, playerIdx)
	}

	// Surface the countdown when everyone is waiting on a disconnected
	// player to take their turn.
	if g.Phase == game.Playing && g.CurrentPlayerIdx >= 0 && g.CurrentPlayerIdx < len(g.Players) {
		current := g.Players[g.CurrentPlayerIdx]
		if secs := s.graceRemainingLocked(current.ID); secs >= 0 {
			state.WaitingForDisconnected = &waitingView{
				PlayerName:       current.Name,
				SecondsRemaining: secs,
			}
		}
	}

	state.Spectator = playerIdx < 0
	if state.Spectator && playerID != "" {
		want := s.room.WantsToPlay(playerID)
		state.WantsToPlay = &want
	}
	return state
}

// buildLobbyStateLocked lists only players with a live connection, plus the
// recipient, so stale roster entries never linger in the lobby list.
func (s *Session) buildLobbyStateLocked(playerID string) *lobbyStateView {
	players := make([]lobbyPlayerView, 0, len(s.room.Players))
	for _, p := range s.room.Players {
		_, live := s.conns[p.ID]
		if !live && p.ID != playerID {
			continue
		}
		players = append(players, lobbyPlayerView{ID: p.ID, Name: p.Name, PastAccolade: p.PastAccolade})
	}
	return &lobbyStateView{
		Phase:              "no_game",
		Room:               s.room.Name,
		Players:            players,
		DickTaggedPlayerID: s.room.DickTaggedPlayerID,
	}
}

// buildTradingView shows the parked trade cards face up only to the trading
// parties; everyone else sees counts and claim flags.
func buildTradingView(g *game.Game, playerIdx int) *tradingView {
	faceUp := false
	if playerIdx >= 0 {
		pa := g.Players[playerIdx].PastAccolade
		faceUp = pa == game.ElPresidente || pa == game.Shithead
	}
	tv := &tradingView{
		EPClaimed: g.TradeEPClaimed,
		SHClaimed: g.TradeSHClaimed,
		FaceDown:  !faceUp,
	}
	if g.TradeHighCard != nil {
		tv.TradeCount++
		if faceUp {
			tv.HighCard = g.TradeHighCard
		}
	}
	if g.TradeLowCard != nil {
		tv.TradeCount++
		if faceUp {
			tv.LowCard = g.TradeLowCard
		}
	}
	return tv
}
