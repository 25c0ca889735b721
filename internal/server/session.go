package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/presidente/internal/deck"
	"github.com/lox/presidente/internal/game"
	"github.com/lox/presidente/internal/playerid"
	"github.com/lox/presidente/internal/store"
)

// Production timer tuning. Every duration runs through the session's
// quartz.Clock so tests can drive them with a mock.
const (
	heartbeatScanInterval = 2 * time.Second
	heartbeatTimeout      = 7 * time.Second
	disconnectGrace       = 60 * time.Second
	nextGameDelay         = 13 * time.Second
	restartVoteWindow     = 30 * time.Second
	dickTagCooldown       = 15 * time.Second
)

// Handshake failures surfaced before a connection joins a session
var (
	errUnknownPlayer = errors.New("Unknown player; join from lobby first")
	errIDInUse       = errors.New("Id already in use")
)

// gracePeriod tracks one disconnected player's pending eviction
type gracePeriod struct {
	timer   *quartz.Timer
	started time.Time
}

// Session is the per-room coordinator. Every mutation of the room flows
// through its mutex: inbound commands, timer callbacks, and broadcasts all
// serialize here, so the rules engine below never sees concurrent access.
type Session struct {
	name    string
	logger  *log.Logger
	clock   quartz.Clock
	store   *store.Store
	engine  *game.Engine
	ids     *playerid.Generator
	onEmpty func(name string)

	mu            sync.Mutex
	room          *game.Room
	conns         map[string]*Connection
	lastHeartbeat map[string]time.Time
	grace         map[string]*gracePeriod
	vote          *restartVote
	nextGameTimer *quartz.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession loads (or initializes) the room blob and starts the heartbeat
// scan. onEmpty is invoked after the last player leaves and the room has
// been reset.
func NewSession(name string, st *store.Store, engine *game.Engine, ids *playerid.Generator, clock quartz.Clock, logger *log.Logger, onEmpty func(string)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		name:          name,
		logger:        logger.WithPrefix("session").With("room", name),
		clock:         clock,
		store:         st,
		engine:        engine,
		ids:           ids,
		onEmpty:       onEmpty,
		room:          st.Load(name),
		conns:         make(map[string]*Connection),
		lastHeartbeat: make(map[string]time.Time),
		grace:         make(map[string]*gracePeriod),
		ctx:           ctx,
		cancel:        cancel,
	}
	go s.runHeartbeatScan()
	return s
}

// Name returns the room name
func (s *Session) Name() string {
	return s.name
}

// Join resolves a player name to an id, creating the player when the name
// is new to the room. Called from the lobby HTTP handler.
func (s *Session) Join(playerName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.room.PlayerByName(playerName); existing != nil {
		return existing.ID
	}
	p := game.NewPlayer(s.ids.New(), playerName)
	s.room.Players = append(s.room.Players, p)
	s.saveLocked()
	s.logger.Info("Player joined via lobby", "player", playerName)
	return p.ID
}

// Attach registers a freshly upgraded connection with the session. The
// player must already exist in the room (via Join). A reconnect cancels any
// pending grace period.
func (s *Session) Attach(conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := conn.PlayerID()

	// Repair step: a blob written mid-game by an older server may miss game
	// players in the roster.
	if g := s.room.CurrentGame; g != nil {
		repaired := false
		for _, gp := range g.Players {
			if s.room.PlayerByID(gp.ID) == nil {
				s.room.Players = append(s.room.Players, gp)
				repaired = true
			}
		}
		if repaired {
			s.saveLocked()
		}
	}

	p := s.room.PlayerByID(pid)
	if p == nil {
		return errUnknownPlayer
	}
	if _, live := s.conns[pid]; live {
		return errIDInUse
	}

	s.cancelGraceLocked(pid)
	s.conns[pid] = conn
	s.lastHeartbeat[pid] = s.clock.Now()
	s.saveLocked()
	s.logger.Info("Player connected", "player", p.Name)

	_ = conn.Send(stateMessage{Type: MsgState, State: s.buildStateLocked(pid), PlayerID: pid})
	s.broadcastExceptLocked(pid, playerJoinedMessage{Type: MsgPlayerJoined, Player: playerRef{ID: p.ID, Name: p.Name}})
	s.broadcastStateLocked(pid)
	return nil
}

// Detach is called when a connection's read loop ends. A voluntary leave
// has already removed the player; otherwise a lobby player is removed
// immediately and an in-game player gets the reconnect grace period.
func (s *Session) Detach(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := conn.PlayerID()
	if s.conns[pid] != conn {
		return // superseded by a reconnect
	}
	delete(s.conns, pid)
	delete(s.lastHeartbeat, pid)

	if conn.leftVoluntarily.Load() {
		return
	}
	p := s.room.PlayerByID(pid)
	if p == nil {
		return
	}
	s.logger.Info("Player disconnected", "player", p.Name)

	if s.room.CurrentGame == nil {
		// Lobby: no grace period, remove immediately so the list updates.
		s.room.RemovePlayer(pid)
		if len(s.room.Players) == 0 {
			s.teardownLocked()
			return
		}
		s.saveLocked()
		s.broadcastStateLocked("")
		return
	}

	s.startGraceLocked(pid)
	s.broadcastStateLocked(pid)
	s.broadcastExceptLocked(pid, playerDisconnectedMessage{Type: MsgPlayerDisconnected, PlayerID: pid})
}

// HandleInbound processes one client command. Commands run to completion
// under the session lock, so the ack/broadcast for a command is enqueued
// before the next command from the same connection is looked at.
func (s *Session) HandleInbound(conn *Connection, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		_ = conn.Send(newErrorMessage(err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pid := conn.PlayerID()
	s.lastHeartbeat[pid] = s.clock.Now()
	// Any inbound traffic proves the player is alive again.
	if s.cancelGraceLocked(pid) && cmd.Type != CmdLeave {
		s.broadcastStateLocked("")
	}

	switch cmd.Type {
	case CmdHeartbeat:
		// timestamp refresh above is the whole job

	case CmdStateRequest:
		_ = conn.Send(stateMessage{Type: MsgState, State: s.buildStateLocked(pid), PlayerID: pid})

	case CmdLeave:
		s.leaveLocked(conn)

	case CmdPlay:
		if err := s.playLocked(pid, cmd.Cards); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		} else {
			s.saveLocked()
			s.broadcastStateLocked("")
		}

	case CmdPass:
		if err := s.passLocked(pid); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		} else {
			s.saveLocked()
			s.broadcastStateLocked("")
		}

	case CmdStartGame:
		if err := s.startGameLocked(); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		} else {
			s.saveLocked()
			s.broadcastStateLocked("")
		}

	case CmdClaimTrade:
		if err := s.claimTradeLocked(pid, cmd.Role); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		} else {
			s.saveLocked()
			s.broadcastStateLocked("")
		}

	case CmdRequestRestartVote:
		if err := s.requestRestartVoteLocked(pid); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		}

	case CmdRestartVote:
		if err := s.recordRestartVoteLocked(pid, cmd.Vote); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		}

	case CmdSpectatorPreference:
		if cmd.WantToPlay != nil {
			s.room.SpectatorPreferences[pid] = *cmd.WantToPlay
			s.saveLocked()
			s.broadcastStateLocked("")
		}

	case CmdTagDick:
		if err := s.tagDickLocked(pid, cmd.TargetPlayerID); err != nil {
			_ = conn.Send(newErrorMessage(err.Error()))
		} else {
			s.saveLocked()
			s.broadcastStateLocked("")
		}

	default:
		_ = conn.Send(newErrorMessage("Unknown command: " + cmd.Type))
	}
}

func (s *Session) playLocked(pid string, cards []deck.Card) error {
	g := s.room.CurrentGame
	if g == nil {
		return errors.New("No game in progress")
	}
	idx := g.PlayerIndex(pid)
	if idx < 0 {
		return game.ErrNotInGame
	}
	if len(cards) == 0 {
		return errors.New("No cards specified")
	}

	if err := s.engine.ApplyPlay(g, idx, deck.NewPlay(cards...)); err != nil {
		return err
	}

	if len(g.PlayersWithCards()) <= 1 {
		s.engine.CheckGameOver(g)
		s.saveLocked()
		s.logger.Info("Game over", "results", g.Results)
		s.broadcastLocked(gameOverMessage{Type: MsgGameOver, Results: g.Results})
		s.scheduleNextGameLocked()
	}
	return nil
}

func (s *Session) passLocked(pid string) error {
	g := s.room.CurrentGame
	if g == nil {
		return errors.New("No game in progress")
	}
	idx := g.PlayerIndex(pid)
	if idx < 0 {
		return game.ErrNotInGame
	}
	return s.engine.ApplyPass(g, idx)
}

func (s *Session) startGameLocked() error {
	if s.room.CurrentGame != nil {
		return errors.New("Game already in progress")
	}
	if len(s.room.Players) < 2 {
		return errors.New("Need at least 2 players")
	}

	prevEP, prevSH := "", ""
	for _, p := range s.room.Players {
		if p.PastAccolade == game.ElPresidente {
			prevEP = p.ID
		}
		if p.PastAccolade == game.Shithead {
			prevSH = p.ID
		}
	}

	g, err := s.engine.StartNewGame(s.room.Players, -1, prevEP, prevSH)
	if err != nil {
		return err
	}
	s.room.CurrentGame = g
	s.logger.Info("Game started", "players", len(g.Players), "phase", g.Phase)
	return nil
}

func (s *Session) claimTradeLocked(pid, role string) error {
	g := s.room.CurrentGame
	if g == nil {
		return errors.New("No game in progress")
	}
	if role != game.RolePresidente && role != game.RoleShithead {
		return game.ErrInvalidRole
	}
	return s.engine.ApplyClaimTrade(g, pid, role)
}

// tagDickLocked applies the single-slot room tag rules: free to assign when
// unheld, holder-only transfer after the cooldown, holder may self-clear.
func (s *Session) tagDickLocked(pid, targetID string) error {
	if targetID == "" {
		return errors.New("No target player specified")
	}
	if s.room.PlayerByID(targetID) == nil {
		return errors.New("Player not in room")
	}

	current := s.room.DickTaggedPlayerID
	if current == targetID {
		// Toggle off: only the holder clears it from themselves.
		if pid != current {
			return errors.New("Only the current holder can remove the plant")
		}
		s.room.DickTaggedPlayerID = ""
		s.room.DickTaggedAt = nil
		return nil
	}
	if targetID == pid {
		return errors.New("Cannot tag yourself")
	}
	if current == "" {
		now := s.clock.Now()
		s.room.DickTaggedPlayerID = targetID
		s.room.DickTaggedAt = &now
		return nil
	}
	if pid != current {
		return errors.New("Only the current holder can pass the plant")
	}
	if s.room.DickTaggedAt != nil {
		if elapsed := s.clock.Since(*s.room.DickTaggedAt); elapsed < dickTagCooldown {
			remaining := int((dickTagCooldown - elapsed).Seconds())
			return fmt.Errorf("Wait %ds before passing the plant", remaining)
		}
	}
	now := s.clock.Now()
	s.room.DickTaggedPlayerID = targetID
	s.room.DickTaggedAt = &now
	return nil
}

// leaveLocked handles a voluntary leave: ack, remove, close.
func (s *Session) leaveLocked(conn *Connection) {
	conn.leftVoluntarily.Store(true)
	_ = conn.Send(typeOnlyMessage{Type: MsgYouLeft})
	s.forceRemoveLocked(conn.PlayerID())
}

// forceRemoveLocked ejects a player from the game and the room, closing
// their socket if still attached. Tears the session down when the room
// empties.
func (s *Session) forceRemoveLocked(pid string) {
	s.cancelGraceLocked(pid)
	delete(s.lastHeartbeat, pid)

	if g := s.room.CurrentGame; g != nil {
		if idx := g.PlayerIndex(pid); idx >= 0 {
			ended := s.engine.RemovePlayer(g, idx)
			if ended {
				if len(g.Players) == 0 {
					s.room.CurrentGame = nil
				}
				s.saveLocked()
				s.broadcastLocked(gameOverMessage{Type: MsgGameOver, Results: g.Results})
				s.scheduleNextGameLocked()
			} else {
				s.saveLocked()
				s.broadcastStateLocked("")
			}
		}
	}

	s.room.RemovePlayer(pid)
	if conn, ok := s.conns[pid]; ok {
		delete(s.conns, pid)
		_ = conn.Close()
	}
	s.logger.Info("Player removed", "player", pid)

	if len(s.room.Players) == 0 {
		s.teardownLocked()
		return
	}
	s.saveLocked()
	s.broadcastStateLocked("")
}

// scheduleNextGameLocked arms the single next-game timer, replacing any
// pending one.
func (s *Session) scheduleNextGameLocked() {
	s.cancelNextGameLocked()
	s.nextGameTimer = s.clock.AfterFunc(nextGameDelay, s.startNextGame)
}

func (s *Session) cancelNextGameLocked() {
	if s.nextGameTimer != nil {
		s.nextGameTimer.Stop()
		s.nextGameTimer = nil
	}
}

// startNextGame runs when the score-screen delay elapses. It rolls
// accolades forward, merges in spectators who want a seat, and deals the
// next game.
func (s *Session) startNextGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGameTimer = nil

	g := s.room.CurrentGame
	if g == nil {
		return
	}

	prevDealer := g.DealerIdx
	prevEP, prevSH := "", ""
	for _, p := range g.Players {
		if p.Accolade == game.ElPresidente {
			prevEP = p.ID
		}
		if p.Accolade == game.Shithead {
			prevSH = p.ID
		}
	}
	// Roll the just-earned accolades into past accolades for the next deal.
	for _, rp := range s.room.Players {
		for _, gp := range g.Players {
			if gp.ID == rp.ID {
				rp.PastAccolade = gp.Accolade
				break
			}
		}
	}
	for _, gp := range g.Players {
		gp.PastAccolade = gp.Accolade
	}

	if len(s.room.Players) < 2 {
		s.room.CurrentGame = nil
		s.saveLocked()
		s.logger.Info("Next game skipped, not enough players")
		s.broadcastStateLocked("")
		return
	}

	players := s.nextGameRosterLocked(g)
	if len(players) < 2 {
		s.room.CurrentGame = nil
		s.saveLocked()
		s.logger.Info("Next game skipped, not enough willing players")
		s.broadcastStateLocked("")
		return
	}

	next, err := s.engine.StartNewGame(players, prevDealer, prevEP, prevSH)
	if err != nil {
		s.room.CurrentGame = nil
		s.saveLocked()
		s.logger.Error("Failed to start next game", "error", err)
		s.broadcastStateLocked("")
		return
	}
	s.room.CurrentGame = next
	s.saveLocked()
	s.logger.Info("Next game started", "players", len(next.Players), "phase", next.Phase)
	s.broadcastStateLocked("")
}

// nextGameRosterLocked merges the current game's players with spectators
// who opted in, capped at the table limit.
func (s *Session) nextGameRosterLocked(g *game.Game) []*game.Player {
	inGame := make(map[string]bool, len(g.Players))
	for _, p := range g.Players {
		inGame[p.ID] = true
	}
	players := make([]*game.Player, len(g.Players))
	copy(players, g.Players)
	for _, p := range s.room.Players {
		if len(players) >= game.MaxPlayers {
			break
		}
		if !inGame[p.ID] && s.room.WantsToPlay(p.ID) {
			players = append(players, p)
		}
	}
	return players
}

// teardownLocked resets the room blob and retires the session. All timers
// die with the session.
func (s *Session) teardownLocked() {
	s.cancel()
	s.cancelNextGameLocked()
	s.cancelVoteLocked()
	for pid := range s.grace {
		s.cancelGraceLocked(pid)
	}
	for pid, conn := range s.conns {
		delete(s.conns, pid)
		_ = conn.Close()
	}

	fresh := game.NewRoom(s.name)
	s.room = fresh
	if err := s.store.Save(fresh); err != nil {
		s.logger.Error("Failed to reset room blob", "error", err)
	}
	s.logger.Info("Room reinitialized, all players left")
	if s.onEmpty != nil {
		s.onEmpty(s.name)
	}
}

// saveLocked persists the room. A failed write is logged and the in-memory
// state stays authoritative.
func (s *Session) saveLocked() {
	if err := s.store.Save(s.room); err != nil {
		s.logger.Error("Failed to persist room", "error", err)
	}
}

// broadcastLocked fans a message out to every connection, swallowing
// per-recipient failures.
func (s *Session) broadcastLocked(msg any) {
	for _, conn := range s.conns {
		if err := conn.Send(msg); err != nil {
			s.logger.Debug("Failed to send to recipient", "player", conn.PlayerID(), "error", err)
		}
	}
}

// broadcastExceptLocked fans a message out to everyone but excludeID
func (s *Session) broadcastExceptLocked(excludeID string, msg any) {
	for pid, conn := range s.conns {
		if pid == excludeID {
			continue
		}
		if err := conn.Send(msg); err != nil {
			s.logger.Debug("Failed to send to recipient", "player", pid, "error", err)
		}
	}
}

// broadcastStateLocked sends each recipient their own filtered view.
// excludeID may be empty to include everyone.
func (s *Session) broadcastStateLocked(excludeID string) {
	for pid, conn := range s.conns {
		if pid == excludeID {
			continue
		}
		msg := stateMessage{Type: MsgState, State: s.buildStateLocked(pid), PlayerID: pid}
		if err := conn.Send(msg); err != nil {
			s.logger.Debug("Failed to send state", "player", pid, "error", err)
		}
	}
}
