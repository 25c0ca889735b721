package server

import (
	"errors"

	"github.com/coder/quartz"

	"github.com/lox/presidente/internal/game"
)

// restartVote tracks one in-flight vote to abandon the current game and
// redeal. Only players seated in the game may vote; the initiator's yes is
// recorded up front.
type restartVote struct {
	initiatorID   string
	initiatorName string
	votes         map[string]string
	timer         *quartz.Timer
}

func (s *Session) requestRestartVoteLocked(pid string) error {
	g := s.room.CurrentGame
	if g == nil {
		return errors.New("No game in progress")
	}
	p := s.room.PlayerByID(pid)
	if p == nil || g.PlayerIndex(pid) < 0 {
		return game.ErrNotInGame
	}
	// At most one vote per room; a new request supersedes any prior one.
	s.cancelVoteLocked()

	v := &restartVote{
		initiatorID:   pid,
		initiatorName: p.Name,
		votes:         map[string]string{pid: "yes"},
	}
	v.timer = s.clock.AfterFunc(restartVoteWindow, s.restartVoteTimedOut)
	s.vote = v
	s.logger.Info("Restart vote requested", "initiator", p.Name)
	s.broadcastExceptLocked(pid, voteRequestedMessage{Type: MsgRestartVoteRequested, InitiatorName: p.Name})
	s.resolveVoteLocked(false)
	return nil
}

func (s *Session) recordRestartVoteLocked(pid, vote string) error {
	if s.vote == nil {
		return errors.New("No restart vote in progress")
	}
	g := s.room.CurrentGame
	if g == nil || g.PlayerIndex(pid) < 0 {
		return game.ErrNotInGame
	}
	if vote != "yes" && vote != "no" {
		return errors.New("Vote must be yes or no")
	}
	if _, voted := s.vote.votes[pid]; voted {
		return errors.New("You have already voted")
	}
	s.vote.votes[pid] = vote
	s.resolveVoteLocked(false)
	return nil
}

// resolveVoteLocked decides the vote once the outcome is mathematically
// settled. With two players the vote must be unanimous; otherwise a
// majority of seated players carries it. On timeout every missing ballot
// counts as a no.
func (s *Session) resolveVoteLocked(timedOut bool) {
	v := s.vote
	if v == nil {
		return
	}
	g := s.room.CurrentGame
	if g == nil {
		s.cancelVoteLocked()
		return
	}

	n := len(g.Players)
	needed := (n + 1) / 2
	if n == 2 {
		needed = 2
	}

	var yes, no int
	for _, p := range g.Players {
		switch v.votes[p.ID] {
		case "yes":
			yes++
		case "no":
			no++
		default:
			if timedOut {
				no++
			}
		}
	}

	switch {
	case yes >= needed:
		s.cancelVoteLocked()
		s.logger.Info("Restart vote passed", "yes", yes, "needed", needed)
		s.broadcastLocked(typeOnlyMessage{Type: MsgRestartVotePassed})
		s.restartGameLocked()
	case no > n-needed:
		s.cancelVoteLocked()
		s.logger.Info("Restart vote rejected", "no", no)
		s.broadcastLocked(typeOnlyMessage{Type: MsgRestartVoteRejected})
	}
}

func (s *Session) restartVoteTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vote == nil {
		return
	}
	s.logger.Info("Restart vote timed out")
	s.resolveVoteLocked(true)
}

func (s *Session) cancelVoteLocked() {
	if s.vote == nil {
		return
	}
	s.vote.timer.Stop()
	s.vote = nil
}

// restartGameLocked abandons the current game and deals a fresh one with no
// trading phase and accolades wiped, merging in spectators who want a seat.
func (s *Session) restartGameLocked() {
	g := s.room.CurrentGame
	if g == nil {
		return
	}
	s.cancelNextGameLocked()

	for _, p := range s.room.Players {
		p.PastAccolade = game.Pleb
	}
	for _, p := range g.Players {
		p.PastAccolade = game.Pleb
	}

	players := s.nextGameRosterLocked(g)
	if len(players) < 2 {
		s.room.CurrentGame = nil
		s.saveLocked()
		s.broadcastStateLocked("")
		return
	}

	next, err := s.engine.StartNewGame(players, -1, "", "")
	if err != nil {
		s.room.CurrentGame = nil
		s.saveLocked()
		s.logger.Error("Failed to restart game", "error", err)
		s.broadcastStateLocked("")
		return
	}
	s.room.CurrentGame = next
	s.saveLocked()
	s.logger.Info("Game restarted by vote", "players", len(next.Players))
	s.broadcastStateLocked("")
}
