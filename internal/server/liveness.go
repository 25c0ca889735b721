package server

// Application-level liveness. The websocket ping/pong in connection.go keeps
// the transport open; this layer decides when a player is considered gone
// from the game. Clients send heartbeat commands every few seconds while a
// game is in progress. A player whose heartbeats stop gets a grace period to
// reconnect before they are removed from the game and the room.

// runHeartbeatScan ticks until the session tears down. Scans are skipped
// while the room sits in the lobby; only a running game cares about
// staleness.
func (s *Session) runHeartbeatScan() {
	waiter := s.clock.TickerFunc(s.ctx, heartbeatScanInterval, func() error {
		s.scanHeartbeats()
		return nil
	}, "heartbeat-scan")
	_ = waiter.Wait()
}

func (s *Session) scanHeartbeats() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room.CurrentGame == nil {
		return
	}
	for pid := range s.conns {
		if _, pending := s.grace[pid]; pending {
			continue
		}
		last, ok := s.lastHeartbeat[pid]
		if !ok || s.clock.Since(last) <= heartbeatTimeout {
			continue
		}
		s.logger.Info("Player heartbeat stale, starting grace period", "player", pid)
		s.startGraceLocked(pid)
		s.broadcastStateLocked(pid)
		s.broadcastExceptLocked(pid, playerDisconnectedMessage{Type: MsgPlayerDisconnected, PlayerID: pid})
	}
}

// startGraceLocked arms the eviction timer for a player presumed gone.
// Idempotent while a grace period is already pending.
func (s *Session) startGraceLocked(pid string) {
	if _, pending := s.grace[pid]; pending {
		return
	}
	gp := &gracePeriod{started: s.clock.Now()}
	gp.timer = s.clock.AfterFunc(disconnectGrace, func() {
		s.graceExpired(pid)
	})
	s.grace[pid] = gp
}

// cancelGraceLocked stops a pending eviction, reporting whether one existed
func (s *Session) cancelGraceLocked(pid string) bool {
	gp, ok := s.grace[pid]
	if !ok {
		return false
	}
	gp.timer.Stop()
	delete(s.grace, pid)
	return true
}

// graceExpired fires when the reconnect window closes without any sign of
// the player. The map lookup drops callbacks that lost a race with a
// cancellation.
func (s *Session) graceExpired(pid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grace[pid]; !ok {
		return
	}
	delete(s.grace, pid)
	s.logger.Info("Grace period expired, removing player", "player", pid)
	s.forceRemoveLocked(pid)
}

// graceRemainingLocked reports seconds left in a player's grace period, or
// -1 when none is pending. Used by the view projector.
func (s *Session) graceRemainingLocked(pid string) int {
	gp, ok := s.grace[pid]
	if !ok {
		return -1
	}
	remaining := disconnectGrace - s.clock.Since(gp.started)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining.Seconds())
}
