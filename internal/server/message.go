package server

import (
	"github.com/lox/presidente/internal/deck"
)

// Inbound command types
const (
	CmdHeartbeat           = "heartbeat"
	CmdStateRequest        = "state_request"
	CmdLeave               = "leave"
	CmdPlay                = "play"
	CmdPass                = "pass"
	CmdStartGame           = "start_game"
	CmdClaimTrade          = "claim_trade"
	CmdRequestRestartVote  = "request_restart_vote"
	CmdRestartVote         = "restart_vote"
	CmdSpectatorPreference = "spectator_preference"
	CmdTagDick             = "tag_dick"
)

// Command is the inbound message envelope. Payload fields are flat and
// discriminated by Type; unused fields stay zero.
type Command struct {
	Type           string      `json:"type"`
	Cards          []deck.Card `json:"cards,omitempty"`            // play
	Role           string      `json:"role,omitempty"`             // claim_trade
	Vote           string      `json:"vote,omitempty"`             // restart_vote
	WantToPlay     *bool       `json:"want_to_play,omitempty"`     // spectator_preference
	TargetPlayerID string      `json:"target_player_id,omitempty"` // tag_dick
}

// Outbound message types
const (
	MsgState                = "state"
	MsgError                = "error"
	MsgPlayerJoined         = "player_joined"
	MsgPlayerDisconnected   = "player_disconnected"
	MsgGameOver             = "game_over"
	MsgRestartVoteRequested = "restart_vote_requested"
	MsgRestartVotePassed    = "restart_vote_passed"
	MsgRestartVoteRejected  = "restart_vote_rejected"
	MsgYouLeft              = "you_left"
)

type stateMessage struct {
	Type     string `json:"type"`
	State    any    `json:"state"`
	PlayerID string `json:"player_id"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type playerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type playerJoinedMessage struct {
	Type   string    `json:"type"`
	Player playerRef `json:"player"`
}

type playerDisconnectedMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

type gameOverMessage struct {
	Type    string   `json:"type"`
	Results []string `json:"results"`
}

type voteRequestedMessage struct {
	Type          string `json:"type"`
	InitiatorName string `json:"initiator_name"`
}

// typeOnlyMessage covers frames that carry nothing but their type
type typeOnlyMessage struct {
	Type string `json:"type"`
}

func newErrorMessage(message string) errorMessage {
	return errorMessage{Type: MsgError, Message: message}
}
