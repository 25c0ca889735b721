package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/presidente/internal/deck"
)

const heartbeatInterval = 3 * time.Second

// RoomState is the client-side decoding of a state frame. Lobby and
// in-game states share the struct; the lobby leaves the game fields zero.
type RoomState struct {
	Phase              string        `json:"phase"`
	Room               string        `json:"room"`
	DealerIdx          int           `json:"dealer_idx"`
	CurrentPlayerIdx   int           `json:"current_player_idx"`
	Players            []PlayerState `json:"players"`
	Round              RoundState    `json:"round"`
	RoundsCompleted    int           `json:"rounds_completed"`
	Results            []string      `json:"results"`
	ValidPlays         [][]deck.Card `json:"valid_plays"`
	Trading            *TradingState `json:"trading"`
	DickTaggedPlayerID string        `json:"dick_tagged_player_id"`
	Waiting            *WaitingState `json:"waiting_for_disconnected"`
	Spectator          bool          `json:"spectator"`
	WantsToPlay        *bool         `json:"wants_to_play"`
}

type PlayerState struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	PastAccolade   string      `json:"past_accolade"`
	Accolade       string      `json:"accolade"`
	CardCount      int         `json:"card_count"`
	InResults      bool        `json:"in_results"`
	ResultPosition int         `json:"result_position"`
	Disconnected   bool        `json:"disconnected"`
	Hand           []deck.Card `json:"hand"`
}

type RoundState struct {
	StartingPlayerIdx int       `json:"starting_player_idx"`
	LastPlayPlayerIdx int       `json:"last_play_player_idx"`
	Pile              deck.Pile `json:"pile"`
}

type TradingState struct {
	HighCard   *deck.Card `json:"high_card"`
	LowCard    *deck.Card `json:"low_card"`
	EPClaimed  bool       `json:"ep_claimed"`
	SHClaimed  bool       `json:"sh_claimed"`
	FaceDown   bool       `json:"face_down"`
	TradeCount int        `json:"trade_count"`
}

type WaitingState struct {
	PlayerName       string `json:"player_name"`
	SecondsRemaining int    `json:"seconds_remaining"`
}

// serverFrame is the outer envelope of every server message
type serverFrame struct {
	Type          string          `json:"type"`
	Message       string          `json:"message"`
	State         json.RawMessage `json:"state"`
	PlayerID      string          `json:"player_id"`
	Results       []string        `json:"results"`
	InitiatorName string          `json:"initiator_name"`
	Player        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"player"`
}

// Bubble Tea messages delivered from the network goroutines
type (
	// StateMsg carries a fresh room snapshot
	StateMsg struct {
		State RoomState
	}
	// NoticeMsg is a line for the activity log
	NoticeMsg struct {
		Text  string
		Error bool
	}
	// LeftMsg means the server acknowledged our leave
	LeftMsg struct{}
	// DisconnectedMsg means the socket dropped
	DisconnectedMsg struct {
		Err error
	}
)

// Client joins a room over HTTP and keeps a websocket session alive,
// translating server frames into Bubble Tea messages.
type Client struct {
	serverURL string
	room      string
	name      string
	logger    *log.Logger

	playerID string
	ws       *websocket.Conn
	writeMu  sync.Mutex
}

// NewClient creates a client for one room. serverURL is the HTTP base,
// e.g. http://localhost:8765.
func NewClient(serverURL, room, name string, logger *log.Logger) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		room:      strings.ToLower(strings.TrimSpace(room)),
		name:      strings.TrimSpace(name),
		logger:    logger.WithPrefix("client"),
	}
}

// PlayerID returns the id issued by the lobby, empty before Join
func (c *Client) PlayerID() string {
	return c.playerID
}

// Join resolves the player name to an id via the lobby endpoint
func (c *Client) Join(ctx context.Context) error {
	u := fmt.Sprintf("%s/join?room=%s&name=%s",
		c.serverURL, url.QueryEscape(c.room), url.QueryEscape(c.name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode join response: %w", err)
	}
	if body.Error != "" {
		return fmt.Errorf("join rejected: %s", body.Error)
	}
	c.playerID = body.ID
	return nil
}

// Connect dials the websocket endpoint with the joined id
func (c *Client) Connect(ctx context.Context) error {
	if c.playerID == "" {
		return fmt.Errorf("join before connecting")
	}
	wsURL := strings.Replace(c.serverURL, "http", "ws", 1)
	u := fmt.Sprintf("%s/ws?room=%s&id=%s",
		wsURL, url.QueryEscape(c.room), url.QueryEscape(c.playerID))
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	c.ws = ws
	return nil
}

// Run pumps server frames into the program and sends heartbeats until the
// socket drops. Call after Connect, typically in a goroutine.
func (c *Client) Run(p *tea.Program) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.send(map[string]string{"type": "heartbeat"}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			p.Send(DisconnectedMsg{Err: err})
			return
		}
		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("Unparseable frame", "error", err)
			continue
		}
		switch frame.Type {
		case "state":
			var state RoomState
			if err := json.Unmarshal(frame.State, &state); err != nil {
				c.logger.Debug("Unparseable state", "error", err)
				continue
			}
			p.Send(StateMsg{State: state})
		case "error":
			p.Send(NoticeMsg{Text: frame.Message, Error: true})
		case "player_joined":
			p.Send(NoticeMsg{Text: frame.Player.Name + " joined"})
		case "player_disconnected":
			p.Send(NoticeMsg{Text: "A player lost connection"})
		case "game_over":
			p.Send(NoticeMsg{Text: "Game over"})
		case "restart_vote_requested":
			p.Send(NoticeMsg{Text: frame.InitiatorName + " wants a restart: 'vote yes' or 'vote no'"})
		case "restart_vote_passed":
			p.Send(NoticeMsg{Text: "Restart vote passed"})
		case "restart_vote_rejected":
			p.Send(NoticeMsg{Text: "Restart vote rejected"})
		case "you_left":
			p.Send(LeftMsg{})
			return
		}
	}
}

// Close tears down the socket
func (c *Client) Close() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Client) send(cmd any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(cmd)
}

// Play submits a set of cards
func (c *Client) Play(cards []deck.Card) error {
	return c.send(map[string]any{"type": "play", "cards": cards})
}

// Pass passes the turn
func (c *Client) Pass() error {
	return c.send(map[string]string{"type": "pass"})
}

// StartGame asks the server to deal
func (c *Client) StartGame() error {
	return c.send(map[string]string{"type": "start_game"})
}

// ClaimTrade claims a parked trade card as presidente or shithead
func (c *Client) ClaimTrade(role string) error {
	return c.send(map[string]string{"type": "claim_trade", "role": role})
}

// RequestRestartVote opens a restart vote
func (c *Client) RequestRestartVote() error {
	return c.send(map[string]string{"type": "request_restart_vote"})
}

// Vote casts a yes/no ballot in the open restart vote
func (c *Client) Vote(vote string) error {
	return c.send(map[string]string{"type": "restart_vote", "vote": vote})
}

// SetWantToPlay records a spectator's preference for the next deal
func (c *Client) SetWantToPlay(want bool) error {
	return c.send(map[string]any{"type": "spectator_preference", "want_to_play": want})
}

// TagDick assigns or passes the room tag
func (c *Client) TagDick(targetID string) error {
	return c.send(map[string]string{"type": "tag_dick", "target_player_id": targetID})
}

// Leave leaves the room for good
func (c *Client) Leave() error {
	return c.send(map[string]string{"type": "leave"})
}

// RequestState asks for a fresh snapshot
func (c *Client) RequestState() error {
	return c.send(map[string]string{"type": "state_request"})
}
