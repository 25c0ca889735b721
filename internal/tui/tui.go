// Package tui is the terminal client: a Bubble Tea program that renders
// room state pushed by the server and turns typed commands into protocol
// messages.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/lox/presidente/internal/deck"
)

const maxLogLines = 8

// Model is the Bubble Tea model for the game client
type Model struct {
	client *Client
	logger *log.Logger

	input textinput.Model

	state    *RoomState
	playerID string
	notices  []string

	width    int
	height   int
	quitting bool
}

// NewModel creates the client model. The client must already be joined and
// connected.
func NewModel(client *Client, logger *log.Logger) *Model {
	ti := textinput.New()
	ti.Placeholder = "play 3C 3D | pass | start | claim presidente | tag NAME | leave"
	ti.Focus()
	ti.CharLimit = 100
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)

	return &Model{
		client:   client,
		logger:   logger.WithPrefix("tui"),
		input:    ti,
		playerID: client.PlayerID(),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StateMsg:
		state := msg.State
		m.state = &state

	case NoticeMsg:
		if msg.Error {
			m.addNotice(ErrorStyle.Render(msg.Text))
		} else {
			m.addNotice(msg.Text)
		}

	case LeftMsg:
		m.quitting = true
		return m, tea.Sequence(tea.ClearScreen, tea.Quit)

	case DisconnectedMsg:
		m.addNotice(ErrorStyle.Render("Connection lost"))
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			_ = m.client.Leave()
			return m, tea.Sequence(tea.ClearScreen, tea.Quit)
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line != "" {
				m.runCommand(line)
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// runCommand parses one typed line and fires the matching protocol message
func (m *Model) runCommand(line string) {
	parts := strings.Fields(line)
	verb := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch verb {
	case "play", "p":
		var cards []deck.Card
		cards, err = parseCards(args)
		if err == nil {
			err = m.client.Play(cards)
		}
	case "pass":
		err = m.client.Pass()
	case "start":
		err = m.client.StartGame()
	case "claim":
		if len(args) != 1 {
			err = fmt.Errorf("usage: claim presidente|shithead")
		} else {
			err = m.client.ClaimTrade(strings.ToLower(args[0]))
		}
	case "restart":
		err = m.client.RequestRestartVote()
	case "vote":
		if len(args) != 1 {
			err = fmt.Errorf("usage: vote yes|no")
		} else {
			err = m.client.Vote(strings.ToLower(args[0]))
		}
	case "sit":
		err = m.client.SetWantToPlay(false)
	case "deal":
		err = m.client.SetWantToPlay(true)
	case "tag":
		if len(args) != 1 {
			err = fmt.Errorf("usage: tag NAME")
		} else if id := m.playerIDByName(args[0]); id == "" {
			err = fmt.Errorf("no player named %q", args[0])
		} else {
			err = m.client.TagDick(id)
		}
	case "leave", "quit", "q":
		err = m.client.Leave()
	default:
		err = fmt.Errorf("unknown command %q", verb)
	}
	if err != nil {
		m.addNotice(ErrorStyle.Render(err.Error()))
	}
}

func (m *Model) playerIDByName(name string) string {
	if m.state == nil {
		return ""
	}
	for _, p := range m.state.Players {
		if strings.EqualFold(p.Name, name) {
			return p.ID
		}
	}
	return ""
}

func (m *Model) addNotice(text string) {
	m.notices = append(m.notices, text)
	if len(m.notices) > maxLogLines {
		m.notices = m.notices[len(m.notices)-maxLogLines:]
	}
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	if m.state == nil {
		b.WriteString("Connecting...\n")
	} else if m.state.Phase == "no_game" {
		b.WriteString(m.renderLobby())
	} else {
		b.WriteString(m.renderGame())
	}

	if len(m.notices) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(m.notices, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(InfoStyle.Render("Enter to submit • Ctrl+C to leave"))
	return b.String()
}

func (m *Model) renderLobby() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf(" Room %s - lobby ", m.state.Room)))
	b.WriteString("\n\n")
	for _, p := range m.state.Players {
		marker := "  "
		if p.ID == m.playerID {
			marker = TurnStyle.Render("* ")
		}
		b.WriteString(marker + p.Name)
		if p.PastAccolade != "" && p.PastAccolade != "Pleb" {
			b.WriteString(" " + AccoladeStyle.Render("["+p.PastAccolade+"]"))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(InfoStyle.Render("Type 'start' when everyone is in"))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderGame() string {
	s := m.state
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf(" Room %s - %s ", s.Room, s.Phase)))
	b.WriteString("\n\n")

	for i, p := range s.Players {
		var markers []string
		if i == s.DealerIdx {
			markers = append(markers, "D")
		}
		if i == s.CurrentPlayerIdx && s.Phase == "Playing" {
			markers = append(markers, TurnStyle.Render("→"))
		}
		if p.Disconnected {
			markers = append(markers, ErrorStyle.Render("offline"))
		}
		if p.ID == s.DickTaggedPlayerID {
			markers = append(markers, WarningStyle.Render("🌵"))
		}

		line := fmt.Sprintf("%-12s %2d cards", p.Name, p.CardCount)
		if p.InResults {
			line = fmt.Sprintf("%-12s %s", p.Name, AccoladeStyle.Render(p.Accolade))
		}
		if len(markers) > 0 {
			line += "  " + strings.Join(markers, " ")
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	if current := currentPlay(s); len(current) > 0 {
		b.WriteString("On the pile: " + m.formatCards(current) + "\n")
	} else if s.Phase == "Playing" {
		b.WriteString(InfoStyle.Render("Fresh round, any play opens") + "\n")
	}

	if s.Trading != nil {
		b.WriteString(m.renderTrading(s.Trading))
	}

	if hand := m.ownHand(); hand != nil {
		b.WriteString("\nYour hand: " + m.formatCards(hand) + "\n")
	} else if s.Spectator {
		b.WriteString("\n" + InfoStyle.Render("Spectating: 'deal' to join the next game, 'sit' to keep watching") + "\n")
	}

	if len(s.ValidPlays) > 0 {
		b.WriteString(InfoStyle.Render(fmt.Sprintf("Your turn: %d possible plays", len(s.ValidPlays))) + "\n")
	}

	if s.Waiting != nil {
		b.WriteString(WarningStyle.Render(
			fmt.Sprintf("Waiting for %s to reconnect (%ds)", s.Waiting.PlayerName, s.Waiting.SecondsRemaining)) + "\n")
	}
	return b.String()
}

func (m *Model) renderTrading(t *TradingState) string {
	var b strings.Builder
	b.WriteString("\n" + WarningStyle.Render("Trading phase") + "\n")
	if t.FaceDown {
		b.WriteString(fmt.Sprintf("%d card(s) on the table, face down\n", t.TradeCount))
	} else {
		if t.HighCard != nil {
			b.WriteString("For the Shithead: " + m.formatCards([]deck.Card{*t.HighCard}) + "\n")
		}
		if t.LowCard != nil {
			b.WriteString("For El Presidente: " + m.formatCards([]deck.Card{*t.LowCard}) + "\n")
		}
		b.WriteString(InfoStyle.Render("'claim presidente' or 'claim shithead' to take your card") + "\n")
	}
	return b.String()
}

func (m *Model) ownHand() []deck.Card {
	if m.state == nil {
		return nil
	}
	for _, p := range m.state.Players {
		if p.ID == m.playerID && p.Hand != nil {
			return p.Hand
		}
	}
	return nil
}

func currentPlay(s *RoomState) []deck.Card {
	plays := s.Round.Pile.Plays
	if len(plays) == 0 {
		return nil
	}
	return plays[len(plays)-1].Cards
}

func (m *Model) formatCards(cards []deck.Card) string {
	parts := make([]string, 0, len(cards))
	for _, c := range cards {
		if c.Suit == deck.Diamonds || c.Suit == deck.Hearts {
			parts = append(parts, RedCardStyle.Render(c.String()))
		} else {
			parts = append(parts, BlackCardStyle.Render(c.String()))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func parseCards(args []string) ([]deck.Card, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: play CARD [CARD...]")
	}
	cards := make([]deck.Card, 0, len(args))
	for _, a := range args {
		c, err := deck.ParseCard(strings.ToUpper(a))
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}
