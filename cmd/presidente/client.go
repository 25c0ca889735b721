package main

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/lox/presidente/internal/tui"
)

// ClientCmd joins a room as an interactive terminal client
type ClientCmd struct {
	Server string `kong:"default='http://localhost:8765',help='Server base URL'"`
	Room   string `kong:"arg='',help='Room to join'"`
	Name   string `kong:"default='Player',help='Player name'"`
}

func (c *ClientCmd) Run() error {
	// The TUI owns the terminal; keep library logging out of the way.
	logger := log.New(io.Discard)

	client := tui.NewClient(c.Server, c.Room, c.Name, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Join(ctx); err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(tui.NewModel(client, logger), tea.WithAltScreen())
	go client.Run(p)

	_, err := p.Run()
	return err
}
