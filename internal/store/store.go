// Package store persists rooms as one JSON blob per room under a data
// directory. Blobs are replaced atomically so a reader never observes a
// partial write.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lox/presidente/internal/game"
)

// Store reads and writes room blobs
type Store struct {
	dir    string
	logger *log.Logger
}

// New creates a store rooted at dir
func New(dir string, logger *log.Logger) *Store {
	return &Store{dir: dir, logger: logger.WithPrefix("store")}
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// roomPath maps a room name to its blob path. Anything outside [a-zA-Z0-9-_]
// becomes an underscore so names can never escape the data directory.
func (s *Store) roomPath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return filepath.Join(s.dir, b.String()+".json")
}

// Exists reports whether a blob exists for the room
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.roomPath(name))
	return err == nil
}

// Load reads a room blob. A missing, empty, or unparseable blob yields a
// fresh empty room of that name rather than an error.
func (s *Store) Load(name string) *game.Room {
	raw, err := os.ReadFile(s.roomPath(name))
	if err != nil {
		return game.NewRoom(name)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		s.logger.Info("Room blob empty, starting fresh", "room", name)
		return game.NewRoom(name)
	}

	var room game.Room
	if err := json.Unmarshal([]byte(trimmed), &room); err != nil || room.Name == "" {
		s.logger.Info("Room blob unreadable, starting fresh", "room", name, "error", err)
		return game.NewRoom(name)
	}
	normalize(&room)
	return &room
}

// Save writes the room blob atomically: the JSON is written to a temp file
// in the same directory and renamed over the target, so readers see either
// the old blob or the new one, never a torn write.
func (s *Store) Save(room *game.Room) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(room, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.Name, err)
	}

	target := s.roomPath(room.Name)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmp = nil

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// normalize repairs nil collections on rooms loaded from older blobs
func normalize(room *game.Room) {
	if room.SpectatorPreferences == nil {
		room.SpectatorPreferences = make(map[string]bool)
	}
	if g := room.CurrentGame; g != nil {
		if g.PassedThisRound == nil {
			g.PassedThisRound = make(game.IndexSet)
		}
		if g.Results == nil {
			g.Results = []string{}
		}
	}
}
