// Package playerid mints the opaque player ids handed out by the lobby.
// Ids are UUIDv7 values in canonical text form: time-ordered, so blobs on
// disk stay roughly insertion-ordered when inspected by hand.
package playerid

import (
	"crypto/rand"
	"fmt"
	"time"
)

// RandSource lets tests inject deterministic randomness
type RandSource interface {
	IntN(n int) int
}

// Generator produces player ids with configurable randomness
type Generator struct {
	randSource RandSource
}

// NewGenerator creates a generator; a nil RandSource means crypto/rand
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// New creates a new player id using crypto/rand
func New() string {
	return NewGenerator(nil).New()
}

// New creates a new player id
func (g *Generator) New() string {
	var u [16]byte

	now := time.Now().UnixMilli()
	u[0] = byte(now >> 40)
	u[1] = byte(now >> 32)
	u[2] = byte(now >> 24)
	u[3] = byte(now >> 16)
	u[4] = byte(now >> 8)
	u[5] = byte(now)

	if g.randSource != nil {
		for i := 6; i < 16; i++ {
			u[i] = byte(g.randSource.IntN(256))
		}
	} else {
		if _, err := rand.Read(u[6:]); err != nil {
			panic("failed to generate random bytes: " + err.Error())
		}
	}

	// version 7, RFC 4122 variant
	u[6] = (u[6] & 0x0f) | 0x70
	u[8] = (u[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}
