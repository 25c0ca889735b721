package playerid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/presidente/internal/randutil"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestNewProducesUUIDv7(t *testing.T) {
	id := New()
	assert.Regexp(t, uuidRe, id)
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGeneratorWithInjectedRandomness(t *testing.T) {
	g := NewGenerator(randutil.New(42))
	id := g.New()
	assert.Regexp(t, uuidRe, id, "version and variant bits survive injected bytes")
}
