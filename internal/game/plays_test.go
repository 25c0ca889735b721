package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/presidente/internal/deck"
)

func play(t *testing.T, specs ...string) deck.Play {
	t.Helper()
	return deck.NewPlay(cards(t, specs...)...)
}

func TestIsValidPlay(t *testing.T) {
	tests := []struct {
		name    string
		play    deck.Play
		current deck.Play
		numReq  int
		valid   bool
	}{
		{"empty play", deck.Play{}, deck.Play{}, 0, false},
		{"mixed ranks", play(t, "4C", "5C"), deck.Play{}, 0, false},
		{"lead any single", play(t, "4C"), deck.Play{}, 0, true},
		{"lead any pair", play(t, "4C", "4D"), deck.Play{}, 0, true},
		{"lead wrong count", play(t, "4C"), deck.Play{}, 2, false},
		{"count mismatch vs current", play(t, "5C", "5D"), play(t, "4C"), 1, false},
		{"beats on rank", play(t, "5C"), play(t, "4S"), 1, true},
		{"loses on rank", play(t, "4C"), play(t, "5C"), 1, false},
		{"beats on suit", play(t, "5H"), play(t, "5D"), 1, true},
		{"loses on suit", play(t, "5D"), play(t, "5H"), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidPlay(tt.play, tt.current, tt.numReq))
		})
	}
}

func TestValidPlaysAgainstSingle(t *testing.T) {
	hand := cards(t, "3D", "7C", "7H", "KS")
	combos := ValidPlays(hand, play(t, "6S"), 1, false)

	// 7C, 7H and KS beat a 6S; the 3D does not.
	require.Len(t, combos, 3)
	for _, combo := range combos {
		assert.Len(t, combo, 1)
		assert.True(t, deck.NewPlay(combo...).Beats(play(t, "6S")))
	}
}

func TestValidPlaysMatchesPairSize(t *testing.T) {
	hand := cards(t, "7C", "7H", "KS")
	combos := ValidPlays(hand, play(t, "6C", "6D"), 2, false)

	// Only the pair of sevens works; the lone king cannot answer a pair.
	require.Len(t, combos, 1)
	assert.ElementsMatch(t, cards(t, "7C", "7H"), combos[0])
}

func TestValidPlaysOpeningLeadRequires3C(t *testing.T) {
	hand := cards(t, "3C", "3D", "8C")
	combos := ValidPlays(hand, deck.Play{}, 0, true)

	require.NotEmpty(t, combos)
	for _, combo := range combos {
		assert.True(t, includes3C(combo), "opening combo %v must carry the 3C", combo)
	}
}

func TestValidPlaysLeadEnumeratesAllSizes(t *testing.T) {
	hand := cards(t, "9C", "9D", "9H")
	combos := ValidPlays(hand, deck.Play{}, 0, false)

	// singles, pairs and the triple: C(3,1)+C(3,2)+C(3,3)
	assert.Len(t, combos, 7)
}

func TestValidPlaysEmptyWhenNothingBeats(t *testing.T) {
	hand := cards(t, "3D", "4C")
	combos := ValidPlays(hand, play(t, "2S"), 1, false)
	assert.Empty(t, combos)
}

func TestValidPlaysEmptyHand(t *testing.T) {
	assert.Nil(t, ValidPlays(nil, deck.Play{}, 0, false))
}
