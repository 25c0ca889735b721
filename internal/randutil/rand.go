// Package randutil builds the seeded random sources behind every deal.
package randutil

import rand "math/rand/v2"

// New returns a rand.Rand whose sequence is fully determined by seed.
// rand/v2's PCG takes two 64-bit words; deriving them with distinct odd
// multipliers keeps nearby seeds from producing correlated streams, and the
// complement on the second word keeps the pair from collapsing for seed 0.
func New(seed int64) *rand.Rand {
	hi := uint64(seed) * 0xd1342543de82ef95
	lo := (^uint64(seed) | 1) * 0xaf251af3b0f025b5
	return rand.New(rand.NewPCG(hi, lo))
}
