package query

import (
	"fmt"
	"math/rand/v2"
)

// SampleMode selects how PickMove weighs candidates.
type SampleMode string

const (
	// SampleProportional weighs moves by how often they were played.
	SampleProportional SampleMode = "proportional"
	// SampleUniform ignores play counts. Callers request it as either
	// "random" or "uniform".
	SampleUniform SampleMode = "uniform"
)

// ParseSampleMode validates a mode string, defaulting to proportional.
func ParseSampleMode(s string) (SampleMode, error) {
	switch SampleMode(s) {
	case "", SampleProportional:
		return SampleProportional, nil
	case SampleUniform, "random":
		return SampleUniform, nil
	}
	return "", fmt.Errorf("unknown sample mode %q", s)
}

// PickMove samples one move from a distribution. rng may be nil to use the
// shared source. Sampling an empty distribution returns ErrNoMoves; a
// distribution whose counts sum to zero falls back to the first candidate.
func PickMove(moves []MoveStat, mode SampleMode, rng *rand.Rand) (MoveStat, error) {
	if len(moves) == 0 {
		return MoveStat{}, ErrNoMoves
	}
	intn := rand.IntN
	if rng != nil {
		intn = rng.IntN
	}

	if mode == SampleUniform {
		return moves[intn(len(moves))], nil
	}

	var total uint64
	for _, m := range moves {
		total += uint64(m.Count)
	}
	if total == 0 {
		return moves[0], nil
	}

	target := uint64(intn(int(total)))
	var cum uint64
	for _, m := range moves {
		cum += uint64(m.Count)
		if target < cum {
			return m, nil
		}
	}
	return moves[len(moves)-1], nil
}
