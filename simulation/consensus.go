package simulation

import (
	"fmt"
	"math"
	"math/rand"
)

const c_probTolerance = 1e-9

// NoLeader is returned by Draw when nobody mines in the round.
const NoLeader = -1

// LeaderSelector samples at most one block miner and one fruit miner per
// round, weighted by hash power.
type LeaderSelector struct {
	p          float64
	pF         float64
	blockProbs []float64
	fruitProbs []float64
}

func NewLeaderSelector(p, pF float64, hashFracs []float64) (*LeaderSelector, error) {
	ls := &LeaderSelector{p: p, pF: pF}
	if err := ls.Rebuild(hashFracs); err != nil {
		return nil, err
	}
	return ls, nil
}

// Rebuild recomputes both probability vectors. Entry i is p*hashFrac[i], the
// last entry is the probability that nobody mines.
func (ls *LeaderSelector) Rebuild(hashFracs []float64) error {
	sum := 0.0
	for i, h := range hashFracs {
		if h < 0 || math.IsNaN(h) {
			return fmt.Errorf("%w: hashFracs[%d]=%v", ErrInvalidConfig, i, h)
		}
		sum += h
	}
	if sum > 1+c_hashFracTolerance {
		return fmt.Errorf("%w: hashFracs sum to %v", ErrInvalidConfig, sum)
	}
	ls.blockProbs = leaderProbs(ls.p, hashFracs)
	ls.fruitProbs = leaderProbs(ls.pF, hashFracs)
	for _, probs := range [][]float64{ls.blockProbs, ls.fruitProbs} {
		if total := sumProbs(probs); math.Abs(total-1) > c_probTolerance {
			return fmt.Errorf("%w: leader probabilities sum to %v", ErrInvalidConfig, total)
		}
	}
	return nil
}

func leaderProbs(p float64, hashFracs []float64) []float64 {
	probs := make([]float64, len(hashFracs)+1)
	mining := 0.0
	for i, h := range hashFracs {
		probs[i] = p * h
		mining += probs[i]
	}
	probs[len(hashFracs)] = 1 - mining
	if probs[len(hashFracs)] < 0 {
		probs[len(hashFracs)] = 0
	}
	return probs
}

func sumProbs(probs []float64) float64 {
	total := 0.0
	for _, p := range probs {
		total += p
	}
	return total
}

func (ls *LeaderSelector) BlockProbs() []float64 {
	return ls.blockProbs
}

func (ls *LeaderSelector) FruitProbs() []float64 {
	return ls.fruitProbs
}

// Draw picks the block leader and the fruit leader with two independent
// samples. NoLeader means no event for that tier.
func (ls *LeaderSelector) Draw(r *rand.Rand) (blockLeader, fruitLeader int) {
	return sample(r, ls.blockProbs), sample(r, ls.fruitProbs)
}

func sample(r *rand.Rand, probs []float64) int {
	u := r.Float64()
	n := len(probs) - 1
	acc := 0.0
	for i := 0; i < n; i++ {
		acc += probs[i]
		if u < acc {
			return i
		}
	}
	return NoLeader
}
