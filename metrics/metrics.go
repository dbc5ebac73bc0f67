// Package metrics turns trial results into the fairness, stability and
// sustainability figures used to compare the reward policies.
package metrics

import (
	"math"

	"github.com/shreekarashastry/fruitsim/simulation"
)

// Fairness is the mean relative deviation between a miner's share of the
// paid rewards and its share of the hash power. Zero is perfectly fair.
func Fairness(t *simulation.TrialResult, p simulation.Policy) float64 {
	devs := FairnessByMiner(t, p)
	return Mean(devs)
}

// FairnessByMiner returns |share-hashFrac|/hashFrac per miner; NaN for
// miners without hash power.
func FairnessByMiner(t *simulation.TrialResult, p simulation.Policy) []float64 {
	total := t.TotalReward(p)
	devs := make([]float64, len(t.Miners))
	for i, m := range t.Miners {
		if m.HashFrac == 0 || total == 0 {
			devs[i] = math.NaN()
			continue
		}
		share := m.Accounts[p].Total / total
		devs[i] = math.Abs(share-m.HashFrac) / m.HashFrac
	}
	return devs
}

// Stability is the root mean square distance of a cumulative reward series
// from the expected line expPerRound*t, relative to the expected final
// reward. Lower is more stable.
func Stability(series []float64, expPerRound float64) float64 {
	if len(series) == 0 || expPerRound <= 0 {
		return math.NaN()
	}
	var sq float64
	for i, s := range series {
		d := s - expPerRound*float64(i+1)
		sq += d * d
	}
	rms := math.Sqrt(sq / float64(len(series)))
	return rms / (expPerRound * float64(len(series)))
}

// Sustainability is the total reward divided by the average gap between
// rewards.
func Sustainability(acc simulation.Account) float64 {
	gap := acc.AvgGap()
	if gap == 0 {
		return 0
	}
	return acc.Total / gap
}

// Mean averages the values that are not NaN.
func Mean(values []float64) float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Summary holds one policy's metrics averaged over trials and miners.
type Summary struct {
	Policy         simulation.Policy
	Fairness       float64
	Stability      float64
	Sustainability float64
	// PassDistance is the mean relative distance between the round miners
	// recovered their cost and the expected round.
	PassDistance float64
}

func Summarize(results []simulation.TrialResult) []Summary {
	summaries := make([]Summary, len(simulation.Policies))
	for _, p := range simulation.Policies {
		var fair, stab, sust, dist []float64
		for i := range results {
			t := &results[i]
			fair = append(fair, Fairness(t, p))
			for j := range t.Miners {
				m := &t.Miners[j]
				if m.Series != nil {
					stab = append(stab, Stability(m.Series[p], m.ExpGainPerRound))
				}
				sust = append(sust, Sustainability(m.Accounts[p]))
				dist = append(dist, m.RelativePassDistance(p))
			}
		}
		summaries[p] = Summary{
			Policy:         p,
			Fairness:       Mean(fair),
			Stability:      Mean(stab),
			Sustainability: Mean(sust),
			PassDistance:   Mean(dist),
		}
	}
	return summaries
}
