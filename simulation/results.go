package simulation

import (
	"math"
)

// MinerResult is one row of a trial's output.
type MinerResult struct {
	ID            int
	Kind          Kind
	HashFrac      float64
	FinalHashFrac float64
	BlocksMined   uint64
	FruitsMined   uint64
	// BlocksInChain counts the miner's blocks on the canonical chain.
	BlocksInChain uint64

	InitialCost     float64
	CostPerRound    float64
	ExpGainPerRound float64

	// Indexed by Policy.
	Accounts          []Account
	PassedRound       []uint64
	ExpectedPassRound float64
	Series            [][]float64
}

// RelativePassDistance is how far, relative to the expectation, the round at
// which the miner passed its threshold is from the expected one. It is NaN
// if the miner never passed.
func (r *MinerResult) RelativePassDistance(p Policy) float64 {
	if r.PassedRound[p] == 0 || math.IsInf(r.ExpectedPassRound, 1) || r.ExpectedPassRound == 0 {
		return math.NaN()
	}
	return (float64(r.PassedRound[p]) - r.ExpectedPassRound) / r.ExpectedPassRound
}

// Validation compares the measured fruit and reward ratios with the closed
// form expectations.
type Validation struct {
	Blocks uint64
	Fruits uint64

	ExpFruitPerBlock float64
	FruitPerBlock    float64

	ExpRewardPerFruit float64
	RewardPerFruit    float64

	ExpRewardPerBlock float64
	RewardPerBlock    float64
}

type TrialResult struct {
	Trial       int
	Seed        int64
	Rounds      uint64
	ChainLength uint64
	Miners      []MinerResult
	Validation  Validation
	HashFracLog [][]float64
}

// TotalReward is the sum paid to every miner under p.
func (t *TrialResult) TotalReward(p Policy) float64 {
	sum := 0.0
	for _, m := range t.Miners {
		sum += m.Accounts[p].Total
	}
	return sum
}

// Result collects the trial's output. Call it after Finish.
func (env *Environment) Result() TrialResult {
	chain := env.Canonical()
	res := TrialResult{
		Trial:       env.trial,
		Seed:        env.cfg.Seed + int64(env.trial),
		Rounds:      env.round,
		ChainLength: chain.Len(),
		Miners:      make([]MinerResult, len(env.miners)),
		HashFracLog: env.hashFracLog,
	}

	inChain := make([]uint64, len(env.miners))
	var fruits uint64
	for _, b := range chain.Blocks()[1:] {
		inChain[b.Miner()]++
		fruits += uint64(b.NumFruits())
	}

	for i, m := range env.miners {
		r := MinerResult{
			ID:                m.ID(),
			Kind:              m.Kind(),
			HashFrac:          env.cfg.HashFracs[i],
			FinalHashFrac:     m.HashFrac(),
			BlocksMined:       m.BlocksMined(),
			FruitsMined:       m.FruitsMined(),
			BlocksInChain:     inChain[i],
			InitialCost:       m.InitialCost(),
			CostPerRound:      m.CostPerRound(),
			ExpGainPerRound:   m.ExpGainPerRound(),
			Accounts:          make([]Account, len(Policies)),
			PassedRound:       make([]uint64, len(Policies)),
			ExpectedPassRound: ExpectedPassRound(m),
		}
		if env.cfg.RecordSeries {
			r.Series = make([][]float64, len(Policies))
		}
		for _, p := range Policies {
			r.Accounts[p] = env.engines[p].Ledger().Account(i)
			r.PassedRound[p] = env.passedRound[p][i]
			if env.cfg.RecordSeries {
				r.Series[p] = env.series[p][i]
			}
		}
		res.Miners[i] = r
	}

	v := Validation{
		Blocks:            chain.Len() - 1,
		Fruits:            fruits,
		ExpFruitPerBlock:  env.cfg.ExpFruitPerBlock(),
		ExpRewardPerFruit: env.cfg.ExpRewardPerFruit(),
		ExpRewardPerBlock: env.cfg.ExpRewardPerBlock(),
	}
	var fromFruits, fromBlocks float64
	for _, m := range res.Miners {
		fromFruits += m.Accounts[Windowed].FromFruits
		fromBlocks += m.Accounts[Windowed].FromBlocks
	}
	if v.Blocks > 0 {
		v.FruitPerBlock = float64(fruits) / float64(v.Blocks)
		v.RewardPerBlock = fromBlocks / float64(v.Blocks)
	}
	if fruits > 0 {
		v.RewardPerFruit = fromFruits / float64(fruits)
	}
	res.Validation = v
	return res
}
