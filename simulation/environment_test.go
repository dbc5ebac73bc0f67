package simulation

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.HashFracs = []float64{0.4, 0.3, 0.2, 0.1}
	cfg.P, cfg.PF = 0.1, 0.5
	cfg.K = 4
	cfg.Rounds = 3000
	return cfg
}

func runEnv(t *testing.T, cfg Config, seed int64) *Environment {
	env, err := NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(seed))})
	require.NoError(t, err)
	clock := NewRoundClock()
	for clock.Now() < cfg.Rounds {
		clock.Tick()
		require.NoError(t, env.Step(clock))
	}
	require.NoError(t, env.Finish())
	return env
}

// checkChain asserts that every fruit on chain was fresh when packed and that
// no fruit was packed twice.
func checkChain(t *testing.T, chain *Chain, k int) {
	seen := make(map[EntityID]bool)
	for _, b := range chain.Blocks()[1:] {
		for _, f := range b.Fruits() {
			require.False(t, seen[f.ID()], "fruit %v packed twice", f.ID())
			seen[f.ID()] = true
			assert.Equal(t, b.Height(), f.ContHeight())
			assert.Less(t, f.HangHeight(), f.ContHeight())
			assert.LessOrEqual(t, f.ContHeight(), f.HangHeight()+uint64(k))
			assert.True(t, chain.Contains(f.HangHeight(), f.Anchor()), "fruit %v hangs off chain", f.ID())
		}
	}
}

func paidWindowedBlocks(chain *Chain, k int) uint64 {
	if chain.Len() <= uint64(k)+1 {
		return 0
	}
	return chain.Len() - uint64(k) - 1
}

func TestHonestRun(t *testing.T) {
	cfg := smallConfig()
	env := runEnv(t, cfg, 42)

	chain := env.Canonical()
	require.Greater(t, chain.Len(), uint64(100))
	for _, m := range env.Miners() {
		assert.True(t, m.Chain().Equal(chain), "miner %d diverged", m.ID())
	}
	checkChain(t, chain, cfg.K)

	blocks := float64(chain.Len() - 1)
	assert.InDelta(t, blocks*cfg.BlockReward, env.Engine(Direct).Ledger().Sum(), 1e-6)
	assert.InDelta(t, float64(paidWindowedBlocks(chain, cfg.K))*cfg.BlockReward, env.Engine(Windowed).Ledger().Sum(), 1e-6)
	assert.Equal(t, windowCount(chain, cfg.K, chain.Len()), env.Engine(Windowed).Window())

	res := env.Result()
	assert.Equal(t, cfg.Rounds, res.Rounds)
	assert.Equal(t, chain.Len(), res.ChainLength)
	var mined, inChain uint64
	for _, m := range res.Miners {
		mined += m.BlocksMined
		inChain += m.BlocksInChain
	}
	assert.Equal(t, chain.Len()-1, mined)
	assert.Equal(t, chain.Len()-1, inChain)
	assert.Equal(t, res.Validation.Blocks, chain.Len()-1)
}

func TestStepRejectsSkippedRound(t *testing.T) {
	cfg := smallConfig()
	env, err := NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)
	clock := NewRoundClock()
	clock.Tick()
	clock.Tick()
	assert.Error(t, env.Step(clock))
}

func TestNewEnvironmentErrors(t *testing.T) {
	cfg := smallConfig()
	_, err := NewEnvironment(cfg, Options{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg.K = 0
	_, err = NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(1))})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestSeriesRecorded(t *testing.T) {
	cfg := smallConfig()
	cfg.Rounds = 500
	cfg.RecordSeries = true
	env := runEnv(t, cfg, 5)
	res := env.Result()
	for _, m := range res.Miners {
		for _, p := range Policies {
			require.Len(t, m.Series[p], int(cfg.Rounds))
			assert.InDelta(t, m.Accounts[p].Total, m.Series[p][cfg.Rounds-1], 1e-9)
			for r := 1; r < len(m.Series[p]); r++ {
				assert.GreaterOrEqual(t, m.Series[p][r], m.Series[p][r-1])
			}
		}
	}
}

func TestSelfishRun(t *testing.T) {
	cfg := smallConfig()
	cfg.Attack = SelfishAttack
	cfg.SelfishMiner = 0
	cfg.RecordSeries = true
	env := runEnv(t, cfg, 11)

	assert.Equal(t, NoSecret, env.ForkState())
	require.NotNil(t, env.Attacker())
	assert.Equal(t, AdversaryMiner, env.Attacker().Kind())

	chain := env.Canonical()
	for _, m := range env.Miners() {
		assert.True(t, m.Chain().Equal(chain), "miner %d diverged", m.ID())
	}
	checkChain(t, chain, cfg.K)

	blocks := float64(chain.Len() - 1)
	assert.InDelta(t, blocks*cfg.BlockReward, env.Engine(Direct).Ledger().Sum(), 1e-6)
	assert.InDelta(t, float64(paidWindowedBlocks(chain, cfg.K))*cfg.BlockReward, env.Engine(Windowed).Ledger().Sum(), 1e-6)

	res := env.Result()
	var mined, inChain uint64
	for _, m := range res.Miners {
		mined += m.BlocksMined
		inChain += m.BlocksInChain
		for _, p := range Policies {
			require.Len(t, m.Series[p], int(cfg.Rounds))
			assert.InDelta(t, m.Accounts[p].Total, m.Series[p][cfg.Rounds-1], 1e-9)
		}
	}
	assert.Equal(t, chain.Len()-1, inChain)
	assert.GreaterOrEqual(t, mined, inChain, "orphaned blocks are not in the chain")
}

func TestSelfishBreakTie(t *testing.T) {
	cfg := smallConfig()
	cfg.Attack = SelfishAttack
	cfg.SelfishMiner = 0
	env, err := NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(2))})
	require.NoError(t, err)

	honest := env.Miner(1)
	require.NoError(t, env.selfishBlock(env.Attacker(), 1))
	assert.Equal(t, ForkState(1), env.ForkState())
	assert.Equal(t, uint64(1), honest.Chain().Len(), "the attacker's block stays private")

	require.NoError(t, env.selfishBlock(honest, 2))
	assert.Equal(t, ForkTie, env.ForkState())
	assert.False(t, honest.Chain().Equal(env.Attacker().Chain()))
	exposed := env.Attacker().Chain().Head().Hash()
	for _, m := range env.Miners() {
		assert.True(t, m.blocks.Contains(exposed), "miner %d missed the exposed block", m.ID())
	}
	assert.True(t, env.Attacker().blocks.Contains(honest.Chain().Head().Hash()))

	require.NoError(t, env.selfishBlock(env.Miner(2), 3))
	assert.Equal(t, NoSecret, env.ForkState())
	assert.Equal(t, uint64(3), honest.Chain().Len())
	for _, m := range env.Miners() {
		assert.True(t, m.Chain().Equal(honest.Chain()), "miner %d diverged", m.ID())
	}
}

func TestSelfishOverride(t *testing.T) {
	cfg := smallConfig()
	cfg.Attack = SelfishAttack
	cfg.SelfishMiner = 3
	env, err := NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(2))})
	require.NoError(t, err)

	attacker := env.Attacker()
	require.NoError(t, env.selfishBlock(attacker, 1))
	require.NoError(t, env.selfishBlock(attacker, 2))
	require.NoError(t, env.selfishBlock(env.Miner(0), 3))

	assert.Equal(t, NoSecret, env.ForkState())
	for _, m := range env.Miners() {
		assert.True(t, m.Chain().Equal(attacker.Chain()), "miner %d diverged", m.ID())
	}
	assert.Equal(t, uint64(3), attacker.Chain().Len())
	assert.Equal(t, 3, attacker.Chain().Head().Miner())
}

func selfishEnv(t *testing.T, attacker int) *Environment {
	cfg := smallConfig()
	cfg.Attack = SelfishAttack
	cfg.SelfishMiner = attacker
	env, err := NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(5))})
	require.NoError(t, err)
	return env
}

func TestReconcilePublishesLead(t *testing.T) {
	env := selfishEnv(t, 0)
	attacker, honest := env.Attacker(), env.Miner(1)
	for r := uint64(1); r <= 3; r++ {
		require.NoError(t, env.selfishBlock(attacker, r))
	}
	require.NoError(t, env.selfishBlock(honest, 4))
	require.Equal(t, ForkState(2), env.ForkState())
	orphan := honest.Chain().Head()

	require.NoError(t, env.reconcile())
	assert.Equal(t, NoSecret, env.ForkState())
	assert.Equal(t, uint64(4), attacker.Chain().Len())
	for _, m := range env.Miners() {
		assert.True(t, m.Chain().Equal(attacker.Chain()), "miner %d diverged", m.ID())
	}
	assert.True(t, honest.blocks.Contains(orphan.Hash()), "orphaned blocks stay indexed")
}

func TestReconcileTie(t *testing.T) {
	env := selfishEnv(t, 0)
	require.NoError(t, env.selfishBlock(env.Attacker(), 1))
	require.NoError(t, env.selfishBlock(env.Miner(1), 2))
	require.Equal(t, ForkTie, env.ForkState())

	require.NoError(t, env.reconcile())
	chain := env.Canonical()
	assert.Equal(t, uint64(2), chain.Len())
	for _, m := range env.Miners() {
		assert.True(t, m.Chain().Equal(chain), "miner %d diverged", m.ID())
	}
}

func TestReconcileTieNeedsIndexedBranch(t *testing.T) {
	env := selfishEnv(t, 0)
	require.NoError(t, env.selfishBlock(env.Attacker(), 1))
	require.NoError(t, env.selfishBlock(env.Miner(1), 2))
	require.Equal(t, ForkTie, env.ForkState())
	for _, m := range env.Miners() {
		m.blocks.Purge()
	}

	err := env.reconcile()
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestUpdatePools(t *testing.T) {
	cfg := smallConfig()
	cfg.HashFracs = []float64{0.2, 0.3, 0.5}
	cfg.PoolSwitch = PoolSwitchConfig{Enabled: true, Tolerance: 20, Policy: Direct, Interval: 10}
	env, err := NewEnvironment(cfg, Options{Rand: rand.New(rand.NewSource(1))})
	require.NoError(t, err)

	ledger := env.Engine(Direct).Ledger()
	for _, i := range []int{1, 2} {
		m := env.Miner(i)
		ledger.credit(i, m.ExpGainPerRound()*10, fromBlock, 5)
	}
	env.updatePools(10)

	assert.Zero(t, env.Miner(0).HashFrac())
	assert.InDelta(t, 0.375, env.Miner(1).HashFrac(), 1e-12)
	assert.InDelta(t, 0.625, env.Miner(2).HashFrac(), 1e-12)
	require.Len(t, env.HashFracLog(), 1)
	assert.InDeltaSlice(t, []float64{0, 0.375, 0.625}, env.HashFracLog()[0], 1e-12)
	assert.Zero(t, env.Leaders().BlockProbs()[0])
	assert.InDelta(t, cfg.P*0.375, env.Leaders().BlockProbs()[1], 1e-12)
}

func TestPoolSwitchRun(t *testing.T) {
	cfg := smallConfig()
	cfg.PoolSwitch = PoolSwitchConfig{Enabled: true, Tolerance: 80, Policy: Direct}
	env := runEnv(t, cfg, 9)

	res := env.Result()
	require.Len(t, res.HashFracLog, 10)
	for _, snapshot := range res.HashFracLog {
		sum := 0.0
		for _, h := range snapshot {
			sum += h
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
	for i, m := range res.Miners {
		assert.Equal(t, cfg.HashFracs[i], m.HashFrac)
		assert.Equal(t, res.HashFracLog[len(res.HashFracLog)-1][i], m.FinalHashFrac)
	}
}
