package simulation

import (
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/dominant-strategies/go-quai/event"
	"github.com/sirupsen/logrus"
)

// RoundClock counts the rounds of one trial. Round zero means nothing has
// happened yet.
type RoundClock struct {
	round uint64
}

func NewRoundClock() *RoundClock {
	return &RoundClock{}
}

func (c *RoundClock) Now() uint64 {
	return c.round
}

// Tick starts the next round and returns its number.
func (c *RoundClock) Tick() uint64 {
	c.round++
	return c.round
}

// Progress is published on the progress feed while a trial runs.
type Progress struct {
	Trial  int
	Round  uint64
	Height uint64
	Lead   ForkState
	Window int
	Passed int
	Done   bool
}

type Options struct {
	Trial  int
	Rand   *rand.Rand
	Logger logrus.FieldLogger
	// Progress receives a Progress every ProgressInterval rounds and once
	// when the trial is done.
	Progress         *event.Feed
	ProgressInterval uint64
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Environment owns everything one trial mutates: the miners, their chains,
// the reward ledgers and the fork state.
type Environment struct {
	cfg   Config
	trial int
	rand  *rand.Rand
	log   logrus.FieldLogger

	miners   []*Miner
	leaders  *LeaderSelector
	engines  []*RewardEngine // indexed by Policy
	feed     event.Feed
	progress *event.Feed
	interval uint64

	round uint64

	fork     ForkState
	attacker *Miner

	passedRound [][]uint64  // policy -> miner -> round the threshold was passed
	series      [][][]float64 // policy -> miner -> cumulative reward per round

	poolInterval uint64
	poolMark     []float64
	hashFracLog  [][]float64

	finished bool
}

func NewEnvironment(cfg Config, opts Options) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.HashFracs = append([]float64(nil), cfg.HashFracs...)
	if opts.Rand == nil {
		return nil, fmt.Errorf("%w: no random source", ErrInvalidConfig)
	}
	env := &Environment{
		cfg:      cfg,
		trial:    opts.Trial,
		rand:     opts.Rand,
		log:      opts.Logger,
		progress: opts.Progress,
		interval: opts.ProgressInterval,
	}
	if env.log == nil {
		env.log = discardLogger()
	}
	env.log = env.log.WithField("trial", opts.Trial)

	leaders, err := NewLeaderSelector(cfg.P, cfg.PF, cfg.HashFracs)
	if err != nil {
		return nil, err
	}
	env.leaders = leaders

	n := len(cfg.HashFracs)
	env.miners = make([]*Miner, n)
	for i, h := range cfg.HashFracs {
		kind := HonestMiner
		if cfg.Attack == SelfishAttack && i == cfg.SelfishMiner {
			kind = AdversaryMiner
		}
		m := NewMiner(i, kind, h, &env.cfg)
		m.Subscribe(&env.feed)
		env.miners[i] = m
		if kind == AdversaryMiner {
			env.attacker = m
		}
	}

	env.engines = make([]*RewardEngine, len(Policies))
	env.passedRound = make([][]uint64, len(Policies))
	env.series = make([][][]float64, len(Policies))
	for _, p := range Policies {
		env.engines[p] = NewRewardEngine(p, &env.cfg, n)
		env.passedRound[p] = make([]uint64, n)
		if cfg.RecordSeries {
			env.series[p] = make([][]float64, n)
		}
	}

	if cfg.PoolSwitch.Enabled {
		env.poolInterval = cfg.PoolSwitch.Interval
		if env.poolInterval == 0 {
			env.poolInterval = (cfg.Rounds + 9) / 10
		}
		env.poolMark = make([]float64, n)
	}
	return env, nil
}

func (env *Environment) Config() *Config {
	return &env.cfg
}

func (env *Environment) Miners() []*Miner {
	return env.miners
}

func (env *Environment) Miner(id int) *Miner {
	return env.miners[id]
}

func (env *Environment) Engine(p Policy) *RewardEngine {
	return env.engines[p]
}

func (env *Environment) Leaders() *LeaderSelector {
	return env.leaders
}

// Round is the last completed round.
func (env *Environment) Round() uint64 {
	return env.round
}

func (env *Environment) ForkState() ForkState {
	return env.fork
}

func (env *Environment) Attacker() *Miner {
	return env.attacker
}

// Canonical returns the chain every honest miner agrees on.
func (env *Environment) Canonical() *Chain {
	for _, m := range env.miners {
		if m.Kind() == HonestMiner {
			return m.Chain()
		}
	}
	return env.miners[0].Chain()
}

// Step runs the round the clock is at: leader draw, mining, broadcast and
// rewards.
func (env *Environment) Step(clock *RoundClock) error {
	round := clock.Now()
	if round != env.round+1 {
		return fmt.Errorf("round %d does not follow round %d", round, env.round)
	}
	if env.finished {
		return fmt.Errorf("trial %d already finished", env.trial)
	}

	blockLeader, fruitLeader := env.leaders.Draw(env.rand)
	if env.cfg.ForbidDoubleMining && fruitLeader == blockLeader {
		fruitLeader = NoLeader
	}

	if fruitLeader != NoLeader {
		f := env.miners[fruitLeader].MineFruit(round)
		env.broadcast(FruitDelivery(f))
	}

	if blockLeader != NoLeader {
		var err error
		if env.cfg.Attack == SelfishAttack {
			err = env.selfishBlock(env.miners[blockLeader], round)
		} else {
			err = env.honestBlock(env.miners[blockLeader], round)
		}
		if err != nil {
			return err
		}
	}

	env.round = round
	if env.cfg.Attack == NoAttack {
		env.recordRound(round)
	}
	if env.poolInterval > 0 && round%env.poolInterval == 0 {
		env.updatePools(round)
	}
	if env.interval > 0 && round%env.interval == 0 {
		env.sendProgress(false)
	}
	return nil
}

func (env *Environment) honestBlock(m *Miner, round uint64) error {
	b := m.MineBlock(round)
	chain := m.Chain()
	for _, engine := range env.engines {
		if err := engine.OnBlock(chain, b.Height()); err != nil {
			env.log.WithFields(logrus.Fields{
				"round":  round,
				"height": b.Height(),
				"policy": engine.Policy(),
			}).WithError(err).Error("Reward distribution failed")
			return err
		}
	}
	env.broadcast(BlockDelivery(b))
	return nil
}

// broadcast fans d out to every miner, the sender included, within the
// current round.
func (env *Environment) broadcast(d Delivery) {
	env.feed.Send(d)
	for _, m := range env.miners {
		m.drain()
	}
}

// recordRound snapshots the ledgers at the end of round.
func (env *Environment) recordRound(round uint64) {
	for _, p := range Policies {
		ledger := env.engines[p].Ledger()
		for i, m := range env.miners {
			total := ledger.Total(i)
			if env.series[p] != nil {
				env.series[p][i] = append(env.series[p][i], total)
			}
			if env.passedRound[p][i] == 0 && total-float64(round)*m.CostPerRound() >= m.InitialCost() {
				env.passedRound[p][i] = round
			}
		}
	}
}

// ExpectedPassRound is the round at which a miner is expected to have earned
// back its setup cost.
func ExpectedPassRound(m *Miner) float64 {
	net := m.ExpGainPerRound() - m.CostPerRound()
	if net <= 0 {
		return math.Inf(1)
	}
	return m.InitialCost() / net
}

// Passed returns how many miners passed their threshold under every policy.
func (env *Environment) Passed() int {
	n := 0
	for i := range env.miners {
		if env.passedAll(i) {
			n++
		}
	}
	return n
}

func (env *Environment) passedAll(i int) bool {
	for _, p := range Policies {
		if env.passedRound[p][i] == 0 {
			return false
		}
	}
	return true
}

// AllPassed reports whether every miner that can recover its cost did so
// under every policy.
func (env *Environment) AllPassed() bool {
	for i, m := range env.miners {
		if m.HashFrac() == 0 || math.IsInf(ExpectedPassRound(m), 1) {
			continue
		}
		if !env.passedAll(i) {
			return false
		}
	}
	return true
}

// updatePools lets miners whose earnings in the last interval fell short of
// the expectation by more than the tolerance leave. Their hash power is
// shared among the remaining miners in proportion.
func (env *Environment) updatePools(round uint64) {
	ledger := env.engines[env.cfg.PoolSwitch.Policy].Ledger()
	var leaverHash, remHash float64
	for i, m := range env.miners {
		total := ledger.Total(i)
		earned := total - env.poolMark[i]
		env.poolMark[i] = total
		if m.HashFrac() == 0 {
			continue
		}
		expected := m.ExpGainPerRound() * float64(env.poolInterval)
		if earned < expected-expected*env.cfg.PoolSwitch.Tolerance/100 {
			env.log.WithFields(logrus.Fields{
				"round":    round,
				"miner":    m.ID(),
				"earned":   earned,
				"expected": expected,
			}).Info("Miner has left")
			leaverHash += m.HashFrac()
			m.setHashFrac(0, &env.cfg)
			continue
		}
		remHash += m.HashFrac()
	}

	snapshot := make([]float64, len(env.miners))
	for i, m := range env.miners {
		if remHash > 0 && m.HashFrac() > 0 {
			m.setHashFrac(m.HashFrac()+leaverHash*(m.HashFrac()/remHash), &env.cfg)
		}
		snapshot[i] = m.HashFrac()
	}
	env.hashFracLog = append(env.hashFracLog, snapshot)
	if err := env.leaders.Rebuild(snapshot); err != nil {
		// Redistribution keeps the sum, so this only trips on float drift.
		env.log.WithError(err).Warn("Leader probabilities drifted")
	}
}

func (env *Environment) HashFracLog() [][]float64 {
	return env.hashFracLog
}

func (env *Environment) sendProgress(done bool) {
	if env.progress == nil {
		return
	}
	env.progress.Send(Progress{
		Trial:  env.trial,
		Round:  env.round,
		Height: env.Canonical().Len(),
		Lead:   env.fork,
		Window: env.engines[Windowed].Window(),
		Passed: env.Passed(),
		Done:   done,
	})
}

// Finish closes the trial. Under selfish mining the fork is reconciled and
// the rewards are settled over the canonical chain.
func (env *Environment) Finish() error {
	if env.finished {
		return nil
	}
	env.finished = true
	defer func() {
		for _, m := range env.miners {
			m.Stop()
		}
	}()
	if env.cfg.Attack == SelfishAttack {
		if err := env.reconcile(); err != nil {
			return err
		}
		if err := env.settle(); err != nil {
			return err
		}
	}
	env.sendProgress(true)
	return nil
}
