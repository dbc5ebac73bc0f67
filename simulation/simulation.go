package simulation

import (
	"context"
	"math/rand"
	"sync"

	"github.com/dominant-strategies/go-quai/event"
	"github.com/sirupsen/logrus"
)

const c_ctxCheckRounds = 1 << 10

// StopCondition ends a trial once it returns true. It is checked before every
// round.
type StopCondition func(env *Environment) bool

// RoundLimit stops after r rounds.
func RoundLimit(r uint64) StopCondition {
	return func(env *Environment) bool {
		return env.Round() >= r
	}
}

// AllPassedThreshold stops once every miner recovered its setup cost under
// every policy.
func AllPassedThreshold() StopCondition {
	return func(env *Environment) bool {
		return env.AllPassed()
	}
}

func AnyOf(conds ...StopCondition) StopCondition {
	return func(env *Environment) bool {
		for _, c := range conds {
			if c(env) {
				return true
			}
		}
		return false
	}
}

type SimOptions struct {
	// Workers is the number of trials run at the same time; zero or one runs
	// them one after the other.
	Workers          int
	Stop             StopCondition
	Logger           logrus.FieldLogger
	ProgressInterval uint64
}

// Simulation runs AvgOver independent trials of one config.
type Simulation struct {
	cfg      Config
	workers  int
	stop     StopCondition
	log      logrus.FieldLogger
	interval uint64
	progress event.Feed
}

func NewSimulation(cfg Config, opts SimOptions) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sim := &Simulation{
		cfg:      cfg,
		workers:  opts.Workers,
		stop:     opts.Stop,
		log:      opts.Logger,
		interval: opts.ProgressInterval,
	}
	if sim.workers < 1 {
		sim.workers = 1
	}
	if sim.log == nil {
		sim.log = discardLogger()
	}
	if sim.stop == nil {
		if cfg.Rounds > 0 {
			sim.stop = RoundLimit(cfg.Rounds)
		} else {
			sim.stop = AllPassedThreshold()
		}
	}
	return sim, nil
}

// SubscribeProgress delivers the trials' Progress events to ch.
func (sim *Simulation) SubscribeProgress(ch chan<- Progress) event.Subscription {
	return sim.progress.Subscribe(ch)
}

// Run runs every trial and returns their results in trial order. The first
// error aborts the remaining trials.
func (sim *Simulation) Run(ctx context.Context) ([]TrialResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		results = make([]TrialResult, sim.cfg.AvgOver)
		errs    = make([]error, sim.cfg.AvgOver)
		trials  = make(chan int)
	)
	for w := 0; w < sim.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trial := range trials {
				results[trial], errs[trial] = sim.RunTrial(ctx, trial)
				if errs[trial] != nil {
					cancel()
				}
			}
		}()
	}
feed:
	for trial := 0; trial < sim.cfg.AvgOver; trial++ {
		select {
		case trials <- trial:
		case <-ctx.Done():
			break feed
		}
	}
	close(trials)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunTrial runs a single trial with its own random source.
func (sim *Simulation) RunTrial(ctx context.Context, trial int) (TrialResult, error) {
	log := sim.log.WithField("trial", trial)
	env, err := NewEnvironment(sim.cfg, Options{
		Trial:            trial,
		Rand:             rand.New(rand.NewSource(sim.cfg.Seed + int64(trial))),
		Logger:           sim.log,
		Progress:         &sim.progress,
		ProgressInterval: sim.interval,
	})
	if err != nil {
		return TrialResult{}, err
	}

	clock := NewRoundClock()
	for !sim.stop(env) {
		if clock.Now()%c_ctxCheckRounds == 0 {
			if err := ctx.Err(); err != nil {
				return TrialResult{}, err
			}
		}
		clock.Tick()
		if err := env.Step(clock); err != nil {
			log.WithField("round", clock.Now()).WithError(err).Error("Trial aborted")
			return TrialResult{}, err
		}
	}
	if err := env.Finish(); err != nil {
		return TrialResult{}, err
	}
	log.WithFields(logrus.Fields{
		"rounds": env.Round(),
		"height": env.Canonical().Len(),
	}).Info("Trial finished")
	return env.Result(), nil
}
