package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/shreekarashastry/fruitsim/log"
	"github.com/shreekarashastry/fruitsim/metrics"
	"github.com/shreekarashastry/fruitsim/report"
	"github.com/shreekarashastry/fruitsim/simulation"
	"github.com/shreekarashastry/fruitsim/store"
)

const c_blocksPerDay = 144

func baseConfig() (simulation.Config, error) {
	if configPath == "" {
		return simulation.DefaultConfig(), nil
	}
	return simulation.LoadConfig(configPath)
}

func equalHashFracs(n int) []float64 {
	fracs := make([]float64, n)
	for i := range fracs {
		fracs[i] = 1 / float64(n)
	}
	return fracs
}

// applyFlags overrides the config with the flags that were set.
func applyFlags(c *cli.Context, cfg *simulation.Config) error {
	if c.IsSet("rounds") {
		cfg.Rounds = c.Uint64("rounds")
	}
	if c.IsSet("trials") {
		cfg.AvgOver = c.Int("trials")
	}
	if c.IsSet("seed") {
		cfg.Seed = c.Int64("seed")
	}
	if c.IsSet("miners") {
		cfg.HashFracs = equalHashFracs(c.Int("miners"))
	}
	if c.IsSet("p") {
		cfg.P = c.Float64("p")
	}
	if c.IsSet("pf") {
		cfg.PF = c.Float64("pf")
	}
	if c.IsSet("k") {
		cfg.K = c.Int("k")
	}
	if c.IsSet("attack") {
		if err := cfg.Attack.UnmarshalText([]byte(c.String("attack"))); err != nil {
			return err
		}
	}
	if c.IsSet("selfish-miner") {
		cfg.SelfishMiner = c.Int("selfish-miner")
	}
	if c.Bool("series") {
		cfg.RecordSeries = true
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// logProgress logs the progress events of sim until the returned function is
// called.
func logProgress(sim *simulation.Simulation, logger logrus.FieldLogger) func() {
	ch := make(chan simulation.Progress, 16)
	sub := sim.SubscribeProgress(ch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case p := <-ch:
				logger.WithFields(logrus.Fields{
					"trial":  p.Trial,
					"round":  p.Round,
					"height": p.Height,
					"window": p.Window,
					"lead":   p.Lead,
					"passed": p.Passed,
				}).Info("Progress")
			case <-sub.Err():
				return
			}
		}
	}()
	return func() {
		sub.Unsubscribe()
		<-done
	}
}

// execute runs cfg, writes its report files under prefix and stores the
// results when a database is configured.
func execute(ctx context.Context, cfg simulation.Config, prefix, sweep, label string, progress uint64, db *store.Store) ([]simulation.TrialResult, error) {
	logger := log.Global.WithFields(logrus.Fields{"sweep": sweep, "label": label})
	sim, err := simulation.NewSimulation(cfg, simulation.SimOptions{
		Workers:          workers,
		Logger:           logger,
		ProgressInterval: progress,
	})
	if err != nil {
		return nil, err
	}
	stop := logProgress(sim, logger)
	results, err := sim.Run(ctx)
	stop()
	if err != nil {
		return nil, err
	}

	w, err := report.NewWriter(prefix, &cfg)
	if err != nil {
		return nil, err
	}
	if err := w.WriteAll(results); err != nil {
		return nil, err
	}
	if db != nil {
		if err := db.Put(sweep, label, cfg, results); err != nil {
			return nil, err
		}
	}
	logger.WithField("files", prefix).Info("Results written")
	return results, nil
}

func openStore() (*store.Store, error) {
	if dbPath == "" {
		return nil, nil
	}
	return store.Open(dbPath)
}

func runCmd(c *cli.Context) error {
	cfg, err := baseConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(c, &cfg); err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()
	label := c.String("label")
	results, err := execute(ctx, cfg, outPrefix+label+"_", c.String("sweep"), label, c.Uint64("progress"), db)
	if err != nil {
		return err
	}
	printSummary(label, metrics.Summarize(results))
	return nil
}

type sweepPoint struct {
	label string
	cfg   simulation.Config
}

// sweepPoints builds the parameter sweeps of the fairness tests: window
// length in days, c0 = pF/p, and hash power distribution.
func sweepPoints(kind string, base simulation.Config) ([]sweepPoint, error) {
	var points []sweepPoint
	days := func(p float64, length int) uint64 {
		return uint64(math.Ceil(1/p)) * c_blocksPerDay * uint64(length)
	}
	switch kind {
	case "length":
		for _, length := range []int{1, 7, 14, 21, 30} {
			cfg := base
			cfg.P, cfg.PF = 0.1, 1
			cfg.Rounds = days(cfg.P, length)
			points = append(points, sweepPoint{fmt.Sprintf("length%d", length), cfg})
		}
	case "c0":
		c0Vals := []float64{1, 20, 40, 60, 80, 100}
		for _, c0 := range c0Vals {
			cfg := base
			cfg.P = 1 / c0Vals[len(c0Vals)-1]
			cfg.PF = c0 * cfg.P
			cfg.Rounds = days(cfg.P, 30)
			points = append(points, sweepPoint{fmt.Sprintf("c0%v", c0), cfg})
		}
	case "hash":
		settings := [][]float64{
			equalHashFracs(14),
			{0.267, 0.174, 0.118, 0.106, 0.075, 0.068, 0.062, 0.043, 0.025, 0.019, 0.019, 0.012, 0.006, 0.006},
		}
		for i, fracs := range settings {
			cfg := base
			cfg.P, cfg.PF = 0.1, 1
			cfg.HashFracs = fracs
			cfg.Rounds = days(cfg.P, 30)
			points = append(points, sweepPoint{fmt.Sprintf("hashSetting%d", i), cfg})
		}
	default:
		return nil, fmt.Errorf("unknown sweep %q, want length, c0 or hash", kind)
	}
	return points, nil
}

func sweepCmd(c *cli.Context) error {
	kind := c.Args().First()
	base, err := baseConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(c, &base); err != nil {
		return err
	}
	points, err := sweepPoints(kind, base)
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()
	for _, pt := range points {
		prefix := fmt.Sprintf("%sfairnessTests/%sTests/%s_", outPrefix, kind, pt.label)
		results, err := execute(ctx, pt.cfg, prefix, kind, pt.label, c.Uint64("progress"), db)
		if err != nil {
			return err
		}
		printSummary(pt.label, metrics.Summarize(results))
	}
	return nil
}

func showCmd(c *cli.Context) error {
	sweep := c.Args().First()
	if sweep == "" {
		return errors.New("missing sweep name")
	}
	if dbPath == "" {
		return errors.New("--db is required")
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.List(sweep)
	if err != nil {
		return err
	}
	byLabel := store.Labels(records)
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		printSummary(label, metrics.Summarize(byLabel[label]))
	}
	return nil
}

func printSummary(label string, summaries []metrics.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tfairness\tstability\tsustainability\tpass distance\n", label)
	for _, s := range summaries {
		fmt.Fprintf(w, "%v\t%s\t%s\t%s\t%s\n", s.Policy,
			report.Format(s.Fairness, 4),
			report.Format(s.Stability, 4),
			report.Format(s.Sustainability, 4),
			report.Format(s.PassDistance, 4))
	}
	w.Flush()
}
