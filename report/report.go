// Package report writes simulation results as comma separated text files,
// one file per data set and policy.
package report

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shreekarashastry/fruitsim/metrics"
	"github.com/shreekarashastry/fruitsim/simulation"
)

const c_places = 6

// Header is the first line of every file.
func Header(cfg *simulation.Config, rounds uint64) string {
	return fmt.Sprintf("#r:%d p:%v pF:%v k: %d c1:%v c2:%v c3:%v attack:%v",
		rounds, cfg.P, cfg.PF, cfg.K, cfg.C1, cfg.C2, cfg.C3, cfg.Attack)
}

// Format renders v rounded for display.
func Format(v float64, places int32) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return decimal.NewFromFloat(v).Round(places).String()
}

type Writer struct {
	prefix string
	cfg    *simulation.Config
}

// NewWriter writes files named prefix+<data set>, creating the directory of
// prefix if needed.
func NewWriter(prefix string, cfg *simulation.Config) (*Writer, error) {
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Writer{prefix: prefix, cfg: cfg}, nil
}

func (w *Writer) write(name string, rounds uint64, comment string, rows [][]float64) error {
	f, err := os.Create(w.prefix + name)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	fmt.Fprintln(buf, Header(w.cfg, rounds))
	fmt.Fprintln(buf, "# "+comment)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = Format(v, c_places)
		}
		fmt.Fprintln(buf, strings.Join(cells, ","))
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func maxRounds(results []simulation.TrialResult) uint64 {
	var r uint64
	for _, t := range results {
		if t.Rounds > r {
			r = t.Rounds
		}
	}
	return r
}

// WriteAll writes every data set the results carry.
func (w *Writer) WriteAll(results []simulation.TrialResult) error {
	for _, p := range simulation.Policies {
		if err := w.WriteStability(results, p); err != nil {
			return err
		}
		if err := w.WriteRewards(results, p); err != nil {
			return err
		}
		if err := w.WriteFairness(results, p); err != nil {
			return err
		}
		if err := w.WriteSeries(results, p); err != nil {
			return err
		}
	}
	if err := w.WriteValidation(results); err != nil {
		return err
	}
	return w.WriteSummary(metrics.Summarize(results), maxRounds(results))
}

// WriteStability writes, per trial, each miner's relative distance from the
// expected round to pass its threshold.
func (w *Writer) WriteStability(results []simulation.TrialResult, p simulation.Policy) error {
	rows := make([][]float64, len(results))
	for i, t := range results {
		rows[i] = make([]float64, len(t.Miners))
		for j := range t.Miners {
			rows[i][j] = t.Miners[j].RelativePassDistance(p)
		}
	}
	return w.write("StabilityData"+p.String(), maxRounds(results),
		"Relative distance from expected rounds to pass threshold. Node_1, ..., Node_n", rows)
}

// WriteRewards writes, per trial, each miner's total reward, reward rounds
// and average reward gap.
func (w *Writer) WriteRewards(results []simulation.TrialResult, p simulation.Policy) error {
	rows := make([][]float64, 0, 3*len(results))
	for _, t := range results {
		totals := make([]float64, len(t.Miners))
		counts := make([]float64, len(t.Miners))
		gaps := make([]float64, len(t.Miners))
		for j := range t.Miners {
			acc := t.Miners[j].Accounts[p]
			totals[j] = acc.Total
			counts[j] = float64(acc.RewardRounds)
			gaps[j] = acc.AvgGap()
		}
		rows = append(rows, totals, counts, gaps)
	}
	return w.write("Rewards"+p.String(), maxRounds(results),
		"Per trial: total reward, rounds with a reward, average reward gap. Node_1, ..., Node_n", rows)
}

// WriteFairness writes one fairness value per trial.
func (w *Writer) WriteFairness(results []simulation.TrialResult, p simulation.Policy) error {
	rows := make([][]float64, len(results))
	for i := range results {
		rows[i] = []float64{metrics.Fairness(&results[i], p)}
	}
	return w.write("FairnessMetric"+p.String(), maxRounds(results), "Fairness metric per trial", rows)
}

// WriteSeries writes each miner's cumulative reward per round for the first
// trial. Nothing is written when the series were not recorded.
func (w *Writer) WriteSeries(results []simulation.TrialResult, p simulation.Policy) error {
	if len(results) == 0 || len(results[0].Miners) == 0 || results[0].Miners[0].Series == nil {
		return nil
	}
	t := results[0]
	thresholds := make([]float64, len(t.Miners))
	expRounds := make([]float64, len(t.Miners))
	for j, m := range t.Miners {
		thresholds[j] = m.InitialCost
		expRounds[j] = m.ExpectedPassRound
	}
	rows := [][]float64{thresholds, expRounds}
	for r := 0; r < len(t.Miners[0].Series[p]); r++ {
		row := make([]float64, len(t.Miners))
		for j, m := range t.Miners {
			row[j] = m.Series[p][r] - float64(r+1)*m.CostPerRound
		}
		rows = append(rows, row)
	}
	return w.write("UtilityData"+p.String(), t.Rounds,
		"Utility by round for each node. First line is thresholds, second line is expected rounds to pass them.", rows)
}

// WriteValidation writes measured and expected fruit and reward ratios, one
// row per trial.
func (w *Writer) WriteValidation(results []simulation.TrialResult) error {
	rows := make([][]float64, len(results))
	for i, t := range results {
		v := t.Validation
		rows[i] = []float64{
			v.ExpFruitPerBlock, v.FruitPerBlock,
			v.ExpRewardPerFruit, v.RewardPerFruit,
			v.ExpRewardPerBlock, v.RewardPerBlock,
		}
	}
	return w.write("ValidationData", maxRounds(results),
		"expFruitPerBlock,fruitPerBlock,expRewardPerFruit,rewardPerFruit,expRewardPerBlock,rewardPerBlock", rows)
}

// WriteSummary writes one row per policy: fairness, stability,
// sustainability, pass distance.
func (w *Writer) WriteSummary(summaries []metrics.Summary, rounds uint64) error {
	rows := make([][]float64, len(summaries))
	for i, s := range summaries {
		rows[i] = []float64{float64(s.Policy), s.Fairness, s.Stability, s.Sustainability, s.PassDistance}
	}
	return w.write("Summary", rounds, "policy(0=BTC,1=FTC),fairness,stability,sustainability,passDistance", rows)
}
