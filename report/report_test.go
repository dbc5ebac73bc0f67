package report

import (
	"bufio"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreekarashastry/fruitsim/simulation"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.2346", Format(1.23456789, 4))
	assert.Equal(t, "2", Format(2, 4))
	assert.Equal(t, "-0.5", Format(-0.5, 6))
	assert.Equal(t, "nan", Format(math.NaN(), 4))
	assert.Equal(t, "inf", Format(math.Inf(1), 4))
	assert.Equal(t, "-inf", Format(math.Inf(-1), 4))
}

func TestHeader(t *testing.T) {
	cfg := simulation.DefaultConfig()
	assert.Equal(t, "#r:500 p:0.1 pF:1 k: 16 c1:0.01 c2:0.1 c3:0.01 attack:none", Header(&cfg, 500))
}

func readLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	require.NoError(t, s.Err())
	return lines
}

func TestWriteAll(t *testing.T) {
	cfg := simulation.DefaultConfig()
	cfg.HashFracs = []float64{0.6, 0.4}
	cfg.Rounds = 400
	cfg.AvgOver = 2
	cfg.RecordSeries = true

	sim, err := simulation.NewSimulation(cfg, simulation.SimOptions{})
	require.NoError(t, err)
	results, err := sim.Run(context.Background())
	require.NoError(t, err)

	prefix := filepath.Join(t.TempDir(), "out", "run_")
	w, err := NewWriter(prefix, &cfg)
	require.NoError(t, err)
	require.NoError(t, w.WriteAll(results))

	for _, p := range simulation.Policies {
		lines := readLines(t, prefix+"FairnessMetric"+p.String())
		require.Len(t, lines, 2+len(results))
		assert.Equal(t, Header(&cfg, 400), lines[0])

		lines = readLines(t, prefix+"Rewards"+p.String())
		require.Len(t, lines, 2+3*len(results))
		assert.Len(t, strings.Split(lines[2], ","), 2)

		lines = readLines(t, prefix+"StabilityData"+p.String())
		require.Len(t, lines, 2+len(results))

		lines = readLines(t, prefix+"UtilityData"+p.String())
		require.Len(t, lines, 2+2+int(cfg.Rounds))
	}
	lines := readLines(t, prefix+"ValidationData")
	require.Len(t, lines, 2+len(results))
	assert.Len(t, strings.Split(lines[2], ","), 6)

	lines = readLines(t, prefix+"Summary")
	require.Len(t, lines, 2+len(simulation.Policies))
	assert.True(t, strings.HasPrefix(lines[3], "1,"), lines[3])
}

func TestWriteSeriesSkippedWithoutSeries(t *testing.T) {
	cfg := simulation.DefaultConfig()
	prefix := filepath.Join(t.TempDir(), "x_")
	w, err := NewWriter(prefix, &cfg)
	require.NoError(t, err)

	results := []simulation.TrialResult{{Miners: []simulation.MinerResult{{}}}}
	require.NoError(t, w.WriteSeries(results, simulation.Direct))
	_, err = os.Stat(prefix + "UtilityDataBTC")
	assert.True(t, os.IsNotExist(err))
}
