package store

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreekarashastry/fruitsim/simulation"
)

func trial(n int, total float64) simulation.TrialResult {
	return simulation.TrialResult{
		Trial:       n,
		Seed:        int64(n + 1),
		Rounds:      100,
		ChainLength: 11,
		Miners: []simulation.MinerResult{{
			ID:                0,
			HashFrac:          1,
			Accounts:          []simulation.Account{{Total: total}, {Total: total / 2}},
			PassedRound:       []uint64{0, 40},
			ExpectedPassRound: math.Inf(1),
		}},
	}
}

func openMem(t *testing.T) *Store {
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openMem(t)
	cfg := simulation.DefaultConfig()
	cfg.Attack = simulation.SelfishAttack

	require.NoError(t, s.Put("length", "length7", cfg, []simulation.TrialResult{trial(0, 10), trial(1, 20)}))

	rec, err := s.Get("length", "length7", 1)
	require.NoError(t, err)
	assert.Equal(t, "length", rec.Sweep)
	assert.Equal(t, "length7", rec.Label)
	assert.Equal(t, simulation.SelfishAttack, rec.Config.Attack)
	assert.Equal(t, cfg.HashFracs, rec.Config.HashFracs)
	assert.Equal(t, 1, rec.Result.Trial)
	assert.Equal(t, 20.0, rec.Result.Miners[0].Accounts[simulation.Direct].Total)
	assert.Equal(t, uint64(40), rec.Result.Miners[0].PassedRound[simulation.Windowed])
	assert.True(t, math.IsInf(rec.Result.Miners[0].ExpectedPassRound, 1))
}

func TestGetMissing(t *testing.T) {
	s := openMem(t)
	_, err := s.Get("length", "length7", 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListAndLabels(t *testing.T) {
	s := openMem(t)
	cfg := simulation.DefaultConfig()
	require.NoError(t, s.Put("c0", "c020", cfg, []simulation.TrialResult{trial(0, 1), trial(1, 2)}))
	require.NoError(t, s.Put("c0", "c01", cfg, []simulation.TrialResult{trial(0, 3)}))
	require.NoError(t, s.Put("hash", "hashSetting0", cfg, []simulation.TrialResult{trial(0, 4)}))

	records, err := s.List("c0")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c01", records[0].Label)

	byLabel := Labels(records)
	require.Len(t, byLabel, 2)
	require.Len(t, byLabel["c020"], 2)
	assert.Equal(t, 0, byLabel["c020"][0].Trial)
	assert.Equal(t, 1, byLabel["c020"][1].Trial)

	records, err = s.List("missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}
