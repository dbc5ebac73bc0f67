package simulation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.HashFracs, 14)
	assert.InDelta(t, 10, cfg.ExpFruitPerBlock(), 1e-12)
}

func TestValidateAcceptsCertainMining(t *testing.T) {
	cfg := DefaultConfig()
	cfg.P, cfg.PF = 1, 1
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(c *Config){
		"zero p":          func(c *Config) { c.P = 0 },
		"p above one":     func(c *Config) { c.P = 1.5 },
		"zero pF":         func(c *Config) { c.PF = 0 },
		"k below two":     func(c *Config) { c.K = 1 },
		"negative c2":     func(c *Config) { c.C2 = -0.1 },
		"c3 above one":    func(c *Config) { c.C3 = 2 },
		"no miners":       func(c *Config) { c.HashFracs = nil },
		"zero hash":       func(c *Config) { c.HashFracs = []float64{0, 0.5} },
		"hash above one":  func(c *Config) { c.HashFracs = []float64{0.6, 0.6} },
		"no trials":       func(c *Config) { c.AvgOver = 0 },
		"unknown attack":  func(c *Config) { c.Attack = AttackMode(9) },
		"selfish miner":   func(c *Config) { c.Attack, c.SelfishMiner = SelfishAttack, 20 },
		"selfish forever": func(c *Config) { c.Attack, c.Rounds = SelfishAttack, 0 },
		"selfish alone": func(c *Config) {
			c.Attack, c.HashFracs, c.SelfishMiner = SelfishAttack, []float64{1}, 0
		},
		"selfish pools": func(c *Config) {
			c.Attack = SelfishAttack
			c.PoolSwitch.Enabled = true
		},
		"pool tolerance": func(c *Config) {
			c.PoolSwitch.Enabled = true
			c.PoolSwitch.Tolerance = 150
		},
		"pool interval": func(c *Config) {
			c.PoolSwitch.Enabled = true
			c.Rounds = 0
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.json")
	data := `{"p": 0.01, "pF": 0.5, "k": 8, "attack": "selfish", "selfishMiner": 2, "poolSwitch": {"policy": "FTC"}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.01, cfg.P)
	assert.Equal(t, 0.5, cfg.PF)
	assert.Equal(t, 8, cfg.K)
	assert.Equal(t, SelfishAttack, cfg.Attack)
	assert.Equal(t, 2, cfg.SelfishMiner)
	assert.Equal(t, Windowed, cfg.PoolSwitch.Policy)
	assert.Equal(t, 20.0, cfg.PoolSwitch.Tolerance, "unset fields keep their defaults")
	assert.Len(t, cfg.HashFracs, 14)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"attack": "sneaky"}`), 0o644))
	_, err = LoadConfig(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestExpectations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K, cfg.BlockReward = 2, 100
	cfg.P, cfg.PF = 0.5, 1
	cfg.C1, cfg.C2, cfg.C3 = 0.01, 0.1, 0.01

	assert.InDelta(t, 2, cfg.ExpFruitPerBlock(), 1e-12)
	n0 := 0.99 * 100 / (2 * 3)
	assert.InDelta(t, n0, cfg.ExpNormalFruitReward(), 1e-12)
	assert.InDelta(t, 2*n0*0.91, cfg.ExpRewardPerFruit(), 1e-12)
	assert.InDelta(t, 1+2*(2*n0*0.09+n0), cfg.ExpRewardPerBlock(), 1e-12)
	// Every block's fee is split between its fruits and itself.
	assert.InDelta(t, 100, cfg.ExpFruitPerBlock()*cfg.ExpRewardPerFruit()+cfg.ExpRewardPerBlock(), 1e-9)
}
