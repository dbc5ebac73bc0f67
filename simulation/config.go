package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

var ErrInvalidConfig = errors.New("invalid simulation config")

const c_hashFracTolerance = 1e-9

// AttackMode selects whether one of the miners withholds blocks.
type AttackMode uint

const (
	NoAttack AttackMode = iota
	SelfishAttack
)

func (a AttackMode) String() string {
	switch a {
	case NoAttack:
		return "none"
	case SelfishAttack:
		return "selfish"
	default:
		return fmt.Sprintf("AttackMode(%d)", uint(a))
	}
}

func (a AttackMode) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AttackMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*a = NoAttack
	case "selfish":
		*a = SelfishAttack
	default:
		return fmt.Errorf("%w: unknown attack mode %q", ErrInvalidConfig, text)
	}
	return nil
}

// Economics holds the real world constants used to price a miner's hardware
// and electricity.
type Economics struct {
	NetworkHashRate      float64 `json:"networkHashRate"`      // TH/s
	DeviceHashRate       float64 `json:"deviceHashRate"`       // TH/s
	CostPerDevice        float64 `json:"costPerDevice"`        // BTC
	ConsumptionPerDevice float64 `json:"consumptionPerDevice"` // kWh
	CostPerKWh           float64 `json:"costPerKWh"`           // BTC
}

func DefaultEconomics() Economics {
	return Economics{
		NetworkHashRate:      16e5,
		DeviceHashRate:       14,
		CostPerDevice:        0.23,
		ConsumptionPerDevice: 1.372,
		CostPerKWh:           18e-6,
	}
}

// PoolSwitchConfig makes miners that earn too little leave the network.
type PoolSwitchConfig struct {
	Enabled bool `json:"enabled"`
	// Tolerance is the percentage an interval's earnings may fall short of
	// the expectation before the miner leaves.
	Tolerance float64 `json:"tolerance"`
	// Policy whose ledger is inspected.
	Policy Policy `json:"policy"`
	// Interval in rounds; zero means ceil(Rounds/10).
	Interval uint64 `json:"interval"`
}

type Config struct {
	P         float64   `json:"p"`
	PF        float64   `json:"pF"`
	K         int       `json:"k"`
	C1        float64   `json:"c1"`
	C2        float64   `json:"c2"`
	C3        float64   `json:"c3"`
	HashFracs []float64 `json:"hashFracs"`

	// Rounds is the round budget. Zero means run until every miner passed its
	// threshold, which is only allowed without an attacker.
	Rounds  uint64 `json:"rounds"`
	AvgOver int    `json:"avgOver"`
	Seed    int64  `json:"seed"`

	BlockReward        float64 `json:"blockReward"`
	ForbidDoubleMining bool    `json:"forbidDoubleMining"`

	Attack       AttackMode `json:"attack"`
	SelfishMiner int        `json:"selfishMiner"`

	PoolSwitch PoolSwitchConfig `json:"poolSwitch"`
	Economics  Economics        `json:"economics"`

	RecordSeries bool `json:"recordSeries"`
}

func DefaultConfig() Config {
	n := 14
	hashFracs := make([]float64, n)
	for i := range hashFracs {
		hashFracs[i] = 1 / float64(n)
	}
	return Config{
		P:           0.1,
		PF:          1,
		K:           16,
		C1:          0.01,
		C2:          0.1,
		C3:          0.01,
		HashFracs:   hashFracs,
		Rounds:      10000,
		AvgOver:     1,
		Seed:        1,
		BlockReward: 12.5,
		PoolSwitch: PoolSwitchConfig{
			Tolerance: 20,
			Policy:    Direct,
		},
		Economics: DefaultEconomics(),
	}
}

// LoadConfig reads a JSON config file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}

func (c *Config) Validate() error {
	if !(c.P > 0 && c.P <= 1) {
		return invalid("p=%v must be in (0,1]", c.P)
	}
	if !(c.PF > 0 && c.PF <= 1) {
		return invalid("pF=%v must be in (0,1]", c.PF)
	}
	if c.K < 2 {
		return invalid("k=%d must be at least 2", c.K)
	}
	for i, v := range []float64{c.C1, c.C2, c.C3} {
		if !inUnit(v) {
			return invalid("c%d=%v must be in [0,1]", i+1, v)
		}
	}
	if len(c.HashFracs) == 0 {
		return invalid("no miners")
	}
	sum := 0.0
	for i, h := range c.HashFracs {
		if !(h > 0 && h <= 1) {
			return invalid("hashFracs[%d]=%v must be in (0,1]", i, h)
		}
		sum += h
	}
	if sum > 1+c_hashFracTolerance {
		return invalid("hashFracs sum to %v", sum)
	}
	if c.AvgOver < 1 {
		return invalid("avgOver=%d must be positive", c.AvgOver)
	}
	if c.BlockReward < 0 || math.IsNaN(c.BlockReward) {
		return invalid("blockReward=%v", c.BlockReward)
	}
	if c.Attack == SelfishAttack {
		if c.SelfishMiner < 0 || c.SelfishMiner >= len(c.HashFracs) {
			return invalid("selfishMiner=%d out of range", c.SelfishMiner)
		}
		if len(c.HashFracs) < 2 {
			return invalid("selfish mining needs at least one honest miner")
		}
		if c.Rounds == 0 {
			return invalid("selfish mining needs a round budget")
		}
		if c.PoolSwitch.Enabled {
			return invalid("pool switching is not supported under selfish mining")
		}
	} else if c.Attack != NoAttack {
		return invalid("attack=%v", c.Attack)
	}
	if c.PoolSwitch.Enabled {
		if c.PoolSwitch.Tolerance < 0 || c.PoolSwitch.Tolerance > 100 {
			return invalid("poolSwitch.tolerance=%v must be a percentage", c.PoolSwitch.Tolerance)
		}
		if c.PoolSwitch.Policy != Direct && c.PoolSwitch.Policy != Windowed {
			return invalid("poolSwitch.policy=%v", c.PoolSwitch.Policy)
		}
		if c.Rounds == 0 && c.PoolSwitch.Interval == 0 {
			return invalid("poolSwitch.interval is required without a round budget")
		}
	}
	e := c.Economics
	if e.NetworkHashRate <= 0 || e.DeviceHashRate <= 0 {
		return invalid("economics hash rates must be positive")
	}
	return nil
}

// ExpFruitPerBlock is the expected number of fruits in a block, pF/p.
func (c *Config) ExpFruitPerBlock() float64 {
	return c.PF / c.P
}

// ExpNormalFruitReward is the expected per fruit unit n0 paid for a block.
func (c *Config) ExpNormalFruitReward() float64 {
	return ((1 - c.C1) * c.BlockReward) / (float64(c.K) * (c.ExpFruitPerBlock() + 1))
}

// ExpRewardPerFruit is the expected windowed reward a fruit collects over the
// k blocks it stays in the window.
func (c *Config) ExpRewardPerFruit() float64 {
	return float64(c.K) * c.ExpNormalFruitReward() * (1 - c.C2 + c.C3)
}

// ExpRewardPerBlock is the expected windowed reward a block's miner collects.
func (c *Config) ExpRewardPerBlock() float64 {
	n0 := c.ExpNormalFruitReward()
	return c.C1*c.BlockReward + float64(c.K)*(c.ExpFruitPerBlock()*n0*(c.C2-c.C3)+n0)
}
