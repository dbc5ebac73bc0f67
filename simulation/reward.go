package simulation

import (
	"fmt"
)

// Policy selects how a block's fee is paid out.
type Policy uint

const (
	// Direct pays the whole fee to the block's miner.
	Direct Policy = iota
	// Windowed shares the fee among the fruits and blocks of the trailing
	// k blocks.
	Windowed
)

var Policies = []Policy{Direct, Windowed}

func (p Policy) String() string {
	switch p {
	case Direct:
		return "BTC"
	case Windowed:
		return "FTC"
	default:
		return fmt.Sprintf("Policy(%d)", uint(p))
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BTC", "direct":
		*p = Direct
	case "FTC", "windowed":
		*p = Windowed
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, text)
	}
	return nil
}

// WindowError reports that the window fruit count drifted to a value that
// cannot be divided by.
type WindowError struct {
	Round  uint64
	Height uint64
	Window int
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window fruit count %d at round %d (block height %d)", e.Window, e.Round, e.Height)
}

type source uint8

const (
	fromBlock source = iota
	fromFruit
)

// Account accumulates one miner's earnings under one policy.
type Account struct {
	Total      float64
	FromFruits float64
	FromBlocks float64
	// RewardRounds counts the rounds in which the miner earned anything.
	RewardRounds    uint64
	LastRewardRound uint64
}

// AvgGap is the mean number of rounds between successive rewards, counting
// the first gap from round zero.
func (a *Account) AvgGap() float64 {
	if a.RewardRounds == 0 {
		return 0
	}
	return float64(a.LastRewardRound) / float64(a.RewardRounds)
}

type Ledger struct {
	accounts []Account
}

func NewLedger(nMiners int) *Ledger {
	return &Ledger{accounts: make([]Account, nMiners)}
}

func (l *Ledger) credit(miner int, amount float64, src source, round uint64) {
	acc := &l.accounts[miner]
	acc.Total += amount
	switch src {
	case fromFruit:
		acc.FromFruits += amount
	default:
		acc.FromBlocks += amount
	}
	if amount > 0 && (acc.RewardRounds == 0 || acc.LastRewardRound != round) {
		acc.RewardRounds++
		acc.LastRewardRound = round
	}
}

func (l *Ledger) Account(miner int) Account {
	return l.accounts[miner]
}

func (l *Ledger) Total(miner int) float64 {
	return l.accounts[miner].Total
}

func (l *Ledger) Len() int {
	return len(l.accounts)
}

// Sum is the total paid to everyone.
func (l *Ledger) Sum() float64 {
	sum := 0.0
	for _, acc := range l.accounts {
		sum += acc.Total
	}
	return sum
}

// RewardEngine pays out finalized blocks according to its policy.
type RewardEngine struct {
	policy Policy
	k      int
	c1     float64
	c2     float64
	c3     float64

	// window is the number of fruits, implicit ones included, in the last k
	// settled blocks. It is only ever slid, never recounted.
	window int
	ledger *Ledger
}

func NewRewardEngine(policy Policy, cfg *Config, nMiners int) *RewardEngine {
	return &RewardEngine{
		policy: policy,
		k:      cfg.K,
		c1:     cfg.C1,
		c2:     cfg.C2,
		c3:     cfg.C3,
		ledger: NewLedger(nMiners),
	}
}

func (e *RewardEngine) Policy() Policy {
	return e.policy
}

func (e *RewardEngine) Ledger() *Ledger {
	return e.ledger
}

// Window returns the current window fruit count.
func (e *RewardEngine) Window() int {
	return e.window
}

// OnBlock settles the block at height on chain. Blocks have to be fed in
// height order, each exactly once. Shares are credited in the block's mining
// round.
func (e *RewardEngine) OnBlock(chain *Chain, height uint64) error {
	head := chain.ByHeight(height)
	if head == nil || head.IsGenesis() {
		return nil
	}
	switch e.policy {
	case Direct:
		e.ledger.credit(head.Miner(), head.Fee(), fromBlock, head.MineRound())
		return nil
	case Windowed:
		return e.rewardWindowed(chain, head)
	default:
		panic("invalid reward policy")
	}
}

func (e *RewardEngine) rewardWindowed(chain *Chain, head *Block) error {
	k := uint64(e.k)
	if head.Height() <= k+1 { // +1 is the genesis block
		e.window += head.NumFruits() + 1
		return nil
	}

	round := head.MineRound()
	x := head.Fee()
	e.ledger.credit(head.Miner(), e.c1*x, fromBlock, round)
	if e.window <= 0 {
		return &WindowError{Round: round, Height: head.Height(), Window: e.window}
	}
	n0 := (1 - e.c1) * x / float64(e.window)

	for h := head.Height() - k; h < head.Height(); h++ {
		b := chain.ByHeight(h)
		for _, f := range b.Fruits() {
			l := float64(f.ContHeight()) - float64(f.HangHeight()) - 1
			dL := e.c3 * (1 - l/float64(e.k-1))
			e.ledger.credit(f.Miner(), n0*(1-e.c2+dL), fromFruit, round)
			e.ledger.credit(b.Miner(), n0*(e.c2-dL), fromBlock, round)
		}
		// implicit fruit
		e.ledger.credit(b.Miner(), n0, fromBlock, round)
	}

	e.window -= chain.ByHeight(head.Height()-k).NumFruits() + 1
	e.window += head.NumFruits() + 1
	return nil
}
