package simulation

import (
	"github.com/sirupsen/logrus"
)

func (env *Environment) honestMiners() []*Miner {
	honest := make([]*Miner, 0, len(env.miners)-1)
	for _, m := range env.miners {
		if m.Kind() == HonestMiner {
			honest = append(honest, m)
		}
	}
	return honest
}

// selfishBlock runs one step of the fork state machine for a block mined by
// m. Rewards are not paid here; they are settled once the trial ends.
func (env *Environment) selfishBlock(m *Miner, round uint64) error {
	side := HonestSide
	if m == env.attacker {
		side = AttackerSide
	}
	t, err := env.fork.Next(side)
	if err != nil {
		env.log.WithFields(logrus.Fields{
			"round": round,
			"lead":  env.fork,
			"miner": m.ID(),
		}).WithError(err).Error("Fork state machine stuck")
		return err
	}

	switch t.Action {
	case ExtendPrivate:
		env.attacker.MineBlock(round)
	case PublishPrivate:
		env.attacker.MineBlock(round)
		env.publish()
	case ExtendPublic, Trail:
		env.broadcast(BlockDelivery(m.MineBlock(round)))
	case ExposeFork, Override:
		env.broadcast(BlockDelivery(m.MineBlock(round)))
		env.publish()
	case BreakTie:
		// The honest block lands on the attacker's branch half of the time.
		if env.rand.Float64() < 0.5 {
			if err := m.SetHead(env.attacker.Chain().Head().Hash()); err != nil {
				return err
			}
		}
		env.broadcast(BlockDelivery(m.MineBlock(round)))
	}

	env.log.WithFields(logrus.Fields{
		"round":  round,
		"miner":  m.ID(),
		"action": t.Action,
		"from":   t.From,
		"to":     t.To,
	}).Debug("Fork transition")
	env.fork = t.To
	return nil
}

// publish broadcasts the attacker's withheld blocks in height order. Honest
// miners index them and switch once the attacker's branch is the longer one.
func (env *Environment) publish() {
	private := env.attacker.Chain()
	fork := private.ForkPoint(env.Canonical())
	for h := fork + 1; h <= private.Len(); h++ {
		env.broadcast(BlockDelivery(private.ByHeight(h)))
	}
}

// reconcile resolves whatever secret lead or tie is left at the end of the
// trial into a single public chain.
func (env *Environment) reconcile() error {
	action, err := env.fork.Reconcile()
	if err != nil {
		return err
	}
	switch action {
	case PublishPrivate:
		env.publish()
	case BreakTie:
		if env.rand.Float64() < 0.5 {
			head := env.attacker.Chain().Head().Hash()
			for _, m := range env.honestMiners() {
				if err := m.SetHead(head); err != nil {
					return err
				}
			}
		} else if err := env.attacker.SetHead(env.Canonical().Head().Hash()); err != nil {
			return err
		}
	}
	env.log.WithFields(logrus.Fields{
		"lead":   env.fork,
		"action": action,
	}).Debug("Fork reconciled")
	env.fork = NoSecret
	return nil
}

// settle pays out the canonical chain block by block and rebuilds the per
// round snapshots from the blocks' mining rounds.
func (env *Environment) settle() error {
	chain := env.Canonical()
	var recorded uint64
	for h := uint64(2); h <= chain.Len(); h++ {
		b := chain.ByHeight(h)
		for recorded+1 < b.MineRound() {
			recorded++
			env.recordRound(recorded)
		}
		for _, engine := range env.engines {
			if err := engine.OnBlock(chain, h); err != nil {
				env.log.WithFields(logrus.Fields{
					"round":  b.MineRound(),
					"height": h,
					"policy": engine.Policy(),
				}).WithError(err).Error("Reward settlement failed")
				return err
			}
		}
	}
	for recorded < env.round {
		recorded++
		env.recordRound(recorded)
	}
	return nil
}
