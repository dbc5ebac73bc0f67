package simulation

import (
	"errors"
	"fmt"
)

var ErrUnmodeledTransition = errors.New("unmodeled fork transition")

// Side tells which party mined a block.
type Side uint8

const (
	HonestSide Side = iota
	AttackerSide
)

func (s Side) String() string {
	switch s {
	case HonestSide:
		return "honest"
	case AttackerSide:
		return "attacker"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// ForkState is the lead of the attacker's private chain over the public one.
// The lead has no upper bound. ForkTie means both branches are public and
// equally long.
type ForkState int

const (
	ForkTie  ForkState = -1
	NoSecret ForkState = 0
)

func (s ForkState) String() string {
	if s == ForkTie {
		return "tie"
	}
	return fmt.Sprintf("lead %d", int(s))
}

// Action is what the chains have to do for a transition.
type Action uint8

const (
	// ExtendPublic appends the honest block to the public chain, which the
	// attacker follows.
	ExtendPublic Action = iota
	// ExtendPrivate appends the attacker's block to its secret chain.
	ExtendPrivate
	// ExposeFork appends the honest block, then the attacker broadcasts its
	// single secret block: two public branches of equal length.
	ExposeFork
	// PublishPrivate has the attacker extend its branch and publish it.
	PublishPrivate
	// Override appends the honest block, then the attacker publishes its
	// longer chain.
	Override
	// BreakTie lets the honest block decide the fork: a fair coin picks the
	// branch it is mined on.
	BreakTie
	// Trail appends the honest block; the attacker keeps a reduced lead.
	Trail
	// NoAction leaves the chains as they are.
	NoAction
)

func (a Action) String() string {
	switch a {
	case ExtendPublic:
		return "extend-public"
	case ExtendPrivate:
		return "extend-private"
	case ExposeFork:
		return "expose-fork"
	case PublishPrivate:
		return "publish-private"
	case Override:
		return "override"
	case BreakTie:
		return "break-tie"
	case Trail:
		return "trail"
	case NoAction:
		return "none"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

type Transition struct {
	From   ForkState
	Event  Side
	To     ForkState
	Action Action
}

// Next returns the transition taken when side mines a block in state s.
func (s ForkState) Next(side Side) (Transition, error) {
	t := Transition{From: s, Event: side}
	switch {
	case side == AttackerSide && s == ForkTie:
		t.To, t.Action = NoSecret, PublishPrivate
	case side == AttackerSide && s >= NoSecret:
		t.To, t.Action = s+1, ExtendPrivate
	case side == HonestSide && s == NoSecret:
		t.To, t.Action = NoSecret, ExtendPublic
	case side == HonestSide && s == 1:
		t.To, t.Action = ForkTie, ExposeFork
	case side == HonestSide && s == ForkTie:
		t.To, t.Action = NoSecret, BreakTie
	case side == HonestSide && s == 2:
		t.To, t.Action = NoSecret, Override
	case side == HonestSide && s > 2:
		t.To, t.Action = s-1, Trail
	default:
		return t, fmt.Errorf("%w: state %v, event %v", ErrUnmodeledTransition, s, side)
	}
	return t, nil
}

// Reconcile returns what has to happen to the chains when the simulation
// ends in state s.
func (s ForkState) Reconcile() (Action, error) {
	switch {
	case s == NoSecret:
		return NoAction, nil
	case s == ForkTie:
		return BreakTie, nil
	case s > NoSecret:
		return PublishPrivate, nil
	default:
		return NoAction, fmt.Errorf("%w: reconcile state %v", ErrUnmodeledTransition, s)
	}
}
