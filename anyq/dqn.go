// Package anyq implements value-based objectives: deep Q-learning and
// its categorical distributional variant.
package anyq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// DQNLoss is the deep Q-learning objective.
//
// The value network maps an observation row to one Q-value per
// action. The TD target bootstraps from the maximum target-network
// Q-value of the next observation:
//
//	reward + discount * max_a Q_target(next_obs, a)
//
// The bootstrap factor comes from the batch's "discount" entry when a
// multi-step transform produced one, and gamma*(1-done) otherwise.
type DQNLoss struct {
	Value    *anyloss.TargetParams
	Actions  int
	Gamma    float64
	LossFunc anyloss.LossFunc
}

// NewDQNLoss wraps a Q network. With delayValue set, the TD target is
// computed from a delayed copy of the network's parameters.
func NewDQNLoss(q anyloss.Module, actions int, gamma float64,
	lossFunc anyloss.LossFunc, delayValue bool) (*DQNLoss, error) {
	if actions < 1 {
		return nil, configError("new dqn loss", "need at least one action")
	}
	if gamma <= 0 || gamma >= 1 {
		return nil, configError("new dqn loss", "gamma must be in (0,1)")
	}
	value, err := anyloss.WrapTarget("value", q, delayValue)
	if err != nil {
		return nil, err
	}
	return &DQNLoss{
		Value:    value,
		Actions:  actions,
		Gamma:    gamma,
		LossFunc: lossFunc,
	}, nil
}

// TargetManagers exposes the value manager for updaters.
func (d *DQNLoss) TargetManagers() []*anyloss.TargetParams {
	return []*anyloss.TargetParams{d.Value}
}

// Forward computes the TD regression term.
//
// It writes the absolute TD error into the batch and the returned
// terms under anyloss.PriorityKey.
func (d *DQNLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms, err error) {
	defer essentials.AddCtxTo("dqn loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "next_observation",
		"action", "reward", "done"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()

	obs := anydiff.NewConst(batch.Get("observation").Data)
	action := anydiff.NewConst(batch.Get("action").Data)

	qLive := d.Value.Apply(obs, n)
	pred := anyloss.RowDot(qLive, action, n)

	// Bootstrapped target, detached from the graph.
	nextObs := anydiff.NewConst(batch.Get("next_observation").Data)
	qNext := anyloss.Components(d.Value.ApplyTarget(nextObs, n).Output())
	discounts := anyloss.BootstrapDiscounts(batch, d.Gamma)
	reward := batch.Floats("reward")
	target := make([]float64, n)
	for i := 0; i < n; i++ {
		best := qNext[i*d.Actions]
		for a := 1; a < d.Actions; a++ {
			if q := qNext[i*d.Actions+a]; q > best {
				best = q
			}
		}
		target[i] = reward[i] + discounts[i]*best
	}

	diff := anydiff.Sub(pred, anyloss.ConstVec(c, target))
	perSample := d.LossFunc.Apply(diff)

	priority := anyloss.PriorityFromTD(anyloss.Components(pred.Output()), target, mask)
	anyloss.WritePriority(batch, priority)
	terms = anyloss.Terms{
		"loss_value":        anyloss.MaskedMean(perSample, mask),
		anyloss.PriorityKey: anyloss.ConstVec(c, priority),
	}
	return terms, nil
}
