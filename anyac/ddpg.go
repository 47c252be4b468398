// Package anyac implements continuous-control actor-critic
// objectives: DDPG, SAC, and REDQ.
//
// Every loss keeps its named terms on disjoint computational
// subgraphs: a term's gradient with respect to another role's
// parameters is not merely zero, the graph contains no path to them.
// This is achieved by evaluating the other roles with their values
// bound as constants.
package anyac

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// DDPGLoss is the deterministic policy gradient objective.
//
// The actor maps observations to actions; the value network maps a
// joined (observation, action) row to a scalar Q-value.
type DDPGLoss struct {
	Actor    *anyloss.TargetParams
	Value    *anyloss.TargetParams
	Gamma    float64
	LossFunc anyloss.LossFunc
}

// NewDDPGLoss wraps the actor and value networks, creating delayed
// parameter sets for the flagged roles.
func NewDDPGLoss(actor, value anyloss.Module, gamma float64,
	lossFunc anyloss.LossFunc, delayActor, delayValue bool) (*DDPGLoss, error) {
	if gamma <= 0 || gamma >= 1 {
		return nil, configError("new ddpg loss", "gamma must be in (0,1)")
	}
	actorParams, err := anyloss.WrapTarget("actor", actor, delayActor)
	if err != nil {
		return nil, err
	}
	valueParams, err := anyloss.WrapTarget("value", value, delayValue)
	if err != nil {
		return nil, err
	}
	return &DDPGLoss{
		Actor:    actorParams,
		Value:    valueParams,
		Gamma:    gamma,
		LossFunc: lossFunc,
	}, nil
}

// TargetManagers exposes both role managers for updaters.
func (d *DDPGLoss) TargetManagers() []*anyloss.TargetParams {
	return []*anyloss.TargetParams{d.Actor, d.Value}
}

// Forward computes loss_actor and loss_value.
//
// loss_value regresses Q(s,a) onto the bootstrapped target computed
// with the delayed actor and value sets. loss_actor maximizes
// Q(s, pi(s)) with the critic's parameters held constant, so actor
// gradients never touch critic parameters and vice versa.
func (d *DDPGLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms, err error) {
	defer essentials.AddCtxTo("ddpg loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "next_observation",
		"action", "reward", "done"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()

	obs := anydiff.NewConst(batch.Get("observation").Data)
	nextObs := anydiff.NewConst(batch.Get("next_observation").Data)
	action := anydiff.NewConst(batch.Get("action").Data)

	// Critic target: Q_target(s', pi_target(s')), fully detached.
	nextAction := d.Actor.ApplyTarget(nextObs, n)
	qNext := anyloss.Components(d.Value.ApplyTarget(
		anyloss.JoinCols(n, nextObs, nextAction), n).Output())
	discounts := anyloss.BootstrapDiscounts(batch, d.Gamma)
	reward := batch.Floats("reward")
	target := make([]float64, n)
	for i := range target {
		target[i] = reward[i] + discounts[i]*qNext[i]
	}

	qPred := d.Value.Apply(anyloss.JoinCols(n, obs, action), n)
	valueDiff := anydiff.Sub(qPred, anyloss.ConstVec(c, target))
	lossValue := anyloss.MaskedMean(d.LossFunc.Apply(valueDiff), mask)

	// Actor term: the critic enters as constants.
	liveAction := d.Actor.Apply(obs, n)
	qActor := d.Value.ApplyFrozen(anyloss.JoinCols(n, obs, liveAction), n)
	lossActor := anydiff.Scale(anyloss.MaskedMean(qActor, mask), c.MakeNumeric(-1))

	priority := anyloss.PriorityFromTD(anyloss.Components(qPred.Output()),
		target, mask)
	anyloss.WritePriority(batch, priority)

	terms = anyloss.Terms{
		"loss_actor":        lossActor,
		"loss_value":        lossValue,
		anyloss.PriorityKey: anyloss.ConstVec(c, priority),
	}
	return terms, nil
}
