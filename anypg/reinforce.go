package anypg

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// ReinforceLoss is the score-function policy gradient with a learned
// value baseline.
//
// The actor term scales log-probabilities by detached advantages; the
// critic term regresses the value network onto detached targets. The
// two terms share no parameters in their graphs.
type ReinforceLoss struct {
	Actor    *anyloss.TargetParams
	Critic   *anyloss.TargetParams
	Dist     Dist
	LossFunc anyloss.LossFunc
}

// NewReinforceLoss wraps the actor and value baseline.
func NewReinforceLoss(actor, critic anyloss.Module, dist Dist,
	lossFunc anyloss.LossFunc, delayValue bool) (*ReinforceLoss, error) {
	if dist == nil {
		return nil, configError("new reinforce loss", "need an action distribution")
	}
	actorParams, err := anyloss.WrapTarget("actor", actor, false)
	if err != nil {
		return nil, err
	}
	criticParams, err := anyloss.WrapTarget("critic", critic, delayValue)
	if err != nil {
		return nil, err
	}
	return &ReinforceLoss{
		Actor:    actorParams,
		Critic:   criticParams,
		Dist:     dist,
		LossFunc: lossFunc,
	}, nil
}

// TargetManagers exposes both role managers for updaters.
func (r *ReinforceLoss) TargetManagers() []*anyloss.TargetParams {
	return []*anyloss.TargetParams{r.Actor, r.Critic}
}

// Forward computes loss_actor and loss_value from precomputed
// "advantage" and "value_target" entries.
func (r *ReinforceLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms,
	err error) {
	defer essentials.AddCtxTo("reinforce loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "action", "advantage",
		"value_target"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()

	obs := anydiff.NewConst(batch.Get("observation").Data)
	action := batch.Get("action").Data
	advantage := anyloss.ConstVec(c, batch.Floats("advantage"))
	valueTarget := batch.Floats("value_target")

	logProb := r.Dist.LogProb(r.Actor.Apply(obs, n), action, n)
	lossActor := anydiff.Scale(
		anyloss.MaskedMean(anydiff.Mul(logProb, advantage), mask),
		c.MakeNumeric(-1),
	)

	vPred := r.Critic.Apply(obs, n)
	vDiff := anydiff.Sub(vPred, anyloss.ConstVec(c, valueTarget))
	lossValue := anyloss.MaskedMean(r.LossFunc.Apply(vDiff), mask)

	priority := anyloss.PriorityFromTD(anyloss.Components(vPred.Output()),
		valueTarget, mask)
	anyloss.WritePriority(batch, priority)

	terms = anyloss.Terms{
		"loss_actor":        lossActor,
		"loss_value":        lossValue,
		anyloss.PriorityKey: anyloss.ConstVec(c, priority),
	}
	return terms, nil
}
