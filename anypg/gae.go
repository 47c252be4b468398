// Package anypg implements policy-gradient objectives: generalized
// advantage estimation, the PPO family, and REINFORCE.
//
// The batches here are time-major per trajectory: a (B, T) batch
// shape with a mask entry marking real steps, as produced by the
// rollout bridge. Advantage estimates feed the losses through the
// "advantage" and "value_target" entries.
package anypg

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// GAE computes generalized advantage estimates over trajectory
// batches.
//
// With Gradient set, the returned advantage carries gradients into
// the value network's live parameters; otherwise the value estimates
// come from the delayed set (or the frozen live set) and the result
// is constant.
type GAE struct {
	Value    *anyloss.TargetParams
	Gamma    float64
	Lambda   float64
	Gradient bool
}

// NewGAE wraps a value network for advantage estimation.
func NewGAE(value anyloss.Module, gamma, lambda float64, gradient,
	delayValue bool) (*GAE, error) {
	if gamma <= 0 || gamma >= 1 {
		return nil, configError("new gae", "gamma must be in (0,1)")
	}
	if lambda < 0 || lambda > 1 {
		return nil, configError("new gae", "lambda must be in [0,1]")
	}
	params, err := anyloss.WrapTarget("value", value, delayValue)
	if err != nil {
		return nil, err
	}
	return &GAE{Value: params, Gamma: gamma, Lambda: lambda,
		Gradient: gradient}, nil
}

// Advantage estimates per-step advantages and value regression
// targets for a (B, T) batch.
//
// The TD residual at step t bootstraps from the value of the next
// observation, cut off at terminals and at padded steps. Residuals
// then accumulate backward with factor gamma*lambda. The detached
// estimates are also written into the batch under "advantage" and
// "value_target".
func (g *GAE) Advantage(batch *anyloss.Record) (advantage,
	valueTarget anydiff.Res, err error) {
	defer essentials.AddCtxTo("gae", &err)

	if len(batch.BatchShape()) != 2 {
		return nil, nil, configError("gae",
			"advantage estimation needs a (batch, time) shaped record")
	}
	if err := anyloss.RequireKeys(batch, "observation", "next_observation",
		"reward", "done"); err != nil {
		return nil, nil, err
	}
	numRows := batch.BatchShape()[0]
	numSteps := batch.BatchShape()[1]
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()
	reward := batch.Floats("reward")
	done := batch.Floats("done")

	obs := anydiff.NewConst(batch.Get("observation").Data)
	nextObs := anydiff.NewConst(batch.Get("next_observation").Data)
	var values, nextValues anydiff.Res
	if g.Gradient {
		values = g.Value.Apply(obs, n)
		nextValues = g.Value.Apply(nextObs, n)
	} else {
		values = g.Value.ApplyTarget(obs, n)
		nextValues = g.Value.ApplyTarget(nextObs, n)
	}

	// delta_t = r_t + gamma*(1-done_t)*V(s'_t) - V(s_t), zero at
	// padded steps.
	bootCoef := make([]float64, n)
	for i := range bootCoef {
		bootCoef[i] = g.Gamma * (1 - done[i]) * mask[i]
	}
	delta := anydiff.Mul(
		anydiff.Add(
			anyloss.ConstVec(c, reward),
			anydiff.Sub(
				anydiff.Mul(anyloss.ConstVec(c, bootCoef), nextValues),
				values,
			),
		),
		anyloss.ConstVec(c, mask),
	)

	advantage = anydiff.Pool(delta, func(delta anydiff.Res) anydiff.Res {
		cols := make([]anydiff.Res, numSteps)
		var build func(t int, next anydiff.Res) anydiff.Res
		build = func(t int, next anydiff.Res) anydiff.Res {
			if t < 0 {
				return anyloss.JoinCols(numRows, cols...)
			}
			col := anyloss.SliceCols(delta, t, t+1, numSteps)
			if next != nil {
				coef := make([]float64, numRows)
				for b := 0; b < numRows; b++ {
					i := b*numSteps + t
					coef[b] = g.Gamma * g.Lambda * (1 - done[i]) * mask[i+1]
				}
				col = anydiff.Add(col,
					anydiff.Mul(anyloss.ConstVec(c, coef), next))
			}
			// Pool each column: it feeds both the previous step and
			// the joined output.
			return anydiff.Pool(col, func(col anydiff.Res) anydiff.Res {
				cols[t] = col
				return build(t-1, col)
			})
		}
		return build(numSteps-1, nil)
	})

	advDet := anyloss.Components(advantage.Output())
	valueDet := anyloss.Components(values.Output())
	targets := make([]float64, n)
	for i := range targets {
		targets[i] = (advDet[i] + valueDet[i]) * mask[i]
	}
	valueTarget = anyloss.ConstVec(c, targets)

	shape := append(batch.BatchShape(), 1)
	if err := batch.SetFloats("advantage", advDet, shape...); err != nil {
		return nil, nil, err
	}
	if err := batch.SetFloats("value_target", targets, shape...); err != nil {
		return nil, nil, err
	}
	return advantage, valueTarget, nil
}
