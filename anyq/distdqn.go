package anyq

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// DistributionalDQNLoss is the categorical ("C51") variant of deep
// Q-learning.
//
// The value network outputs one logit block of Atoms components per
// action. The target return distribution is shifted by the reward,
// shrunk by the discount, projected back onto the fixed support, and
// penalized with the cross-entropy against the live distribution of
// the taken action.
type DistributionalDQNLoss struct {
	Value   *anyloss.TargetParams
	Actions int
	Atoms   int
	VMin    float64
	VMax    float64
	Gamma   float64
}

// NewDistributionalDQNLoss wraps a categorical Q network.
func NewDistributionalDQNLoss(q anyloss.Module, actions, atoms int,
	vmin, vmax, gamma float64, delayValue bool) (*DistributionalDQNLoss, error) {
	if actions < 1 {
		return nil, configError("new distributional dqn loss",
			"need at least one action")
	}
	if atoms < 2 {
		return nil, configError("new distributional dqn loss",
			"need at least two atoms")
	}
	if vmax <= vmin {
		return nil, configError("new distributional dqn loss",
			"support upper bound must exceed lower bound")
	}
	if gamma <= 0 || gamma >= 1 {
		return nil, configError("new distributional dqn loss",
			"gamma must be in (0,1)")
	}
	value, err := anyloss.WrapTarget("value", q, delayValue)
	if err != nil {
		return nil, err
	}
	return &DistributionalDQNLoss{
		Value:   value,
		Actions: actions,
		Atoms:   atoms,
		VMin:    vmin,
		VMax:    vmax,
		Gamma:   gamma,
	}, nil
}

// TargetManagers exposes the value manager for updaters.
func (d *DistributionalDQNLoss) TargetManagers() []*anyloss.TargetParams {
	return []*anyloss.TargetParams{d.Value}
}

// Support returns the fixed atom values.
func (d *DistributionalDQNLoss) Support() []float64 {
	res := make([]float64, d.Atoms)
	delta := (d.VMax - d.VMin) / float64(d.Atoms-1)
	for i := range res {
		res[i] = d.VMin + float64(i)*delta
	}
	return res
}

// Forward computes the projected cross-entropy term.
func (d *DistributionalDQNLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms,
	err error) {
	defer essentials.AddCtxTo("distributional dqn loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "next_observation",
		"action", "reward", "done"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()
	support := d.Support()
	width := d.Actions * d.Atoms

	// Target distribution for the greedy next action, projected onto
	// the support. No gradient flows through any of this.
	nextObs := anydiff.NewConst(batch.Get("next_observation").Data)
	nextLogits := anyloss.Components(d.Value.ApplyTarget(nextObs, n).Output())
	discounts := anyloss.BootstrapDiscounts(batch, d.Gamma)
	reward := batch.Floats("reward")

	projected := make([]float64, n*width)
	action := batch.Floats("action")
	for i := 0; i < n; i++ {
		probs := d.atomProbs(nextLogits[i*width : (i+1)*width])
		best := 0
		bestVal := math.Inf(-1)
		for a := 0; a < d.Actions; a++ {
			var expect float64
			for j, z := range support {
				expect += probs[a*d.Atoms+j] * z
			}
			if expect > bestVal {
				bestVal = expect
				best = a
			}
		}

		// Project r + discount*z onto the support for the block of
		// the action actually taken.
		taken := maxIndex(action[i*d.Actions : (i+1)*d.Actions])
		block := projected[i*width+taken*d.Atoms : i*width+(taken+1)*d.Atoms]
		delta := (d.VMax - d.VMin) / float64(d.Atoms-1)
		for j, z := range support {
			tz := reward[i] + discounts[i]*z
			if tz < d.VMin {
				tz = d.VMin
			} else if tz > d.VMax {
				tz = d.VMax
			}
			pos := (tz - d.VMin) / delta
			lower := int(math.Floor(pos))
			upper := int(math.Ceil(pos))
			p := probs[best*d.Atoms+j]
			if lower == upper {
				block[lower] += p
			} else {
				block[lower] += p * (float64(upper) - pos)
				block[upper] += p * (pos - float64(lower))
			}
		}
	}

	obs := anydiff.NewConst(batch.Get("observation").Data)
	logits := d.Value.Apply(obs, n)
	logProbs := anydiff.LogSoftmax(logits, d.Atoms)
	crossEnt := anydiff.Scale(
		anyloss.RowDot(logProbs, anyloss.ConstVec(c, projected), n),
		c.MakeNumeric(-1),
	)

	priority := make([]float64, n)
	for i, x := range anyloss.Components(crossEnt.Output()) {
		priority[i] = x * mask[i]
	}
	anyloss.WritePriority(batch, priority)

	terms = anyloss.Terms{
		"loss_value":        anyloss.MaskedMean(crossEnt, mask),
		anyloss.PriorityKey: anyloss.ConstVec(c, priority),
	}
	return terms, nil
}

// atomProbs softmaxes each action's atom block.
func (d *DistributionalDQNLoss) atomProbs(logits []float64) []float64 {
	res := make([]float64, len(logits))
	for a := 0; a < d.Actions; a++ {
		block := logits[a*d.Atoms : (a+1)*d.Atoms]
		max := math.Inf(-1)
		for _, x := range block {
			if x > max {
				max = x
			}
		}
		var sum float64
		out := res[a*d.Atoms : (a+1)*d.Atoms]
		for j, x := range block {
			out[j] = math.Exp(x - max)
			sum += out[j]
		}
		for j := range out {
			out[j] /= sum
		}
	}
	return res
}

func maxIndex(values []float64) int {
	best := 0
	for i, x := range values {
		if x > values[best] {
			best = i
		}
	}
	return best
}
