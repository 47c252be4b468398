package anyloss

import (
	"github.com/unixpickle/essentials"
)

// MultiStep rewrites a time-indexed trajectory record into single-step
// transitions with n-step bootstrapped rewards and discounts.
//
// For each start index t, the effective horizon h is the smallest of
// NSteps, the remaining steps in the batch, and the distance to the
// first episode end at or after t. The transform accumulates the
// discounted reward over the window, points next_observation at the
// observation the bootstrap value should come from, and writes the
// bootstrap factor into a "discount" entry: gamma^(h+1), or zero when
// the window ends in a terminal step.
//
// With NSteps of zero the transform is the identity on all shared
// keys.
type MultiStep struct {
	Gamma  float64
	NSteps int
}

// Transform produces the rewritten record. The input is unchanged.
//
// The input must have a (batch, time) shape with reward, done,
// observation, and next_observation entries; reward and done carry
// one component per step.
func (m *MultiStep) Transform(batch *Record) (out *Record, err error) {
	defer essentials.AddCtxTo("multi-step transform", &err)

	if m.Gamma <= 0 || m.Gamma >= 1 {
		return nil, configErrorf("multi-step", "gamma must be in (0,1), got %v", m.Gamma)
	}
	if m.NSteps < 0 {
		return nil, configErrorf("multi-step", "n-steps must be non-negative, got %d",
			m.NSteps)
	}
	shape := batch.BatchShape()
	if len(shape) != 2 {
		return nil, &ShapeError{Key: "batch", Expected: []int{-1, -1}, Actual: shape}
	}
	for _, key := range []string{"reward", "done", "observation", "next_observation"} {
		if !batch.Has(key) {
			return nil, MissingKey(key)
		}
	}

	b, t := shape[0], shape[1]
	reward := batch.Floats("reward")
	done := batch.Floats("done")
	mask := batch.MaskFloats()
	nextObs := batch.Floats("next_observation")
	obsDim := batch.FeatureLen("next_observation")

	newReward := make([]float64, b*t)
	newDiscount := make([]float64, b*t)
	newNext := make([]float64, b*t*obsDim)
	newSteps := make([]float64, b*t)
	newMask := make([]float64, b*t)

	for row := 0; row < b; row++ {
		for start := 0; start < t; start++ {
			i := row*t + start
			newMask[i] = mask[i]
			if mask[i] == 0 {
				continue
			}

			// Walk the window, stopping at the horizon, the batch
			// edge, or the first terminal step.
			h := 0
			var sum float64
			factor := 1.0
			terminal := false
			for k := 0; ; k++ {
				j := row*t + start + k
				sum += factor * reward[j]
				h = k
				if done[j] != 0 {
					terminal = true
					break
				}
				if k == m.NSteps || start+k == t-1 || mask[j+1] == 0 {
					break
				}
				factor *= m.Gamma
			}

			last := row*t + start + h
			newReward[i] = sum
			if terminal {
				newDiscount[i] = 0
			} else {
				newDiscount[i] = pow(m.Gamma, h+1)
			}
			copy(newNext[i*obsDim:(i+1)*obsDim],
				nextObs[last*obsDim:(last+1)*obsDim])
			newSteps[i] = float64(h + 1)
		}
	}

	out = batch.Clone()
	if err := out.SetFloats("reward", newReward, b, t, 1); err != nil {
		return nil, err
	}
	if err := out.SetFloats("discount", newDiscount, b, t, 1); err != nil {
		return nil, err
	}
	if err := out.SetFloats("next_observation", newNext, b, t, obsDim); err != nil {
		return nil, err
	}
	if err := out.SetFloats("steps_to_next_obs", newSteps, b, t, 1); err != nil {
		return nil, err
	}
	if err := out.SetFloats("mask", newMask, b, t, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func pow(base float64, exp int) float64 {
	res := 1.0
	for i := 0; i < exp; i++ {
		res *= base
	}
	return res
}
