package anyloss

import (
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/lazyseq"
)

// FromRollouts converts a set of recorded episodes into a
// (batch, time) trajectory record.
//
// Sequences shorter than the longest episode are padded and marked
// invalid in the "mask" entry. The final valid step of every episode
// is marked done. Observations land in "observation", sampled actions
// in "action", raw agent outputs (distribution parameters) in
// "dist_params", and rewards in "reward". The "next_observation"
// entry shifts the observations by one step, repeating the final
// observation at the episode end.
func FromRollouts(c anyvec.Creator, r *anyrl.RolloutSet) (rec *Record, err error) {
	defer essentials.AddCtxTo("convert rollouts", &err)

	obs, err := tapeColumns(r.Inputs)
	if err != nil {
		return nil, err
	}
	actions, err := tapeColumns(r.Actions)
	if err != nil {
		return nil, err
	}
	agentOuts, err := tapeColumns(r.AgentOuts)
	if err != nil {
		return nil, err
	}

	b := len(r.Rewards)
	var t int
	for _, seq := range r.Rewards {
		if len(seq) > t {
			t = len(seq)
		}
	}
	if b == 0 || t == 0 {
		return nil, essentials.AddCtx("empty rollout set", errEmptyRollouts)
	}

	obsDim := featureDim(obs)
	actDim := featureDim(actions)
	outDim := featureDim(agentOuts)

	obsData := make([]float64, b*t*obsDim)
	nextData := make([]float64, b*t*obsDim)
	actData := make([]float64, b*t*actDim)
	outData := make([]float64, b*t*outDim)
	rewData := make([]float64, b*t)
	doneData := make([]float64, b*t)
	maskData := make([]float64, b*t)

	for row, seq := range r.Rewards {
		for step := range seq {
			i := row*t + step
			copy(obsData[i*obsDim:(i+1)*obsDim], obs[row][step])
			copy(actData[i*actDim:(i+1)*actDim], actions[row][step])
			copy(outData[i*outDim:(i+1)*outDim], agentOuts[row][step])
			next := step + 1
			if next >= len(seq) {
				next = step
			}
			copy(nextData[i*obsDim:(i+1)*obsDim], obs[row][next])
			rewData[i] = seq[step]
			maskData[i] = 1
			if step == len(seq)-1 {
				doneData[i] = 1
			}
		}
	}

	rec = NewRecord(c, b, t)
	for _, e := range []struct {
		key   string
		data  []float64
		width int
	}{
		{"observation", obsData, obsDim},
		{"next_observation", nextData, obsDim},
		{"action", actData, actDim},
		{"dist_params", outData, outDim},
		{"reward", rewData, 1},
		{"done", doneData, 1},
		{"mask", maskData, 1},
	} {
		if err := rec.SetFloats(e.key, e.data, b, t, e.width); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

var errEmptyRollouts = &ShapeError{Key: "rollouts", Expected: []int{1},
	Actual: []int{0}}

// tapeColumns unpacks a tape into per-sequence, per-timestep feature
// rows.
func tapeColumns(tape lazyseq.Tape) ([][][]float64, error) {
	var res [][][]float64
	for batch := range tape.ReadTape(0, -1) {
		if res == nil {
			res = make([][][]float64, len(batch.Present))
		}
		comps := Components(batch.Packed)
		present := batch.NumPresent()
		if present == 0 {
			continue
		}
		width := len(comps) / present
		for i, pres := range batch.Present {
			if !pres {
				continue
			}
			res[i] = append(res[i], comps[:width])
			comps = comps[width:]
		}
	}
	return res, nil
}

func featureDim(seqs [][][]float64) int {
	for _, seq := range seqs {
		for _, step := range seq {
			return len(step)
		}
	}
	return 1
}
