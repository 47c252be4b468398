package anyloss

import (
	"math"
	"testing"

	"github.com/unixpickle/anyvec/anyvec64"
)

func trajectoryRecord(t *testing.T) *Record {
	t.Helper()
	c := anyvec64.DefaultCreator{}
	r := NewRecord(c, 1, 5)
	must(t, r.SetFloats("observation", []float64{10, 11, 12, 13, 14}, 1, 5, 1))
	must(t, r.SetFloats("next_observation", []float64{11, 12, 13, 14, 15}, 1, 5, 1))
	must(t, r.SetFloats("reward", []float64{1, 2, 3, 4, 5}, 1, 5, 1))
	must(t, r.SetFloats("done", []float64{0, 0, 1, 0, 0}, 1, 5, 1))
	return r
}

func TestMultiStepValidation(t *testing.T) {
	r := trajectoryRecord(t)
	if _, err := (&MultiStep{Gamma: 1.5, NSteps: 1}).Transform(r); err == nil {
		t.Error("expected error for gamma outside (0,1)")
	}
	if _, err := (&MultiStep{Gamma: 0.9, NSteps: -1}).Transform(r); err == nil {
		t.Error("expected error for negative n-steps")
	}

	c := anyvec64.DefaultCreator{}
	flat := NewRecord(c, 5)
	must(t, flat.SetFloats("reward", []float64{1, 2, 3, 4, 5}, 5, 1))
	if _, err := (&MultiStep{Gamma: 0.9, NSteps: 1}).Transform(flat); err == nil {
		t.Error("expected error for non-trajectory batch shape")
	}
}

func TestMultiStepZeroSteps(t *testing.T) {
	r := trajectoryRecord(t)
	out, err := (&MultiStep{Gamma: 0.9, NSteps: 0}).Transform(r)
	if err != nil {
		t.Fatal(err)
	}

	assertClose(t, out.Floats("reward"), r.Floats("reward"))
	assertClose(t, out.Floats("next_observation"), r.Floats("next_observation"))
	assertClose(t, out.Floats("discount"), []float64{0.9, 0.9, 0, 0.9, 0.9})
	assertClose(t, out.Floats("steps_to_next_obs"), []float64{1, 1, 1, 1, 1})

	// The input must be untouched.
	if r.Has("discount") {
		t.Error("transform mutated its input")
	}
}

func TestMultiStepHorizon(t *testing.T) {
	r := trajectoryRecord(t)
	out, err := (&MultiStep{Gamma: 0.5, NSteps: 2}).Transform(r)
	if err != nil {
		t.Fatal(err)
	}

	// Start 0: full 3-step window (no terminal inside).
	// Start 1: truncated at the terminal step 2.
	// Start 3: truncated at the batch edge.
	assertClose(t, out.Floats("reward"), []float64{
		1 + 0.5*2 + 0.25*3,
		2 + 0.5*3,
		3,
		4 + 0.5*5,
		5,
	})
	assertClose(t, out.Floats("discount"), []float64{
		0, // window ends in a terminal step
		0,
		0,
		0.25,
		0.5,
	})
	assertClose(t, out.Floats("next_observation"), []float64{13, 13, 13, 15, 15})
	assertClose(t, out.Floats("steps_to_next_obs"), []float64{3, 2, 1, 2, 1})
}

func TestMultiStepMask(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	r := NewRecord(c, 1, 4)
	must(t, r.SetFloats("observation", []float64{1, 2, 3, 4}, 1, 4, 1))
	must(t, r.SetFloats("next_observation", []float64{2, 3, 4, 5}, 1, 4, 1))
	must(t, r.SetFloats("reward", []float64{1, 1, 1, 1}, 1, 4, 1))
	must(t, r.SetFloats("done", []float64{0, 0, 0, 0}, 1, 4, 1))
	must(t, r.SetFloats("mask", []float64{1, 1, 0, 0}, 1, 4, 1))

	out, err := (&MultiStep{Gamma: 0.9, NSteps: 3}).Transform(r)
	if err != nil {
		t.Fatal(err)
	}

	// Windows must not cross into padded steps.
	assertClose(t, out.Floats("reward"), []float64{1 + 0.9, 1, 0, 0})
	assertClose(t, out.Floats("mask"), []float64{1, 1, 0, 0})
	if math.Abs(out.Floats("discount")[0]-0.81) > 1e-8 {
		t.Errorf("expected discount 0.81, got %f", out.Floats("discount")[0])
	}
}
