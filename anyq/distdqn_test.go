package anyq

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"

	"github.com/anyloss/anyloss"
)

func TestDistributionalDQNValidation(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 3, 6, make([]float64, 18), make([]float64, 6))
	if _, err := NewDistributionalDQNLoss(q, 2, 1, -1, 1, 0.9, true); err == nil {
		t.Error("expected error for a single atom")
	}
	if _, err := NewDistributionalDQNLoss(q, 2, 3, 1, -1, 0.9, true); err == nil {
		t.Error("expected error for inverted support bounds")
	}
	if _, err := NewDistributionalDQNLoss(q, 0, 3, -1, 1, 0.9, true); err == nil {
		t.Error("expected error for zero actions")
	}
}

func TestDistributionalDQNSupport(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 3, 6, make([]float64, 18), make([]float64, 6))
	loss, err := NewDistributionalDQNLoss(q, 2, 3, -1, 1, 0.9, true)
	if err != nil {
		t.Fatal(err)
	}
	support := loss.Support()
	expected := []float64{-1, 0, 1}
	for i, z := range expected {
		if math.Abs(support[i]-z) > 1e-8 {
			t.Errorf("atom %d: expected %f, got %f", i, z, support[i])
		}
	}
}

func TestAtomProbs(t *testing.T) {
	d := &DistributionalDQNLoss{Actions: 2, Atoms: 3}
	probs := d.atomProbs([]float64{1, 2, 3, -5, 0, 5})
	for a := 0; a < 2; a++ {
		var sum float64
		for j := 0; j < 3; j++ {
			p := probs[a*3+j]
			if p < 0 || p > 1 {
				t.Fatalf("probability out of range: %f", p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-8 {
			t.Errorf("action %d: probabilities sum to %f", a, sum)
		}
	}
	if probs[2] <= probs[1] || probs[1] <= probs[0] {
		t.Error("softmax should preserve ordering")
	}
}

func TestDistributionalDQNForward(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	weights := []float64{
		0.2, -0.1, 0.3,
		-0.4, 0.5, 0.1,
		0.3, 0.3, -0.2,
		0.1, -0.3, 0.2,
		-0.2, 0.4, 0.4,
		0.5, 0.1, -0.1,
	}
	q := fcModule(t, c, 3, 6, weights, make([]float64, 6))
	loss, err := NewDistributionalDQNLoss(q, 2, 3, -2, 2, 0.9, true)
	if err != nil {
		t.Fatal(err)
	}

	batch := anyloss.NewRecord(c, 2)
	mustSet := func(key string, values []float64, shape ...int) {
		if err := batch.SetFloats(key, values, shape...); err != nil {
			t.Fatal(err)
		}
	}
	mustSet("observation", []float64{1, 0, 0, 0, 1, 1}, 2, 3)
	mustSet("next_observation", []float64{0, 1, 1, 1, 0, 0}, 2, 3)
	mustSet("action", []float64{1, 0, 0, 1}, 2, 2)
	mustSet("reward", []float64{1, -1}, 2, 1)
	mustSet("done", []float64{0, 1}, 2, 1)

	terms, err := loss.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}

	// A cross-entropy against a probability distribution is positive.
	value := anyloss.Components(terms["loss_value"].Output())[0]
	if value <= 0 || math.IsNaN(value) {
		t.Errorf("expected positive cross-entropy, got %f", value)
	}
	priority := anyloss.Components(terms[anyloss.PriorityKey].Output())
	for i, p := range priority {
		if p <= 0 {
			t.Errorf("priority %d should be positive, got %f", i, p)
		}
	}

	grad := anydiff.NewGrad(loss.Value.LiveVars()...)
	terms.Backward(grad)
	var total float64
	for _, vec := range grad {
		for _, x := range anyloss.Components(vec) {
			total += math.Abs(x)
		}
	}
	if total < 1e-6 {
		t.Error("expected non-zero gradients")
	}
}

func TestDistributionalDQNProjection(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 2, 6, make([]float64, 12), make([]float64, 6))
	loss, err := NewDistributionalDQNLoss(q, 2, 3, -2, 2, 0.5, true)
	if err != nil {
		t.Fatal(err)
	}

	batch := anyloss.NewRecord(c, 1)
	mustSet := func(key string, values []float64, shape ...int) {
		if err := batch.SetFloats(key, values, shape...); err != nil {
			t.Fatal(err)
		}
	}
	mustSet("observation", []float64{1, 0}, 1, 2)
	mustSet("next_observation", []float64{0, 1}, 1, 2)
	mustSet("action", []float64{0, 1}, 1, 2)
	mustSet("reward", []float64{1}, 1, 1)
	mustSet("done", []float64{0}, 1, 1)

	// With zero weights the live distribution is uniform over the
	// taken action's atoms; the projected target sums to one, so the
	// cross-entropy equals log(atoms).
	terms, err := loss.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}
	value := anyloss.Components(terms["loss_value"].Output())[0]
	if math.Abs(value-math.Log(3)) > 1e-6 {
		t.Errorf("expected cross-entropy log(3)=%f, got %f", math.Log(3), value)
	}
}
