package anyq

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"

	"github.com/anyloss/anyloss"
)

func fcModule(t *testing.T, c anyvec.Creator, in, out int,
	weights, biases []float64) *anyloss.FuncNet {
	t.Helper()
	fc := anynet.NewFC(c, in, out)
	fc.Weights.Vector.SetData(c.MakeNumericList(weights))
	fc.Biases.Vector.SetData(c.MakeNumericList(biases))
	fn, err := anyloss.NewFuncNet(anynet.Net{fc})
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func dqnBatch(t *testing.T, c anyvec.Creator) *anyloss.Record {
	t.Helper()
	r := anyloss.NewRecord(c, 2)
	if err := r.SetFloats("observation", []float64{
		1, 0, 0,
		0, 1, 1,
	}, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFloats("next_observation", []float64{
		0, 1, 1,
		1, 0, 0,
	}, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFloats("action", []float64{
		1, 0, 0, 0,
		0, 0, 0, 1,
	}, 2, 4); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFloats("reward", []float64{1, -1}, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFloats("done", []float64{0, 1}, 2, 1); err != nil {
		t.Fatal(err)
	}
	return r
}

// Per-action weight rows for a 3-component observation.
var testWeights = []float64{
	0.5, -0.2, 0.3,
	0.1, 0.4, -0.5,
	-0.3, 0.2, 0.1,
	0.2, 0.0, 0.6,
}

var testBiases = []float64{0.1, 0.2, -0.1, 0}

func TestDQNValidation(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 3, 4, testWeights, testBiases)
	if _, err := NewDQNLoss(q, 0, 0.9, anyloss.L2, true); err == nil {
		t.Error("expected error for zero actions")
	}
	if _, err := NewDQNLoss(q, 4, 1.5, anyloss.L2, true); err == nil {
		t.Error("expected error for gamma outside (0,1)")
	}
}

func TestDQNForward(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 3, 4, testWeights, testBiases)
	dqn, err := NewDQNLoss(q, 4, 0.9, anyloss.L2, true)
	if err != nil {
		t.Fatal(err)
	}
	batch := dqnBatch(t, c)
	terms, err := dqn.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}

	// Q(s1) = [0.6, 0.3, -0.4, 0.2], Q(s2) = [0.2, 0.1, 0.2, 0.6].
	// Sample 1 bootstraps from max Q(s2)=0.6; sample 2 is terminal.
	pred := []float64{0.6, 0.6}
	target := []float64{1 + 0.9*0.6, -1}
	var expected float64
	for i := range pred {
		d := pred[i] - target[i]
		expected += d * d / 2
	}
	actual := anyloss.Components(terms["loss_value"].Output())[0]
	if math.Abs(actual-expected) > 1e-6 {
		t.Errorf("expected loss %f, got %f", expected, actual)
	}

	priority := anyloss.Components(terms[anyloss.PriorityKey].Output())
	for i := range pred {
		want := math.Abs(pred[i] - target[i])
		if math.Abs(priority[i]-want) > 1e-6 {
			t.Errorf("priority %d: expected %f, got %f", i, want, priority[i])
		}
	}
	if !batch.Has(anyloss.PriorityKey) {
		t.Error("priority not written into the batch")
	}
}

func TestDQNGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 3, 4, testWeights, testBiases)
	dqn, err := NewDQNLoss(q, 4, 0.9, anyloss.L2, true)
	if err != nil {
		t.Fatal(err)
	}
	terms, err := dqn.Forward(dqnBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}

	grad := anydiff.NewGrad(dqn.Value.LiveVars()...)
	terms.Backward(grad)
	var total float64
	for _, vec := range grad {
		for _, x := range anyloss.Components(vec) {
			total += math.Abs(x)
		}
	}
	if total < 1e-6 {
		t.Error("expected non-zero gradients for the live parameters")
	}
}

func TestDQNDelayedTarget(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	delayed, err := NewDQNLoss(fcModule(t, c, 3, 4, testWeights, testBiases),
		4, 0.9, anyloss.L2, true)
	if err != nil {
		t.Fatal(err)
	}
	online, err := NewDQNLoss(fcModule(t, c, 3, 4, testWeights, testBiases),
		4, 0.9, anyloss.L2, false)
	if err != nil {
		t.Fatal(err)
	}

	termsA, err := delayed.Forward(dqnBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}
	termsB, err := online.Forward(dqnBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}
	lossA := anyloss.Components(termsA["loss_value"].Output())[0]
	lossB := anyloss.Components(termsB["loss_value"].Output())[0]
	if math.Abs(lossA-lossB) > 1e-8 {
		t.Fatal("identical parameters should give identical losses")
	}

	// Drift the live parameters of both; only the delayed variant
	// keeps the original bootstrap values.
	for _, m := range []*DQNLoss{delayed, online} {
		for _, v := range m.Value.LiveVars() {
			v.Vector.Scale(c.MakeNumeric(2))
		}
	}
	termsA, err = delayed.Forward(dqnBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}
	termsB, err = online.Forward(dqnBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}
	lossA = anyloss.Components(termsA["loss_value"].Output())[0]
	lossB = anyloss.Components(termsB["loss_value"].Output())[0]
	if math.Abs(lossA-lossB) < 1e-8 {
		t.Error("delayed and online bootstraps should now differ")
	}
}

func TestDQNMultiStepDiscount(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := fcModule(t, c, 3, 4, testWeights, testBiases)
	dqn, err := NewDQNLoss(q, 4, 0.9, anyloss.L2, false)
	if err != nil {
		t.Fatal(err)
	}

	// A zero discount entry removes the bootstrap entirely.
	batch := dqnBatch(t, c)
	if err := batch.SetFloats("discount", []float64{0, 0}, 2, 1); err != nil {
		t.Fatal(err)
	}
	terms, err := dqn.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}
	pred := []float64{0.6, 0.6}
	reward := []float64{1, -1}
	var expected float64
	for i := range pred {
		d := pred[i] - reward[i]
		expected += d * d / 2
	}
	actual := anyloss.Components(terms["loss_value"].Output())[0]
	if math.Abs(actual-expected) > 1e-6 {
		t.Errorf("expected loss %f, got %f", expected, actual)
	}
}
