package anypg

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec/anyvec64"

	"github.com/anyloss/anyloss"
)

func reinforceBatch(t *testing.T, c anyvec64.DefaultCreator) *anyloss.Record {
	t.Helper()
	r := anyloss.NewRecord(c, 2)
	set := func(key string, values []float64, shape ...int) {
		if err := r.SetFloats(key, values, shape...); err != nil {
			t.Fatal(err)
		}
	}
	set("observation", []float64{0.4, -0.7, -0.1, 0.9}, 2, 2)
	set("action", []float64{1, 0, 0, 1}, 2, 2)
	set("advantage", []float64{2, -1}, 2, 1)
	set("value_target", []float64{1.5, 0.25}, 2, 1)
	return r
}

func TestReinforceValidation(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	if _, err := NewReinforceLoss(testPolicy(t, c, 2, 2),
		testPolicy(t, c, 2, 1), nil, anyloss.L2, false); err == nil {
		t.Error("expected error for missing distribution")
	}
}

func TestReinforceActorTerm(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	loss, err := NewReinforceLoss(testPolicy(t, c, 2, 2),
		testPolicy(t, c, 2, 1), anyrl.Softmax{}, anyloss.L2, false)
	if err != nil {
		t.Fatal(err)
	}
	batch := reinforceBatch(t, c)
	terms, err := loss.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}

	obs := anydiff.NewConst(batch.Get("observation").Data)
	params := loss.Actor.ApplyFrozen(obs, 2)
	logProb := anyloss.Components(anyrl.Softmax{}.LogProb(params,
		batch.Get("action").Data, 2).Output())
	advantage := []float64{2, -1}
	var expected float64
	for i, lp := range logProb {
		expected -= lp * advantage[i] / 2
	}
	actual := anyloss.Components(terms["loss_actor"].Output())[0]
	if math.Abs(actual-expected) > 1e-6 {
		t.Errorf("expected actor loss %f, got %f", expected, actual)
	}
}

func TestReinforceValueTerm(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	loss, err := NewReinforceLoss(testPolicy(t, c, 2, 2),
		testPolicy(t, c, 2, 1), anyrl.Softmax{}, anyloss.L2, false)
	if err != nil {
		t.Fatal(err)
	}
	batch := reinforceBatch(t, c)
	terms, err := loss.Forward(batch)
	if err != nil {
		t.Fatal(err)
	}

	obs := anydiff.NewConst(batch.Get("observation").Data)
	vPred := anyloss.Components(loss.Critic.ApplyFrozen(obs, 2).Output())
	targets := []float64{1.5, 0.25}
	var expected float64
	for i, v := range vPred {
		d := v - targets[i]
		expected += d * d / 2
	}
	actual := anyloss.Components(terms["loss_value"].Output())[0]
	if math.Abs(actual-expected) > 1e-6 {
		t.Errorf("expected value loss %f, got %f", expected, actual)
	}
	if !batch.Has(anyloss.PriorityKey) {
		t.Error("priority not written into the batch")
	}
}

func TestReinforceIsolation(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	loss, err := NewReinforceLoss(testPolicy(t, c, 2, 2),
		testPolicy(t, c, 2, 1), anyrl.Softmax{}, anyloss.L2, false)
	if err != nil {
		t.Fatal(err)
	}
	terms, err := loss.Forward(reinforceBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}

	actorVars := loss.Actor.LiveVars()
	criticVars := loss.Critic.LiveVars()
	if !varsOverlap(terms["loss_actor"], actorVars) {
		t.Error("actor term should reach the actor")
	}
	if varsOverlap(terms["loss_actor"], criticVars) {
		t.Error("actor term must not reach the critic")
	}
	if !varsOverlap(terms["loss_value"], criticVars) {
		t.Error("value term should reach the critic")
	}
	if varsOverlap(terms["loss_value"], actorVars) {
		t.Error("value term must not reach the actor")
	}
}
