package anyac

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"

	"github.com/anyloss/anyloss"
)

func sacConfig(t *testing.T, c anyvec64.DefaultCreator,
	withValue bool) SACConfig {
	t.Helper()
	cfg := SACConfig{
		// Two observation components, one action dimension: the actor
		// outputs [mu, logstd] pairs, Q networks consume (obs, action).
		Actor: testNet(t, c, 2, 2),
		QValues: []anyloss.Module{
			testNet(t, c, 3, 1),
			testNet(t, c, 3, 1),
		},
		ActionDim:   1,
		Gamma:       0.99,
		LossFunc:    anyloss.L2,
		DelayQValue: true,
	}
	if withValue {
		cfg.Value = testNet(t, c, 2, 1)
		cfg.DelayValue = true
	}
	return cfg
}

func TestSACValidation(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	cfg := sacConfig(t, c, false)
	cfg.QValues = cfg.QValues[:1]
	if _, err := NewSACLoss(cfg); err == nil {
		t.Error("expected error for a single qvalue network")
	}

	cfg = sacConfig(t, c, true)
	cfg.DelayValue = false
	if _, err := NewSACLoss(cfg); err == nil {
		t.Error("expected error for delayed qvalue without delayed value")
	} else if _, ok := err.(*anyloss.ConfigError); !ok {
		t.Errorf("expected *anyloss.ConfigError, got %T", err)
	}

	cfg = sacConfig(t, c, false)
	cfg.Gamma = 0
	if _, err := NewSACLoss(cfg); err == nil {
		t.Error("expected error for gamma of zero")
	}
}

func TestSACDefaults(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	sac, err := NewSACLoss(sacConfig(t, c, false))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sac.Alpha()-1) > 1e-8 {
		t.Errorf("expected default alpha of 1, got %f", sac.Alpha())
	}
	if math.Abs(sac.TargetEntropy+1) > 1e-8 {
		t.Errorf("expected target entropy of -1, got %f", sac.TargetEntropy)
	}
	if len(sac.TargetManagers()) != 3 {
		t.Errorf("expected 3 managers, got %d", len(sac.TargetManagers()))
	}
}

func TestSACTermsWithValue(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	sac, err := NewSACLoss(sacConfig(t, c, true))
	if err != nil {
		t.Fatal(err)
	}
	terms, err := sac.Forward(continuousBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"loss_actor", "loss_qvalue", "loss_value",
		"loss_alpha"} {
		if terms[key] == nil {
			t.Fatalf("missing term %s", key)
		}
		if v := anyloss.Components(terms[key].Output())[0]; math.IsNaN(v) {
			t.Fatalf("term %s is NaN", key)
		}
	}
}

func TestSACTermsWithoutValue(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	sac, err := NewSACLoss(sacConfig(t, c, false))
	if err != nil {
		t.Fatal(err)
	}
	terms, err := sac.Forward(continuousBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}
	if terms["loss_value"] != nil {
		t.Error("no value term expected without a value network")
	}
	if terms["loss_qvalue"] == nil || terms["loss_actor"] == nil {
		t.Fatal("missing core terms")
	}
}

func TestSACIsolation(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	sac, err := NewSACLoss(sacConfig(t, c, true))
	if err != nil {
		t.Fatal(err)
	}
	terms, err := sac.Forward(continuousBatch(t, c))
	if err != nil {
		t.Fatal(err)
	}

	actorVars := sac.Actor.LiveVars()
	var qVars []*anydiff.Var
	for _, q := range sac.QValues {
		qVars = append(qVars, q.LiveVars()...)
	}
	valueVars := sac.Value.LiveVars()

	if !varsOverlap(terms["loss_actor"], actorVars) {
		t.Error("actor term should reach the actor")
	}
	if varsOverlap(terms["loss_actor"], qVars) ||
		varsOverlap(terms["loss_actor"], valueVars) {
		t.Error("actor term must not reach the critics")
	}
	if !varsOverlap(terms["loss_qvalue"], qVars) {
		t.Error("qvalue term should reach the ensemble")
	}
	if varsOverlap(terms["loss_qvalue"], actorVars) ||
		varsOverlap(terms["loss_qvalue"], valueVars) {
		t.Error("qvalue term must not reach other roles")
	}
	if !varsOverlap(terms["loss_value"], valueVars) {
		t.Error("value term should reach the value network")
	}
	if varsOverlap(terms["loss_value"], actorVars) ||
		varsOverlap(terms["loss_value"], qVars) {
		t.Error("value term must not reach other roles")
	}

	// The temperature term touches only the log-alpha variable.
	if !terms["loss_alpha"].Vars().Has(sac.LogAlpha) {
		t.Error("alpha term should reach log-alpha")
	}
	if varsOverlap(terms["loss_alpha"], actorVars) ||
		varsOverlap(terms["loss_alpha"], qVars) ||
		varsOverlap(terms["loss_alpha"], valueVars) {
		t.Error("alpha term must not reach network parameters")
	}
	for _, key := range []string{"loss_actor", "loss_qvalue", "loss_value"} {
		if terms[key].Vars().Has(sac.LogAlpha) {
			t.Errorf("%s must not reach log-alpha", key)
		}
	}
}
