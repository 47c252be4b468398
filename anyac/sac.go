package anyac

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// SACConfig configures a soft actor-critic loss.
type SACConfig struct {
	// Actor outputs packed [mean, logstd] rows for a diagonal
	// Gaussian over actions.
	Actor anyloss.Module

	// QValues are the ensemble members. Each maps a joined
	// (observation, action) row to a scalar. At least two are
	// required.
	QValues []anyloss.Module

	// Value optionally estimates the state value. When nil, the
	// qvalue targets bootstrap from the target Q ensemble directly
	// and no value term is produced.
	Value anyloss.Module

	ActionDim int
	Gamma     float64
	LossFunc  anyloss.LossFunc

	DelayActor  bool
	DelayQValue bool
	DelayValue  bool

	// InitialAlpha is the starting entropy temperature. Zero means 1.
	InitialAlpha float64

	// TargetEntropy is the entropy level the temperature adapts
	// toward. Zero means -ActionDim.
	TargetEntropy float64
}

// SACLoss is the soft actor-critic objective.
//
// Forward produces up to four gradient-isolated terms: loss_actor,
// loss_qvalue, loss_value (with a state-value network), and
// loss_alpha for the learned entropy temperature.
type SACLoss struct {
	Actor   *anyloss.TargetParams
	QValues []*anyloss.TargetParams
	Value   *anyloss.TargetParams

	Dist     *anyloss.Gaussian
	LogAlpha *anydiff.Var

	Gamma         float64
	LossFunc      anyloss.LossFunc
	TargetEntropy float64
}

// NewSACLoss validates the configuration and wraps every role.
func NewSACLoss(cfg SACConfig) (*SACLoss, error) {
	if len(cfg.QValues) < 2 {
		return nil, configError("new sac loss", "need at least two qvalue networks")
	}
	if cfg.ActionDim < 1 {
		return nil, configError("new sac loss", "action dimension must be positive")
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		return nil, configError("new sac loss", "gamma must be in (0,1)")
	}
	if cfg.Value != nil && !cfg.DelayValue && (cfg.DelayActor || cfg.DelayQValue) {
		return nil, configError("new sac loss",
			"delayed actor or qvalue requires a delayed value network")
	}

	actor, err := anyloss.WrapTarget("actor", cfg.Actor, cfg.DelayActor)
	if err != nil {
		return nil, err
	}
	var qvalues []*anyloss.TargetParams
	for i, q := range cfg.QValues {
		wrapped, err := anyloss.WrapTarget(fmt.Sprintf("qvalue%d", i), q,
			cfg.DelayQValue)
		if err != nil {
			return nil, err
		}
		qvalues = append(qvalues, wrapped)
	}
	var value *anyloss.TargetParams
	if cfg.Value != nil {
		value, err = anyloss.WrapTarget("value", cfg.Value, cfg.DelayValue)
		if err != nil {
			return nil, err
		}
	}

	alpha := cfg.InitialAlpha
	if alpha == 0 {
		alpha = 1
	}
	targetEntropy := cfg.TargetEntropy
	if targetEntropy == 0 {
		targetEntropy = -float64(cfg.ActionDim)
	}
	c := actor.LiveVars()[0].Vector.Creator()
	return &SACLoss{
		Actor:         actor,
		QValues:       qvalues,
		Value:         value,
		Dist:          &anyloss.Gaussian{Dim: cfg.ActionDim},
		LogAlpha:      anydiff.NewVar(anyloss.MakeVec(c, []float64{math.Log(alpha)})),
		Gamma:         cfg.Gamma,
		LossFunc:      cfg.LossFunc,
		TargetEntropy: targetEntropy,
	}, nil
}

// TargetManagers exposes every role manager for updaters.
func (s *SACLoss) TargetManagers() []*anyloss.TargetParams {
	res := []*anyloss.TargetParams{s.Actor}
	res = append(res, s.QValues...)
	if s.Value != nil {
		res = append(res, s.Value)
	}
	return res
}

// Alpha returns the current entropy temperature.
func (s *SACLoss) Alpha() float64 {
	return math.Exp(anyloss.Components(s.LogAlpha.Vector)[0])
}

// Forward computes the SAC terms.
func (s *SACLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms, err error) {
	defer essentials.AddCtxTo("sac loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "next_observation",
		"action", "reward", "done"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()
	alpha := s.Alpha()

	obs := anydiff.NewConst(batch.Get("observation").Data)
	nextObs := anydiff.NewConst(batch.Get("next_observation").Data)
	action := anydiff.NewConst(batch.Get("action").Data)
	reward := batch.Floats("reward")
	discounts := anyloss.BootstrapDiscounts(batch, s.Gamma)

	// Actor term: reparameterized action through the frozen ensemble.
	distParams := s.Actor.Apply(obs, n)
	sampled, logProb := s.Dist.SampleWithLogProb(distParams, n)
	frozenQ := make([]anydiff.Res, len(s.QValues))
	for i, q := range s.QValues {
		frozenQ[i] = q.ApplyFrozen(anyloss.JoinCols(n, obs, sampled), n)
	}
	qMin := minAll(frozenQ)
	lossActor := anyloss.MaskedMean(
		anydiff.Sub(anydiff.Scale(logProb, c.MakeNumeric(alpha)), qMin),
		mask,
	)

	// Q target: bootstrapped from the value network when present,
	// else from the target ensemble minus the entropy term.
	target := make([]float64, n)
	if s.Value != nil {
		vNext := anyloss.Components(s.Value.ApplyTarget(nextObs, n).Output())
		for i := range target {
			target[i] = reward[i] + discounts[i]*vNext[i]
		}
	} else {
		nextDist := s.Actor.ApplyTarget(nextObs, n)
		nextAction := s.Dist.Sample(nextDist.Output(), n)
		nextLogProb := anyloss.Components(s.Dist.LogProb(
			anydiff.NewConst(nextDist.Output()), nextAction, n).Output())
		nextQ := make([]anydiff.Res, len(s.QValues))
		nextActionRes := anydiff.NewConst(nextAction)
		for i, q := range s.QValues {
			nextQ[i] = q.ApplyTarget(anyloss.JoinCols(n, nextObs, nextActionRes), n)
		}
		qNextMin := anyloss.Components(minAll(nextQ).Output())
		for i := range target {
			target[i] = reward[i] +
				discounts[i]*(qNextMin[i]-alpha*nextLogProb[i])
		}
	}
	targetRes := anyloss.ConstVec(c, target)

	qTerms := make([]anydiff.Res, len(s.QValues))
	priority := make([]float64, n)
	for i, q := range s.QValues {
		pred := q.Apply(anyloss.JoinCols(n, obs, action), n)
		qTerms[i] = s.LossFunc.Apply(anydiff.Sub(pred, targetRes))
		for j, td := range anyloss.PriorityFromTD(
			anyloss.Components(pred.Output()), target, mask) {
			priority[j] += td / float64(len(s.QValues))
		}
	}
	lossQValue := anyloss.MaskedMean(meanAll(qTerms), mask)

	// Temperature term against the detached sample log-probability.
	logProbDet := anyloss.Components(logProb.Output())
	entropyErr := make([]float64, n)
	for i := range entropyErr {
		entropyErr[i] = logProbDet[i] + s.TargetEntropy
	}
	tiled := anydiff.AddRepeated(anydiff.NewConst(c.MakeVector(n)), s.LogAlpha)
	lossAlpha := anydiff.Scale(
		anyloss.MaskedMean(anydiff.Mul(tiled, anyloss.ConstVec(c, entropyErr)), mask),
		c.MakeNumeric(-1),
	)

	anyloss.WritePriority(batch, priority)
	terms = anyloss.Terms{
		"loss_actor":        lossActor,
		"loss_qvalue":       lossQValue,
		"loss_alpha":        lossAlpha,
		anyloss.PriorityKey: anyloss.ConstVec(c, priority),
	}

	if s.Value != nil {
		vPred := s.Value.Apply(obs, n)
		vTarget := make([]float64, n)
		qMinDet := anyloss.Components(qMin.Output())
		for i := range vTarget {
			vTarget[i] = qMinDet[i] - alpha*logProbDet[i]
		}
		terms["loss_value"] = anyloss.MaskedMean(
			s.LossFunc.Apply(anydiff.Sub(vPred, anyloss.ConstVec(c, vTarget))),
			mask,
		)
	}
	return terms, nil
}
