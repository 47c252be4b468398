package anypg

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// Dist scores actions under a parametric policy distribution.
//
// Both the discrete anyrl.Softmax and the continuous
// anyloss.Gaussian satisfy it.
type Dist interface {
	anyrl.LogProber
	anyrl.Entropyer

	// KL computes the per-sample divergence between two batches of
	// distribution parameters.
	KL(params1, params2 anydiff.Res, batchSize int) anydiff.Res
}

// PPOVariant selects how the surrogate objective is constrained.
type PPOVariant int

const (
	// VanillaPPO uses the raw importance-weighted advantage.
	VanillaPPO PPOVariant = iota

	// ClipPPO clips the importance ratio to [1-eps, 1+eps] and takes
	// the pessimistic surrogate.
	ClipPPO

	// KLPenPPO subtracts an adaptive beta-weighted KL penalty against
	// the sampling policy.
	KLPenPPO
)

// PPOConfig configures a proximal policy optimization loss.
type PPOConfig struct {
	Actor  anyloss.Module
	Critic anyloss.Module
	Dist   Dist

	Variant PPOVariant

	// Epsilon is the clip radius. Zero means 0.2.
	Epsilon float64

	// KLTarget is the divergence the penalty variant steers toward.
	// Zero means 0.01.
	KLTarget float64

	// InitBeta is the starting penalty weight. Zero means 1.
	InitBeta float64

	// CriticCoeff scales the critic term. Zero means 1.
	CriticCoeff float64

	// EntropyCoeff adds an entropy bonus when non-zero.
	EntropyCoeff float64

	LossFunc anyloss.LossFunc
}

// PPOLoss is the proximal policy optimization objective.
//
// Forward expects "advantage" and "value_target" entries, typically
// written by GAE, along with the sampling policy's "dist_params" and
// "action_log_prob". The actor and critic terms live on disjoint
// graphs.
type PPOLoss struct {
	Actor  *anyloss.TargetParams
	Critic *anyloss.TargetParams
	Dist   Dist

	Variant      PPOVariant
	Epsilon      float64
	KLTarget     float64
	CriticCoeff  float64
	EntropyCoeff float64
	LossFunc     anyloss.LossFunc

	// Beta is the current KL penalty weight. Forward adapts it after
	// each KLPenPPO evaluation.
	Beta float64
}

// NewPPOLoss validates the configuration and wraps both roles.
func NewPPOLoss(cfg PPOConfig) (*PPOLoss, error) {
	if cfg.Dist == nil {
		return nil, configError("new ppo loss", "need an action distribution")
	}
	epsilon := cfg.Epsilon
	if epsilon == 0 {
		epsilon = 0.2
	}
	if epsilon < 0 || epsilon >= 1 {
		return nil, configError("new ppo loss", "epsilon must be in (0,1)")
	}
	klTarget := cfg.KLTarget
	if klTarget == 0 {
		klTarget = 0.01
	}
	if klTarget < 0 {
		return nil, configError("new ppo loss", "kl target must be positive")
	}
	beta := cfg.InitBeta
	if beta == 0 {
		beta = 1
	}
	criticCoeff := cfg.CriticCoeff
	if criticCoeff == 0 {
		criticCoeff = 1
	}
	actor, err := anyloss.WrapTarget("actor", cfg.Actor, false)
	if err != nil {
		return nil, err
	}
	critic, err := anyloss.WrapTarget("critic", cfg.Critic, false)
	if err != nil {
		return nil, err
	}
	return &PPOLoss{
		Actor:        actor,
		Critic:       critic,
		Dist:         cfg.Dist,
		Variant:      cfg.Variant,
		Epsilon:      epsilon,
		KLTarget:     klTarget,
		CriticCoeff:  criticCoeff,
		EntropyCoeff: cfg.EntropyCoeff,
		LossFunc:     cfg.LossFunc,
		Beta:         beta,
	}, nil
}

// TargetManagers exposes both role managers for updaters.
func (p *PPOLoss) TargetManagers() []*anyloss.TargetParams {
	return []*anyloss.TargetParams{p.Actor, p.Critic}
}

// Forward computes loss_objective, loss_critic, and optionally
// loss_entropy.
func (p *PPOLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms, err error) {
	defer essentials.AddCtxTo("ppo loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "action", "dist_params",
		"action_log_prob", "advantage", "value_target"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()

	obs := anydiff.NewConst(batch.Get("observation").Data)
	action := batch.Get("action").Data
	oldParams := anydiff.NewConst(batch.Get("dist_params").Data)
	oldLogProb := anyloss.ConstVec(c, batch.Floats("action_log_prob"))
	advantage := anyloss.ConstVec(c, batch.Floats("advantage"))
	valueTarget := batch.Floats("value_target")

	newParams := p.Actor.Apply(obs, n)
	logProb := p.Dist.LogProb(newParams, action, n)
	ratio := anydiff.Exp(anydiff.Sub(logProb, oldLogProb))

	var objective anydiff.Res
	switch p.Variant {
	case ClipPPO:
		objective = anydiff.Pool(ratio, func(ratio anydiff.Res) anydiff.Res {
			return anydiff.ElemMin(
				anydiff.Mul(ratio, advantage),
				anydiff.Mul(
					anydiff.ClipRange(ratio, c.MakeNumeric(1-p.Epsilon),
						c.MakeNumeric(1+p.Epsilon)),
					advantage,
				),
			)
		})
	case KLPenPPO:
		kl := p.Dist.KL(oldParams, newParams, n)
		objective = anydiff.Sub(
			anydiff.Mul(ratio, advantage),
			anydiff.Scale(kl, c.MakeNumeric(p.Beta)),
		)
		p.adaptBeta(anyloss.Components(kl.Output()), mask)
	default:
		objective = anydiff.Mul(ratio, advantage)
	}
	lossObjective := anydiff.Scale(anyloss.MaskedMean(objective, mask),
		c.MakeNumeric(-1))

	vPred := p.Critic.Apply(obs, n)
	vDiff := anydiff.Sub(vPred, anyloss.ConstVec(c, valueTarget))
	lossCritic := anydiff.Scale(
		anyloss.MaskedMean(p.LossFunc.Apply(vDiff), mask),
		c.MakeNumeric(p.CriticCoeff),
	)

	priority := anyloss.PriorityFromTD(anyloss.Components(vPred.Output()),
		valueTarget, mask)
	anyloss.WritePriority(batch, priority)

	terms = anyloss.Terms{
		"loss_objective":    lossObjective,
		"loss_critic":       lossCritic,
		anyloss.PriorityKey: anyloss.ConstVec(c, priority),
	}
	if p.EntropyCoeff != 0 {
		entropy := p.Dist.Entropy(newParams, n)
		terms["loss_entropy"] = anydiff.Scale(
			anyloss.MaskedMean(entropy, mask),
			c.MakeNumeric(-p.EntropyCoeff),
		)
	}
	return terms, nil
}

// adaptBeta doubles or halves the penalty weight when the measured
// divergence strays too far from the target.
func (p *PPOLoss) adaptBeta(kl, mask []float64) {
	var sum, count float64
	for i, x := range kl {
		sum += x * mask[i]
		count += mask[i]
	}
	if count == 0 {
		return
	}
	mean := sum / count
	if mean > 1.5*p.KLTarget {
		p.Beta *= 2
	} else if mean < p.KLTarget/1.5 {
		p.Beta *= 0.5
	}
}
