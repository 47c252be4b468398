package anyac

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	"github.com/anyloss/anyloss"
)

// REDQConfig configures a randomized ensemble double Q loss.
type REDQConfig struct {
	// Actor outputs packed [mean, logstd] rows for a diagonal
	// Gaussian over actions.
	Actor anyloss.Module

	// QValues are the ensemble members, typically around ten.
	QValues []anyloss.Module

	ActionDim int
	Gamma     float64
	LossFunc  anyloss.LossFunc

	// SubsetSize is the number of randomly chosen members whose
	// minimum forms the bootstrap target. Zero means two.
	SubsetSize int

	DelayActor  bool
	DelayQValue bool

	// InitialAlpha is the starting entropy temperature. Zero means 1.
	InitialAlpha float64

	// TargetEntropy is the entropy level the temperature adapts
	// toward. Zero means -ActionDim.
	TargetEntropy float64
}

// REDQLoss is the randomized ensemble double Q objective.
//
// It differs from SAC in how the critic bootstrap is formed: instead
// of the minimum over the whole (small) ensemble, each Forward call
// draws a random subset of the delayed members and takes the minimum
// over that subset only. The actor maximizes the mean over all
// members.
type REDQLoss struct {
	Actor   *anyloss.TargetParams
	QValues []*anyloss.TargetParams

	Dist     *anyloss.Gaussian
	LogAlpha *anydiff.Var

	Gamma         float64
	LossFunc      anyloss.LossFunc
	SubsetSize    int
	TargetEntropy float64
}

// NewREDQLoss validates the configuration and wraps every role.
func NewREDQLoss(cfg REDQConfig) (*REDQLoss, error) {
	if len(cfg.QValues) < 2 {
		return nil, configError("new redq loss", "need at least two qvalue networks")
	}
	if cfg.ActionDim < 1 {
		return nil, configError("new redq loss", "action dimension must be positive")
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		return nil, configError("new redq loss", "gamma must be in (0,1)")
	}
	subset := cfg.SubsetSize
	if subset == 0 {
		subset = 2
	}
	if subset < 1 || subset > len(cfg.QValues) {
		return nil, configError("new redq loss",
			"subset size must be between 1 and the ensemble size")
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

	alpha := cfg.InitialAlpha
	if alpha == 0 {
		alpha = 1
	}
	targetEntropy := cfg.TargetEntropy
	if targetEntropy == 0 {
		targetEntropy = -float64(cfg.ActionDim)
	}
	c := actor.LiveVars()[0].Vector.Creator()
	return &REDQLoss{
		Actor:         actor,
		QValues:       qvalues,
		Dist:          &anyloss.Gaussian{Dim: cfg.ActionDim},
		LogAlpha:      anydiff.NewVar(anyloss.MakeVec(c, []float64{math.Log(alpha)})),
		Gamma:         cfg.Gamma,
		LossFunc:      cfg.LossFunc,
		SubsetSize:    subset,
		TargetEntropy: targetEntropy,
	}, nil
}

// TargetManagers exposes every role manager for updaters.
func (r *REDQLoss) TargetManagers() []*anyloss.TargetParams {
	res := []*anyloss.TargetParams{r.Actor}
	return append(res, r.QValues...)
}

// Alpha returns the current entropy temperature.
func (r *REDQLoss) Alpha() float64 {
	return math.Exp(anyloss.Components(r.LogAlpha.Vector)[0])
}

// Forward computes loss_actor, loss_qvalue, and loss_alpha.
func (r *REDQLoss) Forward(batch *anyloss.Record) (terms anyloss.Terms, err error) {
	defer essentials.AddCtxTo("redq loss", &err)

	if err := anyloss.RequireKeys(batch, "observation", "next_observation",
		"action", "reward", "done"); err != nil {
		return nil, err
	}
	n := batch.NumSamples()
	c := batch.Creator()
	mask := batch.MaskFloats()
	alpha := r.Alpha()

	obs := anydiff.NewConst(batch.Get("observation").Data)
	nextObs := anydiff.NewConst(batch.Get("next_observation").Data)
	action := anydiff.NewConst(batch.Get("action").Data)
	reward := batch.Floats("reward")
	discounts := anyloss.BootstrapDiscounts(batch, r.Gamma)

	// Actor term: mean over the whole frozen ensemble.
	distParams := r.Actor.Apply(obs, n)
	sampled, logProb := r.Dist.SampleWithLogProb(distParams, n)
	frozenQ := make([]anydiff.Res, len(r.QValues))
	for i, q := range r.QValues {
		frozenQ[i] = q.ApplyFrozen(anyloss.JoinCols(n, obs, sampled), n)
	}
	lossActor := anyloss.MaskedMean(
		anydiff.Sub(anydiff.Scale(logProb, c.MakeNumeric(alpha)),
			meanAll(frozenQ)),
		mask,
	)

	// Bootstrap target: min over a random subset of delayed members,
	// minus the entropy term. Fully detached.
	nextDist := r.Actor.ApplyTarget(nextObs, n)
	nextAction := r.Dist.Sample(nextDist.Output(), n)
	nextLogProb := anyloss.Components(r.Dist.LogProb(
		anydiff.NewConst(nextDist.Output()), nextAction, n).Output())
	nextActionRes := anydiff.NewConst(nextAction)
	subset := rand.Perm(len(r.QValues))[:r.SubsetSize]
	nextQ := make([]anydiff.Res, 0, r.SubsetSize)
	for _, idx := range subset {
		nextQ = append(nextQ, r.QValues[idx].ApplyTarget(
			anyloss.JoinCols(n, nextObs, nextActionRes), n))
	}
	qNextMin := anyloss.Components(minAll(nextQ).Output())
	target := make([]float64, n)
	for i := range target {
		target[i] = reward[i] +
			discounts[i]*(qNextMin[i]-alpha*nextLogProb[i])
	}
	targetRes := anyloss.ConstVec(c, target)

	// Every member regresses onto the shared target.
	qTerms := make([]anydiff.Res, len(r.QValues))
	priority := make([]float64, n)
	for i, q := range r.QValues {
		pred := q.Apply(anyloss.JoinCols(n, obs, action), n)
		qTerms[i] = r.LossFunc.Apply(anydiff.Sub(pred, targetRes))
		for j, td := range anyloss.PriorityFromTD(
			anyloss.Components(pred.Output()), target, mask) {
			priority[j] += td / float64(len(r.QValues))
		}
	}
	lossQValue := anyloss.MaskedMean(meanAll(qTerms), mask)

	logProbDet := anyloss.Components(logProb.Output())
	entropyErr := make([]float64, n)
	for i := range entropyErr {
		entropyErr[i] = logProbDet[i] + r.TargetEntropy
	}
	tiled := anydiff.AddRepeated(anydiff.NewConst(c.MakeVector(n)), r.LogAlpha)
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
	return terms, nil
}
