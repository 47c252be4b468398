package anyloss

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A TargetHolder exposes the target-parameter managers an updater
// should drive. Every loss module implements it.
type TargetHolder interface {
	TargetManagers() []*TargetParams
}

type syncPair struct {
	liveVar  *anydiff.Var
	liveVec  anyvec.Vector
	target   anyvec.Vector
	discrete bool
}

func (s *syncPair) live() anyvec.Vector {
	if s.liveVar != nil {
		return s.liveVar.Vector
	}
	return s.liveVec
}

func collectPairs(h TargetHolder) ([]syncPair, error) {
	var pairs []syncPair
	for _, m := range h.TargetManagers() {
		if !m.HasTarget() {
			continue
		}
		targets := m.TargetVectors()
		for i, v := range m.LiveVars() {
			pairs = append(pairs, syncPair{liveVar: v, target: targets[i]})
		}
		liveBufs := m.LiveBuffers()
		targetBufs := m.TargetBuffers()
		for i, b := range liveBufs {
			pairs = append(pairs, syncPair{
				liveVec:  b.Vector,
				target:   targetBufs[i].Vector,
				discrete: b.Discrete,
			})
		}
	}
	if len(pairs) == 0 {
		return nil, configErrorf("new updater",
			"no target parameters registered; wrap a network with a target set first")
	}
	return pairs, nil
}

var errStepBeforeInit = errors.New("updater: step before init")

// HardUpdater periodically copies every live tensor into its paired
// target tensor.
//
// Target values are piecewise-constant for Interval consecutive steps
// and then jump discontinuously.
type HardUpdater struct {
	pairs    []syncPair
	interval int
	count    int
	ready    bool
}

// NewHardUpdater builds a hard updater over a loss module's target
// sets.
func NewHardUpdater(h TargetHolder, interval int) (*HardUpdater, error) {
	if interval < 1 {
		return nil, configErrorf("new hard updater", "interval must be positive, got %d",
			interval)
	}
	pairs, err := collectPairs(h)
	if err != nil {
		return nil, err
	}
	return &HardUpdater{pairs: pairs, interval: interval}, nil
}

// Init copies the live values into the targets and zeroes the step
// counter. It is idempotent and must run before the first Step.
func (h *HardUpdater) Init() {
	copyPairs(h.pairs)
	h.count = 0
	h.ready = true
}

// Step advances the counter and, once it reaches the interval, copies
// live values into the targets and resets the counter.
func (h *HardUpdater) Step() error {
	if !h.ready {
		return errStepBeforeInit
	}
	h.count++
	if h.count >= h.interval {
		copyPairs(h.pairs)
		h.count = 0
	}
	return nil
}

// Counter returns the internal step counter, always in
// [0, interval).
func (h *HardUpdater) Counter() int {
	return h.count
}

// SoftUpdater exponentially interpolates targets toward the live
// values: target <- decay*target + (1-decay)*live.
//
// Discrete buffers (counts and the like) are copied verbatim instead
// of interpolated, since fractional values are meaningless for them.
type SoftUpdater struct {
	pairs []syncPair
	decay float64
	ready bool
}

// NewSoftUpdater builds a soft updater over a loss module's target
// sets. The decay rate must lie in [0, 1).
func NewSoftUpdater(h TargetHolder, decay float64) (*SoftUpdater, error) {
	if decay < 0 || decay >= 1 {
		return nil, configErrorf("new soft updater", "decay must be in [0,1), got %v",
			decay)
	}
	pairs, err := collectPairs(h)
	if err != nil {
		return nil, err
	}
	return &SoftUpdater{pairs: pairs, decay: decay}, nil
}

// Init copies the live values into the targets. It is idempotent and
// must run before the first Step.
func (s *SoftUpdater) Init() {
	copyPairs(s.pairs)
	s.ready = true
}

// Step moves every target one interpolation step toward its live
// value.
func (s *SoftUpdater) Step() error {
	if !s.ready {
		return errStepBeforeInit
	}
	for _, p := range s.pairs {
		live := p.live()
		if p.discrete {
			p.target.SetData(live.Data())
			continue
		}
		c := p.target.Creator()
		p.target.Scale(c.MakeNumeric(s.decay))
		scaled := live.Copy()
		scaled.Scale(c.MakeNumeric(1 - s.decay))
		p.target.Add(scaled)
	}
	return nil
}

func copyPairs(pairs []syncPair) {
	for _, p := range pairs {
		p.target.SetData(p.live().Data())
	}
}

// TargetDistance sums the absolute differences between every paired
// live and target component. Useful for monitoring drift.
func TargetDistance(h TargetHolder) float64 {
	var total float64
	for _, m := range h.TargetManagers() {
		if !m.HasTarget() {
			continue
		}
		targets := m.TargetVectors()
		for i, v := range m.LiveVars() {
			live := Components(v.Vector)
			tgt := Components(targets[i])
			for j, x := range live {
				d := x - tgt[j]
				if d < 0 {
					d = -d
				}
				total += d
			}
		}
	}
	return total
}
