package anyloss

import (
	"sort"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// PriorityKey is the record and output key carrying per-sample
// TD-error magnitudes for prioritized replay.
const PriorityKey = "td_error"

// Terms maps loss names (prefixed "loss_") to scalar objective
// results. Non-prefixed entries, such as the priority signal, are
// diagnostics.
type Terms map[string]anydiff.Res

// Total sums every "loss_" term into a single objective.
func (t Terms) Total() anydiff.Res {
	var keys []string
	for k := range t {
		if strings.HasPrefix(k, "loss_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var total anydiff.Res
	for _, k := range keys {
		if total == nil {
			total = t[k]
		} else {
			total = anydiff.Add(total, t[k])
		}
	}
	return total
}

// Backward propagates the summed objective into the gradient.
func (t Terms) Backward(g anydiff.Grad) {
	total := t.Total()
	c := total.Output().Creator()
	total.Propagate(anyvec.Ones(c, 1), g)
}

// A Loss computes named objective terms from a batch of transitions.
//
// The loss set is closed: one implementation per supported algorithm,
// all sharing this interface.
type Loss interface {
	Forward(batch *Record) (Terms, error)
}

// BootstrapDiscounts returns the per-sample factor applied to the
// bootstrap value: the "discount" entry when a multi-step transform
// wrote one, and gamma*(1-done) otherwise.
func BootstrapDiscounts(batch *Record, gamma float64) []float64 {
	n := batch.NumSamples()
	res := make([]float64, n)
	if batch.Has("discount") {
		copy(res, batch.Floats("discount"))
		return res
	}
	done := batch.Floats("done")
	for i := 0; i < n; i++ {
		res[i] = gamma * (1 - done[i])
	}
	return res
}

// PriorityFromTD converts prediction/target pairs into masked
// absolute TD errors.
func PriorityFromTD(pred, target, mask []float64) []float64 {
	res := make([]float64, len(pred))
	for i := range res {
		d := pred[i] - target[i]
		if d < 0 {
			d = -d
		}
		res[i] = d * mask[i]
	}
	return res
}

// WritePriority stores the per-sample priority signal under
// PriorityKey, one scalar per batch index.
func WritePriority(batch *Record, priority []float64) {
	shape := append(batch.BatchShape(), 1)
	if err := batch.SetFloats(PriorityKey, priority, shape...); err != nil {
		panic(err)
	}
}

// LossFunc selects the regression penalty applied to TD residuals.
type LossFunc int

const (
	// L2 is the squared error.
	L2 LossFunc = iota
	// L1 is the absolute error.
	L1
	// SmoothL1 is the Huber penalty with unit transition point.
	SmoothL1
)

func (l LossFunc) String() string {
	switch l {
	case L2:
		return "l2"
	case L1:
		return "l1"
	case SmoothL1:
		return "smooth_l1"
	}
	return "unknown"
}

// Apply computes the elementwise penalty of a residual.
func (l LossFunc) Apply(diff anydiff.Res) anydiff.Res {
	c := diff.Output().Creator()
	switch l {
	case L1:
		return Abs(diff)
	case SmoothL1:
		return anydiff.Pool(diff, func(diff anydiff.Res) anydiff.Res {
			abs := Abs(diff)
			return anydiff.Pool(abs, func(abs anydiff.Res) anydiff.Res {
				clipped := anydiff.ClipRange(abs, c.MakeNumeric(0), c.MakeNumeric(1))
				quad := anydiff.Scale(anydiff.Square(clipped), c.MakeNumeric(0.5))
				return anydiff.Add(quad, anydiff.Sub(abs, clipped))
			})
		})
	default:
		return anydiff.Square(diff)
	}
}
