package anyloss

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Normalizer whitens its input with running per-feature moments and
// applies a trainable affine transform.
//
// The running moments live in buffers rather than parameters: they
// are updated by Observe, never by gradient descent. The sample
// count is a discrete buffer, so soft target updates copy it verbatim
// instead of interpolating.
type Normalizer struct {
	Gain *anydiff.Var
	Bias *anydiff.Var

	Mean     *Buffer
	Variance *Buffer
	Count    *Buffer

	Dim     int
	Epsilon float64
}

// NewNormalizer creates a Normalizer for dim-sized feature rows with
// unit gain, zero bias, and unit variance.
func NewNormalizer(c anyvec.Creator, dim int) *Normalizer {
	ones := make([]float64, dim)
	for i := range ones {
		ones[i] = 1
	}
	return &Normalizer{
		Gain:     anydiff.NewVar(MakeVec(c, ones)),
		Bias:     anydiff.NewVar(c.MakeVector(dim)),
		Mean:     &Buffer{Vector: c.MakeVector(dim)},
		Variance: &Buffer{Vector: MakeVec(c, ones)},
		Count:    &Buffer{Vector: c.MakeVector(1), Discrete: true},
		Dim:      dim,
		Epsilon:  1e-5,
	}
}

// Parameters returns the trainable affine parameters.
func (n *Normalizer) Parameters() []*anydiff.Var {
	return []*anydiff.Var{n.Gain, n.Bias}
}

// Buffers returns the running mean, running variance, and sample
// count.
func (n *Normalizer) Buffers() []*Buffer {
	return []*Buffer{n.Mean, n.Variance, n.Count}
}

// Observe folds a batch of rows into the running moments.
func (n *Normalizer) Observe(batch anyvec.Vector, rows int) {
	if batch.Len() != rows*n.Dim {
		panic(&ShapeError{Expected: []int{rows, n.Dim}, Actual: []int{batch.Len()}})
	}
	data := Components(batch)
	mean := Components(n.Mean.Vector)
	variance := Components(n.Variance.Vector)
	count := Components(n.Count.Vector)[0]

	newCount := count + float64(rows)
	newMean := make([]float64, n.Dim)
	newVar := make([]float64, n.Dim)
	for d := 0; d < n.Dim; d++ {
		var sum float64
		for r := 0; r < rows; r++ {
			sum += data[r*n.Dim+d]
		}
		batchMean := sum / float64(rows)
		var sqSum float64
		for r := 0; r < rows; r++ {
			diff := data[r*n.Dim+d] - batchMean
			sqSum += diff * diff
		}
		batchVar := sqSum / float64(rows)

		frac := float64(rows) / newCount
		delta := batchMean - mean[d]
		newMean[d] = mean[d] + delta*frac
		newVar[d] = (1-frac)*variance[d] + frac*batchVar +
			frac*(1-frac)*delta*delta
	}

	n.Mean.Vector.SetData(n.Mean.Vector.Creator().MakeNumericList(newMean))
	n.Variance.Vector.SetData(n.Variance.Vector.Creator().MakeNumericList(newVar))
	n.Count.Vector.SetData(n.Count.Vector.Creator().MakeNumericList(
		[]float64{newCount}))
}

// Apply implements anynet.Layer using the live parameters and
// buffers.
func (n *Normalizer) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	return n.apply(in, n.Gain, n.Bias, n.Mean.Vector, n.Variance.Vector,
		batchSize)
}

func (n *Normalizer) apply(in, gain, bias anydiff.Res, mean,
	variance anyvec.Vector, batchSize int) anydiff.Res {
	c := in.Output().Creator()
	negMean := make([]float64, n.Dim)
	invStd := make([]float64, n.Dim)
	meanData := Components(mean)
	varData := Components(variance)
	for d := 0; d < n.Dim; d++ {
		negMean[d] = -meanData[d]
		invStd[d] = 1 / math.Sqrt(varData[d]+n.Epsilon)
	}
	centered := anydiff.AddRepeated(in, ConstVec(c, negMean))
	whitened := anydiff.ScaleRepeated(centered, ConstVec(c, invStd))
	return anydiff.AddRepeated(anydiff.ScaleRepeated(whitened, gain), bias)
}
