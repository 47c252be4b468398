package anyloss

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const halfLog2Pi = 0.9189385332046727

// Gaussian is a diagonal Gaussian action distribution whose parameter
// rows pack the mean followed by the per-dimension log standard
// deviation: [mu..., logstd...].
//
// It implements the anyrl Sampler, LogProber, and KL interfaces, so
// it can stand in anywhere the discrete Softmax does.
type Gaussian struct {
	Dim int
}

// Sample draws one action per parameter row.
func (g *Gaussian) Sample(params anyvec.Vector, batch int) anyvec.Vector {
	g.checkLen(params.Len(), batch)
	c := params.Creator()
	data := Components(params)
	noise := c.MakeVector(batch * g.Dim)
	anyvec.Rand(noise, anyvec.Normal, nil)
	eps := Components(noise)
	out := make([]float64, batch*g.Dim)
	for r := 0; r < batch; r++ {
		for d := 0; d < g.Dim; d++ {
			mu := data[r*2*g.Dim+d]
			std := math.Exp(data[r*2*g.Dim+g.Dim+d])
			out[r*g.Dim+d] = mu + std*eps[r*g.Dim+d]
		}
	}
	return MakeVec(c, out)
}

// SampleRes draws a reparameterized sample: the output carries
// gradients with respect to the distribution parameters.
func (g *Gaussian) SampleRes(params anydiff.Res, batch int) anydiff.Res {
	sample, _ := g.SampleWithLogProb(params, batch)
	return sample
}

// SampleWithLogProb draws a reparameterized sample along with the
// log-density of that sample under the same parameters.
//
// Both results are differentiable with respect to the parameters
// along the reparameterization path.
func (g *Gaussian) SampleWithLogProb(params anydiff.Res, batch int) (sample,
	logProb anydiff.Res) {
	g.checkLen(params.Output().Len(), batch)
	c := params.Output().Creator()
	noise := c.MakeVector(batch * g.Dim)
	anyvec.Rand(noise, anyvec.Normal, nil)
	eps := Components(noise)

	rowLen := 2 * g.Dim
	mu := SliceCols(params, 0, g.Dim, rowLen)
	ls := SliceCols(params, g.Dim, rowLen, rowLen)
	sample = anydiff.Add(mu,
		anydiff.Mul(anydiff.Exp(ls), anydiff.NewConst(noise)))

	// Along the reparameterization path the standardized residual
	// equals the fixed noise, so the log-density is -sum(logstd) -
	// 0.5*sum(eps^2) - const per row.
	offsets := make([]float64, batch)
	for r := 0; r < batch; r++ {
		var sq float64
		for d := 0; d < g.Dim; d++ {
			sq += eps[r*g.Dim+d] * eps[r*g.Dim+d]
		}
		offsets[r] = -0.5*sq - float64(g.Dim)*halfLog2Pi
	}
	logProb = anydiff.Add(
		anydiff.Scale(rowSums(ls, batch), c.MakeNumeric(-1)),
		ConstVec(c, offsets),
	)
	return sample, logProb
}

// LogProb computes the log-density of each output row under the
// corresponding parameter row.
func (g *Gaussian) LogProb(params anydiff.Res, output anyvec.Vector,
	batch int) anydiff.Res {
	g.checkLen(params.Output().Len(), batch)
	if output.Len() != batch*g.Dim {
		panic(&ShapeError{Key: "output", Expected: []int{batch, g.Dim},
			Actual: []int{output.Len()}})
	}
	c := params.Output().Creator()
	rowLen := 2 * g.Dim
	return anydiff.Pool(params, func(params anydiff.Res) anydiff.Res {
		mu := SliceCols(params, 0, g.Dim, rowLen)
		ls := SliceCols(params, g.Dim, rowLen, rowLen)
		z := anydiff.Mul(
			anydiff.Sub(anydiff.NewConst(output), mu),
			anydiff.Exp(anydiff.Scale(ls, c.MakeNumeric(-1))),
		)
		quad := anydiff.Scale(rowSums(anydiff.Square(z), batch),
			c.MakeNumeric(-0.5))
		logDet := anydiff.Scale(rowSums(ls, batch), c.MakeNumeric(-1))
		return AddConst(anydiff.Add(quad, logDet), -float64(g.Dim)*halfLog2Pi)
	})
}

// Entropy computes the differential entropy of each parameter row.
func (g *Gaussian) Entropy(params anydiff.Res, batch int) anydiff.Res {
	g.checkLen(params.Output().Len(), batch)
	rowLen := 2 * g.Dim
	ls := SliceCols(params, g.Dim, rowLen, rowLen)
	return AddConst(rowSums(ls, batch), float64(g.Dim)*(0.5+halfLog2Pi))
}

// KL computes the KL divergence from the first distribution to the
// second, one value per row.
func (g *Gaussian) KL(params1, params2 anydiff.Res, batch int) anydiff.Res {
	g.checkLen(params1.Output().Len(), batch)
	g.checkLen(params2.Output().Len(), batch)
	c := params1.Output().Creator()
	rowLen := 2 * g.Dim
	return anydiff.Pool(params1, func(params1 anydiff.Res) anydiff.Res {
		return anydiff.Pool(params2, func(params2 anydiff.Res) anydiff.Res {
			mu1 := SliceCols(params1, 0, g.Dim, rowLen)
			ls1 := SliceCols(params1, g.Dim, rowLen, rowLen)
			mu2 := SliceCols(params2, 0, g.Dim, rowLen)
			ls2 := SliceCols(params2, g.Dim, rowLen, rowLen)

			variance1 := anydiff.Exp(anydiff.Scale(ls1, c.MakeNumeric(2)))
			invVar2 := anydiff.Exp(anydiff.Scale(ls2, c.MakeNumeric(-2)))
			meanDiff := anydiff.Square(anydiff.Sub(mu1, mu2))

			perDim := anydiff.Add(
				anydiff.Sub(ls2, ls1),
				anydiff.Scale(
					anydiff.Mul(anydiff.Add(variance1, meanDiff), invVar2),
					c.MakeNumeric(0.5),
				),
			)
			return AddConst(rowSums(perDim, batch), -0.5*float64(g.Dim))
		})
	})
}

func (g *Gaussian) checkLen(length, batch int) {
	if length != batch*2*g.Dim {
		panic(&ShapeError{Key: "params", Expected: []int{batch, 2 * g.Dim},
			Actual: []int{length}})
	}
}

func rowSums(res anydiff.Res, rows int) anydiff.Res {
	return anydiff.SumCols(&anydiff.Matrix{
		Data: res,
		Rows: rows,
		Cols: res.Output().Len() / rows,
	})
}
