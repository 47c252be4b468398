package anyloss

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Components converts a vector's data to float64 values.
func Components(vec anyvec.Vector) []float64 {
	switch data := vec.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return data
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}

// MakeVec packs float64 components into a new vector.
func MakeVec(c anyvec.Creator, values []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(values))
}

// ConstVec wraps float64 components as a constant result.
func ConstVec(c anyvec.Creator, values []float64) anydiff.Res {
	return anydiff.NewConst(MakeVec(c, values))
}

// RowDot computes one dot product per row of two equally-shaped
// row-major batches.
func RowDot(vecs1, vecs2 anydiff.Res, rows int) anydiff.Res {
	products := anydiff.Mul(vecs1, vecs2)
	return anydiff.SumCols(&anydiff.Matrix{
		Data: products,
		Rows: rows,
		Cols: vecs1.Output().Len() / rows,
	})
}

// Mean averages all components of a result into a single value.
func Mean(res anydiff.Res) anydiff.Res {
	c := res.Output().Creator()
	n := res.Output().Len()
	return anydiff.Scale(anydiff.Sum(res), c.MakeNumeric(1/float64(n)))
}

// MaskedMean averages the per-sample values selected by the mask.
// A nil mask averages everything.
func MaskedMean(res anydiff.Res, mask []float64) anydiff.Res {
	if mask == nil {
		return Mean(res)
	}
	c := res.Output().Creator()
	var count float64
	for _, m := range mask {
		count += m
	}
	if count == 0 {
		count = 1
	}
	dot := anydiff.Dot(res, ConstVec(c, mask))
	return anydiff.Scale(dot, c.MakeNumeric(1/count))
}

// Abs computes the elementwise absolute value.
func Abs(res anydiff.Res) anydiff.Res {
	c := res.Output().Creator()
	neg := anydiff.Scale(res, c.MakeNumeric(-1))
	return anydiff.Scale(anydiff.ElemMin(res, neg), c.MakeNumeric(-1))
}

// AddConst adds the same scalar to every component.
func AddConst(res anydiff.Res, scalar float64) anydiff.Res {
	c := res.Output().Creator()
	fill := make([]float64, res.Output().Len())
	for i := range fill {
		fill[i] = scalar
	}
	return anydiff.Add(res, ConstVec(c, fill))
}
