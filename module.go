package anyloss

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
)

// A Buffer is a non-trainable persistent vector owned by a module,
// such as a normalization statistic. Discrete marks count-like state
// that must be copied rather than interpolated when a target set is
// softly updated.
type Buffer struct {
	Vector   anyvec.Vector
	Discrete bool
}

// A Module is a parameterized function whose forward pass can be
// evaluated against an explicitly supplied parameter and buffer set.
//
// Apply must use the supplied params positionally in place of the
// live parameters returned by Parameters, and likewise for buffers.
// Passing the live parameters as variables reproduces the ordinary
// forward pass; passing constants produces an output with no
// computational path back to the live parameters.
type Module interface {
	Parameters() []*anydiff.Var
	Apply(in anydiff.Res, params []anydiff.Res, buffers []anyvec.Vector,
		batchSize int) anydiff.Res
}

// A Bufferer is a module with persistent non-trainable state.
type Bufferer interface {
	Buffers() []*Buffer
}

// FuncNet adapts an anynet.Net to the Module interface by re-running
// its forward pass against arbitrary parameter results.
//
// Supported layers are *anynet.FC, *Normalizer, and any layer without
// parameters (activations and the like).
type FuncNet struct {
	Net anynet.Net

	params  []*anydiff.Var
	buffers []*Buffer
}

// NewFuncNet validates and wraps a network.
//
// It fails with a *ConfigError if the network exposes no parameters
// or contains a parameterized layer whose parameters cannot be
// substituted.
func NewFuncNet(net anynet.Net) (*FuncNet, error) {
	res := &FuncNet{Net: net}
	for _, layer := range net {
		switch l := layer.(type) {
		case *anynet.FC:
			res.params = append(res.params, l.Weights, l.Biases)
		case *Normalizer:
			res.params = append(res.params, l.Parameters()...)
			res.buffers = append(res.buffers, l.Buffers()...)
		default:
			if p, ok := layer.(anynet.Parameterizer); ok && len(p.Parameters()) > 0 {
				return nil, configErrorf("new func net",
					"cannot substitute parameters of %T", layer)
			}
		}
	}
	if len(res.params) == 0 {
		return nil, configErrorf("new func net", "network has no parameters")
	}
	return res, nil
}

// Parameters returns the live parameter set.
func (f *FuncNet) Parameters() []*anydiff.Var {
	return f.params
}

// Buffers returns the live buffer set.
func (f *FuncNet) Buffers() []*Buffer {
	return f.buffers
}

// Apply runs the forward pass with the supplied parameter and buffer
// sets.
func (f *FuncNet) Apply(in anydiff.Res, params []anydiff.Res,
	buffers []anyvec.Vector, n int) anydiff.Res {
	if len(params) != len(f.params) {
		panic(fmt.Sprintf("expected %d parameters, got %d", len(f.params),
			len(params)))
	}
	if len(buffers) != len(f.buffers) {
		panic(fmt.Sprintf("expected %d buffers, got %d", len(f.buffers),
			len(buffers)))
	}
	out := in
	for _, layer := range f.Net {
		switch l := layer.(type) {
		case *anynet.FC:
			w, b := params[0], params[1]
			params = params[2:]
			weightMat := &anydiff.Matrix{Data: w, Rows: l.OutCount, Cols: l.InCount}
			inMat := &anydiff.Matrix{Data: out, Rows: n, Cols: l.InCount}
			prod := anydiff.MatMul(false, true, inMat, weightMat)
			out = anydiff.AddRepeated(prod.Data, b)
		case *Normalizer:
			gain, bias := params[0], params[1]
			params = params[2:]
			mean, variance := buffers[0], buffers[1]
			buffers = buffers[3:]
			out = l.apply(out, gain, bias, mean, variance, n)
		default:
			out = layer.Apply(out, n)
		}
	}
	return out
}

// NewEnsemble builds n independently initialized copies of a
// prototype network.
//
// The copies share the prototype's architecture but not its weights:
// each fully-connected layer is re-randomized so ensemble members
// start from distinct points.
func NewEnsemble(proto anynet.Net, n int) ([]*FuncNet, error) {
	res := make([]*FuncNet, n)
	for i := range res {
		copied, err := serializer.Copy(proto)
		if err != nil {
			return nil, err
		}
		net := copied.(anynet.Net)
		if i > 0 {
			for _, layer := range net {
				if fc, ok := layer.(*anynet.FC); ok {
					randomizeFC(fc)
				}
			}
		}
		res[i], err = NewFuncNet(net)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func randomizeFC(fc *anynet.FC) {
	anyvec.Rand(fc.Weights.Vector, anyvec.Normal, nil)
	c := fc.Weights.Vector.Creator()
	fc.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(fc.InCount))))
	fc.Biases.Vector.Scale(c.MakeNumeric(0))
}
