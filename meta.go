package anyloss

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// Meta describes the shape and storage of a tensor without holding
// the data itself.
type Meta struct {
	Shape  []int
	DType  string
	Device string
}

// MetaOf derives a descriptor from a vector and its logical shape.
func MetaOf(v anyvec.Vector, shape []int) Meta {
	var dtype string
	switch v.Data().(type) {
	case []float32:
		dtype = "float32"
	case []float64:
		dtype = "float64"
	default:
		dtype = fmt.Sprintf("%T", v.Data())
	}
	return Meta{Shape: append([]int{}, shape...), DType: dtype, Device: "cpu"}
}

// Numel returns the total number of elements.
func (m Meta) Numel() int {
	n := 1
	for _, d := range m.Shape {
		n *= d
	}
	return n
}

// A MetaOp derives a new descriptor from an existing one and a
// dimension index.
type MetaOp func(m Meta, dim int) (Meta, error)

// metaOps is the dispatch table for shape-propagating operations,
// keyed by operation tag and built once at init.
var metaOps map[string]MetaOp

func init() {
	metaOps = map[string]MetaOp{
		"unsqueeze": func(m Meta, dim int) (Meta, error) {
			if dim < 0 || dim > len(m.Shape) {
				return Meta{}, fmt.Errorf("unsqueeze: dimension %d out of range", dim)
			}
			shape := append([]int{}, m.Shape[:dim]...)
			shape = append(shape, 1)
			shape = append(shape, m.Shape[dim:]...)
			return Meta{Shape: shape, DType: m.DType, Device: m.Device}, nil
		},
		"squeeze": func(m Meta, dim int) (Meta, error) {
			if dim < 0 || dim >= len(m.Shape) {
				return Meta{}, fmt.Errorf("squeeze: dimension %d out of range", dim)
			}
			if m.Shape[dim] != 1 {
				return Meta{}, fmt.Errorf("squeeze: dimension %d has size %d",
					dim, m.Shape[dim])
			}
			shape := append([]int{}, m.Shape[:dim]...)
			shape = append(shape, m.Shape[dim+1:]...)
			return Meta{Shape: shape, DType: m.DType, Device: m.Device}, nil
		},
		"flatten": func(m Meta, dim int) (Meta, error) {
			if dim < 0 || dim >= len(m.Shape) {
				return Meta{}, fmt.Errorf("flatten: dimension %d out of range", dim)
			}
			n := 1
			for _, d := range m.Shape[dim:] {
				n *= d
			}
			shape := append([]int{}, m.Shape[:dim]...)
			shape = append(shape, n)
			return Meta{Shape: shape, DType: m.DType, Device: m.Device}, nil
		},
	}
}

// MetaApply runs the shape-propagating operation with the given tag.
func MetaApply(op string, m Meta, dim int) (Meta, error) {
	f, ok := metaOps[op]
	if !ok {
		return Meta{}, fmt.Errorf("unknown meta op %q", op)
	}
	return f(m, dim)
}
