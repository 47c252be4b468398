package anyloss

import (
	"math"

	"github.com/unixpickle/anyvec"
)

// An Entry is one channel of a Record: a flattened row-major vector
// plus its logical shape.
type Entry struct {
	Data  anyvec.Vector
	Shape []int
}

// Meta returns the entry's shape descriptor.
func (e *Entry) Meta() Meta {
	return MetaOf(e.Data, e.Shape)
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	return &Entry{Data: e.Data.Copy(), Shape: append([]int{}, e.Shape...)}
}

// Floats returns the entry's components as float64 values.
func (e *Entry) Floats() []float64 {
	return Components(e.Data)
}

// A Record is an ordered mapping from string keys to batched entries
// sharing a common leading batch shape, either (batch) or
// (batch, time).
type Record struct {
	creator    anyvec.Creator
	batchShape []int
	keys       []string
	entries    map[string]*Entry
}

// NewRecord creates an empty record with the given batch shape.
func NewRecord(c anyvec.Creator, batchShape ...int) *Record {
	return &Record{
		creator:    c,
		batchShape: append([]int{}, batchShape...),
		entries:    map[string]*Entry{},
	}
}

// Creator returns the vector creator backing the record.
func (r *Record) Creator() anyvec.Creator {
	return r.creator
}

// BatchShape returns the leading batch shape shared by all entries.
func (r *Record) BatchShape() []int {
	return append([]int{}, r.batchShape...)
}

// NumSamples returns the product of the batch dimensions.
func (r *Record) NumSamples() int {
	n := 1
	for _, d := range r.batchShape {
		n *= d
	}
	return n
}

// Keys returns the entry keys in insertion order.
func (r *Record) Keys() []string {
	return append([]string{}, r.keys...)
}

// Has reports whether the record contains the key.
func (r *Record) Has(key string) bool {
	_, ok := r.entries[key]
	return ok
}

// Get returns the entry for the key, or nil if it is absent.
func (r *Record) Get(key string) *Entry {
	return r.entries[key]
}

// Set inserts or replaces an entry.
//
// The shape must begin with the record's batch shape, and the vector
// length must match the shape's element count.
func (r *Record) Set(key string, data anyvec.Vector, shape ...int) error {
	if len(shape) < len(r.batchShape) {
		return &ShapeError{Key: key, Expected: r.batchShape, Actual: shape}
	}
	for i, d := range r.batchShape {
		if shape[i] != d {
			return &ShapeError{Key: key, Expected: r.batchShape, Actual: shape}
		}
	}
	numel := 1
	for _, d := range shape {
		numel *= d
	}
	if numel != data.Len() {
		return &ShapeError{Key: key, Expected: shape, Actual: []int{data.Len()}}
	}
	if !r.Has(key) {
		r.keys = append(r.keys, key)
	}
	r.entries[key] = &Entry{Data: data, Shape: append([]int{}, shape...)}
	return nil
}

// MustSet is like Set but panics on shape violations.
func (r *Record) MustSet(key string, data anyvec.Vector, shape ...int) {
	if err := r.Set(key, data, shape...); err != nil {
		panic(err)
	}
}

// SetFloats inserts an entry from float64 components.
func (r *Record) SetFloats(key string, values []float64, shape ...int) error {
	vec := r.creator.MakeVectorData(r.creator.MakeNumericList(values))
	return r.Set(key, vec, shape...)
}

// Floats returns the components of an entry as float64 values.
// It panics if the key is absent.
func (r *Record) Floats(key string) []float64 {
	e := r.entries[key]
	if e == nil {
		panic(MissingKey(key))
	}
	return e.Floats()
}

// FeatureLen returns the per-sample element count of an entry.
func (r *Record) FeatureLen(key string) int {
	e := r.entries[key]
	if e == nil {
		panic(MissingKey(key))
	}
	return e.Data.Len() / r.NumSamples()
}

// Select returns a new record containing only the given keys.
// Absent keys are ignored.
func (r *Record) Select(keys ...string) *Record {
	res := NewRecord(r.creator, r.batchShape...)
	for _, k := range keys {
		if e, ok := r.entries[k]; ok {
			res.keys = append(res.keys, k)
			res.entries[k] = e.Clone()
		}
	}
	return res
}

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	return r.Select(r.keys...)
}

// Equal reports whether two records hold the same keys, shapes and
// data, comparing components within epsilon.
func (r *Record) Equal(other *Record, epsilon float64) bool {
	if len(r.keys) != len(other.keys) {
		return false
	}
	for _, k := range r.keys {
		e1, e2 := r.entries[k], other.entries[k]
		if e2 == nil || len(e1.Shape) != len(e2.Shape) {
			return false
		}
		for i, d := range e1.Shape {
			if e2.Shape[i] != d {
				return false
			}
		}
		d1, d2 := e1.Floats(), e2.Floats()
		for i, x := range d1 {
			if math.Abs(x-d2[i]) > epsilon {
				return false
			}
		}
	}
	return true
}

// MaskFloats returns the record's validity mask as one float per
// sample, or all ones when no mask entry is present.
func (r *Record) MaskFloats() []float64 {
	if r.Has("mask") {
		return r.Floats("mask")
	}
	mask := make([]float64, r.NumSamples())
	for i := range mask {
		mask[i] = 1
	}
	return mask
}
