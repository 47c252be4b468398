package anyloss

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// SliceCols extracts columns [start, end) from every row of a
// row-major batch with the given row length.
func SliceCols(in anydiff.Res, start, end, rowLen int) anydiff.Res {
	if start < 0 || end > rowLen || start >= end {
		panic("column range out of bounds")
	}
	if in.Output().Len()%rowLen != 0 {
		panic(&ShapeError{Expected: []int{rowLen}, Actual: []int{in.Output().Len()}})
	}
	rows := in.Output().Len() / rowLen
	c := in.Output().Creator()
	parts := make([]anyvec.Vector, rows)
	for r := 0; r < rows; r++ {
		parts[r] = in.Output().Slice(r*rowLen+start, r*rowLen+end)
	}
	return &sliceColsRes{
		In:     in,
		OutVec: c.Concat(parts...),
		Start:  start,
		End:    end,
		RowLen: rowLen,
		Rows:   rows,
	}
}

type sliceColsRes struct {
	In     anydiff.Res
	OutVec anyvec.Vector
	Start  int
	End    int
	RowLen int
	Rows   int
}

func (s *sliceColsRes) Output() anyvec.Vector {
	return s.OutVec
}

func (s *sliceColsRes) Vars() anydiff.VarSet {
	return s.In.Vars()
}

func (s *sliceColsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	c := u.Creator()
	width := s.End - s.Start
	parts := make([]anyvec.Vector, 0, s.Rows*3)
	for r := 0; r < s.Rows; r++ {
		if s.Start > 0 {
			parts = append(parts, c.MakeVector(s.Start))
		}
		parts = append(parts, u.Slice(r*width, (r+1)*width))
		if s.End < s.RowLen {
			parts = append(parts, c.MakeVector(s.RowLen-s.End))
		}
	}
	s.In.Propagate(c.Concat(parts...), g)
}

// JoinCols joins row-major batches with the same number of rows into
// a single batch whose rows are the concatenated input rows.
func JoinCols(rows int, parts ...anydiff.Res) anydiff.Res {
	if len(parts) == 0 {
		panic("no parts to join")
	}
	widths := make([]int, len(parts))
	var total int
	for i, p := range parts {
		if p.Output().Len()%rows != 0 {
			panic(&ShapeError{Expected: []int{rows}, Actual: []int{p.Output().Len()}})
		}
		widths[i] = p.Output().Len() / rows
		total += widths[i]
	}
	c := parts[0].Output().Creator()
	pieces := make([]anyvec.Vector, 0, rows*len(parts))
	for r := 0; r < rows; r++ {
		for i, p := range parts {
			pieces = append(pieces, p.Output().Slice(r*widths[i], (r+1)*widths[i]))
		}
	}
	vars := anydiff.VarSet{}
	for _, p := range parts {
		for v := range p.Vars() {
			vars[v] = struct{}{}
		}
	}
	return &joinColsRes{
		Parts:  parts,
		OutVec: c.Concat(pieces...),
		Widths: widths,
		Total:  total,
		Rows:   rows,
		VarSet: vars,
	}
}

type joinColsRes struct {
	Parts  []anydiff.Res
	OutVec anyvec.Vector
	Widths []int
	Total  int
	Rows   int
	VarSet anydiff.VarSet
}

func (j *joinColsRes) Output() anyvec.Vector {
	return j.OutVec
}

func (j *joinColsRes) Vars() anydiff.VarSet {
	return j.VarSet
}

func (j *joinColsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	c := u.Creator()
	offset := 0
	for i, p := range j.Parts {
		w := j.Widths[i]
		rows := make([]anyvec.Vector, j.Rows)
		for r := 0; r < j.Rows; r++ {
			rows[r] = u.Slice(r*j.Total+offset, r*j.Total+offset+w)
		}
		p.Propagate(c.Concat(rows...), g)
		offset += w
	}
}
