package anyloss

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// TargetParams pairs a module's live parameter and buffer sets with
// an independently stored target copy.
//
// The live set is shared with the module and mutated by the
// optimizer; the target set is separate storage with matching shapes,
// written only by an updater. Target values enter loss graphs as
// constants, so no gradient can ever reach them.
type TargetParams struct {
	role   string
	module Module

	live     []*anydiff.Var
	liveBufs []*Buffer

	target     []anyvec.Vector
	targetBufs []*Buffer

	holds [][]anyvec.Vector
}

// WrapTarget builds a manager for one network role.
//
// When createTarget is set, a detached deep copy of every parameter
// and buffer becomes the target set; otherwise the manager serves the
// live values, frozen, wherever a target is requested.
//
// It fails with a *ConfigError if the module exposes no parameters.
func WrapTarget(role string, m Module, createTarget bool) (*TargetParams, error) {
	live := m.Parameters()
	if len(live) == 0 {
		return nil, configErrorf("wrap target "+role, "module has no parameters")
	}
	t := &TargetParams{role: role, module: m, live: live}
	if b, ok := m.(Bufferer); ok {
		t.liveBufs = b.Buffers()
	}
	if createTarget {
		for _, v := range live {
			t.target = append(t.target, v.Vector.Copy())
		}
		for _, b := range t.liveBufs {
			t.targetBufs = append(t.targetBufs, &Buffer{
				Vector:   b.Vector.Copy(),
				Discrete: b.Discrete,
			})
		}
	}
	return t, nil
}

// Role returns the registry name of the wrapped network (actor,
// value, qvalue0, ...).
func (t *TargetParams) Role() string {
	return t.role
}

// Module returns the wrapped module.
func (t *TargetParams) Module() Module {
	return t.module
}

// HasTarget reports whether an independent target set was created.
func (t *TargetParams) HasTarget() bool {
	return t.target != nil
}

// LiveVars returns the live parameter set.
func (t *TargetParams) LiveVars() []*anydiff.Var {
	return t.live
}

// TargetVectors returns the target parameter storage, or nil when no
// target was created.
func (t *TargetParams) TargetVectors() []anyvec.Vector {
	return t.target
}

// LiveBuffers returns the live buffer set.
func (t *TargetParams) LiveBuffers() []*Buffer {
	return t.liveBufs
}

// TargetBuffers returns the target buffer set, or nil when no target
// was created.
func (t *TargetParams) TargetBuffers() []*Buffer {
	return t.targetBufs
}

// Apply runs the live forward pass. Gradients flow into the live
// parameters.
func (t *TargetParams) Apply(in anydiff.Res, n int) anydiff.Res {
	params := make([]anydiff.Res, len(t.live))
	for i, v := range t.live {
		params[i] = v
	}
	return t.module.Apply(in, params, t.liveBufValues(), n)
}

// ApplyFrozen runs the forward pass with the live values bound as
// constants.
//
// The output can carry gradients with respect to the input, but no
// computational path to the live parameters exists.
func (t *TargetParams) ApplyFrozen(in anydiff.Res, n int) anydiff.Res {
	params := make([]anydiff.Res, len(t.live))
	for i, v := range t.live {
		params[i] = anydiff.NewConst(v.Vector)
	}
	return t.module.Apply(in, params, t.liveBufValues(), n)
}

// ApplyTarget runs the forward pass against the target set, held out
// from the live parameters for the duration of the computation.
//
// Without a created target set this is equivalent to ApplyFrozen.
func (t *TargetParams) ApplyTarget(in anydiff.Res, n int) anydiff.Res {
	var out anydiff.Res
	t.HoldOut(func(params []anydiff.Res, buffers []anyvec.Vector) {
		out = t.module.Apply(in, params, buffers, n)
	})
	return out
}

// HoldOut runs f with the module's live parameter vectors swapped for
// the target vectors.
//
// f receives the held parameter set bound as constants; forward
// passes built from it are gradient-inert. The live bindings are
// restored on every exit path, including panics, and holds nest: an
// inner hold sees the same target set, and the original live vectors
// come back only when the outermost hold exits.
func (t *TargetParams) HoldOut(f func(params []anydiff.Res, buffers []anyvec.Vector)) {
	saved := make([]anyvec.Vector, len(t.live))
	for i, v := range t.live {
		saved[i] = v.Vector
		if t.target != nil {
			v.Vector = t.target[i]
		}
	}
	t.holds = append(t.holds, saved)
	defer func() {
		last := len(t.holds) - 1
		restore := t.holds[last]
		t.holds = t.holds[:last]
		for i, v := range t.live {
			v.Vector = restore[i]
		}
	}()

	params := make([]anydiff.Res, len(t.live))
	for i, v := range t.live {
		params[i] = anydiff.NewConst(v.Vector)
	}
	f(params, t.heldBufValues())
}

// Held reports whether a hold-out scope is currently active.
func (t *TargetParams) Held() bool {
	return len(t.holds) > 0
}

func (t *TargetParams) liveBufValues() []anyvec.Vector {
	res := make([]anyvec.Vector, len(t.liveBufs))
	for i, b := range t.liveBufs {
		res[i] = b.Vector
	}
	return res
}

func (t *TargetParams) heldBufValues() []anyvec.Vector {
	if t.targetBufs == nil {
		return t.liveBufValues()
	}
	res := make([]anyvec.Vector, len(t.targetBufs))
	for i, b := range t.targetBufs {
		res[i] = b.Vector
	}
	return res
}
