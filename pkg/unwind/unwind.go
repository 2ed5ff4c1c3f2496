// Package unwind implements a root-scanning and safepoint contract for
// a stack-unwinding layer, without reimplementing a relocating
// collector: tiervm has no moving GC of its own (explicitly out of
// scope), so the only job left here is producing the set of live
// object references visible at a captured program point, for a caller
// (a test harness standing in for a GC, or future tooling) that wants
// to walk them.
//
// A host whose machine-stack slots carry no type of their own needs a
// separate stack-map bitmap of which slots are references. tiervm's
// frame slots are runtime.Value, which already carries its own Kind
// tag — so JavaFrame's Roots walk reads that tag directly instead of
// consulting a side table, the same simplification pkg/osr.State
// documents for its own locals/stack snapshot.
package unwind

import (
	"github.com/corejvm/tiervm/pkg/codegen"
	"github.com/corejvm/tiervm/pkg/osr"
	"github.com/corejvm/tiervm/pkg/runtime"
)

// JavaFrame is a snapshot of one activation's locals and live operand
// stack, tagged with the method executing and the bytecode offset it
// was captured at. Unlike a native unwinder that recovers a frame's
// method from a return address, tiervm is handed the method directly
// by whichever caller already has the frame in hand.
type JavaFrame struct {
	Method         *runtime.Method
	BytecodeOffset int
	Locals         []runtime.Value
	Stack          []runtime.Value
}

// FromCodegenFrame snapshots a live JIT-tier frame. stackDepth is the
// number of live operand-stack slots (codegen.Frame's backing array is
// sized to MaxStack, not the current depth).
func FromCodegenFrame(f *codegen.Frame, method *runtime.Method, bytecodeOffset int, stackDepth int) JavaFrame {
	return JavaFrame{
		Method:         method,
		BytecodeOffset: bytecodeOffset,
		Locals:         f.Locals,
		Stack:          f.Stack[:stackDepth],
	}
}

// FromOSRState snapshots an in-flight OSR transition buffer — used
// when a GC-root walk or diagnostic tool wants to inspect a frame
// mid-handoff between tiers, before osr.EnterJIT has consumed it.
func FromOSRState(method *runtime.Method, s osr.State) JavaFrame {
	return JavaFrame{Method: method, BytecodeOffset: s.Offset, Locals: s.Locals, Stack: s.Stack}
}

// Roots returns every non-null object reference reachable from this
// frame's locals and live operand stack — the root set a safepoint
// contract asks an unwinder to produce. Go's own collector is what
// actually keeps these objects alive; this walk exists so code that
// needs to enumerate a frame's roots (a diagnostic dump, a future
// precise-GC experiment) has a single place to ask, matching the
// contract without duplicating the collector.
func (f JavaFrame) Roots() []*runtime.Object {
	var roots []*runtime.Object
	appendRoot := func(v runtime.Value) {
		if v.Kind == runtime.KindRef && !v.IsNull() {
			roots = append(roots, v.Ref)
		}
	}
	for _, v := range f.Locals {
		appendRoot(v)
	}
	for _, v := range f.Stack {
		appendRoot(v)
	}
	return roots
}

// Walk visits every JavaFrame in frames in order, calling visit with
// each one's Roots. frames is supplied by the caller rather than
// discovered by walking the real Go call stack, since that is only
// where Java frames live in a host with no other representation of
// them. In tiervm a frame's locals/operand stack are ordinary Go
// values passed down through pkg/codegen.Compiled.Run and pkg/interp's
// own loop, so any code that wants "every currently-live JavaFrame"
// already has them in hand (or can capture them via
// FromCodegenFrame/FromOSRState) without a separate stack-walking
// pass; Walk exists to give that caller one shared place to fold over
// frames uniformly.
func Walk(frames []JavaFrame, visit func(JavaFrame) bool) {
	for _, f := range frames {
		if !visit(f) {
			return
		}
	}
}
