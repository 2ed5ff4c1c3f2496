// Package osr implements on-stack replacement (§4.12): the transition
// buffer that lets one tier hand a live method activation to another
// tier at an arbitrary bytecode offset. The one direction the buffer is
// used in this realization is interpreter-to-JIT on a hot backedge; an
// exception handler is entered within the tier that caught the
// exception, without a State.
//
// The native implementation this generalizes resumes a replaced frame
// with `resume_execution_at_function`, a noreturn primitive that
// unwinds the host C++ stack up to the target frame and tail-calls the
// new tier's entry point with the stack pointer still at that frame's
// boundary. tiervm has no equivalent primitive to call: a compiled
// method here is an ordinary Go function already sitting on the Go
// call stack, so producing a State and calling EnterJIT IS the
// resume — Go's own call/return takes the place of the tail call, and
// the interpreter's own call frame simply returns the JIT tier's
// result once EnterJIT comes back, instead of being unwound out from
// under it. See pkg/codegen.Compiled.Run for the symmetric case where
// an exception is caught and resumed without ever leaving the
// compiled tier.
package osr

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/codegen"
	"github.com/corejvm/tiervm/pkg/runtime"
)

// State is the abstract machine state captured at a bytecode offset:
// the locals vector and operand stack, sized and ordered exactly as
// codegen.Frame expects them (JVMS two-slot indexing for long/double
// locals; the live portion of the stack only, not its full capacity).
// There is no separate GC-type bitmap the way the native layout
// carries one (§4.12): runtime.Value is already a tagged union, so a
// root-scanning walk over Locals/Stack can tell a reference slot from
// a primitive one without a side table.
type State struct {
	Offset int
	Locals []runtime.Value
	Stack  []runtime.Value
}

// FromFrame captures the current state of a live codegen.Frame. No
// code in this module calls it: exception handlers in compiled code
// are entered in place by codegen.Compiled.Run.
func FromFrame(f *codegen.Frame, offset int, stackDepth int) State {
	locals := make([]runtime.Value, len(f.Locals))
	copy(locals, f.Locals)
	return State{Offset: offset, Locals: locals, Stack: append([]runtime.Value{}, f.Stack[:stackDepth]...)}
}

// FromInterpreter captures an interpreter frame's locals and the live
// portion of its operand stack, ready to resume at offset in a
// different tier.
func FromInterpreter(locals, stack []runtime.Value, offset int) State {
	l := make([]runtime.Value, len(locals))
	copy(l, locals)
	return State{Offset: offset, Locals: l, Stack: append([]runtime.Value{}, stack...)}
}

// EnterJIT consumes state by compiling method (if it has not already
// been compiled for this call) and resuming its normal control flow at
// state.Offset, per §4.12's "consuming an OSRState": the target
// tier materializes an OSR entry for the method at the requested
// offset and is handed the buffer directly.
//
// The entry function loads Locals/Stack into a fresh codegen.Frame
// rather than running FromInterpreter's output through any further
// translation, since both tiers already agree on runtime.Value as
// their slot representation — the one thing the native layout needs a
// FrameValue decode step for, this realization gets for free.
func EnterJIT(class *runtime.Class, method *runtime.Method, h codegen.Helpers, state State) (runtime.Value, error) {
	compiled, err := codegen.Compile(class, method)
	if err != nil {
		return runtime.Value{}, fmt.Errorf("osr: %s.%s rejected at offset %d: %w", class.Name, method.Name, state.Offset, err)
	}
	f := codegen.NewFrameFromState(method, compiled.MaxStack, state.Locals, state.Stack)
	return compiled.Run(f, h, state.Offset)
}
