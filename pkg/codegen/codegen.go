// Package codegen lowers one method's bytecode into a Go closure that
// the JIT tier calls directly — tiervm's stand-in for a bytecode-to-
// machine-code translation pass. Go cannot emit or relocate machine
// code at runtime, so "code generation" here means building a tree of
// Go function values once, ahead of the first call, and invoking that
// tree on every subsequent call: the interpreter is the closure-walker,
// codegen is the closure-builder. Both consult the same per-offset type
// state computed by pkg/typecheck, so a cross-class reference lowers to
// exactly one stub call shape regardless of which tier compiled it.
package codegen

import (
	"errors"
	"fmt"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/dispatch"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/typecheck"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// Helpers is everything generated code needs from the surrounding VM:
// class resolution/initialization, stub materialization, object
// allocation, and exception raising. codegen depends on this interface
// rather than pkg/vm directly so that pkg/runtime/pkg/codegen never
// import the orchestrator package (which imports them).
type Helpers interface {
	ResolveStub(symbol string) (runtime.StubEntry, error)
	EnsureInitialized(c *runtime.Class) error
	NewObject(className string) (*runtime.Object, error)
	NewArray(elementType descriptor.FieldType, length int32) (*runtime.Object, error)
	Throw(obj *runtime.Object) error
	// ThrowNew allocates and throws a built-in exception (className is
	// a binary name, e.g. "java/lang/NullPointerException") for the
	// handful of conditions the bytecode spec itself raises implicitly
	// (null dereference, bad array index, division by zero, bad cast,
	// negative array size) rather than the program's own athrow.
	ThrowNew(className, message string) error
	CurrentException() *runtime.Object
	ClearException()
	// IsInstance resolves className through the classloader and
	// answers checkcast/instanceof without codegen needing its own
	// copy of the class graph.
	IsInstance(c *runtime.Class, className string) (bool, error)
}

// Frame is the JIT tier's activation record: a flat locals array and
// operand stack, the same shape the interpreter tier and OSR buffers
// use so a transition between tiers is a data copy, not a reinterpretation.
type Frame struct {
	Locals  []runtime.Value
	Stack   []runtime.Value
	sp      int
	Method  *runtime.Method
	PC      int // updated at safepoints for stack-walking/OSR capture
}

func NewFrame(method *runtime.Method, maxLocals, maxStack int) *Frame {
	return &Frame{Locals: make([]runtime.Value, maxLocals), Stack: make([]runtime.Value, maxStack)}
}

// NewFrameWithArgs builds a Frame and places args — one per logical
// parameter, receiver first for an instance method — at their JVMS
// local-slot offsets: a long/double parameter reserves two consecutive
// local slots (the second left zero), matching the indexing the
// lowered lload/dload/etc. instructions expect.
func NewFrameWithArgs(method *runtime.Method, maxLocals, maxStack int, isStatic bool, mt descriptor.MethodType, args []runtime.Value) *Frame {
	f := NewFrame(method, maxLocals, maxStack)
	idx, ai := 0, 0
	if !isStatic {
		f.Locals[idx] = args[ai]
		idx++
		ai++
	}
	for _, p := range mt.Params {
		f.Locals[idx] = args[ai]
		if p.IsWide() {
			idx += 2
		} else {
			idx++
		}
		ai++
	}
	return f
}

func (f *Frame) push(v runtime.Value) { f.Stack[f.sp] = v; f.sp++ }
func (f *Frame) pop() runtime.Value   { f.sp--; return f.Stack[f.sp] }

// NewFrameFromState builds a Frame whose locals and operand stack are
// already populated — the OSR entry shape (§4.12): maxStack sizes the
// backing array (it must be at least len(stack)) and the supplied
// stack values are copied in with the operand-stack depth they arrived
// with, so a subsequent pop() sees the same top-of-stack the source
// tier had at the captured offset.
func NewFrameFromState(method *runtime.Method, maxStack int, locals, stack []runtime.Value) *Frame {
	f := &Frame{Locals: locals, Stack: make([]runtime.Value, maxStack), Method: method}
	copy(f.Stack, stack)
	f.sp = len(stack)
	return f
}

// ctrlKind tags what a lowered instruction did to control flow.
type ctrlKind uint8

const (
	ctrlFallThrough ctrlKind = iota
	ctrlJump
	ctrlReturn
)

type ctrl struct {
	kind   ctrlKind
	target int
	result runtime.Value
}

// instrFn is one lowered instruction: a closure over its decoded
// operands (constant pool indices, branch offsets, local slots)
// closing over the Frame/Helpers it runs against.
type instrFn func(f *Frame, h Helpers) (ctrl, error)

// block is one compiled basic block: a pure function from (frame) to
// either a successor block index or a method exit (return/throw).
type block struct {
	offset int
	run    func(f *Frame, h Helpers) (ctrl, error)
}

// Compiled is a fully materialized method body: every basic block
// discovered by the type checker, indexed by entry offset, plus the
// method's declared entry point (0) and its exception table for
// pkg/dispatch to walk on error.
type Compiled struct {
	Class       *runtime.Class
	Method      *runtime.Method
	blocksByOff map[int]*block
	Code        *classfile.CodeAttribute
	MaxLocals   int
	MaxStack    int
}

// Run executes the compiled method body from the given entry offset
// (0 for a normal call, a captured OSR offset for a tier-switch entry)
// with the given frame state already populated. A thrown Java
// exception is caught here rather than panicking: the Go call that
// raised it has already unwound back to this loop (tiervm's stack
// literally is the Go call stack, so no separate unwinder is needed),
// and the exception table is consulted at the PC the failing
// instruction left in f.PC exactly as §4.11 describes.
func (c *Compiled) Run(f *Frame, h Helpers, entryOffset int) (runtime.Value, error) {
	off := entryOffset
	for {
		b, ok := c.blocksByOff[off]
		if !ok {
			return runtime.Value{}, fmt.Errorf("codegen: no compiled block at offset %d in %s.%s", off, c.Method.Class.Name, c.Method.Name)
		}
		outcome, err := b.run(f, h)
		if err != nil {
			var jerr *vmerrors.JavaException
			if errors.As(err, &jerr) {
				if handlerPC, ok := c.findHandler(f.PC, jerr.Obj, h); ok {
					f.sp = 0
					f.push(runtime.Ref(jerr.Obj))
					off = handlerPC
					continue
				}
			}
			return runtime.Value{}, err
		}
		if outcome.kind == ctrlReturn {
			return outcome.result, nil
		}
		off = outcome.target
	}
}

// findHandler implements the first-match linear scan of §4.11: the
// first entry whose [StartPC, EndPC) contains pc and whose CatchType
// is either absent (catch-all, 0) or names a class the exception is
// an instance of.
func (c *Compiled) findHandler(pc int, exc *runtime.Object, h Helpers) (int, bool) {
	return dispatch.FindHandler(c.Code.ExceptionHandlers, pc,
		func(ct uint16) (string, error) { return classfile.GetClassName(c.Class.File.ConstantPool, ct) },
		func(name string) (bool, error) { return h.IsInstance(exc.Class, name) },
	)
}

// Compile builds a Compiled method body by type-checking cf's code
// attribute and translating every reachable instruction into the
// corresponding Frame operation. The generated closures are intended
// to be installed behind a mangled stub symbol exactly once, by
// pkg/materialize, and called through the method's jit stub cell from
// then on.
func Compile(class *runtime.Class, method *runtime.Method) (*Compiled, error) {
	code := method.Code
	if code == nil {
		return nil, fmt.Errorf("codegen: %s.%s has no Code attribute (abstract or native)", class.Name, method.Name)
	}
	cf := class.File
	tc, err := typecheck.Check(cf, method.Type, method.IsStatic(), code, -1)
	if err != nil {
		return nil, fmt.Errorf("codegen: type check failed for %s.%s: %w", class.Name, method.Name, err)
	}

	c := &Compiled{
		Class:       class,
		Method:      method,
		blocksByOff: map[int]*block{},
		Code:        code,
		MaxLocals:   int(code.MaxLocals),
		MaxStack:    int(code.MaxStack),
	}

	leaders := make([]int, 0, len(tc.BlockEntry))
	for off := range tc.BlockEntry {
		leaders = append(leaders, off)
	}
	for _, off := range leaders {
		blk, err := compileBlock(cf, code, off, leaders)
		if err != nil {
			return nil, fmt.Errorf("codegen: %s.%s at offset %d: %w", class.Name, method.Name, off, err)
		}
		c.blocksByOff[off] = blk
	}
	return c, nil
}

// compileBlock translates every instruction from off up to (and
// including) the block-ending instruction into one closure. Operand
// widths come from bytecode.InstructionLength, the same decoder
// typecheck's instructionLength wraps, so both passes agree on where
// each instruction ends.
func compileBlock(cf *classfile.ClassFile, code *classfile.CodeAttribute, off int, leaders []int) (*block, error) {
	isLeader := map[int]bool{}
	for _, l := range leaders {
		isLeader[l] = true
	}

	b := code.Code
	var ops []instrFn
	var pcs []int
	var fallThroughTo = -1
	pc := off
	for {
		if pc >= len(b) {
			return nil, fmt.Errorf("fell off the end of the bytecode array at %d", pc)
		}
		op := b[pc]
		length := bytecode.InstructionLength(b, pc)
		ic, err := lowerInstruction(cf, b, pc, op)
		if err != nil {
			return nil, err
		}
		ops = append(ops, ic)
		pcs = append(pcs, pc)
		next := pc + length

		if bytecode.IsReturn(op) || op == bytecode.Athrow || op == bytecode.Ret ||
			op == bytecode.Tableswitch || op == bytecode.Lookupswitch || bytecode.IsBranch(op) {
			break
		}
		if isLeader[next] && next != pc {
			fallThroughTo = next
			break
		}
		pc = next
	}

	return &block{offset: off, run: func(f *Frame, h Helpers) (ctrl, error) {
		var last ctrl
		for i, ic := range ops {
			f.PC = pcs[i] // kept current for exception-table lookups on error
			out, err := ic(f, h)
			if err != nil {
				return ctrl{}, err
			}
			last = out
			if out.kind != ctrlFallThrough {
				return out, nil
			}
		}
		if fallThroughTo >= 0 {
			return ctrl{kind: ctrlJump, target: fallThroughTo}, nil
		}
		return last, fmt.Errorf("block at offset %d produced no successor", off)
	}}, nil
}
