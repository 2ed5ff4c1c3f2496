// Package interp implements the baseline interpreter tier (component
// L): a direct bytecode evaluator. The materialization pipeline tries
// pkg/codegen first for every method and runs the interpreter for the
// methods the JIT target rejects. It decodes and
// executes one instruction at a time against a mutable bytecode
// offset, locals array, and operand stack — the same JVMS semantics
// pkg/codegen's closures implement, reimplemented here as a switch
// over the live opcode rather than a precompiled closure tree, since a
// genuine two-tier pipeline means two independent executors rather
// than one expressed in terms of the other.
//
// A loop whose backedge counter crosses BackedgeThreshold triggers
// on-stack replacement into the JIT tier (§4.12, scenario 6): the
// interpreter captures its own locals and live operand stack into an
// osr.State and calls osr.EnterJIT, returning whatever that call
// returns as if it were this call's own result — tiervm's Go call
// stack makes the "resume in another tier" primitive an ordinary
// nested call rather than a stack rewrite.
package interp

import (
	"errors"
	"fmt"
	"math"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/codegen"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/dispatch"
	"github.com/corejvm/tiervm/pkg/mangle"
	"github.com/corejvm/tiervm/pkg/osr"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// DefaultBackedgeThreshold is the loop-trip count (per loop header
// offset) past which a method OSRs into the JIT tier. Chosen low
// enough that the interpreter's six-scenario exercises actually trip
// it without needing a multi-million-iteration fixture.
const DefaultBackedgeThreshold = 1000

// Interp is the interpreter tier. One Interp is shared across every
// method execution in a VM instance; BackedgeThreshold is its only
// tuning knob (wired from pkg/config's osr-threshold flag).
type Interp struct {
	BackedgeThreshold int
}

func New(backedgeThreshold int) *Interp {
	if backedgeThreshold <= 0 {
		backedgeThreshold = DefaultBackedgeThreshold
	}
	return &Interp{BackedgeThreshold: backedgeThreshold}
}

// frame is the interpreter's activation record: Method holds the
// Code attribute to decode against, pc is the interpreter's own
// program counter (unlike codegen.Frame.PC, which is only a
// best-effort safepoint marker, this one IS the control state).
type frame struct {
	method   *runtime.Method
	code     *classfile.CodeAttribute
	locals   []runtime.Value
	stack    []runtime.Value
	sp       int
	pc       int
	backedge map[int]int
}

func (f *frame) push(v runtime.Value) { f.stack[f.sp] = v; f.sp++ }
func (f *frame) pop() runtime.Value   { f.sp--; return f.stack[f.sp] }

// Execute implements materialize.Interpreter: run method's bytecode
// from offset 0 with args already laid out as JVMS locals.
func (in *Interp) Execute(class *runtime.Class, method *runtime.Method, h codegen.Helpers, args []runtime.Value) (runtime.Value, error) {
	code := method.Code
	if code == nil {
		return runtime.Value{}, fmt.Errorf("interp: %s.%s has no Code attribute", class.Name, method.Name)
	}
	locals := make([]runtime.Value, code.MaxLocals)
	placeArgs(locals, method.IsStatic(), method.Type, args)
	f := &frame{
		method:   method,
		code:     code,
		locals:   locals,
		stack:    make([]runtime.Value, code.MaxStack),
		backedge: map[int]int{},
	}
	return in.run(class, method, h, f)
}

// placeArgs mirrors codegen.NewFrameWithArgs's local-slot indexing: a
// wide (long/double) parameter consumes two consecutive slots.
func placeArgs(locals []runtime.Value, isStatic bool, mt descriptor.MethodType, args []runtime.Value) {
	idx, ai := 0, 0
	if !isStatic {
		locals[idx] = args[ai]
		idx++
		ai++
	}
	for _, p := range mt.Params {
		locals[idx] = args[ai]
		if p.IsWide() {
			idx += 2
		} else {
			idx++
		}
		ai++
	}
}

// run is the interpreter's fetch-decode-execute loop. It is also the
// frame that an OSR-into-JIT call returns through and the frame that
// catches a thrown exception for this method's own exception table,
// exactly like pkg/codegen.Compiled.Run's equivalent loop.
func (in *Interp) run(class *runtime.Class, method *runtime.Method, h codegen.Helpers, f *frame) (runtime.Value, error) {
	cf := class.File
	code := f.code.Code
	for {
		if f.pc >= len(code) {
			return runtime.Value{}, fmt.Errorf("interp: fell off the end of %s.%s at pc %d", class.Name, method.Name, f.pc)
		}
		op := code[f.pc]
		result, jumped, done, err := in.step(class, cf, method, h, f, op)
		if err != nil {
			var jerr *vmerrors.JavaException
			if errors.As(err, &jerr) {
				if handlerPC, ok := findHandler(cf, f.code, f.pc, jerr.Obj, h); ok {
					f.sp = 0
					f.push(runtime.Ref(jerr.Obj))
					f.pc = handlerPC
					continue
				}
			}
			return runtime.Value{}, err
		}
		if done {
			return result, nil
		}
		if jumped {
			continue
		}
		f.pc += bytecode.InstructionLength(code, f.pc)
	}
}

func findHandler(cf *classfile.ClassFile, code *classfile.CodeAttribute, pc int, exc *runtime.Object, h codegen.Helpers) (int, bool) {
	return dispatch.FindHandler(code.ExceptionHandlers, pc, func(ct uint16) (string, error) {
		return classfile.GetClassName(cf.ConstantPool, ct)
	}, func(name string) (bool, error) { return h.IsInstance(exc.Class, name) })
}

// step executes the single instruction at f.pc. It returns (result,
// jumped, done, err): done means the method has returned (result is
// the return value, zero for void — this also covers an OSR
// transition, whose JIT-tier result becomes this method's result);
// jumped means f.pc was already set to the next instruction to
// execute by a branch and the main loop should not also advance it.
func (in *Interp) step(class *runtime.Class, cf *classfile.ClassFile, method *runtime.Method, h codegen.Helpers, f *frame, op bytecode.Opcode) (runtime.Value, bool, bool, error) {
	b := f.code.Code
	pc := f.pc

	switch op {
	case bytecode.Nop:
		return runtime.Value{}, false, false, nil
	case bytecode.AconstNull:
		f.push(runtime.Null())
	case bytecode.IconstM1:
		f.push(runtime.Int32(-1))
	case bytecode.Iconst0, bytecode.Iconst1, bytecode.Iconst2, bytecode.Iconst3, bytecode.Iconst4, bytecode.Iconst5:
		f.push(runtime.Int32(int32(op - bytecode.Iconst0)))
	case bytecode.Lconst0, bytecode.Lconst1:
		f.push(runtime.Int64(int64(op - bytecode.Lconst0)))
	case bytecode.Fconst0, bytecode.Fconst1, bytecode.Fconst2:
		f.push(runtime.Float32(float32(op - bytecode.Fconst0)))
	case bytecode.Dconst0, bytecode.Dconst1:
		f.push(runtime.Float64(float64(op - bytecode.Dconst0)))
	case bytecode.Bipush:
		f.push(runtime.Int32(int32(int8(b[pc+1]))))
	case bytecode.Sipush:
		f.push(runtime.Int32(int32(bytecode.I16At(b, pc+1))))

	case bytecode.Ldc, bytecode.LdcW, bytecode.Ldc2W:
		return runtime.Value{}, false, false, in.execLdc(cf, b, pc, op, h, f)

	case bytecode.Iload, bytecode.Lload, bytecode.Fload, bytecode.Dload, bytecode.Aload:
		f.push(f.locals[b[pc+1]])
	case bytecode.Iload0, bytecode.Iload1, bytecode.Iload2, bytecode.Iload3:
		f.push(f.locals[op-bytecode.Iload0])
	case bytecode.Lload0, bytecode.Lload1, bytecode.Lload2, bytecode.Lload3:
		f.push(f.locals[op-bytecode.Lload0])
	case bytecode.Fload0, bytecode.Fload1, bytecode.Fload2, bytecode.Fload3:
		f.push(f.locals[op-bytecode.Fload0])
	case bytecode.Dload0, bytecode.Dload1, bytecode.Dload2, bytecode.Dload3:
		f.push(f.locals[op-bytecode.Dload0])
	case bytecode.Aload0, bytecode.Aload1, bytecode.Aload2, bytecode.Aload3:
		f.push(f.locals[op-bytecode.Aload0])

	case bytecode.Istore, bytecode.Lstore, bytecode.Fstore, bytecode.Dstore, bytecode.Astore:
		f.locals[b[pc+1]] = f.pop()
	case bytecode.Istore0, bytecode.Istore1, bytecode.Istore2, bytecode.Istore3:
		f.locals[op-bytecode.Istore0] = f.pop()
	case bytecode.Lstore0, bytecode.Lstore1, bytecode.Lstore2, bytecode.Lstore3:
		f.locals[op-bytecode.Lstore0] = f.pop()
	case bytecode.Fstore0, bytecode.Fstore1, bytecode.Fstore2, bytecode.Fstore3:
		f.locals[op-bytecode.Fstore0] = f.pop()
	case bytecode.Dstore0, bytecode.Dstore1, bytecode.Dstore2, bytecode.Dstore3:
		f.locals[op-bytecode.Dstore0] = f.pop()
	case bytecode.Astore0, bytecode.Astore1, bytecode.Astore2, bytecode.Astore3:
		f.locals[op-bytecode.Astore0] = f.pop()

	case bytecode.Iaload, bytecode.Laload, bytecode.Faload, bytecode.Daload, bytecode.Aaload,
		bytecode.Baload, bytecode.Caload, bytecode.Saload:
		idx := f.pop().I32
		arr := f.pop()
		if arr.IsNull() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NullPointerException", "array load")
		}
		if idx < 0 || int(idx) >= arr.Ref.Length() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("index %d, length %d", idx, arr.Ref.Length()))
		}
		f.push(arr.Ref.Elements[idx])
	case bytecode.Iastore, bytecode.Lastore, bytecode.Fastore, bytecode.Dastore, bytecode.Aastore,
		bytecode.Bastore, bytecode.Castore, bytecode.Sastore:
		v := f.pop()
		idx := f.pop().I32
		arr := f.pop()
		if arr.IsNull() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NullPointerException", "array store")
		}
		if idx < 0 || int(idx) >= arr.Ref.Length() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("index %d, length %d", idx, arr.Ref.Length()))
		}
		arr.Ref.Elements[idx] = v
	case bytecode.Arraylength:
		arr := f.pop()
		if arr.IsNull() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NullPointerException", "arraylength")
		}
		f.push(runtime.Int32(int32(arr.Ref.Length())))

	case bytecode.Pop:
		f.pop()
	case bytecode.Pop2:
		f.pop()
		f.pop()
	case bytecode.Dup:
		v := f.pop()
		f.push(v)
		f.push(v)
	case bytecode.DupX1:
		v1, v2 := f.pop(), f.pop()
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case bytecode.DupX2:
		v1, v2, v3 := f.pop(), f.pop(), f.pop()
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case bytecode.Dup2:
		v1, v2 := f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case bytecode.Dup2X1:
		v1, v2, v3 := f.pop(), f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case bytecode.Dup2X2:
		v1, v2, v3, v4 := f.pop(), f.pop(), f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v4)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case bytecode.Swap:
		v1, v2 := f.pop(), f.pop()
		f.push(v1)
		f.push(v2)

	case bytecode.Iadd:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l + r))
	case bytecode.Isub:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l - r))
	case bytecode.Imul:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l * r))
	case bytecode.Idiv:
		r, l := f.pop().I32, f.pop().I32
		if r == 0 {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/ArithmeticException", "/ by zero")
		}
		f.push(runtime.Int32(l / r))
	case bytecode.Irem:
		r, l := f.pop().I32, f.pop().I32
		if r == 0 {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/ArithmeticException", "/ by zero")
		}
		f.push(runtime.Int32(l % r))
	case bytecode.Ineg:
		f.push(runtime.Int32(-f.pop().I32))
	case bytecode.Iand:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l & r))
	case bytecode.Ior:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l | r))
	case bytecode.Ixor:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l ^ r))
	case bytecode.Ishl:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l << (uint32(r) & 0x1F)))
	case bytecode.Ishr:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(l >> (uint32(r) & 0x1F)))
	case bytecode.Iushr:
		r, l := f.pop().I32, f.pop().I32
		f.push(runtime.Int32(int32(uint32(l) >> (uint32(r) & 0x1F))))

	case bytecode.Ladd:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int64(l + r))
	case bytecode.Lsub:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int64(l - r))
	case bytecode.Lmul:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int64(l * r))
	case bytecode.Ldiv:
		r, l := f.pop().I64, f.pop().I64
		if r == 0 {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/ArithmeticException", "/ by zero")
		}
		f.push(runtime.Int64(l / r))
	case bytecode.Lrem:
		r, l := f.pop().I64, f.pop().I64
		if r == 0 {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/ArithmeticException", "/ by zero")
		}
		f.push(runtime.Int64(l % r))
	case bytecode.Lneg:
		f.push(runtime.Int64(-f.pop().I64))
	case bytecode.Land:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int64(l & r))
	case bytecode.Lor:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int64(l | r))
	case bytecode.Lxor:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int64(l ^ r))
	case bytecode.Lshl:
		amt := f.pop().I32
		v := f.pop().I64
		f.push(runtime.Int64(v << (uint64(amt) & 0x3F)))
	case bytecode.Lshr:
		amt := f.pop().I32
		v := f.pop().I64
		f.push(runtime.Int64(v >> (uint64(amt) & 0x3F)))
	case bytecode.Lushr:
		amt := f.pop().I32
		v := f.pop().I64
		f.push(runtime.Int64(int64(uint64(v) >> (uint64(amt) & 0x3F))))

	case bytecode.Fadd:
		r, l := f.pop().F32, f.pop().F32
		f.push(runtime.Float32(l + r))
	case bytecode.Fsub:
		r, l := f.pop().F32, f.pop().F32
		f.push(runtime.Float32(l - r))
	case bytecode.Fmul:
		r, l := f.pop().F32, f.pop().F32
		f.push(runtime.Float32(l * r))
	case bytecode.Fdiv:
		r, l := f.pop().F32, f.pop().F32
		f.push(runtime.Float32(l / r))
	case bytecode.Frem:
		r, l := f.pop().F32, f.pop().F32
		f.push(runtime.Float32(float32(math.Mod(float64(l), float64(r)))))
	case bytecode.Fneg:
		f.push(runtime.Float32(-f.pop().F32))

	case bytecode.Dadd:
		r, l := f.pop().F64, f.pop().F64
		f.push(runtime.Float64(l + r))
	case bytecode.Dsub:
		r, l := f.pop().F64, f.pop().F64
		f.push(runtime.Float64(l - r))
	case bytecode.Dmul:
		r, l := f.pop().F64, f.pop().F64
		f.push(runtime.Float64(l * r))
	case bytecode.Ddiv:
		r, l := f.pop().F64, f.pop().F64
		f.push(runtime.Float64(l / r))
	case bytecode.Drem:
		r, l := f.pop().F64, f.pop().F64
		f.push(runtime.Float64(math.Mod(l, r)))
	case bytecode.Dneg:
		f.push(runtime.Float64(-f.pop().F64))

	case bytecode.Iinc:
		idx := int(b[pc+1])
		delta := int32(int8(b[pc+2]))
		f.locals[idx] = runtime.Int32(f.locals[idx].I32 + delta)

	case bytecode.I2l:
		f.push(runtime.Int64(int64(f.pop().I32)))
	case bytecode.I2f:
		f.push(runtime.Float32(float32(f.pop().I32)))
	case bytecode.I2d:
		f.push(runtime.Float64(float64(f.pop().I32)))
	case bytecode.L2i:
		f.push(runtime.Int32(int32(f.pop().I64)))
	case bytecode.L2f:
		f.push(runtime.Float32(float32(f.pop().I64)))
	case bytecode.L2d:
		f.push(runtime.Float64(float64(f.pop().I64)))
	case bytecode.F2i:
		f.push(runtime.Int32(truncToInt32(float64(f.pop().F32))))
	case bytecode.F2l:
		f.push(runtime.Int64(truncToInt64(float64(f.pop().F32))))
	case bytecode.F2d:
		f.push(runtime.Float64(float64(f.pop().F32)))
	case bytecode.D2i:
		f.push(runtime.Int32(truncToInt32(f.pop().F64)))
	case bytecode.D2l:
		f.push(runtime.Int64(truncToInt64(f.pop().F64)))
	case bytecode.D2f:
		f.push(runtime.Float32(float32(f.pop().F64)))
	case bytecode.I2b:
		f.push(runtime.Int32(int32(int8(f.pop().I32))))
	case bytecode.I2c:
		f.push(runtime.Int32(int32(uint16(f.pop().I32))))
	case bytecode.I2s:
		f.push(runtime.Int32(int32(int16(f.pop().I32))))

	case bytecode.Lcmp:
		r, l := f.pop().I64, f.pop().I64
		f.push(runtime.Int32(cmp64(l, r)))
	case bytecode.Fcmpl, bytecode.Fcmpg:
		nanResult := int32(1)
		if op == bytecode.Fcmpl {
			nanResult = -1
		}
		r, l := f.pop().F32, f.pop().F32
		f.push(runtime.Int32(fcmp(float64(l), float64(r), nanResult)))
	case bytecode.Dcmpl, bytecode.Dcmpg:
		nanResult := int32(1)
		if op == bytecode.Dcmpl {
			nanResult = -1
		}
		r, l := f.pop().F64, f.pop().F64
		f.push(runtime.Int32(fcmp(l, r, nanResult)))

	case bytecode.Ifeq, bytecode.Ifne, bytecode.Iflt, bytecode.Ifge, bytecode.Ifgt, bytecode.Ifle:
		v := f.pop().I32
		if condTrue1(op, v) {
			return in.branch(f, h, pc+bytecode.I16At(b, pc+1))
		}
		return in.branch(f, h, pc+bytecode.InstructionLength(b, pc))
	case bytecode.IfIcmpeq, bytecode.IfIcmpne, bytecode.IfIcmplt, bytecode.IfIcmpge, bytecode.IfIcmpgt, bytecode.IfIcmple:
		r, l := f.pop().I32, f.pop().I32
		if condTrue2(op, l, r) {
			return in.branch(f, h, pc+bytecode.I16At(b, pc+1))
		}
		return in.branch(f, h, pc+bytecode.InstructionLength(b, pc))
	case bytecode.IfAcmpeq, bytecode.IfAcmpne:
		r, l := f.pop(), f.pop()
		eq := identical(l, r)
		if op == bytecode.IfAcmpne {
			eq = !eq
		}
		if eq {
			return in.branch(f, h, pc+bytecode.I16At(b, pc+1))
		}
		return in.branch(f, h, pc+bytecode.InstructionLength(b, pc))
	case bytecode.Ifnull:
		if f.pop().IsNull() {
			return in.branch(f, h, pc+bytecode.I16At(b, pc+1))
		}
		return in.branch(f, h, pc+bytecode.InstructionLength(b, pc))
	case bytecode.Ifnonnull:
		if !f.pop().IsNull() {
			return in.branch(f, h, pc+bytecode.I16At(b, pc+1))
		}
		return in.branch(f, h, pc+bytecode.InstructionLength(b, pc))
	case bytecode.Goto:
		return in.branch(f, h, pc+bytecode.I16At(b, pc+1))
	case bytecode.GotoW:
		return in.branch(f, h, pc+int(bytecode.I32At(b, pc+1)))

	case bytecode.Ireturn, bytecode.Freturn, bytecode.Lreturn, bytecode.Dreturn, bytecode.Areturn:
		return f.pop(), false, true, nil
	case bytecode.Return:
		return runtime.Value{}, false, true, nil
	case bytecode.Athrow:
		v := f.pop()
		if v.IsNull() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NullPointerException", "athrow")
		}
		return runtime.Value{}, false, false, h.Throw(v.Ref)

	case bytecode.Getstatic, bytecode.Putstatic, bytecode.Getfield, bytecode.Putfield:
		return runtime.Value{}, false, false, in.execFieldAccess(cf, b, pc, op, h, f)
	case bytecode.Invokevirtual:
		return runtime.Value{}, false, false, in.execInvoke(cf, b, pc, mangle.VirtualCall, true, h, f)
	case bytecode.Invokestatic:
		return runtime.Value{}, false, false, in.execInvoke(cf, b, pc, mangle.StaticCall, false, h, f)
	case bytecode.Invokespecial:
		return runtime.Value{}, false, false, in.execInvokeSpecial(cf, b, pc, h, f)
	case bytecode.Invokeinterface:
		return runtime.Value{}, false, false, in.execInvoke(cf, b, pc, mangle.InterfaceCall, true, h, f)
	case bytecode.Invokedynamic:
		return runtime.Value{}, false, false, fmt.Errorf("interp: invokedynamic is not supported")

	case bytecode.New:
		idx := bytecode.U16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		obj, err := h.NewObject(name)
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		f.push(runtime.Ref(obj))
	case bytecode.Anewarray:
		idx := bytecode.U16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		n := f.pop().I32
		if n < 0 {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", n))
		}
		obj, err := h.NewArray(classConstantToFieldType(name), n)
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		f.push(runtime.Ref(obj))
	case bytecode.Newarray:
		n := f.pop().I32
		if n < 0 {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", n))
		}
		obj, err := h.NewArray(primitiveArrayType(b[pc+1]), n)
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		f.push(runtime.Ref(obj))
	case bytecode.Checkcast, bytecode.Instanceof:
		idx := bytecode.U16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		v := f.pop()
		isCast := op == bytecode.Checkcast
		if v.IsNull() {
			if isCast {
				f.push(v)
			} else {
				f.push(runtime.Int32(0))
			}
			break
		}
		is, err := h.IsInstance(v.Ref.Class, name)
		if err != nil {
			return runtime.Value{}, false, false, err
		}
		if isCast {
			if !is {
				return runtime.Value{}, false, false, h.ThrowNew("java/lang/ClassCastException", fmt.Sprintf("%s is not a %s", v.Ref.Class.Name, name))
			}
			f.push(v)
		} else {
			f.push(runtime.Int32(boolToInt(is)))
		}

	case bytecode.Monitorenter, bytecode.Monitorexit:
		if f.pop().IsNull() {
			return runtime.Value{}, false, false, h.ThrowNew("java/lang/NullPointerException", "monitor")
		}

	case bytecode.Tableswitch:
		return in.branch(f, h, execTableswitch(b, pc, f))
	case bytecode.Lookupswitch:
		return in.branch(f, h, execLookupswitch(b, pc, f))

	case bytecode.Ret:
		return in.branch(f, h, f.locals[b[pc+1]].RetAddr)
	case bytecode.Wide:
		return runtime.Value{}, false, false, in.execWide(b, pc, f)
	case bytecode.Multianewarray:
		return runtime.Value{}, false, false, in.execMultianewarray(cf, b, pc, h, f)
	case bytecode.Jsr:
		target := pc + bytecode.I16At(b, pc+1)
		f.push(runtime.ReturnAddress(pc + bytecode.InstructionLength(b, pc)))
		return in.branch(f, h, target)
	case bytecode.JsrW:
		target := pc + int(bytecode.I32At(b, pc+1))
		f.push(runtime.ReturnAddress(pc + bytecode.InstructionLength(b, pc)))
		return in.branch(f, h, target)

	default:
		return runtime.Value{}, false, false, fmt.Errorf("interp: unhandled opcode 0x%02X", op)
	}
	return runtime.Value{}, false, false, nil
}

// branch relocates f.pc to target and, if target is a loop header
// (target <= the branch's own offset), bumps that header's backedge
// counter — crossing the threshold hands the rest of this call to the
// JIT tier via osr.EnterJIT (§4.12, scenario 6). When that happens,
// done is true and result is the JIT tier's own return value, since
// from this frame's point of view the method has now finished: the
// interpreter's own loop never resumes after an OSR transition, the
// nested EnterJIT call's result simply becomes this call's result.
func (in *Interp) branch(f *frame, h codegen.Helpers, target int) (runtime.Value, bool, bool, error) {
	if target <= f.pc {
		f.backedge[target]++
		if f.backedge[target] >= in.BackedgeThreshold {
			state := osr.FromInterpreter(f.locals, f.stack[:f.sp], target)
			result, err := osr.EnterJIT(f.method.Class, f.method, h, state)
			return result, false, true, err
		}
	}
	f.pc = target
	return runtime.Value{}, true, false, nil
}

func condTrue1(op bytecode.Opcode, v int32) bool {
	switch op {
	case bytecode.Ifeq:
		return v == 0
	case bytecode.Ifne:
		return v != 0
	case bytecode.Iflt:
		return v < 0
	case bytecode.Ifge:
		return v >= 0
	case bytecode.Ifgt:
		return v > 0
	default: // Ifle
		return v <= 0
	}
}

func condTrue2(op bytecode.Opcode, l, r int32) bool {
	switch op {
	case bytecode.IfIcmpeq:
		return l == r
	case bytecode.IfIcmpne:
		return l != r
	case bytecode.IfIcmplt:
		return l < r
	case bytecode.IfIcmpge:
		return l >= r
	case bytecode.IfIcmpgt:
		return l > r
	default: // IfIcmple
		return l <= r
	}
}

func identical(l, r runtime.Value) bool {
	if l.IsNull() && r.IsNull() {
		return true
	}
	if l.IsNull() != r.IsNull() {
		return false
	}
	return l.Ref == r.Ref
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func cmp64(l, r int64) int32 {
	switch {
	case l > r:
		return 1
	case l < r:
		return -1
	default:
		return 0
	}
}

func fcmp(l, r float64, nanResult int32) int32 {
	if math.IsNaN(l) || math.IsNaN(r) {
		return nanResult
	}
	switch {
	case l > r:
		return 1
	case l < r:
		return -1
	default:
		return 0
	}
}

func truncToInt32(v float64) int32 {
	if math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if v <= math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

func truncToInt64(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	if v <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(v)
}

func execTableswitch(b []byte, pc int, f *frame) int {
	base := pc
	p := pc + 1
	for (p-base)%4 != 0 {
		p++
	}
	defaultOff := int(bytecode.I32At(b, p))
	p += 4
	low := bytecode.I32At(b, p)
	p += 4
	high := bytecode.I32At(b, p)
	p += 4
	v := f.pop().I32
	if v < low || v > high {
		return base + defaultOff
	}
	return base + int(bytecode.I32At(b, p+int(v-low)*4))
}

func execLookupswitch(b []byte, pc int, f *frame) int {
	base := pc
	p := pc + 1
	for (p-base)%4 != 0 {
		p++
	}
	defaultOff := int(bytecode.I32At(b, p))
	p += 4
	n := int(bytecode.I32At(b, p))
	p += 4
	v := f.pop().I32
	for i := 0; i < n; i++ {
		m := bytecode.I32At(b, p)
		off := int(bytecode.I32At(b, p+4))
		if m == v {
			return base + off
		}
		p += 8
	}
	return base + defaultOff
}

func classConstantToFieldType(name string) descriptor.FieldType {
	if len(name) > 0 && name[0] == '[' {
		if ft, err := descriptor.ParseFieldType(name); err == nil {
			return ft
		}
	}
	return descriptor.ClassType(name)
}

func primitiveArrayType(atype byte) descriptor.FieldType {
	switch atype {
	case bytecode.ArrBoolean:
		return descriptor.BooleanType
	case bytecode.ArrChar:
		return descriptor.CharType
	case bytecode.ArrFloat:
		return descriptor.FloatType
	case bytecode.ArrDouble:
		return descriptor.DoubleType
	case bytecode.ArrByte:
		return descriptor.ByteType
	case bytecode.ArrShort:
		return descriptor.ShortType
	case bytecode.ArrInt:
		return descriptor.IntType
	case bytecode.ArrLong:
		return descriptor.LongType
	default:
		return descriptor.IntType
	}
}

func (in *Interp) execLdc(cf *classfile.ClassFile, b []byte, pc int, op bytecode.Opcode, h codegen.Helpers, f *frame) error {
	var idx int
	if op == bytecode.Ldc {
		idx = int(b[pc+1])
	} else {
		idx = bytecode.U16At(b, pc+1)
	}
	switch e := cf.ConstantPool[idx].(type) {
	case *classfile.ConstantInteger:
		f.push(runtime.Int32(e.Value))
	case *classfile.ConstantFloat:
		f.push(runtime.Float32(e.Value))
	case *classfile.ConstantLong:
		f.push(runtime.Int64(e.Value))
	case *classfile.ConstantDouble:
		f.push(runtime.Float64(e.Value))
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(cf.ConstantPool, e.StringIndex)
		if err != nil {
			return err
		}
		stub, err := h.ResolveStub(mangle.StringGlobalSymbol(s).String())
		if err != nil {
			return err
		}
		v, err := stub(nil)
		if err != nil {
			return err
		}
		f.push(v)
	default:
		return fmt.Errorf("interp: ldc of unsupported constant pool entry at index %d", idx)
	}
	return nil
}

func (in *Interp) execFieldAccess(cf *classfile.ClassFile, b []byte, pc int, op bytecode.Opcode, h codegen.Helpers, f *frame) error {
	idx := bytecode.U16At(b, pc+1)
	ref, err := classfile.ResolveFieldref(cf.ConstantPool, uint16(idx))
	if err != nil {
		return err
	}
	ft, err := descriptor.ParseFieldType(ref.Descriptor)
	if err != nil {
		return err
	}
	sym := mangle.FieldAccessSymbol(ref.ClassName, ref.MemberName, ft).String()
	stub, err := h.ResolveStub(sym)
	if err != nil {
		return err
	}
	static := op == bytecode.Getstatic || op == bytecode.Putstatic
	isPut := op == bytecode.Putstatic || op == bytecode.Putfield

	if isPut {
		v := f.pop()
		args := []runtime.Value{v}
		if !static {
			objref := f.pop()
			if objref.IsNull() {
				return h.ThrowNew("java/lang/NullPointerException", "putfield")
			}
			args = []runtime.Value{objref, v}
		}
		_, err := stub(args)
		return err
	}

	var args []runtime.Value
	if !static {
		objref := f.pop()
		if objref.IsNull() {
			return h.ThrowNew("java/lang/NullPointerException", "getfield")
		}
		args = []runtime.Value{objref}
	}
	v, err := stub(args)
	if err != nil {
		return err
	}
	f.push(v)
	return nil
}

func (in *Interp) execInvoke(cf *classfile.ClassFile, b []byte, pc int, kind mangle.Kind, hasReceiver bool, h codegen.Helpers, f *frame) error {
	idx := bytecode.U16At(b, pc+1)
	var ref *classfile.MemberRefInfo
	var err error
	if kind == mangle.InterfaceCall {
		ref, err = classfile.ResolveInterfaceMethodref(cf.ConstantPool, uint16(idx))
	} else {
		ref, err = classfile.ResolveMethodref(cf.ConstantPool, uint16(idx))
	}
	if err != nil {
		return err
	}
	mt, err := descriptor.ParseMethodType(ref.Descriptor)
	if err != nil {
		return err
	}
	var sym string
	switch kind {
	case mangle.VirtualCall:
		sym = mangle.VirtualCallSymbol(ref.ClassName, ref.MemberName, mt).String()
	case mangle.InterfaceCall:
		sym = mangle.InterfaceCallSymbol(ref.ClassName, ref.MemberName, mt).String()
	case mangle.StaticCall:
		sym = mangle.StaticCallSymbol(ref.ClassName, ref.MemberName, mt).String()
	}
	return in.invokeThrough(sym, mt, hasReceiver, h, f)
}

func (in *Interp) execInvokeSpecial(cf *classfile.ClassFile, b []byte, pc int, h codegen.Helpers, f *frame) error {
	idx := bytecode.U16At(b, pc+1)
	ref, err := classfile.ResolveMethodref(cf.ConstantPool, uint16(idx))
	if err != nil {
		return err
	}
	mt, err := descriptor.ParseMethodType(ref.Descriptor)
	if err != nil {
		return err
	}
	thisClassName, err := cf.ClassName()
	if err != nil {
		return err
	}
	from := descriptor.ClassType(thisClassName)
	sym := mangle.SpecialCallSymbol(ref.ClassName, ref.MemberName, mt, &from).String()
	return in.invokeThrough(sym, mt, true, h, f)
}

func (in *Interp) invokeThrough(sym string, mt descriptor.MethodType, hasReceiver bool, h codegen.Helpers, f *frame) error {
	stub, err := h.ResolveStub(sym)
	if err != nil {
		return err
	}
	nparams := len(mt.Params)
	params := make([]runtime.Value, nparams)
	for i := nparams - 1; i >= 0; i-- {
		params[i] = f.pop()
	}
	args := make([]runtime.Value, 0, nparams+1)
	if hasReceiver {
		receiver := f.pop()
		if receiver.IsNull() {
			return h.ThrowNew("java/lang/NullPointerException", "invoke")
		}
		args = append(args, receiver)
	}
	args = append(args, params...)
	result, err := stub(args)
	if err != nil {
		return err
	}
	if mt.Return.Kind != descriptor.Void {
		f.push(result)
	}
	return nil
}

func (in *Interp) execWide(b []byte, pc int, f *frame) error {
	sub := b[pc+1]
	idx := bytecode.U16At(b, pc+2)
	switch sub {
	case bytecode.Iload, bytecode.Lload, bytecode.Fload, bytecode.Dload, bytecode.Aload:
		f.push(f.locals[idx])
	case bytecode.Istore, bytecode.Lstore, bytecode.Fstore, bytecode.Dstore, bytecode.Astore:
		f.locals[idx] = f.pop()
	case bytecode.Iinc:
		delta := int32(bytecode.I16At(b, pc+4))
		f.locals[idx] = runtime.Int32(f.locals[idx].I32 + delta)
	default:
		return fmt.Errorf("interp: unsupported wide sub-opcode 0x%02X", sub)
	}
	return nil
}

func (in *Interp) execMultianewarray(cf *classfile.ClassFile, b []byte, pc int, h codegen.Helpers, f *frame) error {
	idx := bytecode.U16At(b, pc+1)
	dims := int(b[pc+3])
	name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
	if err != nil {
		return err
	}
	arrType := classConstantToFieldType(name)
	counts := make([]int32, dims)
	for i := dims - 1; i >= 0; i-- {
		counts[i] = f.pop().I32
	}
	obj, err := buildMultiArray(h, arrType, counts)
	if err != nil {
		return err
	}
	f.push(runtime.Ref(obj))
	return nil
}

func buildMultiArray(h codegen.Helpers, arrType descriptor.FieldType, counts []int32) (*runtime.Object, error) {
	n := counts[0]
	if n < 0 {
		return nil, h.ThrowNew("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", n))
	}
	elemType := *arrType.Component
	obj, err := h.NewArray(elemType, n)
	if err != nil {
		return nil, err
	}
	if len(counts) > 1 {
		for i := int32(0); i < n; i++ {
			sub, err := buildMultiArray(h, elemType, counts[1:])
			if err != nil {
				return nil, err
			}
			obj.Elements[i] = runtime.Ref(sub)
		}
	}
	return obj, nil
}
