package codegen

import (
	"fmt"
	"math"
	"strings"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/mangle"
	"github.com/corejvm/tiervm/pkg/runtime"
)

// lowerInstruction decodes the single instruction at pc and returns a
// closure implementing its runtime effect. Cross-class references
// (get/put/invoke) are lowered to a mangled stub symbol computed once
// here and resolved through Helpers on every call — the same
// call-through indirection pkg/materialize installs behind every
// trampoline, so a JIT-compiled block never hand-rolls linkage itself.
func lowerInstruction(cf *classfile.ClassFile, b []byte, pc int, op bytecode.Opcode) (instrFn, error) {
	fallThrough := func(f *Frame) (ctrl, error) { return ctrl{kind: ctrlFallThrough}, nil }
	jumpTo := func(target int) instrFn {
		return func(f *Frame, h Helpers) (ctrl, error) { return ctrl{kind: ctrlJump, target: target}, nil }
	}

	switch op {
	case bytecode.Nop:
		return func(f *Frame, h Helpers) (ctrl, error) { return fallThrough(f) }, nil

	case bytecode.AconstNull:
		return pushConst(runtime.Null()), nil
	case bytecode.IconstM1:
		return pushConst(runtime.Int32(-1)), nil
	case bytecode.Iconst0, bytecode.Iconst1, bytecode.Iconst2, bytecode.Iconst3, bytecode.Iconst4, bytecode.Iconst5:
		return pushConst(runtime.Int32(int32(op - bytecode.Iconst0))), nil
	case bytecode.Lconst0, bytecode.Lconst1:
		return pushConst(runtime.Int64(int64(op - bytecode.Lconst0))), nil
	case bytecode.Fconst0, bytecode.Fconst1, bytecode.Fconst2:
		return pushConst(runtime.Float32(float32(op - bytecode.Fconst0))), nil
	case bytecode.Dconst0, bytecode.Dconst1:
		return pushConst(runtime.Float64(float64(op - bytecode.Dconst0))), nil
	case bytecode.Bipush:
		v := int32(int8(b[pc+1]))
		return pushConst(runtime.Int32(v)), nil
	case bytecode.Sipush:
		v := int32(bytecode.I16At(b, pc+1))
		return pushConst(runtime.Int32(v)), nil

	case bytecode.Ldc, bytecode.LdcW, bytecode.Ldc2W:
		return lowerLdc(cf, b, pc, op)

	case bytecode.Iload, bytecode.Lload, bytecode.Fload, bytecode.Dload, bytecode.Aload:
		idx := int(b[pc+1])
		return loadLocal(idx), nil
	case bytecode.Iload0, bytecode.Iload1, bytecode.Iload2, bytecode.Iload3:
		return loadLocal(int(op - bytecode.Iload0)), nil
	case bytecode.Lload0, bytecode.Lload1, bytecode.Lload2, bytecode.Lload3:
		return loadLocal(int(op - bytecode.Lload0)), nil
	case bytecode.Fload0, bytecode.Fload1, bytecode.Fload2, bytecode.Fload3:
		return loadLocal(int(op - bytecode.Fload0)), nil
	case bytecode.Dload0, bytecode.Dload1, bytecode.Dload2, bytecode.Dload3:
		return loadLocal(int(op - bytecode.Dload0)), nil
	case bytecode.Aload0, bytecode.Aload1, bytecode.Aload2, bytecode.Aload3:
		return loadLocal(int(op - bytecode.Aload0)), nil

	case bytecode.Istore, bytecode.Lstore, bytecode.Fstore, bytecode.Dstore, bytecode.Astore:
		idx := int(b[pc+1])
		return storeLocal(idx), nil
	case bytecode.Istore0, bytecode.Istore1, bytecode.Istore2, bytecode.Istore3:
		return storeLocal(int(op - bytecode.Istore0)), nil
	case bytecode.Lstore0, bytecode.Lstore1, bytecode.Lstore2, bytecode.Lstore3:
		return storeLocal(int(op - bytecode.Lstore0)), nil
	case bytecode.Fstore0, bytecode.Fstore1, bytecode.Fstore2, bytecode.Fstore3:
		return storeLocal(int(op - bytecode.Fstore0)), nil
	case bytecode.Dstore0, bytecode.Dstore1, bytecode.Dstore2, bytecode.Dstore3:
		return storeLocal(int(op - bytecode.Dstore0)), nil
	case bytecode.Astore0, bytecode.Astore1, bytecode.Astore2, bytecode.Astore3:
		return storeLocal(int(op - bytecode.Astore0)), nil

	case bytecode.Iaload, bytecode.Laload, bytecode.Faload, bytecode.Daload, bytecode.Aaload,
		bytecode.Baload, bytecode.Caload, bytecode.Saload:
		return arrayLoad(), nil
	case bytecode.Iastore, bytecode.Lastore, bytecode.Fastore, bytecode.Dastore, bytecode.Aastore,
		bytecode.Bastore, bytecode.Castore, bytecode.Sastore:
		return arrayStore(), nil
	case bytecode.Arraylength:
		return func(f *Frame, h Helpers) (ctrl, error) {
			arr := f.pop()
			if arr.IsNull() {
				return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "arraylength")
			}
			f.push(runtime.Int32(int32(arr.Ref.Length())))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.Pop:
		return func(f *Frame, h Helpers) (ctrl, error) { f.pop(); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.Pop2:
		return func(f *Frame, h Helpers) (ctrl, error) { f.pop(); f.pop(); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.Dup:
		return func(f *Frame, h Helpers) (ctrl, error) { v := f.pop(); f.push(v); f.push(v); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.DupX1:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v1, v2 := f.pop(), f.pop()
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.DupX2:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v1, v2, v3 := f.pop(), f.pop(), f.pop()
			f.push(v1)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Dup2:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v1, v2 := f.pop(), f.pop()
			f.push(v2)
			f.push(v1)
			f.push(v2)
			f.push(v1)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Dup2X1:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v1, v2, v3 := f.pop(), f.pop(), f.pop()
			f.push(v2)
			f.push(v1)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Dup2X2:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v1, v2, v3, v4 := f.pop(), f.pop(), f.pop(), f.pop()
			f.push(v2)
			f.push(v1)
			f.push(v4)
			f.push(v3)
			f.push(v2)
			f.push(v1)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Swap:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v1, v2 := f.pop(), f.pop()
			f.push(v1)
			f.push(v2)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.Iadd:
		return intBinOp(func(a, b int32) int32 { return a + b }), nil
	case bytecode.Isub:
		return intBinOp(func(a, b int32) int32 { return a - b }), nil
	case bytecode.Imul:
		return intBinOp(func(a, b int32) int32 { return a * b }), nil
	case bytecode.Idiv:
		return intDivOp(false), nil
	case bytecode.Irem:
		return intDivOp(true), nil
	case bytecode.Ineg:
		return intUnOp(func(a int32) int32 { return -a }), nil
	case bytecode.Iand:
		return intBinOp(func(a, b int32) int32 { return a & b }), nil
	case bytecode.Ior:
		return intBinOp(func(a, b int32) int32 { return a | b }), nil
	case bytecode.Ixor:
		return intBinOp(func(a, b int32) int32 { return a ^ b }), nil
	case bytecode.Ishl:
		return intBinOp(func(a, b int32) int32 { return a << (uint32(b) & 0x1F) }), nil
	case bytecode.Ishr:
		return intBinOp(func(a, b int32) int32 { return a >> (uint32(b) & 0x1F) }), nil
	case bytecode.Iushr:
		return intBinOp(func(a, b int32) int32 { return int32(uint32(a) >> (uint32(b) & 0x1F)) }), nil

	case bytecode.Ladd:
		return longBinOp(func(a, b int64) int64 { return a + b }), nil
	case bytecode.Lsub:
		return longBinOp(func(a, b int64) int64 { return a - b }), nil
	case bytecode.Lmul:
		return longBinOp(func(a, b int64) int64 { return a * b }), nil
	case bytecode.Ldiv:
		return longDivOp(false), nil
	case bytecode.Lrem:
		return longDivOp(true), nil
	case bytecode.Lneg:
		return longUnOp(func(a int64) int64 { return -a }), nil
	case bytecode.Land:
		return longBinOp(func(a, b int64) int64 { return a & b }), nil
	case bytecode.Lor:
		return longBinOp(func(a, b int64) int64 { return a | b }), nil
	case bytecode.Lxor:
		return longBinOp(func(a, b int64) int64 { return a ^ b }), nil
	case bytecode.Lshl:
		return func(f *Frame, h Helpers) (ctrl, error) {
			amt := f.pop().I32
			v := f.pop().I64
			f.push(runtime.Int64(v << (uint64(amt) & 0x3F)))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Lshr:
		return func(f *Frame, h Helpers) (ctrl, error) {
			amt := f.pop().I32
			v := f.pop().I64
			f.push(runtime.Int64(v >> (uint64(amt) & 0x3F)))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Lushr:
		return func(f *Frame, h Helpers) (ctrl, error) {
			amt := f.pop().I32
			v := f.pop().I64
			f.push(runtime.Int64(int64(uint64(v) >> (uint64(amt) & 0x3F))))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.Fadd:
		return floatBinOp(func(a, b float32) float32 { return a + b }), nil
	case bytecode.Fsub:
		return floatBinOp(func(a, b float32) float32 { return a - b }), nil
	case bytecode.Fmul:
		return floatBinOp(func(a, b float32) float32 { return a * b }), nil
	case bytecode.Fdiv:
		return floatBinOp(func(a, b float32) float32 { return a / b }), nil
	case bytecode.Frem:
		return floatBinOp(func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) }), nil
	case bytecode.Fneg:
		return floatUnOp(func(a float32) float32 { return -a }), nil

	case bytecode.Dadd:
		return doubleBinOp(func(a, b float64) float64 { return a + b }), nil
	case bytecode.Dsub:
		return doubleBinOp(func(a, b float64) float64 { return a - b }), nil
	case bytecode.Dmul:
		return doubleBinOp(func(a, b float64) float64 { return a * b }), nil
	case bytecode.Ddiv:
		return doubleBinOp(func(a, b float64) float64 { return a / b }), nil
	case bytecode.Drem:
		return doubleBinOp(math.Mod), nil
	case bytecode.Dneg:
		return doubleUnOp(func(a float64) float64 { return -a }), nil

	case bytecode.Iinc:
		idx := int(b[pc+1])
		delta := int32(int8(b[pc+2]))
		return func(f *Frame, h Helpers) (ctrl, error) {
			f.Locals[idx] = runtime.Int32(f.Locals[idx].I32 + delta)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.I2l:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int64(int64(f.pop().I32))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.I2f:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float32(float32(f.pop().I32))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.I2d:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float64(float64(f.pop().I32))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.L2i:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(int32(f.pop().I64))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.L2f:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float32(float32(f.pop().I64))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.L2d:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float64(float64(f.pop().I64))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.F2i:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(truncToInt32(float64(f.pop().F32)))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.F2l:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int64(truncToInt64(float64(f.pop().F32)))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.F2d:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float64(float64(f.pop().F32))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.D2i:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(truncToInt32(f.pop().F64))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.D2l:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int64(truncToInt64(f.pop().F64))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.D2f:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float32(float32(f.pop().F64))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.I2b:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(int32(int8(f.pop().I32)))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.I2c:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(int32(uint16(f.pop().I32)))); return ctrl{kind: ctrlFallThrough}, nil }, nil
	case bytecode.I2s:
		return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(int32(int16(f.pop().I32)))); return ctrl{kind: ctrlFallThrough}, nil }, nil

	case bytecode.Lcmp:
		return func(f *Frame, h Helpers) (ctrl, error) {
			r := f.pop().I64
			l := f.pop().I64
			f.push(runtime.Int32(cmp64(l, r)))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Fcmpl, bytecode.Fcmpg:
		nanResult := int32(1)
		if op == bytecode.Fcmpl {
			nanResult = -1
		}
		return func(f *Frame, h Helpers) (ctrl, error) {
			r := f.pop().F32
			l := f.pop().F32
			f.push(runtime.Int32(fcmp(float64(l), float64(r), nanResult)))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Dcmpl, bytecode.Dcmpg:
		nanResult := int32(1)
		if op == bytecode.Dcmpl {
			nanResult = -1
		}
		return func(f *Frame, h Helpers) (ctrl, error) {
			r := f.pop().F64
			l := f.pop().F64
			f.push(runtime.Int32(fcmp(l, r, nanResult)))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.Ifeq:
		return condBranch1(pc, b, func(v int32) bool { return v == 0 }), nil
	case bytecode.Ifne:
		return condBranch1(pc, b, func(v int32) bool { return v != 0 }), nil
	case bytecode.Iflt:
		return condBranch1(pc, b, func(v int32) bool { return v < 0 }), nil
	case bytecode.Ifge:
		return condBranch1(pc, b, func(v int32) bool { return v >= 0 }), nil
	case bytecode.Ifgt:
		return condBranch1(pc, b, func(v int32) bool { return v > 0 }), nil
	case bytecode.Ifle:
		return condBranch1(pc, b, func(v int32) bool { return v <= 0 }), nil
	case bytecode.IfIcmpeq:
		return condBranch2(pc, b, func(a, c int32) bool { return a == c }), nil
	case bytecode.IfIcmpne:
		return condBranch2(pc, b, func(a, c int32) bool { return a != c }), nil
	case bytecode.IfIcmplt:
		return condBranch2(pc, b, func(a, c int32) bool { return a < c }), nil
	case bytecode.IfIcmpge:
		return condBranch2(pc, b, func(a, c int32) bool { return a >= c }), nil
	case bytecode.IfIcmpgt:
		return condBranch2(pc, b, func(a, c int32) bool { return a > c }), nil
	case bytecode.IfIcmple:
		return condBranch2(pc, b, func(a, c int32) bool { return a <= c }), nil
	case bytecode.IfAcmpeq:
		return condBranchRef(pc, b, func(eq bool) bool { return eq }), nil
	case bytecode.IfAcmpne:
		return condBranchRef(pc, b, func(eq bool) bool { return !eq }), nil
	case bytecode.Ifnull:
		target := pc + bytecode.I16At(b, pc+1)
		next := pc + bytecode.InstructionLength(b, pc)
		return func(f *Frame, h Helpers) (ctrl, error) {
			if f.pop().IsNull() {
				return ctrl{kind: ctrlJump, target: target}, nil
			}
			return ctrl{kind: ctrlJump, target: next}, nil
		}, nil
	case bytecode.Ifnonnull:
		target := pc + bytecode.I16At(b, pc+1)
		next := pc + bytecode.InstructionLength(b, pc)
		return func(f *Frame, h Helpers) (ctrl, error) {
			if !f.pop().IsNull() {
				return ctrl{kind: ctrlJump, target: target}, nil
			}
			return ctrl{kind: ctrlJump, target: next}, nil
		}, nil
	case bytecode.Goto:
		return jumpTo(pc + bytecode.I16At(b, pc+1)), nil
	case bytecode.GotoW:
		return jumpTo(pc + int(bytecode.I32At(b, pc+1))), nil

	case bytecode.Ireturn, bytecode.Freturn, bytecode.Lreturn, bytecode.Dreturn, bytecode.Areturn:
		return func(f *Frame, h Helpers) (ctrl, error) { return ctrl{kind: ctrlReturn, result: f.pop()}, nil }, nil
	case bytecode.Return:
		return func(f *Frame, h Helpers) (ctrl, error) { return ctrl{kind: ctrlReturn}, nil }, nil
	case bytecode.Athrow:
		return func(f *Frame, h Helpers) (ctrl, error) {
			v := f.pop()
			if v.IsNull() {
				return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "athrow")
			}
			return ctrl{}, h.Throw(v.Ref)
		}, nil

	case bytecode.Getstatic, bytecode.Putstatic, bytecode.Getfield, bytecode.Putfield:
		return lowerFieldAccess(cf, b, pc, op)
	case bytecode.Invokevirtual:
		return lowerInvoke(cf, b, pc, mangle.VirtualCall, true)
	case bytecode.Invokestatic:
		return lowerInvoke(cf, b, pc, mangle.StaticCall, false)
	case bytecode.Invokespecial:
		return lowerInvokeSpecial(cf, b, pc)
	case bytecode.Invokeinterface:
		return lowerInvoke(cf, b, pc, mangle.InterfaceCall, true)
	case bytecode.Invokedynamic:
		return nil, fmt.Errorf("invokedynamic is not supported")

	case bytecode.New:
		idx := bytecode.U16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return nil, err
		}
		return func(f *Frame, h Helpers) (ctrl, error) {
			obj, err := h.NewObject(name)
			if err != nil {
				return ctrl{}, err
			}
			f.push(runtime.Ref(obj))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Anewarray:
		idx := bytecode.U16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return nil, err
		}
		elemType := classConstantToFieldType(name)
		return func(f *Frame, h Helpers) (ctrl, error) {
			n := f.pop().I32
			if n < 0 {
				return ctrl{}, h.ThrowNew("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", n))
			}
			obj, err := h.NewArray(elemType, n)
			if err != nil {
				return ctrl{}, err
			}
			f.push(runtime.Ref(obj))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Newarray:
		elemType := primitiveArrayType(b[pc+1])
		return func(f *Frame, h Helpers) (ctrl, error) {
			n := f.pop().I32
			if n < 0 {
				return ctrl{}, h.ThrowNew("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", n))
			}
			obj, err := h.NewArray(elemType, n)
			if err != nil {
				return ctrl{}, err
			}
			f.push(runtime.Ref(obj))
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	case bytecode.Checkcast, bytecode.Instanceof:
		idx := bytecode.U16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return nil, err
		}
		isCast := op == bytecode.Checkcast
		return func(f *Frame, h Helpers) (ctrl, error) {
			v := f.pop()
			if v.IsNull() {
				if isCast {
					f.push(v)
					return ctrl{kind: ctrlFallThrough}, nil
				}
				f.push(runtime.Int32(0))
				return ctrl{kind: ctrlFallThrough}, nil
			}
			is, err := h.IsInstance(v.Ref.Class, name)
			if err != nil {
				return ctrl{}, err
			}
			if isCast {
				if !is {
					return ctrl{}, h.ThrowNew("java/lang/ClassCastException", fmt.Sprintf("%s is not a %s", v.Ref.Class.Name, name))
				}
				f.push(v)
			} else {
				f.push(runtime.Int32(boolToInt(is)))
			}
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.Monitorenter, bytecode.Monitorexit:
		// Single-threaded cooperative model: monitors are a pop-only
		// null check, no locking performed.
		return func(f *Frame, h Helpers) (ctrl, error) {
			v := f.pop()
			if v.IsNull() {
				return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "monitor")
			}
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil

	case bytecode.Tableswitch:
		return lowerTableswitch(b, pc), nil
	case bytecode.Lookupswitch:
		return lowerLookupswitch(b, pc), nil

	case bytecode.Ret:
		idx := int(b[pc+1])
		return func(f *Frame, h Helpers) (ctrl, error) {
			return ctrl{kind: ctrlJump, target: f.Locals[idx].RetAddr}, nil
		}, nil

	case bytecode.Wide:
		return lowerWide(b, pc)

	case bytecode.Multianewarray:
		return lowerMultianewarray(cf, b, pc)
	case bytecode.Jsr:
		target := pc + bytecode.I16At(b, pc+1)
		next := pc + bytecode.InstructionLength(b, pc)
		return func(f *Frame, h Helpers) (ctrl, error) {
			f.push(runtime.ReturnAddress(next))
			return ctrl{kind: ctrlJump, target: target}, nil
		}, nil
	case bytecode.JsrW:
		target := pc + int(bytecode.I32At(b, pc+1))
		next := pc + bytecode.InstructionLength(b, pc)
		return func(f *Frame, h Helpers) (ctrl, error) {
			f.push(runtime.ReturnAddress(next))
			return ctrl{kind: ctrlJump, target: target}, nil
		}, nil

	default:
		return nil, fmt.Errorf("codegen: unhandled opcode 0x%02X", op)
	}
}

func pushConst(v runtime.Value) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.push(v); return ctrl{kind: ctrlFallThrough}, nil }
}

func loadLocal(idx int) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.push(f.Locals[idx]); return ctrl{kind: ctrlFallThrough}, nil }
}

func storeLocal(idx int) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.Locals[idx] = f.pop(); return ctrl{kind: ctrlFallThrough}, nil }
}

func arrayLoad() instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		idx := f.pop().I32
		arr := f.pop()
		if arr.IsNull() {
			return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "array load")
		}
		if idx < 0 || int(idx) >= arr.Ref.Length() {
			return ctrl{}, h.ThrowNew("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("index %d, length %d", idx, arr.Ref.Length()))
		}
		f.push(arr.Ref.Elements[idx])
		return ctrl{kind: ctrlFallThrough}, nil
	}
}

func arrayStore() instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		v := f.pop()
		idx := f.pop().I32
		arr := f.pop()
		if arr.IsNull() {
			return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "array store")
		}
		if idx < 0 || int(idx) >= arr.Ref.Length() {
			return ctrl{}, h.ThrowNew("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("index %d, length %d", idx, arr.Ref.Length()))
		}
		arr.Ref.Elements[idx] = v
		return ctrl{kind: ctrlFallThrough}, nil
	}
}

func intBinOp(f2 func(a, b int32) int32) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().I32
		l := f.pop().I32
		f.push(runtime.Int32(f2(l, r)))
		return ctrl{kind: ctrlFallThrough}, nil
	}
}
func intUnOp(f1 func(a int32) int32) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int32(f1(f.pop().I32))); return ctrl{kind: ctrlFallThrough}, nil }
}
func intDivOp(rem bool) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().I32
		l := f.pop().I32
		if r == 0 {
			return ctrl{}, h.ThrowNew("java/lang/ArithmeticException", "/ by zero")
		}
		if rem {
			f.push(runtime.Int32(l % r))
		} else {
			f.push(runtime.Int32(l / r))
		}
		return ctrl{kind: ctrlFallThrough}, nil
	}
}
func longBinOp(f2 func(a, b int64) int64) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().I64
		l := f.pop().I64
		f.push(runtime.Int64(f2(l, r)))
		return ctrl{kind: ctrlFallThrough}, nil
	}
}
func longUnOp(f1 func(a int64) int64) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Int64(f1(f.pop().I64))); return ctrl{kind: ctrlFallThrough}, nil }
}
func longDivOp(rem bool) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().I64
		l := f.pop().I64
		if r == 0 {
			return ctrl{}, h.ThrowNew("java/lang/ArithmeticException", "/ by zero")
		}
		if rem {
			f.push(runtime.Int64(l % r))
		} else {
			f.push(runtime.Int64(l / r))
		}
		return ctrl{kind: ctrlFallThrough}, nil
	}
}
func floatBinOp(f2 func(a, b float32) float32) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().F32
		l := f.pop().F32
		f.push(runtime.Float32(f2(l, r)))
		return ctrl{kind: ctrlFallThrough}, nil
	}
}
func floatUnOp(f1 func(a float32) float32) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float32(f1(f.pop().F32))); return ctrl{kind: ctrlFallThrough}, nil }
}
func doubleBinOp(f2 func(a, b float64) float64) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().F64
		l := f.pop().F64
		f.push(runtime.Float64(f2(l, r)))
		return ctrl{kind: ctrlFallThrough}, nil
	}
}
func doubleUnOp(f1 func(a float64) float64) instrFn {
	return func(f *Frame, h Helpers) (ctrl, error) { f.push(runtime.Float64(f1(f.pop().F64))); return ctrl{kind: ctrlFallThrough}, nil }
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

// fcmp implements fcmpg/fcmpl and dcmpg/dcmpl: ordinary three-way
// comparison, except a NaN operand forces the NaN-biased result
// (JVMS 6.5.fcmp<op>) rather than comparing as equal the way Go's <,
// > operators would silently treat it.
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

func condBranch1(pc int, b []byte, pred func(int32) bool) instrFn {
	target := pc + bytecode.I16At(b, pc+1)
	next := pc + bytecode.InstructionLength(b, pc)
	return func(f *Frame, h Helpers) (ctrl, error) {
		v := f.pop().I32
		if pred(v) {
			return ctrl{kind: ctrlJump, target: target}, nil
		}
		return ctrl{kind: ctrlJump, target: next}, nil
	}
}

func condBranch2(pc int, b []byte, pred func(a, c int32) bool) instrFn {
	target := pc + bytecode.I16At(b, pc+1)
	next := pc + bytecode.InstructionLength(b, pc)
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop().I32
		l := f.pop().I32
		if pred(l, r) {
			return ctrl{kind: ctrlJump, target: target}, nil
		}
		return ctrl{kind: ctrlJump, target: next}, nil
	}
}

// condBranchRef lowers if_acmpeq/if_acmpne: pred receives whether the
// two popped references are identical and returns whether to branch,
// so one helper expresses both "branch if equal" and "branch if not
// equal".
func condBranchRef(pc int, b []byte, pred func(eq bool) bool) instrFn {
	target := pc + bytecode.I16At(b, pc+1)
	next := pc + bytecode.InstructionLength(b, pc)
	return func(f *Frame, h Helpers) (ctrl, error) {
		r := f.pop()
		l := f.pop()
		if pred(identical(l, r)) {
			return ctrl{kind: ctrlJump, target: target}, nil
		}
		return ctrl{kind: ctrlJump, target: next}, nil
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

// classConstantToFieldType interprets a CONSTANT_Class name the way
// anewarray/multianewarray need: a plain binary class name becomes a
// reference FieldType, but when the component itself is an array type
// the JVM stores the array descriptor ("[I", "[Ljava/lang/String;")
// as the "name" instead, so that form is parsed as a descriptor.
func classConstantToFieldType(name string) descriptor.FieldType {
	if strings.HasPrefix(name, "[") {
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

func lowerLdc(cf *classfile.ClassFile, b []byte, pc int, op bytecode.Opcode) (instrFn, error) {
	var idx int
	if op == bytecode.Ldc {
		idx = int(b[pc+1])
	} else {
		idx = bytecode.U16At(b, pc+1)
	}
	entry := cf.ConstantPool[idx]
	switch e := entry.(type) {
	case *classfile.ConstantInteger:
		return pushConst(runtime.Int32(e.Value)), nil
	case *classfile.ConstantFloat:
		return pushConst(runtime.Float32(e.Value)), nil
	case *classfile.ConstantLong:
		return pushConst(runtime.Int64(e.Value)), nil
	case *classfile.ConstantDouble:
		return pushConst(runtime.Float64(e.Value)), nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(cf.ConstantPool, e.StringIndex)
		if err != nil {
			return nil, err
		}
		sym := mangle.StringGlobalSymbol(s).String()
		return func(f *Frame, h Helpers) (ctrl, error) {
			stub, err := h.ResolveStub(sym)
			if err != nil {
				return ctrl{}, err
			}
			v, err := stub(nil)
			if err != nil {
				return ctrl{}, err
			}
			f.push(v)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	default:
		return nil, fmt.Errorf("ldc of unsupported constant pool entry at index %d", idx)
	}
}

func lowerFieldAccess(cf *classfile.ClassFile, b []byte, pc int, op bytecode.Opcode) (instrFn, error) {
	idx := bytecode.U16At(b, pc+1)
	ref, err := classfile.ResolveFieldref(cf.ConstantPool, uint16(idx))
	if err != nil {
		return nil, err
	}
	ft, err := descriptor.ParseFieldType(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	sym := mangle.FieldAccessSymbol(ref.ClassName, ref.MemberName, ft).String()
	static := op == bytecode.Getstatic || op == bytecode.Putstatic
	isPut := op == bytecode.Putstatic || op == bytecode.Putfield

	return func(f *Frame, h Helpers) (ctrl, error) {
		stub, err := h.ResolveStub(sym)
		if err != nil {
			return ctrl{}, err
		}
		if isPut {
			v := f.pop()
			var objref runtime.Value
			if !static {
				objref = f.pop()
				if objref.IsNull() {
					return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "putfield")
				}
			}
			args := []runtime.Value{v}
			if !static {
				args = []runtime.Value{objref, v}
			}
			if _, err := stub(args); err != nil {
				return ctrl{}, err
			}
			return ctrl{kind: ctrlFallThrough}, nil
		}

		var args []runtime.Value
		if !static {
			objref := f.pop()
			if objref.IsNull() {
				return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "getfield")
			}
			args = []runtime.Value{objref}
		}
		v, err := stub(args)
		if err != nil {
			return ctrl{}, err
		}
		f.push(v)
		return ctrl{kind: ctrlFallThrough}, nil
	}, nil
}

func lowerInvoke(cf *classfile.ClassFile, b []byte, pc int, kind mangle.Kind, hasReceiver bool) (instrFn, error) {
	idx := bytecode.U16At(b, pc+1)
	var ref *classfile.MemberRefInfo
	var err error
	if kind == mangle.InterfaceCall {
		ref, err = classfile.ResolveInterfaceMethodref(cf.ConstantPool, uint16(idx))
	} else {
		ref, err = classfile.ResolveMethodref(cf.ConstantPool, uint16(idx))
	}
	if err != nil {
		return nil, err
	}
	mt, err := descriptor.ParseMethodType(ref.Descriptor)
	if err != nil {
		return nil, err
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
	return buildInvokeClosure(sym, mt, hasReceiver), nil
}

func lowerInvokeSpecial(cf *classfile.ClassFile, b []byte, pc int) (instrFn, error) {
	idx := bytecode.U16At(b, pc+1)
	ref, err := classfile.ResolveMethodref(cf.ConstantPool, uint16(idx))
	if err != nil {
		return nil, err
	}
	mt, err := descriptor.ParseMethodType(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	thisClassName, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	from := descriptor.ClassType(thisClassName)
	sym := mangle.SpecialCallSymbol(ref.ClassName, ref.MemberName, mt, &from).String()
	return buildInvokeClosure(sym, mt, true), nil
}

func buildInvokeClosure(sym string, mt descriptor.MethodType, hasReceiver bool) instrFn {
	nparams := len(mt.Params)
	return func(f *Frame, h Helpers) (ctrl, error) {
		stub, err := h.ResolveStub(sym)
		if err != nil {
			return ctrl{}, err
		}
		args := make([]runtime.Value, 0, nparams+1)
		params := make([]runtime.Value, nparams)
		for i := nparams - 1; i >= 0; i-- {
			params[i] = f.pop()
		}
		var receiver runtime.Value
		if hasReceiver {
			receiver = f.pop()
			if receiver.IsNull() {
				return ctrl{}, h.ThrowNew("java/lang/NullPointerException", "invoke")
			}
			args = append(args, receiver)
		}
		args = append(args, params...)
		result, err := stub(args)
		if err != nil {
			return ctrl{}, err
		}
		if mt.Return.Kind != descriptor.Void {
			f.push(result)
		}
		return ctrl{kind: ctrlFallThrough}, nil
	}
}

// lowerWide handles the wide-prefixed load/store/ret/iinc forms. javac
// never emits wide ret, so that branch is present for completeness
// but untested against real class files.
func lowerWide(b []byte, pc int) (instrFn, error) {
	sub := b[pc+1]
	idx := bytecode.U16At(b, pc+2)
	switch sub {
	case bytecode.Iload, bytecode.Lload, bytecode.Fload, bytecode.Dload, bytecode.Aload:
		return loadLocal(idx), nil
	case bytecode.Istore, bytecode.Lstore, bytecode.Fstore, bytecode.Dstore, bytecode.Astore:
		return storeLocal(idx), nil
	case bytecode.Ret:
		return func(f *Frame, h Helpers) (ctrl, error) {
			return ctrl{kind: ctrlJump, target: f.Locals[idx].RetAddr}, nil
		}, nil
	case bytecode.Iinc:
		delta := int32(bytecode.I16At(b, pc+4))
		return func(f *Frame, h Helpers) (ctrl, error) {
			f.Locals[idx] = runtime.Int32(f.Locals[idx].I32 + delta)
			return ctrl{kind: ctrlFallThrough}, nil
		}, nil
	default:
		return nil, fmt.Errorf("codegen: unsupported wide sub-opcode 0x%02X", sub)
	}
}

func lowerMultianewarray(cf *classfile.ClassFile, b []byte, pc int) (instrFn, error) {
	idx := bytecode.U16At(b, pc+1)
	dims := int(b[pc+3])
	name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
	if err != nil {
		return nil, err
	}
	arrType := classConstantToFieldType(name)
	return func(f *Frame, h Helpers) (ctrl, error) {
		counts := make([]int32, dims)
		for i := dims - 1; i >= 0; i-- {
			counts[i] = f.pop().I32
		}
		obj, err := buildMultiArray(h, arrType, counts)
		if err != nil {
			return ctrl{}, err
		}
		f.push(runtime.Ref(obj))
		return ctrl{kind: ctrlFallThrough}, nil
	}, nil
}

func buildMultiArray(h Helpers, arrType descriptor.FieldType, counts []int32) (*runtime.Object, error) {
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

func lowerTableswitch(b []byte, pc int) instrFn {
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
	n := int(high - low + 1)
	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		offsets[i] = int(bytecode.I32At(b, p))
		p += 4
	}
	return func(f *Frame, h Helpers) (ctrl, error) {
		v := f.pop().I32
		if v < low || v > high {
			return ctrl{kind: ctrlJump, target: base + defaultOff}, nil
		}
		return ctrl{kind: ctrlJump, target: base + offsets[v-low]}, nil
	}
}

func lowerLookupswitch(b []byte, pc int) instrFn {
	base := pc
	p := pc + 1
	for (p-base)%4 != 0 {
		p++
	}
	defaultOff := int(bytecode.I32At(b, p))
	p += 4
	n := int(bytecode.I32At(b, p))
	p += 4
	matches := make([]int32, n)
	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		matches[i] = bytecode.I32At(b, p)
		p += 4
		offsets[i] = int(bytecode.I32At(b, p))
		p += 4
	}
	return func(f *Frame, h Helpers) (ctrl, error) {
		v := f.pop().I32
		for i, m := range matches {
			if m == v {
				return ctrl{kind: ctrlJump, target: base + offsets[i]}, nil
			}
		}
		return ctrl{kind: ctrlJump, target: base + defaultOff}, nil
	}
}
