package typecheck

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

func u16At(code []byte, pc int) int   { return bytecode.U16At(code, pc) }
func i16At(code []byte, pc int) int   { return bytecode.I16At(code, pc) }
func int32At(code []byte, at int) int32 { return bytecode.I32At(code, at) }

// instructionLength is a thin alias kept local to this package's call
// sites; the decode logic itself lives in pkg/bytecode so codegen's
// lowering pass can never disagree with the type checker about
// instruction boundaries.
func instructionLength(code []byte, pc int) int { return bytecode.InstructionLength(code, pc) }

// effect simulates one instruction's effect on the type state,
// returning the resulting state and, for branch/jsr opcodes, the
// resolved jump target.
func effect(cf *classfile.ClassFile, code *classfile.CodeAttribute, b []byte, pc int, op bytecode.Opcode, s State) (State, branchTarget, error) {
	pop := func(st State) (State, VType) { return st.pop() }
	push := func(st State, v VType) State { return st.push(v) }
	pop2 := func(st State) State { st, _ = pop(st); st, _ = pop(st); return st }

	switch op {
	case bytecode.Nop:
		return s, branchTarget{}, nil
	case bytecode.AconstNull:
		return push(s, Ref("")), branchTarget{}, nil
	case bytecode.IconstM1, bytecode.Iconst0, bytecode.Iconst1, bytecode.Iconst2, bytecode.Iconst3, bytecode.Iconst4, bytecode.Iconst5, bytecode.Bipush, bytecode.Sipush:
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Lconst0, bytecode.Lconst1:
		return push(s, TLong), branchTarget{}, nil
	case bytecode.Fconst0, bytecode.Fconst1, bytecode.Fconst2:
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.Dconst0, bytecode.Dconst1:
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.Ldc, bytecode.LdcW, bytecode.Ldc2W:
		return ldcEffect(cf, b, pc, op, s)

	case bytecode.Iload, bytecode.Iload0, bytecode.Iload1, bytecode.Iload2, bytecode.Iload3:
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Lload, bytecode.Lload0, bytecode.Lload1, bytecode.Lload2, bytecode.Lload3:
		return push(s, TLong), branchTarget{}, nil
	case bytecode.Fload, bytecode.Fload0, bytecode.Fload1, bytecode.Fload2, bytecode.Fload3:
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.Dload, bytecode.Dload0, bytecode.Dload1, bytecode.Dload2, bytecode.Dload3:
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.Aload, bytecode.Aload0, bytecode.Aload1, bytecode.Aload2, bytecode.Aload3:
		idx := localIndex(b, pc, op, bytecode.Aload, bytecode.Aload0)
		return push(s, s.getLocal(idx)), branchTarget{}, nil

	case bytecode.Iaload, bytecode.Baload, bytecode.Caload, bytecode.Saload:
		s, _ = pop(s) // index
		s, _ = pop(s) // arrayref
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Laload:
		s = pop2(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.Faload:
		s = pop2(s)
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.Daload:
		s = pop2(s)
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.Aaload:
		s, _ = pop(s)
		s, arr := pop(s)
		elem := ""
		if arr.Kind == VRef && len(arr.ClassName) > 0 && arr.ClassName[0] == '[' {
			if ft, err := descriptor.ParseFieldType(arr.ClassName); err == nil && ft.Component != nil {
				elem = ft.Component.String()
			}
		}
		return push(s, Ref(elem)), branchTarget{}, nil

	case bytecode.Istore, bytecode.Istore0, bytecode.Istore1, bytecode.Istore2, bytecode.Istore3:
		idx := localIndex(b, pc, op, bytecode.Istore, bytecode.Istore0)
		s, _ = pop(s)
		return s.setLocal(idx, TInt), branchTarget{}, nil
	case bytecode.Lstore, bytecode.Lstore0, bytecode.Lstore1, bytecode.Lstore2, bytecode.Lstore3:
		idx := localIndex(b, pc, op, bytecode.Lstore, bytecode.Lstore0)
		s = pop2(s)
		return s.setLocal(idx, TLong), branchTarget{}, nil
	case bytecode.Fstore, bytecode.Fstore0, bytecode.Fstore1, bytecode.Fstore2, bytecode.Fstore3:
		idx := localIndex(b, pc, op, bytecode.Fstore, bytecode.Fstore0)
		s, _ = pop(s)
		return s.setLocal(idx, TFloat), branchTarget{}, nil
	case bytecode.Dstore, bytecode.Dstore0, bytecode.Dstore1, bytecode.Dstore2, bytecode.Dstore3:
		idx := localIndex(b, pc, op, bytecode.Dstore, bytecode.Dstore0)
		s = pop2(s)
		return s.setLocal(idx, TDouble), branchTarget{}, nil
	case bytecode.Astore, bytecode.Astore0, bytecode.Astore1, bytecode.Astore2, bytecode.Astore3:
		idx := localIndex(b, pc, op, bytecode.Astore, bytecode.Astore0)
		s, v := pop(s)
		return s.setLocal(idx, v), branchTarget{}, nil

	case bytecode.Iastore, bytecode.Bastore, bytecode.Castore, bytecode.Sastore:
		s, _ = pop(s)
		s, _ = pop(s)
		s, _ = pop(s)
		return s, branchTarget{}, nil
	case bytecode.Lastore, bytecode.Dastore:
		s = pop2(s)
		s, _ = pop(s)
		s, _ = pop(s)
		return s, branchTarget{}, nil
	case bytecode.Fastore, bytecode.Aastore:
		s, _ = pop(s)
		s, _ = pop(s)
		s, _ = pop(s)
		return s, branchTarget{}, nil

	case bytecode.Pop:
		s, _ = pop(s)
		return s, branchTarget{}, nil
	case bytecode.Pop2:
		return pop2(s), branchTarget{}, nil
	case bytecode.Dup:
		s, v := pop(s)
		return push(push(s, v), v), branchTarget{}, nil
	case bytecode.DupX1:
		s, v1 := pop(s)
		s, v2 := pop(s)
		return push(push(push(s, v1), v2), v1), branchTarget{}, nil
	case bytecode.DupX2:
		s, v1 := pop(s)
		s, v2 := pop(s)
		s, v3 := pop(s)
		return push(push(push(push(s, v1), v3), v2), v1), branchTarget{}, nil
	case bytecode.Dup2:
		s, v1 := pop(s)
		s, v2 := pop(s)
		return push(push(push(push(s, v2), v1), v2), v1), branchTarget{}, nil
	case bytecode.Dup2X1:
		s, v1 := pop(s)
		s, v2 := pop(s)
		s, v3 := pop(s)
		return push(push(push(push(push(s, v2), v1), v3), v2), v1), branchTarget{}, nil
	case bytecode.Dup2X2:
		s, v1 := pop(s)
		s, v2 := pop(s)
		s, v3 := pop(s)
		s, v4 := pop(s)
		return push(push(push(push(push(push(s, v2), v1), v4), v3), v2), v1), branchTarget{}, nil
	case bytecode.Swap:
		s, v1 := pop(s)
		s, v2 := pop(s)
		return push(push(s, v1), v2), branchTarget{}, nil

	case bytecode.Iadd, bytecode.Isub, bytecode.Imul, bytecode.Idiv, bytecode.Irem,
		bytecode.Ishl, bytecode.Ishr, bytecode.Iushr, bytecode.Iand, bytecode.Ior, bytecode.Ixor:
		s, _ = pop(s)
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Ineg:
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Ladd, bytecode.Lsub, bytecode.Lmul, bytecode.Ldiv, bytecode.Lrem, bytecode.Land, bytecode.Lor, bytecode.Lxor:
		s = pop2(s)
		s = pop2(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.Lneg:
		s = pop2(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.Lshl, bytecode.Lshr, bytecode.Lushr:
		s, _ = pop(s) // int shift amount
		s = pop2(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.Fadd, bytecode.Fsub, bytecode.Fmul, bytecode.Fdiv, bytecode.Frem:
		s, _ = pop(s)
		s, _ = pop(s)
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.Fneg:
		s, _ = pop(s)
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.Dadd, bytecode.Dsub, bytecode.Dmul, bytecode.Ddiv, bytecode.Drem:
		s = pop2(s)
		s = pop2(s)
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.Dneg:
		s = pop2(s)
		return push(s, TDouble), branchTarget{}, nil

	case bytecode.Iinc:
		return s, branchTarget{}, nil

	case bytecode.I2l:
		s, _ = pop(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.I2f:
		s, _ = pop(s)
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.I2d:
		s, _ = pop(s)
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.L2i:
		s = pop2(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.L2f:
		s = pop2(s)
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.L2d:
		s = pop2(s)
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.F2i:
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.F2l:
		s, _ = pop(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.F2d:
		s, _ = pop(s)
		return push(s, TDouble), branchTarget{}, nil
	case bytecode.D2i:
		s = pop2(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.D2l:
		s = pop2(s)
		return push(s, TLong), branchTarget{}, nil
	case bytecode.D2f:
		s = pop2(s)
		return push(s, TFloat), branchTarget{}, nil
	case bytecode.I2b, bytecode.I2c, bytecode.I2s:
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil

	case bytecode.Lcmp:
		s = pop2(s)
		s = pop2(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Fcmpl, bytecode.Fcmpg:
		s, _ = pop(s)
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Dcmpl, bytecode.Dcmpg:
		s = pop2(s)
		s = pop2(s)
		return push(s, TInt), branchTarget{}, nil

	case bytecode.Ifeq, bytecode.Ifne, bytecode.Iflt, bytecode.Ifge, bytecode.Ifgt, bytecode.Ifle, bytecode.Ifnull, bytecode.Ifnonnull:
		s, _ = pop(s)
		return s, branchTarget{target: pc + i16At(b, pc+1)}, nil
	case bytecode.IfIcmpeq, bytecode.IfIcmpne, bytecode.IfIcmplt, bytecode.IfIcmpge, bytecode.IfIcmpgt, bytecode.IfIcmple, bytecode.IfAcmpeq, bytecode.IfAcmpne:
		s, _ = pop(s)
		s, _ = pop(s)
		return s, branchTarget{target: pc + i16At(b, pc+1)}, nil
	case bytecode.Goto:
		return s, branchTarget{target: pc + i16At(b, pc+1)}, nil
	case bytecode.GotoW:
		return s, branchTarget{target: pc + int(int32At(b, pc+1))}, nil
	case bytecode.Jsr:
		return s, branchTarget{target: pc + i16At(b, pc+1)}, nil

	case bytecode.Ireturn, bytecode.Freturn, bytecode.Dreturn, bytecode.Lreturn, bytecode.Areturn, bytecode.Return, bytecode.Ret, bytecode.Athrow:
		return s, branchTarget{}, nil

	case bytecode.Getstatic:
		return fieldEffect(cf, b, pc, s, true, false)
	case bytecode.Putstatic:
		return fieldEffect(cf, b, pc, s, true, true)
	case bytecode.Getfield:
		return fieldEffect(cf, b, pc, s, false, false)
	case bytecode.Putfield:
		return fieldEffect(cf, b, pc, s, false, true)

	case bytecode.Invokevirtual, bytecode.Invokespecial:
		return invokeEffect(cf, b, pc, s, true, classfile.ResolveMethodref)
	case bytecode.Invokestatic:
		return invokeEffect(cf, b, pc, s, false, classfile.ResolveMethodref)
	case bytecode.Invokeinterface:
		return invokeEffect(cf, b, pc, s, true, classfile.ResolveInterfaceMethodref)
	case bytecode.Invokedynamic:
		return s, branchTarget{}, fmt.Errorf("invokedynamic is not supported")

	case bytecode.New:
		idx := u16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return s, branchTarget{}, err
		}
		return push(s, Ref(name)), branchTarget{}, nil
	case bytecode.Newarray:
		s, _ = pop(s)
		return push(s, Ref(newarrayElementDescriptor(b[pc+1]))), branchTarget{}, nil
	case bytecode.Anewarray:
		s, _ = pop(s)
		idx := u16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return s, branchTarget{}, err
		}
		return push(s, Ref("["+descriptor.ClassType(name).String())), branchTarget{}, nil
	case bytecode.Arraylength:
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Checkcast:
		idx := u16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return s, branchTarget{}, err
		}
		s, _ = pop(s)
		return push(s, Ref(name)), branchTarget{}, nil
	case bytecode.Instanceof:
		s, _ = pop(s)
		return push(s, TInt), branchTarget{}, nil
	case bytecode.Monitorenter, bytecode.Monitorexit:
		s, _ = pop(s)
		return s, branchTarget{}, nil
	case bytecode.Multianewarray:
		dims := int(b[pc+3])
		for i := 0; i < dims; i++ {
			s, _ = pop(s)
		}
		idx := u16At(b, pc+1)
		name, err := classfile.GetClassName(cf.ConstantPool, uint16(idx))
		if err != nil {
			return s, branchTarget{}, err
		}
		return push(s, Ref(name)), branchTarget{}, nil
	case bytecode.Tableswitch, bytecode.Lookupswitch:
		s, _ = pop(s)
		return s, branchTarget{}, nil
	case bytecode.Wide:
		return wideEffect(b, pc, s)
	default:
		return s, branchTarget{}, fmt.Errorf("unhandled opcode 0x%02X", op)
	}
}

// wideEffect handles the "wide" prefix, JVMS 6.5.wide: the following
// byte names a load/store/ret/iinc instruction whose local-variable
// index is the next two bytes instead of one, letting it address
// locals beyond index 255.
func wideEffect(b []byte, pc int, s State) (State, branchTarget, error) {
	sub := b[pc+1]
	idx := u16At(b, pc+2)
	switch sub {
	case bytecode.Iload:
		return s.push(TInt), branchTarget{}, nil
	case bytecode.Lload:
		return s.push(TLong), branchTarget{}, nil
	case bytecode.Fload:
		return s.push(TFloat), branchTarget{}, nil
	case bytecode.Dload:
		return s.push(TDouble), branchTarget{}, nil
	case bytecode.Aload:
		return s.push(s.getLocal(idx)), branchTarget{}, nil
	case bytecode.Istore:
		s, _ = s.pop()
		return s.setLocal(idx, TInt), branchTarget{}, nil
	case bytecode.Lstore:
		s, _ = s.pop()
		s, _ = s.pop()
		return s.setLocal(idx, TLong), branchTarget{}, nil
	case bytecode.Fstore:
		s, _ = s.pop()
		return s.setLocal(idx, TFloat), branchTarget{}, nil
	case bytecode.Dstore:
		s, _ = s.pop()
		s, _ = s.pop()
		return s.setLocal(idx, TDouble), branchTarget{}, nil
	case bytecode.Astore:
		s, v := s.pop()
		return s.setLocal(idx, v), branchTarget{}, nil
	case bytecode.Ret, bytecode.Iinc:
		// A wide ret's control-flow edge is handled by the caller only
		// when it recognizes the outer opcode as Ret directly; javac has
		// not emitted jsr/ret since Java 6 and never paired it with wide,
		// so this case exists for completeness rather than real input.
		return s, branchTarget{}, nil
	default:
		return s, branchTarget{}, fmt.Errorf("unhandled wide sub-opcode 0x%02X", sub)
	}
}

func localIndex(b []byte, pc int, op, wideForm, shortForm0 bytecode.Opcode) int {
	if op == wideForm {
		return int(b[pc+1])
	}
	return int(op - shortForm0)
}

func ldcEffect(cf *classfile.ClassFile, b []byte, pc int, op bytecode.Opcode, s State) (State, branchTarget, error) {
	var idx int
	if op == bytecode.Ldc {
		idx = int(b[pc+1])
	} else {
		idx = u16At(b, pc+1)
	}
	entry := cf.ConstantPool[idx]
	switch entry.(type) {
	case *classfile.ConstantInteger:
		return s.push(TInt), branchTarget{}, nil
	case *classfile.ConstantFloat:
		return s.push(TFloat), branchTarget{}, nil
	case *classfile.ConstantLong:
		return s.push(TLong), branchTarget{}, nil
	case *classfile.ConstantDouble:
		return s.push(TDouble), branchTarget{}, nil
	case *classfile.ConstantString:
		return s.push(Ref("java/lang/String")), branchTarget{}, nil
	case *classfile.ConstantClass:
		return s.push(Ref("java/lang/Class")), branchTarget{}, nil
	default:
		return s, branchTarget{}, fmt.Errorf("ldc of unsupported constant pool entry at index %d", idx)
	}
}

func fieldEffect(cf *classfile.ClassFile, b []byte, pc int, s State, static, isPut bool) (State, branchTarget, error) {
	idx := u16At(b, pc+1)
	ref, err := classfile.ResolveFieldref(cf.ConstantPool, uint16(idx))
	if err != nil {
		return s, branchTarget{}, err
	}
	ft, err := descriptor.ParseFieldType(ref.Descriptor)
	if err != nil {
		return s, branchTarget{}, err
	}
	vt := FromFieldType(ft)

	if isPut {
		if vt.IsWide() {
			s, _ = s.pop()
			s, _ = s.pop()
		} else {
			s, _ = s.pop()
		}
		if !static {
			s, _ = s.pop() // objectref
		}
		return s, branchTarget{}, nil
	}

	if !static {
		s, _ = s.pop() // objectref
	}
	return s.push(vt), branchTarget{}, nil
}

type refResolver func(pool []classfile.ConstantPoolEntry, index uint16) (*classfile.MemberRefInfo, error)

func invokeEffect(cf *classfile.ClassFile, b []byte, pc int, s State, hasReceiver bool, resolve refResolver) (State, branchTarget, error) {
	idx := u16At(b, pc+1)
	ref, err := resolve(cf.ConstantPool, uint16(idx))
	if err != nil {
		return s, branchTarget{}, err
	}
	mt, err := descriptor.ParseMethodType(ref.Descriptor)
	if err != nil {
		return s, branchTarget{}, err
	}
	for i := len(mt.Params) - 1; i >= 0; i-- {
		if FromFieldType(mt.Params[i]).IsWide() {
			s, _ = s.pop()
			s, _ = s.pop()
		} else {
			s, _ = s.pop()
		}
	}
	if hasReceiver {
		s, _ = s.pop()
	}
	if mt.Return.Kind == descriptor.Void {
		return s, branchTarget{}, nil
	}
	return s.push(FromFieldType(mt.Return)), branchTarget{}, nil
}

func newarrayElementDescriptor(atype byte) string {
	switch atype {
	case bytecode.ArrBoolean:
		return "[Z"
	case bytecode.ArrChar:
		return "[C"
	case bytecode.ArrFloat:
		return "[F"
	case bytecode.ArrDouble:
		return "[D"
	case bytecode.ArrByte:
		return "[B"
	case bytecode.ArrShort:
		return "[S"
	case bytecode.ArrInt:
		return "[I"
	case bytecode.ArrLong:
		return "[J"
	default:
		return "[Ljava/lang/Object;"
	}
}
