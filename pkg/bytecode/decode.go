package bytecode

// InstructionLength returns the number of bytes, including the opcode
// itself, that the instruction at pc occupies. Shared by pkg/typecheck
// and pkg/codegen so the two passes can never disagree about where one
// instruction ends and the next begins.
func InstructionLength(code []byte, pc int) int {
	op := code[pc]
	switch op {
	case Wide:
		if pc+1 < len(code) && code[pc+1] == Iinc {
			return 6
		}
		return 4
	case Tableswitch:
		p := pc + 1
		for (p-pc)%4 != 0 {
			p++
		}
		low := int32At(code, p+4)
		high := int32At(code, p+8)
		return (p - pc) + 12 + int(high-low+1)*4
	case Lookupswitch:
		p := pc + 1
		for (p-pc)%4 != 0 {
			p++
		}
		n := int32At(code, p+4)
		return (p - pc) + 8 + int(n)*8
	}
	return 1 + fixedOperandBytes(op)
}

func int32At(code []byte, at int) int32 {
	return int32(code[at])<<24 | int32(code[at+1])<<16 | int32(code[at+2])<<8 | int32(code[at+3])
}

// U16At and I16At read a big-endian 16-bit value from code[pc] and
// code[pc+1]; callers pass the operand's offset (pc+1 for an operand
// right after the opcode), which most branch/index operands use.
func U16At(code []byte, pc int) int { return int(code[pc])<<8 | int(code[pc+1]) }
func I16At(code []byte, pc int) int { return int(int16(U16At(code, pc))) }
func I32At(code []byte, pc int) int32 { return int32At(code, pc) }

func fixedOperandBytes(op Opcode) int {
	switch op {
	case Bipush, Ldc, Newarray:
		return 1
	case Iload, Lload, Fload, Dload, Aload,
		Istore, Lstore, Fstore, Dstore, Astore, Ret:
		return 1
	case Sipush, LdcW, Ldc2W,
		Getstatic, Putstatic, Getfield, Putfield,
		Invokevirtual, Invokespecial, Invokestatic,
		New, Anewarray, Checkcast, Instanceof,
		Ifeq, Ifne, Iflt, Ifge, Ifgt, Ifle,
		IfIcmpeq, IfIcmpne, IfIcmplt, IfIcmpge, IfIcmpgt, IfIcmple,
		IfAcmpeq, IfAcmpne, Goto, Jsr,
		Ifnull, Ifnonnull:
		return 2
	case Iinc:
		return 2
	case Invokeinterface, Invokedynamic:
		return 4
	case Multianewarray:
		return 3
	case GotoW, JsrW:
		return 4
	default:
		return 0
	}
}
