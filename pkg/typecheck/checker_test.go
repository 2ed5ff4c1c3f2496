package typecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

func mustMethodType(t *testing.T, s string) descriptor.MethodType {
	t.Helper()
	mt, err := descriptor.ParseMethodType(s)
	require.NoError(t, err)
	return mt
}

func emptyClassFile() *classfile.ClassFile {
	return &classfile.ClassFile{ConstantPool: []classfile.ConstantPoolEntry{nil}}
}

func TestCheckSimpleAdd(t *testing.T) {
	// static int add(int a, int b) { return a + b; }
	code := &classfile.CodeAttribute{
		MaxStack:  2,
		MaxLocals: 2,
		Code: []byte{
			bytecode.Iload0,
			bytecode.Iload1,
			bytecode.Iadd,
			bytecode.Ireturn,
		},
	}
	res, err := Check(emptyClassFile(), mustMethodType(t, "(II)I"), true, code, -1)
	require.NoError(t, err)

	entry := res.BlockEntry[0]
	assert.Equal(t, TInt, entry.Locals[0])
	assert.Equal(t, TInt, entry.Locals[1])
	assert.Empty(t, entry.Stack)
}

func TestCheckBranchMergesStack(t *testing.T) {
	// The branch of `if (x >= 0) ...`, reduced: ifge at 1 jumps to 5,
	// and the fall-through through the nop at 4 also reaches 5, so the
	// two incoming states merge there (both paths then return -x).
	code := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 1,
		Code: []byte{
			0: bytecode.Iload0,
			1: bytecode.Ifge, 2: 0x00, 3: 0x04, // -> offset 5
			4: bytecode.Nop, // filler so the branch target below lines up
			5: bytecode.Iload0,
			6: bytecode.Ineg,
			7: bytecode.Ireturn,
		},
	}
	// Patch: ifge target must be offset 5 (pc 1 + 4).
	res, err := Check(emptyClassFile(), mustMethodType(t, "(I)I"), true, code, -1)
	require.NoError(t, err)

	target, ok := res.BlockEntry[5]
	require.True(t, ok, "branch target must be a recorded block entry")
	assert.Equal(t, TInt, target.Locals[0])
	assert.Empty(t, target.Stack)
}

func TestCheckCapturesOSRSnapshot(t *testing.T) {
	// static int loop(int n) {
	//   int i = 0;          // 0..2
	//   while (i < n) {     // 3: iload_1/iload_0? simplified below
	//     i = i + 1;
	//   }
	//   return i;
	// }
	// Simplified bytecode: locals[0]=n, locals[1]=i
	code := &classfile.CodeAttribute{
		MaxStack:  2,
		MaxLocals: 2,
		Code: []byte{
			0: bytecode.Iconst0,
			1: bytecode.Istore1,
			2: bytecode.Goto, 3: 0x00, 4: 0x06, // -> 8 (condition check)
			5: bytecode.Iinc, 6: 0x01, 7: 0x01, // i++
			8: bytecode.Iload1,
			9: bytecode.Iload0,
			10: bytecode.IfIcmplt, 11: 0xFF, 12: 0xFB, // -> 5 (backedge)
			13: bytecode.Iload1,
			14: bytecode.Ireturn,
		},
	}
	res, err := Check(emptyClassFile(), mustMethodType(t, "(I)I"), true, code, 5)
	require.NoError(t, err)

	captured, ok := res.CapturedAt()
	require.True(t, ok, "loop header at offset 5 must be reachable")
	assert.Equal(t, TInt, captured.Locals[0])
	assert.Equal(t, TInt, captured.Locals[1])
	assert.Empty(t, captured.Stack)
}

func TestInstructionLengthTableswitch(t *testing.T) {
	// tableswitch at offset 0, padded to next multiple of 4 after opcode,
	// default + low + high + 2 offsets (low=0, high=1).
	code := make([]byte, 0, 32)
	code = append(code, bytecode.Tableswitch)
	for len(code)%4 != 0 {
		code = append(code, 0)
	}
	code = append(code, 0, 0, 0, 20) // default offset
	code = append(code, 0, 0, 0, 0)  // low = 0
	code = append(code, 0, 0, 0, 1)  // high = 1
	code = append(code, 0, 0, 0, 0)  // offset for case 0
	code = append(code, 0, 0, 0, 0)  // offset for case 1

	assert.Equal(t, len(code), instructionLength(code, 0))
}

func TestRetWithoutJsrIsAnError(t *testing.T) {
	code := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 1,
		Code: []byte{
			bytecode.Ret, 0x00,
		},
	}
	_, err := Check(emptyClassFile(), mustMethodType(t, "()V"), true, code, -1)
	assert.Error(t, err)
}
