package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/codegen"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// stubHelpers mirrors pkg/codegen's test double: a minimal
// codegen.Helpers that needs no real classloader wired in.
type stubHelpers struct{}

func (stubHelpers) ResolveStub(symbol string) (runtime.StubEntry, error) {
	return nil, assertUnreachable(symbol)
}
func assertUnreachable(symbol string) error {
	panic("unexpected stub resolution for " + symbol)
}
func (stubHelpers) EnsureInitialized(c *runtime.Class) error { return nil }
func (stubHelpers) NewObject(className string) (*runtime.Object, error) {
	return &runtime.Object{Class: &runtime.Class{Name: className}}, nil
}
func (stubHelpers) NewArray(elementType descriptor.FieldType, length int32) (*runtime.Object, error) {
	return runtime.NewArray(&runtime.Class{IsArray: true}, int(length)), nil
}
func (stubHelpers) Throw(obj *runtime.Object) error { return &vmerrors.JavaException{Obj: obj} }
func (stubHelpers) ThrowNew(className, message string) error {
	return &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: className}}}
}
func (stubHelpers) CurrentException() *runtime.Object { return nil }
func (stubHelpers) ClearException()                   {}
func (stubHelpers) IsInstance(c *runtime.Class, className string) (bool, error) {
	return c.Name == className, nil
}

func mustMT(t *testing.T, s string) descriptor.MethodType {
	t.Helper()
	mt, err := descriptor.ParseMethodType(s)
	require.NoError(t, err)
	return mt
}

func buildMethod(t *testing.T, name string, mt descriptor.MethodType, code *classfile.CodeAttribute) (*runtime.Class, *runtime.Method) {
	t.Helper()
	cf := &classfile.ClassFile{ConstantPool: []classfile.ConstantPoolEntry{nil}}
	class := runtime.NewClass("Calc", cf)
	method := &runtime.Method{Class: class, Name: name, Type: mt, AccessFlags: classfile.AccStatic, Code: code, VTableSlot: -1}
	class.Methods = []*runtime.Method{method}
	return class, method
}

func TestExecuteSimpleArithmetic(t *testing.T) {
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
	class, method := buildMethod(t, "add", mustMT(t, "(II)I"), code)
	in := New(1000)

	result, err := in.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(3), runtime.Int32(4)})
	require.NoError(t, err)
	assert.Equal(t, int32(7), result.I32)
}

func TestExecuteBranch(t *testing.T) {
	// static int abs(int x) { if (x >= 0) return x; return -x; }
	code := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 1,
		Code: []byte{
			0: bytecode.Iload0,
			1: bytecode.Ifge, 2: 0x00, 3: 0x06,
			4: bytecode.Iload0,
			5: bytecode.Ineg,
			6: bytecode.Ireturn,
			7: bytecode.Iload0,
			8: bytecode.Ireturn,
		},
	}
	class, method := buildMethod(t, "abs", mustMT(t, "(I)I"), code)
	in := New(1000)

	result, err := in.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(5)})
	require.NoError(t, err)
	assert.Equal(t, int32(5), result.I32)

	result2, err := in.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(-5)})
	require.NoError(t, err)
	assert.Equal(t, int32(5), result2.I32)
}

func TestExecuteCatchesThrownException(t *testing.T) {
	// static int safeDiv(int a, int b) {
	//   try { return a / b; } catch (ArithmeticException e) { return -1; }
	// }
	code := &classfile.CodeAttribute{
		MaxStack:  2,
		MaxLocals: 3,
		Code: []byte{
			0: bytecode.Iload0,
			1: bytecode.Iload1,
			2: bytecode.Idiv,
			3: bytecode.Ireturn,
			4: bytecode.Astore2,
			5: bytecode.IconstM1,
			6: bytecode.Ireturn,
		},
		ExceptionHandlers: []classfile.ExceptionHandler{
			{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchType: 0},
		},
	}
	class, method := buildMethod(t, "safeDiv", mustMT(t, "(II)I"), code)
	in := New(1000)

	result, err := in.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(10), runtime.Int32(0)})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), result.I32)

	result2, err := in.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(10), runtime.Int32(2)})
	require.NoError(t, err)
	assert.Equal(t, int32(5), result2.I32)
}

// TestExecuteOSRsIntoJITOnHotBackedge drives a loop past a low
// backedge threshold and checks the result is unchanged whether the
// whole method ran in the interpreter or handed off to the JIT tier
// partway through (scenario 6: interpreter-to-JIT OSR).
func TestExecuteOSRsIntoJITOnHotBackedge(t *testing.T) {
	// static int sumTo(int n) {
	//   int s = 0, i = 0;
	//   while (i < n) { s += i; i++; }
	//   return s;
	// }
	code := &classfile.CodeAttribute{
		MaxStack:  2,
		MaxLocals: 3,
		Code: []byte{
			0:  bytecode.Iconst0,
			1:  bytecode.Istore1,
			2:  bytecode.Iconst0,
			3:  bytecode.Istore2,
			4:  bytecode.Iload2,
			5:  bytecode.Iload0,
			6:  bytecode.IfIcmpge, 7: 0x00, 8: 0x0D, // -> 19
			9:  bytecode.Iload1,
			10: bytecode.Iload2,
			11: bytecode.Iadd,
			12: bytecode.Istore1,
			13: bytecode.Iinc, 14: 0x02, 15: 0x01,
			16: bytecode.Goto, 17: 0xFF, 18: 0xF4, // -> 4
			19: bytecode.Iload1,
			20: bytecode.Ireturn,
		},
	}
	class, method := buildMethod(t, "sumTo", mustMT(t, "(I)I"), code)

	baseline := New(1000)
	want, err := baseline.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(5)})
	require.NoError(t, err)
	assert.Equal(t, int32(10), want.I32)

	hot := New(3)
	got, err := hot.Execute(class, method, stubHelpers{}, []runtime.Value{runtime.Int32(5)})
	require.NoError(t, err)
	assert.Equal(t, want.I32, got.I32, "OSR into the JIT tier must not change the result")
}

var _ codegen.Helpers = stubHelpers{}
