package codegen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// stubHelpers is a minimal Helpers for exercising Compile/Run without a
// real classloader: every stub symbol is preinstalled by the test.
type stubHelpers struct {
	stubs map[string]runtime.StubEntry
}

func newStubHelpers() *stubHelpers { return &stubHelpers{stubs: map[string]runtime.StubEntry{}} }

func (h *stubHelpers) ResolveStub(symbol string) (runtime.StubEntry, error) {
	s, ok := h.stubs[symbol]
	if !ok {
		return nil, fmt.Errorf("no stub registered for %q", symbol)
	}
	return s, nil
}
func (h *stubHelpers) EnsureInitialized(c *runtime.Class) error { return nil }
func (h *stubHelpers) NewObject(className string) (*runtime.Object, error) {
	return &runtime.Object{Class: &runtime.Class{Name: className}}, nil
}
func (h *stubHelpers) NewArray(elementType descriptor.FieldType, length int32) (*runtime.Object, error) {
	return runtime.NewArray(&runtime.Class{IsArray: true}, int(length)), nil
}
func (h *stubHelpers) Throw(obj *runtime.Object) error { return &vmerrors.JavaException{Obj: obj} }
func (h *stubHelpers) ThrowNew(className, message string) error {
	return &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: className}}}
}
func (h *stubHelpers) CurrentException() *runtime.Object { return nil }
func (h *stubHelpers) ClearException()                   {}
func (h *stubHelpers) IsInstance(c *runtime.Class, className string) (bool, error) {
	return c.Name == className, nil
}

func buildMethod(name string, mt descriptor.MethodType, isStatic bool, code *classfile.CodeAttribute) (*runtime.Class, *runtime.Method) {
	flags := uint16(0)
	if isStatic {
		flags |= classfile.AccStatic
	}
	cf := &classfile.ClassFile{ConstantPool: []classfile.ConstantPoolEntry{nil}}
	class := &runtime.Class{Name: "Calc", File: cf}
	method := &runtime.Method{Class: class, Name: name, Type: mt, AccessFlags: flags, Code: code}
	class.Methods = []*runtime.Method{method}
	return class, method
}

func TestCompileAndRunSimpleAdd(t *testing.T) {
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
	class, method := buildMethod("add", mustMT(t, "(II)I"), true, code)
	compiled, err := Compile(class, method)
	require.NoError(t, err)

	f := NewFrame(method, int(code.MaxLocals), int(code.MaxStack))
	f.Locals[0] = runtime.Int32(3)
	f.Locals[1] = runtime.Int32(4)

	result, err := compiled.Run(f, newStubHelpers(), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(7), result.I32)
}

func TestCompileAndRunBranch(t *testing.T) {
	// static int abs(int x) { if (x >= 0) return x; return -x; }
	code := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 1,
		Code: []byte{
			0: bytecode.Iload0,
			1: bytecode.Ifge, 2: 0x00, 3: 0x04,
			4: bytecode.Nop,
			5: bytecode.Iload0,
			6: bytecode.Ineg,
			7: bytecode.Ireturn,
			8: bytecode.Iload0,
			9: bytecode.Ireturn,
		},
	}
	// Patch the ifge target to land on the positive-path return at 8.
	code.Code[3] = 0x07
	class, method := buildMethod("abs", mustMT(t, "(I)I"), true, code)
	compiled, err := Compile(class, method)
	require.NoError(t, err)

	f := NewFrame(method, int(code.MaxLocals), int(code.MaxStack))
	f.Locals[0] = runtime.Int32(5)
	result, err := compiled.Run(f, newStubHelpers(), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(5), result.I32)

	f2 := NewFrame(method, int(code.MaxLocals), int(code.MaxStack))
	f2.Locals[0] = runtime.Int32(-5)
	result2, err := compiled.Run(f2, newStubHelpers(), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(5), result2.I32)
}

func TestCompileAndRunStaticFieldThroughStub(t *testing.T) {
	code := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 0,
		Code: []byte{
			bytecode.Getstatic, 0x00, 0x01,
			bytecode.Ireturn,
		},
	}
	cf := &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantFieldref{ClassIndex: 2, NameAndTypeIndex: 3},
			&classfile.ConstantClass{NameIndex: 4},
			&classfile.ConstantNameAndType{NameIndex: 5, DescriptorIndex: 6},
			&classfile.ConstantUtf8{Value: "Counter"},
			&classfile.ConstantUtf8{Value: "value"},
			&classfile.ConstantUtf8{Value: "I"},
		},
	}
	class := &runtime.Class{Name: "Counter", File: cf}
	mt, err := descriptor.ParseMethodType("()I")
	require.NoError(t, err)
	method := &runtime.Method{Class: class, Name: "get", Type: mt, AccessFlags: classfile.AccStatic, Code: code}
	class.Methods = []*runtime.Method{method}

	compiled, err := Compile(class, method)
	require.NoError(t, err)

	h := newStubHelpers()
	h.stubs["Counter.value:I"] = func(args []runtime.Value) (runtime.Value, error) {
		return runtime.Int32(42), nil
	}

	f := NewFrame(method, 0, 1)
	result, err := compiled.Run(f, h, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(42), result.I32)
}

func mustMT(t *testing.T, s string) descriptor.MethodType {
	t.Helper()
	mt, err := descriptor.ParseMethodType(s)
	require.NoError(t, err)
	return mt
}
