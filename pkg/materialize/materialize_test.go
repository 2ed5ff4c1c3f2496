package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/runtime"
)

// fakeLoader resolves names from a pre-populated map: every test class
// is built and runtime.Prepare'd up front, standing in for what a real
// class loader would do before execution ever reaches materialize.
type fakeLoader struct {
	classes map[string]*runtime.Class
}

func (l *fakeLoader) LoadClass(name string) (*runtime.Class, error) {
	c, ok := l.classes[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return c, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "class not found: " + string(e) }

func mustMT(t *testing.T, s string) descriptor.MethodType {
	t.Helper()
	mt, err := descriptor.ParseMethodType(s)
	require.NoError(t, err)
	return mt
}

func newClass(t *testing.T, name string, super *runtime.Class) *runtime.Class {
	t.Helper()
	cf := &classfile.ClassFile{ConstantPool: []classfile.ConstantPoolEntry{nil}}
	c := runtime.NewClass(name, cf)
	c.Super = super
	return c
}

func TestRegisterClassMaterializesStaticMethodOnFirstCall(t *testing.T) {
	class := newClass(t, "Calc", nil)
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
	method := &runtime.Method{Class: class, Name: "add", Type: mustMT(t, "(II)I"), AccessFlags: classfile.AccStatic, Code: code, VTableSlot: -1}
	class.Methods = []*runtime.Method{method}

	loader := &fakeLoader{classes: map[string]*runtime.Class{"Calc": class}}
	p := New(loader, nil, nil)
	p.RegisterClass(class)

	require.NotNil(t, method.JITEntry(), "trampoline should be installed at registration")

	result, err := method.JITEntry()(
		[]runtime.Value{runtime.Int32(3), runtime.Int32(4)},
	)
	require.NoError(t, err)
	assert.Equal(t, int32(7), result.I32)

	// Second call goes through the now-resolved cell, same result.
	result2, err := method.JITEntry()([]runtime.Value{runtime.Int32(10), runtime.Int32(20)})
	require.NoError(t, err)
	assert.Equal(t, int32(30), result2.I32)
}

func TestStaticFieldAccessAcrossClasses(t *testing.T) {
	counter := newClass(t, "Counter", nil)
	field := &runtime.Field{Class: counter, Name: "value", Type: descriptor.IntType, AccessFlags: classfile.AccStatic, Offset: 0}
	counter.Fields = []*runtime.Field{field}
	counter.StaticArea = []runtime.Value{runtime.Int32(42)}

	mainCF := &classfile.ClassFile{
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
	mainClass := runtime.NewClass("Main", mainCF)
	code := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 0,
		Code: []byte{
			bytecode.Getstatic, 0x00, 0x01,
			bytecode.Ireturn,
		},
	}
	method := &runtime.Method{Class: mainClass, Name: "get", Type: mustMT(t, "()I"), AccessFlags: classfile.AccStatic, Code: code, VTableSlot: -1}
	mainClass.Methods = []*runtime.Method{method}

	loader := &fakeLoader{classes: map[string]*runtime.Class{"Counter": counter, "Main": mainClass}}
	p := New(loader, nil, nil)
	p.RegisterClass(counter)
	p.RegisterClass(mainClass)

	result, err := method.JITEntry()(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(42), result.I32)
}

func TestVirtualCallDispatchesThroughReceiverVTable(t *testing.T) {
	base := newClass(t, "Animal", nil)
	speakBase := &runtime.Method{Class: base, Name: "speak", Type: mustMT(t, "()I"), VTableSlot: 0,
		Code: &classfile.CodeAttribute{MaxStack: 1, Code: []byte{bytecode.Iconst0, bytecode.Ireturn}}}
	base.Methods = []*runtime.Method{speakBase}
	base.VTable = []*runtime.Method{speakBase}

	dog := newClass(t, "Dog", base)
	speakDog := &runtime.Method{Class: dog, Name: "speak", Type: mustMT(t, "()I"), VTableSlot: 0,
		Code: &classfile.CodeAttribute{MaxStack: 1, Code: []byte{bytecode.Iconst1, bytecode.Ireturn}}}
	dog.Methods = []*runtime.Method{speakDog}
	dog.VTable = []*runtime.Method{speakDog}

	callerCF := &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantMethodref{ClassIndex: 2, NameAndTypeIndex: 3},
			&classfile.ConstantClass{NameIndex: 4},
			&classfile.ConstantNameAndType{NameIndex: 5, DescriptorIndex: 6},
			&classfile.ConstantUtf8{Value: "Animal"},
			&classfile.ConstantUtf8{Value: "speak"},
			&classfile.ConstantUtf8{Value: "()I"},
		},
	}
	caller := runtime.NewClass("Caller", callerCF)
	callCode := &classfile.CodeAttribute{
		MaxStack:  1,
		MaxLocals: 1,
		Code: []byte{
			bytecode.Aload0,
			bytecode.Invokevirtual, 0x00, 0x01,
			bytecode.Ireturn,
		},
	}
	callMethod := &runtime.Method{Class: caller, Name: "callSpeak", Type: mustMT(t, "(LAnimal;)I"), AccessFlags: classfile.AccStatic, Code: callCode, VTableSlot: -1}
	caller.Methods = []*runtime.Method{callMethod}

	loader := &fakeLoader{classes: map[string]*runtime.Class{"Animal": base, "Dog": dog, "Caller": caller}}
	p := New(loader, nil, nil)
	p.RegisterClass(base)
	p.RegisterClass(dog)
	p.RegisterClass(caller)

	dogInstance := runtime.NewObject(dog)
	result, err := callMethod.JITEntry()([]runtime.Value{runtime.Ref(dogInstance)})
	require.NoError(t, err)
	assert.Equal(t, int32(1), result.I32, "dispatch should pick Dog's override, not Animal's")
}
