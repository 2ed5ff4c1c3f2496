package runtime

import (
	"sync/atomic"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

// StubEntry is the callable behind a method's jit_cc/interp_cc stub
// cell. tiervm's codegen target is a tree of Go closures rather than
// relocated machine code (see the codegen package doc comment), so
// the "indirect pointer, CAS'd from trampoline to resolved address"
// the materialization pipeline specifies is realized here as an
// atomic pointer swap over this function type rather than over raw
// executable memory.
type StubEntry func(args []Value) (Value, error)

// Method is owned by its Class, component C's per-method runtime
// record. VTableSlot is -1 for methods that do not participate in
// virtual dispatch (private, final, static, or <init>).
type Method struct {
	Class       *Class
	AccessFlags uint16
	Name        string
	Type        descriptor.MethodType
	Code        *classfile.CodeAttribute
	VTableSlot  int

	jitEntry    atomic.Pointer[StubEntry]
	interpEntry atomic.Pointer[StubEntry]
}

func (m *Method) IsStatic() bool     { return m.AccessFlags&classfile.AccStatic != 0 }
func (m *Method) IsPrivate() bool    { return m.AccessFlags&classfile.AccPrivate != 0 }
func (m *Method) IsFinal() bool      { return m.AccessFlags&classfile.AccFinal != 0 }
func (m *Method) IsAbstract() bool   { return m.AccessFlags&classfile.AccAbstract != 0 }
func (m *Method) IsNative() bool     { return m.AccessFlags&classfile.AccNative != 0 }
func (m *Method) IsSynchronized() bool { return m.AccessFlags&classfile.AccSynchronized != 0 }

// NeedsVTableSlot implements the §4.3 rule for which methods
// participate in virtual dispatch.
func NeedsVTableSlot(accessFlags uint16, name string) bool {
	if name == "<init>" {
		return false
	}
	if accessFlags&classfile.AccPrivate != 0 {
		return false
	}
	if accessFlags&classfile.AccFinal != 0 {
		return false
	}
	if accessFlags&classfile.AccStatic != 0 {
		return false
	}
	return true
}

// JITEntry returns the current jit_cc stub cell contents, or nil if
// nothing has been stored in the cell yet (pkg/stub stores the
// call-through trampoline there when the class is registered).
func (m *Method) JITEntry() StubEntry {
	if p := m.jitEntry.Load(); p != nil {
		return *p
	}
	return nil
}

// SetJITEntry atomically stores a new jit_cc implementation,
// replacing whatever the cell held. The cell is written twice per
// method: once with the trampoline at registration, once with the
// resolved implementation on first invocation.
func (m *Method) SetJITEntry(fn StubEntry) {
	m.jitEntry.Store(&fn)
}

func (m *Method) InterpEntry() StubEntry {
	if p := m.interpEntry.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Method) SetInterpEntry(fn StubEntry) {
	m.interpEntry.Store(&fn)
}
