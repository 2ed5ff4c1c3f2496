// Package classfile parses the JVM class file format (JVMS chapter 4)
// into an in-memory representation used by every later stage of the
// pipeline: the type checker, the code generator, and the runtime
// class-object builder.
package classfile

// Access flags (JVMS 4.1, 4.5, 4.6 — the ones tiervm actually inspects).
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// ClassFile represents a parsed .class file, JVMS 4.1.
type ClassFile struct {
	MinorVersion     uint16
	MajorVersion     uint16
	ConstantPool     []ConstantPoolEntry
	AccessFlags      uint16
	ThisClass        uint16
	SuperClass       uint16
	Interfaces       []uint16
	Fields           []FieldInfo
	Methods          []MethodInfo
	BootstrapMethods []BootstrapMethod
}

// FieldInfo represents a field_info structure, JVMS 4.5.
type FieldInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
	// ConstantValueIndex is non-zero when a ConstantValue attribute
	// gives this (necessarily static final) field its compile-time value.
	ConstantValueIndex uint16
}

// MethodInfo represents a method_info structure, JVMS 4.6.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
	Code        *CodeAttribute
}

// AttributeInfo is a raw, unparsed attribute: name plus payload. Only
// a handful of attribute kinds (Code, BootstrapMethods, ConstantValue)
// get a typed parse; everything else, StackMapTable and Exceptions
// included, stays opaque, matching the "verifier-lite" scope of this
// translator.
type AttributeInfo struct {
	Name string
	Data []byte
}

// ExceptionHandler is one entry of a Code attribute's exception table,
// JVMS 4.7.3. Entries are significant in order: the first handler
// whose range covers the faulting PC and whose catch type matches
// wins.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	// CatchType is a constant-pool index to a CONSTANT_Class, or 0 for
	// a catch-all (the finally-block encoding).
	CatchType uint16
}

// CodeAttribute represents the Code attribute of a method, JVMS 4.7.3.
type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
	StackMapTable     []StackMapFrame
}

// BootstrapMethod is one entry of the BootstrapMethods attribute,
// JVMS 4.7.23. tiervm does not implement invokedynamic (a declared
// non-goal) but still parses this attribute so that classfiles which
// carry one (even unused) round-trip through validation cleanly.
type BootstrapMethod struct {
	MethodRef          uint16
	BootstrapArguments []uint16
}

// StackMapFrame is one entry of a StackMapTable attribute, JVMS 4.7.4,
// in full-frame form. The parser does not read StackMapTable
// attributes, so CodeAttribute.StackMapTable stays empty; the type
// checker derives every basic-block entry state itself.
type StackMapFrame struct {
	Offset  uint16
	Locals  []VerificationType
	Stack   []VerificationType
}

// VerificationType mirrors JVMS 4.10.1.4's verification_type_info for
// the subset tiervm cares about.
type VerificationType struct {
	Tag VerificationTag
	// ClassName is set for Object variants.
	ClassName string
}

type VerificationTag uint8

const (
	VerifyTop VerificationTag = iota
	VerifyInteger
	VerifyFloat
	VerifyDouble
	VerifyLong
	VerifyNull
	VerifyUninitializedThis
	VerifyObject
	VerifyUninitialized
)

// ClassName returns the fully qualified (binary) name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// SuperClassName returns the binary name of the superclass, or "" for
// java/lang/Object (super_class == 0, only valid for Object itself).
func (cf *ClassFile) SuperClassName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return GetClassName(cf.ConstantPool, cf.SuperClass)
}

// InterfaceNames resolves every entry of the interfaces table to a
// binary class name, in declaration order (order matters for itable
// layout, JVMS 5.4.3.2's superinterface search order).
func (cf *ClassFile) InterfaceNames() ([]string, error) {
	names := make([]string, len(cf.Interfaces))
	for i, idx := range cf.Interfaces {
		name, err := GetClassName(cf.ConstantPool, idx)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// IsInterface reports whether this class file describes an interface.
func (cf *ClassFile) IsInterface() bool {
	return cf.AccessFlags&AccInterface != 0
}
