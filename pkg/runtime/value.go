package runtime

import "fmt"

// ValueKind tags a Value's machine representation. The JVMS operand
// stack and local-variable array hold 32-bit-or-one-word slots except
// for long/double, which occupy two; tiervm's Value instead carries
// the wide types as a single slot; callers (interpreter, codegen
// simulation) handle the JVMS two-slot indexing rule at the
// locals-array level, not inside Value itself.
type ValueKind uint8

const (
	KindInt32 ValueKind = iota
	KindInt64
	KindFloat32
	KindFloat64
	KindRef
	// KindReturnAddress is the JVMS jsr/ret "returnAddress" type: a
	// bytecode offset, never observable to Java code, used only to
	// route ret instructions back to their jsr's successor.
	KindReturnAddress
)

// Value is a single operand-stack entry or local-variable slot.
type Value struct {
	Kind ValueKind
	I32  int32
	I64  int64
	F32  float32
	F64  float64
	Ref  *Object
	// RetAddr holds the bytecode offset for KindReturnAddress.
	RetAddr int
}

func Int32(v int32) Value    { return Value{Kind: KindInt32, I32: v} }
func Int64(v int64) Value    { return Value{Kind: KindInt64, I64: v} }
func Float32(v float32) Value { return Value{Kind: KindFloat32, F32: v} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, F64: v} }
func Ref(o *Object) Value    { return Value{Kind: KindRef, Ref: o} }
func Null() Value            { return Value{Kind: KindRef, Ref: nil} }
func ReturnAddress(offset int) Value {
	return Value{Kind: KindReturnAddress, RetAddr: offset}
}

func (v Value) IsNull() bool { return v.Kind == KindRef && v.Ref == nil }

func (v Value) String() string {
	switch v.Kind {
	case KindInt32:
		return fmt.Sprintf("int(%d)", v.I32)
	case KindInt64:
		return fmt.Sprintf("long(%d)", v.I64)
	case KindFloat32:
		return fmt.Sprintf("float(%g)", v.F32)
	case KindFloat64:
		return fmt.Sprintf("double(%g)", v.F64)
	case KindRef:
		if v.Ref == nil {
			return "null"
		}
		return fmt.Sprintf("ref(%s)", v.Ref.Class.Name)
	case KindReturnAddress:
		return fmt.Sprintf("retaddr(%d)", v.RetAddr)
	default:
		return "invalid"
	}
}
