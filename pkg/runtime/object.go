package runtime

// Object is a heap instance: either a plain object (Elements nil) or
// an array (Class.IsArray, Elements holding one Value per element).
// Field storage is a flat area indexed by the owning Field's Offset;
// tiervm stores one Value per slot instead of raw bytes, since Go's
// GC — not tiervm's — is what actually needs to see reference fields,
// and a []Value keeps every field typed.
type Object struct {
	Class    *Class
	Fields   []Value
	Elements []Value
	hashCode int32
	hashSet  bool
}

// NewObject allocates a zero-valued instance of c, sized to c's
// prepared field area.
func NewObject(c *Class) *Object {
	return &Object{Class: c, Fields: make([]Value, c.FieldAreaSize/slotSize)}
}

// NewArray allocates an array instance of the given length whose
// component class is c.Component (nil for primitive components).
func NewArray(c *Class, length int) *Object {
	return &Object{Class: c, Elements: make([]Value, length)}
}

func (o *Object) Length() int { return len(o.Elements) }

// GetField reads the slot at the given field offset.
func (o *Object) GetField(offset int) Value {
	return o.Fields[offset/slotSize]
}

// SetField writes the slot at the given field offset.
func (o *Object) SetField(offset int, v Value) {
	o.Fields[offset/slotSize] = v
}

// IdentityHashCode returns a stable per-object hash code, assigned
// lazily on first request.
func (o *Object) IdentityHashCode(next func() int32) int32 {
	if !o.hashSet {
		o.hashCode = next()
		o.hashSet = true
	}
	return o.hashCode
}
