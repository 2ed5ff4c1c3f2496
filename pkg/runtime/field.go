package runtime

import (
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

// Field is owned by its Class. Instance fields carry a byte Offset
// into an Object's field area; static fields carry an Offset into the
// owning Class's StaticArea.
type Field struct {
	Class       *Class
	AccessFlags uint16
	Name        string
	Type        descriptor.FieldType
	Offset      int
}

func (f *Field) IsStatic() bool { return f.AccessFlags&classfile.AccStatic != 0 }
func (f *Field) IsFinal() bool  { return f.AccessFlags&classfile.AccFinal != 0 }

// slotSize is the byte width a field occupies in its storage area.
// tiervm stores every slot as a fixed 8 bytes (matching a Value's
// widest representation) rather than packing to the JVMS-minimum
// width; this trades field-area density for never needing a second,
// narrower accessor path in codegen.
const slotSize = 8

func fieldSlotSize(descriptor.FieldType) int { return slotSize }
