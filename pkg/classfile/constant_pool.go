package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Constant pool tags, JVMS 4.4.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// ConstantPoolEntry is implemented by every constant pool variant. The
// pool is modeled as a slice of this interface rather than one struct
// with optional fields, the same tagged-union idiom the rest of this
// parser uses for Code-attribute verification types and OSR targets.
type ConstantPoolEntry interface {
	Tag() uint8
}

type ConstantUtf8 struct{ Value string }

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct{ Value int32 }

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct{ Value float32 }

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

type ConstantLong struct{ Value int64 }

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct{ Value float64 }

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct{ NameIndex uint16 }

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct{ StringIndex uint16 }

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantFieldref) Tag() uint8 { return TagFieldref }

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMethodref) Tag() uint8 { return TagMethodref }

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

// ConstantMethodHandle, ConstantMethodType, ConstantDynamic are parsed
// structurally (tiervm needs their shape for BootstrapMethods
// bookkeeping and classfile round-tripping) even though invokedynamic
// itself is not executed.
type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct{ DescriptorIndex uint16 }

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

type ConstantDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantDynamic) Tag() uint8 { return TagDynamic }

type ConstantInvokeDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantInvokeDynamic) Tag() uint8 { return TagInvokeDynamic }

type ConstantModule struct{ NameIndex uint16 }

func (c *ConstantModule) Tag() uint8 { return TagModule }

type ConstantPackage struct{ NameIndex uint16 }

func (c *ConstantPackage) Tag() uint8 { return TagPackage }

// parseConstantPool reads constant_pool_count-1 entries from the
// reader. The returned slice is 1-indexed per JVMS 4.4: index 0 is
// nil, and Long/Double entries additionally leave the index that
// follows them nil (the "phantom" second slot JVMS mandates).
func parseConstantPool(r io.Reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, fmt.Errorf("reading constant pool tag at index %d: %w", i, err)
		}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, fmt.Errorf("reading Utf8 length at index %d: %w", i, err)
			}
			bytes := make([]byte, length)
			if _, err := io.ReadFull(r, bytes); err != nil {
				return nil, fmt.Errorf("reading Utf8 bytes at index %d: %w", i, err)
			}
			pool[i] = &ConstantUtf8{Value: decodeModifiedUTF8(bytes)}

		case TagInteger:
			var val int32
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return nil, fmt.Errorf("reading Integer at index %d: %w", i, err)
			}
			pool[i] = &ConstantInteger{Value: val}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("reading Float at index %d: %w", i, err)
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong:
			var val int64
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return nil, fmt.Errorf("reading Long at index %d: %w", i, err)
			}
			pool[i] = &ConstantLong{Value: val}
			i++ // long takes two constant-pool indices, JVMS 4.4.5

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, fmt.Errorf("reading Double at index %d: %w", i, err)
			}
			pool[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			i++ // double takes two constant-pool indices, JVMS 4.4.5

		case TagClass:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, fmt.Errorf("reading Class at index %d: %w", i, err)
			}
			pool[i] = &ConstantClass{NameIndex: nameIndex}

		case TagString:
			var stringIndex uint16
			if err := binary.Read(r, binary.BigEndian, &stringIndex); err != nil {
				return nil, fmt.Errorf("reading String at index %d: %w", i, err)
			}
			pool[i] = &ConstantString{StringIndex: stringIndex}

		case TagFieldref:
			ci, ni, err := readTwoU16(r, "Fieldref", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantFieldref{ClassIndex: ci, NameAndTypeIndex: ni}

		case TagMethodref:
			ci, ni, err := readTwoU16(r, "Methodref", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantMethodref{ClassIndex: ci, NameAndTypeIndex: ni}

		case TagInterfaceMethodref:
			ci, ni, err := readTwoU16(r, "InterfaceMethodref", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantInterfaceMethodref{ClassIndex: ci, NameAndTypeIndex: ni}

		case TagNameAndType:
			ni, di, err := readTwoU16(r, "NameAndType", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantNameAndType{NameIndex: ni, DescriptorIndex: di}

		case TagMethodHandle:
			var kind uint8
			if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
				return nil, fmt.Errorf("reading MethodHandle reference_kind at index %d: %w", i, err)
			}
			var refIndex uint16
			if err := binary.Read(r, binary.BigEndian, &refIndex); err != nil {
				return nil, fmt.Errorf("reading MethodHandle reference_index at index %d: %w", i, err)
			}
			pool[i] = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: refIndex}

		case TagMethodType:
			var descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, fmt.Errorf("reading MethodType at index %d: %w", i, err)
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: descIndex}

		case TagDynamic:
			bi, ni, err := readTwoU16(r, "Dynamic", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantDynamic{BootstrapMethodAttrIndex: bi, NameAndTypeIndex: ni}

		case TagInvokeDynamic:
			bi, ni, err := readTwoU16(r, "InvokeDynamic", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: bi, NameAndTypeIndex: ni}

		case TagModule:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, fmt.Errorf("reading Module at index %d: %w", i, err)
			}
			pool[i] = &ConstantModule{NameIndex: nameIndex}

		case TagPackage:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, fmt.Errorf("reading Package at index %d: %w", i, err)
			}
			pool[i] = &ConstantPackage{NameIndex: nameIndex}

		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

func readTwoU16(r io.Reader, what string, i uint16) (uint16, uint16, error) {
	var a, b uint16
	if err := binary.Read(r, binary.BigEndian, &a); err != nil {
		return 0, 0, fmt.Errorf("reading %s first index at %d: %w", what, i, err)
	}
	if err := binary.Read(r, binary.BigEndian, &b); err != nil {
		return 0, 0, fmt.Errorf("reading %s second index at %d: %w", what, i, err)
	}
	return a, b, nil
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8 encoding
// (JVMS 4.4.7): a null code point is encoded as two bytes (0xC0 0x80)
// rather than one, and code points above U+FFFF are encoded as a
// CESU-8-style surrogate pair instead of true 4-byte UTF-8. Ordinary
// ASCII text, the overwhelming majority of what class files carry,
// decodes byte-for-byte identically to standard UTF-8, so this only
// needs to special-case the two divergent points.
func decodeModifiedUTF8(b []byte) string {
	out := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			out = append(out, rune(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			r := rune(c&0x1F)<<6 | rune(b[i+1]&0x3F)
			out = append(out, r)
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			// Surrogate-pair encoding of a supplementary code point is
			// two consecutive 3-byte sequences; decode each as UTF-16
			// code units and combine if they form a valid pair.
			r := rune(c&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
			i += 3
			if r >= 0xD800 && r <= 0xDBFF && i+2 < len(b) && b[i]&0xF0 == 0xE0 {
				lo := rune(b[i]&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
				if lo >= 0xDC00 && lo <= 0xDFFF {
					r = 0x10000 + (r-0xD800)<<10 + (lo - 0xDC00)
					i += 3
				}
			}
			out = append(out, r)
		default:
			out = append(out, rune(c))
			i++
		}
	}
	return string(out)
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return "", err
	}
	utf8, ok := entry.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, entry.Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	entry, err := lookup(pool, classIndex)
	if err != nil {
		return "", err
	}
	class, ok := entry.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

func lookup(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// NameAndType resolves a CONSTANT_NameAndType entry to its name and descriptor strings.
func NameAndType(pool []ConstantPoolEntry, index uint16) (name, descriptor string, err error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return "", "", err
	}
	nat, ok := entry.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d is not NameAndType", index)
	}
	name, err = GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	descriptor, err = GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, descriptor, nil
}

// MemberRefInfo holds a resolved field/method/interface-method
// reference: owning class plus name-and-type.
type MemberRefInfo struct {
	ClassName  string
	MemberName string
	Descriptor string
}

// ResolveFieldref resolves a CONSTANT_Fieldref entry.
func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantFieldref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not Fieldref", index)
	}
	return resolveMemberRef(pool, ref.ClassIndex, ref.NameAndTypeIndex)
}

// ResolveMethodref resolves a CONSTANT_Methodref entry.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantMethodref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not Methodref", index)
	}
	return resolveMemberRef(pool, ref.ClassIndex, ref.NameAndTypeIndex)
}

// ResolveInterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantInterfaceMethodref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not InterfaceMethodref", index)
	}
	return resolveMemberRef(pool, ref.ClassIndex, ref.NameAndTypeIndex)
}

func resolveMemberRef(pool []ConstantPoolEntry, classIndex, natIndex uint16) (*MemberRefInfo, error) {
	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving owner class: %w", err)
	}
	name, desc, err := NameAndType(pool, natIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving name_and_type: %w", err)
	}
	return &MemberRefInfo{ClassName: className, MemberName: name, Descriptor: desc}, nil
}
