package classfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalClass hand-assembles a well-formed class file byte
// stream for a class "Hello" extending java/lang/Object with a single
// "main([Ljava/lang/String;)V" method carrying a trivial Code
// attribute (return). There is no javac available in this environment
// to produce real .class fixtures, so the parser is exercised against
// a byte-for-byte constructed stream instead — the same approach the
// constant pool round-trip tests below take for individual entries.
func buildMinimalClass(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	write := func(v interface{}) {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			t.Fatalf("assembling fixture: %v", err)
		}
	}
	writeUtf8 := func(s string) {
		write(uint8(TagUtf8))
		write(uint16(len(s)))
		buf.WriteString(s)
	}

	write(uint32(classMagic))
	write(uint16(0))  // minor
	write(uint16(61)) // major (Java 17)

	// Constant pool: indices 1..7
	// 1: Utf8 "Hello"
	// 2: Class -> 1
	// 3: Utf8 "java/lang/Object"
	// 4: Class -> 3
	// 5: Utf8 "main"
	// 6: Utf8 "([Ljava/lang/String;)V"
	// 7: Utf8 "Code"
	write(uint16(8)) // constant_pool_count = count+1
	writeUtf8("Hello")
	write(uint8(TagClass))
	write(uint16(1))
	writeUtf8("java/lang/Object")
	write(uint8(TagClass))
	write(uint16(3))
	writeUtf8("main")
	writeUtf8("([Ljava/lang/String;)V")
	writeUtf8("Code")

	write(uint16(AccSuper | AccPublic)) // access_flags
	write(uint16(2))                    // this_class
	write(uint16(4))                    // super_class
	write(uint16(0))                    // interfaces_count

	write(uint16(0)) // fields_count

	write(uint16(1))                         // methods_count
	write(uint16(AccPublic | AccStatic))     // access_flags
	write(uint16(5))                         // name_index -> "main"
	write(uint16(6))                         // descriptor_index
	write(uint16(1))                         // attributes_count
	write(uint16(7))                         // attribute_name_index -> "Code"

	// Code attribute body: max_stack, max_locals, code_length, code,
	// exception_table_length, attributes_count.
	var code bytes.Buffer
	binary.Write(&code, binary.BigEndian, uint16(1)) // max_stack
	binary.Write(&code, binary.BigEndian, uint16(1)) // max_locals
	bytecode := []byte{0xB1}                         // return
	binary.Write(&code, binary.BigEndian, uint32(len(bytecode)))
	code.Write(bytecode)
	binary.Write(&code, binary.BigEndian, uint16(0)) // exception_table_length
	binary.Write(&code, binary.BigEndian, uint16(0)) // attributes_count (nested)

	write(uint32(code.Len())) // attribute_length
	buf.Write(code.Bytes())

	write(uint16(0)) // class attributes_count

	return buf.Bytes()
}

func TestParseMinimalClass(t *testing.T) {
	data := buildMinimalClass(t)
	cf, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cf.MajorVersion != 61 {
		t.Errorf("major version: got %d, want 61", cf.MajorVersion)
	}

	className, err := cf.ClassName()
	if err != nil {
		t.Fatalf("ClassName: %v", err)
	}
	if className != "Hello" {
		t.Errorf("class name: got %q, want %q", className, "Hello")
	}

	superName, err := cf.SuperClassName()
	if err != nil {
		t.Fatalf("SuperClassName: %v", err)
	}
	if superName != "java/lang/Object" {
		t.Errorf("super class name: got %q, want %q", superName, "java/lang/Object")
	}

	main := cf.FindMethod("main", "([Ljava/lang/String;)V")
	if main == nil {
		t.Fatal("main method not found")
	}
	if main.Code == nil {
		t.Fatal("main has no Code attribute")
	}
	if len(main.Code.Code) != 1 || main.Code.Code[0] != 0xB1 {
		t.Errorf("main bytecode: got %v, want [0xB1]", main.Code.Code)
	}
	if main.Code.MaxStack != 1 || main.Code.MaxLocals != 1 {
		t.Errorf("main stack/locals: got %d/%d, want 1/1", main.Code.MaxStack, main.Code.MaxLocals)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	data := []byte{0, 0, 0, 0}
	if _, err := Parse(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for bad magic number")
	}
}

func TestConstantPoolLongTakesTwoSlots(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint8(TagLong))
	binary.Write(&buf, binary.BigEndian, int64(42))
	binary.Write(&buf, binary.BigEndian, uint8(TagUtf8))
	binary.Write(&buf, binary.BigEndian, uint16(1))
	buf.WriteString("x")

	// count = 4: index 1 = Long (occupies 1 and 2), index 3 = Utf8
	pool, err := parseConstantPool(bytes.NewReader(buf.Bytes()), 4)
	if err != nil {
		t.Fatalf("parseConstantPool: %v", err)
	}
	if pool[2] != nil {
		t.Errorf("index 2 (phantom slot after Long) should be nil, got %v", pool[2])
	}
	long, ok := pool[1].(*ConstantLong)
	if !ok || long.Value != 42 {
		t.Errorf("pool[1]: got %#v, want ConstantLong{42}", pool[1])
	}
	utf8, ok := pool[3].(*ConstantUtf8)
	if !ok || utf8.Value != "x" {
		t.Errorf("pool[3]: got %#v, want ConstantUtf8{x}", pool[3])
	}
}

func TestResolveMethodref(t *testing.T) {
	pool := []ConstantPoolEntry{
		nil,
		&ConstantUtf8{Value: "Hello"},
		&ConstantClass{NameIndex: 1},
		&ConstantUtf8{Value: "main"},
		&ConstantUtf8{Value: "()V"},
		&ConstantNameAndType{NameIndex: 3, DescriptorIndex: 4},
		&ConstantMethodref{ClassIndex: 2, NameAndTypeIndex: 5},
	}
	ref, err := ResolveMethodref(pool, 6)
	if err != nil {
		t.Fatalf("ResolveMethodref: %v", err)
	}
	if ref.ClassName != "Hello" || ref.MemberName != "main" || ref.Descriptor != "()V" {
		t.Errorf("ResolveMethodref: got %+v", ref)
	}
}
