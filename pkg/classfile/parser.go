package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

const classMagic = 0xCAFEBABE

// reader wraps an io.Reader with the big-endian fixed-width fields the
// class file format is built entirely out of, sticking on the first
// error the way bufio.Scanner/hash.Hash's error-absorbing helpers do —
// callers read an entire group of fields and check err once at the
// end, instead of checking binary.Read's result after every field.
type reader struct {
	r   io.Reader
	err error
}

func (rd *reader) u16() uint16 {
	if rd.err != nil {
		return 0
	}
	var v uint16
	rd.err = binary.Read(rd.r, binary.BigEndian, &v)
	return v
}

func (rd *reader) u32() uint32 {
	if rd.err != nil {
		return 0
	}
	var v uint32
	rd.err = binary.Read(rd.r, binary.BigEndian, &v)
	return v
}

func (rd *reader) bytes(n uint32) []byte {
	if rd.err != nil {
		return nil
	}
	buf := make([]byte, n)
	_, rd.err = io.ReadFull(rd.r, buf)
	return buf
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	rd := &reader{r: r}
	magic := rd.u32()
	if rd.err != nil {
		return nil, fmt.Errorf("reading magic number: %w", rd.err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	cf.MinorVersion = rd.u16()
	cf.MajorVersion = rd.u16()
	cpCount := rd.u16()
	if rd.err != nil {
		return nil, fmt.Errorf("reading class file header: %w", rd.err)
	}

	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = rd.u16()
	cf.ThisClass = rd.u16()
	cf.SuperClass = rd.u16()
	interfacesCount := rd.u16()
	if rd.err != nil {
		return nil, fmt.Errorf("reading this_class/super_class/interfaces_count: %w", rd.err)
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		cf.Interfaces[i] = rd.u16()
	}
	if rd.err != nil {
		return nil, fmt.Errorf("reading interfaces: %w", rd.err)
	}

	fieldsCount := rd.u16()
	if rd.err != nil {
		return nil, fmt.Errorf("reading fields_count: %w", rd.err)
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}

	methodsCount := rd.u16()
	if rd.err != nil {
		return nil, fmt.Errorf("reading methods_count: %w", rd.err)
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	if err := cf.parseClassAttributes(r); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}

	return cf, nil
}

func parseFields(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, count)
	for i := uint16(0); i < count; i++ {
		rd := &reader{r: r}
		accessFlags := rd.u16()
		nameIndex := rd.u16()
		descIndex := rd.u16()
		attrCount := rd.u16()
		if rd.err != nil {
			return nil, fmt.Errorf("field %d: %w", i, rd.err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving field %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving field %d descriptor: %w", i, err)
		}

		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, fmt.Errorf("parsing field %d attributes: %w", i, err)
		}

		f := FieldInfo{AccessFlags: accessFlags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, attr := range attrs {
			if attr.Name == "ConstantValue" && len(attr.Data) == 2 {
				f.ConstantValueIndex = binary.BigEndian.Uint16(attr.Data)
			}
		}
		fields[i] = f
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, count)
	for i := uint16(0); i < count; i++ {
		rd := &reader{r: r}
		accessFlags := rd.u16()
		nameIndex := rd.u16()
		descIndex := rd.u16()
		attrCount := rd.u16()
		if rd.err != nil {
			return nil, fmt.Errorf("method %d: %w", i, rd.err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving method %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving method %d descriptor: %w", i, err)
		}

		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, fmt.Errorf("parsing method %d attributes: %w", i, err)
		}

		m := MethodInfo{AccessFlags: accessFlags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, attr := range attrs {
			if attr.Name == "Code" {
				code, err := parseCodeAttribute(attr.Data)
				if err != nil {
					return nil, fmt.Errorf("parsing Code attribute for method %s: %w", name, err)
				}
				m.Code = code
				break
			}
		}
		methods[i] = m
	}
	return methods, nil
}

func parseAttributeInfos(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := uint16(0); i < count; i++ {
		rd := &reader{r: r}
		nameIndex := rd.u16()
		length := rd.u32()
		data := rd.bytes(length)
		if rd.err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, rd.err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

// parseCodeAttribute decodes a Code attribute's already-extracted byte
// payload (JVMS 4.7.3): max_stack/max_locals/code, the exception
// table, and the length of whatever nested attributes follow (their
// contents are skipped — StackMapTable is recomputed by pkg/typecheck
// rather than trusted from the class file).
func parseCodeAttribute(data []byte) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}

	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLength := binary.BigEndian.Uint32(data[4:8])
	if uint64(len(data)) < 8+uint64(codeLength) {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", codeLength)
	}
	code := make([]byte, codeLength)
	copy(code, data[8:8+codeLength])
	offset := 8 + int(codeLength)

	if offset+2 > len(data) {
		return nil, fmt.Errorf("Code attribute truncated before exception_table_length")
	}
	exTableLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	handlers := make([]ExceptionHandler, exTableLen)
	for i := range handlers {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("Code attribute truncated in exception_table at entry %d", i)
		}
		handlers[i] = ExceptionHandler{
			StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
			EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
			HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
			CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
		}
		offset += 8
	}

	attr := &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}

	// Nested attributes (StackMapTable and others): walk past them by
	// length so a trailing LineNumberTable/LocalVariableTable doesn't
	// get mistaken for more code, without parsing their contents.
	if offset+2 > len(data) {
		return attr, nil
	}
	nestedCount := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	for i := uint16(0); i < nestedCount; i++ {
		if offset+6 > len(data) {
			break
		}
		length := binary.BigEndian.Uint32(data[offset+2 : offset+6])
		attrStart := offset + 6
		attrEnd := attrStart + int(length)
		if attrEnd > len(data) {
			break
		}
		offset = attrEnd
	}
	return attr, nil
}

func (cf *ClassFile) parseClassAttributes(r io.Reader) error {
	rd := &reader{r: r}
	count := rd.u16()
	if rd.err != nil {
		return rd.err
	}
	for i := uint16(0); i < count; i++ {
		entryRd := &reader{r: r}
		nameIndex := entryRd.u16()
		length := entryRd.u32()
		data := entryRd.bytes(length)
		if entryRd.err != nil {
			return fmt.Errorf("class attribute %d: %w", i, entryRd.err)
		}

		name, err := GetUtf8(cf.ConstantPool, nameIndex)
		if err != nil {
			continue // skip attributes whose name we can't resolve
		}
		if name == "BootstrapMethods" {
			cf.BootstrapMethods, err = parseBootstrapMethods(data)
			if err != nil {
				return fmt.Errorf("parsing BootstrapMethods: %w", err)
			}
		}
	}
	return nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("BootstrapMethods data too short")
	}
	numMethods := binary.BigEndian.Uint16(data[0:2])
	offset := 2
	methods := make([]BootstrapMethod, numMethods)
	for i := uint16(0); i < numMethods; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("BootstrapMethods truncated at method %d", i)
		}
		methodRef := binary.BigEndian.Uint16(data[offset : offset+2])
		numArgs := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		args := make([]uint16, numArgs)
		for j := range args {
			if offset+2 > len(data) {
				return nil, fmt.Errorf("BootstrapMethods truncated at arg %d of method %d", j, i)
			}
			args[j] = binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
		}
		methods[i] = BootstrapMethod{MethodRef: methodRef, BootstrapArguments: args}
	}
	return methods, nil
}
