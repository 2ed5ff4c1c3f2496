// Package descriptor implements the JVM field and method descriptor
// grammar: parsing the textual encoding used in class files into typed
// values, and rendering typed values back into that same encoding.
package descriptor

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a FieldType: a base type, a class
// reference, or an array.
type Kind uint8

const (
	Byte Kind = iota
	Char
	Double
	Float
	Int
	Long
	Short
	Boolean
	Void
	Class
	Array
)

func (k Kind) String() string {
	switch k {
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Double:
		return "double"
	case Float:
		return "float"
	case Int:
		return "int"
	case Long:
		return "long"
	case Short:
		return "short"
	case Boolean:
		return "boolean"
	case Void:
		return "void"
	case Class:
		return "class"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// FieldType is a single JVM type: a primitive, void (method return
// position only), a class reference, or an array of some component
// type. It is comparable so it can key maps (mangled-name caches do
// exactly that).
type FieldType struct {
	Kind Kind
	// ClassName is set when Kind == Class: the binary class name
	// (slash-separated, no leading 'L' or trailing ';').
	ClassName string
	// Component is the element type when Kind == Array. Stored as a
	// pointer so FieldType stays a fixed-size value for every other
	// Kind; arrays are rare enough that the extra indirection is cheap.
	Component *FieldType
}

var (
	ByteType    = FieldType{Kind: Byte}
	CharType    = FieldType{Kind: Char}
	DoubleType  = FieldType{Kind: Double}
	FloatType   = FieldType{Kind: Float}
	IntType     = FieldType{Kind: Int}
	LongType    = FieldType{Kind: Long}
	ShortType   = FieldType{Kind: Short}
	BooleanType = FieldType{Kind: Boolean}
	VoidType    = FieldType{Kind: Void}
)

// ClassType builds a reference type for the given binary class name.
func ClassType(className string) FieldType {
	return FieldType{Kind: Class, ClassName: className}
}

// ArrayType builds an array type with the given component type.
func ArrayType(component FieldType) FieldType {
	return FieldType{Kind: Array, Component: &component}
}

// IsReference reports whether a value of this type is a heap reference
// (object or array), as opposed to a primitive.
func (t FieldType) IsReference() bool {
	return t.Kind == Class || t.Kind == Array
}

// IsWide reports whether this type occupies two local-variable slots
// or two operand-stack words (long and double only), per JVMS 2.6.1/2.6.2.
func (t FieldType) IsWide() bool {
	return t.Kind == Long || t.Kind == Double
}

// String renders the type descriptor encoding (e.g. "I", "[Ljava/lang/String;").
func (t FieldType) String() string {
	var b strings.Builder
	t.writeTo(&b)
	return b.String()
}

func (t FieldType) writeTo(b *strings.Builder) {
	switch t.Kind {
	case Byte:
		b.WriteByte('B')
	case Char:
		b.WriteByte('C')
	case Double:
		b.WriteByte('D')
	case Float:
		b.WriteByte('F')
	case Int:
		b.WriteByte('I')
	case Long:
		b.WriteByte('J')
	case Short:
		b.WriteByte('S')
	case Boolean:
		b.WriteByte('Z')
	case Void:
		b.WriteByte('V')
	case Class:
		b.WriteByte('L')
		b.WriteString(t.ClassName)
		b.WriteByte(';')
	case Array:
		b.WriteByte('[')
		t.Component.writeTo(b)
	}
}

// Verify reports whether text is a well-formed field type descriptor:
// it parses without error and its own textual encoding reproduces
// text exactly. Total — never panics, even on garbage input.
func (FieldType) Verify(text string) bool {
	t, err := ParseFieldType(text)
	if err != nil {
		return false
	}
	return t.String() == text
}

// Pretty renders t as a Java source-level type name: a dotted class
// name or primitive keyword, followed by one "[]" per array
// dimension (e.g. "[Ljava/lang/String;" -> "java.lang.String[]").
func (t FieldType) Pretty() string {
	dims := 0
	for t.Kind == Array {
		dims++
		t = *t.Component
	}
	var base string
	if t.Kind == Class {
		base = strings.ReplaceAll(t.ClassName, "/", ".")
	} else {
		base = t.Kind.String()
	}
	return base + strings.Repeat("[]", dims)
}

// Visitor dispatches on a field type's three grammar alternatives: a
// primitive base type, a class (object) reference, or an array of
// some component type.
type Visitor interface {
	VisitBase(k Kind)
	VisitObject(className string)
	VisitArray(component FieldType)
}

// Visit calls the Visitor method matching t's alternative.
func (t FieldType) Visit(v Visitor) {
	switch t.Kind {
	case Class:
		v.VisitObject(t.ClassName)
	case Array:
		v.VisitArray(*t.Component)
	default:
		v.VisitBase(t.Kind)
	}
}

// MethodType is a parsed method descriptor: ordered parameter types
// plus a return type.
type MethodType struct {
	Params []FieldType
	Return FieldType
}

// String renders the method descriptor encoding (e.g. "(ILjava/lang/String;)V").
func (m MethodType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		p.writeTo(&b)
	}
	b.WriteByte(')')
	m.Return.writeTo(&b)
	return b.String()
}

// ParamSlots returns the number of local-variable/operand-stack slots
// the parameter list occupies, counting long/double as two.
func (m MethodType) ParamSlots() int {
	n := 0
	for _, p := range m.Params {
		if p.IsWide() {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ParseFieldType parses a single field type descriptor. The entire
// input must be consumed; trailing garbage is an error.
func ParseFieldType(s string) (FieldType, error) {
	t, rest, err := parseFieldType(s)
	if err != nil {
		return FieldType{}, err
	}
	if rest != "" {
		return FieldType{}, fmt.Errorf("descriptor: trailing data after field type %q: %q", s, rest)
	}
	return t, nil
}

// parseFieldType parses a single field type prefix of s and returns
// the unconsumed remainder.
func parseFieldType(s string) (FieldType, string, error) {
	if s == "" {
		return FieldType{}, "", fmt.Errorf("descriptor: empty field type")
	}
	switch s[0] {
	case 'B':
		return ByteType, s[1:], nil
	case 'C':
		return CharType, s[1:], nil
	case 'D':
		return DoubleType, s[1:], nil
	case 'F':
		return FloatType, s[1:], nil
	case 'I':
		return IntType, s[1:], nil
	case 'J':
		return LongType, s[1:], nil
	case 'S':
		return ShortType, s[1:], nil
	case 'Z':
		return BooleanType, s[1:], nil
	case 'V':
		return VoidType, s[1:], nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return FieldType{}, "", fmt.Errorf("descriptor: unterminated class type in %q", s)
		}
		return ClassType(s[1:end]), s[end+1:], nil
	case '[':
		component, rest, err := parseFieldType(s[1:])
		if err != nil {
			return FieldType{}, "", fmt.Errorf("descriptor: array component: %w", err)
		}
		return ArrayType(component), rest, nil
	default:
		return FieldType{}, "", fmt.Errorf("descriptor: unknown type tag %q in %q", s[0], s)
	}
}

// ParseMethodType parses a method descriptor of the form "(ArgTypes)ReturnType".
func ParseMethodType(s string) (MethodType, error) {
	if len(s) == 0 || s[0] != '(' {
		return MethodType{}, fmt.Errorf("descriptor: method descriptor %q must start with '('", s)
	}
	rest := s[1:]
	var params []FieldType
	for {
		if rest == "" {
			return MethodType{}, fmt.Errorf("descriptor: unterminated parameter list in %q", s)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		// Void is only valid in return position.
		if rest[0] == 'V' {
			return MethodType{}, fmt.Errorf("descriptor: void is not a valid parameter type in %q", s)
		}
		var p FieldType
		var err error
		p, rest, err = parseFieldType(rest)
		if err != nil {
			return MethodType{}, fmt.Errorf("descriptor: parsing parameter: %w", err)
		}
		params = append(params, p)
	}
	ret, err := ParseFieldType(rest)
	if err != nil {
		return MethodType{}, fmt.Errorf("descriptor: parsing return type: %w", err)
	}
	return MethodType{Params: params, Return: ret}, nil
}
