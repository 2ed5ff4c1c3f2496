// Package mangle implements the bijective stub-name encoding that
// tiervm's generated code uses to name cross-class references: field
// accesses, resolved/unresolved calls, class-object loads, and the
// handful of plain global symbols the pipeline needs. Every mangled
// name demangles back to exactly the request that produced it.
package mangle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corejvm/tiervm/pkg/descriptor"
)

// Kind identifies which of the grammar's alternatives a mangled
// symbol belongs to.
type Kind uint8

const (
	DirectCall Kind = iota
	OSRMethod
	FieldAccess
	VirtualCall
	InterfaceCall
	SpecialCall
	StaticCall
	ClassObjectAccess
	ClassObjectGlobal
	MethodGlobal
	StringGlobal
)

const (
	prefixVirtualCall   = "Virtual Call to "
	prefixInterfaceCall = "Interface Call to "
	prefixSpecialCall   = "Special Call to "
	prefixStaticCall    = "Static Call to "
	prefixLoad          = "Load "
	prefixMethodGlobal  = "&"
	prefixStringGlobal  = "'"
	specialFromMarker   = ":from "
)

// Symbol is the demangled, structured form of a stub name — the
// decoded request the pipeline's definitions generator dispatches on.
type Symbol struct {
	Kind Kind

	// DirectCall, OSRMethod, VirtualCall, InterfaceCall, SpecialCall, StaticCall
	ClassName  string
	MethodName string
	MethodType descriptor.MethodType

	// OSRMethod only.
	Offset uint32

	// SpecialCall only, optional: the declared type of the field the
	// call was resolved "from" (distinguishes super-constructor calls
	// from plain invokespecial).
	SpecialFrom    *descriptor.FieldType
	hasSpecialFrom bool

	// FieldAccess only.
	FieldName string
	FieldType descriptor.FieldType

	// ClassObjectAccess / ClassObjectGlobal only.
	ClassObjectType descriptor.FieldType

	// MethodGlobal reuses ClassName/MethodName/MethodType above.

	// StringGlobal only: the literal string contents (raw, not escaped).
	StringContents string
}

// String mangles a Symbol back into its grammar-encoded name.
func (s Symbol) String() string {
	switch s.Kind {
	case DirectCall:
		return directCall(s.ClassName, s.MethodName, s.MethodType)
	case OSRMethod:
		return fmt.Sprintf("%s$%d", directCall(s.ClassName, s.MethodName, s.MethodType), s.Offset)
	case FieldAccess:
		return fmt.Sprintf("%s.%s:%s", s.ClassName, s.FieldName, s.FieldType.String())
	case VirtualCall:
		return prefixVirtualCall + directCall(s.ClassName, s.MethodName, s.MethodType)
	case InterfaceCall:
		return prefixInterfaceCall + directCall(s.ClassName, s.MethodName, s.MethodType)
	case SpecialCall:
		base := prefixSpecialCall + directCall(s.ClassName, s.MethodName, s.MethodType)
		if s.hasSpecialFrom {
			base += specialFromMarker + s.SpecialFrom.String()
		}
		return base
	case StaticCall:
		return prefixStaticCall + directCall(s.ClassName, s.MethodName, s.MethodType)
	case ClassObjectAccess:
		return prefixLoad + s.ClassObjectType.String()
	case ClassObjectGlobal:
		return s.ClassObjectType.String()
	case MethodGlobal:
		return prefixMethodGlobal + directCall(s.ClassName, s.MethodName, s.MethodType)
	case StringGlobal:
		return prefixStringGlobal + s.StringContents
	default:
		panic(fmt.Sprintf("mangle: unknown symbol kind %d", s.Kind))
	}
}

func directCall(className, methodName string, mt descriptor.MethodType) string {
	return fmt.Sprintf("%s.%s:%s", className, methodName, mt.String())
}

// DirectCallSymbol, FieldAccessSymbol, etc. are constructors for the
// common cases; callers assembling a Symbol literal directly (e.g.
// when round-tripping a Demangle result) are equally supported.

func DirectCallSymbol(class, method string, mt descriptor.MethodType) Symbol {
	return Symbol{Kind: DirectCall, ClassName: class, MethodName: method, MethodType: mt}
}

func OSRMethodSymbol(class, method string, mt descriptor.MethodType, offset uint32) Symbol {
	return Symbol{Kind: OSRMethod, ClassName: class, MethodName: method, MethodType: mt, Offset: offset}
}

func FieldAccessSymbol(class, field string, ft descriptor.FieldType) Symbol {
	return Symbol{Kind: FieldAccess, ClassName: class, FieldName: field, FieldType: ft}
}

func VirtualCallSymbol(class, method string, mt descriptor.MethodType) Symbol {
	return Symbol{Kind: VirtualCall, ClassName: class, MethodName: method, MethodType: mt}
}

func InterfaceCallSymbol(class, method string, mt descriptor.MethodType) Symbol {
	return Symbol{Kind: InterfaceCall, ClassName: class, MethodName: method, MethodType: mt}
}

func SpecialCallSymbol(class, method string, mt descriptor.MethodType, from *descriptor.FieldType) Symbol {
	s := Symbol{Kind: SpecialCall, ClassName: class, MethodName: method, MethodType: mt}
	if from != nil {
		s.SpecialFrom = from
		s.hasSpecialFrom = true
	}
	return s
}

func StaticCallSymbol(class, method string, mt descriptor.MethodType) Symbol {
	return Symbol{Kind: StaticCall, ClassName: class, MethodName: method, MethodType: mt}
}

func ClassObjectAccessSymbol(ft descriptor.FieldType) Symbol {
	return Symbol{Kind: ClassObjectAccess, ClassObjectType: ft}
}

func ClassObjectGlobalSymbol(ft descriptor.FieldType) Symbol {
	return Symbol{Kind: ClassObjectGlobal, ClassObjectType: ft}
}

func MethodGlobalSymbol(class, method string, mt descriptor.MethodType) Symbol {
	return Symbol{Kind: MethodGlobal, ClassName: class, MethodName: method, MethodType: mt}
}

func StringGlobalSymbol(contents string) Symbol {
	return Symbol{Kind: StringGlobal, StringContents: contents}
}

// Demangle inverts Symbol.String. Ambiguity between forms is resolved
// by their distinct literal prefixes, tried longest/most-specific
// first; a string matching no alternative is not a valid mangled name.
func Demangle(name string) (Symbol, error) {
	switch {
	case strings.HasPrefix(name, prefixVirtualCall):
		return demangleCallForm(VirtualCall, name[len(prefixVirtualCall):])
	case strings.HasPrefix(name, prefixInterfaceCall):
		return demangleCallForm(InterfaceCall, name[len(prefixInterfaceCall):])
	case strings.HasPrefix(name, prefixSpecialCall):
		return demangleSpecialCall(name[len(prefixSpecialCall):])
	case strings.HasPrefix(name, prefixStaticCall):
		return demangleCallForm(StaticCall, name[len(prefixStaticCall):])
	case strings.HasPrefix(name, prefixLoad):
		ft, err := descriptor.ParseFieldType(name[len(prefixLoad):])
		if err != nil {
			return Symbol{}, fmt.Errorf("mangle: demangling class-object-access %q: %w", name, err)
		}
		return ClassObjectAccessSymbol(ft), nil
	case strings.HasPrefix(name, prefixMethodGlobal):
		return demangleCallForm(MethodGlobal, name[len(prefixMethodGlobal):])
	case strings.HasPrefix(name, prefixStringGlobal):
		return StringGlobalSymbol(name[len(prefixStringGlobal):]), nil
	default:
		// Remaining alternatives are field-access, osr-method,
		// direct-call, and class-object-global; all of these are
		// distinguished by scanning the body, not by a literal prefix.
		return demangleUnprefixed(name)
	}
}

func demangleCallForm(kind Kind, body string) (Symbol, error) {
	class, method, mt, _, err := splitDirectCall(body)
	if err != nil {
		return Symbol{}, fmt.Errorf("mangle: demangling call form %q: %w", body, err)
	}
	return Symbol{Kind: kind, ClassName: class, MethodName: method, MethodType: mt}, nil
}

func demangleSpecialCall(body string) (Symbol, error) {
	main := body
	var fromPart string
	hasFrom := false
	if idx := strings.Index(body, specialFromMarker); idx >= 0 {
		main = body[:idx]
		fromPart = body[idx+len(specialFromMarker):]
		hasFrom = true
	}
	class, method, mt, _, err := splitDirectCall(main)
	if err != nil {
		return Symbol{}, fmt.Errorf("mangle: demangling special call %q: %w", body, err)
	}
	s := Symbol{Kind: SpecialCall, ClassName: class, MethodName: method, MethodType: mt}
	if hasFrom {
		ft, err := descriptor.ParseFieldType(fromPart)
		if err != nil {
			return Symbol{}, fmt.Errorf("mangle: demangling special call from-type %q: %w", fromPart, err)
		}
		s.SpecialFrom = &ft
		s.hasSpecialFrom = true
	}
	return s, nil
}

// demangleUnprefixed handles field-access, osr-method, direct-call,
// and class-object-global, none of which carry a literal prefix
// distinguishing them from one another.
func demangleUnprefixed(name string) (Symbol, error) {
	// class-object-global is a bare field type descriptor: it has no
	// '.' separator the other three forms require.
	if !strings.Contains(name, ".") {
		ft, err := descriptor.ParseFieldType(name)
		if err != nil {
			return Symbol{}, fmt.Errorf("mangle: %q matches no known form: %w", name, err)
		}
		return ClassObjectGlobalSymbol(ft), nil
	}

	class, member, typePart, osrOffset, hasOSR, err := splitMember(name)
	if err != nil {
		return Symbol{}, fmt.Errorf("mangle: demangling %q: %w", name, err)
	}

	// A method-type descriptor starts with '(': direct-call or osr-method.
	if strings.HasPrefix(typePart, "(") {
		mt, err := descriptor.ParseMethodType(typePart)
		if err != nil {
			return Symbol{}, fmt.Errorf("mangle: demangling method type in %q: %w", name, err)
		}
		if hasOSR {
			return OSRMethodSymbol(class, member, mt, osrOffset), nil
		}
		return DirectCallSymbol(class, member, mt), nil
	}

	ft, err := descriptor.ParseFieldType(typePart)
	if err != nil {
		return Symbol{}, fmt.Errorf("mangle: demangling field type in %q: %w", name, err)
	}
	return FieldAccessSymbol(class, member, ft), nil
}

// splitDirectCall parses "<class>.<member>:<type>" optionally followed
// by "$<offset>", returning the OSR offset (0 when none is present).
func splitDirectCall(s string) (class, member string, mt descriptor.MethodType, offset uint32, err error) {
	class, member, typePart, osrOffset, hasOSR, err := splitMember(s)
	if err != nil {
		return "", "", descriptor.MethodType{}, 0, err
	}
	mt, err = descriptor.ParseMethodType(typePart)
	if err != nil {
		return "", "", descriptor.MethodType{}, 0, fmt.Errorf("parsing method type: %w", err)
	}
	if hasOSR {
		return class, member, mt, osrOffset, nil
	}
	return class, member, mt, 0, nil
}

// splitMember splits "<class>.<member>:<type>[$<offset>]" into its
// components. The class name may itself contain '/' (package
// separators) but never '.', so the LAST '.' before the FIRST ':'
// cleanly separates class from member; descriptors never contain
// unescaped ':' or '$' at top level either.
func splitMember(s string) (class, member, typePart string, offset uint32, hasOffset bool, err error) {
	colonIdx := strings.IndexByte(s, ':')
	if colonIdx < 0 {
		return "", "", "", 0, false, fmt.Errorf("missing ':' separator in %q", s)
	}
	head := s[:colonIdx]
	rest := s[colonIdx+1:]

	dotIdx := strings.LastIndexByte(head, '.')
	if dotIdx < 0 {
		return "", "", "", 0, false, fmt.Errorf("missing '.' separator in %q", s)
	}
	class = head[:dotIdx]
	member = head[dotIdx+1:]

	// A nested-class binary name can itself contain '$' (e.g.
	// "Outer$Inner"), so the OSR offset marker is only recognized when
	// the suffix following the LAST '$' is purely numeric; otherwise
	// the '$' belongs to a class name inside the descriptor.
	if dollarIdx := strings.LastIndexByte(rest, '$'); dollarIdx >= 0 {
		if n, perr := strconv.ParseUint(rest[dollarIdx+1:], 10, 32); perr == nil {
			return class, member, rest[:dollarIdx], uint32(n), true, nil
		}
	}
	return class, member, rest, 0, false, nil
}
