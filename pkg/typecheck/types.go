// Package typecheck implements the per-method bytecode type checker:
// a worklist dataflow pass that computes, for every basic-block entry
// offset, the operand-stack and locals type vectors reaching that
// point, and optionally the state at one requested offset for OSR.
// codegen uses the set of block-entry offsets as its basic-block
// leaders; neither codegen nor osr reads the per-slot types, since
// runtime.Value carries its own kind tag.
package typecheck

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/descriptor"
)

// VType is a verification-time type: either a primitive computational
// type, a reference type, an address returned by jsr, or "unset".
type VType struct {
	Kind VKind
	// ClassName identifies a VRef more precisely: a binary class name
	// (e.g. "java/lang/String") for object references, or a full array
	// descriptor (e.g. "[I", "[Ljava/lang/String;") for array
	// references — codegen only needs it to recover an aaload's element
	// type, not to key a symbol table, so the mixed representation is
	// harmless. Empty means null or an otherwise unresolved reference.
	ClassName string
}

type VKind uint8

const (
	VTop           VKind = iota // slot holds nothing meaningful (high half of a wide value, or never-assigned local)
	VInt
	VFloat
	VLong
	VDouble
	VRef                 // including null; ClassName == "" means null or unresolved
	VReturnAddress
)

func (v VType) String() string {
	switch v.Kind {
	case VTop:
		return "top"
	case VInt:
		return "int"
	case VFloat:
		return "float"
	case VLong:
		return "long"
	case VDouble:
		return "double"
	case VReturnAddress:
		return "returnAddress"
	case VRef:
		if v.ClassName == "" {
			return "ref"
		}
		return "ref(" + v.ClassName + ")"
	default:
		return "?"
	}
}

var (
	Top   = VType{Kind: VTop}
	TInt  = VType{Kind: VInt}
	TFloat  = VType{Kind: VFloat}
	TLong = VType{Kind: VLong}
	TDouble = VType{Kind: VDouble}
	TRet  = VType{Kind: VReturnAddress}
)

func Ref(className string) VType { return VType{Kind: VRef, ClassName: className} }

// FromFieldType maps a descriptor type to its verification-time
// computational type (JVMS 2.11.1: byte/char/short/boolean all widen
// to int on the operand stack and in locals).
func FromFieldType(ft descriptor.FieldType) VType {
	switch ft.Kind {
	case descriptor.Byte, descriptor.Char, descriptor.Short, descriptor.Boolean, descriptor.Int:
		return TInt
	case descriptor.Float:
		return TFloat
	case descriptor.Long:
		return TLong
	case descriptor.Double:
		return TDouble
	case descriptor.Class, descriptor.Array:
		return Ref(ft.String())
	default:
		return Top
	}
}

// IsWide reports whether v occupies two slots in locals/stack.
func (v VType) IsWide() bool { return v.Kind == VLong || v.Kind == VDouble }

// State is the type state (locals + operand stack) at a program
// point, either a basic block's entry or a specific captured offset.
type State struct {
	Locals []VType
	Stack  []VType
	// SubroutineEntry is the bytecode offset of the jsr target this
	// state is executing within, or 0 outside any subroutine. tiervm
	// does not support nested/recursive subroutines (javac has not
	// emitted jsr/ret since Java 6), so one entry offset per state is
	// enough to pair a ret back up with its jsr call site.
	SubroutineEntry int
}

func (s State) clone() State {
	out := State{Locals: make([]VType, len(s.Locals)), Stack: make([]VType, len(s.Stack)), SubroutineEntry: s.SubroutineEntry}
	copy(out.Locals, s.Locals)
	copy(out.Stack, s.Stack)
	return out
}

func (s State) push(v VType) State {
	s.Stack = append(append([]VType{}, s.Stack...), v)
	return s
}

func (s State) pop() (State, VType) {
	if len(s.Stack) == 0 {
		return s, Top
	}
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return s, v
}

func (s State) setLocal(i int, v VType) State {
	if i >= len(s.Locals) {
		grown := make([]VType, i+1)
		copy(grown, s.Locals)
		s.Locals = grown
	}
	s.Locals[i] = v
	if v.IsWide() && i+1 < len(s.Locals) {
		s.Locals[i+1] = Top
	}
	return s
}

func (s State) getLocal(i int) VType {
	if i < 0 || i >= len(s.Locals) {
		return Top
	}
	return s.Locals[i]
}

// merge combines two type states reaching the same offset from
// different predecessors. Equal types are kept; any mismatch widens
// to Top, matching the verifier's conservative least-upper-bound rule
// without a full class-hierarchy lattice (tiervm trusts javac-produced
// bytecode, so true LUB mismatches should not occur on valid input).
func merge(a, b State) (State, bool) {
	changed := false
	out := a.clone()
	if len(b.Locals) < len(out.Locals) {
		out.Locals = out.Locals[:len(b.Locals)]
	}
	for i := range out.Locals {
		if !sameType(out.Locals[i], b.Locals[i]) {
			if out.Locals[i].Kind != VTop {
				changed = true
			}
			out.Locals[i] = Top
		}
	}
	if len(a.Stack) != len(b.Stack) {
		// Divergent stack depth across a merge point is a malformed
		// input; keep the first-seen shape and let downstream checks fail.
		return out, changed
	}
	for i := range out.Stack {
		if !sameType(out.Stack[i], b.Stack[i]) {
			if out.Stack[i].Kind != VTop {
				changed = true
			}
			out.Stack[i] = Top
		}
	}
	return out, changed
}

func sameType(a, b VType) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == VRef {
		return a.ClassName == b.ClassName
	}
	return true
}

func (v VType) GoString() string { return fmt.Sprintf("VType{%s}", v.String()) }
