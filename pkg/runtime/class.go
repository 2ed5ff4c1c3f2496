// Package runtime holds the execution-time representation of loaded
// classes: field layout, vtables, itables, and the initialization
// state machine, built from a parsed classfile.ClassFile by the
// preparation step described for component C.
package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

// InitStatus is the monotonic initialization state of a Class, JVMS 5.5.
type InitStatus int32

const (
	Uninitialized InitStatus = iota
	UnderInitialization
	Initialized
)

func (s InitStatus) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case UnderInitialization:
		return "under-initialization"
	case Initialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// ITable is one implemented interface's method table: a linear array
// of methods indexed by that interface's own per-method ordering,
// searched by InterfaceID at invokeinterface sites.
type ITable struct {
	InterfaceID int
	Interface   *Class
	Slots       []*Method
}

// Class is the runtime representation of a loaded, prepared class or
// interface — component C of the pipeline. Lifetime equal to the VM;
// the class loader owns every Class and hands out non-owning
// pointers, since the graph (class ↔ super, class ↔ interfaces,
// method ↔ class) is cyclic by nature.
type Class struct {
	Name        string
	Descriptor  descriptor.FieldType
	AccessFlags uint16
	File        *classfile.ClassFile

	Super      *Class
	Interfaces []*Class

	Methods []*Method
	Fields  []*Field

	VTable     []*Method
	ITables    []*ITable
	InterfaceID int

	// FieldAreaSize is the total instance-field byte size, including
	// the inherited superclass field area that precedes a class's own
	// fields.
	FieldAreaSize int
	// StaticArea holds one Value per static field, indexed the same
	// way Object.Fields is: by Field.Offset/slotSize. Same rationale
	// as Object's field storage — Go's GC needs typed slots, not raw
	// bytes, to see a static reference field.
	StaticArea []Value

	// Component is set for array classes: the element type's Class,
	// or nil if the component is a primitive.
	Component *Class
	// IsArray distinguishes a primitive-component array (Component nil)
	// from "not an array at all" (also Component nil).
	IsArray bool

	initStatus atomic.Int32

	hashCode      int32
	hashCodeIsSet bool
	hashCodeMu    sync.Mutex
}

// NewClass allocates a Class shell for the given classfile, without
// performing preparation (vtable/itable/field-layout computation);
// call Prepare once the superclass and interfaces are resolved.
func NewClass(name string, file *classfile.ClassFile) *Class {
	return &Class{
		Name:        name,
		Descriptor:  descriptor.ClassType(name),
		AccessFlags: file.AccessFlags,
		File:        file,
	}
}

func (c *Class) IsInterface() bool { return c.AccessFlags&classfile.AccInterface != 0 }
func (c *Class) IsAbstract() bool  { return c.AccessFlags&classfile.AccAbstract != 0 }

func (c *Class) Status() InitStatus { return InitStatus(c.initStatus.Load()) }

// IsSubclassOf reports whether c is target or a (possibly indirect)
// subclass of target. Used by instanceof/checkcast and by exception
// handler catch-type matching.
func (c *Class) IsSubclassOf(target *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		if cur == target {
			return true
		}
	}
	return false
}

// ImplementsInterface reports whether c (or a supertype) implements
// target, directly or transitively.
func (c *Class) ImplementsInterface(target *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		for _, iface := range cur.Interfaces {
			if iface == target || iface.ImplementsInterface(target) {
				return true
			}
		}
	}
	return false
}

// IsInstance reports whether an object of runtime class c is an
// instance of target — the pure predicate behind instanceof,
// checkcast, and exception-handler catch-type matching.
func (c *Class) IsInstance(target *Class) bool {
	if target.IsInterface() {
		return c.ImplementsInterface(target)
	}
	return c.IsSubclassOf(target)
}

// FindMethod looks up a declared (not inherited, not resolved) method
// on this class alone by name and type.
func (c *Class) FindMethod(name string, mt descriptor.MethodType) *Method {
	want := mt.String()
	for _, m := range c.Methods {
		if m.Name == name && m.Type.String() == want {
			return m
		}
	}
	return nil
}

// FindMethodInHierarchy walks c and its superclasses, JVMS 5.4.3.3 step (a).
func (c *Class) FindMethodInHierarchy(name string, mt descriptor.MethodType) *Method {
	for cur := c; cur != nil; cur = cur.Super {
		if m := cur.FindMethod(name, mt); m != nil {
			return m
		}
	}
	return nil
}

// FindField looks up a declared field on this class alone.
func (c *Class) FindField(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindFieldInHierarchy walks c and its superclasses/superinterfaces
// looking for a field declaration, JVMS 5.4.3.2.
func (c *Class) FindFieldInHierarchy(name string) *Field {
	for cur := c; cur != nil; cur = cur.Super {
		if f := cur.FindField(name); f != nil {
			return f
		}
	}
	for _, iface := range c.Interfaces {
		if f := iface.FindFieldInHierarchy(name); f != nil {
			return f
		}
	}
	return nil
}

// GetStatic and SetStatic read/write c's own static-field storage at
// the given Field.Offset; the field must be declared on c, not merely
// inherited (static fields are not inherited storage — a subclass
// referencing an inherited static field resolves to the declaring
// class's Class object first, per JVMS 5.4.3.2).
func (c *Class) GetStatic(offset int) Value {
	return c.StaticArea[offset/slotSize]
}

func (c *Class) SetStatic(offset int, v Value) {
	c.StaticArea[offset/slotSize] = v
}

// ITableFor returns the interface table tagged with iface's interface
// id, or nil if c does not implement iface.
func (c *Class) ITableFor(iface *Class) *ITable {
	for _, it := range c.ITables {
		if it.InterfaceID == iface.InterfaceID {
			return it
		}
	}
	return nil
}

func (c *Class) String() string {
	return fmt.Sprintf("Class(%s)", c.Name)
}
