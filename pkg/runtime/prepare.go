package runtime

import (
	"fmt"
)

// Prepare computes field layout, vtable, and itables for c, following
// §4.3. It must run after c.Super and c.Interfaces are resolved (the
// class loader is responsible for the topological load order that
// guarantees this).
func Prepare(c *Class, nextInterfaceID func() int) error {
	for _, m := range c.Methods {
		m.VTableSlot = -1 // assigned below for methods that need one
	}
	prepareFields(c)
	prepareVTable(c)
	if err := prepareITables(c, nextInterfaceID); err != nil {
		return err
	}
	return nil
}

// prepareFields computes instance-field offsets (following the
// superclass's field area) and assigns static-field storage within
// the class's own StaticArea.
func prepareFields(c *Class) {
	base := 0
	if c.Super != nil {
		base = c.Super.FieldAreaSize
	}

	offset := base
	var staticOffset int
	for _, f := range c.Fields {
		if f.IsStatic() {
			f.Offset = staticOffset
			staticOffset += fieldSlotSize(f.Type)
			continue
		}
		f.Offset = offset
		offset += fieldSlotSize(f.Type)
	}
	c.FieldAreaSize = offset
	c.StaticArea = make([]Value, staticOffset/slotSize)
}

// prepareVTable copies the superclass vtable, then assigns new slots
// for each own method needing one; an overriding method keeps the
// slot of the method it overrides.
func prepareVTable(c *Class) {
	var vtable []*Method
	if c.Super != nil {
		vtable = append(vtable, c.Super.VTable...)
	}

	for _, m := range c.Methods {
		if !NeedsVTableSlot(m.AccessFlags, m.Name) {
			continue
		}
		overriddenSlot := -1
		for i, existing := range vtable {
			if existing.Name == m.Name && existing.Type.String() == m.Type.String() {
				overriddenSlot = i
				break
			}
		}
		if overriddenSlot >= 0 {
			m.VTableSlot = overriddenSlot
			vtable[overriddenSlot] = m
		} else {
			m.VTableSlot = len(vtable)
			vtable = append(vtable, m)
		}
	}

	c.VTable = vtable
}

// prepareITables builds one ITable per interface directly or
// indirectly implemented, slots indexed by that interface's own
// per-method ordering (the interface's own prepared "vtable", which
// for an interface is simply its declared instance methods in
// declaration order since interfaces have no supertype to inherit
// slots from).
func prepareITables(c *Class, nextInterfaceID func() int) error {
	if c.IsInterface() {
		if c.InterfaceID == 0 {
			c.InterfaceID = nextInterfaceID()
		}
		// An interface's own "vtable" is every non-static method it
		// declares except <clinit> (abstract and default alike), in
		// declaration order; used as the itable slot ordering by
		// implementing classes.
		var slots []*Method
		for _, m := range c.Methods {
			if !m.IsStatic() && m.Name != "<clinit>" {
				slots = append(slots, m)
			}
		}
		c.VTable = slots
		return nil
	}

	seen := map[int]bool{}
	var allInterfaces []*Class
	var collect func(*Class)
	collect = func(ifc *Class) {
		if seen[ifc.InterfaceID] {
			return
		}
		seen[ifc.InterfaceID] = true
		allInterfaces = append(allInterfaces, ifc)
		for _, super := range ifc.Interfaces {
			collect(super)
		}
	}
	for cur := c; cur != nil; cur = cur.Super {
		for _, ifc := range cur.Interfaces {
			collect(ifc)
		}
	}

	for _, ifc := range allInterfaces {
		slots := make([]*Method, len(ifc.VTable))
		for i, abstractMethod := range ifc.VTable {
			impl, err := ResolveInterfaceMethod(c, abstractMethod.Name, abstractMethod.Type)
			if err != nil {
				// An unimplemented abstract method is only an error if
				// c is concrete; abstract classes may leave interface
				// methods unimplemented.
				if c.IsAbstract() {
					continue
				}
				return fmt.Errorf("class %s does not implement %s.%s%s: %w",
					c.Name, ifc.Name, abstractMethod.Name, abstractMethod.Type.String(), err)
			}
			slots[i] = impl
		}
		c.ITables = append(c.ITables, &ITable{InterfaceID: ifc.InterfaceID, Interface: ifc, Slots: slots})
	}
	return nil
}
