package runtime

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/descriptor"
)

// ResolveVirtualMethod implements JVMS 5.4.3.3 method selection as a
// pure function of the class hierarchy, cacheable by (C, name, type).
//
// (a) walk C and its superclasses for a matching method.
// (b) among maximally-specific non-abstract interface methods of C
// matching (name, type), if exactly one exists, return it.
// (c) any superinterface method matching (name, type) that is
// neither private nor static — return one arbitrarily.
// (d) otherwise, resolution failure.
func ResolveVirtualMethod(c *Class, name string, mt descriptor.MethodType) (*Method, error) {
	if m := c.FindMethodInHierarchy(name, mt); m != nil {
		return m, nil
	}

	candidates := maximallySpecificInterfaceMethods(c, name, mt)
	var nonAbstract []*Method
	for _, m := range candidates {
		if !m.IsAbstract() {
			nonAbstract = append(nonAbstract, m)
		}
	}
	if len(nonAbstract) == 1 {
		return nonAbstract[0], nil
	}

	for _, m := range candidates {
		if !m.IsPrivate() && !m.IsStatic() {
			return m, nil
		}
	}

	return nil, fmt.Errorf("virtual resolution failed: %s.%s%s", c.Name, name, mt.String())
}

// ResolveInterfaceMethod implements JVMS 5.4.3.4.
//
// (a) (name, type) on C directly.
// (b) public, non-static (name, type) on java.lang.Object.
// (c) maximally-specific non-abstract superinterface method.
func ResolveInterfaceMethod(c *Class, name string, mt descriptor.MethodType) (*Method, error) {
	if m := c.FindMethod(name, mt); m != nil {
		return m, nil
	}
	if c.Super != nil {
		if m := c.Super.FindMethod(name, mt); m != nil && !m.IsStatic() && m.AccessFlags&0x0001 != 0 {
			return m, nil
		}
	}
	candidates := maximallySpecificInterfaceMethods(c, name, mt)
	var nonAbstract []*Method
	for _, m := range candidates {
		if !m.IsAbstract() {
			nonAbstract = append(nonAbstract, m)
		}
	}
	if len(nonAbstract) == 1 {
		return nonAbstract[0], nil
	}
	if len(nonAbstract) > 1 {
		return nonAbstract[0], nil
	}
	return nil, fmt.Errorf("interface resolution failed: %s.%s%s", c.Name, name, mt.String())
}

// maximallySpecificInterfaceMethods collects declared (name, type)
// matches across c's transitive superinterfaces, keeping only methods
// not shadowed by a more-derived interface's declaration of the same
// signature.
func maximallySpecificInterfaceMethods(c *Class, name string, mt descriptor.MethodType) []*Method {
	var all []*Method
	seen := map[*Class]bool{}
	var walk func(*Class)
	walk = func(ifc *Class) {
		if seen[ifc] {
			return
		}
		seen[ifc] = true
		if m := ifc.FindMethod(name, mt); m != nil {
			all = append(all, m)
		}
		for _, super := range ifc.Interfaces {
			walk(super)
		}
	}
	for cur := c; cur != nil; cur = cur.Super {
		for _, ifc := range cur.Interfaces {
			walk(ifc)
		}
	}

	// Drop any candidate that a more-derived candidate's interface
	// extends (i.e. keep only maximally-specific declarations).
	var maximal []*Method
	for _, m := range all {
		shadowed := false
		for _, other := range all {
			if other == m {
				continue
			}
			if other.Class.ImplementsInterface(m.Class) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			maximal = append(maximal, m)
		}
	}
	return maximal
}

// ResolveSpecialMethod implements the invokespecial redo rule from
// §4.7: resolve like a static-type (virtual) reference first; if the
// caller class has ACC_SUPER set, the resolved class is a proper
// superclass of the caller, and the method is not an instance
// initializer, redo resolution starting from the caller's direct
// superclass.
func ResolveSpecialMethod(caller *Class, staticType *Class, name string, mt descriptor.MethodType) (*Method, error) {
	resolved, err := ResolveVirtualMethod(staticType, name, mt)
	if err != nil {
		return nil, err
	}
	const accSuper = 0x0020
	properSuperclass := resolved.Class != caller && caller.IsSubclassOf(resolved.Class)
	if caller.AccessFlags&accSuper != 0 && properSuperclass && name != "<init>" {
		if caller.Super == nil {
			return resolved, nil
		}
		return ResolveVirtualMethod(caller.Super, name, mt)
	}
	return resolved, nil
}
