package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

func methodType(t *testing.T, s string) descriptor.MethodType {
	t.Helper()
	mt, err := descriptor.ParseMethodType(s)
	require.NoError(t, err)
	return mt
}

func newTestClass(name string, accessFlags uint16, methods []*Method) *Class {
	c := &Class{Name: name, Descriptor: descriptor.ClassType(name), AccessFlags: accessFlags}
	for _, m := range methods {
		m.Class = c
	}
	c.Methods = methods
	return c
}

func TestVTableOverrideKeepsSlot(t *testing.T) {
	nextID := idGen()

	a := newTestClass("A", 0, []*Method{
		{Name: "f", Type: methodType(t, "()I"), AccessFlags: 0},
	})
	require.NoError(t, Prepare(a, nextID))
	require.Len(t, a.VTable, 1)
	fSlotInA := a.Methods[0].VTableSlot
	assert.Equal(t, 0, fSlotInA)

	b := newTestClass("B", 0, []*Method{
		{Name: "f", Type: methodType(t, "()I"), AccessFlags: 0},
	})
	b.Super = a
	require.NoError(t, Prepare(b, nextID))

	assert.Equal(t, fSlotInA, b.Methods[0].VTableSlot, "override must keep the overridden slot")
	assert.Same(t, b.Methods[0], b.VTable[fSlotInA])
}

func TestVirtualDispatchScenario(t *testing.T) {
	// B extends A; A.f returns 1, B.f returns 2 (JVMS virtual dispatch).
	nextID := idGen()
	a := newTestClass("A", 0, []*Method{{Name: "f", Type: methodType(t, "()I")}})
	require.NoError(t, Prepare(a, nextID))

	b := newTestClass("B", 0, []*Method{{Name: "f", Type: methodType(t, "()I")}})
	b.Super = a
	require.NoError(t, Prepare(b, nextID))

	resolved, err := ResolveVirtualMethod(b, "f", methodType(t, "()I"))
	require.NoError(t, err)
	assert.Same(t, b.Methods[0], resolved)
}

func TestInterfaceDispatchScenario(t *testing.T) {
	// interface I { int g(); } class C implements I { int g() { return 7; } }
	nextID := idGen()
	iface := newTestClass("I", classfile.AccInterface|classfile.AccAbstract, []*Method{
		{Name: "g", Type: methodType(t, "()I"), AccessFlags: classfile.AccAbstract | classfile.AccPublic},
	})
	require.NoError(t, Prepare(iface, nextID))

	c := newTestClass("C", 0, []*Method{
		{Name: "g", Type: methodType(t, "()I"), AccessFlags: classfile.AccPublic},
	})
	c.Interfaces = []*Class{iface}
	require.NoError(t, Prepare(c, nextID))

	require.Len(t, c.ITables, 1)
	it := c.ITableFor(iface)
	require.NotNil(t, it)
	require.Len(t, it.Slots, 1)
	assert.Same(t, c.Methods[0], it.Slots[0])

	resolved, err := ResolveInterfaceMethod(c, "g", methodType(t, "()I"))
	require.NoError(t, err)
	assert.Same(t, c.Methods[0], resolved)
}

func TestFieldLayoutInheritsSuperArea(t *testing.T) {
	nextID := idGen()
	a := newTestClass("A", 0, nil)
	a.Fields = []*Field{{Name: "x", Type: descriptor.IntType}}
	a.Fields[0].Class = a
	require.NoError(t, Prepare(a, nextID))
	assert.Equal(t, 8, a.FieldAreaSize)

	b := newTestClass("B", 0, nil)
	b.Super = a
	b.Fields = []*Field{{Name: "y", Type: descriptor.IntType}}
	b.Fields[0].Class = b
	require.NoError(t, Prepare(b, nextID))

	assert.Equal(t, 0, a.Fields[0].Offset)
	assert.Equal(t, a.FieldAreaSize, b.Fields[0].Offset, "subclass fields follow the superclass field area")
	assert.Equal(t, 16, b.FieldAreaSize)
}

func TestInitializationIsMonotonicAndIdempotent(t *testing.T) {
	c := newTestClass("A", 0, nil)
	calls := 0
	err := InitializeClassObject(c, func(c *Class) error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, Initialized, c.Status())
	assert.Equal(t, 1, calls)

	// Re-initializing is a no-op.
	require.NoError(t, InitializeClassObject(c, func(c *Class) error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestInitializationOrdersSupertypesFirst(t *testing.T) {
	a := newTestClass("A", 0, nil)
	b := newTestClass("B", 0, nil)
	b.Super = a

	var order []string
	run := func(c *Class) error { order = append(order, c.Name); return nil }
	require.NoError(t, InitializeClassObject(b, run))

	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, Initialized, a.Status())
	assert.Equal(t, Initialized, b.Status())
}

func idGen() func() int {
	next := 0
	return func() int {
		next++
		return next
	}
}
