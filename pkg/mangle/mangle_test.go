package mangle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/descriptor"
)

func mustMethodType(t *testing.T, s string) descriptor.MethodType {
	t.Helper()
	mt, err := descriptor.ParseMethodType(s)
	require.NoError(t, err)
	return mt
}

func TestRoundTrip(t *testing.T) {
	mt := mustMethodType(t, "(I)I")
	ft := descriptor.IntType
	classFt := descriptor.ClassType("Hello")

	cases := []Symbol{
		DirectCallSymbol("Hello", "factorial", mt),
		OSRMethodSymbol("Hello", "loop", mt, 17),
		FieldAccessSymbol("Hello", "counter", ft),
		VirtualCallSymbol("Hello", "factorial", mt),
		InterfaceCallSymbol("Runnable", "run", mustMethodType(t, "()V")),
		SpecialCallSymbol("Hello", "<init>", mustMethodType(t, "()V"), nil),
		SpecialCallSymbol("Hello", "<init>", mustMethodType(t, "()V"), &classFt),
		StaticCallSymbol("Hello", "main", mustMethodType(t, "([Ljava/lang/String;)V")),
		ClassObjectAccessSymbol(classFt),
		ClassObjectGlobalSymbol(classFt),
		MethodGlobalSymbol("Hello", "factorial", mt),
		StringGlobalSymbol("hello world"),
	}

	for _, want := range cases {
		mangled := want.String()
		got, err := Demangle(mangled)
		require.NoError(t, err, "demangling %q", mangled)
		assert.Equal(t, want, got, "round trip of %q", mangled)
	}
}

func TestDemangleRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "nope", "Hello.foo", "Hello:I"} {
		_, err := Demangle(bad)
		assert.Error(t, err, bad)
	}
}

func TestNestedClassDollarIsNotMistakenForOSROffset(t *testing.T) {
	mt := mustMethodType(t, "(LOuter$Inner;)V")
	want := DirectCallSymbol("Hello", "accept", mt)
	mangled := want.String()
	got, err := Demangle(mangled)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDistinctPrefixesResolveAmbiguity(t *testing.T) {
	mt := mustMethodType(t, "()V")
	virtual := VirtualCallSymbol("Hello", "run", mt).String()
	iface := InterfaceCallSymbol("Hello", "run", mt).String()
	special := SpecialCallSymbol("Hello", "run", mt, nil).String()
	static := StaticCallSymbol("Hello", "run", mt).String()

	assert.NotEqual(t, virtual, iface)
	assert.NotEqual(t, special, static)

	for _, s := range []string{virtual, iface, special, static} {
		sym, err := Demangle(s)
		require.NoError(t, err)
		assert.Equal(t, "Hello", sym.ClassName)
		assert.Equal(t, "run", sym.MethodName)
	}
}
