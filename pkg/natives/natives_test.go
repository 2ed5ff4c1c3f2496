package natives

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/runtime"
)

func setupBootstrap(t *testing.T) (*Natives, map[string]*runtime.Class) {
	t.Helper()
	n := New(&bytes.Buffer{})
	classes, err := n.Bootstrap()
	require.NoError(t, err)
	byName := map[string]*runtime.Class{}
	for _, c := range classes {
		byName[c.Name] = c
	}
	n.SetStringClass(byName["java/lang/String"])
	return n, byName
}

func TestBootstrapPreparesEveryClassWithAVTable(t *testing.T) {
	_, byName := setupBootstrap(t)
	for _, name := range []string{"java/lang/Object", "java/lang/String", "java/lang/Throwable", "java/io/PrintStream", "java/lang/System"} {
		c, ok := byName[name]
		require.True(t, ok, name)
		assert.NotNil(t, c.VTable)
	}
	assert.True(t, byName["java/lang/NullPointerException"].IsSubclassOf(byName["java/lang/Throwable"]))
}

func TestStringNativesRoundTrip(t *testing.T) {
	n, _ := setupBootstrap(t)

	hello, err := n.NewString("hello")
	require.NoError(t, err)
	world, err := n.NewString(" world")
	require.NoError(t, err)

	lenFn, err := n.Lookup("java/lang/String", "length", mustMT("()I"))
	require.NoError(t, err)
	lv, err := lenFn([]runtime.Value{runtime.Ref(hello)})
	require.NoError(t, err)
	assert.Equal(t, int32(5), lv.I32)

	concatFn, err := n.Lookup("java/lang/String", "concat", mustMT("(Ljava/lang/String;)Ljava/lang/String;"))
	require.NoError(t, err)
	cv, err := concatFn([]runtime.Value{runtime.Ref(hello), runtime.Ref(world)})
	require.NoError(t, err)
	assert.Equal(t, "hello world", n.stringOf(cv.Ref))

	eqFn, err := n.Lookup("java/lang/String", "equals", mustMT("(Ljava/lang/Object;)Z"))
	require.NoError(t, err)
	other, err := n.NewString("hello")
	require.NoError(t, err)
	ev, err := eqFn([]runtime.Value{runtime.Ref(hello), runtime.Ref(other)})
	require.NoError(t, err)
	assert.Equal(t, int32(1), ev.I32)

	hashFn, err := n.Lookup("java/lang/String", "hashCode", mustMT("()I"))
	require.NoError(t, err)
	hv, err := hashFn([]runtime.Value{runtime.Ref(hello)})
	require.NoError(t, err)
	want := int32(0)
	for _, c := range "hello" {
		want = 31*want + int32(c)
	}
	assert.Equal(t, want, hv.I32)
}

func TestThrowableMessageRoundTrip(t *testing.T) {
	n, byName := setupBootstrap(t)
	exc := runtime.NewObject(byName["java/lang/RuntimeException"])
	msg, err := n.NewString("boom")
	require.NoError(t, err)

	initFn, err := n.Lookup("java/lang/Throwable", "<init>", mustMT("(Ljava/lang/String;)V"))
	require.NoError(t, err)
	_, err = initFn([]runtime.Value{runtime.Ref(exc), runtime.Ref(msg)})
	require.NoError(t, err)

	getMsgFn, err := n.Lookup("java/lang/Throwable", "getMessage", mustMT("()Ljava/lang/String;"))
	require.NoError(t, err)
	mv, err := getMsgFn([]runtime.Value{runtime.Ref(exc)})
	require.NoError(t, err)
	assert.Equal(t, "boom", n.stringOf(mv.Ref))

	toStringFn, err := n.Lookup("java/lang/Throwable", "toString", mustMT("()Ljava/lang/String;"))
	require.NoError(t, err)
	sv, err := toStringFn([]runtime.Value{runtime.Ref(exc)})
	require.NoError(t, err)
	assert.Equal(t, "java/lang/RuntimeException: boom", n.stringOf(sv.Ref))
}

func TestPrintStreamPrintlnWritesToWiredWriter(t *testing.T) {
	var buf bytes.Buffer
	n := New(&buf)
	classes, err := n.Bootstrap()
	require.NoError(t, err)
	byName := map[string]*runtime.Class{}
	for _, c := range classes {
		byName[c.Name] = c
	}
	n.SetStringClass(byName["java/lang/String"])
	out := n.NewPrintStream(byName["java/io/PrintStream"], &buf)

	println32, err := n.Lookup("java/io/PrintStream", "println", mustMT("(I)V"))
	require.NoError(t, err)
	_, err = println32([]runtime.Value{runtime.Ref(out), runtime.Int32(42)})
	require.NoError(t, err)

	msg, err := n.NewString("hi")
	require.NoError(t, err)
	printlnStr, err := n.Lookup("java/io/PrintStream", "println", mustMT("(Ljava/lang/String;)V"))
	require.NoError(t, err)
	_, err = printlnStr([]runtime.Value{runtime.Ref(out), runtime.Ref(msg)})
	require.NoError(t, err)

	assert.Equal(t, "42\nhi\n", buf.String())
}

func TestSystemArraycopyRejectsOutOfBounds(t *testing.T) {
	n, byName := setupBootstrap(t)
	arrClass := &runtime.Class{Name: "[I", IsArray: true}
	src := runtime.NewArray(arrClass, 3)
	dst := runtime.NewArray(arrClass, 3)
	src.Elements[0], src.Elements[1], src.Elements[2] = runtime.Int32(1), runtime.Int32(2), runtime.Int32(3)

	fn, err := n.Lookup("java/lang/System", "arraycopy", mustMT("(Ljava/lang/Object;ILjava/lang/Object;II)V"))
	require.NoError(t, err)

	_, err = fn([]runtime.Value{runtime.Ref(src), runtime.Int32(0), runtime.Ref(dst), runtime.Int32(0), runtime.Int32(3)})
	require.NoError(t, err)
	assert.Equal(t, src.Elements, dst.Elements)

	_, err = fn([]runtime.Value{runtime.Ref(src), runtime.Int32(0), runtime.Ref(dst), runtime.Int32(0), runtime.Int32(10)})
	assert.Error(t, err)
	_ = byName
}
