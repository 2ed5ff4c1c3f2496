package vm

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/materialize"
	"github.com/corejvm/tiervm/pkg/natives"
	"github.com/corejvm/tiervm/pkg/runtime"
)

// unreachedLoader never serves a user class — every test here only
// exercises bootstrap wiring, which never touches the raw loader.
type unreachedLoader struct{}

func (unreachedLoader) Load(className string) ([]byte, error) {
	return nil, fmt.Errorf("unreached: %s", className)
}
func (unreachedLoader) Close() error { return nil }

func newTestClassLoader(t *testing.T, stdout *bytes.Buffer) (*ClassLoader, *natives.Natives) {
	t.Helper()
	n := natives.New(stdout)
	pipeline := materialize.New(nil, nil, n)
	cl, err := NewClassLoader(unreachedLoader{}, n, pipeline)
	require.NoError(t, err)
	pipeline.Loader = cl
	return cl, n
}

func TestNewClassLoaderWiresSystemOut(t *testing.T) {
	var stdout bytes.Buffer
	cl, n := newTestClassLoader(t, &stdout)

	system, err := cl.LoadClass("java/lang/System")
	require.NoError(t, err)
	outField := system.FindField("out")
	require.NotNil(t, outField)

	out := system.GetStatic(outField.Offset)
	require.False(t, out.IsNull())

	printlnStr, err := n.Lookup("java/io/PrintStream", "println", descriptor.MethodType{
		Params: []descriptor.FieldType{descriptor.ClassType("java/lang/String")},
		Return: descriptor.VoidType,
	})
	require.NoError(t, err)

	msg, err := n.NewString("hello from main")
	require.NoError(t, err)
	_, err = printlnStr([]runtime.Value{out, runtime.Ref(msg)})
	require.NoError(t, err)
	assert.Equal(t, "hello from main\n", stdout.String())
}

func TestApplyConstantValueDefaultsSetsStaticIntAndString(t *testing.T) {
	var stdout bytes.Buffer
	cl, _ := newTestClassLoader(t, &stdout)

	cf := &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			nil,
			&classfile.ConstantInteger{Value: 42},       // index 1
			&classfile.ConstantUtf8{Value: "hi"},        // index 2
			&classfile.ConstantString{StringIndex: 2},   // index 3
		},
		Fields: []classfile.FieldInfo{
			{AccessFlags: classfile.AccStatic | classfile.AccFinal, Name: "ANSWER", Descriptor: "I", ConstantValueIndex: 1},
			{AccessFlags: classfile.AccStatic | classfile.AccFinal, Name: "GREETING", Descriptor: "Ljava/lang/String;", ConstantValueIndex: 3},
		},
	}
	c := runtime.NewClass("test/Constants", cf)
	require.NoError(t, cl.populateFields(c, cf))
	require.NoError(t, runtime.Prepare(c, func() int { return 0 }))

	require.NoError(t, cl.applyConstantValueDefaults(c, cf))

	answer := c.FindField("ANSWER")
	require.NotNil(t, answer)
	assert.Equal(t, int32(42), c.GetStatic(answer.Offset).I32)

	greeting := c.FindField("GREETING")
	require.NotNil(t, greeting)
	greetingVal := c.GetStatic(greeting.Offset)
	require.False(t, greetingVal.IsNull())
}

func TestLoadClassCachesAcrossCalls(t *testing.T) {
	var stdout bytes.Buffer
	cl, _ := newTestClassLoader(t, &stdout)

	first, err := cl.LoadClass("java/lang/Object")
	require.NoError(t, err)
	second, err := cl.LoadClass("java/lang/Object")
	require.NoError(t, err)
	assert.Same(t, first, second)
}
