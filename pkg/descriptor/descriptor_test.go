package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FieldType
	}{
		{"byte", "B", ByteType},
		{"char", "C", CharType},
		{"double", "D", DoubleType},
		{"float", "F", FloatType},
		{"int", "I", IntType},
		{"long", "J", LongType},
		{"short", "S", ShortType},
		{"boolean", "Z", BooleanType},
		{"class", "Ljava/lang/String;", ClassType("java/lang/String")},
		{"array of int", "[I", ArrayType(IntType)},
		{"2d array", "[[I", ArrayType(ArrayType(IntType))},
		{"array of class", "[Ljava/lang/Object;", ArrayType(ClassType("java/lang/Object"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFieldType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseFieldTypeErrors(t *testing.T) {
	for _, in := range []string{"", "Q", "Ljava/lang/String", "[", "Itrailing"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseFieldType(in)
			assert.Error(t, err)
		})
	}
}

func TestParseMethodType(t *testing.T) {
	mt, err := ParseMethodType("(ILjava/lang/String;[D)V")
	require.NoError(t, err)
	require.Len(t, mt.Params, 3)
	assert.Equal(t, IntType, mt.Params[0])
	assert.Equal(t, ClassType("java/lang/String"), mt.Params[1])
	assert.Equal(t, ArrayType(DoubleType), mt.Params[2])
	assert.Equal(t, VoidType, mt.Return)
	assert.Equal(t, "(ILjava/lang/String;[D)V", mt.String())
}

func TestParseMethodTypeNoArgs(t *testing.T) {
	mt, err := ParseMethodType("()I")
	require.NoError(t, err)
	assert.Empty(t, mt.Params)
	assert.Equal(t, IntType, mt.Return)
}

func TestParseMethodTypeRejectsVoidParam(t *testing.T) {
	_, err := ParseMethodType("(V)I")
	assert.Error(t, err)
}

func TestParamSlotsCountsWideTypesTwice(t *testing.T) {
	mt, err := ParseMethodType("(JDI)V")
	require.NoError(t, err)
	assert.Equal(t, 5, mt.ParamSlots())
}

func TestIsWide(t *testing.T) {
	assert.True(t, LongType.IsWide())
	assert.True(t, DoubleType.IsWide())
	assert.False(t, IntType.IsWide())
	assert.False(t, ClassType("x").IsWide())
}

func TestIsReference(t *testing.T) {
	assert.True(t, ClassType("java/lang/Object").IsReference())
	assert.True(t, ArrayType(IntType).IsReference())
	assert.False(t, IntType.IsReference())
}

func TestVerify(t *testing.T) {
	var zero FieldType
	for _, in := range []string{"I", "Ljava/lang/String;", "[[I", "[Ljava/lang/Object;"} {
		assert.True(t, zero.Verify(in), in)
	}
	for _, in := range []string{"", "Q", "Ljava/lang/String", "[", "Itrailing"} {
		assert.False(t, zero.Verify(in), in)
	}
}

func TestPretty(t *testing.T) {
	tests := []struct {
		in   FieldType
		want string
	}{
		{IntType, "int"},
		{BooleanType, "boolean"},
		{ClassType("java/lang/String"), "java.lang.String"},
		{ArrayType(ClassType("java/lang/String")), "java.lang.String[]"},
		{ArrayType(ArrayType(IntType)), "int[][]"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Pretty())
		})
	}
}

type recordingVisitor struct {
	base      Kind
	baseSeen  bool
	className string
	objSeen   bool
	component FieldType
	arrSeen   bool
}

func (v *recordingVisitor) VisitBase(k Kind)              { v.base, v.baseSeen = k, true }
func (v *recordingVisitor) VisitObject(className string)  { v.className, v.objSeen = className, true }
func (v *recordingVisitor) VisitArray(component FieldType) { v.component, v.arrSeen = component, true }

func TestVisitDispatchesOnAlternative(t *testing.T) {
	var base recordingVisitor
	IntType.Visit(&base)
	assert.True(t, base.baseSeen)
	assert.Equal(t, Int, base.base)

	var obj recordingVisitor
	ClassType("java/lang/Object").Visit(&obj)
	assert.True(t, obj.objSeen)
	assert.Equal(t, "java/lang/Object", obj.className)

	var arr recordingVisitor
	ArrayType(IntType).Visit(&arr)
	assert.True(t, arr.arrSeen)
	assert.Equal(t, IntType, arr.component)
}
