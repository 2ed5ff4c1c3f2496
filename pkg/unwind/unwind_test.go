package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corejvm/tiervm/pkg/codegen"
	"github.com/corejvm/tiervm/pkg/osr"
	"github.com/corejvm/tiervm/pkg/runtime"
)

func TestJavaFrameRootsSkipsPrimitivesAndNull(t *testing.T) {
	obj := &runtime.Object{Class: &runtime.Class{Name: "java/lang/Object"}}
	f := JavaFrame{
		Locals: []runtime.Value{runtime.Int32(7), runtime.Ref(obj), runtime.Null()},
		Stack:  []runtime.Value{runtime.Float64(1.5)},
	}

	roots := f.Roots()

	assert.Equal(t, []*runtime.Object{obj}, roots)
}

func TestFromCodegenFrameUsesOnlyLiveStackSlots(t *testing.T) {
	obj := &runtime.Object{Class: &runtime.Class{Name: "java/lang/Object"}}
	cf := codegen.NewFrame(nil, 1, 4)
	cf.Stack[0] = runtime.Ref(obj)
	// Stack[1:] is beyond the live depth and must not be scanned.
	cf.Stack[1] = runtime.Ref(&runtime.Object{Class: &runtime.Class{Name: "stale"}})

	jf := FromCodegenFrame(cf, nil, 3, 1)

	assert.Equal(t, 3, jf.BytecodeOffset)
	assert.Equal(t, []*runtime.Object{obj}, jf.Roots())
}

func TestFromOSRStateCarriesOffsetAndSlots(t *testing.T) {
	obj := &runtime.Object{Class: &runtime.Class{Name: "java/lang/Object"}}
	state := osr.State{Offset: 19, Locals: []runtime.Value{runtime.Ref(obj)}, Stack: nil}

	jf := FromOSRState(nil, state)

	assert.Equal(t, 19, jf.BytecodeOffset)
	assert.Equal(t, []*runtime.Object{obj}, jf.Roots())
}

func TestWalkStopsWhenVisitReturnsFalse(t *testing.T) {
	frames := []JavaFrame{
		{BytecodeOffset: 0},
		{BytecodeOffset: 1},
		{BytecodeOffset: 2},
	}
	var visited []int
	Walk(frames, func(f JavaFrame) bool {
		visited = append(visited, f.BytecodeOffset)
		return f.BytecodeOffset < 1
	})

	assert.Equal(t, []int{0, 1}, visited)
}
