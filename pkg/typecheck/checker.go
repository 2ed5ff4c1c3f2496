package typecheck

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/bytecode"
	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
)

// Result is the type checker's output for one method: the entry type
// state of every basic block, plus whichever single offset the caller
// asked to have captured for OSR.
type Result struct {
	// BlockEntry maps a basic-block leader offset to the type state
	// reaching it. Populated for offset 0, every branch and switch
	// target, the instruction after each conditional branch (and after
	// each jsr, reached through ret), and every exception handler's
	// start PC.
	BlockEntry map[int]State
	// Captured is the type state at the OSR offset requested via
	// Check's captureAt argument, if that offset was reached by any
	// control-flow path. Absent (ok=false) for unreachable offsets or
	// when no offset was requested.
	Captured   State
	capturedOK bool
}

// CapturedAt reports the state at the requested OSR offset, if reachable.
func (r Result) CapturedAt() (State, bool) { return r.Captured, r.capturedOK }

// returnInfo records a jsr call site so that ret can compute the
// operand stack and locals of the instruction following it.
type returnInfo struct {
	afterJsr int   // offset of the instruction after the jsr
	entry    State // the state the jsr pushed a return address from
}

// Check runs the worklist dataflow algorithm described for the
// bytecode type checker: seeded with offset 0 (locals = method
// parameters, empty stack) and every exception handler's start PC
// (stack holding exactly the thrown reference), it propagates type
// state forward along fall-through and branch edges until a fixed
// point, merging at confluence points. captureAt, if >= 0, names a
// single extra bytecode offset whose reaching state is recorded for
// OSR buffer construction; pass -1 to skip capture.
func Check(cf *classfile.ClassFile, mt descriptor.MethodType, isStatic bool, code *classfile.CodeAttribute, captureAt int) (Result, error) {
	res := Result{BlockEntry: make(map[int]State)}

	entry := entryState(mt, isStatic, code.MaxLocals)
	queue := []int{0}
	res.BlockEntry[0] = entry

	for _, h := range code.ExceptionHandlers {
		hState := State{
			Locals: entry.clone().Locals,
			Stack:  []VType{Ref(handlerCatchName(cf, h.CatchType))},
		}
		if existing, ok := res.BlockEntry[int(h.HandlerPC)]; ok {
			merged, _ := merge(existing, hState)
			res.BlockEntry[int(h.HandlerPC)] = merged
		} else {
			res.BlockEntry[int(h.HandlerPC)] = hState
			queue = append(queue, int(h.HandlerPC))
		}
	}

	subroutineReturn := map[int]returnInfo{} // jsr target offset -> call-site info

	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]
		if off >= len(code.Code) {
			continue
		}
		state, ok := res.BlockEntry[off]
		if !ok {
			continue
		}
		succ, err := runBlock(cf, code, off, state, captureAt, &res, subroutineReturn)
		if err != nil {
			return res, err
		}
		for _, s := range succ {
			if existing, ok := res.BlockEntry[s.offset]; ok {
				merged, changed := merge(existing, s.state)
				res.BlockEntry[s.offset] = merged
				if changed {
					queue = append(queue, s.offset)
				}
			} else {
				res.BlockEntry[s.offset] = s.state
				queue = append(queue, s.offset)
			}
		}
	}

	return res, nil
}

type successor struct {
	offset int
	state  State
}

// runBlock simulates instructions starting at off until it reaches an
// instruction that ends the basic block (branch, return, athrow, or a
// jump target belonging to another already-queued block), returning
// the successor offsets and the state reaching each.
func runBlock(cf *classfile.ClassFile, code *classfile.CodeAttribute, off int, state State, captureAt int, res *Result, subroutineReturn map[int]returnInfo) ([]successor, error) {
	b := code.Code
	pc := off
	for {
		if pc == captureAt {
			res.Captured = state.clone()
			res.capturedOK = true
		}
		if pc >= len(b) {
			return nil, fmt.Errorf("typecheck: fell off the end of the bytecode array at %d", pc)
		}
		op := b[pc]
		next := pc + instructionLength(b, pc)

		newState, branch, err := effect(cf, code, b, pc, op, state)
		if err != nil {
			return nil, fmt.Errorf("typecheck: at offset %d: %w", pc, err)
		}

		if bytecode.IsReturn(op) || op == bytecode.Athrow {
			return nil, nil
		}
		if op == bytecode.Ret {
			info, ok := subroutineReturn[newState.SubroutineEntry]
			if !ok {
				return nil, fmt.Errorf("typecheck: ret at %d has no matching jsr", pc)
			}
			resumed := newState.clone()
			resumed.SubroutineEntry = 0
			return []successor{{offset: info.afterJsr, state: resumed}}, nil
		}
		if bytecode.IsBranch(op) {
			if op == bytecode.Jsr || op == bytecode.JsrW {
				subroutineReturn[branch.target] = returnInfo{afterJsr: next, entry: state}
				entryState := newState.push(TRet)
				entryState.SubroutineEntry = branch.target
				return []successor{{offset: branch.target, state: entryState}}, nil
			}
			succs := []successor{{offset: branch.target, state: newState}}
			if op != bytecode.Goto && op != bytecode.GotoW {
				succs = append(succs, successor{offset: next, state: newState})
			}
			return succs, nil
		}
		if op == bytecode.Tableswitch || op == bytecode.Lookupswitch {
			return switchSuccessors(b, pc, newState), nil
		}

		// Fall-through instruction: if the next offset is already a
		// recorded block leader (another path's branch target), stop
		// here and let the outer worklist merge at that leader instead
		// of re-simulating past it.
		if _, isLeader := res.BlockEntry[next]; isLeader && next != pc {
			return []successor{{offset: next, state: newState}}, nil
		}
		state = newState
		pc = next
	}
}

// branchTarget carries the resolved jump offset for a branch
// instruction (ifeq, goto, jsr, ...); unused for non-branch opcodes.
type branchTarget struct {
	target int
}

func switchSuccessors(code []byte, pc int, state State) []successor {
	base := pc
	p := pc + 1
	for (p-base)%4 != 0 {
		p++
	}
	readI32 := func(at int) int32 {
		return int32(code[at])<<24 | int32(code[at+1])<<16 | int32(code[at+2])<<8 | int32(code[at+3])
	}
	defaultOff := int(readI32(p))
	p += 4
	var out []successor
	popped, _ := state.pop()
	if code[base] == bytecode.Tableswitch {
		low := readI32(p)
		p += 4
		high := readI32(p)
		p += 4
		for i := low; i <= high; i++ {
			target := base + int(readI32(p))
			p += 4
			out = append(out, successor{offset: target, state: popped})
		}
	} else {
		n := readI32(p)
		p += 4
		for i := int32(0); i < n; i++ {
			p += 4 // match value
			target := base + int(readI32(p))
			p += 4
			out = append(out, successor{offset: target, state: popped})
		}
	}
	out = append(out, successor{offset: base + defaultOff, state: popped})
	return out
}

func entryState(mt descriptor.MethodType, isStatic bool, maxLocals uint16) State {
	s := State{Locals: make([]VType, maxLocals)}
	for i := range s.Locals {
		s.Locals[i] = Top
	}
	idx := 0
	if !isStatic {
		s = s.setLocal(idx, Ref(""))
		idx++
	}
	for _, p := range mt.Params {
		s = s.setLocal(idx, FromFieldType(p))
		if FromFieldType(p).IsWide() {
			idx += 2
		} else {
			idx++
		}
	}
	return s
}

func handlerCatchName(cf *classfile.ClassFile, catchType uint16) string {
	if catchType == 0 {
		return "java/lang/Throwable"
	}
	name, err := classfile.GetClassName(cf.ConstantPool, catchType)
	if err != nil {
		return "java/lang/Throwable"
	}
	return name
}
