// Package dispatch implements exception-table lookup (§4.11): given a
// bytecode offset and a thrown exception's class, find the catch
// clause that applies. Both compiled tiers funnel through this one
// function so the first-match linear-scan rule is defined exactly
// once; the frame that called it is responsible for actually
// resuming at the returned handler offset, since that frame owns its
// own locals/operand-stack shape (a JIT Frame, an interpreter frame,
// or eventually an OSR buffer).
package dispatch

import "github.com/corejvm/tiervm/pkg/classfile"

// FindHandler returns the first exception-table entry covering pc
// whose catch type is absent (a finally-style catch-all) or names a
// class the thrown exception is an instance of. catchTypeName
// resolves a CONSTANT_Class constant-pool index to a binary class
// name; isInstance answers whether the live exception is an instance
// of that name, against the caller's own notion of the class
// hierarchy (so this package never needs to import pkg/runtime).
func FindHandler(
	handlers []classfile.ExceptionHandler,
	pc int,
	catchTypeName func(catchType uint16) (string, error),
	isInstance func(className string) (bool, error),
) (handlerPC int, ok bool) {
	for _, eh := range handlers {
		if pc < int(eh.StartPC) || pc >= int(eh.EndPC) {
			continue
		}
		if eh.CatchType == 0 {
			return int(eh.HandlerPC), true
		}
		name, err := catchTypeName(eh.CatchType)
		if err != nil {
			// An unresolvable catch type cannot match anything; keep
			// scanning rather than failing the whole lookup.
			continue
		}
		is, err := isInstance(name)
		if err != nil || !is {
			continue
		}
		return int(eh.HandlerPC), true
	}
	return 0, false
}
