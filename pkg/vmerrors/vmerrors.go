// Package vmerrors defines the error kinds tiervm distinguishes, per
// the error-handling table: malformed input, linkage failures,
// verification failures, runtime Java exceptions, and <clinit>
// failures. Each is a wrapped-error type so callers can test for a
// kind with errors.As while still getting a %w-chained message.
package vmerrors

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/runtime"
)

// JavaException wraps a thrown Java object as it propagates through
// Go's own call stack. tiervm has no separate unwinder: a compiled
// method is an ordinary Go function, so an athrow (or an implicit
// NullPointerException/ArrayIndexOutOfBoundsException/etc.) unwinds
// exactly like any other Go error return, and the frame that catches
// it (codegen.Compiled.Run, or the interpreter's equivalent loop)
// inspects Obj against its own exception table before deciding
// whether to keep propagating.
type JavaException struct {
	Obj *runtime.Object
}

func (e *JavaException) Error() string {
	return fmt.Sprintf("uncaught %s", e.Obj.Class.Name)
}

// MalformedClassError wraps a class-file parse failure. Fatal:
// there is no local recovery, per §7.
type MalformedClassError struct {
	ClassName string
	Err       error
}

func (e *MalformedClassError) Error() string {
	return fmt.Sprintf("malformed class file %s: %v", e.ClassName, e.Err)
}
func (e *MalformedClassError) Unwrap() error { return e.Err }

// LinkageError covers a missing class, field, or method discovered
// during materialization, or an incompatible class hierarchy found
// while loading. It is returned as a Go error; no NoClassDefFoundError
// or NoSuchMethodError Java object is created for it.
type LinkageError struct {
	Kind    string // JVMS error class name, e.g. "NoClassDefFoundError", "NoSuchMethodError", "NoSuchFieldError", "IncompatibleClassChangeError"
	Subject string
	Err     error
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subject, e.Err)
}
func (e *LinkageError) Unwrap() error { return e.Err }

func NoClassDefFound(className string, err error) *LinkageError {
	return &LinkageError{Kind: "NoClassDefFoundError", Subject: className, Err: err}
}

func NoSuchMethod(className, methodName, descriptor string, err error) *LinkageError {
	return &LinkageError{Kind: "NoSuchMethodError", Subject: className + "." + methodName + descriptor, Err: err}
}

func NoSuchField(className, fieldName string, err error) *LinkageError {
	return &LinkageError{Kind: "NoSuchFieldError", Subject: className + "." + fieldName, Err: err}
}

// VerificationError is a type-check failure. Fatal: tiervm is
// verifier-lite and trusts javac-produced class files, so a failure
// here means the input was never valid to begin with.
type VerificationError struct {
	Method string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed in %s: %v", e.Method, e.Err)
}
func (e *VerificationError) Unwrap() error { return e.Err }

// InitializationError wraps a <clinit> failure. It is returned as a Go
// error whose message starts with "ExceptionInInitializerError"; no
// ExceptionInInitializerError Java object is created for it.
type InitializationError struct {
	ClassName string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("ExceptionInInitializerError: %s: %v", e.ClassName, e.Err)
}
func (e *InitializationError) Unwrap() error { return e.Err }
