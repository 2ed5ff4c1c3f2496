// Package materialize is the materialization pipeline (component H):
// it owns the jit_impl_details and class_and_method_objects namespaces
// (via pkg/stub.Table) and is the definitions generator that §4.7
// describes — the thing that catches a codegen-emitted symbol's first
// failed lookup, demangles it, resolves it against the live class
// graph, and installs a callable in its place. Pipeline also
// implements codegen.Helpers directly: the generated code's only way
// to reach across a class boundary is through this same resolution
// path, so there is exactly one place method/field/new/instanceof
// semantics are defined.
package materialize

import (
	"fmt"

	"github.com/corejvm/tiervm/pkg/codegen"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/mangle"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/stub"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// Loader resolves a binary class name to its prepared runtime.Class,
// loading (and preparing, and RegisterClass-ing) it and its
// supertypes/interfaces if necessary. It is the only place class-file
// loading is driven by execution, per §4.7 step 2.
type Loader interface {
	LoadClass(name string) (*runtime.Class, error)
}

// Interpreter is the fallback executor (component L) for a method the
// JIT target declines to translate. It produces the same StubEntry
// shape a compiled method does, so a method's stub cell never needs
// to know which tier is behind it.
type Interpreter interface {
	Execute(class *runtime.Class, method *runtime.Method, h codegen.Helpers, args []runtime.Value) (runtime.Value, error)
}

// Natives resolves a native method to its host implementation, and
// builds the String objects `ldc` of a CONSTANT_String materializes.
type Natives interface {
	Lookup(className, methodName string, mt descriptor.MethodType) (runtime.StubEntry, error)
	NewString(contents string) (*runtime.Object, error)
}

// Pipeline is the materialization pipeline. One Pipeline is shared by
// every class loaded into a VM instance.
type Pipeline struct {
	Loader  Loader
	Interp  Interpreter
	Natives Natives
	Stubs   *stub.Table

	// exception is the VM-global active_exception slot (§4.11).
	// tiervm is single-threaded cooperative (§5), so a plain field is
	// sufficient; nothing else may run between a Throw and the
	// Compiled.Run frame that observes it.
	exception *runtime.Object
}

func New(loader Loader, interp Interpreter, natives Natives) *Pipeline {
	return &Pipeline{Loader: loader, Interp: interp, Natives: natives, Stubs: stub.NewTable()}
}

var _ codegen.Helpers = (*Pipeline)(nil)

// RegisterClass implements §4.7 steps 1-3 for a freshly prepared
// class: install a call-through trampoline in every non-abstract
// method's stub cells, and register the class object so
// class-object-global/class-object-access lookups (and later
// superclass walks by other classes' definitions generators) find it.
// Step 3 of §4.7 (eagerly populating the vtable/itable with resolved
// addresses) needs no extra work here: prepare.go already points each
// vtable/itable slot directly at the *runtime.Method whose stub cell
// this loop installs, so calling through the vtable is calling
// through the stub cell by construction.
func (p *Pipeline) RegisterClass(c *runtime.Class) {
	p.Stubs.RegisterClassObject(c)
	for _, m := range c.Methods {
		if m.IsAbstract() {
			continue
		}
		class, method := c, m
		trampoline := runtime.StubEntry(func(args []runtime.Value) (runtime.Value, error) {
			return p.materializeAndInvoke(class, method, args)
		})
		stub.InstallMethodTrampolines(method, trampoline)
		p.Stubs.RegisterMethodObject(mangle.DirectCallSymbol(class.Name, method.Name, method.Type).String(), method)
	}
}

// materializeAndInvoke is the trampoline body every non-abstract
// method starts with: compile (or interpret) the method exactly once,
// install the result directly into the method's own stub cells, then
// run it. Subsequent calls go straight to the installed cell and never
// re-enter this function.
func (p *Pipeline) materializeAndInvoke(c *runtime.Class, m *runtime.Method, args []runtime.Value) (runtime.Value, error) {
	fn, err := p.materializeMethodBody(c, m)
	if err != nil {
		return runtime.Value{}, err
	}
	m.SetJITEntry(fn)
	m.SetInterpEntry(fn)
	return fn(args)
}

func (p *Pipeline) materializeMethodBody(c *runtime.Class, m *runtime.Method) (runtime.StubEntry, error) {
	if m.IsNative() {
		if p.Natives == nil {
			return nil, fmt.Errorf("materialize: %s.%s%s is native but no native resolver is configured", c.Name, m.Name, m.Type.String())
		}
		return p.Natives.Lookup(c.Name, m.Name, m.Type)
	}

	compiled, err := codegen.Compile(c, m)
	if err == nil {
		return p.jitEntry(compiled), nil
	}
	// The JIT target rejected the method (unsupported bytecode, e.g.
	// invokedynamic, or a verification failure) — fall back to the
	// interpreter tier permanently for this method, mirroring §4.13's
	// "methods the JIT rejects" clause.
	if p.Interp == nil {
		return nil, fmt.Errorf("materialize: %s.%s%s could not be JIT-compiled and no interpreter is configured: %w", c.Name, m.Name, m.Type.String(), err)
	}
	return func(args []runtime.Value) (runtime.Value, error) {
		return p.Interp.Execute(c, m, p, args)
	}, nil
}

func (p *Pipeline) jitEntry(compiled *codegen.Compiled) runtime.StubEntry {
	return func(args []runtime.Value) (runtime.Value, error) {
		f := codegen.NewFrameWithArgs(compiled.Method, compiled.MaxLocals, compiled.MaxStack,
			compiled.Method.IsStatic(), compiled.Method.Type, args)
		return compiled.Run(f, p, 0)
	}
}

// ResolveStub is the definitions generator entry point: codegen calls
// this the moment a lowered instruction's cross-class symbol has no
// installed implementation yet.
func (p *Pipeline) ResolveStub(symbol string) (runtime.StubEntry, error) {
	return p.Stubs.ResolveOrInstall(symbol, func() (runtime.StubEntry, error) {
		return p.materializeSymbol(symbol)
	})
}

func (p *Pipeline) materializeSymbol(symbol string) (runtime.StubEntry, error) {
	sym, err := mangle.Demangle(symbol)
	if err != nil {
		return nil, fmt.Errorf("materialize: %q is not a recognized stub symbol: %w", symbol, err)
	}
	switch sym.Kind {
	case mangle.FieldAccess:
		return p.materializeFieldAccess(sym)
	case mangle.StaticCall:
		return p.materializeStaticCall(sym)
	case mangle.SpecialCall:
		return p.materializeSpecialCall(sym)
	case mangle.VirtualCall:
		return p.materializeVirtualCall(sym)
	case mangle.InterfaceCall:
		return p.materializeInterfaceCall(sym)
	case mangle.StringGlobal:
		return p.materializeStringGlobal(sym)
	default:
		// class-object-access, class-object-global, method-global, and
		// osr-method/direct-call are valid grammar alternatives (§4.6)
		// that tiervm's codegen never actually emits (it reaches class
		// objects and methods through Helpers/RegisterClass directly,
		// and OSR entry is requested through pkg/osr, not a stub
		// lookup) — surfacing as an error here rather than silently
		// no-opping keeps an accidental future emission loud.
		return nil, fmt.Errorf("materialize: stub kind %v is not produced by codegen, got %q", sym.Kind, symbol)
	}
}

func (p *Pipeline) materializeFieldAccess(sym mangle.Symbol) (runtime.StubEntry, error) {
	declClass, err := p.Loader.LoadClass(sym.ClassName)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(sym.ClassName, err)
	}
	field := declClass.FindFieldInHierarchy(sym.FieldName)
	if field == nil {
		return nil, vmerrors.NoSuchField(sym.ClassName, sym.FieldName, fmt.Errorf("no field %s:%s in hierarchy", sym.FieldName, sym.FieldType.String()))
	}

	if field.IsStatic() {
		owner := field.Class
		offset := field.Offset
		return func(args []runtime.Value) (runtime.Value, error) {
			if err := p.EnsureInitialized(owner); err != nil {
				return runtime.Value{}, err
			}
			if len(args) == 1 {
				owner.SetStatic(offset, args[0])
				return runtime.Value{}, nil
			}
			return owner.GetStatic(offset), nil
		}, nil
	}

	offset := field.Offset
	return func(args []runtime.Value) (runtime.Value, error) {
		obj := args[0].Ref
		if len(args) == 2 {
			obj.SetField(offset, args[1])
			return runtime.Value{}, nil
		}
		return obj.GetField(offset), nil
	}, nil
}

// materializeStaticCall resolves the target once (its declaring class
// never changes) but still gates on class initialization on every
// call, per §4.10: the first call races nobody (single-threaded) but
// still pays the CAS-check cost the inline codegen would have paid.
func (p *Pipeline) materializeStaticCall(sym mangle.Symbol) (runtime.StubEntry, error) {
	declClass, err := p.Loader.LoadClass(sym.ClassName)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(sym.ClassName, err)
	}
	m := declClass.FindMethodInHierarchy(sym.MethodName, sym.MethodType)
	if m == nil {
		return nil, vmerrors.NoSuchMethod(sym.ClassName, sym.MethodName, sym.MethodType.String(), fmt.Errorf("static method not found"))
	}
	owner := m.Class
	return func(args []runtime.Value) (runtime.Value, error) {
		if err := p.EnsureInitialized(owner); err != nil {
			return runtime.Value{}, err
		}
		return callThroughMethod(m, args)
	}, nil
}

// materializeSpecialCall implements the invokespecial/ACC_SUPER
// redirection rule (§4.7, §4.9): resolve like a virtual reference
// against the call site's static type, then redo the resolution from
// the caller's superclass if the caller has ACC_SUPER, the resolved
// method's class is a proper superclass of the caller, and the method
// is not an instance initializer. runtime.ResolveSpecialMethod already
// implements exactly this rule; materialize's job is only to load the
// two classes the rule needs.
func (p *Pipeline) materializeSpecialCall(sym mangle.Symbol) (runtime.StubEntry, error) {
	staticType, err := p.Loader.LoadClass(sym.ClassName)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(sym.ClassName, err)
	}
	caller := staticType
	if sym.SpecialFrom != nil {
		caller, err = p.Loader.LoadClass(sym.SpecialFrom.ClassName)
		if err != nil {
			return nil, vmerrors.NoClassDefFound(sym.SpecialFrom.ClassName, err)
		}
	}
	resolved, err := runtime.ResolveSpecialMethod(caller, staticType, sym.MethodName, sym.MethodType)
	if err != nil {
		return nil, vmerrors.NoSuchMethod(sym.ClassName, sym.MethodName, sym.MethodType.String(), err)
	}
	return func(args []runtime.Value) (runtime.Value, error) {
		return callThroughMethod(resolved, args)
	}, nil
}

// materializeVirtualCall resolves (§4.9 virtual resolution) once to
// find the declared method's vtable slot, then dispatches through the
// receiver's own vtable on every call — the receiver's actual class
// is rarely the declared static type, and only its vtable knows the
// override that actually applies.
func (p *Pipeline) materializeVirtualCall(sym mangle.Symbol) (runtime.StubEntry, error) {
	declClass, err := p.Loader.LoadClass(sym.ClassName)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(sym.ClassName, err)
	}
	resolved, err := runtime.ResolveVirtualMethod(declClass, sym.MethodName, sym.MethodType)
	if err != nil {
		return nil, vmerrors.NoSuchMethod(sym.ClassName, sym.MethodName, sym.MethodType.String(), err)
	}
	if resolved.VTableSlot < 0 {
		// Resolved to a method outside virtual dispatch (private or a
		// default interface method reached via rule (c)): call it
		// directly, there is no override to consider.
		m := resolved
		return func(args []runtime.Value) (runtime.Value, error) {
			if err := p.nullCheckReceiver(args, "invokevirtual"); err != nil {
				return runtime.Value{}, err
			}
			return callThroughMethod(m, args)
		}, nil
	}
	slot := resolved.VTableSlot
	return func(args []runtime.Value) (runtime.Value, error) {
		if err := p.nullCheckReceiver(args, "invokevirtual"); err != nil {
			return runtime.Value{}, err
		}
		target := args[0].Ref.Class.VTable[slot]
		return callThroughMethod(target, args)
	}, nil
}

// materializeInterfaceCall resolves (§4.9 interface resolution,
// JVMS 5.4.3.4) the interface's own itable slot ordering once, then
// dispatches through the receiver's itable for that interface on
// every call, falling back to method selection against the receiver's
// own class for the implicit public java.lang.Object methods an
// itable never carries a slot for.
func (p *Pipeline) materializeInterfaceCall(sym mangle.Symbol) (runtime.StubEntry, error) {
	ifaceClass, err := p.Loader.LoadClass(sym.ClassName)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(sym.ClassName, err)
	}
	slotIdx := -1
	for i, m := range ifaceClass.VTable {
		if m.Name == sym.MethodName && m.Type.String() == sym.MethodType.String() {
			slotIdx = i
			break
		}
	}
	return func(args []runtime.Value) (runtime.Value, error) {
		if err := p.nullCheckReceiver(args, "invokeinterface"); err != nil {
			return runtime.Value{}, err
		}
		recvClass := args[0].Ref.Class
		if slotIdx >= 0 {
			if it := recvClass.ITableFor(ifaceClass); it != nil && it.Slots[slotIdx] != nil {
				return callThroughMethod(it.Slots[slotIdx], args)
			}
		}
		resolved, err := runtime.ResolveInterfaceMethod(recvClass, sym.MethodName, sym.MethodType)
		if err != nil {
			return runtime.Value{}, vmerrors.NoSuchMethod(recvClass.Name, sym.MethodName, sym.MethodType.String(), err)
		}
		return callThroughMethod(resolved, args)
	}, nil
}

func (p *Pipeline) materializeStringGlobal(sym mangle.Symbol) (runtime.StubEntry, error) {
	if p.Natives == nil {
		return nil, fmt.Errorf("materialize: string constant %q requires a configured native string factory", sym.StringContents)
	}
	obj, err := p.Natives.NewString(sym.StringContents)
	if err != nil {
		return nil, err
	}
	v := runtime.Ref(obj)
	return func([]runtime.Value) (runtime.Value, error) { return v, nil }, nil
}

func (p *Pipeline) nullCheckReceiver(args []runtime.Value, where string) error {
	if len(args) == 0 || args[0].Ref == nil {
		return p.ThrowNew("java/lang/NullPointerException", "")
	}
	return nil
}

func callThroughMethod(m *runtime.Method, args []runtime.Value) (runtime.Value, error) {
	fn := m.JITEntry()
	if fn == nil {
		return runtime.Value{}, fmt.Errorf("materialize: %s.%s%s has no installed stub (class never registered)", m.Class.Name, m.Name, m.Type.String())
	}
	return fn(args)
}

// EnsureInitialized implements codegen.Helpers: the §4.10 gate,
// recursing through supertypes and running <clinit> via the regular
// method-call path so a failing <clinit> is reported the same way any
// other thrown exception would be.
func (p *Pipeline) EnsureInitialized(c *runtime.Class) error {
	return runtime.InitializeClassObject(c, p.runClinit)
}

func (p *Pipeline) runClinit(c *runtime.Class) error {
	m := c.FindMethod("<clinit>", descriptor.MethodType{Return: descriptor.VoidType})
	if m == nil {
		return nil
	}
	if _, err := p.materializeAndInvoke(c, m, nil); err != nil {
		return &vmerrors.InitializationError{ClassName: c.Name, Err: err}
	}
	return nil
}

func (p *Pipeline) NewObject(className string) (*runtime.Object, error) {
	c, err := p.Loader.LoadClass(className)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(className, err)
	}
	if err := p.EnsureInitialized(c); err != nil {
		return nil, err
	}
	return runtime.NewObject(c), nil
}

func (p *Pipeline) NewArray(elementType descriptor.FieldType, length int32) (*runtime.Object, error) {
	if length < 0 {
		return nil, &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: "java/lang/NegativeArraySizeException"}}}
	}
	arrClass := &runtime.Class{
		Name:       "[" + elementType.String(),
		Descriptor: descriptor.ArrayType(elementType),
		IsArray:    true,
	}
	if elementType.Kind == descriptor.Class {
		if comp, err := p.Loader.LoadClass(elementType.ClassName); err == nil {
			arrClass.Component = comp
		}
	}
	return runtime.NewArray(arrClass, int(length)), nil
}

func (p *Pipeline) Throw(obj *runtime.Object) error {
	p.exception = obj
	return &vmerrors.JavaException{Obj: obj}
}

// ThrowNew allocates a built-in exception instance and throws it; used
// for the conditions the bytecode spec raises implicitly rather than
// the program's own athrow (null dereference, bad index, division by
// zero, bad cast, negative array size). The allocated instance carries
// no detail message field unless the loaded class itself declares one
// and pkg/natives' java.lang.Throwable constructor populates it —
// materialize only guarantees the class identity matches, which is
// all instanceof-based catch-clause matching needs.
func (p *Pipeline) ThrowNew(className, message string) error {
	obj, err := p.NewObject(className)
	if err != nil {
		// The exception class itself failed to load: fall back to a
		// bare object carrying just the class name, so catch-clause
		// matching by name still works even without java.lang wired up.
		obj = &runtime.Object{Class: &runtime.Class{Name: className}}
	}
	return p.Throw(obj)
}

func (p *Pipeline) CurrentException() *runtime.Object { return p.exception }
func (p *Pipeline) ClearException()                   { p.exception = nil }

func (p *Pipeline) IsInstance(c *runtime.Class, className string) (bool, error) {
	target, err := p.Loader.LoadClass(className)
	if err != nil {
		// A catch type or cast target that was never loaded cannot
		// have any instances yet (§4.11 step 2's parenthetical): no
		// match, not an error.
		return false, nil
	}
	return c.IsInstance(target), nil
}
