// Package vm is the orchestrator: it wires the class loader, the
// materialization pipeline, the two execution tiers, and the native
// bridges into one runnable unit and drives "run main" end to end.
// The classloader only ever has to produce a prepared *runtime.Class
// (parsing, supertype resolution, ConstantValue defaults, vtable/
// itable layout, Pipeline.RegisterClass) and hand it to
// materialize.Pipeline for everything execution-shaped.
package vm

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/materialize"
	"github.com/corejvm/tiervm/pkg/natives"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// ClassLoader implements materialize.Loader over a classfile.Loader
// (a jmod or a classpath directory): it is the "definitions generator
// entry point's entry point" — the one place raw class bytes turn
// into a prepared, registered *runtime.Class. A handful of class
// names resolve to pkg/natives' synthetic bootstrap classes instead
// of ever reaching the raw loader, the bootstrap set standing in for
// a parent classloader consulted before the classpath.
type ClassLoader struct {
	Raw      classfile.Loader
	Natives  *natives.Natives
	Pipeline *materialize.Pipeline

	mu              sync.Mutex
	cache           map[string]*runtime.Class
	nextInterfaceID atomic.Int32
}

// NewClassLoader builds a ClassLoader and immediately loads and
// registers the bootstrap classes pkg/natives provides, so
// "java/lang/Object" and friends resolve before the first user class
// is ever parsed.
func NewClassLoader(raw classfile.Loader, n *natives.Natives, pipeline *materialize.Pipeline) (*ClassLoader, error) {
	cl := &ClassLoader{Raw: raw, Natives: n, Pipeline: pipeline, cache: map[string]*runtime.Class{}}
	bootstrap, err := n.Bootstrap()
	if err != nil {
		return nil, err
	}
	for _, c := range bootstrap {
		cl.cache[c.Name] = c
		pipeline.RegisterClass(c)
	}
	n.SetStringClass(cl.cache["java/lang/String"])

	out := n.NewPrintStream(cl.cache["java/io/PrintStream"], n.Stdout)
	system := cl.cache["java/lang/System"]
	outField := system.FindField("out")
	if outField == nil {
		return nil, fmt.Errorf("vm: bootstrap java/lang/System is missing its out field")
	}
	system.SetStatic(outField.Offset, runtime.Ref(out))
	return cl, nil
}

// LoadClass implements materialize.Loader.
func (cl *ClassLoader) LoadClass(name string) (*runtime.Class, error) {
	cl.mu.Lock()
	if c, ok := cl.cache[name]; ok {
		cl.mu.Unlock()
		return c, nil
	}
	cl.mu.Unlock()

	raw, err := cl.Raw.Load(name)
	if err != nil {
		return nil, vmerrors.NoClassDefFound(name, err)
	}
	cf, err := classfile.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &vmerrors.MalformedClassError{ClassName: name, Err: err}
	}

	var super *runtime.Class
	if superName, serr := cf.SuperClassName(); serr == nil && superName != "" {
		super, err = cl.LoadClass(superName)
		if err != nil {
			return nil, err
		}
	}
	ifaceNames, err := cf.InterfaceNames()
	if err != nil {
		return nil, &vmerrors.MalformedClassError{ClassName: name, Err: err}
	}
	interfaces := make([]*runtime.Class, 0, len(ifaceNames))
	for _, ifaceName := range ifaceNames {
		ifc, err := cl.LoadClass(ifaceName)
		if err != nil {
			return nil, err
		}
		interfaces = append(interfaces, ifc)
	}

	c := runtime.NewClass(name, cf)
	c.Super = super
	c.Interfaces = interfaces

	if err := cl.populateMethods(c, cf); err != nil {
		return nil, err
	}
	if err := cl.populateFields(c, cf); err != nil {
		return nil, err
	}

	if err := runtime.Prepare(c, func() int { return int(cl.nextInterfaceID.Add(1)) }); err != nil {
		return nil, &vmerrors.LinkageError{Kind: "IncompatibleClassChangeError", Subject: name, Err: err}
	}
	if err := cl.applyConstantValueDefaults(c, cf); err != nil {
		return nil, err
	}

	cl.mu.Lock()
	if existing, ok := cl.cache[name]; ok {
		// Lost a race with a concurrent load of the same class; keep
		// whichever won and discard this one (tiervm is otherwise
		// single-threaded cooperative, but LoadClass recurses through
		// super/interface edges that could in principle revisit a
		// name — this guards that corner rather than assuming it
		// cannot happen).
		cl.mu.Unlock()
		return existing, nil
	}
	cl.cache[name] = c
	cl.mu.Unlock()

	cl.Pipeline.RegisterClass(c)
	return c, nil
}

func (cl *ClassLoader) populateMethods(c *runtime.Class, cf *classfile.ClassFile) error {
	methods := make([]*runtime.Method, 0, len(cf.Methods))
	for _, mi := range cf.Methods {
		mt, err := descriptor.ParseMethodType(mi.Descriptor)
		if err != nil {
			return &vmerrors.MalformedClassError{ClassName: c.Name, Err: fmt.Errorf("method %s%s: %w", mi.Name, mi.Descriptor, err)}
		}
		methods = append(methods, &runtime.Method{
			Class:       c,
			AccessFlags: mi.AccessFlags,
			Name:        mi.Name,
			Type:        mt,
			Code:        mi.Code,
			VTableSlot:  -1,
		})
	}
	c.Methods = methods
	return nil
}

func (cl *ClassLoader) populateFields(c *runtime.Class, cf *classfile.ClassFile) error {
	fields := make([]*runtime.Field, 0, len(cf.Fields))
	for _, fi := range cf.Fields {
		ft, err := descriptor.ParseFieldType(fi.Descriptor)
		if err != nil {
			return &vmerrors.MalformedClassError{ClassName: c.Name, Err: fmt.Errorf("field %s %s: %w", fi.Name, fi.Descriptor, err)}
		}
		fields = append(fields, &runtime.Field{
			Class:       c,
			AccessFlags: fi.AccessFlags,
			Name:        fi.Name,
			Type:        ft,
		})
	}
	c.Fields = fields
	return nil
}

// applyConstantValueDefaults implements JVMS 5.5/4.7.2: a static
// final field with a ConstantValue attribute takes that value as its
// initial value as part of preparation, before <clinit> ever runs (and
// in practice instead of it — javac does not emit <clinit> bytecode to
// re-assign a ConstantValue-eligible field). pkg/classfile already
// parses ConstantValueIndex; nothing before this loader has ever
// consumed it.
func (cl *ClassLoader) applyConstantValueDefaults(c *runtime.Class, cf *classfile.ClassFile) error {
	for i, fi := range cf.Fields {
		if fi.ConstantValueIndex == 0 {
			continue
		}
		field := c.Fields[i]
		v, err := cl.constantValue(cf, fi.ConstantValueIndex, field.Type)
		if err != nil {
			return &vmerrors.MalformedClassError{ClassName: c.Name, Err: fmt.Errorf("field %s ConstantValue: %w", field.Name, err)}
		}
		c.SetStatic(field.Offset, v)
	}
	return nil
}

func (cl *ClassLoader) constantValue(cf *classfile.ClassFile, index uint16, ft descriptor.FieldType) (runtime.Value, error) {
	if int(index) >= len(cf.ConstantPool) {
		return runtime.Value{}, fmt.Errorf("constant pool index %d out of range", index)
	}
	switch entry := cf.ConstantPool[index].(type) {
	case *classfile.ConstantInteger:
		switch ft.Kind {
		case descriptor.Boolean, descriptor.Byte, descriptor.Char, descriptor.Short, descriptor.Int:
			return runtime.Int32(entry.Value), nil
		}
	case *classfile.ConstantLong:
		return runtime.Int64(entry.Value), nil
	case *classfile.ConstantFloat:
		return runtime.Float32(entry.Value), nil
	case *classfile.ConstantDouble:
		return runtime.Float64(entry.Value), nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(cf.ConstantPool, entry.StringIndex)
		if err != nil {
			return runtime.Value{}, err
		}
		obj, err := cl.Natives.NewString(s)
		if err != nil {
			return runtime.Value{}, err
		}
		return runtime.Ref(obj), nil
	}
	return runtime.Value{}, fmt.Errorf("constant pool entry at %d is not a valid ConstantValue for %s", index, ft.String())
}

var _ materialize.Loader = (*ClassLoader)(nil)
