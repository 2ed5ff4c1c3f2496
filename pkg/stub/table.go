// Package stub realizes the four symbol namespaces the materialization
// pipeline installs definitions into: jit_cc_stubs and interp_cc_stubs
// (one call-through cell per method, realized directly on
// runtime.Method — see its jitEntry/interpEntry fields), and
// jit_impl_details (every other cross-class symbol codegen can emit:
// field access, static/special/virtual/interface calls, class-object
// access) plus class_and_method_objects (the class loader's global
// registry of class/method pointers, populated on demand). A cell in
// jit_impl_details is written once, by whichever lookup first misses;
// unlike a method's own stub cell there is no trampoline step, since
// the symbol has no meaning to call through until it is resolved.
package stub

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corejvm/tiervm/pkg/runtime"
)

// cell is one lazily-materialized, at-most-once-written stub slot.
type cell struct {
	entry atomic.Pointer[runtime.StubEntry]
}

func (c *cell) load() runtime.StubEntry {
	if p := c.entry.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *cell) storeOnce(fn runtime.StubEntry) runtime.StubEntry {
	if c.entry.CompareAndSwap(nil, &fn) {
		return fn
	}
	return c.load()
}

// Table is the jit_impl_details namespace plus the class/method object
// registry (class_and_method_objects). One Table is shared by every
// class loaded into a VM instance.
type Table struct {
	mu      sync.Mutex
	details map[string]*cell

	classObjects  map[string]*runtime.Class
	methodObjects map[string]*runtime.Method
}

func NewTable() *Table {
	return &Table{
		details:       map[string]*cell{},
		classObjects:  map[string]*runtime.Class{},
		methodObjects: map[string]*runtime.Method{},
	}
}

// Lookup returns the currently installed implementation of symbol in
// jit_impl_details, or false if nothing has materialized it yet.
func (t *Table) Lookup(symbol string) (runtime.StubEntry, bool) {
	t.mu.Lock()
	c, ok := t.details[symbol]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	if fn := c.load(); fn != nil {
		return fn, true
	}
	return nil, false
}

// ResolveOrInstall returns the installed implementation for symbol,
// calling materialize to build one on the first miss. Concurrent
// misses for the same symbol all run materialize, but only the first
// result to land wins the cell — harmless here since materialize is
// pure with respect to the class graph, and tiervm's execution model
// is single-threaded cooperative to begin with (§5).
func (t *Table) ResolveOrInstall(symbol string, materialize func() (runtime.StubEntry, error)) (runtime.StubEntry, error) {
	if fn, ok := t.Lookup(symbol); ok {
		return fn, nil
	}
	fn, err := materialize()
	if err != nil {
		return nil, fmt.Errorf("stub: materializing %q: %w", symbol, err)
	}
	t.mu.Lock()
	c, ok := t.details[symbol]
	if !ok {
		c = &cell{}
		t.details[symbol] = c
	}
	t.mu.Unlock()
	return c.storeOnce(fn), nil
}

// RegisterClassObject and RegisterMethodObject populate
// class_and_method_objects; the loader calls these once per class/method
// as it links them, so later class-object-global / method-global
// lookups are a plain map read.
func (t *Table) RegisterClassObject(c *runtime.Class) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.classObjects[c.Name] = c
}

func (t *Table) ClassObject(name string) (*runtime.Class, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.classObjects[name]
	return c, ok
}

func (t *Table) RegisterMethodObject(key string, m *runtime.Method) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methodObjects[key] = m
}

func (t *Table) MethodObject(key string) (*runtime.Method, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.methodObjects[key]
	return m, ok
}

// InstallMethodTrampolines installs the call-through trampoline shape
// in both jit_cc_stubs and interp_cc_stubs for m (§4.7 steps 1-2),
// realized as m's own stub cells rather than table entries: a method
// call is always routed through the Method it calls, so there is no
// separate namespace map to maintain. A cell already holding an
// implementation (materialized earlier, or installed by a previous
// RegisterClass on a re-registered class) is left untouched.
func InstallMethodTrampolines(m *runtime.Method, trampoline runtime.StubEntry) {
	if m.JITEntry() == nil {
		m.SetJITEntry(trampoline)
	}
	if m.InterpEntry() == nil {
		m.SetInterpEntry(trampoline)
	}
}
