package vm

import (
	"fmt"
	"io"
	"math"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/config"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/interp"
	"github.com/corejvm/tiervm/pkg/logx"
	"github.com/corejvm/tiervm/pkg/materialize"
	"github.com/corejvm/tiervm/pkg/natives"
	"github.com/corejvm/tiervm/pkg/runtime"
)

// VM is the top-level orchestrator a command-line entry point drives:
// the loader, materialization pipeline, interpreter tier, and native
// bridges wired together, split across the independent packages each
// concern already lives in rather than collapsed into one file.
type VM struct {
	Loader   *ClassLoader
	Pipeline *materialize.Pipeline
	Natives  *natives.Natives
}

// New builds a VM from a raw class-bytes loader (a classfile.JmodLoader
// or classfile.DirLoader, or a chain of both) and the resolved
// configuration. stdout is where java.lang.System.out writes; passed
// separately from cfg so tests can swap in a buffer.
func New(raw classfile.Loader, cfg config.Config, stdout io.Writer) (*VM, error) {
	n := natives.New(stdout)
	backedgeThreshold := cfg.OSRThreshold
	if !cfg.JITEnabled {
		// An interpreter whose backedge threshold never trips never
		// OSRs into pkg/codegen, so --no-jit is a threshold of
		// "never", not zero. That is all it changes: the pipeline
		// still compiles every method with pkg/codegen on its first
		// call, and only methods codegen rejects run interpreted.
		backedgeThreshold = math.MaxInt
	}
	it := interp.New(backedgeThreshold)
	pipeline := materialize.New(nil, it, n)
	loader, err := NewClassLoader(raw, n, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vm: bootstrapping class loader: %w", err)
	}
	pipeline.Loader = loader
	return &VM{Loader: loader, Pipeline: pipeline, Natives: n}, nil
}

var mainMethodType = descriptor.MethodType{
	Params: []descriptor.FieldType{descriptor.ArrayType(descriptor.ClassType("java/lang/String"))},
	Return: descriptor.VoidType,
}

// Execute loads mainClassName and runs its
// `public static void main(String[] args)`. args is always null:
// tiervm does not thread a real String[] of process arguments through
// to a running program.
func (v *VM) Execute(mainClassName string) error {
	logx.Infof("loading main class %s", mainClassName)
	class, err := v.Loader.LoadClass(mainClassName)
	if err != nil {
		return err
	}
	method := class.FindMethod("main", mainMethodType)
	if method == nil {
		return fmt.Errorf("vm: %s has no public static void main(String[])", mainClassName)
	}
	if err := v.Pipeline.EnsureInitialized(class); err != nil {
		return err
	}
	_, err = v.invoke(class, method, []runtime.Value{runtime.Null()})
	if err != nil {
		logx.Errorf("%s.main terminated with an error: %v", mainClassName, err)
	}
	return err
}

func (v *VM) invoke(class *runtime.Class, method *runtime.Method, args []runtime.Value) (runtime.Value, error) {
	fn := method.JITEntry()
	if fn == nil {
		return runtime.Value{}, fmt.Errorf("vm: %s.%s%s was never registered", class.Name, method.Name, method.Type.String())
	}
	return fn(args)
}
