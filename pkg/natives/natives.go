// Package natives implements the materialize.Natives contract
// (component-adjacent to H): the JDK native-method bridges a loaded
// class's AccNative methods resolve to, and the handful of bootstrap
// classes (java.lang.Object/String/Throwable and its common runtime
// exceptions, java.io.PrintStream, java.lang.System) that back them.
//
// Dispatch is a flat, string-keyed switch over
// "class.method:descriptor", the simplest shape that works for a
// bootstrap set this small.
//
// tiervm's runtime.Value has no string-carrying variant (Kind is
// strictly int32/int64/float32/float64/ref/return-address) and
// runtime.Object's Fields are a flat, offset-indexed []Value rather
// than a map, so a string's characters and a PrintStream's io.Writer
// target — Go-native payload no Value can hold — live in an
// out-of-band side table keyed by *runtime.Object pointer instead.
//
// None of these classes are parsed from a real java.base class file:
// they are a small synthetic bootstrap layer built directly as
// runtime.Class values, every method AccNative so materialize always
// routes through Lookup rather than attempting to compile or
// interpret bytecode that was never there.
package natives

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/descriptor"
	"github.com/corejvm/tiervm/pkg/runtime"
	"github.com/corejvm/tiervm/pkg/vmerrors"
)

// stubFile stands in for the classfile.ClassFile a parsed class would
// carry. Every bootstrap method is native (Code == nil), so nothing
// ever dereferences a constant pool entry through it; it exists only
// because runtime.Class.File is not a pointer that tolerates nil in
// every caller (codegen/interp read class.File.ConstantPool when a
// method does have Code, which none of these ever do).
var stubFile = &classfile.ClassFile{ConstantPool: []classfile.ConstantPoolEntry{nil}}

func mustMT(s string) descriptor.MethodType {
	mt, err := descriptor.ParseMethodType(s)
	if err != nil {
		panic("natives: bad built-in method descriptor " + s + ": " + err.Error())
	}
	return mt
}

func nativeMethod(c *runtime.Class, name string, descr string, static bool) *runtime.Method {
	flags := uint16(classfile.AccPublic | classfile.AccNative)
	if static {
		flags |= classfile.AccStatic
	}
	return &runtime.Method{Class: c, AccessFlags: flags, Name: name, Type: mustMT(descr), VTableSlot: -1}
}

func newClass(name string, super *runtime.Class, accessFlags uint16) *runtime.Class {
	return &runtime.Class{
		Name:        name,
		Descriptor:  descriptor.ClassType(name),
		AccessFlags: accessFlags,
		File:        stubFile,
		Super:       super,
	}
}

// Natives is the native-method resolver and bootstrap class builder.
// One Natives is shared by every class a VM instance loads, the same
// way one Pipeline is.
type Natives struct {
	Stdout io.Writer

	hashSeq atomic.Int32

	mu             sync.Mutex
	strings        map[*runtime.Object]string
	writers        map[*runtime.Object]io.Writer
	stringClassPtr *runtime.Class
}

func New(stdout io.Writer) *Natives {
	return &Natives{
		Stdout:  stdout,
		strings: map[*runtime.Object]string{},
		writers: map[*runtime.Object]io.Writer{},
	}
}

func (n *Natives) nextHash() int32 {
	return n.hashSeq.Add(1)
}

// Bootstrap builds the synthetic java.lang/java.io classes this
// realization never loads from a real jmod, already runtime.Prepare'd
// and in an order safe to feed straight to Pipeline.RegisterClass.
// The caller (pkg/vm's class loader) resolves these names to the
// returned classes instead of falling through to the classpath.
func (n *Natives) Bootstrap() ([]*runtime.Class, error) {
	var nextInterfaceID int
	prepare := func(c *runtime.Class) (*runtime.Class, error) {
		id := nextInterfaceID
		nextInterfaceID++
		if err := runtime.Prepare(c, func() int { return id }); err != nil {
			return nil, fmt.Errorf("natives: preparing bootstrap class %s: %w", c.Name, err)
		}
		return c, nil
	}

	object := newClass("java/lang/Object", nil, classfile.AccPublic)
	object.Methods = []*runtime.Method{
		nativeMethod(object, "<init>", "()V", false),
		nativeMethod(object, "hashCode", "()I", false),
		nativeMethod(object, "equals", "(Ljava/lang/Object;)Z", false),
		nativeMethod(object, "toString", "()Ljava/lang/String;", false),
	}
	if _, err := prepare(object); err != nil {
		return nil, err
	}

	str := newClass("java/lang/String", object, classfile.AccPublic|classfile.AccFinal)
	str.Methods = []*runtime.Method{
		nativeMethod(str, "<init>", "()V", false),
		nativeMethod(str, "length", "()I", false),
		nativeMethod(str, "charAt", "(I)C", false),
		nativeMethod(str, "equals", "(Ljava/lang/Object;)Z", false),
		nativeMethod(str, "concat", "(Ljava/lang/String;)Ljava/lang/String;", false),
		nativeMethod(str, "toString", "()Ljava/lang/String;", false),
		nativeMethod(str, "hashCode", "()I", false),
		nativeMethod(str, "intern", "()Ljava/lang/String;", false),
	}
	if _, err := prepare(str); err != nil {
		return nil, err
	}

	throwable := newClass("java/lang/Throwable", object, classfile.AccPublic)
	throwable.Methods = []*runtime.Method{
		nativeMethod(throwable, "<init>", "()V", false),
		nativeMethod(throwable, "<init>", "(Ljava/lang/String;)V", false),
		nativeMethod(throwable, "getMessage", "()Ljava/lang/String;", false),
		nativeMethod(throwable, "toString", "()Ljava/lang/String;", false),
	}
	if _, err := prepare(throwable); err != nil {
		return nil, err
	}

	exception := newClass("java/lang/Exception", throwable, classfile.AccPublic)
	if _, err := prepare(exception); err != nil {
		return nil, err
	}
	runtimeException := newClass("java/lang/RuntimeException", exception, classfile.AccPublic)
	if _, err := prepare(runtimeException); err != nil {
		return nil, err
	}

	classes := []*runtime.Class{object, str, throwable, exception, runtimeException}
	for _, name := range []string{
		"java/lang/NullPointerException",
		"java/lang/ArithmeticException",
		"java/lang/ArrayIndexOutOfBoundsException",
		"java/lang/ClassCastException",
		"java/lang/NegativeArraySizeException",
		"java/lang/IllegalArgumentException",
		"java/lang/IllegalStateException",
		"java/lang/IndexOutOfBoundsException",
	} {
		c := newClass(name, runtimeException, classfile.AccPublic)
		if _, err := prepare(c); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}

	printStream := newClass("java/io/PrintStream", object, classfile.AccPublic)
	var printMethods []*runtime.Method
	for _, descr := range []string{"()V", "(I)V", "(J)V", "(D)V", "(F)V", "(Z)V", "(C)V", "(Ljava/lang/String;)V", "(Ljava/lang/Object;)V"} {
		printMethods = append(printMethods,
			nativeMethod(printStream, "println", descr, false),
			nativeMethod(printStream, "print", descr, false))
	}
	printStream.Methods = printMethods
	if _, err := prepare(printStream); err != nil {
		return nil, err
	}

	system := newClass("java/lang/System", object, classfile.AccPublic)
	system.Methods = []*runtime.Method{
		nativeMethod(system, "registerNatives", "()V", true),
		nativeMethod(system, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", true),
		nativeMethod(system, "nanoTime", "()J", true),
		nativeMethod(system, "currentTimeMillis", "()J", true),
		nativeMethod(system, "identityHashCode", "(Ljava/lang/Object;)I", true),
	}
	system.Fields = []*runtime.Field{
		{Class: system, AccessFlags: classfile.AccPublic | classfile.AccStatic | classfile.AccFinal, Name: "out", Type: descriptor.ClassType("java/io/PrintStream")},
	}
	if _, err := prepare(system); err != nil {
		return nil, err
	}

	return append(classes, printStream, system), nil
}

// NewPrintStream allocates a java.io.PrintStream instance writing to
// w. pkg/vm's class loader calls this once, right after System is
// prepared, to populate System.out directly in its StaticArea, since
// tiervm's runtime.Value.Ref is strictly *runtime.Object and has
// nowhere to special-case a getstatic of "java/lang/System.out"
// against. A real <clinit>-driven `new PrintStream(...)` would work
// identically through this same Lookup table; going through class-load
// wiring instead just avoids needing a FileOutputStream/FileDescriptor
// bootstrap chain neither side of this exercise implements.
func (n *Natives) NewPrintStream(printStreamClass *runtime.Class, w io.Writer) *runtime.Object {
	obj := runtime.NewObject(printStreamClass)
	n.mu.Lock()
	n.writers[obj] = w
	n.mu.Unlock()
	return obj
}

// NewString implements materialize.Natives: every ldc of a
// CONSTANT_String materializes through here.
func (n *Natives) NewString(contents string) (*runtime.Object, error) {
	obj := &runtime.Object{Class: n.stringClass()}
	n.mu.Lock()
	n.strings[obj] = contents
	n.mu.Unlock()
	return obj, nil
}

// stringClass is filled in by SetStringClass once Bootstrap's classes
// are registered; NewString needs the *runtime.Class identity (not
// just the name) so instanceof/checkcast against the object it
// returns resolves the same way any other String does.
func (n *Natives) stringClass() *runtime.Class {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stringClassPtr
}

// SetStringClass wires the *runtime.Class NewString allocates against.
// Called once by pkg/vm after Bootstrap's classes are registered.
func (n *Natives) SetStringClass(c *runtime.Class) {
	n.mu.Lock()
	n.stringClassPtr = c
	n.mu.Unlock()
}

func (n *Natives) stringOf(obj *runtime.Object) string {
	if obj == nil {
		return "null"
	}
	n.mu.Lock()
	s, ok := n.strings[obj]
	n.mu.Unlock()
	if ok {
		return s
	}
	return ""
}

// Lookup implements materialize.Natives. materialize calls Lookup a
// single time per method, caching the returned StubEntry in the
// method's stub cell, rather than re-dispatching on every call.
func (n *Natives) Lookup(className, methodName string, mt descriptor.MethodType) (runtime.StubEntry, error) {
	key := className + "." + methodName + ":" + mt.String()
	switch key {
	case "java/lang/Object.<init>:()V":
		return constValue(runtime.Value{}), nil
	case "java/lang/Object.hashCode:()I":
		return n.objectHashCode, nil
	case "java/lang/Object.equals:(Ljava/lang/Object;)Z":
		return objectIdentityEquals, nil
	case "java/lang/Object.toString:()Ljava/lang/String;":
		return n.objectToString, nil

	case "java/lang/String.<init>:()V":
		return n.stringInitEmpty, nil
	case "java/lang/String.length:()I":
		return n.stringLength, nil
	case "java/lang/String.charAt:(I)C":
		return n.stringCharAt, nil
	case "java/lang/String.equals:(Ljava/lang/Object;)Z":
		return n.stringEquals, nil
	case "java/lang/String.concat:(Ljava/lang/String;)Ljava/lang/String;":
		return n.stringConcat, nil
	case "java/lang/String.toString:()Ljava/lang/String;":
		return selfReturn, nil
	case "java/lang/String.hashCode:()I":
		return n.stringHashCode, nil
	case "java/lang/String.intern:()Ljava/lang/String;":
		return selfReturn, nil

	case "java/lang/Throwable.<init>:()V":
		return noopInit, nil
	case "java/lang/Throwable.<init>:(Ljava/lang/String;)V":
		return n.throwableInitWithMessage, nil
	case "java/lang/Throwable.getMessage:()Ljava/lang/String;":
		return n.throwableGetMessage, nil
	case "java/lang/Throwable.toString:()Ljava/lang/String;":
		return n.throwableToString, nil

	case "java/lang/System.registerNatives:()V":
		return constValue(runtime.Value{}), nil
	case "java/lang/System.arraycopy:(Ljava/lang/Object;ILjava/lang/Object;II)V":
		return n.systemArraycopy, nil
	case "java/lang/System.nanoTime:()J":
		return n.systemNanoTime, nil
	case "java/lang/System.currentTimeMillis:()J":
		return n.systemCurrentTimeMillis, nil
	case "java/lang/System.identityHashCode:(Ljava/lang/Object;)I":
		return n.objectHashCode, nil
	}

	if methodName == "registerNatives" && mt.String() == "()V" {
		return constValue(runtime.Value{}), nil
	}
	if printFn, ok := n.printStreamMethod(className, methodName, mt); ok {
		return printFn, nil
	}
	return nil, vmerrors.NoSuchMethod(className, methodName, mt.String(), fmt.Errorf("no native bridge registered"))
}

func constValue(v runtime.Value) runtime.StubEntry {
	return func(args []runtime.Value) (runtime.Value, error) { return v, nil }
}

func noopInit(args []runtime.Value) (runtime.Value, error) { return runtime.Value{}, nil }

// selfReturn implements the handful of methods whose native behavior
// is "return the receiver unchanged" (String.toString, String.intern —
// tiervm has no string pool to deduplicate into, so intern is the
// identity function).
func selfReturn(args []runtime.Value) (runtime.Value, error) {
	return args[0], nil
}

func objectIdentityEquals(args []runtime.Value) (runtime.Value, error) {
	return runtime.Value{Kind: runtime.KindInt32, I32: boolToInt(args[0].Ref == args[1].Ref)}, nil
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (n *Natives) objectHashCode(args []runtime.Value) (runtime.Value, error) {
	recv := args[0].Ref
	if recv == nil {
		return runtime.Value{}, &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: "java/lang/NullPointerException"}}}
	}
	return runtime.Int32(recv.IdentityHashCode(n.nextHash)), nil
}

func (n *Natives) objectToString(args []runtime.Value) (runtime.Value, error) {
	recv := args[0].Ref
	s := fmt.Sprintf("%s@%x", recv.Class.Name, uint32(recv.IdentityHashCode(n.nextHash)))
	obj, err := n.NewString(s)
	return runtime.Ref(obj), err
}

func (n *Natives) stringInitEmpty(args []runtime.Value) (runtime.Value, error) {
	recv := args[0].Ref
	n.mu.Lock()
	n.strings[recv] = ""
	n.mu.Unlock()
	return runtime.Value{}, nil
}

func (n *Natives) stringLength(args []runtime.Value) (runtime.Value, error) {
	return runtime.Int32(int32(len([]rune(n.stringOf(args[0].Ref))))), nil
}

func (n *Natives) stringCharAt(args []runtime.Value) (runtime.Value, error) {
	runes := []rune(n.stringOf(args[0].Ref))
	idx := args[1].I32
	if idx < 0 || int(idx) >= len(runes) {
		return runtime.Value{}, &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: "java/lang/StringIndexOutOfBoundsException"}}}
	}
	return runtime.Value{Kind: runtime.KindInt32, I32: int32(runes[idx])}, nil
}

func (n *Natives) stringEquals(args []runtime.Value) (runtime.Value, error) {
	other := args[1].Ref
	if other == nil || other.Class == nil || other.Class.Name != "java/lang/String" {
		return runtime.Int32(0), nil
	}
	eq := n.stringOf(args[0].Ref) == n.stringOf(other)
	return runtime.Int32(boolToInt(eq)), nil
}

func (n *Natives) stringConcat(args []runtime.Value) (runtime.Value, error) {
	combined := n.stringOf(args[0].Ref) + n.stringOf(args[1].Ref)
	obj, err := n.NewString(combined)
	return runtime.Ref(obj), err
}

func (n *Natives) stringHashCode(args []runtime.Value) (runtime.Value, error) {
	// Java's String.hashCode is s[0]*31^(n-1) + ... + s[n-1], JVMS-
	// specified exactly enough that programs rely on its value (e.g.
	// for switch-on-string bytecode, which lowers to a hashCode
	// dispatch); tiervm implements the same recurrence rather than an
	// arbitrary Go hash.
	h := int32(0)
	for _, c := range n.stringOf(args[0].Ref) {
		h = 31*h + int32(c)
	}
	return runtime.Int32(h), nil
}

func (n *Natives) throwableInitWithMessage(args []runtime.Value) (runtime.Value, error) {
	recv := args[0].Ref
	msg := n.stringOf(args[1].Ref)
	n.mu.Lock()
	n.strings[recv] = msg
	n.mu.Unlock()
	return runtime.Value{}, nil
}

func (n *Natives) throwableGetMessage(args []runtime.Value) (runtime.Value, error) {
	recv := args[0].Ref
	n.mu.Lock()
	msg, ok := n.strings[recv]
	n.mu.Unlock()
	if !ok {
		return runtime.Null(), nil
	}
	obj, err := n.NewString(msg)
	return runtime.Ref(obj), err
}

func (n *Natives) throwableToString(args []runtime.Value) (runtime.Value, error) {
	recv := args[0].Ref
	n.mu.Lock()
	msg, hasMsg := n.strings[recv]
	n.mu.Unlock()
	s := recv.Class.Name
	if hasMsg && msg != "" {
		s += ": " + msg
	}
	obj, err := n.NewString(s)
	return runtime.Ref(obj), err
}

func (n *Natives) systemArraycopy(args []runtime.Value) (runtime.Value, error) {
	src, srcPos, dst, dstPos, length := args[0].Ref, args[1].I32, args[2].Ref, args[3].I32, args[4].I32
	if src == nil || dst == nil {
		return runtime.Value{}, &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: "java/lang/NullPointerException"}}}
	}
	if srcPos < 0 || dstPos < 0 || length < 0 ||
		int(srcPos+length) > len(src.Elements) || int(dstPos+length) > len(dst.Elements) {
		return runtime.Value{}, &vmerrors.JavaException{Obj: &runtime.Object{Class: &runtime.Class{Name: "java/lang/ArrayIndexOutOfBoundsException"}}}
	}
	copy(dst.Elements[dstPos:dstPos+length], src.Elements[srcPos:srcPos+length])
	return runtime.Value{}, nil
}

func (n *Natives) systemNanoTime(args []runtime.Value) (runtime.Value, error) {
	return runtime.Value{Kind: runtime.KindInt64, I64: time.Now().UnixNano()}, nil
}

func (n *Natives) systemCurrentTimeMillis(args []runtime.Value) (runtime.Value, error) {
	return runtime.Value{Kind: runtime.KindInt64, I64: time.Now().UnixMilli()}, nil
}

// printStreamMethod handles the println/print overload set for any
// receiver registered as a PrintStream (i.e. System.out, or any other
// object NewPrintStream built).
func (n *Natives) printStreamMethod(className, methodName string, mt descriptor.MethodType) (runtime.StubEntry, bool) {
	if className != "java/io/PrintStream" {
		return nil, false
	}
	if methodName != "println" && methodName != "print" {
		return nil, false
	}
	newline := methodName == "println"
	descr := mt.String()
	return func(args []runtime.Value) (runtime.Value, error) {
		recv := args[0].Ref
		n.mu.Lock()
		w, ok := n.writers[recv]
		n.mu.Unlock()
		if !ok {
			return runtime.Value{}, fmt.Errorf("natives: println on a PrintStream never built via NewPrintStream")
		}
		text := n.formatPrintArg(descr, args)
		if newline {
			fmt.Fprintln(w, text)
		} else {
			fmt.Fprint(w, text)
		}
		return runtime.Value{}, nil
	}, true
}

func (n *Natives) formatPrintArg(descr string, args []runtime.Value) string {
	if len(args) == 1 {
		return ""
	}
	v := args[1]
	switch descr {
	case "(I)V":
		return strconv.FormatInt(int64(v.I32), 10)
	case "(J)V":
		return strconv.FormatInt(v.I64, 10)
	case "(D)V":
		if v.F64 == math.Trunc(v.F64) && !math.IsInf(v.F64, 0) {
			return strconv.FormatFloat(v.F64, 'f', 1, 64)
		}
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case "(F)V":
		f64 := float64(v.F32)
		if f64 == math.Trunc(f64) && !math.IsInf(f64, 0) {
			return strconv.FormatFloat(f64, 'f', 1, 32)
		}
		return strconv.FormatFloat(f64, 'g', -1, 32)
	case "(Z)V":
		if v.I32 != 0 {
			return "true"
		}
		return "false"
	case "(C)V":
		return string(rune(v.I32))
	case "(Ljava/lang/String;)V":
		return n.stringOf(v.Ref)
	case "(Ljava/lang/Object;)V":
		if v.Ref == nil {
			return "null"
		}
		if s, ok := n.lookupString(v.Ref); ok {
			return s
		}
		s, err := n.objectToString([]runtime.Value{v})
		if err != nil {
			return v.Ref.Class.Name
		}
		return n.stringOf(s.Ref)
	default:
		return ""
	}
}

func (n *Natives) lookupString(obj *runtime.Object) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.strings[obj]
	return s, ok
}
