package runtime

// Initializer runs a class's <clinit>, if present. Supplied by the
// layer that can actually invoke bytecode (pkg/materialize), since
// pkg/runtime itself has no notion of executing a method body.
type Initializer func(c *Class) error

// InitializeClassObject implements §4.10: gate on initialization
// status, recursively initialize supertypes, then run <clinit>.
//
// Step 1 is a CAS from Uninitialized to UnderInitialization; a class
// already UnderInitialization or Initialized returns immediately, which
// is what makes cyclic <clinit> chains safe (the invariant in §3 only
// requires supertypes to be Initialized-or-UnderInitialization at the
// moment a class becomes Initialized, not strictly Initialized).
func InitializeClassObject(c *Class, runClinit Initializer) error {
	if !c.initStatus.CompareAndSwap(int32(Uninitialized), int32(UnderInitialization)) {
		// Already under initialization (including by this same call,
		// recursively, for a cyclic supertype chain) or already done.
		return nil
	}

	if c.Super != nil {
		if err := InitializeClassObject(c.Super, runClinit); err != nil {
			return err
		}
	}
	for _, ifc := range c.Interfaces {
		// Superinterfaces are only initialized if they themselves
		// declare a default method or static fields with
		// initializers that amount to <clinit> work; tiervm follows
		// the simpler and still-conformant rule of recursively
		// initializing every direct interface, which is observably
		// equivalent for the non-goal scope here (no interface
		// private/static method complexity).
		if err := InitializeClassObject(ifc, runClinit); err != nil {
			return err
		}
	}
	if err := runClinit(c); err != nil {
		return err
	}
	c.initStatus.Store(int32(Initialized))
	return nil
}
