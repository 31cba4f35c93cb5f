package abi

// FnPtr is an opaque native pointer token assigned by the code generator.
// Two descriptors refer to the same compiled function exactly when their
// tokens are equal. A token is only valid for the lifetime of its owning
// assembly; callers must never cache it across a reload boundary.
type FnPtr uint64

// FunctionDesc is the signature and native pointer of one exported function,
// expressed in raw ABI terms: argument and return types are TypeIDs that the
// runtime resolves against its type table when the module is linked.
type FunctionDesc struct {
	Name       string
	ArgTypes   []TypeID
	ReturnType TypeID
	FnPtr      FnPtr
}

// ModuleDesc is the exported function listing of one module inside an
// assembly. Path is the fully-qualified module path; a function's dispatch
// path is Path + "::" + function name.
type ModuleDesc struct {
	Path      string
	Functions []FunctionDesc
	// Calls lists the dispatch paths this module's code calls through the
	// dispatch table, one entry per call site. The runtime uses it to track
	// cross-module usage counts.
	Calls []string
}

// FunctionPath returns the fully-qualified dispatch path of a function
// exported by this module.
func (m *ModuleDesc) FunctionPath(name string) string {
	return m.Path + "::" + name
}

// AssemblyDesc is everything an independently loadable unit exposes to the
// runtime: its name, the names of assemblies it depends on, the types it
// defines and the modules it exports.
type AssemblyDesc struct {
	Name         string
	Dependencies []string
	Types        []*TypeDesc
	Modules      []*ModuleDesc
}

// TypeByName returns the assembly's type descriptor with the given name, or
// nil if the assembly does not define it.
func (a *AssemblyDesc) TypeByName(name string) *TypeDesc {
	for _, desc := range a.Types {
		if desc.Name == name {
			return desc
		}
	}
	return nil
}
