// Package dispatch provides the runtime dispatch table: the mapping from
// fully-qualified function paths to resolved function definitions.
//
// All script-to-script and host-to-script calls resolve through this table,
// so a hot reload only has to rewrite table entries; no caller ever holds a
// native pointer across a reload boundary. The table also tracks, per
// assembly, how many times each dependency path is referenced, so unloading
// an assembly knows which entries other assemblies still rely on.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/vk/molt/internal/abi"
)

// Function is a linked dispatch table entry: the function's resolved
// signature plus the native pointer token installed by its owning assembly.
type Function struct {
	Name string
	Args []*abi.TypeDesc
	Ret  *abi.TypeDesc
	Ptr  abi.FnPtr
}

// TypeResolver looks type descriptors up by identifier; the runtime's type
// table satisfies it.
type TypeResolver interface {
	FindByID(id abi.TypeID) (*abi.TypeDesc, bool)
}

// LinkError reports why an InsertModule call was rejected. The table is
// always left exactly as it was before the failed call.
type LinkError struct {
	Module   string
	Function string
	TypeID   abi.TypeID
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link module %s: function %q references unregistered type %s",
		e.Module, e.Function, e.TypeID)
}

// dependency is one entry of an assembly's dependency multiset.
type dependency struct {
	prototype abi.FunctionDesc
	count     uint32
}

// Table is the dispatch table of one runtime instance.
type Table struct {
	mu        sync.RWMutex
	functions map[string]*Function
	// dependencies is keyed by assembly name, then dependency path.
	dependencies map[string]map[string]*dependency
}

// New creates an empty dispatch table.
func New() *Table {
	return &Table{
		functions:    make(map[string]*Function),
		dependencies: make(map[string]map[string]*dependency),
	}
}

// Get returns the function registered under path. Absence is routine and
// reported through the second return value; every call site performs a
// fresh lookup rather than caching the result.
func (t *Table) Get(path string) (*Function, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.functions[path]
	return fn, ok
}

// Paths returns all registered function paths.
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.functions))
	for path := range t.functions {
		paths = append(paths, path)
	}
	return paths
}

// Insert registers fn under path, returning the previous entry if one
// existed.
func (t *Table) Insert(path string, fn *Function) *Function {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.functions[path]
	t.functions[path] = fn
	return prev
}

// Remove deletes the entry registered under path.
func (t *Table) Remove(path string) (*Function, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn, ok := t.functions[path]
	if ok {
		delete(t.functions, path)
	}
	return fn, ok
}

// InsertModule bulk-loads every exported function of a newly linked module,
// resolving argument and return type identifiers through types. The whole
// operation fails and leaves the table untouched if any referenced type is
// unresolved: a module may only be linked after every type it references is
// registered.
func (t *Table) InsertModule(mod *abi.ModuleDesc, types TypeResolver) error {
	linked := make(map[string]*Function, len(mod.Functions))
	for _, fd := range mod.Functions {
		fn, err := link(mod, &fd, types)
		if err != nil {
			return err
		}
		linked[mod.FunctionPath(fd.Name)] = fn
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for path, fn := range linked {
		t.functions[path] = fn
	}
	return nil
}

// RemoveModule removes only the entries whose currently installed native
// pointer still equals the pointer coming from mod. The check is pointer
// identity, not a name match: a path already overridden by a newer module
// survives the old module's unload.
func (t *Table) RemoveModule(mod *abi.ModuleDesc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, fd := range mod.Functions {
		path := mod.FunctionPath(fd.Name)
		if installed, ok := t.functions[path]; ok && installed.Ptr == fd.FnPtr {
			delete(t.functions, path)
		}
	}
}

// AddDependency records that assembly references the function at path,
// keeping the supplied prototype for later verification. Repeated additions
// increment the usage count.
func (t *Table) AddDependency(assembly, path string, prototype abi.FunctionDesc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deps := t.dependencies[assembly]
	if deps == nil {
		deps = make(map[string]*dependency)
		t.dependencies[assembly] = deps
	}
	if dep, ok := deps[path]; ok {
		dep.count++
		return
	}
	deps[path] = &dependency{prototype: prototype, count: 1}
}

// RemoveDependency decrements assembly's usage count for path, deleting the
// entry only when the count was exactly one. A count greater than one is
// decremented and the entry retained.
func (t *Table) RemoveDependency(assembly, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deps := t.dependencies[assembly]
	if deps == nil {
		return
	}
	dep, ok := deps[path]
	if !ok {
		return
	}
	if dep.count == 1 {
		delete(deps, path)
		if len(deps) == 0 {
			delete(t.dependencies, assembly)
		}
		return
	}
	dep.count--
}

// DependencyCount returns assembly's current usage count for path; zero
// means no recorded dependency.
func (t *Table) DependencyCount(assembly, path string) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if dep, ok := t.dependencies[assembly][path]; ok {
		return dep.count
	}
	return 0
}

// MissingDependencies returns the dependency paths of assembly that are not
// currently linked in the table, in no particular order.
func (t *Table) MissingDependencies(assembly string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var missing []string
	for path := range t.dependencies[assembly] {
		if _, ok := t.functions[path]; !ok {
			missing = append(missing, path)
		}
	}
	return missing
}

func link(mod *abi.ModuleDesc, fd *abi.FunctionDesc, types TypeResolver) (*Function, error) {
	args := make([]*abi.TypeDesc, len(fd.ArgTypes))
	for i, id := range fd.ArgTypes {
		desc, ok := types.FindByID(id)
		if !ok {
			return nil, &LinkError{Module: mod.Path, Function: fd.Name, TypeID: id}
		}
		args[i] = desc
	}
	ret, ok := types.FindByID(fd.ReturnType)
	if !ok {
		return nil, &LinkError{Module: mod.Path, Function: fd.Name, TypeID: fd.ReturnType}
	}
	return &Function{Name: fd.Name, Args: args, Ret: ret, Ptr: fd.FnPtr}, nil
}
