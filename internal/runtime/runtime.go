// Package runtime is the orchestrating façade of the core: it owns one type
// table, one cast registry, one dispatch table and one collector per runtime
// instance, and applies assembly loads and hot reloads as atomic
// administrative steps relative to invocation traffic.
//
// A coarse read/write lock serializes reload writes against function and
// type lookups from arbitrary call sites: many concurrent readers, one
// writer at a time. Once a reload begins it runs to completion; there is no
// cancellation.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/cast"
	"github.com/vk/molt/internal/dispatch"
	"github.com/vk/molt/internal/fielddiff"
	"github.com/vk/molt/internal/gc"
	"github.com/vk/molt/internal/migrate"
	"github.com/vk/molt/internal/typetable"
)

var (
	// ErrTypeNotFound is returned when an operation names a type id or name
	// absent from the type table. Absence is routine, never a crash.
	ErrTypeNotFound = errors.New("type not found")
	// ErrFunctionNotFound is returned when a dispatch path is not linked.
	ErrFunctionNotFound = errors.New("function not found")
	// ErrAssemblyLoaded rejects loading an assembly name twice.
	ErrAssemblyLoaded = errors.New("assembly already loaded")
	// ErrAssemblyNotLoaded rejects reloading an assembly that was never
	// loaded.
	ErrAssemblyNotLoaded = errors.New("assembly not loaded")
	// ErrMissingDependency rejects loading an assembly before the assemblies
	// it depends on.
	ErrMissingDependency = errors.New("missing assembly dependency")
)

// Options configures a runtime instance.
type Options struct {
	// Observer receives garbage collector events; nil discards them.
	Observer gc.Observer
}

// Runtime owns the registries and collector of one runtime instance and
// orchestrates assembly loading and hot reload.
type Runtime struct {
	mu         sync.RWMutex
	types      *typetable.Table
	casts      *cast.Registry
	dispatch   *dispatch.Table
	collector  *gc.Collector
	assemblies map[string]*abi.AssemblyDesc
}

// New creates a runtime with pre-registered primitive types and an empty
// heap.
func New(opts Options) *Runtime {
	types := typetable.New()
	return &Runtime{
		types:      types,
		casts:      cast.NewRegistry(),
		dispatch:   dispatch.New(),
		collector:  gc.NewCollector(types, opts.Observer),
		assemblies: make(map[string]*abi.AssemblyDesc),
	}
}

// FindTypeByID looks a type descriptor up by identifier.
func (rt *Runtime) FindTypeByID(id abi.TypeID) (*abi.TypeDesc, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.types.FindByID(id)
}

// FindTypeByName looks a type descriptor up by name.
func (rt *Runtime) FindTypeByName(name string) (*abi.TypeDesc, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.types.FindByName(name)
}

// InsertType publishes or replaces a type descriptor, returning the previous
// entry if one existed.
func (rt *Runtime) InsertType(desc *abi.TypeDesc) *abi.TypeDesc {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.types.Insert(desc)
}

// RemoveTypeByID removes a type from both registry indices.
func (rt *Runtime) RemoveTypeByID(id abi.TypeID) (*abi.TypeDesc, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.types.RemoveByID(id)
}

// RemoveTypeByName removes a type from both registry indices.
func (rt *Runtime) RemoveTypeByName(name string) (*abi.TypeDesc, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.types.RemoveByName(name)
}

// GetFunction performs a fresh dispatch table lookup. Callers must never
// cache the result across a reload boundary.
func (rt *Runtime) GetFunction(path string) (*dispatch.Function, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.dispatch.Get(path)
}

// InsertFunction registers a single dispatch entry.
func (rt *Runtime) InsertFunction(path string, fn *dispatch.Function) *dispatch.Function {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.dispatch.Insert(path, fn)
}

// RemoveFunction removes a single dispatch entry.
func (rt *Runtime) RemoveFunction(path string) (*dispatch.Function, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.dispatch.Remove(path)
}

// AddDependency records one call-site reference from assembly to path.
func (rt *Runtime) AddDependency(assembly, path string, prototype abi.FunctionDesc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dispatch.AddDependency(assembly, path, prototype)
}

// RemoveDependency drops one call-site reference from assembly to path.
func (rt *Runtime) RemoveDependency(assembly, path string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dispatch.RemoveDependency(assembly, path)
}

// Alloc allocates a zeroed object of the named type.
func (rt *Runtime) Alloc(id abi.TypeID) (gc.Handle, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	desc, ok := rt.types.FindByID(id)
	if !ok {
		return gc.NilHandle, fmt.Errorf("alloc %s: %w", id, ErrTypeNotFound)
	}
	return rt.collector.Alloc(desc), nil
}

// Root increments an object's root count.
func (rt *Runtime) Root(h gc.Handle) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	rt.collector.Root(h)
}

// Unroot decrements an object's root count.
func (rt *Runtime) Unroot(h gc.Handle) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	rt.collector.Unroot(h)
}

// NewRooted allocates and immediately roots an object of the named type.
func (rt *Runtime) NewRooted(id abi.TypeID) (*gc.Rooted, error) {
	h, err := rt.Alloc(id)
	if err != nil {
		return nil, err
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.collector.NewRooted(h), nil
}

// TypeOf returns the type identifier of a live object.
func (rt *Runtime) TypeOf(h gc.Handle) abi.TypeID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.collector.TypeOf(h)
}

// Deref borrows an object's storage, asserting the expected type.
func (rt *Runtime) Deref(h gc.Handle, expect abi.TypeID) []byte {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.collector.Deref(h, expect)
}

// Collect runs one garbage collection cycle.
func (rt *Runtime) Collect() {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	rt.collector.Collect()
}

// Collector exposes the garbage collector, primarily for tests and
// diagnostics.
func (rt *Runtime) Collector() *gc.Collector {
	return rt.collector
}

// FieldMapping derives the field mapping of a changed struct from its old
// field count and the compiler-supplied diff.
func (rt *Runtime) FieldMapping(oldFieldCount int, diff []fielddiff.Diff) []migrate.Source {
	return migrate.FieldMapping(oldFieldCount, diff)
}
