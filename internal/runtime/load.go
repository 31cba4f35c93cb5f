package runtime

import (
	"context"
	"fmt"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/ctxlog"
)

// LoadAssembly links a freshly compiled assembly into the runtime: its
// dependencies must already be loaded, its types are registered, its modules
// are inserted into the dispatch table and its recorded call sites are added
// to the dependency counts. The load is all-or-nothing: any link failure
// leaves the registries exactly as they were.
func (rt *Runtime) LoadAssembly(ctx context.Context, asm *abi.AssemblyDesc) error {
	logger := ctxlog.FromContext(ctx)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, loaded := rt.assemblies[asm.Name]; loaded {
		return fmt.Errorf("load %s: %w", asm.Name, ErrAssemblyLoaded)
	}
	for _, dep := range asm.Dependencies {
		if _, loaded := rt.assemblies[dep]; !loaded {
			return fmt.Errorf("load %s: %w: %s", asm.Name, ErrMissingDependency, dep)
		}
	}

	// Register types first; modules may only link after every type they
	// reference is registered.
	replaced := make(map[string]*abi.TypeDesc)
	for _, desc := range asm.Types {
		replaced[desc.Name] = rt.types.Insert(desc)
	}

	rollbackTypes := func() {
		for _, desc := range asm.Types {
			if prev := replaced[desc.Name]; prev != nil {
				rt.types.Insert(prev)
			} else {
				rt.types.RemoveByName(desc.Name)
			}
		}
	}

	var inserted []*abi.ModuleDesc
	for _, mod := range asm.Modules {
		if err := rt.dispatch.InsertModule(mod, rt.types); err != nil {
			for _, done := range inserted {
				rt.dispatch.RemoveModule(done)
			}
			rollbackTypes()
			return fmt.Errorf("load %s: %w", asm.Name, err)
		}
		inserted = append(inserted, mod)
	}

	for _, mod := range asm.Modules {
		for _, path := range mod.Calls {
			rt.dispatch.AddDependency(asm.Name, path, abi.FunctionDesc{Name: path})
		}
	}

	rt.assemblies[asm.Name] = asm
	logger.Info("assembly loaded",
		"assembly", asm.Name,
		"types", len(asm.Types),
		"modules", len(asm.Modules))

	if missing := rt.dispatch.MissingDependencies(asm.Name); len(missing) > 0 {
		logger.Warn("assembly has unlinked dependencies",
			"assembly", asm.Name, "paths", missing)
	}
	return nil
}

// Assembly returns the currently loaded descriptor of the named assembly.
func (rt *Runtime) Assembly(name string) (*abi.AssemblyDesc, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	asm, ok := rt.assemblies[name]
	return asm, ok
}

// UnloadAssembly removes an assembly: its dispatch entries are unlinked by
// pointer identity, its call-site references dropped and its types removed
// from the registry. Live objects of its types stay valid until collected;
// their records keep the descriptor alive.
func (rt *Runtime) UnloadAssembly(ctx context.Context, name string) error {
	logger := ctxlog.FromContext(ctx)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	asm, ok := rt.assemblies[name]
	if !ok {
		return fmt.Errorf("unload %s: %w", name, ErrAssemblyNotLoaded)
	}

	for _, mod := range asm.Modules {
		rt.dispatch.RemoveModule(mod)
		for _, path := range mod.Calls {
			rt.dispatch.RemoveDependency(name, path)
		}
	}
	for _, desc := range asm.Types {
		rt.types.RemoveByName(desc.Name)
	}
	delete(rt.assemblies, name)

	rt.collector.Collect()
	logger.Info("assembly unloaded", "assembly", name)
	return nil
}
