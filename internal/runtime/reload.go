package runtime

import (
	"context"
	"fmt"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/ctxlog"
	"github.com/vk/molt/internal/fielddiff"
	"github.com/vk/molt/internal/gc"
	"github.com/vk/molt/internal/migrate"
)

// replacement is one pending storage swap, materialized before any object is
// touched so a failing migration aborts the reload without corrupting state.
type replacement struct {
	handle gc.Handle
	desc   *abi.TypeDesc
	data   []byte
}

// ReloadAssembly swaps a loaded assembly for a freshly compiled version of
// itself while preserving live object state. diffs maps the name of each
// struct type whose shape changed to the compiler-supplied field diff
// between the two versions.
//
// The reload is one administrative step: stale dispatch entries are unlinked
// by pointer identity, the new types are registered, live instances of
// changed types are migrated into their new shape, the new modules are
// relinked, and a collection pass frees whatever became unreachable. All
// migrations are materialized before any object is rewritten; an unsupported
// cast aborts the reload with the registries restored and the heap
// untouched.
func (rt *Runtime) ReloadAssembly(ctx context.Context, next *abi.AssemblyDesc, diffs map[string][]fielddiff.Diff) error {
	logger := ctxlog.FromContext(ctx)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	old, ok := rt.assemblies[next.Name]
	if !ok {
		return fmt.Errorf("reload %s: %w", next.Name, ErrAssemblyNotLoaded)
	}

	// Unlink the old version's dispatch entries. Pointer identity means a
	// path already overridden by another assembly survives.
	for _, mod := range old.Modules {
		rt.dispatch.RemoveModule(mod)
		for _, path := range mod.Calls {
			rt.dispatch.RemoveDependency(next.Name, path)
		}
	}

	// Publish the new version's types; remember what they displaced so a
	// failed reload can restore the registry.
	replaced := make(map[string]*abi.TypeDesc)
	for _, desc := range next.Types {
		replaced[desc.Name] = rt.types.Insert(desc)
	}

	restore := func() {
		for _, desc := range next.Types {
			if prev := replaced[desc.Name]; prev != nil {
				rt.types.Insert(prev)
			} else {
				rt.types.RemoveByName(desc.Name)
			}
		}
		for _, mod := range old.Modules {
			// Old modules linked before, and their types are back; a failure
			// here would indicate registry corruption.
			if err := rt.dispatch.InsertModule(mod, rt.types); err != nil {
				panic(fmt.Sprintf("runtime: failed to restore module %s after aborted reload: %v", mod.Path, err))
			}
			for _, path := range mod.Calls {
				rt.dispatch.AddDependency(next.Name, path, abi.FunctionDesc{Name: path})
			}
		}
	}

	// Materialize every migration before rewriting anything.
	replacements, err := rt.materializeMigrations(old, next, diffs)
	if err != nil {
		restore()
		return fmt.Errorf("reload %s: %w", next.Name, err)
	}

	// Relink the new modules against the updated type table, all-or-nothing.
	var inserted []*abi.ModuleDesc
	for _, mod := range next.Modules {
		if err := rt.dispatch.InsertModule(mod, rt.types); err != nil {
			for _, done := range inserted {
				rt.dispatch.RemoveModule(done)
			}
			restore()
			return fmt.Errorf("reload %s: %w", next.Name, err)
		}
		inserted = append(inserted, mod)
	}

	// Past this point the reload cannot fail: rewrite live instances.
	for _, r := range replacements {
		rt.collector.Replace(r.handle, r.desc, r.data)
	}

	// Drop types the new version no longer defines. Records of live objects
	// keep their descriptors alive until collection.
	for _, desc := range old.Types {
		if next.TypeByName(desc.Name) == nil {
			rt.types.RemoveByName(desc.Name)
		}
	}

	for _, mod := range next.Modules {
		for _, path := range mod.Calls {
			rt.dispatch.AddDependency(next.Name, path, abi.FunctionDesc{Name: path})
		}
	}

	rt.assemblies[next.Name] = next

	for name := range rt.assemblies {
		if missing := rt.dispatch.MissingDependencies(name); len(missing) > 0 {
			logger.Warn("assembly has unlinked dependencies after reload",
				"assembly", name, "paths", missing)
		}
	}

	rt.collector.Collect()

	logger.Info("assembly reloaded",
		"assembly", next.Name,
		"migrated_objects", len(replacements),
		"changed_types", len(diffs))
	return nil
}

// reloadResolver resolves type identifiers against the live table first and
// falls back to the outgoing assembly's descriptors, which the table no
// longer holds once the new version is published.
type reloadResolver struct {
	rt  *Runtime
	old *abi.AssemblyDesc
}

func (r reloadResolver) FindByID(id abi.TypeID) (*abi.TypeDesc, bool) {
	if desc, ok := r.rt.types.FindByID(id); ok {
		return desc, true
	}
	for _, desc := range r.old.Types {
		if desc.ID == id {
			return desc, true
		}
	}
	return nil, false
}

// materializeMigrations derives the field mapping of every changed type and
// copies each live instance into storage shaped like its new version. It
// reads the heap but never writes it.
func (rt *Runtime) materializeMigrations(
	old, next *abi.AssemblyDesc,
	diffs map[string][]fielddiff.Diff,
) ([]replacement, error) {
	var replacements []replacement
	resolver := reloadResolver{rt: rt, old: old}

	for name, diff := range diffs {
		oldDesc := old.TypeByName(name)
		if oldDesc == nil {
			return nil, fmt.Errorf("migrate %s: old version does not define it: %w", name, ErrTypeNotFound)
		}
		newDesc := next.TypeByName(name)
		if newDesc == nil {
			return nil, fmt.Errorf("migrate %s: new version does not define it: %w", name, ErrTypeNotFound)
		}
		if oldDesc.ID == newDesc.ID {
			// Identical shape; nothing to migrate.
			continue
		}

		mapping := migrate.FieldMapping(len(oldDesc.Fields), diff)

		for _, h := range rt.collector.HandlesOf(oldDesc.ID) {
			src := rt.collector.Deref(h, oldDesc.ID)
			data, err := migrate.Materialize(resolver, rt.casts, oldDesc, newDesc, mapping, src)
			if err != nil {
				return nil, err
			}
			replacements = append(replacements, replacement{handle: h, desc: newDesc, data: data})
		}
	}

	return replacements, nil
}
