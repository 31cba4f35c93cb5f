package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/ctxlog"
	"github.com/vk/molt/internal/depgraph"
	"github.com/vk/molt/internal/gc"
	"github.com/vk/molt/internal/manifest"
	"github.com/vk/molt/internal/runtime"
)

// App encapsulates the tool's dependencies and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	rt      *runtime.Runtime
	asmDesc *abi.AssemblyDesc
	config  *Config
}

// NewApp builds a fully initialized App with its own isolated logger and
// runtime instance.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	rt := runtime.New(runtime.Options{
		Observer: gc.LogObserver{Logger: logger},
	})
	return &App{
		outW:   outW,
		logger: logger,
		rt:     rt,
		config: cfg,
	}
}

// Runtime returns the app's runtime instance. Primarily for testing.
func (a *App) Runtime() *runtime.Runtime {
	return a.rt
}

// Run loads the configured manifest, links it into the runtime and writes a
// summary of the linked assembly to the output writer. When the path is a
// directory, every manifest under it is loaded in dependency order.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	info, err := os.Stat(a.config.ManifestPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return a.runDir(ctx, a.config.ManifestPath)
	}

	desc, err := manifest.Load(ctx, a.config.ManifestPath)
	if err != nil {
		return err
	}
	a.asmDesc = desc

	if err := a.rt.LoadAssembly(ctx, desc); err != nil {
		return err
	}

	a.report(desc)
	return nil
}

// runDir discovers every manifest under root and links the assemblies in
// dependency order, so each one finds the assemblies it depends on already
// loaded.
func (a *App) runDir(ctx context.Context, root string) error {
	paths, err := manifest.Discover(root)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no %s manifests under %s", manifest.Extension, root)
	}

	descs := make(map[string]*abi.AssemblyDesc, len(paths))
	graph := depgraph.New()
	for _, path := range paths {
		desc, err := manifest.Load(ctx, path)
		if err != nil {
			return err
		}
		if _, dup := descs[desc.Name]; dup {
			return fmt.Errorf("assembly %q declared by more than one manifest", desc.Name)
		}
		descs[desc.Name] = desc
		graph.Add(desc.Name, desc.Dependencies)
	}

	order, err := graph.Order()
	if err != nil {
		return err
	}
	for _, name := range order {
		desc := descs[name]
		if err := a.rt.LoadAssembly(ctx, desc); err != nil {
			return err
		}
		a.asmDesc = desc
		a.report(desc)
	}
	return nil
}

// report writes a human-readable summary of what got linked.
func (a *App) report(desc *abi.AssemblyDesc) {
	fmt.Fprintf(a.outW, "assembly %q linked\n", desc.Name)
	if len(desc.Dependencies) > 0 {
		fmt.Fprintf(a.outW, "  depends on: %v\n", desc.Dependencies)
	}

	for _, t := range desc.Types {
		fmt.Fprintf(a.outW, "  type %s (%s, %d bytes, id %s)\n",
			t.Name, t.Memory, t.Size, t.ID)
		for _, f := range t.Fields {
			fmt.Fprintf(a.outW, "    .%s @ %d\n", f.Name, f.Offset)
		}
	}

	var paths []string
	for _, mod := range desc.Modules {
		for _, fn := range mod.Functions {
			paths = append(paths, mod.FunctionPath(fn.Name))
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		fn, ok := a.rt.GetFunction(path)
		if !ok {
			continue
		}
		fmt.Fprintf(a.outW, "  fn %s/%d -> %s (ptr %#x)\n",
			path, len(fn.Args), fn.Ret.Name, uint64(fn.Ptr))
	}
}
