// Package manifest decodes assembly manifests: the HCL description of a
// freshly compiled assembly that the compiler tool-chain hands to the
// runtime core. A manifest names the assembly, the assemblies it depends
// on, the struct types it defines and the modules it exports.
//
// Example:
//
//	assembly "game" {
//	  dependencies = ["core"]
//
//	  struct "Position" {
//	    memory = "gc"
//	    field "x" { type = "f32" }
//	    field "y" { type = "f32" }
//	  }
//
//	  module "game::physics" {
//	    function "update" {
//	      args    = ["Position", "f32"]
//	      returns = "unit"
//	      ptr     = 4096
//	    }
//	  }
//	}
//
// The decoder resolves every type reference against the built-in primitives
// and the structs declared earlier in the same manifest, and computes struct
// layout the same way the code generator does, so the resulting descriptors
// carry the deterministic structural TypeIDs the rest of the runtime keys
// on.
package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/ctxlog"
)

type hclManifest struct {
	Assembly *hclAssembly `hcl:"assembly,block"`
}

type hclAssembly struct {
	Name         string       `hcl:"name,label"`
	Dependencies []string     `hcl:"dependencies,optional"`
	Structs      []*hclStruct `hcl:"struct,block"`
	Modules      []*hclModule `hcl:"module,block"`
}

type hclStruct struct {
	Name   string      `hcl:"name,label"`
	Memory string      `hcl:"memory,optional"`
	Fields []*hclField `hcl:"field,block"`
}

type hclField struct {
	Name string `hcl:"name,label"`
	Type string `hcl:"type"`
}

type hclModule struct {
	Path      string         `hcl:"path,label"`
	Functions []*hclFunction `hcl:"function,block"`
}

type hclFunction struct {
	Name    string         `hcl:"name,label"`
	Args    []string       `hcl:"args,optional"`
	Returns string         `hcl:"returns,optional"`
	Calls   []string       `hcl:"calls,optional"`
	Ptr     hcl.Expression `hcl:"ptr"`
}

// Load parses the manifest file at path into an assembly descriptor.
func Load(ctx context.Context, path string) (*abi.AssemblyDesc, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}
	return decode(ctx, file)
}

// LoadBytes parses manifest source held in memory; filename is used in
// diagnostics only.
func LoadBytes(ctx context.Context, src []byte, filename string) (*abi.AssemblyDesc, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}
	return decode(ctx, file)
}

func decode(ctx context.Context, file *hcl.File) (*abi.AssemblyDesc, error) {
	logger := ctxlog.FromContext(ctx)

	var parsed hclManifest
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest: %w", diags)
	}
	if parsed.Assembly == nil {
		return nil, fmt.Errorf("manifest does not contain an assembly block")
	}
	src := parsed.Assembly

	// Named types visible to this manifest: primitives plus structs declared
	// earlier in the same file.
	resolve := make(map[string]*abi.TypeDesc)
	for _, desc := range abi.Primitives() {
		resolve[desc.Name] = desc
	}

	desc := &abi.AssemblyDesc{
		Name:         src.Name,
		Dependencies: src.Dependencies,
	}

	for _, s := range src.Structs {
		memory, err := memoryKind(s.Memory)
		if err != nil {
			return nil, fmt.Errorf("struct %q: %w", s.Name, err)
		}
		fields := make([]abi.FieldSpec, len(s.Fields))
		for i, f := range s.Fields {
			fieldDesc, err := resolveType(resolve, f.Type)
			if err != nil {
				return nil, fmt.Errorf("struct %q, field %q: %w", s.Name, f.Name, err)
			}
			fields[i] = abi.FieldSpec{Name: f.Name, Desc: fieldDesc}
		}
		structDesc := abi.NewStructDesc(s.Name, memory, fields)
		resolve[s.Name] = structDesc
		desc.Types = append(desc.Types, structDesc)
		logger.Debug("manifest declared struct",
			"assembly", src.Name, "struct", s.Name, "size", structDesc.Size)
	}

	for _, m := range src.Modules {
		mod := &abi.ModuleDesc{Path: m.Path}
		for _, f := range m.Functions {
			fn, err := decodeFunction(resolve, f)
			if err != nil {
				return nil, fmt.Errorf("module %q, function %q: %w", m.Path, f.Name, err)
			}
			mod.Functions = append(mod.Functions, fn)
			mod.Calls = append(mod.Calls, f.Calls...)
		}
		desc.Modules = append(desc.Modules, mod)
	}

	logger.Debug("manifest decoded",
		"assembly", desc.Name,
		"types", len(desc.Types),
		"modules", len(desc.Modules))
	return desc, nil
}

func decodeFunction(resolve map[string]*abi.TypeDesc, f *hclFunction) (abi.FunctionDesc, error) {
	fn := abi.FunctionDesc{Name: f.Name}

	for _, arg := range f.Args {
		argDesc, err := resolveType(resolve, arg)
		if err != nil {
			return fn, err
		}
		fn.ArgTypes = append(fn.ArgTypes, argDesc.ID)
	}

	returns := f.Returns
	if returns == "" {
		returns = "unit"
	}
	retDesc, err := resolveType(resolve, returns)
	if err != nil {
		return fn, err
	}
	fn.ReturnType = retDesc.ID

	val, diags := f.Ptr.Value(nil)
	if diags.HasErrors() {
		return fn, fmt.Errorf("failed to evaluate ptr: %w", diags)
	}
	var ptr uint64
	if err := gocty.FromCtyValue(val, &ptr); err != nil {
		return fn, fmt.Errorf("ptr must be an unsigned integer: %w", err)
	}
	fn.FnPtr = abi.FnPtr(ptr)
	return fn, nil
}

// resolveType maps a manifest type reference to a descriptor. "*T" denotes a
// pointer to T and "[T]" an array of T; anything else is a named type.
func resolveType(resolve map[string]*abi.TypeDesc, ref string) (*abi.TypeDesc, error) {
	switch {
	case strings.HasPrefix(ref, "*"):
		elem, err := resolveType(resolve, ref[1:])
		if err != nil {
			return nil, err
		}
		return abi.NewPointerDesc(elem), nil

	case strings.HasPrefix(ref, "[") && strings.HasSuffix(ref, "]"):
		elem, err := resolveType(resolve, ref[1:len(ref)-1])
		if err != nil {
			return nil, err
		}
		return abi.NewArrayDesc(elem), nil

	default:
		desc, ok := resolve[ref]
		if !ok {
			return nil, fmt.Errorf("unknown type %q", ref)
		}
		return desc, nil
	}
}

func memoryKind(s string) (abi.MemoryKind, error) {
	switch s {
	case "", "gc":
		return abi.MemoryHeap, nil
	case "value":
		return abi.MemoryInline, nil
	default:
		return 0, fmt.Errorf("invalid memory kind %q: must be 'gc' or 'value'", s)
	}
}
