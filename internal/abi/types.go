package abi

import (
	"fmt"
	"strings"
)

// MemoryKind describes how values of a type are stored when they appear as a
// field or variable.
type MemoryKind uint8

const (
	// MemoryInline values are embedded by value wherever they appear.
	MemoryInline MemoryKind = iota
	// MemoryHeap values live on the garbage-collected heap and are referenced
	// indirectly through a handle word.
	MemoryHeap
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryInline:
		return "inline"
	case MemoryHeap:
		return "heap"
	default:
		return fmt.Sprintf("MemoryKind(%d)", uint8(k))
	}
}

// Kind is the structural category of a type.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindStruct
	KindPointer
	KindArray
)

// PrimitiveKind enumerates the built-in scalar types.
type PrimitiveKind uint8

const (
	PrimUnit PrimitiveKind = iota
	PrimBool
	PrimU8
	PrimU16
	PrimU32
	PrimU64
	PrimI8
	PrimI16
	PrimI32
	PrimI64
	PrimF32
	PrimF64
)

var primitiveNames = map[PrimitiveKind]string{
	PrimUnit: "unit",
	PrimBool: "bool",
	PrimU8:   "u8",
	PrimU16:  "u16",
	PrimU32:  "u32",
	PrimU64:  "u64",
	PrimI8:   "i8",
	PrimI16:  "i16",
	PrimI32:  "i32",
	PrimI64:  "i64",
	PrimF32:  "f32",
	PrimF64:  "f64",
}

func (k PrimitiveKind) String() string {
	if name, ok := primitiveNames[k]; ok {
		return name
	}
	return fmt.Sprintf("PrimitiveKind(%d)", uint8(k))
}

// HandleSize is the size in bytes of a heap reference embedded in object
// storage. References are stored as little-endian handle words.
const HandleSize = 8

// Field is a single named field of a struct descriptor. Offset is the byte
// offset of the field inside the struct's storage.
type Field struct {
	Name   string
	Type   TypeID
	Offset uint32
}

// TypeDesc describes a single type: identity, name, layout, memory kind and,
// for structs, the ordered field list. Descriptors are immutable once
// published to a type table.
type TypeDesc struct {
	ID     TypeID
	Name   string
	Size   uint32
	Align  uint32
	Memory MemoryKind
	Kind   Kind

	// Primitive is set when Kind == KindPrimitive.
	Primitive PrimitiveKind
	// Element is set when Kind == KindPointer or KindArray.
	Element TypeID
	// Fields is set when Kind == KindStruct.
	Fields []Field
}

// IsStruct reports whether the descriptor describes a struct type.
func (d *TypeDesc) IsStruct() bool { return d.Kind == KindStruct }

// FieldSize returns the number of bytes a value of this type occupies when
// embedded as a struct field: a handle word for heap types, the full value
// otherwise.
func (d *TypeDesc) FieldSize() uint32 {
	if d.Memory == MemoryHeap {
		return HandleSize
	}
	return d.Size
}

// FieldAlign returns the alignment of this type when embedded as a struct
// field.
func (d *TypeDesc) FieldAlign() uint32 {
	if d.Memory == MemoryHeap {
		return HandleSize
	}
	if d.Align == 0 {
		return 1
	}
	return d.Align
}

var primitiveLayouts = map[PrimitiveKind]struct{ size, align uint32 }{
	PrimUnit: {0, 1},
	PrimBool: {1, 1},
	PrimU8:   {1, 1},
	PrimU16:  {2, 2},
	PrimU32:  {4, 4},
	PrimU64:  {8, 8},
	PrimI8:   {1, 1},
	PrimI16:  {2, 2},
	PrimI32:  {4, 4},
	PrimI64:  {8, 8},
	PrimF32:  {4, 4},
	PrimF64:  {8, 8},
}

var primitiveDescs = func() map[PrimitiveKind]*TypeDesc {
	descs := make(map[PrimitiveKind]*TypeDesc, len(primitiveLayouts))
	for kind, layout := range primitiveLayouts {
		name := kind.String()
		descs[kind] = &TypeDesc{
			ID:        ComputeTypeID(name),
			Name:      name,
			Size:      layout.size,
			Align:     layout.align,
			Memory:    MemoryInline,
			Kind:      KindPrimitive,
			Primitive: kind,
		}
	}
	return descs
}()

// PrimitiveDesc returns the shared descriptor of a built-in scalar type.
func PrimitiveDesc(kind PrimitiveKind) *TypeDesc {
	desc, ok := primitiveDescs[kind]
	if !ok {
		panic(fmt.Sprintf("abi: unknown primitive kind %d", uint8(kind)))
	}
	return desc
}

// Primitives returns descriptors for every built-in scalar type, in a stable
// order.
func Primitives() []*TypeDesc {
	kinds := []PrimitiveKind{
		PrimUnit, PrimBool,
		PrimU8, PrimU16, PrimU32, PrimU64,
		PrimI8, PrimI16, PrimI32, PrimI64,
		PrimF32, PrimF64,
	}
	descs := make([]*TypeDesc, len(kinds))
	for i, kind := range kinds {
		descs[i] = PrimitiveDesc(kind)
	}
	return descs
}

// FieldSpec names a field and its resolved type descriptor, used to lay out
// a new struct descriptor.
type FieldSpec struct {
	Name string
	Desc *TypeDesc
}

// NewStructDesc lays out a struct descriptor from its ordered field specs.
// Fields are placed sequentially at their natural alignment; heap-kind field
// types occupy one handle word. The resulting TypeID is a digest of the
// struct's name, memory kind and field shapes, so independently produced
// descriptors for the same shape compare equal.
func NewStructDesc(name string, memory MemoryKind, fields []FieldSpec) *TypeDesc {
	var (
		offset   uint32
		maxAlign uint32 = 1
		laidOut         = make([]Field, len(fields))
		shape    strings.Builder
	)

	shape.WriteString("struct ")
	shape.WriteString(name)
	shape.WriteString("/")
	shape.WriteString(memory.String())
	shape.WriteString("{")

	for i, spec := range fields {
		align := spec.Desc.FieldAlign()
		if align > maxAlign {
			maxAlign = align
		}
		offset = alignUp(offset, align)
		laidOut[i] = Field{Name: spec.Name, Type: spec.Desc.ID, Offset: offset}
		offset += spec.Desc.FieldSize()

		if i > 0 {
			shape.WriteString(",")
		}
		shape.WriteString(spec.Name)
		shape.WriteString(":")
		shape.WriteString(spec.Desc.ID.String())
	}
	shape.WriteString("}")

	return &TypeDesc{
		ID:     ComputeTypeID(shape.String()),
		Name:   name,
		Size:   alignUp(offset, maxAlign),
		Align:  maxAlign,
		Memory: memory,
		Kind:   KindStruct,
		Fields: laidOut,
	}
}

// NewPointerDesc derives the descriptor of a pointer to elem.
func NewPointerDesc(elem *TypeDesc) *TypeDesc {
	return &TypeDesc{
		ID:      PointerTypeID(elem.ID),
		Name:    "*" + elem.Name,
		Size:    HandleSize,
		Align:   HandleSize,
		Memory:  MemoryHeap,
		Kind:    KindPointer,
		Element: elem.ID,
	}
}

// NewArrayDesc derives the descriptor of an array of elem. Array storage is
// sized at allocation time; the descriptor's Size covers the reference only.
func NewArrayDesc(elem *TypeDesc) *TypeDesc {
	return &TypeDesc{
		ID:      ArrayTypeID(elem.ID),
		Name:    "[" + elem.Name + "]",
		Size:    HandleSize,
		Align:   HandleSize,
		Memory:  MemoryHeap,
		Kind:    KindArray,
		Element: elem.ID,
	}
}

func alignUp(offset, align uint32) uint32 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
