package typetable

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/gc"
)

func pointDesc() *abi.TypeDesc {
	return abi.NewStructDesc("Point", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "x", Desc: abi.PrimitiveDesc(abi.PrimF32)},
		{Name: "y", Desc: abi.PrimitiveDesc(abi.PrimF32)},
	})
}

func TestNew_PrimitivesPreRegistered(t *testing.T) {
	table := New()

	for _, desc := range abi.Primitives() {
		byID, ok := table.FindByID(desc.ID)
		require.True(t, ok, "primitive %s must be pre-registered", desc.Name)
		assert.Equal(t, desc, byID)

		byName, ok := table.FindByName(desc.Name)
		require.True(t, ok)
		assert.Equal(t, desc, byName)
	}
}

func TestInsert_RoundTrip(t *testing.T) {
	table := New()
	desc := pointDesc()

	prev := table.Insert(desc)
	assert.Nil(t, prev)

	got, ok := table.FindByID(desc.ID)
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(desc, got))

	got, ok = table.FindByName("Point")
	require.True(t, ok)
	assert.Same(t, desc, got)
}

func TestInsert_ReplaceReturnsPrevious(t *testing.T) {
	table := New()
	v1 := pointDesc()
	v2 := abi.NewStructDesc("Point", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "x", Desc: abi.PrimitiveDesc(abi.PrimF64)},
		{Name: "y", Desc: abi.PrimitiveDesc(abi.PrimF64)},
	})
	require.NotEqual(t, v1.ID, v2.ID)

	table.Insert(v1)
	prev := table.Insert(v2)
	assert.Same(t, v1, prev)

	// The indices never diverge: the old id is gone, the name points at v2.
	_, ok := table.FindByID(v1.ID)
	assert.False(t, ok)
	got, ok := table.FindByName("Point")
	require.True(t, ok)
	assert.Same(t, v2, got)
}

func TestRemove_BothIndices(t *testing.T) {
	t.Run("by id", func(t *testing.T) {
		table := New()
		desc := pointDesc()
		table.Insert(desc)

		removed, ok := table.RemoveByID(desc.ID)
		require.True(t, ok)
		assert.Same(t, desc, removed)

		_, ok = table.FindByID(desc.ID)
		assert.False(t, ok)
		_, ok = table.FindByName("Point")
		assert.False(t, ok)
	})

	t.Run("by name", func(t *testing.T) {
		table := New()
		desc := pointDesc()
		table.Insert(desc)

		removed, ok := table.RemoveByName("Point")
		require.True(t, ok)
		assert.Same(t, desc, removed)

		_, ok = table.FindByID(desc.ID)
		assert.False(t, ok)
	})

	t.Run("absent is routine", func(t *testing.T) {
		table := New()
		_, ok := table.RemoveByName("Nope")
		assert.False(t, ok)
		_, ok = table.RemoveByID(abi.ComputeTypeID("nope"))
		assert.False(t, ok)
	})
}

func TestTrace_HeapFields(t *testing.T) {
	table := New()
	point := pointDesc()
	table.Insert(point)

	node := abi.NewStructDesc("Node", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "next", Desc: point},
		{Name: "weight", Desc: abi.PrimitiveDesc(abi.PrimI64)},
		{Name: "prev", Desc: point},
	})
	table.Insert(node)

	data := make([]byte, node.Size)
	gc.PutHandle(data[node.Fields[0].Offset:], 7)
	gc.PutHandle(data[node.Fields[2].Offset:], 9)

	refs := table.Trace(node, data)
	assert.ElementsMatch(t, []gc.Handle{7, 9}, refs)
}

func TestTrace_SkipsNilReferences(t *testing.T) {
	table := New()
	point := pointDesc()
	table.Insert(point)

	holder := abi.NewStructDesc("Holder", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "p", Desc: point},
	})
	table.Insert(holder)

	refs := table.Trace(holder, make([]byte, holder.Size))
	assert.Empty(t, refs)
}

func TestTrace_ScansThroughInlineStructs(t *testing.T) {
	table := New()
	point := pointDesc()
	table.Insert(point)

	// An inline struct embedding a heap reference is scanned through, not
	// treated as a separate object.
	inline := abi.NewStructDesc("Pair", abi.MemoryInline, []abi.FieldSpec{
		{Name: "target", Desc: point},
		{Name: "tag", Desc: abi.PrimitiveDesc(abi.PrimU32)},
	})
	table.Insert(inline)

	outer := abi.NewStructDesc("Outer", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "id", Desc: abi.PrimitiveDesc(abi.PrimU64)},
		{Name: "pair", Desc: inline},
	})
	table.Insert(outer)

	data := make([]byte, outer.Size)
	pairOffset := outer.Fields[1].Offset
	gc.PutHandle(data[pairOffset+inline.Fields[0].Offset:], 42)

	refs := table.Trace(outer, data)
	assert.Equal(t, []gc.Handle{42}, refs)
}

func TestTrace_PrimitivesHaveNoReferences(t *testing.T) {
	table := New()
	desc, _ := table.FindByName("i64")
	refs := table.Trace(desc, make([]byte, desc.Size))
	assert.Empty(t, refs)
}
