package runtime_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/fielddiff"
	"github.com/vk/molt/internal/gc"
	"github.com/vk/molt/internal/runtime"
)

// statsV1 is the first shipped shape of the Stats struct.
func statsV1() *abi.TypeDesc {
	return abi.NewStructDesc("Stats", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "hp", Desc: abi.PrimitiveDesc(abi.PrimI32)},
		{Name: "mana", Desc: abi.PrimitiveDesc(abi.PrimI32)},
	})
}

// statsV2 widens hp to i64 and grows a shield field in the middle.
func statsV2() *abi.TypeDesc {
	return abi.NewStructDesc("Stats", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "hp", Desc: abi.PrimitiveDesc(abi.PrimI64)},
		{Name: "shield", Desc: abi.PrimitiveDesc(abi.PrimU32)},
		{Name: "mana", Desc: abi.PrimitiveDesc(abi.PrimI32)},
	})
}

// statsDiff is the field diff from statsV1 to statsV2.
func statsDiff() map[string][]fielddiff.Diff {
	return map[string][]fielddiff.Diff{
		"Stats": {
			fielddiff.Edit(0, fielddiff.EditConvertType),
			fielddiff.Insert(1),
		},
	}
}

func gameAssembly(stats *abi.TypeDesc, ptr abi.FnPtr) *abi.AssemblyDesc {
	return &abi.AssemblyDesc{
		Name:  "game",
		Types: []*abi.TypeDesc{stats},
		Modules: []*abi.ModuleDesc{{
			Path: "game::logic",
			Functions: []abi.FunctionDesc{{
				Name:       "damage",
				ArgTypes:   []abi.TypeID{stats.ID},
				ReturnType: abi.PrimitiveDesc(abi.PrimUnit).ID,
				FnPtr:      ptr,
			}},
			Calls: []string{"core::alloc"},
		}},
	}
}

func TestLoadAssembly(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	asm := gameAssembly(statsV1(), 10)
	require.NoError(t, rt.LoadAssembly(ctx, asm))

	loaded, ok := rt.Assembly("game")
	require.True(t, ok)
	assert.Same(t, asm, loaded)

	stats, ok := rt.FindTypeByName("Stats")
	require.True(t, ok)
	assert.Equal(t, asm.Types[0].ID, stats.ID)

	fn, ok := rt.GetFunction("game::logic::damage")
	require.True(t, ok)
	assert.Equal(t, abi.FnPtr(10), fn.Ptr)
}

func TestLoadAssembly_Twice(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	require.NoError(t, rt.LoadAssembly(ctx, gameAssembly(statsV1(), 10)))
	err := rt.LoadAssembly(ctx, gameAssembly(statsV1(), 20))
	assert.ErrorIs(t, err, runtime.ErrAssemblyLoaded)
}

func TestLoadAssembly_MissingDependency(t *testing.T) {
	rt := runtime.New(runtime.Options{})

	asm := gameAssembly(statsV1(), 10)
	asm.Dependencies = []string{"core"}
	err := rt.LoadAssembly(context.Background(), asm)
	assert.ErrorIs(t, err, runtime.ErrMissingDependency)

	_, ok := rt.Assembly("game")
	assert.False(t, ok)
	_, ok = rt.FindTypeByName("Stats")
	assert.False(t, ok)
}

func TestLoadAssembly_LinkFailureRollsBack(t *testing.T) {
	rt := runtime.New(runtime.Options{})

	asm := gameAssembly(statsV1(), 10)
	// A second module references a type no manifest ever declared.
	asm.Modules = append(asm.Modules, &abi.ModuleDesc{
		Path: "game::broken",
		Functions: []abi.FunctionDesc{{
			Name:       "haunt",
			ArgTypes:   []abi.TypeID{abi.ComputeTypeID("struct Ghost{}")},
			ReturnType: abi.PrimitiveDesc(abi.PrimUnit).ID,
			FnPtr:      99,
		}},
	})

	err := rt.LoadAssembly(context.Background(), asm)
	require.Error(t, err)

	// Nothing of the failed load survives: not the linkable module, not the
	// types.
	_, ok := rt.GetFunction("game::logic::damage")
	assert.False(t, ok)
	_, ok = rt.FindTypeByName("Stats")
	assert.False(t, ok)
	_, ok = rt.Assembly("game")
	assert.False(t, ok)
}

func TestUnloadAssembly(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	asm := gameAssembly(statsV1(), 10)
	require.NoError(t, rt.LoadAssembly(ctx, asm))

	// An unrooted live object of the assembly's type.
	_, err := rt.Alloc(asm.Types[0].ID)
	require.NoError(t, err)

	require.NoError(t, rt.UnloadAssembly(ctx, "game"))

	_, ok := rt.GetFunction("game::logic::damage")
	assert.False(t, ok)
	_, ok = rt.FindTypeByName("Stats")
	assert.False(t, ok)
	assert.Equal(t, 0, rt.Collector().Len(), "unload collects abandoned objects")

	err = rt.UnloadAssembly(ctx, "game")
	assert.ErrorIs(t, err, runtime.ErrAssemblyNotLoaded)
}

func TestReloadAssembly_MigratesLiveObjects(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	v1 := gameAssembly(statsV1(), 10)
	require.NoError(t, rt.LoadAssembly(ctx, v1))
	oldStats := v1.Types[0]

	rooted, err := rt.NewRooted(oldStats.ID)
	require.NoError(t, err)
	defer rooted.Release()

	data := rt.Deref(rooted.Handle(), oldStats.ID)
	binary.LittleEndian.PutUint32(data[oldStats.Fields[0].Offset:], uint32(0xffffff9c)) // hp = -100
	binary.LittleEndian.PutUint32(data[oldStats.Fields[1].Offset:], 42)                 // mana

	v2 := gameAssembly(statsV2(), 20)
	require.NoError(t, rt.ReloadAssembly(ctx, v2, statsDiff()))
	newStats := v2.Types[0]

	// The handle survives and now carries the new shape.
	assert.Equal(t, newStats.ID, rt.TypeOf(rooted.Handle()))
	migrated := rt.Deref(rooted.Handle(), newStats.ID)

	hp := int64(binary.LittleEndian.Uint64(migrated[newStats.Fields[0].Offset:]))
	assert.Equal(t, int64(-100), hp, "hp must widen with sign preserved")
	shield := binary.LittleEndian.Uint32(migrated[newStats.Fields[1].Offset:])
	assert.Equal(t, uint32(0), shield)
	mana := binary.LittleEndian.Uint32(migrated[newStats.Fields[2].Offset:])
	assert.Equal(t, uint32(42), mana)

	// Dispatch resolves to the new version.
	fn, ok := rt.GetFunction("game::logic::damage")
	require.True(t, ok)
	assert.Equal(t, abi.FnPtr(20), fn.Ptr)

	// The registry serves the new shape under the old name.
	got, ok := rt.FindTypeByName("Stats")
	require.True(t, ok)
	assert.Equal(t, newStats.ID, got.ID)
}

func TestReloadAssembly_CollectsAbandonedObjects(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	v1 := gameAssembly(statsV1(), 10)
	require.NoError(t, rt.LoadAssembly(ctx, v1))

	rooted, err := rt.NewRooted(v1.Types[0].ID)
	require.NoError(t, err)
	_, err = rt.Alloc(v1.Types[0].ID) // unrooted
	require.NoError(t, err)
	require.Equal(t, 2, rt.Collector().Len())

	require.NoError(t, rt.ReloadAssembly(ctx, gameAssembly(statsV2(), 20), statsDiff()))
	assert.Equal(t, 1, rt.Collector().Len(), "reload's collection frees the unrooted object")
	rooted.Release()
}

func TestReloadAssembly_NotLoaded(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	err := rt.ReloadAssembly(context.Background(), gameAssembly(statsV2(), 20), nil)
	assert.ErrorIs(t, err, runtime.ErrAssemblyNotLoaded)
}

func TestReloadAssembly_UnsupportedCastAborts(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	// v1 carries an i64 field that v2 narrows to i32; no such conversion is
	// registered.
	wide := abi.NewStructDesc("Score", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "points", Desc: abi.PrimitiveDesc(abi.PrimI64)},
	})
	narrow := abi.NewStructDesc("Score", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "points", Desc: abi.PrimitiveDesc(abi.PrimI32)},
	})

	v1 := &abi.AssemblyDesc{Name: "game", Types: []*abi.TypeDesc{wide},
		Modules: []*abi.ModuleDesc{{
			Path: "game::score",
			Functions: []abi.FunctionDesc{{
				Name: "bump", ArgTypes: []abi.TypeID{wide.ID},
				ReturnType: abi.PrimitiveDesc(abi.PrimUnit).ID, FnPtr: 10,
			}},
		}}}
	require.NoError(t, rt.LoadAssembly(ctx, v1))

	rooted, err := rt.NewRooted(wide.ID)
	require.NoError(t, err)
	defer rooted.Release()
	data := rt.Deref(rooted.Handle(), wide.ID)
	binary.LittleEndian.PutUint64(data, 777)

	v2 := &abi.AssemblyDesc{Name: "game", Types: []*abi.TypeDesc{narrow},
		Modules: []*abi.ModuleDesc{{
			Path: "game::score",
			Functions: []abi.FunctionDesc{{
				Name: "bump", ArgTypes: []abi.TypeID{narrow.ID},
				ReturnType: abi.PrimitiveDesc(abi.PrimUnit).ID, FnPtr: 20,
			}},
		}}}
	diffs := map[string][]fielddiff.Diff{
		"Score": {fielddiff.Edit(0, fielddiff.EditConvertType)},
	}

	err = rt.ReloadAssembly(ctx, v2, diffs)
	require.Error(t, err)

	// Everything is exactly as before the attempt: old shape, old value, old
	// dispatch pointer, old assembly descriptor.
	assert.Equal(t, wide.ID, rt.TypeOf(rooted.Handle()))
	assert.Equal(t, uint64(777), binary.LittleEndian.Uint64(rt.Deref(rooted.Handle(), wide.ID)))

	fn, ok := rt.GetFunction("game::score::bump")
	require.True(t, ok)
	assert.Equal(t, abi.FnPtr(10), fn.Ptr)

	got, ok := rt.FindTypeByName("Score")
	require.True(t, ok)
	assert.Equal(t, wide.ID, got.ID)

	loaded, _ := rt.Assembly("game")
	assert.Same(t, v1, loaded)
}

func TestReloadAssembly_LinkFailureRollsBack(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	v1 := gameAssembly(statsV1(), 10)
	require.NoError(t, rt.LoadAssembly(ctx, v1))

	v2 := gameAssembly(statsV2(), 20)
	v2.Modules = append(v2.Modules, &abi.ModuleDesc{
		Path: "game::broken",
		Functions: []abi.FunctionDesc{{
			Name:       "haunt",
			ArgTypes:   []abi.TypeID{abi.ComputeTypeID("struct Ghost{}")},
			ReturnType: abi.PrimitiveDesc(abi.PrimUnit).ID,
			FnPtr:      99,
		}},
	})

	err := rt.ReloadAssembly(ctx, v2, statsDiff())
	require.Error(t, err)

	fn, ok := rt.GetFunction("game::logic::damage")
	require.True(t, ok)
	assert.Equal(t, abi.FnPtr(10), fn.Ptr, "old module must be relinked")

	got, ok := rt.FindTypeByName("Stats")
	require.True(t, ok)
	assert.Equal(t, v1.Types[0].ID, got.ID)

	loaded, _ := rt.Assembly("game")
	assert.Same(t, v1, loaded)
}

func TestReloadAssembly_DroppedTypeLeavesRegistry(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	extra := abi.NewStructDesc("Scratch", abi.MemoryHeap, []abi.FieldSpec{
		{Name: "n", Desc: abi.PrimitiveDesc(abi.PrimU8)},
	})
	v1 := gameAssembly(statsV1(), 10)
	v1.Types = append(v1.Types, extra)
	require.NoError(t, rt.LoadAssembly(ctx, v1))

	require.NoError(t, rt.ReloadAssembly(ctx, gameAssembly(statsV2(), 20), statsDiff()))

	_, ok := rt.FindTypeByName("Scratch")
	assert.False(t, ok, "types the new version drops must leave the registry")
	_, ok = rt.FindTypeByName("Stats")
	assert.True(t, ok)
}

func TestDependencyCountsAcrossLifecycle(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	ctx := context.Background()

	require.NoError(t, rt.LoadAssembly(ctx, gameAssembly(statsV1(), 10)))

	// One extra manual reference on top of the module's recorded call.
	rt.AddDependency("game", "core::alloc", abi.FunctionDesc{Name: "core::alloc"})

	require.NoError(t, rt.ReloadAssembly(ctx, gameAssembly(statsV2(), 20), statsDiff()))

	// The reload dropped the module's reference and re-added it; the manual
	// one survives alongside it.
	rt.RemoveDependency("game", "core::alloc")
	rt.RemoveDependency("game", "core::alloc")

	require.NoError(t, rt.UnloadAssembly(ctx, "game"))
}

func TestAlloc_UnknownType(t *testing.T) {
	rt := runtime.New(runtime.Options{})
	_, err := rt.Alloc(abi.ComputeTypeID("absent"))
	assert.ErrorIs(t, err, runtime.ErrTypeNotFound)
}

func TestRuntime_ObserverReceivesEvents(t *testing.T) {
	recorder := &gc.Recorder{}
	rt := runtime.New(runtime.Options{Observer: recorder})
	ctx := context.Background()

	require.NoError(t, rt.LoadAssembly(ctx, gameAssembly(statsV1(), 10)))
	h, err := rt.Alloc(statsV1().ID)
	require.NoError(t, err)

	events := recorder.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, gc.Event{Kind: gc.EventAllocation, Handle: h}, events[len(events)-1])
}
