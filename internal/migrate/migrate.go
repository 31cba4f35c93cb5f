// Package migrate is the struct memory-migration engine. Given the old
// version of a struct and the compiler-supplied field diff, it derives a
// per-field mapping for the new version, and materializes that mapping by
// copying a live instance's bytes into storage shaped like the new type:
// removed fields are dropped, inserted fields stay zero, moved fields land
// at their new offsets, and edited numeric fields are widened through the
// cast registry. A field edit whose primitive pair has no registered
// conversion aborts the migration with an explicit error; bytes are never
// silently truncated.
package migrate

import (
	"fmt"
	"sort"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/cast"
	"github.com/vk/molt/internal/fielddiff"
)

// Action says how a new field obtains its value from its source field.
type Action uint8

const (
	// ActionCopy byte-copies the old field.
	ActionCopy Action = iota
	// ActionCast converts the old field through the cast registry.
	ActionCast
)

// Source is one entry of a field mapping: where the new field at this index
// takes its value from. A source with Valid == false has no old counterpart
// and the field stays zero/default-initialized.
type Source struct {
	Valid    bool
	OldIndex int
	Action   Action
}

// FieldMapping derives the per-field mapping of a new struct version from
// the old version's field count and the supplied diff. The diff is trusted
// to describe the old field list correctly; the result always has exactly
// one entry per field of the new struct.
func FieldMapping(oldFieldCount int, diff []fielddiff.Diff) []Source {
	removed := make(map[int]bool)
	for _, d := range diff {
		switch d.Op {
		case fielddiff.OpDelete:
			removed[d.OldIndex] = true
		case fielddiff.OpMove:
			removed[d.OldIndex] = true
		}
	}

	// Old fields that were neither deleted nor moved keep their relative
	// order and copy through.
	mapping := make([]Source, 0, oldFieldCount)
	for idx := 0; idx < oldFieldCount; idx++ {
		if removed[idx] {
			continue
		}
		mapping = append(mapping, Source{Valid: true, OldIndex: idx, Action: ActionCopy})
	}

	// Insertions and moves splice in at their new index. Ascending order
	// guarantees earlier splices never displace later ones.
	type addition struct {
		newIndex int
		src      Source
	}
	var additions []addition
	for _, d := range diff {
		switch d.Op {
		case fielddiff.OpInsert:
			additions = append(additions, addition{d.NewIndex, Source{}})
		case fielddiff.OpMove:
			action := ActionCopy
			if d.Edit != nil && *d.Edit == fielddiff.EditConvertType {
				action = ActionCast
			}
			additions = append(additions, addition{
				d.NewIndex,
				Source{Valid: true, OldIndex: d.OldIndex, Action: action},
			})
		}
	}
	sort.SliceStable(additions, func(i, j int) bool {
		return additions[i].newIndex < additions[j].newIndex
	})
	for _, a := range additions {
		mapping = append(mapping, Source{})
		copy(mapping[a.newIndex+1:], mapping[a.newIndex:])
		mapping[a.newIndex] = a.src
	}

	// In-place edits mutate the entry already at their index.
	for _, d := range diff {
		if d.Op != fielddiff.OpEdit {
			continue
		}
		if d.Kind == fielddiff.EditConvertType {
			mapping[d.Index].Action = ActionCast
		}
	}

	return mapping
}

// TypeResolver looks a type descriptor up by identifier. The runtime's type
// table satisfies it.
type TypeResolver interface {
	FindByID(id abi.TypeID) (*abi.TypeDesc, bool)
}

// Materialize copies one live instance's bytes from src, shaped like oldDesc,
// into freshly zeroed storage shaped like newDesc, following mapping. The
// mapping must have one entry per field of newDesc. On any unsupported cast
// the migration is aborted and src is left untouched.
func Materialize(
	types TypeResolver,
	casts *cast.Registry,
	oldDesc, newDesc *abi.TypeDesc,
	mapping []Source,
	src []byte,
) ([]byte, error) {
	if len(mapping) != len(newDesc.Fields) {
		return nil, fmt.Errorf("migrate %s: mapping has %d entries for %d new fields",
			newDesc.Name, len(mapping), len(newDesc.Fields))
	}

	dst := make([]byte, newDesc.Size)

	for i, m := range mapping {
		if !m.Valid {
			// No source: the field stays zero-initialized.
			continue
		}
		newField := newDesc.Fields[i]
		oldField := oldDesc.Fields[m.OldIndex]

		oldFD, ok := types.FindByID(oldField.Type)
		if !ok {
			return nil, fmt.Errorf("migrate %s: field %q has unresolved old type %s",
				newDesc.Name, oldField.Name, oldField.Type)
		}
		newFD, ok := types.FindByID(newField.Type)
		if !ok {
			return nil, fmt.Errorf("migrate %s: field %q has unresolved new type %s",
				newDesc.Name, newField.Name, newField.Type)
		}

		switch m.Action {
		case ActionCopy:
			n := oldFD.FieldSize()
			copy(dst[newField.Offset:newField.Offset+n], src[oldField.Offset:oldField.Offset+n])

		case ActionCast:
			if oldFD.Kind != abi.KindPrimitive || newFD.Kind != abi.KindPrimitive {
				return nil, fmt.Errorf("migrate %s: field %q: cast %s to %s: %w",
					newDesc.Name, newField.Name, oldFD.Name, newFD.Name, cast.ErrUnsupported)
			}
			err := casts.Apply(
				oldFD.Primitive, newFD.Primitive,
				src[oldField.Offset:oldField.Offset+oldFD.Size],
				dst[newField.Offset:newField.Offset+newFD.Size],
			)
			if err != nil {
				return nil, fmt.Errorf("migrate %s: field %q: %w", newDesc.Name, newField.Name, err)
			}
		}
	}

	return dst, nil
}
