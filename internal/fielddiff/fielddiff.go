// Package fielddiff declares the structural diff entries that the compiler
// front end supplies when a struct's field list changed between two versions
// of the same named type. This core consumes diffs; it never derives them.
package fielddiff

// EditKind describes what changed about a field that kept its position.
type EditKind uint8

const (
	// EditConvertType means the field's type changed and its value must be
	// converted during migration.
	EditConvertType EditKind = iota
	// EditRename means only the field's name changed; its bytes are copied
	// unmodified.
	EditRename
)

// Op discriminates diff entries.
type Op uint8

const (
	OpInsert Op = iota
	OpDelete
	OpMove
	OpEdit
)

// Diff is one entry of an ordered field diff.
//
//   - Insert: NewIndex is the position of the fresh field in the new struct.
//   - Delete: OldIndex is the position of the dropped field in the old struct.
//   - Move: the field at OldIndex landed at NewIndex, optionally edited.
//   - Edit: the field at Index (same position in both versions) changed per
//     Kind.
type Diff struct {
	Op Op

	Index    int // Edit
	OldIndex int // Delete, Move
	NewIndex int // Insert, Move

	Kind EditKind  // Edit
	Edit *EditKind // Move, optional
}

// Insert builds an insertion entry.
func Insert(newIndex int) Diff {
	return Diff{Op: OpInsert, NewIndex: newIndex}
}

// Delete builds a deletion entry.
func Delete(oldIndex int) Diff {
	return Diff{Op: OpDelete, OldIndex: oldIndex}
}

// Move builds a move entry; edit may be nil when the field moved unchanged.
func Move(oldIndex, newIndex int, edit *EditKind) Diff {
	return Diff{Op: OpMove, OldIndex: oldIndex, NewIndex: newIndex, Edit: edit}
}

// Edit builds an in-place edit entry.
func Edit(index int, kind EditKind) Diff {
	return Diff{Op: OpEdit, Index: index, Kind: kind}
}

// EditPtr is a convenience for building Move entries with an edit.
func EditPtr(kind EditKind) *EditKind {
	return &kind
}
