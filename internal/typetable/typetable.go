// Package typetable provides the runtime's type registry: the mapping from
// stable type identifiers (and names) to published type descriptors.
//
// The registry is explicit state owned by one runtime instance, never a
// process-wide singleton. A reload replaces entries rather than mutating
// descriptors in place; the id index and the name index never diverge.
//
// The table also carries the collector's trace capability: given a
// descriptor and an object's storage bytes, Trace enumerates the outgoing
// heap references by walking heap-kind fields and scanning through inline
// embedded structs.
package typetable

import (
	"sync"

	"github.com/vk/molt/internal/abi"
	"github.com/vk/molt/internal/gc"
)

// Table maps type identifiers and names to descriptors. All primitive
// descriptors are pre-registered at construction and are never removed.
type Table struct {
	mu     sync.RWMutex
	byID   map[abi.TypeID]*abi.TypeDesc
	byName map[string]*abi.TypeDesc
}

// New creates a table with every built-in scalar type pre-registered.
func New() *Table {
	t := &Table{
		byID:   make(map[abi.TypeID]*abi.TypeDesc),
		byName: make(map[string]*abi.TypeDesc),
	}
	for _, desc := range abi.Primitives() {
		t.Insert(desc)
	}
	return t
}

// FindByID returns the descriptor registered under id. Absence is a routine
// outcome, reported through the second return value.
func (t *Table) FindByID(id abi.TypeID) (*abi.TypeDesc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	desc, ok := t.byID[id]
	return desc, ok
}

// FindByName returns the descriptor registered under name.
func (t *Table) FindByName(name string) (*abi.TypeDesc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	desc, ok := t.byName[name]
	return desc, ok
}

// Insert publishes desc, replacing any existing entry with the same name.
// The previous descriptor is returned if one existed.
func (t *Table) Insert(desc *abi.TypeDesc) *abi.TypeDesc {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.byName[desc.Name]
	if prev != nil {
		delete(t.byID, prev.ID)
	}
	t.byID[desc.ID] = desc
	t.byName[desc.Name] = desc
	return prev
}

// RemoveByID deletes the entry registered under id from both indices.
func (t *Table) RemoveByID(id abi.TypeID) (*abi.TypeDesc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	desc, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)
	delete(t.byName, desc.Name)
	return desc, true
}

// RemoveByName deletes the entry registered under name from both indices.
func (t *Table) RemoveByName(name string) (*abi.TypeDesc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	desc, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	delete(t.byName, name)
	delete(t.byID, desc.ID)
	return desc, true
}

// Trace returns the outgoing heap references of an object described by desc
// whose storage is data. It is a pure function of its inputs: heap-kind
// fields contribute their handle word, inline struct fields are scanned
// through, scalars contribute nothing. Nil references are skipped.
func (t *Table) Trace(desc *abi.TypeDesc, data []byte) []gc.Handle {
	var refs []gc.Handle
	return t.trace(desc, data, refs)
}

func (t *Table) trace(desc *abi.TypeDesc, data []byte, refs []gc.Handle) []gc.Handle {
	if desc.Kind != abi.KindStruct {
		return refs
	}
	for _, field := range desc.Fields {
		fieldDesc, ok := t.FindByID(field.Type)
		if !ok {
			// A published struct always references registered types; the
			// reload path keeps descriptors of live types resolvable.
			continue
		}
		switch {
		case fieldDesc.Memory == abi.MemoryHeap:
			h := gc.ReadHandle(data[field.Offset : field.Offset+abi.HandleSize])
			if !h.IsNil() {
				refs = append(refs, h)
			}
		case fieldDesc.Kind == abi.KindStruct:
			refs = t.trace(fieldDesc, data[field.Offset:field.Offset+fieldDesc.Size], refs)
		}
	}
	return refs
}
