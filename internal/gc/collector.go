package gc

import (
	"fmt"
	"sync"

	"github.com/vk/molt/internal/abi"
)

// Tracer enumerates the outgoing heap references of an object from its
// structural type description. It must be a pure function of the descriptor
// and the storage bytes: heap-kind fields yield their handle word, inline
// embedded structs are scanned through rather than treated as objects.
type Tracer interface {
	Trace(desc *abi.TypeDesc, data []byte) []Handle
}

// color is the per-cycle mark state of an object.
type color uint8

const (
	colorWhite color = iota // unreached
	colorGray               // reached, children not yet scanned
	colorBlack              // reached and scanned
)

// object is the internal bookkeeping record of one live handle. The
// collector and the reload migration are the only writers.
type object struct {
	desc  *abi.TypeDesc
	data  []byte
	roots uint32
	color color
}

// Collector is a mark-sweep garbage collector over runtime-described
// objects. It owns allocation, rooting and collection; the object record
// table it maintains is the single source of truth for all heap objects.
type Collector struct {
	mu       sync.RWMutex
	objects  map[Handle]*object
	next     Handle
	tracer   Tracer
	observer Observer
}

// NewCollector creates a collector that discovers object references through
// tracer and reports lifecycle events to observer. A nil observer discards
// events.
func NewCollector(tracer Tracer, observer Observer) *Collector {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Collector{
		objects:  make(map[Handle]*object),
		tracer:   tracer,
		observer: observer,
	}
}

// Alloc allocates zeroed storage sized per the type descriptor and returns
// the new object's handle. The object starts with a zero root count: it will
// be freed by the next Collect unless it is rooted or reachable from a
// rooted object.
func (c *Collector) Alloc(desc *abi.TypeDesc) Handle {
	c.mu.Lock()
	c.next++
	h := c.next
	c.objects[h] = &object{
		desc: desc,
		data: make([]byte, desc.Size),
	}
	c.mu.Unlock()

	c.observer.Event(Event{Kind: EventAllocation, Handle: h})
	return h
}

// TypeOf returns the type identifier of a live object.
func (c *Collector) TypeOf(h Handle) abi.TypeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mustGet(h).desc.ID
}

// Deref borrows the object's storage, asserting the caller's expected type
// at the boundary. The bytes are owned by the collector and are valid until
// the next collection or reload. Passing a handle the collector did not
// allocate, or a wrong expected type, is a fatal contract violation.
func (c *Collector) Deref(h Handle, expect abi.TypeID) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj := c.mustGet(h)
	if obj.desc.ID != expect {
		panic(fmt.Sprintf("gc: handle %d dereferenced as type %s but holds %s (%s)",
			h, expect, obj.desc.ID, obj.desc.Name))
	}
	return obj.data
}

// Root increments the object's root count, protecting it from collection
// regardless of graph reachability.
func (c *Collector) Root(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustGet(h).roots++
}

// Unroot decrements the object's root count. Unrooting a handle whose count
// is already zero signals a use-after-free risk upstream and is fatal.
func (c *Collector) Unroot(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.mustGet(h)
	if obj.roots == 0 {
		panic(fmt.Sprintf("gc: unroot of handle %d with zero outstanding roots", h))
	}
	obj.roots--
}

// Collect runs one mark-sweep cycle: every object with a positive root count
// begins reached, reachability is traced transitively through the Tracer,
// and every unreached object is freed. Emits Start, a Deallocation per freed
// object, then End. Collect is idempotent and safe when nothing is garbage.
func (c *Collector) Collect() {
	c.observer.Event(Event{Kind: EventStart})

	c.mu.Lock()

	var worklist []Handle
	for h, obj := range c.objects {
		if obj.roots > 0 {
			obj.color = colorGray
			worklist = append(worklist, h)
		}
	}

	for len(worklist) > 0 {
		h := worklist[0]
		worklist = worklist[1:]

		obj := c.objects[h]
		for _, ref := range c.tracer.Trace(obj.desc, obj.data) {
			if ref.IsNil() {
				continue
			}
			child, ok := c.objects[ref]
			if !ok {
				panic(fmt.Sprintf("gc: object %d holds reference to unknown handle %d", h, ref))
			}
			if child.color == colorWhite {
				child.color = colorGray
				worklist = append(worklist, ref)
			}
		}
		obj.color = colorBlack
	}

	var freed []Handle
	for h, obj := range c.objects {
		if obj.color == colorWhite {
			freed = append(freed, h)
			delete(c.objects, h)
		} else {
			obj.color = colorWhite
		}
	}

	c.mu.Unlock()

	for _, h := range freed {
		c.observer.Event(Event{Kind: EventDeallocation, Handle: h})
	}
	c.observer.Event(Event{Kind: EventEnd})
}

// Replace swaps a live object's descriptor and storage. It exists solely for
// the reload migration, which has already materialized the object's data in
// the shape of its new type. The handle stays valid; only the record's
// storage pointer and type change.
func (c *Collector) Replace(h Handle, desc *abi.TypeDesc, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.mustGet(h)
	obj.desc = desc
	obj.data = data
}

// HandlesOf returns the handles of all live objects whose type identifier
// equals id. The reload migration uses this to find instances of a changed
// type.
func (c *Collector) HandlesOf(id abi.TypeID) []Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Handle
	for h, obj := range c.objects {
		if obj.desc.ID == id {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of live objects.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// mustGet resolves a handle the collector is trusted to have allocated.
// Callers hold c.mu.
func (c *Collector) mustGet(h Handle) *object {
	obj, ok := c.objects[h]
	if !ok {
		panic(fmt.Sprintf("gc: object with handle %d does not exist", h))
	}
	return obj
}
