package gc

// Rooted is a scoped wrapper around a handle that guarantees balanced
// root/unroot calls. Construction roots the object exactly once, Clone roots
// it again (each clone independently owns one root), and Release unroots
// exactly once. Go has no destructors, so the owner must call Release (or
// Take) when done; forgetting to do so leaks a root, never storage safety.
type Rooted struct {
	c        *Collector
	h        Handle
	released bool
}

// NewRooted roots h and returns the owning wrapper.
func (c *Collector) NewRooted(h Handle) *Rooted {
	c.Root(h)
	return &Rooted{c: c, h: h}
}

// Handle returns the wrapped handle without transferring ownership of the
// root.
func (r *Rooted) Handle() Handle {
	return r.h
}

// Clone roots the object once more and returns an independent wrapper.
func (r *Rooted) Clone() *Rooted {
	if r.released {
		panic("gc: clone of released rooted handle")
	}
	return r.c.NewRooted(r.h)
}

// Release unroots the object. Releasing twice is the same programming error
// as unrooting a handle with no outstanding roots and is fatal.
func (r *Rooted) Release() {
	if r.released {
		panic("gc: double release of rooted handle")
	}
	r.released = true
	r.c.Unroot(r.h)
}

// Take unroots the object exactly once and hands back the bare handle,
// transferring liveness responsibility to the caller. Used when returning an
// object to a caller who will establish their own root.
func (r *Rooted) Take() Handle {
	r.Release()
	return r.h
}
