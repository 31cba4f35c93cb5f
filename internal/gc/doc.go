// Package gc implements the runtime's mark-sweep garbage collector.
//
// Every heap object is an entry in an explicit record table keyed by an
// opaque Handle. The handle is the object's relocation-stable identity: the
// collector may rewrite or replace the underlying storage (the reload
// migration does exactly that) without the handle ever changing. Holders of
// a handle only borrow storage; the collector exclusively owns it.
//
// Liveness is hybrid. A per-object root count plays the role of the stack
// and globals: objects with a positive root count begin every collection
// cycle reached. From that rooted set, Collect traces the object graph using
// a Tracer that maps a type descriptor and storage bytes to the outgoing
// handles, and then frees everything it never reached. Cycles with no
// external roots are collected; reachability, not reference counting,
// decides.
//
// The collector is driven synchronously by one logical runtime thread.
// Internal locking makes concurrent lookups safe, but no operation here
// suspends, yields or performs I/O.
package gc
