// Package abi defines the descriptor structures that a freshly compiled
// assembly hands to the runtime core: type identifiers, type descriptors
// with their memory layout, function signatures with native pointer tokens,
// and the exported module listing of an assembly.
//
// The runtime only ever reads these structures. They are produced by the
// compiler front end and code generator, which live outside this module, and
// they are immutable once published: a reload replaces a descriptor rather
// than mutating it in place.
//
// Type identity is structural. A TypeID is a deterministic digest of a
// type's shape, so two independently produced descriptors for the same shape
// carry the same identifier and compare equal.
package abi
