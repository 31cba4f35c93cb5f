package gc

import "encoding/binary"

// Handle is the opaque, relocation-stable identity of a heap object. It is
// a thin, copyable value; dereferencing it requires asserting an expected
// type at the boundary (see Collector.Deref).
//
// The zero Handle is the nil reference and never identifies an object.
type Handle uint64

// NilHandle is the nil object reference.
const NilHandle Handle = 0

// IsNil reports whether the handle is the nil reference.
func (h Handle) IsNil() bool { return h == NilHandle }

// ReadHandle decodes a heap reference embedded in object storage. References
// are stored as little-endian handle words (abi.HandleSize bytes).
func ReadHandle(b []byte) Handle {
	return Handle(binary.LittleEndian.Uint64(b))
}

// PutHandle encodes a heap reference into object storage.
func PutHandle(b []byte, h Handle) {
	binary.LittleEndian.PutUint64(b, uint64(h))
}
