// Package cast holds the fixed table of safe widening numeric conversions
// used when a struct field's type changes across a reload.
//
// Only conversions that can never lose information are registered: widening
// within the signed integers, widening within the unsigned integers,
// unsigned-to-larger-signed, and f32 to f64. Narrowing and cross-family
// pairs (integer to float, scalar to struct) are deliberately unsupported;
// a migration that needs one fails loudly instead of truncating silently.
package cast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/vk/molt/internal/abi"
)

// ErrUnsupported is returned when no conversion is registered for a
// primitive pair.
var ErrUnsupported = errors.New("unsupported cast")

// fn converts the raw little-endian bytes of the old field into the raw
// bytes of the new field. src and dst are exactly the field sizes.
type fn func(src, dst []byte)

type pair struct {
	from, to abi.PrimitiveKind
}

// Registry is the fixed conversion table keyed by (old kind, new kind).
type Registry struct {
	fns map[pair]fn
}

// NewRegistry builds the registry with every supported widening conversion.
func NewRegistry() *Registry {
	r := &Registry{fns: make(map[pair]fn)}

	r.register(abi.PrimI8, abi.PrimI16, func(src, dst []byte) {
		putI16(dst, int16(int8(src[0])))
	})
	r.register(abi.PrimI8, abi.PrimI32, func(src, dst []byte) {
		putI32(dst, int32(int8(src[0])))
	})
	r.register(abi.PrimI8, abi.PrimI64, func(src, dst []byte) {
		putI64(dst, int64(int8(src[0])))
	})
	r.register(abi.PrimI16, abi.PrimI32, func(src, dst []byte) {
		putI32(dst, int32(getI16(src)))
	})
	r.register(abi.PrimI16, abi.PrimI64, func(src, dst []byte) {
		putI64(dst, int64(getI16(src)))
	})
	r.register(abi.PrimI32, abi.PrimI64, func(src, dst []byte) {
		putI64(dst, int64(getI32(src)))
	})

	r.register(abi.PrimU8, abi.PrimU16, func(src, dst []byte) {
		binary.LittleEndian.PutUint16(dst, uint16(src[0]))
	})
	r.register(abi.PrimU8, abi.PrimU32, func(src, dst []byte) {
		binary.LittleEndian.PutUint32(dst, uint32(src[0]))
	})
	r.register(abi.PrimU8, abi.PrimU64, func(src, dst []byte) {
		binary.LittleEndian.PutUint64(dst, uint64(src[0]))
	})
	r.register(abi.PrimU8, abi.PrimI16, func(src, dst []byte) {
		putI16(dst, int16(src[0]))
	})
	r.register(abi.PrimU8, abi.PrimI32, func(src, dst []byte) {
		putI32(dst, int32(src[0]))
	})
	r.register(abi.PrimU8, abi.PrimI64, func(src, dst []byte) {
		putI64(dst, int64(src[0]))
	})

	r.register(abi.PrimU16, abi.PrimU32, func(src, dst []byte) {
		binary.LittleEndian.PutUint32(dst, uint32(binary.LittleEndian.Uint16(src)))
	})
	r.register(abi.PrimU16, abi.PrimU64, func(src, dst []byte) {
		binary.LittleEndian.PutUint64(dst, uint64(binary.LittleEndian.Uint16(src)))
	})
	r.register(abi.PrimU16, abi.PrimI32, func(src, dst []byte) {
		putI32(dst, int32(binary.LittleEndian.Uint16(src)))
	})
	r.register(abi.PrimU16, abi.PrimI64, func(src, dst []byte) {
		putI64(dst, int64(binary.LittleEndian.Uint16(src)))
	})

	r.register(abi.PrimU32, abi.PrimU64, func(src, dst []byte) {
		binary.LittleEndian.PutUint64(dst, uint64(binary.LittleEndian.Uint32(src)))
	})
	r.register(abi.PrimU32, abi.PrimI64, func(src, dst []byte) {
		putI64(dst, int64(binary.LittleEndian.Uint32(src)))
	})

	r.register(abi.PrimF32, abi.PrimF64, func(src, dst []byte) {
		f := math.Float32frombits(binary.LittleEndian.Uint32(src))
		binary.LittleEndian.PutUint64(dst, math.Float64bits(float64(f)))
	})

	return r
}

func (r *Registry) register(from, to abi.PrimitiveKind, f fn) {
	r.fns[pair{from, to}] = f
}

// Supports reports whether a conversion is registered for the pair.
func (r *Registry) Supports(from, to abi.PrimitiveKind) bool {
	_, ok := r.fns[pair{from, to}]
	return ok
}

// Apply converts the raw old-field bytes in src into the raw new-field bytes
// in dst. It returns ErrUnsupported when no conversion is registered for the
// pair; the caller must abort its migration rather than copy bytes.
func (r *Registry) Apply(from, to abi.PrimitiveKind, src, dst []byte) error {
	f, ok := r.fns[pair{from, to}]
	if !ok {
		return fmt.Errorf("cast %s to %s: %w", from, to, ErrUnsupported)
	}
	f(src, dst)
	return nil
}

func getI16(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }
func getI32(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }

func putI16(b []byte, v int16) { binary.LittleEndian.PutUint16(b, uint16(v)) }
func putI32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func putI64(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) }
