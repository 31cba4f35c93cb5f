package abi

import (
	"crypto/md5"
	"encoding/hex"
)

// TypeID is the stable identifier of a type. It is the md5 digest of the
// type's canonical shape string, so identical shapes always yield identical
// identifiers regardless of which compilation produced them.
type TypeID [16]byte

// NilTypeID is the zero value of TypeID; it never identifies a real type.
var NilTypeID TypeID

// String returns the identifier as lowercase hex.
func (id TypeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsNil reports whether the identifier is the zero value.
func (id TypeID) IsNil() bool {
	return id == NilTypeID
}

// ComputeTypeID digests a canonical shape string into a TypeID.
func ComputeTypeID(canonical string) TypeID {
	return md5.Sum([]byte(canonical))
}

// PointerTypeID derives the identifier of a pointer-to-elem type.
func PointerTypeID(elem TypeID) TypeID {
	return ComputeTypeID("*" + elem.String())
}

// ArrayTypeID derives the identifier of an array-of-elem type.
func ArrayTypeID(elem TypeID) TypeID {
	return ComputeTypeID("[" + elem.String() + "]")
}
