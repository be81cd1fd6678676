package keyspace

import (
	"github.com/holiman/uint256"

	"github.com/graphene-db/fdbrecord/fdberr"
)

// Version is a schema version triple (spec §3 "Schema").
type Version struct {
	Major, Minor, Patch int64
}

func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Version) Equal(o Version) bool { return v == o }

// Tuple packs the version the "native-integer" shape: always written
// going forward, per spec §4.6/§6.
func (v Version) Tuple() Tuple {
	return Tuple{v.Major, v.Minor, v.Patch}
}

// VersionFromTuple accepts both legacy 64-bit (uint64) and native
// int64 tuple element shapes for each of the three positions, per
// spec §4.6 backward-compatibility requirement. A tuple of length != 3
// is fdberr.Internal.
func VersionFromTuple(t Tuple) (Version, error) {
	if len(t) != 3 {
		return Version{}, fdberr.New(fdberr.Internal, "schema/version", "version tuple must have exactly 3 elements")
	}
	vals := make([]int64, 3)
	for i, el := range t {
		switch v := el.(type) {
		case int64:
			vals[i] = v
		case uint64:
			vals[i] = int64(v)
		case int:
			vals[i] = int64(v)
		default:
			return Version{}, fdberr.New(fdberr.Internal, "schema/version", "version element has unsupported type")
		}
	}
	return Version{Major: vals[0], Minor: vals[1], Patch: vals[2]}, nil
}

// VersionStamp models FDB's 80-bit commit version stamp, zero-extended
// into a uint256.Int (Domain Stack: holiman/uint256, carried from the
// teacher's own use of uint256 for fixed-width chain values). The low
// 16 bits are a caller-assigned per-transaction batch order; the high
// 64 bits are the transaction's commit version.
type VersionStamp struct {
	inner uint256.Int
}

// NewVersionStamp packs a (commit-version, batch-order) pair into an
// 80-bit stamp.
func NewVersionStamp(commitVersion uint64, batchOrder uint16) VersionStamp {
	var v uint256.Int
	v.SetUint64(commitVersion)
	v.Lsh(&v, 16)
	var order uint256.Int
	order.SetUint64(uint64(batchOrder))
	v.Or(&v, &order)
	return VersionStamp{inner: v}
}

// Bytes returns the big-endian 10-byte (80-bit) encoding.
func (vs VersionStamp) Bytes() []byte {
	full := vs.inner.Bytes32()
	return full[22:32]
}

// Less reports whether vs sorts before o.
func (vs VersionStamp) Less(o VersionStamp) bool {
	return vs.inner.Lt(&o.inner)
}
