// Package kformat implements the on-disk layouts for the four file kinds
// produced by an index build: .kix (k-mer id postings), .kpx (k-mer
// position postings), .ksx (sequence metadata sidecar), and .khx (shared
// exclusion bitset). All multi-byte header and table fields are stored in
// host little-endian order.
package kformat

import "fmt"

const (
	KixMagic = "KMIX"
	KpxMagic = "KMPX"
	KsxMagic = "KMSX"
	KhxMagic = "KMHX"

	KixHeaderLen = 64
	KpxHeaderLen = 32
	KhxHeaderLen = 32

	FormatVersion = 1

	// KixFlagHasSidecar marks that a .ksx sidecar accompanies this volume.
	KixFlagHasSidecar = uint32(1) << 1

	dbNameLen = 32
)

// KmerWidth selects which integer width the builder used to represent a
// k-mer value. It does not change any on-disk posting encoding (the
// direct-addressed tables and varint payloads are laid out the same for
// both widths); it only records
// which Scanner instantiation produced the index, for diagnostics.
type KmerWidth uint8

const (
	Width16 KmerWidth = 0
	Width32 KmerWidth = 1
)

// WidthForK returns the representation spec.md mandates: 16-bit for k<=8,
// 32-bit for k in [9,16].
func WidthForK(k int) KmerWidth {
	if k <= 8 {
		return Width16
	}
	return Width32
}

// TableSize returns 4^k, the number of slots in a k-mer offset/counts
// table.
func TableSize(k int) uint64 {
	return uint64(1) << uint(2*k)
}

// ValidateK rejects k outside [5, 16].
func ValidateK(k int) error {
	if k < 5 || k > 16 {
		return fmt.Errorf("kformat: k=%d out of range [5,16]", k)
	}
	return nil
}

// ValidatePartitions rejects a partition count that is not a power of two.
func ValidatePartitions(p int) error {
	if p <= 0 || p&(p-1) != 0 {
		return fmt.Errorf("kformat: partitions=%d is not a power of two", p)
	}
	return nil
}
