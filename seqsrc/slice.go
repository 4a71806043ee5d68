package seqsrc

import "fmt"

// Slice is a Source backed by in-memory sequence records. It borrows
// nothing and never blocks; it exists so build and filter tests (and
// library users wiring up a toy example) have something concrete to
// point at.
type Slice struct {
	records []Sequence
}

// NewSlice builds a Slice over records, in ordinal order.
func NewSlice(records []Sequence) *Slice {
	return &Slice{records: records}
}

func (s *Slice) Count() uint32 { return uint32(len(s.records)) }

func (s *Slice) Length(oid uint32) uint32 {
	return s.records[oid].Length
}

func (s *Slice) Fetch(oid uint32) (Sequence, Release, error) {
	if oid >= uint32(len(s.records)) {
		return Sequence{}, nil, fmt.Errorf("seqsrc: ordinal %d out of range [0,%d)", oid, len(s.records))
	}
	return s.records[oid], func() {}, nil
}
