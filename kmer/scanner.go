package kmer

import "github.com/seqdex/kmeridx/ambig"

// Int is the underlying integer representation for a k-mer value. k <= 8
// fits in uint16; k in [9,16] needs uint32. Both are driven by the same
// scan loop below — this is a representation choice, not a behavioral one.
type Int interface {
	~uint16 | ~uint32
}

// AmbigDescriptor names one ambiguous base inside a degenerate k-mer: its
// base4 code and the bit offset (0, 2, 4, ...) of its 2-bit slot within the
// k-mer integer, counting from the low-order (rightmost) base.
type AmbigDescriptor struct {
	Code      uint8
	BitOffset int
}

// cursor walks the ambiguity entry list one base at a time without
// materializing every position in a run.
type cursor struct {
	idx int // index into entries
	off uint32
}

func (c cursor) pos(entries []ambig.Entry) uint32 {
	if c.idx >= len(entries) {
		return ^uint32(0)
	}
	return entries[c.idx].Position + c.off
}

func (c cursor) code(entries []ambig.Entry) uint8 {
	return entries[c.idx].Code
}

func (c *cursor) advance(entries []ambig.Entry) {
	if c.idx >= len(entries) {
		return
	}
	c.off++
	if c.off >= entries[c.idx].RunLength {
		c.idx++
		c.off = 0
	}
}

// Scanner walks a packed sequence left to right, emitting clean and
// degenerate k-mers via the callbacks passed to Scan.
type Scanner[T Int] struct {
	k    int
	mask T

	descriptors []AmbigDescriptor // scratch, reused across windows
}

// NewScanner builds a scanner for k-mers of length k.
func NewScanner[T Int](k int) *Scanner[T] {
	mask := T((uint64(1) << (uint(k) * 2)) - 1)
	return &Scanner[T]{k: k, mask: mask, descriptors: make([]AmbigDescriptor, k)}
}

// Scan invokes onClean(start, kmer) for every window with no ambiguous
// base, and onAmbig(start, baseKmer, descriptors) for every window whose
// ambiguous-base expansion product is within maxExpansion. Windows whose
// product exceeds maxExpansion (or for which maxExpansion <= 1) emit
// nothing. descriptors passed to onAmbig is reused scratch space: copy it
// if you need it to outlive the callback.
func (s *Scanner[T]) Scan(
	packed []byte,
	seqLength uint32,
	entries []ambig.Entry,
	maxExpansion int,
	onClean func(start uint32, kmer T),
	onAmbig func(start uint32, baseKmer T, descriptors []AmbigDescriptor),
) {
	k := s.k
	if int(seqLength) < k {
		return
	}

	var enter, leave cursor
	ambigCount := 0
	var singlePos uint32
	var singleCode uint8

	var kmer T
	for i := 0; i < k-1; i++ {
		code := BaseAt(packed, uint32(i))
		kmer = (kmer<<2 | T(code)) & s.mask

		if enter.pos(entries) == uint32(i) {
			ambigCount++
			singlePos = uint32(i)
			singleCode = enter.code(entries)
			enter.advance(entries)
		}
	}

	for i := uint32(k - 1); i < seqLength; i++ {
		code := BaseAt(packed, i)
		kmer = (kmer<<2 | T(code)) & s.mask

		if enter.pos(entries) == i {
			ambigCount++
			if ambigCount == 1 {
				singlePos = i
				singleCode = enter.code(entries)
			}
			enter.advance(entries)
		}

		start := i - uint32(k) + 1

		switch {
		case ambigCount == 0:
			onClean(start, kmer)
		case maxExpansion <= 1:
			// degenerate windows are unconditionally skipped
		case ambigCount == 1:
			if ec := ambig.ExpansionCount(singleCode); ec <= maxExpansion {
				s.descriptors = s.descriptors[:1]
				s.descriptors[0] = AmbigDescriptor{
					Code:      singleCode,
					BitOffset: int(i-singlePos) * 2,
				}
				onAmbig(start, kmer, s.descriptors)
			}
		default:
			tmp := leave
			for tmp.pos(entries) < start {
				tmp.advance(entries)
			}
			product := 1
			s.descriptors = s.descriptors[:0]
			exceeded := false
			for tmp.pos(entries) <= i {
				p := tmp.pos(entries)
				c := tmp.code(entries)
				product *= ambig.ExpansionCount(c)
				if product > maxExpansion {
					exceeded = true
					break
				}
				s.descriptors = append(s.descriptors, AmbigDescriptor{
					Code:      c,
					BitOffset: int(i-p) * 2,
				})
				tmp.advance(entries)
			}
			if !exceeded {
				onAmbig(start, kmer, s.descriptors)
			}
		}

		if leave.pos(entries) == start {
			ambigCount--
			leave.advance(entries)

			if ambigCount == 1 {
				tmp := leave
				winStart := start + 1
				for tmp.pos(entries) < winStart {
					tmp.advance(entries)
				}
				singlePos = tmp.pos(entries)
				singleCode = tmp.code(entries)
			}
		}
	}
}

// Expand clears the 2-bit slot at bitOffset in baseKmer and invokes fn once
// per canonical base the base4 code represents, in ascending base2 order.
func Expand[T Int](baseKmer T, code uint8, bitOffset int, fn func(T)) {
	clearMask := ^(T(0x3) << bitOffset)
	cleared := baseKmer & clearMask
	for b := uint8(0); b < 4; b++ {
		if code&(1<<b) != 0 {
			fn(cleared | T(b)<<bitOffset)
		}
	}
}
