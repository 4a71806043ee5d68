package main

import (
	"encoding/binary"
	"fmt"

	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/seqdex/kmeridx/seqsrc"
)

// base2Code maps a canonical base, upper- or lowercase, to its 2-bit code;
// every other character is -1 and falls through to the ambiguity path.
var base2Code = [256]int8{}

// base4Code maps any IUPAC letter to its base4 bitmask, 0 for anything
// that isn't a recognized nucleotide code.
var base4Code = [256]uint8{}

func init() {
	for i := range base2Code {
		base2Code[i] = -1
	}
	base2Code['A'], base2Code['a'] = 0, 0
	base2Code['C'], base2Code['c'] = 1, 1
	base2Code['G'], base2Code['g'] = 2, 2
	base2Code['T'], base2Code['t'] = 3, 3

	pairs := map[byte]uint8{
		'A': 1, 'C': 2, 'G': 4, 'T': 8,
		'R': 1 | 4, 'Y': 2 | 8, 'S': 2 | 4, 'W': 1 | 8,
		'K': 4 | 8, 'M': 1 | 2,
		'B': 2 | 4 | 8, 'D': 1 | 4 | 8, 'H': 1 | 2 | 8, 'V': 1 | 2 | 4,
		'N': 1 | 2 | 4 | 8,
	}
	for letter, mask := range pairs {
		base4Code[letter] = mask
		base4Code[letter+('a'-'A')] = mask
	}
}

// loadSource reads a FASTA file into an in-memory seqsrc.Source, packing
// canonical bases two bits each and recording runs of non-ACGT letters in
// the legacy ambiguity blob format.
func loadSource(path string) (seqsrc.Source, error) {
	reader, err := fastx.NewDefaultReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	var records []seqsrc.Sequence
	for {
		rec, err := reader.Read()
		if err != nil {
			break
		}
		records = append(records, packRecord(rec.ID, rec.Seq.Seq))
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no sequences read", path)
	}
	return seqsrc.NewSlice(records), nil
}

func packRecord(accession string, letters []byte) seqsrc.Sequence {
	packed := make([]byte, (len(letters)+3)/4)
	var runs [][3]uint32 // position, length, code

	for i, c := range letters {
		code := base2Code[c]
		if code < 0 {
			code = 0
			mask := base4Code[c]
			if mask == 0 {
				mask = base4Code['N']
			}
			if n := len(runs); n > 0 && runs[n-1][0]+runs[n-1][1] == uint32(i) && runs[n-1][2] == uint32(mask) {
				runs[n-1][1]++
			} else {
				runs = append(runs, [3]uint32{uint32(i), 1, uint32(mask)})
			}
		}
		shift := 6 - 2*(i&3)
		packed[i>>2] |= byte(code) << uint(shift)
	}

	return seqsrc.Sequence{
		PackedBases: packed,
		AmbigBytes:  encodeLegacyBlob(runs),
		Length:      uint32(len(letters)),
		Accession:   accession,
	}
}

// encodeLegacyBlob matches the wire format ambig.Decode parses: a 4-byte
// entry count followed by one 4-byte word per run. Runs longer than 16
// bases or positions past 2^24 are split to fit the legacy field widths.
func encodeLegacyBlob(runs [][3]uint32) []byte {
	if len(runs) == 0 {
		return nil
	}
	var entries [][3]uint32
	for _, r := range runs {
		pos, length, code := r[0], r[1], r[2]
		for length > 0 {
			chunk := length
			if chunk > 16 {
				chunk = 16
			}
			entries = append(entries, [3]uint32{pos, chunk, code})
			pos += chunk
			length -= chunk
		}
	}

	buf := make([]byte, 4+len(entries)*4)
	binary.BigEndian.PutUint32(buf, uint32(len(entries)))
	for i, e := range entries {
		pos, run, code := e[0], e[1], e[2]
		word := code<<28 | ((run-1)&0xF)<<24 | (pos & 0x00FFFFFF)
		binary.BigEndian.PutUint32(buf[4+i*4:], word)
	}
	return buf
}
