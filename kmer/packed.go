package kmer

// BaseAt returns the 2-bit base2 code stored at base offset pos in data,
// which holds four bases per byte, most-significant pair first. It does
// not bounds-check pos against data; callers must ensure pos/4 < len(data).
func BaseAt(data []byte, pos uint32) uint8 {
	b := data[pos>>2]
	shift := 6 - 2*(pos&3)
	return (b >> shift) & 0x03
}
