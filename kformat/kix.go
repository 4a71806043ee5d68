package kformat

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"
)

// KixHeaderFields are the finalized header values for a .kix file; see
// spec.md §6.
type KixHeaderFields struct {
	K             int
	Width         KmerWidth
	NumSequences  uint32
	TotalPostings uint64
	Flags         uint32
	VolumeIndex   uint16
	TotalVolumes  uint16
	DBName        string
}

// KixWriter builds a .kix file using the post-hoc offset construction
// scheme: the header and offset table are written as placeholders, the
// (already-known) counts table is written once, posting payload is
// appended in ascending k-mer order while recording each k-mer's payload
// offset, and Finalize overwrites the header and offset table in place.
type KixWriter struct {
	f         *os.File
	tableSize uint64
	offsets   []uint64
	dataPos   uint64
}

// CreateKix opens path for writing and reserves header, offset table, and
// counts table space. counts must have length TableSize(k) and is written
// verbatim as the final counts table (the caller has already applied any
// local frequency cap).
func CreateKix(path string, k int, counts []uint32) (*KixWriter, error) {
	tableSize := TableSize(k)
	if uint64(len(counts)) != tableSize {
		return nil, fmt.Errorf("kformat: counts length %d != table size %d", len(counts), tableSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kformat: create %s: %w", path, err)
	}

	w := &KixWriter{f: f, tableSize: tableSize, offsets: make([]uint64, tableSize)}

	if _, err := f.Write(make([]byte, KixHeaderLen)); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(make([]byte, tableSize*8)); err != nil {
		f.Close()
		return nil, err
	}
	countBytes := make([]byte, tableSize*4)
	for i, c := range counts {
		binary.LittleEndian.PutUint32(countBytes[i*4:], c)
	}
	if _, err := f.Write(countBytes); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// AppendPosting writes the already-encoded payload bytes for kmer's
// posting run and records its payload offset. The caller must call this
// with kmer values in ascending order across the whole build (spec.md's
// "single thread in strictly ascending k-mer order" rule).
func (w *KixWriter) AppendPosting(kmer uint64, payload []byte) error {
	w.offsets[kmer] = w.dataPos
	if len(payload) == 0 {
		return nil
	}
	n, err := w.f.Write(payload)
	if err != nil {
		return fmt.Errorf("kformat: write kix payload: %w", err)
	}
	w.dataPos += uint64(n)
	return nil
}

// Finalize writes the final header and offset table, then closes the
// file.
func (w *KixWriter) Finalize(hdr KixHeaderFields) error {
	defer w.f.Close()

	buf := make([]byte, KixHeaderLen)
	copy(buf[0:4], KixMagic)
	binary.LittleEndian.PutUint16(buf[4:], FormatVersion)
	buf[6] = byte(hdr.K)
	buf[7] = byte(hdr.Width)
	binary.LittleEndian.PutUint32(buf[8:], hdr.NumSequences)
	binary.LittleEndian.PutUint64(buf[12:], hdr.TotalPostings)
	binary.LittleEndian.PutUint32(buf[20:], hdr.Flags)
	binary.LittleEndian.PutUint16(buf[24:], hdr.VolumeIndex)
	binary.LittleEndian.PutUint16(buf[26:], hdr.TotalVolumes)
	name := hdr.DBName
	if len(name) > dbNameLen {
		name = name[:dbNameLen]
	}
	binary.LittleEndian.PutUint16(buf[28:], uint16(len(name)))
	copy(buf[32:32+dbNameLen], name)

	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("kformat: seek kix header: %w", err)
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("kformat: write kix header: %w", err)
	}

	offBytes := make([]byte, w.tableSize*8)
	for i, o := range w.offsets {
		binary.LittleEndian.PutUint64(offBytes[i*8:], o)
	}
	if _, err := w.f.Write(offBytes); err != nil {
		return fmt.Errorf("kformat: write kix offsets: %w", err)
	}
	return nil
}

// Abort removes the partially-written file; it is the caller's
// responsibility to invoke this on any failure path.
func (w *KixWriter) Abort() {
	name := w.f.Name()
	w.f.Close()
	os.Remove(name)
}

// KixReader is a read-only, memory-mapped view of a .kix file.
type KixReader struct {
	m *mapping

	version       uint16
	k             int
	width         KmerWidth
	numSequences  uint32
	totalPostings uint64
	flags         uint32
	volumeIndex   uint16
	totalVolumes  uint16
	dbName        string

	tableSize  uint64
	offsetsOff int
	countsOff  int
	payloadOff int
}

// OpenKix validates and maps path.
func OpenKix(path string) (*KixReader, error) {
	m, err := openMapping(path)
	if err != nil {
		return nil, err
	}
	data := m.bytes()
	if len(data) < KixHeaderLen || string(data[0:4]) != KixMagic {
		m.close()
		return nil, fmt.Errorf("kformat: %s: bad kix magic", path)
	}
	r := &KixReader{m: m}
	r.version = binary.LittleEndian.Uint16(data[4:])
	if r.version != FormatVersion {
		m.close()
		return nil, fmt.Errorf("kformat: %s: unsupported kix version %d", path, r.version)
	}
	r.k = int(data[6])
	r.width = KmerWidth(data[7])
	r.numSequences = binary.LittleEndian.Uint32(data[8:])
	r.totalPostings = binary.LittleEndian.Uint64(data[12:])
	r.flags = binary.LittleEndian.Uint32(data[20:])
	r.volumeIndex = binary.LittleEndian.Uint16(data[24:])
	r.totalVolumes = binary.LittleEndian.Uint16(data[26:])
	nameLen := binary.LittleEndian.Uint16(data[28:])
	if int(nameLen) > dbNameLen {
		m.close()
		return nil, fmt.Errorf("kformat: %s: bad db name length", path)
	}
	r.dbName = string(data[32 : 32+int(nameLen)])

	if err := ValidateK(r.k); err != nil {
		m.close()
		return nil, err
	}
	r.tableSize = TableSize(r.k)
	r.offsetsOff = KixHeaderLen
	r.countsOff = r.offsetsOff + int(r.tableSize)*8
	r.payloadOff = r.countsOff + int(r.tableSize)*4
	if len(data) < r.payloadOff {
		m.close()
		return nil, fmt.Errorf("kformat: %s: truncated tables", path)
	}
	return r, nil
}

func (r *KixReader) K() int                { return r.k }
func (r *KixReader) Width() KmerWidth      { return r.width }
func (r *KixReader) NumSequences() uint32  { return r.numSequences }
func (r *KixReader) TotalPostings() uint64 { return r.totalPostings }
func (r *KixReader) Flags() uint32         { return r.flags }
func (r *KixReader) VolumeIndex() uint16   { return r.volumeIndex }
func (r *KixReader) TotalVolumes() uint16  { return r.totalVolumes }
func (r *KixReader) DBName() string        { return r.dbName }
func (r *KixReader) TableSize() uint64     { return r.tableSize }

// OffsetAt returns the payload byte offset recorded for k-mer v.
func (r *KixReader) OffsetAt(v uint64) uint64 {
	return binary.LittleEndian.Uint64(r.m.bytes()[r.offsetsOff+int(v)*8:])
}

// CountAt returns the posting count recorded for k-mer v.
func (r *KixReader) CountAt(v uint64) uint32 {
	return binary.LittleEndian.Uint32(r.m.bytes()[r.countsOff+int(v)*4:])
}

// Offsets returns a zero-copy view of the whole offset table.
func (r *KixReader) Offsets() []uint64 {
	data := r.m.bytes()[r.offsetsOff : r.offsetsOff+int(r.tableSize)*8]
	return unsafe.Slice((*uint64)(unsafe.Pointer(unsafe.SliceData(data))), r.tableSize)
}

// Counts returns a zero-copy view of the whole counts table.
func (r *KixReader) Counts() []uint32 {
	data := r.m.bytes()[r.countsOff : r.countsOff+int(r.tableSize)*4]
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(data))), r.tableSize)
}

// Payload returns the whole posting payload region.
func (r *KixReader) Payload() []byte {
	return r.m.bytes()[r.payloadOff:]
}

// PayloadAt returns the raw varint-encoded bytes for k-mer v.
func (r *KixReader) PayloadAt(v uint64) []byte {
	return r.Payload()[r.OffsetAt(v):]
}

// Close releases the mapping.
func (r *KixReader) Close() error { return r.m.close() }
