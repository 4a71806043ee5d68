package kformat

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"
)

// KpxHeaderFields are the finalized header values for a .kpx file.
type KpxHeaderFields struct {
	K             int
	TotalPostings uint64
}

// KpxWriter builds a .kpx file with the same post-hoc offset scheme as
// KixWriter.
type KpxWriter struct {
	f         *os.File
	tableSize uint64
	offsets   []uint64
	dataPos   uint64
}

// CreateKpx opens path and reserves header and offset table space.
func CreateKpx(path string, k int) (*KpxWriter, error) {
	tableSize := TableSize(k)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kformat: create %s: %w", path, err)
	}
	w := &KpxWriter{f: f, tableSize: tableSize, offsets: make([]uint64, tableSize)}
	if _, err := f.Write(make([]byte, KpxHeaderLen)); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(make([]byte, tableSize*8)); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// AppendPosting writes the already-encoded position payload for kmer's
// posting run, in the same (ordinal, position) order as the sibling
// KixWriter run. Kmer values must arrive in ascending order.
func (w *KpxWriter) AppendPosting(kmer uint64, payload []byte) error {
	w.offsets[kmer] = w.dataPos
	if len(payload) == 0 {
		return nil
	}
	n, err := w.f.Write(payload)
	if err != nil {
		return fmt.Errorf("kformat: write kpx payload: %w", err)
	}
	w.dataPos += uint64(n)
	return nil
}

// Finalize writes the final header and offset table, then closes the
// file.
func (w *KpxWriter) Finalize(hdr KpxHeaderFields) error {
	defer w.f.Close()

	buf := make([]byte, KpxHeaderLen)
	copy(buf[0:4], KpxMagic)
	binary.LittleEndian.PutUint16(buf[4:], FormatVersion)
	buf[6] = byte(hdr.K)
	binary.LittleEndian.PutUint64(buf[8:], hdr.TotalPostings)

	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("kformat: seek kpx header: %w", err)
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("kformat: write kpx header: %w", err)
	}
	offBytes := make([]byte, w.tableSize*8)
	for i, o := range w.offsets {
		binary.LittleEndian.PutUint64(offBytes[i*8:], o)
	}
	if _, err := w.f.Write(offBytes); err != nil {
		return fmt.Errorf("kformat: write kpx offsets: %w", err)
	}
	return nil
}

// Abort removes the partially-written file.
func (w *KpxWriter) Abort() {
	name := w.f.Name()
	w.f.Close()
	os.Remove(name)
}

// KpxReader is a read-only, memory-mapped view of a .kpx file.
type KpxReader struct {
	m *mapping

	k             int
	totalPostings uint64

	tableSize  uint64
	offsetsOff int
	payloadOff int
}

// OpenKpx validates and maps path.
func OpenKpx(path string) (*KpxReader, error) {
	m, err := openMapping(path)
	if err != nil {
		return nil, err
	}
	data := m.bytes()
	if len(data) < KpxHeaderLen || string(data[0:4]) != KpxMagic {
		m.close()
		return nil, fmt.Errorf("kformat: %s: bad kpx magic", path)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != FormatVersion {
		m.close()
		return nil, fmt.Errorf("kformat: %s: unsupported kpx version %d", path, v)
	}
	r := &KpxReader{m: m}
	r.k = int(data[6])
	r.totalPostings = binary.LittleEndian.Uint64(data[8:])

	if err := ValidateK(r.k); err != nil {
		m.close()
		return nil, err
	}
	r.tableSize = TableSize(r.k)
	r.offsetsOff = KpxHeaderLen
	r.payloadOff = r.offsetsOff + int(r.tableSize)*8
	if len(data) < r.payloadOff {
		m.close()
		return nil, fmt.Errorf("kformat: %s: truncated offset table", path)
	}
	return r, nil
}

func (r *KpxReader) K() int                { return r.k }
func (r *KpxReader) TotalPostings() uint64 { return r.totalPostings }
func (r *KpxReader) TableSize() uint64     { return r.tableSize }

func (r *KpxReader) OffsetAt(v uint64) uint64 {
	return binary.LittleEndian.Uint64(r.m.bytes()[r.offsetsOff+int(v)*8:])
}

// Offsets returns a zero-copy view of the whole offset table.
func (r *KpxReader) Offsets() []uint64 {
	data := r.m.bytes()[r.offsetsOff : r.offsetsOff+int(r.tableSize)*8]
	return unsafe.Slice((*uint64)(unsafe.Pointer(unsafe.SliceData(data))), r.tableSize)
}

// Payload returns the whole position payload region.
func (r *KpxReader) Payload() []byte {
	return r.m.bytes()[r.payloadOff:]
}

func (r *KpxReader) PayloadAt(v uint64) []byte {
	return r.Payload()[r.OffsetAt(v):]
}

// Close releases the mapping.
func (r *KpxReader) Close() error { return r.m.close() }
