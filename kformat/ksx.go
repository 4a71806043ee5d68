package kformat

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

const ksxHeaderLen = 8

// KsxWriter appends sequence metadata records in ordinal order. The
// on-disk layout is writer-defined per spec.md §6: an 8-byte header (the
// magic followed by a u32 record count) followed by, per sequence, a u32
// length and a length-prefixed
// ASCII accession. It is read back sequentially; no random access is
// required anywhere in this repo.
type KsxWriter struct {
	f   *os.File
	w   *bufio.Writer
	n   uint32
	buf [6]byte
}

// CreateKsx opens path for writing.
func CreateKsx(path string) (*KsxWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kformat: create %s: %w", path, err)
	}
	if _, err := f.Write(make([]byte, ksxHeaderLen)); err != nil {
		f.Close()
		return nil, err
	}
	return &KsxWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// AddSequence appends one sequence record.
func (w *KsxWriter) AddSequence(length uint32, accession string) error {
	if len(accession) > 0xFFFF {
		return fmt.Errorf("kformat: accession too long (%d bytes)", len(accession))
	}
	binary.LittleEndian.PutUint32(w.buf[0:], length)
	binary.LittleEndian.PutUint16(w.buf[4:], uint16(len(accession)))
	if _, err := w.w.Write(w.buf[:]); err != nil {
		return err
	}
	if _, err := w.w.WriteString(accession); err != nil {
		return err
	}
	w.n++
	return nil
}

// Finalize flushes the writer, writes the header, and closes the file.
func (w *KsxWriter) Finalize() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("kformat: flush ksx: %w", err)
	}
	defer w.f.Close()

	hdr := make([]byte, ksxHeaderLen)
	copy(hdr[0:4], KsxMagic)
	binary.LittleEndian.PutUint32(hdr[4:], w.n)
	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("kformat: seek ksx header: %w", err)
	}
	if _, err := w.f.Write(hdr); err != nil {
		return fmt.Errorf("kformat: write ksx header: %w", err)
	}
	return nil
}

// Abort removes the partially-written file.
func (w *KsxWriter) Abort() {
	name := w.f.Name()
	w.f.Close()
	os.Remove(name)
}

// SequenceRecord is one decoded .ksx entry.
type SequenceRecord struct {
	Length    uint32
	Accession string
}

// ReadKsx reads the whole sidecar in ordinal order. Unlike the other three
// formats, .ksx is read sequentially rather than memory-mapped: nothing in
// this repo needs random access into it.
func ReadKsx(path string) ([]SequenceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kformat: read %s: %w", path, err)
	}
	if len(data) < ksxHeaderLen || string(data[0:4]) != KsxMagic {
		return nil, fmt.Errorf("kformat: %s: bad ksx magic", path)
	}
	n := binary.LittleEndian.Uint32(data[4:])
	records := make([]SequenceRecord, 0, n)
	off := ksxHeaderLen
	for i := uint32(0); i < n; i++ {
		if off+6 > len(data) {
			return nil, fmt.Errorf("kformat: %s: truncated record %d", path, i)
		}
		length := binary.LittleEndian.Uint32(data[off:])
		accLen := int(binary.LittleEndian.Uint16(data[off+4:]))
		off += 6
		if off+accLen > len(data) {
			return nil, fmt.Errorf("kformat: %s: truncated accession %d", path, i)
		}
		records = append(records, SequenceRecord{
			Length:    length,
			Accession: string(data[off : off+accLen]),
		})
		off += accLen
	}
	return records, nil
}
