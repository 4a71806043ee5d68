package kformat

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mapping is a read-only memory mapping of an entire file, shared across
// readers and never mutated once opened.
type mapping struct {
	f    *os.File
	data mmap.MMap
}

func openMapping(path string) (*mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kformat: open %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("kformat: mmap %s: %w", path, err)
	}
	return &mapping{f: f, data: m}, nil
}

func (m *mapping) bytes() []byte { return []byte(m.data) }

func (m *mapping) close() error {
	err := m.data.Unmap()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
