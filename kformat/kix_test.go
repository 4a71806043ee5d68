package kformat

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKixRoundTrip(t *testing.T) {
	k := 5
	tableSize := TableSize(k)
	counts := make([]uint32, tableSize)
	counts[10] = 2
	counts[20] = 1

	path := filepath.Join(t.TempDir(), "volume.kix")
	w, err := CreateKix(path, k, counts)
	require.NoError(t, err)

	for v := uint64(0); v < tableSize; v++ {
		var payload []byte
		switch v {
		case 10:
			payload = []byte{0x01, 0x02, 0x03}
		case 20:
			payload = []byte{0x09}
		}
		require.NoError(t, w.AppendPosting(v, payload))
	}

	require.NoError(t, w.Finalize(KixHeaderFields{
		K:             k,
		Width:         WidthForK(k),
		NumSequences:  3,
		TotalPostings: 3,
		Flags:         KixFlagHasSidecar,
		VolumeIndex:   0,
		TotalVolumes:  1,
		DBName:        "testdb",
	}))

	r, err := OpenKix(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, k, r.K())
	require.Equal(t, WidthForK(k), r.Width())
	require.Equal(t, uint32(3), r.NumSequences())
	require.Equal(t, uint64(3), r.TotalPostings())
	require.Equal(t, KixFlagHasSidecar, r.Flags())
	require.Equal(t, uint16(0), r.VolumeIndex())
	require.Equal(t, uint16(1), r.TotalVolumes())
	require.Equal(t, "testdb", r.DBName())

	require.Equal(t, uint32(2), r.CountAt(10))
	require.Equal(t, uint32(1), r.CountAt(20))
	require.Equal(t, uint32(0), r.CountAt(0))

	require.Equal(t, []byte{0x01, 0x02, 0x03}, r.PayloadAt(10)[:3])
	require.Equal(t, []byte{0x09}, r.PayloadAt(20)[:1])

	counts2 := r.Counts()
	require.Equal(t, uint32(2), counts2[10])
	offsets := r.Offsets()
	require.Equal(t, r.OffsetAt(20), offsets[20])
}

func TestKixAbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aborted.kix")
	w, err := CreateKix(path, 5, make([]uint32, TableSize(5)))
	require.NoError(t, err)
	w.Abort()

	_, err = OpenKix(path)
	require.Error(t, err)
}
