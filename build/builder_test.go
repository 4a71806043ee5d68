package build

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seqdex/kmeridx/kformat"
	"github.com/seqdex/kmeridx/kmer"
	"github.com/seqdex/kmeridx/seqsrc"
)

// packBases packs base2 codes (A=0,C=1,G=2,T=3) four per byte,
// most-significant pair first.
func packBases(codes []uint8) []byte {
	out := make([]byte, (len(codes)+3)/4)
	for i, c := range codes {
		shift := 6 - 2*(i&3)
		out[i>>2] |= (c & 0x03) << uint(shift)
	}
	return out
}

// legacyAmbigBlob builds a legacy-variant ambiguity blob from
// (position, runLength, code) triples, matching spec.md §4.1.
func legacyAmbigBlob(entries [][3]uint32) []byte {
	buf := make([]byte, 4+len(entries)*4)
	binary.BigEndian.PutUint32(buf, uint32(len(entries)))
	for i, e := range entries {
		pos, run, code := e[0], e[1], e[2]
		word := code<<28 | ((run-1)&0xF)<<24 | (pos & 0x00FFFFFF)
		binary.BigEndian.PutUint32(buf[4+i*4:], word)
	}
	return buf
}

func repeatCodes(pattern []uint8, times int) []uint8 {
	out := make([]uint8, 0, len(pattern)*times)
	for i := 0; i < times; i++ {
		out = append(out, pattern...)
	}
	return out
}

func defaultConfig(k, partitions, threads int) Config {
	return Config{
		K:            k,
		Threads:      threads,
		Partitions:   partitions,
		BufferBytes:  1 << 20,
		MaxExpansion: 8,
	}
}

func TestBuildCleanTinySequence(t *testing.T) {
	codes := []uint8{0, 1, 2, 3, 0} // A C G T A
	src := seqsrc.NewSlice([]seqsrc.Sequence{
		{PackedBases: packBases(codes), Length: 5, Accession: "seq0"},
	})
	prefix := filepath.Join(t.TempDir(), "vol")
	cfg := defaultConfig(5, 1, 1)

	require.NoError(t, Build(context.Background(), src, prefix, cfg, nil))

	kixR, err := kformat.OpenKix(prefix + ".kix")
	require.NoError(t, err)
	defer kixR.Close()
	require.Equal(t, uint32(1), kixR.CountAt(108))
	require.Equal(t, uint64(1), kixR.TotalPostings())

	ordinal, n := kmer.Uvarint(kixR.PayloadAt(108))
	require.Equal(t, 1, n)
	require.Equal(t, uint32(0), ordinal)

	kpxR, err := kformat.OpenKpx(prefix + ".kpx")
	require.NoError(t, err)
	defer kpxR.Close()
	position, n := kmer.Uvarint(kpxR.PayloadAt(108))
	require.Equal(t, 1, n)
	require.Equal(t, uint32(0), position)
}

// TestBuildWideKmerCleanSequence exercises the k=9 (uint32 k-mer
// representation) path through Build, matching the k=9 width-dispatch case
// named alongside k=7 in the design notes.
func TestBuildWideKmerCleanSequence(t *testing.T) {
	codes := []uint8{0, 1, 2, 3, 0, 1, 2, 3, 0} // A C G T A C G T A, k=9 -> 27756
	src := seqsrc.NewSlice([]seqsrc.Sequence{
		{PackedBases: packBases(codes), Length: 9, Accession: "seq0"},
	})
	prefix := filepath.Join(t.TempDir(), "vol")
	cfg := defaultConfig(9, 1, 1)

	require.NoError(t, Build(context.Background(), src, prefix, cfg, nil))

	kixR, err := kformat.OpenKix(prefix + ".kix")
	require.NoError(t, err)
	defer kixR.Close()
	require.Equal(t, kformat.Width32, kixR.Width())
	require.Equal(t, uint32(1), kixR.CountAt(27756))
	require.Equal(t, uint64(1), kixR.TotalPostings())

	ordinal, n := kmer.Uvarint(kixR.PayloadAt(27756))
	require.Equal(t, 1, n)
	require.Equal(t, uint32(0), ordinal)

	kpxR, err := kformat.OpenKpx(prefix + ".kpx")
	require.NoError(t, err)
	defer kpxR.Close()
	position, n := kmer.Uvarint(kpxR.PayloadAt(27756))
	require.Equal(t, 1, n)
	require.Equal(t, uint32(0), position)
}

func TestBuildAmbiguityExpansion(t *testing.T) {
	codes := []uint8{0, 1, 2, 3, 0, 1, 2} // position 3 will be overwritten per descriptor
	blob := legacyAmbigBlob([][3]uint32{{3, 1, 0x5}})
	src := seqsrc.NewSlice([]seqsrc.Sequence{
		{PackedBases: packBases(codes), AmbigBytes: blob, Length: 7, Accession: "seq0"},
	})
	prefix := filepath.Join(t.TempDir(), "vol")
	cfg := defaultConfig(5, 1, 1)

	require.NoError(t, Build(context.Background(), src, prefix, cfg, nil))

	kixR, err := kformat.OpenKix(prefix + ".kix")
	require.NoError(t, err)
	defer kixR.Close()
	require.Equal(t, uint64(6), kixR.TotalPostings())
}

func TestBuildExpansionThreshold(t *testing.T) {
	// Two N's at positions 1 and 5 of a length-7 sequence, k=5: the
	// middle window [1,5] contains both (product 16), the outer windows
	// [0,4] and [2,6] each contain exactly one (product 4).
	codes := []uint8{0, 1, 2, 3, 0, 1, 2}
	blob := legacyAmbigBlob([][3]uint32{{1, 1, 0xF}, {5, 1, 0xF}})
	src := seqsrc.NewSlice([]seqsrc.Sequence{
		{PackedBases: packBases(codes), AmbigBytes: blob, Length: 7, Accession: "seq0"},
	})
	prefix := filepath.Join(t.TempDir(), "vol")
	cfg := defaultConfig(5, 1, 1)
	cfg.MaxExpansion = 4

	require.NoError(t, Build(context.Background(), src, prefix, cfg, nil))

	kixR, err := kformat.OpenKix(prefix + ".kix")
	require.NoError(t, err)
	defer kixR.Close()
	// 4 (window 0) + 0 (window 1, exceeds threshold) + 4 (window 2).
	require.Equal(t, uint64(8), kixR.TotalPostings())
}

func TestBuildLocalFrequencyCap(t *testing.T) {
	pattern := []uint8{0, 1, 2, 3, 0} // A C G T A, value 108
	codes := repeatCodes(pattern, 5) // five non-overlapping occurrences
	src := seqsrc.NewSlice([]seqsrc.Sequence{
		{PackedBases: packBases(codes), Length: uint32(len(codes)), Accession: "seq0"},
	})
	prefix := filepath.Join(t.TempDir(), "vol")
	cfg := defaultConfig(5, 1, 1)
	cfg.LocalFreqCap = 3

	require.NoError(t, Build(context.Background(), src, prefix, cfg, nil))

	kixR, err := kformat.OpenKix(prefix + ".kix")
	require.NoError(t, err)
	defer kixR.Close()
	require.Equal(t, uint32(0), kixR.CountAt(108))
	require.Equal(t, uint64(0), kixR.OffsetAt(108))
	require.Equal(t, uint64(0), kixR.TotalPostings())
}

func TestEmitRunsDeltaEncoding(t *testing.T) {
	// Two sequences, ordinals 0 and 1, both containing k-mer V at
	// positions {10,25} and {5,7} respectively.
	const v = uint64(777)
	buffer := []triple{
		{kmer: v, ordinal: 0, position: 10},
		{kmer: v, ordinal: 0, position: 25},
		{kmer: v, ordinal: 1, position: 5},
		{kmer: v, ordinal: 1, position: 7},
	}

	k := 5
	counts := make([]uint32, kformat.TableSize(k))
	counts[v] = uint32(len(buffer))

	dir := t.TempDir()
	kixW, err := kformat.CreateKix(filepath.Join(dir, "v.kix"), k, counts)
	require.NoError(t, err)
	kpxW, err := kformat.CreateKpx(filepath.Join(dir, "v.kpx"), k)
	require.NoError(t, err)

	require.NoError(t, emitRuns(kixW, kpxW, buffer))
	require.NoError(t, kixW.Finalize(kformat.KixHeaderFields{K: k, TotalPostings: 4}))
	require.NoError(t, kpxW.Finalize(kformat.KpxHeaderFields{K: k, TotalPostings: 4}))

	kixR, err := kformat.OpenKix(filepath.Join(dir, "v.kix"))
	require.NoError(t, err)
	defer kixR.Close()
	kpxR, err := kformat.OpenKpx(filepath.Join(dir, "v.kpx"))
	require.NoError(t, err)
	defer kpxR.Close()

	// ordinal stream: raw 0, delta 0 (still ordinal 0), delta 1 (now
	// ordinal 1), delta 0 (still ordinal 1).
	ordinals := decodeAll(t, kixR.PayloadAt(v), 4)
	require.Equal(t, []uint32{0, 0, 1, 0}, ordinals)

	positions := decodeAll(t, kpxR.PayloadAt(v), 4)
	require.Equal(t, []uint32{10, 15, 5, 2}, positions)
}

func decodeAll(t *testing.T, buf []byte, n int) []uint32 {
	t.Helper()
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		v, consumed := kmer.Uvarint(buf)
		require.Greater(t, consumed, 0)
		out = append(out, v)
		buf = buf[consumed:]
	}
	return out
}
