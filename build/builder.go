// Package build implements the four-phase per-volume index builder:
// metadata sidecar, counting pass, partitioned posting emission, and
// header finalization.
package build

import (
	"context"
	"fmt"
	"math/bits"
	"os"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/seqdex/kmeridx/ambig"
	"github.com/seqdex/kmeridx/internal/kmerr"
	"github.com/seqdex/kmeridx/kformat"
	"github.com/seqdex/kmeridx/kmer"
	"github.com/seqdex/kmeridx/kmerlog"
	"github.com/seqdex/kmeridx/seqsrc"
)

// atomicCountThreshold is the 4^k table size at or above which Phase 1 uses
// atomic increments into one shared table instead of per-worker tables,
// per spec.md §9's large-k guidance.
const atomicCountThreshold = uint64(1) << 24

// Build runs the full pipeline for one volume against src, writing
// prefix.ksx, prefix.kix, and prefix.kpx on success (and leaving no
// .tmp remnants on failure). With cfg.DeferFinalRename set, the three
// outputs keep their .tmp suffix on success.
func Build(ctx context.Context, src seqsrc.Source, prefix string, cfg Config, logger *kmerlog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = kmerlog.Nop()
	}
	if kformat.WidthForK(cfg.K) == kformat.Width16 {
		return build[uint16](ctx, src, prefix, cfg, logger)
	}
	return build[uint32](ctx, src, prefix, cfg, logger)
}

type triple struct {
	kmer     uint64
	ordinal  uint32
	position uint32
}

func build[T kmer.Int](ctx context.Context, src seqsrc.Source, prefix string, cfg Config, logger *kmerlog.Logger) (err error) {
	vlog := logger.WithVolume(cfg.K, cfg.VolumeIndex)
	n := src.Count()
	tableSize := kformat.TableSize(cfg.K)

	ksxPath := prefix + ".ksx.tmp"
	kixPath := prefix + ".kix.tmp"
	kpxPath := prefix + ".kpx.tmp"

	finished := false
	defer func() {
		if !finished {
			os.Remove(ksxPath)
			os.Remove(kixPath)
			os.Remove(kpxPath)
		}
	}()

	// Phase 0: sidecar.
	plog := vlog.WithPhase("sidecar")
	plog.Info("writing sequence metadata", "sequences", n)
	ksxW, err := kformat.CreateKsx(ksxPath)
	if err != nil {
		return kmerr.Wrap(kmerr.IO, "build.sidecar.create", err)
	}
	for oid := uint32(0); oid < n; oid++ {
		length := src.Length(oid)
		seq, release, ferr := src.Fetch(oid)
		if ferr != nil {
			return kmerr.Wrap(kmerr.IO, "build.sidecar.fetch", ferr)
		}
		accession := seq.Accession
		release()
		if werr := ksxW.AddSequence(length, accession); werr != nil {
			return kmerr.Wrap(kmerr.IO, "build.sidecar.add", werr)
		}
	}
	if err := ksxW.Finalize(); err != nil {
		return kmerr.Wrap(kmerr.IO, "build.sidecar.finalize", err)
	}

	// Phase 1: counting.
	plog = vlog.WithPhase("count")
	plog.Info("counting k-mers", "table_size", tableSize)
	counts64 := make([]uint64, tableSize)
	useAtomic := tableSize >= atomicCountThreshold

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range splitOrdinalRanges(n, cfg.Threads) {
		r := r
		g.Go(func() error {
			var local []uint64
			if !useAtomic {
				local = make([]uint64, tableSize)
			}
			scanner := kmer.NewScanner[T](cfg.K)
			var entries []ambig.Entry
			for oid := r[0]; oid < r[1]; oid++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				seq, release, ferr := src.Fetch(oid)
				if ferr != nil {
					return kmerr.Wrap(kmerr.IO, "build.count.fetch", ferr)
				}
				entries = ambig.Decode(seq.AmbigBytes, entries)
				scanner.Scan(seq.PackedBases, seq.Length, entries, cfg.MaxExpansion,
					func(start uint32, km T) {
						bumpCount(counts64, local, uint64(km), useAtomic)
					},
					func(start uint32, baseKmer T, descriptors []kmer.AmbigDescriptor) {
						expandAll(baseKmer, descriptors, func(km T) {
							bumpCount(counts64, local, uint64(km), useAtomic)
						})
					})
				release()
			}
			if !useAtomic {
				for v, c := range local {
					if c != 0 {
						atomic.AddUint64(&counts64[v], c)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return kmerr.Wrap(kmerr.IO, "build.count", err)
	}

	counts32 := make([]uint32, tableSize)
	var totalPostings uint64
	for v, c := range counts64 {
		if c > 0xFFFFFFFF {
			return kmerr.Wrap(kmerr.Capacity, "build.count",
				capacityError{k: cfg.K})
		}
		if cfg.LocalFreqCap > 0 && c > uint64(cfg.LocalFreqCap) {
			continue
		}
		counts32[v] = uint32(c)
		totalPostings += c
	}

	// Phase 2: partitioned emission.
	plog = vlog.WithPhase("emit")
	kixW, err := kformat.CreateKix(kixPath, cfg.K, counts32)
	if err != nil {
		return kmerr.Wrap(kmerr.IO, "build.emit.createkix", err)
	}
	kpxW, err := kformat.CreateKpx(kpxPath, cfg.K)
	if err != nil {
		return kmerr.Wrap(kmerr.IO, "build.emit.createkpx", err)
	}

	log2P := bits.TrailingZeros(uint(cfg.Partitions))
	shift := uint(2*cfg.K) - uint(log2P)
	partitionMask := uint64(cfg.Partitions - 1)
	bufCap := int64(0)
	if cfg.BufferBytes > 0 {
		bufCap = cfg.BufferBytes / 16
	}

	ranges := splitOrdinalRanges(n, cfg.Threads)
	for p := 0; p < cfg.Partitions; p++ {
		partitionOf := func(v uint64) uint64 { return (v >> shift) & partitionMask }

		g, gctx := errgroup.WithContext(ctx)
		buffers := make([][]triple, len(ranges))
		for idx, r := range ranges {
			idx, r := idx, r
			g.Go(func() error {
				var localBuf []triple
				scanner := kmer.NewScanner[T](cfg.K)
				var entries []ambig.Entry
				for oid := r[0]; oid < r[1]; oid++ {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					seq, release, ferr := src.Fetch(oid)
					if ferr != nil {
						return kmerr.Wrap(kmerr.IO, "build.emit.fetch", ferr)
					}
					entries = ambig.Decode(seq.AmbigBytes, entries)
					scanner.Scan(seq.PackedBases, seq.Length, entries, cfg.MaxExpansion,
						func(start uint32, km T) {
							v := uint64(km)
							if partitionOf(v) != uint64(p) || counts32[v] == 0 {
								return
							}
							localBuf = append(localBuf, triple{kmer: v, ordinal: oid, position: start})
						},
						func(start uint32, baseKmer T, descriptors []kmer.AmbigDescriptor) {
							expandAll(baseKmer, descriptors, func(km T) {
								v := uint64(km)
								if partitionOf(v) != uint64(p) || counts32[v] == 0 {
									return
								}
								localBuf = append(localBuf, triple{kmer: v, ordinal: oid, position: start})
							})
						})
					release()
				}
				buffers[idx] = localBuf
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			kixW.Abort()
			kpxW.Abort()
			return kmerr.Wrap(kmerr.IO, "build.emit", err)
		}

		var buffer []triple
		for _, b := range buffers {
			buffer = append(buffer, b...)
		}
		if bufCap > 0 && int64(len(buffer)) > bufCap {
			plog.Warn("partition posting buffer exceeds budget",
				"partition", p, "postings", len(buffer), "budget_postings", bufCap)
		}

		sort.Slice(buffer, func(i, j int) bool {
			if buffer[i].kmer != buffer[j].kmer {
				return buffer[i].kmer < buffer[j].kmer
			}
			if buffer[i].ordinal != buffer[j].ordinal {
				return buffer[i].ordinal < buffer[j].ordinal
			}
			return buffer[i].position < buffer[j].position
		})

		if err := emitRuns(kixW, kpxW, buffer); err != nil {
			kixW.Abort()
			kpxW.Abort()
			return kmerr.Wrap(kmerr.IO, "build.emit.write", err)
		}
	}

	// Phase 3: finalize.
	plog = vlog.WithPhase("finalize")
	plog.Info("finalizing volume", "total_postings", totalPostings)

	flags := kformat.KixFlagHasSidecar
	if err := kixW.Finalize(kformat.KixHeaderFields{
		K:             cfg.K,
		Width:         kformat.WidthForK(cfg.K),
		NumSequences:  n,
		TotalPostings: totalPostings,
		Flags:         flags,
		VolumeIndex:   cfg.VolumeIndex,
		TotalVolumes:  cfg.TotalVolumes,
		DBName:        cfg.DBName,
	}); err != nil {
		return kmerr.Wrap(kmerr.IO, "build.finalize.kix", err)
	}
	if err := kpxW.Finalize(kformat.KpxHeaderFields{
		K:             cfg.K,
		TotalPostings: totalPostings,
	}); err != nil {
		return kmerr.Wrap(kmerr.IO, "build.finalize.kpx", err)
	}

	if !cfg.DeferFinalRename {
		renames := [3][2]string{
			{ksxPath, prefix + ".ksx"},
			{kixPath, prefix + ".kix"},
			{kpxPath, prefix + ".kpx"},
		}
		for _, r := range renames {
			if err := os.Rename(r[0], r[1]); err != nil {
				return kmerr.Wrap(kmerr.IO, "build.finalize.rename", err)
			}
		}
	}
	finished = true
	return nil
}

func bumpCount(shared, local []uint64, v uint64, useAtomic bool) {
	if useAtomic {
		atomic.AddUint64(&shared[v], 1)
		return
	}
	local[v]++
}

// expandAll enumerates every combination of canonical bases the
// descriptors allow, applying kmer.Expand one descriptor at a time since
// each names a disjoint 2-bit slot.
func expandAll[T kmer.Int](baseKmer T, descriptors []kmer.AmbigDescriptor, fn func(T)) {
	if len(descriptors) == 0 {
		fn(baseKmer)
		return
	}
	d := descriptors[0]
	rest := descriptors[1:]
	kmer.Expand(baseKmer, d.Code, d.BitOffset, func(v T) {
		expandAll(v, rest, fn)
	})
}

func emitRuns(kixW *kformat.KixWriter, kpxW *kformat.KpxWriter, buffer []triple) error {
	var varintBuf [kmer.MaxVarintLen]byte
	i := 0
	for i < len(buffer) {
		j := i + 1
		for j < len(buffer) && buffer[j].kmer == buffer[i].kmer {
			j++
		}
		run := buffer[i:j]

		kixBuf := make([]byte, 0, len(run)*2)
		kpxBuf := make([]byte, 0, len(run)*2)
		var prevOrdinal, prevPosition uint32
		for idx, e := range run {
			if idx == 0 {
				n := kmer.PutUvarint(varintBuf[:], e.ordinal)
				kixBuf = append(kixBuf, varintBuf[:n]...)
				n = kmer.PutUvarint(varintBuf[:], e.position)
				kpxBuf = append(kpxBuf, varintBuf[:n]...)
			} else {
				n := kmer.PutUvarint(varintBuf[:], e.ordinal-prevOrdinal)
				kixBuf = append(kixBuf, varintBuf[:n]...)
				if e.ordinal != prevOrdinal {
					n = kmer.PutUvarint(varintBuf[:], e.position)
				} else {
					n = kmer.PutUvarint(varintBuf[:], e.position-prevPosition)
				}
				kpxBuf = append(kpxBuf, varintBuf[:n]...)
			}
			prevOrdinal = e.ordinal
			prevPosition = e.position
		}

		if err := kixW.AppendPosting(run[0].kmer, kixBuf); err != nil {
			return err
		}
		if err := kpxW.AppendPosting(run[0].kmer, kpxBuf); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// splitOrdinalRanges divides [0,n) into up to threads contiguous chunks.
func splitOrdinalRanges(n uint32, threads int) [][2]uint32 {
	if threads <= 0 {
		threads = 1
	}
	if uint32(threads) > n {
		threads = int(n)
	}
	if threads == 0 {
		return nil
	}
	chunk := n / uint32(threads)
	rem := n % uint32(threads)
	ranges := make([][2]uint32, 0, threads)
	start := uint32(0)
	for i := 0; i < threads; i++ {
		size := chunk
		if uint32(i) < rem {
			size++
		}
		ranges = append(ranges, [2]uint32{start, start + size})
		start += size
	}
	return ranges
}

type capacityError struct{ k int }

func (e capacityError) Error() string {
	return fmt.Sprintf("k is too small for this corpus (k=%d)", e.k)
}
