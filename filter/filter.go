// Package filter implements the cross-volume k-mer frequency filter:
// aggregate counts across volumes, compute a shared exclusion bitset,
// and rewrite each volume's temporary posting files into final ones.
package filter

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/seqdex/kmeridx/internal/kmerr"
	"github.com/seqdex/kmeridx/kformat"
	"github.com/seqdex/kmeridx/kmerlog"
)

// Filter aggregates counts from prefix+".kix.tmp" for each prefix in
// prefixes, excludes any k-mer whose global count exceeds cfg.GlobalFreqCap,
// rewrites each volume's temporary outputs into final outputs, and writes
// the shared exclusion bitset to exclusionPath.
func Filter(ctx context.Context, k int, prefixes []string, exclusionPath string, cfg Config, logger *kmerlog.Logger) error {
	if err := kformat.ValidateK(k); err != nil {
		return kmerr.Wrap(kmerr.Configuration, "filter.Filter", err)
	}
	if logger == nil {
		logger = kmerlog.Nop()
	}
	tableSize := kformat.TableSize(k)

	// Step 1: sequential aggregation across volumes.
	global := make([]uint64, tableSize)
	for _, prefix := range prefixes {
		r, err := kformat.OpenKix(prefix + ".kix.tmp")
		if err != nil {
			return kmerr.Wrap(kmerr.IO, "filter.aggregate", err)
		}
		counts := r.Counts()
		for v, c := range counts {
			global[v] += uint64(c)
		}
		r.Close()
	}

	// Step 2: shared exclusion bitset.
	khxW := kformat.NewKhxWriter(k)
	for v, c := range global {
		if c > cfg.GlobalFreqCap {
			khxW.Exclude(uint64(v))
		}
	}

	// Step 3: rewrite each volume in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for _, prefix := range prefixes {
		prefix := prefix
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return rewriteVolume(prefix, k, khxW, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return kmerr.Wrap(kmerr.IO, "filter.rewrite", err)
	}

	// Step 5: shared exclusion file.
	if err := khxW.WriteFile(exclusionPath, kformat.KhxHeaderFields{
		K:         k,
		Threshold: cfg.GlobalFreqCap,
	}); err != nil {
		return kmerr.Wrap(kmerr.IO, "filter.writekhx", err)
	}
	return nil
}

// isExcluded reports whether khxW has marked v, via the writer's own
// lookup (avoids a second bitset).
func isExcluded(khxW *kformat.KhxWriter, v uint64) bool {
	return khxW.IsExcluded(v)
}

// rewriteVolume rewrites one volume's temporary .kix/.kpx into final
// files, preserving payload bytes verbatim for surviving k-mers, and
// renames its .ksx.tmp sidecar.
func rewriteVolume(prefix string, k int, khxW *kformat.KhxWriter, logger *kmerlog.Logger) error {
	kixR, err := kformat.OpenKix(prefix + ".kix.tmp")
	if err != nil {
		return err
	}
	defer kixR.Close()
	kpxR, err := kformat.OpenKpx(prefix + ".kpx.tmp")
	if err != nil {
		return err
	}
	defer kpxR.Close()

	tableSize := kformat.TableSize(k)
	oldCounts := kixR.Counts()
	oldOffsets := kixR.Offsets()
	kpxOffsets := kpxR.Offsets()

	newCounts := make([]uint32, tableSize)
	var survivors []uint64
	var totalPostings uint64
	for v := uint64(0); v < tableSize; v++ {
		if oldCounts[v] == 0 || isExcluded(khxW, v) {
			continue
		}
		newCounts[v] = oldCounts[v]
		totalPostings += uint64(oldCounts[v])
		survivors = append(survivors, v)
	}

	kixPayload := kixR.Payload()
	kpxPayload := kpxR.Payload()
	kixEnds := postingEnds(oldCounts, oldOffsets, uint64(len(kixPayload)))
	kpxEnds := postingEnds(oldCounts, kpxOffsets, uint64(len(kpxPayload)))

	errCh := make(chan error, 2)
	go func() {
		errCh <- writeKix(prefix, k, kixR, newCounts, totalPostings, survivors, oldOffsets, kixEnds, kixPayload)
	}()
	go func() {
		errCh <- writeKpx(prefix, k, totalPostings, survivors, kpxOffsets, kpxEnds, kpxPayload)
	}()
	var rerr error
	for i := 0; i < 2; i++ {
		if e := <-errCh; e != nil && rerr == nil {
			rerr = e
		}
	}
	if rerr != nil {
		return rerr
	}

	if err := os.Rename(prefix+".ksx.tmp", prefix+".ksx"); err != nil {
		return err
	}
	if err := os.Remove(prefix + ".kix.tmp"); err != nil {
		return err
	}
	if err := os.Remove(prefix + ".kpx.tmp"); err != nil {
		return err
	}
	return nil
}

// postingEnds computes, for every k-mer with a nonzero original count, the
// payload byte offset marking the end of its run: the start offset of the
// next k-mer that also had a nonzero original count, irrespective of
// exclusion, or the end of the payload for the last such k-mer. Deriving
// this from the full pre-exclusion table (rather than from the post-filter
// survivor list) matters whenever an excluded k-mer sits between two
// surviving k-mers: its dropped bytes must not be folded into the
// preceding survivor's run.
func postingEnds(counts []uint32, offsets []uint64, payloadLen uint64) []uint64 {
	ends := make([]uint64, len(counts))
	next := payloadLen
	for v := len(counts) - 1; v >= 0; v-- {
		if counts[v] == 0 {
			continue
		}
		ends[v] = next
		next = offsets[v]
	}
	return ends
}

func runLength(offsets, ends []uint64, payload []byte, v uint64) []byte {
	return payload[offsets[v]:ends[v]]
}

func writeKix(prefix string, k int, oldR *kformat.KixReader, newCounts []uint32, totalPostings uint64, survivors []uint64, offsets, ends []uint64, payload []byte) error {
	w, err := kformat.CreateKix(prefix+".kix", k, newCounts)
	if err != nil {
		return err
	}
	for _, v := range survivors {
		if err := w.AppendPosting(v, runLength(offsets, ends, payload, v)); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Finalize(kformat.KixHeaderFields{
		K:             k,
		Width:         oldR.Width(),
		NumSequences:  oldR.NumSequences(),
		TotalPostings: totalPostings,
		Flags:         oldR.Flags(),
		VolumeIndex:   oldR.VolumeIndex(),
		TotalVolumes:  oldR.TotalVolumes(),
		DBName:        oldR.DBName(),
	})
}

func writeKpx(prefix string, k int, totalPostings uint64, survivors []uint64, offsets, ends []uint64, payload []byte) error {
	w, err := kformat.CreateKpx(prefix+".kpx", k)
	if err != nil {
		return err
	}
	for _, v := range survivors {
		if err := w.AppendPosting(v, runLength(offsets, ends, payload, v)); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Finalize(kformat.KpxHeaderFields{K: k, TotalPostings: totalPostings})
}
