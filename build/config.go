package build

import (
	"github.com/seqdex/kmeridx/internal/kmerr"
	"github.com/seqdex/kmeridx/kformat"
)

// Config parameterizes a single volume build.
type Config struct {
	K int

	Threads     int
	Partitions  int // power of two
	BufferBytes int64

	// LocalFreqCap zeroes any k-mer's count past this many occurrences
	// within the volume; 0 disables the cap.
	LocalFreqCap uint32

	// MaxExpansion bounds the scanner's ambiguity expansion product; a
	// window whose product exceeds it contributes no postings.
	MaxExpansion int

	VolumeIndex  uint16
	TotalVolumes uint16
	DBName       string

	// DeferFinalRename leaves the three outputs with their .tmp suffix
	// instead of renaming them to final names in Phase 3. Set this when
	// a cross-volume filter.Filter call will follow: it consumes
	// prefix.kix.tmp/prefix.kpx.tmp and performs the rename itself once
	// filtering is complete.
	DeferFinalRename bool
}

// Validate rejects configuration spec.md §7 calls out at entry.
func (c Config) Validate() error {
	if err := kformat.ValidateK(c.K); err != nil {
		return kmerr.Wrap(kmerr.Configuration, "build.Config.Validate", err)
	}
	if err := kformat.ValidatePartitions(c.Partitions); err != nil {
		return kmerr.Wrap(kmerr.Configuration, "build.Config.Validate", err)
	}
	if c.Threads <= 0 {
		return kmerr.Wrap(kmerr.Configuration, "build.Config.Validate", errThreads)
	}
	return nil
}

var errThreads = configError("threads must be >= 1")

type configError string

func (e configError) Error() string { return string(e) }
