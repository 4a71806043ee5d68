package filter

// Config parameterizes a cross-volume frequency filter run.
type Config struct {
	// GlobalFreqCap is the threshold G: a k-mer is excluded from every
	// volume when its summed count across all volumes exceeds G.
	GlobalFreqCap uint64
}
