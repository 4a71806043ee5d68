// Command kmeridx drives a single- or multi-volume k-mer index build
// from the command line. The sequence source itself is an external
// collaborator: this driver is a thin wrapper around the build, filter,
// kmerconf, and kmerlog packages, present so the library is reachable
// from a shell the way every indexer in this space ships one.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/seqdex/kmeridx/build"
	"github.com/seqdex/kmeridx/filter"
	"github.com/seqdex/kmeridx/kmerconf"
	"github.com/seqdex/kmeridx/kmerlog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kmeridx:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("kmeridx", pflag.ContinueOnError)

	k := fs.IntP("k", "k", 11, "k-mer length, 5-16")
	partitions := fs.Int("partitions", 1, "number of k-mer partitions, power of two")
	threads := fs.Int("threads", 4, "worker thread count")
	bufferBytes := fs.Int64("buffer-bytes", 64<<20, "per-partition posting buffer budget, bytes")
	localFreqCap := fs.Uint32("local-freq-cap", 0, "zero any k-mer's count past this many occurrences within a volume (0 disables)")
	maxExpansion := fs.Int("max-expansion", 8, "bounded-expansion ceiling for ambiguous k-mer windows")
	dbName := fs.String("db-name", "", "database name recorded in volume headers")
	configPath := fs.String("config", "", "optional TOML config file")
	volumePrefixes := fs.StringSlice("volumes", nil, "comma-separated volume output prefixes, for cross-volume filtering")
	globalFreqCap := fs.Uint64("global-freq-cap", 0, "cross-volume exclusion threshold (0 disables filtering)")
	exclusionPath := fs.String("exclusion-file", "", "shared exclusion bitset output path, required with --global-freq-cap")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", *logLevel, err)
	}
	logger := kmerlog.New(level)

	conf, err := kmerconf.Load(*configPath)
	if err != nil {
		return err
	}

	cfg := conf.BuildConfig(build.Config{
		K:            *k,
		Threads:      *threads,
		Partitions:   *partitions,
		BufferBytes:  *bufferBytes,
		LocalFreqCap: *localFreqCap,
		DBName:       *dbName,
	})
	cfg.MaxExpansion = *maxExpansion

	filtering := *globalFreqCap > 0
	if filtering && *exclusionPath == "" {
		return fmt.Errorf("--exclusion-file is required with --global-freq-cap")
	}
	cfg.DeferFinalRename = filtering

	ctx := context.Background()
	prefixes := *volumePrefixes
	if len(prefixes) == 0 {
		return fmt.Errorf("--volumes must name at least one output prefix")
	}

	for i, prefix := range prefixes {
		volCfg := cfg
		volCfg.VolumeIndex = uint16(i)
		volCfg.TotalVolumes = uint16(len(prefixes))

		src, err := loadSource(prefix + ".fasta")
		if err != nil {
			return err
		}
		if err := build.Build(ctx, src, prefix, volCfg, logger); err != nil {
			return fmt.Errorf("building volume %s: %w", prefix, err)
		}
	}

	if !filtering {
		return nil
	}

	filterCfg := conf.FilterConfig(filter.Config{GlobalFreqCap: *globalFreqCap})
	if err := filter.Filter(ctx, *k, prefixes, *exclusionPath, filterCfg, logger); err != nil {
		return fmt.Errorf("filtering volumes %s: %w", strings.Join(prefixes, ","), err)
	}
	return nil
}
