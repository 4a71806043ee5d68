// Package kmerconf loads build and filter configuration from an optional
// TOML file, to be overridden afterward by CLI flags.
package kmerconf

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/seqdex/kmeridx/build"
	"github.com/seqdex/kmeridx/filter"
)

// File is the on-disk shape of a config file: a [build] table and an
// optional [filter] table.
type File struct {
	Build struct {
		K            int    `toml:"k"`
		Threads      int    `toml:"threads"`
		Partitions   int    `toml:"partitions"`
		BufferBytes  int64  `toml:"buffer_bytes"`
		LocalFreqCap uint32 `toml:"local_freq_cap"`
		DBName       string `toml:"db_name"`
	} `toml:"build"`

	Filter struct {
		GlobalFreqCap uint64 `toml:"global_freq_cap"`
	} `toml:"filter"`
}

// Load parses path into a File. A missing path is not an error; Load
// returns a zero-valued File so the CLI's flag defaults take over
// entirely.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return f, fmt.Errorf("kmerconf: decode %s: %w", path, err)
	}
	return f, nil
}

// BuildConfig returns a build.Config seeded from the file, with any field
// present in override taking precedence (override fields are compared
// against their zero value, which is how pflag-backed CLI defaults are
// threaded through).
func (f File) BuildConfig(override build.Config) build.Config {
	c := build.Config{
		K:            f.Build.K,
		Threads:      f.Build.Threads,
		Partitions:   f.Build.Partitions,
		BufferBytes:  f.Build.BufferBytes,
		LocalFreqCap: f.Build.LocalFreqCap,
		DBName:       f.Build.DBName,
	}
	if override.K != 0 {
		c.K = override.K
	}
	if override.Threads != 0 {
		c.Threads = override.Threads
	}
	if override.Partitions != 0 {
		c.Partitions = override.Partitions
	}
	if override.BufferBytes != 0 {
		c.BufferBytes = override.BufferBytes
	}
	if override.LocalFreqCap != 0 {
		c.LocalFreqCap = override.LocalFreqCap
	}
	if override.DBName != "" {
		c.DBName = override.DBName
	}
	c.MaxExpansion = override.MaxExpansion
	c.VolumeIndex = override.VolumeIndex
	c.TotalVolumes = override.TotalVolumes
	c.DeferFinalRename = override.DeferFinalRename
	return c
}

// FilterConfig returns a filter.Config seeded from the file, with
// override's non-zero global cap taking precedence.
func (f File) FilterConfig(override filter.Config) filter.Config {
	c := filter.Config{GlobalFreqCap: f.Filter.GlobalFreqCap}
	if override.GlobalFreqCap != 0 {
		c.GlobalFreqCap = override.GlobalFreqCap
	}
	return c
}
