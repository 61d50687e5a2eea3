// Package config plumbs the environment-variable overrides and CLI flags
// spec.md §6 recognizes (KERNEL_FILTER, DURATION_OVERRIDE, REPEATS_OVERRIDE,
// WARMUP_OVERRIDE, OUTPUT_DIR), layered under the standard flag package the
// way main.go layers flagx under flag.
package config

import (
	"flag"
	"fmt"
	"log"
	"regexp"

	"github.com/m-lab/go/flagx"
	"github.com/spf13/pflag"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Harness holds the resolved configuration for a harness run, after flags,
// environment overrides, and defaults have all been applied.
type Harness struct {
	KernelFilter    *regexp.Regexp
	DurationSec     int
	Repeats         int
	Warmup          int
	OutputDir       string
	TransportURI    string
	CalibrationPath string
}

// FlagSet wraps the flags a harness run owns directly; CLI parsing beyond
// this thin set is an external collaborator's job per SPEC_FULL's domain
// boundary note.
type FlagSet struct {
	transportURI    *string
	calibrationPath *string
	outputDir       *string
	durationSec     *int
	repeats         *int
	warmup          *int
}

// NewFlagSet registers the harness's own flags against fs, using
// pflag's POSIX-style long-flag parsing the way the teacher layers
// flagx under the standard flag package.
func NewFlagSet(fs *pflag.FlagSet) *FlagSet {
	return &FlagSet{
		transportURI:    fs.String("transport", "local://", "transport URI the harness connects the adapter over"),
		calibrationPath: fs.String("calibration", "", "path to a calibration state file to load before CONFIG"),
		outputDir:       fs.String("output", "", "destination directory for telemetry and summaries"),
		durationSec:     fs.Int("duration", 0, "run duration in seconds, 0 means dataset-length"),
		repeats:         fs.Int("repeats", 1, "number of repeat passes over the dataset"),
		warmup:          fs.Int("warmup", 0, "number of leading windows flagged warmup"),
	}
}

// Resolve merges flag values with the recognized environment overrides
// (env wins, matching flagx.ArgsFromEnv's precedence when bound through
// flag.CommandLine) and validates KERNEL_FILTER as a regex.
func (fs *FlagSet) Resolve() (Harness, error) {
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return Harness{}, fmt.Errorf("config: reading env-backed flag overrides: %w", err)
	}

	h := Harness{
		DurationSec:     *fs.durationSec,
		Repeats:         *fs.repeats,
		Warmup:          *fs.warmup,
		OutputDir:       *fs.outputDir,
		TransportURI:    *fs.transportURI,
		CalibrationPath: *fs.calibrationPath,
	}

	if v, ok := lookupEnv("KERNEL_FILTER"); ok {
		re, err := regexp.Compile(v)
		if err != nil {
			return Harness{}, fmt.Errorf("config: KERNEL_FILTER is not a valid regex: %w", err)
		}
		h.KernelFilter = re
	}
	if v, ok := lookupEnvInt("DURATION_OVERRIDE"); ok {
		h.DurationSec = v
	}
	if v, ok := lookupEnvInt("REPEATS_OVERRIDE"); ok {
		h.Repeats = v
	}
	if v, ok := lookupEnvInt("WARMUP_OVERRIDE"); ok {
		h.Warmup = v
	}
	if v, ok := lookupEnv("OUTPUT_DIR"); ok {
		h.OutputDir = v
	}

	return h, nil
}

// Matches reports whether name should run under the resolved KERNEL_FILTER,
// true when no filter was set.
func (h Harness) Matches(specURI string) bool {
	if h.KernelFilter == nil {
		return true
	}
	return h.KernelFilter.MatchString(specURI)
}
