package jobscript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Files written by CoreInstrumenter.
const (
	coreSlotsFile      = "__instrument_core_galaxy_slots"
	coreMemoryFile     = "__instrument_core_galaxy_memory_mb"
	coreEpochStartFile = "__instrument_core_epoch_start"
	coreEpochEndFile   = "__instrument_core_epoch_end"
)

// CoreInstrumenter records slots, memory and wall clock bounds of a job.
type CoreInstrumenter struct{}

// PreExecute implements Instrumenter.
func (CoreInstrumenter) PreExecute(dir string) string {
	return strings.Join([]string{
		fmt.Sprintf(`echo "$GALAXY_SLOTS" > "%s"`, filepath.Join(dir, coreSlotsFile)),
		fmt.Sprintf(`echo "$GALAXY_MEMORY_MB" > "%s"`, filepath.Join(dir, coreMemoryFile)),
		fmt.Sprintf(`date +"%%s" > "%s"`, filepath.Join(dir, coreEpochStartFile)),
	}, "\n")
}

// PostExecute implements Instrumenter.
func (CoreInstrumenter) PostExecute(dir string) string {
	return fmt.Sprintf(`date +"%%s" > "%s"`, filepath.Join(dir, coreEpochEndFile))
}

// CoreMetrics are the values collected by CoreInstrumenter. Missing values
// are zero.
type CoreMetrics struct {
	Slots    int
	MemoryMB int
	Start    time.Time
	End      time.Time
}

// Runtime is End minus Start, or zero when either is unknown.
func (m CoreMetrics) Runtime() time.Duration {
	if m.Start.IsZero() || m.End.IsZero() {
		return 0
	}
	return m.End.Sub(m.Start)
}

// ReadCoreMetrics parses the files CoreInstrumenter left in dir.
func ReadCoreMetrics(dir string) (CoreMetrics, error) {
	var m CoreMetrics

	ints := []struct {
		file string
		dst  *int
	}{
		{coreSlotsFile, &m.Slots},
		{coreMemoryFile, &m.MemoryMB},
	}
	for _, f := range ints {
		v, err := readInt(filepath.Join(dir, f.file))
		if err != nil {
			return m, err
		}
		*f.dst = int(v)
	}

	times := []struct {
		file string
		dst  *time.Time
	}{
		{coreEpochStartFile, &m.Start},
		{coreEpochEndFile, &m.End},
	}
	for _, f := range times {
		v, err := readInt(filepath.Join(dir, f.file))
		if err != nil {
			return m, err
		}
		if v > 0 {
			*f.dst = time.Unix(v, 0)
		}
	}
	return m, nil
}

// readInt returns 0 for missing or empty files.
func readInt(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("jobs: parse %s: %w", filepath.Base(path), err)
	}
	return v, nil
}
