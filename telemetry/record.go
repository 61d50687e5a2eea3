// Package telemetry writes one record per dispatched window, in either
// line-delimited JSON (default) or CSV, and produces a per-plugin-per-run
// summary of latency, jitter, and deadline-miss statistics.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/rs/xid"

	"github.com/cortexbench/cortex/replay"
	"github.com/cortexbench/cortex/schedule"
	"github.com/cortexbench/cortex/zstd"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Record is one line/row of telemetry output: every field spec.md §4.9
// names for a dispatched window.
type Record struct {
	RunID       string            `json:"run_id" csv:"run_id"`
	Plugin      string            `json:"plugin" csv:"plugin"`
	DType       string            `json:"dtype" csv:"dtype"`
	WindowIndex uint32            `json:"window_index" csv:"window_index"`
	ReleaseTS   int64             `json:"release_ts" csv:"release_ts"`
	DeadlineTS  int64             `json:"deadline_ts" csv:"deadline_ts"`
	StartTS     int64             `json:"start_ts" csv:"start_ts"`
	EndTS       int64             `json:"end_ts" csv:"end_ts"`
	DeadlineMiss bool             `json:"deadline_missed" csv:"deadline_missed"`
	TIn         int64             `json:"t_in" csv:"t_in"`
	TStart      int64             `json:"t_start" csv:"t_start"`
	TEnd        int64             `json:"t_end" csv:"t_end"`
	TFirstTx    int64             `json:"t_first_tx" csv:"t_first_tx"`
	TLastTx     int64             `json:"t_last_tx" csv:"t_last_tx"`
	W           uint32            `json:"w" csv:"w"`
	H           uint32            `json:"h" csv:"h"`
	C           uint32            `json:"c" csv:"c"`
	Fs          float32           `json:"fs" csv:"fs"`
	LoadProfile replay.LoadProfile `json:"load_profile" csv:"load_profile"`
	Repeat      int               `json:"repeat" csv:"repeat"`
	Warmup      bool              `json:"warmup" csv:"warmup"`
	Adapter     string            `json:"adapter" csv:"adapter"`
	ErrKind     string            `json:"err_kind,omitempty" csv:"err_kind"`
}

// NewRunID returns a compact, sortable run identifier, used when a full
// UUID is more than the field needs.
func NewRunID() string {
	return xid.New().String()
}

// FromResult builds a Record from one scheduler dispatch outcome. errKind,
// if non-empty, names the error taxonomy entry (spec §7) the window's Err
// maps to; it is left empty on a clean dispatch.
func FromResult(runID, plugin, dtype string, fs float32, w, h, c uint32, profile replay.LoadProfile, repeat int, adapterName string, res schedule.Result, errKind string) Record {
	return Record{
		RunID:        runID,
		Plugin:       plugin,
		DType:        dtype,
		WindowIndex:  res.WindowIndex,
		ReleaseTS:    res.ReleaseTS,
		DeadlineTS:   res.DeadlineTS,
		StartTS:      res.StartTS,
		EndTS:        res.EndTS,
		DeadlineMiss: res.DeadlineMiss,
		TIn:          res.TIn,
		TStart:       res.TStart,
		TEnd:         res.TEnd,
		TFirstTx:     res.TFirstTx,
		TLastTx:      res.TLastTx,
		W:            w,
		H:            h,
		C:            c,
		Fs:           fs,
		LoadProfile:  profile,
		Repeat:       repeat,
		Warmup:       res.Warmup,
		Adapter:      adapterName,
		ErrKind:      errKind,
	}
}

// Recorder appends Records to a telemetry output, one per dispatched
// window. The scheduler is the only writer (spec §5's shared-resources
// rule); Recorder itself does no locking.
type Recorder interface {
	Write(Record) error
	Close() error
}

// jsonlRecorder writes one compact JSON object per line, the default
// format per spec §4.9.
type jsonlRecorder struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONLRecorder opens (creating or truncating) path for line-delimited
// JSON output.
func NewJSONLRecorder(path string) (Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open jsonl output: %w", err)
	}
	w := bufio.NewWriter(f)
	return &jsonlRecorder{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (r *jsonlRecorder) Write(rec Record) error {
	return r.enc.Encode(rec)
}

func (r *jsonlRecorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// compressedJSONLRecorder writes line-delimited JSON through an external
// zstd process, for long runs where the uncompressed JSONL would be large.
type compressedJSONLRecorder struct {
	w   io.WriteCloser
	enc *json.Encoder
}

// NewCompressedJSONLRecorder behaves like NewJSONLRecorder but pipes the
// output through zstd on its way to path.
func NewCompressedJSONLRecorder(path string) (Recorder, error) {
	w, err := zstd.NewWriter(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open compressed jsonl output: %w", err)
	}
	return &compressedJSONLRecorder{w: w, enc: json.NewEncoder(w)}, nil
}

func (r *compressedJSONLRecorder) Write(rec Record) error {
	return r.enc.Encode(rec)
}

func (r *compressedJSONLRecorder) Close() error {
	return r.w.Close()
}

// csvRecorder buffers Records in memory and marshals them as a single CSV
// document on Close, the same whole-slice gocsv.Marshal call the teacher's
// csvtool uses rather than a row-at-a-time stream (gocsv has no streaming
// writer).
type csvRecorder struct {
	f    *os.File
	rows []Record
}

// NewCSVRecorder opens (creating or truncating) path for CSV output; the
// first line written on Close is the header, as spec §6 requires.
func NewCSVRecorder(path string) (Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open csv output: %w", err)
	}
	return &csvRecorder{f: f}, nil
}

func (r *csvRecorder) Write(rec Record) error {
	r.rows = append(r.rows, rec)
	return nil
}

func (r *csvRecorder) Close() error {
	if err := gocsv.Marshal(r.rows, r.f); err != nil {
		r.f.Close()
		return fmt.Errorf("telemetry: marshal csv: %w", err)
	}
	return r.f.Close()
}

// Summary is the per-plugin-per-run aggregate spec §4.9 requires: latency
// percentiles, jitter, and deadline-miss rate, derived from end_ts-start_ts
// across every non-warmup window.
type Summary struct {
	RunID            string  `json:"run_id" csv:"run_id"`
	Plugin           string  `json:"plugin" csv:"plugin"`
	Samples          int     `json:"samples" csv:"samples"`
	DeadlineMisses   int     `json:"deadline_misses" csv:"deadline_misses"`
	DeadlineMissRate float64 `json:"deadline_miss_rate" csv:"deadline_miss_rate"`
	MedianLatencyNS  float64 `json:"median_latency_ns" csv:"median_latency_ns"`
	P95LatencyNS     float64 `json:"p95_latency_ns" csv:"p95_latency_ns"`
	P99LatencyNS     float64 `json:"p99_latency_ns" csv:"p99_latency_ns"`
	JitterP95NS      float64 `json:"jitter_p95_ns" csv:"jitter_p95_ns"`
	JitterP99NS      float64 `json:"jitter_p99_ns" csv:"jitter_p99_ns"`
}

// Summarize computes per-plugin Summary rows from a batch of Records.
// Warmup windows are excluded, matching spec §4.5's warmup-window carve-out
// from steady-state measurement.
func Summarize(runID string, records []Record) []Summary {
	byPlugin := map[string][]Record{}
	for _, r := range records {
		if r.Warmup {
			continue
		}
		byPlugin[r.Plugin] = append(byPlugin[r.Plugin], r)
	}

	plugins := make([]string, 0, len(byPlugin))
	for p := range byPlugin {
		plugins = append(plugins, p)
	}
	sort.Strings(plugins)

	summaries := make([]Summary, 0, len(plugins))
	for _, p := range plugins {
		rs := byPlugin[p]
		latencies := make([]float64, len(rs))
		misses := 0
		for i, r := range rs {
			latencies[i] = float64(r.EndTS - r.StartTS)
			if r.DeadlineMiss {
				misses++
			}
		}
		sort.Float64s(latencies)
		p50 := percentile(latencies, 0.50)
		p95 := percentile(latencies, 0.95)
		p99 := percentile(latencies, 0.99)
		summaries = append(summaries, Summary{
			RunID:            runID,
			Plugin:           p,
			Samples:          len(rs),
			DeadlineMisses:   misses,
			DeadlineMissRate: float64(misses) / float64(len(rs)),
			MedianLatencyNS:  p50,
			P95LatencyNS:     p95,
			P99LatencyNS:     p99,
			JitterP95NS:      p95 - p50,
			JitterP99NS:      p99 - p50,
		})
	}
	return summaries
}

// WriteSummary writes summaries as line-delimited JSON to w, one object per
// plugin.
func WriteSummary(w io.Writer, summaries []Summary) error {
	enc := json.NewEncoder(w)
	for _, s := range summaries {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

// percentile returns the value at fraction p (0..1) of a pre-sorted slice,
// using linear interpolation between the two neighbouring ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
