package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexbench/cortex/devicecomm"
	"github.com/cortexbench/cortex/schedule"
	"github.com/cortexbench/cortex/zstd"
)

func TestNewRunIDIsUniqueAndNonEmpty(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	if a == b {
		t.Fatal("two calls to NewRunID produced the same id")
	}
	if len(a) == 0 {
		t.Fatal("NewRunID returned an empty string")
	}
}

func TestJSONLRecorderRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	rec, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder: %v", err)
	}
	r1 := FromResult("run1", "primitives/kernels/v1/passthrough@f32", "f32", 256, 8, 4, 1, "idle", 0, "adapter-a",
		schedule.Result{WindowRecord: devicecomm.WindowRecord{WindowIndex: 0, StartTS: 100, EndTS: 150}}, "")
	r2 := FromResult("run1", "primitives/kernels/v1/passthrough@f32", "f32", 256, 8, 4, 1, "idle", 0, "adapter-a",
		schedule.Result{WindowRecord: devicecomm.WindowRecord{WindowIndex: 1, StartTS: 200, EndTS: 260}, Warmup: true}, "")
	if err := rec.Write(r1); err != nil {
		t.Fatalf("Write r1: %v", err)
	}
	if err := rec.Write(r2); err != nil {
		t.Fatalf("Write r2: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var got Record
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.WindowIndex != 1 || !got.Warmup {
		t.Errorf("decoded record = %+v, want WindowIndex=1 Warmup=true", got)
	}
}

func TestCSVRecorderWritesHeaderThenRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	rec, err := NewCSVRecorder(path)
	if err != nil {
		t.Fatalf("NewCSVRecorder: %v", err)
	}
	r1 := FromResult("run1", "primitives/kernels/v1/passthrough@f32", "f32", 256, 8, 4, 1, "idle", 0, "adapter-a",
		schedule.Result{WindowRecord: devicecomm.WindowRecord{WindowIndex: 0, StartTS: 100, EndTS: 150}}, "")
	if err := rec.Write(r1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + 1 row)", len(lines))
	}
	if !strings.Contains(lines[0], "run_id") || !strings.Contains(lines[0], "deadline_missed") {
		t.Errorf("header = %q, missing expected columns", lines[0])
	}
}

func TestCompressedJSONLRecorderRoundTrips(t *testing.T) {
	if _, err := exec.LookPath("zstd"); err != nil {
		t.Skip("zstd binary not available")
	}
	path := filepath.Join(t.TempDir(), "out.jsonl.zst")
	rec, err := NewCompressedJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewCompressedJSONLRecorder: %v", err)
	}
	r1 := FromResult("run1", "primitives/kernels/v1/passthrough@f32", "f32", 256, 8, 4, 1, "idle", 0, "adapter-a",
		schedule.Result{WindowRecord: devicecomm.WindowRecord{WindowIndex: 0, StartTS: 100, EndTS: 150}}, "")
	if err := rec.Write(r1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw := make([]byte, 4096)
	r := zstd.NewReader(path)
	defer r.Close()
	n, err := r.Read(raw)
	if err != nil && n == 0 {
		t.Fatalf("Read decompressed stream: %v", err)
	}
	var got Record
	line := strings.TrimSpace(string(raw[:n]))
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("Unmarshal decompressed record: %v", err)
	}
	if got.RunID != "run1" {
		t.Errorf("RunID = %q, want run1", got.RunID)
	}
}

func TestSummarizeExcludesWarmupAndComputesPercentiles(t *testing.T) {
	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			Plugin:  "primitives/kernels/v1/passthrough@f32",
			StartTS: 0,
			EndTS:   int64(100 + i*10), // latencies 100..190
			Warmup:  false,
		})
	}
	// A warmup window with an outlier latency that must not pollute the stats.
	records = append(records, Record{
		Plugin:  "primitives/kernels/v1/passthrough@f32",
		StartTS: 0,
		EndTS:   100000,
		Warmup:  true,
	})
	records = append(records, Record{
		Plugin:       "primitives/kernels/v1/passthrough@f32",
		StartTS:      0,
		EndTS:        180,
		DeadlineMiss: true,
	})

	summaries := Summarize("run1", records)
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	s := summaries[0]
	if s.Samples != 11 {
		t.Errorf("Samples = %d, want 11 (warmup excluded)", s.Samples)
	}
	if s.DeadlineMisses != 1 {
		t.Errorf("DeadlineMisses = %d, want 1", s.DeadlineMisses)
	}
	if s.MedianLatencyNS <= 0 {
		t.Errorf("MedianLatencyNS = %v, want > 0", s.MedianLatencyNS)
	}
	if s.P95LatencyNS < s.MedianLatencyNS {
		t.Errorf("P95LatencyNS (%v) < MedianLatencyNS (%v)", s.P95LatencyNS, s.MedianLatencyNS)
	}
	if s.JitterP95NS < 0 {
		t.Errorf("JitterP95NS = %v, want >= 0", s.JitterP95NS)
	}
}

func TestPercentileSingleElement(t *testing.T) {
	if got := percentile([]float64{42}, 0.99); got != 42 {
		t.Errorf("percentile of single-element slice = %v, want 42", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("percentile of empty slice = %v, want 0", got)
	}
}
