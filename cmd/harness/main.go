// Command harness drives one kernel run end to end: it spawns or connects
// to an adapter, replays a dataset at wall-clock cadence, schedules windows
// through the adapter one at a time, and writes a telemetry record per
// window plus a summary file.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/spf13/pflag"

	"github.com/cortexbench/cortex/devicecomm"
	"github.com/cortexbench/cortex/internal/config"
	"github.com/cortexbench/cortex/replay"
	"github.com/cortexbench/cortex/schedule"
	"github.com/cortexbench/cortex/telemetry"
	"github.com/cortexbench/cortex/telemetry/metrics"
	"github.com/cortexbench/cortex/transport"
	"github.com/cortexbench/cortex/wire"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	promAddr    = pflag.String("prom", ":9090", "Prometheus metrics export address and port")
	pluginID    = pflag.String("plugin", "", "plugin spec_uri to run, e.g. primitives/kernels/v1/passthrough@f32 (required)")
	adapterBin  = pflag.String("adapter-bin", "cortex-adapter", "adapter binary to spawn for a local:// transport")
	datasetPath = pflag.String("dataset", "", "path to the raw interleaved f32 dataset file (required)")
	channels    = pflag.Int("channels", 1, "number of channels C in the dataset")
	windowLen   = pflag.Int("window", 256, "window length W in samples per channel")
	hopLen      = pflag.Int("hop", 128, "hop length H in samples per channel")
	sampleRate  = pflag.Float64("fs", 250, "sample rate Fs in Hz")
	loopDataset = pflag.Bool("loop", false, "loop the dataset when exhausted")
	loadProfile = pflag.String("load", string(replay.LoadIdle), "co-scheduled background load profile: idle, medium, heavy")
	params      = pflag.String("params", "", "opaque kernel parameter string forwarded in CONFIG")
	csvOutput   = pflag.Bool("csv", false, "write telemetry as CSV instead of line-delimited JSON")
	compress    = pflag.Bool("compress", false, "pipe JSONL telemetry output through zstd (ignored with --csv)")
	adapterName = pflag.String("adapter-name", "cortex-adapter", "adapter name recorded in telemetry rows")
)

func main() {
	cfg := config.NewFlagSet(pflag.CommandLine)
	pflag.Parse()
	h, err := cfg.Resolve()
	rtx.Must(err, "could not resolve configuration")

	if *pluginID == "" || *datasetPath == "" {
		log.Fatal("--plugin and --dataset are required")
	}
	if !h.Matches(*pluginID) {
		log.Printf("harness: %q excluded by KERNEL_FILTER, nothing to do", *pluginID)
		return
	}

	outputDir := h.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	rtx.Must(os.MkdirAll(outputDir, 0755), "could not create output directory %q", outputDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	sess, err := newSession(h.TransportURI)
	rtx.Must(err, "could not establish adapter transport")

	var calibration []byte
	if h.CalibrationPath != "" {
		calibration, err = os.ReadFile(h.CalibrationPath)
		rtx.Must(err, "could not read calibration file %q", h.CalibrationPath)
	}

	fs := float32(*sampleRate)
	w, hop, c := uint32(*windowLen), uint32(*hopLen), uint32(*channels)
	rtx.Must(sess.Handshake(*pluginID, fs, w, hop, c, wire.DTypeF32, *params, calibration),
		"handshake with adapter failed")
	defer teardown(sess)

	stressor, err := replay.StartStressor(replay.LoadProfile(*loadProfile))
	rtx.Must(err, "could not start load profile %q", *loadProfile)
	defer stressor.Stop()

	sched := schedule.NewScheduler(sess, int(w), int(hop), int(c), h.Warmup)
	schedule.RealTimeHint()

	recorder, outPath := mustOpenRecorder(outputDir, *pluginID, *csvOutput, *compress)
	defer recorder.Close()

	runID := telemetry.NewRunID()
	var records []telemetry.Record

	repeats := h.Repeats
	if repeats < 1 {
		repeats = 1
	}
runs:
	for repeat := 0; repeat < repeats; repeat++ {
		rp, err := replay.Open(*datasetPath, int(c), int(hop), fs, *loopDataset)
		rtx.Must(err, "could not open dataset %q", *datasetPath)

		passStart := time.Now()
		for {
			if h.DurationSec > 0 && time.Since(passStart) >= time.Duration(h.DurationSec)*time.Second {
				break
			}
			nextHop, err := rp.Next()
			if err == replay.ErrDone {
				break
			}
			rtx.Must(err, "replayer error")

			res, dispatched := sched.Feed(nextHop)
			if !dispatched {
				continue
			}
			errKind := errKindOf(res.Err)
			metrics.WindowCount.WithLabelValues(*pluginID).Inc()
			if res.DeadlineMiss {
				metrics.DeadlineMissCount.WithLabelValues(*pluginID).Inc()
			}
			if errKind != "" {
				metrics.ErrorCount.WithLabelValues(errKind).Inc()
			}
			rec := telemetry.FromResult(runID, *pluginID, "f32", fs, w, uint32(*hopLen), c,
				replay.LoadProfile(*loadProfile), repeat, *adapterName, res, errKind)
			records = append(records, rec)
			rtx.Must(recorder.Write(rec), "could not write telemetry record")

			if res.Err != nil && !res.DeadlineMiss {
				log.Printf("harness: fatal dispatch error, aborting run: %v", res.Err)
				break runs
			}
		}
	}

	summaries := telemetry.Summarize(runID, records)
	writeSummaryFile(outputDir, runID, summaries)
	log.Printf("harness: wrote %d telemetry records to %s", len(records), outPath)
}

func newSession(transportURI string) (*devicecomm.Session, error) {
	if transportURI == "" || transportURI == "local://" {
		return devicecomm.SpawnLocal(*adapterBin)
	}
	t, err := transport.Dial(transportURI, transport.SideHarness)
	if err != nil {
		return nil, err
	}
	return devicecomm.Connect(t), nil
}

// teardownGrace bounds how long the harness waits for the adapter to exit
// on its own before it force-kills it, per spec §5's orderly-shutdown rule.
const teardownGrace = 2 * time.Second

func teardown(sess *devicecomm.Session) {
	if err := sess.Teardown(teardownGrace); err != nil {
		log.Printf("harness: adapter teardown: %v", err)
	}
}

func mustOpenRecorder(outputDir, plugin string, csv, compress bool) (telemetry.Recorder, string) {
	base := sanitizePluginID(plugin)
	if csv {
		path := filepath.Join(outputDir, base+".csv")
		rec, err := telemetry.NewCSVRecorder(path)
		rtx.Must(err, "could not open CSV telemetry output")
		return rec, path
	}
	if compress {
		path := filepath.Join(outputDir, base+".jsonl.zst")
		rec, err := telemetry.NewCompressedJSONLRecorder(path)
		rtx.Must(err, "could not open compressed JSONL telemetry output")
		return rec, path
	}
	path := filepath.Join(outputDir, base+".jsonl")
	rec, err := telemetry.NewJSONLRecorder(path)
	rtx.Must(err, "could not open JSONL telemetry output")
	return rec, path
}

func writeSummaryFile(outputDir, runID string, summaries []telemetry.Summary) {
	path := filepath.Join(outputDir, fmt.Sprintf("summary-%s.jsonl", runID))
	f, err := os.Create(path)
	rtx.Must(err, "could not create summary file %q", path)
	defer f.Close()
	rtx.Must(telemetry.WriteSummary(f, summaries), "could not write summary")
}

func sanitizePluginID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func errKindOf(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case transport.IsTimeout(err):
		return "TIMEOUT"
	case transport.IsConnReset(err):
		return "CONN_RESET"
	case err == devicecomm.ErrSessionMismatch:
		return "SESSION_MISMATCH"
	case err == devicecomm.ErrSequenceMismatch:
		return "SEQUENCE_MISMATCH"
	default:
		return "ERROR"
	}
}
