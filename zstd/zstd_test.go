package zstd_test

import (
	"io"
	"os"
	"testing"

	"github.com/cortexbench/cortex/zstd"
)

func TestWriterThenReaderRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.zst"

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte((i * 37) % 256)
	}

	w, err := zstd.NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("compressed file missing: %v", err)
	}

	read := make([]byte, 20000)
	r := zstd.NewReader(path)
	n, err := io.ReadAtLeast(r, read, len(data))
	if err != nil {
		t.Fatalf("ReadAtLeast: %v", err)
	}
	if n != len(data) {
		t.Fatalf("read %d bytes, want %d", n, len(data))
	}
	for i := range data {
		if data[i] != read[i] {
			t.Fatalf("data mismatch at byte %d", i)
		}
	}
}
