package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	if err := w.Append(Entry{RunID: "r1", Status: "ok", Frames: []string{"prices"}, DurationMs: 12}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(Entry{RunID: "r2", Status: "error", Error: "boom"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	path := w.dailyFilepath(time.Now().UTC())
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line not json: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].RunID != "r1" || entries[0].Time == "" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Error != "boom" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	old := filepath.Join(dir, "2020-01-01.txt")
	if err := os.WriteFile(old, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stale := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh := filepath.Join(dir, "fresh.txt")
	if err := os.WriteFile(fresh, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := w.CompressOlder(14); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale log should be removed after compression")
	}
	if _, err := os.Stat(old + ".gz"); err != nil {
		t.Errorf("stale log should be gzipped: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh log should be untouched: %v", err)
	}
}

func TestCompressOlderZeroRetentionIsNoop(t *testing.T) {
	w := New(t.TempDir())
	if err := w.CompressOlder(0); err != nil {
		t.Fatalf("compress: %v", err)
	}
}
