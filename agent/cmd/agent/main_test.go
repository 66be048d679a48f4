package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyberpulse/cyberpulse/agent/internal/config"
	"github.com/cyberpulse/cyberpulse/pkg/detect"
	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// bruteForceLog holds six failed logins from one source inside one window,
// one suspicious login and one row with a broken timestamp.
const bruteForceLog = `timestamp,src_ip,dest_ip,dest_port,username,event_type,status,severity,ip_risk
2026-01-01T00:00:00Z,45.83.12.7,10.0.0.10,22,alice,failed_login,failed,low,High
2026-01-01T00:00:10Z,45.83.12.7,10.0.0.10,22,alice,failed_login,failed,low,High
2026-01-01T00:00:20Z,45.83.12.7,10.0.0.10,22,alice,failed_login,failed,low,High
2026-01-01T00:00:30Z,45.83.12.7,10.0.0.10,22,alice,failed_login,failed,low,High
2026-01-01T00:00:40Z,45.83.12.7,10.0.0.10,22,alice,failed_login,failed,low,High
2026-01-01T00:00:50Z,45.83.12.7,10.0.0.10,22,alice,failed_login,failed,low,High
2026-01-01T00:01:00Z,77.21.56.99,10.0.0.20,443,eve,suspicious_login,suspicious,high,High
garbage,1.2.3.4,,,,failed_login,,,
`

func TestRunDetect_JSON(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := runDetect(&out, &errOut, strings.NewReader(bruteForceLog), detect.DefaultRules(), "json"); err != nil {
		t.Fatalf("runDetect: %v", err)
	}

	var alerts []types.Alert
	if err := json.Unmarshal(out.Bytes(), &alerts); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2: %+v", len(alerts), alerts)
	}
	if alerts[0].Rule != "Brute Force (>=6/2min)" || alerts[0].Evidence != "count=6" {
		t.Errorf("alerts[0] = %+v", alerts[0])
	}
	if alerts[1].Rule != detect.SuspiciousLoginRule || alerts[1].Evidence != "user=eve" {
		t.Errorf("alerts[1] = %+v", alerts[1])
	}
	if !strings.Contains(errOut.String(), "skipped 1 rows") {
		t.Errorf("stderr = %q, want dropped row notice", errOut.String())
	}
}

func TestRunDetect_CSV(t *testing.T) {
	var out bytes.Buffer
	if err := runDetect(&out, &bytes.Buffer{}, strings.NewReader(bruteForceLog), detect.DefaultRules(), "csv"); err != nil {
		t.Fatalf("runDetect: %v", err)
	}
	recs, err := csv.NewReader(&out).ReadAll()
	if err != nil {
		t.Fatalf("parse csv output: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want header + 2", len(recs))
	}
	if strings.Join(recs[0], ",") != strings.Join(types.AlertColumns, ",") {
		t.Errorf("header = %v", recs[0])
	}
}

func TestRunDetect_TableWithThresholds(t *testing.T) {
	rules := detect.DefaultRules()
	rules.BruteForceThreshold = 7

	var out bytes.Buffer
	if err := runDetect(&out, &bytes.Buffer{}, strings.NewReader(bruteForceLog), rules, "table"); err != nil {
		t.Fatalf("runDetect: %v", err)
	}
	s := out.String()
	if !strings.HasPrefix(s, "TIME") {
		t.Errorf("table missing header:\n%s", s)
	}
	if strings.Contains(s, "Brute Force") {
		t.Errorf("threshold 7 should suppress the brute force alert:\n%s", s)
	}
	if !strings.Contains(s, "1 alerts") {
		t.Errorf("table footer missing:\n%s", s)
	}
}

func TestRunDetect_EmptyLogPrintsEmptyArray(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("timestamp,src_ip,event_type\n")
	if err := runDetect(&out, &bytes.Buffer{}, in, detect.DefaultRules(), "json"); err != nil {
		t.Fatalf("runDetect: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestRunDetect_Errors(t *testing.T) {
	if err := runDetect(&bytes.Buffer{}, &bytes.Buffer{}, strings.NewReader(bruteForceLog), detect.DefaultRules(), "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
	err := runDetect(&bytes.Buffer{}, &bytes.Buffer{}, strings.NewReader("src_ip\n1.1.1.1\n"), detect.DefaultRules(), "json")
	if !errors.Is(err, ingest.ErrMissingTimestamp) {
		t.Errorf("err = %v, want ErrMissingTimestamp", err)
	}
}

func TestDetectCmd_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.csv")
	if err := os.WriteFile(path, []byte(bruteForceLog), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"detect", "--format", "csv", "--port-scan", "3", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := strings.Count(strings.TrimSpace(out.String()), "\n"); n != 2 {
		t.Errorf("got %d alert rows, want 2:\n%s", n, out.String())
	}
}

func TestRunDemo_Deterministic(t *testing.T) {
	end := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	opts := ingest.DemoOptions{Minutes: 30, Step: 30 * time.Second, Seed: 42, End: end}

	var a, b bytes.Buffer
	if err := runDemo(&a, opts); err != nil {
		t.Fatalf("runDemo: %v", err)
	}
	if err := runDemo(&b, opts); err != nil {
		t.Fatalf("runDemo: %v", err)
	}
	if a.String() != b.String() {
		t.Fatal("same seed produced different output")
	}

	batch, err := ingest.ParseCSV(&a)
	if err != nil {
		t.Fatalf("demo output does not parse: %v", err)
	}
	if batch.Dropped != 0 {
		t.Errorf("demo output dropped %d rows", batch.Dropped)
	}
	for _, ev := range batch.Events {
		if ev.Timestamp.Before(end.Add(-30*time.Minute)) || ev.Timestamp.After(end) {
			t.Fatalf("event at %v outside the demo range", ev.Timestamp)
		}
	}
}

func TestPollers_CollectAndRestart(t *testing.T) {
	var (
		mu  sync.Mutex
		got = map[string]int{}
	)
	p := &pollers{sink: func(events []types.Event) {
		mu.Lock()
		defer mu.Unlock()
		got["events"] += len(events)
		got["calls"]++
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	demo := config.Source{
		ID:           "synthetic",
		Type:         config.SourceDemo,
		PollInterval: 10 * time.Millisecond,
		Demo:         config.DemoConfig{Minutes: 60, Step: 30 * time.Second, Seed: 42},
	}
	p.start(ctx, []config.Source{demo, {ID: "bad", Type: "syslog"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := got["events"]
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Restarting with no sources stops the old loop.
	p.start(ctx, nil)
	mu.Lock()
	calls := got["calls"]
	events := got["events"]
	mu.Unlock()
	if events == 0 {
		t.Fatal("demo source delivered no events")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if got["calls"] != calls {
		t.Errorf("sink called %d more times after restart with no sources", got["calls"]-calls)
	}
	p.stop()
}
