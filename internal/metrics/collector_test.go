package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/database"
)

type fakeProcess struct {
	pid int
	id  string
}

func (f *fakeProcess) PID() int           { return f.pid }
func (f *fakeProcess) InstanceID() string { return f.id }

func writeProc(t *testing.T, root string, pid int, utime, stime, total int) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprint(pid))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create proc dir: %v", err)
	}
	stat := fmt.Sprintf("%d (java server) S 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 42 0 1000 0 0\n", pid, pid, pid, utime, stime)
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0644); err != nil {
		t.Fatalf("failed to write stat: %v", err)
	}
	status := "Name:\tjava\nVmPeak:\t 9000000 kB\nVmRSS:\t  2048 kB\nThreads:\t42\n"
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0644); err != nil {
		t.Fatalf("failed to write status: %v", err)
	}
	host := fmt.Sprintf("cpu  %d 0 0 0 0 0 0 0 0 0\ncpu0 %d 0 0 0 0 0 0 0 0 0\n", total, total)
	if err := os.WriteFile(filepath.Join(root, "stat"), []byte(host), 0644); err != nil {
		t.Fatalf("failed to write host stat: %v", err)
	}
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestCollectSamplesProcess(t *testing.T) {
	root := t.TempDir()
	db := openDB(t)
	source := &fakeProcess{pid: 4242, id: "instance-1"}

	collector := NewCollector(config.MetricsConfig{Enabled: true, Interval: 1, RetentionDays: 2}, source, db.DB)
	collector.procRoot = root

	writeProc(t, root, 4242, 100, 50, 10000)
	first, err := collector.Collect()
	if err != nil {
		t.Fatalf("failed to collect: %v", err)
	}
	if first.CPUUsage != nil {
		t.Fatalf("expected no cpu usage on the first sample, got %v", *first.CPUUsage)
	}
	if first.MemoryRSS != 2048*1024 || first.Threads != 42 {
		t.Fatalf("unexpected sample %+v", first)
	}

	writeProc(t, root, 4242, 200, 100, 11000)
	second, err := collector.Collect()
	if err != nil {
		t.Fatalf("failed to collect: %v", err)
	}
	if second.CPUUsage == nil || *second.CPUUsage != 15 {
		t.Fatalf("expected 15%% cpu usage, got %v", second.CPUUsage)
	}

	latest := collector.Latest()
	if latest == nil || latest.InstanceID != "instance-1" {
		t.Fatalf("unexpected latest sample %+v", latest)
	}

	samples, err := collector.Recent(10)
	if err != nil {
		t.Fatalf("failed to list samples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 stored samples, got %d", len(samples))
	}
	if samples[0].CPUUsage == nil || samples[1].CPUUsage != nil {
		t.Fatalf("expected newest sample first")
	}
}

func TestCollectWithoutServer(t *testing.T) {
	collector := NewCollector(config.MetricsConfig{Enabled: true}, &fakeProcess{}, nil)
	collector.procRoot = t.TempDir()

	sample, err := collector.Collect()
	if err != nil || sample != nil {
		t.Fatalf("expected no sample without a process, got %+v: %v", sample, err)
	}
	if collector.Latest() != nil {
		t.Fatalf("expected no latest sample")
	}
}

func TestCPUUsageResetsOnNewProcess(t *testing.T) {
	root := t.TempDir()
	source := &fakeProcess{pid: 10, id: "a"}
	collector := NewCollector(config.MetricsConfig{Enabled: true}, source, nil)
	collector.procRoot = root

	writeProc(t, root, 10, 500, 500, 10000)
	collector.Collect()

	source.pid = 11
	writeProc(t, root, 11, 1, 1, 10100)
	sample, err := collector.Collect()
	if err != nil {
		t.Fatalf("failed to collect: %v", err)
	}
	if sample.CPUUsage != nil {
		t.Fatalf("expected usage to restart for a new process, got %v", *sample.CPUUsage)
	}
}

func TestCleanupRemovesExpiredSamples(t *testing.T) {
	db := openDB(t)
	old := time.Now().Add(-72 * time.Hour).UTC()
	if _, err := db.Exec(`INSERT INTO server_metrics (instance_id, pid, memory_rss, threads, timestamp) VALUES ('old', 1, 0, 0, ?)`, old); err != nil {
		t.Fatalf("failed to insert sample: %v", err)
	}

	collector := NewCollector(config.MetricsConfig{Enabled: true, RetentionDays: 2}, &fakeProcess{}, db.DB)
	collector.cleanupOldMetrics(time.Now())

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM server_metrics").Scan(&count); err != nil {
		t.Fatalf("failed to count samples: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected expired sample to be removed, got %d", count)
	}
}

func TestStartWithoutProcIsNoop(t *testing.T) {
	collector := NewCollector(config.MetricsConfig{Enabled: true, Interval: 1}, &fakeProcess{pid: 1}, nil)
	collector.procRoot = filepath.Join(t.TempDir(), "missing")
	collector.Start()
	collector.Stop()
	collector.Stop()
}
