package metrics

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

// ErrUnsupported is returned where /proc is not available
var ErrUnsupported = errors.New("process metrics require /proc")

// ProcessSource reports the process to sample
type ProcessSource interface {
	PID() int
	InstanceID() string
}

// Sample is one resource reading of the server process
type Sample struct {
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	CPUUsage   *float64  `json:"cpu_usage,omitempty"` // percent of total host CPU
	MemoryRSS  int64     `json:"memory_rss"`          // bytes
	Threads    int       `json:"threads"`
	Timestamp  time.Time `json:"timestamp"`
}

type Collector struct {
	cfg      config.MetricsConfig
	source   ProcessSource
	db       *sql.DB
	procRoot string
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu          sync.Mutex
	cpuSample   cpuSample
	latest      *Sample
	lastCleanup time.Time
}

type cpuSample struct {
	pid       int
	process   float64
	total     float64
	timestamp time.Time
}

func NewCollector(cfg config.MetricsConfig, source ProcessSource, db *sql.DB) *Collector {
	return &Collector{
		cfg:      cfg,
		source:   source,
		db:       db,
		procRoot: "/proc",
		stopCh:   make(chan struct{}),
	}
}

func (c *Collector) Start() {
	if !c.cfg.Enabled {
		return
	}
	if _, err := os.Stat(filepath.Join(c.procRoot, "stat")); err != nil {
		log.Printf("[Metrics] Disabled: %v", ErrUnsupported)
		return
	}

	interval := time.Duration(c.cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.Collect(); err != nil && !errors.Is(err, os.ErrNotExist) {
					log.Printf("[Metrics] Failed to collect: %v", err)
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// Collect takes one sample of the running server. It returns nil when no server is running.
func (c *Collector) Collect() (*Sample, error) {
	pid := c.source.PID()
	if pid <= 0 {
		c.mu.Lock()
		c.latest = nil
		c.mu.Unlock()
		return nil, nil
	}

	now := time.Now()
	stat, err := c.readProcessStat(pid)
	if err != nil {
		return nil, err
	}
	total, err := c.readTotalCPU()
	if err != nil {
		return nil, err
	}

	sample := &Sample{
		InstanceID: c.source.InstanceID(),
		PID:        pid,
		MemoryRSS:  stat.rssBytes,
		Threads:    stat.threads,
		Timestamp:  now.UTC(),
	}
	if usage, ok := c.calculateCPUUsage(pid, stat.cpuTicks, total, now); ok {
		sample.CPUUsage = &usage
	}

	c.mu.Lock()
	c.latest = sample
	c.mu.Unlock()

	if err := c.recordSample(sample); err != nil {
		log.Printf("[Metrics] Failed to record sample: %v", err)
	}
	c.cleanupOldMetrics(now)
	return sample, nil
}

// Latest returns the most recent sample of the running server, if any
func (c *Collector) Latest() *Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	s := *c.latest
	return &s
}

// Recent lists stored samples, newest first
func (c *Collector) Recent(limit int) ([]Sample, error) {
	if c.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 240
	}

	rows, err := c.db.Query(`
		SELECT instance_id, pid, cpu_usage, memory_rss, threads, timestamp
		FROM server_metrics
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var cpu sql.NullFloat64
		if err := rows.Scan(&s.InstanceID, &s.PID, &cpu, &s.MemoryRSS, &s.Threads, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		if cpu.Valid {
			v := cpu.Float64
			s.CPUUsage = &v
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (c *Collector) calculateCPUUsage(pid int, process, total float64, now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.cpuSample
	c.cpuSample = cpuSample{pid: pid, process: process, total: total, timestamp: now}
	if prev.pid != pid || prev.timestamp.IsZero() {
		return 0, false
	}

	deltaProcess := process - prev.process
	deltaTotal := total - prev.total
	if deltaTotal <= 0 || deltaProcess < 0 {
		return 0, false
	}

	usage := deltaProcess * 100 / deltaTotal
	if usage > 100 {
		usage = 100
	}
	return usage, true
}

func (c *Collector) recordSample(s *Sample) error {
	if c.db == nil {
		return nil
	}

	var cpu any
	if s.CPUUsage != nil {
		cpu = *s.CPUUsage
	}
	_, err := c.db.Exec(`
		INSERT INTO server_metrics (instance_id, pid, cpu_usage, memory_rss, threads, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.InstanceID, s.PID, cpu, s.MemoryRSS, s.Threads, s.Timestamp)
	return err
}

func (c *Collector) cleanupOldMetrics(now time.Time) {
	if c.db == nil || c.cfg.RetentionDays <= 0 {
		return
	}

	c.mu.Lock()
	due := c.lastCleanup.IsZero() || now.Sub(c.lastCleanup) >= 6*time.Hour
	if due {
		c.lastCleanup = now
	}
	c.mu.Unlock()
	if !due {
		return
	}

	cutoff := now.Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour).UTC()
	_, _ = c.db.Exec("DELETE FROM server_metrics WHERE timestamp < ?", cutoff)
}

type processStat struct {
	cpuTicks float64
	rssBytes int64
	threads  int
}

// readProcessStat parses /proc/<pid>/stat and the VmRSS line of /proc/<pid>/status
func (c *Collector) readProcessStat(pid int) (processStat, error) {
	var st processStat

	data, err := os.ReadFile(filepath.Join(c.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return st, err
	}
	// The command name may contain spaces, so fields are counted after its closing paren
	line := string(data)
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return st, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(line[end+1:])
	if len(fields) < 18 {
		return st, fmt.Errorf("malformed stat for pid %d", pid)
	}
	utime, err1 := strconv.ParseFloat(fields[11], 64)
	stime, err2 := strconv.ParseFloat(fields[12], 64)
	threads, err3 := strconv.Atoi(fields[17])
	if err := errors.Join(err1, err2, err3); err != nil {
		return st, fmt.Errorf("malformed stat for pid %d: %w", pid, err)
	}
	st.cpuTicks = utime + stime
	st.threads = threads

	status, err := os.Open(filepath.Join(c.procRoot, strconv.Itoa(pid), "status"))
	if err != nil {
		return st, err
	}
	defer status.Close()

	scanner := bufio.NewScanner(status)
	for scanner.Scan() {
		text := scanner.Text()
		if !strings.HasPrefix(text, "VmRSS:") {
			continue
		}
		parts := strings.Fields(strings.TrimPrefix(text, "VmRSS:"))
		if len(parts) > 0 {
			kb, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return st, fmt.Errorf("malformed VmRSS for pid %d: %w", pid, err)
			}
			st.rssBytes = kb * 1024
		}
		break
	}
	return st, scanner.Err()
}

// readTotalCPU sums the jiffies of the aggregate cpu line of /proc/stat
func (c *Collector) readTotalCPU() (float64, error) {
	file, err := os.Open(filepath.Join(c.procRoot, "stat"))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		var total float64
		// guest and guest_nice are already part of user and nice
		for i, field := range fields[1:] {
			if i >= 8 {
				break
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return 0, fmt.Errorf("malformed /proc/stat: %w", err)
			}
			total += v
		}
		return total, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no cpu line in /proc/stat")
}
