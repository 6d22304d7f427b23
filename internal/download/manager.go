package download

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/provision"
)

// ErrJobNotFound is returned for unknown job IDs
var ErrJobNotFound = errors.New("download job not found")

// JobKind identifies what a job downloads
type JobKind string

const (
	KindServer JobKind = "server"
	KindPlugin JobKind = "plugin"
)

// JobStatus is the lifecycle status of a job
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusFailed   JobStatus = "failed"
	StatusComplete JobStatus = "complete"
)

// Job is one server or plugin download
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Target      string     `json:"target"`
	URL         string     `json:"url"`
	Destination string     `json:"destination"`
	Status      JobStatus  `json:"status"`
	Progress    Progress   `json:"progress"`
	SHA256      string     `json:"sha256,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Output      []string   `json:"output"`
	Error       string     `json:"error,omitempty"`

	done chan struct{}
}

// Finished reports whether the job reached a terminal status
func (j *Job) Finished() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// StreamEvent is delivered to job subscribers
type StreamEvent struct {
	Event string `json:"event"` // "log", "progress" or "status"
	Data  any    `json:"data"`
}

// Manager runs download jobs and tracks their progress
type Manager struct {
	downloads  config.DownloadsConfig
	serverDir  string
	executable string
	javaArgs   []string
	catalog    *Catalog
	downloader *Downloader
	db         *sql.DB

	mu   sync.Mutex
	jobs map[string]*Job
	subs map[string]map[chan StreamEvent]struct{}
}

// NewManager creates a download manager. db may be nil.
func NewManager(cfg *config.Config, db *sql.DB) *Manager {
	return &Manager{
		downloads:  cfg.Downloads,
		serverDir:  cfg.Storage.ServerDir,
		executable: cfg.Game.Executable,
		javaArgs:   cfg.Game.JavaArgs,
		catalog:    NewCatalog(cfg.Downloads.Plugins),
		downloader: NewDownloader(cfg.Downloads.TimeoutDuration(), cfg.Downloads.UserAgent),
		db:         db,
		jobs:       make(map[string]*Job),
		subs:       make(map[string]map[chan StreamEvent]struct{}),
	}
}

// Catalog returns the plugin catalog
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// ServerJarPath returns where the server jar is stored
func (m *Manager) ServerJarPath() string {
	if filepath.IsAbs(m.executable) {
		return m.executable
	}
	return filepath.Join(m.serverDir, m.executable)
}

// PluginPath returns where a plugin jar is stored
func (m *Manager) PluginPath(name string) string {
	return filepath.Join(m.serverDir, provision.PluginsDir, name+".jar")
}

// SubmitServer queues a download of the server jar followed by EULA and start script provisioning
func (m *Manager) SubmitServer(createdBy string) (*Job, error) {
	if m.downloads.ServerURL == "" {
		return nil, fmt.Errorf("no server download url configured")
	}
	return m.submit(KindServer, "paper", m.downloads.ServerURL, m.ServerJarPath(), createdBy), nil
}

// SubmitPlugin queues a plugin download from the catalog
func (m *Manager) SubmitPlugin(name, createdBy string) (*Job, error) {
	key, url, err := m.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	return m.submit(KindPlugin, key, url, m.PluginPath(key), createdBy), nil
}

func (m *Manager) submit(kind JobKind, target, url, dest, createdBy string) *Job {
	job := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Target:      target,
		URL:         url,
		Destination: dest,
		Status:      StatusQueued,
		Progress:    Progress{Percent: -1},
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
		Output:      []string{},
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.insertJob(job); err != nil {
		log.Printf("[Download] Failed to record job %s: %v", job.ID, err)
	}

	go m.run(job)
	return m.snapshot(job)
}

func (m *Manager) run(job *Job) {
	defer close(job.done)

	m.setStatus(job, StatusRunning, nil)
	m.appendOutput(job, fmt.Sprintf("Downloading %s from %s", job.Target, job.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := m.downloader.Fetch(ctx, job.URL, job.Destination, func(p Progress) {
		m.mu.Lock()
		job.Progress = p
		m.mu.Unlock()
		m.emit(job.ID, StreamEvent{Event: "progress", Data: p})
	})
	if err == nil && job.Kind == KindServer {
		err = VerifySHA256(result, m.downloads.ServerSHA256)
	}
	if err != nil {
		m.appendOutput(job, "Download failed: "+err.Error())
		m.setStatus(job, StatusFailed, err)
		return
	}

	m.mu.Lock()
	job.SHA256 = result.SHA256
	job.Progress.Bytes = result.Bytes
	m.mu.Unlock()
	m.appendOutput(job, fmt.Sprintf("Saved %s (%d bytes, sha256 %s)", result.Path, result.Bytes, result.SHA256))

	if job.Kind == KindServer {
		if err := provision.Prepare(m.serverDir, filepath.Base(result.Path), m.javaArgs); err != nil {
			m.appendOutput(job, "Provisioning failed: "+err.Error())
			m.setStatus(job, StatusFailed, err)
			return
		}
		m.appendOutput(job, "Accepted EULA and wrote start script")
	}

	m.setStatus(job, StatusComplete, nil)
}

// GetJob returns a copy of a job
func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(job), nil
}

// ListJobs returns copies of the most recent jobs, newest first
func (m *Manager) ListJobs(limit int) []*Job {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	result := make([]*Job, len(jobs))
	for i, job := range jobs {
		result[i] = m.snapshot(job)
	}
	return result
}

// Wait blocks until the job finishes or ctx is done and returns its final state
func (m *Manager) Wait(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	final := m.snapshot(job)
	if final.Status == StatusFailed {
		return final, errors.New(final.Error)
	}
	return final, nil
}

// Subscribe streams events of one job. The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe(jobID string) (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, 64)
	m.mu.Lock()
	if _, ok := m.subs[jobID]; !ok {
		m.subs[jobID] = make(map[chan StreamEvent]struct{})
	}
	m.subs[jobID][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[jobID], ch)
			if len(m.subs[jobID]) == 0 {
				delete(m.subs, jobID)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// emit delivers to subscribers without blocking; slow subscribers miss intermediate events
func (m *Manager) emit(jobID string, event StreamEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range m.subs[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (m *Manager) appendOutput(job *Job, line string) {
	m.mu.Lock()
	job.Output = append(job.Output, line)
	m.mu.Unlock()
	log.Printf("[Download] %s: %s", job.Target, line)
	m.emit(job.ID, StreamEvent{Event: "log", Data: line})
}

func (m *Manager) setStatus(job *Job, status JobStatus, err error) {
	now := time.Now()
	m.mu.Lock()
	job.Status = status
	if status == StatusRunning {
		job.StartedAt = &now
	}
	if status == StatusFailed || status == StatusComplete {
		job.FinishedAt = &now
		if err != nil {
			job.Error = err.Error()
		}
	}
	m.mu.Unlock()
	m.emit(job.ID, StreamEvent{Event: "status", Data: string(status)})

	if err := m.updateJob(job); err != nil {
		log.Printf("[Download] Failed to update job %s: %v", job.ID, err)
	}
}

func (m *Manager) snapshot(job *Job) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	copied.Output = append([]string(nil), job.Output...)
	return &copied
}

func (m *Manager) insertJob(job *Job) error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`
		INSERT INTO download_jobs (id, kind, target, url, destination, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Kind, job.Target, job.URL, job.Destination, job.Status, job.CreatedBy, job.CreatedAt)
	return err
}

func (m *Manager) updateJob(job *Job) error {
	if m.db == nil {
		return nil
	}
	snap := m.snapshot(job)
	_, err := m.db.Exec(`
		UPDATE download_jobs
		SET status = ?, bytes = ?, sha256 = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, snap.Status, snap.Progress.Bytes, snap.SHA256, snap.Error, snap.FinishedAt, snap.ID)
	return err
}
