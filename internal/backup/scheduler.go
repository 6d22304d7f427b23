package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ZakirC4/papermc-setup/internal/server"
)

// Scheduler runs periodic backups and world saves on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]scheduleEntry
}

type scheduleEntry struct {
	id   cron.EntryID
	spec string
}

// ScheduledJob describes one registered schedule
type ScheduledJob struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler creates a scheduler in the local time zone
func NewScheduler() *Scheduler {
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		entries: make(map[string]scheduleEntry),
	}
}

// ScheduleBackups registers the backup job
func (s *Scheduler) ScheduleBackups(spec string, backups *BackupManager) error {
	return s.add("backup", spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := backups.CreateBackup(ctx, "scheduler"); err != nil {
			log.Printf("[BackupSchedule] Scheduled backup failed: %v", err)
		}
	})
}

// ScheduleSaves registers a periodic world save. Runs while the server is stopped are skipped.
func (s *Scheduler) ScheduleSaves(spec string, save func() error) error {
	return s.add("save", spec, func() {
		err := save()
		if err == nil || errors.Is(err, server.ErrNotRunning) {
			return
		}
		log.Printf("[BackupSchedule] Scheduled save failed: %v", err)
	})
}

func (s *Scheduler) add(name, spec string, job func()) error {
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("schedule %s already registered", name)
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	s.entries[name] = scheduleEntry{id: id, spec: spec}
	log.Printf("[BackupSchedule] Registered %s schedule %q", name, spec)
	return nil
}

// Jobs lists registered schedules with their next run time
func (s *Scheduler) Jobs() []ScheduledJob {
	jobs := make([]ScheduledJob, 0, len(s.entries))
	for name, e := range s.entries {
		jobs = append(jobs, ScheduledJob{Name: name, Schedule: e.spec, Next: s.cron.Entry(e.id).Next})
	}
	return jobs
}

// Start begins running schedules in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("[BackupSchedule] Gave up waiting for running jobs")
	}
}

// ValidateSchedule reports whether spec is a valid cron expression
func ValidateSchedule(spec string) error {
	_, err := scheduleParser.Parse(spec)
	return err
}
