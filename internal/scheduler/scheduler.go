// Package scheduler arms durable cron jobs and feeds their fires back into
// the message pipeline as synthesized inbound messages.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	robcron "github.com/robfig/cron/v3"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/logging"
	"amightyclaw/internal/store"
)

var ErrUnknownJob = errors.New("unknown cron job")

// parser accepts standard 5-field expressions plus @descriptors. Expressions
// are validated here and otherwise treated as opaque.
var parser = robcron.NewParser(
	robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow | robcron.Descriptor,
)

// Validate reports whether expression is an acceptable schedule.
func Validate(expression string) error {
	_, err := parser.Parse(strings.TrimSpace(expression))
	return err
}

// Scheduler keeps the DB job table and the live timer set consistent: every
// mutation updates both under one mutex, so a removed or disabled job can
// never fire afterwards. Missed fires during downtime are not replayed.
type Scheduler struct {
	store *store.Store
	bus   *bus.Bus
	log   *slog.Logger

	mu      sync.Mutex
	cron    *robcron.Cron
	entries map[string]robcron.EntryID
	started bool
}

func New(st *store.Store, b *bus.Bus) *Scheduler {
	return &Scheduler{
		store:   st,
		bus:     b,
		log:     logging.New("scheduler"),
		cron:    robcron.New(robcron.WithParser(parser)),
		entries: make(map[string]robcron.EntryID),
	}
}

// Start arms all enabled jobs from the store and begins running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.store.ListCronJobs()
	if err != nil {
		return fmt.Errorf("load cron jobs: %w", err)
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.armLocked(job); err != nil {
			s.log.Warn("skipping unarmable job", "job", job.Name, "error", err)
		}
	}
	s.cron.Start()
	s.started = true
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.started = false
	}
}

// AddJob validates the expression, persists the job, and arms it.
func (s *Scheduler) AddJob(name, expression, message, profile string) (store.CronJob, error) {
	if err := Validate(expression); err != nil {
		return store.CronJob{}, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.store.CreateCronJob(name, expression, message, profile)
	if err != nil {
		return store.CronJob{}, err
	}
	if err := s.armLocked(job); err != nil {
		// Keep storage consistent with the timer set.
		_ = s.store.DeleteCronJob(job.Name)
		return store.CronJob{}, err
	}
	return job, nil
}

func (s *Scheduler) ListJobs() ([]store.CronJob, error) {
	return s.store.ListCronJobs()
}

func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(name)
	if err := s.store.DeleteCronJob(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownJob, name)
		}
		return err
	}
	return nil
}

func (s *Scheduler) ToggleJob(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SetCronJobEnabled(name, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownJob, name)
		}
		return err
	}
	if !enabled {
		s.disarmLocked(name)
		return nil
	}
	if _, armed := s.entries[name]; armed {
		return nil
	}
	job, err := s.store.GetCronJob(name)
	if err != nil {
		return err
	}
	return s.armLocked(job)
}

// ArmedJobs reports which jobs currently have a live timer.
func (s *Scheduler) ArmedJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) armLocked(job store.CronJob) error {
	name := job.Name
	id, err := s.cron.AddFunc(job.Expression, func() { s.fire(name) })
	if err != nil {
		return err
	}
	s.entries[name] = id
	return nil
}

func (s *Scheduler) disarmLocked(name string) {
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// fire re-reads the job so edits between arming and firing take effect, then
// synthesizes an inbound message on the scheduler channel. Handler errors
// are logged; the timer stays armed.
func (s *Scheduler) fire(name string) {
	job, err := s.store.GetCronJob(name)
	if err != nil {
		s.log.Warn("fired job no longer exists", "job", name, "error", err)
		return
	}
	if !job.Enabled {
		return
	}
	if err := s.store.StampCronRun(name); err != nil {
		s.log.Warn("stamp last_run failed", "job", name, "error", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindInbound, Inbound: &bus.Inbound{
		ConversationID: "cron:" + name,
		Channel:        "scheduler",
		Profile:        job.Profile,
		Content:        job.Message,
	}})
	s.log.Info("cron job fired", "job", name)
}
