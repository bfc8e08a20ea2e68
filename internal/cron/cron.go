// Package cron fires supervisor actions on a schedule: restarting a miner every
// night, or switching the donation mode for part of the day.
package cron

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/process"
	rcron "github.com/robfig/cron/v3"
)

// Actions is what a job can drive. *supervisor.Supervisor implements it.
type Actions interface {
	Start(k process.Kind) error
	Stop(k process.Kind) error
	Restart(k process.Kind) error
	Runtime() *config.Runtime
}

// Job is one parsed [[schedule]] entry.
type Job struct {
	Name     string
	Schedule string
	sched    rcron.Schedule
	run      func() error
}

// Entry is a job and its next activation, for status output.
type Entry struct {
	Name string    `json:"name"`
	Cron string    `json:"cron"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

var parser = rcron.NewParser(rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// NewJob validates sc and binds it to a.
func NewJob(a Actions, sc config.ScheduleConfig) (*Job, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	sched, err := parser.Parse(strings.TrimSpace(sc.Cron))
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", sc.Cron, err)
	}
	j := &Job{Name: sc.Name, Schedule: sc.Cron, sched: sched}
	if j.Name == "" {
		j.Name = strings.TrimSpace(sc.Action + " " + sc.Kind)
	}

	action := strings.ToLower(sc.Action)
	if action == "mode" {
		j.run = func() error {
			rt := a.Runtime()
			s := rt.Get()
			if sc.Mode != "" {
				s.Mode = config.Mode(sc.Mode)
			}
			if sc.Amount != nil {
				s.Amount = *sc.Amount
			}
			if sc.Level != "" {
				s.Level = config.Tier(sc.Level)
			}
			return rt.Set(s)
		}
		return j, nil
	}
	k, ok := process.ParseKind(sc.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", sc.Kind)
	}
	switch action {
	case "start":
		j.run = func() error { return a.Start(k) }
	case "stop":
		j.run = func() error { return a.Stop(k) }
	case "restart":
		j.run = func() error { return a.Restart(k) }
	}
	return j, nil
}

// Scheduler runs jobs on a robfig/cron runner. A job still running when its next
// activation comes is skipped, and a panicking job is logged and recovered.
type Scheduler struct {
	c    *rcron.Cron
	log  *slog.Logger
	jobs []*Job
	ids  map[string]rcron.EntryID
}

// NewScheduler parses every entry; the first invalid one is returned as an error.
func NewScheduler(a Actions, specs []config.ScheduleConfig, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log}
	s := &Scheduler{
		c:   rcron.New(rcron.WithParser(parser), rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl)), rcron.WithLogger(cl)),
		log: log,
		ids: map[string]rcron.EntryID{},
	}
	var errs []error
	for i, sc := range specs {
		j, err := NewJob(a, sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, err))
			continue
		}
		if _, dup := s.ids[j.Name]; dup {
			errs = append(errs, fmt.Errorf("schedule[%d]: duplicate name %q", i, j.Name))
			continue
		}
		s.jobs = append(s.jobs, j)
		s.ids[j.Name] = s.c.Schedule(j.sched, rcron.FuncJob(func() { s.fire(j) }))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) fire(j *Job) {
	if err := j.run(); err != nil {
		s.log.Warn("scheduled action failed", "job", j.Name, "error", err)
		return
	}
	s.log.Info("scheduled action fired", "job", j.Name)
}

// RunNow fires the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return j.run()
		}
	}
	return fmt.Errorf("no scheduled job %q", name)
}

func (s *Scheduler) Len() int { return len(s.jobs) }

func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the runner and waits for running jobs to return.
func (s *Scheduler) Stop() { <-s.c.Stop().Done() }

// Entries lists jobs with their next activation.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.c.Entry(s.ids[j.Name])
		next := e.Next
		if next.IsZero() {
			next = j.sched.Next(time.Now())
		}
		out = append(out, Entry{Name: j.Name, Cron: j.Schedule, Next: next, Prev: e.Prev})
	}
	return out
}

// cronLogger adapts slog to the robfig/cron logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }
func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
