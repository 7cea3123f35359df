package cron

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// checkInterval is the idle wake period when no job is due sooner.
	checkInterval = 60 * time.Second

	// maxTimerMs is the largest timeout ever armed. Anything further is
	// reconsidered on a checkInterval wake.
	maxTimerMs = int64(1<<31 - 1)
)

// Handlers receive fired jobs. OnDue runs on the caller's main lane; OnIsolated
// carries the freshly created run record for a cron-lane session.
type Handlers struct {
	OnDue      func(job Job)
	OnIsolated func(job Job, rec RunRecord)
}

// Service owns the job store and the single firing timer.
type Service struct {
	store    *Store
	handlers Handlers

	mu        sync.Mutex
	heartbeat []Job // due jobs parked until the next user interaction
	firing    bool
	now       func() time.Time

	recalc chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewService wires the service to a store and handlers. Call Start to begin
// firing.
func NewService(store *Store, handlers Handlers) *Service {
	return &Service{
		store:    store,
		handlers: handlers,
		now:      time.Now,
		recalc:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start performs missed-run recovery and launches the firing loop.
func (s *Service) Start() {
	s.recover()
	go s.loop()
}

// Stop halts the firing loop. Jobs already handed to handlers are unaffected.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// recover collapses runs missed while the process was down into one catch-up
// fire per job, then recomputes every next-run from the schedule. Stored
// nextRunAtMs values are never trusted across restarts.
func (s *Service) recover() {
	now := s.now()
	for _, job := range s.store.Jobs() {
		if !job.Enabled {
			continue
		}
		after := job.CreatedAtMs
		if job.LastRunAtMs != nil {
			after = *job.LastRunAtMs
		}
		missed := job.Schedule.MissedBetween(after, nowMs(now))
		if len(missed) > 0 {
			latest := missed[len(missed)-1]
			slog.Info("cron: collapsing missed runs", "job", job.ID, "name", job.Name, "missed", len(missed))
			s.store.Update(job.ID, func(j *Job) {
				j.LastRunAtMs = &latest
			})
			if refreshed := s.store.Get(job.ID); refreshed != nil {
				s.fire(*refreshed, now)
			}
		}
		s.store.Update(job.ID, func(j *Job) {
			j.NextRunAtMs = j.Schedule.NextAfter(now)
		})
	}
}

func (s *Service) loop() {
	defer close(s.done)
	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.recalc:
		case <-timer.C:
			s.tick()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextDelay())
	}
}

// nextDelay is min(soonest nextRunAtMs − now, checkInterval), clamped.
func (s *Service) nextDelay() time.Duration {
	now := nowMs(s.now())
	delay := checkInterval.Milliseconds()
	for _, job := range s.store.Jobs() {
		if !job.Enabled || job.NextRunAtMs == nil {
			continue
		}
		if d := *job.NextRunAtMs - now; d < delay {
			delay = d
		}
	}
	if delay < 0 {
		delay = 0
	}
	if delay > maxTimerMs {
		delay = checkInterval.Milliseconds()
	}
	return time.Duration(delay) * time.Millisecond
}

// tick fires every due job. A running-flag keeps a slow fire from
// overlapping with the next wake.
func (s *Service) tick() {
	s.mu.Lock()
	if s.firing {
		s.mu.Unlock()
		return
	}
	s.firing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.firing = false
		s.mu.Unlock()
	}()

	now := s.now()
	for _, job := range s.store.Jobs() {
		if !job.Enabled || job.NextRunAtMs == nil || *job.NextRunAtMs > nowMs(now) {
			continue
		}
		s.fire(*job, now)
		ms := nowMs(now)
		s.store.Update(job.ID, func(j *Job) {
			j.LastRunAtMs = &ms
			// next fire is computed from now, not from the stale nextRunAtMs
			j.NextRunAtMs = j.Schedule.NextAfter(now)
		})
	}
}

// fire routes one due job by wake mode and session target.
func (s *Service) fire(job Job, now time.Time) {
	if job.WakeMode == WakeNextHeartbeat {
		s.mu.Lock()
		s.heartbeat = append(s.heartbeat, job)
		s.mu.Unlock()
		slog.Info("cron: job parked for next heartbeat", "job", job.ID, "name", job.Name)
		return
	}

	if job.SessionTarget == TargetIsolated {
		rec := RunRecord{
			JobID:       job.ID,
			JobName:     job.Name,
			StartedAtMs: nowMs(now),
			Status:      RunStatusRunning,
			Model:       job.Model,
		}
		if err := s.store.AppendRun(rec); err != nil {
			slog.Error("cron: append run record", "job", job.ID, "error", err)
		}
		if s.handlers.OnIsolated != nil {
			s.handlers.OnIsolated(job, rec)
		}
		return
	}

	if s.handlers.OnDue != nil {
		s.handlers.OnDue(job)
	}
}

// Park holds a due job for the next heartbeat drain. Used by the controller
// when a job fires before any chat exists to deliver it to.
func (s *Service) Park(job Job) {
	s.mu.Lock()
	s.heartbeat = append(s.heartbeat, job)
	s.mu.Unlock()
	slog.Info("cron: job parked, no chat to deliver to yet", "job", job.ID, "name", job.Name)
}

// TakeHeartbeatJobs drains the parked next-heartbeat jobs. Called by the
// controller on user interaction.
func (s *Service) TakeHeartbeatJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.heartbeat
	s.heartbeat = nil
	return jobs
}

// AddOpts are the optional knobs for a new job.
type AddOpts struct {
	WakeMode      string
	SessionTarget string
	Model         string
	IsReminder    bool
	Delivery      string
}

// Add creates and persists a job from the user-facing schedule syntax and
// re-arms the timer.
func (s *Service) Add(name, scheduleArg, message string, opts AddOpts) (*Job, error) {
	sched, err := ParseScheduleArg(scheduleArg)
	if err != nil {
		return nil, err
	}
	if opts.WakeMode == "" {
		opts.WakeMode = WakeNow
	}
	if opts.SessionTarget == "" {
		opts.SessionTarget = TargetMain
	}

	now := s.now()
	job := &Job{
		ID:            uuid.NewString(),
		Name:          name,
		Enabled:       true,
		Schedule:      sched,
		Message:       message,
		WakeMode:      opts.WakeMode,
		SessionTarget: opts.SessionTarget,
		Model:         opts.Model,
		CreatedAtMs:   nowMs(now),
		NextRunAtMs:   sched.NextAfter(now),
		IsReminder:    opts.IsReminder,
		Delivery:      opts.Delivery,
	}
	if err := s.store.Add(job); err != nil {
		return nil, err
	}
	s.rearm()
	return job, nil
}

// Remove deletes a job.
func (s *Service) Remove(id string) (bool, error) {
	ok, err := s.store.Remove(id)
	s.rearm()
	return ok, err
}

// SetEnabled flips a job on or off, recomputing its next run when enabling.
func (s *Service) SetEnabled(id string, enabled bool) (bool, error) {
	now := s.now()
	ok, err := s.store.Update(id, func(j *Job) {
		j.Enabled = enabled
		if enabled {
			j.NextRunAtMs = j.Schedule.NextAfter(now)
		} else {
			j.NextRunAtMs = nil
		}
	})
	s.rearm()
	return ok, err
}

// RunNow fires a job immediately, regardless of its schedule.
func (s *Service) RunNow(id string) error {
	job := s.store.Get(id)
	if job == nil {
		return fmt.Errorf("cron job %s not found", id)
	}
	now := s.now()
	s.fire(*job, now)
	ms := nowMs(now)
	s.store.Update(id, func(j *Job) {
		j.LastRunAtMs = &ms
	})
	return nil
}

// List returns all jobs.
func (s *Service) List() []*Job { return s.store.Jobs() }

// Get returns one job, or nil.
func (s *Service) Get(id string) *Job { return s.store.Get(id) }

// MarkJobResult records the outcome of a main-lane run.
func (s *Service) MarkJobResult(id string, runErr error) {
	s.store.Update(id, func(j *Job) {
		if runErr != nil {
			j.LastStatus = RunStatusError
			j.LastError = runErr.Error()
		} else {
			j.LastStatus = RunStatusOK
			j.LastError = ""
		}
	})
}

// CompleteIsolatedRun appends the terminal history record for an isolated
// run and updates the job's last status.
func (s *Service) CompleteIsolatedRun(rec RunRecord, summary string, runErr error) {
	ms := nowMs(s.now())
	rec.CompletedAtMs = &ms
	if runErr != nil {
		rec.Status = RunStatusError
		rec.Error = runErr.Error()
	} else {
		rec.Status = RunStatusOK
		rec.Summary = summary
	}
	if err := s.store.AppendRun(rec); err != nil {
		slog.Error("cron: append terminal run record", "job", rec.JobID, "error", err)
	}
	s.MarkJobResult(rec.JobID, runErr)
}

// rearm nudges the loop to recompute its timer.
func (s *Service) rearm() {
	select {
	case s.recalc <- struct{}{}:
	default:
	}
}
