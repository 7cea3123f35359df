// Package scheduler runs bridge work on fixed-width FIFO lanes. The main
// lane serializes the human conversation, the subagent lane caps fan-out,
// and the cron lane keeps scheduled runs from contending with each other.
package scheduler

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Lane names.
const (
	LaneMain     = "main"
	LaneSubagent = "subagent"
	LaneCron     = "cron"
)

// LaneConfig maps lane name to worker count.
type LaneConfig map[string]int

// DefaultLanes returns the standard lane widths.
func DefaultLanes() LaneConfig {
	return LaneConfig{
		LaneMain:     1,
		LaneSubagent: 4,
		LaneCron:     1,
	}
}

// Task is one unit of lane work. Cancellation is the task's own business;
// the scheduler never interrupts a running task.
type Task func()

type lane struct {
	name  string
	tasks chan Task
}

// Scheduler owns the lanes and their workers. Enqueue order is execution
// order within a lane; there is no ordering across lanes.
type Scheduler struct {
	lanes map[string]*lane
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// queueDepth bounds how many tasks can wait per lane before Enqueue blocks.
// Deep enough that normal chat traffic never hits it.
const queueDepth = 256

// New starts the lane workers. Unknown widths (<1) are clamped to 1.
func New(cfg LaneConfig) *Scheduler {
	if len(cfg) == 0 {
		cfg = DefaultLanes()
	}
	s := &Scheduler{lanes: make(map[string]*lane, len(cfg))}
	for name, width := range cfg {
		if width < 1 {
			width = 1
		}
		l := &lane{name: name, tasks: make(chan Task, queueDepth)}
		s.lanes[name] = l
		for i := 0; i < width; i++ {
			s.wg.Add(1)
			go s.worker(l)
		}
	}
	return s
}

func (s *Scheduler) worker(l *lane) {
	defer s.wg.Done()
	for task := range l.tasks {
		s.runOne(l.name, task)
	}
}

// runOne isolates a task so a panic never takes the lane worker down.
func (s *Scheduler) runOne(laneName string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lane task panicked", "lane", laneName, "panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	task()
}

// Enqueue submits a task to a lane. Tasks run in submission order, at most
// width at a time. Unknown lanes and closed schedulers drop the task with a
// log line rather than panicking mid-shutdown.
func (s *Scheduler) Enqueue(laneName string, task Task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Warn("scheduler closed, dropping task", "lane", laneName)
		return
	}
	l, ok := s.lanes[laneName]
	s.mu.Unlock()

	if !ok {
		slog.Error("unknown lane, dropping task", "lane", laneName)
		return
	}
	l.tasks <- task
}

// Close stops accepting work and waits for in-flight and queued tasks to
// finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for _, l := range s.lanes {
		close(l.tasks)
	}
	s.wg.Wait()
}
