// Package cron is the durable time-trigger service: a versioned job store,
// a single-timer firing loop, and missed-run recovery across restarts.
package cron

import "time"

// Wake modes decide when a due job actually reaches the agent.
const (
	WakeNow           = "now"
	WakeNextHeartbeat = "next-heartbeat"
)

// Session targets decide which lane a due job runs on.
const (
	TargetMain     = "main"
	TargetIsolated = "isolated"
)

// Run statuses for isolated-job history records.
const (
	RunStatusRunning = "running"
	RunStatusOK      = "ok"
	RunStatusError   = "error"
	RunStatusSkipped = "skipped"
)

// Schedule is the parsed trigger. Exactly one of At, Every, Cron is set.
type Schedule struct {
	At    *int64 `json:"at,omitempty"`    // epoch ms, one-shot
	Every *int64 `json:"every,omitempty"` // interval ms
	Cron  string `json:"cron,omitempty"`  // 5-field expression
	TZ    string `json:"tz,omitempty"`    // cron only; empty means local
}

// OneShot reports whether the schedule fires at most once.
func (s Schedule) OneShot() bool { return s.At != nil }

// Job is one persisted cron entry.
type Job struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Enabled       bool     `json:"enabled"`
	Schedule      Schedule `json:"schedule"`
	Message       string   `json:"message"`
	WakeMode      string   `json:"wakeMode"`
	SessionTarget string   `json:"sessionTarget"`
	Model         string   `json:"model,omitempty"`
	CreatedAtMs   int64    `json:"createdAtMs"`
	NextRunAtMs   *int64   `json:"nextRunAtMs,omitempty"`
	LastRunAtMs   *int64   `json:"lastRunAtMs,omitempty"`
	LastStatus    string   `json:"lastStatus,omitempty"`
	LastError     string   `json:"lastError,omitempty"`
	IsReminder    bool     `json:"isReminder,omitempty"`
	Delivery      string   `json:"delivery,omitempty"`
}

// RunRecord is one line of an isolated job's history file.
type RunRecord struct {
	JobID         string `json:"jobId"`
	JobName       string `json:"jobName"`
	StartedAtMs   int64  `json:"startedAtMs"`
	CompletedAtMs *int64 `json:"completedAtMs,omitempty"`
	Status        string `json:"status"`
	Summary       string `json:"summary,omitempty"`
	Error         string `json:"error,omitempty"`
	Model         string `json:"model,omitempty"`
}

func nowMs(t time.Time) int64 { return t.UnixMilli() }
