// Package subagents tracks background agent runs: their lifecycle, results
// awaiting injection into the parent conversation, and a disk snapshot that
// survives restarts.
package subagents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusStopped   = "stopped"
)

const (
	// DefaultKeepLast bounds terminal records retained per chat.
	DefaultKeepLast = 10
	// DefaultTTL is how long terminal records live before lazy purge.
	DefaultTTL = 6 * time.Hour
	// MaxActivePerChat caps concurrent non-terminal runs per chat.
	MaxActivePerChat = 4
)

// Record is one subagent run.
type Record struct {
	RunID           string     `json:"runId"`
	ChatID          string     `json:"chatId"`
	ParentSessionID string     `json:"parentSessionId,omitempty"`
	ChildSessionID  string     `json:"childSessionId,omitempty"`
	CLI             string     `json:"cli"`
	Task            string     `json:"task"`
	Label           string     `json:"label,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	ResultInjected  bool       `json:"resultInjected"`
}

// Terminal reports whether the record can no longer change state.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError || r.Status == StatusStopped
}

// SpawnOpts are the caller-supplied parameters for a new run.
type SpawnOpts struct {
	ChatID          string
	ParentSessionID string
	CLI             string
	Task            string
	Label           string
}

// Registry is the in-memory run table with a by-chat index. A single mutex
// guards everything.
// SnapshotFile is the registry's on-disk snapshot name. Fixed: existing
// deployments are read back under this name.
const SnapshotFile = "subagent-registry.json"

type Registry struct {
	mu     sync.Mutex
	runs   map[string]*Record
	byChat map[string][]string // insertion-ordered run ids
	path   string              // snapshot file, empty disables persistence
	now    func() time.Time
}

// NewRegistry creates a registry snapshotting to path. An existing snapshot
// is restored; a corrupt one is logged and ignored.
func NewRegistry(path string) *Registry {
	r := &Registry{
		runs:   make(map[string]*Record),
		byChat: make(map[string][]string),
		path:   path,
		now:    time.Now,
	}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := r.fromJSON(data); err != nil {
				slog.Warn("subagent registry snapshot corrupt, starting empty", "path", path, "error", err)
			}
		}
	}
	return r
}

// Spawn registers a queued run. Fails when the chat is at its active cap,
// leaving no partial record behind.
func (r *Registry) Spawn(opts SpawnOpts) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, id := range r.byChat[opts.ChatID] {
		if rec := r.runs[id]; rec != nil && !rec.Terminal() {
			active++
		}
	}
	if active >= MaxActivePerChat {
		return nil, fmt.Errorf("chat already has %d active subagents (max %d)", active, MaxActivePerChat)
	}

	rec := &Record{
		RunID:           uuid.NewString(),
		ChatID:          opts.ChatID,
		ParentSessionID: opts.ParentSessionID,
		CLI:             opts.CLI,
		Task:            opts.Task,
		Label:           opts.Label,
		Status:          StatusQueued,
		CreatedAt:       r.now(),
	}
	r.runs[rec.RunID] = rec
	r.byChat[opts.ChatID] = append(r.byChat[opts.ChatID], rec.RunID)
	return r.copyLocked(rec), nil
}

// Get returns a copy of the record, or nil.
func (r *Registry) Get(runID string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked(r.runs[runID])
}

// MarkRunning transitions queued→running and records the child session.
func (r *Registry) MarkRunning(runID, childSessionID string) {
	r.transition(runID, func(rec *Record) bool {
		if rec.Status != StatusQueued {
			return false
		}
		rec.Status = StatusRunning
		now := r.now()
		rec.StartedAt = &now
		rec.ChildSessionID = childSessionID
		return true
	})
}

// MarkCompleted transitions running→completed with the final result.
func (r *Registry) MarkCompleted(runID, result string) {
	r.transition(runID, func(rec *Record) bool {
		if rec.Terminal() {
			return false
		}
		rec.Status = StatusCompleted
		rec.Result = result
		now := r.now()
		rec.EndedAt = &now
		return true
	})
}

// MarkError transitions a non-terminal run to error.
func (r *Registry) MarkError(runID, errMsg string) {
	r.transition(runID, func(rec *Record) bool {
		if rec.Terminal() {
			return false
		}
		rec.Status = StatusError
		rec.Error = errMsg
		now := r.now()
		rec.EndedAt = &now
		return true
	})
}

// Stop transitions a non-terminal run to stopped. Returns whether it took.
func (r *Registry) Stop(runID string) bool {
	return r.transition(runID, func(rec *Record) bool {
		if rec.Terminal() {
			return false
		}
		rec.Status = StatusStopped
		now := r.now()
		rec.EndedAt = &now
		return true
	})
}

// StopAll stops every non-terminal run for the chat and returns the count.
func (r *Registry) StopAll(chatID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := r.now()
	for _, id := range r.byChat[chatID] {
		rec := r.runs[id]
		if rec == nil || rec.Terminal() {
			continue
		}
		rec.Status = StatusStopped
		rec.EndedAt = &now
		n++
	}
	return n
}

func (r *Registry) transition(runID string, apply func(*Record) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok {
		return false
	}
	if !apply(rec) {
		slog.Debug("subagent transition refused", "run", runID, "status", rec.Status)
		return false
	}
	return true
}

// ListByChat returns copies of all records for a chat, oldest first.
func (r *Registry) ListByChat(chatID string) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.byChat[chatID]))
	for _, id := range r.byChat[chatID] {
		if rec := r.runs[id]; rec != nil {
			out = append(out, r.copyLocked(rec))
		}
	}
	return out
}

// ListActive returns non-terminal records for the chat.
func (r *Registry) ListActive(chatID string) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Record
	for _, id := range r.byChat[chatID] {
		if rec := r.runs[id]; rec != nil && !rec.Terminal() {
			out = append(out, r.copyLocked(rec))
		}
	}
	return out
}

// GetPendingResults returns completed or errored records for the chat whose
// parent matches and whose results have not yet been injected. Pure read.
func (r *Registry) GetPendingResults(chatID, parentSessionID string) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Record
	for _, id := range r.byChat[chatID] {
		rec := r.runs[id]
		if rec == nil || rec.ResultInjected {
			continue
		}
		if rec.Status != StatusCompleted && rec.Status != StatusError {
			continue
		}
		if parentSessionID != "" && rec.ParentSessionID != "" && rec.ParentSessionID != parentSessionID {
			continue
		}
		out = append(out, r.copyLocked(rec))
	}
	return out
}

// MarkResultsInjected flips the injected flag for the given run ids.
func (r *Registry) MarkResultsInjected(runIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range runIDs {
		if rec, ok := r.runs[id]; ok {
			rec.ResultInjected = true
		}
	}
}

// Prune deletes the oldest terminal records for a chat beyond keepLast.
func (r *Registry) Prune(chatID string, keepLast int) {
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var terminal []string
	for _, id := range r.byChat[chatID] {
		if rec := r.runs[id]; rec != nil && rec.Terminal() {
			terminal = append(terminal, id)
		}
	}
	if len(terminal) <= keepLast {
		return
	}
	drop := make(map[string]bool, len(terminal)-keepLast)
	for _, id := range terminal[:len(terminal)-keepLast] {
		drop[id] = true
	}
	r.deleteLocked(chatID, drop)
}

// PruneExpired deletes terminal records older than ttl across all chats.
func (r *Registry) PruneExpired(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.byChat {
		drop := make(map[string]bool)
		for _, id := range r.byChat[chatID] {
			rec := r.runs[id]
			if rec != nil && rec.Terminal() && rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
				drop[id] = true
			}
		}
		if len(drop) > 0 {
			r.deleteLocked(chatID, drop)
		}
	}
}

func (r *Registry) deleteLocked(chatID string, drop map[string]bool) {
	kept := r.byChat[chatID][:0]
	for _, id := range r.byChat[chatID] {
		if drop[id] {
			delete(r.runs, id)
		} else {
			kept = append(kept, id)
		}
	}
	r.byChat[chatID] = kept
}

// snapshot is the persisted document shape.
type snapshot struct {
	Version int       `json:"version"`
	Runs    []*Record `json:"runs"`
}

// Persist writes the snapshot to disk. Errors are logged, not returned;
// the next persist self-heals.
func (r *Registry) Persist() {
	if r.path == "" {
		return
	}
	r.mu.Lock()
	data, err := r.toJSONLocked()
	r.mu.Unlock()
	if err != nil {
		slog.Error("marshal subagent registry", "error", err)
		return
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		slog.Error("persist subagent registry", "path", r.path, "error", err)
	}
}

func (r *Registry) toJSONLocked() ([]byte, error) {
	runs := make([]*Record, 0, len(r.runs))
	for _, rec := range r.runs {
		runs = append(runs, rec)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return json.MarshalIndent(snapshot{Version: 1, Runs: runs}, "", "  ")
}

// fromJSON restores a snapshot, rebuilding the by-chat index in creation
// order.
func (r *Registry) fromJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	sort.Slice(snap.Runs, func(i, j int) bool { return snap.Runs[i].CreatedAt.Before(snap.Runs[j].CreatedAt) })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = make(map[string]*Record, len(snap.Runs))
	r.byChat = make(map[string][]string)
	for _, rec := range snap.Runs {
		// runs that were live when the process died can never finish
		if !rec.Terminal() {
			rec.Status = StatusError
			rec.Error = "interrupted by gateway restart"
			now := r.now()
			rec.EndedAt = &now
		}
		r.runs[rec.RunID] = rec
		r.byChat[rec.ChatID] = append(r.byChat[rec.ChatID], rec.RunID)
	}
	return nil
}

func (r *Registry) copyLocked(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}
