package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SubagentMeta tags a log entry with the subagent run it came from.
type SubagentMeta struct {
	RunID  string `json:"runId"`
	Label  string `json:"label,omitempty"`
	Status string `json:"status,omitempty"`
}

// LogMeta is the optional metadata envelope on a log entry.
type LogMeta struct {
	Subagent *SubagentMeta `json:"subagent,omitempty"`
}

// SessionLogEntry is one line of the daily conversation log.
type SessionLogEntry struct {
	Timestamp string   `json:"timestamp"`
	ChatID    string   `json:"chatId"`
	Role      string   `json:"role"` // user, assistant, system
	Text      string   `json:"text"`
	SessionID string   `json:"sessionId,omitempty"`
	CLI       string   `json:"cli,omitempty"`
	Meta      *LogMeta `json:"meta,omitempty"`
}

// SessionLog appends conversation entries to one JSONL file per UTC day
// under <workspace>/sessions/.
type SessionLog struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewSessionLog prepares the log directory.
func NewSessionLog(workspace string) (*SessionLog, error) {
	dir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionLog{dir: dir, now: time.Now}, nil
}

// Append writes one entry to today's file. The timestamp is filled in when
// the caller leaves it empty.
func (l *SessionLog) Append(entry SessionLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if entry.Timestamp == "" {
		entry.Timestamp = now.Format(time.RFC3339)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	path := filepath.Join(l.dir, now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

// ReadDay returns all entries logged on the given UTC date. Missing files
// yield an empty slice. Corrupt lines are skipped.
func (l *SessionLog) ReadDay(day time.Time) ([]SessionLogEntry, error) {
	path := filepath.Join(l.dir, day.UTC().Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var entries []SessionLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var e SessionLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
