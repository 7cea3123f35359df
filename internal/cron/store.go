package cron

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const storeVersion = 1

// storeFile is the on-disk shape of cron.json.
type storeFile struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// Store persists the job list as <configDir>/cron.json and isolated-run
// history as <configDir>/cron-runs/<jobId>.jsonl.
type Store struct {
	mu      sync.Mutex
	path    string
	runsDir string
	jobs    []*Job
}

// OpenStore loads (or initializes) the cron store under configDir.
func OpenStore(configDir string) (*Store, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	s := &Store{
		path:    filepath.Join(configDir, "cron.json"),
		runsDir: filepath.Join(configDir, "cron-runs"),
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	var doc storeFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cron store: %w", err)
	}
	s.jobs = doc.Jobs
	return s, nil
}

// Jobs returns copies of all jobs.
func (s *Store) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out
}

// Get returns a copy of one job, or nil.
func (s *Store) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			cp := *j
			return &cp
		}
	}
	return nil
}

// Add appends a job and persists.
func (s *Store) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return s.saveLocked()
}

// Update applies a mutation to the job and persists. Returns false when the
// job does not exist.
func (s *Store) Update(id string, fn func(*Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			fn(j)
			return true, s.saveLocked()
		}
	}
	return false, nil
}

// Remove deletes a job and persists. Returns whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true, s.saveLocked()
		}
	}
	return false, nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Jobs: s.jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persist cron store: %w", err)
	}
	return nil
}

// AppendRun appends one record to the job's isolated-run history.
func (s *Store) AppendRun(rec RunRecord) error {
	if err := os.MkdirAll(s.runsDir, 0o755); err != nil {
		return fmt.Errorf("create cron-runs dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	path := filepath.Join(s.runsDir, rec.JobID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return fmt.Errorf("append run history: %w", err)
	}
	return nil
}

// ReadRuns returns the job's run history, oldest first.
func (s *Store) ReadRuns(jobID string) ([]RunRecord, error) {
	path := filepath.Join(s.runsDir, jobID+".jsonl")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	defer f.Close()

	var out []RunRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
