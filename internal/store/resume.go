// Package store holds the bridge's durable state: resume tokens, chat
// settings, the session log, and the cron job store.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ResumeToken pairs a CLI engine with its upstream session identifier.
type ResumeToken struct {
	Engine    string `json:"engine"`
	SessionID string `json:"sessionId"`
}

// ChatSettings are the per-chat toggles, applied immediately and read
// dynamically mid-session.
type ChatSettings struct {
	Streaming bool   `json:"streaming"`
	Verbose   bool   `json:"verbose"`
	Model     string `json:"model,omitempty"`
}

const resumeFileVersion = 1

// resumeFile is the on-disk document. Layout is load-bearing: existing
// deployments carry these files across upgrades.
type resumeFile struct {
	Version      int                     `json:"version"`
	Tokens       map[string]ResumeToken  `json:"tokens"`
	ActiveCLI    map[string]string       `json:"activeCli"`
	ChatSettings map[string]ChatSettings `json:"chatSettings"`
}

// ResumeStore is the durable mirror of resume tokens, per-chat active CLI
// and per-chat settings. Every mutation rewrites the whole file atomically.
type ResumeStore struct {
	mu   sync.RWMutex
	path string
	doc  resumeFile
}

// tokenKey builds the "<chatId>:<cli>" map key.
func tokenKey(chatID, cli string) string {
	return chatID + ":" + cli
}

// OpenResumeStore loads (or initializes) the store at
// <workspace>/.state/resume-tokens.json.
func OpenResumeStore(workspace string) (*ResumeStore, error) {
	dir := filepath.Join(workspace, ".state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &ResumeStore{
		path: filepath.Join(dir, "resume-tokens.json"),
		doc: resumeFile{
			Version:      resumeFileVersion,
			Tokens:       make(map[string]ResumeToken),
			ActiveCLI:    make(map[string]string),
			ChatSettings: make(map[string]ChatSettings),
		},
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume store: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse resume store: %w", err)
	}
	if s.doc.Tokens == nil {
		s.doc.Tokens = make(map[string]ResumeToken)
	}
	if s.doc.ActiveCLI == nil {
		s.doc.ActiveCLI = make(map[string]string)
	}
	if s.doc.ChatSettings == nil {
		s.doc.ChatSettings = make(map[string]ChatSettings)
	}
	return s, nil
}

// Token returns the resume token for (chat, cli), if one is recorded.
func (s *ResumeStore) Token(chatID, cli string) (ResumeToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.doc.Tokens[tokenKey(chatID, cli)]
	return tok, ok
}

// SetToken records the latest upstream session for (chat, cli) and persists.
func (s *ResumeStore) SetToken(chatID, cli, sessionID string) {
	s.mu.Lock()
	s.doc.Tokens[tokenKey(chatID, cli)] = ResumeToken{Engine: cli, SessionID: sessionID}
	s.persistLocked()
	s.mu.Unlock()
}

// ClearToken drops the resume token for (chat, cli).
func (s *ResumeStore) ClearToken(chatID, cli string) {
	s.mu.Lock()
	delete(s.doc.Tokens, tokenKey(chatID, cli))
	s.persistLocked()
	s.mu.Unlock()
}

// ActiveCLI returns the chat's active CLI, or fallback when unset.
func (s *ResumeStore) ActiveCLI(chatID, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cli, ok := s.doc.ActiveCLI[chatID]; ok && cli != "" {
		return cli
	}
	return fallback
}

// SetActiveCLI persists a chat's CLI selection.
func (s *ResumeStore) SetActiveCLI(chatID, cli string) {
	s.mu.Lock()
	s.doc.ActiveCLI[chatID] = cli
	s.persistLocked()
	s.mu.Unlock()
}

// Settings returns the chat's settings, zero-value when never modified.
func (s *ResumeStore) Settings(chatID string) ChatSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ChatSettings[chatID]
}

// UpdateSettings applies a mutation to the chat's settings and persists.
func (s *ResumeStore) UpdateSettings(chatID string, fn func(*ChatSettings)) ChatSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.doc.ChatSettings[chatID]
	fn(&cur)
	s.doc.ChatSettings[chatID] = cur
	s.persistLocked()
	return cur
}

// persistLocked rewrites the file atomically. Persistence errors are logged
// and swallowed; the next successful write self-heals the file.
func (s *ResumeStore) persistLocked() {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		slog.Error("marshal resume store", "error", err)
		return
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		slog.Error("persist resume store", "error", err, "path", s.path)
	}
}

// writeFileAtomic writes via temp file + rename so readers never see a
// partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
