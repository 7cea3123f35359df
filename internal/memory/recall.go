// Package memory is the sqlite-backed recall collaborator: it stores short
// notes per chat and surfaces the most recent ones as a prompt prefix block.
package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/clawbridge/internal/store"
)

const (
	recallLimit = 8
	searchLimit = 10
)

// Store holds notes in a local SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the note database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'note',
		note TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Recall returns the "[Memory recall]" prompt block for a chat, or "" when
// the chat has no notes.
func (s *Store) Recall(chatID string) string {
	rows, err := s.db.Query(
		`SELECT note FROM notes WHERE chat_id = ? ORDER BY updated_at DESC, created_at DESC LIMIT ?`,
		chatID, recallLimit)
	if err != nil {
		return ""
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err == nil {
			notes = append(notes, n)
		}
	}
	if len(notes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[Memory recall]\n")
	for _, n := range notes {
		b.WriteString("- " + n + "\n")
	}
	b.WriteString("[/Memory recall]")
	return b.String()
}

// Instructions is the static prompt block that teaches the model the memory
// protocol. Like the spawn directive, a call must be the entire reply.
func (s *Store) Instructions() string {
	return `[Memory instructions]
To use long-term memory, reply with exactly one line:
/memory save <fact to remember>
/memory search <query>
/memory forget <text to match>
Any other text in the reply disables the call.`
}

// DetectCall applies the one-line rule to an assistant answer and returns the
// call body ("save …", "search …", "forget …") when it matches.
func (s *Store) DetectCall(answer string) (string, bool) {
	trimmed := strings.TrimSpace(answer)
	if !strings.HasPrefix(trimmed, "/memory ") || strings.ContainsRune(trimmed, '\n') {
		return "", false
	}
	call := strings.TrimSpace(strings.TrimPrefix(trimmed, "/memory "))
	if call == "" {
		return "", false
	}
	return call, true
}

// Execute runs one detected memory call and returns the text to feed back to
// the model.
func (s *Store) Execute(chatID, call string) (string, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(call), " ")
	arg = strings.TrimSpace(arg)

	switch verb {
	case "save":
		if arg == "" {
			return "", fmt.Errorf("nothing to save")
		}
		if err := s.insert(chatID, "note", arg); err != nil {
			return "", err
		}
		return "Saved.", nil

	case "search":
		if arg == "" {
			return "", fmt.Errorf("empty search query")
		}
		hits, err := s.search(chatID, arg)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "No matching notes.", nil
		}
		return "- " + strings.Join(hits, "\n- "), nil

	case "forget":
		if arg == "" {
			return "", fmt.Errorf("empty forget pattern")
		}
		res, err := s.db.Exec(`DELETE FROM notes WHERE chat_id = ? AND note LIKE ?`, chatID, "%"+arg+"%")
		if err != nil {
			return "", err
		}
		n, _ := res.RowsAffected()
		return fmt.Sprintf("Forgot %d note(s).", n), nil
	}
	return "", fmt.Errorf("unknown memory verb %q", verb)
}

// FlushSummary condenses a day of session log entries into one note. Invoked
// by /new before the session is dropped.
func (s *Store) FlushSummary(chatID string, entries []store.SessionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	firstUser := ""
	turns := 0
	for _, e := range entries {
		if e.ChatID != chatID {
			continue
		}
		if e.Role == "user" {
			turns++
			if firstUser == "" {
				firstUser = e.Text
			}
		}
	}
	if turns == 0 {
		return nil
	}
	if len(firstUser) > 120 {
		firstUser = firstUser[:120] + "…"
	}
	note := fmt.Sprintf("Session on %s (%d user turn(s)), started with: %s",
		s.now().UTC().Format("2006-01-02"), turns, firstUser)
	return s.insert(chatID, "session", note)
}

func (s *Store) insert(chatID, category, note string) error {
	ts := s.now().UnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO notes (id, chat_id, category, note, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), chatID, category, note, ts, ts)
	if err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

func (s *Store) search(chatID, query string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT note FROM notes WHERE chat_id = ? AND note LIKE ? ORDER BY updated_at DESC LIMIT ?`,
		chatID, "%"+query+"%", searchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err == nil {
			hits = append(hits, n)
		}
	}
	return hits, rows.Err()
}
