package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// maxEntries caps the persisted collection; oldest entries are dropped
	// first once exceeded.
	maxEntries = 50

	maxQuestionChars = 100
	maxAnswerChars   = 200
)

// Entry is one persisted correction. Entries are immutable once written;
// the store only supports append and full clear.
type Entry struct {
	Timestamp   string `json:"timestamp"`
	Question    string `json:"question"`
	PriorAnswer string `json:"prior_answer"`
	Feedback    string `json:"feedback"`
	// Correction is the synthesized directive injected into future
	// conversations.
	Correction string `json:"correction"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store persists corrections as a single JSON array file shared by all
// sessions. Whole-document read-modify-write only; concurrent appends
// from separate processes race last-write-wins, an accepted tradeoff for
// advisory data.
type Store struct {
	path  string
	clock Clock

	mu sync.Mutex
}

// NewStore creates a store backed by the given file path. The file is
// created lazily on first append.
func NewStore(path string) *Store {
	return &Store{path: path, clock: realClock{}}
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(path string, clock Clock) *Store {
	return &Store{path: path, clock: clock}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// LoadAll returns every persisted entry in append order. A missing or
// unparseable file reads as empty memory, never as an error.
func (s *Store) LoadAll() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() []Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("feedback file is corrupt, treating as empty", "path", s.path, "error", err)
		return nil
	}
	return entries
}

// Append records a new correction, trimming the collection to the cap,
// and writes the whole file back atomically (write-temp-then-rename).
// The returned slice is the post-append collection; on write failure it
// reflects the in-memory state that could not be persisted and the error
// is non-nil.
func (s *Store) Append(feedbackText, question, priorAnswer string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := truncate(question, maxQuestionChars)
	entry := Entry{
		Timestamp:   s.clock.Now().UTC().Format(time.RFC3339),
		Question:    q,
		PriorAnswer: truncate(priorAnswer, maxAnswerChars),
		Feedback:    feedbackText,
		Correction:  fmt.Sprintf("When asked '%s', remember: %s", q, feedbackText),
	}

	entries := append(s.load(), entry)
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	if err := s.write(entries); err != nil {
		return entries, fmt.Errorf("persisting feedback: %w", err)
	}
	return entries, nil
}

func (s *Store) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".feedback-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Clear deletes the backing file. Clearing an already-empty store is
// success.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing feedback: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a multi-byte
// UTF-8 character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
