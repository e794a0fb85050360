package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ConsentLogEntry is one append-only consent event.
type ConsentLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Scopes    []string  `json:"scopes"`
	Source    Source    `json:"source"`
}

// ConsentLog is the append-only consent history, stored as a JSON array.
type ConsentLog struct {
	mu   sync.Mutex
	path string
}

// NewConsentLog creates a consent log at path.
func NewConsentLog(path string) *ConsentLog {
	return &ConsentLog{path: path}
}

// Append adds an entry and rewrites the file atomically.
func (l *ConsentLog) Append(entry ConsentLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize consent log: %w", err)
	}
	return writeFileAtomic(l.path, data)
}

// Entries returns all recorded events, oldest first. A missing file is an empty log.
func (l *ConsentLog) Entries() ([]ConsentLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Clear deletes the history. Only explicit credential clearing calls this.
func (l *ConsentLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return removeFile(l.path)
}

func (l *ConsentLog) read() ([]ConsentLogEntry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read consent log: %w", err)
	}
	var entries []ConsentLogEntry
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse consent log: %w", err)
	}
	return entries, nil
}
