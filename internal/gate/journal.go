package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/teemow/mailgate/internal/logging"
)

// Alerting thresholds for repeated suspicious attempts on one action.
const (
	AlertThreshold = 3
	AlertWindow    = 10 * time.Minute
)

// JournalEntry is one gated attempt.
type JournalEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Action     ActionType        `json:"action"`
	Args       map[string]string `json:"args"`
	Suspicious bool              `json:"suspicious"`
}

// JournalAlert is appended when suspicious attempts pile up.
type JournalAlert struct {
	Timestamp time.Time  `json:"timestamp"`
	Alert     bool       `json:"alert"`
	Action    ActionType `json:"action"`
	Count     int        `json:"count"`
	Message   string     `json:"message"`
}

// Journal appends gated attempts to a JSON lines file readable only by
// the owner.
type Journal struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	attempts map[ActionType][]time.Time
}

// NewJournal returns a journal writing to path. An empty path disables
// writing but alerts are still tracked.
func NewJournal(path string, now func() time.Time) *Journal {
	if now == nil {
		now = time.Now
	}
	return &Journal{
		path:     path,
		now:      now,
		attempts: make(map[ActionType][]time.Time),
	}
}

// Record journals an attempt of a. It reports whether an alert line was
// written as well.
func (j *Journal) Record(a Action, suspicious bool) (alerted bool, err error) {
	now := j.now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()

	lines := []any{JournalEntry{
		Timestamp:  now,
		Action:     a.Type(),
		Args:       MaskFields(a.Fields()),
		Suspicious: suspicious,
	}}

	if suspicious {
		recent := j.attempts[a.Type()][:0]
		for _, t := range j.attempts[a.Type()] {
			if now.Sub(t) < AlertWindow {
				recent = append(recent, t)
			}
		}
		recent = append(recent, now)
		j.attempts[a.Type()] = recent

		if len(recent) >= AlertThreshold {
			alerted = true
			lines = append(lines, JournalAlert{
				Timestamp: now,
				Alert:     true,
				Action:    a.Type(),
				Count:     len(recent),
				Message:   fmt.Sprintf("ALERT: %d suspicious attempts for action %s in last 10 minutes.", len(recent), a.Type()),
			})
		}
	}

	return alerted, j.append(lines)
}

func (j *Journal) append(lines []any) error {
	if j.path == "" {
		return nil
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open action journal: %w", err)
	}
	defer f.Close()

	// An existing file may have been created with a wider mode.
	_ = f.Chmod(0o600)

	enc := json.NewEncoder(f)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to write action journal: %w", err)
		}
	}
	return nil
}

// MaskFields renders fields for the journal. Addresses are hashed and
// free text is reduced to its length.
func MaskFields(fields []Field) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		switch f.Kind {
		case FieldAddress:
			out[f.Name] = logging.MaskEmails(f.Value)
		case FieldText:
			out[f.Name] = fmt.Sprintf("[%d chars]", len(f.Value))
		default:
			out[f.Name] = f.Value
		}
	}
	return out
}
