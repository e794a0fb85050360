package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/teemow/mailgate/internal/logging"
)

// Store persists the single credential record.
type Store interface {
	// Load returns the persisted record. Any failure wraps ErrNoCredential.
	Load() (*Record, error)
	// Save encrypts and persists r.
	Save(r *Record) error
	// Clear removes the persisted record. It is idempotent.
	Clear() error
}

// FileStore keeps the record encrypted in one file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	cipher *Cipher
	logger logging.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store at path. A nil cipher is allowed so that
// test mode can run without a key, but Save then fails with ErrMissingKey.
func NewFileStore(path string, c *Cipher, logger logging.Logger) *FileStore {
	return &FileStore{
		path:   path,
		cipher: c,
		logger: logging.OrDefault(logger),
	}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decrypts the record. It fails soft: the cause is logged
// and the returned error always wraps ErrNoCredential.
func (s *FileStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to load credential, re-authentication required",
				logging.Path(s.path), logging.Err(err))
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	return rec, nil
}

func (s *FileStore) load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if s.cipher == nil {
		return nil, ErrMissingKey
	}
	plaintext, err := s.cipher.Open(string(data))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save encrypts and atomically writes r with owner-only permissions.
// It never falls back to plaintext.
func (s *FileStore) Save(r *Record) error {
	if s.cipher == nil {
		return ErrMissingKey
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("refusing to save credential: %w", err)
	}
	plaintext, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}
	blob, err := s.cipher.Seal(plaintext)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, []byte(blob)); err != nil {
		return err
	}
	s.logger.Debug("Saved credential", logging.Path(s.path))
	return nil
}

// Clear deletes the credential file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}
