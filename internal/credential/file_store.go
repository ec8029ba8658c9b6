package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"refsession/pkg/logging"
)

// DefaultStorageDir is the default directory, relative to the home
// directory, holding the session file.
const DefaultStorageDir = ".config/refsession/session"

const sessionFileName = "session.json"

// FileStoreConfig configures the file-backed store.
type FileStoreConfig struct {
	// Dir is the directory holding the session file.
	// Defaults to ~/.config/refsession/session
	Dir string

	// Watch enables external-change detection via fsnotify.
	Watch bool

	// PollInterval is the fallback polling interval when fsnotify is not
	// available.
	PollInterval time.Duration

	// Debounce is the quiet period after a file event before re-reading.
	Debounce time.Duration
}

// fileDocument is the on-disk layout: the two token keys, the user snapshot
// key, and bookkeeping about the writer.
type fileDocument struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserSnapshot `json:"user,omitempty"`
	Origin       string        `json:"origin"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// FileStore persists the credential as one JSON document replaced by
// atomic rename.
//
// SECURITY: the file holds bearer credentials.
//   - The directory is created 0700 and the file written 0600
//   - Token values are never logged, only the writer origin and subject
type FileStore struct {
	mu        sync.Mutex
	dir       string
	origin    string
	known     string // fingerprint of the last state written or observed
	closed    bool
	listeners listenerSet
	watcher   *fileWatcher
}

// NewFileStore creates the storage directory if needed and, when configured,
// starts watching it for writes by other processes.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	dir := cfg.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultStorageDir)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session storage directory: %w", err)
	}

	s := &FileStore{
		dir:    dir,
		origin: uuid.NewString(),
	}

	// Whatever is on disk at start-up is our baseline, not an external change.
	doc, err := s.readDocument()
	if err != nil {
		logging.Warn("CredentialStore", "Ignoring unreadable session file in %s: %v", dir, err)
	}
	s.known = fingerprint(doc)

	if cfg.Watch {
		s.watcher = newFileWatcher(fileWatcherConfig{
			Dir:          dir,
			FileName:     sessionFileName,
			PollInterval: cfg.PollInterval,
			Debounce:     cfg.Debounce,
			OnChange:     s.checkExternal,
		})
		s.watcher.Start()
	}

	return s, nil
}

// Origin implements Store.
func (s *FileStore) Origin() string { return s.origin }

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// Get implements Store. It always reads the file so writes from other
// processes are visible immediately.
func (s *FileStore) Get(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	doc, err := s.readDocument()
	if err != nil {
		return nil, err
	}
	return doc.credential(), nil
}

// Set implements Store.
func (s *FileStore) Set(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	doc := &fileDocument{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		User:         c.User,
		Origin:       s.origin,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.writeDocument(doc); err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "credential_store_failed",
			Outcome: "failure",
			Origin:  s.origin,
			Subject: c.Subject(),
			Reason:  err.Error(),
		})
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	s.known = fingerprint(doc)

	logging.Audit(logging.AuditEvent{
		Action:  "credential_stored",
		Outcome: "success",
		Origin:  s.origin,
		Subject: c.Subject(),
	})
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	hadSession := s.known != ""
	s.known = ""

	if hadSession || err == nil {
		logging.Audit(logging.AuditEvent{
			Action:  "credential_cleared",
			Outcome: "success",
			Origin:  s.origin,
		})
	}
	return nil
}

// OnExternalChange implements Store.
func (s *FileStore) OnExternalChange(listener ChangeListener) func() {
	return s.listeners.add(listener)
}

// Close stops the watcher. Stored data is left in place.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watcher := s.watcher
	s.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	return nil
}

// checkExternal re-reads the file and notifies listeners if it differs from
// the last state this instance wrote or observed.
func (s *FileStore) checkExternal() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	doc, err := s.readDocument()
	if err != nil {
		s.mu.Unlock()
		logging.Warn("CredentialStore", "Failed to read session file after change: %v", err)
		return
	}
	fp := fingerprint(doc)
	if fp == s.known {
		s.mu.Unlock()
		return
	}
	s.known = fp
	s.mu.Unlock()

	change := Change{Credential: doc.credential()}
	if doc != nil {
		change.Origin = doc.Origin
	}
	if change.Credential == nil {
		// The access token is gone: this context's view of the session is
		// now cleared as well.
		change.Cleared = true
		logging.Info("CredentialStore", "Session cleared by another context")
	} else {
		logging.Info("CredentialStore", "Session replaced by another context (origin=%s)", logging.TruncateID(change.Origin))
	}

	s.listeners.notify(change)
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, sessionFileName)
}

// readDocument returns nil when no session file exists. Caller holds s.mu.
func (s *FileStore) readDocument() (*fileDocument, error) {
	// #nosec G304 -- path is built from the configured directory and a constant name
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session file: %w", err)
	}
	return &doc, nil
}

// writeDocument writes to a temp file in the same directory and renames it
// over the session file, so readers see the old or the new document only.
func (s *FileStore) writeDocument(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path()); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// credential converts the document, treating a partial pair as absent.
func (d *fileDocument) credential() *Credential {
	if d == nil || d.AccessToken == "" || d.RefreshToken == "" {
		return nil
	}
	c := &Credential{
		AccessToken:  d.AccessToken,
		RefreshToken: d.RefreshToken,
		User:         d.User,
	}
	return c.Clone()
}

// fingerprint identifies the stored pair without keeping token values
// around. Absent and partial documents share the empty fingerprint.
func fingerprint(d *fileDocument) string {
	c := d.credential()
	if c == nil {
		return ""
	}
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
