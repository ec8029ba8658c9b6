package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"refsession/pkg/logging"
)

var (
	bucketSession = []byte("session")

	keyAccessToken  = []byte("access_token")
	keyRefreshToken = []byte("refresh_token")
	keyUser         = []byte("user")
)

// BoltStoreConfig configures the bbolt-backed store.
type BoltStoreConfig struct {
	// Path is the database file. Defaults to
	// ~/.config/refsession/session/session.db
	Path string

	// OpenTimeout bounds how long Open waits for the file lock held by
	// another process.
	OpenTimeout time.Duration
}

// BoltStore keeps the credential in a bbolt database, one key per field in
// a single bucket. bbolt holds an exclusive file lock for the lifetime of the
// store, so no other process can modify the data underneath it and
// OnExternalChange listeners are never called.
type BoltStore struct {
	db        *bbolt.DB
	origin    string
	listeners listenerSet

	mu     sync.Mutex
	closed bool
}

// NewBoltStore opens (creating if needed) the database and its bucket.
func NewBoltStore(cfg BoltStoreConfig) (*BoltStore, error) {
	path := cfg.Path
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, DefaultStorageDir, "session.db")
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	return &BoltStore{db: db, origin: uuid.NewString()}, nil
}

// Origin implements Store.
func (s *BoltStore) Origin() string { return s.origin }

// Get implements Store.
func (s *BoltStore) Get(ctx context.Context) (*Credential, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var cred *Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSession)
		if bucket == nil {
			return fmt.Errorf("session bucket not found")
		}

		access := bucket.Get(keyAccessToken)
		refresh := bucket.Get(keyRefreshToken)
		if len(access) == 0 || len(refresh) == 0 {
			return nil
		}

		cred = &Credential{
			AccessToken:  string(access),
			RefreshToken: string(refresh),
		}
		if data := bucket.Get(keyUser); len(data) > 0 {
			var user UserSnapshot
			if err := json.Unmarshal(data, &user); err != nil {
				return fmt.Errorf("failed to unmarshal user snapshot: %w", err)
			}
			cred.User = &user
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Set implements Store. All three keys are written in one transaction.
func (s *BoltStore) Set(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSession)
		if bucket == nil {
			return fmt.Errorf("session bucket not found")
		}

		if err := bucket.Put(keyAccessToken, []byte(c.AccessToken)); err != nil {
			return fmt.Errorf("failed to save access token: %w", err)
		}
		if err := bucket.Put(keyRefreshToken, []byte(c.RefreshToken)); err != nil {
			return fmt.Errorf("failed to save refresh token: %w", err)
		}

		if c.User == nil {
			return bucket.Delete(keyUser)
		}
		data, err := json.Marshal(c.User)
		if err != nil {
			return fmt.Errorf("failed to marshal user snapshot: %w", err)
		}
		if err := bucket.Put(keyUser, data); err != nil {
			return fmt.Errorf("failed to save user snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Audit(logging.AuditEvent{
		Action:  "credential_stored",
		Outcome: "success",
		Origin:  s.origin,
		Subject: c.Subject(),
	})
	return nil
}

// Clear implements Store.
func (s *BoltStore) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	removed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSession)
		if bucket == nil {
			return fmt.Errorf("session bucket not found")
		}
		removed = bucket.Get(keyAccessToken) != nil
		for _, key := range [][]byte{keyAccessToken, keyRefreshToken, keyUser} {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if removed {
		logging.Audit(logging.AuditEvent{
			Action:  "credential_cleared",
			Outcome: "success",
			Origin:  s.origin,
		})
	}
	return nil
}

// OnExternalChange implements Store.
func (s *BoltStore) OnExternalChange(listener ChangeListener) func() {
	return s.listeners.add(listener)
}

// Close releases the database and its file lock.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BoltStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
