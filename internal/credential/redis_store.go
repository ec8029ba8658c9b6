package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"refsession/pkg/logging"
)

// DefaultRedisKeyPrefix namespaces the session keys and change channel.
const DefaultRedisKeyPrefix = "refsession"

const (
	redisOpSet   = "set"
	redisOpClear = "clear"
)

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	// Client is an existing client. When nil one is created from Addr,
	// Password and DB and closed with the store.
	Client redis.UniversalClient

	Addr     string
	Password string
	DB       int

	// KeyPrefix defaults to DefaultRedisKeyPrefix.
	KeyPrefix string

	// CloseClient closes a caller-supplied Client on Close.
	CloseClient bool

	// Watch subscribes to the change channel so writes by other contexts
	// reach OnExternalChange listeners.
	Watch bool
}

// redisChange is the payload published on the change channel.
type redisChange struct {
	Origin string `json:"origin"`
	Op     string `json:"op"`
}

// RedisStore keeps the credential in Redis so several hosts can share one
// session. Writes are MULTI/EXEC transactions followed by a notification on
// <prefix>:changes.
type RedisStore struct {
	rdb         redis.UniversalClient
	closeClient bool
	prefix      string
	origin      string
	listeners   listenerSet

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRedisStore connects (when needed) and optionally subscribes to changes.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	rdb := cfg.Client
	closeClient := cfg.CloseClient
	if rdb == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redis address is required")
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		closeClient = true
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}

	s := &RedisStore{
		rdb:         rdb,
		closeClient: closeClient,
		prefix:      prefix,
		origin:      uuid.NewString(),
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		s.closeOwnedClient()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	if cfg.Watch {
		if err := s.subscribe(ctx); err != nil {
			s.closeOwnedClient()
			return nil, err
		}
	}
	return s, nil
}

// Origin implements Store.
func (s *RedisStore) Origin() string { return s.origin }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context) (*Credential, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	values, err := s.rdb.MGet(ctx, s.key("access_token"), s.key("refresh_token"), s.key("user")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential from redis: %w", err)
	}

	access, _ := values[0].(string)
	refresh, _ := values[1].(string)
	if access == "" || refresh == "" {
		return nil, nil
	}

	cred := &Credential{AccessToken: access, RefreshToken: refresh}
	if raw, ok := values[2].(string); ok && raw != "" {
		var user UserSnapshot
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user snapshot: %w", err)
		}
		cred.User = &user
	}
	return cred, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	var userData []byte
	if c.User != nil {
		data, err := json.Marshal(c.User)
		if err != nil {
			return fmt.Errorf("failed to marshal user snapshot: %w", err)
		}
		userData = data
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("access_token"), c.AccessToken, 0)
		pipe.Set(ctx, s.key("refresh_token"), c.RefreshToken, 0)
		if userData != nil {
			pipe.Set(ctx, s.key("user"), userData, 0)
		} else {
			pipe.Del(ctx, s.key("user"))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write credential to redis: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "credential_stored",
		Outcome: "success",
		Origin:  s.origin,
		Subject: c.Subject(),
	})
	s.announce(ctx, redisOpSet)
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	removed, err := s.rdb.Del(ctx, s.key("access_token"), s.key("refresh_token"), s.key("user")).Result()
	if err != nil {
		return fmt.Errorf("failed to clear credential in redis: %w", err)
	}
	if removed == 0 {
		return nil
	}

	logging.Audit(logging.AuditEvent{
		Action:  "credential_cleared",
		Outcome: "success",
		Origin:  s.origin,
	})
	s.announce(ctx, redisOpClear)
	return nil
}

// OnExternalChange implements Store.
func (s *RedisStore) OnExternalChange(listener ChangeListener) func() {
	return s.listeners.add(listener)
}

// Close stops the subscriber and closes the client when the store owns it.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		_ = s.pubsub.Close()
		<-s.done
	}
	return s.closeOwnedClient()
}

func (s *RedisStore) subscribe(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.key("changes"))
	// Wait for the subscription confirmation so no change published after
	// construction is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to session changes: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.pubsub = pubsub
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.receive(loopCtx, pubsub.Channel())
	return nil
}

func (s *RedisStore) receive(ctx context.Context, messages <-chan *redis.Message) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var change redisChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				logging.Warn("CredentialStore", "Ignoring malformed change notification: %v", err)
				continue
			}
			if change.Origin == s.origin {
				continue
			}
			s.handleRemote(ctx, change)
		}
	}
}

func (s *RedisStore) handleRemote(ctx context.Context, change redisChange) {
	switch change.Op {
	case redisOpClear:
		logging.Info("CredentialStore", "Session cleared by another context (origin=%s)", logging.TruncateID(change.Origin))
		s.listeners.notify(Change{Origin: change.Origin, Cleared: true})

	case redisOpSet:
		cred, err := s.Get(ctx)
		if err != nil {
			logging.Warn("CredentialStore", "Failed to read credential after remote change: %v", err)
			return
		}
		if cred == nil {
			// Cleared again before we got to read it; the clear notification
			// follows.
			return
		}
		logging.Info("CredentialStore", "Session replaced by another context (origin=%s)", logging.TruncateID(change.Origin))
		s.listeners.notify(Change{Origin: change.Origin, Credential: cred})

	default:
		logging.Debug("CredentialStore", "Ignoring unknown change op %q", change.Op)
	}
}

// announce publishes a change notification. Failure only delays other
// contexts until their next read, so it is logged and not returned.
func (s *RedisStore) announce(ctx context.Context, op string) {
	payload, err := json.Marshal(redisChange{Origin: s.origin, Op: op})
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, s.key("changes"), payload).Err(); err != nil {
		logging.Warn("CredentialStore", "Failed to publish session change: %v", err)
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) closeOwnedClient() error {
	if !s.closeClient {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
