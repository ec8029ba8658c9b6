package credential

import (
	"context"
	"fmt"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendBolt   Backend = "bolt"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend Backend
	File    FileStoreConfig
	Bolt    BoltStoreConfig
	Redis   RedisStoreConfig
}

// Open creates the configured store. An empty backend means BackendFile.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.File)
	case BackendBolt:
		return NewBoltStore(opts.Bolt)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	case BackendMemory:
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown credential backend %q", opts.Backend)
	}
}
