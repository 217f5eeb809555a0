package kv

import (
	"context"
	"fmt"
)

const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	PebbleDir string
	Redis     RedisOptions
}

// Open returns the configured backend. An empty backend means memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewInMemoryStore(), nil
	case BackendPebble:
		if opts.PebbleDir == "" {
			return nil, fmt.Errorf("pebble backend needs a directory")
		}
		return NewPebbleStore(opts.PebbleDir)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
