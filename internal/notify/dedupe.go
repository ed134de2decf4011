package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkhub/internal/models"
)

// Deduper remembers which notifications were already sent.
type Deduper interface {
	// FirstSeen records key and reports whether it was new.
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// RedisDeduper shares seen keys between notification instances.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: "parkhub:notify:"}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, models.Transport("redis setnx", err)
	}
	return ok, nil
}

// MemoryDeduper keeps seen keys in process for ttl.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

// FailoverDeduper uses the primary store and switches to the fallback while
// the primary is failing. The primary is retried once per retryInterval.
type FailoverDeduper struct {
	primary       Deduper
	fallback      Deduper
	logger        *zerolog.Logger
	retryInterval time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverDeduper(primary, fallback Deduper, logger *zerolog.Logger) *FailoverDeduper {
	return &FailoverDeduper{
		primary:       primary,
		fallback:      fallback,
		logger:        logger,
		retryInterval: time.Minute,
	}
}

func (d *FailoverDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	if d.isDown.Load() && !d.shouldRetry() {
		return d.fallback.FirstSeen(ctx, key)
	}

	ok, err := d.primary.FirstSeen(ctx, key)
	if err == nil {
		if d.isDown.CompareAndSwap(true, false) {
			d.logger.Info().Msg("dedupe store recovered")
		}
		return ok, nil
	}

	if !d.isDown.Swap(true) {
		d.logger.Warn().Err(err).Msg("dedupe store unavailable, using in-memory fallback")
	}
	d.mu.Lock()
	d.lastCheck = time.Now()
	d.mu.Unlock()
	return d.fallback.FirstSeen(ctx, key)
}

func (d *FailoverDeduper) shouldRetry() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastCheck) >= d.retryInterval
}
