// Package cache keeps fetched remote actor documents in Redis so repeated
// inbound activities from the same actor do not refetch its profile.
package cache

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rabble:actor:"

var (
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabble_cache_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	Lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabble_cache_lookups_total",
		Help: "Actor document cache lookups by outcome",
	}, []string{"outcome"})
)

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			RedisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// Store caches raw actor documents keyed by actor URI. A Store without a
// client is valid and simply misses on every lookup.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to addr (host:port or a redis:// URL). Connection
// problems are logged and the store continues without a backend.
func NewStore(addr string, ttl time.Duration) *Store {
	s := &Store{ttl: ttl}
	if strings.TrimSpace(addr) == "" {
		log.Println("Cache: no redis address configured, actor documents will not be cached")
		return s
	}

	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			log.Printf("Cache: invalid redis url %q: %v (continuing without cache)", addr, err)
			return s
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(metricsHook{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Cache: redis connection warning: %v (continuing without cache)", err)
		client.Close()
		return s
	}

	log.Println("Cache: redis connected")
	s.client = client
	return s
}

func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// Get returns the cached document for uri, if any.
func (s *Store) Get(ctx context.Context, uri string) ([]byte, bool) {
	if !s.Enabled() {
		return nil, false
	}
	b, err := s.client.Get(ctx, keyPrefix+uri).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Cache: get %s failed: %v", uri, err)
		}
		Lookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	Lookups.WithLabelValues("hit").Inc()
	return b, true
}

func (s *Store) Set(ctx context.Context, uri string, doc []byte) {
	if !s.Enabled() {
		return
	}
	if err := s.client.Set(ctx, keyPrefix+uri, doc, s.ttl).Err(); err != nil {
		log.Printf("Cache: set %s failed: %v", uri, err)
	}
}

func (s *Store) Delete(ctx context.Context, uri string) {
	if !s.Enabled() {
		return
	}
	if err := s.client.Del(ctx, keyPrefix+uri).Err(); err != nil {
		log.Printf("Cache: delete %s failed: %v", uri, err)
	}
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Close()
}
