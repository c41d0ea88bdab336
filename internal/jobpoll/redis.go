package jobpoll

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures a topology-agnostic Redis connection.
type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
}

// NewRedisClient connects and pings. One address gives a standalone client,
// several a cluster client.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (goredis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// RedisRegistry stores each handle as a JSON string under prefix+provider:id
// with a TTL.
type RedisRegistry struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "contentpilot:job:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) keyFor(provider, id string) string {
	return r.prefix + provider + ":" + id
}

func (r *RedisRegistry) Put(ctx context.Context, h Handle) error {
	b, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "encode handle")
	}
	return r.client.Set(ctx, r.keyFor(h.Provider, h.ID), b, r.ttl).Err()
}

func (r *RedisRegistry) Get(ctx context.Context, provider, id string) (Handle, bool, error) {
	raw, err := r.client.Get(ctx, r.keyFor(provider, id)).Result()
	if errors.Is(err, goredis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, err
	}
	var h Handle
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return Handle{}, false, errors.Wrapf(err, "decode handle %s:%s", provider, id)
	}
	return h, true, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, provider, id string) error {
	return r.client.Del(ctx, r.keyFor(provider, id)).Err()
}

func (r *RedisRegistry) List(ctx context.Context) ([]Handle, error) {
	var (
		out    []Handle
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scan job handles")
		}
		for _, k := range keys {
			raw, err := r.client.Get(ctx, k).Result()
			if errors.Is(err, goredis.Nil) {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, err
			}
			var h Handle
			if err := json.Unmarshal([]byte(raw), &h); err != nil {
				continue
			}
			out = append(out, h)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortHandles(out)
	return out, nil
}
