package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the TTL only while the key still holds our token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures the Redis locker.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`

	// Prefix namespaces lock keys. Default: "tiermem:lease:"
	Prefix string `json:"prefix" yaml:"prefix"`

	// TTL is the lease lifetime. Held leases are renewed every TTL/3 so a
	// crashed holder frees the key after at most TTL. Default: 30s
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// PollInterval is the delay between acquisition attempts. Default: 50ms
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

func (cfg *RedisConfig) setDefaults() {
	if cfg.Prefix == "" {
		cfg.Prefix = "tiermem:lease:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
}

// Redis is a Locker shared by every process connected to the same Redis.
// Each lease is a key set with SET NX PX holding a random owner token.
type Redis struct {
	rdb        *goredis.Client
	cfg        RedisConfig
	ownsClient bool
}

var _ Locker = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("lease: missing redis address")
	}
	cfg.setDefaults()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lease: redis ping: %w", err)
	}
	return &Redis{rdb: rdb, cfg: cfg, ownsClient: true}, nil
}

// NewRedisWithClient uses an existing client. Close leaves it open.
func NewRedisWithClient(rdb *goredis.Client, cfg RedisConfig) *Redis {
	cfg.setDefaults()
	return &Redis{rdb: rdb, cfg: cfg}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	k := r.cfg.Prefix + key
	token := uuid.NewString()

	waitCtx, cancel := waitContext(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(waitCtx, k, token, r.cfg.TTL).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, acquireErr(ctx)
			}
			return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
		}
		if ok {
			return r.hold(k, token), nil
		}
		select {
		case <-waitCtx.Done():
			return nil, acquireErr(ctx)
		case <-ticker.C:
		}
	}
}

// hold renews the lease until released.
func (r *Redis) hold(k, token string) Release {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.cfg.TTL / 3)
		defer t.Stop()
		ttl := r.cfg.TTL.Milliseconds()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL/3)
				n, err := extendScript.Run(ctx, r.rdb, []string{k}, token, ttl).Int()
				cancel()
				if err == nil && n == 0 {
					// Lost the key; nothing left to renew.
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, r.rdb, []string{k}, token).Err()
		})
	}
}

// Close implements Locker.
func (r *Redis) Close() error {
	if r.ownsClient {
		return r.rdb.Close()
	}
	return nil
}
