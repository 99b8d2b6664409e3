// Package mirror copies presence transitions into Redis so other services can
// look users up without talking to relayd.
package mirror

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
)

const keyPrefix = "relay:presence:"

// Key returns the Redis key holding user's presence.
func Key(user int64) string { return keyPrefix + strconv.FormatInt(user, 10) }

// KV is the subset of Redis the mirror needs.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// Mirror subscribes to presence.* events and writes one key per online user.
// Keys carry a TTL and are refreshed while the user stays online, so a crashed
// daemon's users expire on their own.
type Mirror struct {
	kv      KV
	bus     *bus.Bus
	online  func() []int64
	owner   string
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a mirror. owner is stored as the key value; online lists the
// currently connected users for TTL refresh.
func New(kv KV, b *bus.Bus, online func() []int64, owner string, ttl time.Duration, logger *zap.Logger) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mirror{kv: kv, bus: b, online: online, owner: owner, ttl: ttl, timeout: 2 * time.Second, logger: logger}
}

// Start begins consuming events and refreshing keys.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("presence.", 256)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unsub()

		ticker := time.NewTicker(m.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				m.handleEvent(ctx, evt)
			case <-ticker.C:
				m.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the consumer and waits for it.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Mirror) handleEvent(ctx context.Context, evt bus.Event) {
	p, ok := evt.Payload.(bus.PresenceChanged)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var err error
	if p.Online {
		err = m.kv.Set(ctx, Key(p.UserID), m.owner, m.ttl)
	} else {
		err = m.kv.Del(ctx, Key(p.UserID))
	}
	if err != nil {
		m.logger.Warn("mirror presence failed",
			zap.Int64("user_id", p.UserID),
			zap.Bool("online", p.Online),
			zap.Error(err),
		)
	}
}

// Refresh rewrites the key of every online user, renewing its TTL.
func (m *Mirror) Refresh(ctx context.Context) {
	if m.online == nil {
		return
	}
	for _, user := range m.online() {
		wctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.kv.Set(wctx, Key(user), m.owner, m.ttl)
		cancel()
		if err != nil {
			m.logger.Warn("refresh presence failed", zap.Int64("user_id", user), zap.Error(err))
			return
		}
	}
}

// Lookup reports which daemon holds user, if any.
func (m *Mirror) Lookup(ctx context.Context, user int64) (owner string, online bool, err error) {
	return m.kv.Get(ctx, Key(user))
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	Client *redis.Client
}

// NewRedisKV connects to addr and verifies the server answers PING.
func NewRedisKV(ctx context.Context, addr, password string, db int) (*RedisKV, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &RedisKV{Client: c}, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Close releases the client.
func (r *RedisKV) Close() error {
	return r.Client.Close()
}
