package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/eventbooking/config"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only if it still carries the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache keeps searched offers per trace id and the per-session locks.
type RedisCache struct {
	client     redis.UniversalClient
	sessionTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, sessionTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}), sessionTTL)
}

func NewRedisCacheWithClient(client redis.UniversalClient, sessionTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, sessionTTL: sessionTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SaveFlightOffers(ctx context.Context, traceID string, offers []domain.FlightOffer) error {
	return c.set(ctx, offersKey(domain.ProductFlight, traceID), offers)
}

// FlightOffers returns nil, nil when the trace is unknown or expired, and
// ErrSessionConsumed once a booking was recorded for it.
func (c *RedisCache) FlightOffers(ctx context.Context, traceID string) ([]domain.FlightOffer, error) {
	if err := c.checkConsumed(ctx, domain.ProductFlight, traceID); err != nil {
		return nil, err
	}
	var offers []domain.FlightOffer
	found, err := c.get(ctx, offersKey(domain.ProductFlight, traceID), &offers)
	if err != nil || !found {
		return nil, err
	}
	return offers, nil
}

func (c *RedisCache) SaveRoomOffers(ctx context.Context, traceID string, offers []domain.RoomOffer) error {
	return c.set(ctx, offersKey(domain.ProductHotel, traceID), offers)
}

func (c *RedisCache) RoomOffers(ctx context.Context, traceID string) ([]domain.RoomOffer, error) {
	if err := c.checkConsumed(ctx, domain.ProductHotel, traceID); err != nil {
		return nil, err
	}
	var offers []domain.RoomOffer
	found, err := c.get(ctx, offersKey(domain.ProductHotel, traceID), &offers)
	if err != nil || !found {
		return nil, err
	}
	return offers, nil
}

func (c *RedisCache) ConsumeFlightSession(ctx context.Context, traceID string) error {
	return c.consume(ctx, domain.ProductFlight, traceID)
}

func (c *RedisCache) ConsumeRoomSession(ctx context.Context, traceID string) error {
	return c.consume(ctx, domain.ProductHotel, traceID)
}

// consume drops the stored offers and leaves a tombstone for the rest of the
// session ttl.
func (c *RedisCache) consume(ctx context.Context, product domain.ProductLine, traceID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, offersKey(product, traceID))
		pipe.Set(ctx, consumedKey(product, traceID), "1", c.sessionTTL)
		return nil
	})
	return err
}

func (c *RedisCache) checkConsumed(ctx context.Context, product domain.ProductLine, traceID string) error {
	n, err := c.client.Exists(ctx, consumedKey(product, traceID)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: trace %s", domain.ErrSessionConsumed, traceID)
	}
	return nil
}

// AcquireSessionLock returns a token to pass to ReleaseSessionLock, and false
// when another pipeline step already holds the session.
func (c *RedisCache) AcquireSessionLock(ctx context.Context, traceID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, sessionLockKey(traceID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (c *RedisCache) ReleaseSessionLock(ctx context.Context, traceID, token string) error {
	return unlockScript.Run(ctx, c.client, []string{sessionLockKey(traceID)}, token).Err()
}

func (c *RedisCache) set(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.sessionTTL).Err()
}

func (c *RedisCache) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func offersKey(product domain.ProductLine, traceID string) string {
	return fmt.Sprintf("cache:%s:offers:%s", product, traceID)
}

func consumedKey(product domain.ProductLine, traceID string) string {
	return fmt.Sprintf("cache:%s:consumed:%s", product, traceID)
}

func sessionLockKey(traceID string) string {
	return fmt.Sprintf("lock:session:%s", traceID)
}
