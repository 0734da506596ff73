package basket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "basket:"

// RedisStore keeps basket snapshots as JSON with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

func (s *RedisStore) GetBasket(ctx context.Context, id string) (*cart.Cart, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cart.ErrBasketNotFound
		}
		return nil, apperr.Wrap(apperr.KindInternal, err, "load basket %s", id)
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "decode basket %s", id)
	}
	return &c, nil
}

func (s *RedisStore) SaveBasket(ctx context.Context, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "encode basket %s", c.ID)
	}
	if err := s.client.Set(ctx, key(c.ID), data, s.ttl).Err(); err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "save basket %s", c.ID)
	}
	return nil
}

func (s *RedisStore) DeleteBasket(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "delete basket %s", id)
	}
	return nil
}
