package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/alem-badges/internal/infrastructure/messaging"
)

// PubSub adapts Cache to messaging.RedisClient.
type PubSub struct {
	cache *Cache
	subs  []*redis.PubSub
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates a PubSub over cache. Closing it does not close cache.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish publishes message as is. Strings and byte slices are sent raw.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.cache.Client().Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels and forwards messages until ctx is done.
// The first Receive confirms the subscription so startup errors surface here.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.cache.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	p.subs = append(p.subs, sub)

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the subscriptions opened by this PubSub.
func (p *PubSub) Close() error {
	var errs []error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.subs = nil
	return errors.Join(errs...)
}
