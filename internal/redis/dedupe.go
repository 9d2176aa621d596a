package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers inbound message ids so a redelivered webhook is handled once.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

// FirstSeen reports whether id is new and claims it.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, "inbound:msg:"+id, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe inbound message: %w", err)
	}
	return ok, nil
}

// Release forgets id so a redelivery of a message that failed is handled again.
func (d *Deduper) Release(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := d.client.Del(ctx, "inbound:msg:"+id).Err(); err != nil {
		return fmt.Errorf("release inbound message: %w", err)
	}
	return nil
}
