package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each document in a hash with version, doc and updated fields.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a redis-backed store. A positive ttl is refreshed on
// every write so abandoned rooms age out on their own.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) key(roomID string) string {
	return fmt.Sprintf("party:state:%s", roomID)
}

func (r *Redis) LoadState(ctx context.Context, roomID string) (*Record, error) {
	fields, err := r.client.HGetAll(ctx, r.key(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("room %s: bad version %q: %w", roomID, fields["version"], err)
	}
	rec := &Record{Doc: []byte(fields["doc"]), Version: version}
	if ms, err := strconv.ParseInt(fields["updated"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms)
	}
	return rec, nil
}

// SaveState compares and writes inside WATCH/MULTI. When another writer
// touches the key in between, the transaction aborts and the comparison is
// redone; every abort means some other write landed, so this terminates.
func (r *Redis) SaveState(ctx context.Context, roomID string, doc []byte, version int64) error {
	key := r.key(roomID)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && cur >= version {
			return ErrStaleWrite
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "version", version, "doc", doc, "updated", time.Now().UnixMilli())
			if r.ttl > 0 {
				p.Expire(ctx, key, r.ttl)
			}
			return nil
		})
		return err
	}

	for {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *Redis) DeleteState(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, r.key(roomID)).Err()
}
