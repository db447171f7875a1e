package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) SaveMetadata(ctx context.Context, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := c.rdb.Set(ctx, metadataKey(meta.UploadID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (c *RedisCache) Metadata(ctx context.Context, uploadID string) (Metadata, error) {
	data, err := c.rdb.Get(ctx, metadataKey(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("get metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (c *RedisCache) MarkChunk(ctx context.Context, uploadID string, index int) (int, error) {
	var card *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, chunkKey(uploadID, index), chunkComplete, c.ttl)
		pipe.SAdd(ctx, chunksKey(uploadID), strconv.Itoa(index))
		pipe.Expire(ctx, chunksKey(uploadID), c.ttl)
		pipe.Expire(ctx, metadataKey(uploadID), c.ttl)
		card = pipe.SCard(ctx, chunksKey(uploadID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark chunk %d: %w", index, err)
	}

	count := int(card.Val())
	// the count key mirrors the set; readers never trust it over the set
	if err := c.rdb.Set(ctx, countKey(uploadID), count, c.ttl).Err(); err != nil {
		return 0, fmt.Errorf("update received count: %w", err)
	}
	return count, nil
}

func (c *RedisCache) ReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	members, err := c.rdb.SMembers(ctx, chunksKey(uploadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list received chunks: %w", err)
	}
	return parseIndices(members)
}

func (c *RedisCache) Clear(ctx context.Context, uploadID string) error {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, sessionPattern(uploadID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan session keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete session keys: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
