package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "newshub:api:"

// Cache API 读缓存。每轮采集结束后整体失效，TTL 只是兜底
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// DialCache 连接 Redis；ping 失败只返回 error，由调用方决定是否降级为无缓存
func DialCache(addr string, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewCache(rdb, ttl), nil
}

// Get 命中时解码到 v；未命中或解码失败都按未命中处理
func (c *Cache) Get(ctx context.Context, key string, v any) bool {
	bs, err := c.rdb.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(bs, v) == nil
}

func (c *Cache) Set(ctx context.Context, key string, v any) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return c.rdb.Set(ctx, cachePrefix+key, bs, c.ttl).Err()
}

// Invalidate 删除本服务写入的全部缓存 key
func (c *Cache) Invalidate(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
