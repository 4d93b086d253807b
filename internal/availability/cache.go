package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// SlotCache stores computed slot lists per date and party size.
// Reads may be stale; writes invalidate the whole date.
type SlotCache interface {
	Get(ctx context.Context, date time.Time, partySize int) ([]time.Time, bool)
	Set(ctx context.Context, date time.Time, partySize int, slots []time.Time)
	Invalidate(ctx context.Context, date time.Time)
	// InvalidateAll drops every cached date, after table or weekly hours edits.
	InvalidateAll(ctx context.Context)
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, time.Time, int) ([]time.Time, bool) { return nil, false }
func (NopCache) Set(context.Context, time.Time, int, []time.Time)        {}
func (NopCache) Invalidate(context.Context, time.Time)                   {}
func (NopCache) InvalidateAll(context.Context)                           {}

// RedisCache keeps one hash per date with a field per party size, so
// invalidating a date is a single DEL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	loc *time.Location
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, loc *time.Location) *RedisCache {
	if loc == nil {
		loc = time.Local
	}
	return &RedisCache{rdb: rdb, ttl: ttl, loc: loc}
}

const keyPrefix = "tablebook:slots:"

func (c *RedisCache) key(date time.Time) string {
	return fmt.Sprintf("%s%s", keyPrefix, model.DateKey(date))
}

func (c *RedisCache) Get(ctx context.Context, date time.Time, partySize int) ([]time.Time, bool) {
	if c.rdb == nil || c.ttl <= 0 {
		return nil, false
	}
	val, err := c.rdb.HGet(ctx, c.key(date), strconv.Itoa(partySize)).Result()
	if err != nil {
		metrics.IncSlotCache("miss")
		return nil, false
	}
	var unix []int64
	if err := json.Unmarshal([]byte(val), &unix); err != nil {
		metrics.IncSlotCache("miss")
		return nil, false
	}
	slots := make([]time.Time, len(unix))
	for i, u := range unix {
		slots[i] = time.Unix(u, 0).In(c.loc)
	}
	metrics.IncSlotCache("hit")
	return slots, true
}

func (c *RedisCache) Set(ctx context.Context, date time.Time, partySize int, slots []time.Time) {
	if c.rdb == nil || c.ttl <= 0 {
		return
	}
	unix := make([]int64, len(slots))
	for i, s := range slots {
		unix[i] = s.Unix()
	}
	data, err := json.Marshal(unix)
	if err != nil {
		return
	}
	key := c.key(date)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(partySize), data)
	pipe.Expire(ctx, key, c.ttl)
	_, _ = pipe.Exec(ctx)
}

func (c *RedisCache) Invalidate(ctx context.Context, date time.Time) {
	if c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, c.key(date)).Err()
}

func (c *RedisCache) InvalidateAll(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			_ = c.rdb.Del(ctx, keys...).Err()
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}
