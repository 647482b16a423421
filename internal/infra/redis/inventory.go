package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// InventoryCache caches question pools in Redis and falls back to a loader on cache miss.
// Pools are stored as:     SET inventory:pool:{poolKey}   [questions...]
// Questions are stored as: SET inventory:question:{id}    question
type InventoryCache struct {
	client *redis.Client
	loader app.QuestionInventory
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewInventoryCache(client *redis.Client, loader app.QuestionInventory, ttl time.Duration) *InventoryCache {
	return &InventoryCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *InventoryCache) FindQuestions(ctx context.Context, topicIDs []string, difficulties []int) ([]domain.Question, error) {
	key := poolKey(memory.PoolKey(topicIDs, difficulties))
	if pool, ok := c.cachedPool(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := c.cachedPool(ctx, key); ok {
			return pool, nil
		}
		pool, err := c.loader.FindQuestions(ctx, topicIDs, difficulties)
		if err != nil {
			return nil, err
		}

		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		if raw, err := json.Marshal(pool); err == nil {
			pipe.Set(ctx, key, raw, ttl)
		}
		for _, q := range pool {
			if raw, err := json.Marshal(q); err == nil {
				pipe.Set(ctx, questionKey(q.ID), raw, ttl)
			}
		}
		_, _ = pipe.Exec(ctx)
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *InventoryCache) Lookup(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = questionKey(id)
	}
	var missing []string
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		missing = ids
	} else {
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var q domain.Question
			if err := json.Unmarshal([]byte(raw), &q); err != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = q
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	result, err, _ := c.sf.Do("lookup:"+strings.Join(missing, ","), func() (interface{}, error) {
		found, err := c.loader.Lookup(ctx, missing)
		if err != nil {
			return nil, err
		}
		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		for id, q := range found {
			if raw, err := json.Marshal(q); err == nil {
				pipe.Set(ctx, questionKey(id), raw, ttl)
			}
		}
		_, _ = pipe.Exec(ctx)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	for id, q := range result.(map[string]domain.Question) {
		out[id] = q
	}
	return out, nil
}

func (c *InventoryCache) cachedPool(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, false
	}
	return pool, true
}

// Invalidate drops every cached pool and question.
func (c *InventoryCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "inventory:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	err := c.client.Del(ctx, keys...).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func poolKey(key string) string {
	return "inventory:pool:" + key
}

func questionKey(id string) string {
	return "inventory:question:" + id
}

func (c *InventoryCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
