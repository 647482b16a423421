package memory

import (
	"context"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CachedInventory caches inventory reads with TTL to avoid repeated DB hits.
type CachedInventory struct {
	loader app.QuestionInventory
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu        sync.RWMutex
	rnd       *rand.Rand
	pools     map[string]cachedPool
	questions map[string]cachedQuestion
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewCachedInventory(loader app.QuestionInventory, ttl time.Duration) *CachedInventory {
	return &CachedInventory{
		loader:    loader,
		ttl:       ttl,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		pools:     make(map[string]cachedPool),
		questions: make(map[string]cachedQuestion),
	}
}

func (c *CachedInventory) FindQuestions(ctx context.Context, topicIDs []string, difficulties []int) ([]domain.Question, error) {
	key := PoolKey(topicIDs, difficulties)
	if pool, ok := c.cachedPool(key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do("pool:"+key, func() (interface{}, error) {
		if pool, ok := c.cachedPool(key); ok {
			return pool, nil
		}
		pool, err := c.loader.FindQuestions(ctx, topicIDs, difficulties)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		expiresAt := c.clock().Add(c.ttlWithJitterLocked())
		c.pools[key] = cachedPool{questions: pool, expiresAt: expiresAt}
		for _, q := range pool {
			c.questions[q.ID] = cachedQuestion{question: q, expiresAt: expiresAt}
		}
		c.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(result.([]domain.Question)), nil
}

func (c *CachedInventory) Lookup(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	now := c.clock()
	out := make(map[string]domain.Question, len(ids))
	var missing []string

	c.mu.RLock()
	for _, id := range ids {
		if entry, ok := c.questions[id]; ok && entry.expiresAt.After(now) {
			out[id] = entry.question
		} else {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()
	if len(missing) == 0 {
		return out, nil
	}

	result, err, _ := c.sf.Do("lookup:"+strings.Join(missing, ","), func() (interface{}, error) {
		found, err := c.loader.Lookup(ctx, missing)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		expiresAt := c.clock().Add(c.ttlWithJitterLocked())
		for id, q := range found {
			c.questions[id] = cachedQuestion{question: q, expiresAt: expiresAt}
		}
		c.mu.Unlock()
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

func (c *CachedInventory) cachedPool(key string) ([]domain.Question, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.pools[key]; ok && entry.expiresAt.After(now) {
		return slices.Clone(entry.questions), true
	}
	return nil, false
}

// ttlWithJitterLocked must be called with c.mu held for writing.
func (c *CachedInventory) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// PoolKey is a canonical cache key for a topic and difficulty filter.
func PoolKey(topicIDs []string, difficulties []int) string {
	topics := slices.Clone(topicIDs)
	slices.Sort(topics)
	topics = slices.Compact(topics)
	levels := slices.Clone(difficulties)
	slices.Sort(levels)
	levels = slices.Compact(levels)

	var b strings.Builder
	b.WriteString(strings.Join(topics, ","))
	b.WriteByte('|')
	for i, d := range levels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(d))
	}
	return b.String()
}
