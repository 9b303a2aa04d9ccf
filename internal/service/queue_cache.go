package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coverletter-api/internal/dto"
	"github.com/noah-isme/coverletter-api/internal/observability"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// queueCache stores queue projections in Redis. A nil client disables caching.
type queueCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func newQueueCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *queueCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &queueCache{client: client, ttl: ttl, logger: logger}
}

func queueCacheKey(stage workflow.Stage, department string) string {
	dept := strings.ToLower(strings.TrimSpace(department))
	if dept == "" {
		dept = "_all"
	}
	return fmt.Sprintf("coverletter:queue:%s:%s", strings.ToLower(string(stage)), dept)
}

func (c *queueCache) get(ctx context.Context, stage workflow.Stage, department string) (dto.CoverLetterQueueResponse, bool) {
	if c.client == nil {
		return dto.CoverLetterQueueResponse{}, false
	}

	cached, err := c.client.Get(ctx, queueCacheKey(stage, department)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("failed to read queue cache")
		}
		observability.QueueCacheLookups().WithLabelValues("miss").Inc()
		return dto.CoverLetterQueueResponse{}, false
	}

	var response dto.CoverLetterQueueResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed queue cache entry")
		observability.QueueCacheLookups().WithLabelValues("miss").Inc()
		return dto.CoverLetterQueueResponse{}, false
	}

	observability.QueueCacheLookups().WithLabelValues("hit").Inc()
	return response, true
}

func (c *queueCache) set(ctx context.Context, response dto.CoverLetterQueueResponse) {
	if c.client == nil {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, queueCacheKey(response.Stage, response.Department), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to store queue cache")
	}
}

// invalidate drops the department scoped and the unscoped queue of every stage given.
func (c *queueCache) invalidate(ctx context.Context, department string, stages ...workflow.Stage) {
	if c.client == nil || len(stages) == 0 {
		return
	}

	keys := make([]string, 0, len(stages)*2)
	for _, stage := range stages {
		if !stage.Valid() {
			continue
		}
		keys = append(keys, queueCacheKey(stage, department), queueCacheKey(stage, ""))
	}
	if len(keys) == 0 {
		return
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to invalidate queue cache")
	}
}
