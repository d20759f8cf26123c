package assessor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/observability"
)

const cacheKeyPrefix = "sastrank:assessment:v1:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cached remembers usable assessments in Redis so that re-running the same
// report does not call the model again. Redis failures count as a miss.
type Cached struct {
	next    Assessor
	rdb     redis.Cmdable
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCached wraps next. A zero ttl stores entries without expiry.
func NewCached(next Assessor, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		next:    next,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger.Named("assessor.cache"),
		metrics: metrics,
	}
}

// Assess serves a cached opinion when there is one and otherwise delegates.
// Fallback scores are never stored.
func (c *Cached) Assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) *schemas.ExternalScore {
	key := CacheKey(f, h)

	if cached, ok := c.lookup(ctx, key); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		return cached
	}
	c.metrics.RecordCacheLookup(ctx, false)

	ext := c.next.Assess(ctx, f, h)
	if !ext.IsUsable() {
		return ext
	}

	payload, err := json.Marshal(ext)
	if err != nil {
		c.logger.Warn("Failed to encode assessment for cache.", zap.String("finding_id", f.ID), zap.Error(err))
		return ext
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to store assessment in cache.", zap.String("finding_id", f.ID), zap.Error(err))
	}
	return ext
}

func (c *Cached) lookup(ctx context.Context, key string) (*schemas.ExternalScore, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Assessment cache lookup failed, treating as miss.", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var ext schemas.ExternalScore
	if err := json.Unmarshal(raw, &ext); err != nil || !ext.IsUsable() {
		c.logger.Warn("Discarding unreadable cache entry.", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	ext.Source = schemas.SourceCache
	return &ext, true
}

// CacheKey identifies an assessment by the finding ID and a digest of every
// field that goes into the prompt.
func CacheKey(f schemas.Finding, h schemas.HeuristicScore) string {
	d := sha1.New()
	for _, field := range []string{
		f.Tool, f.RuleID, f.Category, f.ConfidenceRaw, string(f.Confidence),
		f.FilePath, strconv.Itoa(f.LineStart), f.Message, f.CodeContext,
		f.CommitSHA, f.Author, f.CommitDate,
		string(h.Severity), strconv.FormatFloat(h.NormalizedScore, 'f', 4, 64),
	} {
		d.Write([]byte(field))
		d.Write([]byte{0})
	}
	return cacheKeyPrefix + f.ID + ":" + hex.EncodeToString(d.Sum(nil))
}

// OpenRedis connects to the Redis instance at url and checks that it answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
