package inference

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"example/veritas-api/app/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ResultCache keeps completed results in Redis, keyed by page URL or by a
// hash of the text when no usable URL is given. A nil cache or a Redis error
// behaves as a miss.
type ResultCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewResultCache(rdb *redis.Client, ttl time.Duration, prefix string) *ResultCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{rdb: rdb, ttl: ttl, prefix: prefix}
}

// CacheKey uses the URL when it is longer than 10 characters and the MD5 of
// the text otherwise.
func CacheKey(url *string, text string) string {
	if url != nil && len(*url) > 10 {
		return "url:" + *url
	}
	sum := md5.Sum([]byte(text))
	return "text:" + hex.EncodeToString(sum[:])
}

func (c *ResultCache) key(url *string, text string) string {
	return c.prefix + ":" + CacheKey(url, text)
}

func (c *ResultCache) Get(ctx context.Context, url *string, text string) (models.AnalysisResult, bool) {
	if c == nil {
		return models.AnalysisResult{}, false
	}
	raw, err := c.rdb.Get(ctx, c.key(url, text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Ctx(ctx).Warn().Err(err).Msg("result cache read failed")
		}
		return models.AnalysisResult{}, false
	}
	res, err := models.DecodeAnalysisResult(raw)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("discarding invalid cached result")
		return models.AnalysisResult{}, false
	}
	return res, true
}

func (c *ResultCache) Set(ctx context.Context, url *string, text string, res models.AnalysisResult) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(url, text), raw, c.ttl).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("result cache write failed")
	}
}
