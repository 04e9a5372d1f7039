package inference

import (
	"context"
	"testing"

	"example/veritas-api/app/models"

	"github.com/stretchr/testify/assert"
)

func TestCacheKey(t *testing.T) {
	long := "https://example.com/article"
	short := "http://a.b"
	assert.Equal(t, "url:https://example.com/article", CacheKey(&long, "ignored"))
	// md5("hello")
	assert.Equal(t, "text:5d41402abc4b2a76b9719d911017c592", CacheKey(&short, "hello"))
	assert.Equal(t, "text:5d41402abc4b2a76b9719d911017c592", CacheKey(nil, "hello"))
}

func TestNilResultCacheIsMiss(t *testing.T) {
	var c *ResultCache
	assert.Nil(t, NewResultCache(nil, 0, "p"))
	_, ok := c.Get(context.Background(), nil, "text")
	assert.False(t, ok)
	c.Set(context.Background(), nil, "text", models.AnalysisResult{Score: 1})
}
