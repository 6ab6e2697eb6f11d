package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcommander/storyweaver/internal/storage"
)

type ResponseCache struct {
	storage storage.Storage
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type CachedResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func NewResponseCache(storage storage.Storage, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		storage: storage,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default().With("component", "response_cache"),
	}
}

// Key derives the cache key for one generation request
func (c *ResponseCache) Key(systemInstruction, userInstruction string, opts GenerateOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "SYSTEM:%s|USER:%s|T:%.3f|M:%d|J:%t",
		systemInstruction, userInstruction, opts.Temperature, opts.MaxTokens, opts.JSON)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ResponseCache) path(key string) string {
	return fmt.Sprintf("cache/responses/%s.json", key)
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	data, err := c.storage.Load(ctx, c.path(key))
	if err != nil {
		c.logger.Debug("cache miss - not found",
			"key", key)
		return "", false
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Error("cache miss - invalid data",
			"key", key,
			"error", err)
		return "", false
	}

	age := c.now().Sub(cached.Timestamp)
	if age > c.ttl {
		c.logger.Debug("cache miss - expired",
			"key", key,
			"age", age,
			"ttl", c.ttl)
		return "", false
	}

	c.logger.Debug("cache hit",
		"key", key,
		"age", age,
		"response_length", len(cached.Response))

	return cached.Response, true
}

func (c *ResponseCache) Set(ctx context.Context, key, response string) error {
	cached := CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshaling cached response: %w", err)
	}

	if err := c.storage.Save(ctx, c.path(key), data); err != nil {
		c.logger.Error("failed to save cache entry",
			"key", key,
			"error", err)
		return fmt.Errorf("saving cached response: %w", err)
	}

	return nil
}

// CachedGenerator serves repeated identical requests from a ResponseCache.
type CachedGenerator struct {
	TextGenerator
	cache  *ResponseCache
	logger *slog.Logger
}

func WithCache(generator TextGenerator, cache *ResponseCache) TextGenerator {
	return &CachedGenerator{
		TextGenerator: generator,
		cache:         cache,
		logger:        slog.Default().With("component", "cached_generator"),
	}
}

func (c *CachedGenerator) Generate(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	startTime := time.Now()
	key := c.cache.Key(systemInstruction, userInstruction, opts)

	if response, found := c.cache.Get(ctx, key); found {
		c.logger.Info("serving from cache",
			"key", key[:12],
			"response_length", len(response),
			"duration_ms", time.Since(startTime).Milliseconds())
		return response, nil
	}

	response, err := c.TextGenerator.Generate(ctx, systemInstruction, userInstruction, opts)
	if err != nil {
		return "", err
	}

	if cacheErr := c.cache.Set(ctx, key, response); cacheErr != nil {
		c.logger.Warn("failed to cache response",
			"error", cacheErr)
	}

	return response, nil
}
