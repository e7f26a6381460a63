package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sampurr/internal/domain"
)

// MediaInfoCache keeps yt-dlp metadata lookups keyed by source URL.
type MediaInfoCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewMediaInfoCache(client *redis.Client, prefix string, ttl time.Duration) *MediaInfoCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &MediaInfoCache{client: client, prefix: normalizePrefix(prefix) + "media:", ttl: ttl}
}

func (c *MediaInfoCache) key(rawURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawURL)))
	return c.prefix + hex.EncodeToString(sum[:16])
}

func (c *MediaInfoCache) Get(ctx context.Context, rawURL string) (domain.MediaInfo, bool, error) {
	data, err := c.client.Get(ctx, c.key(rawURL)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MediaInfo{}, false, nil
		}
		return domain.MediaInfo{}, false, err
	}
	var info domain.MediaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.MediaInfo{}, false, err
	}
	return info, true, nil
}

func (c *MediaInfoCache) Set(ctx context.Context, rawURL string, info domain.MediaInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(rawURL), data, c.ttl).Err()
}

func (c *MediaInfoCache) Delete(ctx context.Context, rawURL string) error {
	return c.client.Del(ctx, c.key(rawURL)).Err()
}
