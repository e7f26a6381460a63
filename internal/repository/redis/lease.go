package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"sampurr/internal/domain"
)

// releaseScript deletes the lease only when it is still held by owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ExtractionLease is a per-track lock shared by every server process that
// uses the same cache directory.
type ExtractionLease struct {
	client *redis.Client
	prefix string
}

func NewExtractionLease(client *redis.Client, prefix string) *ExtractionLease {
	return &ExtractionLease{client: client, prefix: normalizePrefix(prefix) + "lease:"}
}

func (l *ExtractionLease) key(id domain.TrackID) string {
	return l.prefix + string(id)
}

// Acquire takes the lease for id unless someone else holds it. It expires
// after ttl so a crashed holder cannot block the track forever.
func (l *ExtractionLease) Acquire(ctx context.Context, id domain.TrackID, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key(id), owner, ttl).Result()
}

func (l *ExtractionLease) Release(ctx context.Context, id domain.TrackID, owner string) error {
	return releaseScript.Run(ctx, l.client, []string{l.key(id)}, owner).Err()
}

func (l *ExtractionLease) Held(ctx context.Context, id domain.TrackID) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
