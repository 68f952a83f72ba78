package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// delete only when we still own the key, so an expired lock taken over by
// another replica is never released from here
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// Redis implements the lock with SET NX and a TTL. The TTL guards against a
// crashed holder; it should comfortably exceed the dispatch budget.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owner  string
}

func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func (r *Redis) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", r.key, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", r.key, err)
	}
	return nil
}
