package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never removes a newer holder's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	client  redis.UniversalClient
	release *redis.Script
}

// NewRedis creates a Redis locker.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, release: redis.NewScript(releaseScript)}
}

// Acquire sets key to a fresh token if it is absent.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "lock: redis acquire %s", key)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLease{locker: r, key: key, token: token}, nil
}

type redisLease struct {
	locker *Redis
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := l.locker.release.Run(ctx, l.locker.client, []string{l.key}, l.token).Err(); err != nil {
		return eris.Wrapf(err, "lock: redis release %s", l.key)
	}
	return nil
}
