package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"golang-matching-service/pkg/logger"
)

// DefaultLockTTL bounds how long a crashed run can block its target.
const DefaultLockTTL = 30 * time.Second

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a distributed guard built on SET NX with a TTL.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    logger.Logger
}

// NewRedis creates a Redis-backed guard. A zero ttl uses DefaultLockTTL.
func NewRedis(client redis.UniversalClient, keyPrefix string, ttl time.Duration, log logger.Logger) *Redis {
	if keyPrefix == "" {
		keyPrefix = "matcher:run:"
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    log.WithComponent("run_guard"),
	}
}

func (r *Redis) lockKey(tenantID, targetID string) string {
	return r.keyPrefix + Key(tenantID, targetID)
}

func (r *Redis) Acquire(ctx context.Context, tenantID, targetID string) (Release, error) {
	key := r.lockKey(tenantID, targetID)
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: acquire run guard")
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	r.logger.WithField("key", key).Debug("Acquired run guard")

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release on our own.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Int64(); err != nil {
				r.logger.WithError(err).WithField("key", key).Warn("Failed to release run guard")
			}
		})
	}, nil
}
