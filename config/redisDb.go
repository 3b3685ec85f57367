package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedis connects the shared Redis client and lock client. Redis is optional: an empty address
// leaves both nil and every helper below degrades to a no-op.
func ConnectRedis(ctx context.Context, addr string, attempts int) error {
	if addr == "" {
		logg.WithFields(logrus.Fields{"field": "Redis"}).Info("REDIS_ADDRESS not set; branch cache and cycle lock disabled")
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: "",
			DB:       0,
			PoolSize: 10,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			logg.WithFields(logrus.Fields{"field": "Redis", "addr": addr, "attempt": attempt}).Info("connected to redis")
			return nil
		}
		_ = client.Close()
		lastErr = err
		if attempt == attempts {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logg.WithFields(logrus.Fields{"field": "Redis", "addr": addr, "attempt": attempt}).
			Warn(fmt.Sprintf("failed to connect redis: %v; retrying in %s", err, sleep))
		if werr := sleepCtx(ctx, sleep); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("connect redis %s: %w", addr, lastErr)
}

// SetRedisClient replaces the shared client (tests, or callers that build their own).
func SetRedisClient(client *redis.Client) {
	rdb = client
	if client == nil {
		locker = nil
		return
	}
	locker = redislock.New(client)
}

func CloseRedis() {
	if rdb != nil {
		_ = rdb.Close()
	}
	rdb = nil
	locker = nil
}

func GetRedisObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, objInByte, exp).Err()
}

func RemoveRedisKey(ctx context.Context, keys ...string) error {
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// RedisLocker hands out single-instance job locks. When Redis is absent or failing the job runs
// unlocked; only a lock held by another instance stops it.
type RedisLocker struct {
	Client *redislock.Client
	Logger *logrus.Logger
}

func NewRedisLocker() *RedisLocker {
	return &RedisLocker{Client: locker, Logger: logg}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	noop := func() {}
	if l == nil || l.Client == nil {
		return noop, true, nil
	}
	lock, err := l.Client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return noop, false, nil
		}
		if l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{"field": "RedisLocker", "key": key}).Warn("lock unavailable, running unlocked: " + err.Error())
		}
		return noop, true, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := lock.Release(releaseCtx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) && l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{"field": "RedisLocker", "key": key}).Warn("release lock: " + rerr.Error())
		}
	}, true, nil
}
