package config

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)
var ctx = context.Background()

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

func GetRedisContext() context.Context {
	return ctx
}

func init() {
	godotenv.Load()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		// Redis is optional: helpers below degrade to no-ops when rdb is nil.
		return
	}
	rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis not reachable at %s: %v (continuing without cache)", addr, err)
		rdb = nil
		return
	}
	locker = redislock.New(rdb)
}

func GetRedisObject(key string, dest interface{}) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	err = json.Unmarshal([]byte(val), &dest)
	if err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(key string, obj interface{}, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err = rdb.Set(ctx, key, objInByte, exp).Err(); err != nil {
		return err
	}
	return nil
}

// GetRedisCounter atomically increments and returns the counter at key.
// A fresh key returns 1; callers treat that as "seed from database".
func GetRedisCounter(ctx context.Context, key string) (int64, error) {
	if rdb == nil {
		return 0, nil
	}
	result, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return result, nil
}

func RemoveRedisKey(keys ...string) error {
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// AcquireRedisLock obtains a distributed lock, waiting briefly when another
// holder has it. Returns nil lock when redis is not configured or the lock
// stays contended past the retry window; callers must tolerate that.
func AcquireRedisLock(ctx context.Context, key string, ttl time.Duration) (*redislock.Lock, error) {
	if locker == nil {
		return nil, nil
	}
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	}
	lock, err := locker.Obtain(ctx, key, ttl, opts)
	if err == redislock.ErrNotObtained {
		return nil, nil
	}
	return lock, err
}
