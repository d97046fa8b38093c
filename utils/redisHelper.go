package utils

import (
	"context"
	"reflect"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
)

var mutex sync.Mutex

const sequenceLockTTL = 10 * time.Second

func GetTypeName[T any]() string {
	var model T
	return reflect.TypeOf(model).Name()
}

// GetSequence allocates the next sequence number for a model scoped to one
// engagement. The redis counter is the fast path; when the counter is fresh
// (or redis is down) the max sequence_no in the db seeds it. The db uniqueness
// re-check keeps allocation safe across processes.
//
// scope distinguishes independent number series sharing one table
// (adjustments vs reclassifications); cond narrows the db queries accordingly.
func GetSequence[T any](ctx context.Context, engagementId string, scope string, cond string, condArgs ...interface{}) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()
	cacheKey := engagementId + "-" + scope + "_seq"

	// Serialize allocators for the same series across processes. The local
	// mutex above covers the redis-less deployments the lock degrades to.
	lock, err := config.AcquireRedisLock(ctx, cacheKey+"_lock", sequenceLockTTL)
	if err != nil {
		return 0, err
	}
	if lock != nil {
		defer func() { _ = lock.Release(ctx) }()
	}

	var seqNo int64
	db := config.GetDB()

	for {
		seqNo, err = config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		// fresh counter (or no redis): seed from db max
		if seqNo <= 1 {
			var dbSeq *int64
			dbCtx := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
				Where("engagement_id = ?", engagementId)
			if cond != "" {
				dbCtx = dbCtx.Where(cond, condArgs...)
			}
			if err := dbCtx.Scan(&dbSeq).Error; err != nil {
				return 0, err
			}
			if dbSeq == nil {
				seqNo = 0
			} else {
				seqNo = *dbSeq
			}
			seqNo++
			if err := config.SetRedisObject(cacheKey, &seqNo, 0); err != nil {
				return 0, err
			}
		}
		// check if sequence number already exists in db
		uniqueCond := "sequence_no = ?"
		uniqueArgs := []interface{}{seqNo}
		if cond != "" {
			uniqueCond += " AND " + cond
			uniqueArgs = append(uniqueArgs, condArgs...)
		}
		count, err := ResourceCountWhere[T](ctx, engagementId, uniqueCond, uniqueArgs...)
		if err != nil {
			return 0, err
		}
		if count == 0 {
			break
		}
	}
	return seqNo, nil
}
