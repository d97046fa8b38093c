package utils

import (
	"context"
	"errors"
	"reflect"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"github.com/go-sql-driver/mysql"
)

// check if id exists, scoped to engagement, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, engagementId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, engagementId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, engagementId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, engagementId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, engagementId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE engagement_id = ? AND $condition
// engagement_id can be blank for admin user
func ResourceCountWhere[T any](ctx context.Context, engagementId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if engagementId != "" {
		dbCtx = dbCtx.Where("engagement_id = ?", engagementId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// IsDuplicateKeyError reports whether err is a MySQL duplicate-entry error (1062).
// Used to map unique-index races into domain conflict errors.
func IsDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
