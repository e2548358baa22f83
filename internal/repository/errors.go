package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isDuplicateKey 唯一索引冲突
// 开启 TranslateError 后驱动会返回 gorm.ErrDuplicatedKey，旧版驱动只能按错误信息判断
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "Duplicate entry") || // mysql
		strings.Contains(msg, "duplicate key value") // postgres
}

func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
