package dao

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/entity"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	ErrDBNotInitialized  = errors.New("gorm db is not initialized")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidName       = errors.New("invalid table name")
	ErrMissingSchema     = errors.New("columns must be provided when creating a new table")
	ErrSchemaMismatch    = errors.New("columns do not match the existing table")
	ErrTooManyColumns    = errors.New("too many columns for table")
	ErrNotFound          = errors.New("table or view does not exist")
	ErrDuplicateRemark   = errors.New("remark already exists")
	ErrAlreadyExists     = errors.New("record already exists")
	ErrInvalidTransition = errors.New("invalid experiment status transition")
	ErrEmptyParams       = errors.New("params are empty")

	// ErrRecordNotFound 单行查询未命中，等同于 gorm.ErrRecordNotFound
	ErrRecordNotFound = gorm.ErrRecordNotFound
)

func daoLogger() *slog.Logger {
	logger := config.EnsureLoggerInitialized()
	if logger == nil {
		return slog.Default()
	}
	return logger.With("layer", "dao")
}

// withContext 安全增加上下文
func withContext(dbConn *gorm.DB, ctx context.Context) (*gorm.DB, error) {
	if dbConn == nil {
		return nil, ErrDBNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return dbConn.WithContext(ctx), nil
}

// translateError 把 SQLite 唯一约束错误映射为包内的哨兵错误。
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	unique := errors.Is(err, gorm.ErrDuplicatedKey)
	if errors.As(err, &sqliteErr) {
		unique = unique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	if !unique {
		return err
	}
	if strings.Contains(err.Error(), ".remark") {
		return errors.Join(ErrDuplicateRemark, err)
	}
	return errors.Join(ErrAlreadyExists, err)
}

// IsConstraintError 判断是否为约束冲突（唯一、主键、CHECK 等）。
func IsConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrDuplicateRemark)
}

func quote(name string) string {
	return entity.QuoteIdent(name)
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}
