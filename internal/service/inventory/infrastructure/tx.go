// internal/service/inventory/infrastructure/tx.go
package infrastructure

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// GormTxManager 把事务句柄塞进 context 往下传，
// 同一个 fn 里的所有仓储调用因此共享同一个数据库事务。
type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

func (m *GormTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// dbFromContext 取出当前事务句柄，不在事务内时退回普通连接。
// 仓储层统一走这个入口，读路径无需事务也能复用同一套实现。
func dbFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
