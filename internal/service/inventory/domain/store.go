package domain

import "time"

// Store 与 Product 是外部协作方实体，本核心只做存在性/可用性校验，
// 它们的完整生命周期由别的服务管理。

type Store struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

type Product struct {
	ID        string
	SKU       string
	Name      string
	CreatedAt time.Time
}
