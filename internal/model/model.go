// Package model содержит доменные сущности сервиса playhost.
package model

import "time"

// Identity описывает подтверждённую личность вызывающего по данным провайдера аутентификации.
type Identity struct {
	Subject string
	Email   string
}

// User представляет пользователя, привязанного к внешней учётной записи.
type User struct {
	ID        int64     `json:"id"`
	AuthUUID  string    `json:"auth_uuid"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet содержит баланс игровой валюты пользователя.
type Wallet struct {
	UserID      int64
	Balance     int64
	Credits     int64
	TotalEarned int64
	UpdatedAt   time.Time
}

// TransactionType описывает тип записи в журнале операций.
type TransactionType string

const (
	TransactionCouponRedeem  TransactionType = "coupon_redeem"
	TransactionDailyClaim    TransactionType = "daily_claim"
	TransactionServerRenew   TransactionType = "server_renew"
	TransactionServerDeploy  TransactionType = "server_deploy"
	TransactionServerDeleted TransactionType = "server_deleted"
	TransactionStorePurchase TransactionType = "store_purchase"
)

// Transaction представляет запись журнала операций. Записи никогда не изменяются и не удаляются.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"-"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	ReferenceID *int64          `json:"reference_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Plan описывает тариф сервера: квоты ресурсов и цену.
type Plan struct {
	ID         int64  `json:"id"`
	SoftwareID *int64 `json:"software_id"`
	Name       string `json:"name"`
	RAM        int64  `json:"ram"`
	CPU        int64  `json:"cpu"`
	Disk       int64  `json:"disk"`
	Price      int64  `json:"price"`
	Active     bool   `json:"active"`
}

// Software описывает поддерживаемое серверное ПО и его идентификаторы в панели.
type Software struct {
	ID     int64
	Name   string
	Slug   string
	EggID  int64
	NestID int64
}

// ItemType описывает тип товара в магазине.
type ItemType string

const (
	ItemRAMBoost  ItemType = "ram_boost"
	ItemCPUBoost  ItemType = "cpu_boost"
	ItemDiskBoost ItemType = "disk_boost"
)

// IsServerBound сообщает, требует ли товар привязки к конкретному серверу.
func (t ItemType) IsServerBound() bool {
	return t == ItemRAMBoost || t == ItemCPUBoost || t == ItemDiskBoost
}

// StoreItem представляет товар магазина дополнений.
type StoreItem struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Type   ItemType       `json:"type"`
	Price  int64          `json:"price"`
	Config map[string]any `json:"config"`
	Active bool           `json:"-"`
}

// ConfigInt возвращает числовое значение из конфигурации товара.
// JSON-числа декодируются как float64, значения из БД могут прийти как int64.
func (i StoreItem) ConfigInt(key string) int64 {
	switch v := i.Config[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Coupon представляет промокод, начисляющий фиксированную сумму один раз на пользователя.
type Coupon struct {
	ID        int64
	Code      string
	Amount    int64
	Active    bool
	ExpiresAt *time.Time
	MaxUses   *int64
	UsedCount int64
}

// DailyClaim представляет факт получения ежедневной награды.
type DailyClaim struct {
	ID        int64
	UserID    int64
	Amount    int64
	ClaimedAt time.Time
}

// ServerStatus описывает состояние развёрнутого сервера. Значения зеркалируют состояния панели.
type ServerStatus string

const (
	ServerStatusInstalling ServerStatus = "installing"
	ServerStatusStarting   ServerStatus = "starting"
	ServerStatusStopping   ServerStatus = "stopping"
	ServerStatusRestarting ServerStatus = "restarting"
	ServerStatusOffline    ServerStatus = "offline"
	ServerStatusDeleted    ServerStatus = "deleted"
)

// PowerAction описывает сигнал управления питанием сервера.
type PowerAction string

const (
	PowerStart   PowerAction = "start"
	PowerStop    PowerAction = "stop"
	PowerRestart PowerAction = "restart"
	PowerKill    PowerAction = "kill"
)

// PowerStatuses задаёт оптимистичное локальное состояние после успешной отправки сигнала.
var PowerStatuses = map[PowerAction]ServerStatus{
	PowerStart:   ServerStatusStarting,
	PowerStop:    ServerStatusStopping,
	PowerRestart: ServerStatusRestarting,
	PowerKill:    ServerStatusOffline,
}

// Server представляет развёрнутый игровой сервер пользователя.
// PanelServerID — числовой идентификатор для application API панели,
// PanelUUID — идентификатор для client API. Хранятся оба: удаление
// и изменение сборки принимают только числовой идентификатор.
type Server struct {
	ID            int64
	UserID        int64
	PlanID        int64
	PanelServerID int64
	PanelUUID     string
	Name          string
	Status        ServerStatus
	ExpiresAt     time.Time
	Deleted       bool
	CreatedAt     time.Time
}

// Expired сообщает, истёк ли срок аренды сервера.
func (s *Server) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// StorePurchase представляет запись о покупке товара магазина.
type StorePurchase struct {
	ID        int64
	UserID    int64
	ItemID    int64
	ServerID  *int64
	CreatedAt time.Time
}

// Pagination описывает метаданные постраничного списка.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}
