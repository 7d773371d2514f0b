// Package service реализует бизнес-логику сервиса playhost.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/playhost-system/internal/model"
	"github.com/mmeshcher/playhost-system/internal/panel"
	"github.com/mmeshcher/playhost-system/internal/repository"
	"github.com/mmeshcher/playhost-system/internal/validation"
)

// rentalPeriod — срок аренды, добавляемый при развёртывании и продлении.
const rentalPeriod = 30 * 24 * time.Hour

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetOrCreateUser(ctx context.Context, subject, email string) (*model.User, error)
	GetOrCreateWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	CreditWallet(ctx context.Context, userID, amount int64, earned bool) (int64, error)
	DebitWallet(ctx context.Context, userID, amount int64) (int64, error)
	AppendTransaction(ctx context.Context, userID, amount int64, txType model.TransactionType, referenceID *int64) error
	ListTransactions(ctx context.Context, userID int64, offset, limit int) ([]model.Transaction, int64, error)
	ClaimDaily(ctx context.Context, userID, amount int64, cooldown time.Duration) (int64, error)
	RedeemCoupon(ctx context.Context, userID int64, coupon *model.Coupon) (int64, error)
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	DailyRewardConfig(ctx context.Context) (int64, time.Duration, error)
	GetPlan(ctx context.Context, id int64) (*model.Plan, error)
	GetSoftware(ctx context.Context, id int64) (*model.Software, error)
	GetStoreItem(ctx context.Context, id int64) (*model.StoreItem, error)
	ListStoreItems(ctx context.Context) ([]model.StoreItem, error)
	InsertStorePurchase(ctx context.Context, userID, itemID int64, serverID *int64) error
	CreateServer(ctx context.Context, s *model.Server) (int64, error)
	GetServer(ctx context.Context, userID, serverID int64) (*model.Server, error)
	GetServerWithPlan(ctx context.Context, userID, serverID int64) (*model.Server, *model.Plan, error)
	ListServers(ctx context.Context, userID int64) ([]model.Server, error)
	UpdateServerStatus(ctx context.Context, serverID int64, status model.ServerStatus) error
	UpdateServerExpiry(ctx context.Context, serverID int64, expiresAt time.Time) error
	SoftDeleteServer(ctx context.Context, serverID int64) error
	MarkExpiredServers(ctx context.Context) (int64, error)
}

// Panel описывает контракт клиента панели управления серверами.
type Panel interface {
	ServerDetails(ctx context.Context, identifier string) (*panel.ServerDetails, error)
	ServerResources(ctx context.Context, identifier string) (*panel.Resources, error)
	SendPower(ctx context.Context, identifier, signal string) error
	CreateServer(ctx context.Context, in panel.CreateServerInput) (*panel.CreatedServer, error)
	DeleteServer(ctx context.Context, serverID int64) error
	UserByEmail(ctx context.Context, email string) (int64, error)
	CreateUser(ctx context.Context, email, username, firstName, lastName string) (int64, error)
	UpdateBuild(ctx context.Context, serverID, allocationID int64, limits panel.BuildLimits) error
	CurrentLimits(ctx context.Context, serverID int64) (*panel.Limits, error)
}

var (
	// ErrInvalidPowerAction возвращается при неизвестном сигнале питания.
	ErrInvalidPowerAction = errors.New("invalid power action")
	// ErrServerExpired возвращается при попытке управлять сервером с истёкшей арендой.
	ErrServerExpired = errors.New("server rental expired")
	// ErrMissingServerID возвращается, когда товар требует привязки к серверу, а она не указана.
	ErrMissingServerID = errors.New("store item requires a server")
	// ErrCouponExpired возвращается для купона с истёкшим сроком действия.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrUpstream помечает сбой обращения к панели, чтобы обработчики отличали
	// его от ошибок собственного хранилища.
	ErrUpstream = errors.New("hosting panel request failed")
)

// InsufficientBalanceError сообщает о нехватке средств с указанием требуемой и текущей суммы.
type InsufficientBalanceError struct {
	Required int64
	Current  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, current %d", e.Required, e.Current)
}

// Service содержит бизнес-логику сервиса playhost.
type Service struct {
	repo   Repository
	panel  Panel
	logger *zap.SugaredLogger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом панели.
func NewService(repo Repository, panelClient Panel, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		panel:  panelClient,
		logger: logger.Sugar(),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ResolveUser находит или создаёт локального пользователя по подтверждённой личности.
func (s *Service) ResolveUser(ctx context.Context, identity *model.Identity) (*model.User, error) {
	if _, err := uuid.Parse(identity.Subject); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return s.repo.GetOrCreateUser(ctx, identity.Subject, identity.Email)
}

// GetWallet возвращает кошелёк пользователя, создавая его при первом обращении.
func (s *Service) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, userID)
}

// ClaimResult содержит результат получения ежедневной награды.
type ClaimResult struct {
	Amount      int64
	NewBalance  int64
	NextClaimAt time.Time
}

// ClaimDaily начисляет ежедневную награду. Сумма и период берутся из конфигурации.
// При повторном обращении раньше срока возвращается repository.CooldownError.
func (s *Service) ClaimDaily(ctx context.Context, userID int64) (*ClaimResult, error) {
	// Кошелёк создаётся при первом обращении, поэтому награду может получить
	// и пользователь, у которого ещё не было ни одной операции.
	if _, err := s.repo.GetOrCreateWallet(ctx, userID); err != nil {
		return nil, err
	}

	amount, cooldown, err := s.repo.DailyRewardConfig(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.ClaimDaily(ctx, userID, amount, cooldown)
	if err != nil {
		return nil, err
	}

	return &ClaimResult{
		Amount:      amount,
		NewBalance:  balance,
		NextClaimAt: time.Now().Add(cooldown),
	}, nil
}

// RedeemResult содержит результат активации промокода. Code — канонический
// код купона из хранилища, а не введённый пользователем вариант.
type RedeemResult struct {
	Code       string
	Amount     int64
	NewBalance int64
}

// RedeemCoupon активирует промокод и начисляет его сумму.
// Каждый пользователь может активировать купон только один раз.
func (s *Service) RedeemCoupon(ctx context.Context, userID int64, code string) (*RedeemResult, error) {
	if _, err := s.repo.GetOrCreateWallet(ctx, userID); err != nil {
		return nil, err
	}

	coupon, err := s.repo.GetCouponByCode(ctx, validation.NormalizeCouponCode(code))
	if err != nil {
		return nil, err
	}

	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(time.Now()) {
		return nil, ErrCouponExpired
	}

	balance, err := s.repo.RedeemCoupon(ctx, userID, coupon)
	if err != nil {
		return nil, err
	}

	return &RedeemResult{Code: coupon.Code, Amount: coupon.Amount, NewBalance: balance}, nil
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ListTransactions возвращает страницу истории операций с метаданными пагинации.
func (s *Service) ListTransactions(ctx context.Context, userID int64, page, limit int) ([]model.Transaction, *model.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	txs, total, err := s.repo.ListTransactions(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return txs, &model.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

// ListStoreItems возвращает доступные товары магазина.
func (s *Service) ListStoreItems(ctx context.Context) ([]model.StoreItem, error) {
	return s.repo.ListStoreItems(ctx)
}

// Purchase покупает товар магазина и возвращает купленный товар с балансом
// после списания. Списание выполняется до применения эффекта: при отказе
// панели средства возвращаются, так что покупка либо применяется целиком,
// либо не оставляет следов в балансе.
func (s *Service) Purchase(ctx context.Context, userID, itemID int64, serverID *int64) (*model.StoreItem, int64, error) {
	item, err := s.repo.GetStoreItem(ctx, itemID)
	if err != nil {
		return nil, 0, err
	}

	var srv *model.Server
	if item.Type.IsServerBound() {
		if serverID == nil {
			return nil, 0, ErrMissingServerID
		}
		srv, err = s.repo.GetServer(ctx, userID, *serverID)
		if err != nil {
			return nil, 0, err
		}
	}

	balance, err := s.repo.DebitWallet(ctx, userID, item.Price)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, 0, s.insufficient(ctx, userID, item.Price)
		}
		return nil, 0, err
	}

	if srv != nil {
		if err := s.applyBoost(ctx, srv, item); err != nil {
			if _, refundErr := s.repo.CreditWallet(ctx, userID, item.Price, false); refundErr != nil {
				s.logger.Errorw("refund after failed boost", "user_id", userID, "item_id", itemID, "error", refundErr)
			}
			return nil, 0, fmt.Errorf("apply boost: %w: %w", ErrUpstream, err)
		}
	}

	if err := s.repo.AppendTransaction(ctx, userID, -item.Price, model.TransactionStorePurchase, &item.ID); err != nil {
		s.logger.Errorw("record purchase transaction", "user_id", userID, "item_id", itemID, "error", err)
	}
	if err := s.repo.InsertStorePurchase(ctx, userID, item.ID, serverID); err != nil {
		s.logger.Errorw("record store purchase", "user_id", userID, "item_id", itemID, "error", err)
	}

	return item, balance, nil
}

// applyBoost увеличивает квоты сборки сервера на величины из конфигурации товара.
func (s *Service) applyBoost(ctx context.Context, srv *model.Server, item *model.StoreItem) error {
	details, err := s.panel.ServerDetails(ctx, srv.PanelUUID)
	if err != nil {
		return err
	}
	alloc, ok := details.DefaultAllocation()
	if !ok {
		return fmt.Errorf("server %s has no default allocation", srv.PanelUUID)
	}

	current, err := s.panel.CurrentLimits(ctx, srv.PanelServerID)
	if err != nil {
		return err
	}

	var limits panel.BuildLimits
	switch item.Type {
	case model.ItemRAMBoost:
		v := current.Memory + item.ConfigInt("ram_add")
		limits.Memory = &v
	case model.ItemCPUBoost:
		v := current.CPU + item.ConfigInt("cpu_add")
		limits.CPU = &v
	case model.ItemDiskBoost:
		v := current.Disk + item.ConfigInt("disk_add")
		limits.Disk = &v
	}

	return s.panel.UpdateBuild(ctx, srv.PanelServerID, alloc.ID, limits)
}

// ListServers возвращает серверы пользователя.
func (s *Service) ListServers(ctx context.Context, userID int64) ([]model.Server, error) {
	return s.repo.ListServers(ctx, userID)
}

// ServerDetail объединяет локальную запись о сервере с живыми данными панели.
// Поля Live и Resources равны nil, когда панель недоступна.
type ServerDetail struct {
	Server    *model.Server
	Plan      *model.Plan
	Live      *panel.ServerDetails
	Resources *panel.Resources
}

// GetServerDetail возвращает сервер с данными панели; недоступность панели
// не считается ошибкой, ответ деградирует до локальных данных.
func (s *Service) GetServerDetail(ctx context.Context, userID, serverID int64) (*ServerDetail, error) {
	srv, plan, err := s.repo.GetServerWithPlan(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	detail := &ServerDetail{Server: srv, Plan: plan}

	live, err := s.panel.ServerDetails(ctx, srv.PanelUUID)
	if err != nil {
		s.logger.Debugw("panel details unavailable", "server_id", serverID, "error", err)
		return detail, nil
	}
	detail.Live = live

	resources, err := s.panel.ServerResources(ctx, srv.PanelUUID)
	if err != nil {
		s.logger.Debugw("panel resources unavailable", "server_id", serverID, "error", err)
		return detail, nil
	}
	detail.Resources = resources

	return detail, nil
}

// DeployInput описывает параметры развёртывания нового сервера.
type DeployInput struct {
	PlanID     int64
	SoftwareID int64
	LocationID int64
	Name       string
}

// DeployResult содержит созданный сервер и баланс после списания.
type DeployResult struct {
	Server     *model.Server
	NewBalance int64
}

// Deploy создаёт сервер в панели и списывает стоимость тарифа. Сервер создаётся
// до списания: при нехватке средств или сбое записи созданный сервер удаляется,
// а уже списанные средства возвращаются.
func (s *Service) Deploy(ctx context.Context, user *model.User, in DeployInput) (*DeployResult, error) {
	plan, err := s.repo.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	software, err := s.repo.GetSoftware(ctx, in.SoftwareID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.repo.GetOrCreateWallet(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance < plan.Price {
		return nil, &InsufficientBalanceError{Required: plan.Price, Current: wallet.Balance}
	}

	panelUserID, err := s.resolvePanelUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("resolve panel user: %w", err)
	}

	created, err := s.panel.CreateServer(ctx, panel.CreateServerInput{
		Name:        in.Name,
		PanelUserID: panelUserID,
		EggID:       software.EggID,
		LocationID:  in.LocationID,
		RAM:         plan.RAM,
		CPU:         plan.CPU,
		Disk:        plan.Disk,
	})
	if err != nil {
		return nil, fmt.Errorf("create panel server: %w", err)
	}

	balance, err := s.repo.DebitWallet(ctx, user.ID, plan.Price)
	if err != nil {
		s.teardownPanelServer(ctx, created.ID)
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, s.insufficient(ctx, user.ID, plan.Price)
		}
		return nil, err
	}

	srv := &model.Server{
		UserID:        user.ID,
		PlanID:        plan.ID,
		PanelServerID: created.ID,
		PanelUUID:     created.UUID,
		Name:          in.Name,
		Status:        model.ServerStatusInstalling,
		ExpiresAt:     time.Now().Add(rentalPeriod),
	}
	srv.ID, err = s.repo.CreateServer(ctx, srv)
	if err != nil {
		s.teardownPanelServer(ctx, created.ID)
		if _, refundErr := s.repo.CreditWallet(ctx, user.ID, plan.Price, false); refundErr != nil {
			s.logger.Errorw("refund after failed server insert", "user_id", user.ID, "error", refundErr)
		}
		return nil, fmt.Errorf("persist server: %w", err)
	}

	if err := s.repo.AppendTransaction(ctx, user.ID, -plan.Price, model.TransactionServerDeploy, &srv.ID); err != nil {
		s.logger.Errorw("record deploy transaction", "user_id", user.ID, "server_id", srv.ID, "error", err)
	}

	return &DeployResult{Server: srv, NewBalance: balance}, nil
}

// resolvePanelUser находит пользователя панели по email или регистрирует нового.
func (s *Service) resolvePanelUser(ctx context.Context, user *model.User) (int64, error) {
	id, err := s.panel.UserByEmail(ctx, user.Email)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, panel.ErrNotFound) {
		return 0, err
	}

	username := validation.PanelUsername(user.Email, user.ID)
	return s.panel.CreateUser(ctx, user.Email, username, "Player", username)
}

func (s *Service) teardownPanelServer(ctx context.Context, panelServerID int64) {
	if err := s.panel.DeleteServer(ctx, panelServerID); err != nil {
		s.logger.Errorw("compensating panel delete failed", "panel_server_id", panelServerID, "error", err)
	}
}

// insufficient строит ошибку о нехватке средств с актуальным балансом.
func (s *Service) insufficient(ctx context.Context, userID, required int64) error {
	current := int64(0)
	if wallet, err := s.repo.GetOrCreateWallet(ctx, userID); err == nil {
		current = wallet.Balance
	}
	return &InsufficientBalanceError{Required: required, Current: current}
}

// RenewResult содержит результат продления аренды сервера.
type RenewResult struct {
	ExpiresAt  time.Time
	NewBalance int64
	Cost       int64
}

// Renew продлевает аренду сервера на очередной период, списывая стоимость тарифа.
// Продление отсчитывается от текущего срока, если он ещё не истёк, иначе от настоящего момента.
func (s *Service) Renew(ctx context.Context, userID, serverID int64) (*RenewResult, error) {
	srv, plan, err := s.repo.GetServerWithPlan(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.DebitWallet(ctx, userID, plan.Price)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, s.insufficient(ctx, userID, plan.Price)
		}
		return nil, err
	}

	base := srv.ExpiresAt
	if now := time.Now(); base.Before(now) {
		base = now
	}
	expiresAt := base.Add(rentalPeriod)

	if err := s.repo.UpdateServerExpiry(ctx, srv.ID, expiresAt); err != nil {
		if _, refundErr := s.repo.CreditWallet(ctx, userID, plan.Price, false); refundErr != nil {
			s.logger.Errorw("refund after failed renewal", "user_id", userID, "server_id", serverID, "error", refundErr)
		}
		return nil, fmt.Errorf("update expiry: %w", err)
	}

	if err := s.repo.AppendTransaction(ctx, userID, -plan.Price, model.TransactionServerRenew, &srv.ID); err != nil {
		s.logger.Errorw("record renewal transaction", "user_id", userID, "server_id", serverID, "error", err)
	}

	return &RenewResult{ExpiresAt: expiresAt, NewBalance: balance, Cost: plan.Price}, nil
}

// Power отправляет серверу сигнал управления питанием и возвращает
// оптимистичное локальное состояние.
func (s *Service) Power(ctx context.Context, userID, serverID int64, action string) (model.ServerStatus, error) {
	if !validation.IsValidPowerAction(action) {
		return "", ErrInvalidPowerAction
	}

	srv, err := s.repo.GetServer(ctx, userID, serverID)
	if err != nil {
		return "", err
	}
	if srv.Expired(time.Now()) {
		return "", ErrServerExpired
	}

	if err := s.panel.SendPower(ctx, srv.PanelUUID, action); err != nil {
		return "", fmt.Errorf("send power signal: %w", err)
	}

	status := model.PowerStatuses[model.PowerAction(action)]
	if err := s.repo.UpdateServerStatus(ctx, srv.ID, status); err != nil {
		s.logger.Warnw("update server status", "server_id", srv.ID, "error", err)
	}

	return status, nil
}

// Delete удаляет сервер. Сбой удаления в панели не прерывает операцию:
// локальная запись помечается удалённой, а неудача фиксируется в журнале.
// Возвращает признак того, что удаление в панели не удалось.
func (s *Service) Delete(ctx context.Context, userID, serverID int64) (bool, error) {
	srv, err := s.repo.GetServer(ctx, userID, serverID)
	if err != nil {
		return false, err
	}

	remoteFailed := false
	if err := s.panel.DeleteServer(ctx, srv.PanelServerID); err != nil {
		remoteFailed = true
		s.logger.Warnw("panel delete failed", "server_id", srv.ID, "panel_server_id", srv.PanelServerID, "error", err)
	}

	if err := s.repo.SoftDeleteServer(ctx, srv.ID); err != nil {
		return remoteFailed, err
	}

	if err := s.repo.AppendTransaction(ctx, userID, 0, model.TransactionServerDeleted, &srv.ID); err != nil {
		s.logger.Errorw("record deletion transaction", "user_id", userID, "server_id", srv.ID, "error", err)
	}

	return remoteFailed, nil
}

// StartExpirySweep запускает фоновый процесс, помечающий серверы с истёкшей арендой.
func (s *Service) StartExpirySweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.repo.MarkExpiredServers(ctx)
				if err != nil {
					s.logger.Warnw("expiry sweep", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Infow("expired servers marked offline", "count", n)
				}
			}
		}
	}()
}
