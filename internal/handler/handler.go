// Package handler содержит HTTP-обработчики API сервиса playhost.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/playhost-system/internal/middleware"
	"github.com/mmeshcher/playhost-system/internal/model"
	"github.com/mmeshcher/playhost-system/internal/repository"
	"github.com/mmeshcher/playhost-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ResolveUser(ctx context.Context, identity *model.Identity) (*model.User, error)
	GetWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	ClaimDaily(ctx context.Context, userID int64) (*service.ClaimResult, error)
	RedeemCoupon(ctx context.Context, userID int64, code string) (*service.RedeemResult, error)
	ListTransactions(ctx context.Context, userID int64, page, limit int) ([]model.Transaction, *model.Pagination, error)
	ListStoreItems(ctx context.Context) ([]model.StoreItem, error)
	Purchase(ctx context.Context, userID, itemID int64, serverID *int64) (*model.StoreItem, int64, error)
	ListServers(ctx context.Context, userID int64) ([]model.Server, error)
	GetServerDetail(ctx context.Context, userID, serverID int64) (*service.ServerDetail, error)
	Deploy(ctx context.Context, user *model.User, in service.DeployInput) (*service.DeployResult, error)
	Renew(ctx context.Context, userID, serverID int64) (*service.RenewResult, error)
	Power(ctx context.Context, userID, serverID int64, action string) (model.ServerStatus, error)
	Delete(ctx context.Context, userID, serverID int64) (bool, error)
}

// Handler реализует HTTP-обработчики API сервиса playhost.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// currentUser находит локального пользователя по подтверждённой личности из контекста.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	user, err := h.service.ResolveUser(r.Context(), identity)
	if err != nil {
		h.logger.Error("resolve user error", zap.Error(err), zap.String("subject", identity.Subject))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}

	return user, true
}

func serverIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetWallet возвращает кошелёк текущего пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("get wallet error", zap.Error(err), zap.Int64("userID", user.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"coins":        wallet.Balance,
		"credits":      wallet.Credits,
		"total_earned": wallet.TotalEarned,
	})
}

// GetTransactions возвращает страницу истории операций текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txs, pagination, err := h.service.ListTransactions(r.Context(), user.ID, page, limit)
	if err != nil {
		h.logger.Error("list transactions error", zap.Error(err), zap.Int64("userID", user.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if txs == nil {
		txs = []model.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"pagination":   pagination,
	})
}

// ClaimDaily выдаёт ежедневную награду текущему пользователю.
func (h *Handler) ClaimDaily(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.ClaimDaily(r.Context(), user.ID)
	if err != nil {
		var cooldown *repository.CooldownError
		if errors.As(err, &cooldown) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":           "Daily reward already claimed",
				"next_claim_at":   cooldown.NextClaimAt.Format(time.RFC3339),
				"hours_remaining": int(math.Ceil(cooldown.Remaining.Hours())),
			})
			return
		}
		h.logger.Error("daily claim error", zap.Error(err), zap.Int64("userID", user.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"amount":        res.Amount,
		"new_balance":   res.NewBalance,
		"next_claim_at": res.NextClaimAt.Format(time.RFC3339),
	})
}

type redeemRequest struct {
	Code string `json:"code"`
}

// RedeemCoupon активирует промокод для текущего пользователя.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Coupon code is required")
		return
	}

	res, err := h.service.RedeemCoupon(r.Context(), user.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCouponNotFound):
			writeError(w, http.StatusNotFound, "Invalid coupon code")
		case errors.Is(err, service.ErrCouponExpired), errors.Is(err, repository.ErrCouponExhausted):
			writeError(w, http.StatusGone, "Coupon is no longer available")
		case errors.Is(err, repository.ErrCouponAlreadyRedeemed):
			writeError(w, http.StatusConflict, "Coupon already redeemed")
		default:
			h.logger.Error("redeem coupon error", zap.Error(err), zap.Int64("userID", user.ID))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"code":        res.Code,
		"amount":      res.Amount,
		"new_balance": res.NewBalance,
	})
}

// GetStoreItems возвращает каталог товаров. Единственный публичный маршрут.
func (h *Handler) GetStoreItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListStoreItems(r.Context())
	if err != nil {
		h.logger.Error("list store items error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if items == nil {
		items = []model.StoreItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type purchaseRequest struct {
	ItemID   int64  `json:"itemId"`
	ServerID *int64 `json:"serverId"`
}

// Purchase покупает товар магазина для текущего пользователя.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == 0 {
		writeError(w, http.StatusBadRequest, "Item id is required")
		return
	}

	item, balance, err := h.service.Purchase(r.Context(), user.ID, req.ItemID, req.ServerID)
	if err != nil {
		var insufficient *service.InsufficientBalanceError
		switch {
		case errors.Is(err, service.ErrMissingServerID):
			writeError(w, http.StatusBadRequest, "Server id is required for this item")
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "Insufficient balance",
				"required": insufficient.Required,
				"current":  insufficient.Current,
			})
		case errors.Is(err, repository.ErrStoreItemNotFound):
			writeError(w, http.StatusNotFound, "Store item not found")
		case errors.Is(err, repository.ErrServerNotFound):
			writeError(w, http.StatusNotFound, "Server not found")
		case errors.Is(err, service.ErrUpstream):
			writeError(w, http.StatusBadGateway, "Hosting panel is unavailable")
		default:
			h.logger.Error("purchase error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("itemID", req.ItemID))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"item": map[string]any{
			"id":   item.ID,
			"name": item.Name,
			"type": item.Type,
		},
		"new_balance": balance,
	})
}

type serverResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at"`
}

func toServerResponse(s *model.Server) serverResponse {
	return serverResponse{
		ID:        s.ID,
		Name:      s.Name,
		Status:    string(s.Status),
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
}

// GetServers возвращает серверы текущего пользователя.
func (h *Handler) GetServers(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	servers, err := h.service.ListServers(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list servers error", zap.Error(err), zap.Int64("userID", user.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]serverResponse, 0, len(servers))
	for i := range servers {
		resp = append(resp, toServerResponse(&servers[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"servers": resp})
}

// GetServer возвращает сервер с живыми данными панели, когда она доступна.
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id, err := serverIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	detail, err := h.service.GetServerDetail(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "Server not found")
			return
		}
		h.logger.Error("get server error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("serverID", id))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := map[string]any{
		"server": toServerResponse(detail.Server),
	}
	if detail.Plan != nil {
		resp["plan"] = detail.Plan
	}
	if detail.Live != nil {
		resp["limits"] = detail.Live.Limits
		if alloc, ok := detail.Live.DefaultAllocation(); ok {
			resp["allocation"] = alloc
		}
	}
	if detail.Resources != nil {
		resp["resources"] = map[string]any{
			"state":        detail.Resources.CurrentState,
			"memory_bytes": detail.Resources.MemoryBytes,
			"cpu_absolute": detail.Resources.CPUAbsolute,
			"disk_bytes":   detail.Resources.DiskBytes,
			"uptime":       detail.Resources.Uptime,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type deployRequest struct {
	PlanID     int64  `json:"planId"`
	Name       string `json:"name"`
	SoftwareID int64  `json:"softwareId"`
	LocationID int64  `json:"locationId"`
}

// Deploy создаёт новый сервер для текущего пользователя.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PlanID == 0 || req.Name == "" || req.SoftwareID == 0 || req.LocationID == 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: planId, name, softwareId, locationId")
		return
	}

	res, err := h.service.Deploy(r.Context(), user, service.DeployInput{
		PlanID:     req.PlanID,
		SoftwareID: req.SoftwareID,
		LocationID: req.LocationID,
		Name:       req.Name,
	})
	if err != nil {
		var insufficient *service.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "Insufficient balance",
				"required": insufficient.Required,
				"current":  insufficient.Current,
			})
		case errors.Is(err, repository.ErrPlanNotFound):
			writeError(w, http.StatusNotFound, "Plan not found")
		case errors.Is(err, repository.ErrSoftwareNotFound):
			writeError(w, http.StatusNotFound, "Software not found")
		default:
			h.logger.Error("deploy error", zap.Error(err), zap.Int64("userID", user.ID))
			writeError(w, http.StatusInternalServerError, "Failed to provision server")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"server":      toServerResponse(res.Server),
		"new_balance": res.NewBalance,
	})
}

type powerRequest struct {
	Action string `json:"action"`
}

// Power отправляет серверу сигнал управления питанием.
func (h *Handler) Power(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id, err := serverIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.service.Power(r.Context(), user.ID, id, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPowerAction):
			writeError(w, http.StatusBadRequest, "Invalid power action")
		case errors.Is(err, service.ErrServerExpired):
			writeError(w, http.StatusForbidden, "Server rental expired, renew to regain control")
		case errors.Is(err, repository.ErrServerNotFound):
			writeError(w, http.StatusNotFound, "Server not found")
		default:
			h.logger.Error("power error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("serverID", id))
			writeError(w, http.StatusInternalServerError, "Failed to send power signal")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  req.Action,
		"message": "Server is now " + string(status),
	})
}

// Renew продлевает аренду сервера текущего пользователя.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id, err := serverIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	res, err := h.service.Renew(r.Context(), user.ID, id)
	if err != nil {
		var insufficient *service.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "Insufficient balance",
				"required": insufficient.Required,
				"current":  insufficient.Current,
			})
		case errors.Is(err, repository.ErrServerNotFound):
			writeError(w, http.StatusNotFound, "Server not found")
		default:
			h.logger.Error("renew error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("serverID", id))
			writeError(w, http.StatusInternalServerError, "Failed to renew server")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"expires_at":  res.ExpiresAt.Format(time.RFC3339),
		"new_balance": res.NewBalance,
		"cost":        res.Cost,
	})
}

type deleteRequest struct {
	Reason string `json:"reason"`
}

// Delete удаляет сервер текущего пользователя. Сбой панели не мешает
// локальному удалению и отражается только в тексте ответа.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id, err := serverIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server id")
		return
	}

	var req deleteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	remoteFailed, err := h.service.Delete(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "Server not found")
			return
		}
		h.logger.Error("delete error", zap.Error(err), zap.Int64("userID", user.ID), zap.Int64("serverID", id))
		writeError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}

	message := "Server deleted"
	if remoteFailed {
		message = "Server deleted, panel cleanup pending"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"reason":  req.Reason,
	})
}
