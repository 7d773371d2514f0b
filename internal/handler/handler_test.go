package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/playhost-system/internal/middleware"
	"github.com/mmeshcher/playhost-system/internal/model"
	"github.com/mmeshcher/playhost-system/internal/repository"
	"github.com/mmeshcher/playhost-system/internal/service"
)

type stubService struct {
	user    *model.User
	userErr error

	wallet    *model.Wallet
	walletErr error

	claimRes *service.ClaimResult
	claimErr error

	redeemRes *service.RedeemResult
	redeemErr error

	txs        []model.Transaction
	pagination *model.Pagination

	items []model.StoreItem

	purchaseItem    *model.StoreItem
	purchaseBalance int64
	purchaseErr     error

	servers []model.Server

	detail    *service.ServerDetail
	detailErr error

	deployRes *service.DeployResult
	deployErr error

	renewRes *service.RenewResult
	renewErr error

	powerStatus model.ServerStatus
	powerErr    error

	deleteRemoteFailed bool
	deleteErr          error
}

func (s *stubService) ResolveUser(ctx context.Context, identity *model.Identity) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.wallet, s.walletErr
}

func (s *stubService) ClaimDaily(ctx context.Context, userID int64) (*service.ClaimResult, error) {
	return s.claimRes, s.claimErr
}

func (s *stubService) RedeemCoupon(ctx context.Context, userID int64, code string) (*service.RedeemResult, error) {
	return s.redeemRes, s.redeemErr
}

func (s *stubService) ListTransactions(ctx context.Context, userID int64, page, limit int) ([]model.Transaction, *model.Pagination, error) {
	return s.txs, s.pagination, nil
}

func (s *stubService) ListStoreItems(ctx context.Context) ([]model.StoreItem, error) {
	return s.items, nil
}

func (s *stubService) Purchase(ctx context.Context, userID, itemID int64, serverID *int64) (*model.StoreItem, int64, error) {
	return s.purchaseItem, s.purchaseBalance, s.purchaseErr
}

func (s *stubService) ListServers(ctx context.Context, userID int64) ([]model.Server, error) {
	return s.servers, nil
}

func (s *stubService) GetServerDetail(ctx context.Context, userID, serverID int64) (*service.ServerDetail, error) {
	return s.detail, s.detailErr
}

func (s *stubService) Deploy(ctx context.Context, user *model.User, in service.DeployInput) (*service.DeployResult, error) {
	return s.deployRes, s.deployErr
}

func (s *stubService) Renew(ctx context.Context, userID, serverID int64) (*service.RenewResult, error) {
	return s.renewRes, s.renewErr
}

func (s *stubService) Power(ctx context.Context, userID, serverID int64, action string) (model.ServerStatus, error) {
	return s.powerStatus, s.powerErr
}

func (s *stubService) Delete(ctx context.Context, userID, serverID int64) (bool, error) {
	return s.deleteRemoteFailed, s.deleteErr
}

type okVerifier struct{}

func (okVerifier) Verify(ctx context.Context, token string) (*model.Identity, error) {
	return &model.Identity{Subject: "6c1a0c59-0c3f-4f46-9726-5bd23f41d9b1", Email: "player@example.com"}, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware(okVerifier{})

	return NewHandler(svc, logger, auth)
}

func doRequest(t *testing.T, h *Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer test-token")

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func testUser() *model.User {
	return &model.User{ID: 1, Email: "player@example.com", Role: "user"}
}

func TestMe_ReturnsProfile(t *testing.T) {
	svc := &stubService{user: testUser()}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["email"] != "player@example.com" {
		t.Fatalf("unexpected profile: %v", body)
	}
}

func TestMe_UnauthorizedWithoutToken(t *testing.T) {
	h := newTestHandler(t, &stubService{user: testUser()})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetWallet_Shape(t *testing.T) {
	svc := &stubService{
		user:   testUser(),
		wallet: &model.Wallet{UserID: 1, Balance: 120, Credits: 5, TotalEarned: 300},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/economy/wallet", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["coins"] != float64(120) || body["credits"] != float64(5) || body["total_earned"] != float64(300) {
		t.Fatalf("unexpected wallet: %v", body)
	}
}

func TestClaimDaily_Cooldown(t *testing.T) {
	svc := &stubService{
		user: testUser(),
		claimErr: &repository.CooldownError{
			NextClaimAt: time.Now().Add(5 * time.Hour),
			Remaining:   4*time.Hour + 30*time.Minute,
		},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/economy/daily/claim", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	body := decodeBody(t, rec)
	if body["hours_remaining"] != float64(5) {
		t.Fatalf("hours_remaining = %v, want 5", body["hours_remaining"])
	}
}

func TestClaimDaily_Success(t *testing.T) {
	svc := &stubService{
		user: testUser(),
		claimRes: &service.ClaimResult{
			Amount:      10,
			NewBalance:  110,
			NextClaimAt: time.Now().Add(24 * time.Hour),
		},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/economy/daily/claim", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["new_balance"] != float64(110) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestRedeemCoupon_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown code", repository.ErrCouponNotFound, http.StatusNotFound},
		{"expired", service.ErrCouponExpired, http.StatusGone},
		{"exhausted", repository.ErrCouponExhausted, http.StatusGone},
		{"already redeemed", repository.ErrCouponAlreadyRedeemed, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{user: testUser(), redeemErr: tt.err}
			h := newTestHandler(t, svc)

			rec := doRequest(t, h, http.MethodPost, "/api/economy/coupon/redeem", redeemRequest{Code: "BONUS"})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRedeemCoupon_ReturnsCanonicalCode(t *testing.T) {
	svc := &stubService{
		user:      testUser(),
		redeemRes: &service.RedeemResult{Code: "WELCOME50", Amount: 50, NewBalance: 150},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/economy/coupon/redeem", redeemRequest{Code: " welcome50 "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["code"] != "WELCOME50" {
		t.Fatalf("code = %v, want the canonical coupon code", body["code"])
	}
	if body["new_balance"] != float64(150) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestRedeemCoupon_EmptyCode(t *testing.T) {
	h := newTestHandler(t, &stubService{user: testUser()})

	rec := doRequest(t, h, http.MethodPost, "/api/economy/coupon/redeem", redeemRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetStoreItems_Public(t *testing.T) {
	svc := &stubService{
		items: []model.StoreItem{{ID: 1, Name: "RAM +1GB", Type: model.ItemRAMBoost, Price: 100}},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/store/items", nil)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPurchase_GatewayFailure(t *testing.T) {
	svc := &stubService{
		user:        testUser(),
		purchaseErr: service.ErrUpstream,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/store/purchase", purchaseRequest{ItemID: 1})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestPurchase_ReturnsItemSummary(t *testing.T) {
	svc := &stubService{
		user:            testUser(),
		purchaseItem:    &model.StoreItem{ID: 3, Name: "RAM +1GB", Type: model.ItemRAMBoost, Price: 100},
		purchaseBalance: 40,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/store/purchase", purchaseRequest{ItemID: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	item, ok := body["item"].(map[string]any)
	if !ok {
		t.Fatalf("item summary missing: %v", body)
	}
	if item["id"] != float64(3) || item["name"] != "RAM +1GB" || item["type"] != "ram_boost" {
		t.Fatalf("unexpected item summary: %v", item)
	}
	if body["new_balance"] != float64(40) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	svc := &stubService{
		user:        testUser(),
		purchaseErr: &service.InsufficientBalanceError{Required: 100, Current: 40},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/store/purchase", purchaseRequest{ItemID: 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, rec)
	if body["required"] != float64(100) || body["current"] != float64(40) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestDeploy_MissingFields(t *testing.T) {
	h := newTestHandler(t, &stubService{user: testUser()})

	rec := doRequest(t, h, http.MethodPost, "/api/servers/deploy", deployRequest{PlanID: 1, Name: "srv"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Missing required fields: planId, name, softwareId, locationId" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestDeploy_Created(t *testing.T) {
	svc := &stubService{
		user: testUser(),
		deployRes: &service.DeployResult{
			Server: &model.Server{
				ID:        11,
				Name:      "srv",
				Status:    model.ServerStatusInstalling,
				ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
			},
			NewBalance: 100,
		},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/servers/deploy", deployRequest{
		PlanID: 1, Name: "srv", SoftwareID: 2, LocationID: 3,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	body := decodeBody(t, rec)
	if body["new_balance"] != float64(100) {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestDeploy_RemoteFailure(t *testing.T) {
	svc := &stubService{
		user:      testUser(),
		deployErr: errors.New("create panel server: boom"),
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/servers/deploy", deployRequest{
		PlanID: 1, Name: "srv", SoftwareID: 2, LocationID: 3,
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestPower_ExpiredServer(t *testing.T) {
	svc := &stubService{
		user:     testUser(),
		powerErr: service.ErrServerExpired,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/servers/5/power", powerRequest{Action: "kill"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestPower_Success(t *testing.T) {
	svc := &stubService{
		user:        testUser(),
		powerStatus: model.ServerStatusStarting,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/servers/5/power", powerRequest{Action: "start"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["action"] != "start" {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestRenew_NotFound(t *testing.T) {
	svc := &stubService{
		user:     testUser(),
		renewErr: repository.ErrServerNotFound,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/servers/5/renew", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestDelete_SucceedsDespiteRemoteFailure(t *testing.T) {
	svc := &stubService{
		user:               testUser(),
		deleteRemoteFailed: true,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodDelete, "/api/servers/5", deleteRequest{Reason: "no longer needed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["reason"] != "no longer needed" {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestGetTransactions_EmptySlice(t *testing.T) {
	svc := &stubService{
		user:       testUser(),
		pagination: &model.Pagination{Page: 1, Limit: 20},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/economy/transactions?page=0&limit=1000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if _, ok := body["transactions"].([]any); !ok {
		t.Fatalf("transactions must be a JSON array, got %v", body["transactions"])
	}
}
