package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/internal/core/ports/mocks"
	"lead-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminToken     = "admin-token"
	requesterToken = "requester-token"
)

var (
	testAdmin     = domain.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000a001"), Role: domain.RoleAdmin}
	testRequester = domain.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000b001"), Role: domain.RoleRequester}
)

type testEnv struct {
	ledger   *mocks.MockLedgerService
	workflow *mocks.MockWorkflowService
	router   *gin.Engine
}

func newTestEnv(t *testing.T, sub Subscriber, checkers ...ports.HealthChecker) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)

	tokens := mocks.NewMockTokenService(ctrl)
	tokens.EXPECT().Validate(gomock.Any()).DoAndReturn(func(token string) (*domain.Actor, error) {
		switch token {
		case adminToken:
			a := testAdmin
			return &a, nil
		case requesterToken:
			a := testRequester
			return &a, nil
		}
		return nil, errors.New("token is malformed")
	}).AnyTimes()

	env := &testEnv{
		ledger:   mocks.NewMockLedgerService(ctrl),
		workflow: mocks.NewMockWorkflowService(ctrl),
	}
	env.router = SetupRouter(RouterDeps{
		Ledger:         env.ledger,
		Workflow:       env.workflow,
		TokenSvc:       tokens,
		Subscriber:     sub,
		HealthCheckers: checkers,
		PageSize:       20,
		Logger:         zerolog.Nop(),
	})
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

func newWallet(owner uuid.UUID, balance int64) *domain.Wallet {
	return &domain.Wallet{ID: uuid.New(), OwnerID: owner, Balance: balance, Version: 1}
}

// --- Authentication ---

func TestRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/wallets/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/v1/wallets/me", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeInvalidToken, errorCode(t, w))
}

func TestAdminRoutes_ForbiddenForRequester(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uuid.NewString()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/admin/wallets"},
		{http.MethodGet, "/api/v1/admin/wallets/" + id},
		{http.MethodPost, "/api/v1/admin/wallets/" + id + "/transactions"},
		{http.MethodPost, "/api/v1/admin/wallets/" + id + "/reconcile"},
		{http.MethodPost, "/api/v1/lead-requests/" + id + "/approve"},
		{http.MethodPost, "/api/v1/lead-requests/" + id + "/reject"},
		{http.MethodPost, "/api/v1/lead-requests/" + id + "/complete"},
		{http.MethodPost, "/api/v1/lead-requests/" + id + "/refund"},
	} {
		w := env.do(tc.method, tc.path, requesterToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, tc.path)
	}
}

// --- Wallets ---

func TestWallet_OpenMine(t *testing.T) {
	env := newTestEnv(t, nil)
	wallet := newWallet(testRequester.ID, 0)
	env.ledger.EXPECT().OpenWallet(gomock.Any(), testRequester, testRequester.ID).Return(wallet, nil)

	w := env.do(http.MethodPost, "/api/v1/wallets/me", requesterToken, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, wallet.ID.String(), decodeData(t, w)["id"])
}

func TestWallet_GetMine_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ledger.EXPECT().GetWalletByOwner(gomock.Any(), testRequester, testRequester.ID).
		Return(nil, apperror.ErrNotFound("wallet"))

	w := env.do(http.MethodGet, "/api/v1/wallets/me", requesterToken, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeNotFound, errorCode(t, w))
}

func TestWallet_ListMine(t *testing.T) {
	env := newTestEnv(t, nil)
	wallet := newWallet(testRequester.ID, 300)
	credit := domain.DirectionCredit

	env.ledger.EXPECT().GetWalletByOwner(gomock.Any(), testRequester, testRequester.ID).Return(wallet, nil)
	env.ledger.EXPECT().ListTransactions(gomock.Any(), testRequester, ports.TransactionListParams{
		WalletID:  wallet.ID,
		Direction: &credit,
		Page:      2,
		PageSize:  5,
	}).Return([]domain.Transaction{{ID: uuid.New(), WalletID: wallet.ID, Amount: 100, Direction: credit}}, int64(7), nil)

	w := env.do(http.MethodGet, "/api/v1/wallets/me/transactions?page=2&page_size=5&direction=credit", requesterToken, nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 7, data["total"])
	assert.EqualValues(t, 2, data["total_pages"])
	assert.Len(t, data["items"], 1)
}

func TestWallet_ListMine_InvalidQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ledger.EXPECT().GetWalletByOwner(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(newWallet(testRequester.ID, 0), nil)

	w := env.do(http.MethodGet, "/api/v1/wallets/me/transactions?direction=sideways", requesterToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminWallet_Open(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.ledger.EXPECT().OpenWallet(gomock.Any(), testAdmin, owner).Return(newWallet(owner, 0), nil)

	w := env.do(http.MethodPost, "/api/v1/admin/wallets", adminToken, map[string]string{"owner_id": owner.String()})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, owner.String(), decodeData(t, w)["owner_id"])

	w = env.do(http.MethodPost, "/api/v1/admin/wallets", adminToken, map[string]string{"owner_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminWallet_GetAndBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	wallet := newWallet(uuid.New(), 750)
	env.ledger.EXPECT().GetWallet(gomock.Any(), testAdmin, wallet.ID).Return(wallet, nil)
	env.ledger.EXPECT().GetBalance(gomock.Any(), testAdmin, wallet.ID).Return(int64(750), nil)

	w := env.do(http.MethodGet, "/api/v1/admin/wallets/"+wallet.ID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 750, decodeData(t, w)["balance"])

	w = env.do(http.MethodGet, "/api/v1/admin/wallets/"+wallet.ID.String()+"/balance", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 750, decodeData(t, w)["balance"])

	w = env.do(http.MethodGet, "/api/v1/admin/wallets/not-a-uuid", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminWallet_PostTransaction(t *testing.T) {
	walletID := uuid.New()
	path := "/api/v1/admin/wallets/" + walletID.String() + "/transactions"

	t.Run("credit", func(t *testing.T) {
		env := newTestEnv(t, nil)
		entry := ports.LedgerEntry{
			WalletID:  walletID,
			Amount:    500,
			Direction: domain.DirectionCredit,
			Reference: domain.Reference{Type: domain.ReferenceManual, ID: "promo-1"},
		}
		env.ledger.EXPECT().ApplyTransaction(gomock.Any(), testAdmin, entry).Return(&domain.Transaction{
			ID: uuid.New(), WalletID: walletID, Amount: 500, Direction: domain.DirectionCredit, BalanceAfter: 500,
		}, nil)

		w := env.do(http.MethodPost, path, adminToken, map[string]any{"amount": 500, "direction": "credit", "reference": " promo-1 "})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.EqualValues(t, 500, decodeData(t, w)["balance_after"])
	})

	t.Run("settle is not a manual direction", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do(http.MethodPost, path, adminToken, map[string]any{"amount": 1, "direction": "settle", "reference": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.ledger.EXPECT().ApplyTransaction(gomock.Any(), testAdmin, gomock.Any()).Return(nil, apperror.ErrInsufficientFunds())

		w := env.do(http.MethodPost, path, adminToken, map[string]any{"amount": 900, "direction": "debit", "reference": "fee-7"})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, apperror.CodeInsufficientFunds, errorCode(t, w))
	})

	t.Run("zero amount reaches the ledger", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.ledger.EXPECT().ApplyTransaction(gomock.Any(), testAdmin, gomock.Any()).Return(nil, apperror.ErrInvalidAmount())

		w := env.do(http.MethodPost, path, adminToken, map[string]any{"amount": 0, "direction": "credit", "reference": "r"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apperror.CodeInvalidAmount, errorCode(t, w))
	})
}

func TestAdminWallet_Reconcile(t *testing.T) {
	env := newTestEnv(t, nil)
	ok, broken := uuid.New(), uuid.New()
	env.ledger.EXPECT().Reconcile(gomock.Any(), testAdmin, ok).
		Return(&ports.ReconcileResult{WalletID: ok, Cached: 90, Computed: 100, Repaired: true}, nil)
	env.ledger.EXPECT().Reconcile(gomock.Any(), testAdmin, broken).
		Return(nil, apperror.ErrReconcileMismatch(90, 100))

	w := env.do(http.MethodPost, "/api/v1/admin/wallets/"+ok.String()+"/reconcile", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeData(t, w)["repaired"])

	w = env.do(http.MethodPost, "/api/v1/admin/wallets/"+broken.String()+"/reconcile", adminToken, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeReconcileMismatch, errorCode(t, w))
}

// --- Lead requests ---

func newLeadRequest(status domain.RequestStatus, payment domain.PaymentStatus) *domain.LeadRequest {
	return &domain.LeadRequest{
		ID:            uuid.New(),
		RequesterID:   testRequester.ID,
		ProjectID:     uuid.New(),
		Quantity:      5,
		UnitPrice:     100,
		TotalAmount:   500,
		Status:        status,
		PaymentStatus: payment,
		Version:       1,
	}
}

func TestLeadRequest_Submit(t *testing.T) {
	projectID := uuid.New()

	t.Run("created", func(t *testing.T) {
		env := newTestEnv(t, nil)
		notes := "north region"
		env.workflow.EXPECT().Submit(gomock.Any(), testRequester, ports.SubmitRequest{
			ProjectID: projectID,
			Quantity:  5,
			UnitPrice: 100,
			Notes:     &notes,
		}).Return(newLeadRequest(domain.RequestStatusPending, domain.PaymentStatusPending), nil)

		w := env.do(http.MethodPost, "/api/v1/lead-requests", requesterToken, map[string]any{
			"project_id": projectID.String(), "quantity": 5, "unit_price": 100, "notes": "  north region ",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "pending", decodeData(t, w)["status"])
	})

	t.Run("duplicate", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.workflow.EXPECT().Submit(gomock.Any(), testRequester, gomock.Any()).Return(nil, apperror.ErrDuplicateRequest())

		w := env.do(http.MethodPost, "/api/v1/lead-requests", requesterToken, map[string]any{
			"project_id": projectID.String(), "quantity": 1, "unit_price": 1,
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, apperror.CodeDuplicateRequest, errorCode(t, w))
	})

	t.Run("invalid body", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do(http.MethodPost, "/api/v1/lead-requests", requesterToken, map[string]any{"project_id": "x", "quantity": 1, "unit_price": 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLeadRequest_List(t *testing.T) {
	env := newTestEnv(t, nil)
	projectID := uuid.New()
	approved := domain.RequestStatusApproved

	env.workflow.EXPECT().List(gomock.Any(), testAdmin, ports.LeadRequestListParams{
		ProjectID: &projectID,
		Status:    &approved,
		Page:      1,
		PageSize:  20,
	}).Return([]domain.LeadRequest{*newLeadRequest(approved, domain.PaymentStatusPaid)}, int64(1), nil)

	w := env.do(http.MethodGet, "/api/v1/lead-requests?status=approved&project_id="+projectID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 1, data["total"])
	assert.EqualValues(t, 20, data["page_size"])

	w = env.do(http.MethodGet, "/api/v1/lead-requests?status=lost", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeadRequest_Get(t *testing.T) {
	env := newTestEnv(t, nil)
	lr := newLeadRequest(domain.RequestStatusPending, domain.PaymentStatusPending)
	env.workflow.EXPECT().Get(gomock.Any(), testRequester, lr.ID).Return(lr, nil)

	w := env.do(http.MethodGet, "/api/v1/lead-requests/"+lr.ID.String(), requesterToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, lr.ID.String(), decodeData(t, w)["id"])
}

func TestLeadRequest_Transitions(t *testing.T) {
	t.Run("approve with notes", func(t *testing.T) {
		env := newTestEnv(t, nil)
		lr := newLeadRequest(domain.RequestStatusApproved, domain.PaymentStatusPaid)
		env.workflow.EXPECT().Approve(gomock.Any(), testAdmin, lr.ID, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ domain.Actor, _ uuid.UUID, notes *string) (*domain.LeadRequest, error) {
				require.NotNil(t, notes)
				assert.Equal(t, "looks good", *notes)
				return lr, nil
			})

		w := env.do(http.MethodPost, "/api/v1/lead-requests/"+lr.ID.String()+"/approve", adminToken, map[string]string{"notes": "looks good"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "paid", decodeData(t, w)["payment_status"])
	})

	t.Run("reject without body", func(t *testing.T) {
		env := newTestEnv(t, nil)
		lr := newLeadRequest(domain.RequestStatusRejected, domain.PaymentStatusRefunded)
		env.workflow.EXPECT().Reject(gomock.Any(), testAdmin, lr.ID, (*string)(nil)).Return(lr, nil)

		w := env.do(http.MethodPost, "/api/v1/lead-requests/"+lr.ID.String()+"/reject", adminToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("complete", func(t *testing.T) {
		env := newTestEnv(t, nil)
		lr := newLeadRequest(domain.RequestStatusCompleted, domain.PaymentStatusPaid)
		env.workflow.EXPECT().Complete(gomock.Any(), testAdmin, lr.ID).Return(lr, nil)

		w := env.do(http.MethodPost, "/api/v1/lead-requests/"+lr.ID.String()+"/complete", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "completed", decodeData(t, w)["status"])
	})

	t.Run("refund of unpaid request", func(t *testing.T) {
		env := newTestEnv(t, nil)
		id := uuid.New()
		env.workflow.EXPECT().Refund(gomock.Any(), testAdmin, id, gomock.Any()).
			Return(nil, apperror.ErrInvalidTransition("rejected/refunded", "refund"))

		w := env.do(http.MethodPost, "/api/v1/lead-requests/"+id.String()+"/refund", adminToken, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, apperror.CodeInvalidTransition, errorCode(t, w))
	})

	t.Run("lost race", func(t *testing.T) {
		env := newTestEnv(t, nil)
		id := uuid.New()
		env.workflow.EXPECT().Approve(gomock.Any(), testAdmin, id, gomock.Any()).Return(nil, apperror.ErrStaleState())

		w := env.do(http.MethodPost, "/api/v1/lead-requests/"+id.String()+"/approve", adminToken, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, apperror.CodeStaleState, errorCode(t, w))
	})
}

// --- Health & metrics ---

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Ping(context.Context) error { return s.err }
func (s stubChecker) Name() string               { return s.name }

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil, stubChecker{name: "postgresql"}, stubChecker{name: "redis"})
	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	env = newTestEnv(t, nil, stubChecker{name: "postgresql"}, stubChecker{name: "redis", err: errors.New("connection refused")})
	w = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
