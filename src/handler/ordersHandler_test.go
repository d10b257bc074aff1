package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketrouter/src/auth"
	"marketrouter/src/model"
	"marketrouter/src/repository"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type mockOrderSearcher struct {
	orders        []model.Order
	err           error
	accountID     uint
	marketID      *uint
	currency      *string
	status        *model.OrderStatus
	createdAfter  *time.Time
	createdBefore *time.Time
	limit         int
	offset        int
	calledCount   int
}

func (m *mockOrderSearcher) Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error) {
	m.calledCount++
	m.accountID = options.AccountID
	m.marketID = options.MarketID
	m.currency = options.Currency
	m.status = options.Status
	m.createdAfter = options.CreatedAfter
	m.createdBefore = options.CreatedBefore
	m.limit = options.Limit
	m.offset = options.Offset
	return m.orders, m.err
}

// withRoute attaches the chi {id} parameter and, when operator is set, the caller.
func withRoute(req *http.Request, id string, operator bool) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if operator {
		ctx = context.WithValue(ctx, auth.OperatorKey, &auth.Operator{Name: "operator"})
	}
	return req.WithContext(ctx)
}

func TestSearchOrdersHandler_Unauthorized(t *testing.T) {
	handler := SearchOrdersHandler(&mockOrderSearcher{})

	req := withRoute(httptest.NewRequest(http.MethodGet, "/accounts/1/orders", nil), "1", false)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestSearchOrdersHandler_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		id   string
		url  string
	}{
		{"account id", "abc", "/accounts/abc/orders"},
		{"market id", "1", "/accounts/1/orders?marketId=abc"},
		{"created from", "1", "/accounts/1/orders?createdFrom=yesterday"},
		{"page", "1", "/accounts/1/orders?page=0"},
		{"page size", "1", "/accounts/1/orders?pageSize=-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockOrderSearcher{}
			req := withRoute(httptest.NewRequest(http.MethodGet, tt.url, nil), tt.id, true)
			rr := httptest.NewRecorder()

			SearchOrdersHandler(repo).ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if repo.calledCount != 0 {
				t.Fatalf("expected repository not to be called")
			}
		})
	}
}

func TestSearchOrdersHandler_RepoError(t *testing.T) {
	mockRepo := &mockOrderSearcher{err: assert.AnError}
	handler := SearchOrdersHandler(mockRepo)

	req := withRoute(httptest.NewRequest(http.MethodGet, "/accounts/42/orders", nil), "42", true)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}

	if mockRepo.calledCount != 1 {
		t.Fatalf("expected repository to be called once, got %d", mockRepo.calledCount)
	}
}

func TestSearchOrdersHandler_Success(t *testing.T) {
	orders := []model.Order{{ID: 1, Currency: "BTC", Status: model.OrderStatusFilled}}
	mockRepo := &mockOrderSearcher{orders: orders}
	handler := SearchOrdersHandler(mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/accounts/7/orders?marketId=2&currency=BTC&status=filled&createdFrom=2024-01-01T00:00:00Z&createdTo=2024-02-01T00:00:00Z&page=2&pageSize=5", nil)
	req = withRoute(req, "7", true)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if mockRepo.accountID != 7 {
		t.Fatalf("expected account ID 7, got %d", mockRepo.accountID)
	}

	if mockRepo.marketID == nil || *mockRepo.marketID != 2 {
		t.Fatalf("expected market ID 2, got %v", mockRepo.marketID)
	}

	if mockRepo.currency == nil || *mockRepo.currency != "BTC" {
		t.Fatalf("expected currency BTC, got %v", mockRepo.currency)
	}

	if mockRepo.status == nil || *mockRepo.status != model.OrderStatusFilled {
		t.Fatalf("expected status filled, got %v", mockRepo.status)
	}

	if mockRepo.createdAfter == nil || mockRepo.createdBefore == nil {
		t.Fatalf("expected created range to be parsed")
	}

	if mockRepo.limit != 5 || mockRepo.offset != 5 {
		t.Fatalf("expected limit 5 offset 5, got %d %d", mockRepo.limit, mockRepo.offset)
	}

	assert.Contains(t, rr.Body.String(), `"currency":"BTC"`)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}
