package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketrouter/src/catalog"
	"marketrouter/src/executors"
	"marketrouter/src/model"
	"marketrouter/src/repository"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

type snapshotStub struct{}

func (snapshotStub) Snapshot() *catalog.Snapshot {
	return catalog.NewSnapshot([]model.Exchange{{ID: 1, Name: "binance", Enabled: true}}, nil, nil)
}

type ordersStub struct{}

func (ordersStub) Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error) {
	return []model.Order{}, nil
}

func TestRouter(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token"), bcrypt.MinCost)
	assert.NoError(t, err)
	router := NewRouter(Deps{Catalog: snapshotStub{}, Plans: executors.NewBoard(), Orders: ordersStub{}}, string(hash))

	tests := []struct {
		name  string
		path  string
		token string
		code  int
	}{
		{"healthcheck is public", "/healthcheck", "", http.StatusOK},
		{"exchanges need a token", "/exchanges", "", http.StatusUnauthorized},
		{"exchanges", "/exchanges", "token", http.StatusOK},
		{"routes before any plan", "/accounts/1/routes", "token", http.StatusNotFound},
		{"orders", "/accounts/1/orders", "token", http.StatusOK},
		{"unknown path", "/nope", "token", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.code, rr.Code)
		})
	}
}

func TestStartServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := StartServer(ctx, "0", http.NotFoundHandler())
	assert.NoError(t, err)
}
