package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"marketrouter/src/auth"
	"marketrouter/src/model"
	"marketrouter/src/repository"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type OrderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
}

// accountID reads the {id} path parameter.
func accountID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// SearchOrdersHandler returns a handler that lists the orders of one account.
// Supports pagination and filters (marketId, currency, status, createdFrom, createdTo).
func SearchOrdersHandler(repo OrderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if op, ok := auth.GetOperatorFromContext(r.Context()); !ok || op == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		account, ok := accountID(r)
		if !ok {
			http.Error(w, "invalid account id", http.StatusBadRequest)
			return
		}

		var marketID *uint
		if marketParam := r.URL.Query().Get("marketId"); marketParam != "" {
			id, err := strconv.ParseUint(marketParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid marketId", http.StatusBadRequest)
				return
			}
			market := uint(id)
			marketID = &market
		}

		var currency *string
		if currencyParam := r.URL.Query().Get("currency"); currencyParam != "" {
			currency = &currencyParam
		}

		var status *model.OrderStatus
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			s := model.OrderStatus(statusParam)
			status = &s
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := r.URL.Query().Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				http.Error(w, "invalid createdFrom", http.StatusBadRequest)
				return
			}
			createdFrom = &parsed
		}

		if createdToParam := r.URL.Query().Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				http.Error(w, "invalid createdTo", http.StatusBadRequest)
				return
			}
			createdTo = &parsed
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsedSize
		}

		offset := (page - 1) * pageSize

		orders, err := repo.Search(r.Context(), repository.OrderSearchOptions{
			AccountID:     account,
			MarketID:      marketID,
			Currency:      currency,
			Status:        status,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(orders); err != nil {
			logger.WithError(err).Error("failed to encode order search response")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}
