package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/executors"
	"marketrouter/src/model"
	"marketrouter/src/planner"

	logger "github.com/sirupsen/logrus"
)

// PlanSource returns the last plan published for an account.
type PlanSource interface {
	Get(accountID uint) (executors.Plan, bool)
}

type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

type legResponse struct {
	Action      string `json:"action"`
	Instruction string `json:"instruction,omitempty"`
	Currency    string `json:"currency"`
	Wallet      string `json:"wallet"`
	Market      string `json:"market,omitempty"`
	Side        string `json:"side,omitempty"`
	ReduceOnly  bool   `json:"reduce_only,omitempty"`
	Quantity    string `json:"quantity"`
	Value       string `json:"value"`
	Cost        string `json:"cost"`
}

type transferResponse struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type routeResponse struct {
	Type        string            `json:"type"`
	Source      legResponse       `json:"source"`
	Destination *legResponse      `json:"destination,omitempty"`
	Transfer    *transferResponse `json:"transfer,omitempty"`
	Value       string            `json:"value"`
	Distance    string            `json:"distance"`
	Spread      string            `json:"spread"`
	Funding     string            `json:"funding"`
	Cost        string            `json:"cost"`
}

type planResponse struct {
	AccountID uint            `json:"account_id"`
	Value     string          `json:"value"`
	PlannedAt time.Time       `json:"planned_at"`
	Routes    []routeResponse `json:"routes"`
}

func toLegResponse(l *planner.Leg) legResponse {
	out := legResponse{
		Action:      string(l.Action),
		Instruction: string(l.Instruction),
		Currency:    l.Currency,
		Wallet:      string(l.Wallet),
		Side:        l.Side,
		ReduceOnly:  l.ReduceOnly,
		Quantity:    l.Quantity.String(),
		Value:       l.Value.String(),
		Cost:        l.Cost.String(),
	}
	if l.Market != nil {
		out.Market = l.Market.Symbol
	}
	return out
}

func toRouteResponse(r *planner.Route) routeResponse {
	out := routeResponse{
		Type:     string(r.Type),
		Source:   toLegResponse(&r.Source),
		Value:    r.Value.String(),
		Distance: r.Distance.String(),
		Spread:   r.Spread.String(),
		Funding:  r.Funding.String(),
		Cost:     r.Cost.String(),
	}
	if r.Destination != nil {
		dst := toLegResponse(r.Destination)
		out.Destination = &dst
	}
	if r.Transfer != nil {
		out.Transfer = &transferResponse{
			Currency: r.Transfer.Currency,
			Amount:   r.Transfer.Amount.String(),
			From:     string(r.Transfer.From),
			To:       string(r.Transfer.To),
		}
	}
	return out
}

// RoutesHandler returns the best route per currency from the last plan of an account.
func RoutesHandler(plans PlanSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := accountID(r)
		if !ok {
			http.Error(w, "invalid account id", http.StatusBadRequest)
			return
		}

		plan, ok := plans.Get(id)
		if !ok {
			http.Error(w, "no plan for account", http.StatusNotFound)
			return
		}

		resp := planResponse{
			AccountID: plan.AccountID,
			Value:     plan.Value.String(),
			PlannedAt: plan.PlannedAt,
			Routes:    make([]routeResponse, 0, len(plan.Routes)),
		}
		for i := range plan.Routes {
			resp.Routes = append(resp.Routes, toRouteResponse(&plan.Routes[i]))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.WithError(err).Error("failed to encode routes response")
		}
	}
}

type exchangeResponse struct {
	Name      string               `json:"name"`
	Enabled   bool                 `json:"enabled"`
	Active    bool                 `json:"active"`
	Status    model.ExchangeStatus `json:"status"`
	StatusAt  *time.Time           `json:"status_at,omitempty"`
	StatusETA *time.Time           `json:"status_eta,omitempty"`
	Markets   int                  `json:"markets"`
	Tradable  int                  `json:"tradable"`
}

// ExchangesHandler lists the exchanges of the current catalog snapshot with their status.
func ExchangesHandler(c SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.Snapshot()
		exchanges := snap.Exchanges()

		resp := make([]exchangeResponse, 0, len(exchanges))
		for _, e := range exchanges {
			resp = append(resp, exchangeResponse{
				Name:      e.Name,
				Enabled:   e.Enabled,
				Active:    e.IsActive(),
				Status:    e.Status,
				StatusAt:  e.StatusAt,
				StatusETA: e.StatusETA,
				Markets:   len(snap.Markets(e.Name)),
				Tradable:  len(snap.TradableMarkets(e.Name)),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.WithError(err).Error("failed to encode exchanges response")
		}
	}
}
