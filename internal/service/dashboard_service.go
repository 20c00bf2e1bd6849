package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"shop-admin/internal/domain"
	"shop-admin/internal/gateway"
	"shop-admin/internal/observability"
)

const storeNotFoundMessage = "store not found"

// DashboardStats is the summary shown on the home screen
type DashboardStats struct {
	Sellers    int     `json:"sellers"`
	Categories int     `json:"categories"`
	Products   int     `json:"products"`
	Orders     int     `json:"orders"`
	Revenue    float64 `json:"revenue"`
}

// Expirer ends the session after the API rejected it
type Expirer interface {
	Expire(ctx context.Context)
}

type DashboardService struct {
	api     APIClient
	expirer Expirer
}

func NewDashboardService(api APIClient, expirer Expirer) *DashboardService {
	return &DashboardService{
		api:     api,
		expirer: expirer,
	}
}

// Stats fetches the dashboard summary.
//
// A "store not found" answer from this endpoint is treated as an expired session:
// the shop behind the token is gone, so the token is no use to any other screen.
func (s *DashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	resp, err := s.api.Call(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/dashboard/stats",
	})
	if err != nil {
		if isStoreNotFound(err) {
			observability.FromContext(ctx).Warn("dashboard store not found, expiring session")
			s.expirer.Expire(ctx)
			return nil, domain.ErrSessionExpired
		}
		return nil, err
	}

	var stats DashboardStats
	if err := resp.Decode(&stats); err != nil {
		observability.FromContext(ctx).Error("failed to decode dashboard stats",
			slog.String("error", err.Error()))
		return nil, err
	}
	return &stats, nil
}

func isStoreNotFound(err error) bool {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), storeNotFoundMessage)
}
