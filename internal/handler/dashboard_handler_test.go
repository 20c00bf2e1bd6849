package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"shop-admin/internal/domain"
	"shop-admin/internal/guard"
	"shop-admin/internal/middleware"
	"shop-admin/internal/service"
	"shop-admin/internal/testutil"
)

type stubStats struct {
	stats *service.DashboardStats
	err   error
}

func (s stubStats) Stats(ctx context.Context) (*service.DashboardStats, error) {
	return s.stats, s.err
}

func dashboardRequest(snap *domain.Snapshot) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if snap != nil {
		req = req.WithContext(middleware.WithSnapshot(req.Context(), *snap))
	}
	return req
}

func TestDashboard_ShowsStats(t *testing.T) {
	profile := testutil.NewTestProfile(testutil.WithShopName("Corner Shop"))
	h := NewDashboardHandler(stubStats{stats: &service.DashboardStats{Sellers: 4, Orders: 9, Revenue: 12.5}}, newTestPages(t))

	w := httptest.NewRecorder()
	h.Show(w, dashboardRequest(&domain.Snapshot{Token: "T", Profile: profile}))

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertBodyContains(t, w, "Corner Shop")
	testutil.AssertBodyContains(t, w, profile.Username)
	testutil.AssertBodyContains(t, w, "12.50")
	testutil.AssertBodyContains(t, w, `action="/logout"`)
}

func TestDashboard_ExpiredRedirectsToLogin(t *testing.T) {
	h := NewDashboardHandler(stubStats{err: domain.ErrSessionExpired}, newTestPages(t))

	w := httptest.NewRecorder()
	h.Show(w, dashboardRequest(&domain.Snapshot{Token: "T", Profile: testutil.NewTestProfile()}))

	testutil.AssertRedirect(t, w, guard.LocationLogin)
}

func TestDashboard_APIErrorShownOnPage(t *testing.T) {
	h := NewDashboardHandler(stubStats{err: &domain.APIError{Status: 500, Message: "Request failed with status 500"}}, newTestPages(t))

	w := httptest.NewRecorder()
	h.Show(w, dashboardRequest(&domain.Snapshot{Token: "T", Profile: testutil.NewTestProfile()}))

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertBodyContains(t, w, "Request failed with status 500")
}

func TestDashboard_NoSessionRedirects(t *testing.T) {
	h := NewDashboardHandler(stubStats{}, newTestPages(t))

	w := httptest.NewRecorder()
	h.Show(w, dashboardRequest(nil))

	testutil.AssertRedirect(t, w, guard.LocationLogin)
}
