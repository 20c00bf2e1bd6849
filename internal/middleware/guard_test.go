package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"shop-admin/internal/domain"
	"shop-admin/internal/guard"
	"shop-admin/internal/observability"
	"shop-admin/internal/session"
	"shop-admin/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guardFixture struct {
	machine *session.Machine
	nav     *guard.Navigator
	handler http.Handler
	reached *bool
	seen    *domain.Snapshot
	user    *string
}

func newGuardFixture() *guardFixture {
	f := &guardFixture{
		machine: session.NewMachine(testutil.NewMockCredentialStore()),
		nav:     guard.NewNavigator(guard.LocationHome),
		reached: new(bool),
		seen:    new(domain.Snapshot),
		user:    new(string),
	}
	loading := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("loading"))
	})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*f.reached = true
		*f.seen, _ = GetSnapshot(r.Context())
		*f.user = observability.Username(r.Context())
		w.Write([]byte("screen"))
	})
	f.handler = Guard(f.machine, f.nav, loading)(next)
	return f
}

func TestGuard_LoadingShowsLoadingScreen(t *testing.T) {
	f := newGuardFixture()

	for _, path := range []string{"/", guard.LocationLogin} {
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "loading", w.Body.String())
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.False(t, *f.reached, "protected content must not render while loading")
	}
}

func TestGuard_AnonymousRedirectsToLogin(t *testing.T) {
	f := newGuardFixture()
	f.machine.Clear(context.Background())

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sellers", nil))

	testutil.AssertRedirect(t, w, guard.LocationLogin)
	assert.False(t, *f.reached)
	assert.Equal(t, guard.LocationLogin, f.nav.Current())
}

func TestGuard_AnonymousRendersLogin(t *testing.T) {
	f := newGuardFixture()
	f.machine.Clear(context.Background())

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, guard.LocationLogin, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *f.reached)
	assert.Equal(t, guard.LocationLogin, f.nav.Current())
}

func TestGuard_AuthenticatedLeavesLogin(t *testing.T) {
	f := newGuardFixture()
	f.machine.Authenticate(context.Background(), "T", testutil.NewTestProfile())
	f.nav.Navigate(guard.LocationLogin)

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, guard.LocationLogin, nil))

	testutil.AssertRedirect(t, w, guard.LocationHome)
	assert.Equal(t, guard.LocationHome, f.nav.Current())
}

func TestGuard_AuthenticatedReachesScreen(t *testing.T) {
	f := newGuardFixture()
	profile := testutil.NewTestProfile(testutil.WithProfileUsername("ada"))
	f.machine.Authenticate(context.Background(), "T", profile)

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders", nil))

	require.True(t, *f.reached)
	assert.Equal(t, "T", f.seen.Token)
	assert.Equal(t, "ada", *f.user)
	assert.Equal(t, "/orders", f.nav.Current())
}

func TestGuard_PostDoesNotMoveLocation(t *testing.T) {
	f := newGuardFixture()
	f.machine.Authenticate(context.Background(), "T", testutil.NewTestProfile())

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/logout", nil))

	assert.True(t, *f.reached)
	assert.Equal(t, guard.LocationHome, f.nav.Current())
}
