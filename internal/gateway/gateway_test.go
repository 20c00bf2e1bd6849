package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shop-admin/internal/domain"
	"shop-admin/internal/observability"
	"shop-admin/internal/testutil"
)

func TestCall_SendsTokenAndJSONHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Errorf("Expected Authorization 'Bearer T1', got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Expected JSON content type, got %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Expected JSON accept, got %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("Expected X-Request-ID to be set")
		}
		if r.URL.Path != "/sellers" {
			t.Errorf("Expected path /sellers, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"items":[1,2]}`))
	}))
	defer server.Close()

	store := testutil.StoreWithSession("T1", testutil.NewTestProfile())
	gw := New(server.URL, store)

	resp, err := gw.Get(context.Background(), "/sellers", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Items []int `json:"items"`
	}
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("Expected decodable body, got: %v", err)
	}
	if len(body.Items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(body.Items))
	}
}

func TestCall_NoTokenOmitsAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Expected no Authorization header, got %q", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := New(server.URL, testutil.NewMockCredentialStore())
	if _, err := gw.Get(context.Background(), "/categories", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestCall_CallerHeadersNotClobbered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "text/csv" {
			t.Errorf("Expected caller content type, got %q", got)
		}
		if got := r.Header.Get("X-Shop"); got != "42" {
			t.Errorf("Expected X-Shop 42, got %q", got)
		}
		if got := r.Header.Get("X-Request-ID"); got != "req-1" {
			t.Errorf("Expected caller request id, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	store := testutil.StoreWithSession("T1", testutil.NewTestProfile())
	gw := New(server.URL, store)

	header := http.Header{}
	header.Set("Content-Type", "text/csv")
	header.Set("X-Shop", "42")
	header.Set("X-Request-ID", "req-1")

	resp, err := gw.Call(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/imports",
		Body:   []byte("a,b\n1,2"),
		Header: header,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
}

func TestCall_RequestIDFromContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Request-ID"); got != "ctx-req" {
			t.Errorf("Expected request id from context, got %q", got)
		}
	}))
	defer server.Close()

	gw := New(server.URL, testutil.NewMockCredentialStore())
	ctx := observability.WithRequestID(context.Background(), "ctx-req")
	if _, err := gw.Get(ctx, "/ping", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestCall_EncodesBodyAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("Expected page=2, got %q", got)
		}
		data, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Errorf("Expected JSON body, got %q", data)
		}
		if payload["name"] != "Shoes" {
			t.Errorf("Expected name Shoes, got %q", payload["name"])
		}
		w.Write([]byte(`{"id":"c1"}`))
	}))
	defer server.Close()

	gw := New(server.URL+"/", testutil.NewMockCredentialStore())
	resp, err := gw.Call(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "categories",
		Query:  url.Values{"page": {"2"}},
		Body:   map[string]string{"name": "Shoes"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(resp.Body) != `{"id":"c1"}` {
		t.Errorf("Expected body passed through, got %s", resp.Body)
	}
}

func TestCall_EmptyOrInvalidBodyBecomesEmptyObject(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"not json", "<html>ok</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			gw := New(server.URL, testutil.NewMockCredentialStore())
			resp, err := gw.Get(context.Background(), "/x", nil)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if string(resp.Body) != "{}" {
				t.Errorf("Expected {}, got %s", resp.Body)
			}
		})
	}
}

func TestCall_NonSuccessStatusReturnsAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"message field", http.StatusBadRequest, `{"message":"Name is required"}`, "Name is required"},
		{"error field", http.StatusConflict, `{"error":"Duplicate category"}`, "Duplicate category"},
		{"no body", http.StatusInternalServerError, "", "Request failed with status 500"},
		{"array body", http.StatusNotFound, `[1,2]`, "Request failed with status 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			store := testutil.StoreWithSession("T1", testutil.NewTestProfile())
			gw := New(server.URL, store)

			resp, err := gw.Get(context.Background(), "/x", nil)
			if resp != nil {
				t.Errorf("Expected nil response, got %+v", resp)
			}

			var apiErr *domain.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *domain.APIError, got: %v", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, apiErr.Status)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, apiErr.Message)
			}
			if !store.Has(domain.KeyToken) {
				t.Error("Expected credentials to survive a non-401 failure")
			}
		})
	}
}

func TestCall_UnauthorizedPurgesAndNotifies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer server.Close()

	store := testutil.StoreWithSession("T1", testutil.NewTestProfile())
	gw := New(server.URL, store)

	var notified atomic.Int32
	gw.OnExpired(func(ctx context.Context) {
		notified.Add(1)
	})

	_, err := gw.Get(context.Background(), "/dashboard/stats", nil)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got: %v", err)
	}
	if !IsExpired(err) {
		t.Error("Expected IsExpired to report true")
	}
	if store.Has(domain.KeyToken) || store.Has(domain.KeyProfile) {
		t.Error("Expected both credential keys to be removed")
	}
	if notified.Load() != 1 {
		t.Errorf("Expected 1 expiry notification, got %d", notified.Load())
	}
}

func TestCall_ConcurrentUnauthorizedHandledOnce(t *testing.T) {
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := testutil.StoreWithSession("T1", testutil.NewTestProfile())
	gw := New(server.URL, store)

	var notified atomic.Int32
	gw.OnExpired(func(ctx context.Context) {
		notified.Add(1)
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := gw.Get(context.Background(), "/orders", nil)
			errs <- err
		}()
	}

	arrived.Wait()
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, domain.ErrSessionExpired) {
			t.Errorf("Expected ErrSessionExpired, got: %v", err)
		}
	}
	if notified.Load() != 1 {
		t.Errorf("Expected exactly 1 expiry notification, got %d", notified.Load())
	}
	if store.RemoveCount() != 2 {
		t.Errorf("Expected 2 removals (token and profile once), got %d", store.RemoveCount())
	}
}

func TestCall_UnauthorizedWithoutTokenNotifiesOnce(t *testing.T) {
	release := make(chan struct{})
	var arrived sync.WaitGroup

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			arrived.Done()
			<-release
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := testutil.NewMockCredentialStore()
	gw := New(server.URL, store)

	var notified atomic.Int32
	gw.OnExpired(func(ctx context.Context) {
		notified.Add(1)
	})

	concurrentCalls := func(n int) {
		arrived.Add(n)
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				_, err := gw.Get(context.Background(), "/orders", nil)
				errs <- err
			}()
		}
		arrived.Wait()
		for i := 0; i < n; i++ {
			release <- struct{}{}
		}
		for i := 0; i < n; i++ {
			if err := <-errs; !errors.Is(err, domain.ErrSessionExpired) {
				t.Errorf("Expected ErrSessionExpired, got: %v", err)
			}
		}
	}

	concurrentCalls(2)
	if notified.Load() != 1 {
		t.Fatalf("Expected exactly 1 expiry notification, got %d", notified.Load())
	}
	if store.RemoveCount() != 0 {
		t.Errorf("Expected nothing purged without a token, got %d removals", store.RemoveCount())
	}

	concurrentCalls(1)
	if notified.Load() != 1 {
		t.Errorf("Expected later tokenless rejections to stay silent, got %d notifications", notified.Load())
	}

	// a new login sends a token again; its rejection is a fresh expiry
	store.Values[domain.KeyToken] = "T2"
	if _, err := gw.Get(context.Background(), "/orders", nil); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got: %v", err)
	}
	if notified.Load() != 2 {
		t.Errorf("Expected a second notification for the rejected token, got %d", notified.Load())
	}

	concurrentCalls(2)
	if notified.Load() != 2 {
		t.Errorf("Expected no notification after the session was already expired, got %d", notified.Load())
	}
}

func TestCall_LateUnauthorizedDoesNotPurgeNewSession(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := testutil.StoreWithSession("OLD", testutil.NewTestProfile())
	gw := New(server.URL, store)

	var notified atomic.Int32
	gw.OnExpired(func(ctx context.Context) {
		notified.Add(1)
	})

	errs := make(chan error, 1)
	go func() {
		_, err := gw.Get(context.Background(), "/orders", nil)
		errs <- err
	}()

	<-arrived
	store.Set(context.Background(), domain.KeyToken, "NEW")
	close(release)

	if err := <-errs; !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired, got: %v", err)
	}
	if token, _ := store.Get(context.Background(), domain.KeyToken); token != "NEW" {
		t.Errorf("Expected new token to survive, got %q", token)
	}
	if notified.Load() != 0 {
		t.Errorf("Expected no notification for a superseded token, got %d", notified.Load())
	}
}

func TestCallPublic_UnauthorizedIsPlainAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Expected public call to omit Authorization")
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	}))
	defer server.Close()

	store := testutil.StoreWithSession("T1", testutil.NewTestProfile())
	gw := New(server.URL, store)
	gw.OnExpired(func(ctx context.Context) {
		t.Error("Expected no expiry notification for a public call")
	})

	_, err := gw.CallPublic(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/login",
		Body:   map[string]string{"username": "u", "password": "p"},
	})

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *domain.APIError, got: %v", err)
	}
	if apiErr.Message != "Invalid credentials" {
		t.Errorf("Expected server message, got %q", apiErr.Message)
	}
	if !store.Has(domain.KeyToken) {
		t.Error("Expected credentials untouched by a public call")
	}
}

func TestCall_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	gw := New(serverURL, testutil.NewMockCredentialStore())
	_, err := gw.Get(context.Background(), "/x", nil)
	if err == nil {
		t.Fatal("Expected error for unreachable server")
	}
	if errors.Is(err, domain.ErrSessionExpired) {
		t.Error("Expected transport error not to be reported as expiry")
	}
}

func TestCall_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	gw := New(server.URL, testutil.NewMockCredentialStore(), WithTimeout(20*time.Millisecond))
	if _, err := gw.Get(context.Background(), "/slow", nil); err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestCall_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := New(server.URL, testutil.NewMockCredentialStore())
	_, err := gw.Get(ctx, "/x", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestWithHTTPClient(t *testing.T) {
	client := &http.Client{Timeout: time.Second}
	gw := New("http://api.test", testutil.NewMockCredentialStore(), WithHTTPClient(client))
	if gw.httpClient != client {
		t.Error("Expected custom client to be used")
	}
}

func TestVerbHelpers(t *testing.T) {
	type seen struct {
		method string
		path   string
		body   string
	}
	var mu sync.Mutex
	var got []seen

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, seen{method: r.Method, path: r.URL.Path, body: string(data)})
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gw := New(server.URL, testutil.StoreWithSession("T1", testutil.NewTestProfile()))
	ctx := context.Background()
	category := map[string]string{"name": "Shoes"}

	calls := []func() (*Response, error){
		func() (*Response, error) { return gw.Post(ctx, "/categories", category) },
		func() (*Response, error) { return gw.Put(ctx, "/categories/1", category) },
		func() (*Response, error) { return gw.Patch(ctx, "/categories/1", category) },
		func() (*Response, error) { return gw.Delete(ctx, "/categories/1") },
	}
	for _, call := range calls {
		if _, err := call(); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	want := []seen{
		{method: http.MethodPost, path: "/categories", body: `{"name":"Shoes"}`},
		{method: http.MethodPut, path: "/categories/1", body: `{"name":"Shoes"}`},
		{method: http.MethodPatch, path: "/categories/1", body: `{"name":"Shoes"}`},
		{method: http.MethodDelete, path: "/categories/1", body: ""},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d requests, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestIsExpired(t *testing.T) {
	if !IsExpired(domain.ErrSessionExpired) {
		t.Error("Expected ErrSessionExpired to be reported as expired")
	}
	if !IsExpired(fmt.Errorf("load sellers: %w", domain.ErrSessionExpired)) {
		t.Error("Expected wrapped ErrSessionExpired to be reported as expired")
	}
	if IsExpired(&domain.APIError{Status: http.StatusForbidden, Message: "forbidden"}) {
		t.Error("Expected APIError not to be reported as expired")
	}
}
