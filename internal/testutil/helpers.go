package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// AssertNoError fails the test immediately if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails with msg unless condition holds
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Error(msg)
	}
}

// AssertFalse fails with msg if condition holds
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Error(msg)
	}
}

// AssertNotContains fails if s contains substring
func AssertNotContains(t *testing.T, s, substring string) {
	t.Helper()
	if strings.Contains(s, substring) {
		t.Errorf("expected %q to not contain %q", s, substring)
	}
}

// AssertHeader fails if the response header key doesn't equal expected
func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, expected string) {
	t.Helper()
	if got := w.Header().Get(key); got != expected {
		t.Errorf("expected header %s=%q, got %q", key, expected, got)
	}
}

// AssertHeaderContains fails if the response header key doesn't contain substring
func AssertHeaderContains(t *testing.T, w *httptest.ResponseRecorder, key, substring string) {
	t.Helper()
	if got := w.Header().Get(key); !strings.Contains(got, substring) {
		t.Errorf("expected header %s to contain %q, got %q", key, substring, got)
	}
}

// DecodeJSON decodes the response body into T
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

// AssertStatusCode fails if the response status code doesn't match expected
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertRedirect fails unless the response is a 303 to location
func AssertRedirect(t *testing.T, w *httptest.ResponseRecorder, location string) {
	t.Helper()
	AssertStatusCode(t, w, http.StatusSeeOther)
	if got := w.Header().Get("Location"); got != location {
		t.Errorf("expected redirect to %q, got %q", location, got)
	}
}

// AssertBodyContains fails if the response body doesn't contain substring
func AssertBodyContains(t *testing.T, w *httptest.ResponseRecorder, substring string) {
	t.Helper()
	if !strings.Contains(w.Body.String(), substring) {
		t.Errorf("expected body to contain %q, got: %s", substring, w.Body.String())
	}
}

// AssertBodyNotContains fails if the response body contains substring
func AssertBodyNotContains(t *testing.T, w *httptest.ResponseRecorder, substring string) {
	t.Helper()
	if strings.Contains(w.Body.String(), substring) {
		t.Errorf("expected body to not contain %q, got: %s", substring, w.Body.String())
	}
}

// NewFormRequest creates a POST request with a url-encoded form body
func NewFormRequest(t *testing.T, target string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
