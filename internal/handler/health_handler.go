package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"shop-admin/internal/messaging"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func (r HealthCheckResult) healthy() bool {
	return r.Status == "up" || r.Status == "disabled"
}

// Ready checks the API, the credential store and, when configured, RabbitMQ.
// A nil rmq means event publishing is disabled.
func Ready(apiBaseURL string, client *http.Client, store Pinger, rmq *messaging.RabbitMQ) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		apiResult := make(chan HealthCheckResult, 1)
		storeResult := make(chan HealthCheckResult, 1)

		go func() {
			apiResult <- checkAPI(ctx, client, apiBaseURL)
		}()

		go func() {
			storeResult <- checkStore(ctx, store)
		}()

		checks := map[string]HealthCheckResult{
			"api":         <-apiResult,
			"credentials": <-storeResult,
			"rabbitmq":    checkRabbitMQ(rmq),
		}

		response := map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    checks,
		}

		allHealthy := true
		for _, c := range checks {
			allHealthy = allHealthy && c.healthy()
		}

		w.Header().Set("Content-Type", "application/json")
		if allHealthy {
			response["status"] = "ready"
			w.WriteHeader(http.StatusOK)
		} else {
			response["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}

// checkAPI treats any HTTP answer as reachable; only transport failures count as down
func checkAPI(ctx context.Context, client *http.Client, url string) HealthCheckResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthCheckResult{Status: "down", Error: err.Error()}
	}

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return HealthCheckResult{
			Status:    "down",
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}
	resp.Body.Close()

	return HealthCheckResult{
		Status:    "up",
		LatencyMs: latency.Milliseconds(),
		Metadata: map[string]interface{}{
			"status_code": resp.StatusCode,
		},
	}
}

func checkStore(ctx context.Context, store Pinger) HealthCheckResult {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return HealthCheckResult{
			Status:    "down",
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}
	return HealthCheckResult{
		Status:    "up",
		LatencyMs: latency.Milliseconds(),
	}
}

func checkRabbitMQ(rmq *messaging.RabbitMQ) HealthCheckResult {
	if rmq == nil {
		return HealthCheckResult{Status: "disabled"}
	}
	if rmq.IsClosed() {
		return HealthCheckResult{
			Status: "down",
			Error:  "connection closed",
		}
	}
	return HealthCheckResult{Status: "up"}
}
