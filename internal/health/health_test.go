package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckSucceedsImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result, err := Check(context.Background(), server.URL, Options{Timeout: 5 * time.Second, Interval: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Healthy {
		t.Errorf("expected healthy result, got %+v", result)
	}
	if result.Retries != 0 {
		t.Errorf("Retries = %d, want 0 on first success", result.Retries)
	}
}

func TestCheckRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result, err := Check(context.Background(), server.URL, Options{
		Timeout:  5 * time.Second,
		Interval: 50 * time.Millisecond,
		Backoff:  1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Healthy {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if result.Retries != 2 {
		t.Errorf("Retries = %d, want 2", result.Retries)
	}
}

func TestCheckFailsWithinDeadline(t *testing.T) {
	start := time.Now()
	result, err := Check(context.Background(), "http://127.0.0.1:1/", Options{
		Timeout:  2 * time.Second,
		Interval: 300 * time.Millisecond,
		Backoff:  1.5,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Healthy {
		t.Error("expected an unhealthy result against a closed port")
	}
	if elapsed > 7*time.Second {
		t.Errorf("elapsed = %v, expected bounded by timeout plus per-request timeout", elapsed)
	}
}

func TestCheckRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Check(ctx, "http://127.0.0.1:1/", Options{Timeout: 10 * time.Second, Interval: 1 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Healthy {
		t.Error("expected unhealthy result on cancelled context")
	}
}
