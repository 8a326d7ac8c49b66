package collaborators

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
)

func TestInventory_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/inventory/P-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"productId":"P-1","productName":"Widget","available":true,"quantity":5,"unitPrice":1000}`))
	}))
	defer srv.Close()

	res, err := NewInventory(srv.URL+"/", nil).Check(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	want := orders.InventoryResult{Available: true, Quantity: 5, UnitPrice: 1000}
	if res != want {
		t.Fatalf("got %+v, want %+v", res, want)
	}
}

func TestInventory_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewInventory(srv.URL, nil).Check(context.Background(), "P-1")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable || se.Service != "inventory" {
		t.Fatalf("expected inventory StatusError 503, got %v", err)
	}
}

func TestInventory_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := NewInventory(srv.URL, nil).Check(context.Background(), "P-1"); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestInventory_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewInventory(srv.URL, nil).Check(ctx, "P-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPayment_Settle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body PaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.OrderID != "o-1" || body.CustomerID != "C1" || body.Amount != 3000 || body.Currency != "JPY" {
			t.Errorf("unexpected payment body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(PaymentResponse{PaymentID: "pay-1", OrderID: "o-1", Status: "SUCCESS", TransactionID: "tx-9"})
	}))
	defer srv.Close()

	res, err := NewPayment(srv.URL, srv.Client()).Settle(context.Background(), "o-1", "C1", 3000)
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if res.Outcome != orders.PaymentSuccess || res.TransactionID != "tx-9" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPayment_PendingAndFailedPassThrough(t *testing.T) {
	for _, status := range []string{"FAILED", "PENDING"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(PaymentResponse{Status: status})
		}))
		res, err := NewPayment(srv.URL, nil).Settle(context.Background(), "o-1", "C1", 10)
		srv.Close()
		if err != nil {
			t.Fatalf("Settle error for %s: %v", status, err)
		}
		if string(res.Outcome) != status {
			t.Fatalf("expected %s, got %s", status, res.Outcome)
		}
	}
}

func TestPayment_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewPayment(srv.URL, nil).Settle(context.Background(), "o-1", "C1", 10)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
}
