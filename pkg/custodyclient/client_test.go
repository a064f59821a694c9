package custodyclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransferSendsAuthenticatedRequest(t *testing.T) {
	var seen TransferRequest
	var seenKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		seenKey = r.Header.Get("x-custody-key")
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"tx-1","status":"completed"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	err := client.Transfer(context.Background(), "GSENDER", "GCUSTODY", 1000, "escrow deposit")
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if seenKey != "secret-key" {
		t.Fatalf("expected api key header, got %q", seenKey)
	}
	if seen.From != "GSENDER" || seen.To != "GCUSTODY" || seen.Amount != 1000 || seen.Reference != "escrow deposit" {
		t.Fatalf("unexpected request payload: %+v", seen)
	}
}

func TestTransferDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"title":"InsufficientFunds","detail":"balance too low"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	err := client.Transfer(context.Background(), "GSENDER", "GCUSTODY", 1000, "escrow deposit")
	if err == nil {
		t.Fatal("expected a decline error")
	}

	var decline *DeclineError
	if !errors.As(err, &decline) {
		t.Fatalf("expected *DeclineError, got %T: %v", err, err)
	}
	if decline.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", decline.StatusCode)
	}
	if len(decline.Errors) != 1 || decline.Errors[0].Title != "InsufficientFunds" {
		t.Fatalf("unexpected decline detail: %+v", decline.Errors)
	}
}

func TestTransferDeclineWithUnparsableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	err := client.Transfer(context.Background(), "GSENDER", "GCUSTODY", 1000, "escrow deposit")

	var decline *DeclineError
	if !errors.As(err, &decline) {
		t.Fatalf("expected *DeclineError, got %T: %v", err, err)
	}
	if decline.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", decline.StatusCode)
	}
}

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/balances/GAGENT" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"address":"GAGENT","available_balance":975}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	balance, err := client.GetBalance(context.Background(), "GAGENT")
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	if balance.Data.Address != "GAGENT" || balance.Data.AvailableBalance != 975 {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}
