package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistryResolvesProvidersByName(t *testing.T) {
	tranzila := NewTranzilaClient("https://api.example", "terminal", "key")
	cardcom := NewCardcomClient("https://api.example", "1000", "apiname", "secret")

	registry := NewRegistry(tranzila, cardcom)

	p, err := registry.Get("tranzila")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.Name() != "tranzila" {
		t.Fatalf("expected tranzila, got %q", p.Name())
	}

	if _, err := registry.Get("stripe"); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	names := registry.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered providers, got %d", len(names))
	}
}

func TestTranzilaChargeApproved(t *testing.T) {
	var gotAPIKey string
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-tranzila-api-key")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]string{
			"transaction_id": "tz-12345",
			"response_code":  "000",
		})
	}))
	defer server.Close()

	client := NewTranzilaClient(server.URL, "myterminal", "secret-key")
	result, err := client.Charge(context.Background(), ChargeRequest{
		ReferenceID:     "pay-1",
		Amount:          11700,
		Currency:        "ILS",
		PaymentMethodID: "tok-abc",
	})
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approved charge, got %+v", result)
	}
	if result.TransactionID != "tz-12345" {
		t.Fatalf("expected transaction id tz-12345, got %q", result.TransactionID)
	}

	if gotAPIKey != "secret-key" {
		t.Fatalf("expected api key header, got %q", gotAPIKey)
	}
	if gotPayload["terminal_name"] != "myterminal" {
		t.Fatalf("expected terminal in payload, got %v", gotPayload["terminal_name"])
	}
	if gotPayload["sum"].(float64) != 11700 {
		t.Fatalf("expected amount in agorot, got %v", gotPayload["sum"])
	}
}

func TestTranzilaChargeDeclinedIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"transaction_id": "tz-6789",
			"response_code":  "004",
			"error_message":  "refused by issuer",
		})
	}))
	defer server.Close()

	client := NewTranzilaClient(server.URL, "myterminal", "secret-key")
	result, err := client.Charge(context.Background(), ChargeRequest{ReferenceID: "pay-2", Amount: 5000})
	if err != nil {
		t.Fatalf("a decline must not be a transport error: %v", err)
	}
	if result.Approved {
		t.Fatal("expected declined charge")
	}
	if result.FailureReason == "" {
		t.Fatal("expected a failure reason")
	}
}

func TestTranzilaChargeProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error_code": "AUTH-01",
			"message":    "bad api key",
		})
	}))
	defer server.Close()

	client := NewTranzilaClient(server.URL, "myterminal", "wrong-key")
	if _, err := client.Charge(context.Background(), ChargeRequest{ReferenceID: "pay-3", Amount: 5000}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestCardcomChargeConvertsAgorotToShekels(t *testing.T) {
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"InternalDealNumber": "cc-100",
			"ResponseCode":       0,
		})
	}))
	defer server.Close()

	client := NewCardcomClient(server.URL, "1000", "apiname", "secret")
	result, err := client.Charge(context.Background(), ChargeRequest{ReferenceID: "pay-4", Amount: 11700})
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approved charge, got %+v", result)
	}

	// 11700 agorot is 117.00 shekels on the wire.
	if got := gotPayload["Amount"].(float64); got != 117.0 {
		t.Fatalf("expected amount 117.0 shekels, got %v", got)
	}
}

func TestPayPlusChargeReadsNestedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]string{"status": "success"},
			"data": map[string]string{
				"transaction_uid": "pp-900",
				"status_code":     "000",
			},
		})
	}))
	defer server.Close()

	client := NewPayPlusClient(server.URL, "api-key", "secret-key")
	result, err := client.Charge(context.Background(), ChargeRequest{ReferenceID: "pay-5", Amount: 5000})
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approved charge, got %+v", result)
	}
	if result.TransactionID != "pp-900" {
		t.Fatalf("expected transaction id pp-900, got %q", result.TransactionID)
	}
}
