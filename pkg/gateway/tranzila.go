/**
 * @description
 * Tranzila gateway client. Charges and refunds go through Tranzila's JSON
 * transaction API, authenticated with a terminal name and API key.
 */
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const tranzilaProviderName = "tranzila"

// TranzilaClient is a client for the Tranzila transaction API.
type TranzilaClient struct {
	baseURL    string
	terminal   string
	apiKey     string
	httpClient *http.Client
}

// NewTranzilaClient creates a new Tranzila client.
func NewTranzilaClient(baseURL, terminal, apiKey string) *TranzilaClient {
	return &TranzilaClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		terminal:   terminal,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *TranzilaClient) Name() string { return tranzilaProviderName }

type tranzilaChargeRequest struct {
	TerminalName string `json:"terminal_name"`
	TxnCurrency  string `json:"txn_currency_code"`
	Amount       int64  `json:"sum"` // in agorot
	CardToken    string `json:"card_token"`
	Reference    string `json:"reference"`
	Description  string `json:"pdesc"`
}

type tranzilaChargeResponse struct {
	TransactionID string `json:"transaction_id"`
	ResponseCode  string `json:"response_code"` // "000" is approved
	ErrorMessage  string `json:"error_message"`
}

type tranzilaRefundRequest struct {
	TerminalName  string `json:"terminal_name"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"sum"`
}

type tranzilaRefundResponse struct {
	RefundID     string `json:"refund_id"`
	ResponseCode string `json:"response_code"`
	ErrorMessage string `json:"error_message"`
}

// tranzilaErrorResponse represents a protocol-level error from Tranzila.
type tranzilaErrorResponse struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func (e *tranzilaErrorResponse) Error() string {
	return fmt.Sprintf("tranzila api error: %s - %s", e.Code, e.Message)
}

// Charge performs a token charge through Tranzila.
func (c *TranzilaClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = "ILS"
	}
	payload := tranzilaChargeRequest{
		TerminalName: c.terminal,
		TxnCurrency:  currency,
		Amount:       req.Amount,
		CardToken:    req.PaymentMethodID,
		Reference:    req.ReferenceID,
		Description:  req.Description,
	}

	var resp tranzilaChargeResponse
	if err := c.do(ctx, "/v1/transaction/credit_card/create", payload, &resp); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		TransactionID: resp.TransactionID,
		Approved:      resp.ResponseCode == "000",
	}
	if !result.Approved {
		result.FailureReason = fmt.Sprintf("declined (code %s): %s", resp.ResponseCode, resp.ErrorMessage)
	}
	return result, nil
}

// Refund reverses a previously approved Tranzila transaction.
func (c *TranzilaClient) Refund(ctx context.Context, transactionID string, amount int64) (*RefundResult, error) {
	payload := tranzilaRefundRequest{
		TerminalName:  c.terminal,
		TransactionID: transactionID,
		Amount:        amount,
	}

	var resp tranzilaRefundResponse
	if err := c.do(ctx, "/v1/transaction/credit_card/refund", payload, &resp); err != nil {
		return nil, err
	}

	result := &RefundResult{
		RefundID: resp.RefundID,
		Approved: resp.ResponseCode == "000",
	}
	if !result.Approved {
		result.Reason = resp.ErrorMessage
	}
	return result, nil
}

func (c *TranzilaClient) do(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal tranzila request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create tranzila request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-tranzila-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute tranzila request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read tranzila response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp tranzilaErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=tranzila_client status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return fmt.Errorf("tranzila returned status %d", resp.StatusCode)
		}
		log.Printf("level=warn component=tranzila_client status=%d code=%s msg=%q", resp.StatusCode, errResp.Code, errResp.Message)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode tranzila response: %w", err)
	}
	return nil
}
