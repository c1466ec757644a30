/**
 * @description
 * PayPlus gateway client. Charges and refunds go through the PayPlus REST API,
 * authenticated with an api-key/secret-key header pair.
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

const payplusProviderName = "payplus"

// PayPlusClient is a client for the PayPlus REST API.
type PayPlusClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

// NewPayPlusClient creates a new PayPlus client.
func NewPayPlusClient(baseURL, apiKey, secretKey string) *PayPlusClient {
	return &PayPlusClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *PayPlusClient) Name() string { return payplusProviderName }

type payplusChargeRequest struct {
	TransactionType string `json:"transaction_type"` // "Charge"
	Amount          int64  `json:"amount"`           // in agorot
	Currency        string `json:"currency_code"`
	CustomerUID     string `json:"token"`
	MoreInfo        string `json:"more_info"` // carries our payment id
	Description     string `json:"item_name"`
}

type payplusResponse struct {
	Results struct {
		Status      string `json:"status"` // "success" or "error"
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"results"`
	Data struct {
		TransactionUID string `json:"transaction_uid"`
		StatusCode     string `json:"status_code"` // "000" is approved
	} `json:"data"`
}

// payplusErrorResponse represents a protocol-level error from PayPlus.
type payplusErrorResponse struct {
	Results struct {
		Status      string `json:"status"`
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"results"`
}

func (e *payplusErrorResponse) Error() string {
	return fmt.Sprintf("payplus api error: code %d - %s", e.Results.Code, e.Results.Description)
}

// Charge performs a token charge through PayPlus.
func (c *PayPlusClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = "ILS"
	}
	payload := payplusChargeRequest{
		TransactionType: "Charge",
		Amount:          req.Amount,
		Currency:        currency,
		CustomerUID:     req.PaymentMethodID,
		MoreInfo:        req.ReferenceID,
		Description:     req.Description,
	}

	var resp payplusResponse
	if err := c.do(ctx, "/api/v1.0/Transactions/Charge", payload, &resp); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		TransactionID: resp.Data.TransactionUID,
		Approved:      resp.Results.Status == "success" && resp.Data.StatusCode == "000",
	}
	if !result.Approved {
		result.FailureReason = fmt.Sprintf("declined (status %s): %s", resp.Data.StatusCode, resp.Results.Description)
	}
	return result, nil
}

// Refund reverses a previously approved PayPlus transaction.
func (c *PayPlusClient) Refund(ctx context.Context, transactionID string, amount int64) (*RefundResult, error) {
	payload := map[string]interface{}{
		"transaction_uid": transactionID,
		"amount":          amount,
	}

	var resp payplusResponse
	if err := c.do(ctx, "/api/v1.0/Transactions/RefundByTransactionUID", payload, &resp); err != nil {
		return nil, err
	}

	result := &RefundResult{
		RefundID: resp.Data.TransactionUID,
		Approved: resp.Results.Status == "success",
	}
	if !result.Approved {
		result.Reason = resp.Results.Description
	}
	return result, nil
}

func (c *PayPlusClient) do(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payplus request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create payplus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("secret-key", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute payplus request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read payplus response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp payplusErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=payplus_client status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return fmt.Errorf("payplus returned status %d", resp.StatusCode)
		}
		log.Printf("level=warn component=payplus_client status=%d code=%d msg=%q", resp.StatusCode, errResp.Results.Code, errResp.Results.Description)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode payplus response: %w", err)
	}
	return nil
}
