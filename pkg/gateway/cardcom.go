/**
 * @description
 * Cardcom gateway client. Uses Cardcom's low-profile JSON API, authenticated
 * with a terminal number and API name/password pair.
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

const cardcomProviderName = "cardcom"

// CardcomClient is a client for the Cardcom transactions API.
type CardcomClient struct {
	baseURL        string
	terminalNumber string
	apiName        string
	apiPassword    string
	httpClient     *http.Client
}

// NewCardcomClient creates a new Cardcom client.
func NewCardcomClient(baseURL, terminalNumber, apiName, apiPassword string) *CardcomClient {
	return &CardcomClient{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		terminalNumber: terminalNumber,
		apiName:        apiName,
		apiPassword:    apiPassword,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CardcomClient) Name() string { return cardcomProviderName }

type cardcomChargeRequest struct {
	TerminalNumber string  `json:"TerminalNumber"`
	APIName        string  `json:"ApiName"`
	APIPassword    string  `json:"ApiPassword"`
	Amount         float64 `json:"Amount"` // Cardcom expects shekels with decimals
	CoinID         int     `json:"CoinId"` // 1 = ILS
	Token          string  `json:"Token"`
	ReturnValue    string  `json:"ReturnValue"` // echoed back; carries our payment id
	Description    string  `json:"ProductName"`
}

type cardcomChargeResponse struct {
	ResponseCode    int    `json:"ResponseCode"` // 0 is approved
	Description     string `json:"Description"`
	InternalDealNum string `json:"InternalDealNumber"`
}

type cardcomRefundRequest struct {
	TerminalNumber  string  `json:"TerminalNumber"`
	APIName         string  `json:"ApiName"`
	APIPassword     string  `json:"ApiPassword"`
	InternalDealNum string  `json:"InternalDealNumber"`
	Amount          float64 `json:"RefundAmount"`
}

type cardcomRefundResponse struct {
	ResponseCode int    `json:"ResponseCode"`
	Description  string `json:"Description"`
	RefundDealID string `json:"RefundDealId"`
}

// Charge performs a token charge through Cardcom.
func (c *CardcomClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := cardcomChargeRequest{
		TerminalNumber: c.terminalNumber,
		APIName:        c.apiName,
		APIPassword:    c.apiPassword,
		Amount:         float64(req.Amount) / 100.0,
		CoinID:         1,
		Token:          req.PaymentMethodID,
		ReturnValue:    req.ReferenceID,
		Description:    req.Description,
	}

	var resp cardcomChargeResponse
	if err := c.do(ctx, "/api/v11/Transactions/Transaction", payload, &resp); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		TransactionID: resp.InternalDealNum,
		Approved:      resp.ResponseCode == 0,
	}
	if !result.Approved {
		result.FailureReason = fmt.Sprintf("declined (code %d): %s", resp.ResponseCode, resp.Description)
	}
	return result, nil
}

// Refund reverses a previously approved Cardcom deal.
func (c *CardcomClient) Refund(ctx context.Context, transactionID string, amount int64) (*RefundResult, error) {
	payload := cardcomRefundRequest{
		TerminalNumber:  c.terminalNumber,
		APIName:         c.apiName,
		APIPassword:     c.apiPassword,
		InternalDealNum: transactionID,
		Amount:          float64(amount) / 100.0,
	}

	var resp cardcomRefundResponse
	if err := c.do(ctx, "/api/v11/Transactions/RefundByTransactionId", payload, &resp); err != nil {
		return nil, err
	}

	result := &RefundResult{
		RefundID: resp.RefundDealID,
		Approved: resp.ResponseCode == 0,
	}
	if !result.Approved {
		result.Reason = resp.Description
	}
	return result, nil
}

func (c *CardcomClient) do(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal cardcom request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create cardcom request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute cardcom request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read cardcom response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=cardcom_client status=%d msg=\"non-2xx response\"", resp.StatusCode)
		return fmt.Errorf("cardcom returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode cardcom response: %w", err)
	}
	return nil
}
