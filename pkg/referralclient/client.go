/**
 * @description
 * This package provides a client for communicating with the referral-service.
 * It encapsulates the logic for making API calls to the referral service,
 * specifically for looking up who referred a given professional.
 */
package referralclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the referral service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new referral service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ReferrerResponse defines the response from the referrer lookup endpoint.
type ReferrerResponse struct {
	ProfessionalID uuid.UUID  `json:"professional_id"`
	ReferrerID     *uuid.UUID `json:"referrer_id"` // nil when the professional has no referrer
	ReferrerTier   string     `json:"referrer_tier,omitempty"`
}

// ReferrerOf calls the referral-service for the direct referrer of a professional.
// A professional with no referrer returns a response with a nil ReferrerID.
func (c *Client) ReferrerOf(ctx context.Context, professionalID uuid.UUID) (*ReferrerResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("referral service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/referrals/%s/referrer", c.baseURL, professionalID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to referral service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown professional; treat as no referrer rather than failing
		// commission recording.
		return &ReferrerResponse{ProfessionalID: professionalID}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("referral service returned error status %d", resp.StatusCode)
	}

	var response ReferrerResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}
