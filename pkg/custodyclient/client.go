/**
 * @description
 * This package provides a client for the settlement network's custody API, the
 * external collaborator that actually moves settlement-asset value between
 * holder identities. The escrow core treats it as an abstract value-transfer
 * capability; this client encapsulates the authenticated HTTP requests, request
 * body construction, and response parsing.
 *
 * A declined transfer (insufficient balance, missing approval) surfaces as a
 * typed *DeclineError so callers can distinguish a business decline from a
 * transport failure.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package custodyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the custody API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new custody API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest is the payload for a custody value transfer.
type TransferRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"` // minor units
	Reference string `json:"reference"`
}

// TransferResponse is the expected response from the custody transfer endpoint.
type TransferResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// DeclineError represents a rejected transfer from the custody API.
type DeclineError struct {
	StatusCode int
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *DeclineError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("custody api declined transfer: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("custody api declined transfer (status %d)", e.StatusCode)
}

// BalanceResponse is the balance view of one holder identity.
type BalanceResponse struct {
	Data struct {
		Address          string `json:"address"`
		AvailableBalance int64  `json:"available_balance"`
	} `json:"data"`
}

// Transfer moves settlement-asset value between two holder identities. It
// returns a *DeclineError when the custody API rejects the movement.
func (c *Client) Transfer(ctx context.Context, from, to string, amount int64, reference string) error {
	body, err := json.Marshal(TransferRequest{From: from, To: to, Amount: amount, Reference: reference})
	if err != nil {
		return fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-custody-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		decline := &DeclineError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, decline); err != nil {
			log.Printf("level=warn component=custody_client op=transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return decline
		}
		log.Printf("level=warn component=custody_client op=transfer status=%d from=%s to=%s amount=%d", resp.StatusCode, from, to, amount)
		return decline
	}

	var success TransferResponse
	if err := json.Unmarshal(bodyBytes, &success); err != nil {
		return fmt.Errorf("failed to decode transfer response: %w", err)
	}
	return nil
}

// GetBalance fetches the available balance of one holder identity.
func (c *Client) GetBalance(ctx context.Context, address string) (*BalanceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/balances/"+address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-custody-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("custody api balance request failed (status %d)", resp.StatusCode)
	}

	var balance BalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return &balance, nil
}
