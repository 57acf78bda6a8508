// Package services provides external service integrations for the application
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/amirphl/Kagemusha/config"
	"github.com/amirphl/Kagemusha/utils"
)

// CreateOrderRequest describes a new advertising order on the external platform
type CreateOrderRequest struct {
	PlatformUserID string  `json:"platform_user_id"`
	WorkID         uint    `json:"work_id"`
	Budget         float64 `json:"budget"`
	BidAmount      float64 `json:"bid_amount"`
}

// OrderPerformance holds the counters the platform reports for an order
type OrderPerformance struct {
	OrderID     string    `json:"order_id"`
	Spent       float64   `json:"spent"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Leads       int64     `json:"leads"`
	Followers   int64     `json:"followers"`
	Finished    bool      `json:"finished"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// CostPerLead returns the per-lead cost, zero when no leads were produced
func (p *OrderPerformance) CostPerLead() float64 {
	if p.Leads == 0 {
		return 0
	}
	return p.Spent / float64(p.Leads)
}

// CTR returns clicks over impressions, zero when nothing was shown
func (p *OrderPerformance) CTR() float64 {
	if p.Impressions == 0 {
		return 0
	}
	return float64(p.Clicks) / float64(p.Impressions)
}

// AccountSnapshot holds account-level counters from the platform
type AccountSnapshot struct {
	PlatformUserID string `json:"platform_user_id"`
	Followers      int64  `json:"followers"`
	Works          int64  `json:"works"`
}

// AdPlatformClient is the boundary to the external advertising platform. The
// platform's own semantics are a black box; the client only creates, pauses,
// stops, and queries orders.
type AdPlatformClient interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (string, error)
	PauseOrder(ctx context.Context, orderID string) error
	StopOrder(ctx context.Context, orderID string) error
	QueryOrder(ctx context.Context, orderID string) (*OrderPerformance, error)
	QueryAccount(ctx context.Context, platformUserID string) (*AccountSnapshot, error)
}

// HTTPAdPlatformClient talks to the real platform over HTTP with bearer auth
// and a per-call timeout ceiling.
type HTTPAdPlatformClient struct {
	cfg    config.AdPlatformConfig
	client *http.Client
}

func NewAdPlatformClient(cfg *config.AdPlatformConfig) AdPlatformClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdPlatformClient{
		cfg:    *cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type platformResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *HTTPAdPlatformClient) CreateOrder(ctx context.Context, req *CreateOrderRequest) (string, error) {
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/orders", req, &out); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("create order: empty order id in response")
	}
	return out.OrderID, nil
}

func (c *HTTPAdPlatformClient) PauseOrder(ctx context.Context, orderID string) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/pause", nil, nil); err != nil {
		return fmt.Errorf("pause order %s: %w", orderID, err)
	}
	return nil
}

func (c *HTTPAdPlatformClient) StopOrder(ctx context.Context, orderID string) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/stop", nil, nil); err != nil {
		return fmt.Errorf("stop order %s: %w", orderID, err)
	}
	return nil
}

func (c *HTTPAdPlatformClient) QueryOrder(ctx context.Context, orderID string) (*OrderPerformance, error) {
	var out OrderPerformance
	if err := c.call(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, &out); err != nil {
		return nil, fmt.Errorf("query order %s: %w", orderID, err)
	}
	return &out, nil
}

func (c *HTTPAdPlatformClient) QueryAccount(ctx context.Context, platformUserID string) (*AccountSnapshot, error) {
	var out AccountSnapshot
	if err := c.call(ctx, http.MethodGet, "/api/v1/accounts/"+platformUserID, nil, &out); err != nil {
		return nil, fmt.Errorf("query account %s: %w", platformUserID, err)
	}
	return &out, nil
}

func (c *HTTPAdPlatformClient) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIDomain+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http status: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp platformResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("failed to decode platform response: %w", err)
	}
	if !apiResp.Success {
		return fmt.Errorf("platform call failed: %s", apiResp.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("failed to decode platform response data: %w", err)
	}
	return nil
}

// MockAdPlatformClient is an in-memory client for tests and local runs. It
// records every call and serves scripted performance counters.
type MockAdPlatformClient struct {
	mu           sync.Mutex
	nextOrderSeq int
	orders       map[string]*OrderPerformance
	paused       map[string]bool
	stopped      map[string]bool
	calls        []string

	// CreateErr, PauseErr, StopErr, QueryErr inject failures when set
	CreateErr error
	PauseErr  error
	StopErr   error
	QueryErr  error
}

func NewMockAdPlatformClient() *MockAdPlatformClient {
	return &MockAdPlatformClient{
		orders:  make(map[string]*OrderPerformance),
		paused:  make(map[string]bool),
		stopped: make(map[string]bool),
	}
}

// SetPerformance scripts the counters returned for an order
func (m *MockAdPlatformClient) SetPerformance(orderID string, perf OrderPerformance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perf.OrderID = orderID
	m.orders[orderID] = &perf
}

// Calls returns the recorded call descriptions in order
func (m *MockAdPlatformClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// IsPaused reports whether a pause call was recorded for the order
func (m *MockAdPlatformClient) IsPaused(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[orderID]
}

// IsStopped reports whether a stop call was recorded for the order
func (m *MockAdPlatformClient) IsStopped(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[orderID]
}

func (m *MockAdPlatformClient) CreateOrder(ctx context.Context, req *CreateOrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.nextOrderSeq++
	orderID := fmt.Sprintf("mock-order-%d", m.nextOrderSeq)
	m.calls = append(m.calls, "create:"+orderID)
	if _, ok := m.orders[orderID]; !ok {
		m.orders[orderID] = &OrderPerformance{
			OrderID:     orderID,
			PeriodStart: utils.UTCNow(),
			PeriodEnd:   utils.UTCNow(),
		}
	}
	return orderID, nil
}

func (m *MockAdPlatformClient) PauseOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PauseErr != nil {
		return m.PauseErr
	}
	m.calls = append(m.calls, "pause:"+orderID)
	m.paused[orderID] = true
	return nil
}

func (m *MockAdPlatformClient) StopOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopErr != nil {
		return m.StopErr
	}
	m.calls = append(m.calls, "stop:"+orderID)
	m.stopped[orderID] = true
	return nil
}

func (m *MockAdPlatformClient) QueryOrder(ctx context.Context, orderID string) (*OrderPerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	m.calls = append(m.calls, "query:"+orderID)
	perf, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	cp := *perf
	return &cp, nil
}

func (m *MockAdPlatformClient) QueryAccount(ctx context.Context, platformUserID string) (*AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "account:"+platformUserID)
	return &AccountSnapshot{PlatformUserID: platformUserID}, nil
}
