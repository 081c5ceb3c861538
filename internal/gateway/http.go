package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rupeeflow/walletengine/internal/logging"
)

// HTTPGateway talks to a vendor settlement rail over JSON/HTTP.
//
// Submit posts the settlement; the vendor replies synchronously with a
// status and its own reference. Vendors that settle asynchronously reply
// PENDING and later hit our callback endpoint with the same reference.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client for a vendor rail.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type vendorRequest struct {
	ClientRef string `json:"clientRef"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Target    string `json:"target"`
}

type vendorResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (g *HTTPGateway) Submit(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(vendorRequest{
		ClientRef: req.TransactionID,
		Kind:      req.Kind,
		Amount:    req.Amount,
		Target:    req.Target,
	})
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, http.MethodPost, g.baseURL+"/settlements", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: vendor returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// A 4xx is a definitive rejection, not an outage
		msg := readMessage(resp.Body)
		return &Result{Status: StatusFailed, ExternalRef: req.TransactionID, Message: msg}, nil
	}

	var vr vendorResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	result := &Result{
		Status:      normalizeStatus(vr.Status),
		ExternalRef: vr.Reference,
		Message:     vr.Message,
	}
	if result.ExternalRef == "" {
		result.ExternalRef = req.TransactionID
	}

	logging.L(ctx).Debug("gateway submit",
		"transactionId", req.TransactionID,
		"status", result.Status,
		"externalRef", result.ExternalRef)

	return result, nil
}

func (g *HTTPGateway) QueryStatus(ctx context.Context, externalRef string) (*Result, error) {
	resp, err := g.do(ctx, http.MethodGet, g.baseURL+"/settlements/"+externalRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnknownRef
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: vendor returned %d", ErrUnavailable, resp.StatusCode)
	}

	var vr vendorResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return &Result{
		Status:      normalizeStatus(vr.Status),
		ExternalRef: externalRef,
		Message:     vr.Message,
	}, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	return g.client.Do(req)
}

// normalizeStatus maps vendor status vocabulary onto ours. Anything
// unrecognized is treated as PENDING so reconciliation decides later.
func normalizeStatus(s string) string {
	switch s {
	case "SUCCESS", "COMPLETED", "SETTLED":
		return StatusSuccess
	case "FAILED", "REJECTED", "DECLINED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func readMessage(r io.Reader) string {
	var vr vendorResponse
	if err := json.NewDecoder(r).Decode(&vr); err == nil && vr.Message != "" {
		return vr.Message
	}
	return "rejected by vendor"
}
