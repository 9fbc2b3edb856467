// Package delivery sends finished report artifacts to the regulator
// endpoint. The pipeline only depends on the Deliverer contract; transport
// details stay behind it.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"wellpipe/config"

	"github.com/apex/log"
)

// Artifact is one serialized report ready for delivery
type Artifact struct {
	Filename string
	Body     []byte
}

// Receipt is the regulator's acknowledgment of a delivery
type Receipt struct {
	StatusCode int
	Payload    string
}

// Deliverer sends one artifact and reports a deterministic outcome
type Deliverer interface {
	Deliver(ctx context.Context, artifact *Artifact) (*Receipt, error)
}

// HTTPDeliverer posts artifacts to the configured regulator URL
type HTTPDeliverer struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPDeliverer creates a deliverer for the regulator endpoint
func NewHTTPDeliverer(cfg *config.Config) *HTTPDeliverer {
	return &HTTPDeliverer{
		url:    cfg.RegulatorURL,
		apiKey: cfg.RegulatorAPIKey,
		client: &http.Client{Timeout: cfg.DeliveryTimeout},
	}
}

// Deliver posts the artifact body. Any non-2xx status is a failed delivery;
// the response payload is preserved either way for the report record.
func (d *HTTPDeliverer) Deliver(ctx context.Context, artifact *Artifact) (*Receipt, error) {
	if d.url == "" {
		return nil, fmt.Errorf("regulator URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(artifact.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Report-Filename", artifact.Filename)
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery response: %w", err)
	}

	receipt := &Receipt{StatusCode: resp.StatusCode, Payload: string(body)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return receipt, fmt.Errorf("regulator rejected %s with status %d", artifact.Filename, resp.StatusCode)
	}

	log.Infof("delivered %s (%d bytes) in %v", artifact.Filename, len(artifact.Body), time.Since(start))
	return receipt, nil
}
