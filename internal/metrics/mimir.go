package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// MimirClient pushes Prometheus remote-write requests, one tenant per
// request.
type MimirClient struct {
	url          string
	tenantHeader string
	authToken    string
	client       *http.Client
}

func NewMimirClient(url, tenantHeader, authToken string) *MimirClient {
	if tenantHeader == "" {
		tenantHeader = "X-Scope-OrgID"
	}
	return &MimirClient{
		url:          url,
		tenantHeader: tenantHeader,
		authToken:    authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (m *MimirClient) Push(ctx context.Context, tenantID string, timeseries []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{
		Timeseries: timeseries,
	}

	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url+"/api/v1/push", bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	httpReq.Header.Set(m.tenantHeader, tenantID)
	if m.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.authToken)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remote write failed with status %d", resp.StatusCode)
	}

	return nil
}
