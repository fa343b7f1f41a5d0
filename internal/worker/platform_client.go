package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scraper-worker-service/internal/entity"
)

const testSampleSize = 10

// HTTPPlatformClient is the generic record fetcher: one GET against
// the target's configured API endpoint, expecting a JSON array of
// records. Platform-specific clients replace this at wiring time.
type HTTPPlatformClient struct {
	client *http.Client
}

func NewHTTPPlatformClient() *HTTPPlatformClient {
	return &HTTPPlatformClient{client: &http.Client{Timeout: 60 * time.Second}}
}

func (c *HTTPPlatformClient) FetchRecords(ctx context.Context, target *entity.Target, testRun bool) ([]entity.ExtractedRecord, error) {
	if target.APIURL == "" {
		return nil, fmt.Errorf("target %s has no api_url configured", target.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.APIURL, nil)
	if err != nil {
		return nil, err
	}
	if target.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+target.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("platform returned status %d", resp.StatusCode)
	}

	var records []entity.ExtractedRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	if testRun && len(records) > testSampleSize {
		records = records[:testSampleSize]
	}
	return records, nil
}
