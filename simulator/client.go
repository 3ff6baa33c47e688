package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/wastefleet/api"
	"github.com/kilianp07/wastefleet/infra/mqtt"
)

type apiError struct {
	status int
	api.ErrorResponse
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func httpDefaults(client *http.Client, baseURL string) (*http.Client, string) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return client, strings.TrimRight(baseURL, "/")
}

// HTTPCompleter starts then completes the request through the service API
// rooted at baseURL.
func HTTPCompleter(baseURL string, client *http.Client) Completer {
	client, base := httpDefaults(client, baseURL)
	return func(ctx context.Context, a mqtt.Assignment) error {
		for _, step := range []string{"start", "complete"} {
			url := fmt.Sprintf("%s/api/collections/%s/%s", base, a.RequestID, step)
			if err := post(ctx, client, url, nil); err != nil {
				return fmt.Errorf("%s %s: %w", step, a.RequestID, err)
			}
		}
		return nil
	}
}

func post(ctx context.Context, client *http.Client, url string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	var e api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Code == "" {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &apiError{status: resp.StatusCode, ErrorResponse: e}
}

// RegisterBins creates the simulated bins through the service API under
// owner. Bins that already exist are left alone.
func RegisterBins(ctx context.Context, baseURL string, client *http.Client, owner string, bins []*SimulatedBin) (int, error) {
	client, base := httpDefaults(client, baseURL)
	created := 0
	for _, b := range bins {
		body := map[string]any{
			"bucket_id":       b.Code,
			"name":            "Simulated " + b.Code,
			"user_id":         owner,
			"capacity":        100,
			"fill_percentage": round2(b.Fill()),
		}
		err := post(ctx, client, base+"/api/buckets", body)
		var ae *apiError
		switch {
		case err == nil:
			created++
		case errors.As(err, &ae) && ae.status == http.StatusConflict:
		default:
			return created, fmt.Errorf("register %s: %w", b.Code, err)
		}
	}
	return created, nil
}
