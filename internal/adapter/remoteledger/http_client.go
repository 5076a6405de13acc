package remoteledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/parametriq/settlement-core/internal/logger"
)

// HTTPClient talks to the remote ledger's event API over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) ListEvents(ctx context.Context, eventType string, afterSequence int64) ([]Event, error) {
	query := url.Values{}
	query.Set("eventType", eventType)
	query.Set("afterSequence", strconv.FormatInt(afterSequence, 10))

	var events []Event
	if err := c.getJSON(ctx, "/events?"+query.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *HTTPClient) ListBySubject(ctx context.Context, subject string) ([]Event, error) {
	query := url.Values{}
	query.Set("subject", subject)

	var events []Event
	if err := c.getJSON(ctx, "/events?"+query.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *HTTPClient) Append(ctx context.Context, ev Event) (Event, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return Event{}, fmt.Errorf("build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("remote ledger append failed", err, logger.Fields{
			"eventType": ev.EventType,
			"subject":   ev.Subject,
		})
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	defer resp.Body.Close()

	// 200 means the idempotency key was already recorded; both carry the
	// stored event in the body.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Event{}, fmt.Errorf("append event: remote ledger returned status %d", resp.StatusCode)
	}

	var stored Event
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return Event{}, fmt.Errorf("decode appended event: %w", err)
	}
	return stored, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("remote ledger request failed", err, logger.Fields{
			"path": path,
		})
		return fmt.Errorf("query remote ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query remote ledger: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode remote ledger response: %w", err)
	}
	return nil
}
