package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultTimeout bounds one analyzer round trip. The client resubmits on
// its own cadence, so a slow analysis is dropped rather than queued.
const defaultTimeout = 5 * time.Second

// HTTPClassifier calls an external analyzer service over HTTP.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

// HTTPConfig configures an HTTPClassifier.
type HTTPConfig struct {
	// Endpoint is the analyzer URL, e.g. "http://analyzer:9000/analyze".
	Endpoint string

	// Timeout bounds a single classification call. Defaults to 5s.
	Timeout time.Duration
}

// NewHTTPClassifier creates a classifier backed by an analyzer service.
func NewHTTPClassifier(cfg HTTPConfig) (*HTTPClassifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("analyzer endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClassifier{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// analyzeRequest is the wire format sent to the analyzer.
type analyzeRequest struct {
	Image      string    `json:"image"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
}

// Classify posts the frame to the analyzer and decodes its observation.
func (c *HTTPClassifier) Classify(ctx context.Context, frame Frame) (Observation, error) {
	body, err := json.Marshal(analyzeRequest{
		Image:      base64.StdEncoding.EncodeToString(frame.Data),
		CapturedAt: frame.CapturedAt,
	})
	if err != nil {
		return Observation{}, fmt.Errorf("encoding frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Observation{}, fmt.Errorf("building analyzer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("calling analyzer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Observation{}, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var obs Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return Observation{}, fmt.Errorf("decoding analyzer response: %w", err)
	}
	return obs, nil
}

// Verify interface compliance.
var _ Classifier = (*HTTPClassifier)(nil)
