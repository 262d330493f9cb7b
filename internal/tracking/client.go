// Package tracking is the best-effort adapter to the external
// milestone-tracking service. Every failure it can produce is advisory; the
// lifecycle engine logs and moves on.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwombeki/opensrp-server/config"
	"github.com/mwombeki/opensrp-server/pkg/circuitbreaker"
	"github.com/mwombeki/opensrp-server/pkg/logger"
	"github.com/mwombeki/opensrp-server/pkg/metrics"
)

const (
	trackPath          = "ws/rest/v1/scheduletracker/track"
	trackMilestonePath = "ws/rest/v1/scheduletracker/trackmilestone"
	personByUserPath   = "ws/rest/v1/scheduletracker/person"

	// DateFormat is the date shape the tracker accepts.
	DateFormat = "2006-01-02"
)

var (
	// ErrTransport covers connection, timeout and non-2xx failures.
	ErrTransport = errors.New("tracking transport error")
	// ErrMalformedResponse covers unparseable or incomplete reply bodies.
	ErrMalformedResponse = errors.New("malformed tracking response")
	// ErrRecipientNotFound is returned when a provider cannot be resolved.
	ErrRecipientNotFound = errors.New("tracking recipient not found")
)

// EnrollmentSnapshot is the flat record mirrored per enrollment. Field names
// follow the tracker's wire contract.
type EnrollmentSnapshot struct {
	Beneficiary        string `json:"beneficiary"`
	BeneficiaryRole    string `json:"beneficiaryRole"`
	Schedule           string `json:"schedule"`
	PreferredAlertTime string `json:"preferredAlertTime"`
	ReferenceDate      string `json:"referenceDate"`
	ReferenceDateType  string `json:"referenceDateType"`
	DateEnrolled       string `json:"dateEnrolled"`
	CurrentMilestone   string `json:"currentMilestone"`
	Status             string `json:"status"`
}

// MilestoneUpdate mirrors one alert occurrence and its fulfillment state.
type MilestoneUpdate struct {
	Track              string  `json:"track"`
	Milestone          string  `json:"milestone"`
	AlertRecipient     string  `json:"alertRecipient"`
	AlertRecipientRole string  `json:"alertRecipientRole"`
	FulfillmentDate    *string `json:"fulfillmentDate"`
	Status             string  `json:"status"`
	AlertStartDate     string  `json:"alertStartDate"`
	AlertExpiryDate    string  `json:"alertExpiryDate"`
	ActionType         string  `json:"actionType"`
}

// Client is the reconciliation sink consumed by the lifecycle engine.
type Client interface {
	PostEnrollmentSnapshot(ctx context.Context, snapshot EnrollmentSnapshot) (string, error)
	PostMilestoneUpdate(ctx context.Context, update MilestoneUpdate) error
	ResolveRecipient(ctx context.Context, providerID string) (string, error)
}

type httpClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	cb       *circuitbreaker.CircuitBreaker
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewHTTPClient(cfg config.TrackingConfig, log *logger.Logger, m *metrics.Metrics) Client {
	return &httpClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "tracking",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		logger:  log,
		metrics: m,
	}
}

func (c *httpClient) PostEnrollmentSnapshot(ctx context.Context, snapshot EnrollmentSnapshot) (string, error) {
	body, err := c.post(ctx, trackPath, snapshot)
	if err != nil {
		return "", err
	}

	var reply struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decoding track reply: %w", ErrMalformedResponse)
	}
	if reply.UUID == "" {
		return "", fmt.Errorf("track reply missing uuid: %w", ErrMalformedResponse)
	}
	return reply.UUID, nil
}

func (c *httpClient) PostMilestoneUpdate(ctx context.Context, update MilestoneUpdate) error {
	_, err := c.post(ctx, trackMilestonePath, update)
	return err
}

func (c *httpClient) ResolveRecipient(ctx context.Context, providerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s?user=%s", c.baseURL, personByUserPath, url.QueryEscape(providerID))

	var body []byte
	err := c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.SetBasicAuth(c.username, c.password)

		var reqErr error
		body, reqErr = c.do(req)
		return reqErr
	})
	if err != nil {
		return "", err
	}

	var reply struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decoding person reply: %w", ErrMalformedResponse)
	}
	if reply.UUID == "" {
		return "", fmt.Errorf("provider %s: %w", providerID, ErrRecipientNotFound)
	}
	return reply.UUID, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	timer := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.TrackingLatency.Observe(time.Since(timer).Seconds())
		}
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var body []byte
	err = c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.username, c.password)

		var reqErr error
		body, reqErr = c.do(req)
		return reqErr
	})

	if c.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.metrics.TrackingPushes.WithLabelValues(path, result).Inc()
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", ErrTransport)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned %d: %w", req.Method, req.URL.Path, resp.StatusCode, ErrTransport)
	}
	return body, nil
}
