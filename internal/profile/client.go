// Package profile fetches patient cultural profiles (location, madhab,
// calculation method, buffer preference) from the external profile
// service. The engine treats these values as opaque configuration; the
// only smartness here is the circuit breaker and the fallback profile.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
	"github.com/shifaa-health/salat-engine/internal/prayer"
	"github.com/shifaa-health/salat-engine/pkg/circuitbreaker"
)

// Profile is a patient's scheduling-relevant cultural configuration.
type Profile struct {
	PatientID     string  `json:"patient_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Madhab        string  `json:"madhab"`
	Method        string  `json:"method"`
	BufferMinutes int     `json:"buffer_minutes"`
	Ramadan       bool    `json:"ramadan"`
}

// FallbackProfile is used when the profile service is unreachable and
// the circuit is open: Kuala Lumpur, Shafi, JAKIM, the deployment's
// default population. A reminder computed from the default profile
// beats no reminder.
var FallbackProfile = Profile{
	Latitude:      3.1390,
	Longitude:     101.6869,
	Madhab:        string(prayer.Shafi),
	Method:        string(prayer.MethodJAKIM),
	BufferMinutes: 30,
}

// Client calls the profile service with circuit-breaker protection.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a profile-service client. m may be nil; when set,
// breaker transitions drive the circuit-state gauge.
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cfg := circuitbreaker.DefaultConfig("profile-service")
	if m != nil {
		cfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		}
	}
	cb, err := circuitbreaker.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("profile breaker: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
		logger:  logger,
	}, nil
}

// Get fetches one patient's cultural profile. When the circuit is open
// the documented fallback profile is returned with its PatientID set,
// so schedule optimization keeps working through a profile outage.
func (c *Client) Get(ctx context.Context, patientID string) (Profile, error) {
	result, err := c.breaker.ExecuteWithFallback(ctx,
		func() (interface{}, error) {
			return c.fetch(ctx, patientID)
		},
		func(cause error) (interface{}, error) {
			c.logger.Warn("profile service unavailable, using default profile",
				zap.String("patient_id", patientID),
				zap.Error(cause))
			p := FallbackProfile
			p.PatientID = patientID
			return p, nil
		})
	if err != nil {
		return Profile{}, err
	}
	return result.(Profile), nil
}

func (c *Client) fetch(ctx context.Context, patientID string) (Profile, error) {
	url := fmt.Sprintf("%s/api/v1/patients/%s/cultural-profile", c.baseURL, patientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("profile service returned %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.PatientID == "" {
		p.PatientID = patientID
	}
	return p, nil
}

// stateValue encodes a breaker state for the gauge: 0 closed, 1 open,
// 2 half-open.
func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
