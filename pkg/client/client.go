// Package client implements the registration side of the gateway protocol:
// services use it to register themselves, keep a heartbeat alive, and
// deregister on shutdown.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"portico/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

const headerServiceToken = "X-Service-Token"

type Config struct {
	// GatewayURL is the base URL of the gateway, e.g. http://localhost:8080.
	GatewayURL  string
	ServiceName string
	Host        string
	Port        int
	HealthURL   string
	Tags        []string
	Metadata    map[string]string

	// ServiceToken is sent on every registry call. Either the gateway's
	// static token or a signed service JWT.
	ServiceToken string

	// RegisterTimeout bounds the startup registration including retries.
	// Registration failure is fatal to the caller: a service that cannot
	// register must not consider itself ready.
	RegisterTimeout time.Duration

	HTTPClient *http.Client
}

// Client registers one service instance with the gateway and maintains its
// heartbeat. One Client owns one instance lifecycle.
type Client struct {
	config     Config
	httpClient *http.Client

	mu          sync.Mutex
	instanceID  string
	heartbeatOn bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Register registers the instance and starts the heartbeat loop. Transient
// backend errors are retried with exponential backoff until RegisterTimeout;
// on failure the error wraps ErrRegistrationFailed and the service should
// treat it as fatal.
func (c *Client) Register(ctx context.Context) error {
	var resp *domain.RegisterResponse

	operation := func() error {
		var err error
		resp, err = c.register(ctx)
		return err
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(c.config.RegisterTimeout),
	), ctx)

	if err := backoff.Retry(operation, bo); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRegistrationFailed, err)
	}

	interval := time.Duration(resp.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c.mu.Lock()
	c.instanceID = resp.InstanceID
	c.heartbeatOn = true
	c.mu.Unlock()

	go c.heartbeatLoop(interval / 2)

	slog.Info("registered with gateway",
		"service", c.config.ServiceName,
		"instance_id", resp.InstanceID,
		"heartbeat_interval", interval,
	)
	return nil
}

// InstanceID returns the ID assigned at registration, empty before Register
// succeeds.
func (c *Client) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

// Deregister stops the heartbeat loop and removes the instance. Failures are
// logged only: the gateway's heartbeat TTL will expire the record anyway.
func (c *Client) Deregister(ctx context.Context) {
	c.mu.Lock()
	heartbeatOn := c.heartbeatOn
	c.heartbeatOn = false
	c.mu.Unlock()

	if heartbeatOn {
		close(c.stopCh)
		<-c.doneCh
	}

	instanceID := c.InstanceID()
	if instanceID == "" {
		return
	}

	if err := c.post(ctx, "/registry/deregister", domain.DeregisterRequest{InstanceID: instanceID}, nil); err != nil {
		slog.Warn("best-effort deregister failed, relying on heartbeat TTL",
			"service", c.config.ServiceName,
			"instance_id", instanceID,
			"error", err,
		)
		return
	}

	slog.Info("deregistered from gateway",
		"service", c.config.ServiceName,
		"instance_id", instanceID,
	)
}

func (c *Client) register(ctx context.Context) (*domain.RegisterResponse, error) {
	req := domain.RegisterRequest{
		InstanceID:  c.InstanceID(),
		ServiceName: c.config.ServiceName,
		Host:        c.config.Host,
		Port:        c.config.Port,
		HealthURL:   c.config.HealthURL,
		Tags:        c.config.Tags,
		Metadata:    c.config.Metadata,
	}

	var resp domain.RegisterResponse
	if err := c.post(ctx, "/registry/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	defer close(c.doneCh)

	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.heartbeat()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.post(ctx, "/registry/heartbeat", domain.HeartbeatRequest{InstanceID: c.InstanceID()}, nil)
	if err == nil {
		return
	}

	slog.Warn("heartbeat failed",
		"service", c.config.ServiceName,
		"instance_id", c.InstanceID(),
		"error", err,
	)

	// The registry may have expired us while we were partitioned away.
	// Re-registering under the same instance ID is idempotent.
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.code == http.StatusNotFound {
		if _, rerr := c.register(ctx); rerr != nil {
			slog.Warn("re-registration after expiry failed",
				"service", c.config.ServiceName,
				"error", rerr,
			)
		} else {
			slog.Info("re-registered after expiry",
				"service", c.config.ServiceName,
				"instance_id", c.InstanceID(),
			)
		}
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.ServiceToken != "" {
		req.Header.Set(headerServiceToken, c.config.ServiceToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
