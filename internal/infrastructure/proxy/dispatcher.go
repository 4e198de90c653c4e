package proxy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"portico/internal/application"
	"portico/internal/domain"
	"portico/internal/infrastructure/tracing"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

type DispatcherConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Dispatcher forwards gateway requests to a resolved instance. Transient
// failures (timeout, connection refused, 502/503/504, 408/429) are retried
// against a different instance when one is available, with exponential
// backoff between attempts. Exhaustion surfaces an aggregated error naming
// every attempted instance. A per-service circuit breaker short-circuits
// dispatch while a downstream is fully down.
type Dispatcher struct {
	config   DispatcherConfig
	cache    *application.InstanceCache
	selector application.Selector
	breaker  *application.CircuitBreaker
	inflight *application.InflightTracker
	exporter tracing.SpanExporter
	client   *http.Client
}

func NewDispatcher(
	cfg DispatcherConfig,
	cache *application.InstanceCache,
	selector application.Selector,
	breaker *application.CircuitBreaker,
	inflight *application.InflightTracker,
	exporter tracing.SpanExporter,
) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 50 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Second
	}
	if exporter == nil {
		exporter = &tracing.NoopExporter{}
	}
	return &Dispatcher{
		config:   cfg,
		cache:    cache,
		selector: selector,
		breaker:  breaker,
		inflight: inflight,
		exporter: exporter,
		client:   &http.Client{},
	}
}

// Handle serves /gateway/:service/*path.
func (d *Dispatcher) Handle(c *gin.Context) {
	serviceName := c.Param("service")
	targetPath := c.Param("path")
	if targetPath == "" {
		targetPath = "/"
	}

	instances := d.cache.Resolve(serviceName)
	if len(instances) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "no_instances_available",
			"message": "no passing instances for this service",
			"service": serviceName,
		})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "failed to read request body",
		})
		return
	}

	if err := d.breaker.Allow(serviceName); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "circuit_open",
			"message": "service is failing, dispatch suspended for cool-down",
			"service": serviceName,
		})
		return
	}

	d.dispatch(c, serviceName, targetPath, body, instances)
}

func (d *Dispatcher) dispatch(c *gin.Context, serviceName, targetPath string, body []byte, instances []*domain.ServiceInstance) {
	ctx := c.Request.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.config.BackoffBase
	bo.MaxInterval = d.config.BackoffMax
	bo.MaxElapsedTime = 0

	tried := make(map[string]bool)
	var attempts []domain.DispatchAttempt

	maxAttempts := 1 + d.config.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepBackoff(ctx, bo.NextBackOff()) {
				attempts = append(attempts, domain.DispatchAttempt{Reason: ctx.Err().Error()})
				break
			}
		}

		candidates := untriedOf(instances, tried)
		if len(candidates) == 0 {
			candidates = instances
		}

		instance, decision, err := application.Decide(d.selector, serviceName, candidates)
		if err != nil {
			break
		}
		tried[instance.ID] = true

		resp, reason := d.forward(ctx, c, instance, targetPath, body, decision)
		if resp == nil {
			attempts = append(attempts, domain.DispatchAttempt{
				InstanceID: instance.ID,
				Address:    instance.Address(),
				Reason:     reason,
			})
			continue
		}

		if retryableStatus(resp.StatusCode) {
			attempts = append(attempts, domain.DispatchAttempt{
				InstanceID: instance.ID,
				Address:    instance.Address(),
				Reason:     fmt.Sprintf("upstream status %d", resp.StatusCode),
			})
			drain(resp)
			continue
		}

		// Upstream answered. Non-retryable statuses, including client
		// errors, are the downstream's verdict and propagate verbatim.
		d.breaker.RecordSuccess(serviceName)
		writeResponse(c, resp)
		return
	}

	d.breaker.RecordFailure(serviceName)

	dispatchErr := &domain.DispatchError{ServiceName: serviceName, Attempts: attempts}
	slog.Warn("dispatch exhausted",
		"service", serviceName,
		"attempts", len(attempts),
		"error", dispatchErr.Error(),
	)
	c.JSON(http.StatusBadGateway, gin.H{
		"error":    "dispatch_exhausted",
		"message":  "all dispatch attempts failed",
		"service":  serviceName,
		"attempts": attempts,
	})
}

// forward performs a single attempt. A nil response means a transport-level
// failure described by the returned reason.
func (d *Dispatcher) forward(ctx context.Context, c *gin.Context, instance *domain.ServiceInstance, targetPath string, body []byte, decision domain.RoutingDecision) (*http.Response, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", instance.Address(), targetPath)
	if c.Request.URL.RawQuery != "" {
		url += "?" + c.Request.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(attemptCtx, c.Request.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err.Error()
	}
	req.ContentLength = int64(len(body))

	copyHeaders(req.Header, c.Request.Header)
	for _, h := range hopByHopHeaders {
		req.Header.Del(h)
	}
	setForwardedHeaders(req, c, decision)

	start := time.Now()
	d.inflight.Acquire(instance.ID)
	resp, err := d.client.Do(req)
	d.inflight.Release(instance.ID)

	status := 0
	reason := ""
	if err != nil {
		reason = err.Error()
	} else {
		status = resp.StatusCode
	}
	d.exportSpan(c, decision, targetPath, start, status, reason)

	if err != nil {
		return nil, reason
	}
	return resp, ""
}

func setForwardedHeaders(req *http.Request, c *gin.Context, decision domain.RoutingDecision) {
	clientIP := c.ClientIP()
	if prior := c.GetHeader("X-Forwarded-For"); prior != "" {
		clientIP = prior + ", " + clientIP
	}
	req.Header.Set("X-Forwarded-For", clientIP)

	if c.Request.Host != "" {
		req.Header.Set("X-Forwarded-Host", c.Request.Host)
	}

	proto := "http"
	if c.Request.TLS != nil {
		proto = "https"
	}
	if forwardedProto := c.GetHeader("X-Forwarded-Proto"); forwardedProto != "" {
		proto = forwardedProto
	}
	req.Header.Set("X-Forwarded-Proto", proto)

	if requestID, ok := c.Get("request_id"); ok {
		req.Header.Set("X-Request-ID", fmt.Sprintf("%v", requestID))
	}
	req.Header.Set("X-Forwarded-Service", decision.ServiceName)

	if traceID, ok := c.Get("trace_id"); ok {
		flags, _ := c.Get("trace_flags")
		if flags == nil || flags == "" {
			flags = "01"
		}
		req.Header.Set("Traceparent", fmt.Sprintf("00-%v-%s-%v", traceID, newSpanID(), flags))
	}
}

func (d *Dispatcher) exportSpan(c *gin.Context, decision domain.RoutingDecision, targetPath string, start time.Time, status int, reason string) {
	traceID, _ := c.Get("trace_id")
	parentID, _ := c.Get("span_id")
	if traceID == nil {
		return
	}

	attrs := map[string]string{
		"http.method":         c.Request.Method,
		"http.target":         targetPath,
		"peer.service":        decision.ServiceName,
		"portico.instance_id": decision.ChosenInstanceID,
		"portico.lb_strategy": decision.Strategy,
	}
	if status > 0 {
		attrs["http.status_code"] = fmt.Sprintf("%d", status)
	}
	if reason != "" {
		attrs["error.message"] = reason
	}
	if status == 0 {
		status = http.StatusBadGateway
	}

	d.exporter.Export(context.Background(), tracing.SpanData{
		TraceID:      fmt.Sprintf("%v", traceID),
		SpanID:       newSpanID(),
		ParentSpanID: fmt.Sprintf("%v", parentID),
		Name:         fmt.Sprintf("DISPATCH %s", decision.ServiceName),
		Kind:         tracing.SpanKindClient,
		StartTime:    start,
		EndTime:      time.Now(),
		StatusCode:   status,
		Attributes:   attrs,
	})
}

func writeResponse(c *gin.Context, resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()

	header := c.Writer.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}

	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// retryableStatus reports whether an upstream status is worth retrying on a
// different instance. 408 and 429 are the only retryable client errors.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout,
		http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

func untriedOf(instances []*domain.ServiceInstance, tried map[string]bool) []*domain.ServiceInstance {
	var untried []*domain.ServiceInstance
	for _, instance := range instances {
		if !tried[instance.ID] {
			untried = append(untried, instance)
		}
	}
	return untried
}

// sleepBackoff waits for the backoff delay, aborting early when the caller
// gives up. Returns false when the context ended first.
func sleepBackoff(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func newSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
