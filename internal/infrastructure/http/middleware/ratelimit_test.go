package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"portico/internal/infrastructure/config"
	"portico/internal/infrastructure/ratelimit"

	"github.com/gin-gonic/gin"
)

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.NewInMemoryLimiter()
	cfg := &config.Config{RateLimitIPRPM: 10}

	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, w.Code)
		}

		if w.Header().Get("X-RateLimit-Limit") == "" {
			t.Error("missing X-RateLimit-Limit header")
		}

		if w.Header().Get("X-RateLimit-Remaining") == "" {
			t.Error("missing X-RateLimit-Remaining header")
		}

		if w.Header().Get("X-RateLimit-Reset") == "" {
			t.Error("missing X-RateLimit-Reset header")
		}
	}
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.NewInMemoryLimiter()
	cfg := &config.Config{RateLimitIPRPM: 3}

	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}

	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining should be 0, got %s", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitMiddleware_DifferentIPsHaveDifferentLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.NewInMemoryLimiter()
	cfg := &config.Config{RateLimitIPRPM: 2}

	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		router.ServeHTTP(w, req)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("IP 1 should be rate limited, got status %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("IP 2 should be allowed, got status %d", w.Code)
	}
}

func TestRateLimitMiddleware_GlobalLimitBlocksAcrossIPs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.NewInMemoryLimiter()
	cfg := &config.Config{RateLimitGlobalRPM: 3, RateLimitIPRPM: 100}

	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = fmt.Sprintf("192.168.1.%d:12345", i+1)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.200:12345"
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("global window exhausted, expected 429 for a fresh IP, got %d", w.Code)
	}
}

func TestRateLimitMiddleware_FailsOpenOnLimiterError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{RateLimitIPRPM: 1}

	router := gin.New()
	router.Use(RateLimitMiddleware(failingLimiter{}, cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: limiter error should fail open, got %d", i, w.Code)
		}
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(_ context.Context, _ string, _ int) (*ratelimit.Result, error) {
	return nil, errors.New("redis unavailable")
}
