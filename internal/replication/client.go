package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
)

const (
	DefaultProbeTimeout = 10 * time.Second
	DefaultFetchTimeout = 120 * time.Second

	// maxPackBytes bounds a fetched payload.
	maxPackBytes = 1 << 30
)

// Share is the probe response body a peer returns for a shared pack.
type Share struct {
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

type probeResponse struct {
	Success bool   `json:"success"`
	Share   *Share `json:"share"`
}

// client talks to replication peers. One breaker per peer host keeps a dead
// peer from being hammered on every pass.
type client struct {
	http         *http.Client
	probeTimeout time.Duration
	fetchTimeout time.Duration
	log          *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newClient(hc *http.Client, probeTimeout, fetchTimeout time.Duration, log *zap.Logger) *client {
	if hc == nil {
		hc = &http.Client{}
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &client{
		http:         hc,
		probeTimeout: probeTimeout,
		fetchTimeout: fetchTimeout,
		log:          log,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *client) breaker(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("peer breaker state changed",
				zap.String("peer", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	c.breakers[host] = cb
	return cb
}

// Probe asks the peer for the shared pack's metadata.
func (c *client) Probe(ctx context.Context, sourceURL, token string) (*Share, error) {
	data, err := c.do(ctx, http.MethodGet, sourceURL, token, c.probeTimeout, 1<<20)
	if err != nil {
		return nil, err
	}

	var resp probeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apperr.Sync("probe "+sourceURL, fmt.Errorf("decode response: %w", err))
	}
	if !resp.Success || resp.Share == nil {
		return nil, apperr.Syncf("probe "+sourceURL, "peer reported failure")
	}
	if resp.Share.UpdatedAt == nil || resp.Share.UpdatedAt.IsZero() {
		return nil, apperr.Syncf("probe "+sourceURL, "response has no updatedAt")
	}
	return resp.Share, nil
}

// Fetch downloads the full pack file.
func (c *client) Fetch(ctx context.Context, sourceURL, token string) ([]byte, error) {
	data, err := c.do(ctx, http.MethodPost, sourceURL, token, c.fetchTimeout, maxPackBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperr.Syncf("fetch "+sourceURL, "empty body")
	}
	return data, nil
}

func (c *client) do(ctx context.Context, method, sourceURL, token string, timeout time.Duration, limit int64) ([]byte, error) {
	op := method + " " + sourceURL
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return nil, apperr.Syncf(op, "invalid source url")
	}

	out, err := c.breaker(u.Host).Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, method, sourceURL, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if method == http.MethodGet {
			req.Header.Set("Accept", "application/json")
		} else {
			req.Header.Set("Accept", "application/octet-stream")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return nil, apperr.Sync(op, err)
	}
	return out.([]byte), nil
}
