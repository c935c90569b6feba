package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/registry"
)

// Config configures the dispatcher.
type Config struct {
	// MaxConcurrentRequests bounds in-flight tool calls process-wide
	// (default: 10).
	MaxConcurrentRequests int `yaml:"max_concurrent_requests,omitempty"`

	// HistorySize bounds the execution record ring (default: 1000).
	HistorySize int `yaml:"history_size,omitempty"`

	// CacheSize bounds the result cache (default: 1000).
	CacheSize int `yaml:"cache_size,omitempty"`

	// HealthTimeout is the per-backend health probe timeout (default: 3s).
	HealthTimeout time.Duration `yaml:"health_timeout,omitempty"`

	// Tools are definitions registered at startup.
	Tools []*Definition `yaml:"tools,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 10
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 3 * time.Second
	}
}

// Dispatcher registers tools and executes them against their HTTP backends
// with rate limiting, validation, caching, retries and bounded history.
type Dispatcher struct {
	tools *registry.BaseRegistry[*Definition]

	mu         sync.Mutex
	rateWindow map[string][]time.Time
	cache      *resultCache
	history    []ExecutionRecord
	historyCap int

	sem    *semaphore.Weighted
	client *http.Client

	healthTimeout time.Duration
	now           func() time.Time
	sleep         func(time.Duration)
}

// NewDispatcher creates a dispatcher and registers the configured tools.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	cfg.SetDefaults()

	d := &Dispatcher{
		tools:         registry.NewBaseRegistry[*Definition](),
		rateWindow:    make(map[string][]time.Time),
		cache:         newResultCache(cfg.CacheSize),
		historyCap:    cfg.HistorySize,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		client:        &http.Client{},
		healthTimeout: cfg.HealthTimeout,
		now:           time.Now,
		sleep:         time.Sleep,
	}

	for _, def := range cfg.Tools {
		if err := d.Register(def); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds a tool definition. Names must be unique.
func (d *Dispatcher) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if def.Endpoint == "" {
		return fmt.Errorf("tool %s requires an endpoint", def.Name)
	}
	def.SetDefaults()
	return d.tools.Register(def.Name, def)
}

// List returns registered definitions in registration order.
func (d *Dispatcher) List() []*Definition {
	return d.tools.List()
}

// Get returns a definition by name.
func (d *Dispatcher) Get(name string) (*Definition, bool) {
	return d.tools.Get(name)
}

// Execute runs a tool call through the full pipeline: lookup, rate limit,
// validation, cache, semaphore, HTTP with retries, cache fill, history.
func (d *Dispatcher) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	def, ok := d.tools.Get(name)
	if !ok {
		return nil, fault.NotFound("tool", "unknown tool: %s", name)
	}

	if !d.allowCall(def) {
		return nil, fault.RateLimited("tool", "rate limit exceeded for %s", name)
	}

	if err := validateParams(def, params); err != nil {
		return nil, err
	}

	key := cacheKey(name, params)
	if def.CacheTTL > 0 {
		d.mu.Lock()
		cached, hit := d.cache.get(key)
		d.mu.Unlock()
		if hit {
			slog.Debug("Tool cache hit", "tool", name)
			return cached, nil
		}
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	executionID := uuid.NewString()
	start := d.now()
	result, err := d.callWithRetries(ctx, def, params, executionID)

	record := ExecutionRecord{
		ExecutionID:   executionID,
		ToolName:      name,
		Parameters:    params,
		ExecutionTime: d.now().Sub(start),
		Success:       err == nil,
		Timestamp:     start,
	}
	if err != nil {
		record.Error = err.Error()
	} else {
		record.Result = result
	}
	d.appendHistory(record)

	if err != nil {
		return nil, err
	}

	if def.CacheTTL > 0 {
		d.mu.Lock()
		d.cache.put(key, result, def.CacheTTL)
		d.mu.Unlock()
	}
	return result, nil
}

// allowCall applies the sliding 60-second rate window for the tool.
func (d *Dispatcher) allowCall(def *Definition) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-time.Minute)

	window := d.rateWindow[def.Name]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= def.RateLimitPerMinute {
		d.rateWindow[def.Name] = kept
		return false
	}
	d.rateWindow[def.Name] = append(kept, now)
	return true
}

// CallsInWindow reports the rate counter for a tool.
func (d *Dispatcher) CallsInWindow(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-time.Minute)
	count := 0
	for _, t := range d.rateWindow[name] {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// validateParams checks required fields and value types against the schema.
func validateParams(def *Definition, params map[string]interface{}) error {
	for _, required := range def.RequiredParameters {
		if _, ok := params[required]; !ok {
			return fault.Validation("tool", "%s: missing required parameter %q", def.Name, required)
		}
	}

	for field, value := range params {
		spec, ok := def.ParameterSchema[field]
		if !ok {
			continue
		}
		if !typeMatches(spec.Type, value) {
			return fault.Validation("tool", "%s: parameter %q must be %s", def.Name, field, spec.Type)
		}
		if len(spec.Enum) > 0 {
			s, _ := value.(string)
			found := false
			for _, allowed := range spec.Enum {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				return fault.Validation("tool", "%s: parameter %q not in enum", def.Name, field)
			}
		}
	}
	return nil
}

func typeMatches(want string, value interface{}) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// callWithRetries executes the HTTP request with exponential backoff on
// timeouts and 5xx. 4xx fails immediately.
func (d *Dispatcher) callWithRetries(ctx context.Context, def *Definition, params map[string]interface{}, executionID string) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= def.RetryCount; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			slog.Debug("Retrying tool call", "tool", def.Name, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			d.sleep(delay)
		}

		result, retryable, err := d.callOnce(ctx, def, params, executionID)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fault.Unavailable("tool", "%s failed after %d attempts: %v", def.Name, def.RetryCount+1, lastErr)
}

func (d *Dispatcher) callOnce(ctx context.Context, def *Definition, params map[string]interface{}, executionID string) (interface{}, bool, error) {
	req, err := d.buildRequest(ctx, def, params, executionID)
	if err != nil {
		return nil, false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	resp, err := d.client.Do(req.WithContext(callCtx))
	if err != nil {
		// Transport errors and timeouts are retryable.
		return nil, true, fmt.Errorf("%s request failed: %w", def.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%s response read failed: %w", def.Name, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%s returned %d", def.Name, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fault.Validation("tool", "%s rejected the request with %d: %s", def.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Non-JSON backends fall back to plain text.
		return string(body), false, nil
	}
	return parsed, false, nil
}

// buildRequest substitutes path parameters, splits remaining params between
// query and body by method, and attaches auth and correlation headers.
func (d *Dispatcher) buildRequest(ctx context.Context, def *Definition, params map[string]interface{}, executionID string) (*http.Request, error) {
	endpoint := def.Endpoint
	remaining := make(map[string]interface{}, len(params))
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(fmt.Sprintf("%v", v)))
			continue
		}
		remaining[k] = v
	}

	method := strings.ToUpper(def.Method)
	var body io.Reader

	if method == http.MethodGet || method == http.MethodDelete {
		if len(remaining) > 0 {
			q := url.Values{}
			for k, v := range remaining {
				q.Set(k, fmt.Sprintf("%v", v))
			}
			sep := "?"
			if strings.Contains(endpoint, "?") {
				sep = "&"
			}
			endpoint += sep + q.Encode()
		}
	} else {
		data, err := json.Marshal(remaining)
		if err != nil {
			return nil, fmt.Errorf("marshal tool parameters: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", def.Name, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Execution-ID", executionID)
	req.Header.Set("X-Tool-Name", def.Name)

	if def.Auth != nil && def.Auth.Token != "" {
		switch def.Auth.Type {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+def.Auth.Token)
		default:
			header := def.Auth.Header
			if header == "" {
				header = "X-API-Key"
			}
			req.Header.Set(header, def.Auth.Token)
		}
	}
	return req, nil
}

// appendHistory adds a record to the ring, halving it on overflow.
func (d *Dispatcher) appendHistory(record ExecutionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, record)
	if len(d.history) > d.historyCap {
		half := len(d.history) / 2
		d.history = append([]ExecutionRecord(nil), d.history[half:]...)
	}
}

// History returns a copy of the execution records, oldest first.
func (d *Dispatcher) History() []ExecutionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ExecutionRecord(nil), d.history...)
}

// Health probes each distinct backend's /health endpoint. Healthy when at
// least one backend responds with a 2xx.
func (d *Dispatcher) Health(ctx context.Context) error {
	bases := make(map[string]bool)
	for _, def := range d.tools.List() {
		if u, err := url.Parse(def.Endpoint); err == nil && u.Host != "" {
			bases[u.Scheme+"://"+u.Host] = true
		}
	}
	if len(bases) == 0 {
		return nil
	}

	client := &http.Client{Timeout: d.healthTimeout}
	for base := range bases {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 300 {
			return nil
		}
	}
	return fault.Unavailable("tool", "no tool backend responded to health probes")
}
