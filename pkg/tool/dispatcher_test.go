package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cognidesk/cognidesk/pkg/fault"
)

func newTestDispatcher(t *testing.T, defs ...*Definition) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Config{Tools: defs})
	if err != nil {
		t.Fatal(err)
	}
	d.sleep = func(time.Duration) {}
	return d
}

func TestExecuteUnknownTool(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Execute(context.Background(), "ghost", nil)
	if fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("error kind = %v, want not found", fault.KindOf(err))
	}
}

func TestRateLimitSlidingWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, &Definition{
		Name:               "limited",
		Endpoint:           srv.URL + "/op",
		RateLimitPerMinute: 3,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := d.Execute(ctx, "limited", nil); err != nil {
			t.Fatalf("call %d should pass: %v", i+1, err)
		}
	}

	_, err := d.Execute(ctx, "limited", nil)
	if fault.KindOf(err) != fault.KindRateLimited {
		t.Fatalf("4th call should be rate limited, got %v", err)
	}
	if got := d.CallsInWindow("limited"); got != 3 {
		t.Errorf("calls in window = %d, want 3", got)
	}
}

func TestParameterValidation(t *testing.T) {
	d := newTestDispatcher(t, &Definition{
		Name:     "strict",
		Endpoint: "http://backend.invalid/op",
		ParameterSchema: map[string]ParameterSpec{
			"name":   {Type: "string", Required: true},
			"count":  {Type: "integer"},
			"status": {Type: "string", Enum: []string{"open", "closed"}},
		},
		RequiredParameters: []string{"name"},
	})

	ctx := context.Background()

	_, err := d.Execute(ctx, "strict", map[string]interface{}{})
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("missing required should be validation error, got %v", err)
	}

	_, err = d.Execute(ctx, "strict", map[string]interface{}{"name": "x", "count": "five"})
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("type mismatch should be validation error, got %v", err)
	}

	_, err = d.Execute(ctx, "strict", map[string]interface{}{"name": "x", "status": "pending"})
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("enum violation should be validation error, got %v", err)
	}
}

func TestRetryOn500ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"result": "ok"}`))
	}))
	defer srv.Close()

	d, err := NewDispatcher(Config{Tools: []*Definition{{
		Name:       "flaky",
		Endpoint:   srv.URL + "/op",
		RetryCount: 3,
	}}})
	if err != nil {
		t.Fatal(err)
	}

	var delays []time.Duration
	d.sleep = func(dur time.Duration) { delays = append(delays, dur) }

	result, err := d.Execute(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if m, ok := result.(map[string]interface{}); !ok || m["result"] != "ok" {
		t.Errorf("result = %v", result)
	}
	if calls.Load() != 3 {
		t.Errorf("backend calls = %d, want 3", calls.Load())
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("backoff delays = %v, want [1s 2s]", delays)
	}
}

func TestClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, &Definition{
		Name:       "picky",
		Endpoint:   srv.URL + "/op",
		RetryCount: 3,
	})

	_, err := d.Execute(context.Background(), "picky", nil)
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("4xx should be validation error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not retry, backend calls = %d", calls.Load())
	}
}

func TestPathSubstitutionAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, &Definition{
		Name:     "lookup",
		Endpoint: srv.URL + "/contacts/{id}",
		Method:   "GET",
	})

	_, err := d.Execute(context.Background(), "lookup", map[string]interface{}{
		"id":    "42",
		"limit": 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/contacts/42" {
		t.Errorf("path = %q, path parameter not substituted", gotPath)
	}
	if gotQuery != "limit=5" {
		t.Errorf("query = %q, non-path parameters should go to the query", gotQuery)
	}
}

func TestPostSendsJSONBodyAndHeaders(t *testing.T) {
	var gotBody map[string]interface{}
	var execID, toolName, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		execID = r.Header.Get("X-Execution-ID")
		toolName = r.Header.Get("X-Tool-Name")
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, &Definition{
		Name:     "create",
		Endpoint: srv.URL + "/contacts",
		Method:   "POST",
		Auth:     &AuthConfig{Type: "bearer", Token: "secret"},
	})

	_, err := d.Execute(context.Background(), "create", map[string]interface{}{
		"name": "Jane Smith",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotBody["name"] != "Jane Smith" {
		t.Errorf("body = %v", gotBody)
	}
	if execID == "" || toolName != "create" {
		t.Errorf("correlation headers missing: id=%q tool=%q", execID, toolName)
	}
	if auth != "Bearer secret" {
		t.Errorf("auth header = %q", auth)
	}
}

func TestResultCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"cached": true}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, &Definition{
		Name:     "cacheable",
		Endpoint: srv.URL + "/op",
		CacheTTL: time.Minute,
	})

	ctx := context.Background()
	params := map[string]interface{}{"q": "same"}
	if _, err := d.Execute(ctx, "cacheable", params); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Execute(ctx, "cacheable", params); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, second call should hit the cache", calls.Load())
	}

	if _, err := d.Execute(ctx, "cacheable", map[string]interface{}{"q": "different"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("different params must miss the cache")
	}
}

func TestHistoryRingHalvesOnOverflow(t *testing.T) {
	d, err := NewDispatcher(Config{HistorySize: 4})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		d.appendHistory(ExecutionRecord{ToolName: "t", ExecutionID: string(rune('a' + i))})
	}

	history := d.History()
	// Fifth append overflows the cap of 4 and halves the ring.
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 after halving", len(history))
	}
	if history[len(history)-1].ExecutionID != "e" {
		t.Errorf("newest record should survive halving")
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, &Definition{Name: "t", Endpoint: srv.URL + "/op"})
	if err := d.Health(context.Background()); err != nil {
		t.Errorf("health should pass: %v", err)
	}
}
