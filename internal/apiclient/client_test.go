package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestGetJSONDecodesAndSendsQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		if r.URL.Path != "/drug/label.json" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	c := New(Config{Service: "openfda", BaseURL: srv.URL + "/"}, nil)
	var out struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	q := url.Values{"search": {`active_ingredient:"aspirin"`}, "limit": {"1"}}
	if err := c.GetJSON(context.Background(), "/drug/label.json", q, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(out.Results) != 1 || out.Results[0].ID != "1" {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if gotQuery.Get("search") != `active_ingredient:"aspirin"` {
		t.Fatalf("unexpected search param %q", gotQuery.Get("search"))
	}
}

func TestGetRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	c := New(Config{Service: "pubmed", BaseURL: srv.URL, RetryBackoff: time.Millisecond}, nil)
	body, err := c.Get(context.Background(), "/esearch.fcgi", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected success after one retry, got %q calls=%d", body, calls)
	}
}

func TestGetReturnsErrNotFoundWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{Service: "openfda", BaseURL: srv.URL}, nil)
	_, err := c.Get(context.Background(), "/drug/label.json", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestGetGivesUpOnPersistentServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{Service: "ema", BaseURL: srv.URL, MaxAttempts: 3, RetryBackoff: time.Millisecond}, nil)
	_, err := c.Get(context.Background(), "/x", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := New(Config{Service: "rxnav", BaseURL: "http://rxnav.test", HTTPClient: &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return &http.Response{StatusCode: http.StatusBadRequest, Body: http.NoBody, Header: http.Header{}}, nil
		}),
	}}, nil)
	if _, err := c.Get(context.Background(), "/rxcui.json", nil); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestGetAppliesPerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{Service: "slow", BaseURL: srv.URL, Timeout: 20 * time.Millisecond, MaxAttempts: 1}, nil)
	start := time.Now()
	if _, err := c.Get(context.Background(), "/", nil); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout not applied, took %s", time.Since(start))
	}
}
