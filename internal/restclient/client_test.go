package restclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
)

func fastRetries() Option {
	return WithRetries(3, time.Millisecond, 5*time.Millisecond)
}

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"retry"}`))
			return
		}
		if r.URL.Path != "/flows" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[{"flowId":"f1"}]`))
	}))
	defer server.Close()

	client := New("appmixer", server.URL, WithHTTPClient(server.Client()), fastRetries())
	var flows []map[string]any
	if err := client.Do(context.Background(), http.MethodGet, "/flows", nil, nil, &flows); err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if len(flows) != 1 || flows[0]["flowId"] != "f1" {
		t.Fatalf("unexpected payload %+v", flows)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

func TestClientDoesNotRetryPostOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New("github", server.URL, WithHTTPClient(server.Client()), fastRetries())
	err := client.Do(context.Background(), http.MethodPost, "/repos/o/r/pulls", nil, map[string]string{"title": "t"}, nil)
	var upstream *apperr.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected upstream 502, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", atomic.LoadInt32(&calls))
	}
}

type failingTransport struct {
	calls int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, errors.New("connection reset by peer")
}

func TestClientRetriesTransportErrorsOnlyForIdempotentMethods(t *testing.T) {
	transport := &failingTransport{}
	client := New("github", "http://github.invalid", WithHTTPClient(&http.Client{Transport: transport}), fastRetries())

	if err := client.Do(context.Background(), http.MethodPost, "/repos/o/r/git/refs", nil, map[string]string{"ref": "refs/heads/x"}, nil); err == nil {
		t.Fatalf("expected transport error")
	}
	if got := atomic.LoadInt32(&transport.calls); got != 1 {
		t.Fatalf("expected a single POST attempt, got %d", got)
	}

	atomic.StoreInt32(&transport.calls, 0)
	if err := client.Do(context.Background(), http.MethodGet, "/repos/o/r", nil, nil, nil); err == nil {
		t.Fatalf("expected transport error")
	}
	if got := atomic.LoadInt32(&transport.calls); got != 4 {
		t.Fatalf("expected 4 GET attempts, got %d", got)
	}
}

func TestClientRetriesThrottledPost(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number":7}`))
	}))
	defer server.Close()

	client := New("github", server.URL, WithHTTPClient(server.Client()), fastRetries())
	var out struct {
		Number int `json:"number"`
	}
	if err := client.Do(context.Background(), http.MethodPost, "/pulls", nil, map[string]string{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Number != 7 {
		t.Fatalf("expected number 7, got %d", out.Number)
	}
}

func TestClientMapsNotFoundAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing default header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Extra") != "1" {
			t.Errorf("missing per-request header")
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer server.Close()

	client := New("github", server.URL+"/", WithHTTPClient(server.Client()), WithHeader("Authorization", "Bearer tok"))
	err := client.Do(context.Background(), http.MethodGet, "/missing", map[string]string{"X-Extra": "1"}, nil, nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if client.BaseURL() != server.URL {
		t.Fatalf("expected trailing slash to be trimmed, got %s", client.BaseURL())
	}
}

func TestRetryDelayHonoursRetryAfterCap(t *testing.T) {
	client := New("x", "http://example", WithRetries(3, 100*time.Millisecond, time.Second))
	if got := client.retryDelay(1, "30"); got != time.Second {
		t.Fatalf("expected capped delay, got %s", got)
	}
	if got := client.retryDelay(3, ""); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms backoff, got %s", got)
	}
}
