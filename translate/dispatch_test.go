package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mclokit/mclokit/store"
)

func readAttemptLogs(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading log dir: %v", err)
	}
	logs := make(map[string]string)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		logs[e.Name()] = string(data)
	}
	return logs
}

// newTestDispatcher builds a dispatcher against handler through New so the
// defaults match production.
func newTestDispatcher(t *testing.T, handler http.HandlerFunc, mod func(*Options)) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts := Options{
		Provider:     Provider{BaseURL: srv.URL + "/v1", Model: "test-model", APIKey: "sk-test"},
		Language:     "zh_cn",
		MaxTokens:    2048,
		RetryBackoff: time.Millisecond,
	}
	if mod != nil {
		mod(&opts)
	}
	tr, err := New(store.NewMemory(), opts)
	if err != nil {
		t.Fatal(err)
	}
	return tr.dispatcher
}

var oneGroup = EncodedRequest{Items: []Group{{Namespace: "create", Texts: []string{"Cogwheel", "<b>Shaft</b>"}}}}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

func TestProvider_Endpoint(t *testing.T) {
	tests := []struct{ base, want string }{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080/v1/chat/completions", "http://localhost:8080/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := (Provider{BaseURL: tt.base}).Endpoint(); got != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestDispatch_RequestShape(t *testing.T) {
	type captured struct {
		path, auth string
		req        chatRequest
	}
	seen := make(chan captured, 1)
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		c := captured{path: r.URL.Path, auth: r.Header.Get("Authorization")}
		json.NewDecoder(r.Body).Decode(&c.req)
		seen <- c
		w.Write(chatReply(`{"items":[{"m":"create","texts":["齿轮","<b>传动杆</b>"]}]}`))
	}, func(o *Options) { o.Temperature = 0.2 })

	resp, err := d.Dispatch(context.Background(), oneGroup)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	c := <-seen
	gotPath, gotAuth, got := c.path, c.auth, c.req

	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if got.Model != "test-model" || got.MaxTokens != 2048 || got.Temperature != 0.2 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Content, "Simplified Chinese") {
		t.Errorf("system prompt does not name the target language: %q", got.Messages[0].Content)
	}
	wantUser := `{"items":[{"m":"create","texts":["Cogwheel","<b>Shaft</b>"]}]}`
	if got.Messages[1].Content != wantUser {
		t.Errorf("user content = %s, want %s", got.Messages[1].Content, wantUser)
	}

	want := DecodedResponse{Items: []Group{{Namespace: "create", Texts: []string{"齿轮", "<b>传动杆</b>"}}}}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}
}

func TestDispatch_NoAuthHeaderWithoutKey(t *testing.T) {
	auth := make(chan string, 1)
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		w.Write(chatReply(`{"items":[]}`))
	}, func(o *Options) { o.Provider.APIKey = "" })

	if _, err := d.Dispatch(context.Background(), oneGroup); err != nil {
		t.Fatal(err)
	}
	gotAuth := <-auth
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want none", gotAuth)
	}
}

func TestDispatch_FailureClasses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusBadGateway)
		}, ErrTransport},
		{"client error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}, ErrTransport},
		{"api error body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"model not found"}}`))
		}, ErrTransport},
		{"body not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>gateway</html>`))
		}, ErrDecode},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}, ErrDecode},
		{"content not payload", func(w http.ResponseWriter, r *http.Request) {
			w.Write(chatReply("I am unable to comply."))
		}, ErrDecode},
		{"null translation", func(w http.ResponseWriter, r *http.Request) {
			w.Write(chatReply(`{"items":[{"m":"create","texts":["齿轮",null]}]}`))
		}, ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, tt.handler, nil)
			_, err := d.Dispatch(context.Background(), oneGroup)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDispatch_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}, nil)

	if _, err := d.Dispatch(context.Background(), oneGroup); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	dir := t.TempDir()
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Write(chatReply(`{"items":[{"m":"create","texts":["a","b"]}]}`))
	}, func(o *Options) {
		o.MaxRetries = 3
		o.LogDir = dir
	})

	if _, err := d.Dispatch(context.Background(), oneGroup); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}

	logs := readAttemptLogs(t, dir)
	if len(logs) != 3 {
		t.Fatalf("got %d attempt logs, want one per attempt", len(logs))
	}
	var withError int
	for _, body := range logs {
		if strings.Contains(body, "=== Error ===") {
			withError++
		}
	}
	if withError != 2 {
		t.Errorf("%d logs carry an error section, want 2", withError)
	}
}

func TestDispatch_DoesNotRetryDecodeFailures(t *testing.T) {
	var calls atomic.Int32
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(chatReply("nope"))
	}, func(o *Options) { o.MaxRetries = 3 })

	if _, err := d.Dispatch(context.Background(), oneGroup); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDispatch_RateLimitRetryAfter(t *testing.T) {
	var calls atomic.Int32
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write(chatReply(`{"items":[]}`))
	}, func(o *Options) { o.MaxRetries = 1 })

	if _, err := d.Dispatch(context.Background(), oneGroup); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestDispatch_RateLimitWithoutRetryLeavesNoPause(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}, nil)

	if _, err := d.Dispatch(context.Background(), oneGroup); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := d.rl.waitIfPaused(ctx); err != nil {
		t.Errorf("shared pause armed although no retry follows: %v", err)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	start := time.Now()
	_, err := d.Dispatch(context.Background(), oneGroup)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced: took %v", elapsed)
	}
}

func TestDispatch_AttemptLogSections(t *testing.T) {
	dir := t.TempDir()
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(`{"items":[{"m":"create","texts":["齿轮"]}]}`))
	}, func(o *Options) { o.LogDir = dir })

	if _, err := d.Dispatch(context.Background(), oneGroup); err != nil {
		t.Fatal(err)
	}
	logs := readAttemptLogs(t, dir)
	if len(logs) != 1 {
		t.Fatalf("got %d logs", len(logs))
	}
	for name, body := range logs {
		if !strings.HasPrefix(name, "llm_request_") || !strings.HasSuffix(name, ".log") {
			t.Errorf("unexpected log name %q", name)
		}
		req := strings.Index(body, "=== LLM Request ===")
		resp := strings.Index(body, "=== LLM Response ===")
		audit := strings.Index(body, "=== Count Audit ===")
		if req < 0 || resp < req || audit < resp {
			t.Errorf("sections missing or out of order:\n%s", body)
		}
		if !strings.Contains(body, "create: sent 2, received 1 [MISMATCH]") {
			t.Errorf("count audit missing:\n%s", body)
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestRetryDelay(t *testing.T) {
	h := http.Header{}
	if got := retryDelay(h, nil, 3*time.Second); got != 3*time.Second {
		t.Errorf("fallback = %v", got)
	}
	h.Set("Retry-After", "7")
	if got := retryDelay(h, nil, time.Second); got != 7*time.Second {
		t.Errorf("Retry-After = %v", got)
	}
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`)
	if got := retryDelay(http.Header{}, body, time.Second); got != 1500*time.Millisecond {
		t.Errorf("RetryInfo = %v", got)
	}
}

func TestRateLimitState_WaitIfPaused(t *testing.T) {
	var rl rateLimitState
	if err := rl.waitIfPaused(context.Background()); err != nil {
		t.Fatal(err)
	}

	rl.pause(30 * time.Millisecond)
	start := time.Now()
	if err := rl.waitIfPaused(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the pause ended")
	}

	rl.pause(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.waitIfPaused(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
