package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mclokit/mclokit/attemptlog"
)

// Batch-scoped failure classes. Dispatch wraps one of them around the
// underlying cause.
var (
	// ErrTransport covers connection errors, non-2xx statuses, API error
	// bodies and per-request deadlines.
	ErrTransport = errors.New("transport failure")
	// ErrDecode covers bodies or assistant content that do not have the
	// expected shape.
	ErrDecode = errors.New("decode failure")
)

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider describes an OpenAI-compatible chat completions endpoint.
type Provider struct {
	// BaseURL is the API root including the version segment, for example
	// https://api.openai.com/v1. A URL already ending in /chat/completions
	// is used as is.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the per-request deadline.
	Timeout time.Duration
}

// Endpoint returns the chat completions URL.
func (p Provider) Endpoint() string {
	baseURL := strings.TrimRight(p.BaseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for parallel workers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if end := time.Now().Add(duration); end.After(r.pauseEnd) {
		r.pauseEnd = end
	}
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP client with real proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// Chat request / response
// ---------------------------------------------------------------------------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
}

func buildChatRequest(model string, maxTokens int, temperature float64, systemPrompt, userContent string) ([]byte, error) {
	return json.MarshalIndent(chatRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	}, "", "  ")
}

// apiError is an error object returned in place of choices.
type apiError struct {
	msg string
}

func (e *apiError) Error() string {
	return "API error: " + e.msg
}

// extractResponseText returns choices[0].message.content of a chat
// completion body.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok && errObj != nil {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", &apiError{msg: msg}
			}
		}
		return "", &apiError{msg: fmt.Sprint(errObj)}
	}

	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

// retryDelay picks the wait before retrying a 429. Retry-After (seconds)
// wins, then a RetryInfo detail in the body, then fallback.
func retryDelay(h http.Header, body []byte, fallback time.Duration) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		for _, detail := range errResp.Error.Details {
			if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
				d := strings.TrimSuffix(detail.RetryDelay, "s")
				if secs, err := strconv.ParseFloat(d, 64); err == nil {
					return time.Duration(secs*1000) * time.Millisecond
				}
			}
		}
	}
	return fallback
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher sends encoded requests to the provider, one HTTP call per
// attempt, and decodes the grouped reply.
type Dispatcher struct {
	provider     Provider
	client       *http.Client
	systemPrompt string
	maxTokens    int
	temperature  float64
	maxRetries   int
	backoff      time.Duration
	logs         *attemptlog.Dir
	rl           *rateLimitState
	observer     Observer
	verbose      bool
}

// Dispatch performs one request (plus opted-in retries) and returns the
// decoded response. Failures wrap ErrTransport or ErrDecode.
func (d *Dispatcher) Dispatch(ctx context.Context, req EncodedRequest) (DecodedResponse, error) {
	userContent, err := marshalPayload(req)
	if err != nil {
		return DecodedResponse{}, fmt.Errorf("%w: encoding request: %w", ErrDecode, err)
	}
	body, err := buildChatRequest(d.provider.Model, d.maxTokens, d.temperature, d.systemPrompt, userContent)
	if err != nil {
		return DecodedResponse{}, fmt.Errorf("%w: building request: %w", ErrDecode, err)
	}
	endpoint := d.provider.Endpoint()

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if err := d.rl.waitIfPaused(ctx); err != nil {
			return DecodedResponse{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if err := ctx.Err(); err != nil {
			return DecodedResponse{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		resp, wait, err := d.attempt(ctx, endpoint, body, req, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if wait < 0 || attempt == d.maxRetries {
			break
		}

		d.observer.Retrying(attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return DecodedResponse{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		case <-time.After(wait):
		}
	}
	return DecodedResponse{}, lastErr
}

// attempt runs a single HTTP exchange with its own attempt log record.
// wait is the delay before a retry, or negative when the failure is not
// worth retrying.
func (d *Dispatcher) attempt(ctx context.Context, endpoint string, body []byte, req EncodedRequest, attempt int) (resp DecodedResponse, wait time.Duration, err error) {
	rec := d.begin()
	defer func() {
		if err != nil {
			rec.section("Error", []byte(err.Error()))
		}
		if cerr := rec.close(); cerr != nil {
			d.observer.AttemptLogFailed(cerr)
		}
	}()

	rec.section("LLM Request", []byte(fmt.Sprintf("POST %s (attempt %d)\n%s", endpoint, attempt+1, body)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return DecodedResponse{}, -1, fmt.Errorf("%w: creating request: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.provider.APIKey)
	}

	if d.verbose {
		log.Printf("[DEBUG] attempt %d: POST %s", attempt+1, endpoint)
	}

	backoff := time.Duration(math.Pow(2, float64(attempt))) * d.backoff

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			backoff = -1
		}
		return DecodedResponse{}, backoff, fmt.Errorf("%w: API request failed: %w", ErrTransport, err)
	}
	respBody, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		return DecodedResponse{}, backoff, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}
	rec.section("LLM Response", []byte(fmt.Sprintf("HTTP %d\n%s", httpResp.StatusCode, respBody)))

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		delay := retryDelay(httpResp.Header, respBody, backoff)
		// Siblings hold off only when this batch will come back.
		if attempt < d.maxRetries {
			d.rl.pause(delay)
		}
		return DecodedResponse{}, delay, fmt.Errorf("%w: rate limited: %s", ErrTransport, truncate(string(respBody), 300))
	case httpResp.StatusCode >= 500:
		return DecodedResponse{}, backoff, fmt.Errorf("%w: API returned status %d: %s", ErrTransport, httpResp.StatusCode, truncate(string(respBody), 500))
	case httpResp.StatusCode < 200 || httpResp.StatusCode > 299:
		return DecodedResponse{}, -1, fmt.Errorf("%w: API returned status %d: %s", ErrTransport, httpResp.StatusCode, truncate(string(respBody), 500))
	}

	content, err := extractResponseText(respBody)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return DecodedResponse{}, -1, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return DecodedResponse{}, -1, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	decoded, err := parsePayload(content)
	if err != nil {
		return DecodedResponse{}, -1, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	rec.section("Count Audit", []byte(countAudit(req, decoded)))
	return decoded, -1, nil
}

// logRecord is a nil-safe wrapper so dispatching works without a log dir.
type logRecord struct {
	r *attemptlog.Record
}

func (d *Dispatcher) begin() logRecord {
	if d.logs == nil {
		return logRecord{}
	}
	return logRecord{r: d.logs.Begin()}
}

func (l logRecord) section(title string, body []byte) {
	if l.r != nil {
		l.r.Section(title, body)
	}
}

func (l logRecord) close() error {
	if l.r == nil {
		return nil
	}
	return l.r.Close()
}
