// Package translate turns a flat list of mod strings into batched LLM
// chat requests and reassembles the answers in input order.
//
// A call to TranslateBatch runs the pipeline
//
//	cache probe -> Planner -> per batch {Encode -> Dispatch -> Reconcile} -> cache write
//
// Batches run concurrently under a fixed admission limit. A batch that
// fails on transport or decoding is dropped on its own; its items are
// simply missing from the result and sibling batches are unaffected.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mclokit/mclokit/attemptlog"
	"github.com/mclokit/mclokit/store"
)

// ErrInvalidInput is returned for inputs that break the caller contract.
var ErrInvalidInput = errors.New("invalid input")

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultMaxTokens = 8192
	DefaultParallel  = 3
	DefaultTimeout   = 120 * time.Second
	DefaultBackoff   = time.Second
)

// Options controls the translation behavior. The value is copied by New
// and never changes afterwards.
type Options struct {
	// Provider is the chat completions endpoint.
	Provider Provider
	// Language is the target locale (e.g., "zh_cn", "de_de").
	Language string
	// LanguageName overrides the language name used in the prompt.
	LanguageName string
	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
	// MaxTokens is the model allowance per request; half of it is the
	// planning ceiling.
	MaxTokens int
	// Temperature is sent when non-zero.
	Temperature float64
	// Parallel is the maximum number of batches with an outstanding call.
	Parallel int
	// Timeout is the per-request deadline (overrides Provider.Timeout).
	Timeout time.Duration
	// MaxRetries is the number of retries after a transport failure, 5xx
	// or 429. Zero disables retrying.
	MaxRetries int
	// RetryBackoff is the base of the exponential retry delay.
	RetryBackoff time.Duration
	// Estimator replaces CharClassEstimator.
	Estimator TokenEstimator
	// LogDir receives one debug file per request attempt. Empty disables
	// attempt logs.
	LogDir string
	// Observer receives progress events.
	Observer Observer
	// HTTPClient replaces the proxy-aware default client.
	HTTPClient *http.Client
	// Verbose enables debug logging of HTTP calls.
	Verbose bool
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Provider.Timeout > 0 {
		return o.Provider.Timeout
	}
	return DefaultTimeout
}

func (o *Options) effectiveMaxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return DefaultMaxTokens
}

func (o *Options) effectiveParallel() int {
	if o.Parallel > 0 {
		return o.Parallel
	}
	return DefaultParallel
}

func (o *Options) effectiveBackoff() time.Duration {
	if o.RetryBackoff > 0 {
		return o.RetryBackoff
	}
	return DefaultBackoff
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

// Input is one string to translate. (Namespace, Key) identifies it.
type Input struct {
	Namespace string
	Key       string
	Text      string
}

// Result is a resolved translation. Index is the position of the input it
// answers.
type Result struct {
	Index       int
	Namespace   string
	Key         string
	Original    string
	Translation string
}

// Summary counts what happened during one TranslateBatch call.
type Summary struct {
	Items         int
	CacheHits     int
	Batches       int
	FailedBatches int
	Translated    int
	Unresolved    int
}

// Translator is the batch orchestrator. It is safe for concurrent use;
// the store is the only state shared between calls.
type Translator struct {
	opts       Options
	store      store.Store
	planner    Planner
	dispatcher *Dispatcher
	observer   Observer
}

// New builds a Translator writing to st.
func New(st store.Store, opts Options) (*Translator, error) {
	if st == nil {
		return nil, errors.New("translate: nil store")
	}
	if opts.Provider.BaseURL == "" {
		return nil, errors.New("translate: API base URL is required")
	}
	if opts.Provider.Model == "" {
		return nil, errors.New("translate: model is required")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("translate: negative retry count %d", opts.MaxRetries)
	}

	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	client := opts.HTTPClient
	if client == nil {
		client = makeHTTPClient(opts.Provider.Proxy, opts.effectiveTimeout())
	}
	var logs *attemptlog.Dir
	if opts.LogDir != "" {
		logs = attemptlog.New(opts.LogDir)
	}

	prompt := ResolvePrompt(opts.SystemPrompt, opts.Language, opts.LanguageName)

	return &Translator{
		opts:  opts,
		store: st,
		planner: Planner{
			Estimate:     opts.Estimator,
			SystemPrompt: prompt,
		},
		dispatcher: &Dispatcher{
			provider:     opts.Provider,
			client:       client,
			systemPrompt: prompt,
			maxTokens:    opts.effectiveMaxTokens(),
			temperature:  opts.Temperature,
			maxRetries:   opts.MaxRetries,
			backoff:      opts.effectiveBackoff(),
			logs:         logs,
			rl:           &rateLimitState{},
			observer:     observer,
			verbose:      opts.Verbose,
		},
		observer: observer,
	}, nil
}

// SystemPrompt returns the resolved prompt sent with every request.
func (t *Translator) SystemPrompt() string {
	return t.dispatcher.systemPrompt
}

// Stats returns the cache statistics of the underlying store.
func (t *Translator) Stats(ctx context.Context) (store.Stats, error) {
	return t.store.Stats(ctx)
}

// TranslateBatch resolves inputs from the cache (when useCache is set) and
// the LLM, returning the resolved ones in input order. Inputs that could
// not be resolved are omitted. The error is non-nil only for invalid input
// or a cancelled ctx; in the latter case the results gathered so far are
// returned as well.
func (t *Translator) TranslateBatch(ctx context.Context, inputs []Input, useCache bool) ([]Result, error) {
	results, _, err := t.TranslateBatchSummary(ctx, inputs, useCache)
	return results, err
}

// TranslateBatchSummary is TranslateBatch plus a per-call summary.
func (t *Translator) TranslateBatchSummary(ctx context.Context, inputs []Input, useCache bool) ([]Result, Summary, error) {
	sum := Summary{Items: len(inputs)}
	for i, in := range inputs {
		if in.Namespace == "" || in.Key == "" {
			return nil, sum, fmt.Errorf("%w: input %d has empty namespace or key", ErrInvalidInput, i)
		}
	}

	slots := make([]*Result, len(inputs))
	misses := make([]Item, 0, len(inputs))

	for i, in := range inputs {
		if useCache {
			translation, ok, err := t.store.Lookup(ctx, in.Namespace, in.Text)
			if err != nil {
				t.observer.CacheReadFailed(in.Namespace, in.Key, err)
			} else if ok {
				slots[i] = &Result{
					Index:       i,
					Namespace:   in.Namespace,
					Key:         in.Key,
					Original:    in.Text,
					Translation: translation,
				}
				sum.CacheHits++
				continue
			}
		}
		misses = append(misses, Item{Namespace: in.Namespace, Key: in.Key, Text: in.Text, Index: i})
	}
	if useCache {
		t.observer.CacheProbed(sum.CacheHits, len(misses))
	}

	if len(misses) > 0 {
		batches := t.planner.Plan(misses, TokenCeiling(t.dispatcher.maxTokens))
		sum.Batches = len(batches)
		t.observer.BatchesPlanned(len(batches), len(misses))

		var failed atomic.Int64
		var g errgroup.Group
		g.SetLimit(t.opts.effectiveParallel())
		for n, b := range batches {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if !t.runBatch(ctx, n+1, b, inputs, slots) {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		sum.FailedBatches = int(failed.Load())
	}

	results := make([]Result, 0, len(inputs))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	sum.Translated = len(results) - sum.CacheHits
	sum.Unresolved = len(inputs) - len(results)

	return results, sum, ctx.Err()
}

// runBatch dispatches one batch and fills the slots it resolves. Batches
// own disjoint input indices, so slots needs no locking. It reports false
// when the batch was dropped.
func (t *Translator) runBatch(ctx context.Context, n int, b Batch, inputs []Input, slots []*Result) bool {
	t.observer.BatchStarted(n, len(b.Items), b.Tokens)

	req, pm := Encode(b)
	resp, err := t.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.observer.BatchFailed(n, len(b.Items), err)
		return false
	}

	rec := Reconcile(resp, pm)
	for _, m := range rec.Mismatches {
		t.observer.Mismatch(n, m)
	}

	for _, res := range rec.Resolved {
		in := inputs[res.Index]
		err := t.store.Put(ctx, store.Entry{
			Namespace:   in.Namespace,
			Key:         in.Key,
			Original:    in.Text,
			Translation: res.Translation,
		})
		if err != nil {
			t.observer.CacheWriteFailed(in.Namespace, in.Key, err)
		}
		slots[res.Index] = &Result{
			Index:       res.Index,
			Namespace:   in.Namespace,
			Key:         in.Key,
			Original:    in.Text,
			Translation: res.Translation,
		}
	}

	t.observer.BatchFinished(n, len(rec.Resolved), len(rec.Unresolved))
	return true
}
