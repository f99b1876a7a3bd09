package translate

import "time"

// Observer receives progress and diagnostic events from a Translator.
// Methods may be called concurrently from batch workers and must not block
// for long. The translator itself never writes to stdout or stderr.
type Observer interface {
	// CacheProbed reports the outcome of the cache lookup phase.
	CacheProbed(hits, misses int)
	// CacheReadFailed reports a lookup error; the item is treated as a miss.
	CacheReadFailed(namespace, key string, err error)
	// BatchesPlanned reports how the cache misses were split.
	BatchesPlanned(batches, items int)
	// BatchStarted is called before a batch is dispatched.
	BatchStarted(batch, items, tokens int)
	// BatchFinished reports a dispatched and reconciled batch.
	BatchFinished(batch, resolved, unresolved int)
	// BatchFailed reports a batch dropped on a transport or decode error.
	BatchFailed(batch, items int, err error)
	// Mismatch reports a disagreement between a request and its response.
	Mismatch(batch int, m Mismatch)
	// Retrying reports a retry of a failed request after wait.
	Retrying(attempt int, wait time.Duration, err error)
	// CacheWriteFailed reports a result that could not be cached. The
	// result is still returned.
	CacheWriteFailed(namespace, key string, err error)
	// AttemptLogFailed reports a debug log that could not be written.
	AttemptLogFailed(err error)
}

// NopObserver ignores every event. Embed it to implement only the events
// of interest.
type NopObserver struct{}

func (NopObserver) CacheProbed(int, int)                   {}
func (NopObserver) CacheReadFailed(string, string, error)  {}
func (NopObserver) BatchesPlanned(int, int)                {}
func (NopObserver) BatchStarted(int, int, int)             {}
func (NopObserver) BatchFinished(int, int, int)            {}
func (NopObserver) BatchFailed(int, int, error)            {}
func (NopObserver) Mismatch(int, Mismatch)                 {}
func (NopObserver) Retrying(int, time.Duration, error)     {}
func (NopObserver) CacheWriteFailed(string, string, error) {}
func (NopObserver) AttemptLogFailed(error)                 {}
