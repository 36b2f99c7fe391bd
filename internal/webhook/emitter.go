package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultQueueSize   = 1000
	defaultPutTimeout  = 500 * time.Millisecond
	defaultSendTimeout = 5 * time.Second
	defaultMaxAttempts = 3
	defaultRetryBase   = time.Second
)

// Emitter is a per-session webhook sender. Events are enqueued with a short
// timeout and dropped on a full queue so trading never blocks on delivery.
// A single consumer goroutine preserves enqueue order.
type Emitter struct {
	url    string
	secret string
	http   *resty.Client
	logger zerolog.Logger

	queue       chan Event
	done        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
	putTimeout  time.Duration
	maxAttempts int
	retryBase   time.Duration
	onResult    func(result string)

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Option adjusts emitter tuning, mainly for tests.
type Option func(*Emitter)

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Emitter) { e.queue = make(chan Event, n) }
}

// WithPutTimeout overrides the enqueue timeout.
func WithPutTimeout(d time.Duration) Option {
	return func(e *Emitter) { e.putTimeout = d }
}

// WithRetry overrides the delivery retry budget and base delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(e *Emitter) {
		e.maxAttempts = attempts
		e.retryBase = base
	}
}

// WithResultHook registers a callback invoked once per event with its final
// outcome: "sent", "dropped" or "failed". It runs on emitter goroutines and
// must not block.
func WithResultHook(fn func(result string)) Option {
	return func(e *Emitter) { e.onResult = fn }
}

// NewEmitter creates an emitter and starts its consumer goroutine.
func NewEmitter(url, secret string, logger zerolog.Logger, opts ...Option) *Emitter {
	e := &Emitter{
		url:         url,
		secret:      secret,
		http:        resty.New().SetTimeout(defaultSendTimeout),
		logger:      logger.With().Str("component", "webhook").Logger(),
		queue:       make(chan Event, defaultQueueSize),
		done:        make(chan struct{}),
		putTimeout:  defaultPutTimeout,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.consume()
	return e
}

// Emit enqueues an event. If the queue stays full past the put timeout the
// event is dropped and counted; the session keeps trading.
func (e *Emitter) Emit(event Event) {
	select {
	case <-e.done:
		e.record(&e.dropped, "dropped")
		return
	default:
	}

	timer := time.NewTimer(e.putTimeout)
	defer timer.Stop()
	select {
	case e.queue <- event:
	case <-timer.C:
		e.record(&e.dropped, "dropped")
		e.logger.Warn().Str("event", event.Kind).Msg("webhook queue full, event dropped")
	case <-e.done:
		e.record(&e.dropped, "dropped")
	}
}

// Close stops the consumer after draining already-queued events.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

// Counters returns delivered, dropped and permanently-failed event counts.
func (e *Emitter) Counters() (sent, dropped, failed int64) {
	return e.sent.Load(), e.dropped.Load(), e.failed.Load()
}

func (e *Emitter) record(counter *atomic.Int64, result string) {
	counter.Add(1)
	if e.onResult != nil {
		e.onResult(result)
	}
}

func (e *Emitter) consume() {
	defer e.wg.Done()
	for {
		select {
		case event := <-e.queue:
			e.deliver(event)
		case <-e.done:
			for {
				select {
				case event := <-e.queue:
					e.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver posts one event, retrying with exponential backoff and jitter.
// After the retry budget the event is dropped and the failure counted.
func (e *Emitter) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		e.record(&e.failed, "failed")
		e.logger.Error().Err(err).Str("event", event.Kind).Msg("marshal webhook event")
		return
	}
	signature := e.signBody(body)

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(e.retryBase) * math.Pow(2, float64(attempt-1)))
			delay += time.Duration(rand.Float64() * float64(delay) * 0.2)
			time.Sleep(delay)
		}

		resp, err := e.http.R().
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Webhook-Signature", signature).
			SetHeader("X-Webhook-ID", uuid.NewString()).
			SetHeader("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10)).
			SetBody(body).
			Post(e.url)
		if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			e.record(&e.sent, "sent")
			return
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode())
		}
	}

	e.record(&e.failed, "failed")
	e.logger.Error().Err(lastErr).Str("event", event.Kind).
		Int("attempts", e.maxAttempts).Msg("webhook delivery failed")
}

func (e *Emitter) signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(e.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against a body, exported for
// receiver-side use and tests.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ Sink = (*Emitter)(nil)
