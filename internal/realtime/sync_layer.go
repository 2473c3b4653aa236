package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lead-ledger/config"
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrLayerClosed is returned by Subscribe after Close.
var ErrLayerClosed = errors.New("realtime: layer closed")

// Handler receives change events. Delivery is at-least-once, so handlers must
// merge by id rather than accumulate.
type Handler func(event domain.ChangeEvent)

// ErrorHandler receives the ConnectionError of a subscription that gave up.
type ErrorHandler func(topic string, err error)

// Options configures reconnection.
type Options struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxRetries   int // 0 = unbounded
	RetryEnabled bool
	OnError      ErrorHandler
}

// OptionsFromConfig builds Options from the realtime config section.
func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		MaxRetries:   cfg.MaxRetries,
		RetryEnabled: cfg.RetryEnabled,
	}
}

// SubscribeOption customizes a single subscription.
type SubscribeOption func(*Subscription)

// WithErrorHandler overrides the layer's error callback for one subscription.
func WithErrorHandler(fn ErrorHandler) SubscribeOption {
	return func(s *Subscription) {
		s.onError = fn
	}
}

// Layer owns the subscriptions opened over one ChangeStream.
type Layer struct {
	stream  ports.ChangeStream
	opts    Options
	backoff Backoff
	log     zerolog.Logger
	metrics *metrics.Metrics

	// after schedules reconnects; tests replace it.
	after func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
	wg     sync.WaitGroup
}

func NewLayer(stream ports.ChangeStream, opts Options, log zerolog.Logger, m *metrics.Metrics) *Layer {
	return &Layer{
		stream:  stream,
		opts:    opts,
		backoff: Backoff{Base: opts.BaseDelay, Max: opts.MaxDelay},
		log:     log,
		metrics: m,
		after:   time.After,
		subs:    make(map[uuid.UUID]*Subscription),
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uuid.UUID
	topic   string
	ctx     context.Context
	cancel  context.CancelFunc
	onError ErrorHandler

	status atomic.Value // Status

	// mu serializes callbacks against Unsubscribe.
	mu      sync.Mutex
	handler Handler
	closed  bool
}

func (s *Subscription) ID() uuid.UUID { return s.id }

func (s *Subscription) Topic() string { return s.topic }

// Status returns the last observed connection status.
func (s *Subscription) Status() Status {
	st, _ := s.status.Load().(Status)
	return st
}

func (s *Subscription) deliver(event domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handler(event)
}

func (s *Subscription) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onError == nil {
		return false
	}
	s.onError(s.topic, err)
	return true
}

// Subscribe opens a connection to topic and keeps it alive in the background.
func (l *Layer) Subscribe(topic string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if topic == "" || handler == nil {
		return nil, fmt.Errorf("realtime: topic and handler are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		id:      uuid.New(),
		topic:   topic,
		ctx:     ctx,
		cancel:  cancel,
		handler: handler,
		onError: l.opts.OnError,
	}
	for _, opt := range opts {
		opt(sub)
	}
	sub.status.Store(StatusConnecting)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		return nil, ErrLayerClosed
	}
	l.subs[sub.id] = sub
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(sub)

	l.log.Debug().Str("topic", topic).Str("subscription_id", sub.id.String()).Msg("subscribed")
	return sub, nil
}

// Unsubscribe stops sub. Once it returns the handler and error callback are never
// invoked again for sub. It must not be called from inside those callbacks.
func (l *Layer) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.cancel()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	l.mu.Lock()
	delete(l.subs, sub.id)
	l.mu.Unlock()
}

// Close unsubscribes everything and waits for the connection goroutines to exit.
func (l *Layer) Close() {
	l.mu.Lock()
	l.closed = true
	subs := make([]*Subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		l.Unsubscribe(s)
	}
	l.wg.Wait()
}

func (l *Layer) run(sub *Subscription) {
	defer l.wg.Done()
	log := l.log.With().Str("topic", sub.topic).Str("transport", l.stream.Name()).Logger()

	retries := 0
	for {
		l.setStatus(sub, StatusConnecting)

		attemptCtx, cancelAttempt := context.WithCancel(sub.ctx)
		sink := &attemptSink{layer: l, sub: sub, cancel: cancelAttempt}
		err := l.stream.Stream(attemptCtx, sub.topic, sink)
		cancelAttempt()

		if sub.ctx.Err() != nil {
			return
		}

		status := sink.failure()
		if status == "" {
			status = StatusClosed
			if err != nil {
				status = StatusError
			}
		}
		l.setStatus(sub, status)
		if sink.opened.Load() {
			retries = 0
		}

		cause := err
		if cause == nil {
			cause = fmt.Errorf("connection %s", status)
		}

		if !l.opts.RetryEnabled {
			l.giveUp(sub, log, cause)
			return
		}

		retries++
		if l.opts.MaxRetries > 0 && retries > l.opts.MaxRetries {
			l.giveUp(sub, log, cause)
			return
		}

		delay := l.backoff.Delay(retries)
		l.metrics.RealtimeReconnect()
		log.Warn().Err(cause).Str("status", string(status)).Int("retry", retries).
			Dur("delay", delay).Msg("subscription lost, reconnecting")

		select {
		case <-sub.ctx.Done():
			return
		case <-l.after(delay):
		}
	}
}

func (l *Layer) giveUp(sub *Subscription, log zerolog.Logger, cause error) {
	err := apperror.ErrConnection(sub.topic, cause)
	if !sub.fail(err) {
		log.Error().Err(err).Msg("subscription gave up")
	}
}

func (l *Layer) setStatus(sub *Subscription, status Status) {
	if sub.Status() == status {
		return
	}
	sub.status.Store(status)
	l.metrics.RealtimeStatus(string(status))
}

// attemptSink adapts one Stream call to its subscription. A failure status ends
// the attempt even if the transport keeps the call open.
type attemptSink struct {
	layer  *Layer
	sub    *Subscription
	cancel context.CancelFunc

	opened atomic.Bool
	mu     sync.Mutex
	failed Status
}

func (a *attemptSink) OnStatus(raw string) {
	status := NormalizeStatus(raw)
	switch {
	case status == "":
		a.layer.log.Debug().Str("topic", a.sub.topic).Str("status", raw).Msg("ignoring unknown status")
	case status == StatusOpen:
		a.opened.Store(true)
		a.layer.setStatus(a.sub, status)
	case status.IsFailure():
		a.mu.Lock()
		if a.failed == "" {
			a.failed = status
		}
		a.mu.Unlock()
		a.cancel()
	}
}

func (a *attemptSink) OnEvent(event domain.ChangeEvent) {
	a.sub.deliver(event)
}

func (a *attemptSink) failure() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}
