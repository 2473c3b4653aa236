package realtime

import (
	"context"
	"sync"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/pkg/metrics"

	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// AsyncNotifier implements ports.ChangeNotifier. Events are queued in a bounded
// buffer and published by a single worker; a full buffer drops the event.
type AsyncNotifier struct {
	publisher ports.ChangePublisher
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	events chan domain.ChangeEvent
	closed bool
	done   chan struct{}
}

func NewAsyncNotifier(publisher ports.ChangePublisher, buffer int, log zerolog.Logger, m *metrics.Metrics) *AsyncNotifier {
	if buffer < 1 {
		buffer = 1
	}
	n := &AsyncNotifier{
		publisher: publisher,
		log:       log,
		metrics:   m,
		events:    make(chan domain.ChangeEvent, buffer),
		done:      make(chan struct{}),
	}
	go n.worker()
	return n
}

// Notify queues event for publishing on the topic named after its table. It never blocks.
func (n *AsyncNotifier) Notify(event domain.ChangeEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.events <- event:
	default:
		n.metrics.NotifierDropped()
		n.log.Warn().
			Str("table", event.Table).
			Str("operation", string(event.Operation)).
			Str("record_id", event.RecordID()).
			Msg("change notifier buffer full, dropping event")
	}
}

// Close stops accepting events and waits until the queued ones are published.
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()

	<-n.done
}

func (n *AsyncNotifier) worker() {
	defer close(n.done)
	for event := range n.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := n.publisher.Publish(ctx, event.Table, event); err != nil {
			n.log.Error().Err(err).
				Str("table", event.Table).
				Str("record_id", event.RecordID()).
				Msg("failed to publish change event")
		}
		cancel()
	}
}
