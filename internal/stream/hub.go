package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/persistence"
)

// Hub fans batches out to in-process subscribers. A subscriber whose buffer is full misses
// the batch instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan market.Batch
	next   int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 4
	}
	return &Hub{subs: make(map[int]chan market.Batch), buffer: buffer}
}

// Subscribe registers a receiver; call the returned func to detach
func (h *Hub) Subscribe() (<-chan market.Batch, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan market.Batch, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish implements persistence.SignalPublisher
func (h *Hub) Publish(_ context.Context, batch market.Batch) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- batch:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of attached receivers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Fanout publishes to several publishers and joins their errors
type Fanout []persistence.SignalPublisher

func (f Fanout) Publish(ctx context.Context, batch market.Batch) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BatchSource delivers batches to handler until ctx ends
type BatchSource interface {
	Subscribe(ctx context.Context, handler func(market.Batch)) error
}

// Relay republishes every batch from src on dst until ctx ends or src fails.
// Publish errors are logged and the relay keeps going.
func Relay(ctx context.Context, src BatchSource, dst persistence.SignalPublisher) error {
	return src.Subscribe(ctx, func(batch market.Batch) {
		if err := dst.Publish(ctx, batch); err != nil {
			log.Warn().Err(err).Time("generated_at", batch.GeneratedAt).Msg("Relay publish failed")
		}
	})
}
