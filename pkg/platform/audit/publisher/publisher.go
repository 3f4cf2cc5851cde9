// Package publisher fronts an audit.Store. In sync mode Emit writes through;
// with WithAsyncBuffer events are queued and written by a background
// goroutine that Close drains.
package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	audit "certledger/pkg/platform/audit"
)

var errBufferFull = errors.New("audit buffer full")

// Publisher emits audit events to a store.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	queue     chan audit.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan audit.Event, n)
		}
	}
}

// WithLogger sets the logger used for async write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit records event, stamping a timestamp and category when missing.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.queue == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return errBufferFull
	}
}

// List returns events recorded for a subject.
func (p *Publisher) List(ctx context.Context, subjectID string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subjectID)
}

// Close stops the async writer after draining queued events.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.queue != nil {
			close(p.queue)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}
