// ABOUTME: Service is the save-data engine: every operation is one store transaction
// ABOUTME: Authorize first, then read-compute-write; events reach the sink only after commit

package savedata

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/metasave/internal/authority"
	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// Service runs save-data operations against a Store.
type Service struct {
	store    store.Store
	registry *authority.Registry
	sink     EventSink
	logger   *slog.Logger

	// writeMu spans commit and publish so the sink sees events in
	// ledger sequence order.
	writeMu sync.Mutex
}

// New creates a Service. A nil registry or sink gets a default; a nil
// logger uses slog.Default().
func New(s store.Store, registry *authority.Registry, sink EventSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = authority.NewRegistry(logger)
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Service{
		store:    s,
		registry: registry,
		sink:     sink,
		logger:   logger.With("component", "savedata"),
	}
}

// Registry returns the authority registry the service writes through.
func (s *Service) Registry() *authority.Registry {
	return s.registry
}

// txn is the per-operation handle: the store transaction plus the events
// appended to the ledger during it.
type txn struct {
	store.Tx
	events []*store.Event
}

func (t *txn) emit(ctx context.Context, e *store.Event) error {
	if err := t.AppendEvent(ctx, e); err != nil {
		return err
	}
	t.events = append(t.events, e)
	return nil
}

// update runs fn in one transaction and publishes its events after commit.
func (s *Service) update(ctx context.Context, op string, caller record.AccountID, fn func(t *txn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var events []*store.Event
	err := s.store.Update(ctx, func(tx store.Tx) error {
		t := &txn{Tx: tx}
		if err := fn(t); err != nil {
			return err
		}
		events = t.events
		return nil
	})
	if err != nil {
		s.logger.Debug("operation rejected", "op", op, "caller", caller, "error", err)
		return err
	}

	for _, e := range events {
		s.sink.Publish(ctx, e)
	}
	return nil
}

// view runs fn in a read-only transaction.
func (s *Service) view(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.store.View(ctx, fn)
}
