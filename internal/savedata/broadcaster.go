// ABOUTME: In-memory fan-out of committed events to live subscribers
// ABOUTME: Subscribers register per game; slow subscribers drop events instead of blocking writers

package savedata

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster is an EventSink that fans events out to subscribers of the
// event's game. Subscribers see only events published after they subscribe.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[record.GameID]map[string]chan *store.Event // game -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[record.GameID]map[string]chan *store.Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events of game. The returned channel is closed
// when ctx is cancelled, on Unsubscribe, or on Close.
func (b *Broadcaster) Subscribe(ctx context.Context, game record.GameID) (<-chan *store.Event, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[game]; !ok {
		b.subscribers[game] = make(map[string]chan *store.Event)
	}
	b.subscribers[game][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "game", game, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(game, subID)
	}()

	return ch, subID
}

// Publish implements EventSink. Sends never block; a full subscriber
// misses the event.
func (b *Broadcaster) Publish(ctx context.Context, e *store.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[e.Game] {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber", "game", e.Game, "sub_id", subID, "seq", e.Sequence)
		}
	}
}

// Subscribers returns the number of live subscriptions for game.
func (b *Broadcaster) Subscribers(game record.GameID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[game])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(game record.GameID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[game]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, game)
	}

	b.logger.Debug("subscriber removed", "game", game, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for game, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, game)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
