// Package eventbus is the internal pub/sub broker that lets the
// scheduler and manager announce status changes, copy progress, and
// service-level changes to whatever control-plane surface is listening,
// without either side depending on the other: a buffered publish channel
// fanned out to per-subscriber buffered channels, with slow subscribers
// dropped rather than allowed to stall the bus.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moisa13/file-copy/internal/logging"
)

// Kind identifies the category of an Event.
type Kind string

const (
	KindStatusChange  Kind = "status-change"
	KindCopyProgress  Kind = "copy-progress"
	KindServiceChange Kind = "service-change"
	KindScannerNotice Kind = "scanner-notice"
)

// Event is one notification carried on the bus.
type Event struct {
	Kind      Kind
	BucketID  int64
	EntryID   int64
	Status    string
	Message   string
	Bytes     int64
	TotalSize int64
	At        time.Time
}

const (
	defaultBusBuffer    = 256
	defaultClientBuffer = 32
	// progressCoalesce is the minimum gap between two copy-progress
	// events for the same entry that the bus will forward, so a fast
	// local copy doesn't flood subscribers with every chunk callback.
	progressCoalesce = 150 * time.Millisecond
)

// Bus is the event broker. One Bus is shared by the whole service.
type Bus struct {
	log     logging.Logger
	publish chan Event

	mu      sync.RWMutex
	clients map[string]*subscriber

	lastProgressMu sync.Mutex
	lastProgress   map[int64]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscriber struct {
	id     string
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Bus. Call Start before publishing.
func New(log logging.Logger) *Bus {
	if log == nil {
		log = logging.NewNop()
	}
	return &Bus{
		log:          log,
		publish:      make(chan Event, defaultBusBuffer),
		clients:      make(map[string]*subscriber),
		lastProgress: make(map[int64]time.Time),
	}
}

// Start begins the broadcast loop. ctx governs the bus's own lifetime;
// canceling it (or calling Stop) disconnects every subscriber.
func (b *Bus) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.broadcastLoop()
}

// Stop cancels the broadcast loop and waits for it to drain, up to
// timeout.
func (b *Bus) Stop(timeout time.Duration) {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logging.System(b.log, "eventbus: shutdown timeout exceeded")
	}
}

// Publish enqueues event for delivery. Copy-progress events for the same
// entry are coalesced to at most one per progressCoalesce window; every
// other kind is always forwarded. A full bus buffer drops the event
// rather than blocking the caller, since callers are on the scheduler's
// hot path.
func (b *Bus) Publish(event Event) {
	if event.Kind == KindCopyProgress && !b.shouldForwardProgress(event.EntryID) {
		return
	}

	select {
	case b.publish <- event:
	default:
		logging.System(b.log, "eventbus: publish buffer full, dropping event")
	}
}

func (b *Bus) shouldForwardProgress(entryID int64) bool {
	b.lastProgressMu.Lock()
	defer b.lastProgressMu.Unlock()

	last, ok := b.lastProgress[entryID]
	if ok && time.Since(last) < progressCoalesce {
		return false
	}
	b.lastProgress[entryID] = time.Now()
	return true
}

// Subscribe registers a new listener and returns its event channel and a
// cleanup function the caller must invoke when done.
func (b *Bus) Subscribe(ctx context.Context, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = defaultClientBuffer
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		id:     uuid.NewString(),
		events: make(chan Event, bufferSize),
		ctx:    subCtx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.clients[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.awaitDisconnect(sub)

	return sub.events, func() { b.removeSubscriber(sub.id) }
}

func (b *Bus) awaitDisconnect(sub *subscriber) {
	defer b.wg.Done()
	<-sub.ctx.Done()
	b.removeSubscriber(sub.id)
}

func (b *Bus) removeSubscriber(id string) {
	b.mu.Lock()
	sub, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if ok {
		sub.cancel()
		close(sub.events)
	}
}

func (b *Bus) broadcastLoop() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-b.ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.clients))
	for _, sub := range b.clients {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var slow []string
	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			slow = append(slow, sub.id)
		}
	}

	for _, id := range slow {
		b.removeSubscriber(id)
	}
}

func (b *Bus) disconnectAll() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.clients))
	for _, sub := range b.clients {
		subs = append(subs, sub)
	}
	b.clients = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		close(sub.events)
	}
}
