package realtime

import (
	"context"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"leadflow/internal/domain"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultBuffer       = 64
)

// EventSource is the slice of the repository the hub reads from.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type HubOptions struct {
	PollInterval time.Duration
	BatchSize    int
	// Buffer is the per-subscriber queue length. A subscriber whose queue is
	// full is dropped and has to reconnect from its cursor.
	Buffer int
	Logger *charmLog.Logger
}

// Hub polls the events table and fans lead changes out to subscribers.
type Hub struct {
	src      EventSource
	interval time.Duration
	batch    int
	buffer   int
	logger   *charmLog.Logger

	mu     sync.Mutex
	cursor int64
	primed bool
	subs   map[*Subscription]struct{}
}

// Subscription receives every lead change the hub reads after it was
// created. C is closed when the subscription is dropped or the hub stops.
type Subscription struct {
	C    <-chan Change
	ch   chan Change
	once sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

func NewHub(src EventSource, opts HubOptions) *Hub {
	h := &Hub{
		src:      src,
		interval: opts.PollInterval,
		batch:    opts.BatchSize,
		buffer:   opts.Buffer,
		logger:   opts.Logger,
		subs:     map[*Subscription]struct{}{},
	}
	if h.interval <= 0 {
		h.interval = defaultPollInterval
	}
	if h.batch <= 0 {
		h.batch = defaultBatchSize
	}
	if h.buffer <= 0 {
		h.buffer = defaultBuffer
	}
	if h.logger == nil {
		h.logger = charmLog.Default()
	}
	return h
}

// Prime positions the cursor at the newest event so the hub only forwards
// changes written from now on. Replays are served per connection.
func (h *Hub) Prime(ctx context.Context) error {
	latest, err := h.src.LatestEventID(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cursor = latest
	h.primed = true
	h.mu.Unlock()
	return nil
}

// Run polls until ctx ends, then closes every subscription. It primes the
// cursor unless Prime already ran.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	h.mu.Lock()
	primed := h.primed
	h.mu.Unlock()
	if !primed {
		if err := h.Prime(ctx); err != nil {
			h.logger.Error("realtime: init cursor failed", "err", err)
		}
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if err := h.Poll(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("realtime: poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll reads the next batches after the cursor and broadcasts them.
func (h *Hub) Poll(ctx context.Context) error {
	for {
		h.mu.Lock()
		cursor := h.cursor
		h.mu.Unlock()
		evts, err := h.src.EventsAfter(ctx, h.batch, cursor)
		if err != nil {
			return err
		}
		for _, evt := range evts {
			c, ok, err := FromEvent(evt)
			if err != nil {
				h.logger.Warn("realtime: skipping malformed event", "event_id", evt.ID, "err", err)
			}
			h.mu.Lock()
			if ok {
				h.broadcast(c)
			}
			h.cursor = evt.ID
			h.mu.Unlock()
		}
		if len(evts) < h.batch {
			return nil
		}
	}
}

// Cursor returns the id of the last event the hub read.
func (h *Hub) Cursor() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

func (h *Hub) Subscribe() *Subscription {
	sub, _ := h.Attach()
	return sub
}

// Attach subscribes and returns the cursor the subscription starts after.
// Every change past that cursor reaches the subscription.
func (h *Hub) Attach() (*Subscription, int64) {
	ch := make(chan Change, h.buffer)
	sub := &Subscription{C: ch, ch: ch}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	return sub, h.cursor
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcast fans c out. Callers hold h.mu.
func (h *Hub) broadcast(c Change) {
	for sub := range h.subs {
		select {
		case sub.ch <- c:
		default:
			delete(h.subs, sub)
			sub.close()
			h.logger.Warn("realtime: dropping slow subscriber", "seq", c.Seq)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

// Replay passes the lead changes after cursor to fn, read straight from the
// source up to the newest event. It returns the id of the last event read.
func (h *Hub) Replay(ctx context.Context, cursor int64, fn func(Change) error) (int64, error) {
	for {
		evts, err := h.src.EventsAfter(ctx, h.batch, cursor)
		if err != nil {
			return cursor, err
		}
		for _, evt := range evts {
			c, ok, err := FromEvent(evt)
			if err != nil {
				h.logger.Warn("realtime: skipping malformed event", "event_id", evt.ID, "err", err)
			} else if ok {
				if err := fn(c); err != nil {
					return cursor, err
				}
			}
			cursor = evt.ID
		}
		if len(evts) < h.batch {
			return cursor, nil
		}
	}
}
