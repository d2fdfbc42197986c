package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type SubscriberOptions struct {
	// Header is sent on every dial, typically Authorization or X-Api-Key.
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Logger       *charmLog.Logger
	// OnReady runs after each successful (re)connect, once the replay was
	// delivered.
	OnReady func(cursor int64)
}

// Subscriber keeps a websocket to the realtime endpoint open and merges the
// received changes into a Sink. Disconnects are logged and retried with
// capped exponential backoff; they never surface to the caller.
type Subscriber struct {
	endpoint string
	sink     Sink
	opts     SubscriberOptions
	logger   *charmLog.Logger

	mu        sync.Mutex
	cursor    int64
	observers []func(Change)
}

// NewSubscriber returns a subscriber for the websocket URL endpoint, e.g.
// ws://localhost:8080/v0/realtime.
func NewSubscriber(endpoint string, sink Sink, opts SubscriberOptions) *Subscriber {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
		if opts.ReconnectMax < opts.ReconnectMin {
			opts.ReconnectMax = opts.ReconnectMin
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Subscriber{endpoint: endpoint, sink: sink, opts: opts, logger: logger, cursor: -1}
}

// Observe registers fn to see every change after it was applied to the sink.
func (s *Subscriber) Observe(fn func(Change)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Cursor returns the last seq received, or -1 before the first connect.
func (s *Subscriber) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SetCursor makes the next connect replay changes after seq.
func (s *Subscriber) SetCursor(seq int64) {
	s.mu.Lock()
	s.cursor = seq
	s.mu.Unlock()
}

// Run connects and reconnects until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.opts.ReconnectMin
	for {
		ready, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ready {
			backoff = s.opts.ReconnectMin
		}
		s.logger.Warn("realtime: disconnected", "err", err, "retry_in", backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > s.opts.ReconnectMax {
			backoff = s.opts.ReconnectMax
		}
	}
}

func (s *Subscriber) dialURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("realtime endpoint: %w", err)
	}
	if cur := s.Cursor(); cur >= 0 {
		q := u.Query()
		q.Set("after", strconv.FormatInt(cur, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// session runs one connection. ready reports whether the server's ready
// frame was received.
func (s *Subscriber) session(ctx context.Context) (ready bool, err error) {
	target, err := s.dialURL()
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: s.opts.Header})
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return ready, err
		}
		switch f.Type {
		case FrameReady:
			ready = true
			s.SetCursor(f.Cursor)
			s.logger.Debug("realtime: connected", "cursor", f.Cursor)
			if s.opts.OnReady != nil {
				s.opts.OnReady(f.Cursor)
			}
		case FrameChange:
			if f.Change == nil {
				continue
			}
			s.deliver(*f.Change)
			s.SetCursor(f.Cursor)
		}
	}
}

func (s *Subscriber) deliver(c Change) {
	if s.sink != nil {
		Apply(s.sink, c)
	}
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(c)
	}
}
