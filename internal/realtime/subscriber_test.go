package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"leadflow/internal/domain"
	"leadflow/internal/events"
	"leadflow/internal/logging"
	"leadflow/internal/realtime"
)

func expect(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestSubscriberReconnectsFromCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created := lead("l-1", domain.StatusNieuw, domain.ApprovalNone)
	pending := lead("l-1", domain.StatusCalculatie, domain.ApprovalPending)
	src := &memorySource{}
	src.add(leadEvent(t, 1, events.LeadCreated, nil, created), leadEvent(t, 2, events.LeadQuoteSubmit, &created, pending))
	hub := realtime.NewHub(src, realtime.HubOptions{Logger: logging.Discard()})
	if err := hub.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	live := hub.Handler(func(*http.Request) (domain.Identity, bool, error) { return admin, true, nil })

	var mu sync.Mutex
	var dials int
	var afters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		n := dials
		afters = append(afters, r.URL.Query().Get("after"))
		mu.Unlock()
		if n > 1 {
			live(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		first := created
		_ = wsjson.Write(r.Context(), conn, realtime.Frame{Type: realtime.FrameChange, Cursor: 1,
			Change: &realtime.Change{Seq: 1, EventType: realtime.EventInsert, Table: realtime.TableLeads, New: &first}})
		conn.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer srv.Close()

	sink := newRecordingSink()
	ready := make(chan int64, 4)
	sub := realtime.NewSubscriber(wsURL(srv), sink, realtime.SubscriberOptions{
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		Logger:       logging.Discard(),
		OnReady:      func(cursor int64) { ready <- cursor },
	})
	feed := realtime.NewApprovalFeed(4, logging.Discard())
	sub.Observe(feed.Observe)

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	expect(t, sink.ch, "insert:l-1")
	expect(t, sink.ch, "update:l-1:pending")
	select {
	case cursor := <-ready:
		if cursor != 2 {
			t.Fatalf("ready cursor = %d", cursor)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("subscriber never became ready")
	}
	if sub.Cursor() != 2 {
		t.Fatalf("cursor = %d", sub.Cursor())
	}
	mu.Lock()
	if len(afters) < 2 || afters[0] != "" || afters[1] != "1" {
		t.Fatalf("unexpected dial cursors %v", afters)
	}
	mu.Unlock()

	rejected := pending.Clone()
	rejected.QuoteApproval = domain.ApprovalRejected
	rejected.QuoteFeedback = []domain.Feedback{{ID: "f-1", Message: "te duur", Type: domain.FeedbackRejection}}
	src.add(leadEvent(t, 3, events.LeadQuoteRejected, &pending, rejected))
	if err := hub.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	expect(t, sink.ch, "update:l-1:rejected")
	select {
	case ev := <-feed.C():
		if ev.Kind != realtime.ApprovalRejected || ev.Message != "te duur" {
			t.Fatalf("unexpected approval event %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("approval event not observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("subscriber did not stop")
	}
}
