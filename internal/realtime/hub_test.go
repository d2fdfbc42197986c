package realtime_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

type memorySource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memorySource) add(evts ...domain.Event) {
	m.mu.Lock()
	m.events = append(m.events, evts...)
	m.mu.Unlock()
}

func (m *memorySource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.ID > cursor {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memorySource) LatestEventID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].ID, nil
}

func TestHubPollBroadcastsAfterCursor(t *testing.T) {
	ctx := context.Background()
	l := lead("l-1", domain.StatusNieuw, domain.ApprovalNone)
	src := &memorySource{}
	src.add(leadEvent(t, 1, events.LeadCreated, nil, l))
	hub := realtime.NewHub(src, realtime.HubOptions{BatchSize: 2, Logger: logging.Discard()})
	if err := hub.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	triage := l.Clone()
	triage.Status = domain.StatusTriage
	src.add(
		leadEvent(t, 2, events.LeadStatusChanged, &l, triage),
		domain.Event{ID: 3, Type: events.RBACChanged, EntityKind: "actor", EntityID: "u-erik", Payload: "{}"},
		leadEvent(t, 4, events.LeadDeleted, &triage, triage),
	)
	if err := hub.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := hub.Cursor(); got != 4 {
		t.Fatalf("cursor = %d, want 4", got)
	}
	first := <-sub.C
	second := <-sub.C
	if first.Seq != 2 || first.EventType != realtime.EventUpdate || second.Seq != 4 || second.EventType != realtime.EventDelete {
		t.Fatalf("unexpected changes %+v %+v", first, second)
	}
	select {
	case c := <-sub.C:
		t.Fatalf("unexpected extra change %+v", c)
	default:
	}
}

func TestAttachSeesEveryChangePastCursor(t *testing.T) {
	ctx := context.Background()
	const total = 200
	src := &memorySource{}
	for i := 1; i <= total; i++ {
		l := lead(fmt.Sprintf("l-%d", i), domain.StatusNieuw, domain.ApprovalNone)
		src.add(leadEvent(t, int64(i), events.LeadCreated, nil, l))
	}
	hub := realtime.NewHub(src, realtime.HubOptions{BatchSize: 1, Buffer: total, Logger: logging.Discard()})

	polled := make(chan error, 1)
	go func() { polled <- hub.Poll(ctx) }()
	sub, cursor := hub.Attach()
	defer hub.Unsubscribe(sub)
	if err := <-polled; err != nil {
		t.Fatalf("poll: %v", err)
	}

	want := cursor + 1
	for want <= total {
		select {
		case c := <-sub.C:
			if c.Seq != want {
				t.Fatalf("got seq %d, want %d (attached after %d)", c.Seq, want, cursor)
			}
			want++
		default:
			t.Fatalf("missing seq %d (attached after %d)", want, cursor)
		}
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{}
	hub := realtime.NewHub(src, realtime.HubOptions{Buffer: 1, Logger: logging.Discard()})
	slow := hub.Subscribe()
	l := lead("l-1", domain.StatusNieuw, domain.ApprovalNone)
	src.add(leadEvent(t, 1, events.LeadCreated, nil, l), leadEvent(t, 2, events.LeadAssigned, &l, l))
	if err := hub.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("slow subscriber should be removed")
	}
	if c, ok := <-slow.C; !ok || c.Seq != 1 {
		t.Fatalf("buffered change should still be readable")
	}
	if _, ok := <-slow.C; ok {
		t.Fatalf("channel should be closed after the drop")
	}
	hub.Unsubscribe(slow)
}

func newHubServer(t *testing.T, hub *realtime.Hub, who domain.Identity) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(hub.Handler(func(*http.Request) (domain.Identity, bool, error) {
		return who, who.IsAdmin(), nil
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	var f realtime.Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestServeReplaysThenStreamsFilteredChanges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	building := lead("l-1", domain.StatusCalculatie, domain.ApprovalNone)
	ordered := lead("l-2", domain.StatusOpdracht, domain.ApprovalApproved)
	src := &memorySource{}
	src.add(leadEvent(t, 1, events.LeadCreated, nil, building), leadEvent(t, 2, events.LeadCreated, nil, ordered))
	hub := realtime.NewHub(src, realtime.HubOptions{Logger: logging.Discard()})
	if err := hub.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	srv := newHubServer(t, hub, engineer)

	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"?after=0", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	replayed := readFrame(t, ctx, conn)
	if replayed.Type != realtime.FrameChange || replayed.Change.LeadID() != "l-2" {
		t.Fatalf("expected only the visible lead in the replay, got %+v", replayed)
	}
	ready := readFrame(t, ctx, conn)
	if ready.Type != realtime.FrameReady || ready.Cursor != 2 {
		t.Fatalf("unexpected ready frame %+v", ready)
	}

	archived := ordered.Clone()
	archived.Status = domain.StatusArchief
	src.add(leadEvent(t, 3, events.LeadStatusChanged, &ordered, archived))
	if err := hub.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	live := readFrame(t, ctx, conn)
	if live.Cursor != 3 || live.Change.EventType != realtime.EventDelete || live.Change.New != nil {
		t.Fatalf("archived lead should leave the engineer's view, got %+v", live.Change)
	}
}

func TestHandlerRejectsBadCursor(t *testing.T) {
	hub := realtime.NewHub(&memorySource{}, realtime.HubOptions{Logger: logging.Discard()})
	srv := newHubServer(t, hub, admin)
	res, err := http.Get(srv.URL + "?after=-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestHandlerRequiresIdentity(t *testing.T) {
	hub := realtime.NewHub(&memorySource{}, realtime.HubOptions{Logger: logging.Discard()})
	srv := httptest.NewServer(hub.Handler(func(*http.Request) (domain.Identity, bool, error) {
		return domain.Identity{}, false, errors.New("missing token")
	}))
	defer srv.Close()
	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}
