package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeSubscriber struct {
	ch         chan []byte
	subscribed chan string
	cancelled  bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan []byte, 4), subscribed: make(chan string, 1)}
}

func (f *fakeSubscriber) Subscribe(userID string) (<-chan []byte, func()) {
	f.subscribed <- userID
	return f.ch, func() { f.cancelled = true }
}

func newStreamServer(t *testing.T, events Subscriber) *echo.Echo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e := echo.New()
	register(e, &deps{
		svc:    newBoardService(newMemStore(), logger),
		auth:   mockAuth{},
		events: events,
		logger: logger,
		now:    func() time.Time { return testNow },
	})
	return e
}

func TestStreamSendsBoardThenEvents(t *testing.T) {
	sub := newFakeSubscriber()
	e := newStreamServer(t, sub)

	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=a.b.c", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		e.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case userID := <-sub.subscribed:
		if userID != "user" {
			t.Fatalf("unexpected subscriber %q", userID)
		}
	case <-time.After(time.Second):
		t.Fatalf("stream did not subscribe")
	}
	sub.ch <- []byte(`{"id":"e1","userId":"user"}`)
	close(sub.ch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("stream did not finish after the subscription closed")
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	boardAt := strings.Index(body, "event: board\ndata: {\"board\":")
	eventAt := strings.Index(body, "event: board-event\ndata: {\"id\":\"e1\",\"userId\":\"user\"}\n\n")
	if boardAt < 0 || eventAt < 0 || eventAt < boardAt {
		t.Fatalf("unexpected stream body %q", body)
	}
	if !sub.cancelled {
		t.Fatalf("expected subscription to be cancelled")
	}
}

func TestStreamRequiresAuth(t *testing.T) {
	e := newStreamServer(t, newFakeSubscriber())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestStreamDisabledWithoutSubscriber(t *testing.T) {
	e := newStreamServer(t, nil)
	rec := do(e, http.MethodGet, "/api/stream", "")
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 got %d", rec.Code)
	}
}
