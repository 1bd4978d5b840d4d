package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

func bookedEvent(showID uuid.UUID, number int) model.ChangeEvent {
	old := model.Seat{Id: uuid.New(), ShowId: showID, SeatNumber: number}
	next := old
	next.IsBooked = true
	return model.ChangeEvent{Type: model.EventUpdate, Table: "seats", New: next, Old: &old}
}

func receive(t *testing.T, events <-chan model.ChangeEvent) (model.ChangeEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.ChangeEvent{}, false
	}
}

func TestReadSSE_JoinsDataAndSkipsComments(t *testing.T) {
	body := ": keepalive\n" +
		"event: seat\n" +
		"data: {\"a\":\n" +
		"data: 1}\n" +
		"\n" +
		"data: second\n" +
		"\n" +
		"data: tail"

	var got []string
	err := readSSE(context.Background(), strings.NewReader(body), func(b []byte) bool {
		got = append(got, string(b))
		return true
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := []string{"{\"a\":\n1}", "second", "tail"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSSEStream_DeliversInOrderAndDropsMalformed(t *testing.T) {
	showID := uuid.New()
	first := bookedEvent(showID, 3)
	second := bookedEvent(showID, 7)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/shows/"+showID.String()+"/seats/events" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, payload := range []any{first, "not json", bookedEvent(uuid.New(), 1), second} {
			raw, _ := json.Marshal(payload)
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	sub, err := NewSSEStream(newTestClient(server)).Subscribe(context.Background(), showID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer sub.Close()

	ev, ok := receive(t, sub.Events())
	if !ok || ev.New.Id != first.New.Id {
		t.Fatalf("expected first event, got %+v", ev)
	}
	ev, ok = receive(t, sub.Events())
	if !ok || ev.New.Id != second.New.Id {
		t.Fatalf("expected second event, got %+v", ev)
	}
}

func TestSSEStream_CloseEndsWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sub, err := NewSSEStream(newTestClient(server)).Subscribe(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed events channel")
	}
	if sub.Err() != nil {
		t.Fatalf("expected nil error after close, got %v", sub.Err())
	}
}

func TestSSEStream_ServerHangupIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer server.Close()

	sub, err := NewSSEStream(newTestClient(server)).Subscribe(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer sub.Close()

	if _, ok := receive(t, sub.Events()); ok {
		t.Fatal("expected stream to end")
	}
	if sub.Err() == nil {
		t.Fatal("expected stream error after hangup")
	}
}

func TestSSEStream_RejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewSSEStream(newTestClient(server)).Subscribe(context.Background(), uuid.New())
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDecodeChangeEvent(t *testing.T) {
	seat := model.Seat{Id: uuid.New(), ShowId: uuid.New(), SeatNumber: 4, IsBooked: true}
	raw, _ := json.Marshal(map[string]any{"type": "update", "table": "seats", "new": seat})

	ev, err := DecodeChangeEvent(raw)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ev.Type != model.EventUpdate || ev.New.SeatNumber != 4 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	cases := map[string]string{
		"garbage": `{`,
		"type":    `{"type":"DELETE","new":{"id":"` + seat.Id.String() + `","show_id":"` + seat.ShowId.String() + `"}}`,
		"table":   `{"type":"UPDATE","table":"shows","new":{"id":"` + seat.Id.String() + `","show_id":"` + seat.ShowId.String() + `"}}`,
		"no seat": `{"type":"UPDATE","new":{}}`,
	}
	for name, payload := range cases {
		if _, err := DecodeChangeEvent([]byte(payload)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: expected ErrMalformedEvent, got %v", name, err)
		}
	}
}

func TestSubscribeShows(t *testing.T) {
	show := model.Show{Id: uuid.New(), Name: "Hamlet", TotalSeats: 10, AvailableSeats: 9}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/shows/events" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		raw, _ := json.Marshal(show)
		fmt.Fprintf(w, "data: %s\n\n", raw)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sub, err := newTestClient(server).SubscribeShows(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer sub.Close()

	select {
	case got := <-sub.Events():
		if got.Id != show.Id || got.AvailableSeats != 9 {
			t.Fatalf("unexpected show: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for show update")
	}
}
