package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotify_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}

		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.Type != EventReservationReady || e.ReservationID != 7 {
			t.Fatalf("unexpected event: %+v", e)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Notify(ctx, Event{Type: EventReservationReady, ReservationID: 7, BookID: 1, OccurredAt: time.Now()})
	if err != nil {
		t.Fatalf("Notify error: %v", err)
	}
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	client.httpClient.RetryWaitMin = time.Millisecond
	client.httpClient.RetryWaitMax = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Notify(ctx, Event{Type: EventLoanOverdue, LoanID: 3}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestNotify_ClientError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Notify(ctx, Event{Type: EventLoanOverdue}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}

func TestNotify_NotConfigured(t *testing.T) {
	var client *Client
	if err := client.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
