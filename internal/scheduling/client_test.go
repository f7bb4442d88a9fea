package scheduling_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/trunkline/internal/scheduling"
)

// startBackend launches a fake scheduling backend.
func startBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ListResources(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resources": [
			{"id": "court-1", "name": "Court 1"},
			{"id": "blue-room", "name": "Blue Room"}
		]}`))
	})

	c := scheduling.NewClient(srv.URL, "sekrit")
	resources, err := c.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}

	if gotPath != "/v1/resources" {
		t.Errorf("path = %q, want /v1/resources", gotPath)
	}
	if gotKey != "sekrit" {
		t.Errorf("X-API-Key = %q, want sekrit", gotKey)
	}
	if len(resources) != 2 || resources[0].ID != "court-1" || resources[1].Name != "Blue Room" {
		t.Errorf("resources = %+v", resources)
	}
}

func TestClient_CheckAvailability(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/availability" {
			t.Errorf("path = %q, want /v1/availability", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("date") != "2025-07-01" || q.Get("resource") != "court-1" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"date": "2025-07-01",
			"resource": "court-1",
			"freeSlots": [
				{"start": "2025-07-01T15:00:00Z", "end": "2025-07-01T16:00:00Z"}
			]
		}`))
	})

	c := scheduling.NewClient(srv.URL, "key")
	av, err := c.CheckAvailability(context.Background(), "2025-07-01", "court-1")
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if av.Resource != "court-1" {
		t.Errorf("resource = %q", av.Resource)
	}
	if len(av.FreeSlots) != 1 {
		t.Fatalf("freeSlots = %+v, want 1 slot", av.FreeSlots)
	}
	wantStart := time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC)
	if !av.FreeSlots[0].Start.Equal(wantStart) {
		t.Errorf("slot start = %v, want %v", av.FreeSlots[0].Start, wantStart)
	}
}

func TestClient_CreateBooking(t *testing.T) {
	t.Parallel()

	type wireBooking struct {
		Resource        string `json:"resource"`
		StartTime       string `json:"startTime"`
		DurationMinutes int    `json:"durationMinutes"`
		Description     string `json:"description"`
	}
	received := make(chan wireBooking, 1)

	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/bookings" {
			t.Errorf("%s %s, want POST /v1/bookings", r.Method, r.URL.Path)
		}
		var body wireBooking
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		received <- body

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": "bk_42",
			"resource": "court-1",
			"startTime": "2025-07-01T15:00:00Z",
			"endTime": "2025-07-01T16:00:00Z",
			"description": "Alex"
		}`))
	})

	c := scheduling.NewClient(srv.URL, "key")
	booking, err := c.CreateBooking(context.Background(), scheduling.BookingRequest{
		Resource:    "court-1",
		StartTime:   time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC),
		Duration:    time.Hour,
		Description: "Alex",
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if booking.ID != "bk_42" {
		t.Errorf("booking id = %q", booking.ID)
	}

	body := <-received
	if body.DurationMinutes != 60 {
		t.Errorf("durationMinutes = %d, want 60", body.DurationMinutes)
	}
	if body.StartTime != "2025-07-01T15:00:00Z" {
		t.Errorf("startTime = %q", body.StartTime)
	}
}

func TestClient_CreateBooking_Conflict(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": "court-1 is booked from 15:00 to 16:00"}`))
	})

	c := scheduling.NewClient(srv.URL, "key")
	_, err := c.CreateBooking(context.Background(), scheduling.BookingRequest{
		Resource:  "court-1",
		StartTime: time.Now(),
		Duration:  time.Hour,
	})
	if !errors.Is(err, scheduling.ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
	if !strings.Contains(err.Error(), "booked from 15:00") {
		t.Errorf("error %q should carry the backend message", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c := scheduling.NewClient(srv.URL, "key")
	_, err := c.ListResources(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q should mention the status code", err)
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	breaker := scheduling.NewBreaker(scheduling.BreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	c := scheduling.NewClient(srv.URL, "key", scheduling.WithBreaker(breaker))

	// Two failures trip the breaker.
	_, _ = c.ListResources(context.Background())
	_, _ = c.ListResources(context.Background())

	// Third call fails fast without reaching the backend.
	_, err := c.ListResources(context.Background())
	if !errors.Is(err, scheduling.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("backend saw %d requests, want 2", got)
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad date", http.StatusBadRequest)
	})

	breaker := scheduling.NewBreaker(scheduling.BreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	c := scheduling.NewClient(srv.URL, "key", scheduling.WithBreaker(breaker))

	for range 4 {
		_, err := c.CheckAvailability(context.Background(), "not-a-date", "court-1")
		if err == nil {
			t.Fatal("expected error for 400 response")
		}
		if errors.Is(err, scheduling.ErrCircuitOpen) {
			t.Fatal("4xx responses must not trip the breaker")
		}
	}
	if breaker.State() != scheduling.BreakerClosed {
		t.Errorf("breaker state = %v, want closed", breaker.State())
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := startBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	c := scheduling.NewClient(srv.URL, "key")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListResources(ctx)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
