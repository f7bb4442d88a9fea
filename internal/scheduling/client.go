// Package scheduling talks to the external booking backend over HTTP JSON and
// exposes the calendar tools the AI session may call during a phone call.
//
// The backend owns all business rules (working hours, slot granularity,
// conflict resolution); this package only marshals requests, guards the
// backend with a circuit breaker, and maps spoken resource names onto backend
// resource ids before a call goes out.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second

	apiKeyHeader = "X-API-Key"
)

// ErrSlotTaken is returned by [Client.CreateBooking] when the backend rejects
// the booking because the requested slot is already occupied.
var ErrSlotTaken = errors.New("scheduling: requested slot is already booked")

// Resource is a bookable entity known to the backend.
type Resource struct {
	// ID is the backend identifier, e.g. "court-1".
	ID string `json:"id"`

	// Name is the human-readable label, e.g. "Court 1".
	Name string `json:"name"`
}

// Slot is a half-open time interval [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Availability describes the booking state of one resource on one date.
// Depending on the backend, either FreeSlots or BusySlots (or both) is set.
type Availability struct {
	Date      string `json:"date"`
	Resource  string `json:"resource"`
	FreeSlots []Slot `json:"freeSlots,omitempty"`
	BusySlots []Slot `json:"busySlots,omitempty"`
}

// BookingRequest describes a booking to create.
type BookingRequest struct {
	// Resource is the backend resource id (or a raw name the backend can map).
	Resource string

	// StartTime is when the booking begins.
	StartTime time.Time

	// Duration is how long the booking lasts. Rounded down to whole minutes
	// on the wire.
	Duration time.Duration

	// Description is an optional free-text note, e.g. the caller's name.
	Description string
}

// Booking is a confirmed booking as returned by the backend.
type Booking struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Description string    `json:"description,omitempty"`
}

// statusError is a non-2xx backend response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("scheduling: backend returned %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("scheduling: backend returned %d", e.code)
}

// ClientOption is a functional option for configuring a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Primarily used in tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestTimeout sets the per-request timeout. Default: 10s.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// Client is the HTTP client for the scheduling backend. It is safe for
// concurrent use by multiple simultaneous calls.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *Breaker
}

// NewClient creates a Client for the backend at baseURL. Every request carries
// apiKey in the X-API-Key header.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		breaker:    NewBreaker(BreakerConfig{Name: "scheduling-backend"}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Breaker exposes the client's circuit breaker, e.g. for readiness reporting.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// ListResources returns all bookable resources known to the backend.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var out struct {
		Resources []Resource `json:"resources"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/resources", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// CheckAvailability returns the booking state of resource on date (YYYY-MM-DD).
func (c *Client) CheckAvailability(ctx context.Context, date, resource string) (*Availability, error) {
	query := url.Values{
		"date":     {date},
		"resource": {resource},
	}
	var out Availability
	if err := c.call(ctx, http.MethodGet, "/v1/availability", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBooking creates a booking and returns the backend's confirmation.
// A conflicting slot yields an error wrapping [ErrSlotTaken].
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (*Booking, error) {
	body := struct {
		Resource        string `json:"resource"`
		StartTime       string `json:"startTime"`
		DurationMinutes int    `json:"durationMinutes"`
		Description     string `json:"description,omitempty"`
	}{
		Resource:        req.Resource,
		StartTime:       req.StartTime.Format(time.RFC3339),
		DurationMinutes: int(req.Duration.Minutes()),
		Description:     req.Description,
	}
	var out Booking
	if err := c.call(ctx, http.MethodPost, "/v1/bookings", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call performs one backend request through the circuit breaker.
//
// 4xx responses mean the request was wrong, not that the backend is down, so
// they do not count against the breaker. Transport failures and 5xx do.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var clientFault error
	err := c.breaker.Execute(func() error {
		err := c.do(ctx, method, path, query, body, out)
		var se *statusError
		switch {
		case errors.Is(err, ErrSlotTaken),
			errors.As(err, &se) && se.code >= 400 && se.code < 500:
			clientFault = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return clientFault
}

// do builds, sends and decodes one HTTP request.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("scheduling: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("scheduling: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scheduling: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorBody(resp.Body)
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrSlotTaken, msg)
		}
		return &statusError{code: resp.StatusCode, body: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("scheduling: decode response: %w", err)
		}
	}
	return nil
}

// readErrorBody extracts a short error message from a failed response.
// It prefers the {"error": "..."} shape and falls back to the raw body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
