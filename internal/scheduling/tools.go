package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/internal/tools"
)

// Tool names as the model calls them.
const (
	ToolCheckAvailability = "CheckAvailability"
	ToolCreateBooking     = "CreateBooking"
)

// resourceCacheTTL bounds how long the resource catalogue is reused between
// tool calls before it is fetched again.
const resourceCacheTTL = time.Minute

// toolset carries the shared state behind both tool handlers.
type toolset struct {
	client   *Client
	resolver *Resolver

	mu        sync.Mutex
	resources []Resource
	fetchedAt time.Time
}

// Tools returns the calendar tools ready for registration with the dispatcher.
// resolver may be nil, in which case spoken resource names pass through to the
// backend unchanged.
func Tools(client *Client, resolver *Resolver) []tools.Tool {
	ts := &toolset{client: client, resolver: resolver}

	return []tools.Tool{
		{
			Name: ToolCheckAvailability,
			Description: "Check which time slots are free or busy for a bookable resource on a given date. " +
				"Use this before proposing a booking time to the caller.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": map[string]any{
						"type":        "string",
						"pattern":     `^\d{4}-\d{2}-\d{2}$`,
						"description": "Calendar date to check, formatted YYYY-MM-DD.",
					},
					"resource": map[string]any{
						"type":        "string",
						"description": "The resource to check, as the caller named it, e.g. 'Court 1' or 'the blue room'.",
					},
				},
				"required": []string{"date", "resource"},
			},
			Handler: ts.checkAvailability,
		},
		{
			Name: ToolCreateBooking,
			Description: "Create a booking for a resource. Only call this after the caller has confirmed " +
				"the resource, start time and duration.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"startTime": map[string]any{
						"type":        "string",
						"format":      "date-time",
						"description": "Booking start in RFC 3339 format, e.g. 2025-07-01T15:00:00Z.",
					},
					"duration": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"description": "Booking length in minutes.",
					},
					"resource": map[string]any{
						"type":        "string",
						"description": "The resource to book, as the caller named it.",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Optional note for the booking, e.g. the caller's name.",
					},
				},
				"required": []string{"startTime", "duration", "resource"},
			},
			Handler: ts.createBooking,
		},
	}
}

// checkAvailabilityArgs is the JSON-decoded input for CheckAvailability.
type checkAvailabilityArgs struct {
	Date     string `json:"date"`
	Resource string `json:"resource"`
}

func (ts *toolset) checkAvailability(ctx context.Context, args json.RawMessage) (any, error) {
	var in checkAvailabilityArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("scheduling: decode arguments: %w", err)
	}
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return nil, fmt.Errorf("scheduling: date must be a real date in YYYY-MM-DD form: %w", err)
	}

	resource := ts.resolveResource(ctx, in.Resource)
	availability, err := ts.client.CheckAvailability(ctx, in.Date, resource)
	if err != nil {
		return nil, err
	}
	return availability, nil
}

// createBookingArgs is the JSON-decoded input for CreateBooking.
type createBookingArgs struct {
	StartTime   string `json:"startTime"`
	Duration    int    `json:"duration"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

func (ts *toolset) createBooking(ctx context.Context, args json.RawMessage) (any, error) {
	var in createBookingArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("scheduling: decode arguments: %w", err)
	}
	start, err := time.Parse(time.RFC3339, in.StartTime)
	if err != nil {
		return nil, fmt.Errorf("scheduling: startTime must be RFC 3339: %w", err)
	}

	resource := ts.resolveResource(ctx, in.Resource)
	booking, err := ts.client.CreateBooking(ctx, BookingRequest{
		Resource:    resource,
		StartTime:   start,
		Duration:    time.Duration(in.Duration) * time.Minute,
		Description: in.Description,
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// resolveResource maps a spoken resource name onto a backend id, best-effort.
// When the catalogue cannot be fetched or nothing matches, the raw input is
// passed through; the backend owns the authoritative mapping.
func (ts *toolset) resolveResource(ctx context.Context, spoken string) string {
	if ts.resolver == nil {
		return spoken
	}
	resources, err := ts.knownResources(ctx)
	if err != nil {
		slog.Debug("scheduling: resource catalogue unavailable, passing name through",
			"spoken", spoken, "error", err)
		return spoken
	}
	id, confidence, ok := ts.resolver.Resolve(spoken, resources)
	if !ok {
		return spoken
	}
	slog.Debug("scheduling: resolved resource",
		"spoken", spoken, "id", id, "confidence", confidence)
	return id
}

// knownResources returns the cached resource catalogue, refreshing it when
// stale. A fetch failure serves the stale catalogue rather than nothing.
func (ts *toolset) knownResources(ctx context.Context) ([]Resource, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.resources != nil && time.Since(ts.fetchedAt) < resourceCacheTTL {
		return ts.resources, nil
	}
	resources, err := ts.client.ListResources(ctx)
	if err != nil {
		if ts.resources != nil {
			return ts.resources, nil
		}
		return nil, err
	}
	ts.resources = resources
	ts.fetchedAt = time.Now()
	return ts.resources, nil
}
