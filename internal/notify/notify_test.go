package notify_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/trunkline/internal/calllog"
	"github.com/MrWong99/trunkline/internal/notify"
	"github.com/MrWong99/trunkline/internal/notify/mock"
	"github.com/MrWong99/trunkline/internal/scheduling"
)

func fieldValue(t *testing.T, sent mock.SentEmbed, name string) string {
	t.Helper()
	for _, f := range sent.Embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("embed has no %q field: %+v", name, sent.Embed.Fields)
	return ""
}

func TestNew_RequiresTokenAndChannel(t *testing.T) {
	t.Parallel()

	if _, err := notify.New("", "chan"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := notify.New("tok", ""); err == nil {
		t.Error("expected error for empty channel")
	}
}

func TestCallEnded_PostsEmbed(t *testing.T) {
	t.Parallel()

	m := &mock.Messenger{}
	n := notify.NewWithMessenger(m, "ops-channel")

	started := time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC)
	n.CallEnded(calllog.CallRecord{
		ID:              "MZ1",
		StartedAt:       started,
		EndedAt:         started.Add(95 * time.Second),
		Outcome:         calllog.OutcomeCompleted,
		FramesForwarded: 4000,
		FramesDropped:   3,
		Summary:         "Caller booked court 1.",
	})

	sent := m.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d embeds, want 1", len(sent))
	}
	if sent[0].ChannelID != "ops-channel" {
		t.Errorf("channel = %q", sent[0].ChannelID)
	}
	if sent[0].Embed.Title != "Call ended" {
		t.Errorf("title = %q", sent[0].Embed.Title)
	}
	if sent[0].Embed.Description != "Caller booked court 1." {
		t.Errorf("description = %q", sent[0].Embed.Description)
	}
	if got := fieldValue(t, sent[0], "Duration"); got != "1m 35s" {
		t.Errorf("duration field = %q, want 1m 35s", got)
	}
	if got := fieldValue(t, sent[0], "Outcome"); got != "completed" {
		t.Errorf("outcome field = %q", got)
	}
	if got := fieldValue(t, sent[0], "Frames"); got != "4000 forwarded, 3 dropped" {
		t.Errorf("frames field = %q", got)
	}
}

func TestCallEnded_FailedCallsAreRed(t *testing.T) {
	t.Parallel()

	m := &mock.Messenger{}
	n := notify.NewWithMessenger(m, "c")

	n.CallEnded(calllog.CallRecord{ID: "MZ1", Outcome: calllog.OutcomeFailed})
	n.CallEnded(calllog.CallRecord{ID: "MZ2", Outcome: calllog.OutcomeCompleted})

	sent := m.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d embeds, want 2", len(sent))
	}
	if sent[0].Embed.Color == sent[1].Embed.Color {
		t.Error("failed and completed calls should use different colors")
	}
}

func TestBookingCreated_PostsEmbed(t *testing.T) {
	t.Parallel()

	m := &mock.Messenger{}
	n := notify.NewWithMessenger(m, "c")

	start := time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC)
	n.BookingCreated("MZ1", scheduling.Booking{
		ID:          "bk_42",
		Resource:    "court-1",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Description: "Alex",
	})

	sent := m.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d embeds, want 1", len(sent))
	}
	if sent[0].Embed.Title != "Booking created" {
		t.Errorf("title = %q", sent[0].Embed.Title)
	}
	if got := fieldValue(t, sent[0], "Resource"); got != "court-1" {
		t.Errorf("resource field = %q", got)
	}
	if got := fieldValue(t, sent[0], "Duration"); got != "1h 0m 0s" {
		t.Errorf("duration field = %q", got)
	}
	if got := fieldValue(t, sent[0], "Description"); got != "Alex" {
		t.Errorf("description field = %q", got)
	}
}

func TestSendFailure_DoesNotPanic(t *testing.T) {
	t.Parallel()

	m := &mock.Messenger{SendErr: errors.New("discord down")}
	n := notify.NewWithMessenger(m, "c")

	n.CallEnded(calllog.CallRecord{ID: "MZ1"})
	n.BookingCreated("MZ1", scheduling.Booking{ID: "bk_1"})

	if len(m.Sent()) != 2 {
		t.Errorf("embeds should still be attempted on failure")
	}
}
