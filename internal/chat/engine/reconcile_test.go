package engine

import (
	"testing"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
)

func pendingMessage(clientID, content string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:              clientID,
		SessionID:       "s1",
		SenderID:        "user-1",
		SenderRole:      domain.RoleUser,
		Kind:            domain.KindText,
		Content:         content,
		ClientMessageID: clientID,
		CreatedAt:       at,
		Pending:         true,
	}
}

func confirmedMessage(id, clientID, content string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:              id,
		SessionID:       "s1",
		SenderID:        "user-1",
		SenderRole:      domain.RoleUser,
		Kind:            domain.KindText,
		Content:         content,
		ClientMessageID: clientID,
		CreatedAt:       at,
	}
}

func TestMergePromotesByClientID(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	list := []domain.ChatMessage{pendingMessage("c1", "hello", now)}

	merged := Merge(list, confirmedMessage("m1", "c1", "hello", now.Add(time.Second)))
	if len(merged) != 1 {
		t.Fatalf("expected the placeholder to be promoted, got %d messages", len(merged))
	}
	if merged[0].ID != "m1" || merged[0].Pending {
		t.Fatalf("unexpected merged message %+v", merged[0])
	}
}

func TestMergeReplacesByID(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	list := []domain.ChatMessage{confirmedMessage("m1", "", "hello", now)}

	updated := confirmedMessage("m1", "", "hello", now)
	updated.IsRead = true
	merged := Merge(list, updated)
	if len(merged) != 1 {
		t.Fatalf("expected in-place replacement, got %d messages", len(merged))
	}
	if !merged[0].IsRead {
		t.Fatal("replacement did not take effect")
	}
}

func TestMergeHeuristicConsumesOnePlaceholder(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	// Two identical pending sends, confirmations without correlation ids.
	list := []domain.ChatMessage{
		pendingMessage("c1", "hello", now),
		pendingMessage("c2", "hello", now.Add(time.Second)),
	}
	list[0].ClientMessageID = ""
	list[1].ClientMessageID = ""

	merged := Merge(list, confirmedMessage("m1", "", "hello", now))
	merged = Merge(merged, confirmedMessage("m2", "", "hello", now.Add(time.Second)))

	if len(merged) != 2 {
		t.Fatalf("expected both placeholders consumed, got %d messages", len(merged))
	}
	if merged[0].ID == merged[1].ID {
		t.Fatal("both confirmations landed on the same placeholder")
	}
	for _, message := range merged {
		if message.Pending {
			t.Fatalf("message %q still pending", message.ID)
		}
	}
}

func TestMergeAppendsUnmatched(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	list := []domain.ChatMessage{confirmedMessage("m1", "", "hello", now)}

	inbound := domain.ChatMessage{
		ID:         "m2",
		SessionID:  "s1",
		SenderID:   "spec-1",
		SenderRole: domain.RoleSpecialist,
		Kind:       domain.KindText,
		Content:    "hi there",
		CreatedAt:  now.Add(-time.Second),
	}
	merged := Merge(list, inbound)
	if len(merged) != 2 {
		t.Fatalf("expected append, got %d messages", len(merged))
	}
	// Ordered by creation time, the earlier inbound message comes first.
	if merged[0].ID != "m2" || merged[1].ID != "m1" {
		t.Fatalf("messages out of order: %q, %q", merged[0].ID, merged[1].ID)
	}
}

func TestMergeNeverDuplicates(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	list := []domain.ChatMessage{pendingMessage("c1", "hello", now)}

	incoming := confirmedMessage("m1", "c1", "hello", now.Add(time.Second))
	merged := Merge(list, incoming)
	merged = Merge(merged, incoming)
	merged = Merge(merged, incoming)

	if len(merged) != 1 {
		t.Fatalf("repeated delivery duplicated the message: %d entries", len(merged))
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	list := []domain.ChatMessage{pendingMessage("c1", "hello", now)}

	_ = Merge(list, confirmedMessage("m1", "c1", "hello", now))
	if !list[0].Pending {
		t.Fatal("input slice was mutated")
	}
}
