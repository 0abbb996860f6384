package domain

import (
	"testing"
	"time"
)

func TestConversationRecord_RecordTimestampEvictsOldest(t *testing.T) {
	rec := &ConversationRecord{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec.RecordTimestamp(base.Add(time.Duration(i)*time.Second), 3)
	}

	if len(rec.RecentMessageTimestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(rec.RecentMessageTimestamps))
	}
	if !rec.RecentMessageTimestamps[0].Equal(base.Add(2 * time.Second)) {
		t.Errorf("Expected oldest kept timestamp +2s, got %v", rec.RecentMessageTimestamps[0])
	}
	if !rec.RecentMessageTimestamps[2].Equal(base.Add(4 * time.Second)) {
		t.Errorf("Expected newest timestamp +4s, got %v", rec.RecentMessageTimestamps[2])
	}
}

func TestConversationRecord_RecordTimestampDefaultCapacity(t *testing.T) {
	rec := &ConversationRecord{}
	now := time.Now()
	for i := 0; i < DefaultTimestampCapacity+20; i++ {
		rec.RecordTimestamp(now, 0)
	}
	if len(rec.RecentMessageTimestamps) != DefaultTimestampCapacity {
		t.Errorf("Expected %d timestamps, got %d", DefaultTimestampCapacity, len(rec.RecentMessageTimestamps))
	}
}

func TestConversationRecord_NextDue(t *testing.T) {
	polled := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &ConversationRecord{LastPolledAt: polled, PollInterval: 0.5}

	if !rec.NextDue().Equal(polled.Add(500 * time.Millisecond)) {
		t.Errorf("Expected due at +500ms, got %v", rec.NextDue())
	}
	if rec.IsDue(polled.Add(100 * time.Millisecond)) {
		t.Error("Expected not due before the interval elapsed")
	}
	if !rec.IsDue(polled.Add(500 * time.Millisecond)) {
		t.Error("Expected due exactly at the interval")
	}
}

func TestConversationRecord_ExtendActiveNeverShrinks(t *testing.T) {
	now := time.Now()
	rec := &ConversationRecord{ActiveUntil: now.Add(time.Hour)}

	rec.ExtendActive(now, 10*time.Minute)

	if !rec.ActiveUntil.Equal(now.Add(time.Hour)) {
		t.Errorf("Expected active_until unchanged, got %v", rec.ActiveUntil)
	}
}

func TestRelayState_Normalize(t *testing.T) {
	state := &RelayState{
		Conversations: map[string]*ConversationRecord{
			"a":   {Cursor: 12},
			"nil": nil,
			"b":   {ConversationID: "b", ActivityState: ActivityBurst},
		},
	}

	state.Normalize()

	if state.Version != StateVersion {
		t.Errorf("Expected version %d, got %d", StateVersion, state.Version)
	}
	if state.DisplayNames == nil {
		t.Error("Expected display names map to be initialized")
	}
	if _, ok := state.Conversations["nil"]; ok {
		t.Error("Expected nil record to be dropped")
	}
	a := state.Conversations["a"]
	if a.ConversationID != "a" {
		t.Errorf("Expected conversation id to default to key, got %q", a.ConversationID)
	}
	if a.ActivityState != ActivityIdle {
		t.Errorf("Expected idle default, got %s", a.ActivityState)
	}
	if !a.CursorInitialized {
		t.Error("Expected a forwarding cursor to count as initialized")
	}
	if state.Conversations["b"].ActivityState != ActivityBurst {
		t.Error("Expected existing activity state to be kept")
	}
}

func TestRelayState_ChannelIndex(t *testing.T) {
	state := NewRelayState()
	now := time.Now()
	a, _ := state.EnsureConversation("conv-a", now)
	a.RemoteChannelID = "oc_a"
	state.EnsureConversation("conv-b", now)

	index := state.ChannelIndex()

	if len(index) != 1 {
		t.Fatalf("Expected 1 mapped channel, got %d", len(index))
	}
	if index["oc_a"] != "conv-a" {
		t.Errorf("Expected oc_a -> conv-a, got %q", index["oc_a"])
	}
}

func TestRelayState_EnsureConversation(t *testing.T) {
	state := NewRelayState()
	now := time.Now()

	rec, created := state.EnsureConversation("conv-42", now)
	if !created {
		t.Error("Expected record to be created")
	}
	if rec.Mapped() {
		t.Error("Expected new record to be unmapped")
	}

	again, created := state.EnsureConversation("conv-42", now.Add(time.Minute))
	if created {
		t.Error("Expected existing record to be returned")
	}
	if again != rec {
		t.Error("Expected the same record pointer")
	}
}

func TestRelayState_CloneIsDeep(t *testing.T) {
	state := NewRelayState()
	rec, _ := state.EnsureConversation("conv", time.Now())
	rec.RecordTimestamp(time.Now(), 10)
	state.DisplayNames["+1555"] = "Alice"

	clone := state.Clone()
	clone.Conversations["conv"].Cursor = 99
	clone.Conversations["conv"].RecentMessageTimestamps[0] = time.Time{}
	clone.DisplayNames["+1555"] = "Bob"

	if rec.Cursor != 0 {
		t.Error("Expected original cursor to be untouched")
	}
	if rec.RecentMessageTimestamps[0].IsZero() {
		t.Error("Expected original timestamps to be untouched")
	}
	if state.DisplayNames["+1555"] != "Alice" {
		t.Error("Expected original display names to be untouched")
	}
}

func TestRelayState_Archive(t *testing.T) {
	state := NewRelayState()
	now := time.Now()
	state.EnsureConversation("conv", now)

	if !state.Archive("conv", now) {
		t.Error("Expected archive to succeed")
	}
	if state.Archive("conv", now) {
		t.Error("Expected second archive to report missing record")
	}
	if !state.IsArchived("conv") {
		t.Error("Expected tombstone for archived conversation")
	}
	if _, ok := state.Conversation("conv"); ok {
		t.Error("Expected record removed")
	}
	if !state.Clone().IsArchived("conv") {
		t.Error("Expected clone to keep tombstones")
	}
}
